package retry

import (
	"fmt"
	"math"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

// Backoff determines how long a failed job waits before it becomes due again.
type Backoff interface {
	// Delay returns the wait before the given attempt is retried.
	// attempt: The number of the attempt that just failed (starting from 1).
	// Returns: The wait; zero makes the job immediately due.
	Delay(attempt int) time.Duration
}

// Fixed waits the same interval after every failure.
type Fixed struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (f Fixed) Delay(int) time.Duration {
	if f.Interval < 0 {
		return 0
	}
	return f.Interval
}

// Exponential doubles the wait after every failure, starting at Initial and capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * 2^(attempt-1), capped at Max. Without Max it saturates
// at the largest representable duration.
func (e Exponential) Delay(attempt int) time.Duration {
	if e.Initial <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := e.Initial
	for i := 1; i < attempt; i++ {
		if e.Max > 0 && d >= e.Max/2 {
			return e.Max
		}
		if d > math.MaxInt64/2 {
			return math.MaxInt64
		}
		d *= 2
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// NewBackoff builds the backoff configured by cfg.
func NewBackoff(cfg config.RetryConfig) (Backoff, error) {
	switch cfg.Strategy {
	case "", config.BackoffFixed:
		return Fixed{Interval: cfg.InitialBackoff}, nil
	case config.BackoffExponential:
		return Exponential{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff}, nil
	default:
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("unknown backoff strategy %q", cfg.Strategy), nil)
	}
}
