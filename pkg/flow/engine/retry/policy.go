// Package retry decides what happens to a job whose execution failed: another
// attempt after a backoff, or the dead-letter collection.
package retry

import (
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

const moduleName = "retry"

// Decision is the state transition for a failed job.
type Decision struct {
	// DeadLetter moves the job to the dead-letter collection. It is terminal.
	DeadLetter bool
	// Retries is the remaining budget after this failure.
	Retries int
	// DueDate is when the job becomes due again; nil means immediately.
	DueDate *time.Time
	// Failure is recorded on the job in both cases.
	Failure model.FailureDetails
}

// Policy is the retry and dead-letter policy shared by the acquisition-loop and
// message-queue front ends.
type Policy struct {
	budget       int
	backoff      Backoff
	nonRetryable []string
}

// NewPolicy creates a Policy from cfg.
// cfg: Retry configuration; cfg.Retries is the budget new jobs start with.
// Returns: The policy, or a configuration error for an unknown strategy.
func NewPolicy(cfg config.RetryConfig) (*Policy, error) {
	backoff, err := NewBackoff(cfg)
	if err != nil {
		return nil, err
	}
	return &Policy{budget: cfg.Retries, backoff: backoff, nonRetryable: cfg.NonRetryableErrors}, nil
}

// NewPolicyWithBackoff creates a Policy with an explicit backoff.
func NewPolicyWithBackoff(budget int, backoff Backoff, nonRetryable ...string) *Policy {
	if backoff == nil {
		backoff = Fixed{}
	}
	return &Policy{budget: budget, backoff: backoff, nonRetryable: nonRetryable}
}

// OnFailure decides the transition for job after err at now.
//
// The remaining budget is decremented. When it reaches zero the job is dead-lettered,
// so a job created with three retries that always fails is dead-lettered by its third
// failure. Configuration errors (such as an unknown handler type) and errors listed as
// non-retryable are dead-lettered at once.
func (p *Policy) OnFailure(job *model.Job, err error, now time.Time) Decision {
	failure := model.NewFailureDetails(failureMessage(err), exception.StackTraceOf(err))

	if p.isFatal(err) {
		return Decision{DeadLetter: true, Retries: 0, Failure: failure}
	}

	remaining := job.Retries - 1
	if remaining <= 0 {
		return Decision{DeadLetter: true, Retries: 0, Failure: failure}
	}

	d := Decision{Retries: remaining, Failure: failure}
	if delay := p.backoff.Delay(p.attempt(job)); delay > 0 {
		due := now.Add(delay)
		d.DueDate = &due
	}
	return d
}

// attempt numbers the failed attempt from the configured budget. Jobs resubmitted
// with a larger budget count from 1.
func (p *Policy) attempt(job *model.Job) int {
	a := p.budget - job.Retries + 1
	if a < 1 {
		return 1
	}
	return a
}

func (p *Policy) isFatal(err error) bool {
	if exception.IsConfigurationError(err) {
		return true
	}
	for _, name := range p.nonRetryable {
		if exception.IsErrorOfType(err, name) {
			return true
		}
	}
	return false
}

func failureMessage(err error) string {
	if err == nil {
		return "unknown failure"
	}
	return err.Error()
}
