package job

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

// repeatParser accepts standard five-field expressions and descriptors such as "@every 1h".
var repeatParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var repeatLocation atomic.Pointer[time.Location]

// SetRepeatLocation sets the timezone repeat expressions are evaluated in. The default is UTC.
func SetRepeatLocation(loc *time.Location) {
	repeatLocation.Store(loc)
}

func repeatLoc() *time.Location {
	if loc := repeatLocation.Load(); loc != nil {
		return loc
	}
	return time.UTC
}

// ParseRepeat validates a repeat expression.
func ParseRepeat(expr string) (cron.Schedule, error) {
	schedule, err := repeatParser.Parse(expr)
	if err != nil {
		return nil, exception.NewFlowError(moduleName, fmt.Sprintf("invalid repeat expression %q", expr), fmt.Errorf("%w: %v", ErrInvalidJob, err), false)
	}
	return schedule, nil
}

// NextDue returns the first activation of expr strictly after after, in UTC.
func NextDue(expr string, after time.Time) (time.Time, error) {
	schedule, err := ParseRepeat(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after.In(repeatLoc())).UTC(), nil
}
