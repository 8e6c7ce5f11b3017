// Package logging logs job availability hints published by the job manager.
package logging

import (
	"context"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/clock"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// JobListener writes a line for every job that became available: created,
// released after a failure, rescheduled, activated or reclaimed.
type JobListener struct {
	clock clock.Clock
}

func NewJobListener(clk clock.Clock) *JobListener {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &JobListener{clock: clk}
}

func (l *JobListener) JobAvailable(_ context.Context, j *model.Job) {
	if !logger.IsDebugEnabled() {
		return
	}
	if j.DueDate == nil || j.IsDue(l.clock.Now()) {
		logger.Debugf("JobListener: %s is available now.", j)
		return
	}
	logger.Debugf("JobListener: %s is due in %s.", j, j.DueDate.Sub(l.clock.Now()).Round(time.Millisecond))
}

var _ job.Notifier = (*JobListener)(nil)
