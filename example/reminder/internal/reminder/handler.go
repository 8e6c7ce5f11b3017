// Package reminder is a sample job handler: it delivers reminders at their due date.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/engine/job"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

// HandlerType is the job handler type of reminders.
const HandlerType = "reminder.deliver"

// Reminder is the handler configuration stored with each job.
type Reminder struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// Deliverer sends a reminder. The default one writes it to the log.
type Deliverer interface {
	Deliver(ctx context.Context, r Reminder) error
}

// LogDeliverer logs reminders.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(_ context.Context, r Reminder) error {
	logger.Infof("Reminder for %s: %s", r.Recipient, r.Message)
	return nil
}

// Handler runs reminder jobs.
type Handler struct {
	deliverer Deliverer
}

// NewHandler creates the reminder handler.
func NewHandler(d Deliverer) *Handler {
	return &Handler{deliverer: d}
}

func (h *Handler) Type() string { return HandlerType }

// Execute decodes the reminder and delivers it. A malformed configuration fails
// with a configuration error so the job is dead-lettered without retrying.
func (h *Handler) Execute(ctx context.Context, j *model.Job, cctx *command.Context) error {
	var r Reminder
	if err := json.Unmarshal([]byte(j.HandlerConfig), &r); err != nil {
		return exception.NewConfigurationError("reminder", fmt.Sprintf("job %s has a malformed reminder", j.ID), err)
	}
	cctx.SetAttribute("reminder.recipient", r.Recipient)
	return h.deliverer.Deliver(ctx, r)
}

var _ job.Handler = (*Handler)(nil)

// Service schedules reminders.
type Service struct {
	manager *job.Manager
}

// NewService creates the reminder Service.
func NewService(m *job.Manager) *Service {
	return &Service{manager: m}
}

// Schedule creates a timer job delivering r at dueDate. Repeat, when set, is a
// cron expression and dueDate is ignored.
func (s *Service) Schedule(ctx context.Context, r Reminder, dueDate time.Time, repeat string) (*model.Job, error) {
	if strings.TrimSpace(r.Recipient) == "" {
		return nil, fmt.Errorf("%w: a reminder needs a recipient", job.ErrInvalidJob)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	if repeat != "" {
		return s.manager.ScheduleRepeatingTimer(ctx, r.Recipient, HandlerType, repeat, string(data))
	}
	return s.manager.ScheduleTimer(ctx, r.Recipient, HandlerType, &dueDate, string(data))
}
