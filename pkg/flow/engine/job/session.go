package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/tigerroll/riptide/pkg/flow/core/domain/model"
	"github.com/tigerroll/riptide/pkg/flow/core/domain/repository"
	"github.com/tigerroll/riptide/pkg/flow/engine/command"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
)

// SessionType is the command-context session type of JobSession.
const SessionType = "job"

// JobSession buffers the jobs created during a command. They are written to the
// store when the command context closes successfully and discarded otherwise.
type JobSession struct {
	store   repository.JobStore
	mu      sync.Mutex
	pending []*model.Job
}

// Add buffers job for insertion.
func (s *JobSession) Add(job *model.Job) {
	s.mu.Lock()
	s.pending = append(s.pending, job)
	s.mu.Unlock()
}

// Pending returns the buffered jobs.
func (s *JobSession) Pending() []*model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Job(nil), s.pending...)
}

// Flush inserts the buffered jobs using the transaction on ctx.
func (s *JobSession) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, j := range pending {
		if err := s.store.Insert(ctx, j); err != nil {
			return fmt.Errorf("insert job %s: %w", j.ID, err)
		}
	}
	return nil
}

// Close drops whatever was not flushed.
func (s *JobSession) Close() error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	return nil
}

// SessionFactory opens JobSessions on a store.
type SessionFactory struct {
	store repository.JobStore
}

// NewSessionFactory creates a SessionFactory.
func NewSessionFactory(store repository.JobStore) *SessionFactory {
	return &SessionFactory{store: store}
}

func (f *SessionFactory) SessionType() string { return SessionType }

func (f *SessionFactory) OpenSession(context.Context, *command.Context) (command.Session, error) {
	return &JobSession{store: f.store}, nil
}

// SessionOf returns the job session of cctx.
func SessionOf(ctx context.Context, cctx *command.Context) (*JobSession, error) {
	s, err := cctx.Session(ctx, SessionType)
	if err != nil {
		return nil, err
	}
	js, ok := s.(*JobSession)
	if !ok {
		return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("session %q is %T, not a job session", SessionType, s), nil)
	}
	return js, nil
}

var _ command.SessionFactory = (*SessionFactory)(nil)
var _ command.Session = (*JobSession)(nil)
