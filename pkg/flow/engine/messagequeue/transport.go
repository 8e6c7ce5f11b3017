// Package messagequeue implements message-queue mode: jobs are announced on an
// external broker after commit and dispatched from deliveries instead of being
// polled by the acquisition loops.
package messagequeue

import (
	"context"
	"errors"
	"time"
)

const moduleName = "messagequeue"

// ErrTransportClosed is returned by a transport after Close.
var ErrTransportClosed = errors.New("message transport is closed")

// Message announces that a job may be executed at DueAt (nil means now).
// The job store stays authoritative; a message is only a hint.
type Message struct {
	JobID string     `json:"job_id"`
	DueAt *time.Time `json:"due_at,omitempty"`
}

// Delivery is a received message. Exactly one of Ack or Nack must be called.
type Delivery struct {
	Message Message
	Ack     func() error
	// Nack returns the message to the broker when requeue is true and drops it otherwise.
	Nack func(requeue bool) error
}

// Transport moves messages between the job store writers and the front ends.
type Transport interface {
	// Publish sends m. Implementations may deliver messages more than once.
	Publish(ctx context.Context, m Message) error
	// Consume starts receiving. The channel is closed when ctx ends or the transport closes.
	Consume(ctx context.Context) (<-chan Delivery, error)
	// Close releases the broker connection.
	Close() error
}
