package messagequeue

import (
	"context"
	"sync"
)

// LocalTransport is an in-process Transport backed by a buffered channel.
// It serves single-node deployments and tests; messages do not survive a restart.
type LocalTransport struct {
	mu     sync.RWMutex
	ch     chan Message
	closed bool
	done   chan struct{}
}

// NewLocalTransport creates a LocalTransport buffering up to size messages.
func NewLocalTransport(size int) *LocalTransport {
	if size < 1 {
		size = 1
	}
	return &LocalTransport{ch: make(chan Message, size), done: make(chan struct{})}
}

// Publish queues m, blocking while the buffer is full.
func (t *LocalTransport) Publish(ctx context.Context, m Message) error {
	if t.isClosed() {
		return ErrTransportClosed
	}
	select {
	case t.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrTransportClosed
	}
}

// Consume returns the deliveries. Nack with requeue publishes the message again.
func (t *LocalTransport) Consume(ctx context.Context) (<-chan Delivery, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case m := <-t.ch:
				d := Delivery{
					Message: m,
					Ack:     func() error { return nil },
					Nack: func(requeue bool) error {
						if !requeue {
							return nil
						}
						return t.Publish(context.Background(), m)
					},
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				case <-t.done:
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *LocalTransport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Pending returns the number of buffered messages.
func (t *LocalTransport) Pending() int {
	return len(t.ch)
}

// Close stops every consumer. Buffered messages are dropped.
func (t *LocalTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

var _ Transport = (*LocalTransport)(nil)
