// Package amqp implements the message-queue transport on RabbitMQ.
package amqp

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tigerroll/riptide/pkg/flow/core/config"
	"github.com/tigerroll/riptide/pkg/flow/engine/messagequeue"
	"github.com/tigerroll/riptide/pkg/flow/support/util/exception"
	"github.com/tigerroll/riptide/pkg/flow/support/util/logger"
)

const moduleName = "amqp_transport"

// Transport publishes job messages to a durable direct exchange and consumes them
// from a durable queue with manual acknowledgement.
type Transport struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	exchange   string
	routingKey string
	prefetch   int

	mu     sync.Mutex
	closed bool
}

// NewTransport dials cfg.URL and declares the exchange, the queue and their binding.
func NewTransport(cfg config.AMQPConfig) (*Transport, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, exception.NewFlowError(moduleName, "failed to connect to the broker", err, true)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, exception.NewFlowError(moduleName, "failed to open a channel", err, true)
	}
	if err := declare(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	logger.Infof("AMQP transport connected: exchange=%s, queue=%s.", cfg.Exchange, cfg.Queue)
	return &Transport{
		conn:       conn,
		channel:    ch,
		queue:      cfg.Queue,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		prefetch:   cfg.Prefetch,
	}, nil
}

func declare(ch *amqp.Channel, cfg config.AMQPConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return exception.NewFlowErrorf(moduleName, "failed to declare exchange %s", cfg.Exchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return exception.NewFlowErrorf(moduleName, "failed to declare queue %s", cfg.Queue, err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return exception.NewFlowErrorf(moduleName, "failed to bind queue %s", cfg.Queue, err)
	}
	return nil
}

// Publish sends m as a persistent JSON message.
func (t *Transport) Publish(ctx context.Context, m messagequeue.Message) error {
	body, err := Encode(m)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return messagequeue.ErrTransportClosed
	}
	err = t.channel.PublishWithContext(ctx, t.exchange, t.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return exception.NewFlowError(moduleName, "failed to publish job "+m.JobID, err, true)
	}
	return nil
}

// Consume starts a manual-ack consumer limited to the configured prefetch.
func (t *Transport) Consume(ctx context.Context) (<-chan messagequeue.Delivery, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, messagequeue.ErrTransportClosed
	}
	if t.prefetch > 0 {
		if err := t.channel.Qos(t.prefetch, 0, false); err != nil {
			t.mu.Unlock()
			return nil, exception.NewFlowError(moduleName, "failed to set prefetch", err, true)
		}
	}
	msgs, err := t.channel.Consume(t.queue, "", false, false, false, false, nil)
	t.mu.Unlock()
	if err != nil {
		return nil, exception.NewFlowError(moduleName, "failed to start consuming", err, true)
	}

	out := make(chan messagequeue.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-msgs:
				if !ok {
					return
				}
				m, err := Decode(raw.Body)
				if err != nil {
					logger.Errorf("Dropping malformed message %s: %v", raw.MessageId, err)
					_ = raw.Nack(false, false)
					continue
				}
				d := messagequeue.Delivery{
					Message: m,
					Ack:     func() error { return raw.Ack(false) },
					Nack:    func(requeue bool) error { return raw.Nack(false, requeue) },
				}
				select {
				case out <- d:
				case <-ctx.Done():
					_ = raw.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the channel and the connection. Unacknowledged deliveries return to the queue.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.channel.Close(); err != nil {
		_ = t.conn.Close()
		return err
	}
	return t.conn.Close()
}

// Encode renders m as the JSON message body.
func Encode(m messagequeue.Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, exception.NewFlowError(moduleName, "failed to encode message", err, false)
	}
	return body, nil
}

// Decode parses a JSON message body.
func Decode(body []byte) (messagequeue.Message, error) {
	var m messagequeue.Message
	if err := json.Unmarshal(body, &m); err != nil {
		return m, exception.NewFlowError(moduleName, "failed to decode message", err, false)
	}
	if m.JobID == "" {
		return m, exception.NewFlowError(moduleName, "message has no job id", nil, false)
	}
	return m, nil
}

var _ messagequeue.Transport = (*Transport)(nil)
