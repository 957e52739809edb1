package eventsource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// AMQPConfig configures an AMQPSource.
type AMQPConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
	Logger     logging.Logger
}

// AMQPSource consumes core.EventEnvelope messages from a RabbitMQ queue.
//
// Deliveries are acknowledged manually: undecodable messages are rejected
// without requeue, everything else is acknowledged once the handler
// returns. Lost connections are re-established with exponential backoff.
type AMQPSource struct {
	name string
	cfg  AMQPConfig

	mu      sync.RWMutex
	handler core.EventHandler
}

// NewAMQPSource validates cfg. The queue defaults to "agentrelay.events".
func NewAMQPSource(name string, cfg AMQPConfig) (*AMQPSource, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp source needs a url")
	}
	if cfg.Queue == "" {
		cfg.Queue = "agentrelay.events"
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	return &AMQPSource{name: name, cfg: cfg}, nil
}

// Name implements core.EventSource.
func (s *AMQPSource) Name() string { return s.name }

// OnEvent implements core.EventSource.
func (s *AMQPSource) OnEvent(h core.EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Start implements core.EventSource.
func (s *AMQPSource) Start(ctx context.Context) error {
	for {
		conn, err := backoff.Retry(ctx, s.dial,
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithNotify(func(err error, wait time.Duration) {
				s.cfg.Logger.Warn("amqp connect failed, retrying", "source", s.name, "retry_in", wait, "error", err)
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.cfg.Logger.Error("amqp connect gave up, starting over", "source", s.name, "error", err)
			continue
		}

		err = s.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.cfg.Logger.Warn("amqp consumer stopped, reconnecting", "source", s.name, "error", err)
	}
}

func (s *AMQPSource) dial() (*amqp.Connection, error) {
	conn, err := amqp.Dial(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	return conn, nil
}

func (s *AMQPSource) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(s.cfg.Queue, s.cfg.Durable, s.cfg.AutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", s.cfg.Queue, err)
	}
	msgs, err := ch.Consume(s.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %s: %w", s.cfg.Queue, err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	s.cfg.Logger.Info("amqp consumer started", "source", s.name, "queue", s.cfg.Queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr != nil {
				return amqpErr
			}
			return errors.New("connection closed")
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			s.handleDelivery(ctx, d)
		}
	}
}

func (s *AMQPSource) handleDelivery(ctx context.Context, d amqp.Delivery) {
	ev, err := core.DecodeEvent(d.Body)
	if err != nil {
		s.cfg.Logger.Warn("rejecting undecodable event", "source", s.name, "error", err)
		_ = d.Reject(false)
		return
	}

	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()

	if h != nil {
		if err := h(ctx, ev); err != nil {
			s.cfg.Logger.Warn("event handler failed", "source", s.name, "kind", string(ev.Kind()), "error", err)
		}
	}
	_ = d.Ack(false)
}
