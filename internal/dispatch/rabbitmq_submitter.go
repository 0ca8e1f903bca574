package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig describes the AMQP connection used to hand descriptors to
// the worker pool. Queues lists every queue descriptors may target; all of
// them are declared when the submitter is constructed.
type RabbitMQConfig struct {
	URL        string
	Queues     []string
	Durable    bool
	AutoDelete bool
}

// RabbitMQSubmitter publishes descriptors to per-queue AMQP queues. Workers
// of the external pool consume them and honour token and dependency
// semantics on their side.
//
// The queue set is built once in NewRabbitMQSubmitter and only read
// afterwards, so Submit is safe to call from concurrent request handlers.
type RabbitMQSubmitter struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queues map[string]struct{}
}

// NewRabbitMQSubmitter dials the broker, opens a channel and declares every
// configured queue.
func NewRabbitMQSubmitter(cfg RabbitMQConfig) (*RabbitMQSubmitter, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL cannot be empty")
	}
	if len(cfg.Queues) == 0 {
		return nil, errors.New("at least one RabbitMQ queue must be configured")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open RabbitMQ channel: %w", err)
	}
	queues := make(map[string]struct{}, len(cfg.Queues))
	for _, queue := range cfg.Queues {
		if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", queue, err)
		}
		queues[queue] = struct{}{}
	}
	return &RabbitMQSubmitter{conn: conn, ch: ch, queues: queues}, nil
}

// Submit implements the Submitter interface.
func (s *RabbitMQSubmitter) Submit(ctx context.Context, descriptor *Descriptor) error {
	if s == nil || s.ch == nil {
		return errors.New("RabbitMQ submitter is not initialised")
	}
	if descriptor == nil {
		return errors.New("descriptor cannot be nil")
	}
	if _, ok := s.queues[descriptor.Queue]; !ok {
		return fmt.Errorf("queue %s is not declared", descriptor.Queue)
	}
	body, err := json.Marshal(descriptor)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	return s.ch.PublishWithContext(ctx, "", descriptor.Queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   descriptor.Token,
		Body:        body,
	})
}

// Close shuts down the channel and the connection.
func (s *RabbitMQSubmitter) Close() error {
	if s == nil {
		return nil
	}
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

var _ Submitter = (*RabbitMQSubmitter)(nil)
