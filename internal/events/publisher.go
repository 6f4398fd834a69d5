package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"
)

// AMQPPublisher publishes terminal events to RabbitMQ
type AMQPPublisher struct {
	conn *Connection
}

// NewAMQPPublisher creates a publisher over an open connection
func NewAMQPPublisher(conn *Connection) *AMQPPublisher {
	return &AMQPPublisher{conn: conn}
}

// Publish sends the event to the event queue
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := p.conn.PublishJSON(ctx, string(event.Type), event); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	slog.Debug("published event",
		"event_id", event.ID,
		"type", event.Type,
		"session_id", event.SessionID,
	)

	return nil
}

// Close closes the underlying connection
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}

var _ Publisher = (*AMQPPublisher)(nil)

// ResilientPublisher guards a publisher with a circuit breaker
type ResilientPublisher struct {
	next    Publisher
	breaker circuitbreaker.CircuitBreaker[struct{}]
}

// NewResilientPublisher wraps next with a circuit breaker that opens after
// consecutive failures
func NewResilientPublisher(next Publisher, failures int, cooldown time.Duration) *ResilientPublisher {
	if failures <= 0 {
		failures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &ResilientPublisher{
		next: next,
		breaker: circuitbreaker.New[struct{}](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cooldown,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return int(counts.ConsecutiveFailures) >= failures
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				slog.Warn("event publisher circuit breaker state change",
					"from", from.String(),
					"to", to.String())
			},
		}),
	}
}

// Publish forwards the event unless the breaker is open
func (p *ResilientPublisher) Publish(ctx context.Context, event Event) error {
	_, err := p.breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.next.Publish(ctx, event)
	})
	return err
}

// Close closes the wrapped publisher
func (p *ResilientPublisher) Close() error {
	return p.next.Close()
}

var _ Publisher = (*ResilientPublisher)(nil)

// Connect returns a resilient AMQP publisher when amqpURL is set and a
// NopPublisher otherwise. The initial dial is retried with backoff.
func Connect(ctx context.Context, amqpURL, queue string) (Publisher, error) {
	if amqpURL == "" {
		return NopPublisher{}, nil
	}

	retrier := retry.New[*Connection](retry.Config{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable: func(err error) bool {
			return err != nil
		},
	})

	conn, err := retrier.Do(ctx, func(ctx context.Context) (*Connection, error) {
		return NewConnection(amqpURL, queue)
	})
	if err != nil {
		return nil, fmt.Errorf("connect event broker: %w", err)
	}
	return NewResilientPublisher(NewAMQPPublisher(conn), 5, 30*time.Second), nil
}
