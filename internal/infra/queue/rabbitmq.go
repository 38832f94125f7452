package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"sublead/internal/domain"
	"sublead/internal/infra/metrics"
)

// RabbitConfigChangeQueue реализует очередь событий через AMQP.
type RabbitConfigChangeQueue struct {
	conn  *amqp.Connection
	queue string

	mu         sync.Mutex
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

// NewRabbitConfigChangeQueue подключается к RabbitMQ и объявляет очередь.
func NewRabbitConfigChangeQueue(amqpURL, queue string) (*RabbitConfigChangeQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitConfigChangeQueue{conn: conn, queue: queue, ch: ch}, nil
}

// Enqueue публикует событие в очередь.
func (q *RabbitConfigChangeQueue) Enqueue(ctx context.Context, event domain.ConfigChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Pop блокирующе читает событие из очереди.
func (q *RabbitConfigChangeQueue) Pop(ctx context.Context) (domain.ConfigChangeEvent, error) {
	deliveries, err := q.consumeChannel()
	if err != nil {
		return domain.ConfigChangeEvent{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.ConfigChangeEvent{}, ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return domain.ConfigChangeEvent{}, errors.New("amqp: delivery channel closed")
			}
			var event domain.ConfigChangeEvent
			if err := json.Unmarshal(delivery.Body, &event); err != nil {
				_ = delivery.Nack(false, false)
				return domain.ConfigChangeEvent{}, fmt.Errorf("decode event: %w", err)
			}
			if err := delivery.Ack(false); err != nil {
				return domain.ConfigChangeEvent{}, fmt.Errorf("ack event: %w", err)
			}
			return event, nil
		}
	}
}

// Close закрывает подключение.
func (q *RabbitConfigChangeQueue) Close() error {
	return q.conn.Close()
}

func (q *RabbitConfigChangeQueue) consumeChannel() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("start consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

var _ domain.ConfigChangeQueue = (*RabbitConfigChangeQueue)(nil)
