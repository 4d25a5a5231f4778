package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the subset of *amqp.Channel the queue uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPQueue publishes jobs as persistent JSON messages on a durable queue.
type AMQPQueue struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
	name string
}

var _ EmailQueue = (*AMQPQueue)(nil)

// DialAMQP connects to the broker at url and declares the queue.
func DialAMQP(url, queueName string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	q, err := newAMQPQueue(ch, queueName)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

func newAMQPQueue(ch channel, queueName string) (*AMQPQueue, error) {
	queueName = strings.TrimSpace(queueName)
	if queueName == "" {
		queueName = DefaultQueueName
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("queue: declare %s: %w", queueName, err)
	}
	return &AMQPQueue{ch: ch, name: queueName}, nil
}

// Name is the queue jobs are routed to.
func (q *AMQPQueue) Name() string { return q.name }

func (q *AMQPQueue) Enqueue(ctx context.Context, job EmailJob) error {
	job, err := normalize(job)
	if err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: encode job: %w", err)
	}
	// amqp channels are not safe for concurrent publishing.
	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.ch.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("queue: publish to %s: %w", q.name, err)
	}
	return nil
}

// Close releases the channel and, when dialed, the connection.
func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.ch.Close()
	if q.conn != nil {
		err = errors.Join(err, q.conn.Close())
	}
	return err
}
