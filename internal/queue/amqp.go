package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/unclebandit/padaria-campaigns/internal/logger"
)

// AMQPQueue carries JSON payloads over durable RabbitMQ queues, one queue per topic.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  logger.Logger

	mu       sync.Mutex
	declared map[string]bool
	wg       sync.WaitGroup
}

// DialAMQP connects and opens the channel used for both publishing and consuming.
func DialAMQP(url string, log logger.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	// One unacked command at a time per consumer.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, log: log, declared: map[string]bool{}}, nil
}

func (q *AMQPQueue) declare(name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.declared[name] {
		return nil
	}
	_, err := q.ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	q.declared[name] = true
	return nil
}

// Publish marshals payload to JSON unless it is already raw bytes.
func (q *AMQPQueue) Publish(topic string, payload any) error {
	if err := q.declare(topic); err != nil {
		return err
	}
	body, ok := payload.([]byte)
	if !ok {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	var messageID string
	if cmd, ok := payload.(Command); ok {
		messageID = cmd.RequestID
	}
	return q.ch.Publish(
		"",    // default exchange
		topic, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Body:         body,
		},
	)
}

// Subscribe consumes topic with manual acks. The handler receives the raw body.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	if err := q.declare(topic); err != nil {
		return err
	}
	msgs, err := q.ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for d := range msgs {
			SettleDelivery(d, handler, q.log)
		}
		q.log.Info("amqp consumer stopped", map[string]interface{}{"queue": topic})
	}()
	return nil
}

// SettleDelivery runs handler on one delivery and settles it: invalid payloads are rejected,
// other failures are requeued once.
func SettleDelivery(d amqp.Delivery, handler func(payload any) error, log logger.Logger) {
	err := handler(d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("ack failed", map[string]interface{}{"error": ackErr})
		}
	case errors.Is(err, ErrInvalidCommand):
		if rejErr := d.Reject(false); rejErr != nil {
			log.Error("reject failed", map[string]interface{}{"error": rejErr})
		}
	default:
		// Redelivered messages that fail again are dropped instead of looping forever.
		if nackErr := d.Nack(false, !d.Redelivered); nackErr != nil {
			log.Error("nack failed", map[string]interface{}{"error": nackErr})
		}
	}
}

// Close stops consuming and waits for the consumer goroutines.
func (q *AMQPQueue) Close() error {
	chErr := q.ch.Close()
	connErr := q.conn.Close()
	q.wg.Wait()
	return errors.Join(chErr, connErr)
}
