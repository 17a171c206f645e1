package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JellyTony/zkpool/events"
	"github.com/JellyTony/zkpool/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/ksuid"
)

const (
	shareExchange  = "zkpool.shares"
	publishTimeout = 5 * time.Second
)

// RoutingKey is the key a share event is published with.
func RoutingKey(evt events.ShareEvent) string {
	return "share." + evt.Account
}

// RabbitMQ publishes share events to a topic exchange with publisher
// confirms, and consumes them back from a durable queue bound to it.
type RabbitMQ struct {
	conn  *amqp.Connection
	pub   *amqp.Channel
	sub   *amqp.Channel
	queue string
	out   chan events.ShareEvent
	pubMu sync.Mutex
	once  sync.Once
}

func NewRabbitMQ(url, queue string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	r := &RabbitMQ{conn: conn, queue: queue, out: make(chan events.ShareEvent, 1024)}
	if err := r.setup(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go r.consume()
	return r, nil
}

func (r *RabbitMQ) setup() error {
	pub, err := r.conn.Channel()
	if err != nil {
		return err
	}
	if err := pub.Confirm(false); err != nil {
		return fmt.Errorf("enable confirms: %w", err)
	}
	if err := pub.ExchangeDeclare(shareExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	sub, err := r.conn.Channel()
	if err != nil {
		return err
	}
	if err := sub.Qos(64, 0, false); err != nil {
		return err
	}
	if _, err := sub.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := sub.QueueBind(r.queue, "share.#", shareExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	r.pub, r.sub = pub, sub
	return nil
}

// Publish blocks until the broker confirms the event.
func (r *RabbitMQ) Publish(evt events.ShareEvent) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	r.pubMu.Lock()
	conf, err := r.pub.PublishWithDeferredConfirmWithContext(ctx, shareExchange, RoutingKey(evt), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		MessageId:    ksuid.New().String(),
		Timestamp:    evt.Time,
		ContentType:  "application/json",
		AppId:        "zkpool",
		Body:         b,
	})
	r.pubMu.Unlock()
	if err != nil {
		return err
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("share event for %s nacked by broker", evt.Account)
	}
	return nil
}

func (r *RabbitMQ) consume() {
	defer r.once.Do(func() { close(r.out) })
	msgs, err := r.sub.Consume(r.queue, "", false, false, false, false, nil)
	if err != nil {
		logger.WithFields(logger.Fields{"module": "mq.rabbit", "queue": r.queue}).WithError(err).Error("consume failed")
		return
	}
	for m := range msgs {
		var evt events.ShareEvent
		if err := json.Unmarshal(m.Body, &evt); err != nil {
			logger.WithFields(logger.Fields{"module": "mq.rabbit", "message_id": m.MessageId}).WithError(err).Warn("dropping malformed share event")
			_ = m.Nack(false, false)
			continue
		}
		r.out <- evt
		_ = m.Ack(false)
	}
}

func (r *RabbitMQ) Subscribe() <-chan events.ShareEvent { return r.out }

// Close tears down both channels; the consumer closes the output when the
// delivery stream ends.
func (r *RabbitMQ) Close() error {
	if r.pub != nil {
		_ = r.pub.Close()
	}
	if r.sub != nil {
		_ = r.sub.Close()
	}
	if r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}
