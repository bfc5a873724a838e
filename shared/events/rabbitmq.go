package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/metrics"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// RabbitMQ holds one connection and a publishing channel bound to a topic
// exchange. Topics are used as routing keys.
type RabbitMQ struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
	URL        string
	Exchange   string
}

func NewRabbitMQ(url, exchange string) *RabbitMQ {
	return &RabbitMQ{URL: url, Exchange: exchange}
}

func (r *RabbitMQ) Connect() error {
	conn, err := amqp.Dial(r.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(r.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("rabbitmq exchange declare: %w", err)
	}

	r.Connection = conn
	r.Channel = ch
	return nil
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		r.Channel.Close()
	}
	if r.Connection != nil {
		r.Connection.Close()
	}
}

// RabbitPublisher publishes persistent messages. amqp channels are not safe
// for concurrent publishing, hence the mutex.
type RabbitPublisher struct {
	rabbit *RabbitMQ
	mu     sync.Mutex
}

func NewRabbitPublisher(rabbit *RabbitMQ) *RabbitPublisher {
	return &RabbitPublisher{rabbit: rabbit}
}

func (p *RabbitPublisher) Publish(ctx context.Context, topic string, data any) error {
	body, err := envelope(topic, data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.rabbit.Channel.PublishWithContext(
		ctx,
		p.rabbit.Exchange,
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Type:         topic,
		},
	)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	metrics.EventsPublished.WithLabelValues(topic, "ok").Inc()
	return nil
}

// RabbitSubscriber consumes from a durable queue named after the group and
// bound to every configured topic. Failed deliveries are requeued.
type RabbitSubscriber struct {
	rabbit *RabbitMQ
	cfg    SubscriberConfig
}

func NewRabbitSubscriber(rabbit *RabbitMQ, cfg SubscriberConfig) *RabbitSubscriber {
	cfg.setDefaults()
	return &RabbitSubscriber{rabbit: rabbit, cfg: cfg}
}

func (s *RabbitSubscriber) Start(ctx context.Context) error {
	ch, err := s.rabbit.Connection.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(int(s.cfg.BatchSize), 0, false); err != nil {
		return fmt.Errorf("rabbitmq qos: %w", err)
	}

	q, err := ch.QueueDeclare(s.cfg.Group, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	for _, topic := range s.cfg.Topics {
		if err := ch.QueueBind(q.Name, topic, s.rabbit.Exchange, false, nil); err != nil {
			return fmt.Errorf("rabbitmq bind %s: %w", topic, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, s.cfg.Consumer, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}

	logger.Info("subscriber started", logger.Fields{
		"topics":   s.cfg.Topics,
		"queue":    q.Name,
		"consumer": s.cfg.Consumer,
	})

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			logger.Info("subscriber stopping", logger.Fields{"queue": q.Name})
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel closed")
			}
			g.Go(func() error {
				s.handle(ctx, d)
				return nil
			})
		}
	}
}

func (s *RabbitSubscriber) handle(ctx context.Context, d amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		metrics.EventsConsumed.WithLabelValues(d.RoutingKey, "error").Inc()
		logger.Error("dropping malformed message", err, logger.Fields{"routingKey": d.RoutingKey, "messageId": d.MessageId})
		_ = d.Nack(false, false)
		return
	}

	if err := s.cfg.Handler(ctx, event); err != nil {
		metrics.EventsConsumed.WithLabelValues(d.RoutingKey, "error").Inc()
		logger.Error("failed to process message", err, logger.Fields{"routingKey": d.RoutingKey, "messageId": d.MessageId})
		time.Sleep(time.Second)
		_ = d.Nack(false, true)
		return
	}

	metrics.EventsConsumed.WithLabelValues(d.RoutingKey, "ok").Inc()
	if err := d.Ack(false); err != nil {
		logger.Error("failed to ack message", err, logger.Fields{"messageId": d.MessageId})
	}
}
