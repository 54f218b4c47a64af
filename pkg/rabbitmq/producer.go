/**
 * @description
 * This package provides a simple producer for publishing messages to RabbitMQ.
 * It encapsulates the logic for connecting to RabbitMQ and publishing a message
 * to a specific exchange and routing key.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 * - github.com/sirupsen/logrus: Structured logging.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const dialTimeout = 10 * time.Second

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	log     *logrus.Entry
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is not configured.
type EventProducerFallback struct {
	Log *logrus.Entry
}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if p.Log != nil {
		p.Log.WithFields(logrus.Fields{
			"exchange":    exchange,
			"routing_key": routingKey,
		}).Warn("publish skipped: broker unavailable")
	}
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// Drop stray characters before the scheme.
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials the broker and opens a publishing channel.
func NewEventProducer(amqpURL string, log *logrus.Entry) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &EventProducer{conn: conn, channel: ch, log: log.WithField("component", "rabbitmq_producer")}, nil
}

// Publish sends body as JSON to exchange with routingKey. A failed channel is
// reopened once before giving up.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := encodeBody(body)
	if err != nil {
		p.log.WithError(err).WithField("routing_key", routingKey).Error("json marshal failed")
		return err
	}

	if err := p.declare(exchange); err != nil {
		p.log.WithError(err).WithField("exchange", exchange).Warn("exchange declare failed; reopening channel")
		if err := p.reopen(exchange); err != nil {
			return err
		}
	}

	if err := p.send(ctx, exchange, routingKey, jsonBody); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"exchange":    exchange,
			"routing_key": routingKey,
		}).Warn("publish failed; reopening channel")
		if reopenErr := p.reopen(exchange); reopenErr != nil {
			return err
		}
		return p.send(ctx, exchange, routingKey, jsonBody)
	}
	return nil
}

func (p *EventProducer) declare(exchange string) error {
	return p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	)
}

func (p *EventProducer) reopen(exchange string) error {
	if p.conn == nil {
		return amqp091.ErrClosed
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return p.declare(exchange)
}

func (p *EventProducer) send(ctx context.Context, exchange, routingKey string, body []byte) error {
	return p.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// encodeBody passes pre-encoded JSON through untouched.
func encodeBody(body interface{}) ([]byte, error) {
	switch v := body.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(body)
	}
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
