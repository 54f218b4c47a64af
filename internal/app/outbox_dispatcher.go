package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/pkg/rabbitmq"
	"github.com/sirupsen/logrus"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
)

// PublisherFactory opens a broker connection. It is called lazily and again
// after a publish failure drops the previous connection.
type PublisherFactory func() (rabbitmq.Publisher, error)

// DispatcherOptions tunes the OutboxDispatcher. Zero values use defaults.
type DispatcherOptions struct {
	BatchSize    int
	PollInterval time.Duration
	StaleAfter   time.Duration
	Logger       *logrus.Entry
}

// OutboxDispatcher publishes committed outbox rows to the broker.
type OutboxDispatcher struct {
	repo                store.Repository
	newPublisher        PublisherFactory
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	producer            rabbitmq.Publisher
	log                 *logrus.Entry
	metrics             *metrics
}

func NewOutboxDispatcher(repo store.Repository, newPublisher PublisherFactory, opts DispatcherOptions) *OutboxDispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleProcessing
	}
	if opts.Logger == nil {
		opts.Logger = logrusNop()
	}
	return &OutboxDispatcher{
		repo:                repo,
		newPublisher:        newPublisher,
		batchSize:           opts.BatchSize,
		pollInterval:        opts.PollInterval,
		staleProcessingTime: opts.StaleAfter,
		log:                 opts.Logger.WithField("component", "outbox"),
		metrics:             getMetrics(),
	}
}

// Run polls until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.closeProducer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.flushOnce(ctx); err != nil {
				d.log.WithError(err).Error("outbox flush failed")
			}
		}
	}
}

// flushOnce publishes one claimed batch and returns how many rows were sent.
func (d *OutboxDispatcher) flushOnce(ctx context.Context) (int, error) {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, message := range messages {
		entry := d.log.WithFields(logrus.Fields{
			"outbox_id":   message.ID,
			"routing_key": message.RoutingKey,
			"attempts":    message.Attempts,
		})
		if err := d.publishMessage(ctx, message); err != nil {
			d.metrics.outboxDispatch.WithLabelValues(message.RoutingKey, "error").Inc()
			entry.WithError(err).Warn("outbox publish failed")
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryDelaySeconds(message.Attempts), err.Error()); markErr != nil {
				entry.WithError(markErr).Error("failed to mark outbox message as failed")
			}
			continue
		}
		d.metrics.outboxDispatch.WithLabelValues(message.RoutingKey, "ok").Inc()
		published++
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			entry.WithError(err).Error("failed to mark outbox message as published")
		}
	}
	return published, nil
}

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message store.OutboxMessage) error {
	if d.producer == nil {
		producer, err := d.newPublisher()
		if err != nil {
			return err
		}
		d.producer = producer
	}

	if !json.Valid(message.Payload) {
		return errInvalidPayload
	}
	if err := d.producer.Publish(ctx, message.Exchange, message.RoutingKey, json.RawMessage(message.Payload)); err != nil {
		d.closeProducer()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closeProducer() {
	if d.producer != nil {
		d.producer.Close()
		d.producer = nil
	}
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
