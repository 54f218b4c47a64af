package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/pkg/rabbitmq"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Routing keys the service consumes.
const (
	RoutingKeyApproverGroupsUpdated = "program.approver_groups.updated"
	RoutingKeyPaymentSettled        = "transfer_request.payment.settled"
)

const consumerTimeout = 15 * time.Second

// EventConsumer applies events published by neighbouring services. Handlers
// return false only when redelivery may succeed.
type EventConsumer struct {
	service *Service
	log     *logrus.Entry
}

func NewEventConsumer(service *Service, log *logrus.Entry) *EventConsumer {
	if log == nil {
		log = logrusNop()
	}
	return &EventConsumer{service: service, log: log.WithField("component", "consumer")}
}

// Bindings maps routing keys to handlers for rabbitmq.Consumer.
func (c *EventConsumer) Bindings() map[string]rabbitmq.Handler {
	return map[string]rabbitmq.Handler{
		RoutingKeyApproverGroupsUpdated: c.HandleApproverGroupsUpdated,
		RoutingKeyPaymentSettled:        c.HandlePaymentSettled,
	}
}

func (c *EventConsumer) HandleApproverGroupsUpdated(body []byte) bool {
	var event domain.ApproverGroupsUpdatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.log.WithError(err).Warn("failed to unmarshal approver groups event")
		return true
	}
	entry := c.log.WithFields(logrus.Fields{"event_id": event.EventID, "program_id": event.ProgramID})
	if event.ProgramID <= 0 {
		entry.Warn("approver groups event without program id")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	result, err := c.service.applyApproverGroupsEvent(ctx, event)
	if err != nil {
		return c.settle(entry, err)
	}
	entry.WithField("reverted", len(result.Reverted)).Info("approver groups event applied")
	return true
}

func (c *EventConsumer) HandlePaymentSettled(body []byte) bool {
	var event domain.PaymentSettledEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.log.WithError(err).Warn("failed to unmarshal payment settled event")
		return true
	}
	entry := c.log.WithFields(logrus.Fields{"event_id": event.EventID, "transfer_request_id": event.TransferRequestID})
	if event.TransferRequestID == uuid.Nil {
		entry.Warn("payment settled event without transfer request id")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	if err := c.service.MarkTransferRequestPaid(ctx, event); err != nil {
		return c.settle(entry, err)
	}
	entry.Info("transfer request marked paid")
	return true
}

// settle logs err and decides whether the message is acknowledged.
func (c *EventConsumer) settle(entry *logrus.Entry, err error) bool {
	if errors.Is(err, store.ErrTxTimeout) || IsRetryable(err) {
		entry.WithError(err).Error("event processing failed; requeueing")
		return false
	}
	entry.WithError(err).Warn("event rejected; acknowledging")
	return true
}
