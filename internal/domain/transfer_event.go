package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NotificationEvent names the business event a notification is keyed off.
type NotificationEvent string

const (
	NotifyCreated         NotificationEvent = "created"
	NotifySubmitted       NotificationEvent = "submitted"
	NotifyApproved        NotificationEvent = "approved"
	NotifyRejected        NotificationEvent = "rejected"
	NotifyRequiresChanges NotificationEvent = "requires_changes"
	NotifyPaid            NotificationEvent = "paid"
)

// RoutingKey is the outbox routing key used for the event.
func (e NotificationEvent) RoutingKey() string {
	return "notification.transfer_request." + string(e)
}

// NotificationMessage is the payload handed to the mail consumer. Template
// rendering happens downstream; only template parameters travel here.
type NotificationMessage struct {
	Event             NotificationEvent `json:"event"`
	Template          string            `json:"template"`
	Subject           string            `json:"subject"`
	Recipients        []string          `json:"recipients"`
	TransferRequestID uuid.UUID         `json:"transfer_request_id"`
	ProgramName       string            `json:"program_name"`
	Params            map[string]string `json:"params,omitempty"`
	OccurredAt        time.Time         `json:"occurred_at"`
}

// ApproverGroupsUpdatedEvent is published by the program admin surface when a
// program's approver groups are edited.
type ApproverGroupsUpdatedEvent struct {
	EventID        string          `json:"event_id"`
	ProgramID      int64           `json:"program_id" validate:"required,gt=0"`
	EditorRoleID   int64           `json:"editor_role_id" validate:"required,gt=0"`
	ApproverGroups []ApproverGroup `json:"approver_groups"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// PaymentSettledEvent is published by the payout service once funds moved.
type PaymentSettledEvent struct {
	EventID           string    `json:"event_id"`
	TransferRequestID uuid.UUID `json:"transfer_request_id" validate:"required"`
	ActorRoleID       int64     `json:"actor_role_id" validate:"required,gt=0"`
	TransactionHash   string    `json:"transaction_hash" validate:"required,max=255"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func (e *PaymentSettledEvent) Normalize() {
	e.EventID = strings.TrimSpace(e.EventID)
	e.TransactionHash = strings.TrimSpace(e.TransactionHash)
}
