package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/pkg/fieldcrypto"
	"github.com/sirupsen/logrus"
)

type notificationTemplate struct {
	name    string
	subject string
	// receiver events go to the request's receiver, the rest to program approvers.
	toReceiver bool
	// silentForInternal events are not sent for INTERNAL programs.
	silentForInternal bool
}

var notificationTemplates = map[domain.NotificationEvent]notificationTemplate{
	domain.NotifyCreated:         {"transfer_request_created", "Your transfer request was received", true, false},
	domain.NotifySubmitted:       {"transfer_request_submitted", "A transfer request is awaiting your review", false, false},
	domain.NotifyApproved:        {"transfer_request_approved", "Your transfer request was approved", true, true},
	domain.NotifyRejected:        {"transfer_request_rejected", "Your transfer request was rejected", true, true},
	domain.NotifyRequiresChanges: {"transfer_request_requires_changes", "Your transfer request requires changes", true, true},
	domain.NotifyPaid:            {"transfer_request_paid", "Your transfer request was paid", true, true},
}

// notification is a message waiting to be enqueued.
type notification struct {
	event   domain.NotificationEvent
	program *domain.Program
	request *domain.TransferRequest
	params  map[string]string
}

var errNoRecipients = errors.New("notification has no recipients")

// prepareNotification resolves and decrypts recipients. A nil message with a
// nil error means the event is silent for this program.
func (s *Service) prepareNotification(ctx context.Context, tx store.Tx, n notification) (*domain.NotificationMessage, error) {
	tmpl, ok := notificationTemplates[n.event]
	if !ok {
		return nil, fmt.Errorf("unknown notification event %q", n.event)
	}
	if tmpl.silentForInternal && n.program.Internal() {
		return nil, nil
	}

	var encrypted []string
	if tmpl.toReceiver {
		email, err := tx.GetUserEmail(ctx, n.request.ReceiverID)
		if err != nil {
			return nil, fmt.Errorf("load receiver email: %w", err)
		}
		encrypted = []string{email}
	} else {
		emails, err := tx.ListProgramApproverEmails(ctx, n.program.ID)
		if err != nil {
			return nil, err
		}
		encrypted = emails
	}

	recipients := make([]string, 0, len(encrypted))
	for _, value := range encrypted {
		email, err := s.codec.Decrypt(value, fieldcrypto.PII)
		if err != nil {
			return nil, fmt.Errorf("decrypt recipient email: %w", err)
		}
		if email != "" {
			recipients = append(recipients, email)
		}
	}
	if len(recipients) == 0 {
		return nil, errNoRecipients
	}

	return &domain.NotificationMessage{
		Event:             n.event,
		Template:          tmpl.name,
		Subject:           tmpl.subject,
		Recipients:        recipients,
		TransferRequestID: n.request.PublicID,
		ProgramName:       n.program.Name,
		Params:            n.params,
		OccurredAt:        s.now().UTC(),
	}, nil
}

// notify enqueues n. When strict is false, failures to prepare the message
// are logged and swallowed; enqueue failures always propagate because the
// surrounding transaction cannot commit after a failed insert.
func (s *Service) notify(ctx context.Context, tx store.Tx, n notification, strict bool) error {
	message, err := s.prepareNotification(ctx, tx, n)
	if err != nil {
		if strict {
			return Internal(fmt.Errorf("prepare %s notification: %w", n.event, err))
		}
		s.log.WithError(err).WithFields(logrus.Fields{
			"event":               n.event,
			"transfer_request_id": n.request.PublicID,
		}).Warn("notification skipped")
		return nil
	}
	if message == nil {
		return nil
	}
	return tx.EnqueueEvent(ctx, s.exchange, n.event.RoutingKey(), message)
}
