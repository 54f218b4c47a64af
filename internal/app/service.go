/**
 * @description
 * This file contains the core business logic for the disbursement service. The
 * `Service` struct orchestrates the transfer-request lifecycle, coordinating the
 * repository, the field codec, the compliance and file services, and the event outbox.
 *
 * Key features:
 * - Every use case validates its input first and runs its writes in one transaction.
 * - Status changes go through a single transition helper that enforces the
 *   transition table and records history in the same transaction.
 * - Notifications are written to the outbox inside the transaction and delivered
 *   after commit by the OutboxDispatcher.
 *
 * @dependencies
 * - github.com/sirupsen/logrus: Structured logging.
 * - internal/domain, internal/store, internal/history: Models, persistence, audit.
 * - pkg/fieldcrypto, pkg/filestore: Field encryption and attachment lookups.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/history"
	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/pkg/fieldcrypto"
	"github.com/FilPassOps/FilPass-sub000/pkg/filestore"
	"github.com/sirupsen/logrus"
)

const DefaultEventsExchange = "disbursement.events"

// ComplianceChecker looks up tax forms and sanction screening.
type ComplianceChecker interface {
	FindUserTaxForm(ctx context.Context, userID int64) (*domain.TaxForm, error)
	IsUserSanctioned(ctx context.Context, userID int64) (*domain.SanctionResult, error)
}

// FileStore resolves stored attachments.
type FileStore interface {
	GetFile(ctx context.Context, publicID string) (*filestore.File, error)
}

// Options carries optional Service settings.
type Options struct {
	Exchange string
	Logger   *logrus.Entry
}

// Service provides the transfer-request use cases.
type Service struct {
	repo       store.Repository
	codec      *fieldcrypto.Codec
	compliance ComplianceChecker
	files      FileStore
	exchange   string
	log        *logrus.Entry
	metrics    *metrics
	now        func() time.Time
}

// NewService creates a new disbursement service instance.
func NewService(
	repo store.Repository,
	codec *fieldcrypto.Codec,
	compliance ComplianceChecker,
	files FileStore,
	opts Options,
) *Service {
	if opts.Exchange == "" {
		opts.Exchange = DefaultEventsExchange
	}
	if opts.Logger == nil {
		opts.Logger = logrusNop()
	}
	return &Service{
		repo:       repo,
		codec:      codec,
		compliance: compliance,
		files:      files,
		exchange:   opts.Exchange,
		log:        opts.Logger.WithField("component", "service"),
		metrics:    getMetrics(),
		now:        time.Now,
	}
}

// runTx wraps repo.RunInTx with latency metrics.
func (s *Service) runTx(ctx context.Context, operation string, fn func(ctx context.Context, tx store.Tx) error) error {
	started := time.Now()
	err := s.repo.RunInTx(ctx, fn)
	s.metrics.txDuration.WithLabelValues(operation, resultLabel(err)).Observe(time.Since(started).Seconds())
	return err
}

// transition moves request to status and records the full diff between
// before and the updated row, attributed to userRoleID. Callers may have
// changed other fields on after already.
func (s *Service) transition(
	ctx context.Context,
	tx store.Tx,
	before, after *domain.TransferRequest,
	to domain.Status,
	userRoleID int64,
) error {
	if before.Status.Terminal() {
		return Conflict(fmt.Sprintf("Transfer request is %s and cannot change", before.Status))
	}
	if before.Status != to && !domain.CanTransition(before.Status, to) {
		return Conflict(fmt.Sprintf("Transfer request cannot move from %s to %s", before.Status, to))
	}
	after.Status = to

	if err := tx.UpdateTransferRequest(ctx, after); err != nil {
		return err
	}
	if _, err := history.Record(ctx, tx, before, after, userRoleID); err != nil {
		return err
	}
	if before.Status != to {
		s.metrics.transitions.WithLabelValues(string(before.Status), string(to)).Inc()
	}
	return nil
}

func logrusNop() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
