/**
 * @description
 * This file defines the data access contract for the disbursement service. Reads that
 * may run outside a transaction live on `Repository`; everything that mutates a
 * transfer request, its approvals, reviews or history lives on `Tx` and is only
 * reachable through `Repository.RunInTx`, so those writes always commit together.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: Public identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrTransferRequestNotFound = errors.New("transfer request not found")
	ErrProgramNotFound         = errors.New("program not found")
	ErrUserNotFound            = errors.New("user not found")
	ErrDuplicateApproval       = errors.New("approval already recorded for group")
	ErrTxTimeout               = errors.New("transaction timed out")
)

// Repository is the service's persistence handle.
type Repository interface {
	// RunInTx executes fn inside one database transaction bounded by the
	// configured acquire wait and total timeout. fn's error rolls back.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetProgram(ctx context.Context, programID int64) (*domain.Program, error)
	GetTransferRequestByPublicID(ctx context.Context, publicID uuid.UUID) (*domain.TransferRequest, error)
	// FindReviewCandidates returns requests among publicIDs whose status is in
	// statuses and whose program the approver holds an active grant on.
	FindReviewCandidates(ctx context.Context, publicIDs []uuid.UUID, approverRoleID int64, statuses []domain.Status) ([]domain.TransferRequest, error)
	CanViewTransferRequest(ctx context.Context, requestID int64, actor domain.Actor) (bool, error)
	ListHistory(ctx context.Context, requestID int64) ([]domain.HistoryEntry, error)
	ListApprovals(ctx context.Context, requestID int64) ([]domain.Approval, error)

	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
	PurgePublishedOutbox(ctx context.Context, olderThan time.Duration) (int64, error)
	CountPendingOutbox(ctx context.Context) (int64, error)
}

// Tx is the set of operations available inside RunInTx.
type Tx interface {
	LockTransferRequest(ctx context.Context, publicID uuid.UUID) (*domain.TransferRequest, error)
	LockTransferRequestsByID(ctx context.Context, ids []int64) ([]domain.TransferRequest, error)
	InsertTransferRequest(ctx context.Context, request *domain.TransferRequest) error
	UpdateTransferRequest(ctx context.Context, request *domain.TransferRequest) error

	GetProgram(ctx context.Context, programID int64) (*domain.Program, error)
	LockProgram(ctx context.Context, programID int64) (*domain.Program, error)
	// ShareLockRequestProgram share-locks the program the request currently
	// belongs to, so approver groups cannot change until the transaction ends.
	ShareLockRequestProgram(ctx context.Context, publicID uuid.UUID) (*domain.Program, error)
	IsProgramAccessible(ctx context.Context, programID int64) (bool, error)
	ReplaceApproverGroups(ctx context.Context, programID int64, groups []domain.ApproverGroupInput) (changedGroupIDs []int64, err error)
	CountProgramTransferRequests(ctx context.Context, programID int64) (int64, error)
	UpdateProgramCurrency(ctx context.Context, programID, requestCurrencyUnitID, paymentCurrencyUnitID int64) error

	ListApprovals(ctx context.Context, requestID int64) ([]domain.Approval, error)
	InsertApproval(ctx context.Context, approval domain.Approval) error
	DeleteApprovals(ctx context.Context, requestID int64) (int64, error)
	DeleteApprovalsByUserRole(ctx context.Context, requestID, userRoleID int64) (int64, error)
	// DeleteApprovalsForGroups removes approvals for the groups and returns the
	// affected request ids.
	DeleteApprovalsForGroups(ctx context.Context, groupIDs []int64) ([]int64, error)

	InsertReview(ctx context.Context, review domain.Review) error
	DeactivateReviews(ctx context.Context, requestID int64, statuses []domain.ReviewStatus) (int64, error)
	InsertHistory(ctx context.Context, entries []domain.HistoryEntry) error

	HasProgramGrant(ctx context.Context, userRoleID, programID int64) (bool, error)
	UserHasActiveRole(ctx context.Context, userID int64, role domain.Role) (bool, error)
	// RoleHolderIsApprover reports whether the user behind userRoleID holds an
	// active approver role.
	RoleHolderIsApprover(ctx context.Context, userRoleID int64) (bool, error)
	IsWalletOwnedBy(ctx context.Context, walletID, userID int64) (bool, error)
	GetUserEmail(ctx context.Context, userID int64) (string, error)
	ListProgramApproverEmails(ctx context.Context, programID int64) ([]string, error)

	EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error
}

// OutboxMessage is a claimed outbox row awaiting publication.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}
