package app

import (
	"context"
	"errors"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/internal/validation"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReviewOutcome is what a review action did to one request.
type ReviewOutcome string

const (
	OutcomeApproved        ReviewOutcome = "approved"
	OutcomeProcessing      ReviewOutcome = "processing"
	OutcomeSkipped         ReviewOutcome = "skipped"
	OutcomeRejected        ReviewOutcome = "rejected"
	OutcomeRequiresChanges ReviewOutcome = "requires_changes"
	OutcomeResubmitted     ReviewOutcome = "resubmitted"
	OutcomeFailed          ReviewOutcome = "failed"
)

// ReviewResult reports one request's outcome within a review call.
type ReviewResult struct {
	ID      uuid.UUID     `json:"id"`
	Outcome ReviewOutcome `json:"outcome"`
	Status  domain.Status `json:"status,omitempty"`
	Error   *Error        `json:"error,omitempty"`
}

const (
	reviewStatusApproved        = "APPROVED"
	reviewStatusRejected        = "REJECTED"
	reviewStatusRequiresChanges = "REQUIRES_CHANGES"
	reviewStatusSubmitted       = "SUBMITTED"
)

// CreateTransferRequestReview dispatches a review action on one or more
// requests by its status discriminator.
func (s *Service) CreateTransferRequestReview(ctx context.Context, actor domain.Actor, input domain.CreateReviewInput) ([]ReviewResult, error) {
	input, verrs := validation.Validate(input)
	if verrs != nil {
		return nil, ValidationError(verrs)
	}
	ids := parseIDs(input.TransferRequestIDs)

	var (
		results []ReviewResult
		err     error
	)
	switch input.Status {
	case reviewStatusApproved:
		results, err = s.approve(ctx, actor, ids)
	case reviewStatusRejected:
		if input.Notes == "" {
			return nil, fieldError("notes", "is required")
		}
		strict := len(ids) == 1
		results = s.each(ids, func(id uuid.UUID) ReviewResult {
			return s.reject(ctx, actor, id, input.Notes, strict)
		})
	case reviewStatusRequiresChanges:
		if input.Notes == "" {
			return nil, fieldError("notes", "is required")
		}
		results = s.each(ids, func(id uuid.UUID) ReviewResult {
			return s.requireChanges(ctx, actor, id, input.Notes)
		})
	case reviewStatusSubmitted:
		results = s.each(ids, func(id uuid.UUID) ReviewResult {
			return s.resubmit(ctx, actor, id)
		})
	default:
		return nil, fieldError("status", "is invalid")
	}
	if err != nil {
		return nil, err
	}
	if len(results) == 1 && results[0].Error != nil {
		return nil, results[0].Error
	}
	return results, nil
}

func (s *Service) each(ids []uuid.UUID, fn func(uuid.UUID) ReviewResult) []ReviewResult {
	results := make([]ReviewResult, 0, len(ids))
	for _, id := range uniqueIDs(ids) {
		results = append(results, fn(id))
	}
	return results
}

// lockForReview locks the request and checks the approver may act on it in
// its current status. Every refusal is reported as not found.
func (s *Service) lockForReview(
	ctx context.Context,
	tx store.Tx,
	actor domain.Actor,
	id uuid.UUID,
	allowed []domain.Status,
) (*domain.TransferRequest, *domain.Program, error) {
	// The program is share-locked before the request so a concurrent group
	// edit either waits for this review or is fully visible to it.
	program, err := tx.ShareLockRequestProgram(ctx, id)
	if err != nil {
		return nil, nil, reviewLockError(err)
	}
	request, err := tx.LockTransferRequest(ctx, id)
	if err != nil {
		return nil, nil, reviewLockError(err)
	}
	if request.ProgramID != program.ID {
		if program, err = tx.ShareLockRequestProgram(ctx, id); err != nil {
			return nil, nil, reviewLockError(err)
		}
	}

	granted, err := tx.HasProgramGrant(ctx, actor.UserRoleID, request.ProgramID)
	if err != nil {
		return nil, nil, err
	}
	if !granted || !request.Status.In(allowed...) {
		return nil, nil, NotFound("Transfer request not found")
	}
	return request, program, nil
}

func reviewLockError(err error) error {
	if errors.Is(err, store.ErrTransferRequestNotFound) {
		return NotFound("Transfer request not found")
	}
	return err
}

// finishReview records metrics and converts err into the result.
func (s *Service) finishReview(action string, result ReviewResult, err error) ReviewResult {
	if err != nil {
		appErr := AsError(err)
		result.Outcome = OutcomeFailed
		result.Error = appErr
		entry := s.log.WithFields(logrus.Fields{
			"action":              action,
			"transfer_request_id": result.ID,
		})
		if appErr.Status >= 500 {
			entry.WithError(err).Error("review action failed")
		} else {
			entry.WithField("reason", appErr.Message).Info("review action refused")
		}
	}
	s.metrics.reviewActions.WithLabelValues(action, string(result.Outcome)).Inc()
	return result
}

func reviewNotes(notes string) *string {
	if notes == "" {
		return nil
	}
	return &notes
}

// parseIDs converts validated uuid strings.
func parseIDs(raw []string) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, value := range raw {
		ids = append(ids, uuid.MustParse(value))
	}
	return ids
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
