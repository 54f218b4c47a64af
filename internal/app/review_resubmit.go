package app

import (
	"context"

	"github.com/FilPassOps/FilPass-sub000/internal/consensus"
	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/internal/validation"
	"github.com/google/uuid"
)

// reviewsClearedOnResubmit are deactivated when a request returns to the queue.
var reviewsClearedOnResubmit = []domain.ReviewStatus{
	domain.ReviewApproved,
	domain.ReviewRejected,
	domain.ReviewRequiresChanges,
}

// SubmittedTransferRequest withdraws the approver's previous decision on a
// request and puts it back up for review.
func (s *Service) SubmittedTransferRequest(ctx context.Context, actor domain.Actor, input domain.ReviewInput) (*ReviewResult, error) {
	input, verrs := validation.Validate(input)
	if verrs != nil {
		return nil, ValidationError(verrs)
	}

	result := s.resubmit(ctx, actor, uuid.MustParse(input.ID))
	if result.Error != nil {
		return nil, result.Error
	}
	return &result, nil
}

func (s *Service) resubmit(ctx context.Context, actor domain.Actor, id uuid.UUID) ReviewResult {
	result := ReviewResult{ID: id}
	err := s.runTx(ctx, "resubmit", func(ctx context.Context, tx store.Tx) error {
		request, _, err := s.lockForReview(ctx, tx, actor, id, domain.ResubmittableStatuses)
		if err != nil {
			return err
		}

		if _, err := tx.DeleteApprovalsByUserRole(ctx, request.ID, actor.UserRoleID); err != nil {
			return err
		}
		remaining, err := tx.ListApprovals(ctx, request.ID)
		if err != nil {
			return err
		}

		next := domain.StatusProcessing
		if len(remaining) == 0 {
			next, err = s.requeue(ctx, tx, request)
			if err != nil {
				return err
			}
		}

		after := request.Clone()
		if err := s.transition(ctx, tx, request, after, next, actor.UserRoleID); err != nil {
			return err
		}
		result.Outcome = OutcomeResubmitted
		result.Status = after.Status
		return nil
	})
	return s.finishReview("resubmit", result, err)
}

// requeue deactivates the request's standing decisions and returns the queue
// status it should go back to.
func (s *Service) requeue(ctx context.Context, tx store.Tx, request *domain.TransferRequest) (domain.Status, error) {
	if _, err := tx.DeactivateReviews(ctx, request.ID, reviewsClearedOnResubmit); err != nil {
		return "", err
	}
	requesterIsApprover, err := tx.RoleHolderIsApprover(ctx, request.RequesterID)
	if err != nil {
		return "", err
	}
	return consensus.ResubmitStatus(0, requesterIsApprover), nil
}
