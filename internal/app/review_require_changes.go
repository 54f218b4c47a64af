package app

import (
	"context"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/internal/validation"
	"github.com/google/uuid"
)

// RequireChangeTransferRequest sends a request back to its requester and
// discards every approval collected so far.
func (s *Service) RequireChangeTransferRequest(ctx context.Context, actor domain.Actor, input domain.NotedReviewInput) (*ReviewResult, error) {
	input, verrs := validation.Validate(input)
	if verrs != nil {
		return nil, ValidationError(verrs)
	}

	result := s.requireChanges(ctx, actor, uuid.MustParse(input.ID), input.Notes)
	if result.Error != nil {
		return nil, result.Error
	}
	return &result, nil
}

func (s *Service) requireChanges(ctx context.Context, actor domain.Actor, id uuid.UUID, notes string) ReviewResult {
	result := ReviewResult{ID: id}
	err := s.runTx(ctx, "require_changes", func(ctx context.Context, tx store.Tx) error {
		request, program, err := s.lockForReview(ctx, tx, actor, id, domain.RequireChangesStatuses)
		if err != nil {
			return err
		}

		if _, err := tx.DeleteApprovals(ctx, request.ID); err != nil {
			return err
		}
		after := request.Clone()
		if err := s.transition(ctx, tx, request, after, domain.StatusRequiresChanges, actor.UserRoleID); err != nil {
			return err
		}
		if err := tx.InsertReview(ctx, domain.Review{
			TransferRequestID: request.ID,
			ApproverRoleID:    actor.UserRoleID,
			Status:            domain.ReviewRequiresChanges,
			Notes:             reviewNotes(notes),
		}); err != nil {
			return err
		}

		result.Outcome = OutcomeRequiresChanges
		result.Status = after.Status
		return s.notify(ctx, tx, notification{
			event:   domain.NotifyRequiresChanges,
			program: program,
			request: after,
			params:  map[string]string{"notes": notes},
		}, false)
	})
	return s.finishReview("require_changes", result, err)
}
