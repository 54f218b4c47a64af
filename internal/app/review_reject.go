package app

import (
	"context"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/internal/validation"
	"github.com/google/uuid"
)

// RejectTransferRequest rejects one request. The rejection notification is
// part of the transaction: if it cannot be prepared nothing is committed.
func (s *Service) RejectTransferRequest(ctx context.Context, actor domain.Actor, input domain.NotedReviewInput) (*ReviewResult, error) {
	input, verrs := validation.Validate(input)
	if verrs != nil {
		return nil, ValidationError(verrs)
	}

	result := s.reject(ctx, actor, uuid.MustParse(input.ID), input.Notes, true)
	if result.Error != nil {
		return nil, result.Error
	}
	return &result, nil
}

// BatchRejectTransferRequest rejects each request independently. A
// notification that cannot be prepared is logged without undoing the
// rejection.
func (s *Service) BatchRejectTransferRequest(ctx context.Context, actor domain.Actor, input domain.BatchRejectInput) ([]ReviewResult, error) {
	input, verrs := validation.Validate(input)
	if verrs != nil {
		return nil, ValidationError(verrs)
	}

	seen := make(map[uuid.UUID]bool, len(input.Requests))
	results := make([]ReviewResult, 0, len(input.Requests))
	for _, item := range input.Requests {
		id := uuid.MustParse(item.ID)
		if seen[id] {
			continue
		}
		seen[id] = true
		results = append(results, s.reject(ctx, actor, id, item.Notes, false))
	}
	return results, nil
}

func (s *Service) reject(ctx context.Context, actor domain.Actor, id uuid.UUID, notes string, strict bool) ReviewResult {
	result := ReviewResult{ID: id}
	err := s.runTx(ctx, "reject", func(ctx context.Context, tx store.Tx) error {
		request, program, err := s.lockForReview(ctx, tx, actor, id, domain.RejectableStatuses)
		if err != nil {
			return err
		}

		after := request.Clone()
		if err := s.transition(ctx, tx, request, after, domain.StatusRejectedByApprover, actor.UserRoleID); err != nil {
			return err
		}
		if err := tx.InsertReview(ctx, domain.Review{
			TransferRequestID: request.ID,
			ApproverRoleID:    actor.UserRoleID,
			Status:            domain.ReviewRejected,
			Notes:             reviewNotes(notes),
		}); err != nil {
			return err
		}

		result.Outcome = OutcomeRejected
		result.Status = after.Status
		return s.notify(ctx, tx, notification{
			event:   domain.NotifyRejected,
			program: program,
			request: after,
			params:  map[string]string{"notes": notes},
		}, strict)
	})
	return s.finishReview("reject", result, err)
}
