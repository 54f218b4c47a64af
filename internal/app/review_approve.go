package app

import (
	"context"

	"github.com/FilPassOps/FilPass-sub000/internal/consensus"
	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/internal/validation"
	"github.com/google/uuid"
)

// ApproveTransferRequest records the approver's sign-off on one request.
func (s *Service) ApproveTransferRequest(ctx context.Context, actor domain.Actor, input domain.ReviewInput) (*ReviewResult, error) {
	input, verrs := validation.Validate(input)
	if verrs != nil {
		return nil, ValidationError(verrs)
	}

	results, err := s.approve(ctx, actor, []uuid.UUID{uuid.MustParse(input.ID)})
	if err != nil {
		return nil, err
	}
	if results[0].Error != nil {
		return nil, results[0].Error
	}
	return &results[0], nil
}

// BatchApproveTransferRequest approves up to MaxBatchSize requests in the
// given order, one transaction each. Every id must be approvable by the actor
// or nothing is written.
func (s *Service) BatchApproveTransferRequest(ctx context.Context, actor domain.Actor, input domain.BatchApproveInput) ([]ReviewResult, error) {
	input, verrs := validation.Validate(input)
	if verrs != nil {
		return nil, ValidationError(verrs)
	}
	return s.approve(ctx, actor, parseIDs(input.Requests))
}

func (s *Service) approve(ctx context.Context, actor domain.Actor, ids []uuid.UUID) ([]ReviewResult, error) {
	ids = uniqueIDs(ids)
	if len(ids) > domain.MaxBatchSize {
		return nil, fieldError("requests", "must contain at most 50 items")
	}

	candidates, err := s.repo.FindReviewCandidates(ctx, ids, actor.UserRoleID, domain.AwaitingConsensusStatuses)
	if err != nil {
		return nil, AsError(err)
	}
	found := make(map[uuid.UUID]bool, len(candidates))
	for _, candidate := range candidates {
		found[candidate.PublicID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return nil, NotFound("Transfer request not found")
		}
	}

	results := make([]ReviewResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, s.approveOne(ctx, actor, id))
	}
	return results, nil
}

func (s *Service) approveOne(ctx context.Context, actor domain.Actor, id uuid.UUID) ReviewResult {
	result := ReviewResult{ID: id}
	err := s.runTx(ctx, "approve", func(ctx context.Context, tx store.Tx) error {
		request, program, err := s.lockForReview(ctx, tx, actor, id, domain.AwaitingConsensusStatuses)
		if err != nil {
			return err
		}
		approvals, err := tx.ListApprovals(ctx, request.ID)
		if err != nil {
			return err
		}

		plan := consensus.PlanApproval(program.ApproverGroups, approvals, actor.UserRoleID, request.Status)
		if plan.Outcome == consensus.Skip && consensus.Reached(program.ApproverGroups, approvals) {
			// Groups were reconfigured underneath an in-flight request and the
			// approvals it already holds now cover every group.
			plan.Outcome = consensus.Complete
			plan.NextStatus = domain.StatusApproved
		}

		result.Outcome = ReviewOutcome(plan.Outcome.String())
		result.Status = request.Status
		if plan.Outcome == consensus.Skip {
			return nil
		}

		for _, groupID := range plan.InsertGroups {
			if err := tx.InsertApproval(ctx, domain.Approval{
				TransferRequestID: request.ID,
				GroupID:           groupID,
				UserRoleID:        actor.UserRoleID,
			}); err != nil {
				return err
			}
		}

		after := request.Clone()
		if plan.StatusChanged(request.Status) {
			if err := s.transition(ctx, tx, request, after, plan.NextStatus, actor.UserRoleID); err != nil {
				return err
			}
		}
		result.Status = plan.NextStatus

		if plan.Outcome != consensus.Complete {
			return nil
		}
		if err := tx.InsertReview(ctx, domain.Review{
			TransferRequestID: request.ID,
			ApproverRoleID:    actor.UserRoleID,
			Status:            domain.ReviewApproved,
		}); err != nil {
			return err
		}
		return s.notify(ctx, tx, notification{
			event:   domain.NotifyApproved,
			program: program,
			request: after,
		}, false)
	})
	return s.finishReview("approve", result, err)
}
