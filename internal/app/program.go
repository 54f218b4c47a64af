package app

import (
	"context"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/internal/validation"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ApproverGroupsResult summarises an approver-group edit.
type ApproverGroupsResult struct {
	ProgramID     int64       `json:"program_id"`
	ChangedGroups []int64     `json:"changed_groups"`
	Reverted      []uuid.UUID `json:"reverted_transfer_requests"`
}

// UpdateProgramApproverGroups replaces a program's approver groups on behalf
// of a super-admin and reverts in-flight requests whose approvals it voids.
func (s *Service) UpdateProgramApproverGroups(ctx context.Context, actor domain.Actor, input domain.UpdateApproverGroupsInput) (*ApproverGroupsResult, error) {
	input, verrs := validation.Validate(input)
	if verrs != nil {
		return nil, ValidationError(verrs)
	}

	var result *ApproverGroupsResult
	err := s.runTx(ctx, "update_approver_groups", func(ctx context.Context, tx store.Tx) error {
		if err := requireSuperAdmin(ctx, tx, actor); err != nil {
			return err
		}
		var err error
		result, err = s.replaceApproverGroups(ctx, tx, input, actor.UserRoleID)
		return err
	})
	if err != nil {
		return nil, AsError(err)
	}
	return result, nil
}

// applyApproverGroupsEvent runs the same cascade for an edit made elsewhere.
func (s *Service) applyApproverGroupsEvent(ctx context.Context, event domain.ApproverGroupsUpdatedEvent) (*ApproverGroupsResult, error) {
	event, verrs := validation.Validate(event)
	if verrs != nil {
		return nil, ValidationError(verrs)
	}
	input := domain.UpdateApproverGroupsInput{ProgramID: event.ProgramID}
	for _, group := range event.ApproverGroups {
		input.Groups = append(input.Groups, domain.ApproverGroupInput{ID: group.ID, Members: group.Members})
	}
	input, verrs = validation.Validate(input)
	if verrs != nil {
		return nil, ValidationError(verrs)
	}

	var result *ApproverGroupsResult
	err := s.runTx(ctx, "update_approver_groups", func(ctx context.Context, tx store.Tx) error {
		var err error
		result, err = s.replaceApproverGroups(ctx, tx, input, event.EditorRoleID)
		return err
	})
	if err != nil {
		return nil, AsError(err)
	}
	return result, nil
}

func (s *Service) replaceApproverGroups(
	ctx context.Context,
	tx store.Tx,
	input domain.UpdateApproverGroupsInput,
	editorRoleID int64,
) (*ApproverGroupsResult, error) {
	if _, err := tx.LockProgram(ctx, input.ProgramID); err != nil {
		return nil, err
	}
	changed, err := tx.ReplaceApproverGroups(ctx, input.ProgramID, input.Groups)
	if err != nil {
		return nil, err
	}
	affected, err := tx.DeleteApprovalsForGroups(ctx, changed)
	if err != nil {
		return nil, err
	}

	result := &ApproverGroupsResult{ProgramID: input.ProgramID, ChangedGroups: changed, Reverted: []uuid.UUID{}}
	if len(affected) == 0 {
		return result, nil
	}

	requests, err := tx.LockTransferRequestsByID(ctx, affected)
	if err != nil {
		return nil, err
	}

	for i := range requests {
		request := &requests[i]
		if !request.IsActive || !request.Status.In(domain.StatusApproved, domain.StatusProcessing) {
			continue
		}
		next, err := s.requeue(ctx, tx, request)
		if err != nil {
			return nil, err
		}
		after := request.Clone()
		if err := s.transition(ctx, tx, request, after, next, editorRoleID); err != nil {
			return nil, err
		}
		result.Reverted = append(result.Reverted, request.PublicID)
	}

	s.log.WithFields(logrus.Fields{
		"program_id":     input.ProgramID,
		"changed_groups": changed,
		"reverted":       len(result.Reverted),
	}).Info("approver groups updated")
	return result, nil
}

// UpdateProgramCurrency changes the program's currency pair while no transfer
// request references the program.
func (s *Service) UpdateProgramCurrency(ctx context.Context, actor domain.Actor, input domain.UpdateProgramCurrencyInput) error {
	input, verrs := validation.Validate(input)
	if verrs != nil {
		return ValidationError(verrs)
	}

	err := s.runTx(ctx, "update_program_currency", func(ctx context.Context, tx store.Tx) error {
		if err := requireSuperAdmin(ctx, tx, actor); err != nil {
			return err
		}
		if _, err := tx.LockProgram(ctx, input.ProgramID); err != nil {
			return err
		}
		count, err := tx.CountProgramTransferRequests(ctx, input.ProgramID)
		if err != nil {
			return err
		}
		if count > 0 {
			return Conflict("Program currency cannot change once transfer requests exist")
		}
		return tx.UpdateProgramCurrency(ctx, input.ProgramID, input.RequestCurrencyUnitID, input.PaymentCurrencyUnitID)
	})
	if err != nil {
		return AsError(err)
	}
	return nil
}

func requireSuperAdmin(ctx context.Context, tx store.Tx, actor domain.Actor) error {
	ok, err := tx.UserHasActiveRole(ctx, actor.UserID, domain.RoleSuperAdmin)
	if err != nil {
		return err
	}
	if !ok || actor.Role != domain.RoleSuperAdmin {
		return NotFound("Program not found")
	}
	return nil
}
