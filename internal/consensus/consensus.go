// Package consensus decides how an approver's action moves a transfer request
// through multi-group approval. It holds no state and performs no I/O; callers
// evaluate it inside the transaction that locked the request row.
//
// A request needs one approval from every approver group that has at least one
// member. Any member satisfies their group. A program whose groups are all
// empty (or that has none) is consensed on the first approval.
package consensus

import (
	"github.com/FilPassOps/FilPass-sub000/internal/domain"
)

// Outcome classifies an approval attempt.
type Outcome int

const (
	// Skip means every group the approver belongs to is already satisfied.
	Skip Outcome = iota
	// Partial means approvals were recorded but groups remain outstanding.
	Partial
	// Complete means every non-empty group is now satisfied.
	Complete
)

func (o Outcome) String() string {
	switch o {
	case Skip:
		return "skipped"
	case Partial:
		return "processing"
	case Complete:
		return "approved"
	default:
		return "unknown"
	}
}

// Plan is the result of evaluating one approval.
type Plan struct {
	Outcome Outcome
	// InsertGroups are the approver's groups that still need an approval row.
	InsertGroups []int64
	// NextStatus is the status the request should hold afterwards.
	NextStatus domain.Status
	// Satisfied and Required are the group counts after the approval.
	Satisfied int
	Required  int
}

// StatusChanged reports whether applying the plan moves the request.
func (p Plan) StatusChanged(current domain.Status) bool {
	return p.Outcome != Skip && p.NextStatus != current
}

// RequiredGroups counts groups with at least one member.
func RequiredGroups(groups []domain.ApproverGroup) int {
	required := 0
	for _, group := range groups {
		if len(group.Members) > 0 {
			required++
		}
	}
	return required
}

// SatisfiedGroups returns the non-empty groups that have at least one approval.
// Approvals for groups no longer configured on the program are ignored.
func SatisfiedGroups(groups []domain.ApproverGroup, approvals []domain.Approval) map[int64]bool {
	approved := make(map[int64]bool, len(approvals))
	for _, approval := range approvals {
		approved[approval.GroupID] = true
	}

	satisfied := make(map[int64]bool, len(groups))
	for _, group := range groups {
		if len(group.Members) > 0 && approved[group.ID] {
			satisfied[group.ID] = true
		}
	}
	return satisfied
}

// Reached reports whether the approvals satisfy every non-empty group.
func Reached(groups []domain.ApproverGroup, approvals []domain.Approval) bool {
	return len(SatisfiedGroups(groups, approvals)) >= RequiredGroups(groups)
}

// PlanApproval evaluates approverRoleID approving a request currently in
// status current with the given program groups and existing approvals.
func PlanApproval(groups []domain.ApproverGroup, approvals []domain.Approval, approverRoleID int64, current domain.Status) Plan {
	required := RequiredGroups(groups)
	satisfied := SatisfiedGroups(groups, approvals)

	if required == 0 {
		return Plan{Outcome: Complete, NextStatus: domain.StatusApproved}
	}

	var memberOf []int64
	for _, group := range groups {
		if group.HasMember(approverRoleID) {
			memberOf = append(memberOf, group.ID)
		}
	}

	var pending []int64
	for _, groupID := range memberOf {
		if !satisfied[groupID] {
			pending = append(pending, groupID)
		}
	}

	if len(pending) == 0 {
		return Plan{
			Outcome:    Skip,
			NextStatus: current,
			Satisfied:  len(satisfied),
			Required:   required,
		}
	}

	total := len(satisfied) + len(pending)
	plan := Plan{
		InsertGroups: pending,
		Satisfied:    total,
		Required:     required,
	}
	if total < required {
		plan.Outcome = Partial
		plan.NextStatus = domain.StatusProcessing
		return plan
	}

	plan.Outcome = Complete
	plan.NextStatus = domain.StatusApproved
	return plan
}

// ResubmitStatus is the status a request returns to once approvals were torn
// down. Remaining approvals keep it in PROCESSING; otherwise it goes back to
// the queue, flagged when the requester is an approver.
func ResubmitStatus(remainingApprovals int, requesterIsApprover bool) domain.Status {
	if remainingApprovals > 0 {
		return domain.StatusProcessing
	}
	if requesterIsApprover {
		return domain.StatusSubmittedByApprover
	}
	return domain.StatusSubmitted
}
