package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a transfer request.
type Status string

const (
	StatusSubmitted           Status = "SUBMITTED"
	StatusSubmittedByApprover Status = "SUBMITTED_BY_APPROVER"
	StatusProcessing          Status = "PROCESSING"
	StatusApproved            Status = "APPROVED"
	StatusRejectedByApprover  Status = "REJECTED_BY_APPROVER"
	StatusRequiresChanges     Status = "REQUIRES_CHANGES"
	StatusBlocked             Status = "BLOCKED"
	StatusVoided              Status = "VOIDED"
	StatusPaid                Status = "PAID"
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusSubmitted,
	StatusSubmittedByApprover,
	StatusProcessing,
	StatusApproved,
	StatusRejectedByApprover,
	StatusRequiresChanges,
	StatusBlocked,
	StatusVoided,
	StatusPaid,
}

// transitions holds every legal from -> to move. Staying in place is not a
// transition and is handled by callers.
var transitions = map[Status][]Status{
	StatusSubmitted: {
		StatusProcessing, StatusApproved, StatusRejectedByApprover,
		StatusRequiresChanges, StatusBlocked, StatusVoided,
	},
	StatusSubmittedByApprover: {
		StatusProcessing, StatusApproved, StatusSubmitted, StatusBlocked, StatusVoided,
	},
	StatusProcessing: {
		StatusApproved, StatusRejectedByApprover, StatusRequiresChanges,
		StatusSubmitted, StatusSubmittedByApprover,
	},
	StatusRequiresChanges: {
		StatusSubmitted, StatusSubmittedByApprover, StatusProcessing,
		StatusRejectedByApprover, StatusBlocked, StatusVoided,
	},
	StatusBlocked: {
		StatusSubmitted, StatusVoided,
	},
	StatusApproved: {
		StatusPaid, StatusProcessing, StatusSubmitted, StatusSubmittedByApprover,
	},
	StatusRejectedByApprover: {
		StatusProcessing, StatusSubmitted, StatusSubmittedByApprover,
	},
	StatusVoided: nil,
	StatusPaid:   nil,
}

// ParseStatus normalises s and rejects values outside the enum.
func ParseStatus(s string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !candidate.Valid() {
		return "", fmt.Errorf("invalid transfer request status %q", s)
	}
	return candidate, nil
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) String() string { return string(s) }

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

func (s Status) In(set ...Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// Status sets used as operation guards.
var (
	AwaitingConsensusStatuses = []Status{StatusSubmitted, StatusSubmittedByApprover, StatusProcessing}
	EditableStatuses          = []Status{StatusSubmitted, StatusSubmittedByApprover, StatusRequiresChanges, StatusBlocked}
	RejectableStatuses        = []Status{StatusSubmitted, StatusProcessing, StatusRequiresChanges}
	RequireChangesStatuses    = []Status{StatusSubmitted, StatusProcessing}
	ResubmittableStatuses     = []Status{StatusApproved, StatusRejectedByApprover, StatusRequiresChanges, StatusProcessing}
)

// IsEditable and IsVoidable share one predicate.
func IsEditable(s Status) bool { return s.In(EditableStatuses...) }

func IsVoidable(s Status) bool { return IsEditable(s) }
