/**
 * @description
 * Core data structures for transfer requests, programs and their approval records.
 * Fields tagged as encrypted hold ciphertext produced by pkg/fieldcrypto; they are
 * never persisted in plaintext.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransferRequest is a single disbursement request.
type TransferRequest struct {
	ID                   int64      `json:"-"`
	PublicID             uuid.UUID  `json:"public_id"`
	Status               Status     `json:"status"`
	Amount               string     `json:"amount"`            // encrypted, general key
	Team                 string     `json:"team"`              // encrypted, general key
	FirstName            string     `json:"first_name"`        // encrypted, pii key
	LastName             string     `json:"last_name"`         // encrypted, pii key
	DateOfBirth          string     `json:"date_of_birth"`     // encrypted, pii key
	CountryResidence     string     `json:"country_residence"` // encrypted, pii key
	ProgramID            int64      `json:"program_id"`
	CurrencyUnitID       int64      `json:"currency_unit_id"`
	WalletID             int64      `json:"wallet_id"`
	AttachmentFileID     *string    `json:"attachment_file_id,omitempty"`
	TaxFormFileID        *string    `json:"tax_form_file_id,omitempty"`
	IsSanctioned         bool       `json:"is_sanctioned"`
	SanctionReason       *string    `json:"sanction_reason,omitempty"` // encrypted, general key
	ReceiverID           int64      `json:"receiver_id"`
	RequesterID          int64      `json:"requester_id"`
	ExpectedTransferDate *time.Time `json:"expected_transfer_date,omitempty"`
	IsActive             bool       `json:"is_active"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Clone returns a copy safe to mutate without touching the original snapshot.
func (t *TransferRequest) Clone() *TransferRequest {
	if t == nil {
		return nil
	}
	out := *t
	out.AttachmentFileID = cloneString(t.AttachmentFileID)
	out.TaxFormFileID = cloneString(t.TaxFormFileID)
	out.SanctionReason = cloneString(t.SanctionReason)
	if t.ExpectedTransferDate != nil {
		d := *t.ExpectedTransferDate
		out.ExpectedTransferDate = &d
	}
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ProgramVisibility controls who can see and request against a program.
type ProgramVisibility string

const (
	VisibilityInternal ProgramVisibility = "INTERNAL"
	VisibilityExternal ProgramVisibility = "EXTERNAL"
)

// Program is a budget and workflow container.
type Program struct {
	ID                    int64             `json:"id"`
	Name                  string            `json:"name"`
	DeliveryMethod        string            `json:"delivery_method"`
	Visibility            ProgramVisibility `json:"visibility"`
	RequestCurrencyUnitID int64             `json:"request_currency_unit_id"`
	PaymentCurrencyUnitID int64             `json:"payment_currency_unit_id"`
	IsActive              bool              `json:"is_active"`
	ApproverGroups        []ApproverGroup   `json:"approver_groups"`
}

func (p *Program) Internal() bool { return p != nil && p.Visibility == VisibilityInternal }

// ApproverGroup is satisfied by any single member's approval.
type ApproverGroup struct {
	ID        int64   `json:"id"`
	ProgramID int64   `json:"program_id"`
	Position  int     `json:"position"`
	Members   []int64 `json:"members"` // user role ids
}

func (g ApproverGroup) HasMember(userRoleID int64) bool {
	for _, member := range g.Members {
		if member == userRoleID {
			return true
		}
	}
	return false
}

// Approval records that a group was satisfied for a request.
type Approval struct {
	ID                int64     `json:"id"`
	TransferRequestID int64     `json:"-"`
	GroupID           int64     `json:"group_id"`
	UserRoleID        int64     `json:"user_role_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// ReviewStatus is the outcome an approver recorded.
type ReviewStatus string

const (
	ReviewApproved        ReviewStatus = "APPROVED"
	ReviewRejected        ReviewStatus = "REJECTED"
	ReviewRequiresChanges ReviewStatus = "REQUIRES_CHANGES"
)

// Review is one discrete approver action.
type Review struct {
	ID                int64        `json:"id"`
	TransferRequestID int64        `json:"-"`
	ApproverRoleID    int64        `json:"approver_role_id"`
	Status            ReviewStatus `json:"status"`
	Notes             *string      `json:"notes,omitempty"`
	IsActive          bool         `json:"is_active"`
	CreatedAt         time.Time    `json:"created_at"`
}

// HistoryEntry is one audited field change.
type HistoryEntry struct {
	ID                int64     `json:"id"`
	TransferRequestID int64     `json:"-"`
	Field             string    `json:"field"`
	OldValue          *string   `json:"old_value,omitempty"`
	NewValue          *string   `json:"new_value,omitempty"`
	UserRoleID        int64     `json:"user_role_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Role is a grant type held by a user.
type Role string

const (
	RoleUser       Role = "USER"
	RoleApprover   Role = "APPROVER"
	RoleSuperAdmin Role = "SUPERADMIN"
)

// Actor identifies who is performing an operation.
type Actor struct {
	UserID     int64 `json:"user_id"`
	UserRoleID int64 `json:"user_role_id"`
	Role       Role  `json:"role"`
}

// TaxForm is the compliance view of a user's tax document.
type TaxForm struct {
	FileID     string `json:"file_id"`
	IsApproved bool   `json:"is_approved"`
}

// SanctionResult is the outcome of a sanction screening.
type SanctionResult struct {
	IsSanctioned   bool   `json:"is_sanctioned"`
	SanctionReason string `json:"sanction_reason,omitempty"`
}
