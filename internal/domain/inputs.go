/**
 * @description
 * Input DTOs accepted by the transfer-request use cases. Each struct carries the
 * validation rules enforced by internal/validation before any use case runs.
 *
 * @notes
 * - Amounts travel as decimal strings and are normalised with shopspring/decimal
 *   before encryption, so no float rounding ever reaches the ciphertext.
 */

package domain

import "strings"

// MaxBatchSize bounds batch approve/reject calls.
const MaxBatchSize = 50

// TransferRequestForm is the requester-editable part of a transfer request,
// shared by create and update.
type TransferRequestForm struct {
	Amount               string  `json:"amount" validate:"required,decimal_gt0"`
	Team                 string  `json:"team" validate:"required,max=255"`
	FirstName            string  `json:"first_name" validate:"required,max=100"`
	LastName             string  `json:"last_name" validate:"required,max=100"`
	DateOfBirth          string  `json:"date_of_birth" validate:"required,date_ymd"`
	CountryResidence     string  `json:"country_residence" validate:"required,iso3166_1_alpha2"`
	ProgramID            int64   `json:"program_id" validate:"required,gt=0"`
	WalletID             int64   `json:"wallet_id" validate:"required,gt=0"`
	AttachmentFileID     *string `json:"attachment_file_id" validate:"omitempty,max=64"`
	ExpectedTransferDate *string `json:"expected_transfer_date" validate:"omitempty,date_ymd"`
}

func (f *TransferRequestForm) Normalize() {
	f.Amount = strings.TrimSpace(f.Amount)
	f.Team = strings.TrimSpace(f.Team)
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.DateOfBirth = strings.TrimSpace(f.DateOfBirth)
	f.CountryResidence = strings.ToUpper(strings.TrimSpace(f.CountryResidence))
	f.AttachmentFileID = trimOptional(f.AttachmentFileID)
	f.ExpectedTransferDate = trimOptional(f.ExpectedTransferDate)
}

// ReviewInput targets a single request.
type ReviewInput struct {
	ID    string `json:"id" validate:"required,uuid"`
	Notes string `json:"notes" validate:"max=2000"`
}

func (r *ReviewInput) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Notes = strings.TrimSpace(r.Notes)
}

// NotedReviewInput is a single-request review that must explain itself.
type NotedReviewInput struct {
	ID    string `json:"id" validate:"required,uuid"`
	Notes string `json:"notes" validate:"required,max=2000"`
}

func (r *NotedReviewInput) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Notes = strings.TrimSpace(r.Notes)
}

// BatchApproveInput lists request public ids to approve in order.
type BatchApproveInput struct {
	Requests []string `json:"requests" validate:"required,min=1,max=50,dive,uuid"`
}

func (b *BatchApproveInput) Normalize() {
	for i := range b.Requests {
		b.Requests[i] = strings.TrimSpace(b.Requests[i])
	}
}

// BatchRejectInput carries one note per rejected request.
type BatchRejectInput struct {
	Requests []NotedReviewInput `json:"requests" validate:"required,min=1,max=50,dive"`
}

func (b *BatchRejectInput) Normalize() {
	for i := range b.Requests {
		b.Requests[i].Normalize()
	}
}

// CreateReviewInput dispatches to approve, reject, require-changes or
// re-submit by its status.
type CreateReviewInput struct {
	Status             string   `json:"status" validate:"required,oneof=APPROVED REJECTED REQUIRES_CHANGES SUBMITTED"`
	TransferRequestIDs []string `json:"transfer_request_ids" validate:"required,min=1,max=50,dive,uuid"`
	Notes              string   `json:"notes" validate:"max=2000"`
}

func (c *CreateReviewInput) Normalize() {
	c.Status = strings.ToUpper(strings.TrimSpace(c.Status))
	c.Notes = strings.TrimSpace(c.Notes)
	for i := range c.TransferRequestIDs {
		c.TransferRequestIDs[i] = strings.TrimSpace(c.TransferRequestIDs[i])
	}
}

// ApproverGroupInput is one group in a program's new configuration. ID zero
// creates a new group.
type ApproverGroupInput struct {
	ID      int64   `json:"id" validate:"gte=0"`
	Members []int64 `json:"members" validate:"dive,gt=0"`
}

// UpdateApproverGroupsInput replaces a program's ordered approver groups.
type UpdateApproverGroupsInput struct {
	ProgramID int64                `json:"program_id" validate:"required,gt=0"`
	Groups    []ApproverGroupInput `json:"groups" validate:"dive"`
}

// UpdateProgramCurrencyInput changes a program's currency pair.
type UpdateProgramCurrencyInput struct {
	ProgramID             int64 `json:"program_id" validate:"required,gt=0"`
	RequestCurrencyUnitID int64 `json:"request_currency_unit_id" validate:"required,gt=0"`
	PaymentCurrencyUnitID int64 `json:"payment_currency_unit_id" validate:"required,gt=0"`
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
