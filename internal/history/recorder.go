// Package history diffs transfer request snapshots and writes one audit row per
// changed field. Values are compared exactly as stored, so encrypted columns
// are compared as ciphertext; callers keep the previous ciphertext for fields
// whose plaintext did not change.
package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
)

// Field names as written to the history table.
const (
	FieldStatus               = "status"
	FieldAmount               = "amount"
	FieldTeam                 = "team"
	FieldFirstName            = "first_name"
	FieldLastName             = "last_name"
	FieldDateOfBirth          = "date_of_birth"
	FieldCountryResidence     = "country_residence"
	FieldProgramID            = "program_id"
	FieldCurrencyUnitID       = "currency_unit_id"
	FieldWalletID             = "wallet_id"
	FieldAttachmentFileID     = "attachment_file_id"
	FieldTaxFormFileID        = "tax_form_file_id"
	FieldIsSanctioned         = "is_sanctioned"
	FieldSanctionReason       = "sanction_reason"
	FieldExpectedTransferDate = "expected_transfer_date"
	FieldIsActive             = "is_active"
)

type accessor func(*domain.TransferRequest) *string

type trackedField struct {
	name string
	get  accessor
}

// trackedFields is the exhaustive list of audited columns, in write order.
var trackedFields = []trackedField{
	{FieldStatus, func(t *domain.TransferRequest) *string { return str(string(t.Status)) }},
	{FieldAmount, func(t *domain.TransferRequest) *string { return str(t.Amount) }},
	{FieldTeam, func(t *domain.TransferRequest) *string { return str(t.Team) }},
	{FieldFirstName, func(t *domain.TransferRequest) *string { return str(t.FirstName) }},
	{FieldLastName, func(t *domain.TransferRequest) *string { return str(t.LastName) }},
	{FieldDateOfBirth, func(t *domain.TransferRequest) *string { return str(t.DateOfBirth) }},
	{FieldCountryResidence, func(t *domain.TransferRequest) *string { return str(t.CountryResidence) }},
	{FieldProgramID, func(t *domain.TransferRequest) *string { return id(t.ProgramID) }},
	{FieldCurrencyUnitID, func(t *domain.TransferRequest) *string { return id(t.CurrencyUnitID) }},
	{FieldWalletID, func(t *domain.TransferRequest) *string { return id(t.WalletID) }},
	{FieldAttachmentFileID, func(t *domain.TransferRequest) *string { return t.AttachmentFileID }},
	{FieldTaxFormFileID, func(t *domain.TransferRequest) *string { return t.TaxFormFileID }},
	{FieldIsSanctioned, func(t *domain.TransferRequest) *string { return str(strconv.FormatBool(t.IsSanctioned)) }},
	{FieldSanctionReason, func(t *domain.TransferRequest) *string { return t.SanctionReason }},
	{FieldExpectedTransferDate, func(t *domain.TransferRequest) *string { return date(t.ExpectedTransferDate) }},
	{FieldIsActive, func(t *domain.TransferRequest) *string { return str(strconv.FormatBool(t.IsActive)) }},
}

// Change is one differing field.
type Change struct {
	Field    string
	OldValue *string
	NewValue *string
}

// Diff compares two snapshots of the same request.
func Diff(old, updated *domain.TransferRequest) []Change {
	if old == nil || updated == nil {
		return nil
	}

	var changes []Change
	for _, field := range trackedFields {
		oldValue, newValue := field.get(old), field.get(updated)
		if equal(oldValue, newValue) {
			continue
		}
		changes = append(changes, Change{Field: field.name, OldValue: copyOf(oldValue), NewValue: copyOf(newValue)})
	}
	return changes
}

// Writer persists history rows; the store implements it on an open transaction.
type Writer interface {
	InsertHistory(ctx context.Context, entries []domain.HistoryEntry) error
}

// Record writes the diff between old and updated attributed to userRoleID. It
// returns the rows written.
func Record(ctx context.Context, w Writer, old, updated *domain.TransferRequest, userRoleID int64) ([]domain.HistoryEntry, error) {
	changes := Diff(old, updated)
	if len(changes) == 0 {
		return nil, nil
	}

	entries := make([]domain.HistoryEntry, 0, len(changes))
	for _, change := range changes {
		entries = append(entries, domain.HistoryEntry{
			TransferRequestID: updated.ID,
			Field:             change.Field,
			OldValue:          change.OldValue,
			NewValue:          change.NewValue,
			UserRoleID:        userRoleID,
		})
	}
	if err := w.InsertHistory(ctx, entries); err != nil {
		return nil, fmt.Errorf("record history for transfer request %d: %w", updated.ID, err)
	}
	return entries, nil
}

func equal(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyOf(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func str(s string) *string { return &s }

func id(v int64) *string {
	if v == 0 {
		return nil
	}
	return str(strconv.FormatInt(v, 10))
}

func date(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return str(t.Format(time.DateOnly))
}
