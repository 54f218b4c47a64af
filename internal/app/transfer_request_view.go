package app

import (
	"context"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/history"
	"github.com/FilPassOps/FilPass-sub000/pkg/fieldcrypto"
	"github.com/google/uuid"
)

// historyKeyClasses maps encrypted history fields to their key class. Fields
// not listed are stored in plaintext.
var historyKeyClasses = map[string]fieldcrypto.KeyClass{
	history.FieldAmount:           fieldcrypto.General,
	history.FieldTeam:             fieldcrypto.General,
	history.FieldSanctionReason:   fieldcrypto.General,
	history.FieldFirstName:        fieldcrypto.PII,
	history.FieldLastName:         fieldcrypto.PII,
	history.FieldDateOfBirth:      fieldcrypto.PII,
	history.FieldCountryResidence: fieldcrypto.PII,
}

// HistoryEntryView is a decrypted history row.
type HistoryEntryView struct {
	Field      string    `json:"field"`
	OldValue   *string   `json:"old_value"`
	NewValue   *string   `json:"new_value"`
	UserRoleID int64     `json:"user_role_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// GetTransferRequest returns a request the actor may see.
func (s *Service) GetTransferRequest(ctx context.Context, actor domain.Actor, rawID string) (*TransferRequestView, error) {
	request, err := s.visibleRequest(ctx, actor, rawID)
	if err != nil {
		return nil, err
	}
	return s.render("get", request)
}

// ListTransferRequestHistory returns the request's audit trail, oldest first.
func (s *Service) ListTransferRequestHistory(ctx context.Context, actor domain.Actor, rawID string) ([]HistoryEntryView, error) {
	request, err := s.visibleRequest(ctx, actor, rawID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListHistory(ctx, request.ID)
	if err != nil {
		return nil, s.failure("list_history", err)
	}

	views := make([]HistoryEntryView, 0, len(entries))
	for _, entry := range entries {
		view := HistoryEntryView{
			Field:      entry.Field,
			OldValue:   entry.OldValue,
			NewValue:   entry.NewValue,
			UserRoleID: entry.UserRoleID,
			CreatedAt:  entry.CreatedAt,
		}
		if class, encrypted := historyKeyClasses[entry.Field]; encrypted {
			if view.OldValue, err = s.codec.DecryptOptional(entry.OldValue, class); err != nil {
				return nil, s.failure("list_history", err)
			}
			if view.NewValue, err = s.codec.DecryptOptional(entry.NewValue, class); err != nil {
				return nil, s.failure("list_history", err)
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) visibleRequest(ctx context.Context, actor domain.Actor, rawID string) (*domain.TransferRequest, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, NotFound("Transfer request not found")
	}
	request, err := s.repo.GetTransferRequestByPublicID(ctx, id)
	if err != nil {
		return nil, AsError(err)
	}
	allowed, err := s.repo.CanViewTransferRequest(ctx, request.ID, actor)
	if err != nil {
		return nil, s.failure("get", err)
	}
	if !allowed {
		return nil, NotFound("Transfer request not found")
	}
	return request, nil
}

// view decrypts request for output.
func (s *Service) view(request *domain.TransferRequest) (*TransferRequestView, error) {
	out := &TransferRequestView{
		ID:               request.PublicID,
		Status:           request.Status,
		ProgramID:        request.ProgramID,
		CurrencyUnitID:   request.CurrencyUnitID,
		WalletID:         request.WalletID,
		AttachmentFileID: request.AttachmentFileID,
		TaxFormFileID:    request.TaxFormFileID,
		IsSanctioned:     request.IsSanctioned,
		IsEditable:       domain.IsEditable(request.Status),
		IsVoidable:       domain.IsVoidable(request.Status),
		CreatedAt:        request.CreatedAt,
		UpdatedAt:        request.UpdatedAt,
	}

	fields := []struct {
		dst   *string
		value string
		class fieldcrypto.KeyClass
	}{
		{&out.Amount, request.Amount, fieldcrypto.General},
		{&out.Team, request.Team, fieldcrypto.General},
		{&out.FirstName, request.FirstName, fieldcrypto.PII},
		{&out.LastName, request.LastName, fieldcrypto.PII},
		{&out.DateOfBirth, request.DateOfBirth, fieldcrypto.PII},
		{&out.CountryResidence, request.CountryResidence, fieldcrypto.PII},
	}
	for _, field := range fields {
		plain, err := s.codec.Decrypt(field.value, field.class)
		if err != nil {
			return nil, err
		}
		*field.dst = plain
	}

	reason, err := s.codec.DecryptOptional(request.SanctionReason, fieldcrypto.General)
	if err != nil {
		return nil, err
	}
	out.SanctionReason = reason
	if request.ExpectedTransferDate != nil {
		date := request.ExpectedTransferDate.Format(time.DateOnly)
		out.ExpectedTransferDate = &date
	}
	return out, nil
}
