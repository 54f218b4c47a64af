package app

import (
	"context"
	"errors"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/FilPassOps/FilPass-sub000/internal/store"
	"github.com/FilPassOps/FilPass-sub000/internal/validation"
	"github.com/FilPassOps/FilPass-sub000/pkg/fieldcrypto"
	"github.com/FilPassOps/FilPass-sub000/pkg/filestore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TransferRequestView is the decrypted representation returned to callers.
type TransferRequestView struct {
	ID                   uuid.UUID     `json:"id"`
	Status               domain.Status `json:"status"`
	Amount               string        `json:"amount"`
	Team                 string        `json:"team"`
	FirstName            string        `json:"first_name"`
	LastName             string        `json:"last_name"`
	DateOfBirth          string        `json:"date_of_birth"`
	CountryResidence     string        `json:"country_residence"`
	ProgramID            int64         `json:"program_id"`
	CurrencyUnitID       int64         `json:"currency_unit_id"`
	WalletID             int64         `json:"wallet_id"`
	AttachmentFileID     *string       `json:"attachment_file_id,omitempty"`
	TaxFormFileID        *string       `json:"tax_form_file_id,omitempty"`
	IsSanctioned         bool          `json:"is_sanctioned"`
	SanctionReason       *string       `json:"sanction_reason,omitempty"`
	ExpectedTransferDate *string       `json:"expected_transfer_date,omitempty"`
	IsEditable           bool          `json:"is_editable"`
	IsVoidable           bool          `json:"is_voidable"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// compliance is the screening outcome for a receiver.
type compliance struct {
	taxForm  *domain.TaxForm
	sanction *domain.SanctionResult
}

// blocked reports whether a request must be held back. A failed or missing
// check blocks.
func (c compliance) blocked() bool {
	return c.taxForm == nil || !c.taxForm.IsApproved || c.sanction == nil || c.sanction.IsSanctioned
}

// CreateTransferRequest files a new request for the acting user.
func (s *Service) CreateTransferRequest(ctx context.Context, actor domain.Actor, form domain.TransferRequestForm) (*TransferRequestView, error) {
	form, verrs := validation.Validate(form)
	if verrs != nil {
		return nil, ValidationError(verrs)
	}
	if err := s.checkAttachment(ctx, form.AttachmentFileID); err != nil {
		return nil, err
	}
	expected, err := parseDate(form.ExpectedTransferDate)
	if err != nil {
		return nil, fieldError("expected_transfer_date", "must be a date in YYYY-MM-DD format")
	}

	screening := s.screen(ctx, actor.UserID)
	request := &domain.TransferRequest{
		PublicID:             uuid.New(),
		Status:               domain.StatusSubmitted,
		ProgramID:            form.ProgramID,
		WalletID:             form.WalletID,
		AttachmentFileID:     form.AttachmentFileID,
		ReceiverID:           actor.UserID,
		RequesterID:          actor.UserRoleID,
		ExpectedTransferDate: expected,
	}
	if screening.blocked() {
		request.Status = domain.StatusBlocked
	}
	if screening.taxForm != nil && screening.taxForm.IsApproved {
		request.TaxFormFileID = &screening.taxForm.FileID
	}
	if err := s.encryptForm(request, nil, form); err != nil {
		return nil, Internal(err)
	}
	if err := s.applySanction(request, screening.sanction); err != nil {
		return nil, Internal(err)
	}

	err = s.runTx(ctx, "create", func(ctx context.Context, tx store.Tx) error {
		accessible, err := tx.IsProgramAccessible(ctx, form.ProgramID)
		if err != nil {
			return err
		}
		if !accessible {
			return fieldError("program_id", "is not available")
		}
		owned, err := tx.IsWalletOwnedBy(ctx, form.WalletID, actor.UserID)
		if err != nil {
			return err
		}
		if !owned {
			return fieldError("wallet_id", "is not available")
		}
		program, err := tx.GetProgram(ctx, form.ProgramID)
		if err != nil {
			return err
		}
		request.CurrencyUnitID = program.RequestCurrencyUnitID

		if err := tx.InsertTransferRequest(ctx, request); err != nil {
			return err
		}
		if request.Status == domain.StatusSubmitted {
			if err := s.notify(ctx, tx, notification{event: domain.NotifySubmitted, program: program, request: request}, false); err != nil {
				return err
			}
		}
		return s.notify(ctx, tx, notification{event: domain.NotifyCreated, program: program, request: request}, false)
	})
	if err != nil {
		return nil, s.failure("create", err)
	}

	s.log.WithFields(logrus.Fields{
		"transfer_request_id": request.PublicID,
		"status":              request.Status,
	}).Info("transfer request created")
	return s.render("create", request)
}

// UpdateTransferRequestByID edits a request while it is still editable.
func (s *Service) UpdateTransferRequestByID(ctx context.Context, actor domain.Actor, rawID string, form domain.TransferRequestForm) (*TransferRequestView, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, NotFound("Transfer request not found")
	}
	form, verrs := validation.Validate(form)
	if verrs != nil {
		return nil, ValidationError(verrs)
	}
	if err := s.checkAttachment(ctx, form.AttachmentFileID); err != nil {
		return nil, err
	}
	expected, err := parseDate(form.ExpectedTransferDate)
	if err != nil {
		return nil, fieldError("expected_transfer_date", "must be a date in YYYY-MM-DD format")
	}
	current, err := s.repo.GetTransferRequestByPublicID(ctx, id)
	if err != nil {
		return nil, s.failure("update", err)
	}
	// The receiver never changes, so screening can run before the lock.
	screening := s.screen(ctx, current.ReceiverID)

	var updated *domain.TransferRequest
	err = s.runTx(ctx, "update", func(ctx context.Context, tx store.Tx) error {
		request, err := tx.LockTransferRequest(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkEditor(ctx, tx, actor, request); err != nil {
			return err
		}
		if !domain.IsEditable(request.Status) {
			return Conflict("Transfer request is not editable")
		}

		after := request.Clone()
		if form.ProgramID != request.ProgramID {
			accessible, err := tx.IsProgramAccessible(ctx, form.ProgramID)
			if err != nil {
				return err
			}
			if !accessible {
				return fieldError("program_id", "is not available")
			}
			after.ProgramID = form.ProgramID
		}
		program, err := tx.GetProgram(ctx, after.ProgramID)
		if err != nil {
			return err
		}
		after.CurrencyUnitID = program.RequestCurrencyUnitID

		if form.WalletID != request.WalletID {
			owned, err := tx.IsWalletOwnedBy(ctx, form.WalletID, request.ReceiverID)
			if err != nil {
				return err
			}
			if !owned {
				return fieldError("wallet_id", "is not available")
			}
			after.WalletID = form.WalletID
		}
		after.AttachmentFileID = form.AttachmentFileID
		after.ExpectedTransferDate = expected
		if err := s.encryptForm(after, request, form); err != nil {
			return err
		}

		if err := s.applySanction(after, screening.sanction); err != nil {
			return err
		}
		if screening.taxForm != nil && screening.taxForm.IsApproved {
			after.TaxFormFileID = &screening.taxForm.FileID
		}

		next := request.Status
		switch {
		case screening.blocked():
			next = domain.StatusBlocked
		case request.Status.In(domain.StatusRequiresChanges, domain.StatusBlocked):
			next = domain.StatusSubmitted
		}
		if err := s.transition(ctx, tx, request, after, next, actor.UserRoleID); err != nil {
			return err
		}
		updated = after

		if !after.Status.In(domain.StatusSubmitted, domain.StatusSubmittedByApprover) {
			return nil
		}
		return s.notify(ctx, tx, notification{event: domain.NotifySubmitted, program: program, request: after}, false)
	})
	if err != nil {
		return nil, s.failure("update", err)
	}
	return s.render("update", updated)
}

// VoidTransferRequest withdraws a request on behalf of its receiver.
func (s *Service) VoidTransferRequest(ctx context.Context, actor domain.Actor, rawID string) (*TransferRequestView, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, NotFound("Transfer request not found")
	}

	var voided *domain.TransferRequest
	err = s.runTx(ctx, "void", func(ctx context.Context, tx store.Tx) error {
		isUser, err := tx.UserHasActiveRole(ctx, actor.UserID, domain.RoleUser)
		if err != nil {
			return err
		}
		if !isUser {
			return NotFound("Transfer request not found")
		}
		request, err := tx.LockTransferRequest(ctx, id)
		if err != nil {
			return err
		}
		if request.ReceiverID != actor.UserID {
			return NotFound("Transfer request not found")
		}
		if !domain.IsVoidable(request.Status) {
			return Conflict("Transfer request is not voidable")
		}

		after := request.Clone()
		if err := s.transition(ctx, tx, request, after, domain.StatusVoided, actor.UserRoleID); err != nil {
			return err
		}
		voided = after
		return nil
	})
	if err != nil {
		return nil, s.failure("void", err)
	}
	return s.render("void", voided)
}

// MarkTransferRequestPaid records a settled payout. Repeated events for an
// already paid request are accepted without writes.
func (s *Service) MarkTransferRequestPaid(ctx context.Context, event domain.PaymentSettledEvent) error {
	event, verrs := validation.Validate(event)
	if verrs != nil {
		return ValidationError(verrs)
	}

	err := s.runTx(ctx, "mark_paid", func(ctx context.Context, tx store.Tx) error {
		request, err := tx.LockTransferRequest(ctx, event.TransferRequestID)
		if err != nil {
			return err
		}
		if request.Status == domain.StatusPaid {
			return nil
		}
		if request.Status != domain.StatusApproved {
			return Conflict("Transfer request is not approved")
		}

		after := request.Clone()
		if err := s.transition(ctx, tx, request, after, domain.StatusPaid, event.ActorRoleID); err != nil {
			return err
		}
		program, err := tx.GetProgram(ctx, request.ProgramID)
		if err != nil {
			return err
		}
		return s.notify(ctx, tx, notification{
			event:   domain.NotifyPaid,
			program: program,
			request: after,
			params:  map[string]string{"transaction_hash": event.TransactionHash},
		}, false)
	})
	if err != nil {
		return s.failure("mark_paid", err)
	}
	return nil
}

// checkEditor allows the receiver or an approver of the request's program.
func (s *Service) checkEditor(ctx context.Context, tx store.Tx, actor domain.Actor, request *domain.TransferRequest) error {
	if request.ReceiverID == actor.UserID {
		return nil
	}
	granted, err := tx.HasProgramGrant(ctx, actor.UserRoleID, request.ProgramID)
	if err != nil {
		return err
	}
	if !granted {
		return NotFound("Transfer request not found")
	}
	return nil
}

func (s *Service) checkAttachment(ctx context.Context, fileID *string) error {
	if fileID == nil || s.files == nil {
		return nil
	}
	if _, err := s.files.GetFile(ctx, *fileID); err != nil {
		if errors.Is(err, filestore.ErrFileNotFound) {
			return fieldError("attachment_file_id", "file not found")
		}
		return Internal(err)
	}
	return nil
}

// screen runs the compliance lookups. Failures are logged and leave the
// corresponding field nil.
func (s *Service) screen(ctx context.Context, userID int64) compliance {
	var result compliance
	if s.compliance == nil {
		return result
	}
	entry := s.log.WithField("user_id", userID)

	taxForm, err := s.compliance.FindUserTaxForm(ctx, userID)
	if err != nil {
		entry.WithError(err).Warn("tax form lookup failed")
	} else {
		result.taxForm = taxForm
	}
	sanction, err := s.compliance.IsUserSanctioned(ctx, userID)
	if err != nil {
		entry.WithError(err).Warn("sanction check failed")
	} else {
		result.sanction = sanction
	}
	return result
}

// encryptForm writes form onto target. Fields whose plaintext matches the
// previous snapshot keep their previous ciphertext.
func (s *Service) encryptForm(target, previous *domain.TransferRequest, form domain.TransferRequestForm) error {
	amount, err := decimal.NewFromString(form.Amount)
	if err != nil {
		return err
	}

	fields := []struct {
		dst   *string
		old   string
		value string
		class fieldcrypto.KeyClass
		same  func(a, b string) bool
	}{
		{&target.Amount, oldValue(previous, func(t *domain.TransferRequest) string { return t.Amount }), amount.String(), fieldcrypto.General, sameAmount},
		{&target.Team, oldValue(previous, func(t *domain.TransferRequest) string { return t.Team }), form.Team, fieldcrypto.General, nil},
		{&target.FirstName, oldValue(previous, func(t *domain.TransferRequest) string { return t.FirstName }), form.FirstName, fieldcrypto.PII, nil},
		{&target.LastName, oldValue(previous, func(t *domain.TransferRequest) string { return t.LastName }), form.LastName, fieldcrypto.PII, nil},
		{&target.DateOfBirth, oldValue(previous, func(t *domain.TransferRequest) string { return t.DateOfBirth }), form.DateOfBirth, fieldcrypto.PII, nil},
		{&target.CountryResidence, oldValue(previous, func(t *domain.TransferRequest) string { return t.CountryResidence }), form.CountryResidence, fieldcrypto.PII, nil},
	}

	for _, field := range fields {
		if field.old != "" {
			plain, err := s.codec.Decrypt(field.old, field.class)
			if err != nil {
				return err
			}
			same := plain == field.value
			if field.same != nil {
				same = field.same(plain, field.value)
			}
			if same {
				*field.dst = field.old
				continue
			}
		}
		ciphertext, err := s.codec.Encrypt(field.value, field.class)
		if err != nil {
			return err
		}
		*field.dst = ciphertext
	}
	return nil
}

func (s *Service) applySanction(target *domain.TransferRequest, sanction *domain.SanctionResult) error {
	if sanction == nil {
		return nil
	}
	if target.IsSanctioned == sanction.IsSanctioned && target.SanctionReason != nil {
		plain, err := s.codec.Decrypt(*target.SanctionReason, fieldcrypto.General)
		if err != nil {
			return err
		}
		if plain == sanction.SanctionReason {
			return nil
		}
	}
	var reason *string
	if sanction.IsSanctioned && sanction.SanctionReason != "" {
		reason = &sanction.SanctionReason
	}
	encrypted, err := s.codec.EncryptOptional(reason, fieldcrypto.General)
	if err != nil {
		return err
	}
	target.IsSanctioned = sanction.IsSanctioned
	target.SanctionReason = encrypted
	return nil
}

func (s *Service) render(operation string, request *domain.TransferRequest) (*TransferRequestView, error) {
	view, err := s.view(request)
	if err != nil {
		return nil, s.failure(operation, err)
	}
	return view, nil
}

// failure logs unexpected errors and returns the caller-facing error.
func (s *Service) failure(operation string, err error) *Error {
	appErr := AsError(err)
	if appErr.Status >= 500 {
		s.log.WithError(err).WithField("operation", operation).Error("operation failed")
	}
	return appErr
}

func oldValue(previous *domain.TransferRequest, get func(*domain.TransferRequest) string) string {
	if previous == nil {
		return ""
	}
	return get(previous)
}

func sameAmount(a, b string) bool {
	x, errX := decimal.NewFromString(a)
	y, errY := decimal.NewFromString(b)
	if errX != nil || errY != nil {
		return a == b
	}
	return x.Equal(y)
}

func parseDate(value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	parsed, err := time.Parse(time.DateOnly, *value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
