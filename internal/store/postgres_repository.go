/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` and `Tx`
 * interfaces. Every mutating use case goes through RunInTx, which acquires a pooled
 * connection within a bounded wait and runs the callback under a bounded timeout.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultTxMaxWait = 5 * time.Second
	defaultTxTimeout = 10 * time.Second

	uniqueViolation = "23505"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db        *pgxpool.Pool
	txMaxWait time.Duration
	txTimeout time.Duration
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		db:        db,
		txMaxWait: defaultTxMaxWait,
		txTimeout: defaultTxTimeout,
	}
}

// ConfigureTxLimits overrides the connection acquire wait and the total
// transaction timeout. Non-positive values keep the defaults.
func (r *PostgresRepository) ConfigureTxLimits(maxWait, timeout time.Duration) {
	if maxWait > 0 {
		r.txMaxWait = maxWait
	}
	if timeout > 0 {
		r.txTimeout = timeout
	}
}

func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, r.txMaxWait)
	conn, err := r.db.Acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: waited %s for a connection", ErrTxTimeout, r.txMaxWait)
		}
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	txCtx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()

	tx, err := conn.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return r.txError(ctx, txCtx, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(txCtx, &postgresTx{tx: tx}); err != nil {
		if ctx.Err() == nil && errors.Is(txCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTxTimeout, err)
		}
		return err
	}

	if err := tx.Commit(txCtx); err != nil {
		return r.txError(ctx, txCtx, "commit transaction", err)
	}
	return nil
}

func (r *PostgresRepository) txError(parent, txCtx context.Context, op string, err error) error {
	if parent.Err() == nil && errors.Is(txCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrTxTimeout, op, r.txTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (r *PostgresRepository) GetProgram(ctx context.Context, programID int64) (*domain.Program, error) {
	return getProgram(ctx, r.db, programID, "")
}

func (r *PostgresRepository) GetTransferRequestByPublicID(ctx context.Context, publicID uuid.UUID) (*domain.TransferRequest, error) {
	query := `SELECT ` + transferRequestColumns + ` FROM transfer_requests tr WHERE tr.public_id = $1`
	return scanTransferRequest(r.db.QueryRow(ctx, query, publicID))
}

func (r *PostgresRepository) FindReviewCandidates(
	ctx context.Context,
	publicIDs []uuid.UUID,
	approverRoleID int64,
	statuses []domain.Status,
) ([]domain.TransferRequest, error) {
	if len(publicIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + transferRequestColumns + `
		FROM transfer_requests tr
		WHERE tr.public_id = ANY($1::uuid[])
		  AND tr.is_active
		  AND tr.status = ANY($2::text[])
		  AND EXISTS (
			SELECT 1
			FROM user_role_programs urp
			JOIN user_roles ur ON ur.id = urp.user_role_id
			WHERE urp.program_id = tr.program_id
			  AND urp.user_role_id = $3
			  AND urp.is_active
			  AND ur.is_active
		  )
	`
	rows, err := r.db.Query(ctx, query, uuidStrings(publicIDs), statusStrings(statuses), approverRoleID)
	if err != nil {
		return nil, fmt.Errorf("find review candidates: %w", err)
	}
	return collectTransferRequests(rows)
}

func (r *PostgresRepository) CanViewTransferRequest(ctx context.Context, requestID int64, actor domain.Actor) (bool, error) {
	var allowed bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM transfer_requests tr
			WHERE tr.id = $1
			  AND (
				tr.receiver_id = $2
				OR EXISTS (
					SELECT 1
					FROM user_role_programs urp
					JOIN user_roles ur ON ur.id = urp.user_role_id
					WHERE urp.program_id = tr.program_id
					  AND urp.user_role_id = $3
					  AND urp.is_active
					  AND ur.is_active
				)
			  )
		)
	`, requestID, actor.UserID, actor.UserRoleID).Scan(&allowed)
	return allowed, err
}

func (r *PostgresRepository) ListHistory(ctx context.Context, requestID int64) ([]domain.HistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, transfer_request_id, field, old_value, new_value, user_role_id, created_at
		FROM transfer_request_history
		WHERE transfer_request_id = $1
		ORDER BY created_at, id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.TransferRequestID, &e.Field, &e.OldValue, &e.NewValue, &e.UserRoleID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *PostgresRepository) ListApprovals(ctx context.Context, requestID int64) ([]domain.Approval, error) {
	return listApprovals(ctx, r.db, requestID)
}

// postgresTx implements Tx over an open pgx transaction.
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockTransferRequest(ctx context.Context, publicID uuid.UUID) (*domain.TransferRequest, error) {
	query := `SELECT ` + transferRequestColumns + ` FROM transfer_requests tr WHERE tr.public_id = $1 AND tr.is_active FOR UPDATE`
	return scanTransferRequest(t.tx.QueryRow(ctx, query, publicID))
}

func (t *postgresTx) LockTransferRequestsByID(ctx context.Context, ids []int64) ([]domain.TransferRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + transferRequestColumns + ` FROM transfer_requests tr WHERE tr.id = ANY($1) ORDER BY tr.id FOR UPDATE`
	rows, err := t.tx.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("lock transfer requests: %w", err)
	}
	return collectTransferRequests(rows)
}

func (t *postgresTx) InsertTransferRequest(ctx context.Context, request *domain.TransferRequest) error {
	if request.PublicID == uuid.Nil {
		request.PublicID = uuid.New()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transfer_requests (
			public_id, status, amount, team, first_name, last_name, date_of_birth, country_residence,
			program_id, currency_unit_id, wallet_id, attachment_file_id, tax_form_file_id,
			is_sanctioned, sanction_reason, receiver_id, requester_id, expected_transfer_date, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, TRUE)
		RETURNING id, is_active, created_at, updated_at
	`,
		request.PublicID,
		string(request.Status),
		request.Amount,
		request.Team,
		request.FirstName,
		request.LastName,
		request.DateOfBirth,
		request.CountryResidence,
		request.ProgramID,
		request.CurrencyUnitID,
		request.WalletID,
		request.AttachmentFileID,
		request.TaxFormFileID,
		request.IsSanctioned,
		request.SanctionReason,
		request.ReceiverID,
		request.RequesterID,
		request.ExpectedTransferDate,
	).Scan(&request.ID, &request.IsActive, &request.CreatedAt, &request.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transfer request: %w", err)
	}
	return nil
}

// UpdateTransferRequest writes every mutable column. receiver_id and
// requester_id are never updated.
func (t *postgresTx) UpdateTransferRequest(ctx context.Context, request *domain.TransferRequest) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE transfer_requests
		SET status = $2,
			amount = $3,
			team = $4,
			first_name = $5,
			last_name = $6,
			date_of_birth = $7,
			country_residence = $8,
			program_id = $9,
			currency_unit_id = $10,
			wallet_id = $11,
			attachment_file_id = $12,
			tax_form_file_id = $13,
			is_sanctioned = $14,
			sanction_reason = $15,
			expected_transfer_date = $16,
			is_active = $17,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`,
		request.ID,
		string(request.Status),
		request.Amount,
		request.Team,
		request.FirstName,
		request.LastName,
		request.DateOfBirth,
		request.CountryResidence,
		request.ProgramID,
		request.CurrencyUnitID,
		request.WalletID,
		request.AttachmentFileID,
		request.TaxFormFileID,
		request.IsSanctioned,
		request.SanctionReason,
		request.ExpectedTransferDate,
		request.IsActive,
	).Scan(&request.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransferRequestNotFound
		}
		return fmt.Errorf("update transfer request %d: %w", request.ID, err)
	}
	return nil
}

func (t *postgresTx) GetProgram(ctx context.Context, programID int64) (*domain.Program, error) {
	return getProgram(ctx, t.tx, programID, "")
}

func (t *postgresTx) LockProgram(ctx context.Context, programID int64) (*domain.Program, error) {
	return getProgram(ctx, t.tx, programID, "FOR UPDATE")
}

func (t *postgresTx) ShareLockRequestProgram(ctx context.Context, publicID uuid.UUID) (*domain.Program, error) {
	var programID int64
	err := t.tx.QueryRow(ctx,
		`SELECT program_id FROM transfer_requests WHERE public_id = $1 AND is_active`, publicID,
	).Scan(&programID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferRequestNotFound
		}
		return nil, fmt.Errorf("load program of transfer request: %w", err)
	}
	return getProgram(ctx, t.tx, programID, "FOR SHARE")
}

func (t *postgresTx) IsProgramAccessible(ctx context.Context, programID int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM programs WHERE id = $1 AND is_active AND visibility = 'EXTERNAL')
	`, programID).Scan(&ok)
	return ok, err
}

func (t *postgresTx) ReplaceApproverGroups(ctx context.Context, programID int64, groups []domain.ApproverGroupInput) ([]int64, error) {
	current, err := loadApproverGroups(ctx, t.tx, programID)
	if err != nil {
		return nil, err
	}
	existing := make(map[int64]domain.ApproverGroup, len(current))
	for _, group := range current {
		existing[group.ID] = group
	}

	var changed []int64
	kept := make(map[int64]bool, len(groups))
	for position, group := range groups {
		groupID := group.ID
		if groupID == 0 {
			if err := t.tx.QueryRow(ctx, `
				INSERT INTO approver_groups (program_id, position) VALUES ($1, $2) RETURNING id
			`, programID, position).Scan(&groupID); err != nil {
				return nil, fmt.Errorf("insert approver group: %w", err)
			}
		} else {
			previous, ok := existing[groupID]
			if !ok {
				return nil, fmt.Errorf("approver group %d does not belong to program %d: %w", groupID, programID, ErrProgramNotFound)
			}
			if !sameMembers(previous.Members, group.Members) {
				changed = append(changed, groupID)
			}
			if _, err := t.tx.Exec(ctx, `UPDATE approver_groups SET position = $2 WHERE id = $1`, groupID, position); err != nil {
				return nil, fmt.Errorf("reorder approver group %d: %w", groupID, err)
			}
		}
		kept[groupID] = true

		if _, err := t.tx.Exec(ctx, `DELETE FROM approver_group_members WHERE group_id = $1`, groupID); err != nil {
			return nil, fmt.Errorf("clear approver group %d members: %w", groupID, err)
		}
		if len(group.Members) > 0 {
			if _, err := t.tx.Exec(ctx, `
				INSERT INTO approver_group_members (group_id, user_role_id)
				SELECT $1, member FROM unnest($2::bigint[]) AS member
				ON CONFLICT DO NOTHING
			`, groupID, group.Members); err != nil {
				return nil, fmt.Errorf("set approver group %d members: %w", groupID, err)
			}
		}
	}

	for _, group := range current {
		if kept[group.ID] {
			continue
		}
		if _, err := t.tx.Exec(ctx, `UPDATE approver_groups SET is_active = FALSE WHERE id = $1`, group.ID); err != nil {
			return nil, fmt.Errorf("deactivate approver group %d: %w", group.ID, err)
		}
		changed = append(changed, group.ID)
	}

	if _, err := t.tx.Exec(ctx, `UPDATE programs SET updated_at = NOW() WHERE id = $1`, programID); err != nil {
		return nil, err
	}
	return changed, nil
}

func (t *postgresTx) CountProgramTransferRequests(ctx context.Context, programID int64) (int64, error) {
	var count int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM transfer_requests WHERE program_id = $1`, programID).Scan(&count)
	return count, err
}

func (t *postgresTx) UpdateProgramCurrency(ctx context.Context, programID, requestCurrencyUnitID, paymentCurrencyUnitID int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE programs
		SET request_currency_unit_id = $2, payment_currency_unit_id = $3, updated_at = NOW()
		WHERE id = $1
	`, programID, requestCurrencyUnitID, paymentCurrencyUnitID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProgramNotFound
	}
	return nil
}

func (t *postgresTx) ListApprovals(ctx context.Context, requestID int64) ([]domain.Approval, error) {
	return listApprovals(ctx, t.tx, requestID)
}

func (t *postgresTx) InsertApproval(ctx context.Context, approval domain.Approval) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transfer_request_approvals (transfer_request_id, group_id, user_role_id)
		VALUES ($1, $2, $3)
	`, approval.TransferRequestID, approval.GroupID, approval.UserRoleID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateApproval
		}
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (t *postgresTx) DeleteApprovals(ctx context.Context, requestID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM transfer_request_approvals WHERE transfer_request_id = $1`, requestID)
	if err != nil {
		return 0, fmt.Errorf("delete approvals: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *postgresTx) DeleteApprovalsByUserRole(ctx context.Context, requestID, userRoleID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM transfer_request_approvals WHERE transfer_request_id = $1 AND user_role_id = $2
	`, requestID, userRoleID)
	if err != nil {
		return 0, fmt.Errorf("delete approver approvals: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *postgresTx) DeleteApprovalsForGroups(ctx context.Context, groupIDs []int64) ([]int64, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `
		WITH removed AS (
			DELETE FROM transfer_request_approvals
			WHERE group_id = ANY($1)
			RETURNING transfer_request_id
		)
		SELECT DISTINCT transfer_request_id FROM removed ORDER BY transfer_request_id
	`, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("delete group approvals: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *postgresTx) InsertReview(ctx context.Context, review domain.Review) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transfer_request_reviews (transfer_request_id, approver_role_id, status, notes, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
	`, review.TransferRequestID, review.ApproverRoleID, string(review.Status), review.Notes)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (t *postgresTx) DeactivateReviews(ctx context.Context, requestID int64, statuses []domain.ReviewStatus) (int64, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE transfer_request_reviews
		SET is_active = FALSE
		WHERE transfer_request_id = $1 AND is_active AND status = ANY($2::text[])
	`, requestID, values)
	if err != nil {
		return 0, fmt.Errorf("deactivate reviews: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *postgresTx) InsertHistory(ctx context.Context, entries []domain.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"transfer_request_history"},
		[]string{"transfer_request_id", "field", "old_value", "new_value", "user_role_id"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{e.TransferRequestID, e.Field, e.OldValue, e.NewValue, e.UserRoleID}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (t *postgresTx) HasProgramGrant(ctx context.Context, userRoleID, programID int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM user_role_programs urp
			JOIN user_roles ur ON ur.id = urp.user_role_id
			WHERE urp.user_role_id = $1 AND urp.program_id = $2 AND urp.is_active AND ur.is_active
		)
	`, userRoleID, programID).Scan(&ok)
	return ok, err
}

func (t *postgresTx) UserHasActiveRole(ctx context.Context, userID int64, role domain.Role) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2 AND is_active)
	`, userID, string(role)).Scan(&ok)
	return ok, err
}

func (t *postgresTx) RoleHolderIsApprover(ctx context.Context, userRoleID int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM user_roles holder
			JOIN user_roles ur ON ur.user_id = holder.user_id
			WHERE holder.id = $1 AND ur.role = 'APPROVER' AND ur.is_active
		)
	`, userRoleID).Scan(&ok)
	return ok, err
}

func (t *postgresTx) IsWalletOwnedBy(ctx context.Context, walletID, userID int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1 AND user_id = $2 AND is_active)
	`, walletID, userID).Scan(&ok)
	return ok, err
}

func (t *postgresTx) GetUserEmail(ctx context.Context, userID int64) (string, error) {
	var email string
	err := t.tx.QueryRow(ctx, `SELECT email FROM users WHERE id = $1 AND is_active`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return email, nil
}

func (t *postgresTx) ListProgramApproverEmails(ctx context.Context, programID int64) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT DISTINCT u.email
		FROM approver_groups g
		JOIN approver_group_members m ON m.group_id = g.id
		JOIN user_roles ur ON ur.id = m.user_role_id
		JOIN users u ON u.id = ur.user_id
		WHERE g.program_id = $1 AND g.is_active AND ur.is_active AND u.is_active
	`, programID)
	if err != nil {
		return nil, fmt.Errorf("list approver emails: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (t *postgresTx) EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	return enqueueEventTx(ctx, t.tx, exchange, routingKey, payload)
}

const transferRequestColumns = `
	tr.id, tr.public_id, tr.status, tr.amount, tr.team, tr.first_name, tr.last_name,
	tr.date_of_birth, tr.country_residence, tr.program_id, tr.currency_unit_id, tr.wallet_id,
	tr.attachment_file_id, tr.tax_form_file_id, tr.is_sanctioned, tr.sanction_reason,
	tr.receiver_id, tr.requester_id, tr.expected_transfer_date, tr.is_active,
	tr.created_at, tr.updated_at`

func scanTransferRequest(row pgx.Row) (*domain.TransferRequest, error) {
	var (
		tr     domain.TransferRequest
		status string
	)
	err := row.Scan(
		&tr.ID,
		&tr.PublicID,
		&status,
		&tr.Amount,
		&tr.Team,
		&tr.FirstName,
		&tr.LastName,
		&tr.DateOfBirth,
		&tr.CountryResidence,
		&tr.ProgramID,
		&tr.CurrencyUnitID,
		&tr.WalletID,
		&tr.AttachmentFileID,
		&tr.TaxFormFileID,
		&tr.IsSanctioned,
		&tr.SanctionReason,
		&tr.ReceiverID,
		&tr.RequesterID,
		&tr.ExpectedTransferDate,
		&tr.IsActive,
		&tr.CreatedAt,
		&tr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferRequestNotFound
		}
		return nil, err
	}
	parsed, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	tr.Status = parsed
	return &tr, nil
}

func collectTransferRequests(rows pgx.Rows) ([]domain.TransferRequest, error) {
	defer rows.Close()

	var out []domain.TransferRequest
	for rows.Next() {
		tr, err := scanTransferRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}

// getProgram loads a program and its groups. lock is appended to the program
// row select, e.g. "FOR UPDATE".
func getProgram(ctx context.Context, q querier, programID int64, lock string) (*domain.Program, error) {
	query := `
		SELECT id, name, delivery_method, visibility, request_currency_unit_id, payment_currency_unit_id, is_active
		FROM programs
		WHERE id = $1
	` + lock

	var (
		program    domain.Program
		visibility string
	)
	err := q.QueryRow(ctx, query, programID).Scan(
		&program.ID,
		&program.Name,
		&program.DeliveryMethod,
		&visibility,
		&program.RequestCurrencyUnitID,
		&program.PaymentCurrencyUnitID,
		&program.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProgramNotFound
		}
		return nil, err
	}
	program.Visibility = domain.ProgramVisibility(visibility)

	groups, err := loadApproverGroups(ctx, q, programID)
	if err != nil {
		return nil, err
	}
	program.ApproverGroups = groups
	return &program, nil
}

func loadApproverGroups(ctx context.Context, q querier, programID int64) ([]domain.ApproverGroup, error) {
	rows, err := q.Query(ctx, `
		SELECT g.id, g.program_id, g.position,
			COALESCE(array_agg(m.user_role_id ORDER BY m.user_role_id) FILTER (WHERE m.user_role_id IS NOT NULL), '{}')
		FROM approver_groups g
		LEFT JOIN approver_group_members m ON m.group_id = g.id
		WHERE g.program_id = $1 AND g.is_active
		GROUP BY g.id
		ORDER BY g.position, g.id
	`, programID)
	if err != nil {
		return nil, fmt.Errorf("load approver groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.ApproverGroup
	for rows.Next() {
		var g domain.ApproverGroup
		if err := rows.Scan(&g.ID, &g.ProgramID, &g.Position, &g.Members); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func listApprovals(ctx context.Context, q querier, requestID int64) ([]domain.Approval, error) {
	rows, err := q.Query(ctx, `
		SELECT id, transfer_request_id, group_id, user_role_id, created_at
		FROM transfer_request_approvals
		WHERE transfer_request_id = $1
		ORDER BY id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []domain.Approval
	for rows.Next() {
		var a domain.Approval
		if err := rows.Scan(&a.ID, &a.TransferRequestID, &a.GroupID, &a.UserRoleID, &a.CreatedAt); err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func sameMembers(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[int64]int, len(a))
	for _, v := range a {
		set[v]++
	}
	for _, v := range b {
		if set[v] == 0 {
			return false
		}
		set[v]--
	}
	return true
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
