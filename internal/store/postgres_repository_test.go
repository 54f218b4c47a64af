package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type seed struct {
	programID   int64
	groupA      int64
	groupB      int64
	receiverID  int64
	requesterID int64
	u1, u2, u3  int64
	walletID    int64
	requestID   int64
	publicID    uuid.UUID
}

func newTestRepository(t *testing.T) (*PostgresRepository, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)

		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("filpass"),
			postgres.WithUsername("filpass"),
			postgres.WithPassword("filpass"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `
		TRUNCATE event_outbox, transfer_request_history, transfer_request_reviews,
			transfer_request_approvals, transfer_requests, wallets, approver_group_members,
			approver_groups, user_role_programs, programs, user_roles, users
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)

	repo := NewPostgresRepository(pool)
	repo.ConfigureTxLimits(2*time.Second, 5*time.Second)
	return repo, pool
}

func seedProgram(t *testing.T, pool *pgxpool.Pool) seed {
	t.Helper()
	ctx := context.Background()
	var s seed

	newRole := func(email, role string) (userID, roleID int64) {
		require.NoError(t, pool.QueryRow(ctx, `INSERT INTO users (email) VALUES ($1) RETURNING id`, email).Scan(&userID))
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) RETURNING id`, userID, role).Scan(&roleID))
		return userID, roleID
	}

	s.receiverID, s.requesterID = newRole("enc-receiver", "USER")
	_, s.u1 = newRole("enc-u1", "APPROVER")
	_, s.u2 = newRole("enc-u2", "APPROVER")
	_, s.u3 = newRole("enc-u3", "APPROVER")

	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO programs (name, delivery_method, visibility, request_currency_unit_id, payment_currency_unit_id)
		VALUES ('Grants', 'ONE_TIME', 'EXTERNAL', 1, 2) RETURNING id
	`).Scan(&s.programID))

	for _, approver := range []int64{s.u1, s.u2, s.u3} {
		_, err := pool.Exec(ctx, `INSERT INTO user_role_programs (user_role_id, program_id) VALUES ($1, $2)`, approver, s.programID)
		require.NoError(t, err)
	}

	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO approver_groups (program_id, position) VALUES ($1, 0) RETURNING id`, s.programID).Scan(&s.groupA))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO approver_groups (program_id, position) VALUES ($1, 1) RETURNING id`, s.programID).Scan(&s.groupB))
	_, err := pool.Exec(ctx, `
		INSERT INTO approver_group_members (group_id, user_role_id) VALUES ($1, $2), ($1, $3), ($4, $5)
	`, s.groupA, s.u1, s.u2, s.groupB, s.u3)
	require.NoError(t, err)

	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO wallets (user_id, address) VALUES ($1, 'f1abc') RETURNING id`, s.receiverID).Scan(&s.walletID))

	request := &domain.TransferRequest{
		Status:           domain.StatusSubmitted,
		Amount:           "enc-amount",
		Team:             "enc-team",
		FirstName:        "enc-first",
		LastName:         "enc-last",
		DateOfBirth:      "enc-dob",
		CountryResidence: "enc-country",
		ProgramID:        s.programID,
		CurrencyUnitID:   1,
		WalletID:         s.walletID,
		ReceiverID:       s.receiverID,
		RequesterID:      s.requesterID,
	}
	repo := NewPostgresRepository(pool)
	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertTransferRequest(ctx, request)
	}))
	s.requestID = request.ID
	s.publicID = request.PublicID
	return s
}

func TestPostgresRepository_ProgramLoadsGroupsWithMembers(t *testing.T) {
	repo, pool := newTestRepository(t)
	s := seedProgram(t, pool)

	program, err := repo.GetProgram(context.Background(), s.programID)
	require.NoError(t, err)
	require.Len(t, program.ApproverGroups, 2)
	assert.Equal(t, domain.VisibilityExternal, program.Visibility)
	assert.ElementsMatch(t, []int64{s.u1, s.u2}, program.ApproverGroups[0].Members)
	assert.Equal(t, []int64{s.u3}, program.ApproverGroups[1].Members)

	_, err = repo.GetProgram(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrProgramNotFound)
}

func TestPostgresRepository_DuplicateGroupApprovalIsRejected(t *testing.T) {
	repo, pool := newTestRepository(t)
	s := seedProgram(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockTransferRequest(ctx, s.publicID); err != nil {
			return err
		}
		return tx.InsertApproval(ctx, domain.Approval{TransferRequestID: s.requestID, GroupID: s.groupA, UserRoleID: s.u1})
	}))

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertApproval(ctx, domain.Approval{TransferRequestID: s.requestID, GroupID: s.groupA, UserRoleID: s.u2})
	})
	assert.ErrorIs(t, err, ErrDuplicateApproval)

	approvals, err := repo.ListApprovals(ctx, s.requestID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, s.u1, approvals[0].UserRoleID)
}

func TestPostgresRepository_RunInTxRollsBackOnError(t *testing.T) {
	repo, pool := newTestRepository(t)
	s := seedProgram(t, pool)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		request, err := tx.LockTransferRequest(ctx, s.publicID)
		if err != nil {
			return err
		}
		request.Status = domain.StatusProcessing
		if err := tx.UpdateTransferRequest(ctx, request); err != nil {
			return err
		}
		if err := tx.InsertApproval(ctx, domain.Approval{TransferRequestID: s.requestID, GroupID: s.groupA, UserRoleID: s.u1}); err != nil {
			return err
		}
		if err := tx.InsertHistory(ctx, []domain.HistoryEntry{{
			TransferRequestID: s.requestID, Field: "status", UserRoleID: s.u1,
		}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	request, err := repo.GetTransferRequestByPublicID(ctx, s.publicID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, request.Status)

	approvals, err := repo.ListApprovals(ctx, s.requestID)
	require.NoError(t, err)
	assert.Empty(t, approvals)

	history, err := repo.ListHistory(ctx, s.requestID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPostgresRepository_FindReviewCandidatesHonoursGrantAndStatus(t *testing.T) {
	repo, pool := newTestRepository(t)
	s := seedProgram(t, pool)
	ctx := context.Background()

	found, err := repo.FindReviewCandidates(ctx, []uuid.UUID{s.publicID, uuid.New()}, s.u1, domain.AwaitingConsensusStatuses)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, s.publicID, found[0].PublicID)

	_, err = pool.Exec(ctx, `UPDATE user_role_programs SET is_active = FALSE WHERE user_role_id = $1`, s.u1)
	require.NoError(t, err)
	found, err = repo.FindReviewCandidates(ctx, []uuid.UUID{s.publicID}, s.u1, domain.AwaitingConsensusStatuses)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = repo.FindReviewCandidates(ctx, []uuid.UUID{s.publicID}, s.u2, []domain.Status{domain.StatusApproved})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestPostgresRepository_ReplaceApproverGroupsReportsChangedGroups(t *testing.T) {
	repo, pool := newTestRepository(t)
	s := seedProgram(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertApproval(ctx, domain.Approval{TransferRequestID: s.requestID, GroupID: s.groupA, UserRoleID: s.u1}); err != nil {
			return err
		}
		return tx.InsertApproval(ctx, domain.Approval{TransferRequestID: s.requestID, GroupID: s.groupB, UserRoleID: s.u3})
	}))

	var (
		changed  []int64
		affected []int64
	)
	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		changed, err = tx.ReplaceApproverGroups(ctx, s.programID, []domain.ApproverGroupInput{
			{ID: s.groupA, Members: []int64{s.u2, s.u1}},
			{ID: s.groupB, Members: nil},
		})
		if err != nil {
			return err
		}
		affected, err = tx.DeleteApprovalsForGroups(ctx, changed)
		return err
	}))
	assert.Equal(t, []int64{s.groupB}, changed)
	assert.Equal(t, []int64{s.requestID}, affected)

	approvals, err := repo.ListApprovals(ctx, s.requestID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, s.groupA, approvals[0].GroupID)

	program, err := repo.GetProgram(ctx, s.programID)
	require.NoError(t, err)
	require.Len(t, program.ApproverGroups, 2)
	assert.Empty(t, program.ApproverGroups[1].Members)
}

func TestPostgresRepository_OutboxLifecycle(t *testing.T) {
	repo, pool := newTestRepository(t)
	s := seedProgram(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.EnqueueEvent(ctx, "disbursement.events", "notification.transfer_request.approved", domain.NotificationMessage{
			Event:             domain.NotifyApproved,
			TransferRequestID: s.publicID,
			Recipients:        []string{"receiver@example.com"},
		})
	}))

	pending, err := repo.CountPendingOutbox(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)

	claimed, err := repo.ClaimOutboxMessages(ctx, 10, 60)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempts)
	assert.Equal(t, "notification.transfer_request.approved", claimed[0].RoutingKey)

	again, err := repo.ClaimOutboxMessages(ctx, 10, 60)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed rows are not handed out twice")

	require.NoError(t, repo.MarkOutboxFailed(ctx, claimed[0].ID, 1, "broker down"))
	require.NoError(t, repo.MarkOutboxPublished(ctx, claimed[0].ID))

	pending, err = repo.CountPendingOutbox(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	_, err = pool.Exec(ctx, `UPDATE event_outbox SET published_at = NOW() - INTERVAL '2 days'`)
	require.NoError(t, err)
	purged, err := repo.PurgePublishedOutbox(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
}

func TestPostgresRepository_RunInTxTimesOut(t *testing.T) {
	repo, pool := newTestRepository(t)
	s := seedProgram(t, pool)
	ctx := context.Background()
	repo.ConfigureTxLimits(2*time.Second, 300*time.Millisecond)

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertApproval(ctx, domain.Approval{TransferRequestID: s.requestID, GroupID: s.groupA, UserRoleID: s.u1}); err != nil {
			return err
		}
		_, err := tx.(*postgresTx).tx.Exec(ctx, `SELECT pg_sleep(2)`)
		return err
	})
	require.ErrorIs(t, err, ErrTxTimeout)

	approvals, err := repo.ListApprovals(ctx, s.requestID)
	require.NoError(t, err)
	assert.Empty(t, approvals)
}

func TestPostgresRepository_RunInTxBoundsConnectionWait(t *testing.T) {
	_, pool := newTestRepository(t)
	s := seedProgram(t, pool)
	ctx := context.Background()

	cfg := pool.Config()
	cfg.MaxConns = 1
	cfg.MinConns = 0
	single, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(single.Close)

	held, err := single.Acquire(ctx)
	require.NoError(t, err)
	defer held.Release()

	repo := NewPostgresRepository(single)
	repo.ConfigureTxLimits(200*time.Millisecond, 5*time.Second)

	called := false
	start := time.Now()
	err = repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		called = true
		return tx.InsertApproval(ctx, domain.Approval{TransferRequestID: s.requestID, GroupID: s.groupA, UserRoleID: s.u1})
	})
	require.ErrorIs(t, err, ErrTxTimeout)
	assert.False(t, called)
	assert.Less(t, time.Since(start), 2*time.Second)

	approvals, err := NewPostgresRepository(pool).ListApprovals(ctx, s.requestID)
	require.NoError(t, err)
	assert.Empty(t, approvals)
}

func TestPostgresRepository_ShareLockedProgramHoldsGroupEdits(t *testing.T) {
	repo, pool := newTestRepository(t)
	s := seedProgram(t, pool)
	ctx := context.Background()

	locked := make(chan struct{})
	reviewDone := make(chan error, 1)
	go func() {
		reviewDone <- repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			program, err := tx.ShareLockRequestProgram(ctx, s.publicID)
			if err != nil {
				return err
			}
			if program.ID != s.programID {
				return errors.New("share-locked the wrong program")
			}
			if _, err := tx.LockTransferRequest(ctx, s.publicID); err != nil {
				return err
			}
			if err := tx.InsertApproval(ctx, domain.Approval{TransferRequestID: s.requestID, GroupID: s.groupB, UserRoleID: s.u3}); err != nil {
				return err
			}
			close(locked)
			time.Sleep(300 * time.Millisecond)
			return nil
		})
	}()
	select {
	case <-locked:
	case err := <-reviewDone:
		t.Fatalf("review transaction ended before locking: %v", err)
	}

	var affected []int64
	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockProgram(ctx, s.programID); err != nil {
			return err
		}
		changed, err := tx.ReplaceApproverGroups(ctx, s.programID, []domain.ApproverGroupInput{
			{ID: s.groupA, Members: []int64{s.u1, s.u2}},
			{ID: s.groupB, Members: []int64{s.u2}},
		})
		if err != nil {
			return err
		}
		affected, err = tx.DeleteApprovalsForGroups(ctx, changed)
		return err
	}))
	require.NoError(t, <-reviewDone)

	assert.Equal(t, []int64{s.requestID}, affected)
	approvals, err := repo.ListApprovals(ctx, s.requestID)
	require.NoError(t, err)
	assert.Empty(t, approvals)
}
