package persistence

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/repository"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "postgres")), mock
}

func walletRows(holder, seller uuid.UUID, balance, reserved int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"holder_id", "seller_id", "balance_units", "reserved_units", "created_at", "updated_at"}).
		AddRow(holder.String(), seller.String(), balance, reserved, now, now)
}

func TestStore_WithinTx_ReserveCommits(t *testing.T) {
	store, mock := newMockStore(t)
	holder, seller := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryLockWallet)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(walletRows(holder, seller, 4, 0))
	mock.ExpectExec(regexp.QuoteMeta(queryUpdateWallet)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 4, 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.LockWallet(ctx, holder, seller)
		if err != nil {
			return err
		}
		if err := w.Reserve(2, time.Now()); err != nil {
			return err
		}
		return tx.SaveWallet(ctx, w)
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinTx_RollsBackOnBusinessError(t *testing.T) {
	store, mock := newMockStore(t)
	holder, seller := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryLockWallet)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(walletRows(holder, seller, 1, 0))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.LockWallet(ctx, holder, seller)
		if err != nil {
			return err
		}
		return w.Reserve(2, time.Now())
	})

	assert.True(t, apperror.IsInsufficientBalance(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LockWallet_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryLockWallet)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.LockWallet(ctx, uuid.New(), uuid.New())
		return err
	})

	assert.True(t, apperror.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SerializationFailureIsTransient(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(queryLockSession)).
		WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.LockSession(ctx, uuid.New())
		return err
	})

	assert.True(t, apperror.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateSession_StatusChangedConcurrently(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	session := &entity.Session{ID: uuid.New(), Status: valueobject.SessionStatusCancelled, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryUpdateSession)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.UpdateSession(ctx, session, valueobject.SessionStatusAccepted)
	})

	assert.True(t, apperror.IsInvalidStateTransition(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreatePayout_DuplicateSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryInsertPayout)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.CreatePayout(ctx, &entity.Payout{ID: uuid.New(), SessionID: uuid.New(), CreatedAt: time.Now()})
	})

	assert.True(t, apperror.IsInvalidStateTransition(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitFailureIsTransient(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(sql.ErrConnDone)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return nil
	})

	assert.True(t, apperror.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindSession_MapsNullableColumns(t *testing.T) {
	store, mock := newMockStore(t)
	id, buyer, seller, community := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "buyer_id", "seller_id", "community_id", "units", "price_per_unit_cents",
		"platform_fee_bps", "community_fee_bps", "topic", "status", "scheduled_at", "created_at", "updated_at",
		"delivered_at", "confirmed_at", "cancelled_at", "cancelled_by", "cancellation_reason", "rated_at", "paid_out_at",
	}).AddRow(
		id.String(), buyer.String(), seller.String(), community.String(), 2, int64(2500),
		300, 1000, "go code review", "DECLINED", now, now, now,
		nil, nil, now, "seller", "schedule conflict", nil, nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta(queryFindSession)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	s, err := store.FindSession(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, valueobject.SessionStatusDeclined, s.Status)
	assert.Equal(t, valueobject.Units(2), s.Units)
	assert.Equal(t, valueobject.Bps(300), s.PlatformFeeBps)
	require.NotNil(t, s.CommunityID)
	assert.Equal(t, community, *s.CommunityID)
	require.NotNil(t, s.CancelledBy)
	assert.Equal(t, entity.CancelledBySeller, *s.CancelledBy)
	assert.Equal(t, "schedule conflict", *s.CancellationReason)
	assert.Nil(t, s.ConfirmedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindOverride_Missing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(queryFindOverride)).
		WithArgs("seller", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	o, err := store.FindOverride(context.Background(), entity.OverrideScopeSeller, uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, o)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindOverride_PartialColumns(t *testing.T) {
	store, mock := newMockStore(t)
	communityID := uuid.New()

	rows := sqlmock.NewRows([]string{"scope", "scope_id", "platform_fee_bps", "community_fee_bps", "updated_at"}).
		AddRow("community", communityID.String(), 300, nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(queryFindOverride)).
		WithArgs("community", sqlmock.AnyArg()).
		WillReturnRows(rows)

	o, err := store.FindOverride(context.Background(), entity.OverrideScopeCommunity, communityID)
	require.NoError(t, err)
	require.NotNil(t, o.PlatformFeeBps)
	assert.Equal(t, valueobject.Bps(300), *o.PlatformFeeBps)
	assert.Nil(t, o.CommunityFeeBps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListSellerOverridesByCommunity(t *testing.T) {
	store, mock := newMockStore(t)
	communityID, sellerID := uuid.New(), uuid.New()

	rows := sqlmock.NewRows([]string{"scope", "scope_id", "platform_fee_bps", "community_fee_bps", "updated_at"}).
		AddRow("seller", sellerID.String(), nil, 2000, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(queryListCommunitySellerOverrides)).
		WithArgs(communityID).
		WillReturnRows(rows)

	overrides, err := store.ListSellerOverridesByCommunity(context.Background(), communityID)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, sellerID, overrides[0].ScopeID)
	require.NotNil(t, overrides[0].CommunityFeeBps)
	assert.Equal(t, valueobject.Bps(2000), *overrides[0].CommunityFeeBps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListPayoutCandidates_SkipsDeferred(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryPayoutCandidates)).
		WithArgs(sqlmock.AnyArg(), now, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	sessions, err := store.ListPayoutCandidates(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PayoutAttempts(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	sessionID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(queryFindPayoutAttempt)).
		WithArgs(sessionID).
		WillReturnError(sql.ErrNoRows)
	a, err := store.FindPayoutAttempt(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, a)

	attempt := &entity.PayoutAttempt{SessionID: sessionID, Attempts: 2, LastError: "no payout method", NextAttemptAt: now.Add(time.Minute), UpdatedAt: now}
	mock.ExpectExec(regexp.QuoteMeta(queryUpsertPayoutAttempt)).
		WithArgs(sessionID, 2, "no payout method", attempt.NextAttemptAt, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.SavePayoutAttempt(ctx, attempt))

	mock.ExpectQuery(regexp.QuoteMeta(queryFindPayoutAttempt)).
		WithArgs(sessionID).
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "attempts", "last_error", "next_attempt_at", "updated_at"}).
			AddRow(sessionID.String(), 2, "no payout method", attempt.NextAttemptAt, now))
	a, err = store.FindPayoutAttempt(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 2, a.Attempts)
	assert.Equal(t, "no payout method", a.LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
