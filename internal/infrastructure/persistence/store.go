package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/repository"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

var (
	_ repository.Store                   = (*Store)(nil)
	_ repository.SellerDirectory         = (*Store)(nil)
	_ repository.CommissionRepository    = (*Store)(nil)
	_ repository.PayoutAttemptRepository = (*Store)(nil)
)

const (
	queryLockWallet = `SELECT ` + walletColumns + ` FROM wallet_balances
		WHERE holder_id = $1 AND seller_id = $2 FOR UPDATE`
	queryFindWallet = `SELECT ` + walletColumns + ` FROM wallet_balances
		WHERE holder_id = $1 AND seller_id = $2`
	queryInsertWallet = `INSERT INTO wallet_balances (holder_id, seller_id, balance_units, reserved_units, created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $3) ON CONFLICT (holder_id, seller_id) DO NOTHING`
	queryUpdateWallet = `UPDATE wallet_balances SET balance_units = $3, reserved_units = $4, updated_at = $5
		WHERE holder_id = $1 AND seller_id = $2`

	queryLockSession = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	queryFindSession = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	queryInsertSession = `INSERT INTO sessions (id, buyer_id, seller_id, community_id, units, price_per_unit_cents,
		platform_fee_bps, community_fee_bps, topic, status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	// Обновляются только изменяемые поля, условие по статусу работает как compare-and-swap.
	queryUpdateSession = `UPDATE sessions SET status = $2, updated_at = $3, delivered_at = $4, confirmed_at = $5,
		cancelled_at = $6, cancelled_by = $7, cancellation_reason = $8, rated_at = $9, paid_out_at = $10
		WHERE id = $1 AND status = $11`

	queryInsertPurchase = `INSERT INTO wallet_purchases (id, holder_id, seller_id, community_id, units,
		price_per_unit_cents, platform_fee_bps, community_fee_bps, external_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	queryInsertPayout = `INSERT INTO payouts (` + payoutColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	queryFindPayout = `SELECT ` + payoutColumns + ` FROM payouts WHERE session_id = $1`

	// Сессии с отложенной попыткой пропускаются, пока не наступит next_attempt_at.
	queryPayoutCandidates = `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = ANY($1) AND NOT EXISTS (
			SELECT 1 FROM payout_attempts a WHERE a.session_id = sessions.id AND a.next_attempt_at > $2)
		ORDER BY updated_at ASC
		LIMIT $3`
	queryFindPayoutAttempt = `SELECT ` + payoutAttemptColumns + ` FROM payout_attempts WHERE session_id = $1`
	queryUpsertPayoutAttempt = `INSERT INTO payout_attempts (` + payoutAttemptColumns + `)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET attempts = EXCLUDED.attempts, last_error = EXCLUDED.last_error,
		    next_attempt_at = EXCLUDED.next_attempt_at, updated_at = EXCLUDED.updated_at`

	queryFindSeller = `SELECT user_id, is_active, min_notice_hours, price_per_unit_cents, community_id
		FROM seller_profiles WHERE user_id = $1`

	queryFindOverride = `SELECT scope, scope_id, platform_fee_bps, community_fee_bps, updated_at
		FROM commission_overrides WHERE scope = $1 AND scope_id = $2`
	queryUpsertOverride = `INSERT INTO commission_overrides (scope, scope_id, platform_fee_bps, community_fee_bps, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope, scope_id) DO UPDATE
		SET platform_fee_bps = EXCLUDED.platform_fee_bps, community_fee_bps = EXCLUDED.community_fee_bps,
		    updated_at = EXCLUDED.updated_at`
	queryDeleteOverride = `DELETE FROM commission_overrides WHERE scope = $1 AND scope_id = $2`

	queryListCommunitySellerOverrides = `SELECT o.scope, o.scope_id, o.platform_fee_bps, o.community_fee_bps, o.updated_at
		FROM commission_overrides o
		JOIN seller_profiles p ON p.user_id = o.scope_id
		WHERE o.scope = 'seller' AND p.community_id = $1`
)

// Store: хранилище сессий, балансов и комиссий в PostgreSQL.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// WithinTx выполняет fn в транзакции. При ошибке fn или панике транзакция откатывается целиком.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err, "не удалось начать транзакцию")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeTransient, "не удалось зафиксировать транзакцию")
	}
	return nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockWallet(ctx context.Context, holderID, sellerID uuid.UUID) (*entity.WalletBalance, error) {
	var row walletRow
	if err := t.tx.GetContext(ctx, &row, queryLockWallet, holderID, sellerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrWalletNotFound
		}
		return nil, mapError(err, "не удалось заблокировать баланс")
	}
	return row.toEntity(), nil
}

func (t *pgTx) LockOrCreateWallet(ctx context.Context, holderID, sellerID uuid.UUID, now time.Time) (*entity.WalletBalance, error) {
	if _, err := t.tx.ExecContext(ctx, queryInsertWallet, holderID, sellerID, now); err != nil {
		return nil, mapError(err, "не удалось создать баланс")
	}
	return t.LockWallet(ctx, holderID, sellerID)
}

func (t *pgTx) SaveWallet(ctx context.Context, w *entity.WalletBalance) error {
	res, err := t.tx.ExecContext(ctx, queryUpdateWallet,
		w.HolderID, w.SellerID, int(w.BalanceUnits), int(w.ReservedUnits), w.UpdatedAt)
	if err != nil {
		return mapError(err, "не удалось сохранить баланс")
	}
	return expectOneRow(res, apperror.ErrWalletNotFound)
}

func (t *pgTx) LockSession(ctx context.Context, id uuid.UUID) (*entity.Session, error) {
	var row sessionRow
	if err := t.tx.GetContext(ctx, &row, queryLockSession, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrSessionNotFound
		}
		return nil, mapError(err, "не удалось заблокировать сессию")
	}
	return row.toEntity(), nil
}

func (t *pgTx) CreateSession(ctx context.Context, s *entity.Session) error {
	_, err := t.tx.ExecContext(ctx, queryInsertSession,
		s.ID, s.BuyerID, s.SellerID, toNullUUID(s.CommunityID),
		int(s.Units), int64(s.PricePerUnitCents),
		int(s.PlatformFeeBps), int(s.CommunityFeeBps),
		s.Topic, string(s.Status), s.ScheduledAt, s.CreatedAt, s.UpdatedAt,
	)
	return mapError(err, "не удалось создать сессию")
}

func (t *pgTx) UpdateSession(ctx context.Context, s *entity.Session, expected valueobject.SessionStatus) error {
	res, err := t.tx.ExecContext(ctx, queryUpdateSession,
		s.ID, string(s.Status), s.UpdatedAt,
		s.DeliveredAt, s.ConfirmedAt, s.CancelledAt,
		cancelledByValue(s.CancelledBy), s.CancellationReason,
		s.RatedAt, s.PaidOutAt,
		string(expected),
	)
	if err != nil {
		return mapError(err, "не удалось обновить сессию")
	}
	return expectOneRow(res, apperror.Newf(apperror.ErrCodeInvalidStateTransition,
		"статус сессии %s изменился, ожидался %s", s.ID, expected))
}

func (t *pgTx) CreatePurchase(ctx context.Context, p *entity.Purchase) error {
	_, err := t.tx.ExecContext(ctx, queryInsertPurchase,
		p.ID, p.HolderID, p.SellerID, toNullUUID(p.CommunityID),
		int(p.Units), int64(p.PricePerUnitCents),
		int(p.PlatformFeeBps), int(p.CommunityFeeBps),
		p.ExternalRef, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return apperror.Wrap(err, apperror.ErrCodeValidation, "покупка с этим внешним идентификатором уже учтена")
	}
	return mapError(err, "не удалось сохранить покупку")
}

func (t *pgTx) CreatePayout(ctx context.Context, p *entity.Payout) error {
	_, err := t.tx.ExecContext(ctx, queryInsertPayout,
		p.ID, p.SessionID, p.SellerID,
		int64(p.GrossCents), int64(p.PlatformFeeCents), int64(p.CommunityFeeCents), int64(p.NetCents),
		int(p.PlatformFeeBps), int(p.CommunityFeeBps),
		p.ExternalRef, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return apperror.Wrap(err, apperror.ErrCodeInvalidStateTransition, "выплата по сессии уже создана")
	}
	return mapError(err, "не удалось сохранить выплату")
}

func (s *Store) FindSession(ctx context.Context, id uuid.UUID) (*entity.Session, error) {
	var row sessionRow
	if err := s.db.GetContext(ctx, &row, queryFindSession, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrSessionNotFound
		}
		return nil, mapError(err, "не удалось получить сессию")
	}
	return row.toEntity(), nil
}

func (s *Store) ListSessionsByParticipant(ctx context.Context, userID uuid.UUID, filter repository.SessionFilter) ([]*entity.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE (buyer_id = $1 OR seller_id = $1)
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	return s.selectSessions(ctx, query, userID, statusArray(filter.Statuses), limitOf(filter), filter.Offset)
}

func (s *Store) ListPayoutCandidates(ctx context.Context, now time.Time, limit int) ([]*entity.Session, error) {
	payable := []valueobject.SessionStatus{valueobject.SessionStatusCompleted, valueobject.SessionStatusRated}
	return s.selectSessions(ctx, queryPayoutCandidates, statusArray(payable), now,
		limitOf(repository.SessionFilter{Limit: limit}))
}

func (s *Store) FindPayoutAttempt(ctx context.Context, sessionID uuid.UUID) (*entity.PayoutAttempt, error) {
	var row payoutAttemptRow
	if err := s.db.GetContext(ctx, &row, queryFindPayoutAttempt, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err, "не удалось получить попытки выплаты")
	}
	return row.toEntity(), nil
}

func (s *Store) SavePayoutAttempt(ctx context.Context, a *entity.PayoutAttempt) error {
	_, err := s.db.ExecContext(ctx, queryUpsertPayoutAttempt,
		a.SessionID, a.Attempts, a.LastError, a.NextAttemptAt, a.UpdatedAt)
	return mapError(err, "не удалось сохранить попытку выплаты")
}

func (s *Store) selectSessions(ctx context.Context, query string, args ...any) ([]*entity.Session, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err, "не удалось получить список сессий")
	}
	out := make([]*entity.Session, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

func (s *Store) FindPayoutBySession(ctx context.Context, sessionID uuid.UUID) (*entity.Payout, error) {
	var row payoutRow
	if err := s.db.GetContext(ctx, &row, queryFindPayout, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.New(apperror.ErrCodeNotFound, "выплата не найдена")
		}
		return nil, mapError(err, "не удалось получить выплату")
	}
	return row.toEntity(), nil
}

func (s *Store) FindWallet(ctx context.Context, holderID, sellerID uuid.UUID) (*entity.WalletBalance, error) {
	var row walletRow
	if err := s.db.GetContext(ctx, &row, queryFindWallet, holderID, sellerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrWalletNotFound
		}
		return nil, mapError(err, "не удалось получить баланс")
	}
	return row.toEntity(), nil
}

func (s *Store) ListWalletsByHolder(ctx context.Context, holderID uuid.UUID) ([]*entity.WalletBalance, error) {
	return s.selectWallets(ctx, `SELECT `+walletColumns+` FROM wallet_balances WHERE holder_id = $1 ORDER BY created_at`, holderID)
}

func (s *Store) ListWalletsBySeller(ctx context.Context, sellerID uuid.UUID) ([]*entity.WalletBalance, error) {
	return s.selectWallets(ctx, `SELECT `+walletColumns+` FROM wallet_balances WHERE seller_id = $1 ORDER BY created_at`, sellerID)
}

func (s *Store) selectWallets(ctx context.Context, query string, id uuid.UUID) ([]*entity.WalletBalance, error) {
	var rows []walletRow
	if err := s.db.SelectContext(ctx, &rows, query, id); err != nil {
		return nil, mapError(err, "не удалось получить балансы")
	}
	out := make([]*entity.WalletBalance, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

func (s *Store) FindSeller(ctx context.Context, sellerID uuid.UUID) (*entity.SellerProfile, error) {
	var row sellerRow
	if err := s.db.GetContext(ctx, &row, queryFindSeller, sellerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrSellerNotFound
		}
		return nil, mapError(err, "не удалось получить профиль продавца")
	}
	return row.toEntity(), nil
}

func (s *Store) FindOverride(ctx context.Context, scope entity.OverrideScope, scopeID uuid.UUID) (*entity.CommissionOverride, error) {
	var row overrideRow
	if err := s.db.GetContext(ctx, &row, queryFindOverride, string(scope), scopeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err, "не удалось получить переопределение комиссии")
	}
	return row.toEntity(), nil
}

func (s *Store) SaveOverride(ctx context.Context, o *entity.CommissionOverride) error {
	_, err := s.db.ExecContext(ctx, queryUpsertOverride,
		string(o.Scope), o.ScopeID, toNullInt(o.PlatformFeeBps), toNullInt(o.CommunityFeeBps), o.UpdatedAt)
	return mapError(err, "не удалось сохранить переопределение комиссии")
}

func (s *Store) DeleteOverride(ctx context.Context, scope entity.OverrideScope, scopeID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, queryDeleteOverride, string(scope), scopeID)
	return mapError(err, "не удалось удалить переопределение комиссии")
}

func (s *Store) ListSellerOverridesByCommunity(ctx context.Context, communityID uuid.UUID) ([]*entity.CommissionOverride, error) {
	var rows []overrideRow
	if err := s.db.SelectContext(ctx, &rows, queryListCommunitySellerOverrides, communityID); err != nil {
		return nil, mapError(err, "не удалось получить переопределения продавцов сообщества")
	}
	out := make([]*entity.CommissionOverride, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

func expectOneRow(res sql.Result, notMatched error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, "не удалось проверить результат обновления")
	}
	if n == 0 {
		return notMatched
	}
	return nil
}

func statusArray(statuses []valueobject.SessionStatus) pq.StringArray {
	out := make(pq.StringArray, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func limitOf(filter repository.SessionFilter) int {
	if filter.Limit <= 0 || filter.Limit > 200 {
		return 200
	}
	return filter.Limit
}
