// Package memory: хранилище в памяти с сериализованными транзакциями.
// Используется при STORAGE_DRIVER=memory и в тестах.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/repository"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

var (
	_ repository.Store                   = (*Store)(nil)
	_ repository.SellerDirectory         = (*Store)(nil)
	_ repository.PayoutAttemptRepository = (*Store)(nil)
	_ repository.CommissionRepository    = (*Store)(nil)
)

type walletKey struct {
	holderID uuid.UUID
	sellerID uuid.UUID
}

type overrideKey struct {
	scope   entity.OverrideScope
	scopeID uuid.UUID
}

type Store struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*entity.Session
	wallets   map[walletKey]*entity.WalletBalance
	purchases []*entity.Purchase
	payouts   map[uuid.UUID]*entity.Payout
	sellers   map[uuid.UUID]*entity.SellerProfile
	overrides map[overrideKey]*entity.CommissionOverride
	attempts  map[uuid.UUID]*entity.PayoutAttempt

	// failCommit: тестовый хук: ошибка, которую вернёт следующая фиксация.
	failCommit error
}

func NewStore() *Store {
	return &Store{
		sessions:  make(map[uuid.UUID]*entity.Session),
		wallets:   make(map[walletKey]*entity.WalletBalance),
		payouts:   make(map[uuid.UUID]*entity.Payout),
		sellers:   make(map[uuid.UUID]*entity.SellerProfile),
		overrides: make(map[overrideKey]*entity.CommissionOverride),
		attempts:  make(map[uuid.UUID]*entity.PayoutAttempt),
	}
}

// FailNextCommit заставляет следующую транзакцию откатиться с err.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

// WithinTx выполняет fn под эксклюзивной блокировкой. Изменения видны только после успешного fn.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeTransient, "транзакция прервана")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:    s,
		sessions: make(map[uuid.UUID]*entity.Session),
		wallets:  make(map[walletKey]*entity.WalletBalance),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	if s.failCommit != nil {
		err := s.failCommit
		s.failCommit = nil
		return apperror.Wrap(err, apperror.ErrCodeTransient, "не удалось зафиксировать транзакцию")
	}

	for id, session := range tx.sessions {
		s.sessions[id] = session
	}
	for key, wallet := range tx.wallets {
		s.wallets[key] = wallet
	}
	s.purchases = append(s.purchases, tx.purchases...)
	for _, p := range tx.payouts {
		s.payouts[p.SessionID] = p
	}
	return nil
}

type memTx struct {
	store     *Store
	sessions  map[uuid.UUID]*entity.Session
	wallets   map[walletKey]*entity.WalletBalance
	purchases []*entity.Purchase
	payouts   []*entity.Payout
}

func (tx *memTx) wallet(key walletKey) (*entity.WalletBalance, bool) {
	if w, ok := tx.wallets[key]; ok {
		return w, true
	}
	w, ok := tx.store.wallets[key]
	return w, ok
}

func (tx *memTx) LockWallet(_ context.Context, holderID, sellerID uuid.UUID) (*entity.WalletBalance, error) {
	w, ok := tx.wallet(walletKey{holderID, sellerID})
	if !ok {
		return nil, apperror.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (tx *memTx) LockOrCreateWallet(ctx context.Context, holderID, sellerID uuid.UUID, now time.Time) (*entity.WalletBalance, error) {
	key := walletKey{holderID, sellerID}
	if _, ok := tx.wallet(key); !ok {
		tx.wallets[key] = entity.NewWalletBalance(holderID, sellerID, now)
	}
	return tx.LockWallet(ctx, holderID, sellerID)
}

func (tx *memTx) SaveWallet(_ context.Context, wallet *entity.WalletBalance) error {
	cp := *wallet
	tx.wallets[walletKey{wallet.HolderID, wallet.SellerID}] = &cp
	return nil
}

func (tx *memTx) session(id uuid.UUID) (*entity.Session, bool) {
	if s, ok := tx.sessions[id]; ok {
		return s, true
	}
	s, ok := tx.store.sessions[id]
	return s, ok
}

func (tx *memTx) LockSession(_ context.Context, id uuid.UUID) (*entity.Session, error) {
	s, ok := tx.session(id)
	if !ok {
		return nil, apperror.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (tx *memTx) CreateSession(_ context.Context, session *entity.Session) error {
	if _, ok := tx.session(session.ID); ok {
		return apperror.New(apperror.ErrCodeValidation, "сессия уже существует")
	}
	tx.sessions[session.ID] = cloneSession(session)
	return nil
}

func (tx *memTx) UpdateSession(_ context.Context, session *entity.Session, expected valueobject.SessionStatus) error {
	current, ok := tx.session(session.ID)
	if !ok {
		return apperror.ErrSessionNotFound
	}
	if current.Status != expected {
		return apperror.Newf(apperror.ErrCodeInvalidStateTransition,
			"статус сессии изменился: ожидался %s, текущий %s", expected, current.Status)
	}
	tx.sessions[session.ID] = cloneSession(session)
	return nil
}

func (tx *memTx) CreatePurchase(_ context.Context, purchase *entity.Purchase) error {
	// Внешний идентификатор уникален, как и в PostgreSQL.
	if purchase.ExternalRef != nil {
		if hasExternalRef(tx.store.purchases, *purchase.ExternalRef) || hasExternalRef(tx.purchases, *purchase.ExternalRef) {
			return apperror.New(apperror.ErrCodeValidation, "покупка с этим внешним идентификатором уже учтена")
		}
	}
	cp := *purchase
	tx.purchases = append(tx.purchases, &cp)
	return nil
}

func (tx *memTx) CreatePayout(_ context.Context, payout *entity.Payout) error {
	if _, ok := tx.store.payouts[payout.SessionID]; ok {
		return apperror.Newf(apperror.ErrCodeInvalidStateTransition, "выплата по сессии %s уже создана", payout.SessionID)
	}
	for _, p := range tx.payouts {
		if p.SessionID == payout.SessionID {
			return apperror.Newf(apperror.ErrCodeInvalidStateTransition, "выплата по сессии %s уже создана", payout.SessionID)
		}
	}
	cp := *payout
	tx.payouts = append(tx.payouts, &cp)
	return nil
}

func (s *Store) FindSession(_ context.Context, id uuid.UUID) (*entity.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, apperror.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *Store) ListSessionsByParticipant(_ context.Context, userID uuid.UUID, filter repository.SessionFilter) ([]*entity.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Session
	for _, session := range s.sessions {
		if session.BuyerID != userID && session.SellerID != userID {
			continue
		}
		if !matchStatus(session.Status, filter.Statuses) {
			continue
		}
		out = append(out, cloneSession(session))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter), nil
}

func (s *Store) ListPayoutCandidates(_ context.Context, now time.Time, limit int) ([]*entity.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Session
	for _, session := range s.sessions {
		if !session.Status.IsPayable() {
			continue
		}
		if a, ok := s.attempts[session.ID]; ok && a.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, cloneSession(session))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return paginate(out, repository.SessionFilter{Limit: limit}), nil
}

func (s *Store) FindPayoutAttempt(_ context.Context, sessionID uuid.UUID) (*entity.PayoutAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *Store) SavePayoutAttempt(_ context.Context, attempt *entity.PayoutAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *attempt
	s.attempts[attempt.SessionID] = &cp
	return nil
}

func (s *Store) FindPayoutBySession(_ context.Context, sessionID uuid.UUID) (*entity.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payouts[sessionID]
	if !ok {
		return nil, apperror.New(apperror.ErrCodeNotFound, "выплата не найдена")
	}
	cp := *p
	return &cp, nil
}

func (s *Store) FindWallet(_ context.Context, holderID, sellerID uuid.UUID) (*entity.WalletBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[walletKey{holderID, sellerID}]
	if !ok {
		return nil, apperror.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *Store) ListWalletsByHolder(_ context.Context, holderID uuid.UUID) ([]*entity.WalletBalance, error) {
	return s.listWallets(func(k walletKey) bool { return k.holderID == holderID }), nil
}

func (s *Store) ListWalletsBySeller(_ context.Context, sellerID uuid.UUID) ([]*entity.WalletBalance, error) {
	return s.listWallets(func(k walletKey) bool { return k.sellerID == sellerID }), nil
}

func (s *Store) listWallets(match func(walletKey) bool) []*entity.WalletBalance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.WalletBalance
	for key, w := range s.wallets {
		if match(key) {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Purchases возвращает все зафиксированные покупки.
func (s *Store) Purchases() []entity.Purchase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Purchase, 0, len(s.purchases))
	for _, p := range s.purchases {
		out = append(out, *p)
	}
	return out
}

// PayoutCount: число созданных выплат.
func (s *Store) PayoutCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payouts)
}

// PutSeller добавляет или заменяет профиль продавца.
func (s *Store) PutSeller(profile *entity.SellerProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *profile
	s.sellers[profile.UserID] = &cp
}

func (s *Store) FindSeller(_ context.Context, sellerID uuid.UUID) (*entity.SellerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.sellers[sellerID]
	if !ok {
		return nil, apperror.ErrSellerNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) FindOverride(_ context.Context, scope entity.OverrideScope, scopeID uuid.UUID) (*entity.CommissionOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.overrides[overrideKey{scope, scopeID}]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *Store) SaveOverride(_ context.Context, override *entity.CommissionOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *override
	s.overrides[overrideKey{override.Scope, override.ScopeID}] = &cp
	return nil
}

func (s *Store) DeleteOverride(_ context.Context, scope entity.OverrideScope, scopeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, overrideKey{scope, scopeID})
	return nil
}

func (s *Store) ListSellerOverridesByCommunity(_ context.Context, communityID uuid.UUID) ([]*entity.CommissionOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.CommissionOverride
	for key, o := range s.overrides {
		if key.scope != entity.OverrideScopeSeller {
			continue
		}
		p, ok := s.sellers[key.scopeID]
		if !ok || p.CommunityID == nil || *p.CommunityID != communityID {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func hasExternalRef(purchases []*entity.Purchase, ref string) bool {
	for _, p := range purchases {
		if p.ExternalRef != nil && *p.ExternalRef == ref {
			return true
		}
	}
	return false
}

func matchStatus(status valueobject.SessionStatus, statuses []valueobject.SessionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func paginate(sessions []*entity.Session, filter repository.SessionFilter) []*entity.Session {
	if filter.Offset > 0 {
		if filter.Offset >= len(sessions) {
			return nil
		}
		sessions = sessions[filter.Offset:]
	}
	if filter.Limit > 0 && len(sessions) > filter.Limit {
		sessions = sessions[:filter.Limit]
	}
	return sessions
}

func cloneSession(s *entity.Session) *entity.Session {
	cp := *s
	return &cp
}
