package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
)

// Store: транзакционное хранилище сессий и балансов.
// Смена статуса сессии и изменение баланса выполняются в одной транзакции WithinTx.
type Store interface {
	SessionReader
	WalletReader
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx: операции внутри транзакции. Методы Lock* блокируют строку до конца транзакции,
// параллельные транзакции над той же строкой выполняются последовательно.
type Tx interface {
	// LockWallet возвращает apperror.ErrWalletNotFound, если баланса нет.
	LockWallet(ctx context.Context, holderID, sellerID uuid.UUID) (*entity.WalletBalance, error)
	// LockOrCreateWallet создаёт пустой баланс при первой покупке.
	LockOrCreateWallet(ctx context.Context, holderID, sellerID uuid.UUID, now time.Time) (*entity.WalletBalance, error)
	SaveWallet(ctx context.Context, wallet *entity.WalletBalance) error

	LockSession(ctx context.Context, id uuid.UUID) (*entity.Session, error)
	CreateSession(ctx context.Context, session *entity.Session) error
	// UpdateSession сохраняет сессию, только если её статус в хранилище равен expected.
	// Иначе возвращает ошибку с кодом INVALID_STATE_TRANSITION.
	UpdateSession(ctx context.Context, session *entity.Session, expected valueobject.SessionStatus) error

	CreatePurchase(ctx context.Context, purchase *entity.Purchase) error
	CreatePayout(ctx context.Context, payout *entity.Payout) error
}

type SessionFilter struct {
	Statuses []valueobject.SessionStatus
	Limit    int
	Offset   int
}

type SessionReader interface {
	FindSession(ctx context.Context, id uuid.UUID) (*entity.Session, error)
	ListSessionsByParticipant(ctx context.Context, userID uuid.UUID, filter SessionFilter) ([]*entity.Session, error)
	// ListPayoutCandidates возвращает самые старые сессии в COMPLETED и RATED,
	// кроме тех, чья следующая попытка выплаты назначена позже now.
	ListPayoutCandidates(ctx context.Context, now time.Time, limit int) ([]*entity.Session, error)
	FindPayoutBySession(ctx context.Context, sessionID uuid.UUID) (*entity.Payout, error)
}

// PayoutAttemptRepository: учёт неудачных попыток выплат. FindPayoutAttempt возвращает nil, nil, если неудач не было.
type PayoutAttemptRepository interface {
	FindPayoutAttempt(ctx context.Context, sessionID uuid.UUID) (*entity.PayoutAttempt, error)
	SavePayoutAttempt(ctx context.Context, attempt *entity.PayoutAttempt) error
}

type WalletReader interface {
	FindWallet(ctx context.Context, holderID, sellerID uuid.UUID) (*entity.WalletBalance, error)
	ListWalletsByHolder(ctx context.Context, holderID uuid.UUID) ([]*entity.WalletBalance, error)
	ListWalletsBySeller(ctx context.Context, sellerID uuid.UUID) ([]*entity.WalletBalance, error)
}

// SellerDirectory: профили продавцов, которые ведёт внешний сервис.
type SellerDirectory interface {
	FindSeller(ctx context.Context, sellerID uuid.UUID) (*entity.SellerProfile, error)
}

// CommissionRepository хранит переопределения комиссий. FindOverride возвращает nil, nil, если записи нет.
type CommissionRepository interface {
	FindOverride(ctx context.Context, scope entity.OverrideScope, scopeID uuid.UUID) (*entity.CommissionOverride, error)
	SaveOverride(ctx context.Context, override *entity.CommissionOverride) error
	DeleteOverride(ctx context.Context, scope entity.OverrideScope, scopeID uuid.UUID) error
	// ListSellerOverridesByCommunity: переопределения продавцов, чей профиль привязан к сообществу.
	ListSellerOverridesByCommunity(ctx context.Context, communityID uuid.UUID) ([]*entity.CommissionOverride, error)
}
