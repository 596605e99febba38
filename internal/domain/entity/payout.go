package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

// Payout: выплата продавцу за завершённую сессию, одна на сессию.
type Payout struct {
	ID                uuid.UUID
	SessionID         uuid.UUID
	SellerID          uuid.UUID
	GrossCents        valueobject.Cents
	PlatformFeeCents  valueobject.Cents
	CommunityFeeCents valueobject.Cents
	NetCents          valueobject.Cents
	PlatformFeeBps    valueobject.Bps
	CommunityFeeBps   valueobject.Bps
	ExternalRef       string
	CreatedAt         time.Time
}

// NewPayout считает выплату по ставкам, зафиксированным в сессии.
func NewPayout(s *Session, now time.Time) (*Payout, error) {
	if !s.Status.IsPayable() {
		return nil, apperror.Newf(apperror.ErrCodeInvalidStateTransition,
			"сессия в статусе %s не подлежит выплате", s.Status)
	}
	b := s.Breakdown()
	return &Payout{
		ID:                uuid.New(),
		SessionID:         s.ID,
		SellerID:          s.SellerID,
		GrossCents:        b.GrossCents,
		PlatformFeeCents:  b.PlatformFeeCents,
		CommunityFeeCents: b.CommunityFeeCents,
		NetCents:          b.NetCents,
		PlatformFeeBps:    s.PlatformFeeBps,
		CommunityFeeBps:   s.CommunityFeeBps,
		CreatedAt:         now,
	}, nil
}

// PayoutAttempt: неудачные попытки выплаты по сессии. Пока NextAttemptAt в будущем,
// сессия не попадает в прогоны и не загораживает очередь остальным.
type PayoutAttempt struct {
	SessionID     uuid.UUID
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	UpdatedAt     time.Time
}

// Fail учитывает очередную неудачу. Интервал удваивается с каждой попыткой и не превышает maxDelay.
func (a *PayoutAttempt) Fail(reason string, baseDelay, maxDelay time.Duration, now time.Time) {
	a.Attempts++
	delay := baseDelay
	for i := 1; i < a.Attempts && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	a.LastError = reason
	a.NextAttemptAt = now.Add(delay)
	a.UpdatedAt = now
}
