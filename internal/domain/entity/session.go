package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

// CancelParty: сторона, отменившая или отклонившая сессию.
type CancelParty string

const (
	CancelledByBuyer  CancelParty = "buyer"
	CancelledBySeller CancelParty = "seller"
)

// Session: бронирование времени продавца покупателем.
// Units, PricePerUnitCents и ставки комиссий фиксируются при создании и больше не меняются.
type Session struct {
	ID                 uuid.UUID
	BuyerID            uuid.UUID
	SellerID           uuid.UUID
	CommunityID        *uuid.UUID
	Units              valueobject.Units
	PricePerUnitCents  valueobject.Cents
	PlatformFeeBps     valueobject.Bps
	CommunityFeeBps    valueobject.Bps
	Topic              string
	Status             valueobject.SessionStatus
	ScheduledAt        time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeliveredAt        *time.Time
	ConfirmedAt        *time.Time
	CancelledAt        *time.Time
	CancelledBy        *CancelParty
	CancellationReason *string
	RatedAt            *time.Time
	PaidOutAt          *time.Time
}

type NewSessionParams struct {
	BuyerID           uuid.UUID
	SellerID          uuid.UUID
	CommunityID       *uuid.UUID
	Units             valueobject.Units
	PricePerUnitCents valueobject.Cents
	Rates             valueobject.EffectiveRates
	Topic             string
	ScheduledAt       time.Time
}

func NewSession(p NewSessionParams, now time.Time) (*Session, error) {
	if p.Units <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "количество единиц должно быть положительным")
	}
	if p.PricePerUnitCents < 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "цена не может быть отрицательной")
	}
	if p.BuyerID == uuid.Nil || p.SellerID == uuid.Nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "покупатель и продавец обязательны")
	}
	if p.BuyerID == p.SellerID {
		return nil, apperror.ErrInvalidSeller
	}

	return &Session{
		ID:                uuid.New(),
		BuyerID:           p.BuyerID,
		SellerID:          p.SellerID,
		CommunityID:       p.CommunityID,
		Units:             p.Units,
		PricePerUnitCents: p.PricePerUnitCents,
		PlatformFeeBps:    p.Rates.PlatformFeeBps,
		CommunityFeeBps:   p.Rates.CommunityFeeBps,
		Topic:             p.Topic,
		Status:            valueobject.SessionStatusRequested,
		ScheduledAt:       p.ScheduledAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// RoleOf возвращает роль пользователя в сессии.
func (s *Session) RoleOf(userID uuid.UUID) (valueobject.ActorRole, bool) {
	switch userID {
	case s.BuyerID:
		return valueobject.RoleBuyer, true
	case s.SellerID:
		return valueobject.RoleSeller, true
	}
	return "", false
}

func (s *Session) IsParty(userID uuid.UUID) bool {
	_, ok := s.RoleOf(userID)
	return ok
}

// GrossCents: стоимость сессии по зафиксированной цене.
func (s *Session) GrossCents() valueobject.Cents {
	return s.PricePerUnitCents.Times(s.Units)
}

// Breakdown считает выплату по ставкам, зафиксированным при бронировании.
func (s *Session) Breakdown() valueobject.FeeBreakdown {
	return valueobject.SplitFees(s.GrossCents(), s.PlatformFeeBps, s.CommunityFeeBps)
}

// Apply выполняет действие role над сессией по таблице переходов.
// Возвращает применённый переход; изменение баланса выполняет вызывающий код в той же транзакции.
func (s *Session) Apply(action valueobject.SessionAction, role valueobject.ActorRole, reason *string, now time.Time) (valueobject.Transition, error) {
	t, ok := valueobject.LookupTransition(s.Status, action)
	if !ok {
		return valueobject.Transition{}, apperror.Newf(apperror.ErrCodeInvalidStateTransition,
			"действие %s недопустимо в статусе %s", action, s.Status)
	}
	if !t.Actor.Allows(role) {
		return valueobject.Transition{}, apperror.Newf(apperror.ErrCodeForbidden,
			"действие %s доступно только роли %s", action, t.Actor)
	}

	s.Status = t.To
	s.UpdatedAt = now

	if t.StampsCancellation {
		party := CancelledByBuyer
		if role == valueobject.RoleSeller {
			party = CancelledBySeller
		}
		s.CancelledAt = &now
		s.CancelledBy = &party
		s.CancellationReason = reason
	}

	switch t.To {
	case valueobject.SessionStatusAwaitingConfirmation:
		s.DeliveredAt = &now
	case valueobject.SessionStatusCompleted:
		s.ConfirmedAt = &now
	case valueobject.SessionStatusRated:
		s.RatedAt = &now
	case valueobject.SessionStatusPaidOut:
		s.PaidOutAt = &now
	}

	return t, nil
}
