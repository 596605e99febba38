package valueobject

import (
	"sort"

	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

type SessionStatus string

const (
	SessionStatusRequested            SessionStatus = "REQUESTED"
	SessionStatusAccepted             SessionStatus = "ACCEPTED"
	SessionStatusDeclined             SessionStatus = "DECLINED"
	SessionStatusCancelled            SessionStatus = "CANCELLED"
	SessionStatusAwaitingConfirmation SessionStatus = "AWAITING_CONFIRMATION"
	SessionStatusCompleted            SessionStatus = "COMPLETED"
	SessionStatusRated                SessionStatus = "RATED"
	SessionStatusPaidOut              SessionStatus = "PAID_OUT"
)

func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusRequested, SessionStatusAccepted, SessionStatusDeclined, SessionStatusCancelled,
		SessionStatusAwaitingConfirmation, SessionStatusCompleted, SessionStatusRated, SessionStatusPaidOut:
		return true
	}
	return false
}

// IsTerminal: у статуса нет исходящих переходов.
func (s SessionStatus) IsTerminal() bool {
	for key := range sessionTransitions {
		if key.from == s {
			return false
		}
	}
	return s.IsValid()
}

// HoldsReservation: пока сессия в этом статусе, её единицы зарезервированы на балансе покупателя.
func (s SessionStatus) HoldsReservation() bool {
	switch s {
	case SessionStatusRequested, SessionStatusAccepted, SessionStatusAwaitingConfirmation:
		return true
	}
	return false
}

// IsPayable: сессия ждёт выплаты продавцу.
func (s SessionStatus) IsPayable() bool {
	return s == SessionStatusCompleted || s == SessionStatusRated
}

// CountsAsRevenue: сессия учитывается в выручке продавца.
func (s SessionStatus) CountsAsRevenue() bool {
	return s == SessionStatusCompleted || s == SessionStatusRated || s == SessionStatusPaidOut
}

func NewSessionStatus(status string) (SessionStatus, error) {
	s := SessionStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус сессии")
	}
	return s, nil
}

// SessionAction: действие над сессией.
type SessionAction string

const (
	ActionAccept  SessionAction = "accept"
	ActionDecline SessionAction = "decline"
	ActionCancel  SessionAction = "cancel"
	ActionDeliver SessionAction = "deliver"
	ActionConfirm SessionAction = "confirm"
	ActionRate    SessionAction = "rate"
	ActionPayout  SessionAction = "payout"
)

// ActorRole: кто вправе выполнить действие.
type ActorRole string

const (
	RoleBuyer  ActorRole = "buyer"
	RoleSeller ActorRole = "seller"
	// RoleParty: покупатель или продавец сессии.
	RoleParty ActorRole = "party"
	// RoleSystem: фоновые процессы (выплаты).
	RoleSystem ActorRole = "system"
)

// Allows проверяет, подходит ли фактическая роль актёра под требование перехода.
func (r ActorRole) Allows(actual ActorRole) bool {
	switch r {
	case RoleParty:
		return actual == RoleBuyer || actual == RoleSeller
	default:
		return r == actual
	}
}

// LedgerEffect: изменение баланса, выполняемое вместе со сменой статуса.
type LedgerEffect string

const (
	LedgerEffectNone        LedgerEffect = "none"
	LedgerEffectRelease     LedgerEffect = "release"
	LedgerEffectCommitSpend LedgerEffect = "commit_spend"
)

// Transition: одна клетка таблицы переходов.
type Transition struct {
	From   SessionStatus
	Action SessionAction
	To     SessionStatus
	Actor  ActorRole
	Effect LedgerEffect
	// StampsCancellation: переход заполняет cancelledAt/cancelledBy/cancellationReason.
	StampsCancellation bool
}

type transitionKey struct {
	from   SessionStatus
	action SessionAction
}

var sessionTransitions = map[transitionKey]Transition{}

func init() {
	for _, t := range []Transition{
		{From: SessionStatusRequested, Action: ActionAccept, To: SessionStatusAccepted, Actor: RoleSeller, Effect: LedgerEffectNone},
		{From: SessionStatusRequested, Action: ActionDecline, To: SessionStatusDeclined, Actor: RoleSeller, Effect: LedgerEffectRelease, StampsCancellation: true},
		{From: SessionStatusRequested, Action: ActionCancel, To: SessionStatusCancelled, Actor: RoleParty, Effect: LedgerEffectRelease, StampsCancellation: true},
		{From: SessionStatusAccepted, Action: ActionCancel, To: SessionStatusCancelled, Actor: RoleParty, Effect: LedgerEffectRelease, StampsCancellation: true},
		{From: SessionStatusAccepted, Action: ActionDeliver, To: SessionStatusAwaitingConfirmation, Actor: RoleSeller, Effect: LedgerEffectNone},
		{From: SessionStatusAwaitingConfirmation, Action: ActionConfirm, To: SessionStatusCompleted, Actor: RoleBuyer, Effect: LedgerEffectCommitSpend},
		{From: SessionStatusCompleted, Action: ActionRate, To: SessionStatusRated, Actor: RoleBuyer, Effect: LedgerEffectNone},
		{From: SessionStatusCompleted, Action: ActionPayout, To: SessionStatusPaidOut, Actor: RoleSystem, Effect: LedgerEffectNone},
		{From: SessionStatusRated, Action: ActionPayout, To: SessionStatusPaidOut, Actor: RoleSystem, Effect: LedgerEffectNone},
	} {
		sessionTransitions[transitionKey{from: t.From, action: t.Action}] = t
	}
}

// LookupTransition возвращает переход для пары (статус, действие).
func LookupTransition(from SessionStatus, action SessionAction) (Transition, bool) {
	t, ok := sessionTransitions[transitionKey{from: from, action: action}]
	return t, ok
}

// CanTransitionTo сообщает, есть ли в графе ребро from -> to.
func (s SessionStatus) CanTransitionTo(to SessionStatus) bool {
	for key, t := range sessionTransitions {
		if key.from == s && t.To == to {
			return true
		}
	}
	return false
}

// Transitions возвращает весь граф переходов в стабильном порядке.
func Transitions() []Transition {
	out := make([]Transition, 0, len(sessionTransitions))
	for _, t := range sessionTransitions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].Action < out[j].Action
	})
	return out
}
