package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/repository"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/goroutine"
	"github.com/ignatzorin/timemarket-backend/internal/logger"
	"github.com/ignatzorin/timemarket-backend/internal/metrics"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/wallet"
	"github.com/ignatzorin/timemarket-backend/internal/validation"
)

const actionRequest = "request"

// InTxHook выполняется в транзакции перехода после обновления сессии.
type InTxHook func(ctx context.Context, tx repository.Tx, s *entity.Session) error

// StateMachine: жизненный цикл сессии. Каждый переход и соответствующее ему
// изменение баланса фиксируются одной транзакцией.
type StateMachine struct {
	store   repository.Store
	sellers repository.SellerDirectory
	ledger  *wallet.Ledger
	rates   wallet.RatesResolver
	events  EventPublisher
	now     func() time.Time
}

func NewStateMachine(
	store repository.Store,
	sellers repository.SellerDirectory,
	ledger *wallet.Ledger,
	rates wallet.RatesResolver,
	events EventPublisher,
) *StateMachine {
	if events == nil {
		events = noopPublisher{}
	}
	return &StateMachine{
		store:   store,
		sellers: sellers,
		ledger:  ledger,
		rates:   rates,
		events:  events,
		now:     time.Now,
	}
}

// RequestParams: запрос на бронирование.
type RequestParams struct {
	BuyerID  uuid.UUID
	SellerID uuid.UUID
	Units    valueobject.Units
	// QuotedPriceCents: цена, показанная покупателю. Если задана, должна совпасть с ценой продавца.
	QuotedPriceCents *valueobject.Cents
	Topic            string
	ScheduledAt      time.Time
}

// RequestSession создаёт сессию в статусе REQUESTED и резервирует единицы покупателя.
// Цена и ставки комиссий фиксируются в сессии на момент запроса.
func (m *StateMachine) RequestSession(ctx context.Context, p RequestParams) (*entity.Session, error) {
	s, err := m.prepareRequest(ctx, p)
	if err != nil {
		m.reject(actionRequest, err)
		return nil, err
	}

	err = m.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := m.ledger.ApplyInTx(ctx, tx, wallet.OpReserve, s.BuyerID, s.SellerID, s.Units, s.CreatedAt); err != nil {
			return err
		}
		return tx.CreateSession(ctx, s)
	})
	wallet.RecordOutcome(wallet.OpReserve, err, s.Units)
	if err != nil {
		m.reject(actionRequest, err)
		return nil, err
	}

	metrics.RecordTransition(actionRequest, "", string(s.Status))
	logger.Log.WithFields(logrus.Fields{
		"session_id":           s.ID,
		"buyer_id":             s.BuyerID,
		"seller_id":            s.SellerID,
		"units":                s.Units,
		"price_per_unit_cents": s.PricePerUnitCents,
		"platform_fee_bps":     s.PlatformFeeBps,
		"community_fee_bps":    s.CommunityFeeBps,
	}).Info("session: сессия запрошена")

	m.publish(ctx, Event{Type: EventRequested, Session: *s, ActorID: s.BuyerID, At: s.CreatedAt})
	return s, nil
}

func (m *StateMachine) prepareRequest(ctx context.Context, p RequestParams) (*entity.Session, error) {
	if p.Units <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "количество единиц должно быть положительным")
	}
	topic, err := validation.SessionTopic(p.Topic)
	if err != nil {
		return nil, err
	}
	if p.ScheduledAt.IsZero() {
		return nil, apperror.New(apperror.ErrCodeValidation, "время сессии обязательно")
	}
	if p.BuyerID == p.SellerID {
		return nil, apperror.ErrInvalidSeller
	}

	seller, err := m.sellers.FindSeller(ctx, p.SellerID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.Wrap(err, apperror.ErrCodeInvalidSeller, "продавец не найден")
		}
		return nil, err
	}
	if !seller.IsActive {
		return nil, apperror.ErrInvalidSeller
	}

	now := m.now().UTC()
	if p.ScheduledAt.Before(seller.EarliestStart(now)) {
		return nil, apperror.Wrap(apperror.ErrInvalidNotice, apperror.ErrCodeInvalidNotice,
			fmt.Sprintf("продавцу требуется уведомление минимум за %d ч", seller.MinNoticeHours))
	}

	// Цена и сообщество всегда берутся из профиля продавца.
	if err := seller.CheckQuotedPrice(p.QuotedPriceCents); err != nil {
		return nil, err
	}

	rates, err := m.rates.GetEffectiveRates(ctx, p.SellerID, seller.CommunityID)
	if err != nil {
		return nil, err
	}

	return entity.NewSession(entity.NewSessionParams{
		BuyerID:           p.BuyerID,
		SellerID:          p.SellerID,
		CommunityID:       seller.CommunityID,
		Units:             p.Units,
		PricePerUnitCents: seller.PricePerUnitCents,
		Rates:             rates,
		Topic:             topic,
		ScheduledAt:       p.ScheduledAt.UTC(),
	}, now)
}

// AcceptSession: продавец принимает запрос. Единицы остаются зарезервированными.
func (m *StateMachine) AcceptSession(ctx context.Context, sessionID, actorID uuid.UUID) (*entity.Session, error) {
	return m.transition(ctx, sessionID, actorID, valueobject.ActionAccept, nil, nil)
}

// DeclineSession: продавец отклоняет запрос, резерв снимается.
func (m *StateMachine) DeclineSession(ctx context.Context, sessionID, actorID uuid.UUID, reason *string) (*entity.Session, error) {
	return m.transition(ctx, sessionID, actorID, valueobject.ActionDecline, reason, nil)
}

// CancelSession: любая из сторон отменяет сессию до доставки, резерв снимается.
func (m *StateMachine) CancelSession(ctx context.Context, sessionID, actorID uuid.UUID, reason *string) (*entity.Session, error) {
	return m.transition(ctx, sessionID, actorID, valueobject.ActionCancel, reason, nil)
}

// MarkDelivered: продавец отмечает, что сессия проведена, и ждёт подтверждения покупателя.
func (m *StateMachine) MarkDelivered(ctx context.Context, sessionID, actorID uuid.UUID) (*entity.Session, error) {
	return m.transition(ctx, sessionID, actorID, valueobject.ActionDeliver, nil, nil)
}

// ConfirmSession: покупатель подтверждает сессию, резерв списывается окончательно.
// Повторное подтверждение возвращает INVALID_STATE_TRANSITION и баланс не трогает.
func (m *StateMachine) ConfirmSession(ctx context.Context, sessionID, actorID uuid.UUID) (*entity.Session, error) {
	return m.transition(ctx, sessionID, actorID, valueobject.ActionConfirm, nil, nil)
}

// MarkRated: покупатель оставил отзыв.
func (m *StateMachine) MarkRated(ctx context.Context, sessionID, actorID uuid.UUID) (*entity.Session, error) {
	return m.transition(ctx, sessionID, actorID, valueobject.ActionRate, nil, nil)
}

// MarkPaidOut переводит сессию в PAID_OUT от имени системы. record выполняется в той же транзакции.
func (m *StateMachine) MarkPaidOut(ctx context.Context, sessionID uuid.UUID, record InTxHook) (*entity.Session, error) {
	return m.transition(ctx, sessionID, uuid.Nil, valueobject.ActionPayout, nil, record)
}

// transition: общий путь всех переходов: блокировка сессии, проверка участника,
// проверка по таблице переходов, изменение баланса и CAS-обновление статуса.
func (m *StateMachine) transition(
	ctx context.Context,
	sessionID, actorID uuid.UUID,
	action valueobject.SessionAction,
	reason *string,
	hook InTxHook,
) (*entity.Session, error) {
	var (
		result  *entity.Session
		applied valueobject.Transition
		from    valueobject.SessionStatus
	)

	reason, err := validation.Reason(reason)
	if err != nil {
		m.reject(string(action), err)
		return nil, err
	}

	err = m.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		s, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}

		role := valueobject.RoleSystem
		if actorID != uuid.Nil {
			var ok bool
			if role, ok = s.RoleOf(actorID); !ok {
				return apperror.ErrNotParticipant
			}
		}

		from = s.Status
		now := m.now().UTC()
		t, err := s.Apply(action, role, reason, now)
		if err != nil {
			return err
		}
		if err := m.ledger.ApplyEffect(ctx, tx, t.Effect, s, now); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, s, from); err != nil {
			return err
		}
		if hook != nil {
			if err := hook(ctx, tx, s); err != nil {
				return err
			}
		}

		result = s
		applied = t
		return nil
	})
	if err != nil {
		m.reject(string(action), err)
		if !apperror.IsBusiness(err) {
			logger.Log.WithFields(logrus.Fields{
				"session_id": sessionID,
				"actor_id":   actorID,
				"action":     action,
			}).WithError(err).Warn("session: переход не выполнен")
		}
		return nil, err
	}

	if op := effectOp(applied.Effect); op != "" {
		wallet.RecordOutcome(op, nil, result.Units)
	}
	metrics.RecordTransition(string(action), string(from), string(result.Status))
	logger.Log.WithFields(logrus.Fields{
		"session_id": result.ID,
		"actor_id":   actorID,
		"action":     action,
		"from":       from,
		"to":         result.Status,
		"effect":     applied.Effect,
	}).Info("session: статус изменён")

	m.publish(ctx, Event{
		Type:    actionEvents[action],
		Session: *result,
		From:    from,
		ActorID: actorID,
		At:      result.UpdatedAt,
	})
	return result, nil
}

// GetSession возвращает сессию участнику. Остальным отвечает FORBIDDEN.
func (m *StateMachine) GetSession(ctx context.Context, sessionID, actorID uuid.UUID) (*entity.Session, error) {
	s, err := m.store.FindSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.IsParty(actorID) {
		return nil, apperror.ErrNotParticipant
	}
	return s, nil
}

// ListSessions возвращает сессии, где actorID покупатель или продавец, новые первыми.
func (m *StateMachine) ListSessions(ctx context.Context, actorID uuid.UUID, filter repository.SessionFilter) ([]*entity.Session, error) {
	for _, st := range filter.Statuses {
		if !st.IsValid() {
			return nil, apperror.Newf(apperror.ErrCodeValidation, "неизвестный статус %q", st)
		}
	}
	return m.store.ListSessionsByParticipant(ctx, actorID, filter)
}

func (m *StateMachine) reject(action string, err error) {
	metrics.RecordRejection(action, string(apperror.CodeOf(err)))
}

// publish доставляет событие в фоне после фиксации транзакции.
func (m *StateMachine) publish(ctx context.Context, event Event) {
	events := m.events
	goroutine.SafeGoWithContext(context.WithoutCancel(ctx), "session.publish", func(ctx context.Context) {
		events.PublishSessionEvent(ctx, event)
	})
}

func effectOp(effect valueobject.LedgerEffect) string {
	switch effect {
	case valueobject.LedgerEffectRelease:
		return wallet.OpRelease
	case valueobject.LedgerEffectCommitSpend:
		return wallet.OpCommitSpend
	}
	return ""
}
