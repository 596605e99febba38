package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
)

type EventType string

const (
	EventRequested EventType = "session.requested"
	EventAccepted  EventType = "session.accepted"
	EventDeclined  EventType = "session.declined"
	EventCancelled EventType = "session.cancelled"
	EventDelivered EventType = "session.delivered"
	EventConfirmed EventType = "session.confirmed"
	EventRated     EventType = "session.rated"
	EventPaidOut   EventType = "session.paid_out"
)

var actionEvents = map[valueobject.SessionAction]EventType{
	valueobject.ActionAccept:  EventAccepted,
	valueobject.ActionDecline: EventDeclined,
	valueobject.ActionCancel:  EventCancelled,
	valueobject.ActionDeliver: EventDelivered,
	valueobject.ActionConfirm: EventConfirmed,
	valueobject.ActionRate:    EventRated,
	valueobject.ActionPayout:  EventPaidOut,
}

// Event: зафиксированное изменение сессии. Публикуется только после коммита.
type Event struct {
	Type    EventType
	Session entity.Session
	From    valueobject.SessionStatus
	ActorID uuid.UUID
	At      time.Time
}

// EventPublisher доставляет события участникам. Ошибки доставки не влияют на переход.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event Event)
}

type noopPublisher struct{}

func (noopPublisher) PublishSessionEvent(context.Context, Event) {}
