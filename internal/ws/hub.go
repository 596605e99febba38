package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/timemarket-backend/internal/logger"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/session"
)

var ErrHubStopped = errors.New("ws: хаб остановлен")

// Hub управляет всеми WebSocket клиентами и рассылает им события сессий.
type Hub struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	done       chan struct{}
}

type message struct {
	userID  uuid.UUID
	payload []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 64),
		done:       make(chan struct{}),
	}
}

// Run: главный цикл хаба, завершается при отмене ctx.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.send(msg.userID, msg.payload)
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastToUser отправляет сообщение всем подключениям пользователя.
func (h *Hub) BroadcastToUser(ctx context.Context, userID uuid.UUID, event string, data any) error {
	// Контракт WebSocket API: "type" содержит имя события, "data" содержит полезную нагрузку.
	raw, err := json.Marshal(map[string]any{
		"type": event,
		"data": data,
	})
	if err != nil {
		return fmt.Errorf("ws: не удалось сериализовать сообщение: %w", err)
	}

	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	select {
	case h.broadcast <- message{userID: userID, payload: raw}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishSessionEvent рассылает событие покупателю и продавцу.
func (h *Hub) PublishSessionEvent(ctx context.Context, event session.Event) {
	payload := NewSessionMessage(event)
	for _, userID := range []uuid.UUID{event.Session.BuyerID, event.Session.SellerID} {
		if err := h.BroadcastToUser(ctx, userID, string(event.Type), payload); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"user_id":    userID,
				"session_id": event.Session.ID,
				"event":      event.Type,
			}).WithError(err).Warn("ws: событие не доставлено")
		}
	}
}

// ConnectedUsers: число пользователей с активными подключениями.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.userID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.send)
		}
		if len(clients) == 0 {
			delete(h.clients, client.userID)
		}
	}
}

func (h *Hub) send(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	// Медленный клиент отключается, сообщения ему не копятся.
	for _, client := range slow {
		logger.Log.WithField("user_id", userID).Warn("ws: буфер клиента переполнен, соединение закрыто")
		h.removeClient(client)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, clients := range h.clients {
		for client := range clients {
			close(client.send)
		}
		delete(h.clients, userID)
	}
}

// SessionMessage: сессия в событии WebSocket.
type SessionMessage struct {
	SessionID         uuid.UUID  `json:"session_id"`
	Status            string     `json:"status"`
	PreviousStatus    string     `json:"previous_status,omitempty"`
	BuyerID           uuid.UUID  `json:"buyer_id"`
	SellerID          uuid.UUID  `json:"seller_id"`
	ActorID           *uuid.UUID `json:"actor_id,omitempty"`
	Units             int        `json:"units"`
	Hours             string     `json:"hours"`
	ScheduledAt       time.Time  `json:"scheduled_at"`
	CancellationParty *string    `json:"cancelled_by,omitempty"`
	At                time.Time  `json:"at"`
}

func NewSessionMessage(event session.Event) SessionMessage {
	s := event.Session
	msg := SessionMessage{
		SessionID:      s.ID,
		Status:         string(s.Status),
		PreviousStatus: string(event.From),
		BuyerID:        s.BuyerID,
		SellerID:       s.SellerID,
		Units:          int(s.Units),
		Hours:          s.Units.String(),
		ScheduledAt:    s.ScheduledAt,
		At:             event.At,
	}
	if event.ActorID != uuid.Nil {
		actor := event.ActorID
		msg.ActorID = &actor
	}
	if s.CancelledBy != nil {
		party := string(*s.CancelledBy)
		msg.CancellationParty = &party
	}
	return msg
}

var _ session.EventPublisher = (*Hub)(nil)
