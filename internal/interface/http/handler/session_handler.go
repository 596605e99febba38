package handler

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/interface/http/dto"
	"github.com/ignatzorin/timemarket-backend/internal/interface/http/response"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/payout"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/session"
)

type SessionHandler struct {
	machine *session.StateMachine
	payouts *payout.Scheduler
}

func NewSessionHandler(machine *session.StateMachine, payouts *payout.Scheduler) *SessionHandler {
	return &SessionHandler{machine: machine, payouts: payouts}
}

// RequestSession обслуживает POST /api/sessions. Покупателем становится текущий пользователь.
func (h *SessionHandler) RequestSession(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.RequestSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "некорректные данные запроса")
		return
	}

	s, err := h.machine.RequestSession(c.Request.Context(), session.RequestParams{
		BuyerID:          userID,
		SellerID:         req.SellerID,
		Units:            valueobject.Units(req.Units),
		QuotedPriceCents: dto.QuotedPrice(req.PricePerUnitCents),
		Topic:            req.Topic,
		ScheduledAt:      req.ScheduledAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.ToSessionResponse(s))
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	filter, err := sessionFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	sessions, err := h.machine.ListSessions(c.Request.Context(), userID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, dto.ToSessionResponses(sessions), len(sessions), filter.Limit, filter.Offset)
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	s, err := h.machine.GetSession(c.Request.Context(), pathUUID(c, "id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.ToSessionResponse(s))
}

// GetPayout обслуживает GET /api/sessions/:id/payout. Доступно участникам сессии.
func (h *SessionHandler) GetPayout(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	s, err := h.machine.GetSession(ctx, pathUUID(c, "id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	p, err := h.payouts.FindPayout(ctx, s.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.ToPayoutResponse(p))
}

func (h *SessionHandler) Accept(c *gin.Context) {
	h.transition(c, h.machine.AcceptSession)
}

func (h *SessionHandler) Deliver(c *gin.Context) {
	h.transition(c, h.machine.MarkDelivered)
}

func (h *SessionHandler) Confirm(c *gin.Context) {
	h.transition(c, h.machine.ConfirmSession)
}

func (h *SessionHandler) Rate(c *gin.Context) {
	h.transition(c, h.machine.MarkRated)
}

func (h *SessionHandler) Decline(c *gin.Context) {
	h.transitionWithReason(c, h.machine.DeclineSession)
}

func (h *SessionHandler) Cancel(c *gin.Context) {
	h.transitionWithReason(c, h.machine.CancelSession)
}

type transitionFunc func(ctx context.Context, sessionID, actorID uuid.UUID) (*entity.Session, error)

type reasonTransitionFunc func(ctx context.Context, sessionID, actorID uuid.UUID, reason *string) (*entity.Session, error)

func (h *SessionHandler) transition(c *gin.Context, fn transitionFunc) {
	h.transitionWithReason(c, func(ctx context.Context, sessionID, actorID uuid.UUID, _ *string) (*entity.Session, error) {
		return fn(ctx, sessionID, actorID)
	})
}

func (h *SessionHandler) transitionWithReason(c *gin.Context, fn reasonTransitionFunc) {
	userID, err := getUserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	// Тело необязательно: пустой запрос означает отмену без причины.
	var req dto.ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "некорректные данные запроса")
		return
	}

	s, err := fn(c.Request.Context(), pathUUID(c, "id"), userID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.ToSessionResponse(s))
}
