package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/timemarket-backend/internal/interface/http/dto"
	"github.com/ignatzorin/timemarket-backend/internal/interface/http/response"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/payout"
)

type PayoutHandler struct {
	scheduler *payout.Scheduler
}

func NewPayoutHandler(scheduler *payout.Scheduler) *PayoutHandler {
	return &PayoutHandler{scheduler: scheduler}
}

// ListEligible обслуживает GET /api/payouts/eligible: сессии в очереди на выплату.
func (h *PayoutHandler) ListEligible(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 0)
	sessions, err := h.scheduler.ListEligible(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.ToSessionResponses(sessions))
}

// Run обслуживает POST /api/payouts/run, внеочередной прогон.
func (h *PayoutHandler) Run(c *gin.Context) {
	result, err := h.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}
