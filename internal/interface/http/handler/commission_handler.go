package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/interface/http/dto"
	"github.com/ignatzorin/timemarket-backend/internal/interface/http/response"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/commission"
)

type CommissionHandler struct {
	calc *commission.Calculator
}

func NewCommissionHandler(calc *commission.Calculator) *CommissionHandler {
	return &CommissionHandler{calc: calc}
}

// GetRates обслуживает GET /api/commission/rates?seller_id=&community_id=.
func (h *CommissionHandler) GetRates(c *gin.Context) {
	sellerID, err := queryUUID(c, "seller_id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if sellerID == nil {
		response.BadRequest(c, "параметр seller_id обязателен")
		return
	}
	communityID, err := queryUUID(c, "community_id")
	if err != nil {
		response.Error(c, err)
		return
	}

	rates, err := h.calc.GetEffectiveRates(c.Request.Context(), *sellerID, communityID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rates)
}

func (h *CommissionHandler) GetSellerOverride(c *gin.Context) {
	h.getOverride(c, entity.OverrideScopeSeller)
}

func (h *CommissionHandler) GetCommunityOverride(c *gin.Context) {
	h.getOverride(c, entity.OverrideScopeCommunity)
}

func (h *CommissionHandler) SetSellerOverride(c *gin.Context) {
	h.setOverride(c, h.calc.SetSellerOverride)
}

func (h *CommissionHandler) SetCommunityOverride(c *gin.Context) {
	h.setOverride(c, h.calc.SetCommunityOverride)
}

func (h *CommissionHandler) ClearSellerOverride(c *gin.Context) {
	h.clearOverride(c, entity.OverrideScopeSeller)
}

func (h *CommissionHandler) ClearCommunityOverride(c *gin.Context) {
	h.clearOverride(c, entity.OverrideScopeCommunity)
}

func (h *CommissionHandler) getOverride(c *gin.Context, scope entity.OverrideScope) {
	o, err := h.calc.GetOverride(c.Request.Context(), scope, pathUUID(c, "id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if o == nil {
		response.Error(c, apperror.New(apperror.ErrCodeNotFound, "переопределение не задано"))
		return
	}
	response.Success(c, dto.ToOverrideResponse(o))
}

type setOverrideFunc func(ctx context.Context, scopeID uuid.UUID, platform, community *valueobject.Bps) (*entity.CommissionOverride, error)

func (h *CommissionHandler) setOverride(c *gin.Context, set setOverrideFunc) {
	var req dto.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "некорректные данные запроса")
		return
	}

	platform, community := req.Rates()
	o, err := set(c.Request.Context(), pathUUID(c, "id"), platform, community)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.ToOverrideResponse(o))
}

func (h *CommissionHandler) clearOverride(c *gin.Context, scope entity.OverrideScope) {
	if err := h.calc.ClearOverride(c.Request.Context(), scope, pathUUID(c, "id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
