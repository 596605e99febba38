package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/interface/http/dto"
	"github.com/ignatzorin/timemarket-backend/internal/interface/http/response"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/wallet"
)

type WalletHandler struct {
	ledger *wallet.Ledger
}

func NewWalletHandler(ledger *wallet.Ledger) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// ListMine обслуживает GET /api/wallets: балансы текущего пользователя у всех продавцов.
func (h *WalletHandler) ListMine(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	wallets, err := h.ledger.ListByHolder(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.ToWalletResponses(wallets))
}

// ListAsSeller обслуживает GET /api/wallets/as-seller: единицы покупателей у текущего продавца.
func (h *WalletHandler) ListAsSeller(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	wallets, err := h.ledger.ListBySeller(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.ToWalletResponses(wallets))
}

// GetWallet обслуживает GET /api/wallets/:sellerId. Отсутствующий баланс отдаётся как нулевой.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	sellerID := pathUUID(c, "sellerId")

	w, err := h.ledger.Balance(c.Request.Context(), userID, sellerID)
	if apperror.IsNotFound(err) {
		response.Success(c, dto.AvailableResponse{HolderID: userID, SellerID: sellerID})
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.ToWalletResponse(w))
}

// Purchase обслуживает POST /api/wallets/:sellerId/purchase.
// Маршрут доступен только администратору: его вызывает платёжная интеграция после оплаты.
func (h *WalletHandler) Purchase(c *gin.Context) {
	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "некорректные данные запроса")
		return
	}

	purchase, balance, err := h.ledger.Purchase(c.Request.Context(), wallet.PurchaseParams{
		HolderID:         req.HolderID,
		SellerID:         pathUUID(c, "sellerId"),
		Units:            valueobject.Units(req.Units),
		QuotedPriceCents: dto.QuotedPrice(req.PricePerUnitCents),
		ExternalRef:      req.ExternalRef,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.ToPurchaseResponse(purchase, balance))
}
