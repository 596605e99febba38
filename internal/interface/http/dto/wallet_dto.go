package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
)

// PurchaseRequest приходит от платёжной интеграции после списания средств.
// Цена и сообщество берутся из профиля продавца, price_per_unit_cents только сверяется с ней.
type PurchaseRequest struct {
	HolderID          uuid.UUID `json:"holder_id" binding:"required"`
	Units             int       `json:"units" binding:"required,gt=0"`
	PricePerUnitCents *int64    `json:"price_per_unit_cents" binding:"omitempty,gte=0"`
	ExternalRef       *string   `json:"external_ref" binding:"omitempty,max=255"`
}

type WalletResponse struct {
	HolderID       uuid.UUID `json:"holder_id"`
	SellerID       uuid.UUID `json:"seller_id"`
	BalanceUnits   int       `json:"balance_units"`
	ReservedUnits  int       `json:"reserved_units"`
	AvailableUnits int       `json:"available_units"`
	Available      string    `json:"available"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func ToWalletResponse(w *entity.WalletBalance) WalletResponse {
	return WalletResponse{
		HolderID:       w.HolderID,
		SellerID:       w.SellerID,
		BalanceUnits:   int(w.BalanceUnits),
		ReservedUnits:  int(w.ReservedUnits),
		AvailableUnits: int(w.Available()),
		Available:      w.Available().String(),
		UpdatedAt:      w.UpdatedAt,
	}
}

func ToWalletResponses(wallets []*entity.WalletBalance) []WalletResponse {
	out := make([]WalletResponse, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, ToWalletResponse(w))
	}
	return out
}

type AvailableResponse struct {
	HolderID       uuid.UUID `json:"holder_id"`
	SellerID       uuid.UUID `json:"seller_id"`
	AvailableUnits int       `json:"available_units"`
}

type PurchaseResponse struct {
	ID                uuid.UUID                `json:"id"`
	HolderID          uuid.UUID                `json:"holder_id"`
	SellerID          uuid.UUID                `json:"seller_id"`
	CommunityID       *uuid.UUID               `json:"community_id"`
	Units             int                      `json:"units"`
	PricePerUnitCents int64                    `json:"price_per_unit_cents"`
	PlatformFeeBps    int                      `json:"platform_fee_bps"`
	CommunityFeeBps   int                      `json:"community_fee_bps"`
	Fees              valueobject.FeeBreakdown `json:"fees"`
	ExternalRef       *string                  `json:"external_ref"`
	CreatedAt         time.Time                `json:"created_at"`
	Wallet            WalletResponse           `json:"wallet"`
}

func ToPurchaseResponse(p *entity.Purchase, w *entity.WalletBalance) PurchaseResponse {
	return PurchaseResponse{
		ID:                p.ID,
		HolderID:          p.HolderID,
		SellerID:          p.SellerID,
		CommunityID:       p.CommunityID,
		Units:             int(p.Units),
		PricePerUnitCents: int64(p.PricePerUnitCents),
		PlatformFeeBps:    int(p.PlatformFeeBps),
		CommunityFeeBps:   int(p.CommunityFeeBps),
		Fees:              p.Breakdown(),
		ExternalRef:       p.ExternalRef,
		CreatedAt:         p.CreatedAt,
		Wallet:            ToWalletResponse(w),
	}
}
