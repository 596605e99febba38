package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
)

// OverrideRequest: переопределение ставок. Отсутствующее поле наследуется от уровня ниже.
type OverrideRequest struct {
	PlatformFeeBps  *int `json:"platform_fee_bps" binding:"omitempty,gte=0,lte=10000"`
	CommunityFeeBps *int `json:"community_fee_bps" binding:"omitempty,gte=0,lte=10000"`
}

func (r OverrideRequest) Rates() (platform, community *valueobject.Bps) {
	if r.PlatformFeeBps != nil {
		b := valueobject.Bps(*r.PlatformFeeBps)
		platform = &b
	}
	if r.CommunityFeeBps != nil {
		b := valueobject.Bps(*r.CommunityFeeBps)
		community = &b
	}
	return platform, community
}

type OverrideResponse struct {
	Scope           string    `json:"scope"`
	ScopeID         uuid.UUID `json:"scope_id"`
	PlatformFeeBps  *int      `json:"platform_fee_bps"`
	CommunityFeeBps *int      `json:"community_fee_bps"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func ToOverrideResponse(o *entity.CommissionOverride) OverrideResponse {
	resp := OverrideResponse{
		Scope:     string(o.Scope),
		ScopeID:   o.ScopeID,
		UpdatedAt: o.UpdatedAt,
	}
	if o.PlatformFeeBps != nil {
		v := int(*o.PlatformFeeBps)
		resp.PlatformFeeBps = &v
	}
	if o.CommunityFeeBps != nil {
		v := int(*o.CommunityFeeBps)
		resp.CommunityFeeBps = &v
	}
	return resp
}

type PayoutResponse struct {
	ID                uuid.UUID `json:"id"`
	SessionID         uuid.UUID `json:"session_id"`
	SellerID          uuid.UUID `json:"seller_id"`
	GrossCents        int64     `json:"gross_cents"`
	PlatformFeeCents  int64     `json:"platform_fee_cents"`
	CommunityFeeCents int64     `json:"community_fee_cents"`
	NetCents          int64     `json:"net_cents"`
	PlatformFeeBps    int       `json:"platform_fee_bps"`
	CommunityFeeBps   int       `json:"community_fee_bps"`
	ExternalRef       string    `json:"external_ref"`
	CreatedAt         time.Time `json:"created_at"`
}

func ToPayoutResponse(p *entity.Payout) PayoutResponse {
	return PayoutResponse{
		ID:                p.ID,
		SessionID:         p.SessionID,
		SellerID:          p.SellerID,
		GrossCents:        int64(p.GrossCents),
		PlatformFeeCents:  int64(p.PlatformFeeCents),
		CommunityFeeCents: int64(p.CommunityFeeCents),
		NetCents:          int64(p.NetCents),
		PlatformFeeBps:    int(p.PlatformFeeBps),
		CommunityFeeBps:   int(p.CommunityFeeBps),
		ExternalRef:       p.ExternalRef,
		CreatedAt:         p.CreatedAt,
	}
}
