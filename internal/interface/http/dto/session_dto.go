package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
)

// RequestSessionRequest: price_per_unit_cents необязательна и только сверяется с ценой продавца.
type RequestSessionRequest struct {
	SellerID          uuid.UUID `json:"seller_id" binding:"required"`
	Units             int       `json:"units" binding:"required,gt=0"`
	PricePerUnitCents *int64    `json:"price_per_unit_cents" binding:"omitempty,gte=0"`
	Topic             string    `json:"topic" binding:"max=500"`
	ScheduledAt       time.Time `json:"scheduled_at" binding:"required"`
}

// ReasonRequest: тело отмены и отклонения. Причина необязательна.
type ReasonRequest struct {
	Reason *string `json:"reason" binding:"omitempty,max=1000"`
}

type SessionResponse struct {
	ID                 uuid.UUID                `json:"id"`
	BuyerID            uuid.UUID                `json:"buyer_id"`
	SellerID           uuid.UUID                `json:"seller_id"`
	CommunityID        *uuid.UUID               `json:"community_id"`
	Units              int                      `json:"units"`
	Duration           string                   `json:"duration"`
	PricePerUnitCents  int64                    `json:"price_per_unit_cents"`
	PlatformFeeBps     int                      `json:"platform_fee_bps"`
	CommunityFeeBps    int                      `json:"community_fee_bps"`
	Fees               valueobject.FeeBreakdown `json:"fees"`
	Topic              string                   `json:"topic"`
	Status             string                   `json:"status"`
	ScheduledAt        time.Time                `json:"scheduled_at"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
	DeliveredAt        *time.Time               `json:"delivered_at"`
	ConfirmedAt        *time.Time               `json:"confirmed_at"`
	CancelledAt        *time.Time               `json:"cancelled_at"`
	CancelledBy        *string                  `json:"cancelled_by"`
	CancellationReason *string                  `json:"cancellation_reason"`
	RatedAt            *time.Time               `json:"rated_at"`
	PaidOutAt          *time.Time               `json:"paid_out_at"`
}

func ToSessionResponse(s *entity.Session) SessionResponse {
	resp := SessionResponse{
		ID:                 s.ID,
		BuyerID:            s.BuyerID,
		SellerID:           s.SellerID,
		CommunityID:        s.CommunityID,
		Units:              int(s.Units),
		Duration:           s.Units.String(),
		PricePerUnitCents:  int64(s.PricePerUnitCents),
		PlatformFeeBps:     int(s.PlatformFeeBps),
		CommunityFeeBps:    int(s.CommunityFeeBps),
		Fees:               s.Breakdown(),
		Topic:              s.Topic,
		Status:             string(s.Status),
		ScheduledAt:        s.ScheduledAt,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
		DeliveredAt:        s.DeliveredAt,
		ConfirmedAt:        s.ConfirmedAt,
		CancelledAt:        s.CancelledAt,
		CancellationReason: s.CancellationReason,
		RatedAt:            s.RatedAt,
		PaidOutAt:          s.PaidOutAt,
	}
	if s.CancelledBy != nil {
		party := string(*s.CancelledBy)
		resp.CancelledBy = &party
	}
	return resp
}

func ToSessionResponses(sessions []*entity.Session) []SessionResponse {
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, ToSessionResponse(s))
	}
	return out
}

// QuotedPrice переводит необязательную цену из запроса в Cents.
func QuotedPrice(cents *int64) *valueobject.Cents {
	if cents == nil {
		return nil
	}
	v := valueobject.Cents(*cents)
	return &v
}
