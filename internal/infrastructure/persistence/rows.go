package persistence

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
)

const walletColumns = `holder_id, seller_id, balance_units, reserved_units, created_at, updated_at`

type walletRow struct {
	HolderID      uuid.UUID `db:"holder_id"`
	SellerID      uuid.UUID `db:"seller_id"`
	BalanceUnits  int       `db:"balance_units"`
	ReservedUnits int       `db:"reserved_units"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r *walletRow) toEntity() *entity.WalletBalance {
	return &entity.WalletBalance{
		HolderID:      r.HolderID,
		SellerID:      r.SellerID,
		BalanceUnits:  valueobject.Units(r.BalanceUnits),
		ReservedUnits: valueobject.Units(r.ReservedUnits),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

const sessionColumns = `id, buyer_id, seller_id, community_id, units, price_per_unit_cents,
	platform_fee_bps, community_fee_bps, topic, status, scheduled_at, created_at, updated_at,
	delivered_at, confirmed_at, cancelled_at, cancelled_by, cancellation_reason, rated_at, paid_out_at`

type sessionRow struct {
	ID                 uuid.UUID     `db:"id"`
	BuyerID            uuid.UUID     `db:"buyer_id"`
	SellerID           uuid.UUID     `db:"seller_id"`
	CommunityID        uuid.NullUUID `db:"community_id"`
	Units              int           `db:"units"`
	PricePerUnitCents  int64         `db:"price_per_unit_cents"`
	PlatformFeeBps     int           `db:"platform_fee_bps"`
	CommunityFeeBps    int           `db:"community_fee_bps"`
	Topic              string        `db:"topic"`
	Status             string        `db:"status"`
	ScheduledAt        time.Time     `db:"scheduled_at"`
	CreatedAt          time.Time     `db:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"`
	DeliveredAt        *time.Time    `db:"delivered_at"`
	ConfirmedAt        *time.Time    `db:"confirmed_at"`
	CancelledAt        *time.Time    `db:"cancelled_at"`
	CancelledBy        *string       `db:"cancelled_by"`
	CancellationReason *string       `db:"cancellation_reason"`
	RatedAt            *time.Time    `db:"rated_at"`
	PaidOutAt          *time.Time    `db:"paid_out_at"`
}

func (r *sessionRow) toEntity() *entity.Session {
	s := &entity.Session{
		ID:                 r.ID,
		BuyerID:            r.BuyerID,
		SellerID:           r.SellerID,
		CommunityID:        fromNullUUID(r.CommunityID),
		Units:              valueobject.Units(r.Units),
		PricePerUnitCents:  valueobject.Cents(r.PricePerUnitCents),
		PlatformFeeBps:     valueobject.Bps(r.PlatformFeeBps),
		CommunityFeeBps:    valueobject.Bps(r.CommunityFeeBps),
		Topic:              r.Topic,
		Status:             valueobject.SessionStatus(r.Status),
		ScheduledAt:        r.ScheduledAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		DeliveredAt:        r.DeliveredAt,
		ConfirmedAt:        r.ConfirmedAt,
		CancelledAt:        r.CancelledAt,
		CancellationReason: r.CancellationReason,
		RatedAt:            r.RatedAt,
		PaidOutAt:          r.PaidOutAt,
	}
	if r.CancelledBy != nil {
		party := entity.CancelParty(*r.CancelledBy)
		s.CancelledBy = &party
	}
	return s
}

func cancelledByValue(p *entity.CancelParty) *string {
	if p == nil {
		return nil
	}
	v := string(*p)
	return &v
}

const payoutColumns = `id, session_id, seller_id, gross_cents, platform_fee_cents, community_fee_cents,
	net_cents, platform_fee_bps, community_fee_bps, external_ref, created_at`

type payoutRow struct {
	ID                uuid.UUID `db:"id"`
	SessionID         uuid.UUID `db:"session_id"`
	SellerID          uuid.UUID `db:"seller_id"`
	GrossCents        int64     `db:"gross_cents"`
	PlatformFeeCents  int64     `db:"platform_fee_cents"`
	CommunityFeeCents int64     `db:"community_fee_cents"`
	NetCents          int64     `db:"net_cents"`
	PlatformFeeBps    int       `db:"platform_fee_bps"`
	CommunityFeeBps   int       `db:"community_fee_bps"`
	ExternalRef       string    `db:"external_ref"`
	CreatedAt         time.Time `db:"created_at"`
}

func (r *payoutRow) toEntity() *entity.Payout {
	return &entity.Payout{
		ID:                r.ID,
		SessionID:         r.SessionID,
		SellerID:          r.SellerID,
		GrossCents:        valueobject.Cents(r.GrossCents),
		PlatformFeeCents:  valueobject.Cents(r.PlatformFeeCents),
		CommunityFeeCents: valueobject.Cents(r.CommunityFeeCents),
		NetCents:          valueobject.Cents(r.NetCents),
		PlatformFeeBps:    valueobject.Bps(r.PlatformFeeBps),
		CommunityFeeBps:   valueobject.Bps(r.CommunityFeeBps),
		ExternalRef:       r.ExternalRef,
		CreatedAt:         r.CreatedAt,
	}
}

const payoutAttemptColumns = `session_id, attempts, last_error, next_attempt_at, updated_at`

type payoutAttemptRow struct {
	SessionID     uuid.UUID `db:"session_id"`
	Attempts      int       `db:"attempts"`
	LastError     string    `db:"last_error"`
	NextAttemptAt time.Time `db:"next_attempt_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r *payoutAttemptRow) toEntity() *entity.PayoutAttempt {
	return &entity.PayoutAttempt{
		SessionID:     r.SessionID,
		Attempts:      r.Attempts,
		LastError:     r.LastError,
		NextAttemptAt: r.NextAttemptAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type sellerRow struct {
	UserID            uuid.UUID     `db:"user_id"`
	IsActive          bool          `db:"is_active"`
	MinNoticeHours    int           `db:"min_notice_hours"`
	PricePerUnitCents int64         `db:"price_per_unit_cents"`
	CommunityID       uuid.NullUUID `db:"community_id"`
}

func (r *sellerRow) toEntity() *entity.SellerProfile {
	return &entity.SellerProfile{
		UserID:            r.UserID,
		IsActive:          r.IsActive,
		MinNoticeHours:    r.MinNoticeHours,
		PricePerUnitCents: valueobject.Cents(r.PricePerUnitCents),
		CommunityID:       fromNullUUID(r.CommunityID),
	}
}

type overrideRow struct {
	Scope           string    `db:"scope"`
	ScopeID         uuid.UUID `db:"scope_id"`
	PlatformFeeBps  *int      `db:"platform_fee_bps"`
	CommunityFeeBps *int      `db:"community_fee_bps"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r *overrideRow) toEntity() *entity.CommissionOverride {
	return &entity.CommissionOverride{
		Scope:           entity.OverrideScope(r.Scope),
		ScopeID:         r.ScopeID,
		PlatformFeeBps:  fromNullInt(r.PlatformFeeBps),
		CommunityFeeBps: fromNullInt(r.CommunityFeeBps),
		UpdatedAt:       r.UpdatedAt,
	}
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullUUID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

func toNullInt(b *valueobject.Bps) *int {
	if b == nil {
		return nil
	}
	v := int(*b)
	return &v
}

func fromNullInt(v *int) *valueobject.Bps {
	if v == nil {
		return nil
	}
	b := valueobject.Bps(*v)
	return &b
}
