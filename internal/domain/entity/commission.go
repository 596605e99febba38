package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
)

// OverrideScope: уровень переопределения комиссии.
type OverrideScope string

const (
	OverrideScopeSeller    OverrideScope = "seller"
	OverrideScopeCommunity OverrideScope = "community"
)

func (s OverrideScope) IsValid() bool {
	return s == OverrideScopeSeller || s == OverrideScopeCommunity
}

// Source: уровень, который попадёт в разбивку комиссий.
func (s OverrideScope) Source() valueobject.FeeSource {
	if s == OverrideScopeCommunity {
		return valueobject.FeeSourceCommunity
	}
	return valueobject.FeeSourceSeller
}

// CommissionOverride: частичное переопределение ставок; nil-поле берётся с уровня ниже.
type CommissionOverride struct {
	Scope           OverrideScope
	ScopeID         uuid.UUID
	PlatformFeeBps  *valueobject.Bps
	CommunityFeeBps *valueobject.Bps
	UpdatedAt       time.Time
}

func (o *CommissionOverride) IsEmpty() bool {
	return o == nil || (o.PlatformFeeBps == nil && o.CommunityFeeBps == nil)
}
