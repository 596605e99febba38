package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

// SellerProfile: политика продавца, которую ведёт внешний профильный сервис.
type SellerProfile struct {
	UserID            uuid.UUID
	IsActive          bool
	MinNoticeHours    int
	PricePerUnitCents valueobject.Cents
	CommunityID       *uuid.UUID
}

// EarliestStart: самое раннее допустимое время сессии с учётом минимального уведомления.
func (p *SellerProfile) EarliestStart(now time.Time) time.Time {
	return now.Add(time.Duration(p.MinNoticeHours) * time.Hour)
}

// CheckQuotedPrice сверяет цену, которую видел клиент, с текущей ценой продавца.
// nil означает, что клиент цену не передавал.
func (p *SellerProfile) CheckQuotedPrice(quoted *valueobject.Cents) error {
	if quoted == nil || *quoted == p.PricePerUnitCents {
		return nil
	}
	return apperror.Newf(apperror.ErrCodeValidation,
		"цена продавца изменилась: %d вместо %d", p.PricePerUnitCents, *quoted)
}
