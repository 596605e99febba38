package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

// WalletBalance: купленные покупателем единицы конкретного продавца.
// Инвариант: 0 <= ReservedUnits <= BalanceUnits.
type WalletBalance struct {
	HolderID      uuid.UUID
	SellerID      uuid.UUID
	BalanceUnits  valueobject.Units
	ReservedUnits valueobject.Units
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewWalletBalance(holderID, sellerID uuid.UUID, now time.Time) *WalletBalance {
	return &WalletBalance{
		HolderID:  holderID,
		SellerID:  sellerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Available: сколько единиц можно потратить на новые бронирования.
func (w *WalletBalance) Available() valueobject.Units {
	return w.BalanceUnits - w.ReservedUnits
}

// Credit зачисляет купленные единицы.
func (w *WalletBalance) Credit(units valueobject.Units, now time.Time) error {
	if units <= 0 {
		return apperror.New(apperror.ErrCodeValidation, "количество единиц должно быть положительным")
	}
	w.BalanceUnits += units
	w.UpdatedAt = now
	return nil
}

// Reserve резервирует единицы под ожидающую сессию.
func (w *WalletBalance) Reserve(units valueobject.Units, now time.Time) error {
	if units <= 0 {
		return apperror.New(apperror.ErrCodeValidation, "количество единиц должно быть положительным")
	}
	if w.Available() < units {
		return apperror.ErrInsufficientBalance
	}
	w.ReservedUnits += units
	w.UpdatedAt = now
	return w.check()
}

// Release снимает резерв, доступный остаток восстанавливается.
func (w *WalletBalance) Release(units valueobject.Units, now time.Time) error {
	if units <= 0 || w.ReservedUnits < units {
		return apperror.Newf(apperror.ErrCodeLedgerInvariant,
			"снятие резерва %d при зарезервированных %d", units, w.ReservedUnits)
	}
	w.ReservedUnits -= units
	w.UpdatedAt = now
	return w.check()
}

// CommitSpend превращает резерв в окончательное списание.
func (w *WalletBalance) CommitSpend(units valueobject.Units, now time.Time) error {
	if units <= 0 || w.ReservedUnits < units || w.BalanceUnits < units {
		return apperror.Newf(apperror.ErrCodeLedgerInvariant,
			"списание %d при балансе %d и резерве %d", units, w.BalanceUnits, w.ReservedUnits)
	}
	w.BalanceUnits -= units
	w.ReservedUnits -= units
	w.UpdatedAt = now
	return w.check()
}

func (w *WalletBalance) check() error {
	if w.ReservedUnits < 0 || w.ReservedUnits > w.BalanceUnits {
		return apperror.Newf(apperror.ErrCodeLedgerInvariant,
			"нарушен инвариант баланса: резерв %d, баланс %d", w.ReservedUnits, w.BalanceUnits)
	}
	return nil
}

// Purchase: покупка единиц с зафиксированными на момент покупки комиссиями.
type Purchase struct {
	ID                uuid.UUID
	HolderID          uuid.UUID
	SellerID          uuid.UUID
	CommunityID       *uuid.UUID
	Units             valueobject.Units
	PricePerUnitCents valueobject.Cents
	PlatformFeeBps    valueobject.Bps
	CommunityFeeBps   valueobject.Bps
	ExternalRef       *string
	CreatedAt         time.Time
}

func (p *Purchase) Breakdown() valueobject.FeeBreakdown {
	return valueobject.SplitFees(p.PricePerUnitCents.Times(p.Units), p.PlatformFeeBps, p.CommunityFeeBps)
}
