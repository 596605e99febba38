package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/repository"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/logger"
	"github.com/ignatzorin/timemarket-backend/internal/metrics"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

const (
	OpReserve     = "reserve"
	OpRelease     = "release"
	OpCommitSpend = "commit_spend"
	OpPurchase    = "purchase"
)

// RatesResolver отдаёт действующие ставки комиссий.
type RatesResolver interface {
	GetEffectiveRates(ctx context.Context, sellerID uuid.UUID, communityID *uuid.UUID) (valueobject.EffectiveRates, error)
}

// Ledger: единственная точка изменения балансов (holder, seller).
// Каждая операция блокирует строку баланса до конца своей транзакции.
type Ledger struct {
	store   repository.Store
	sellers repository.SellerDirectory
	rates   RatesResolver
	now     func() time.Time
}

func NewLedger(store repository.Store, sellers repository.SellerDirectory, rates RatesResolver) *Ledger {
	return &Ledger{
		store:   store,
		sellers: sellers,
		rates:   rates,
		now:     time.Now,
	}
}

// Reserve резервирует units под ожидающую сессию.
func (l *Ledger) Reserve(ctx context.Context, holderID, sellerID uuid.UUID, units valueobject.Units) (*entity.WalletBalance, error) {
	return l.mutate(ctx, OpReserve, holderID, sellerID, units)
}

// Release снимает резерв. Снятие большего, чем зарезервировано, считается ошибкой учёта LEDGER_INVARIANT.
func (l *Ledger) Release(ctx context.Context, holderID, sellerID uuid.UUID, units valueobject.Units) (*entity.WalletBalance, error) {
	return l.mutate(ctx, OpRelease, holderID, sellerID, units)
}

// CommitSpend списывает зарезервированные units с баланса окончательно.
func (l *Ledger) CommitSpend(ctx context.Context, holderID, sellerID uuid.UUID, units valueobject.Units) (*entity.WalletBalance, error) {
	return l.mutate(ctx, OpCommitSpend, holderID, sellerID, units)
}

func (l *Ledger) mutate(ctx context.Context, op string, holderID, sellerID uuid.UUID, units valueobject.Units) (*entity.WalletBalance, error) {
	var result *entity.WalletBalance
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		w, err := l.ApplyInTx(ctx, tx, op, holderID, sellerID, units, l.now().UTC())
		if err != nil {
			return err
		}
		result = w
		return nil
	})
	RecordOutcome(op, err, units)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyInTx выполняет операцию op внутри уже открытой транзакции вызывающего.
// Вызывается машиной состояний сессий внутри транзакции перехода.
func (l *Ledger) ApplyInTx(ctx context.Context, tx repository.Tx, op string, holderID, sellerID uuid.UUID, units valueobject.Units, now time.Time) (*entity.WalletBalance, error) {
	w, err := tx.LockWallet(ctx, holderID, sellerID)
	if err != nil {
		if op == OpReserve && apperror.IsNotFound(err) {
			// Нет покупок у этого продавца, доступно 0 единиц.
			return nil, apperror.ErrInsufficientBalance
		}
		return nil, err
	}

	switch op {
	case OpReserve:
		err = w.Reserve(units, now)
	case OpRelease:
		err = w.Release(units, now)
	case OpCommitSpend:
		err = w.CommitSpend(units, now)
	default:
		return nil, apperror.Newf(apperror.ErrCodeInternal, "неизвестная операция с балансом %q", op)
	}
	if err != nil {
		if apperror.CodeOf(err) == apperror.ErrCodeLedgerInvariant {
			logger.Log.WithFields(logrus.Fields{
				"holder_id":      holderID,
				"seller_id":      sellerID,
				"operation":      op,
				"units":          units,
				"balance_units":  w.BalanceUnits,
				"reserved_units": w.ReservedUnits,
			}).Error("wallet: нарушен инвариант баланса")
		}
		return nil, err
	}

	if err := tx.SaveWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// ApplyEffect выполняет изменение баланса, предписанное переходом сессии.
func (l *Ledger) ApplyEffect(ctx context.Context, tx repository.Tx, effect valueobject.LedgerEffect, s *entity.Session, now time.Time) error {
	var op string
	switch effect {
	case valueobject.LedgerEffectNone:
		return nil
	case valueobject.LedgerEffectRelease:
		op = OpRelease
	case valueobject.LedgerEffectCommitSpend:
		op = OpCommitSpend
	default:
		return apperror.Newf(apperror.ErrCodeInternal, "неизвестный эффект перехода %q", effect)
	}
	_, err := l.ApplyInTx(ctx, tx, op, s.BuyerID, s.SellerID, s.Units, now)
	return err
}

// AvailableUnits возвращает, сколько единиц продавца покупатель может забронировать. Без баланса 0.
func (l *Ledger) AvailableUnits(ctx context.Context, holderID, sellerID uuid.UUID) (valueobject.Units, error) {
	w, err := l.store.FindWallet(ctx, holderID, sellerID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return w.Available(), nil
}

func (l *Ledger) Balance(ctx context.Context, holderID, sellerID uuid.UUID) (*entity.WalletBalance, error) {
	return l.store.FindWallet(ctx, holderID, sellerID)
}

func (l *Ledger) ListByHolder(ctx context.Context, holderID uuid.UUID) ([]*entity.WalletBalance, error) {
	return l.store.ListWalletsByHolder(ctx, holderID)
}

func (l *Ledger) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]*entity.WalletBalance, error) {
	return l.store.ListWalletsBySeller(ctx, sellerID)
}

// PurchaseParams: покупка единиц после успешной оплаты во внешнем платёжном сервисе.
type PurchaseParams struct {
	HolderID uuid.UUID
	SellerID uuid.UUID
	Units    valueobject.Units
	// QuotedPriceCents: цена, по которой прошла оплата. Если задана, должна совпасть с ценой продавца.
	QuotedPriceCents *valueobject.Cents
	ExternalRef      *string
}

// Purchase зачисляет купленные единицы и сохраняет покупку со ставками комиссий на момент оплаты.
func (l *Ledger) Purchase(ctx context.Context, p PurchaseParams) (*entity.Purchase, *entity.WalletBalance, error) {
	if p.Units <= 0 {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "количество единиц должно быть положительным")
	}
	if p.HolderID == p.SellerID {
		return nil, nil, apperror.ErrInvalidSeller
	}

	seller, err := l.sellers.FindSeller(ctx, p.SellerID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil, apperror.Wrap(err, apperror.ErrCodeInvalidSeller, "продавец не найден")
		}
		return nil, nil, err
	}
	if !seller.IsActive {
		return nil, nil, apperror.ErrInvalidSeller
	}

	if err := seller.CheckQuotedPrice(p.QuotedPriceCents); err != nil {
		return nil, nil, err
	}

	rates, err := l.rates.GetEffectiveRates(ctx, p.SellerID, seller.CommunityID)
	if err != nil {
		return nil, nil, err
	}

	now := l.now().UTC()
	purchase := &entity.Purchase{
		ID:                uuid.New(),
		HolderID:          p.HolderID,
		SellerID:          p.SellerID,
		CommunityID:       seller.CommunityID,
		Units:             p.Units,
		PricePerUnitCents: seller.PricePerUnitCents,
		PlatformFeeBps:    rates.PlatformFeeBps,
		CommunityFeeBps:   rates.CommunityFeeBps,
		ExternalRef:       p.ExternalRef,
		CreatedAt:         now,
	}

	var balance *entity.WalletBalance
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.LockOrCreateWallet(ctx, p.HolderID, p.SellerID, now)
		if err != nil {
			return err
		}
		if err := w.Credit(p.Units, now); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.CreatePurchase(ctx, purchase); err != nil {
			return err
		}
		balance = w
		return nil
	})
	RecordOutcome(OpPurchase, err, p.Units)
	if err != nil {
		return nil, nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"purchase_id":   purchase.ID,
		"holder_id":     p.HolderID,
		"seller_id":     p.SellerID,
		"units":         p.Units,
		"gross_cents":   purchase.Breakdown().GrossCents,
		"balance_units": balance.BalanceUnits,
	}).Info("wallet: единицы зачислены")

	return purchase, balance, nil
}

// RecordOutcome фиксирует результат операции с балансом в метриках.
func RecordOutcome(op string, err error, units valueobject.Units) {
	result := "ok"
	if err != nil {
		result = string(apperror.CodeOf(err))
	}
	metrics.RecordLedger(op, result, int(units))
}
