package entity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

func newFundedWallet(t *testing.T, units valueobject.Units) *WalletBalance {
	t.Helper()
	w := NewWalletBalance(uuid.New(), uuid.New(), time.Now())
	require.NoError(t, w.Credit(units, time.Now()))
	return w
}

func TestWalletBalance_ReserveBoundaryIsInclusive(t *testing.T) {
	w := newFundedWallet(t, 4)

	require.NoError(t, w.Reserve(4, time.Now()))
	assert.Equal(t, valueobject.Units(0), w.Available())

	err := w.Reserve(1, time.Now())
	assert.True(t, apperror.IsInsufficientBalance(err))
	assert.Equal(t, valueobject.Units(4), w.ReservedUnits)
}

func TestWalletBalance_ReleaseRestoresAvailability(t *testing.T) {
	w := newFundedWallet(t, 4)
	before := w.Available()

	require.NoError(t, w.Reserve(3, time.Now()))
	require.NoError(t, w.Release(3, time.Now()))

	assert.Equal(t, before, w.Available())
	assert.Equal(t, valueobject.Units(4), w.BalanceUnits)
}

func TestWalletBalance_ReleaseMoreThanReservedIsInvariantBreach(t *testing.T) {
	w := newFundedWallet(t, 4)
	require.NoError(t, w.Reserve(1, time.Now()))

	err := w.Release(2, time.Now())
	assert.Equal(t, apperror.ErrCodeLedgerInvariant, apperror.CodeOf(err))
	assert.Equal(t, valueobject.Units(1), w.ReservedUnits)
}

func TestWalletBalance_CommitSpendConsumesReservation(t *testing.T) {
	w := newFundedWallet(t, 4)
	require.NoError(t, w.Reserve(2, time.Now()))

	require.NoError(t, w.CommitSpend(2, time.Now()))

	assert.Equal(t, valueobject.Units(2), w.BalanceUnits)
	assert.Equal(t, valueobject.Units(0), w.ReservedUnits)
	assert.Equal(t, valueobject.Units(2), w.Available())
}

func TestWalletBalance_CommitSpendWithoutReservationFails(t *testing.T) {
	w := newFundedWallet(t, 4)

	err := w.CommitSpend(1, time.Now())
	assert.Equal(t, apperror.ErrCodeLedgerInvariant, apperror.CodeOf(err))
	assert.Equal(t, valueobject.Units(4), w.BalanceUnits)
}

func TestWalletBalance_CreditRejectsNonPositive(t *testing.T) {
	w := NewWalletBalance(uuid.New(), uuid.New(), time.Now())
	assert.Error(t, w.Credit(0, time.Now()))
}
