package valueobject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnits_String(t *testing.T) {
	assert.Equal(t, "30 min", Units(1).String())
	assert.Equal(t, "1 hour", Units(2).String())
	assert.Equal(t, "1.5 hours", Units(3).String())
	assert.Equal(t, "2 hours", Units(4).String())
	assert.Equal(t, 90, Units(3).Minutes())
}

func TestNewUnits_RejectsNonPositive(t *testing.T) {
	_, err := NewUnits(0)
	assert.Error(t, err)
	_, err = NewUnits(-2)
	assert.Error(t, err)

	u, err := NewUnits(2)
	require.NoError(t, err)
	assert.Equal(t, Units(2), u)
}

func TestCents_String(t *testing.T) {
	assert.Equal(t, "$12.05", Cents(1205).String())
	assert.Equal(t, "-$0.50", Cents(-50).String())
	assert.Equal(t, Cents(5000), Cents(2500).Times(2))
}

func TestSplitFees_FloorsEachFee(t *testing.T) {
	b := SplitFees(Cents(999), 500, 1000)

	assert.Equal(t, Cents(49), b.PlatformFeeCents)
	assert.Equal(t, Cents(99), b.CommunityFeeCents)
	assert.Equal(t, Cents(851), b.NetCents)
	assert.Equal(t, b.GrossCents, b.PlatformFeeCents+b.CommunityFeeCents+b.NetCents)
}

func TestNewBps_Range(t *testing.T) {
	_, err := NewBps(-1)
	assert.Error(t, err)
	_, err = NewBps(10001)
	assert.Error(t, err)
	v, err := NewBps(300)
	require.NoError(t, err)
	assert.Equal(t, Bps(300), v)
}

func TestTransitionTable_Edges(t *testing.T) {
	cases := []struct {
		from   SessionStatus
		action SessionAction
		to     SessionStatus
		effect LedgerEffect
		actor  ActorRole
	}{
		{SessionStatusRequested, ActionAccept, SessionStatusAccepted, LedgerEffectNone, RoleSeller},
		{SessionStatusRequested, ActionDecline, SessionStatusDeclined, LedgerEffectRelease, RoleSeller},
		{SessionStatusRequested, ActionCancel, SessionStatusCancelled, LedgerEffectRelease, RoleParty},
		{SessionStatusAccepted, ActionCancel, SessionStatusCancelled, LedgerEffectRelease, RoleParty},
		{SessionStatusAccepted, ActionDeliver, SessionStatusAwaitingConfirmation, LedgerEffectNone, RoleSeller},
		{SessionStatusAwaitingConfirmation, ActionConfirm, SessionStatusCompleted, LedgerEffectCommitSpend, RoleBuyer},
		{SessionStatusCompleted, ActionRate, SessionStatusRated, LedgerEffectNone, RoleBuyer},
		{SessionStatusCompleted, ActionPayout, SessionStatusPaidOut, LedgerEffectNone, RoleSystem},
		{SessionStatusRated, ActionPayout, SessionStatusPaidOut, LedgerEffectNone, RoleSystem},
	}
	for _, tc := range cases {
		tr, ok := LookupTransition(tc.from, tc.action)
		require.True(t, ok, "%s --%s-->", tc.from, tc.action)
		assert.Equal(t, tc.to, tr.To)
		assert.Equal(t, tc.effect, tr.Effect)
		assert.Equal(t, tc.actor, tr.Actor)
	}
	assert.Len(t, Transitions(), len(cases))
}

func TestTransitionTable_RejectsShortcuts(t *testing.T) {
	_, ok := LookupTransition(SessionStatusRequested, ActionConfirm)
	assert.False(t, ok)
	_, ok = LookupTransition(SessionStatusAwaitingConfirmation, ActionCancel)
	assert.False(t, ok)
	_, ok = LookupTransition(SessionStatusCompleted, ActionConfirm)
	assert.False(t, ok)
	assert.False(t, SessionStatusRequested.CanTransitionTo(SessionStatusCompleted))
	assert.True(t, SessionStatusAccepted.CanTransitionTo(SessionStatusCancelled))
}

func TestSessionStatus_Terminal(t *testing.T) {
	for _, s := range []SessionStatus{SessionStatusDeclined, SessionStatusCancelled, SessionStatusPaidOut} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []SessionStatus{SessionStatusRequested, SessionStatusAccepted, SessionStatusCompleted, SessionStatusRated} {
		assert.False(t, s.IsTerminal(), s)
	}
	assert.False(t, SessionStatus("BOGUS").IsTerminal())
}

func TestActorRole_Allows(t *testing.T) {
	assert.True(t, RoleParty.Allows(RoleBuyer))
	assert.True(t, RoleParty.Allows(RoleSeller))
	assert.False(t, RoleParty.Allows(RoleSystem))
	assert.False(t, RoleSeller.Allows(RoleBuyer))
}
