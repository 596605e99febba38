package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/repository"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/infrastructure/memory"
	"github.com/ignatzorin/timemarket-backend/internal/logger"
	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/commission"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/wallet"
)

func init() {
	logger.Discard()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) PublishSessionEvent(_ context.Context, e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type env struct {
	sm       *StateMachine
	ledger   *wallet.Ledger
	calc     *commission.Calculator
	store    *memory.Store
	events   *recordingPublisher
	buyerID  uuid.UUID
	sellerID uuid.UUID
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	cfg := commission.DefaultConfig()
	cfg.CacheTTL = 0
	calc, err := commission.NewCalculator(store, store, cfg)
	require.NoError(t, err)
	t.Cleanup(calc.Close)

	ledger := wallet.NewLedger(store, store, calc)
	events := &recordingPublisher{}
	e := &env{
		sm:       NewStateMachine(store, store, ledger, calc, events),
		ledger:   ledger,
		calc:     calc,
		store:    store,
		events:   events,
		buyerID:  uuid.New(),
		sellerID: uuid.New(),
		now:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	e.sm.now = func() time.Time { return e.now }
	store.PutSeller(&entity.SellerProfile{
		UserID:            e.sellerID,
		IsActive:          true,
		MinNoticeHours:    12,
		PricePerUnitCents: 2500,
	})
	return e
}

func (e *env) fund(t *testing.T, units valueobject.Units) {
	t.Helper()
	_, _, err := e.ledger.Purchase(context.Background(), wallet.PurchaseParams{
		HolderID: e.buyerID,
		SellerID: e.sellerID,
		Units:    units,
	})
	require.NoError(t, err)
}

func (e *env) request(t *testing.T, units valueobject.Units) *entity.Session {
	t.Helper()
	s, err := e.sm.RequestSession(context.Background(), e.params(units))
	require.NoError(t, err)
	return s
}

func (e *env) params(units valueobject.Units) RequestParams {
	return RequestParams{
		BuyerID:     e.buyerID,
		SellerID:    e.sellerID,
		Units:       units,
		ScheduledAt: e.now.Add(24 * time.Hour),
	}
}

func (e *env) wallet(t *testing.T) *entity.WalletBalance {
	t.Helper()
	w, err := e.ledger.Balance(context.Background(), e.buyerID, e.sellerID)
	require.NoError(t, err)
	return w
}

func reason(s string) *string { return &s }

func TestScenario_RequestReservesUnits(t *testing.T) {
	e := newEnv(t)
	e.fund(t, 4)

	s := e.request(t, 2)

	assert.Equal(t, valueobject.SessionStatusRequested, s.Status)
	w := e.wallet(t)
	assert.Equal(t, valueobject.Units(4), w.BalanceUnits)
	assert.Equal(t, valueobject.Units(2), w.ReservedUnits)
	assert.Equal(t, valueobject.Units(2), w.Available())
	assert.Equal(t, valueobject.Cents(2500), s.PricePerUnitCents)
}

func TestScenario_SellerDeclineReleases(t *testing.T) {
	e := newEnv(t)
	e.fund(t, 4)
	s := e.request(t, 2)

	declined, err := e.sm.DeclineSession(context.Background(), s.ID, e.sellerID, reason("schedule conflict"))
	require.NoError(t, err)

	assert.Equal(t, valueobject.SessionStatusDeclined, declined.Status)
	require.NotNil(t, declined.CancelledBy)
	assert.Equal(t, entity.CancelledBySeller, *declined.CancelledBy)
	assert.Equal(t, "schedule conflict", *declined.CancellationReason)
	assert.NotNil(t, declined.CancelledAt)

	w := e.wallet(t)
	assert.Equal(t, valueobject.Units(4), w.BalanceUnits)
	assert.Equal(t, valueobject.Units(0), w.ReservedUnits)
}

func TestScenario_FullLifecycleCommitsSpend(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 4)
	s := e.request(t, 2)

	_, err := e.sm.AcceptSession(ctx, s.ID, e.sellerID)
	require.NoError(t, err)
	_, err = e.sm.MarkDelivered(ctx, s.ID, e.sellerID)
	require.NoError(t, err)

	// Резерв держится до подтверждения.
	assert.Equal(t, valueobject.Units(2), e.wallet(t).ReservedUnits)

	completed, err := e.sm.ConfirmSession(ctx, s.ID, e.buyerID)
	require.NoError(t, err)

	assert.Equal(t, valueobject.SessionStatusCompleted, completed.Status)
	assert.NotNil(t, completed.ConfirmedAt)
	w := e.wallet(t)
	assert.Equal(t, valueobject.Units(2), w.BalanceUnits)
	assert.Equal(t, valueobject.Units(0), w.ReservedUnits)
}

func TestScenario_InsufficientBalanceLeavesNoTrace(t *testing.T) {
	e := newEnv(t)
	e.fund(t, 4)
	e.request(t, 2)

	_, err := e.sm.RequestSession(context.Background(), e.params(5))
	assert.True(t, apperror.IsInsufficientBalance(err))

	w := e.wallet(t)
	assert.Equal(t, valueobject.Units(2), w.ReservedUnits)
	sessions, err := e.sm.ListSessions(context.Background(), e.buyerID, repository.SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestScenario_ConcurrentCancelSingleWinner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 4)
	s := e.request(t, 2)
	_, err := e.sm.AcceptSession(ctx, s.ID, e.sellerID)
	require.NoError(t, err)

	actors := []uuid.UUID{e.buyerID, e.sellerID, e.buyerID, e.sellerID, e.buyerID, e.sellerID}
	errs := make([]error, len(actors))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, actor := range actors {
		wg.Add(1)
		go func(i int, actor uuid.UUID) {
			defer wg.Done()
			<-start
			_, errs[i] = e.sm.CancelSession(ctx, s.ID, actor, reason("race"))
		}(i, actor)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, apperror.IsInvalidStateTransition(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, winners)

	w := e.wallet(t)
	assert.Equal(t, valueobject.Units(4), w.BalanceUnits)
	assert.Equal(t, valueobject.Units(0), w.ReservedUnits)
}

func TestScenario_CommunityOverrideSnapshotted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	communityID := uuid.New()
	e.fund(t, 4)

	_, err := e.calc.SetCommunityOverride(ctx, communityID, bpsPtr(300), nil)
	require.NoError(t, err)

	rates, err := e.calc.GetEffectiveRates(ctx, e.sellerID, &communityID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.Bps(300), rates.PlatformFeeBps)
	assert.Equal(t, valueobject.FeeSourceCommunity, rates.Source.Platform)
	assert.Equal(t, valueobject.Bps(1000), rates.CommunityFeeBps)
	assert.Equal(t, valueobject.FeeSourceDefault, rates.Source.Community)

	e.store.PutSeller(&entity.SellerProfile{
		UserID:            e.sellerID,
		IsActive:          true,
		MinNoticeHours:    12,
		PricePerUnitCents: 2500,
		CommunityID:       &communityID,
	})
	s, err := e.sm.RequestSession(ctx, e.params(2))
	require.NoError(t, err)

	// Изменение ставок после бронирования не затрагивает сессию.
	_, err = e.calc.SetCommunityOverride(ctx, communityID, bpsPtr(900), nil)
	require.NoError(t, err)

	stored, err := e.sm.GetSession(ctx, s.ID, e.buyerID)
	require.NoError(t, err)
	require.NotNil(t, stored.CommunityID)
	assert.Equal(t, communityID, *stored.CommunityID)
	assert.Equal(t, valueobject.Bps(300), stored.PlatformFeeBps)
	assert.Equal(t, valueobject.Bps(1000), stored.CommunityFeeBps)
}

func bpsPtr(v int) *valueobject.Bps {
	b := valueobject.Bps(v)
	return &b
}

func TestRequestSession_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 4)

	p := e.params(2)
	p.SellerID = e.buyerID
	_, err := e.sm.RequestSession(ctx, p)
	assert.Equal(t, apperror.ErrCodeInvalidSeller, apperror.CodeOf(err))

	inactive := uuid.New()
	e.store.PutSeller(&entity.SellerProfile{UserID: inactive, IsActive: false})
	p = e.params(1)
	p.SellerID = inactive
	_, err = e.sm.RequestSession(ctx, p)
	assert.Equal(t, apperror.ErrCodeInvalidSeller, apperror.CodeOf(err))

	p = e.params(1)
	p.ScheduledAt = e.now.Add(11 * time.Hour)
	_, err = e.sm.RequestSession(ctx, p)
	assert.Equal(t, apperror.ErrCodeInvalidNotice, apperror.CodeOf(err))

	p.ScheduledAt = e.now.Add(12 * time.Hour)
	_, err = e.sm.RequestSession(ctx, p)
	assert.NoError(t, err)

	_, err = e.sm.RequestSession(ctx, e.params(0))
	assert.True(t, apperror.IsValidation(err))

	p = e.params(1)
	p.Topic = "\x00"
	_, err = e.sm.RequestSession(ctx, p)
	assert.True(t, apperror.IsValidation(err))
}

func TestRequestSession_PriceFromSellerProfile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 4)

	p := e.params(1)
	quoted := valueobject.Cents(1)
	p.QuotedPriceCents = &quoted
	_, err := e.sm.RequestSession(ctx, p)
	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, valueobject.Units(0), e.wallet(t).ReservedUnits)

	quoted = 2500
	s, err := e.sm.RequestSession(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, valueobject.Cents(2500), s.PricePerUnitCents)
	assert.Nil(t, s.CommunityID)
}

func TestCancel_ReasonNormalized(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 2)

	s := e.request(t, 1)
	cancelled, err := e.sm.CancelSession(ctx, s.ID, e.buyerID, reason("  передумал  "))
	require.NoError(t, err)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "передумал", *cancelled.CancellationReason)

	s = e.request(t, 1)
	cancelled, err = e.sm.CancelSession(ctx, s.ID, e.buyerID, reason("   "))
	require.NoError(t, err)
	assert.Nil(t, cancelled.CancellationReason)
}

func TestRequestSession_BoundaryInclusive(t *testing.T) {
	e := newEnv(t)
	e.fund(t, 3)

	_, err := e.sm.RequestSession(context.Background(), e.params(4))
	assert.True(t, apperror.IsInsufficientBalance(err))

	_, err = e.sm.RequestSession(context.Background(), e.params(3))
	assert.NoError(t, err)
}

func TestTransitions_ReadGuard(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 4)
	s := e.request(t, 2)
	stranger := uuid.New()

	_, err := e.sm.AcceptSession(ctx, s.ID, stranger)
	assert.True(t, apperror.IsForbidden(err))
	_, err = e.sm.CancelSession(ctx, s.ID, stranger, nil)
	assert.True(t, apperror.IsForbidden(err))
	_, err = e.sm.GetSession(ctx, s.ID, stranger)
	assert.True(t, apperror.IsForbidden(err))

	_, err = e.sm.AcceptSession(ctx, uuid.New(), e.sellerID)
	assert.True(t, apperror.IsNotFound(err))
	_, err = e.sm.GetSession(ctx, uuid.New(), e.buyerID)
	assert.True(t, apperror.IsNotFound(err))

	// Покупатель не может принять собственный запрос.
	_, err = e.sm.AcceptSession(ctx, s.ID, e.buyerID)
	assert.True(t, apperror.IsForbidden(err))
	// Отклонить может только продавец.
	_, err = e.sm.DeclineSession(ctx, s.ID, e.buyerID, nil)
	assert.True(t, apperror.IsForbidden(err))

	got, err := e.sm.GetSession(ctx, s.ID, e.sellerID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.SessionStatusRequested, got.Status)
}

func TestTransitions_IllegalEdgesRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 4)
	s := e.request(t, 2)

	_, err := e.sm.ConfirmSession(ctx, s.ID, e.buyerID)
	assert.True(t, apperror.IsInvalidStateTransition(err))
	_, err = e.sm.MarkDelivered(ctx, s.ID, e.sellerID)
	assert.True(t, apperror.IsInvalidStateTransition(err))

	_, err = e.sm.AcceptSession(ctx, s.ID, e.sellerID)
	require.NoError(t, err)
	_, err = e.sm.DeclineSession(ctx, s.ID, e.sellerID, nil)
	assert.True(t, apperror.IsInvalidStateTransition(err))

	_, err = e.sm.MarkDelivered(ctx, s.ID, e.sellerID)
	require.NoError(t, err)
	_, err = e.sm.CancelSession(ctx, s.ID, e.buyerID, nil)
	assert.True(t, apperror.IsInvalidStateTransition(err))
	assert.Equal(t, valueobject.Units(2), e.wallet(t).ReservedUnits)
}

func TestConfirm_RetriesCommitOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 4)
	s := e.request(t, 2)
	_, err := e.sm.AcceptSession(ctx, s.ID, e.sellerID)
	require.NoError(t, err)
	_, err = e.sm.MarkDelivered(ctx, s.ID, e.sellerID)
	require.NoError(t, err)

	// Первая попытка падает на коммите и откатывается целиком.
	e.store.FailNextCommit(errors.New("connection reset by peer"))
	_, err = e.sm.ConfirmSession(ctx, s.ID, e.buyerID)
	require.True(t, apperror.IsTransient(err))
	got, err := e.sm.GetSession(ctx, s.ID, e.buyerID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.SessionStatusAwaitingConfirmation, got.Status)
	assert.Equal(t, valueobject.Units(4), e.wallet(t).BalanceUnits)

	for i := 0; i < 5; i++ {
		_, err = e.sm.ConfirmSession(ctx, s.ID, e.buyerID)
		if i == 0 {
			require.NoError(t, err)
		} else {
			assert.True(t, apperror.IsInvalidStateTransition(err))
		}
	}

	w := e.wallet(t)
	assert.Equal(t, valueobject.Units(2), w.BalanceUnits)
	assert.Equal(t, valueobject.Units(0), w.ReservedUnits)
}

func TestConfirm_ConcurrentRetriesCommitOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 6)
	s := e.request(t, 2)
	_, err := e.sm.AcceptSession(ctx, s.ID, e.sellerID)
	require.NoError(t, err)
	_, err = e.sm.MarkDelivered(ctx, s.ID, e.sellerID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.sm.ConfirmSession(ctx, s.ID, e.buyerID)
		}()
	}
	wg.Wait()

	w := e.wallet(t)
	assert.Equal(t, valueobject.Units(4), w.BalanceUnits)
	assert.Equal(t, valueobject.Units(0), w.ReservedUnits)
}

func TestMarkRatedAndPaidOut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 4)
	s := e.request(t, 2)
	for _, step := range []func() (*entity.Session, error){
		func() (*entity.Session, error) { return e.sm.AcceptSession(ctx, s.ID, e.sellerID) },
		func() (*entity.Session, error) { return e.sm.MarkDelivered(ctx, s.ID, e.sellerID) },
		func() (*entity.Session, error) { return e.sm.ConfirmSession(ctx, s.ID, e.buyerID) },
	} {
		_, err := step()
		require.NoError(t, err)
	}

	_, err := e.sm.MarkRated(ctx, s.ID, e.sellerID)
	assert.True(t, apperror.IsForbidden(err))

	rated, err := e.sm.MarkRated(ctx, s.ID, e.buyerID)
	require.NoError(t, err)
	assert.NotNil(t, rated.RatedAt)

	hookCalled := false
	paid, err := e.sm.MarkPaidOut(ctx, s.ID, func(ctx context.Context, tx repository.Tx, s *entity.Session) error {
		hookCalled = true
		assert.Equal(t, valueobject.SessionStatusPaidOut, s.Status)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, hookCalled)
	assert.NotNil(t, paid.PaidOutAt)

	_, err = e.sm.MarkPaidOut(ctx, s.ID, nil)
	assert.True(t, apperror.IsInvalidStateTransition(err))
}

func TestMarkPaidOut_HookFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 4)
	s := e.request(t, 2)
	_, _ = e.sm.AcceptSession(ctx, s.ID, e.sellerID)
	_, _ = e.sm.MarkDelivered(ctx, s.ID, e.sellerID)
	_, err := e.sm.ConfirmSession(ctx, s.ID, e.buyerID)
	require.NoError(t, err)

	_, err = e.sm.MarkPaidOut(ctx, s.ID, func(context.Context, repository.Tx, *entity.Session) error {
		return apperror.New(apperror.ErrCodeTransient, "processor timeout")
	})
	assert.True(t, apperror.IsTransient(err))

	got, err := e.sm.GetSession(ctx, s.ID, e.sellerID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.SessionStatusCompleted, got.Status)
}

func TestEvents_PublishedAfterCommit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 4)
	s := e.request(t, 2)
	_, err := e.sm.CancelSession(ctx, s.ID, e.buyerID, nil)
	require.NoError(t, err)
	_, err = e.sm.CancelSession(ctx, s.ID, e.buyerID, nil)
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		return len(e.events.types()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []EventType{EventRequested, EventCancelled}, e.events.types())
}

func TestListSessions_FiltersByStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, 4)
	a := e.request(t, 1)
	e.request(t, 1)
	_, err := e.sm.AcceptSession(ctx, a.ID, e.sellerID)
	require.NoError(t, err)

	accepted, err := e.sm.ListSessions(ctx, e.sellerID, repository.SessionFilter{
		Statuses: []valueobject.SessionStatus{valueobject.SessionStatusAccepted},
	})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, a.ID, accepted[0].ID)

	_, err = e.sm.ListSessions(ctx, e.sellerID, repository.SessionFilter{
		Statuses: []valueobject.SessionStatus{"BOGUS"},
	})
	assert.True(t, apperror.IsValidation(err))

	none, err := e.sm.ListSessions(ctx, uuid.New(), repository.SessionFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}
