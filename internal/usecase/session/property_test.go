package session

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
	"github.com/ignatzorin/timemarket-backend/internal/domain/repository"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
)

// step: случайное действие над одной из сессий сценария.
type step struct {
	Kind    int
	Session int
	Units   int
	ByBuyer bool
}

func stepGen() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 7),
		gen.IntRange(0, 3),
		gen.IntRange(1, 3),
		gen.Bool(),
	).Map(func(v []interface{}) step {
		return step{Kind: v[0].(int), Session: v[1].(int), Units: v[2].(int), ByBuyer: v[3].(bool)}
	})
}

// run применяет шаги и возвращает созданные сессии.
func (e *env) run(ctx context.Context, steps []step) []uuid.UUID {
	var ids []uuid.UUID
	for _, st := range steps {
		actor := e.sellerID
		if st.ByBuyer {
			actor = e.buyerID
		}
		if st.Kind == 0 || len(ids) == 0 {
			s, err := e.sm.RequestSession(ctx, e.params(valueobject.Units(st.Units)))
			if err == nil {
				ids = append(ids, s.ID)
			}
			continue
		}
		id := ids[st.Session%len(ids)]
		switch st.Kind {
		case 1:
			_, _ = e.sm.AcceptSession(ctx, id, actor)
		case 2:
			_, _ = e.sm.DeclineSession(ctx, id, actor, nil)
		case 3:
			_, _ = e.sm.CancelSession(ctx, id, actor, nil)
		case 4:
			_, _ = e.sm.MarkDelivered(ctx, id, actor)
		case 5:
			_, _ = e.sm.ConfirmSession(ctx, id, actor)
		case 6:
			_, _ = e.sm.MarkRated(ctx, id, actor)
		case 7:
			_, _ = e.sm.MarkPaidOut(ctx, id, nil)
		}
	}
	return ids
}

func (e *env) all(ctx context.Context) []*entity.Session {
	sessions, _ := e.sm.ListSessions(ctx, e.buyerID, repository.SessionFilter{})
	return sessions
}

func TestStateMachine_LedgerReconcilesWithSessions(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	const funded = 6

	properties.Property("reserved equals units of sessions holding a reservation", prop.ForAll(
		func(steps []step) bool {
			e := newEnv(t)
			ctx := context.Background()
			e.fund(t, funded)
			e.run(ctx, steps)

			var held, spent valueobject.Units
			for _, s := range e.all(ctx) {
				if s.Status.HoldsReservation() {
					held += s.Units
				}
				if s.ConfirmedAt != nil {
					spent += s.Units
				}
			}

			w := e.wallet(t)
			return w.ReservedUnits == held &&
				w.BalanceUnits == funded-spent &&
				w.ReservedUnits >= 0 &&
				w.ReservedUnits <= w.BalanceUnits
		},
		gen.SliceOf(stepGen()),
	))

	properties.TestingRun(t)
}

func TestStateMachine_StatusesFollowTransitionTable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every published event is a legal edge", prop.ForAll(
		func(steps []step) bool {
			e := newEnv(t)
			ctx := context.Background()
			e.fund(t, 6)
			rec := &recordingPublisher{}
			e.sm.events = rec
			e.run(ctx, steps)

			for _, s := range e.all(ctx) {
				if !s.Status.IsValid() {
					return false
				}
				if s.Status == valueobject.SessionStatusPaidOut && s.ConfirmedAt == nil {
					return false
				}
				if s.Status.IsTerminal() && s.Status != valueobject.SessionStatusPaidOut && s.CancelledAt == nil {
					return false
				}
			}

			// События доставляются асинхронно, проверяем уже полученные.
			rec.mu.Lock()
			defer rec.mu.Unlock()
			for _, ev := range rec.events {
				if ev.Type == EventRequested {
					continue
				}
				if !ev.From.CanTransitionTo(ev.Session.Status) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(stepGen()),
	))

	properties.TestingRun(t)
}
