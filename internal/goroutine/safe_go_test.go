package goroutine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RecoversPanic(t *testing.T) {
	log, hook := test.NewNullLogger()
	r := NewRunner(log)

	r.Go("explode", func() {
		panic("boom")
	})
	require.NoError(t, r.Wait(context.Background()))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "boom", entry.Data["panic"])
	assert.Equal(t, "explode", entry.Data["task"])
}

func TestRunner_WaitForPending(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := NewRunner(log)

	release := make(chan struct{})
	finished := make(chan struct{})
	r.GoWithContext(context.Background(), "slow", func(context.Context) {
		<-release
		close(finished)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, r.Wait(context.Background()))
	select {
	case <-finished:
	default:
		t.Fatal("задача должна завершиться до возврата Wait")
	}
}
