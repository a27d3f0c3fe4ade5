package schedule

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonPositiveInterval(t *testing.T) {
	_, err := New("poll", 0, func(context.Context) {}, slog.Default())
	assert.Error(t, err)
}

func TestSchedule_Spec(t *testing.T) {
	s, err := New("poll", 15*time.Second, func(context.Context) {}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "@every 15s", s.Spec())
}

func TestSchedule_RunsUntilStopped(t *testing.T) {
	var runs atomic.Int32

	stopped := make(chan struct{})

	s, err := New("poll", time.Second, func(ctx context.Context) {
		runs.Add(1)

		<-ctx.Done()
		close(stopped)
	}, slog.Default())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	s.Stop()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("job context was not cancelled")
	}

	assert.Equal(t, int32(1), runs.Load(), "overlapping ticks are skipped")

	s.Stop()
}
