package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	cstypes "github.com/roundstep/roundstep/consensus/types"
	"github.com/roundstep/roundstep/libs/log"
)

func startTicker(ctx context.Context, t *testing.T) TimeoutTicker {
	t.Helper()
	ticker := NewTimeoutTicker(log.NewTestingLogger(t))
	require.NoError(t, ticker.Start(ctx))
	t.Cleanup(func() { _ = ticker.Stop() })
	return ticker
}

func TestTimeoutTickerFires(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := startTicker(ctx, t)

	ticker.ScheduleTimeout(timeoutInfo{
		Duration: 5 * time.Millisecond,
		Height:   1,
		Round:    0,
		Step:     cstypes.RoundStepPropose,
	})

	select {
	case ti := <-ticker.Chan():
		require.Equal(t, int64(1), ti.Height)
		require.Equal(t, cstypes.RoundStepPropose, ti.Step)
	case <-time.After(ensureTimeout):
		t.Fatal("expected timeout to fire")
	}
}

// a tick for an older height/round/step than the pending one is ignored
func TestTimeoutTickerIgnoresStaleTicks(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := startTicker(ctx, t)

	ticker.ScheduleTimeout(timeoutInfo{
		Duration: 50 * time.Millisecond,
		Height:   2,
		Round:    0,
		Step:     cstypes.RoundStepPropose,
	})
	// stale: lower height with a much shorter duration
	ticker.ScheduleTimeout(timeoutInfo{
		Duration: time.Millisecond,
		Height:   1,
		Round:    0,
		Step:     cstypes.RoundStepPropose,
	})

	select {
	case ti := <-ticker.Chan():
		require.Equal(t, int64(2), ti.Height, "stale tick should not have fired")
	case <-time.After(ensureTimeout):
		t.Fatal("expected timeout to fire")
	}
}

// a tick for a newer round replaces the pending timer
func TestTimeoutTickerNewerTickReplaces(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := startTicker(ctx, t)

	ticker.ScheduleTimeout(timeoutInfo{
		Duration: 10 * time.Second,
		Height:   1,
		Round:    0,
		Step:     cstypes.RoundStepPropose,
	})
	ticker.ScheduleTimeout(timeoutInfo{
		Duration: 5 * time.Millisecond,
		Height:   1,
		Round:    1,
		Step:     cstypes.RoundStepPropose,
	})

	select {
	case ti := <-ticker.Chan():
		require.Equal(t, int32(1), ti.Round, "newer tick should have replaced the timer")
	case <-time.After(ensureTimeout):
		t.Fatal("expected timeout to fire")
	}
}
