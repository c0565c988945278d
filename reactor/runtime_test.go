package reactor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/badu/vortex/reactor"
)

func TestRuntimePinRoundRobins(t *testing.T) {
	rt := reactor.New(reactor.Config{Workers: 3})
	seen := map[int]bool{}
	for i := 0; i < 6; i++ {
		seen[rt.Pin()] = true
	}
	require.Len(t, seen, 3)
}

func TestRuntimeRunExecutesInOrderPerWorker(t *testing.T) {
	rt := reactor.New(reactor.Config{Workers: 1})
	out := make(chan int, 3)
	rt.Run(0, func() { out <- 1 })
	rt.Run(0, func() { out <- 2 })
	rt.Run(0, func() { out <- 3 })
	require.Equal(t, 1, <-out)
	require.Equal(t, 2, <-out)
	require.Equal(t, 3, <-out)
}

func TestSleepCompletes(t *testing.T) {
	rt := reactor.New(reactor.Config{Workers: 1})
	start := time.Now()
	_, err := rt.Sleep(context.Background(), 10*time.Millisecond).Await(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSleepCancelled(t *testing.T) {
	rt := reactor.New(reactor.Config{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	f := rt.Sleep(ctx, time.Hour)
	cancel()
	_, err := f.Await(ctx)
	require.ErrorIs(t, err, reactor.ErrCancelled)
}

func TestCancelToken(t *testing.T) {
	tok := reactor.NewCancelToken(context.Background())
	require.False(t, tok.Cancelled())
	tok.Cancel()
	require.True(t, tok.Cancelled())
}

func TestFileSlotAcquireRelease(t *testing.T) {
	rt := reactor.New(reactor.Config{Workers: 1, MaxConcurrentFile: 1})
	require.NoError(t, rt.AcquireFileSlot(context.Background()))
	rt.ReleaseFileSlot()
	require.NoError(t, rt.AcquireFileSlot(context.Background()))
	rt.ReleaseFileSlot()
}
