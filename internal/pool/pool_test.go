package pool

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkers(t *testing.T) {
	t.Parallel()

	cpu := runtime.NumCPU()
	require.Equal(t, 1, Workers(0, 4))
	require.Equal(t, 1, Workers(1, 4))
	require.Equal(t, min(cpu, 3), Workers(3, 8))
	require.Equal(t, min(cpu, 2), Workers(100, 2))
	require.LessOrEqual(t, Workers(100, 50), HardCap)
	require.LessOrEqual(t, Workers(100, 0), HardCap)
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var (
		active  atomic.Int32
		peak    atomic.Int32
		visited atomic.Int32
	)
	items := make([]int, 20)
	err := Run(context.Background(), items, 3, func(context.Context, int, int) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		visited.Add(1)
	})
	require.NoError(t, err)
	require.Equal(t, int32(20), visited.Load())
	require.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var visited atomic.Int32
	err := Run(ctx, make([]int, 100), 1, func(context.Context, int, int) {
		if visited.Add(1) == 2 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, visited.Load(), int32(100))
}
