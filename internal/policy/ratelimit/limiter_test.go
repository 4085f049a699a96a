package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://blog.example.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://blog.example.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterOverrideAndUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0, PerHostRPS: map[string]float64{"Slow.Example.com": 0.001}})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx, "https://fast.example.com/"))
	}

	require.NoError(t, l.Wait(ctx, "https://slow.example.com/"))
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(short, "https://slow.example.com/"))
}
