package resultcache

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-kit/log"
	"github.com/prometheus/prometheus/model/labels"
	"github.com/stretchr/testify/require"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
	"github.com/openobserve/promql-engine/pkg/seriessig"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	provider := NewRedisProvider(RedisConfig{Endpoint: srv.Addr()}, log.NewNopLogger())
	t.Cleanup(func() { _ = provider.Close() })
	return New(provider, seriessig.Signature, log.NewNopLogger())
}

func series(name string, samples ...promqlvalue.Sample) promqlvalue.Range {
	return promqlvalue.Range{
		Labels:  labels.FromStrings("__name__", name),
		Samples: samples,
	}
}

func TestNilProviderIsAlwaysAMiss(t *testing.T) {
	c := New(nil, seriessig.Signature, log.NewNopLogger())
	_, _, ok := c.Get(context.Background(), "up", "org1", 0, 100, 10)
	require.False(t, ok)

	// Set against a nil provider must not panic.
	c.Set(context.Background(), "t1", "org1", "up", 0, 100, 10, promqlvalue.Matrix{}, false)
}

// Round trip: set(q,a,b,M); get(q,a,b) == (b+step, M).
func TestRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	m := promqlvalue.Matrix{Series: []promqlvalue.Range{
		series("up", promqlvalue.Sample{Timestamp: 0, Value: 1}, promqlvalue.Sample{Timestamp: 10, Value: 1}),
	}}

	c.Set(ctx, "t1", "org1", "up", 0, 10, 10, m, false)

	newStart, got, ok := c.Get(ctx, "up", "org1", 0, 10, 10)
	require.True(t, ok)
	require.Equal(t, int64(20), newStart)
	require.Len(t, got, 1)
	require.Equal(t, m.Series[0].Samples, got[0].Samples)
}

// Prefix extension.
func TestPrefixExtension(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	m1 := promqlvalue.Matrix{Series: []promqlvalue.Range{
		series("up", promqlvalue.Sample{Timestamp: 0, Value: 1}, promqlvalue.Sample{Timestamp: 10, Value: 2}),
	}}
	c.Set(ctx, "t1", "org1", "up", 0, 10, 10, m1, false)

	m2 := promqlvalue.Matrix{Series: []promqlvalue.Range{
		series("up", promqlvalue.Sample{Timestamp: 20, Value: 3}, promqlvalue.Sample{Timestamp: 30, Value: 4}),
	}}
	c.Set(ctx, "t1", "org1", "up", 20, 30, 10, m2, false)

	newStart, got, ok := c.Get(ctx, "up", "org1", 0, 30, 10)
	require.True(t, ok)
	require.Equal(t, int64(40), newStart)
	require.Len(t, got, 1)
	require.Equal(t, []promqlvalue.Sample{
		{Timestamp: 0, Value: 1},
		{Timestamp: 10, Value: 2},
		{Timestamp: 20, Value: 3},
		{Timestamp: 30, Value: 4},
	}, got[0].Samples)
}

func TestPartialPrefixHit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	m := promqlvalue.Matrix{Series: []promqlvalue.Range{
		series("up", promqlvalue.Sample{Timestamp: 0, Value: 1}, promqlvalue.Sample{Timestamp: 10, Value: 2}),
	}}
	c.Set(ctx, "t1", "org1", "up", 0, 10, 10, m, false)

	// Request a wider range than what's stored: expect a prefix hit that
	// tells the caller to evaluate [20,30] live.
	newStart, got, ok := c.Get(ctx, "up", "org1", 0, 30, 10)
	require.True(t, ok)
	require.Equal(t, int64(20), newStart)
	require.Len(t, got, 1)
	require.Len(t, got[0].Samples, 2)
}

func TestDisjointEntryIsAMiss(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	m := promqlvalue.Matrix{Series: []promqlvalue.Range{
		series("up", promqlvalue.Sample{Timestamp: 100, Value: 1}),
	}}
	c.Set(ctx, "t1", "org1", "up", 100, 110, 10, m, false)

	// Requested start is before the stored window: no interior-hole logic.
	_, _, ok := c.Get(ctx, "up", "org1", 0, 50, 10)
	require.False(t, ok)
}

func TestForceOverwritesOnConflict(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	m1 := promqlvalue.Matrix{Series: []promqlvalue.Range{
		series("up", promqlvalue.Sample{Timestamp: 0, Value: 1}),
	}}
	c.Set(ctx, "t1", "org1", "up", 0, 0, 10, m1, false)

	m2 := promqlvalue.Matrix{Series: []promqlvalue.Range{
		series("up", promqlvalue.Sample{Timestamp: 0, Value: 99}),
	}}
	c.Set(ctx, "t1", "org1", "up", 0, 0, 10, m2, true)

	_, got, ok := c.Get(ctx, "up", "org1", 0, 0, 10)
	require.True(t, ok)
	require.Equal(t, 99.0, got[0].Samples[0].Value)
}
