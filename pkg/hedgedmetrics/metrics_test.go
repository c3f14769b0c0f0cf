package hedgedmetrics

import (
	"sync"
	"testing"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestDiffCounter(t *testing.T) {
	ctr := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_diff_counter_total"})
	dc := &diffCounter{previous: 0, counter: ctr}

	dc.addAbsoluteToCounter(5)
	require.Equal(t, 5.0, ctrVal(t, ctr))

	dc.addAbsoluteToCounter(7)
	require.Equal(t, 7.0, ctrVal(t, ctr))

	dc.addAbsoluteToCounter(57)
	require.Equal(t, 57.0, ctrVal(t, ctr))
}

func TestDiffCounterSourceRestart(t *testing.T) {
	ctr := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_diff_counter_restart_total"})
	dc := &diffCounter{previous: 0, counter: ctr}

	dc.addAbsoluteToCounter(40)
	require.Equal(t, 40.0, ctrVal(t, ctr))

	// absolute total went backwards: treat the new value as a fresh count
	dc.addAbsoluteToCounter(2)
	require.Equal(t, 42.0, ctrVal(t, ctr))

	dc.addAbsoluteToCounter(7)
	require.Equal(t, 47.0, ctrVal(t, ctr))
}

// mockStatsProvider is a StatsProvider for testing.
type mockStatsProvider struct {
	mu                  sync.Mutex
	actualRoundTrips    uint64
	requestedRoundTrips uint64
}

func (m *mockStatsProvider) Snapshot() hedgedhttp.StatsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return hedgedhttp.StatsSnapshot{
		ActualRoundTrips:    m.actualRoundTrips,
		RequestedRoundTrips: m.requestedRoundTrips,
	}
}

func (m *mockStatsProvider) SetStats(actual, requested uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actualRoundTrips = actual
	m.requestedRoundTrips = requested
}

func TestPublish(t *testing.T) {
	ctr := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_publish_total"})
	stats := &mockStatsProvider{}

	publishWithDuration(stats, ctr, 10*time.Millisecond)

	require.Equal(t, 0.0, ctrVal(t, ctr))

	stats.SetStats(5, 5)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 0.0, ctrVal(t, ctr))

	stats.SetStats(15, 10)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 5.0, ctrVal(t, ctr))

	stats.SetStats(28, 20)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 8.0, ctrVal(t, ctr))

	stats.SetStats(38, 25)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 13.0, ctrVal(t, ctr))

	// counter doesn't increase if stats stay the same
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 13.0, ctrVal(t, ctr))
}

func ctrVal(t *testing.T, ctr prometheus.Counter) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, ctr.Write(&m))
	return m.GetCounter().GetValue()
}
