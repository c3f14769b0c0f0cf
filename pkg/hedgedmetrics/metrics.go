// Package hedgedmetrics publishes hedgedhttp stats to a prometheus
// counter. hedgedhttp exposes monotonically increasing absolute totals
// through point-in-time snapshots; this package turns those into counter
// increments on a fixed tick.
package hedgedmetrics

import (
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/prometheus/client_golang/prometheus"
)

const hedgedMetricsPublishDuration = 10 * time.Second

// StatsProvider is anything that can snapshot hedged round-trip totals.
// *hedgedhttp.Stats satisfies it.
type StatsProvider interface {
	Snapshot() hedgedhttp.StatsSnapshot
}

// diffCounter bridges an absolute total onto a prometheus counter, which
// only accepts increments.
type diffCounter struct {
	previous uint64
	counter  prometheus.Counter
}

func (d *diffCounter) addAbsoluteToCounter(value uint64) {
	if value < d.previous {
		// the source restarted its count; replay the new total
		d.counter.Add(float64(value))
	} else {
		d.counter.Add(float64(value - d.previous))
	}
	d.previous = value
}

// Publish periodically adds the number of extra round trips the hedged
// transport issued (actual minus requested) to counter.
func Publish(s StatsProvider, counter prometheus.Counter) {
	publishWithDuration(s, counter, hedgedMetricsPublishDuration)
}

func publishWithDuration(s StatsProvider, counter prometheus.Counter, duration time.Duration) {
	diff := &diffCounter{previous: 0, counter: counter}

	ticker := time.NewTicker(duration)
	go func() {
		for range ticker.C {
			snap := s.Snapshot()
			diff.addAbsoluteToCounter(snap.ActualRoundTrips - snap.RequestedRoundTrips)
		}
	}()
}
