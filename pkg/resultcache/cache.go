// Package resultcache implements the step-aligned range-result cache
// for range results: a single entry per (query, step, org)
// fingerprint, storing the widest contiguous [stored_start, stored_end]
// ever computed, with support for partial prefix hits that shrink the
// live evaluation window.
//
// The cache is a thin fetch/store wrapper over a pluggable backing
// Provider and is safe to use with a nil/unavailable backend (cache
// failures degrade to a miss, never an error surfaced to the caller).
package resultcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
)

// Fingerprint identifies a cache entry independent of start/end: the same
// query+step+org always maps to the same entry, widened over time.
type Fingerprint uint64

// FingerprintOf hashes the cache key:
// hash(query_text || step || org_id).
func FingerprintOf(query string, step int64, orgID string) Fingerprint {
	h := xxhash.New()
	_, _ = h.WriteString(query)
	_, _ = fmt.Fprintf(h, "|%d|", step)
	_, _ = h.WriteString(orgID)
	return Fingerprint(h.Sum64())
}

// Provider is the backing key/value store. Redis is the production
// implementation (pkg/resultcache/redis.go); tests may substitute an
// in-memory stub.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// entry is the on-disk/on-wire representation of a cached window.
type entry struct {
	Step        int64                      `json:"step"`
	StoredStart int64                      `json:"stored_start"`
	StoredEnd   int64                      `json:"stored_end"`
	Series      map[uint64]promqlSeriesRow `json:"series"`
}

// promqlSeriesRow avoids round-tripping labels.Labels through JSON tags
// it doesn't own; it stores the flattened label pairs alongside samples.
type promqlSeriesRow struct {
	Labels  []labelPair         `json:"labels"`
	Samples []promqlvalue.Sample `json:"samples"`
}

type labelPair struct {
	Name  string `json:"n"`
	Value string `json:"v"`
}

// Cache is the step-aligned result cache. It is safe for concurrent use;
// Set calls on one Cache are serialized by a mutex, so concurrent writes to
// one fingerprint do not drop each other's samples; reads are lock-free.
type Cache struct {
	mu       sync.Mutex
	provider Provider
	sigOf    promqlvalue.SigFunc
	logger   log.Logger
}

func New(provider Provider, sigOf promqlvalue.SigFunc, logger log.Logger) *Cache {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Cache{provider: provider, sigOf: sigOf, logger: logger}
}

func keyFor(fp Fingerprint) string {
	return fmt.Sprintf("promql-range:%016x", uint64(fp))
}

// Get returns (newStart, series) when there
// is a usable cache entry. newStart > end signals a full hit (caller
// merges with empty live results); newStart in (start, end] signals a
// partial prefix hit (caller evaluates [newStart, end] live); ok=false
// means no usable entry (miss, disjoint entry, or an entry that doesn't
// cover the requested start).
func (c *Cache) Get(ctx context.Context, query string, orgID string, start, end, step int64) (newStart int64, series []promqlvalue.Range, ok bool) {
	fp := FingerprintOf(query, step, orgID)
	raw, found := c.safeGet(ctx, keyFor(fp))
	if !found {
		return 0, nil, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		level.Warn(c.logger).Log("msg", "result cache decode failed, treating as miss", "err", err)
		return 0, nil, false
	}
	if e.Step != step {
		return 0, nil, false
	}
	if e.StoredStart > start {
		// Disjoint or starts after the request: no interior-hole logic.
		return 0, nil, false
	}

	if e.StoredEnd >= end {
		return end + step, sliceSeries(e, start, end), true
	}
	if e.StoredEnd >= start {
		return e.StoredEnd + step, sliceSeries(e, start, e.StoredEnd), true
	}
	return 0, nil, false
}

// Set extends the stored window to
// [min(stored_start,start), max(stored_end,end)], merging per-signature
// sample arrays. force=true makes the new matrix win on overlapping
// timestamps; otherwise the previously stored value wins, matching the
// spec's described "stored value wins on conflicting timestamps" default.
//
// TODO: when use_cache=false the coordinator always calls Set with
// force=true, which means callers cannot suppress caching entirely (see
// force=true semantics).
func (c *Cache) Set(ctx context.Context, traceID, orgID, query string, start, end, step int64, matrix promqlvalue.Matrix, force bool) {
	if c.provider == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	fp := FingerprintOf(query, step, orgID)
	key := keyFor(fp)

	existing := entry{Step: step, StoredStart: start, StoredEnd: end, Series: map[uint64]promqlSeriesRow{}}
	if raw, found := c.safeGet(ctx, key); found {
		var prev entry
		if err := json.Unmarshal(raw, &prev); err == nil && prev.Step == step {
			existing = prev
			if start < existing.StoredStart {
				existing.StoredStart = start
			}
			if end > existing.StoredEnd {
				existing.StoredEnd = end
			}
		}
	}

	for _, series := range matrix.Series {
		sig := c.sigOf(series.Labels)
		row, ok := existing.Series[sig]
		if !ok {
			row = promqlSeriesRow{Labels: toLabelPairs(series.Labels)}
		}
		row.Samples = mergeSamples(row.Samples, series.Samples, force)
		existing.Series[sig] = row
	}

	raw, err := json.Marshal(existing)
	if err != nil {
		level.Warn(c.logger).Log("msg", "result cache encode failed, not caching", "trace_id", traceID, "err", err)
		return
	}
	c.provider.Set(ctx, key, raw)
}

func (c *Cache) safeGet(ctx context.Context, key string) ([]byte, bool) {
	if c.provider == nil {
		return nil, false
	}
	raw, ok := c.provider.Get(ctx, key)
	if !ok {
		return nil, false
	}
	return raw, true
}

func sliceSeries(e entry, start, end int64) []promqlvalue.Range {
	out := make([]promqlvalue.Range, 0, len(e.Series))
	for _, row := range e.Series {
		var samples []promqlvalue.Sample
		for _, s := range row.Samples {
			if s.Timestamp >= start && s.Timestamp <= end {
				samples = append(samples, s)
			}
		}
		if len(samples) == 0 {
			continue
		}
		out = append(out, promqlvalue.Range{Labels: fromLabelPairs(row.Labels), Samples: samples})
	}
	return out
}

// mergeSamples unions two step-aligned sample arrays by timestamp. When
// force is true, values from incoming win on a timestamp collision;
// otherwise the previously stored value wins.
func mergeSamples(stored, incoming []promqlvalue.Sample, force bool) []promqlvalue.Sample {
	byTS := make(map[int64]promqlvalue.Sample, len(stored)+len(incoming))
	for _, s := range stored {
		byTS[s.Timestamp] = s
	}
	for _, s := range incoming {
		if _, exists := byTS[s.Timestamp]; !exists || force {
			byTS[s.Timestamp] = s
		}
	}
	out := make([]promqlvalue.Sample, 0, len(byTS))
	for _, s := range byTS {
		out = append(out, s)
	}
	sortSamples(out)
	return out
}
