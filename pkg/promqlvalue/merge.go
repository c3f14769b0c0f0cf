package promqlvalue

import (
	"sort"

	"github.com/prometheus/prometheus/model/labels"
)

// SigFunc computes a series signature over labels; injected so this
// package stays independent of the label-signature implementation.
type SigFunc func(labels.Labels) uint64

// MergeMatrices merges per-worker Matrix partials into one Matrix, grouping
// samples per signature and sorting the result for determinism. Samples
// with equal timestamps keep the first-seen value unless dedupHA is set, in
// which case the later value wins (last-write-wins across HA replicas).
func MergeMatrices(parts []Matrix, sigOf SigFunc, dedupHA bool) Matrix {
	bySig := map[uint64]*Range{}
	order := []uint64{}

	for _, part := range parts {
		for _, series := range part.Series {
			sig := sigOf(series.Labels)
			r, ok := bySig[sig]
			if !ok {
				r = &Range{Labels: series.Labels}
				bySig[sig] = r
				order = append(order, sig)
			}
			r.Samples = append(r.Samples, series.Samples...)
			r.Exemplars = append(r.Exemplars, series.Exemplars...)
		}
	}

	out := Matrix{Series: make([]Range, 0, len(order))}
	for _, sig := range order {
		r := bySig[sig]
		r.Samples = dedupSamples(r.Samples, dedupHA)
		out.Series = append(out.Series, *r)
	}
	SortMatrix(&out, sigOf)
	return out
}

// MergeVectors merges per-worker Vector partials, one Instant per
// signature; when the same signature appears more than once the last
// worker's sample wins, matching the original's "last write wins" wording
// for overlapping WAL/cold data.
func MergeVectors(parts []Vector, sigOf SigFunc) Vector {
	bySig := map[uint64]Instant{}
	order := []uint64{}
	for _, part := range parts {
		for _, inst := range part.Series {
			sig := sigOf(inst.Labels)
			if _, ok := bySig[sig]; !ok {
				order = append(order, sig)
			}
			bySig[sig] = inst
		}
	}
	out := Vector{Series: make([]Instant, 0, len(order))}
	for _, sig := range order {
		out.Series = append(out.Series, bySig[sig])
	}
	SortVector(&out, sigOf)
	return out
}

// MergeScalars picks the last scalar value among worker partials, per
// spec: "scalar merge picks the last scalar".
func MergeScalars(parts []Scalar) Scalar {
	if len(parts) == 0 {
		return Scalar{}
	}
	return parts[len(parts)-1]
}

// MergeExemplars merges per-worker Exemplars partials analogously to
// MergeMatrices, with each series' exemplar list sorted by timestamp.
func MergeExemplars(parts []Exemplars, sigOf SigFunc) Exemplars {
	bySig := map[uint64]*Range{}
	order := []uint64{}
	for _, part := range parts {
		for _, series := range part.Series {
			sig := sigOf(series.Labels)
			r, ok := bySig[sig]
			if !ok {
				r = &Range{Labels: series.Labels}
				bySig[sig] = r
				order = append(order, sig)
			}
			r.Exemplars = append(r.Exemplars, series.Exemplars...)
		}
	}
	out := Exemplars{Series: make([]Range, 0, len(order))}
	for _, sig := range order {
		r := bySig[sig]
		sort.Slice(r.Exemplars, func(i, j int) bool {
			return r.Exemplars[i].Timestamp < r.Exemplars[j].Timestamp
		})
		out.Series = append(out.Series, *r)
	}
	sort.Slice(out.Series, func(i, j int) bool {
		return sigOf(out.Series[i].Labels) < sigOf(out.Series[j].Labels)
	})
	return out
}

// dedupSamples sorts samples by timestamp, drops NaN values, and collapses
// duplicate timestamps. When dedupHA is false the first-seen value at a
// given timestamp wins (cold scan precedes WAL in the merge order, so cold
// data wins on overlap); when true the last-seen value wins, matching the
// HA-replica dedup behavior the original system gates on
// metrics_dedup_enabled.
func dedupSamples(samples []Sample, dedupHA bool) []Sample {
	filtered := samples[:0:0]
	for _, s := range samples {
		if IsUsable(s.Value) {
			filtered = append(filtered, s)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp < filtered[j].Timestamp
	})

	out := make([]Sample, 0, len(filtered))
	for _, s := range filtered {
		if n := len(out); n > 0 && out[n-1].Timestamp == s.Timestamp {
			if dedupHA {
				out[n-1] = s
			}
			continue
		}
		out = append(out, s)
	}
	return out
}
