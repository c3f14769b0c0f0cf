// Package seriessig computes the 64-bit series signature used throughout
// the engine to identify a logical series across scanner, WAL, cache and
// merge boundaries.
package seriessig

import (
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/prometheus/model/labels"
)

// Reserved holds the label names excluded from the signature: value and
// bookkeeping columns carried alongside every sample that must not affect
// series identity.
var Reserved = map[string]struct{}{
	"value":        {},
	"hash":         {},
	"exemplars":    {},
	"is_monotonic": {},
	"trace_id":     {},
	"span_id":      {},
	"_timestamp":   {},
	"_all":         {},
}

// Signature computes the series signature over lbls, excluding Reserved
// names. Two sample sets whose labels produce the same signature refer to
// the same logical series and may be merged by timestamp union.
func Signature(lbls labels.Labels) uint64 {
	names := make([]string, 0, lbls.Len())
	lbls.Range(func(l labels.Label) {
		if _, skip := Reserved[l.Name]; skip {
			return
		}
		names = append(names, l.Name)
	})
	sort.Strings(names)

	h := xxhash.New()
	for _, name := range names {
		v := lbls.Get(name)
		_, _ = h.WriteString(name)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(v)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// Of is a convenience wrapper computing the signature from a name/value
// map, used when labels arrive already decoded from a scan result row
// rather than as a labels.Labels.
func Of(m map[string]string) uint64 {
	b := labels.NewBuilder(labels.EmptyLabels())
	for k, v := range m {
		b.Set(k, v)
	}
	return Signature(b.Labels())
}
