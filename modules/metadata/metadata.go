// Package metadata implements the metadata service: the
// labels/series/label-values/metadata endpoints, built directly on the
// storage scanner's primitives rather than a separate index, so the
// label surface can never drift from what a scan would actually return.
package metadata

import (
	"context"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/prometheus/prometheus/model/labels"

	"github.com/openobserve/promql-engine/pkg/queryerr"
	"github.com/openobserve/promql-engine/pkg/seriessig"
	"github.com/openobserve/promql-engine/pkg/storagescanner"
)

// StreamInfo describes one metric stream's identity and time range, used
// to prune which streams participate in a labels/label-values/metadata
// request, i.e. the streams whose time range intersects [start,end].
type StreamInfo struct {
	Metric string
	MinTS  int64
	MaxTS  int64
}

// StreamLister enumerates an org's metric streams. Production
// implementations back this with the same schema registry
// storagescanner.SchemaResolver consults; tests substitute a fixed list.
type StreamLister interface {
	Streams(ctx context.Context, org string) ([]StreamInfo, error)
}

// FieldMetadata is one schema-level metadata entry for a metric stream
// (HELP/TYPE/UNIT, mirroring the Prometheus exposition format's metadata
// triplet).
type FieldMetadata struct {
	Type string
	Help string
	Unit string
}

// MetadataResolver answers a metric stream's schema-level metadata blob.
type MetadataResolver interface {
	Metadata(org, metric string) ([]FieldMetadata, error)
}

// Service answers the labels, label-values, series, and metadata
// endpoints off the same scan primitives the query path uses.
type Service struct {
	scanner  *storagescanner.Scanner
	schemas  storagescanner.SchemaResolver
	streams  StreamLister
	metadata MetadataResolver
	logger   log.Logger
}

func New(scanner *storagescanner.Scanner, schemas storagescanner.SchemaResolver, streams StreamLister, metadata MetadataResolver, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{scanner: scanner, schemas: schemas, streams: streams, metadata: metadata, logger: logger}
}

// histogramSuffixes are the satellite series a histogram/summary family
// emits alongside its base name; get_metadata folds these back into one
// entry per family.
var histogramSuffixes = []string{"_bucket", "_count", "_sum"}

func familyName(metric string) string {
	for _, suf := range histogramSuffixes {
		if strings.HasSuffix(metric, suf) {
			return strings.TrimSuffix(metric, suf)
		}
	}
	return metric
}

// GetMetadata implements get_metadata(org, optional metric, limit) -> {name -> [metadata]}.
// An empty metric enumerates every stream in org (pruned to limit
// families, 0 meaning unlimited).
func (s *Service) GetMetadata(ctx context.Context, org, metric string, limit int) (map[string][]FieldMetadata, error) {
	var names []string
	if metric != "" {
		names = []string{metric}
	} else {
		all, err := s.streams.Streams(ctx, org)
		if err != nil {
			return nil, queryerr.ServerInternalError("list streams: %v", err)
		}
		for _, si := range all {
			names = append(names, si.Metric)
		}
	}

	out := map[string][]FieldMetadata{}
	seenFamily := map[string]struct{}{}
	for _, name := range names {
		family := familyName(name)
		if _, dup := seenFamily[family]; dup {
			continue
		}
		md, err := s.metadata.Metadata(org, name)
		if err != nil || len(md) == 0 {
			continue
		}
		seenFamily[family] = struct{}{}
		out[family] = md
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetSeries implements get_series(org, selector, start, end) ->
// [{label: value, ...}]: scans every stream the selector's __name__
// matcher (if any) narrows to, materializes cold data, and strips `hash`
// from each row (the signature is recomputed from labels, never trusted
// off disk, so there is nothing named `hash` to strip from a Labels value
// in practice — this mirrors the original's literal column projection).
func (s *Service) GetSeries(ctx context.Context, org string, matchers []*labels.Matcher, start, end int64) ([]map[string]string, error) {
	metrics, err := s.candidateMetrics(ctx, org, matchers)
	if err != nil {
		return nil, err
	}

	bySig := map[uint64]map[string]string{}
	var order []uint64
	for _, metric := range metrics {
		sess, err := s.scanner.Scan(ctx, org, metric, start, end, matchers)
		if err != nil {
			return nil, err
		}
		series, err := s.scanner.ReadSeries(ctx, sess, matchers, start, end, 0)
		if err != nil {
			return nil, err
		}
		for _, r := range series {
			sig := seriessig.Signature(r.Labels)
			if _, ok := bySig[sig]; ok {
				continue
			}
			row := map[string]string{}
			r.Labels.Range(func(l labels.Label) { row[l.Name] = l.Value })
			bySig[sig] = row
			order = append(order, sig)
		}
	}

	out := make([]map[string]string, 0, len(order))
	for _, sig := range order {
		out = append(out, bySig[sig])
	}
	return out, nil
}

// GetLabels implements get_labels(org, start, end) -> [name]: union of
// schema field names across streams intersecting [start,end], excluding
// reserved columns. No series selector is taken.
func (s *Service) GetLabels(ctx context.Context, org string, start, end int64) ([]string, error) {
	streams, err := s.streams.Streams(ctx, org)
	if err != nil {
		return nil, queryerr.ServerInternalError("list streams: %v", err)
	}

	names := map[string]struct{}{}
	for _, si := range streams {
		if !intersects(si.MinTS, si.MaxTS, start, end) {
			continue
		}
		schema, err := s.schemas.Schema(org, si.Metric)
		if err != nil || schema == nil {
			continue
		}
		for _, f := range schema.Fields {
			if _, reserved := seriessig.Reserved[f]; reserved {
				continue
			}
			names[f] = struct{}{}
		}
	}

	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// GetLabelValues implements get_label_values(org, label, selector, start,
// end) -> [value]. label == "__name__" is special-cased to the set of
// stream names whose range intersects [start,end]; otherwise every
// candidate stream is scanned and the label's distinct values collected.
func (s *Service) GetLabelValues(ctx context.Context, org, label string, matchers []*labels.Matcher, start, end int64) ([]string, error) {
	if label == "__name__" {
		streams, err := s.streams.Streams(ctx, org)
		if err != nil {
			return nil, queryerr.ServerInternalError("list streams: %v", err)
		}
		values := map[string]struct{}{}
		for _, si := range streams {
			if intersects(si.MinTS, si.MaxTS, start, end) {
				values[si.Metric] = struct{}{}
			}
		}
		out := make([]string, 0, len(values))
		for v := range values {
			out = append(out, v)
		}
		sort.Strings(out)
		return out, nil
	}

	metrics, err := s.candidateMetrics(ctx, org, matchers)
	if err != nil {
		return nil, err
	}

	values := map[string]struct{}{}
	for _, metric := range metrics {
		sess, err := s.scanner.Scan(ctx, org, metric, start, end, matchers)
		if err != nil {
			return nil, err
		}
		series, err := s.scanner.ReadSeries(ctx, sess, matchers, start, end, 0)
		if err != nil {
			return nil, err
		}
		for _, r := range series {
			if v := r.Labels.Get(label); v != "" {
				values[v] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// candidateMetrics narrows matchers down to the stream(s) they can refer
// to: an equality match on __name__ scopes to one stream, otherwise every
// stream in org is a candidate (selectors without a
// metric name).
func (s *Service) candidateMetrics(ctx context.Context, org string, matchers []*labels.Matcher) ([]string, error) {
	for _, m := range matchers {
		if m.Name == "__name__" && m.Type == labels.MatchEqual {
			return []string{m.Value}, nil
		}
	}
	all, err := s.streams.Streams(ctx, org)
	if err != nil {
		return nil, queryerr.ServerInternalError("list streams: %v", err)
	}
	out := make([]string, 0, len(all))
	for _, si := range all {
		out = append(out, si.Metric)
	}
	return out, nil
}

func intersects(minTS, maxTS, start, end int64) bool {
	return minTS <= end && maxTS >= start
}
