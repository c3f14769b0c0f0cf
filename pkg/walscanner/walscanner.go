// Package walscanner streams fresh, not-yet-flushed batches from ingester
// nodes covering (org, metric, time_range). It is the hot
// counterpart to pkg/storagescanner's cold object-storage scan; the
// evaluator composes both and deduplicates overlapping samples by
// (signature, timestamp), last write wins.
package walscanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
	"github.com/openobserve/promql-engine/pkg/queryerr"
)

// RemoteScanRequest is what gets sent to one ingester node. Matchers are
// already translated from PromQL matchers;
// __name__ is never included (it's encoded in Stream).
type RemoteScanRequest struct {
	TraceID       string
	Org           string
	Stream        string
	Start, End    int64
	Matchers      []*labels.Matcher
	LabelSelector []string
}

// RemoteScanResult is one node's contribution, already materialized into
// the engine's series representation.
type RemoteScanResult struct {
	Series       []promqlvalue.Range
	FilesScanned int
}

// IngesterDialer is the external collaborator boundary: this package knows
// nothing about how an ingester actually executes RemoteScanExec, only
// that it can be asked for one.
type IngesterDialer interface {
	RemoteScan(ctx context.Context, node string, req RemoteScanRequest) (RemoteScanResult, error)
}

// NodeLister resolves the currently online ingester set.
type NodeLister interface {
	OnlineIngesters(ctx context.Context) ([]string, error)
}

// Scanner streams fresh, not-yet-flushed batches from ingester nodes.
type Scanner struct {
	nodes   NodeLister
	dialer  IngesterDialer
	sigOf   promqlvalue.SigFunc
	breakers map[string]*gobreaker.CircuitBreaker
}

func New(nodes NodeLister, dialer IngesterDialer, sigOf promqlvalue.SigFunc) *Scanner {
	return &Scanner{
		nodes:    nodes,
		dialer:   dialer,
		sigOf:    sigOf,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (s *Scanner) breakerFor(node string) *gobreaker.CircuitBreaker {
	if cb, ok := s.breakers[node]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ingester:" + node,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	s.breakers[node] = cb
	return cb
}

// stripName drops the __name__ matcher: it is already encoded in the
// stream/table name.
func stripName(matchers []*labels.Matcher) []*labels.Matcher {
	out := matchers[:0:0]
	for _, m := range matchers {
		if m.Name == labels.MetricName {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Scan runs node discovery, matcher translation
// (handled by the dialer's RPC contract), fan-out with per-node circuit
// breaking, label-selector projection, and schema-clean series assembly.
func (s *Scanner) Scan(ctx context.Context, traceID, org, stream string, start, end int64, matchers []*labels.Matcher, labelSelector []string) ([]promqlvalue.Range, int, error) {
	nodes, err := s.nodes.OnlineIngesters(ctx)
	if err != nil {
		return nil, 0, queryerr.FromCode(queryerr.CodeServerInternalError, fmt.Sprintf("ingester discovery: %v", err))
	}
	if len(nodes) == 0 {
		return nil, 0, nil
	}

	req := RemoteScanRequest{
		TraceID:       traceID,
		Org:           org,
		Stream:        stream,
		Start:         start,
		End:           end,
		Matchers:      stripName(matchers),
		LabelSelector: labelSelector,
	}

	type partial struct {
		series []promqlvalue.Range
		files  int
	}
	results := make([]partial, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			cb := s.breakerFor(node)
			out, err := cb.Execute(func() (any, error) {
				return s.dialer.RemoteScan(gctx, node, req)
			})
			if err != nil {
				return queryerr.FromCode(queryerr.CodeServerInternalError, fmt.Sprintf("remote scan %s: %v", node, err))
			}
			res := out.(RemoteScanResult)
			results[i] = partial{series: projectLabels(res.Series, labelSelector), files: res.FilesScanned}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var all []promqlvalue.Range
	files := 0
	for _, r := range results {
		all = append(all, r.series...)
		files += r.files
	}

	merged := promqlvalue.MergeMatrices([]promqlvalue.Matrix{{Series: all}}, s.sigOf, true).Series
	return merged, files, nil
}

// projectLabels drops label columns that weren't requested, implementing
// the projection step. An empty selector means "keep everything".
func projectLabels(series []promqlvalue.Range, selector []string) []promqlvalue.Range {
	if len(selector) == 0 {
		return series
	}
	keep := make(map[string]struct{}, len(selector))
	for _, n := range selector {
		keep[n] = struct{}{}
	}

	out := make([]promqlvalue.Range, len(series))
	for i, r := range series {
		b := labels.NewBuilder(labels.EmptyLabels())
		r.Labels.Range(func(l labels.Label) {
			if _, ok := keep[l.Name]; ok {
				b.Set(l.Name, l.Value)
			}
		})
		out[i] = promqlvalue.Range{Labels: b.Labels(), Samples: r.Samples, Exemplars: r.Exemplars}
	}
	sort.Slice(out, func(i, j int) bool { return labels.Compare(out[i].Labels, out[j].Labels) < 0 })
	return out
}
