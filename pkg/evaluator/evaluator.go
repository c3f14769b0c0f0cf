// Package evaluator implements PromQL evaluation against a TableProvider,
// It consumes github.com/prometheus/prometheus/promql/parser
// for the AST — authoring a PromQL parser is an explicit non-goal
// and walks it the way the upstream promql engine's
// rangeEval does: evaluate the expression at each step timestamp and
// stitch per-series samples into a Matrix, or evaluate once for an
// instant query.
//
// Decoding the physical Parquet/columnar row format is also an explicit
// non-goal; TableProvider is the seam where already-decoded series enter
// this package (storagescanner and walscanner compose on the far side of
// that seam, in the querier module).
package evaluator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
	"github.com/openobserve/promql-engine/pkg/queryerr"
	"github.com/openobserve/promql-engine/pkg/seriessig"
)

// DefaultLookback is the window, in microseconds, PromQL searches
// backwards from an evaluation timestamp for the most recent sample of a
// series when no explicit range is given.
const DefaultLookback = int64(5 * time.Minute / time.Microsecond)

// TableProvider yields already-decoded series for a metric over a time
// window, matching a set of label matchers. Implementations compose the
// cold storage scan and hot WAL scan (querier module) and are responsible
// for merging/deduplicating across both before returning.
type TableProvider interface {
	Select(ctx context.Context, metric string, matchers []*labels.Matcher, start, end int64) ([]promqlvalue.Range, error)
}

// EvalStmt is the evaluation request, mirroring the upstream parser's
// EvalStmt{expr, start, end, interval, lookback}.
type EvalStmt struct {
	Expr          parser.Expr
	Start, End    int64 // microseconds since epoch
	Interval      int64 // step, microseconds; 0 for instant queries
	LookbackDelta int64
}

// IsInstant reports whether this is a start==end instant query.
func (s EvalStmt) IsInstant() bool { return s.Start == s.End }

// Parse wraps parser.ParseExpr so callers never import promql/parser
// directly, keeping the external-parser dependency localized to this
// package.
func Parse(query string) (parser.Expr, error) {
	expr, err := parser.ParseExpr(query)
	if err != nil {
		return nil, queryerr.InvalidParams("parse promql: %v", err)
	}
	return expr, nil
}

type evaluator struct {
	provider TableProvider
	lookback int64
	sigOf    promqlvalue.SigFunc
}

// Eval runs stmt to completion, honoring ctx cancellation/timeout at every
// step boundary ("honor timeout via context propagation; on
// timeout, abort with SearchTimeout").
func Eval(ctx context.Context, provider TableProvider, stmt EvalStmt) (promqlvalue.Value, promqlvalue.ResultType, error) {
	lookback := stmt.LookbackDelta
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	e := &evaluator{provider: provider, lookback: lookback, sigOf: seriessig.Signature}

	if stmt.IsInstant() {
		return e.evalInstantQuery(ctx, stmt.Expr, stmt.Start)
	}
	return e.evalRangeQuery(ctx, stmt)
}

func (e *evaluator) evalInstantQuery(ctx context.Context, expr parser.Expr, ts int64) (promqlvalue.Value, promqlvalue.ResultType, error) {
	v, err := e.eval(ctx, expr, ts)
	if err != nil {
		return nil, promqlvalue.ResultNone, err
	}
	switch val := v.(type) {
	case vectorResult:
		return promqlvalue.Vector{Series: val.toInstants()}, promqlvalue.ResultVector, nil
	case scalarResult:
		return promqlvalue.Scalar{Sample: promqlvalue.Sample{Timestamp: ts, Value: val.v}}, promqlvalue.ResultScalar, nil
	case stringResult:
		return promqlvalue.String{Timestamp: ts, Value: string(val)}, promqlvalue.ResultString, nil
	default:
		return nil, promqlvalue.ResultNone, queryerr.ServerInternalError("unsupported instant result %T", v)
	}
}

func (e *evaluator) evalRangeQuery(ctx context.Context, stmt EvalStmt) (promqlvalue.Value, promqlvalue.ResultType, error) {
	if stmt.Interval <= 0 {
		return nil, promqlvalue.ResultNone, queryerr.InvalidParams("step must be > 0 for a range query")
	}

	acc := map[uint64]*promqlvalue.Range{}
	var scalarAcc []promqlvalue.Sample

	isScalar := false
	first := true

	for ts := stmt.Start; ts <= stmt.End; ts += stmt.Interval {
		select {
		case <-ctx.Done():
			return nil, promqlvalue.ResultNone, queryerr.SearchTimeout("evaluation cancelled at t=%d: %v", ts, ctx.Err())
		default:
		}

		v, err := e.eval(ctx, stmt.Expr, ts)
		if err != nil {
			return nil, promqlvalue.ResultNone, err
		}

		switch val := v.(type) {
		case vectorResult:
			if first {
				isScalar = false
			}
			for _, s := range val {
				r, ok := acc[s.sig]
				if !ok {
					r = &promqlvalue.Range{Labels: s.labels}
					acc[s.sig] = r
				}
				if promqlvalue.IsUsable(s.sample.Value) {
					r.Samples = append(r.Samples, promqlvalue.Sample{Timestamp: ts, Value: s.sample.Value})
				}
			}
		case scalarResult:
			if first {
				isScalar = true
			}
			if promqlvalue.IsUsable(val.v) {
				scalarAcc = append(scalarAcc, promqlvalue.Sample{Timestamp: ts, Value: val.v})
			}
		default:
			return nil, promqlvalue.ResultNone, queryerr.InvalidParams("expression does not support range queries")
		}
		first = false
	}

	if isScalar {
		return promqlvalue.Matrix{Series: []promqlvalue.Range{{Samples: scalarAcc}}}, promqlvalue.ResultMatrix, nil
	}

	out := make([]promqlvalue.Range, 0, len(acc))
	for _, r := range acc {
		if len(r.Samples) == 0 {
			continue
		}
		out = append(out, *r)
	}
	m := promqlvalue.Matrix{Series: out}
	promqlvalue.SortMatrix(&m, e.sigOf)
	return m, promqlvalue.ResultMatrix, nil
}

// internal result shapes used only while walking the AST; they carry a
// precomputed signature so binary-op matching doesn't rehash labels.
type sample struct {
	sig    uint64
	labels labels.Labels
	sample promqlvalue.Sample
}

type vectorResult []sample

func (v vectorResult) toInstants() []promqlvalue.Instant {
	out := make([]promqlvalue.Instant, 0, len(v))
	for _, s := range v {
		if !promqlvalue.IsUsable(s.sample.Value) {
			continue
		}
		out = append(out, promqlvalue.Instant{Labels: s.labels, Sample: s.sample})
	}
	return out
}

type scalarResult struct{ v float64 }
type stringResult string

// matrixResult is a vector-selector's full window, used by range-aware
// functions (rate, increase, avg_over_time, ...).
type matrixResult []windowedSeries

type windowedSeries struct {
	sig     uint64
	labels  labels.Labels
	samples []promqlvalue.Sample
}

func (e *evaluator) eval(ctx context.Context, expr parser.Expr, ts int64) (any, error) {
	switch n := expr.(type) {
	case *parser.NumberLiteral:
		return scalarResult{v: n.Val}, nil
	case *parser.StringLiteral:
		return stringResult(n.Val), nil
	case *parser.ParenExpr:
		return e.eval(ctx, n.Expr, ts)
	case *parser.UnaryExpr:
		return e.evalUnary(ctx, n, ts)
	case *parser.VectorSelector:
		return e.evalVectorSelector(ctx, n, ts)
	case *parser.MatrixSelector:
		return nil, fmt.Errorf("matrix selector used outside a range-taking function")
	case *parser.BinaryExpr:
		return e.evalBinary(ctx, n, ts)
	case *parser.AggregateExpr:
		return e.evalAggregate(ctx, n, ts)
	case *parser.Call:
		return e.evalCall(ctx, n, ts)
	default:
		return nil, queryerr.InvalidParams("unsupported expression type %T", expr)
	}
}

func (e *evaluator) evalUnary(ctx context.Context, n *parser.UnaryExpr, ts int64) (any, error) {
	v, err := e.eval(ctx, n.Expr, ts)
	if err != nil {
		return nil, err
	}
	neg := n.Op == parser.SUB
	switch val := v.(type) {
	case scalarResult:
		if neg {
			val.v = -val.v
		}
		return val, nil
	case vectorResult:
		if neg {
			for i := range val {
				val[i].sample.Value = -val[i].sample.Value
			}
		}
		return val, nil
	default:
		return nil, queryerr.InvalidParams("unary operator applied to non-numeric expression")
	}
}

func (e *evaluator) evalVectorSelector(ctx context.Context, n *parser.VectorSelector, ts int64) (any, error) {
	start := ts - e.lookback
	end := ts
	series, err := e.provider.Select(ctx, n.Name, n.LabelMatchers, start, end)
	if err != nil {
		return nil, err
	}

	var out vectorResult
	for _, s := range series {
		v, _, ok := lastUsableAt(s.Samples, end)
		if !ok {
			continue
		}
		out = append(out, sample{sig: e.sigOf(s.Labels), labels: s.Labels, sample: promqlvalue.Sample{Timestamp: ts, Value: v}})
	}
	return out, nil
}

// lastUsableAt returns the most recent usable sample with Timestamp <= at.
func lastUsableAt(samples []promqlvalue.Sample, at int64) (float64, int64, bool) {
	best := promqlvalue.Sample{}
	found := false
	for _, s := range samples {
		if s.Timestamp > at || !promqlvalue.IsUsable(s.Value) {
			continue
		}
		if !found || s.Timestamp > best.Timestamp {
			best = s
			found = true
		}
	}
	if !found {
		return math.NaN(), 0, false
	}
	return best.Value, best.Timestamp, true
}

// evalMatrix evaluates the operand of a range-taking function (a
// MatrixSelector, possibly wrapped in a ParenExpr) over [ts-range, ts].
func (e *evaluator) evalMatrix(ctx context.Context, expr parser.Expr, ts int64) (matrixResult, time.Duration, error) {
	for {
		if p, ok := expr.(*parser.ParenExpr); ok {
			expr = p.Expr
			continue
		}
		break
	}
	ms, ok := expr.(*parser.MatrixSelector)
	if !ok {
		return nil, 0, queryerr.InvalidParams("expected a range vector, got %T", expr)
	}
	vs, ok := ms.VectorSelector.(*parser.VectorSelector)
	if !ok {
		return nil, 0, queryerr.InvalidParams("unsupported matrix selector operand %T", ms.VectorSelector)
	}

	start := ts - int64(ms.Range/time.Microsecond)
	series, err := e.provider.Select(ctx, vs.Name, vs.LabelMatchers, start, ts)
	if err != nil {
		return nil, 0, err
	}

	out := make(matrixResult, 0, len(series))
	for _, s := range series {
		var samples []promqlvalue.Sample
		for _, p := range s.Samples {
			if p.Timestamp >= start && p.Timestamp <= ts && promqlvalue.IsUsable(p.Value) {
				samples = append(samples, p)
			}
		}
		if len(samples) == 0 {
			continue
		}
		out = append(out, windowedSeries{sig: e.sigOf(s.Labels), labels: s.Labels, samples: samples})
	}
	return out, ms.Range, nil
}

// EvalExemplars serves exemplar queries. The expression is not evaluated;
// instead the series matched by each vector selector are read directly and
// their exemplars within [Start, End] returned, sorted by timestamp per
// series.
func EvalExemplars(ctx context.Context, provider TableProvider, stmt EvalStmt) (promqlvalue.Value, promqlvalue.ResultType, error) {
	var out promqlvalue.Exemplars
	var selErr error

	parser.Inspect(stmt.Expr, func(n parser.Node, _ []parser.Node) error {
		vs, ok := n.(*parser.VectorSelector)
		if !ok {
			return nil
		}
		series, err := provider.Select(ctx, vs.Name, vs.LabelMatchers, stmt.Start, stmt.End)
		if err != nil {
			selErr = err
			return err
		}
		for _, r := range series {
			kept := make([]promqlvalue.Exemplar, 0, len(r.Exemplars))
			for _, ex := range r.Exemplars {
				if ex.Sample.Timestamp >= stmt.Start && ex.Sample.Timestamp <= stmt.End {
					kept = append(kept, ex)
				}
			}
			if len(kept) == 0 {
				continue
			}
			sort.Slice(kept, func(i, j int) bool { return kept[i].Sample.Timestamp < kept[j].Sample.Timestamp })
			out.Series = append(out.Series, promqlvalue.Range{Labels: r.Labels, Exemplars: kept})
		}
		return nil
	})
	if selErr != nil {
		return nil, promqlvalue.ResultNone, selErr
	}

	sigOf := seriessig.Signature
	sort.Slice(out.Series, func(i, j int) bool { return sigOf(out.Series[i].Labels) < sigOf(out.Series[j].Labels) })
	return out, promqlvalue.ResultExemplars, nil
}
