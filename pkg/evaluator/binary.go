package evaluator

import (
	"context"
	"math"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
	"github.com/openobserve/promql-engine/pkg/queryerr"
)

// matchKey is the vector-matching key used for binary vector/vector
// operations: PromQL's default (unmodified by on/ignoring) matches series
// on every label except __name__. Explicit on()/ignoring() clauses are a
// scope decision recorded in DESIGN.md: this evaluator always matches as
// if ignoring(__name__) were specified, the common case for arithmetic
// between same-shaped vectors.
func matchKey(lbls labels.Labels) uint64 {
	return dropMetricName(lbls).Hash()
}

func dropMetricName(lbls labels.Labels) labels.Labels {
	b := labels.NewBuilder(lbls)
	b.Del(labels.MetricName)
	return b.Labels()
}

func (e *evaluator) evalBinary(ctx context.Context, n *parser.BinaryExpr, ts int64) (any, error) {
	lhs, err := e.eval(ctx, n.LHS, ts)
	if err != nil {
		return nil, err
	}
	rhs, err := e.eval(ctx, n.RHS, ts)
	if err != nil {
		return nil, err
	}

	switch l := lhs.(type) {
	case scalarResult:
		switch r := rhs.(type) {
		case scalarResult:
			v, ok := applyOp(n.Op, l.v, r.v, n.ReturnBool)
			if !ok {
				return scalarResult{}, nil
			}
			return scalarResult{v: v}, nil
		case vectorResult:
			return applyScalarVector(n.Op, l.v, r, n.ReturnBool, true), nil
		}
	case vectorResult:
		switch r := rhs.(type) {
		case scalarResult:
			return applyScalarVector(n.Op, r.v, l, n.ReturnBool, false), nil
		case vectorResult:
			return applyVectorVector(n.Op, l, r, n.ReturnBool), nil
		}
	}
	return nil, queryerr.InvalidParams("unsupported binary operand combination")
}

// applyScalarVector applies op between a scalar and every sample of a
// vector. scalarOnLeft controls operand order for non-commutative ops
// (e.g. `10 - foo` vs `foo - 10`).
func applyScalarVector(op parser.ItemType, scalar float64, vec vectorResult, wantBool, scalarOnLeft bool) vectorResult {
	out := make(vectorResult, 0, len(vec))
	for _, s := range vec {
		var a, b float64
		if scalarOnLeft {
			a, b = scalar, s.sample.Value
		} else {
			a, b = s.sample.Value, scalar
		}
		v, ok := applyOp(op, a, b, wantBool)
		if !ok {
			continue
		}
		lb := s.labels
		if !isComparisonOp(op) {
			lb = dropMetricName(lb)
		}
		out = append(out, sample{sig: s.sig, labels: lb, sample: promqlvalue.Sample{Timestamp: s.sample.Timestamp, Value: v}})
	}
	return out
}

// applyVectorVector implements one-to-one vector matching: every rhs
// sample is indexed by matchKey, then each lhs sample looks up its
// partner. Unmatched lhs samples are dropped, matching PromQL's inner-join
// semantics for arithmetic and comparison operators.
func applyVectorVector(op parser.ItemType, lhs, rhs vectorResult, wantBool bool) vectorResult {
	byKey := make(map[uint64]sample, len(rhs))
	for _, s := range rhs {
		byKey[matchKey(s.labels)] = s
	}

	out := make(vectorResult, 0, len(lhs))
	for _, l := range lhs {
		r, ok := byKey[matchKey(l.labels)]
		if !ok {
			continue
		}
		v, ok := applyOp(op, l.sample.Value, r.sample.Value, wantBool)
		if !ok {
			continue
		}
		lb := l.labels
		if !isComparisonOp(op) {
			lb = dropMetricName(lb)
		}
		out = append(out, sample{sig: l.sig, labels: lb, sample: promqlvalue.Sample{Timestamp: l.sample.Timestamp, Value: v}})
	}
	return out
}

func isComparisonOp(op parser.ItemType) bool {
	switch op {
	case parser.EQL, parser.NEQ, parser.GTR, parser.LSS, parser.GTE, parser.LTE:
		return true
	}
	return false
}

func applyOp(op parser.ItemType, a, b float64, wantBool bool) (float64, bool) {
	switch op {
	case parser.ADD:
		return a + b, true
	case parser.SUB:
		return a - b, true
	case parser.MUL:
		return a * b, true
	case parser.DIV:
		return a / b, true
	case parser.MOD:
		return math.Mod(a, b), true
	case parser.POW:
		return math.Pow(a, b), true
	case parser.EQL:
		return boolResult(a == b, wantBool)
	case parser.NEQ:
		return boolResult(a != b, wantBool)
	case parser.GTR:
		return boolResult(a > b, wantBool)
	case parser.LSS:
		return boolResult(a < b, wantBool)
	case parser.GTE:
		return boolResult(a >= b, wantBool)
	case parser.LTE:
		return boolResult(a <= b, wantBool)
	}
	return 0, false
}

// boolResult implements the `bool` modifier: with it, comparisons always
// keep the sample and encode the outcome as 1/0; without it, a failing
// comparison drops the sample (ok=false).
func boolResult(cond, wantBool bool) (float64, bool) {
	if wantBool {
		if cond {
			return 1, true
		}
		return 0, true
	}
	return 1, cond
}
