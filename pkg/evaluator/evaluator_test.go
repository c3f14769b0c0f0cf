package evaluator

import (
	"context"
	"testing"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
)

// stubProvider answers Select from a fixed in-memory series set, filtering
// by metric name, matchers, and the requested time window. It exists
// purely to exercise the evaluator's own logic, not storage behavior.
type stubProvider struct {
	series map[string][]promqlvalue.Range
}

func (p *stubProvider) Select(_ context.Context, metric string, matchers []*labels.Matcher, start, end int64) ([]promqlvalue.Range, error) {
	var out []promqlvalue.Range
	for _, r := range p.series[metric] {
		if !matchAll(r.Labels, matchers) {
			continue
		}
		var samples []promqlvalue.Sample
		for _, s := range r.Samples {
			if s.Timestamp >= start && s.Timestamp <= end {
				samples = append(samples, s)
			}
		}
		if len(samples) == 0 {
			continue
		}
		out = append(out, promqlvalue.Range{Labels: r.Labels, Samples: samples, Exemplars: r.Exemplars})
	}
	return out, nil
}

func matchAll(lbls labels.Labels, matchers []*labels.Matcher) bool {
	for _, m := range matchers {
		if m.Name == labels.MetricName {
			continue
		}
		if !m.Matches(lbls.Get(m.Name)) {
			return false
		}
	}
	return true
}

func seriesOf(name string, extra map[string]string, samples ...promqlvalue.Sample) promqlvalue.Range {
	pairs := []string{"__name__", name}
	for k, v := range extra {
		pairs = append(pairs, k, v)
	}
	return promqlvalue.Range{Labels: labels.FromStrings(pairs...), Samples: samples}
}

const usec = int64(1_000_000)

func TestEvalInstantVectorSelector(t *testing.T) {
	p := &stubProvider{series: map[string][]promqlvalue.Range{
		"up": {
			seriesOf("up", map[string]string{"job": "api"}, promqlvalue.Sample{Timestamp: 100 * usec, Value: 1}),
		},
	}}
	expr, err := Parse("up")
	require.NoError(t, err)

	v, rt, err := Eval(context.Background(), p, EvalStmt{Expr: expr, Start: 100 * usec, End: 100 * usec})
	require.NoError(t, err)
	assert.Equal(t, promqlvalue.ResultVector, rt)
	vec := v.(promqlvalue.Vector)
	require.Len(t, vec.Series, 1)
	assert.Equal(t, 1.0, vec.Series[0].Sample.Value)
}

func TestEvalVectorSelectorUsesLookback(t *testing.T) {
	p := &stubProvider{series: map[string][]promqlvalue.Range{
		"up": {seriesOf("up", nil, promqlvalue.Sample{Timestamp: 50 * usec, Value: 7})},
	}}
	expr, err := Parse("up")
	require.NoError(t, err)

	// Evaluate at t=120s; the only sample is at t=50s, well within the
	// 5-minute default lookback.
	v, _, err := Eval(context.Background(), p, EvalStmt{Expr: expr, Start: 120 * usec, End: 120 * usec})
	require.NoError(t, err)
	vec := v.(promqlvalue.Vector)
	require.Len(t, vec.Series, 1)
	assert.Equal(t, 7.0, vec.Series[0].Sample.Value)
}

func TestEvalBinaryScalarArithmetic(t *testing.T) {
	expr, err := Parse("1 + 2 * 3")
	require.NoError(t, err)
	v, rt, err := Eval(context.Background(), &stubProvider{}, EvalStmt{Expr: expr, Start: 0, End: 0})
	require.NoError(t, err)
	assert.Equal(t, promqlvalue.ResultScalar, rt)
	assert.Equal(t, 7.0, v.(promqlvalue.Scalar).Sample.Value)
}

func TestEvalBinaryVectorVectorMatchesOnLabels(t *testing.T) {
	p := &stubProvider{series: map[string][]promqlvalue.Range{
		"a": {seriesOf("a", map[string]string{"job": "x"}, promqlvalue.Sample{Timestamp: 10 * usec, Value: 4})},
		"b": {seriesOf("b", map[string]string{"job": "x"}, promqlvalue.Sample{Timestamp: 10 * usec, Value: 2})},
	}}
	expr, err := Parse("a / b")
	require.NoError(t, err)
	v, _, err := Eval(context.Background(), p, EvalStmt{Expr: expr, Start: 10 * usec, End: 10 * usec})
	require.NoError(t, err)
	vec := v.(promqlvalue.Vector)
	require.Len(t, vec.Series, 1)
	assert.Equal(t, 2.0, vec.Series[0].Sample.Value)
}

func TestEvalAggregateSumBy(t *testing.T) {
	p := &stubProvider{series: map[string][]promqlvalue.Range{
		"requests": {
			seriesOf("requests", map[string]string{"job": "api", "pod": "a"}, promqlvalue.Sample{Timestamp: 10 * usec, Value: 1}),
			seriesOf("requests", map[string]string{"job": "api", "pod": "b"}, promqlvalue.Sample{Timestamp: 10 * usec, Value: 2}),
			seriesOf("requests", map[string]string{"job": "db", "pod": "c"}, promqlvalue.Sample{Timestamp: 10 * usec, Value: 5}),
		},
	}}
	expr, err := Parse("sum by (job) (requests)")
	require.NoError(t, err)
	v, _, err := Eval(context.Background(), p, EvalStmt{Expr: expr, Start: 10 * usec, End: 10 * usec})
	require.NoError(t, err)
	vec := v.(promqlvalue.Vector)
	require.Len(t, vec.Series, 2)

	byJob := map[string]float64{}
	for _, s := range vec.Series {
		byJob[s.Labels.Get("job")] = s.Sample.Value
	}
	assert.Equal(t, 3.0, byJob["api"])
	assert.Equal(t, 5.0, byJob["db"])
}

func TestEvalRateOverRangeVector(t *testing.T) {
	p := &stubProvider{series: map[string][]promqlvalue.Range{
		"reqs_total": {seriesOf("reqs_total", nil,
			promqlvalue.Sample{Timestamp: 0, Value: 0},
			promqlvalue.Sample{Timestamp: 60 * usec, Value: 60},
			promqlvalue.Sample{Timestamp: 120 * usec, Value: 120},
		)},
	}}
	expr, err := Parse("rate(reqs_total[2m])")
	require.NoError(t, err)
	v, _, err := Eval(context.Background(), p, EvalStmt{Expr: expr, Start: 120 * usec, End: 120 * usec})
	require.NoError(t, err)
	vec := v.(promqlvalue.Vector)
	require.Len(t, vec.Series, 1)
	assert.InDelta(t, 1.0, vec.Series[0].Sample.Value, 1e-9)
}

func TestEvalRangeQueryProducesMatrix(t *testing.T) {
	p := &stubProvider{series: map[string][]promqlvalue.Range{
		"up": {seriesOf("up", nil,
			promqlvalue.Sample{Timestamp: 0, Value: 1},
			promqlvalue.Sample{Timestamp: 10 * usec, Value: 1},
			promqlvalue.Sample{Timestamp: 20 * usec, Value: 1},
		)},
	}}
	expr, err := Parse("up")
	require.NoError(t, err)
	v, rt, err := Eval(context.Background(), p, EvalStmt{Expr: expr, Start: 0, End: 20 * usec, Interval: 10 * usec})
	require.NoError(t, err)
	assert.Equal(t, promqlvalue.ResultMatrix, rt)
	m := v.(promqlvalue.Matrix)
	require.Len(t, m.Series, 1)
	assert.Len(t, m.Series[0].Samples, 3)
}

func TestEvalLabelReplace(t *testing.T) {
	p := &stubProvider{series: map[string][]promqlvalue.Range{
		"up": {seriesOf("up", map[string]string{"instance": "10.0.0.1:9100"}, promqlvalue.Sample{Timestamp: 0, Value: 1})},
	}}
	expr, err := Parse(`label_replace(up, "host", "$1", "instance", "([^:]+):.*")`)
	require.NoError(t, err)
	v, _, err := Eval(context.Background(), p, EvalStmt{Expr: expr, Start: 0, End: 0})
	require.NoError(t, err)
	vec := v.(promqlvalue.Vector)
	require.Len(t, vec.Series, 1)
	assert.Equal(t, "10.0.0.1", vec.Series[0].Labels.Get("host"))
}

func TestEvalRangeQueryTimeoutAborts(t *testing.T) {
	p := &stubProvider{}
	expr, err := Parse("up")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = Eval(ctx, p, EvalStmt{Expr: expr, Start: 0, End: 10 * usec, Interval: usec})
	require.Error(t, err)
}

func TestEvalExemplarsReturnsWindowedExemplars(t *testing.T) {
	p := &stubProvider{series: map[string][]promqlvalue.Range{
		"up": {
			{
				Labels:  labels.FromStrings("__name__", "up", "instance", "a"),
				Samples: []promqlvalue.Sample{{Timestamp: usec, Value: 1}},
				Exemplars: []promqlvalue.Exemplar{
					{Sample: promqlvalue.Sample{Timestamp: 5 * usec, Value: 3}, Labels: labels.FromStrings("trace_id", "t2")},
					{Sample: promqlvalue.Sample{Timestamp: 2 * usec, Value: 2}, Labels: labels.FromStrings("trace_id", "t1")},
					{Sample: promqlvalue.Sample{Timestamp: 50 * usec, Value: 9}, Labels: labels.FromStrings("trace_id", "t3")},
				},
			},
		},
	}}
	expr, err := Parse("up")
	require.NoError(t, err)

	v, rt, err := EvalExemplars(context.Background(), p, EvalStmt{Expr: expr, Start: 0, End: 10 * usec, Interval: usec})
	require.NoError(t, err)
	assert.Equal(t, promqlvalue.ResultExemplars, rt)

	ex := v.(promqlvalue.Exemplars)
	require.Len(t, ex.Series, 1)
	require.Len(t, ex.Series[0].Exemplars, 2)
	assert.Equal(t, "t1", ex.Series[0].Exemplars[0].Labels.Get("trace_id"))
	assert.Equal(t, "t2", ex.Series[0].Exemplars[1].Labels.Get("trace_id"))
}
