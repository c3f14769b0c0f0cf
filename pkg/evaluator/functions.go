package evaluator

import (
	"context"
	"math"

	"github.com/prometheus/prometheus/promql/parser"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
	"github.com/openobserve/promql-engine/pkg/queryerr"
)

// rangeFuncs are functions whose first argument is a range vector
// (MatrixSelector). instantFuncs take instant vectors or scalars.
var rangeFuncs = map[string]func(windowedSeries, time64) (float64, bool){
	"rate":            rateFn(true, true),
	"irate":           irateFn(true),
	"increase":        rateFn(true, false),
	"idelta":          irateFn(false),
	"delta":           rateFn(false, false),
	"deriv":           derivFn,
	"sum_over_time":   sumOverTime,
	"avg_over_time":   avgOverTime,
	"min_over_time":   minOverTime,
	"max_over_time":   maxOverTime,
	"count_over_time": countOverTime,
	"last_over_time":  lastOverTime,
}

type time64 = int64

func (e *evaluator) evalCall(ctx context.Context, n *parser.Call, ts int64) (any, error) {
	name := n.Func.Name

	if fn, ok := rangeFuncs[name]; ok {
		if len(n.Args) == 0 {
			return nil, queryerr.InvalidParams("%s: missing range-vector argument", name)
		}
		m, rng, err := e.evalMatrix(ctx, n.Args[0], ts)
		if err != nil {
			return nil, err
		}
		_ = rng
		out := make(vectorResult, 0, len(m))
		for _, ws := range m {
			v, ok := fn(ws, ts)
			if !ok {
				continue
			}
			out = append(out, sample{sig: ws.sig, labels: dropMetricName(ws.labels), sample: promqlvalue.Sample{Timestamp: ts, Value: v}})
		}
		return out, nil
	}

	switch name {
	case "abs", "ceil", "floor", "round", "sqrt", "exp", "ln", "log2", "log10", "sgn":
		return e.evalMathFunc(ctx, name, n, ts)
	case "clamp":
		return e.evalClamp(ctx, n, ts, true, true)
	case "clamp_min":
		return e.evalClamp(ctx, n, ts, true, false)
	case "clamp_max":
		return e.evalClamp(ctx, n, ts, false, true)
	case "label_replace":
		return e.evalLabelReplace(ctx, n, ts)
	case "vector":
		v, err := e.eval(ctx, n.Args[0], ts)
		if err != nil {
			return nil, err
		}
		sc, ok := v.(scalarResult)
		if !ok {
			return nil, queryerr.InvalidParams("vector(): argument must be a scalar")
		}
		return vectorResult{{sample: promqlvalue.Sample{Timestamp: ts, Value: sc.v}}}, nil
	case "scalar":
		v, err := e.eval(ctx, n.Args[0], ts)
		if err != nil {
			return nil, err
		}
		vec, ok := v.(vectorResult)
		if !ok || len(vec) != 1 {
			return scalarResult{v: math.NaN()}, nil
		}
		return scalarResult{v: vec[0].sample.Value}, nil
	}
	return nil, queryerr.InvalidParams("unsupported function %q", name)
}

func (e *evaluator) evalMathFunc(ctx context.Context, name string, n *parser.Call, ts int64) (any, error) {
	v, err := e.eval(ctx, n.Args[0], ts)
	if err != nil {
		return nil, err
	}
	apply := func(x float64) float64 {
		switch name {
		case "abs":
			return math.Abs(x)
		case "ceil":
			return math.Ceil(x)
		case "floor":
			return math.Floor(x)
		case "round":
			return math.Round(x)
		case "sqrt":
			return math.Sqrt(x)
		case "exp":
			return math.Exp(x)
		case "ln":
			return math.Log(x)
		case "log2":
			return math.Log2(x)
		case "log10":
			return math.Log10(x)
		case "sgn":
			switch {
			case x > 0:
				return 1
			case x < 0:
				return -1
			default:
				return 0
			}
		}
		return x
	}
	switch val := v.(type) {
	case scalarResult:
		return scalarResult{v: apply(val.v)}, nil
	case vectorResult:
		out := make(vectorResult, 0, len(val))
		for _, s := range val {
			out = append(out, sample{sig: s.sig, labels: dropMetricName(s.labels), sample: promqlvalue.Sample{Timestamp: s.sample.Timestamp, Value: apply(s.sample.Value)}})
		}
		return out, nil
	}
	return nil, queryerr.InvalidParams("%s: unsupported operand", name)
}

func (e *evaluator) evalClamp(ctx context.Context, n *parser.Call, ts int64, hasMin, hasMax bool) (any, error) {
	v, err := e.eval(ctx, n.Args[0], ts)
	if err != nil {
		return nil, err
	}
	vec, ok := v.(vectorResult)
	if !ok {
		return nil, queryerr.InvalidParams("clamp: operand must be an instant vector")
	}

	idx := 1
	min, max := math.Inf(-1), math.Inf(+1)
	if hasMin {
		mv, err := e.eval(ctx, n.Args[idx], ts)
		if err != nil {
			return nil, err
		}
		if sc, ok := mv.(scalarResult); ok {
			min = sc.v
		}
		idx++
	}
	if hasMax {
		mv, err := e.eval(ctx, n.Args[idx], ts)
		if err != nil {
			return nil, err
		}
		if sc, ok := mv.(scalarResult); ok {
			max = sc.v
		}
	}

	out := make(vectorResult, 0, len(vec))
	for _, s := range vec {
		v := s.sample.Value
		if v < min {
			v = min
		}
		if v > max {
			v = max
		}
		out = append(out, sample{sig: s.sig, labels: dropMetricName(s.labels), sample: promqlvalue.Sample{Timestamp: s.sample.Timestamp, Value: v}})
	}
	return out, nil
}

func (e *evaluator) evalLabelReplace(ctx context.Context, n *parser.Call, ts int64) (any, error) {
	if len(n.Args) != 5 {
		return nil, queryerr.InvalidParams("label_replace: expects 5 arguments")
	}
	v, err := e.eval(ctx, n.Args[0], ts)
	if err != nil {
		return nil, err
	}
	vec, ok := v.(vectorResult)
	if !ok {
		return nil, queryerr.InvalidParams("label_replace: operand must be an instant vector")
	}

	strArg := func(i int) (string, error) {
		r, err := e.eval(ctx, n.Args[i], ts)
		if err != nil {
			return "", err
		}
		s, ok := r.(stringResult)
		if !ok {
			return "", queryerr.InvalidParams("label_replace: argument %d must be a string literal", i)
		}
		return string(s), nil
	}

	dst, err := strArg(1)
	if err != nil {
		return nil, err
	}
	replacement, err := strArg(2)
	if err != nil {
		return nil, err
	}
	src, err := strArg(3)
	if err != nil {
		return nil, err
	}
	pattern, err := strArg(4)
	if err != nil {
		return nil, err
	}

	return applyLabelReplace(vec, dst, replacement, src, pattern)
}
