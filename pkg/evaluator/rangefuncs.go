package evaluator

import (
	"regexp"

	"github.com/prometheus/prometheus/model/labels"

	"github.com/openobserve/promql-engine/pkg/queryerr"
)

// rateFn builds rate/increase/delta: the difference between the first and
// last sample in the window, counter-reset-aware when counterReset is set
// and divided by the seconds between those two samples when perSecond is
// set. The result is not extrapolated to the window boundaries.
func rateFn(counterReset, perSecond bool) func(windowedSeries, time64) (float64, bool) {
	return func(ws windowedSeries, ts int64) (float64, bool) {
		if len(ws.samples) < 2 {
			return 0, false
		}
		first, last := ws.samples[0], ws.samples[len(ws.samples)-1]
		delta := last.Value - first.Value
		if counterReset {
			delta = 0
			prev := ws.samples[0].Value
			for _, s := range ws.samples[1:] {
				if s.Value < prev {
					delta += s.Value
				} else {
					delta += s.Value - prev
				}
				prev = s.Value
			}
		}
		durationSeconds := float64(last.Timestamp-first.Timestamp) / 1e6
		if !perSecond || durationSeconds <= 0 {
			return delta, true
		}
		return delta / durationSeconds, true
	}
}

// irateFn (irate/idelta) uses only the last two samples in the window.
func irateFn(perSecond bool) func(windowedSeries, time64) (float64, bool) {
	return func(ws windowedSeries, _ int64) (float64, bool) {
		if len(ws.samples) < 2 {
			return 0, false
		}
		prev, last := ws.samples[len(ws.samples)-2], ws.samples[len(ws.samples)-1]
		delta := last.Value - prev.Value
		if delta < 0 && perSecond {
			delta = last.Value
		}
		if !perSecond {
			return delta, true
		}
		dt := float64(last.Timestamp-prev.Timestamp) / 1e6
		if dt <= 0 {
			return 0, false
		}
		return delta / dt, true
	}
}

func derivFn(ws windowedSeries, _ int64) (float64, bool) {
	n := len(ws.samples)
	if n < 2 {
		return 0, false
	}
	// simple linear regression slope over (timestamp_seconds, value)
	var sumX, sumY, sumXY, sumX2 float64
	for _, s := range ws.samples {
		x := float64(s.Timestamp) / 1e6
		sumX += x
		sumY += s.Value
		sumXY += x * s.Value
		sumX2 += x * x
	}
	fn := float64(n)
	denom := fn*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	return (fn*sumXY - sumX*sumY) / denom, true
}

func sumOverTime(ws windowedSeries, _ int64) (float64, bool) {
	if len(ws.samples) == 0 {
		return 0, false
	}
	s := 0.0
	for _, v := range ws.samples {
		s += v.Value
	}
	return s, true
}

func avgOverTime(ws windowedSeries, _ int64) (float64, bool) {
	if len(ws.samples) == 0 {
		return 0, false
	}
	s := 0.0
	for _, v := range ws.samples {
		s += v.Value
	}
	return s / float64(len(ws.samples)), true
}

func minOverTime(ws windowedSeries, _ int64) (float64, bool) {
	if len(ws.samples) == 0 {
		return 0, false
	}
	m := ws.samples[0].Value
	for _, v := range ws.samples[1:] {
		if v.Value < m {
			m = v.Value
		}
	}
	return m, true
}

func maxOverTime(ws windowedSeries, _ int64) (float64, bool) {
	if len(ws.samples) == 0 {
		return 0, false
	}
	m := ws.samples[0].Value
	for _, v := range ws.samples[1:] {
		if v.Value > m {
			m = v.Value
		}
	}
	return m, true
}

func countOverTime(ws windowedSeries, _ int64) (float64, bool) {
	return float64(len(ws.samples)), len(ws.samples) > 0
}

func lastOverTime(ws windowedSeries, _ int64) (float64, bool) {
	if len(ws.samples) == 0 {
		return 0, false
	}
	return ws.samples[len(ws.samples)-1].Value, true
}

// applyLabelReplace implements label_replace(v, dst, replacement, src,
// regex): if the fully-anchored regex matches src's label value, dst is
// set to replacement with $1-style backreferences substituted.
func applyLabelReplace(vec vectorResult, dst, replacement, src, pattern string) (vectorResult, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, queryerr.InvalidParams("label_replace: invalid regex %q: %v", pattern, err)
	}

	out := make(vectorResult, 0, len(vec))
	for _, s := range vec {
		srcVal := s.labels.Get(src)
		match := re.FindStringSubmatchIndex(srcVal)
		lbls := s.labels
		if match != nil {
			expanded := re.ExpandString(nil, replacement, srcVal, match)
			b := labels.NewBuilder(s.labels)
			if len(expanded) == 0 {
				b.Del(dst)
			} else {
				b.Set(dst, string(expanded))
			}
			lbls = b.Labels()
		}
		out = append(out, sample{sig: lbls.Hash(), labels: lbls, sample: s.sample})
	}
	return out, nil
}
