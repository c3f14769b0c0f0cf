package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/openobserve/promql-engine/pkg/queryerr"
)

// parseTimeMicros parses a Prometheus-API-style time parameter (fractional
// unix seconds, e.g. "1700000000.123" or "1700000000") into microseconds
// since epoch. def is used when s is empty.
func parseTimeMicros(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, queryerr.InvalidParams("invalid time %q: %v", s, err)
	}
	return int64(f * 1e6), nil
}

// parseStepMicros parses a Prometheus-API-style step parameter (either a
// bare number of seconds or a Go duration string) into microseconds.
func parseStepMicros(s string) (int64, error) {
	if s == "" {
		return 0, queryerr.InvalidParams("missing step")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f * 1e6), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, queryerr.InvalidParams("invalid step %q: %v", s, err)
	}
	return d.Microseconds(), nil
}

// formValue reads a parameter from either the form body (POST) or the URL
// query string (GET), matching the Prometheus HTTP API's convention of
// accepting both.
func formValue(r *http.Request, name string) string {
	if err := r.ParseForm(); err != nil {
		return r.URL.Query().Get(name)
	}
	return r.Form.Get(name)
}

func parseMatchers(r *http.Request) ([]*labels.Matcher, error) {
	if err := r.ParseForm(); err != nil {
		return nil, queryerr.InvalidParams("invalid form body: %v", err)
	}
	var out []*labels.Matcher
	for _, sel := range r.Form["match[]"] {
		expr, err := parser.ParseExpr(sel)
		if err != nil {
			return nil, queryerr.InvalidParams("invalid matcher %q: %v", sel, err)
		}
		vs, ok := expr.(*parser.VectorSelector)
		if !ok {
			return nil, queryerr.InvalidParams("matcher %q is not a vector selector", sel)
		}
		out = append(out, vs.LabelMatchers...)
	}
	return out, nil
}
