package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kit/log/level"

	"github.com/openobserve/promql-engine/modules/coordinator"
	"github.com/openobserve/promql-engine/pkg/queryerr"
)

// QueryRangeHandler implements POST .../query_range, the HTTP mapping
// onto Coordinator.Search with start != end.
func (h *Handler) QueryRangeHandler(w http.ResponseWriter, r *http.Request) {
	start, end, step, query, err := parseRangeParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.runQuery(w, r, coordinator.Request{
		OrgID:          orgOf(r),
		QueryText:      query,
		Start:          start,
		End:            end,
		Step:           step,
		QueryExemplars: formValue(r, "query_exemplars") == "true",
		UseCache:       formValue(r, "use_cache") != "false",
	})
}

// QueryHandler implements POST .../query, an instant query (start==end).
func (h *Handler) QueryHandler(w http.ResponseWriter, r *http.Request) {
	query := formValue(r, "query")
	if query == "" {
		h.writeError(w, errMissingQuery())
		return
	}
	now := time.Now().UnixMicro()
	ts, err := parseTimeMicros(formValue(r, "time"), now)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.runQuery(w, r, coordinator.Request{
		OrgID:          orgOf(r),
		QueryText:      query,
		Start:          ts,
		End:            ts,
		Step:           0,
		QueryExemplars: formValue(r, "query_exemplars") == "true",
		UseCache:       formValue(r, "use_cache") != "false",
	})
}

func (h *Handler) runQuery(w http.ResponseWriter, r *http.Request, req coordinator.Request) {
	ctx := r.Context()
	timeout := h.cfg.QueryTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req.Timeout = timeout

	level.Info(h.logger).Log("msg", "executing query", "org_id", req.OrgID, "query", req.QueryText, "start", req.Start, "end", req.End)

	resp, err := h.coord.Search(ctx, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSONResponse(w, marshalValue(resp.Value, resp.ResultType))
}

func parseRangeParams(r *http.Request) (start, end, step int64, query string, err error) {
	query = formValue(r, "query")
	if query == "" {
		return 0, 0, 0, "", errMissingQuery()
	}
	start, err = parseTimeMicros(formValue(r, "start"), 0)
	if err != nil {
		return 0, 0, 0, "", err
	}
	end, err = parseTimeMicros(formValue(r, "end"), 0)
	if err != nil {
		return 0, 0, 0, "", err
	}
	step, err = parseStepMicros(formValue(r, "step"))
	if err != nil {
		return 0, 0, 0, "", err
	}
	return start, end, step, query, nil
}

func errMissingQuery() error {
	return queryerr.InvalidParams("missing query parameter")
}
