package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/openobserve/promql-engine/pkg/queryerr"
)

// SeriesHandler implements POST .../series -> metadata.Service.GetSeries.
func (h *Handler) SeriesHandler(w http.ResponseWriter, r *http.Request) {
	matchers, err := parseMatchers(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	start, err := parseTimeMicros(formValue(r, "start"), 0)
	if err != nil {
		h.writeError(w, err)
		return
	}
	end, err := parseTimeMicros(formValue(r, "end"), time.Now().UnixMicro())
	if err != nil {
		h.writeError(w, err)
		return
	}

	series, err := h.meta.GetSeries(r.Context(), orgOf(r), matchers, start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSONResponse(w, series)
}

// LabelsHandler implements POST .../labels -> metadata.Service.GetLabels.
func (h *Handler) LabelsHandler(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeMicros(formValue(r, "start"), 0)
	if err != nil {
		h.writeError(w, err)
		return
	}
	end, err := parseTimeMicros(formValue(r, "end"), time.Now().UnixMicro())
	if err != nil {
		h.writeError(w, err)
		return
	}

	names, err := h.meta.GetLabels(r.Context(), orgOf(r), start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSONResponse(w, names)
}

// LabelValuesHandler implements GET .../label/{name}/values ->
// metadata.Service.GetLabelValues.
func (h *Handler) LabelValuesHandler(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["name"]
	matchers, err := parseMatchers(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	start, err := parseTimeMicros(formValue(r, "start"), 0)
	if err != nil {
		h.writeError(w, err)
		return
	}
	end, err := parseTimeMicros(formValue(r, "end"), time.Now().UnixMicro())
	if err != nil {
		h.writeError(w, err)
		return
	}

	values, err := h.meta.GetLabelValues(r.Context(), orgOf(r), label, matchers, start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSONResponse(w, values)
}

// MetadataHandler implements GET .../metadata -> metadata.Service.GetMetadata.
func (h *Handler) MetadataHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, queryerr.InvalidParams("invalid form body: %v", err))
		return
	}
	metric := r.Form.Get("metric")
	limit := 0
	if s := r.Form.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, queryerr.InvalidParams("invalid limit %q: %v", s, err))
			return
		}
		limit = n
	}

	md, err := h.meta.GetMetadata(r.Context(), orgOf(r), metric, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSONResponse(w, md)
}
