package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-kit/log/level"

	"github.com/openobserve/promql-engine/pkg/queryerr"
)

const contentTypeJSON = "application/json"

// promResponse mirrors the Prometheus HTTP API's response envelope:
// {"status":"success","data":...} or {"status":"error","errorType":...,"error":...}.
type promResponse struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	ErrorType string      `json:"errorType,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// writeJSONResponse writes a successful data payload in the Prometheus
// envelope.
func (h *Handler) writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	if err := json.NewEncoder(w).Encode(promResponse{Status: "success", Data: data}); err != nil {
		level.Error(h.logger).Log("msg", "failed to encode JSON response", "err", err)
	}
}

// writeError maps a queryerr.Code (or an opaque error) onto an HTTP status
// and the Prometheus error envelope.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code, ok := queryerr.CodeOf(err)
	status := http.StatusInternalServerError
	errType := string(queryerr.CodeServerInternalError)
	if ok {
		errType = string(code)
		switch code {
		case queryerr.CodeInvalidParams:
			status = http.StatusBadRequest
		case queryerr.CodeSearchTimeout:
			status = http.StatusGatewayTimeout
		case queryerr.CodeSearchCancelQuery:
			status = http.StatusBadRequest
		case queryerr.CodeServerInternalError:
			status = http.StatusInternalServerError
		}
	}

	level.Error(h.logger).Log("msg", "request failed", "err_type", errType, "err", err)

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(promResponse{Status: "error", ErrorType: errType, Error: err.Error()})
}
