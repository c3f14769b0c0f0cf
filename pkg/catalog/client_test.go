package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openobserve/promql-engine/pkg/storagescanner"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "up", r.URL.Query().Get("metric"))
		_ = json.NewEncoder(w).Encode([]storagescanner.Partition{{ID: "p1", MinTS: 0, MaxTS: 100}})
	})
	mux.HandleFunc("/schema", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(storagescanner.Schema{Fields: []string{"_timestamp", "value", "job"}})
	})
	mux.HandleFunc("/streams", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{{"Metric": "up", "MinTS": 0, "MaxTS": 100}})
	})
	return httptest.NewServer(mux)
}

func TestListFilesDecodesResponse(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	out, err := c.ListFiles(context.Background(), "org1", "up", 0, 100, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "p1", out[0].ID)
}

func TestSchemaDecodesResponse(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	schema, err := c.Schema("org1", "up")
	require.NoError(t, err)
	assert.Contains(t, schema.Fields, "job")
}

func TestStreamsDecodesResponse(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	streams, err := c.Streams(context.Background(), "org1")
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "up", streams[0].Metric)
}
