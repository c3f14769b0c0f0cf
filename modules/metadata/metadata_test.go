package metadata

import (
	"context"
	"testing"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openobserve/promql-engine/pkg/storagescanner"
)

type stubSchemas struct{ schemas map[string]*storagescanner.Schema }

func (s stubSchemas) IsTombstoned(_, _ string) (bool, error) { return false, nil }
func (s stubSchemas) Schema(_, metric string) (*storagescanner.Schema, error) {
	return s.schemas[metric], nil
}

type stubFiles struct{ files []storagescanner.Partition }

func (s stubFiles) ListFiles(_ context.Context, _, _ string, _, _ int64, _ map[string]string) ([]storagescanner.Partition, error) {
	return s.files, nil
}

type stubStreams struct{ streams []StreamInfo }

func (s stubStreams) Streams(context.Context, string) ([]StreamInfo, error) { return s.streams, nil }

type stubMetadataResolver struct{ md map[string][]FieldMetadata }

func (s stubMetadataResolver) Metadata(_, metric string) ([]FieldMetadata, error) {
	return s.md[metric], nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	schemas := stubSchemas{schemas: map[string]*storagescanner.Schema{
		"http_requests_total_bucket": {Fields: []string{"_timestamp", "value", "hash", "job", "instance"}},
		"http_requests_total_count":  {Fields: []string{"_timestamp", "value", "hash", "job", "instance"}},
		"up":                         {Fields: []string{"_timestamp", "value", "hash", "job"}},
	}}
	scanner := storagescanner.New(schemas, stubFiles{}, nil, nil, nil, storagescanner.Config{QueryThreadNum: 1}, nil)
	streams := stubStreams{streams: []StreamInfo{
		{Metric: "http_requests_total_bucket", MinTS: 0, MaxTS: 1000},
		{Metric: "http_requests_total_count", MinTS: 0, MaxTS: 1000},
		{Metric: "up", MinTS: 500, MaxTS: 2000},
	}}
	svc := New(scanner, schemas, streams, stubMetadataResolver{md: map[string][]FieldMetadata{
		"http_requests_total_bucket": {{Type: "histogram", Help: "request latencies"}},
		"http_requests_total_count":  {{Type: "histogram", Help: "request latencies"}},
		"up":                         {{Type: "gauge", Help: "scrape health"}},
	}}, nil)
	return svc
}

func TestGetLabelsUnionsAcrossIntersectingStreams(t *testing.T) {
	svc := newTestService(t)
	names, err := svc.GetLabels(context.Background(), "org1", 0, 2000)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"job", "instance"}, names)
}

func TestGetLabelsExcludesStreamsOutsideWindow(t *testing.T) {
	svc := newTestService(t)
	out, err := svc.GetLabels(context.Background(), "org1", 1500, 2000)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"job"}, out)
}

func TestGetLabelValuesNameIsStreamList(t *testing.T) {
	svc := newTestService(t)
	out, err := svc.GetLabelValues(context.Background(), "org1", "__name__", nil, 0, 2000)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http_requests_total_bucket", "http_requests_total_count", "up"}, out)
}

func TestGetMetadataDedupsHistogramFamily(t *testing.T) {
	svc := newTestService(t)
	md, err := svc.GetMetadata(context.Background(), "org1", "", 0)
	require.NoError(t, err)
	_, ok := md["http_requests_total"]
	assert.True(t, ok)
	_, ok = md["up"]
	assert.True(t, ok)
}

func TestCandidateMetricsNarrowsOnNameMatcher(t *testing.T) {
	svc := newTestService(t)
	metrics, err := svc.candidateMetrics(context.Background(), "org1", []*labels.Matcher{
		{Type: labels.MatchEqual, Name: "__name__", Value: "up"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"up"}, metrics)
}

func TestCandidateMetricsFallsBackToAllStreams(t *testing.T) {
	svc := newTestService(t)
	metrics, err := svc.candidateMetrics(context.Background(), "org1", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http_requests_total_bucket", "http_requests_total_count", "up"}, metrics)
}
