package querier

import (
	"context"
	"testing"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/promql/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openobserve/promql-engine/pkg/metricspb"
	"github.com/openobserve/promql-engine/pkg/promqlvalue"
	"github.com/openobserve/promql-engine/pkg/storagescanner"
)

type stubSchemas struct{ schema *storagescanner.Schema }

func (s stubSchemas) IsTombstoned(_, _ string) (bool, error) { return false, nil }
func (s stubSchemas) Schema(_, _ string) (*storagescanner.Schema, error) {
	if s.schema != nil {
		return s.schema, nil
	}
	return &storagescanner.Schema{Fields: []string{"_timestamp", "value", "job"}, PartitionKeys: []string{"job"}}, nil
}

type stubFiles struct{ files []storagescanner.Partition }

func (s stubFiles) ListFiles(_ context.Context, _, _ string, _, _ int64, _ map[string]string) ([]storagescanner.Partition, error) {
	return s.files, nil
}

func TestQueryNoFilesReturnsEmptyMatrix(t *testing.T) {
	scanner := storagescanner.New(stubSchemas{}, stubFiles{}, nil, nil, nil, storagescanner.Config{QueryThreadNum: 1, CPUNum: 1}, nil)
	q := New(scanner, nil, Config{}, nil)

	resp, err := q.Query(context.Background(), &metricspb.MetricsQueryRequest{
		Job:   &metricspb.Job{TraceId: "t1"},
		OrgId: "org1",
		Query: &metricspb.QueryParams{QueryText: "up", Start: 0, End: 10, Step: 1},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.ErrorCode)
	assert.Equal(t, string(promqlvalue.ResultMatrix), resp.ResultType)
	assert.Empty(t, resp.Series)
}

func TestQueryInvalidPromQLReturnsErrorCode(t *testing.T) {
	scanner := storagescanner.New(stubSchemas{}, stubFiles{}, nil, nil, nil, storagescanner.Config{}, nil)
	q := New(scanner, nil, Config{}, nil)

	resp, err := q.Query(context.Background(), &metricspb.MetricsQueryRequest{
		Job:   &metricspb.Job{TraceId: "t1"},
		OrgId: "org1",
		Query: &metricspb.QueryParams{QueryText: "(((", Start: 0, End: 10, Step: 1},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ErrorCode)
}

func TestQueryMissingParamsIsInvalid(t *testing.T) {
	scanner := storagescanner.New(stubSchemas{}, stubFiles{}, nil, nil, nil, storagescanner.Config{}, nil)
	q := New(scanner, nil, Config{}, nil)

	resp, err := q.Query(context.Background(), &metricspb.MetricsQueryRequest{Job: &metricspb.Job{TraceId: "t1"}})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ErrorCode)
}

func TestMetricNamesCollectsDistinctSelectors(t *testing.T) {
	expr, err := parser.ParseExpr(`rate(http_requests_total[5m]) + http_requests_total`)
	require.NoError(t, err)
	names := metricNames(expr)
	assert.ElementsMatch(t, []string{"http_requests_total"}, names)
}

func TestAppendMatrixMergesBySeriesAndAppendsNew(t *testing.T) {
	a := promqlvalue.Matrix{Series: []promqlvalue.Range{
		{Labels: labels.FromStrings("__name__", "up"), Samples: []promqlvalue.Sample{{Timestamp: 0, Value: 1}}},
	}}
	b := promqlvalue.Matrix{Series: []promqlvalue.Range{
		{Labels: labels.FromStrings("__name__", "up"), Samples: []promqlvalue.Sample{{Timestamp: 1, Value: 2}}},
		{Labels: labels.FromStrings("__name__", "down"), Samples: []promqlvalue.Sample{{Timestamp: 1, Value: 3}}},
	}}
	out := appendMatrix(a, b)
	require.Len(t, out.Series, 2)
	assert.Len(t, out.Series[0].Samples, 2)
}

func TestExemplarBudgetDividesAcrossShards(t *testing.T) {
	assert.Equal(t, 500, exemplarBudget(1000, 2))
	assert.Equal(t, 1, exemplarBudget(1, 10))
	assert.Equal(t, 1000, exemplarBudget(1000, 0))
}

func TestConcatChunkKeepsLatestForNonChunkableTypes(t *testing.T) {
	v, rt := concatChunk(promqlvalue.Scalar{Sample: promqlvalue.Sample{Value: 1}}, promqlvalue.ResultScalar, promqlvalue.Scalar{Sample: promqlvalue.Sample{Value: 2}}, promqlvalue.ResultScalar)
	assert.Equal(t, promqlvalue.ResultScalar, rt)
	assert.Equal(t, 2.0, v.(promqlvalue.Scalar).Sample.Value)
}
