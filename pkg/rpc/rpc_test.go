package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/openobserve/promql-engine/pkg/metricspb"
	"github.com/openobserve/promql-engine/pkg/promqlvalue"
)

type stubQuerier struct{}

func (stubQuerier) Query(_ context.Context, req *metricspb.MetricsQueryRequest) (*metricspb.MetricsQueryResponse, error) {
	return &metricspb.MetricsQueryResponse{
		Job:        req.Job,
		ResultType: string(promqlvalue.ResultVector),
		Series: []*metricspb.SeriesResult{
			{Metric: []*metricspb.Label{{Name: "__name__", Value: "up"}}, Sample: &metricspb.Sample{Timestamp: req.Query.Start, Value: 1}},
		},
	}, nil
}

func dialBufconn(t *testing.T, l *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return l.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	return cc
}

func TestServerDialerRoundTrip(t *testing.T) {
	srv := NewServer(stubQuerier{})
	l := bufconn.Listen(1024 * 1024)
	go func() { _ = srv.Serve(l) }()
	defer srv.Stop()

	cc := dialBufconn(t, l)
	defer cc.Close()

	client := metricspb.NewMetricsClient(cc)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Query(ctx, &metricspb.MetricsQueryRequest{
		Job:   &metricspb.Job{TraceId: "t1"},
		OrgId: "org1",
		Query: &metricspb.QueryParams{QueryText: "up", Start: 100, End: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, string(promqlvalue.ResultVector), resp.ResultType)
	require.Len(t, resp.Series, 1)
	assert.Equal(t, "up", resp.Series[0].Metric[0].Value)
}

func TestMarshalMatchersRoundTrips(t *testing.T) {
	matchers := []*labels.Matcher{
		{Type: labels.MatchEqual, Name: "job", Value: "api"},
		{Type: labels.MatchRegexp, Name: "instance", Value: "a.*"},
	}
	out, err := marshalMatchers(matchers)
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"job"`)
	assert.Contains(t, out, `"value":"api"`)
}

func TestFromSeriesResultsRangeConvertsSamples(t *testing.T) {
	series := []*metricspb.SeriesResult{
		{
			Metric:  []*metricspb.Label{{Name: "__name__", Value: "up"}},
			Samples: []*metricspb.Sample{{Timestamp: 1, Value: 2}, {Timestamp: 2, Value: 3}},
		},
	}
	out := fromSeriesResultsRange(series)
	require.Len(t, out, 1)
	assert.Equal(t, "up", out[0].Labels.Get("__name__"))
	require.Len(t, out[0].Samples, 2)
	assert.Equal(t, 3.0, out[0].Samples[1].Value)
}
