package walscanner

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
	"github.com/openobserve/promql-engine/pkg/seriessig"
)

type stubNodes struct {
	nodes []string
	err   error
}

func (n stubNodes) OnlineIngesters(_ context.Context) ([]string, error) { return n.nodes, n.err }

type stubDialer struct {
	byNode map[string]RemoteScanResult
	errs   map[string]error
	seen   []RemoteScanRequest
}

func (d *stubDialer) RemoteScan(_ context.Context, node string, req RemoteScanRequest) (RemoteScanResult, error) {
	d.seen = append(d.seen, req)
	if err, ok := d.errs[node]; ok {
		return RemoteScanResult{}, err
	}
	return d.byNode[node], nil
}

func series(name string, samples ...promqlvalue.Sample) promqlvalue.Range {
	return promqlvalue.Range{Labels: labels.FromStrings("__name__", name, "instance", "a"), Samples: samples}
}

func TestScanNoIngestersIsEmptyNotError(t *testing.T) {
	s := New(stubNodes{}, &stubDialer{}, seriessig.Signature)
	out, files, err := s.Scan(context.Background(), "t1", "org", "up", 0, 100, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, files)
}

func TestScanStripsMetricNameMatcher(t *testing.T) {
	dialer := &stubDialer{byNode: map[string]RemoteScanResult{"n1": {}}}
	s := New(stubNodes{nodes: []string{"n1"}}, dialer, seriessig.Signature)

	matchers := []*labels.Matcher{
		{Type: labels.MatchEqual, Name: labels.MetricName, Value: "up"},
		{Type: labels.MatchEqual, Name: "job", Value: "api"},
	}
	_, _, err := s.Scan(context.Background(), "t1", "org", "up", 0, 100, matchers, nil)
	require.NoError(t, err)
	require.Len(t, dialer.seen, 1)
	for _, m := range dialer.seen[0].Matchers {
		assert.NotEqual(t, labels.MetricName, m.Name)
	}
}

func TestScanMergesAcrossNodesLastWriteWins(t *testing.T) {
	dialer := &stubDialer{byNode: map[string]RemoteScanResult{
		"n1": {Series: []promqlvalue.Range{series("up", promqlvalue.Sample{Timestamp: 10, Value: 1})}, FilesScanned: 2},
		"n2": {Series: []promqlvalue.Range{series("up", promqlvalue.Sample{Timestamp: 10, Value: 2})}, FilesScanned: 3},
	}}
	s := New(stubNodes{nodes: []string{"n1", "n2"}}, dialer, seriessig.Signature)

	out, files, err := s.Scan(context.Background(), "t1", "org", "up", 0, 100, nil, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Samples, 1)
	assert.Equal(t, 2.0, out[0].Samples[0].Value)
	assert.Equal(t, 5, files)
}

func TestScanProjectsLabelSelector(t *testing.T) {
	dialer := &stubDialer{byNode: map[string]RemoteScanResult{
		"n1": {Series: []promqlvalue.Range{series("up", promqlvalue.Sample{Timestamp: 10, Value: 1})}},
	}}
	s := New(stubNodes{nodes: []string{"n1"}}, dialer, seriessig.Signature)

	out, _, err := s.Scan(context.Background(), "t1", "org", "up", 0, 100, nil, []string{"__name__"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Labels.Len())
	assert.Equal(t, "up", out[0].Labels.Get("__name__"))
}

func TestScanPropagatesNodeError(t *testing.T) {
	dialer := &stubDialer{errs: map[string]error{"n1": errors.New("boom")}}
	s := New(stubNodes{nodes: []string{"n1"}}, dialer, seriessig.Signature)

	_, _, err := s.Scan(context.Background(), "t1", "org", "up", 0, 100, nil, nil)
	require.Error(t, err)
}
