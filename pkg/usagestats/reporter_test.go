package usagestats

import (
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/openobserve/promql-engine/modules/coordinator"
)

func TestReportQueryCountsPerOrg(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewReporter(reg, log.NewNopLogger())

	r.ReportQuery("org1", coordinator.TookDetail{Total: time.Second})
	r.ReportQuery("org1", coordinator.TookDetail{Total: 2 * time.Second})
	r.ReportQuery("org2", coordinator.TookDetail{Total: time.Millisecond})

	families, err := reg.Gather()
	require.NoError(t, err)

	byOrg := map[string]float64{}
	for _, fam := range families {
		if fam.GetName() != "promql_engine_queries_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "org" {
					byOrg[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, 2.0, byOrg["org1"])
	require.Equal(t, 1.0, byOrg["org2"])
}

func TestReportQueryObservesTimings(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewReporter(reg, log.NewNopLogger())

	r.ReportQuery("org1", coordinator.TookDetail{
		WaitInQueue: 10 * time.Millisecond,
		ScanTime:    20 * time.Millisecond,
		EvalTime:    30 * time.Millisecond,
		MergeTime:   5 * time.Millisecond,
		Total:       65 * time.Millisecond,
	})

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]uint64{}
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			if m.GetHistogram() != nil {
				counts[fam.GetName()] = m.GetHistogram().GetSampleCount()
			}
		}
	}
	for _, name := range []string{
		"promql_engine_query_wait_in_queue_seconds",
		"promql_engine_query_scan_seconds",
		"promql_engine_query_eval_seconds",
		"promql_engine_query_merge_seconds",
		"promql_engine_query_total_seconds",
	} {
		require.Equal(t, uint64(1), counts[name], name)
	}
}
