// Package usagestats records per-request query statistics: how many
// queries each org ran and where their time went (queue wait, scan, eval,
// merge). The coordinator hands a TookDetail to ReportQuery after every
// request; the numbers surface through prometheus and, at debug level,
// through the log.
package usagestats

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openobserve/promql-engine/modules/coordinator"
)

// Reporter implements coordinator.UsageReporter.
type Reporter struct {
	logger log.Logger

	queries     *prometheus.CounterVec
	waitInQueue prometheus.Histogram
	scanTime    prometheus.Histogram
	evalTime    prometheus.Histogram
	mergeTime   prometheus.Histogram
	totalTime   prometheus.Histogram
}

// NewReporter registers the usage metrics on reg and returns a Reporter.
func NewReporter(reg prometheus.Registerer, logger log.Logger) *Reporter {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	factory := promauto.With(reg)
	buckets := prometheus.ExponentialBuckets(0.005, 4, 10)
	return &Reporter{
		logger: logger,
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promql_engine",
			Name:      "queries_total",
			Help:      "Total number of PromQL queries served, per org.",
		}, []string{"org"}),
		waitInQueue: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "promql_engine",
			Name:      "query_wait_in_queue_seconds",
			Help:      "Time spent waiting for workgroup admission.",
			Buckets:   buckets,
		}),
		scanTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "promql_engine",
			Name:      "query_scan_seconds",
			Help:      "Time spent scanning storage and WAL partitions.",
			Buckets:   buckets,
		}),
		evalTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "promql_engine",
			Name:      "query_eval_seconds",
			Help:      "Time spent evaluating the PromQL expression.",
			Buckets:   buckets,
		}),
		mergeTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "promql_engine",
			Name:      "query_merge_seconds",
			Help:      "Time spent merging per-worker partial results.",
			Buckets:   buckets,
		}),
		totalTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "promql_engine",
			Name:      "query_total_seconds",
			Help:      "End-to-end query time.",
			Buckets:   buckets,
		}),
	}
}

func (r *Reporter) ReportQuery(orgID string, stats coordinator.TookDetail) {
	r.queries.WithLabelValues(orgID).Inc()
	r.waitInQueue.Observe(stats.WaitInQueue.Seconds())
	r.scanTime.Observe(stats.ScanTime.Seconds())
	r.evalTime.Observe(stats.EvalTime.Seconds())
	r.mergeTime.Observe(stats.MergeTime.Seconds())
	r.totalTime.Observe(stats.Total.Seconds())

	level.Debug(r.logger).Log(
		"msg", "query stats",
		"org", orgID,
		"wait_in_queue", stats.WaitInQueue,
		"scan_time", stats.ScanTime,
		"eval_time", stats.EvalTime,
		"merge_time", stats.MergeTime,
		"total", stats.Total,
	)
}
