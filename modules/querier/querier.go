// Package querier implements the per-worker search: one
// querier node's handling of a MetricsQueryRequest sub-range. It composes
// the Storage Scanner (cold) and WAL Scanner (hot) behind the evaluator's
// TableProvider seam, and, when a sub-range's predicted memory would
// exceed datafusion_max_size, splits its own work further via the Group
// Partitioner before evaluating.
package querier

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/openobserve/promql-engine/pkg/evaluator"
	"github.com/openobserve/promql-engine/pkg/grouppartition"
	"github.com/openobserve/promql-engine/pkg/metricspb"
	"github.com/openobserve/promql-engine/pkg/promqlvalue"
	"github.com/openobserve/promql-engine/pkg/queryerr"
	"github.com/openobserve/promql-engine/pkg/seriessig"
	"github.com/openobserve/promql-engine/pkg/storagescanner"
	"github.com/openobserve/promql-engine/pkg/walscanner"
)

// Config bundles the per-worker tunables.
type Config struct {
	// DatafusionMaxSize bounds the predicted in-memory bytes a single
	// evaluation chunk may scan before the querier splits its own
	// sub-range via the group partitioner.
	DatafusionMaxSize int64
	// MaxFileRetentionTime controls the WAL-resident window the
	// coordinator used to set NeedWal; the querier itself just honors the
	// flag on the request.
	MaxFileRetentionTime time.Duration
}

// Querier answers one MetricsQueryRequest end to end for its assigned
// sub-range.
type Querier struct {
	scanner *storagescanner.Scanner
	wal     *walscanner.Scanner
	cfg     Config
	logger  log.Logger
}

func New(scanner *storagescanner.Scanner, wal *walscanner.Scanner, cfg Config, logger log.Logger) *Querier {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Querier{scanner: scanner, wal: wal, cfg: cfg, logger: logger}
}

// Query implements the MetricsServer contract, wired as the handler
// behind metricspb.Metrics/Query.
func (q *Querier) Query(ctx context.Context, req *metricspb.MetricsQueryRequest) (*metricspb.MetricsQueryResponse, error) {
	resp, err := q.searchInner(ctx, req)
	if err != nil {
		code, ok := queryerr.CodeOf(err)
		if !ok {
			code = queryerr.CodeServerInternalError
		}
		return &metricspb.MetricsQueryResponse{
			Job:          req.Job,
			ErrorCode:    string(code),
			ErrorMessage: err.Error(),
		}, nil
	}
	return resp, nil
}

// searchInner parses, optionally chunks, evaluates, and packages one
// sub-range assignment.
func (q *Querier) searchInner(ctx context.Context, req *metricspb.MetricsQueryRequest) (*metricspb.MetricsQueryResponse, error) {
	start := time.Now()

	if req.Query == nil {
		return nil, queryerr.InvalidParams("missing query params")
	}
	if req.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	expr, err := evaluator.Parse(req.Query.QueryText)
	if err != nil {
		return nil, err
	}

	stmt := evaluator.EvalStmt{
		Expr:          expr,
		Start:         req.Query.Start,
		End:           req.Query.End,
		Interval:      req.Query.Step,
		LookbackDelta: evaluator.DefaultLookback,
	}

	metrics := metricNames(expr)

	chunks := []grouppartition.Group{{Start: stmt.Start, End: stmt.End}}
	if !stmt.IsInstant() && len(metrics) > 0 {
		if g, ok := q.splitBySize(ctx, req.OrgId, metrics[0], stmt); ok {
			chunks = g
		}
	}

	stats := &metricspb.ScanStats{}
	var value promqlvalue.Value
	var resultType promqlvalue.ResultType

	for _, chunk := range chunks {
		chunkStmt := stmt
		chunkStmt.Start, chunkStmt.End = chunk.Start, chunk.End

		provider := &composedProvider{
			q:       q,
			ctx:     ctx,
			orgID:   req.OrgId,
			traceID: jobTraceID(req.Job),
			needWal: req.NeedWal,
			samplingRatio: req.Query.SamplingRatio,
			stats:   stats,
		}

		var v promqlvalue.Value
		var rt promqlvalue.ResultType
		if req.Query.QueryExemplars {
			v, rt, err = evaluator.EvalExemplars(ctx, provider, chunkStmt)
		} else {
			v, rt, err = evaluator.Eval(ctx, provider, chunkStmt)
		}
		if err != nil {
			return nil, err
		}
		value, resultType = concatChunk(value, resultType, v, rt)
	}

	if req.Query.QueryExemplars {
		value = applyExemplarBudget(value, resultType, len(chunks))
	}

	stats.OriginalSizeMb = bytesToMiB(stats.OriginalSizeMb)
	stats.CompressedSizeMb = bytesToMiB(stats.CompressedSizeMb)

	series := toSeriesResult(value, resultType)

	return &metricspb.MetricsQueryResponse{
		Job:        req.Job,
		TookMs:     time.Since(start).Milliseconds(),
		ResultType: string(resultType),
		Series:     series,
		ScanStats:  stats,
	}, nil
}

func bytesToMiB(bytes float64) float64 {
	return bytes / (1024 * 1024)
}

// splitBySize: if the sub-range's
// predicted memory would exceed datafusion_max_size, partition it into
// sequential chunks via the group partitioner.
func (q *Querier) splitBySize(ctx context.Context, org, metric string, stmt evaluator.EvalStmt) ([]grouppartition.Group, bool) {
	if q.cfg.DatafusionMaxSize <= 0 {
		return nil, false
	}
	sess, err := q.scanner.Scan(ctx, org, metric, stmt.Start, stmt.End, nil)
	if err != nil || sess == nil || len(sess.Files) == 0 {
		return nil, false
	}

	var predicted int64
	files := make([]grouppartition.File, 0, len(sess.Files))
	for _, f := range sess.Files {
		predicted += f.Records * 24
		files = append(files, grouppartition.File{Records: f.Records, MaxTS: f.MaxTS})
	}
	if predicted <= q.cfg.DatafusionMaxSize {
		return nil, false
	}

	groups := grouppartition.Partition(q.cfg.DatafusionMaxSize, files, stmt.Start, stmt.End, stmt.Interval)
	if len(groups) == 0 {
		return nil, false
	}
	level.Debug(q.logger).Log("msg", "intra-worker group partitioning", "groups", len(groups), "metric", metric)
	return groups, true
}

// concatChunk stitches sequential chunk results together. Chunks cover
// disjoint, ordered time sub-ranges, so concatenation preserves the
// strictly-ascending-per-series invariant without a merge/sort pass.
func concatChunk(acc promqlvalue.Value, accType promqlvalue.ResultType, v promqlvalue.Value, rt promqlvalue.ResultType) (promqlvalue.Value, promqlvalue.ResultType) {
	if acc == nil {
		return v, rt
	}
	switch a := acc.(type) {
	case promqlvalue.Matrix:
		if m, ok := v.(promqlvalue.Matrix); ok {
			return appendMatrix(a, m), promqlvalue.ResultMatrix
		}
	case promqlvalue.Exemplars:
		if e, ok := v.(promqlvalue.Exemplars); ok {
			return appendExemplars(a, e), promqlvalue.ResultExemplars
		}
	}
	// Scalar/Vector/String instant results have no chunk-concatenation
	// meaning (only one chunk is produced for instant queries); keep the
	// latest.
	return v, rt
}

func appendMatrix(a, b promqlvalue.Matrix) promqlvalue.Matrix {
	bySig := map[string]int{}
	for i, r := range a.Series {
		bySig[r.Labels.String()] = i
	}
	for _, r := range b.Series {
		key := r.Labels.String()
		if i, ok := bySig[key]; ok {
			a.Series[i].Samples = append(a.Series[i].Samples, r.Samples...)
			continue
		}
		a.Series = append(a.Series, r)
	}
	return a
}

func appendExemplars(a, b promqlvalue.Exemplars) promqlvalue.Exemplars {
	bySig := map[string]int{}
	for i, r := range a.Series {
		bySig[r.Labels.String()] = i
	}
	for _, r := range b.Series {
		key := r.Labels.String()
		if i, ok := bySig[key]; ok {
			a.Series[i].Exemplars = append(a.Series[i].Exemplars, r.Exemplars...)
			continue
		}
		a.Series = append(a.Series, r)
	}
	return a
}

func jobTraceID(job *metricspb.Job) string {
	if job == nil {
		return ""
	}
	return job.TraceId
}

// metricNames walks expr collecting every vector selector's metric name,
// used only to pick a representative file set for the intra-worker group
// partitioning memory prediction.
func metricNames(expr parser.Expr) []string {
	var names []string
	seen := map[string]struct{}{}
	parser.Inspect(expr, func(n parser.Node, _ []parser.Node) error {
		vs, ok := n.(*parser.VectorSelector)
		if !ok || vs.Name == "" {
			return nil
		}
		if _, dup := seen[vs.Name]; dup {
			return nil
		}
		seen[vs.Name] = struct{}{}
		names = append(names, vs.Name)
		return nil
	})
	return names
}

// composedProvider implements evaluator.TableProvider by fanning out to
// the cold storage scan and, when needed, the hot WAL scan, merging the
// two with last-write-wins on (signature, timestamp) — the WAL-overlap
// invariant the WAL contract requires.
type composedProvider struct {
	q             *Querier
	ctx           context.Context
	orgID         string
	traceID       string
	needWal       bool
	samplingRatio float64
	stats         *metricspb.ScanStats
}

func (p *composedProvider) Select(ctx context.Context, metric string, matchers []*labels.Matcher, start, end int64) ([]promqlvalue.Range, error) {
	sess, err := p.q.scanner.Scan(ctx, p.orgID, metric, start, end, matchers)
	if err != nil {
		return nil, err
	}
	accumulateScanStats(p.stats, sess)

	cold, err := p.q.scanner.ReadSeries(ctx, sess, matchers, start, end, p.samplingRatio)
	if err != nil {
		return nil, err
	}

	if !p.needWal || p.q.wal == nil {
		return cold, nil
	}

	// TODO: the WAL path filters with BETWEEN while
	// storage uses >= AND <, so a sample exactly at end may be counted by
	// WAL but excluded by storage. Preserved verbatim.
	wal, filesScanned, err := p.q.wal.Scan(ctx, p.traceID, p.orgID, metric, start, end, matchers, nil)
	if err != nil {
		return nil, err
	}
	p.stats.WalFilesScanned += int64(filesScanned)

	merged := promqlvalue.MergeMatrices(
		[]promqlvalue.Matrix{{Series: cold}, {Series: wal}},
		seriessig.Signature,
		true, // last write wins: WAL is appended after cold, so it wins ties.
	)
	return merged.Series, nil
}

func accumulateScanStats(dst *metricspb.ScanStats, sess *storagescanner.Session) {
	if sess == nil {
		return
	}
	dst.FileCount += int64(sess.Stats.FileCount)
	dst.OriginalSizeMb += float64(sess.Stats.OriginalSizeBytes)
	dst.CompressedSizeMb += float64(sess.Stats.CompressedSizeBytes)
	dst.MemoryCached += int64(sess.Stats.MemoryCached)
	dst.DiskCached += int64(sess.Stats.DiskCached)
	dst.Downloaded += int64(sess.Stats.Downloaded)
	dst.IdxTookMs += sess.Stats.IdxTookMs
}

func toSeriesResult(v promqlvalue.Value, rt promqlvalue.ResultType) []*metricspb.SeriesResult {
	switch val := v.(type) {
	case promqlvalue.Matrix:
		out := make([]*metricspb.SeriesResult, 0, len(val.Series))
		for _, r := range val.Series {
			out = append(out, &metricspb.SeriesResult{Metric: toLabels(r.Labels), Samples: toSamples(r.Samples)})
		}
		return out
	case promqlvalue.Vector:
		out := make([]*metricspb.SeriesResult, 0, len(val.Series))
		for _, inst := range val.Series {
			out = append(out, &metricspb.SeriesResult{Metric: toLabels(inst.Labels), Sample: toSample(inst.Sample)})
		}
		return out
	case promqlvalue.Exemplars:
		out := make([]*metricspb.SeriesResult, 0, len(val.Series))
		for _, r := range val.Series {
			out = append(out, &metricspb.SeriesResult{Metric: toLabels(r.Labels), Exemplars: toExemplars(r.Exemplars)})
		}
		return out
	case promqlvalue.Scalar:
		return []*metricspb.SeriesResult{{Scalar: toSample(val.Sample)}}
	case promqlvalue.String:
		return []*metricspb.SeriesResult{{Stringliteral: val.Value}}
	default:
		return nil
	}
}

func toLabels(lbls labels.Labels) []*metricspb.Label {
	out := make([]*metricspb.Label, 0, lbls.Len())
	lbls.Range(func(l labels.Label) {
		out = append(out, &metricspb.Label{Name: l.Name, Value: l.Value})
	})
	return out
}

func toSample(s promqlvalue.Sample) *metricspb.Sample {
	return &metricspb.Sample{Timestamp: s.Timestamp, Value: s.Value}
}

func toSamples(samples []promqlvalue.Sample) []*metricspb.Sample {
	out := make([]*metricspb.Sample, 0, len(samples))
	for _, s := range samples {
		out = append(out, toSample(s))
	}
	return out
}

func toExemplars(exemplars []promqlvalue.Exemplar) []*metricspb.Exemplar {
	out := make([]*metricspb.Exemplar, 0, len(exemplars))
	for _, e := range exemplars {
		out = append(out, &metricspb.Exemplar{Sample: toSample(e.Sample), Labels: toLabels(e.Labels)})
	}
	return out
}

// exemplarBudget caps exemplars per series scaled to this worker's share
// of the total requested exemplar budget, so one
// hot shard's chunk count doesn't monopolize the overall exemplar quota.
func exemplarBudget(total, shards int) int {
	if shards <= 0 {
		shards = 1
	}
	perShard := total / shards
	if perShard < 1 {
		perShard = 1
	}
	return perShard
}

const defaultExemplarTotal = 1000

func applyExemplarBudget(v promqlvalue.Value, rt promqlvalue.ResultType, shards int) promqlvalue.Value {
	ex, ok := v.(promqlvalue.Exemplars)
	if !ok {
		return v
	}
	budget := exemplarBudget(defaultExemplarTotal, shards)
	for i, r := range ex.Series {
		if len(r.Exemplars) > budget {
			ex.Series[i].Exemplars = r.Exemplars[:budget]
		}
	}
	return ex
}

