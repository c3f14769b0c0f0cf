// Package coordinator implements the query coordinator: the
// entry point that registers a PromQL request, admits it through
// workgroup, consults the result cache, partitions the time range across
// online queriers, fans the sub-requests out over RPC, merges partial
// results, enforces the per-org series limit, and writes the merged
// matrix back to cache.
package coordinator

import (
	"context"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/prometheus/model/labels"
	"golang.org/x/sync/errgroup"

	"github.com/openobserve/promql-engine/pkg/evaluator"
	"github.com/openobserve/promql-engine/pkg/metricspb"
	"github.com/openobserve/promql-engine/pkg/promqlvalue"
	"github.com/openobserve/promql-engine/pkg/queryerr"
	"github.com/openobserve/promql-engine/pkg/resultcache"
	"github.com/openobserve/promql-engine/pkg/seriessig"
	"github.com/openobserve/promql-engine/pkg/workgroup"
)

// QuerierNode is one online, interactive-role-group querier the
// coordinator may fan a sub-request out to.
type QuerierNode struct {
	ID      string
	Address string
}

// QuerierLister resolves the currently online querier set.
type QuerierLister interface {
	OnlineQueriers(ctx context.Context) ([]QuerierNode, error)
}

// Dialer opens (or reuses) an RPC client to one querier address.
type Dialer interface {
	Dial(ctx context.Context, addr string) (metricspb.MetricsClient, error)
}

// OverridesResolver answers per-org configuration questions. Returning 0
// from MaxSeriesPerQuery means "use the global default".
type OverridesResolver interface {
	MaxSeriesPerQuery(orgID string) int
}

// NoOverrides is the default resolver: every org uses the global config.
type NoOverrides struct{}

func (NoOverrides) MaxSeriesPerQuery(string) int { return 0 }

// UsageReporter receives per-request stats after the response is
// assembled.
type UsageReporter interface {
	ReportQuery(orgID string, stats TookDetail)
}

// NopUsageReporter discards stats.
type NopUsageReporter struct{}

func (NopUsageReporter) ReportQuery(string, TookDetail) {}

// TookDetail breaks a request's wall time down into the stages a user
// asking "where did my 4 seconds go" cares about.
type TookDetail struct {
	WaitInQueue time.Duration
	ScanTime    time.Duration
	EvalTime    time.Duration
	MergeTime   time.Duration
	Total       time.Duration
}

// Config bundles the coordinator-facing options.
type Config struct {
	QueryTimeout              time.Duration
	MetricsMaxPointsPerSeries int64
	MetricsMaxSeriesResponse  int
	MaxFileRetentionTime      time.Duration
	MetricsDedupEnabled       bool
	ResultCacheEnabled        bool
}

// RegisterFlagsAndApplyDefaults registers the coordinator's flags and
// applies default values.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f flagSetter) {
	f.DurationVar(&c.QueryTimeout, prefix+"query.timeout", 30*time.Second, "Default timeout applied when a request's own timeout is <= 0.")
	f.Int64Var(&c.MetricsMaxPointsPerSeries, prefix+"metrics.max-points-per-series", 360_000, "Maximum (end-start)/step points per series; 0 disables the check.")
	f.IntVar(&c.MetricsMaxSeriesResponse, prefix+"metrics.max-series-response", 40_000, "Default per-query series limit; overridable per org.")
	f.DurationVar(&c.MaxFileRetentionTime, prefix+"metrics.max-file-retention", time.Hour, "WAL retention window; controls the need_wal lookback.")
	f.BoolVar(&c.MetricsDedupEnabled, prefix+"metrics.dedup-enabled", false, "Enable HA-replica sample dedup on merge.")
	f.BoolVar(&c.ResultCacheEnabled, prefix+"query.cache-results", true, "Enable the step-aligned range-result cache.")
}

// flagSetter is the subset of *flag.FlagSet Config needs, so callers can
// register against the real flag.FlagSet without this package importing
// it directly for every call site (keeps the Config type usable from
// tests without a FlagSet at all).
type flagSetter interface {
	DurationVar(p *time.Duration, name string, value time.Duration, usage string)
	Int64Var(p *int64, name string, value int64, usage string)
	IntVar(p *int, name string, value int, usage string)
	BoolVar(p *bool, name string, value bool, usage string)
}

// Request is a validated, caller-facing PromQL query
// request entity.
type Request struct {
	TraceID        string
	OrgID          string
	QueryText      string
	Start, End     int64 // microseconds since epoch
	Step           int64
	QueryExemplars bool
	Timeout        time.Duration
	UseCache       bool
	IsSuperCluster bool
}

// Response is the merged, caller-facing result.
type Response struct {
	ResultType promqlvalue.ResultType
	Value      promqlvalue.Value
	TookDetail TookDetail
}

// Coordinator serves one PromQL request end-to-end: admission, cache
// lookup, fan-out, merge, limits, write-back.
type Coordinator struct {
	queriers  QuerierLister
	dialer    Dialer
	cache     *resultcache.Cache
	admission *workgroup.Admission
	overrides OverridesResolver
	cfg       Config
	usage     UsageReporter
	logger    log.Logger

	registry *taskRegistry
}

func New(queriers QuerierLister, dialer Dialer, cache *resultcache.Cache, admission *workgroup.Admission, overrides OverridesResolver, usage UsageReporter, cfg Config, logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if overrides == nil {
		overrides = NoOverrides{}
	}
	if usage == nil {
		usage = NopUsageReporter{}
	}
	return &Coordinator{
		queriers:  queriers,
		dialer:    dialer,
		cache:     cache,
		admission: admission,
		overrides: overrides,
		usage:     usage,
		cfg:       cfg,
		logger:    logger,
		registry:  newTaskRegistry(),
	}
}

// Cancel signals the abort channel registered for traceID, if any is
// in-flight. Returns false if no such request is registered.
func (c *Coordinator) Cancel(traceID string) bool {
	return c.registry.cancel(traceID)
}

// Search serves one PromQL request end to end.
func (c *Coordinator) Search(ctx context.Context, req Request) (*Response, error) {
	overall := time.Now()

	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	if req.Start > req.End {
		return nil, queryerr.InvalidParams("start must be <= end")
	}
	if req.Step <= 0 && req.Start != req.End {
		return nil, queryerr.InvalidParams("step must be > 0 for a range query")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.QueryTimeout
	}

	task, done := c.registry.register(req.TraceID)
	defer done()

	// Step 2: admission.
	waitStart := time.Now()
	lock, err := c.admission.CheckWorkGroup(ctx, req.TraceID, req.OrgID, timeout, workgroup.CategoryShort)
	if err != nil {
		return nil, err
	}
	defer lock.Release()
	waitInQueue := time.Since(waitStart)

	// Step 4: points-per-series limit (checked against the original
	// window, before any cache-driven shrinkage).
	if c.cfg.MetricsMaxPointsPerSeries > 0 && req.Step > 0 {
		points := (req.End - req.Start) / req.Step
		if points > c.cfg.MetricsMaxPointsPerSeries {
			return nil, queryerr.InvalidParams("(end-start)/step = %d exceeds metrics_max_points_per_series = %d", points, c.cfg.MetricsMaxPointsPerSeries)
		}
	}

	// Step 3: cache lookup.
	effectiveStart := req.Start
	var cachedSeries []promqlvalue.Range
	cacheContributed := false
	if req.UseCache && c.cfg.ResultCacheEnabled && req.Start != req.End && c.cache != nil {
		if newStart, series, ok := c.cache.Get(ctx, req.QueryText, req.OrgID, req.Start, req.End, req.Step); ok {
			cachedSeries = series
			cacheContributed = true
			effectiveStart = newStart
		}
	}

	scanStart := time.Now()
	var liveValue promqlvalue.Value
	var liveType promqlvalue.ResultType

	if effectiveStart > req.End {
		// Full cache hit: nothing live to fetch.
		liveValue, liveType = promqlvalue.Matrix{}, promqlvalue.ResultMatrix
	} else {
		// Steps 5-10: fan out to queriers.
		queriers, err := c.queriers.OnlineQueriers(ctx)
		if err != nil {
			return nil, queryerr.ServerInternalError("list queriers: %v", err)
		}
		if len(queriers) == 0 {
			return nil, queryerr.ServerInternalError("no querier node found")
		}
		sortQueriers(queriers)

		assignments := assignSubRanges(queriers, effectiveStart, req.End, req.Step)
		needWal := req.End >= time.Now().UnixMicro()-3*c.cfg.MaxFileRetentionTime.Microseconds()

		liveValue, liveType, err = c.fanOut(ctx, task, req, assignments, needWal, timeout)
		if err != nil {
			return nil, err
		}
	}
	scanTime := time.Since(scanStart)

	evalStart := time.Now()
	value, resultType := c.mergeWithCache(liveValue, liveType, cachedSeries, cacheContributed)
	value, seriesCount := c.enforceSeriesLimit(value, resultType, req.OrgID)
	evalTime := time.Since(evalStart)

	// Step 13: write-back. use_cache=false still writes back with
	// force=true: the
	// intent is "refresh stale cache", not "never cache" — callers cannot
	// currently suppress caching entirely.
	mergeStart := time.Now()
	if resultType == promqlvalue.ResultMatrix && c.cfg.ResultCacheEnabled && c.cache != nil {
		if m, ok := value.(promqlvalue.Matrix); ok && len(m.Series) > 0 {
			force := !req.UseCache
			c.cache.Set(ctx, req.TraceID, req.OrgID, req.QueryText, req.Start, req.End, req.Step, m, force)
		}
	}
	mergeTime := time.Since(mergeStart)

	took := TookDetail{
		WaitInQueue: waitInQueue,
		ScanTime:    scanTime,
		EvalTime:    evalTime,
		MergeTime:   mergeTime,
		Total:       time.Since(overall),
	}
	c.usage.ReportQuery(req.OrgID, took)

	level.Debug(c.logger).Log("msg", "query complete", "trace_id", req.TraceID, "org_id", req.OrgID, "series", seriesCount, "took_ms", took.Total.Milliseconds())

	return &Response{ResultType: resultType, Value: value, TookDetail: took}, nil
}

// sortQueriers orders by address then id for deterministic assignment,
// which in turn improves downstream cache hit rates.
func sortQueriers(nodes []QuerierNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Address != nodes[j].Address {
			return nodes[i].Address < nodes[j].Address
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// subAssignment is one querier's sub-range.
type subAssignment struct {
	node  QuerierNode
	start int64
	end   int64
}

// assignSubRanges computes partition_step
// and nr_steps from the (possibly cache-shrunk) window, derive worker_dt,
// and walk queriers in order assigning contiguous sub-ranges.
//
// start == end is the instant-query boundary: the whole
// request goes to a single worker.
func assignSubRanges(queriers []QuerierNode, start, end, step int64) []subAssignment {
	if start == end {
		return []subAssignment{{node: queriers[0], start: start, end: end}}
	}

	partitionStep := 2 * evaluator.DefaultLookback
	if step > partitionStep {
		partitionStep = step
	}
	nrSteps := ceilDiv(end-start, partitionStep)
	nrQueriers := int64(len(queriers))

	workerDT := partitionStep
	if nrSteps > nrQueriers {
		workerDT = partitionStep * ceilDiv(nrSteps, nrQueriers)
	}

	var out []subAssignment
	workerStart := start
	for _, q := range queriers {
		if workerStart >= end {
			break
		}
		workerEnd := workerStart + workerDT
		if workerEnd > end {
			workerEnd = end
		}
		out = append(out, subAssignment{node: q, start: workerStart, end: workerEnd})
		workerStart = workerEnd
	}
	return out
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// fanOut runs the concurrent RPC dispatch with
// a three-way race between the fan-out completing, the request timeout,
// and an external cancel signal for task — whichever resolves first wins
// and the others are aborted.
func (c *Coordinator) fanOut(ctx context.Context, task *inflightTask, req Request, assignments []subAssignment, needWal bool, timeout time.Duration) (promqlvalue.Value, promqlvalue.ResultType, error) {
	raceCtx, cancelRace := context.WithCancel(ctx)
	defer cancelRace()

	type result struct {
		responses []*metricspb.MetricsQueryResponse
		err       error
	}
	resultCh := make(chan result, 1)

	go func() {
		responses, err := c.dispatch(raceCtx, req, assignments, needWal, timeout)
		resultCh <- result{responses: responses, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, promqlvalue.ResultNone, r.err
		}
		return c.mergeResponses(r.responses, req)
	case <-time.After(timeout):
		cancelRace()
		return nil, promqlvalue.ResultNone, queryerr.SearchTimeout("query exceeded timeout of %s", timeout)
	case <-task.abort:
		cancelRace()
		return nil, promqlvalue.ResultNone, queryerr.SearchCancelQuery("query cancelled")
	}
}

// dispatch fans the RPC out to every assigned querier concurrently; the
// first ErrorCode from any worker is fatal for the whole request — no
// best-effort partial return at this layer.
func (c *Coordinator) dispatch(ctx context.Context, req Request, assignments []subAssignment, needWal bool, timeout time.Duration) ([]*metricspb.MetricsQueryResponse, error) {
	responses := make([]*metricspb.MetricsQueryResponse, len(assignments))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range assignments {
		i, a := i, a
		g.Go(func() error {
			client, err := c.dialer.Dial(gctx, a.node.Address)
			if err != nil {
				return queryerr.ServerInternalError("dial querier %s: %v", a.node.Address, err)
			}
			rpcReq := &metricspb.MetricsQueryRequest{
				Job:            &metricspb.Job{TraceId: req.TraceID, Partition: int32(i)},
				OrgId:          req.OrgID,
				Query:          &metricspb.QueryParams{QueryText: req.QueryText, Start: a.start, End: a.end, Step: req.Step, QueryExemplars: req.QueryExemplars},
				NeedWal:        needWal,
				TimeoutSeconds: int64(timeout.Seconds()),
				UseCache:       req.UseCache,
				IsSuperCluster: req.IsSuperCluster,
			}
			resp, err := client.Query(gctx, rpcReq)
			if err != nil {
				return queryerr.ServerInternalError("querier %s: %v", a.node.Address, err)
			}
			if resp.ErrorCode != "" {
				return queryerr.FromCode(queryerr.Code(resp.ErrorCode), resp.ErrorMessage)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

// mergeResponses merges worker partials by result_type.
func (c *Coordinator) mergeResponses(responses []*metricspb.MetricsQueryResponse, req Request) (promqlvalue.Value, promqlvalue.ResultType, error) {
	if len(responses) == 0 {
		return promqlvalue.Matrix{}, promqlvalue.ResultMatrix, nil
	}

	rt := promqlvalue.ResultType(responses[0].ResultType)
	switch rt {
	case promqlvalue.ResultMatrix, promqlvalue.ResultExemplars:
		matrices := make([]promqlvalue.Matrix, 0, len(responses))
		for _, r := range responses {
			matrices = append(matrices, fromSeriesResults(r.Series))
		}
		if rt == promqlvalue.ResultExemplars {
			exemplars := make([]promqlvalue.Exemplars, len(matrices))
			for i, m := range matrices {
				exemplars[i] = promqlvalue.Exemplars{Series: m.Series}
			}
			merged := promqlvalue.MergeExemplars(exemplars, seriessig.Signature)
			return merged, promqlvalue.ResultExemplars, nil
		}
		merged := promqlvalue.MergeMatrices(matrices, seriessig.Signature, c.cfg.MetricsDedupEnabled)
		return merged, promqlvalue.ResultMatrix, nil
	case promqlvalue.ResultVector:
		vectors := make([]promqlvalue.Vector, 0, len(responses))
		for _, r := range responses {
			vectors = append(vectors, fromSeriesResultsVector(r.Series))
		}
		merged := promqlvalue.MergeVectors(vectors, seriessig.Signature)
		return merged, promqlvalue.ResultVector, nil
	case promqlvalue.ResultScalar:
		scalars := make([]promqlvalue.Scalar, 0, len(responses))
		for _, r := range responses {
			for _, s := range r.Series {
				if s.Scalar != nil {
					scalars = append(scalars, promqlvalue.Scalar{Sample: promqlvalue.Sample{Timestamp: s.Scalar.Timestamp, Value: s.Scalar.Value}})
				}
			}
		}
		return promqlvalue.MergeScalars(scalars), promqlvalue.ResultScalar, nil
	case promqlvalue.ResultString:
		last := responses[len(responses)-1]
		for _, s := range last.Series {
			if s.Stringliteral != "" {
				return promqlvalue.String{Value: s.Stringliteral}, promqlvalue.ResultString, nil
			}
		}
		return promqlvalue.String{}, promqlvalue.ResultString, nil
	default:
		return nil, promqlvalue.ResultNone, queryerr.ServerInternalError("unknown result_type %q from worker: version mismatch", rt)
	}
}

// mergeWithCache folds the cache's contribution (if any) into the live
// merge result. If the
// cache contributed data and the original request was non-point, the
// merged result is forced to matrix even when live workers returned
// vector (which only happens for an effective single-timestamp live
// window).
func (c *Coordinator) mergeWithCache(live promqlvalue.Value, liveType promqlvalue.ResultType, cached []promqlvalue.Range, cacheContributed bool) (promqlvalue.Value, promqlvalue.ResultType) {
	if !cacheContributed {
		return live, liveType
	}

	liveMatrix := promqlvalue.Matrix{}
	switch v := live.(type) {
	case promqlvalue.Matrix:
		liveMatrix = v
	case promqlvalue.Vector:
		for _, inst := range v.Series {
			liveMatrix.Series = append(liveMatrix.Series, promqlvalue.Range{Labels: inst.Labels, Samples: []promqlvalue.Sample{inst.Sample}})
		}
	}

	merged := promqlvalue.MergeMatrices([]promqlvalue.Matrix{{Series: cached}, liveMatrix}, seriessig.Signature, c.cfg.MetricsDedupEnabled)
	return merged, promqlvalue.ResultMatrix
}

// enforceSeriesLimit truncates (never
// error) when the merged series count exceeds the effective per-org
// limit.
func (c *Coordinator) enforceSeriesLimit(value promqlvalue.Value, resultType promqlvalue.ResultType, orgID string) (promqlvalue.Value, int) {
	limit := c.cfg.MetricsMaxSeriesResponse
	if override := c.overrides.MaxSeriesPerQuery(orgID); override > 0 {
		limit = override
	}

	switch v := value.(type) {
	case promqlvalue.Matrix:
		if limit > 0 && len(v.Series) > limit {
			level.Warn(c.logger).Log("msg", "truncating series to max_series_per_query", "org_id", orgID, "series", len(v.Series), "limit", limit)
			v.Series = v.Series[:limit]
		}
		return v, len(v.Series)
	case promqlvalue.Exemplars:
		if limit > 0 && len(v.Series) > limit {
			level.Warn(c.logger).Log("msg", "truncating series to max_series_per_query", "org_id", orgID, "series", len(v.Series), "limit", limit)
			v.Series = v.Series[:limit]
		}
		return v, len(v.Series)
	case promqlvalue.Vector:
		if limit > 0 && len(v.Series) > limit {
			level.Warn(c.logger).Log("msg", "truncating series to max_series_per_query", "org_id", orgID, "series", len(v.Series), "limit", limit)
			v.Series = v.Series[:limit]
		}
		return v, len(v.Series)
	default:
		return value, 1
	}
}

func fromSeriesResults(series []*metricspb.SeriesResult) promqlvalue.Matrix {
	out := promqlvalue.Matrix{Series: make([]promqlvalue.Range, 0, len(series))}
	for _, s := range series {
		samples := make([]promqlvalue.Sample, 0, len(s.Samples))
		for _, smp := range s.Samples {
			samples = append(samples, promqlvalue.Sample{Timestamp: smp.Timestamp, Value: smp.Value})
		}
		var exemplars []promqlvalue.Exemplar
		for _, e := range s.Exemplars {
			exemplars = append(exemplars, promqlvalue.Exemplar{
				Sample: promqlvalue.Sample{Timestamp: e.Sample.Timestamp, Value: e.Sample.Value},
				Labels: fromProtoLabels(e.Labels),
			})
		}
		out.Series = append(out.Series, promqlvalue.Range{Labels: fromProtoLabels(s.Metric), Samples: samples, Exemplars: exemplars})
	}
	return out
}

func fromSeriesResultsVector(series []*metricspb.SeriesResult) promqlvalue.Vector {
	out := promqlvalue.Vector{Series: make([]promqlvalue.Instant, 0, len(series))}
	for _, s := range series {
		if s.Sample == nil {
			continue
		}
		out.Series = append(out.Series, promqlvalue.Instant{
			Labels: fromProtoLabels(s.Metric),
			Sample: promqlvalue.Sample{Timestamp: s.Sample.Timestamp, Value: s.Sample.Value},
		})
	}
	return out
}

func fromProtoLabels(pl []*metricspb.Label) labels.Labels {
	b := labels.NewBuilder(labels.EmptyLabels())
	for _, l := range pl {
		b.Set(l.Name, l.Value)
	}
	return b.Labels()
}
