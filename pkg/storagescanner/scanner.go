package storagescanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/prometheus/model/labels"
	"golang.org/x/sync/errgroup"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
	"github.com/openobserve/promql-engine/pkg/queryerr"
	"github.com/openobserve/promql-engine/pkg/seriessig"
)

// Session is the output of Scan: a ready-to-query set of surviving
// partitions plus the stats accumulated while assembling it.
type Session struct {
	Files          []Partition
	Schema         *Schema
	Stats          ScanStats
	IndexCondition IndexCondition
	// TargetPartitions is the DataFusion-style parallelism hint:
	// query_thread_num when every file was already cached, cpu_num
	// otherwise (conservative, to avoid thread-starvation while I/O
	// waits).
	TargetPartitions int
}

// Scanner turns a (org, metric, time range, matchers) request into a
// ready-to-query scan session.
type Scanner struct {
	schemas               SchemaResolver
	files                 FileLister
	cache                 *parquetCache
	index                 IndexSearcher
	rewriter              PartitionKeyRewriter
	indexEnabled          bool
	removeFilterWithIndex bool

	queryThreadNum int
	cpuNum         int

	logger log.Logger
}

// Config bundles the tunables for the storage scan path.
type Config struct {
	QueryThreadNum       int
	CPUNum               int
	InvertedIndexEnabled bool
	CacheCapacity        int
	// RemoveFilterWithIndex allows dropping the post-scan matcher filter
	// when the inverted index was a complete substitute for it
	// (feature_query_remove_filter_with_index).
	RemoveFilterWithIndex bool
}

func New(schemas SchemaResolver, files FileLister, downloader PartitionDownloader, index IndexSearcher, rewriter PartitionKeyRewriter, cfg Config, logger log.Logger) *Scanner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if index == nil {
		index = NoIndexSearcher{}
	}
	if rewriter == nil {
		rewriter = IdentityRewriter{}
	}
	capacity := cfg.CacheCapacity
	if capacity <= 0 {
		capacity = 1024
	}
	return &Scanner{
		schemas:               schemas,
		files:                 files,
		cache:                 newParquetCache(capacity, downloader),
		index:                 index,
		rewriter:              rewriter,
		indexEnabled:          cfg.InvertedIndexEnabled,
		removeFilterWithIndex: cfg.RemoveFilterWithIndex,
		queryThreadNum:        cfg.QueryThreadNum,
		cpuNum:                cfg.CPUNum,
		logger:                logger,
	}
}

// Scan assembles a session: tombstone and schema checks, partition-key
// filter rewriting, file listing, cache warm-up, index narrowing, and
// parallelism selection.
func (s *Scanner) Scan(ctx context.Context, org, metric string, timeMin, timeMax int64, matchers []*labels.Matcher) (*Session, error) {
	tombstoned, err := s.schemas.IsTombstoned(org, metric)
	if err != nil {
		return nil, queryerr.FromCode(queryerr.CodeServerInternalError, fmt.Sprintf("schema fetch: %v", err))
	}
	if tombstoned {
		return &Session{}, nil
	}

	schema, err := s.schemas.Schema(org, metric)
	if err != nil {
		return nil, queryerr.FromCode(queryerr.CodeServerInternalError, fmt.Sprintf("schema fetch: %v", err))
	}
	if schema == nil || len(schema.Fields) == 0 {
		return &Session{}, nil
	}

	partitionFilters, remaining := matcherFilters(matchers, schema, s.rewriter)

	files, err := s.files.ListFiles(ctx, org, metric, timeMin, timeMax, partitionFilters)
	if err != nil {
		return nil, queryerr.FromCode(queryerr.CodeServerInternalError, fmt.Sprintf("file list: %v", err))
	}

	stats := ScanStats{FileCount: len(files)}
	for _, f := range files {
		stats.OriginalSizeBytes += f.OriginalSize
		stats.CompressedSizeBytes += f.CompressedSize
	}

	s.warmCache(ctx, files, &stats)

	cond := buildIndexCondition(remaining, schema)
	// the filter may only be dropped post-scan when the index actually
	// ran and the feature allows it
	if len(cond.Terms) == 0 || !s.indexEnabled || !s.removeFilterWithIndex {
		cond.IsFullConvert = false
	}

	if len(cond.Terms) > 0 && s.indexEnabled {
		start := time.Now()
		narrowed, err := s.index.Search(ctx, org, metric, cond, files)
		if err != nil {
			return nil, queryerr.FromCode(queryerr.CodeServerInternalError, fmt.Sprintf("index search: %v", err))
		}
		files = narrowed
		stats.IdxTookMs = time.Since(start).Milliseconds()
	}

	target := s.cpuNum
	if stats.Downloaded == 0 {
		target = s.queryThreadNum
	}
	if target <= 0 {
		target = 1
	}

	return &Session{
		Files:            files,
		Schema:           schema,
		Stats:            stats,
		IndexCondition:   cond,
		TargetPartitions: target,
	}, nil
}

// ReadSeries decodes every file in sess concurrently and merges the
// resulting per-partition Range series into one cold-scan result, ready to
// hand to the evaluator's TableProvider. Files that fail to decode are
// logged and skipped: a partial cold scan degrades the result rather than
// failing the whole query, matching the "transient scanner errors are
// recovered locally" policy.
func (s *Scanner) ReadSeries(ctx context.Context, sess *Session, matchers []*labels.Matcher, timeMin, timeMax int64, samplingRatio float64) ([]promqlvalue.Range, error) {
	if sess == nil || len(sess.Files) == 0 {
		return nil, nil
	}

	_, remaining := matcherFilters(matchers, sess.Schema, s.rewriter)

	type partial struct {
		series []promqlvalue.Range
	}
	results := make([]partial, len(sess.Files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sess.TargetPartitions)
	for i, f := range sess.Files {
		i, f := i, f
		g.Go(func() error {
			data, err := s.cache.bytes(gctx, f)
			if err != nil {
				level.Warn(s.logger).Log("msg", "partition download failed", "key", f.Key, "err", err)
				return nil
			}
			series, err := Materialize(data, remaining, sess.IndexCondition, timeMin, timeMax, samplingRatio)
			if err != nil {
				level.Warn(s.logger).Log("msg", "partition decode failed", "key", f.Key, "err", err)
				return nil
			}
			results[i] = partial{series: series}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []promqlvalue.Matrix
	for _, r := range results {
		all = append(all, promqlvalue.Matrix{Series: r.series})
	}
	return promqlvalue.MergeMatrices(all, seriessig.Signature, false).Series, nil
}

// warmCache submits every file to the cache layer concurrently, recording
// which tier served each one.
func (s *Scanner) warmCache(ctx context.Context, files []Partition, stats *ScanStats) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(32)

	for _, f := range files {
		f := f
		g.Go(func() error {
			state, err := s.cache.warm(gctx, f)
			if err != nil {
				level.Warn(s.logger).Log("msg", "partition warm-up failed", "key", f.Key, "err", err)
				return nil
			}
			mu.Lock()
			switch state {
			case cacheMemory:
				stats.MemoryCached++
			case cacheDisk:
				stats.DiskCached++
			case cacheDownloaded:
				stats.Downloaded++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}
