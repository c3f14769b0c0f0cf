package main

import (
	"flag"
	"fmt"
	"time"
)

// Targets this binary can run as. A single process may serve both roles,
// which is the default for small deployments.
const (
	TargetAll         = "all"
	TargetCoordinator = "coordinator"
	TargetQuerier     = "querier"
)

// CatalogConfig points the engine at the external file-list/schema
// registry service.
type CatalogConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// StorageConfig configures the cold-tier object storage client.
type StorageConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Bucket            string        `yaml:"bucket"`
	AccessKey         string        `yaml:"access_key"`
	SecretKey         string        `yaml:"secret_key"`
	Secure            bool          `yaml:"secure"`
	HedgeDelay        time.Duration `yaml:"hedge_delay,omitempty"`
	HedgeRequestsUpTo int           `yaml:"hedge_requests_up_to,omitempty"`
	QueryThreadNum    int           `yaml:"query_thread_num"`
	CacheCapacity     int           `yaml:"cache_capacity"`
}

// RedisConfig configures the result cache's backing store.
type RedisConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Password   string        `yaml:"password,omitempty"`
	DB         int           `yaml:"db,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	Expiration time.Duration `yaml:"expiration,omitempty"`
}

// Config is the root config for the promql-engine binary.
type Config struct {
	Target string `yaml:"target"`

	HTTPListenAddress string `yaml:"http_listen_address"`
	HTTPListenPort    int    `yaml:"http_listen_port"`
	GRPCListenAddress string `yaml:"grpc_listen_address"`
	GRPCListenPort    int    `yaml:"grpc_listen_port"`

	// Queriers and Ingesters are the static node sets a coordinator fans
	// out to. Membership discovery is an external concern; a fixed list
	// covers the common deployment where these sit behind stable DNS.
	Queriers  []string `yaml:"queriers"`
	Ingesters []string `yaml:"ingesters"`

	QueryTimeout               time.Duration  `yaml:"query_timeout"`
	MetricsMaxPointsPerSeries  int64          `yaml:"metrics_max_points_per_series"`
	MetricsMaxSeriesResponse   int            `yaml:"metrics_max_series_response"`
	MaxSeriesPerQuery          map[string]int `yaml:"max_series_per_query,omitempty"`
	MaxFileRetentionTime       time.Duration  `yaml:"max_file_retention_time"`
	MetricsDedupEnabled        bool           `yaml:"metrics_dedup_enabled"`
	ResultCacheEnabled         bool           `yaml:"result_cache_enabled"`
	InvertedIndexEnabled       bool           `yaml:"inverted_index_enabled"`
	QueryRemoveFilterWithIndex bool           `yaml:"feature_query_remove_filter_with_index"`
	DatafusionMaxSize          int64          `yaml:"datafusion_max_size"`

	MaxConcurrentQueriesPerOrg int `yaml:"max_concurrent_queries_per_org"`
	MaxConcurrentQueries       int `yaml:"max_concurrent_queries"`

	Catalog     CatalogConfig `yaml:"catalog"`
	Storage     StorageConfig `yaml:"storage"`
	ResultCache RedisConfig   `yaml:"result_cache"`
}

// NewDefaultConfig creates a new Config with default values applied.
func NewDefaultConfig() *Config {
	defaultConfig := &Config{}
	defaultFS := flag.NewFlagSet("", flag.PanicOnError)
	defaultConfig.RegisterFlagsAndApplyDefaults("", defaultFS)
	return defaultConfig
}

// RegisterFlagsAndApplyDefaults registers flags and sets default values.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Target, prefix+"target", TargetAll, "Role to run as: all, coordinator, or querier.")

	f.StringVar(&c.HTTPListenAddress, prefix+"server.http-listen-address", "0.0.0.0", "HTTP server listen address.")
	f.IntVar(&c.HTTPListenPort, prefix+"server.http-listen-port", 5080, "HTTP server listen port.")
	f.StringVar(&c.GRPCListenAddress, prefix+"server.grpc-listen-address", "0.0.0.0", "gRPC server listen address.")
	f.IntVar(&c.GRPCListenPort, prefix+"server.grpc-listen-port", 5081, "gRPC server listen port.")

	f.DurationVar(&c.QueryTimeout, prefix+"query.timeout", 30*time.Second, "Default timeout applied when a request's own timeout is <= 0.")
	f.Int64Var(&c.MetricsMaxPointsPerSeries, prefix+"metrics.max-points-per-series", 360_000, "Maximum (end-start)/step points per series; 0 disables the check.")
	f.IntVar(&c.MetricsMaxSeriesResponse, prefix+"metrics.max-series-response", 40_000, "Default per-query series limit; overridable per org.")
	f.DurationVar(&c.MaxFileRetentionTime, prefix+"metrics.max-file-retention", time.Hour, "WAL retention window; controls the need_wal lookback.")
	f.BoolVar(&c.MetricsDedupEnabled, prefix+"metrics.dedup-enabled", false, "Enable HA-replica sample dedup on merge.")
	f.BoolVar(&c.ResultCacheEnabled, prefix+"query.cache-results", true, "Enable the step-aligned range-result cache.")
	f.BoolVar(&c.InvertedIndexEnabled, prefix+"query.inverted-index-enabled", false, "Narrow partition scans through the inverted index.")
	f.BoolVar(&c.QueryRemoveFilterWithIndex, prefix+"query.remove-filter-with-index", false, "Drop post-scan filters the inverted index fully substitutes.")
	f.Int64Var(&c.DatafusionMaxSize, prefix+"query.datafusion-max-size", 2<<30, "Memory budget in bytes for one evaluation chunk; larger sub-ranges are split.")

	f.IntVar(&c.MaxConcurrentQueriesPerOrg, prefix+"query.max-concurrent-per-org", 10, "Maximum concurrent queries admitted per org.")
	f.IntVar(&c.MaxConcurrentQueries, prefix+"query.max-concurrent", 0, "Global ceiling on concurrent queries; 0 disables.")

	f.DurationVar(&c.Catalog.Timeout, prefix+"catalog.timeout", 10*time.Second, "Catalog service request timeout.")
	f.IntVar(&c.Storage.QueryThreadNum, prefix+"storage.query-thread-num", 8, "target_partitions when no file needed download.")
	f.IntVar(&c.Storage.CacheCapacity, prefix+"storage.cache-capacity", 1024, "Partitions held in the in-process parquet cache.")
	f.DurationVar(&c.Storage.HedgeDelay, prefix+"storage.hedge-delay", 50*time.Millisecond, "Delay before a partition download is hedged.")
	f.IntVar(&c.Storage.HedgeRequestsUpTo, prefix+"storage.hedge-requests-up-to", 2, "Maximum requests in flight per hedged download.")
	f.DurationVar(&c.ResultCache.Expiration, prefix+"result-cache.expiration", 24*time.Hour, "TTL on stored range-result entries.")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Target {
	case TargetAll, TargetCoordinator, TargetQuerier:
	default:
		return fmt.Errorf("unknown target %q", c.Target)
	}

	// the metadata endpoints scan storage directly, so even a pure
	// coordinator needs the catalog and the object store
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog.base_url is required")
	}
	if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
		return fmt.Errorf("storage.endpoint and storage.bucket are required")
	}

	return nil
}

// CheckConfig checks if config values are suspect and returns a bundled
// list of warnings and explanations.
func (c *Config) CheckConfig() []ConfigWarning {
	var warnings []ConfigWarning

	if c.Target != TargetQuerier && len(c.Queriers) == 0 {
		warnings = append(warnings, warnNoQueriers)
	}
	if c.ResultCacheEnabled && c.ResultCache.Endpoint == "" {
		warnings = append(warnings, warnCacheWithoutRedis)
	}
	if c.MaxConcurrentQueriesPerOrg < 1 {
		warnings = append(warnings, warnMaxConcurrentQueries)
	}

	return warnings
}

// ConfigWarning bundles message and explanation strings in one structure.
type ConfigWarning struct {
	Message string
	Explain string
}

var (
	warnNoQueriers = ConfigWarning{
		Message: "no queriers configured",
		Explain: "Every search will fail with 'no querier node found' until queriers are listed",
	}
	warnCacheWithoutRedis = ConfigWarning{
		Message: "result_cache_enabled is set but result_cache.endpoint is empty",
		Explain: "The result cache will run with a nil provider and every lookup will miss",
	}
	warnMaxConcurrentQueries = ConfigWarning{
		Message: "query.max-concurrent-per-org must be greater than zero",
		Explain: "Setting per-org concurrency to 0 will prevent any queries from running",
	}
)

// ExampleConfig returns an example configuration YAML.
func ExampleConfig() string {
	return `# promql-engine configuration
target: all

http_listen_address: "0.0.0.0"
http_listen_port: 5080
grpc_listen_address: "0.0.0.0"
grpc_listen_port: 5081

# querier nodes the coordinator fans out to
queriers:
  - querier-1:5081
  - querier-2:5081

# ingester nodes holding not-yet-flushed WAL batches
ingesters:
  - ingester-1:5081

metrics_max_points_per_series: 360000
metrics_max_series_response: 40000
metrics_dedup_enabled: false
result_cache_enabled: true
inverted_index_enabled: false
datafusion_max_size: 2147483648

# per-org series-limit overrides
max_series_per_query:
  acme: 100000

catalog:
  base_url: http://catalog:5090

storage:
  endpoint: minio:9000
  bucket: metrics
  access_key: "${S3_ACCESS_KEY}"
  secret_key: "${S3_SECRET_KEY}"

result_cache:
  endpoint: redis:6379
`
}
