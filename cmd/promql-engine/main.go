package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/drone/envsubst"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/grafana/dskit/flagext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"github.com/openobserve/promql-engine/modules/coordinator"
	"github.com/openobserve/promql-engine/modules/metadata"
	"github.com/openobserve/promql-engine/modules/querier"
	"github.com/openobserve/promql-engine/pkg/api"
	"github.com/openobserve/promql-engine/pkg/catalog"
	"github.com/openobserve/promql-engine/pkg/resultcache"
	"github.com/openobserve/promql-engine/pkg/rpc"
	"github.com/openobserve/promql-engine/pkg/seriessig"
	"github.com/openobserve/promql-engine/pkg/storagescanner"
	"github.com/openobserve/promql-engine/pkg/usagestats"
	"github.com/openobserve/promql-engine/pkg/walscanner"
	"github.com/openobserve/promql-engine/pkg/workgroup"
)

const appName = "promql-engine"

// Version is set via build flag -ldflags -X main.Version
var Version string

// staticQueriers serves a fixed querier set from config as the online
// node list.
type staticQueriers []string

func (s staticQueriers) OnlineQueriers(context.Context) ([]coordinator.QuerierNode, error) {
	nodes := make([]coordinator.QuerierNode, 0, len(s))
	for _, addr := range s {
		nodes = append(nodes, coordinator.QuerierNode{ID: addr, Address: addr})
	}
	return nodes, nil
}

// staticIngesters serves a fixed ingester set from config.
type staticIngesters []string

func (s staticIngesters) OnlineIngesters(context.Context) ([]string, error) {
	return s, nil
}

// staticOverrides resolves per-org series limits from config.
type staticOverrides map[string]int

func (s staticOverrides) MaxSeriesPerQuery(orgID string) int { return s[orgID] }

func main() {
	printVersion := flag.Bool("version", false, "Print version and exit")

	for _, arg := range os.Args[1:] {
		if arg == "-config.example" || arg == "--config.example" {
			fmt.Print(ExampleConfig())
			os.Exit(0)
		}
	}

	cfg, configVerify, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}
	if *printVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0)
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = level.NewFilter(logger, level.AllowInfo())

	configValid := true
	if warnings := cfg.CheckConfig(); len(warnings) != 0 {
		level.Warn(logger).Log("msg", "-- CONFIGURATION WARNINGS --")
		for _, w := range warnings {
			output := []any{"msg", w.Message}
			if w.Explain != "" {
				output = append(output, "explain", w.Explain)
			}
			level.Warn(logger).Log(output...)
		}
		configValid = false
	}

	if configVerify {
		if err := cfg.Validate(); err != nil {
			level.Error(logger).Log("msg", "invalid configuration", "err", err)
			os.Exit(1)
		}
		if !configValid {
			os.Exit(1)
		}
		level.Info(logger).Log("msg", "configuration is valid")
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	level.Info(logger).Log("msg", "starting promql-engine", "version", Version, "target", cfg.Target)

	// the scanner and catalog client are shared by the querier role and
	// the metadata endpoints
	cat := catalog.New(catalog.Config{BaseURL: cfg.Catalog.BaseURL, Timeout: cfg.Catalog.Timeout})
	scanner, err := newScanner(cfg, cat, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create object storage client", "err", err)
		os.Exit(1)
	}

	var grpcServer *grpc.Server
	if cfg.Target != TargetCoordinator {
		grpcServer = newGRPCServer(cfg, scanner, logger)
	}
	var httpServer *http.Server
	if cfg.Target != TargetQuerier {
		httpServer = newHTTPServer(cfg, scanner, cat, logger)
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		level.Info(logger).Log("msg", "shutting down...")
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		if httpServer != nil {
			if err := httpServer.Close(); err != nil {
				level.Error(logger).Log("msg", "error during shutdown", "err", err)
			}
		}
		done <- true
	}()

	errCh := make(chan error, 2)

	if grpcServer != nil {
		addr := fmt.Sprintf("%s:%d", cfg.GRPCListenAddress, cfg.GRPCListenPort)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			level.Error(logger).Log("msg", "grpc listen failed", "addr", addr, "err", err)
			os.Exit(1)
		}
		level.Info(logger).Log("msg", "grpc server listening", "addr", addr)
		go func() { errCh <- grpcServer.Serve(lis) }()
	}

	if httpServer != nil {
		level.Info(logger).Log("msg", "http server listening", "addr", httpServer.Addr)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		level.Error(logger).Log("msg", "server error", "err", err)
		os.Exit(1)
	case <-done:
	}
	level.Info(logger).Log("msg", "server stopped")
}

func newScanner(cfg *Config, cat *catalog.Client, logger log.Logger) (*storagescanner.Scanner, error) {
	downloader, err := storagescanner.NewMinioDownloader(storagescanner.MinioConfig{
		Endpoint:   cfg.Storage.Endpoint,
		Bucket:     cfg.Storage.Bucket,
		AccessKey:  cfg.Storage.AccessKey,
		SecretKey:  cfg.Storage.SecretKey,
		Secure:     cfg.Storage.Secure,
		HedgeDelay: cfg.Storage.HedgeDelay,
		HedgeUpTo:  cfg.Storage.HedgeRequestsUpTo,
	})
	if err != nil {
		return nil, err
	}
	return storagescanner.New(cat, cat, downloader, nil, nil, storagescanner.Config{
		QueryThreadNum:        cfg.Storage.QueryThreadNum,
		CPUNum:                runtime.NumCPU(),
		InvertedIndexEnabled:  cfg.InvertedIndexEnabled,
		CacheCapacity:         cfg.Storage.CacheCapacity,
		RemoveFilterWithIndex: cfg.QueryRemoveFilterWithIndex,
	}, logger), nil
}

func newGRPCServer(cfg *Config, scanner *storagescanner.Scanner, logger log.Logger) *grpc.Server {
	wal := walscanner.New(staticIngesters(cfg.Ingesters), rpc.NewIngesterDialer(), seriessig.Signature)

	worker := querier.New(scanner, wal, querier.Config{
		DatafusionMaxSize:    cfg.DatafusionMaxSize,
		MaxFileRetentionTime: cfg.MaxFileRetentionTime,
	}, logger)

	return rpc.NewServer(worker)
}

func newHTTPServer(cfg *Config, scanner *storagescanner.Scanner, cat *catalog.Client, logger log.Logger) *http.Server {
	var provider resultcache.Provider
	if cfg.ResultCacheEnabled && cfg.ResultCache.Endpoint != "" {
		provider = resultcache.NewRedisProvider(resultcache.RedisConfig{
			Endpoint:   cfg.ResultCache.Endpoint,
			Password:   cfg.ResultCache.Password,
			DB:         cfg.ResultCache.DB,
			Timeout:    cfg.ResultCache.Timeout,
			Expiration: cfg.ResultCache.Expiration,
		}, logger)
	}
	cache := resultcache.New(provider, seriessig.Signature, logger)

	admission := workgroup.New(int64(cfg.MaxConcurrentQueriesPerOrg), int64(cfg.MaxConcurrentQueries))
	usage := usagestats.NewReporter(prometheus.DefaultRegisterer, logger)

	coord := coordinator.New(
		staticQueriers(cfg.Queriers),
		rpc.NewDialer(),
		cache,
		admission,
		staticOverrides(cfg.MaxSeriesPerQuery),
		usage,
		coordinator.Config{
			QueryTimeout:              cfg.QueryTimeout,
			MetricsMaxPointsPerSeries: cfg.MetricsMaxPointsPerSeries,
			MetricsMaxSeriesResponse:  cfg.MetricsMaxSeriesResponse,
			MaxFileRetentionTime:      cfg.MaxFileRetentionTime,
			MetricsDedupEnabled:       cfg.MetricsDedupEnabled,
			ResultCacheEnabled:        cfg.ResultCacheEnabled,
		},
		logger,
	)

	meta := metadata.New(scanner, cat, cat, cat, logger)

	h := api.NewHandler(coord, meta, api.Config{QueryTimeout: cfg.QueryTimeout}, logger)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTPListenAddress, cfg.HTTPListenPort),
		Handler: router,
	}
}

func loadConfig() (*Config, bool, error) {
	const (
		configFileOption      = "config.file"
		configExpandEnvOption = "config.expand-env"
		configVerifyOption    = "config.verify"
	)

	var (
		configFile      string
		configExpandEnv bool
		configVerify    bool
	)

	args := os.Args[1:]
	config := &Config{}

	// first get the config file
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configExpandEnv, configExpandEnvOption, false, "")
	fs.BoolVar(&configVerify, configVerifyOption, false, "")

	// Try to find -config.file & -config.expand-env flags. As Parsing stops on the first error, eg. unknown flag,
	// we simply try remaining parameters until we find config flag, or there are no params left.
	// (ContinueOnError just means that flag.Parse doesn't call panic or os.Exit, but it returns error, which we ignore)
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	// load config defaults and register flags
	config.RegisterFlagsAndApplyDefaults("", flag.CommandLine)

	// overlay with config file if provided
	if configFile != "" {
		buff, err := os.ReadFile(configFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}

		if configExpandEnv {
			s, err := envsubst.EvalEnv(string(buff))
			if err != nil {
				return nil, false, fmt.Errorf("failed to expand env vars from configFile %s: %w", configFile, err)
			}
			buff = []byte(s)
		}

		if err := unmarshalStrict(buff, config); err != nil {
			return nil, false, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	// overlay with cli
	flagext.IgnoredFlag(flag.CommandLine, configFileOption, "Configuration file to load")
	flagext.IgnoredFlag(flag.CommandLine, configExpandEnvOption, "Whether to expand environment variables in config file")
	flagext.IgnoredFlag(flag.CommandLine, configVerifyOption, "Verify configuration and exit")
	flag.Parse()

	return config, configVerify, nil
}

func unmarshalStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && err != io.EOF {
		return err
	}
	return nil
}
