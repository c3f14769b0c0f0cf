package storagescanner

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openobserve/promql-engine/pkg/hedgedmetrics"
)

var hedgedRequestsMetrics = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "promql_engine",
	Name:      "storage_hedged_roundtrips_total",
	Help:      "Total number of hedged object storage requests.",
})

// MinioConfig configures the production PartitionDownloader.
type MinioConfig struct {
	Endpoint        string
	Bucket          string
	AccessKey       string
	SecretKey       string
	Secure          bool
	HedgeDelay      time.Duration
	HedgeUpTo       int
}

// MinioDownloader fetches partitions from S3-compatible object storage.
// Downloads are hedged: if the first request doesn't complete within
// HedgeDelay, a second is fired against the same endpoint and the first to
// respond wins, trading a little extra request volume for materially
// lower tail latency on slow backends.
type MinioDownloader struct {
	client *minio.Client
	bucket string
}

func NewMinioDownloader(cfg MinioConfig) (*MinioDownloader, error) {
	hedgeUpTo := cfg.HedgeUpTo
	if hedgeUpTo <= 0 {
		hedgeUpTo = 2
	}
	hedgeDelay := cfg.HedgeDelay
	if hedgeDelay <= 0 {
		hedgeDelay = 50 * time.Millisecond
	}
	transport, stats, err := hedgedhttp.NewRoundTripperAndStats(hedgeDelay, hedgeUpTo, http.DefaultTransport)
	if err != nil {
		return nil, err
	}
	hedgedmetrics.Publish(stats, hedgedRequestsMetrics)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.Secure,
		Transport: transport,
	})
	if err != nil {
		return nil, err
	}
	return &MinioDownloader{client: client, bucket: cfg.Bucket}, nil
}

func (d *MinioDownloader) Download(ctx context.Context, p Partition) (io.ReadCloser, error) {
	obj, err := d.client.GetObject(ctx, d.bucket, p.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}
