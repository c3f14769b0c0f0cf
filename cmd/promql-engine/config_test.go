package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, TargetAll, cfg.Target)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Equal(t, int64(360_000), cfg.MetricsMaxPointsPerSeries)
	assert.Equal(t, 40_000, cfg.MetricsMaxSeriesResponse)
	assert.True(t, cfg.ResultCacheEnabled)
}

func TestValidateRejectsUnknownTarget(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Target = "compactor"
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresCatalogAndStorage(t *testing.T) {
	cfg := NewDefaultConfig()
	require.Error(t, cfg.Validate())

	cfg.Catalog.BaseURL = "http://catalog:5090"
	require.Error(t, cfg.Validate())

	cfg.Storage.Endpoint = "minio:9000"
	cfg.Storage.Bucket = "metrics"
	require.NoError(t, cfg.Validate())
}

func TestExampleConfigParsesStrict(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, unmarshalStrict([]byte(ExampleConfig()), cfg))

	assert.Equal(t, []string{"querier-1:5081", "querier-2:5081"}, cfg.Queriers)
	assert.Equal(t, "metrics", cfg.Storage.Bucket)
	assert.Equal(t, 100000, cfg.MaxSeriesPerQuery["acme"])
	require.NoError(t, cfg.Validate())
}

func TestCheckConfigWarnsOnMissingQueriers(t *testing.T) {
	cfg := NewDefaultConfig()
	warnings := cfg.CheckConfig()
	require.NotEmpty(t, warnings)

	found := false
	for _, w := range warnings {
		if w == warnNoQueriers {
			found = true
		}
	}
	assert.True(t, found)
}
