// Package catalog is a minimal HTTP client for the file-list/schema
// registry services this engine treats as external collaborators ("the
// format of ingested samples and the file-list service are specified only
// through the interfaces the core consumes"). It implements
// storagescanner.FileLister, storagescanner.SchemaResolver,
// modules/metadata.StreamLister, and modules/metadata.MetadataResolver as
// thin JSON-over-HTTP calls against a configurable catalog endpoint, so
// cmd/ has something concrete to wire when no bespoke catalog service is
// supplied.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openobserve/promql-engine/modules/metadata"
	"github.com/openobserve/promql-engine/pkg/storagescanner"
)

// Config points the client at the catalog service.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is a thin JSON-over-HTTP catalog client.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog: %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListFiles implements storagescanner.FileLister.
func (c *Client) ListFiles(ctx context.Context, org, metric string, timeMin, timeMax int64, partitionFilters map[string]string) ([]storagescanner.Partition, error) {
	q := url.Values{
		"org":    {org},
		"metric": {metric},
		"min_ts": {strconv.FormatInt(timeMin, 10)},
		"max_ts": {strconv.FormatInt(timeMax, 10)},
	}
	for k, v := range partitionFilters {
		q.Add("filter."+k, v)
	}
	var out []storagescanner.Partition
	if err := c.get(ctx, "/files", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IsTombstoned implements storagescanner.SchemaResolver.
func (c *Client) IsTombstoned(org, metric string) (bool, error) {
	var out struct {
		Tombstoned bool `json:"tombstoned"`
	}
	q := url.Values{"org": {org}, "metric": {metric}}
	if err := c.get(context.Background(), "/tombstone", q, &out); err != nil {
		return false, err
	}
	return out.Tombstoned, nil
}

// Schema implements storagescanner.SchemaResolver.
func (c *Client) Schema(org, metric string) (*storagescanner.Schema, error) {
	var out storagescanner.Schema
	q := url.Values{"org": {org}, "metric": {metric}}
	if err := c.get(context.Background(), "/schema", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Streams implements modules/metadata.StreamLister.
func (c *Client) Streams(ctx context.Context, org string) ([]metadata.StreamInfo, error) {
	var out []metadata.StreamInfo
	q := url.Values{"org": {org}}
	if err := c.get(ctx, "/streams", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Metadata implements modules/metadata.MetadataResolver.
func (c *Client) Metadata(org, metric string) ([]metadata.FieldMetadata, error) {
	var out []metadata.FieldMetadata
	q := url.Values{"org": {org}, "metric": {metric}}
	if err := c.get(context.Background(), "/metadata", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}
