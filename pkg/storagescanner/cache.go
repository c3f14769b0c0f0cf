package storagescanner

import (
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PartitionDownloader fetches a partition's bytes from object storage. The
// production implementation wraps minio-go with a hedged HTTP transport
// (see downloader.go); tests substitute an in-memory stub.
type PartitionDownloader interface {
	Download(ctx context.Context, p Partition) (io.ReadCloser, error)
}

// cacheState distinguishes the three warm-up outcomes tracked
// separately: already resident in the in-process LRU, resident on local
// disk cache, or fetched from object storage just now. parquetCache has
// no disk tier, so warm never returns cacheDisk.
type cacheState int

const (
	cacheMemory cacheState = iota
	cacheDisk
	cacheDownloaded
)

// parquetCache is the cache warm-up layer: an
// in-process LRU of decoded partition byte ranges in front of a
// PartitionDownloader, so repeated queries over the same hot partitions
// skip the network round trip.
type parquetCache struct {
	memory     *lru.Cache[string, []byte]
	downloader PartitionDownloader
}

func newParquetCache(capacity int, downloader PartitionDownloader) *parquetCache {
	c, _ := lru.New[string, []byte](capacity)
	return &parquetCache{memory: c, downloader: downloader}
}

// warm ensures p's bytes are available, reporting which tier served the
// request.
func (c *parquetCache) warm(ctx context.Context, p Partition) (cacheState, error) {
	key := p.Account + "/" + p.Key
	if _, ok := c.memory.Get(key); ok {
		return cacheMemory, nil
	}

	rc, err := c.downloader.Download(ctx, p)
	if err != nil {
		return cacheDownloaded, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return cacheDownloaded, err
	}
	c.memory.Add(key, data)
	return cacheDownloaded, nil
}

// bytes returns p's cached bytes, downloading them on a cold miss (e.g. if
// warm's best-effort pass failed or raced a prior eviction).
func (c *parquetCache) bytes(ctx context.Context, p Partition) ([]byte, error) {
	key := p.Account + "/" + p.Key
	if data, ok := c.memory.Get(key); ok {
		return data, nil
	}
	rc, err := c.downloader.Download(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	c.memory.Add(key, data)
	return data, nil
}
