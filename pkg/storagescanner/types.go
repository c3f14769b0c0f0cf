// Package storagescanner turns a (org, metric, time_range, label matchers,
// partition filters) request into a ready-to-query scan session, per
// the storage scanner. Ingestion, schema-registry mutation, and Parquet encoding
// live outside this module; storagescanner reaches them only through the
// FileLister, SchemaResolver and PartitionDownloader contracts.
package storagescanner

import (
	"context"

	"github.com/prometheus/prometheus/model/labels"
)

// Partition is an immutable record batch on object storage, addressable by
// account/key. A partition is immutable after publication.
type Partition struct {
	ID             string
	Account        string
	Key            string
	MinTS          int64
	MaxTS          int64
	Records        int64
	OriginalSize   int64
	CompressedSize int64
}

// Schema describes a metric stream's current set of typed label columns
// plus its metadata blob (used by the metadata service, not this package).
type Schema struct {
	Fields       []string
	PartitionKeys []string
	IndexFields  []string
}

func (s *Schema) isIndexField(name string) bool {
	if s == nil {
		return false
	}
	for _, f := range s.IndexFields {
		if f == name {
			return true
		}
	}
	return false
}

func (s *Schema) partitionKeySet() map[string]struct{} {
	out := make(map[string]struct{})
	if s == nil {
		return out
	}
	for _, k := range s.PartitionKeys {
		out[k] = struct{}{}
	}
	return out
}

// IndexOp is one of the matcher operators the inverted index can serve.
type IndexOp int

const (
	IndexEqual IndexOp = iota
	IndexNotEqual
	IndexRegex
)

// IndexCondition is the subset of a query's label matchers translated into
// a form the inverted index (tantivy-search in the original, modeled here
// behind the IndexSearcher contract) can evaluate.
type IndexCondition struct {
	Terms []IndexTerm
	// IsFullConvert is true when every supplied matcher converted to an
	// index term; the evaluator may then drop the equivalent filters from
	// downstream evaluation entirely.
	IsFullConvert bool
}

type IndexTerm struct {
	Label string
	Op    IndexOp
	Value string
}

// ScanStats reports what a scan session actually touched, surfaced to
// the per-request took_detail stats.
type ScanStats struct {
	FileCount          int
	OriginalSizeBytes  int64
	CompressedSizeBytes int64
	MemoryCached       int
	DiskCached         int
	Downloaded         int
	IdxTookMs          int64
}

// FileLister resolves the partitions intersecting a time range and
// optional partition-key equality filters. Production implementations
// query the object-storage file-list service; tests supply an in-memory
// stub.
type FileLister interface {
	ListFiles(ctx context.Context, org, metric string, timeMin, timeMax int64, partitionFilters map[string]string) ([]Partition, error)
}

// SchemaResolver answers schema and tombstone questions for a metric
// stream without this package needing to know how the schema registry is
// implemented.
type SchemaResolver interface {
	IsTombstoned(org, metric string) (bool, error)
	Schema(org, metric string) (*Schema, error)
}

// PartitionKeyRewriter rewrites a raw label matcher value into the
// canonical partition-key value stored on disk, since partition keys may
// hash or bucket their source values (more than one
// partitioning strategy).
type PartitionKeyRewriter interface {
	Rewrite(partitionKey, matcherValue string) string
}

// IdentityRewriter returns the matcher value unchanged: the default when a
// stream uses literal (unbucketed) partition values.
type IdentityRewriter struct{}

func (IdentityRewriter) Rewrite(_ string, value string) string { return value }

// HashBucketRewriter buckets a matcher value into one of N buckets via a
// stable string hash, for streams partitioned by a hashed key.
type HashBucketRewriter struct {
	Buckets int
}

func (r HashBucketRewriter) Rewrite(_ string, value string) string {
	if r.Buckets <= 0 {
		return value
	}
	h := fnv32(value) % uint32(r.Buckets)
	return itoa(int64(h))
}

func fnv32(s string) uint32 {
	const prime32 = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// matcherFilters splits label matchers into partition-key equality filters
// (to push into ListFiles) and the remainder that must still be evaluated
// downstream.
func matcherFilters(matchers []*labels.Matcher, schema *Schema, rewriter PartitionKeyRewriter) (filters map[string]string, remaining []*labels.Matcher) {
	filters = make(map[string]string)
	keys := schema.partitionKeySet()
	if rewriter == nil {
		rewriter = IdentityRewriter{}
	}
	for _, m := range matchers {
		if m.Type == labels.MatchEqual {
			if _, ok := keys[m.Name]; ok {
				filters[m.Name] = rewriter.Rewrite(m.Name, m.Value)
				continue
			}
		}
		remaining = append(remaining, m)
	}
	return filters, remaining
}
