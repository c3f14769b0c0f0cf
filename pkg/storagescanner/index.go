package storagescanner

import (
	"context"

	"github.com/prometheus/prometheus/model/labels"
)

// IndexSearcher narrows a file list using the inverted index built over
// index_fields. The production index lives outside
// this module (tantivy-search in the original); this package depends only
// on the contract.
type IndexSearcher interface {
	Search(ctx context.Context, org, metric string, cond IndexCondition, files []Partition) ([]Partition, error)
}

// NoIndexSearcher is the default when inverted-index search is disabled or
// unavailable: every file stays in the candidate set.
type NoIndexSearcher struct{}

func (NoIndexSearcher) Search(_ context.Context, _, _ string, _ IndexCondition, files []Partition) ([]Partition, error) {
	return files, nil
}

// buildIndexCondition converts matchers eligible for the inverted index
// (label present in index_fields, not _timestamp/value, operator in
// {Equal, NotEqual, Regex}) into an IndexCondition. is_full_convert is set
// only when every supplied matcher converted.
func buildIndexCondition(matchers []*labels.Matcher, schema *Schema) IndexCondition {
	cond := IndexCondition{IsFullConvert: len(matchers) > 0}
	for _, m := range matchers {
		if m.Name == "_timestamp" || m.Name == "value" || !schema.isIndexField(m.Name) {
			cond.IsFullConvert = false
			continue
		}
		var op IndexOp
		switch m.Type {
		case labels.MatchEqual:
			op = IndexEqual
		case labels.MatchNotEqual:
			op = IndexNotEqual
		case labels.MatchRegexp:
			op = IndexRegex
		default:
			cond.IsFullConvert = false
			continue
		}
		cond.Terms = append(cond.Terms, IndexTerm{Label: m.Name, Op: op, Value: m.Value})
	}
	return cond
}
