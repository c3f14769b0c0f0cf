package storagescanner

import (
	"bytes"
	"io"
	"math"

	"github.com/parquet-go/parquet-go"
	"github.com/prometheus/prometheus/model/labels"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
	"github.com/openobserve/promql-engine/pkg/seriessig"
)

// Materialize decodes one partition's cached Parquet bytes into
// already-merged-per-series Range samples, applying the time window and
// any matchers the inverted index did not already fully resolve
// (cond.IsFullConvert means the index already eliminated every
// non-matching row, so post-scan filtering is skipped entirely).
//
// samplingRatio decimates scanned rows for approximate large-range queries
// for approximate results on large windows; 1.0 (or <=0) means no
// sampling.
func Materialize(data []byte, remaining []*labels.Matcher, cond IndexCondition, timeMin, timeMax int64, samplingRatio float64) ([]promqlvalue.Range, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	reader := parquet.NewReader(file)
	defer reader.Close()

	columns := leafColumnNames(reader.Schema())
	applyFilter := !cond.IsFullConvert

	bySig := map[uint64]*promqlvalue.Range{}
	order := []uint64{}

	sampleEvery := 1
	if samplingRatio > 0 && samplingRatio < 1 {
		sampleEvery = int(math.Round(1 / samplingRatio))
		if sampleEvery < 1 {
			sampleEvery = 1
		}
	}

	rows := make([]parquet.Row, 256)
	rowNum := 0
	for {
		n, readErr := reader.ReadRows(rows)
		for i := 0; i < n; i++ {
			rowNum++
			if sampleEvery > 1 && rowNum%sampleEvery != 0 {
				continue
			}
			ts, val, ok, lb := decodeRow(rows[i], columns)
			if !ok || ts < timeMin || ts >= timeMax {
				continue
			}
			if !promqlvalue.IsUsable(val) {
				continue
			}
			if applyFilter && !matchesAll(lb, remaining) {
				continue
			}
			sig := seriessig.Signature(lb)
			r, ok := bySig[sig]
			if !ok {
				r = &promqlvalue.Range{Labels: lb}
				bySig[sig] = r
				order = append(order, sig)
			}
			r.Samples = append(r.Samples, promqlvalue.Sample{Timestamp: ts, Value: val})
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}

	out := make([]promqlvalue.Range, 0, len(order))
	for _, sig := range order {
		out = append(out, *bySig[sig])
	}
	return out, nil
}

// leafColumnNames maps a parquet.Row value's Column() index to its leaf
// field name, for the flat (non-nested) metric-stream schema this engine
// describes.
func leafColumnNames(schema *parquet.Schema) []string {
	paths := schema.Columns()
	names := make([]string, len(paths))
	for i, p := range paths {
		if len(p) == 0 {
			continue
		}
		names[i] = p[len(p)-1]
	}
	return names
}

// decodeRow pulls _timestamp/value out of row and builds a Labels set from
// every other populated column, matching the reserved-field split.
func decodeRow(row parquet.Row, columns []string) (ts int64, value float64, ok bool, lb labels.Labels) {
	b := labels.NewBuilder(labels.EmptyLabels())
	var haveTS, haveVal bool
	for _, v := range row {
		idx := v.Column()
		if idx < 0 || idx >= len(columns) {
			continue
		}
		name := columns[idx]
		switch name {
		case "_timestamp":
			ts = v.Int64()
			haveTS = true
		case "value":
			value = v.Double()
			haveVal = true
		case "hash":
			// carried for on-disk identity; series signature is recomputed
			// from labels, not trusted from storage.
		default:
			if v.IsNull() {
				continue
			}
			b.Set(name, v.String())
		}
	}
	return ts, value, haveTS && haveVal, b.Labels()
}

func matchesAll(lb labels.Labels, matchers []*labels.Matcher) bool {
	for _, m := range matchers {
		if !m.Matches(lb.Get(m.Name)) {
			return false
		}
	}
	return true
}
