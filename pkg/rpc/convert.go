package rpc

import (
	"github.com/prometheus/prometheus/model/labels"

	"github.com/openobserve/promql-engine/pkg/metricspb"
	"github.com/openobserve/promql-engine/pkg/promqlvalue"
)

// fromSeriesResultsRange converts the wire series shape into the engine's
// Range representation, the same conversion modules/coordinator applies to
// a querier's response, applied here to an ingester's RemoteScan response.
func fromSeriesResultsRange(series []*metricspb.SeriesResult) []promqlvalue.Range {
	out := make([]promqlvalue.Range, 0, len(series))
	for _, s := range series {
		samples := make([]promqlvalue.Sample, 0, len(s.Samples))
		for _, smp := range s.Samples {
			samples = append(samples, promqlvalue.Sample{Timestamp: smp.Timestamp, Value: smp.Value})
		}
		out = append(out, promqlvalue.Range{Labels: fromProtoLabels(s.Metric), Samples: samples})
	}
	return out
}

func fromProtoLabels(pl []*metricspb.Label) labels.Labels {
	b := labels.NewBuilder(labels.EmptyLabels())
	for _, l := range pl {
		b.Set(l.Name, l.Value)
	}
	return b.Labels()
}
