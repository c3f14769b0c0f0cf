package resultcache

import (
	"sort"

	"github.com/prometheus/prometheus/model/labels"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
)

func toLabelPairs(lbls labels.Labels) []labelPair {
	out := make([]labelPair, 0, lbls.Len())
	lbls.Range(func(l labels.Label) {
		out = append(out, labelPair{Name: l.Name, Value: l.Value})
	})
	return out
}

func fromLabelPairs(pairs []labelPair) labels.Labels {
	b := labels.NewBuilder(labels.EmptyLabels())
	for _, p := range pairs {
		b.Set(p.Name, p.Value)
	}
	return b.Labels()
}

func sortSamples(s []promqlvalue.Sample) {
	sort.Slice(s, func(i, j int) bool { return s[i].Timestamp < s[j].Timestamp })
}
