package api

import (
	"strconv"

	"github.com/prometheus/prometheus/model/labels"

	"github.com/openobserve/promql-engine/pkg/promqlvalue"
)

// queryData is the Prometheus HTTP API's {resultType, result} query data
// payload; result's shape depends on resultType, so it stays interface{}.
type queryData struct {
	ResultType promqlvalue.ResultType `json:"resultType"`
	Result     interface{}            `json:"result"`
}

type sampleJSON struct {
	Metric map[string]string `json:"metric"`
	Value  [2]interface{}    `json:"value,omitempty"`
	Values [][2]interface{}  `json:"values,omitempty"`
}

type exemplarSeriesJSON struct {
	SeriesLabels map[string]string `json:"seriesLabels"`
	Exemplars    []exemplarJSON    `json:"exemplars"`
}

type exemplarJSON struct {
	Labels    map[string]string `json:"labels"`
	Value     string            `json:"value"`
	Timestamp float64           `json:"timestamp"`
}

// microsToSeconds converts the engine's microsecond timestamps to the
// fractional-seconds form the Prometheus HTTP API uses on the wire.
func microsToSeconds(us int64) float64 {
	return float64(us) / 1e6
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func pointJSON(ts int64, v float64) [2]interface{} {
	return [2]interface{}{microsToSeconds(ts), formatValue(v)}
}

func labelsToMap(l labels.Labels) map[string]string {
	m := make(map[string]string, l.Len())
	l.Range(func(lb labels.Label) { m[lb.Name] = lb.Value })
	return m
}

// marshalValue converts an engine-internal Value into the Prometheus HTTP
// API's {resultType, result} wire shape.
func marshalValue(value promqlvalue.Value, resultType promqlvalue.ResultType) queryData {
	switch v := value.(type) {
	case promqlvalue.Matrix:
		result := make([]sampleJSON, 0, len(v.Series))
		for _, s := range v.Series {
			values := make([][2]interface{}, 0, len(s.Samples))
			for _, smp := range s.Samples {
				values = append(values, pointJSON(smp.Timestamp, smp.Value))
			}
			result = append(result, sampleJSON{Metric: labelsToMap(s.Labels), Values: values})
		}
		return queryData{ResultType: promqlvalue.ResultMatrix, Result: result}

	case promqlvalue.Vector:
		result := make([]sampleJSON, 0, len(v.Series))
		for _, inst := range v.Series {
			result = append(result, sampleJSON{Metric: labelsToMap(inst.Labels), Value: pointJSON(inst.Sample.Timestamp, inst.Sample.Value)})
		}
		return queryData{ResultType: promqlvalue.ResultVector, Result: result}

	case promqlvalue.Scalar:
		return queryData{ResultType: promqlvalue.ResultScalar, Result: pointJSON(v.Sample.Timestamp, v.Sample.Value)}

	case promqlvalue.String:
		return queryData{ResultType: promqlvalue.ResultString, Result: [2]interface{}{microsToSeconds(v.Timestamp), v.Value}}

	case promqlvalue.Exemplars:
		result := make([]exemplarSeriesJSON, 0, len(v.Series))
		for _, s := range v.Series {
			exemplars := make([]exemplarJSON, 0, len(s.Exemplars))
			for _, e := range s.Exemplars {
				exemplars = append(exemplars, exemplarJSON{
					Labels:    labelsToMap(e.Labels),
					Value:     formatValue(e.Value),
					Timestamp: microsToSeconds(e.Timestamp),
				})
			}
			result = append(result, exemplarSeriesJSON{SeriesLabels: labelsToMap(s.Labels), Exemplars: exemplars})
		}
		return queryData{ResultType: promqlvalue.ResultExemplars, Result: result}

	default:
		return queryData{ResultType: resultType, Result: []sampleJSON{}}
	}
}
