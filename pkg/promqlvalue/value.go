// Package promqlvalue defines the tagged result-value variants a PromQL
// evaluation produces (instant, range, matrix, vector, scalar, string,
// exemplars) and the merge functions that combine per-worker partials into
// one coordinator-level result.
//
// Rather than an inheritance hierarchy, each variant is a concrete type and
// Value is a closed interface implemented only by those types; merge
// dispatches by type switch, mirroring the tagged-variant design the
// original system uses for the same shape of problem.
package promqlvalue

import (
	"math"
	"sort"

	"github.com/prometheus/prometheus/model/labels"
)

// ResultType names the shape of a PromQL response.
type ResultType string

const (
	ResultMatrix    ResultType = "matrix"
	ResultVector    ResultType = "vector"
	ResultScalar    ResultType = "scalar"
	ResultString    ResultType = "string"
	ResultExemplars ResultType = "exemplars"
	ResultNone      ResultType = ""
)

// Sample is a single (timestamp, value) observation. Timestamps are
// microseconds since epoch.
type Sample struct {
	Timestamp int64
	Value     float64
}

// Exemplar attaches a trace/span pointer to a sample.
type Exemplar struct {
	Sample
	Labels labels.Labels
}

// Value is implemented by every concrete result variant.
type Value interface {
	Type() ResultType
	isValue()
}

// Instant is a single labeled sample, the result of start==end evaluation.
type Instant struct {
	Labels labels.Labels
	Sample Sample
}

func (Instant) Type() ResultType { return ResultVector }
func (Instant) isValue()         {}

// Range is one series' ascending, NaN-free sample sequence, optionally
// carrying exemplars.
type Range struct {
	Labels    labels.Labels
	Samples   []Sample
	Exemplars []Exemplar
}

func (Range) Type() ResultType { return ResultMatrix }
func (Range) isValue()         {}

// Matrix is a sorted-by-signature vector of Range series — the range-query
// result shape.
type Matrix struct {
	Series []Range
}

func (Matrix) Type() ResultType { return ResultMatrix }
func (Matrix) isValue()         {}

// Vector is a sorted-by-signature vector of Instant series — the
// instant-query result shape.
type Vector struct {
	Series []Instant
}

func (Vector) Type() ResultType { return ResultVector }
func (Vector) isValue()         {}

// Scalar is a single unlabeled sample.
type Scalar struct {
	Sample Sample
}

func (Scalar) Type() ResultType { return ResultScalar }
func (Scalar) isValue()         {}

// String is the raw-string result of label_replace-style expressions.
type String struct {
	Timestamp int64
	Value     string
}

func (String) Type() ResultType { return ResultString }
func (String) isValue()         {}

// Exemplars is a vector of Range series carrying exemplar lists — the
// result shape for exemplar queries.
type Exemplars struct {
	Series []Range
}

func (Exemplars) Type() ResultType { return ResultExemplars }
func (Exemplars) isValue()         {}

// None is the empty/absent result.
type None struct{}

func (None) Type() ResultType { return ResultNone }
func (None) isValue()         {}

// SortMatrix sorts series by label signature for deterministic output, the
// invariant spec'd for every returned Matrix.
func SortMatrix(m *Matrix, sigOf func(labels.Labels) uint64) {
	sort.Slice(m.Series, func(i, j int) bool {
		return sigOf(m.Series[i].Labels) < sigOf(m.Series[j].Labels)
	})
}

// SortVector sorts an instant vector by label signature.
func SortVector(v *Vector, sigOf func(labels.Labels) uint64) {
	sort.Slice(v.Series, func(i, j int) bool {
		return sigOf(v.Series[i].Labels) < sigOf(v.Series[j].Labels)
	})
}

// IsUsable reports whether f is neither NaN nor +/-Inf, the filter applied
// when emitting samples unless an operator explicitly requires the raw
// value.
func IsUsable(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
