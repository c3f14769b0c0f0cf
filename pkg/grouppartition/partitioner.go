// Package grouppartition implements the sequential greedy bin-pack that
// splits a time range into sub-ranges whose predicted in-memory sample
// cost each fit a caller-supplied budget. A greedy walk suffices because
// files arrive sorted by max timestamp and queries consume sub-ranges
// left to right.
package grouppartition

// pointSize is the in-memory cost of one (timestamp, value, hash) sample.
const pointSize = 24

// File is the subset of partition metadata the partitioner needs to
// predict memory cost: its row count and its maximum timestamp. Files
// must be supplied sorted by MaxTS ascending, since the algorithm is a
// left-to-right sweep over a query that is itself monotone in time.
type File struct {
	Records int64
	MaxTS   int64
}

// Group is one output sub-range, step-aligned at both ends.
type Group struct {
	Start int64
	End   int64
}

// Partition computes the sequence of step-aligned groups covering
// [start, end] such that each group's file set is predicted to fit within
// memoryLimitBytes. Files sorted by MaxTS ascending; start must be < end
// or the result is empty.
func Partition(memoryLimitBytes int64, files []File, start, end, step int64) []Group {
	if start >= end || step <= 0 {
		return nil
	}

	var groups []Group
	groupStart := start
	var predicted int64
	var groupMaxTS int64

	flush := func(groupEnd int64) bool {
		groupEnd -= groupEnd % step
		if groupEnd <= groupStart {
			return false
		}
		groups = append(groups, Group{Start: groupStart, End: groupEnd})
		groupStart = groupEnd + step
		predicted = 0
		return true
	}

	for _, f := range files {
		cost := f.Records * pointSize
		if predicted+cost > memoryLimitBytes {
			// Adding this file would exceed the budget: close the current
			// group at the last file's max timestamp. If that would
			// produce an empty/backwards group (a single oversized file),
			// skip the break and keep accumulating.
			flush(groupMaxTS)
		}
		predicted += cost
		if f.MaxTS > groupMaxTS {
			groupMaxTS = f.MaxTS
		}
	}

	if predicted > 0 {
		groups = append(groups, Group{Start: groupStart, End: end - end%step})
	}
	if len(groups) == 0 {
		return nil
	}

	// Tail merge: if the final group ends within 5*step of the requested
	// end, extend it to cover the remainder exactly rather than leaving a
	// sliver sub-range.
	last := &groups[len(groups)-1]
	if end-last.End <= 5*step {
		last.End = end
	}
	if last.End < end {
		groups = append(groups, Group{Start: last.End + step, End: end})
	}

	return groups
}
