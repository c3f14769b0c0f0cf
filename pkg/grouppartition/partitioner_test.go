package grouppartition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionEmptyInput(t *testing.T) {
	assert.Nil(t, Partition(1000, nil, 0, 100, 10))
	assert.Nil(t, Partition(1000, []File{{Records: 1, MaxTS: 5}}, 100, 100, 10))
	assert.Nil(t, Partition(1000, []File{{Records: 1, MaxTS: 5}}, 100, 50, 10))
}

func TestPartitionUnderBudgetIsOneGroup(t *testing.T) {
	files := []File{
		{Records: 10, MaxTS: 90},
		{Records: 10, MaxTS: 190},
		{Records: 10, MaxTS: 390},
	}
	groups := Partition(100000, files, 0, 400, 30)
	require.Len(t, groups, 1)
	assert.Equal(t, Group{Start: 0, End: 400}, groups[0])
}

func TestPartitionSplitsUnderMemoryPressure(t *testing.T) {
	// Five files, 2 records (48 bytes) each. A budget of 200 lets the
	// first four files (192 bytes) accumulate into one group; the fifth
	// pushes over budget and starts a new one. Max timestamps are spread
	// across [0,400) so the break lands at t=190 (aligned down to 180)
	// and the remainder tail-merges to the query end, reproducing the
	// documented [(0,180),(210,400)] scenario.
	files := []File{
		{Records: 2, MaxTS: 50},
		{Records: 2, MaxTS: 100},
		{Records: 2, MaxTS: 150},
		{Records: 2, MaxTS: 190},
		{Records: 2, MaxTS: 390},
	}
	groups := Partition(200, files, 0, 400, 30)
	require.Len(t, groups, 2)
	assert.Equal(t, Group{Start: 0, End: 180}, groups[0])
	assert.Equal(t, Group{Start: 210, End: 400}, groups[1])
}

func TestPartitionOversizedSingleFileDoesNotDeadlock(t *testing.T) {
	files := []File{
		{Records: 1_000_000, MaxTS: 50},
		{Records: 1, MaxTS: 350},
	}
	groups := Partition(10, files, 0, 400, 30)
	require.NotEmpty(t, groups)
	assert.Equal(t, int64(0), groups[0].Start)
	assert.Equal(t, int64(400), groups[len(groups)-1].End)
}

// the contiguity invariant: a0=start, bn=end, a(i+1)=b(i)+step,
// (bi-ai) mod step == 0.
func TestPartitionInvariants(t *testing.T) {
	cases := []struct {
		limit        int64
		numFiles     int
		recordsEach  int64
		start, end   int64
		step         int64
	}{
		{100, 5, 2, 0, 400, 30},
		{1000, 20, 5, 0, 1000, 15},
		{50, 3, 10, 0, 90, 10},
	}

	for _, tc := range cases {
		var files []File
		span := tc.end - tc.start
		for i := 0; i < tc.numFiles; i++ {
			files = append(files, File{
				Records: tc.recordsEach,
				MaxTS:   tc.start + span*int64(i+1)/int64(tc.numFiles),
			})
		}

		groups := Partition(tc.limit, files, tc.start, tc.end, tc.step)
		require.NotEmpty(t, groups)
		assert.Equal(t, tc.start, groups[0].Start)
		assert.Equal(t, tc.end, groups[len(groups)-1].End)
		for i, g := range groups {
			assert.Zero(t, (g.End-g.Start)%tc.step, "group %d not step-aligned", i)
			if i > 0 {
				assert.Equal(t, groups[i-1].End+tc.step, g.Start, "group %d not contiguous", i)
			}
		}
	}
}

func FuzzPartitionNeverPanics(f *testing.F) {
	f.Add(int64(100), int64(0), int64(400), int64(30), 5)
	f.Add(int64(0), int64(10), int64(5), int64(1), 2)
	f.Fuzz(func(t *testing.T, limit, start, end, step int64, n int) {
		if n < 0 || n > 1000 {
			return
		}
		if step <= 0 {
			step = 1
		}
		var files []File
		for i := 0; i < n; i++ {
			files = append(files, File{Records: int64(i % 7), MaxTS: start + int64(i)*step})
		}
		_ = Partition(limit, files, start, end, step)
	})
}
