package partitions

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Section 1: Layout construction
// ============================================================================

func TestPartitionBuilder_Strategies(t *testing.T) {
	testCases := []struct {
		name      string
		n         int
		cfg       Config
		expectNP  int
		expectMax int
	}{
		{"block even", 400, Config{Workers: 4, MinPartitionSize: 10}, 4, 100},
		{"block uneven", 10, Config{Workers: 3, MinPartitionSize: 1}, 3, 4},
		{"round robin", 10, Config{Workers: 3, MinPartitionSize: 1, Strategy: RoundRobin}, 3, 4},
		{"small grid single worker", 20, Config{Workers: 8, MinPartitionSize: 64}, 1, 20},
		{"empty grid", 0, Config{Workers: 4}, 1, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			layout, err := NewPartitionBuilder(tc.n, tc.cfg).BuildPartitions()
			require.NoError(t, err)
			assert.Equal(t, tc.expectNP, layout.NumPartitions)
			assert.Equal(t, tc.expectMax, layout.KpartMax)
			assert.NoError(t, layout.ValidateLayout())
		})
	}
}

func TestPartitionBuilder_NegativeCount(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for negative cell count")
		}
	}()
	NewPartitionBuilder(-1, Config{})
}

func TestLayout_ValidateDetectsCorruption(t *testing.T) {
	layout := New(12, Config{Workers: 3, MinPartitionSize: 1})
	layout.EToP[5] = (layout.EToP[5] + 1) % 3
	assert.Error(t, layout.ValidateLayout())
}

// ============================================================================
// Section 2: Parallel loops and reductions
// ============================================================================

func TestLayout_ForEachVisitsEveryCellOnce(t *testing.T) {
	for _, strategy := range []PartitionStrategy{BlockPartition, RoundRobin} {
		layout := New(1000, Config{Workers: 7, MinPartitionSize: 16, Strategy: strategy})
		counts := make([]int32, 1000)
		layout.ForEach(func(idx int) {
			atomic.AddInt32(&counts[idx], 1)
		})
		for idx, c := range counts {
			if c != 1 {
				t.Fatalf("strategy %d: cell %d visited %d times", strategy, idx, c)
			}
		}
	}
}

func TestLayout_ReduceIsDeterministic(t *testing.T) {
	layout := New(10000, Config{Workers: 8, MinPartitionSize: 100})
	sum := func(p *Partition) float64 {
		s := 0.0
		p.Each(func(idx int) { s += 1.0 / float64(idx+1) })
		return s
	}
	first := layout.Reduce(sum)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, layout.Reduce(sum))
	}

	acc := layout.ReduceN(2, func(p *Partition, acc []float64) {
		p.Each(func(idx int) {
			acc[0] += 1
			acc[1] += float64(idx)
		})
	})
	assert.Equal(t, 10000.0, acc[0])
	assert.Equal(t, float64(10000*9999/2), acc[1])

	mx := layout.ReduceMax(func(p *Partition) float64 {
		m := 0.0
		p.Each(func(idx int) { m = max(m, float64(idx)) })
		return m
	})
	assert.Equal(t, 9999.0, mx)
}
