package partitions

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Partition represents a collection of cells processed together by one worker
type Partition struct {
	// Unique identifier for this partition
	ID int

	// Cell membership: a contiguous range [Start, End) for block partitions,
	// an explicit index list otherwise
	Start, End  int
	Elements    []int
	NumElements int // Actual number of cells
	MaxElements int // Largest partition in the layout
}

// Each calls fn for every cell index in the partition, in increasing order
func (p *Partition) Each(fn func(idx int)) {
	if p.Elements == nil {
		for idx := p.Start; idx < p.End; idx++ {
			fn(idx)
		}
		return
	}
	for _, idx := range p.Elements {
		fn(idx)
	}
}

// Layout manages the complete decomposition of a grid's cells
type Layout struct {
	// All partitions in the grid
	Partitions []Partition

	// Global sizing information
	KpartMax      int // max(NumElements) across all partitions
	TotalElements int // Sum of all cells across partitions
	NumPartitions int // Total number of partitions

	// Cell to partition mapping
	EToP []int // Length TotalElements: cell k belongs to partition EToP[k]
}

// GetPartition returns the partition containing cell k
func (pl *Layout) GetPartition(elementID int) int {
	if elementID < 0 || elementID >= len(pl.EToP) {
		return -1
	}
	return pl.EToP[elementID]
}

// ValidateLayout checks partition consistency: every cell is owned exactly once
func (pl *Layout) ValidateLayout() error {
	actualMax := 0
	seen := make([]int, pl.TotalElements)
	for _, p := range pl.Partitions {
		if p.NumElements > actualMax {
			actualMax = p.NumElements
		}
		if p.MaxElements != pl.KpartMax {
			return fmt.Errorf("partition %d: MaxElements %d != KpartMax %d",
				p.ID, p.MaxElements, pl.KpartMax)
		}
		count := 0
		var bad error
		p.Each(func(idx int) {
			count++
			if idx < 0 || idx >= pl.TotalElements {
				bad = fmt.Errorf("partition %d: cell %d out of range", p.ID, idx)
				return
			}
			seen[idx]++
			if pl.EToP[idx] != p.ID {
				bad = fmt.Errorf("partition %d: cell %d mapped to partition %d", p.ID, idx, pl.EToP[idx])
			}
		})
		if bad != nil {
			return bad
		}
		if count != p.NumElements {
			return fmt.Errorf("partition %d: NumElements %d != %d cells", p.ID, p.NumElements, count)
		}
	}
	if actualMax != pl.KpartMax {
		return fmt.Errorf("computed KpartMax %d != stored KpartMax %d",
			actualMax, pl.KpartMax)
	}
	for idx, c := range seen {
		if c != 1 {
			return fmt.Errorf("cell %d assigned %d times", idx, c)
		}
	}
	return nil
}

// For runs fn on every partition concurrently and waits for all of them
func (pl *Layout) For(fn func(p *Partition)) {
	if pl.NumPartitions == 1 {
		fn(&pl.Partitions[0])
		return
	}
	var wg sync.WaitGroup
	wg.Add(pl.NumPartitions)
	for np := range pl.Partitions {
		go func(p *Partition) {
			defer wg.Done()
			fn(p)
		}(&pl.Partitions[np])
	}
	wg.Wait()
}

// ForEach runs fn for every cell, partitions in parallel
func (pl *Layout) ForEach(fn func(idx int)) {
	pl.For(func(p *Partition) { p.Each(fn) })
}

// Reduce sums fn over partitions. Partial sums are combined in partition order so
// the result does not depend on scheduling.
func (pl *Layout) Reduce(fn func(p *Partition) float64) float64 {
	partial := make([]float64, pl.NumPartitions)
	pl.For(func(p *Partition) {
		partial[p.ID] = fn(p)
	})
	return floats.Sum(partial)
}

// ReduceN is Reduce for k accumulators at once
func (pl *Layout) ReduceN(k int, fn func(p *Partition, acc []float64)) []float64 {
	partial := make([][]float64, pl.NumPartitions)
	pl.For(func(p *Partition) {
		acc := make([]float64, k)
		fn(p, acc)
		partial[p.ID] = acc
	})
	out := make([]float64, k)
	for _, acc := range partial {
		floats.Add(out, acc)
	}
	return out
}

// ReduceMax returns the largest value fn produces over partitions
func (pl *Layout) ReduceMax(fn func(p *Partition) float64) float64 {
	partial := make([]float64, pl.NumPartitions)
	pl.For(func(p *Partition) {
		partial[p.ID] = fn(p)
	})
	return floats.Max(partial)
}
