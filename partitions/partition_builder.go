package partitions

import (
	"fmt"
	"math"
	"runtime"
)

// PartitionStrategy defines how cells are grouped
type PartitionStrategy int

const (
	BlockPartition PartitionStrategy = iota // Consecutive cells
	RoundRobin                              // Distribute cyclically
)

// Config holds configuration for creating a PartitionBuilder
type Config struct {
	Workers          int // 0 means runtime.NumCPU()
	Strategy         PartitionStrategy
	MinPartitionSize int // Below this many cells per worker, use fewer workers
}

// PartitionBuilder constructs partitions over a flat cell index range
type PartitionBuilder struct {
	NumElements      int
	Workers          int
	MinPartitionSize int
	Strategy         PartitionStrategy
}

// NewPartitionBuilder creates a builder, filling defaults from cfg
func NewPartitionBuilder(numElements int, cfg Config) *PartitionBuilder {
	if numElements < 0 {
		panic(fmt.Sprintf("negative cell count %d", numElements))
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	minSize := cfg.MinPartitionSize
	if minSize <= 0 {
		minSize = 64
	}
	return &PartitionBuilder{
		NumElements:      numElements,
		Workers:          workers,
		MinPartitionSize: minSize,
		Strategy:         cfg.Strategy,
	}
}

// New builds and validates a layout, panicking on an inconsistent result
func New(numElements int, cfg Config) *Layout {
	layout, err := NewPartitionBuilder(numElements, cfg).BuildPartitions()
	if err != nil {
		panic(err)
	}
	return layout
}

// BuildPartitions creates a partition layout over the cell range
func (pb *PartitionBuilder) BuildPartitions() (*Layout, error) {
	numPartitions := pb.calculateNumPartitions()

	eToP := pb.partitionElements(numPartitions)

	partitions := pb.createPartitions(eToP, numPartitions)

	kpartMax := 0
	for _, p := range partitions {
		if p.NumElements > kpartMax {
			kpartMax = p.NumElements
		}
	}
	for i := range partitions {
		partitions[i].MaxElements = kpartMax
	}

	layout := &Layout{
		Partitions:    partitions,
		KpartMax:      kpartMax,
		TotalElements: pb.NumElements,
		NumPartitions: numPartitions,
		EToP:          eToP,
	}

	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}

	return layout, nil
}

// calculateNumPartitions caps the worker count so each partition has useful work
func (pb *PartitionBuilder) calculateNumPartitions() int {
	numPartitions := int(math.Ceil(float64(pb.NumElements) / float64(pb.MinPartitionSize)))
	if numPartitions > pb.Workers {
		numPartitions = pb.Workers
	}
	if numPartitions < 1 {
		numPartitions = 1
	}
	return numPartitions
}

// bucketRange returns the balanced contiguous range of bucket np
func bucketRange(n, numPartitions, np int) (kMin, kMax int) {
	base := n / numPartitions
	rem := n % numPartitions
	kMin = np*base + min(np, rem)
	kMax = kMin + base
	if np < rem {
		kMax++
	}
	return
}

// partitionElements assigns cells to partitions
func (pb *PartitionBuilder) partitionElements(numPartitions int) []int {
	eToP := make([]int, pb.NumElements)

	switch pb.Strategy {
	case RoundRobin:
		for i := 0; i < pb.NumElements; i++ {
			eToP[i] = i % numPartitions
		}
	default:
		for np := 0; np < numPartitions; np++ {
			kMin, kMax := bucketRange(pb.NumElements, numPartitions, np)
			for i := kMin; i < kMax; i++ {
				eToP[i] = np
			}
		}
	}

	return eToP
}

// createPartitions builds partition structures from cell assignments
func (pb *PartitionBuilder) createPartitions(eToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)

	for i := range partitions {
		partitions[i].ID = i
	}

	if pb.Strategy == BlockPartition {
		for np := range partitions {
			kMin, kMax := bucketRange(pb.NumElements, numPartitions, np)
			partitions[np].Start, partitions[np].End = kMin, kMax
			partitions[np].NumElements = kMax - kMin
		}
		return partitions
	}

	for i := range partitions {
		partitions[i].Elements = []int{}
	}
	for elem, part := range eToP {
		partitions[part].Elements = append(partitions[part].Elements, elem)
		partitions[part].NumElements++
	}

	return partitions
}
