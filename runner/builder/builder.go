package builder

import (
	"fmt"
	"sort"
	"strings"
)

// DataType represents the precision of numerical data
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
	INT32
	INT64
	UINT32 // cell flags
)

// ArraySpec describes a device array of Cells entries with Components values each
type ArraySpec struct {
	Name       string
	Cells      int
	Components int
	DataType   DataType
}

// Bytes is the allocation size of the array
func (s ArraySpec) Bytes() int64 {
	return int64(s.Cells*s.Components) * SizeOf(s.DataType)
}

// SizeOf returns the size in bytes of a data type
func SizeOf(dt DataType) int64 {
	switch dt {
	case Float32, INT32, UINT32:
		return 4
	}
	return 8
}

// Builder generates the kernel preamble for a partitioned cell lattice. Partition
// part owns cells [CellStart[part], CellStart[part]+K[part]).
type Builder struct {
	// Partition configuration
	NumPartitions int
	K             []int
	CellStart     []int
	KpartMax      int

	// Type configuration
	FloatType DataType
	IntType   DataType

	// Extra #define lines, emitted in sorted order
	Defines map[string]string

	// Array tracking for macro generation
	AllocatedArrays []ArraySpec

	// Generated code
	KernelPreamble string
}

// Config holds configuration for creating a Builder. K lists the cell count of each
// contiguous partition.
type Config struct {
	K         []int
	FloatType DataType
	IntType   DataType
	Defines   map[string]string
}

// NewBuilder creates a new Builder instance
func NewBuilder(cfg Config) *Builder {
	if len(cfg.K) == 0 {
		panic("K array cannot be empty")
	}
	kpartMax := 0
	start := make([]int, len(cfg.K)+1)
	for i, k := range cfg.K {
		if k < 0 {
			panic(fmt.Sprintf("negative partition size %d", k))
		}
		if k > kpartMax {
			kpartMax = k
		}
		start[i+1] = start[i] + k
	}
	floatType := cfg.FloatType
	if floatType == 0 {
		floatType = Float64
	}
	intType := cfg.IntType
	if intType == 0 {
		intType = INT64
	}
	kb := &Builder{
		NumPartitions: len(cfg.K),
		K:             append([]int(nil), cfg.K...),
		CellStart:     start,
		KpartMax:      kpartMax,
		FloatType:     floatType,
		IntType:       intType,
		Defines:       make(map[string]string),
	}
	for k, v := range cfg.Defines {
		kb.Defines[k] = v
	}
	return kb
}

// GetTotalElements returns the number of cells over all partitions
func (kb *Builder) GetTotalElements() int {
	return kb.CellStart[kb.NumPartitions]
}

// GetIntSize returns the size of int_t in bytes
func (kb *Builder) GetIntSize() int {
	return int(SizeOf(kb.IntType))
}

// GeneratePreamble generates the kernel preamble
func (kb *Builder) GeneratePreamble() string {
	var sb strings.Builder

	// 1. Type definitions and constants
	sb.WriteString(kb.generateTypeDefinitions())

	// 2. Partition layout
	sb.WriteString(kb.generatePartitionLayout())

	// 3. Per-array access macros
	sb.WriteString(kb.generateArrayMacros())

	kb.KernelPreamble = sb.String()
	return kb.KernelPreamble
}

// generateTypeDefinitions creates type definitions based on precision settings
func (kb *Builder) generateTypeDefinitions() string {
	var sb strings.Builder

	floatTypeStr := "double"
	floatSuffix := ""
	if kb.FloatType == Float32 {
		floatTypeStr = "float"
		floatSuffix = "f"
	}
	intTypeStr := "long"
	if kb.IntType == INT32 {
		intTypeStr = "int"
	}

	sb.WriteString(fmt.Sprintf("typedef %s real_t;\n", floatTypeStr))
	sb.WriteString(fmt.Sprintf("typedef %s int_t;\n", intTypeStr))
	sb.WriteString("typedef unsigned int flag_t;\n")
	sb.WriteString(fmt.Sprintf("#define REAL_ZERO 0.0%s\n", floatSuffix))
	sb.WriteString(fmt.Sprintf("#define REAL_ONE 1.0%s\n", floatSuffix))
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("#define NPART %d\n", kb.NumPartitions))
	sb.WriteString(fmt.Sprintf("#define KpartMax %d\n", kb.KpartMax))
	keys := make([]string, 0, len(kb.Defines))
	for k := range kb.Defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("#define %s %s\n", k, kb.Defines[k]))
	}
	sb.WriteString("\n")

	return sb.String()
}

// generatePartitionLayout embeds the first cell of every partition as a static array
func (kb *Builder) generatePartitionLayout() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("const int_t cell_start[%d] = {", kb.NumPartitions+1))
	for i, s := range kb.CellStart {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%d", s))
	}
	sb.WriteString("};\n")
	sb.WriteString("#define CELL(part, c) (cell_start[part] + (c))\n\n")
	return sb.String()
}

// generateArrayMacros creates a partition view macro for every allocated array
func (kb *Builder) generateArrayMacros() string {
	var sb strings.Builder
	for _, spec := range kb.AllocatedArrays {
		sb.WriteString(fmt.Sprintf("#define %s_PART(part) (%s + %d*cell_start[part])\n",
			spec.Name, spec.Name, spec.Components))
	}
	if len(kb.AllocatedArrays) > 0 {
		sb.WriteString("\n")
	}
	return sb.String()
}
