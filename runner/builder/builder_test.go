package builder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBuilder(t *testing.T) {
	t.Run("EmptyK", func(t *testing.T) {
		assert.Panics(t, func() { NewBuilder(Config{}) })
	})
	t.Run("NegativeK", func(t *testing.T) {
		assert.Panics(t, func() { NewBuilder(Config{K: []int{3, -1}}) })
	})

	testCases := []struct {
		name         string
		k            []int
		expectedKMax int
		expectedTot  int
	}{
		{"uniform", []int{10, 10, 10}, 10, 30},
		{"ascending", []int{5, 10, 15, 20}, 20, 50},
		{"single", []int{7}, 7, 7},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			kb := NewBuilder(Config{K: tc.k})
			assert.Equal(t, tc.expectedKMax, kb.KpartMax)
			assert.Equal(t, tc.expectedTot, kb.GetTotalElements())
			assert.Equal(t, Float64, kb.FloatType)
			assert.Equal(t, INT64, kb.IntType)
			assert.Equal(t, 8, kb.GetIntSize())
		})
	}
}

func TestBuilder_Preamble(t *testing.T) {
	kb := NewBuilder(Config{
		K:         []int{4, 3},
		FloatType: Float32,
		IntType:   INT32,
		Defines:   map[string]string{"NX": "7", "ALPHA": "2"},
	})
	kb.AllocatedArrays = append(kb.AllocatedArrays, ArraySpec{Name: "M", Cells: 7, Components: 3, DataType: Float32})
	p := kb.GeneratePreamble()

	assert.Contains(t, p, "typedef float real_t;")
	assert.Contains(t, p, "typedef int int_t;")
	assert.Contains(t, p, "#define REAL_ONE 1.0f")
	assert.Contains(t, p, "#define NPART 2")
	assert.Contains(t, p, "#define KpartMax 4")
	assert.Contains(t, p, "const int_t cell_start[3] = {0, 4, 7};")
	assert.Contains(t, p, "#define M_PART(part) (M + 3*cell_start[part])")
	// defines are sorted
	assert.Less(t, strings.Index(p, "#define ALPHA"), strings.Index(p, "#define NX"))
}

func TestArraySpec_Bytes(t *testing.T) {
	assert.Equal(t, int64(3*10*8), ArraySpec{Cells: 10, Components: 3, DataType: Float64}.Bytes())
	assert.Equal(t, int64(10*4), ArraySpec{Cells: 10, Components: 1, DataType: UINT32}.Bytes())
	assert.Equal(t, int64(4), SizeOf(Float32))
}
