package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_NoErrorIsNil(t *testing.T) {
	var err error
	err = Append(err, nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, Count(err))
	assert.False(t, Has(err, OutOfMemory))
}

func TestError_ClassAndKind(t *testing.T) {
	err := New("Demag", OutOfMemory, "kernel of %d cells", 64)
	require.Error(t, err)
	assert.Equal(t, "Demag: out of memory: kernel of 64 cells", err.Error())
	assert.True(t, Has(err, OutOfMemory))
	assert.False(t, Has(err, IncorrectConfig))
	assert.Equal(t, OutOfMemory, KindOf(err))

	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Demag", fe.Class)
}

func TestError_Append(t *testing.T) {
	var err error
	err = Append(err, New("Exchange", NotInitialized, ""))
	err = Append(err, nil)
	err = Append(err, New("Zeeman", IncorrectConfig, "bad field"))
	err = Append(err, Append(New("Heat", MeshRect, ""), New("Heat", OutOfMemory, "")))

	assert.Equal(t, 4, Count(err))
	for _, k := range []Kind{NotInitialized, IncorrectConfig, MeshRect, OutOfMemory} {
		assert.True(t, Has(err, k), k.String())
	}
	assert.False(t, Has(err, DuplicateModule))
	assert.Contains(t, err.Error(), "Zeeman: incorrect configuration: bad field")
}

func TestError_WrapThroughFmt(t *testing.T) {
	assert.Nil(t, Wrap("Mesh", OutOfMemory, nil))
	inner := New("Demag", OutOfGPUMemory, "")
	outer := fmt.Errorf("initializing mesh: %w", inner)
	assert.True(t, Has(outer, OutOfGPUMemory))
	assert.Equal(t, OutOfGPUMemory, KindOf(outer))
}
