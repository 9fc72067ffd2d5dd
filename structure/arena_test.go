package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type arenaHeader struct {
	freeHead  DataIndex
	allocated uint32
}

func newTestArena(blockSize, maxBlocks uint32) (*Arena, *arenaHeader) {
	h := &arenaHeader{}
	return NewArena(blockSize, blockSize*maxBlocks, &h.freeHead, &h.allocated), h
}

func TestArena_AllocateFree(t *testing.T) {
	a, h := newTestArena(32, 4)
	assert.Equal(t, NilIndex, h.freeHead)
	assert.Equal(t, uint32(0), a.Len())

	idx0, err := a.Allocate()
	require.NoError(t, err)
	idx1, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, DataIndex(0), idx0)
	assert.Equal(t, DataIndex(32), idx1)
	assert.Equal(t, uint32(64), h.allocated)

	a.Free(idx0)
	assert.Equal(t, idx0, h.freeHead)
	assert.Equal(t, 1, a.FreeCount())

	// freed block is reused first
	again, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, idx0, again)
	assert.Equal(t, 0, a.FreeCount())
}

func TestArena_OutOfSpace(t *testing.T) {
	a, _ := newTestArena(16, 2)
	_, err := a.Allocate()
	require.NoError(t, err)
	_, err = a.Allocate()
	require.NoError(t, err)

	_, err = a.Allocate()
	assert.ErrorIs(t, err, ErrOutOfSpace)
	assert.ErrorIs(t, a.Expand(1), ErrOutOfSpace)
}

func TestArena_Expand(t *testing.T) {
	a, h := newTestArena(16, 8)
	require.NoError(t, a.Expand(3))
	assert.Equal(t, uint32(48), h.allocated)
	assert.Equal(t, 3, a.FreeCount())
	assert.Equal(t, DataIndex(0), h.freeHead)

	for i := 0; i < 3; i++ {
		idx, err := a.Allocate()
		require.NoError(t, err)
		assert.Equal(t, DataIndex(16*i), idx, "lowest new blocks are handed out first")
	}
}

func TestArena_GetBounds(t *testing.T) {
	a, _ := newTestArena(16, 4)
	idx, err := a.Allocate()
	require.NoError(t, err)

	block, err := a.Get(idx)
	require.NoError(t, err)
	assert.Len(t, block, 16)

	_, err = a.Get(16)
	assert.ErrorIs(t, err, ErrInvalidIndex)
	_, err = a.Get(3)
	assert.ErrorIs(t, err, ErrInvalidIndex, "misaligned")
	_, err = a.GetMut(NilIndex)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestArena_Rollback(t *testing.T) {
	a, h := newTestArena(8, 16)
	idx, err := a.Allocate()
	require.NoError(t, err)
	block, _ := a.GetMut(idx)
	copy(block, "original")

	before := append([]byte(nil), a.Bytes()...)
	beforeHeader := *h

	a.Begin()
	block, _ = a.GetMut(idx)
	copy(block, "mutated!")
	_, err = a.Allocate()
	require.NoError(t, err)
	require.NoError(t, a.Expand(2))
	a.Free(idx)
	a.Rollback()

	assert.False(t, a.InTransaction())
	assert.Equal(t, before, a.Bytes())
	assert.Equal(t, beforeHeader, *h)
}

func TestArena_Commit(t *testing.T) {
	a, h := newTestArena(8, 16)
	a.Begin()
	a.Begin()
	_, err := a.Allocate()
	require.NoError(t, err)
	a.Commit()
	assert.True(t, a.InTransaction(), "inner commit keeps the transaction open")
	a.Commit()
	assert.False(t, a.InTransaction())
	assert.Equal(t, uint32(8), h.allocated)
}

func TestArena_Load(t *testing.T) {
	a, h := newTestArena(8, 0)
	require.NoError(t, a.Expand(4))
	idx, err := a.Allocate()
	require.NoError(t, err)
	block, _ := a.GetMut(idx)
	copy(block, "payload!")

	raw := append([]byte(nil), a.Bytes()...)
	h2 := *h
	loaded, err := LoadArena(raw, 8, 0, &h2.freeHead, &h2.allocated)
	require.NoError(t, err)
	got, err := loaded.Get(idx)
	require.NoError(t, err)
	assert.Equal(t, "payload!", string(got))
	assert.Equal(t, 3, loaded.FreeCount())

	bad := h2
	bad.allocated = 64
	_, err = LoadArena(raw, 8, 0, &bad.freeHead, &bad.allocated)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}
