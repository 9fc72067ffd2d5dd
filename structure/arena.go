package structure

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Arena is a slab allocator over a single contiguous byte region.
//
// The region is divided into fixed-size blocks. A block is addressed by a
// DataIndex, which is the byte offset of the block inside the region, so an
// index is a stable "pointer" that survives serialization of the region.
// Unused blocks are threaded into an intrusive free list: a free block stores
// the index of the next free block in its first 4 bytes.
//
// The free list head and the high-water mark are not owned by the arena. They
// live in the account header that embeds the arena and are accessed through
// pointers, so restoring a copy of the header also restores the allocator.
//
// Design Goals:
// 1. Live data never moves (indices are stable)
// 2. O(1) allocate/free
// 3. Transactional: every block mutation can be journaled and rolled back
type Arena struct {
	data      []byte
	blockSize uint32
	maxBytes  uint32 // 0 means unbounded
	freeHead  *DataIndex
	allocated *uint32
	journal   *journal
}

// DataIndex is the byte offset of a block inside the dynamic region.
type DataIndex = uint32

// NilIndex is the sentinel for "no block".
const NilIndex DataIndex = math.MaxUint32

var (
	// ErrOutOfSpace is returned when the free list is empty and the region cannot grow.
	ErrOutOfSpace = errors.New("arena: out of space")
	// ErrInvalidIndex is returned when an index is outside the allocated range or misaligned.
	ErrInvalidIndex = errors.New("arena: invalid index")
)

// CorruptionError is raised (as a panic) when an internal link points outside the
// arena. It can only happen on a corrupted buffer; callers that load untrusted
// buffers recover it at the transaction boundary.
type CorruptionError struct {
	Index DataIndex
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("arena: corrupted link to index %d", e.Index)
}

func (e *CorruptionError) Unwrap() error {
	return ErrInvalidIndex
}

type journal struct {
	preimages     map[DataIndex][]byte
	beginLen      uint32
	beginFreeHead DataIndex
	depth         int
}

// NewArena creates an empty arena. freeHead and allocated are reset to the empty state.
func NewArena(blockSize uint32, maxBytes uint32, freeHead *DataIndex, allocated *uint32) *Arena {
	*freeHead = NilIndex
	*allocated = 0
	return &Arena{
		data:      make([]byte, 0),
		blockSize: blockSize,
		maxBytes:  maxBytes,
		freeHead:  freeHead,
		allocated: allocated,
	}
}

// LoadArena wraps an existing serialized region. The bytes are copied so the arena
// owns its memory; trailing bytes past the high-water mark are ignored.
func LoadArena(data []byte, blockSize uint32, maxBytes uint32, freeHead *DataIndex, allocated *uint32) (*Arena, error) {
	n := *allocated
	if n%blockSize != 0 || uint64(n) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: allocated %d bytes, region holds %d", ErrInvalidIndex, n, len(data))
	}
	if *freeHead != NilIndex && (*freeHead%blockSize != 0 || *freeHead >= n) {
		return nil, fmt.Errorf("%w: free list head %d", ErrInvalidIndex, *freeHead)
	}
	buf := make([]byte, n)
	copy(buf, data[:n])
	return &Arena{
		data:      buf,
		blockSize: blockSize,
		maxBytes:  maxBytes,
		freeHead:  freeHead,
		allocated: allocated,
	}, nil
}

// BlockSize returns the size in bytes of one block.
func (a *Arena) BlockSize() uint32 {
	return a.blockSize
}

// Len returns the number of bytes allocated (the high-water mark).
func (a *Arena) Len() uint32 {
	return *a.allocated
}

// Bytes returns the raw region. The slice aliases arena memory.
func (a *Arena) Bytes() []byte {
	return a.data
}

// FreeHead returns the head of the free list.
func (a *Arena) FreeHead() DataIndex {
	return *a.freeHead
}

// FreeCount walks the free list and returns its length.
func (a *Arena) FreeCount() int {
	count := 0
	for idx := *a.freeHead; idx != NilIndex; idx = binary.LittleEndian.Uint32(a.mustBlock(idx)[:4]) {
		count++
	}
	return count
}

// CanGrow reports whether n more blocks fit under the capacity limit.
func (a *Arena) CanGrow(n uint32) bool {
	if a.maxBytes == 0 {
		return true
	}
	return uint64(*a.allocated)+uint64(n)*uint64(a.blockSize) <= uint64(a.maxBytes)
}

// Expand appends n free blocks to the region.
func (a *Arena) Expand(n uint32) error {
	if n == 0 {
		return nil
	}
	if !a.CanGrow(n) {
		return ErrOutOfSpace
	}
	start := *a.allocated
	a.data = append(a.data, make([]byte, n*a.blockSize)...)
	*a.allocated = start + n*a.blockSize

	// push in reverse so the lowest new index ends up at the head
	for i := n; i > 0; i-- {
		idx := start + (i-1)*a.blockSize
		binary.LittleEndian.PutUint32(a.data[idx:idx+4], *a.freeHead)
		*a.freeHead = idx
	}
	return nil
}

// Allocate pops a block from the free list, growing the region by one block when
// the list is empty and capacity allows. The returned block is zeroed.
func (a *Arena) Allocate() (DataIndex, error) {
	if *a.freeHead == NilIndex {
		if err := a.Expand(1); err != nil {
			return NilIndex, err
		}
	}
	idx := *a.freeHead
	block := a.mutBlock(idx)
	*a.freeHead = binary.LittleEndian.Uint32(block[:4])
	clear(block)
	return idx, nil
}

// Free zeroes the block and pushes it onto the free list.
// The caller must have unlinked the block from any structure first.
func (a *Arena) Free(idx DataIndex) {
	block := a.mutBlock(idx)
	clear(block)
	binary.LittleEndian.PutUint32(block[:4], *a.freeHead)
	*a.freeHead = idx
}

// Get returns a read-only view of the block at idx.
func (a *Arena) Get(idx DataIndex) ([]byte, error) {
	if !a.valid(idx) {
		return nil, ErrInvalidIndex
	}
	return a.data[idx : idx+a.blockSize], nil
}

// GetMut returns a writable view of the block at idx, journaling its pre-image when
// a transaction is open.
func (a *Arena) GetMut(idx DataIndex) ([]byte, error) {
	if !a.valid(idx) {
		return nil, ErrInvalidIndex
	}
	return a.mutBlock(idx), nil
}

func (a *Arena) valid(idx DataIndex) bool {
	return idx != NilIndex && idx%a.blockSize == 0 && uint64(idx)+uint64(a.blockSize) <= uint64(*a.allocated)
}

func (a *Arena) mustBlock(idx DataIndex) []byte {
	if !a.valid(idx) {
		panic(&CorruptionError{Index: idx})
	}
	return a.data[idx : idx+a.blockSize]
}

func (a *Arena) mutBlock(idx DataIndex) []byte {
	block := a.mustBlock(idx)
	if j := a.journal; j != nil && idx < j.beginLen {
		if _, ok := j.preimages[idx]; !ok {
			pre := make([]byte, a.blockSize)
			copy(pre, block)
			j.preimages[idx] = pre
		}
	}
	return block
}

// Begin opens a transaction. Nested calls are counted and only the outermost
// Commit or Rollback takes effect.
func (a *Arena) Begin() {
	if a.journal != nil {
		a.journal.depth++
		return
	}
	a.journal = &journal{
		preimages:     make(map[DataIndex][]byte),
		beginLen:      *a.allocated,
		beginFreeHead: *a.freeHead,
		depth:         1,
	}
}

// InTransaction reports whether a transaction is open.
func (a *Arena) InTransaction() bool {
	return a.journal != nil
}

// Commit discards the journal of the outermost transaction.
func (a *Arena) Commit() {
	if a.journal == nil {
		return
	}
	a.journal.depth--
	if a.journal.depth == 0 {
		a.journal = nil
	}
}

// Rollback restores every journaled block, truncates blocks appended since Begin and
// restores the allocator state. It always unwinds the whole transaction.
func (a *Arena) Rollback() {
	j := a.journal
	if j == nil {
		return
	}
	a.journal = nil
	for idx, pre := range j.preimages {
		copy(a.data[idx:idx+a.blockSize], pre)
	}
	a.data = a.data[:j.beginLen]
	*a.allocated = j.beginLen
	*a.freeHead = j.beginFreeHead
}
