package structure

import (
	"cmp"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/google/btree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPayloadType = 7

// testItem sorts by key, then by seq descending, like a book side.
type testItem struct {
	key uint64
	seq uint64
}

func (a testItem) Compare(b testItem) int {
	if c := cmp.Compare(a.key, b.key); c != 0 {
		return c
	}
	return cmp.Compare(b.seq, a.seq)
}

func (a testItem) Encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], a.key)
	binary.LittleEndian.PutUint64(dst[8:16], a.seq)
}

func decodeTestItem(b []byte) testItem {
	return testItem{
		key: binary.LittleEndian.Uint64(b[0:8]),
		seq: binary.LittleEndian.Uint64(b[8:16]),
	}
}

type testTree struct {
	header struct {
		freeHead  DataIndex
		allocated uint32
		root      DataIndex
		max       DataIndex
	}
	arena *Arena
	tree  *RedBlackTree[testItem]
}

func newTestTree() *testTree {
	tt := &testTree{}
	tt.arena = NewArena(NodeHeaderSize+16, 0, &tt.header.freeHead, &tt.header.allocated)
	tt.header.root = NilIndex
	tt.header.max = NilIndex
	tt.tree = NewRedBlackTree(tt.arena, &tt.header.root, &tt.header.max, testPayloadType, decodeTestItem)
	return tt
}

func (tt *testTree) insert(t *testing.T, it testItem) DataIndex {
	idx, err := tt.arena.Allocate()
	require.NoError(t, err)
	require.NoError(t, tt.tree.Insert(idx, it))
	return idx
}

func (tt *testTree) remove(t *testing.T, idx DataIndex) {
	require.NoError(t, tt.tree.Remove(idx))
	tt.arena.Free(idx)
}

func collect(tree *RedBlackTree[testItem]) []testItem {
	var out []testItem
	tree.Ascend(func(_ DataIndex, v testItem) bool {
		out = append(out, v)
		return true
	})
	return out
}

func TestRedBlackTree_BasicOperations(t *testing.T) {
	tt := newTestTree()
	assert.True(t, tt.tree.IsEmpty())
	assert.Equal(t, NilIndex, tt.tree.Min())
	assert.Equal(t, NilIndex, tt.tree.Max())

	i100 := tt.insert(t, testItem{key: 100, seq: 1})
	i50 := tt.insert(t, testItem{key: 50, seq: 2})
	i150 := tt.insert(t, testItem{key: 150, seq: 3})
	require.NoError(t, tt.tree.Verify())

	assert.Equal(t, 3, tt.tree.Len())
	assert.Equal(t, i50, tt.tree.Min())
	assert.Equal(t, i150, tt.tree.Max())
	assert.Equal(t, i150, tt.header.max)

	assert.Equal(t, i100, tt.tree.Lookup(testItem{key: 100, seq: 1}))
	assert.Equal(t, NilIndex, tt.tree.Lookup(testItem{key: 100, seq: 9}))

	v, err := tt.tree.Get(i50)
	require.NoError(t, err)
	assert.Equal(t, testItem{key: 50, seq: 2}, v)

	tt.remove(t, i150)
	require.NoError(t, tt.tree.Verify())
	assert.Equal(t, i100, tt.tree.Max())
	assert.Equal(t, NilIndex, tt.tree.Lookup(testItem{key: 150, seq: 3}))

	_, err = tt.tree.Get(i150)
	assert.ErrorIs(t, err, ErrWrongPayload, "freed block no longer holds a node")
}

func TestRedBlackTree_EqualKeysPriority(t *testing.T) {
	tt := newTestTree()
	// same key: lower seq sorts higher, so Max is the oldest
	first := tt.insert(t, testItem{key: 10, seq: 1})
	tt.insert(t, testItem{key: 10, seq: 2})
	tt.insert(t, testItem{key: 10, seq: 3})
	require.NoError(t, tt.tree.Verify())
	assert.Equal(t, first, tt.tree.Max())

	var seqs []uint64
	it := tt.tree.Iterator()
	for _, v, ok := it.Next(); ok; _, v, ok = it.Next() {
		seqs = append(seqs, v.seq)
	}
	assert.Equal(t, []uint64{1, 2, 3}, seqs)

	it.Reset()
	_, v, ok := it.Next()
	assert.True(t, ok)
	assert.Equal(t, uint64(1), v.seq, "iterator restarts from the best element")
}

func TestRedBlackTree_RemoveDuringIteration(t *testing.T) {
	tt := newTestTree()
	for i := 1; i <= 20; i++ {
		tt.insert(t, testItem{key: uint64(i % 5), seq: uint64(i)})
	}

	it := tt.tree.Iterator()
	n := 0
	for idx, _, ok := it.Next(); ok; idx, _, ok = it.Next() {
		tt.remove(t, idx)
		n++
	}
	assert.Equal(t, 20, n)
	assert.True(t, tt.tree.IsEmpty())
	assert.Equal(t, NilIndex, tt.header.max)
	assert.Equal(t, 20, tt.arena.FreeCount())
}

func TestRedBlackTree_IndicesAreStable(t *testing.T) {
	tt := newTestTree()
	idx := make(map[uint64]DataIndex)
	for i := uint64(0); i < 64; i++ {
		idx[i] = tt.insert(t, testItem{key: i * 7 % 64, seq: i})
	}
	// removing interior nodes must not move other payloads
	for i := uint64(0); i < 64; i += 3 {
		tt.remove(t, idx[i])
		delete(idx, i)
	}
	require.NoError(t, tt.tree.Verify())
	for seq, at := range idx {
		v, err := tt.tree.Get(at)
		require.NoError(t, err)
		assert.Equal(t, seq, v.seq)
	}
}

func TestRedBlackTree_Update(t *testing.T) {
	tt := newTestTree()
	idx := tt.insert(t, testItem{key: 5, seq: 1})
	require.NoError(t, tt.tree.Update(idx, testItem{key: 5, seq: 1}))
	assert.ErrorIs(t, tt.tree.Update(NilIndex, testItem{}), ErrInvalidIndex)
}

func TestRedBlackTree_Rollback(t *testing.T) {
	tt := newTestTree()
	for i := uint64(0); i < 16; i++ {
		tt.insert(t, testItem{key: i, seq: i})
	}
	before := append([]byte(nil), tt.arena.Bytes()...)
	header := tt.header

	tt.arena.Begin()
	for i := uint64(100); i < 110; i++ {
		tt.insert(t, testItem{key: i, seq: i})
	}
	tt.remove(t, tt.tree.Min())
	tt.remove(t, tt.tree.Max())
	tt.arena.Rollback()
	tt.header.root, tt.header.max = header.root, header.max

	assert.Equal(t, before, tt.arena.Bytes())
	assert.Equal(t, header, tt.header)
	require.NoError(t, tt.tree.Verify())
}

// TestRedBlackTree_RandomAgainstBTree runs random inserts and removes against
// the tree and google/btree, comparing in-order contents after every step.
func TestRedBlackTree_RandomAgainstBTree(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	less := func(a, b testItem) bool { return a.Compare(b) < 0 }

	for round := 0; round < 5; round++ {
		tt := newTestTree()
		ref := btree.NewG[testItem](8, less)
		live := make(map[testItem]DataIndex)
		var seq uint64

		for step := 0; step < 600; step++ {
			if len(live) == 0 || rng.Intn(3) != 0 {
				seq++
				it := testItem{key: uint64(rng.Intn(40)), seq: seq}
				live[it] = tt.insert(t, it)
				ref.ReplaceOrInsert(it)
			} else {
				var victim testItem
				k := rng.Intn(len(live))
				for it := range live {
					if k == 0 {
						victim = it
						break
					}
					k--
				}
				tt.remove(t, live[victim])
				delete(live, victim)
				ref.Delete(victim)
			}

			if step%25 == 0 {
				require.NoError(t, tt.tree.Verify())
				var want []testItem
				ref.Ascend(func(it testItem) bool {
					want = append(want, it)
					return true
				})
				assert.Equal(t, want, collect(tt.tree))
				if maxItem, ok := ref.Max(); ok {
					got, err := tt.tree.Get(tt.tree.Max())
					require.NoError(t, err)
					assert.Equal(t, maxItem, got)
				}
			}
		}
		require.NoError(t, tt.tree.Verify())
	}
}

func TestRedBlackTree_SequentialInsertStaysBalanced(t *testing.T) {
	tt := newTestTree()
	for i := uint64(0); i < 1024; i++ {
		tt.insert(t, testItem{key: i, seq: i})
	}
	require.NoError(t, tt.tree.Verify())

	// height of a red-black tree is at most 2*log2(n+1)
	var height func(idx DataIndex) int
	height = func(idx DataIndex) int {
		if idx == NilIndex {
			return 0
		}
		return 1 + max(height(tt.tree.left(idx)), height(tt.tree.right(idx)))
	}
	assert.LessOrEqual(t, height(tt.tree.Root()), 20)
}
