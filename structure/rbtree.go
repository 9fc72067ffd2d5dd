package structure

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Red-Black Tree over an Arena.
//
// Every node occupies one arena block: a 16-byte header followed by the payload.
//
//	| off | field        | type |
//	|-----|--------------|------|
//	| 0   | left         | u32  |
//	| 4   | right        | u32  |
//	| 8   | parent       | u32  |
//	| 12  | color        | u8   |
//	| 13  | payload_type | u8   |
//	| 14  | padding      | u16  |
//
// Several trees may share one arena (bids, asks and seats of a market); the root
// and the cached max index of each tree live in the owning account header and
// are referenced by pointer.
//
// The algorithms are the textbook ones (CLRS). Removal uses transplant, so a
// payload never moves to another block and indices held by callers stay valid.
// Keys that compare equal are placed to the right of existing ones.

const (
	// NodeHeaderSize is the size of the per-node tree header.
	NodeHeaderSize = 16

	colorBlack uint8 = 0
	colorRed   uint8 = 1
)

var (
	// ErrWrongPayload is returned when a block does not hold a node of the tree's payload type.
	ErrWrongPayload = errors.New("rbtree: block does not hold this payload type")
	// ErrInvariant is returned by Verify when a red-black property is broken.
	ErrInvariant = errors.New("rbtree: invariant violated")
)

// Value is a payload stored in a tree node.
// Compare orders values: negative when the receiver sorts before other.
// Encode writes the payload into dst, which is exactly the payload size.
type Value[V any] interface {
	Compare(other V) int
	Encode(dst []byte)
}

// RedBlackTree is a view of one tree inside an arena.
type RedBlackTree[V Value[V]] struct {
	arena       *Arena
	root        *DataIndex
	max         *DataIndex // nil when the tree does not cache its max
	payloadType uint8
	decode      func([]byte) V
}

// NewRedBlackTree creates a tree view. root (and max, when not nil) point at the
// header fields that persist the tree entry points.
func NewRedBlackTree[V Value[V]](arena *Arena, root, max *DataIndex, payloadType uint8, decode func([]byte) V) *RedBlackTree[V] {
	return &RedBlackTree[V]{
		arena:       arena,
		root:        root,
		max:         max,
		payloadType: payloadType,
		decode:      decode,
	}
}

// Root returns the root index.
func (t *RedBlackTree[V]) Root() DataIndex {
	return *t.root
}

// IsEmpty reports whether the tree has no nodes.
func (t *RedBlackTree[V]) IsEmpty() bool {
	return *t.root == NilIndex
}

// node header accessors

func (t *RedBlackTree[V]) left(idx DataIndex) DataIndex {
	return binary.LittleEndian.Uint32(t.arena.mustBlock(idx)[0:4])
}

func (t *RedBlackTree[V]) right(idx DataIndex) DataIndex {
	return binary.LittleEndian.Uint32(t.arena.mustBlock(idx)[4:8])
}

func (t *RedBlackTree[V]) parent(idx DataIndex) DataIndex {
	return binary.LittleEndian.Uint32(t.arena.mustBlock(idx)[8:12])
}

func (t *RedBlackTree[V]) color(idx DataIndex) uint8 {
	if idx == NilIndex {
		return colorBlack
	}
	return t.arena.mustBlock(idx)[12]
}

func (t *RedBlackTree[V]) isRed(idx DataIndex) bool {
	return t.color(idx) == colorRed
}

func (t *RedBlackTree[V]) setLeft(idx, v DataIndex) {
	binary.LittleEndian.PutUint32(t.arena.mutBlock(idx)[0:4], v)
}

func (t *RedBlackTree[V]) setRight(idx, v DataIndex) {
	binary.LittleEndian.PutUint32(t.arena.mutBlock(idx)[4:8], v)
}

func (t *RedBlackTree[V]) setParent(idx, v DataIndex) {
	if idx == NilIndex {
		return
	}
	binary.LittleEndian.PutUint32(t.arena.mutBlock(idx)[8:12], v)
}

func (t *RedBlackTree[V]) setColor(idx DataIndex, c uint8) {
	if idx == NilIndex {
		return
	}
	t.arena.mutBlock(idx)[12] = c
}

func (t *RedBlackTree[V]) value(idx DataIndex) V {
	return t.decode(t.arena.mustBlock(idx)[NodeHeaderSize:])
}

// Get returns the value stored at idx.
func (t *RedBlackTree[V]) Get(idx DataIndex) (V, error) {
	var zero V
	block, err := t.arena.Get(idx)
	if err != nil {
		return zero, err
	}
	if block[13] != t.payloadType {
		return zero, ErrWrongPayload
	}
	return t.decode(block[NodeHeaderSize:]), nil
}

// Update rewrites the payload of the node at idx in place. The new value must
// compare equal to the old one; use Remove and Insert to change a key.
func (t *RedBlackTree[V]) Update(idx DataIndex, v V) error {
	if _, err := t.Get(idx); err != nil {
		return err
	}
	v.Encode(t.arena.mutBlock(idx)[NodeHeaderSize:])
	return nil
}

// Insert links the node at idx, which must be an allocated block not linked into
// any tree, and writes v as its payload.
func (t *RedBlackTree[V]) Insert(idx DataIndex, v V) error {
	block, err := t.arena.GetMut(idx)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(block[0:4], NilIndex)
	binary.LittleEndian.PutUint32(block[4:8], NilIndex)
	binary.LittleEndian.PutUint32(block[8:12], NilIndex)
	block[12] = colorRed
	block[13] = t.payloadType
	block[14], block[15] = 0, 0
	v.Encode(block[NodeHeaderSize:])

	// BST descent
	parent := NilIndex
	cur := *t.root
	goLeft := false
	for cur != NilIndex {
		parent = cur
		goLeft = v.Compare(t.value(cur)) < 0
		if goLeft {
			cur = t.left(cur)
		} else {
			cur = t.right(cur)
		}
	}
	t.setParent(idx, parent)
	switch {
	case parent == NilIndex:
		*t.root = idx
	case goLeft:
		t.setLeft(parent, idx)
	default:
		t.setRight(parent, idx)
	}

	if t.max != nil && (*t.max == NilIndex || v.Compare(t.value(*t.max)) >= 0) {
		*t.max = idx
	}

	t.insertFixup(idx)
	return nil
}

func (t *RedBlackTree[V]) insertFixup(z DataIndex) {
	for t.isRed(t.parent(z)) {
		p := t.parent(z)
		g := t.parent(p)
		if p == t.left(g) {
			u := t.right(g)
			if t.isRed(u) {
				t.setColor(p, colorBlack)
				t.setColor(u, colorBlack)
				t.setColor(g, colorRed)
				z = g
				continue
			}
			if z == t.right(p) {
				z = p
				t.rotateLeft(z)
				p = t.parent(z)
			}
			t.setColor(p, colorBlack)
			t.setColor(g, colorRed)
			t.rotateRight(g)
		} else {
			u := t.left(g)
			if t.isRed(u) {
				t.setColor(p, colorBlack)
				t.setColor(u, colorBlack)
				t.setColor(g, colorRed)
				z = g
				continue
			}
			if z == t.left(p) {
				z = p
				t.rotateRight(z)
				p = t.parent(z)
			}
			t.setColor(p, colorBlack)
			t.setColor(g, colorRed)
			t.rotateLeft(g)
		}
	}
	t.setColor(*t.root, colorBlack)
}

// rotateLeft performs a left rotation around x.
//
//	  |              |
//	  x              y
//	 / \    =>      / \
//	a   y          x   c
//	   / \        / \
//	  b   c      a   b
func (t *RedBlackTree[V]) rotateLeft(x DataIndex) {
	y := t.right(x)
	b := t.left(y)
	t.setRight(x, b)
	t.setParent(b, x)
	t.replaceChild(t.parent(x), x, y)
	t.setLeft(y, x)
	t.setParent(x, y)
}

// rotateRight performs a right rotation around x.
//
//	    |          |
//	    x          y
//	   / \   =>   / \
//	  y   c      a   x
//	 / \            / \
//	a   b          b   c
func (t *RedBlackTree[V]) rotateRight(x DataIndex) {
	y := t.left(x)
	b := t.right(y)
	t.setLeft(x, b)
	t.setParent(b, x)
	t.replaceChild(t.parent(x), x, y)
	t.setRight(y, x)
	t.setParent(x, y)
}

// replaceChild makes newChild take oldChild's place under parent.
func (t *RedBlackTree[V]) replaceChild(parent, oldChild, newChild DataIndex) {
	t.setParent(newChild, parent)
	switch {
	case parent == NilIndex:
		*t.root = newChild
	case t.left(parent) == oldChild:
		t.setLeft(parent, newChild)
	default:
		t.setRight(parent, newChild)
	}
}

// Remove unlinks the node at idx. The block is not freed.
func (t *RedBlackTree[V]) Remove(idx DataIndex) error {
	if _, err := t.Get(idx); err != nil {
		return err
	}
	if !t.contains(idx) {
		return fmt.Errorf("%w: index %d is not linked", ErrInvalidIndex, idx)
	}

	if t.max != nil && *t.max == idx {
		*t.max = t.Predecessor(idx)
	}

	z := idx
	yColor := t.color(z)
	var x, xParent DataIndex

	switch {
	case t.left(z) == NilIndex:
		x = t.right(z)
		xParent = t.parent(z)
		t.replaceChild(t.parent(z), z, x)
	case t.right(z) == NilIndex:
		x = t.left(z)
		xParent = t.parent(z)
		t.replaceChild(t.parent(z), z, x)
	default:
		y := t.minFrom(t.right(z))
		yColor = t.color(y)
		x = t.right(y)
		if t.parent(y) == z {
			xParent = y
		} else {
			xParent = t.parent(y)
			t.replaceChild(t.parent(y), y, x)
			t.setRight(y, t.right(z))
			t.setParent(t.right(y), y)
		}
		t.replaceChild(t.parent(z), z, y)
		t.setLeft(y, t.left(z))
		t.setParent(t.left(y), y)
		t.setColor(y, t.color(z))
	}

	if yColor == colorBlack {
		t.removeFixup(x, xParent)
	}

	block := t.arena.mutBlock(idx)
	binary.LittleEndian.PutUint32(block[0:4], NilIndex)
	binary.LittleEndian.PutUint32(block[4:8], NilIndex)
	binary.LittleEndian.PutUint32(block[8:12], NilIndex)
	return nil
}

func (t *RedBlackTree[V]) removeFixup(x, p DataIndex) {
	for x != *t.root && !t.isRed(x) {
		if x == t.left(p) {
			w := t.right(p)
			if t.isRed(w) {
				t.setColor(w, colorBlack)
				t.setColor(p, colorRed)
				t.rotateLeft(p)
				w = t.right(p)
			}
			if !t.isRed(t.left(w)) && !t.isRed(t.right(w)) {
				t.setColor(w, colorRed)
				x = p
				p = t.parent(x)
				continue
			}
			if !t.isRed(t.right(w)) {
				t.setColor(t.left(w), colorBlack)
				t.setColor(w, colorRed)
				t.rotateRight(w)
				w = t.right(p)
			}
			t.setColor(w, t.color(p))
			t.setColor(p, colorBlack)
			t.setColor(t.right(w), colorBlack)
			t.rotateLeft(p)
			x = *t.root
		} else {
			w := t.left(p)
			if t.isRed(w) {
				t.setColor(w, colorBlack)
				t.setColor(p, colorRed)
				t.rotateRight(p)
				w = t.left(p)
			}
			if !t.isRed(t.left(w)) && !t.isRed(t.right(w)) {
				t.setColor(w, colorRed)
				x = p
				p = t.parent(x)
				continue
			}
			if !t.isRed(t.left(w)) {
				t.setColor(t.right(w), colorBlack)
				t.setColor(w, colorRed)
				t.rotateLeft(w)
				w = t.left(p)
			}
			t.setColor(w, t.color(p))
			t.setColor(p, colorBlack)
			t.setColor(t.left(w), colorBlack)
			t.rotateRight(p)
			x = *t.root
		}
	}
	t.setColor(x, colorBlack)
}

// contains reports whether idx is reachable from the root by walking parents.
func (t *RedBlackTree[V]) contains(idx DataIndex) bool {
	for cur := idx; cur != NilIndex; cur = t.parent(cur) {
		if cur == *t.root {
			return true
		}
	}
	return false
}

// Lookup returns the index of a node comparing equal to v, or NilIndex.
func (t *RedBlackTree[V]) Lookup(v V) DataIndex {
	return t.Search(func(node V) int {
		return v.Compare(node)
	})
}

// Search descends the tree guided by cmp, which returns negative to go left,
// positive to go right and zero when node is the target.
func (t *RedBlackTree[V]) Search(cmp func(node V) int) DataIndex {
	cur := *t.root
	for cur != NilIndex {
		c := cmp(t.value(cur))
		switch {
		case c == 0:
			return cur
		case c < 0:
			cur = t.left(cur)
		default:
			cur = t.right(cur)
		}
	}
	return NilIndex
}

// Min returns the index of the smallest node.
func (t *RedBlackTree[V]) Min() DataIndex {
	return t.minFrom(*t.root)
}

// Max returns the index of the largest node, served from the cache when the tree has one.
func (t *RedBlackTree[V]) Max() DataIndex {
	if t.max != nil {
		return *t.max
	}
	return t.maxFrom(*t.root)
}

func (t *RedBlackTree[V]) minFrom(idx DataIndex) DataIndex {
	if idx == NilIndex {
		return NilIndex
	}
	for l := t.left(idx); l != NilIndex; l = t.left(idx) {
		idx = l
	}
	return idx
}

func (t *RedBlackTree[V]) maxFrom(idx DataIndex) DataIndex {
	if idx == NilIndex {
		return NilIndex
	}
	for r := t.right(idx); r != NilIndex; r = t.right(idx) {
		idx = r
	}
	return idx
}

// Successor returns the in-order next node, or NilIndex.
func (t *RedBlackTree[V]) Successor(idx DataIndex) DataIndex {
	if r := t.right(idx); r != NilIndex {
		return t.minFrom(r)
	}
	p := t.parent(idx)
	for p != NilIndex && idx == t.right(p) {
		idx = p
		p = t.parent(p)
	}
	return p
}

// Predecessor returns the in-order previous node, or NilIndex.
func (t *RedBlackTree[V]) Predecessor(idx DataIndex) DataIndex {
	if l := t.left(idx); l != NilIndex {
		return t.maxFrom(l)
	}
	p := t.parent(idx)
	for p != NilIndex && idx == t.left(p) {
		idx = p
		p = t.parent(p)
	}
	return p
}

// Len counts the nodes. O(n).
func (t *RedBlackTree[V]) Len() int {
	n := 0
	for idx := t.Min(); idx != NilIndex; idx = t.Successor(idx) {
		n++
	}
	return n
}

// Descend calls fn from the largest node down until fn returns false.
func (t *RedBlackTree[V]) Descend(fn func(idx DataIndex, v V) bool) {
	for idx := t.Max(); idx != NilIndex; idx = t.Predecessor(idx) {
		if !fn(idx, t.value(idx)) {
			return
		}
	}
}

// Ascend calls fn from the smallest node up until fn returns false.
func (t *RedBlackTree[V]) Ascend(fn func(idx DataIndex, v V) bool) {
	for idx := t.Min(); idx != NilIndex; idx = t.Successor(idx) {
		if !fn(idx, t.value(idx)) {
			return
		}
	}
}

// Iterator walks a tree lazily. It is positioned before its first element;
// Reset restarts it. The tree must not be mutated while iterating, except
// that removing the node most recently returned is allowed.
type Iterator[V Value[V]] struct {
	tree       *RedBlackTree[V]
	next       DataIndex
	descending bool
}

// Iterator returns a best-first (descending) iterator.
func (t *RedBlackTree[V]) Iterator() *Iterator[V] {
	it := &Iterator[V]{tree: t, descending: true}
	it.Reset()
	return it
}

// AscendingIterator returns an iterator from the smallest node.
func (t *RedBlackTree[V]) AscendingIterator() *Iterator[V] {
	it := &Iterator[V]{tree: t}
	it.Reset()
	return it
}

// Reset positions the iterator before the first element again.
func (it *Iterator[V]) Reset() {
	if it.descending {
		it.next = it.tree.Max()
	} else {
		it.next = it.tree.Min()
	}
}

// Next returns the next (index, value) pair; ok is false when exhausted.
func (it *Iterator[V]) Next() (idx DataIndex, v V, ok bool) {
	if it.next == NilIndex {
		return NilIndex, v, false
	}
	idx = it.next
	v = it.tree.value(idx)
	if it.descending {
		it.next = it.tree.Predecessor(idx)
	} else {
		it.next = it.tree.Successor(idx)
	}
	return idx, v, true
}

// Verify checks the red-black properties, parent links, ordering and the cached max.
func (t *RedBlackTree[V]) Verify() error {
	root := *t.root
	if root == NilIndex {
		if t.max != nil && *t.max != NilIndex {
			return fmt.Errorf("%w: empty tree caches max %d", ErrInvariant, *t.max)
		}
		return nil
	}
	if t.parent(root) != NilIndex {
		return fmt.Errorf("%w: root has a parent", ErrInvariant)
	}
	if t.isRed(root) {
		return fmt.Errorf("%w: root is red", ErrInvariant)
	}
	if _, err := t.verify(root); err != nil {
		return err
	}

	prev := NilIndex
	for idx := t.Min(); idx != NilIndex; idx = t.Successor(idx) {
		if prev != NilIndex && t.value(prev).Compare(t.value(idx)) > 0 {
			return fmt.Errorf("%w: in-order sequence decreases at %d", ErrInvariant, idx)
		}
		prev = idx
	}
	if t.max != nil && *t.max != t.maxFrom(root) {
		return fmt.Errorf("%w: cached max %d, actual %d", ErrInvariant, *t.max, t.maxFrom(root))
	}
	return nil
}

func (t *RedBlackTree[V]) verify(idx DataIndex) (int, error) {
	if idx == NilIndex {
		return 1, nil
	}
	block, err := t.arena.Get(idx)
	if err != nil {
		return 0, err
	}
	if block[13] != t.payloadType {
		return 0, fmt.Errorf("%w: node %d has payload type %d", ErrInvariant, idx, block[13])
	}
	l, r := t.left(idx), t.right(idx)
	for _, child := range [2]DataIndex{l, r} {
		if child == NilIndex {
			continue
		}
		if t.parent(child) != idx {
			return 0, fmt.Errorf("%w: broken parent link at %d", ErrInvariant, child)
		}
		if t.isRed(idx) && t.isRed(child) {
			return 0, fmt.Errorf("%w: red node %d has red child %d", ErrInvariant, idx, child)
		}
	}
	lh, err := t.verify(l)
	if err != nil {
		return 0, err
	}
	rh, err := t.verify(r)
	if err != nil {
		return 0, err
	}
	if lh != rh {
		return 0, fmt.Errorf("%w: black height differs under %d", ErrInvariant, idx)
	}
	if !t.isRed(idx) {
		lh++
	}
	return lh, nil
}
