package btree

import (
	"fmt"

	"learnql/pkg/config"
	"learnql/pkg/dberr"
	"learnql/pkg/page"
	"learnql/pkg/storage"
)

// Pair is a single (key, value) entry, returned by the whole-tree and
// range scans.
type Pair[K Comparable[K], V any] struct {
	Key   K
	Value V
}

// Tree is a B+Tree of fixed order config.BTreeOrder, stored as a chain
// of pages in a shared storage.Engine and identified by the page id of
// its root (spec §3, §4.4). Unlike the teacher's BTreeIndex, a Tree does
// not own its own pager or file: many Trees share one Engine, and a
// Tree's root page id is tracked by its owner (a table or index), not by
// a fixed page number.
type Tree[K Comparable[K], V any] struct {
	engine *storage.Engine
	cache  *nodeCache[K, V]
	root   uint64
	encKey EncodeFunc[K]
	decKey DecodeFunc[K]
	encVal EncodeFunc[V]
	decVal DecodeFunc[V]
}

// Open returns a Tree rooted at rootPageID. If rootPageID is 0, a fresh
// empty leaf root page is allocated and its id returned via RootPageID.
// It uses config.DefaultNodeCacheSize entries for the tree's own node
// cache; see OpenWithNodeCacheSize to override it.
func Open[K Comparable[K], V any](engine *storage.Engine, rootPageID uint64, encKey EncodeFunc[K], decKey DecodeFunc[K], encVal EncodeFunc[V], decVal DecodeFunc[V]) (*Tree[K, V], error) {
	return OpenWithNodeCacheSize(engine, rootPageID, encKey, decKey, encVal, decVal, config.DefaultNodeCacheSize)
}

// OpenWithNodeCacheSize is Open with an explicit bound on the tree's
// node cache (spec §4.4 "bounded (default 32)").
func OpenWithNodeCacheSize[K Comparable[K], V any](engine *storage.Engine, rootPageID uint64, encKey EncodeFunc[K], decKey DecodeFunc[K], encVal EncodeFunc[V], decVal DecodeFunc[V], nodeCacheSize int) (*Tree[K, V], error) {
	t := &Tree[K, V]{engine: engine, root: rootPageID, encKey: encKey, decKey: decKey, encVal: encVal, decVal: decVal}
	t.cache = newNodeCache[K, V](engine, encKey, encVal, nodeCacheSize)
	if rootPageID == 0 {
		id, err := engine.Allocate(page.TypeIndex)
		if err != nil {
			return nil, err
		}
		t.root = id
		if err := writeNode(t, &node[K, V]{pageID: id, isLeaf: true}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// RootPageID returns the current root page id. It can change after
// Insert or Remove causes the root to split or be promoted; callers that
// persist a tree's root externally (e.g. in a catalog record) must
// re-read it after every mutation.
func (t *Tree[K, V]) RootPageID() uint64 { return t.root }

// Flush writes every dirty node in t's node cache to its page, then
// flushes the underlying storage engine (spec §4.4 "write every cached
// dirty node and call storage flush_all").
func (t *Tree[K, V]) Flush() error {
	if err := t.cache.flushAll(); err != nil {
		return err
	}
	return t.engine.FlushAll()
}

// Find returns the value associated with key, or ok=false if key is not
// present.
func (t *Tree[K, V]) Find(key K) (value V, ok bool, err error) {
	n, err := t.findLeaf(key)
	if err != nil {
		return value, false, err
	}
	idx := lowerBound(n.keys, key)
	if idx < len(n.keys) && n.keys[idx].CompareTo(key) == 0 {
		return n.values[idx], true, nil
	}
	return value, false, nil
}

// Contains reports whether key is present in the tree.
func (t *Tree[K, V]) Contains(key K) (bool, error) {
	_, ok, err := t.Find(key)
	return ok, err
}

func (t *Tree[K, V]) findLeaf(key K) (*node[K, V], error) {
	pageID := t.root
	for {
		n, err := readNode(t, pageID)
		if err != nil {
			return nil, err
		}
		if n.isLeaf {
			return n, nil
		}
		pageID = n.children[childIndex(n.keys, key)]
	}
}

func (t *Tree[K, V]) leftmostLeaf() (*node[K, V], error) {
	pageID := t.root
	for {
		n, err := readNode(t, pageID)
		if err != nil {
			return nil, err
		}
		if n.isLeaf {
			return n, nil
		}
		pageID = n.children[0]
	}
}

// splitResult describes a child page that split during insertion: key is
// the separator pushed (internal split) or copied (leaf split) up to the
// parent, leftPage is the original page id (now holding the left half),
// and rightPage is a freshly allocated page holding the right half.
type splitResult[K any] struct {
	happened  bool
	key       K
	leftPage  uint64
	rightPage uint64
}

// Insert adds key/value to the tree, returning dberr.DuplicateKey if key
// is already present.
func (t *Tree[K, V]) Insert(key K, value V) error {
	return t.put(key, value, false)
}

// Update overwrites the value for an existing key, returning
// dberr.NotFound if key is not present.
func (t *Tree[K, V]) Update(key K, value V) error {
	return t.put(key, value, true)
}

func (t *Tree[K, V]) put(key K, value V, update bool) error {
	split, err := t.insert(t.root, key, value, update)
	if err != nil {
		return err
	}
	if split.happened {
		return t.growRoot(split)
	}
	return nil
}

func (t *Tree[K, V]) insert(pageID uint64, key K, value V, update bool) (splitResult[K], error) {
	n, err := readNode(t, pageID)
	if err != nil {
		return splitResult[K]{}, err
	}
	if n.isLeaf {
		return t.insertLeaf(n, key, value, update)
	}
	idx := childIndex(n.keys, key)
	childSplit, err := t.insert(n.children[idx], key, value, update)
	if err != nil {
		return splitResult[K]{}, err
	}
	if !childSplit.happened {
		return splitResult[K]{}, nil
	}
	return t.insertInternal(n, idx, childSplit)
}

func (t *Tree[K, V]) insertLeaf(n *node[K, V], key K, value V, update bool) (splitResult[K], error) {
	idx := lowerBound(n.keys, key)
	found := idx < len(n.keys) && n.keys[idx].CompareTo(key) == 0
	switch {
	case found && update:
		n.values[idx] = value
	case found && !update:
		return splitResult[K]{}, fmt.Errorf("btree: key already present: %w", dberr.DuplicateKey)
	case !found && update:
		return splitResult[K]{}, fmt.Errorf("btree: key not found: %w", dberr.NotFound)
	default:
		n.keys = append(n.keys, key)
		n.values = append(n.values, value)
		copy(n.keys[idx+1:], n.keys[idx:len(n.keys)-1])
		copy(n.values[idx+1:], n.values[idx:len(n.values)-1])
		n.keys[idx] = key
		n.values[idx] = value
	}
	if len(n.keys) <= config.MaxKeys {
		return splitResult[K]{}, t.save(n)
	}
	return t.splitLeaf(n)
}

func (t *Tree[K, V]) splitLeaf(n *node[K, V]) (splitResult[K], error) {
	rightID, err := t.engine.Allocate(page.TypeIndex)
	if err != nil {
		return splitResult[K]{}, err
	}
	mid := len(n.keys) / 2
	right := &node[K, V]{
		pageID:   rightID,
		isLeaf:   true,
		prevLeaf: n.pageID,
		nextLeaf: n.nextLeaf,
		keys:     append([]K{}, n.keys[mid:]...),
		values:   append([]V{}, n.values[mid:]...),
	}
	oldNext := n.nextLeaf
	n.keys = n.keys[:mid]
	n.values = n.values[:mid]
	n.nextLeaf = rightID
	if err := t.save(right); err != nil {
		return splitResult[K]{}, err
	}
	if oldNext != 0 {
		next, err := readNode(t, oldNext)
		if err != nil {
			return splitResult[K]{}, err
		}
		next.prevLeaf = rightID
		if err := t.save(next); err != nil {
			return splitResult[K]{}, err
		}
	}
	if err := t.save(n); err != nil {
		return splitResult[K]{}, err
	}
	return splitResult[K]{happened: true, key: right.keys[0], leftPage: n.pageID, rightPage: rightID}, nil
}

func (t *Tree[K, V]) insertInternal(n *node[K, V], childIdx int, split splitResult[K]) (splitResult[K], error) {
	n.keys = append(n.keys, split.key)
	copy(n.keys[childIdx+1:], n.keys[childIdx:len(n.keys)-1])
	n.keys[childIdx] = split.key

	n.children = append(n.children, 0)
	copy(n.children[childIdx+2:], n.children[childIdx+1:len(n.children)-1])
	n.children[childIdx] = split.leftPage
	n.children[childIdx+1] = split.rightPage

	if len(n.keys) <= config.MaxKeys {
		return splitResult[K]{}, t.save(n)
	}
	return t.splitInternal(n)
}

func (t *Tree[K, V]) splitInternal(n *node[K, V]) (splitResult[K], error) {
	rightID, err := t.engine.Allocate(page.TypeIndex)
	if err != nil {
		return splitResult[K]{}, err
	}
	mid := len(n.keys) / 2
	promoted := n.keys[mid]
	right := &node[K, V]{
		pageID:   rightID,
		isLeaf:   false,
		keys:     append([]K{}, n.keys[mid+1:]...),
		children: append([]uint64{}, n.children[mid+1:]...),
	}
	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]
	if err := t.save(right); err != nil {
		return splitResult[K]{}, err
	}
	if err := t.save(n); err != nil {
		return splitResult[K]{}, err
	}
	return splitResult[K]{happened: true, key: promoted, leftPage: n.pageID, rightPage: rightID}, nil
}

func (t *Tree[K, V]) growRoot(split splitResult[K]) error {
	newRootID, err := t.engine.Allocate(page.TypeIndex)
	if err != nil {
		return err
	}
	newRoot := &node[K, V]{
		pageID:   newRootID,
		isLeaf:   false,
		keys:     []K{split.key},
		children: []uint64{split.leftPage, split.rightPage},
	}
	if err := t.save(newRoot); err != nil {
		return err
	}
	t.root = newRootID
	return nil
}

// Remove deletes key from the tree, reporting whether it was present.
// Removal only ever touches the leaf holding the key: internal
// separators are never rebalanced (spec §4.4 "no rebalance on delete").
func (t *Tree[K, V]) Remove(key K) (bool, error) {
	removed, err := t.remove(t.root, key)
	if err != nil || !removed {
		return removed, err
	}
	if err := t.maybePromoteRoot(); err != nil {
		return true, err
	}
	return true, nil
}

func (t *Tree[K, V]) remove(pageID uint64, key K) (bool, error) {
	n, err := readNode(t, pageID)
	if err != nil {
		return false, err
	}
	if n.isLeaf {
		idx := lowerBound(n.keys, key)
		if idx >= len(n.keys) || n.keys[idx].CompareTo(key) != 0 {
			return false, nil
		}
		n.keys = append(n.keys[:idx], n.keys[idx+1:]...)
		n.values = append(n.values[:idx], n.values[idx+1:]...)
		return true, t.save(n)
	}
	idx := childIndex(n.keys, key)
	return t.remove(n.children[idx], key)
}

// maybePromoteRoot replaces the root with its sole child if the root is
// an internal node left with no separator keys, and deallocates the old
// root page (spec §4.4 "promote its first child to root and deallocate
// the old root"). The node cache must not go on serving the old root's
// decoded form once its page id is freed, since a later allocate may
// hand that id to an unrelated node (spec §4.4's cache-invalidation
// requirement).
func (t *Tree[K, V]) maybePromoteRoot() error {
	n, err := readNode(t, t.root)
	if err != nil {
		return err
	}
	if !n.isLeaf && len(n.keys) == 0 {
		oldRoot := t.root
		t.root = n.children[0]
		t.cache.invalidate(oldRoot)
		if err := t.engine.Deallocate(oldRoot); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree[K, V]) save(n *node[K, V]) error {
	return writeNode(t, n)
}

// All returns every (key, value) pair in the tree, in ascending key order.
func (t *Tree[K, V]) All() ([]Pair[K, V], error) {
	var out []Pair[K, V]
	n, err := t.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	for n != nil {
		for i := range n.keys {
			out = append(out, Pair[K, V]{Key: n.keys[i], Value: n.values[i]})
		}
		if n.nextLeaf == 0 {
			break
		}
		n, err = readNode(t, n.nextLeaf)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Size returns the number of entries currently stored in the tree.
func (t *Tree[K, V]) Size() (int64, error) {
	var n int64
	leaf, err := t.leftmostLeaf()
	if err != nil {
		return 0, err
	}
	for leaf != nil {
		n += int64(len(leaf.keys))
		if leaf.nextLeaf == 0 {
			break
		}
		leaf, err = readNode(t, leaf.nextLeaf)
		if err != nil {
			return 0, err
		}
	}
	return n, nil
}

// Range returns every pair with key in [lo, hi], inclusive of both ends.
func (t *Tree[K, V]) Range(lo, hi K) ([]Pair[K, V], error) {
	if lo.CompareTo(hi) > 0 {
		return nil, fmt.Errorf("btree: range lo must be <= hi: %w", dberr.InvalidArgument)
	}
	var out []Pair[K, V]
	n, err := t.findLeaf(lo)
	if err != nil {
		return nil, err
	}
	for n != nil {
		for i := range n.keys {
			if n.keys[i].CompareTo(lo) < 0 {
				continue
			}
			if n.keys[i].CompareTo(hi) > 0 {
				return out, nil
			}
			out = append(out, Pair[K, V]{Key: n.keys[i], Value: n.values[i]})
		}
		if n.nextLeaf == 0 {
			break
		}
		n, err = readNode(t, n.nextLeaf)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AllPageIDs returns every page id currently occupied by this tree's
// nodes, found by a structural walk from the root. Table.clear and
// Database.DropTable use this to sweep a tree's pages before discarding
// it (spec §9's recommended structural sweep).
func (t *Tree[K, V]) AllPageIDs() ([]uint64, error) {
	var ids []uint64
	var walk func(pageID uint64) error
	walk = func(pageID uint64) error {
		n, err := readNode(t, pageID)
		if err != nil {
			return err
		}
		ids = append(ids, pageID)
		if n.isLeaf {
			return nil
		}
		for _, child := range n.children {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(t.root); err != nil {
		return nil, err
	}
	return ids, nil
}

// Stats reports basic shape information about the tree, mirroring the
// teacher's verify/debug helpers used by cmd/learnql-inspect.
type Stats struct {
	Height  int
	Leaves  int
	Entries int64
}

// Stats walks the tree and reports its shape.
func (t *Tree[K, V]) Stats() (Stats, error) {
	height := 0
	pageID := t.root
	for {
		n, err := readNode(t, pageID)
		if err != nil {
			return Stats{}, err
		}
		height++
		if n.isLeaf {
			break
		}
		pageID = n.children[0]
	}
	leaves := 0
	entries := int64(0)
	leaf, err := t.leftmostLeaf()
	if err != nil {
		return Stats{}, err
	}
	for leaf != nil {
		leaves++
		entries += int64(len(leaf.keys))
		if leaf.nextLeaf == 0 {
			break
		}
		leaf, err = readNode(t, leaf.nextLeaf)
		if err != nil {
			return Stats{}, err
		}
	}
	return Stats{Height: height, Leaves: leaves, Entries: entries}, nil
}
