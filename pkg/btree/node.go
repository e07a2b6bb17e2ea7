// Package btree implements the generic B+Tree (spec §3, §4.4, §4.5): a
// fixed-order tree of leaf and internal pages backed by a shared
// storage.Engine, with entries encoded and decoded through
// caller-supplied codec functions rather than an interface on K and V.
// It generalizes the teacher's pkg/btree, which hardcoded an
// (int64, int64) entry.Entry and one pager per tree, into a tree over
// any self-ordering key type and any value type, multiplexed by root
// page id over one shared file.
package btree

import (
	"fmt"

	"learnql/pkg/codec"
	"learnql/pkg/config"
	"learnql/pkg/dberr"
	"learnql/pkg/page"
	"learnql/pkg/storage"
)

// Comparable is the ordering constraint every B+Tree key type must
// satisfy: CompareTo returns a value <0, 0, or >0 as the receiver is
// less than, equal to, or greater than other.
type Comparable[T any] interface {
	CompareTo(T) int
}

// EncodeFunc appends a value's wire representation to w.
type EncodeFunc[T any] func(w *codec.Writer, v T)

// DecodeFunc reads a value previously written by the matching EncodeFunc.
type DecodeFunc[T any] func(r *codec.Reader) (T, error)

// node is the decoded in-memory form of one B+Tree page. Leaf nodes carry
// values and sibling links in both directions; internal nodes carry
// children.
type node[K Comparable[K], V any] struct {
	pageID   uint64
	isLeaf   bool
	prevLeaf uint64
	nextLeaf uint64
	keys     []K
	values   []V
	children []uint64
}

// readNode returns the node at pageID, preferring t's node cache over a
// fresh disk decode (spec §4.4's C4 node cache, distinct from the
// storage engine's own page cache).
func readNode[K Comparable[K], V any](t *Tree[K, V], pageID uint64) (*node[K, V], error) {
	if n, ok := t.cache.get(pageID); ok {
		return n, nil
	}
	n, err := decodeNode(t.engine, pageID, t.decKey, t.decVal)
	if err != nil {
		return nil, err
	}
	if err := t.cache.put(pageID, n, false); err != nil {
		return nil, err
	}
	return n, nil
}

func decodeNode[K Comparable[K], V any](engine *storage.Engine, pageID uint64, decKey DecodeFunc[K], decVal DecodeFunc[V]) (*node[K, V], error) {
	p, err := engine.Read(pageID)
	if err != nil {
		return nil, err
	}
	r := codec.NewReader(p.Payload())
	onDiskID, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	isLeaf, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	nextLeaf, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	prevLeaf, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	numKeys, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if onDiskID != pageID {
		return nil, fmt.Errorf("btree: node page_id %d stored in page %d: %w", onDiskID, pageID, dberr.CorruptPage)
	}
	n := &node[K, V]{pageID: pageID, isLeaf: isLeaf, prevLeaf: prevLeaf, nextLeaf: nextLeaf}
	n.keys = make([]K, numKeys)
	for i := range n.keys {
		if n.keys[i], err = decKey(r); err != nil {
			return nil, err
		}
	}
	if isLeaf {
		numValues, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		n.values = make([]V, numValues)
		for i := range n.values {
			if n.values[i], err = decVal(r); err != nil {
				return nil, err
			}
		}
		return n, nil
	}
	numChildren, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	n.children = make([]uint64, numChildren)
	for i := range n.children {
		if n.children[i], err = r.ReadUint64(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// writeNode marks n dirty in t's node cache. The node reaches disk when
// the cache evicts it or the tree is flushed (spec §4.4 "dirty nodes
// serialize to their page on eviction or flush").
func writeNode[K Comparable[K], V any](t *Tree[K, V], n *node[K, V]) error {
	return t.cache.put(n.pageID, n, true)
}

// encodeNode serializes n and writes it straight to its page via engine,
// bypassing the node cache. It is the node cache's own flush/eviction
// path.
func encodeNode[K Comparable[K], V any](engine *storage.Engine, n *node[K, V], encKey EncodeFunc[K], encVal EncodeFunc[V]) error {
	w := codec.NewWriter(int(config.PagePayloadSize))
	w.WriteUint64(n.pageID)
	w.WriteBool(n.isLeaf)
	w.WriteUint64(n.nextLeaf)
	w.WriteUint64(n.prevLeaf)
	w.WriteUint32(uint32(len(n.keys)))
	for _, k := range n.keys {
		encKey(w, k)
	}
	if n.isLeaf {
		w.WriteUint32(uint32(len(n.values)))
		for _, v := range n.values {
			encVal(w, v)
		}
	} else {
		w.WriteUint32(uint32(len(n.children)))
		for _, c := range n.children {
			w.WriteUint64(c)
		}
	}
	buf := w.Bytes()
	if int64(len(buf)) > config.PagePayloadSize {
		return fmt.Errorf("btree: node %d serializes to %d bytes, page holds %d: %w", n.pageID, len(buf), config.PagePayloadSize, dberr.NodeTooLarge)
	}
	p, err := engine.Read(n.pageID)
	if err != nil {
		return err
	}
	typ := page.TypeIndex
	p.SetType(typ)
	p.SetRecordCount(uint16(len(n.keys)))
	p.SetFreeSpaceOffset(config.PageHeaderSize + int64(len(buf)))
	if err := p.WriteData(0, buf); err != nil {
		return err
	}
	return engine.Write(n.pageID, p)
}

// lowerBound returns the smallest index i such that keys[i] >= key, or
// len(keys) if no such index exists.
func lowerBound[K Comparable[K]](keys []K, key K) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid].CompareTo(key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// childIndex returns the index of the child of an internal node that
// covers key: the number of separator keys that are <= key.
func childIndex[K Comparable[K]](keys []K, key K) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid].CompareTo(key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
