package btree

import (
	"learnql/pkg/config"
	"learnql/pkg/list"
	"learnql/pkg/storage"
)

// nodeCache is a bounded, dirty-tracking cache of decoded nodes, kept
// separate from the storage engine's own page cache (spec §4.4): the
// engine caches raw page bytes behind Read/Write, while this cache holds
// already-decoded nodes so a hot descent (repeated findLeaf/childIndex
// calls down the same root-to-leaf path) skips re-parsing the page
// payload on every hop. It mirrors the engine's own cache shape (a
// bounded map plus an LRU list.List, dirty tracked separately) rather
// than introducing a new eviction policy.
type nodeCache[K Comparable[K], V any] struct {
	engine *storage.Engine
	encKey EncodeFunc[K]
	encVal EncodeFunc[V]

	cap       int
	nodes     map[uint64]*node[K, V]
	order     *list.List[uint64]
	orderLink map[uint64]*list.Link[uint64]
	dirty     map[uint64]bool
}

func newNodeCache[K Comparable[K], V any](engine *storage.Engine, encKey EncodeFunc[K], encVal EncodeFunc[V], capacity int) *nodeCache[K, V] {
	if capacity <= 0 {
		capacity = config.DefaultNodeCacheSize
	}
	return &nodeCache[K, V]{
		engine:    engine,
		encKey:    encKey,
		encVal:    encVal,
		cap:       capacity,
		nodes:     make(map[uint64]*node[K, V], capacity),
		order:     list.New[uint64](),
		orderLink: make(map[uint64]*list.Link[uint64], capacity),
		dirty:     make(map[uint64]bool, capacity),
	}
}

// get returns the cached node for pageID, touching it as most-recently
// used, or ok=false on a miss.
func (c *nodeCache[K, V]) get(pageID uint64) (*node[K, V], bool) {
	n, ok := c.nodes[pageID]
	if !ok {
		return nil, false
	}
	c.touch(pageID)
	return n, true
}

// put inserts or replaces the cached node for pageID, marking it dirty
// when dirty is true, and evicts the least-recently-used clean entry
// (flushing the oldest dirty one first if every resident entry is dirty)
// when the cache is at capacity.
func (c *nodeCache[K, V]) put(pageID uint64, n *node[K, V], dirty bool) error {
	if _, ok := c.nodes[pageID]; ok {
		c.nodes[pageID] = n
		if dirty {
			c.dirty[pageID] = true
		}
		c.touch(pageID)
		return nil
	}
	if len(c.nodes) >= c.cap {
		if err := c.evictOne(); err != nil {
			return err
		}
	}
	c.nodes[pageID] = n
	if dirty {
		c.dirty[pageID] = true
	}
	c.orderLink[pageID] = c.order.PushTail(pageID)
	return nil
}

func (c *nodeCache[K, V]) touch(pageID uint64) {
	link, ok := c.orderLink[pageID]
	if !ok {
		return
	}
	link.PopSelf()
	c.orderLink[pageID] = c.order.PushTail(pageID)
}

func (c *nodeCache[K, V]) evictOne() error {
	victim := uint64(0)
	found := false
	for link := c.order.PeekHead(); link != nil; link = link.Next() {
		id := link.Value()
		if !c.dirty[id] {
			victim = id
			found = true
			break
		}
	}
	if !found {
		victim = c.order.PeekHead().Value()
		if err := c.flushOne(victim); err != nil {
			return err
		}
	}
	c.orderLink[victim].PopSelf()
	delete(c.orderLink, victim)
	delete(c.nodes, victim)
	delete(c.dirty, victim)
	return nil
}

func (c *nodeCache[K, V]) flushOne(pageID uint64) error {
	n, ok := c.nodes[pageID]
	if !ok || !c.dirty[pageID] {
		return nil
	}
	if err := encodeNode(c.engine, n, c.encKey, c.encVal); err != nil {
		return err
	}
	delete(c.dirty, pageID)
	return nil
}

// flushAll serializes every dirty node to its page, leaving the cache's
// contents resident but clean.
func (c *nodeCache[K, V]) flushAll() error {
	for pageID := range c.dirty {
		if err := c.flushOne(pageID); err != nil {
			return err
		}
	}
	return nil
}

// invalidate drops pageID from the cache without flushing it, since the
// page it names has been deallocated and may be reassigned to an
// unrelated node by a later allocate. The tree must never hand back a
// stale cached decode for a page id it no longer owns (spec §4.4).
func (c *nodeCache[K, V]) invalidate(pageID uint64) {
	link, ok := c.orderLink[pageID]
	if !ok {
		return
	}
	link.PopSelf()
	delete(c.orderLink, pageID)
	delete(c.nodes, pageID)
	delete(c.dirty, pageID)
}
