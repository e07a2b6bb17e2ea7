package btree

import "learnql/pkg/config"

// BatchCursor walks a Tree's leaf chain from left to right, yielding
// fixed-size batches of entries rather than materializing the whole tree
// at once (spec §4.5). It generalizes the teacher's BTreeCursor, which
// advanced one entry at a time, to the batched shape spec §4.5 asks for.
type BatchCursor[K Comparable[K], V any] struct {
	tree      *Tree[K, V]
	leaf      *node[K, V]
	index     int
	batchSize int
	done      bool
}

// Cursor returns a BatchCursor positioned at the first entry of the tree,
// using config.DefaultCursorBatchSize as its batch size.
func (t *Tree[K, V]) Cursor() (*BatchCursor[K, V], error) {
	return t.CursorWithBatchSize(config.DefaultCursorBatchSize)
}

// CursorWithBatchSize returns a BatchCursor positioned at the first entry
// of the tree, yielding up to batchSize entries per Next call.
func (t *Tree[K, V]) CursorWithBatchSize(batchSize int) (*BatchCursor[K, V], error) {
	leaf, err := t.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	return &BatchCursor[K, V]{tree: t, leaf: leaf, batchSize: batchSize}, nil
}

// Next returns the next batch of entries, advancing past them. It
// returns an empty (nil) slice once the tree is exhausted.
func (c *BatchCursor[K, V]) Next() ([]Pair[K, V], error) {
	if c.done {
		return nil, nil
	}
	var batch []Pair[K, V]
	for len(batch) < c.batchSize {
		if c.leaf == nil {
			c.done = true
			break
		}
		if c.index >= len(c.leaf.keys) {
			if c.leaf.nextLeaf == 0 {
				c.done = true
				break
			}
			next, err := readNode(c.tree, c.leaf.nextLeaf)
			if err != nil {
				return nil, err
			}
			c.leaf = next
			c.index = 0
			continue
		}
		batch = append(batch, Pair[K, V]{Key: c.leaf.keys[c.index], Value: c.leaf.values[c.index]})
		c.index++
	}
	return batch, nil
}

// Done reports whether the cursor has yielded every entry in the tree.
func (c *BatchCursor[K, V]) Done() bool { return c.done }

// Reset returns the cursor to the leftmost leaf, so a subsequent Next
// call yields the tree's first batch again (spec §4.5).
func (c *BatchCursor[K, V]) Reset() error {
	leaf, err := c.tree.leftmostLeaf()
	if err != nil {
		return err
	}
	c.leaf = leaf
	c.index = 0
	c.done = false
	return nil
}
