package bptree

import (
	"github.com/coursedb/indexlayer/buffer"
	"github.com/coursedb/indexlayer/common"
)

// Iterator walks the leaf chain in key order. It holds at most one
// leaf read-latched at a time, advancing to the next leaf via
// next_page_id once the current one is exhausted.
type Iterator struct {
	tree  *Tree
	raw   *buffer.Page
	leaf  *leafPage
	index int
}

// Begin returns an iterator positioned at the first key in the tree.
func (t *Tree) Begin() (*Iterator, error) {
	return t.newIterator(GenericKey{}, true)
}

// BeginAt returns an iterator positioned at the first key >= key.
func (t *Tree) BeginAt(key GenericKey) (*Iterator, error) {
	return t.newIterator(key, false)
}

func (t *Tree) newIterator(key GenericKey, leftMost bool) (*Iterator, error) {
	txn := NewTransaction()
	leaf, err := t.findLeafPage(key, leftMost, opRead, txn)
	if err != nil {
		_ = t.finish(txn, false)
		return nil, err
	}
	if leaf == nil {
		return &Iterator{tree: t}, t.finish(txn, false)
	}

	t.releaseRootLatch(txn)

	index := 0
	if !leftMost {
		index = leaf.KeyIndex(key, t.cmp)
	}

	raw := txn.take()
	it := &Iterator{tree: t, raw: raw, leaf: leaf, index: index}
	if index >= leaf.Size() && leaf.Size() > 0 {
		// key sorts after every entry of the leaf it routed to; the first
		// key >= key, if any, is the first entry of the next leaf.
		it.index = leaf.Size() - 1
		if err := it.Next(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

// IsEnd reports whether the iterator has exhausted the leaf chain (or
// found no matching start, in the case of BeginAt on an empty tree or
// a key with no successor).
func (it *Iterator) IsEnd() bool {
	return it.leaf == nil || it.index >= it.leaf.Size()
}

// Key returns the key at the iterator's current position. Undefined
// once IsEnd is true.
func (it *Iterator) Key() GenericKey { return it.leaf.KeyAt(it.index) }

// Value returns the record identifier at the iterator's current
// position. Undefined once IsEnd is true.
func (it *Iterator) Value() common.RID { return it.leaf.ValueAt(it.index) }

// Next advances the iterator by one entry, crossing into the next leaf
// (and releasing the one just finished) when the current leaf is
// exhausted. Calling Next once IsEnd is already true is a no-op.
func (it *Iterator) Next() error {
	if it.IsEnd() {
		return nil
	}
	it.index++
	if it.index < it.leaf.Size() {
		return nil
	}

	nextID := it.leaf.NextPageID()
	if err := it.releaseCurrent(); err != nil {
		return err
	}
	if nextID == common.InvalidPageID {
		it.leaf = nil
		return nil
	}

	raw, err := it.tree.bpm.FetchPage(nextID)
	if err != nil {
		return err
	}
	raw.RLatch()
	it.raw = raw
	it.leaf = newLeafPage(raw)
	it.index = 0
	return nil
}

// Close releases the iterator's currently held leaf, if any. Callers
// that do not drive an iterator to IsEnd must call Close to avoid
// leaking a pin.
func (it *Iterator) Close() error {
	if it.leaf == nil {
		return nil
	}
	err := it.releaseCurrent()
	it.leaf = nil
	return err
}

func (it *Iterator) releaseCurrent() error {
	it.raw.RUnlatch()
	err := it.tree.bpm.UnpinPage(it.raw.ID(), false)
	it.raw = nil
	return err
}
