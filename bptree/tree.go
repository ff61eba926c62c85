// Package bptree implements a concurrent, disk-oriented B+ tree index:
// ordered keys routed through internal separator pages down to leaf
// pages linked in key order, with latch crabbing down the search path
// and split/coalesce/redistribute maintaining the size invariants on
// structural change. It mirrors a CMU-style storage course's
// b_plus_tree.cpp/b_plus_tree_internal_page.cpp almost line for line in
// control flow, adapted to Go's explicit error returns and to a single
// root-latch acquisition per operation in place of the source's
// thread-local reentrant lock count.
package bptree

import (
	"fmt"
	"sync"

	"github.com/krotik/common/logutil"

	"github.com/coursedb/indexlayer/buffer"
	"github.com/coursedb/indexlayer/common"
)

var log = logutil.GetLogger("bptree")

type operationType int

const (
	opRead operationType = iota
	opInsert
	opDelete
)

// isSafe reports whether a page proven to hold this latch will not
// need further structural work for op, and so every ancestor latch
// held only as a stepping stone to reach it can be released.
func isSafe(tp treePage, op operationType) bool {
	switch op {
	case opRead:
		return true
	case opInsert:
		return tp.Size() < tp.MaxSize()
	case opDelete:
		if tp.IsRootPage() {
			// The root is exempt from MinSize. A leaf root is always
			// safe (an empty root leaf is handled by adjustRoot, not by
			// crabbing). An internal root is safe once it will still
			// have at least two children after the pending removal.
			if tp.IsInternalPage() {
				return tp.Size() > 2
			}
			return true
		}
		return tp.Size() > tp.MinSize()
	}
	return true
}

// Tree is a single named B+ tree index sharing a buffer pool (and its
// header page) with any other indexes registered against the same
// Manager.
type Tree struct {
	name string
	bpm  *buffer.Manager
	cmp  KeyComparator

	rootMu     sync.RWMutex
	rootPageID common.PageID
}

// NewTree opens (or creates, if never registered) the named index.
func NewTree(name string, bpm *buffer.Manager, cmp KeyComparator) (*Tree, error) {
	hp, err := fetchHeaderPage(bpm)
	if err != nil {
		return nil, err
	}
	rootID := hp.GetRootPageID(name)
	if err := bpm.UnpinPage(common.HeaderPageID, false); err != nil {
		return nil, err
	}
	return &Tree{name: name, bpm: bpm, cmp: cmp, rootPageID: rootID}, nil
}

// Name returns the index's registered name.
func (t *Tree) Name() string { return t.name }

// IsEmpty reports whether the tree currently has no root page.
func (t *Tree) IsEmpty() bool {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()
	return t.rootPageID == common.InvalidPageID
}

// RootPageID returns the tree's current root page id, for tests and
// diagnostics. Callers must not rely on it staying current past the
// call under concurrent modification.
func (t *Tree) RootPageID() common.PageID {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()
	return t.rootPageID
}

// releaseRootLatch releases the tree-level root latch exactly once,
// whenever it is still held on txn; a no-op otherwise. Pairing every
// acquisition with a single release call, rather than a counted
// reentrant lock, is this package's resolution of the thread-local
// root-lock-count pattern in the source material.
func (t *Tree) releaseRootLatch(txn *Transaction) {
	if !txn.rootLatchHeld {
		return
	}
	if txn.rootLatchExclusive {
		t.rootMu.Unlock()
	} else {
		t.rootMu.RUnlock()
	}
	txn.rootLatchHeld = false
}

// finish releases any still-held root latch and drains every remaining
// latched/pinned page in txn. Call exactly once per top-level
// operation, on every exit path.
func (t *Tree) finish(txn *Transaction, exclusive bool) error {
	t.releaseRootLatch(txn)
	return txn.drain(t.bpm, exclusive)
}

/*****************************************************************************
 * SEARCH
 *****************************************************************************/

// GetValue returns the value associated with key, if any.
func (t *Tree) GetValue(key GenericKey) (common.RID, bool, error) {
	txn := NewTransaction()
	leaf, err := t.findLeafPage(key, false, opRead, txn)
	if err != nil {
		_ = t.finish(txn, false)
		return common.RID{}, false, err
	}
	if leaf == nil {
		return common.RID{}, false, t.finish(txn, false)
	}
	v, ok := leaf.Lookup(key, t.cmp)
	if err := t.finish(txn, false); err != nil {
		return common.RID{}, false, err
	}
	return v, ok, nil
}

/*****************************************************************************
 * INSERTION
 *****************************************************************************/

// Insert adds key/value to the tree. Returns false without modifying
// the tree if key is already present (keys are unique).
func (t *Tree) Insert(key GenericKey, value common.RID) (bool, error) {
	txn := NewTransaction()
	t.rootMu.Lock()
	txn.rootLatchHeld = true
	txn.rootLatchExclusive = true

	if t.rootPageID == common.InvalidPageID {
		err := t.startNewTree(key, value)
		if ferr := t.finish(txn, true); err == nil {
			err = ferr
		}
		return err == nil, err
	}

	leaf, err := t.descendToLeaf(key, false, opInsert, txn)
	if err != nil {
		_ = t.finish(txn, true)
		return false, err
	}

	ok, err := t.doInsertIntoLeaf(leaf, key, value, txn)
	if ferr := t.finish(txn, true); err == nil {
		err = ferr
	}
	return ok, err
}

// startNewTree allocates the tree's very first page as a one-entry
// leaf root. Caller must hold rootMu exclusively.
func (t *Tree) startNewTree(key GenericKey, value common.RID) error {
	id, raw, err := t.bpm.NewPage()
	if err != nil {
		return fmt.Errorf("start new tree: %w", common.ErrOutOfMemory)
	}
	leaf := newLeafPage(raw)
	leaf.Init(common.InvalidPageID)
	t.rootPageID = id

	if err := t.updateRootPageID(true); err != nil {
		_ = t.bpm.UnpinPage(id, true)
		return err
	}

	leaf.Insert(key, value, t.cmp)
	return t.bpm.UnpinPage(id, true)
}

func (t *Tree) doInsertIntoLeaf(leaf *leafPage, key GenericKey, value common.RID, txn *Transaction) (bool, error) {
	if _, exists := leaf.Lookup(key, t.cmp); exists {
		return false, nil
	}

	leaf.Insert(key, value, t.cmp)
	if leaf.Size() > leaf.MaxSize() {
		sibling, err := t.splitLeaf(leaf, txn)
		if err != nil {
			return false, err
		}
		if err := t.insertIntoParent(leaf.treePage, sibling.KeyAt(0), sibling.treePage, txn); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (t *Tree) splitLeaf(leaf *leafPage, txn *Transaction) (*leafPage, error) {
	id, raw, err := t.bpm.NewPage()
	if err != nil {
		return nil, fmt.Errorf("split leaf: %w", common.ErrOutOfMemory)
	}
	raw.WLatch()
	txn.addPage(raw)

	sibling := newLeafPage(raw)
	sibling.Init(leaf.ParentPageID())
	leaf.MoveHalfTo(sibling)
	log.Debug("split leaf ", leaf.PageID(), " -> ", id)
	return sibling, nil
}

func (t *Tree) splitInternal(node *internalPage, txn *Transaction) (*internalPage, error) {
	_, raw, err := t.bpm.NewPage()
	if err != nil {
		return nil, fmt.Errorf("split internal: %w", common.ErrOutOfMemory)
	}
	raw.WLatch()
	txn.addPage(raw)

	sibling := newInternalPage(raw)
	sibling.Init(node.ParentPageID())
	if err := node.MoveHalfTo(sibling, t.bpm); err != nil {
		return nil, err
	}
	return sibling, nil
}

// insertIntoParent wires newNode into oldNode's parent under the
// separator key, creating a new root if oldNode was the root, and
// recursing through another split if the parent itself overflows.
func (t *Tree) insertIntoParent(oldNode treePage, key GenericKey, newNode treePage, txn *Transaction) error {
	if oldNode.IsRootPage() {
		id, raw, err := t.bpm.NewPage()
		if err != nil {
			return fmt.Errorf("new root: %w", common.ErrOutOfMemory)
		}
		newRoot := newInternalPage(raw)
		newRoot.Init(common.InvalidPageID)
		newRoot.PopulateNewRoot(oldNode.PageID(), key, newNode.PageID())

		oldNode.SetParentPageID(id)
		newNode.SetParentPageID(id)
		t.rootPageID = id

		if err := t.updateRootPageID(false); err != nil {
			_ = t.bpm.UnpinPage(id, true)
			return err
		}
		return t.bpm.UnpinPage(id, true)
	}

	parentID := oldNode.ParentPageID()
	parentRaw, err := t.bpm.FetchPage(parentID)
	if err != nil {
		return err
	}
	parent := newInternalPage(parentRaw)
	newNode.SetParentPageID(parentID)
	parent.InsertNodeAfter(oldNode.PageID(), key, newNode.PageID())

	if parent.Size() > parent.MaxSize() {
		sibling, err := t.splitInternal(parent, txn)
		if err != nil {
			_ = t.bpm.UnpinPage(parentID, true)
			return err
		}
		if err := t.insertIntoParent(parent.treePage, sibling.KeyAt(0), sibling.treePage, txn); err != nil {
			_ = t.bpm.UnpinPage(parentID, true)
			return err
		}
	}
	return t.bpm.UnpinPage(parentID, true)
}

/*****************************************************************************
 * REMOVAL
 *****************************************************************************/

// Remove deletes key if present; a no-op (not an error) if absent.
func (t *Tree) Remove(key GenericKey) error {
	txn := NewTransaction()
	t.rootMu.Lock()
	txn.rootLatchHeld = true
	txn.rootLatchExclusive = true

	if t.rootPageID == common.InvalidPageID {
		return t.finish(txn, true)
	}

	leaf, err := t.descendToLeaf(key, false, opDelete, txn)
	if err != nil {
		_ = t.finish(txn, true)
		return err
	}

	if newSize := leaf.RemoveAndDeleteRecord(key, t.cmp); newSize < leaf.MinSize() {
		if err := t.coalesceOrRedistributeLeaf(leaf, txn); err != nil {
			_ = t.finish(txn, true)
			return err
		}
	}
	return t.finish(txn, true)
}

func (t *Tree) coalesceOrRedistributeLeaf(node *leafPage, txn *Transaction) error {
	if node.IsRootPage() {
		deleted, err := t.adjustRoot(node.treePage)
		if err != nil {
			return err
		}
		if deleted {
			txn.addDeleted(node.PageID())
		}
		return nil
	}

	sibling, isRightSibling, err := t.findLeftSiblingLeaf(node, txn)
	if err != nil {
		return err
	}

	parentRaw, err := t.bpm.FetchPage(node.ParentPageID())
	if err != nil {
		return err
	}
	parent := newInternalPage(parentRaw)

	if node.Size()+sibling.Size() <= node.MaxSize() {
		left, right := sibling, node
		if isRightSibling {
			left, right = node, sibling
		}
		removeIndex := parent.ValueIndex(right.PageID())

		right.MoveAllTo(left)
		txn.addDeleted(right.PageID())
		parent.Remove(removeIndex)

		if parent.Size() < parent.MinSize() {
			if err := t.coalesceOrRedistributeInternal(parent, txn); err != nil {
				_ = t.bpm.UnpinPage(parent.PageID(), true)
				return err
			}
		}
		return t.bpm.UnpinPage(parent.PageID(), true)
	}

	indexInParent := parent.ValueIndex(node.PageID())
	if isRightSibling {
		sibling.MoveFirstToEndOf(node)
		parent.SetKeyAt(parent.ValueIndex(sibling.PageID()), sibling.KeyAt(0))
	} else {
		sibling.MoveLastToFrontOf(node)
		parent.SetKeyAt(indexInParent, node.KeyAt(0))
	}
	return t.bpm.UnpinPage(parent.PageID(), false)
}

func (t *Tree) coalesceOrRedistributeInternal(node *internalPage, txn *Transaction) error {
	if node.IsRootPage() {
		deleted, err := t.adjustRoot(node.treePage)
		if err != nil {
			return err
		}
		if deleted {
			txn.addDeleted(node.PageID())
		}
		return nil
	}

	sibling, isRightSibling, err := t.findLeftSiblingInternal(node, txn)
	if err != nil {
		return err
	}

	parentRaw, err := t.bpm.FetchPage(node.ParentPageID())
	if err != nil {
		return err
	}
	parent := newInternalPage(parentRaw)

	if node.Size()+sibling.Size() <= node.MaxSize() {
		left, right := sibling, node
		if isRightSibling {
			left, right = node, sibling
		}
		removeIndex := parent.ValueIndex(right.PageID())

		if err := right.MoveAllTo(left, removeIndex, t.bpm); err != nil {
			_ = t.bpm.UnpinPage(parent.PageID(), true)
			return err
		}
		txn.addDeleted(right.PageID())
		parent.Remove(removeIndex)

		if parent.Size() < parent.MinSize() {
			if err := t.coalesceOrRedistributeInternal(parent, txn); err != nil {
				_ = t.bpm.UnpinPage(parent.PageID(), true)
				return err
			}
		}
		return t.bpm.UnpinPage(parent.PageID(), true)
	}

	indexInParent := parent.ValueIndex(node.PageID())
	var moveErr error
	if isRightSibling {
		moveErr = sibling.MoveFirstToEndOf(node, t.bpm)
	} else {
		moveErr = sibling.MoveLastToFrontOf(node, indexInParent, t.bpm)
	}
	if moveErr != nil {
		_ = t.bpm.UnpinPage(parent.PageID(), false)
		return moveErr
	}
	return t.bpm.UnpinPage(parent.PageID(), false)
}

func (t *Tree) findLeftSiblingLeaf(node *leafPage, txn *Transaction) (*leafPage, bool, error) {
	siblingID, isRight, err := t.siblingOf(node.treePage)
	if err != nil {
		return nil, false, err
	}
	raw, err := t.bpm.FetchPage(siblingID)
	if err != nil {
		return nil, false, err
	}
	raw.WLatch()
	txn.addPage(raw)
	return newLeafPage(raw), isRight, nil
}

func (t *Tree) findLeftSiblingInternal(node *internalPage, txn *Transaction) (*internalPage, bool, error) {
	siblingID, isRight, err := t.siblingOf(node.treePage)
	if err != nil {
		return nil, false, err
	}
	raw, err := t.bpm.FetchPage(siblingID)
	if err != nil {
		return nil, false, err
	}
	raw.WLatch()
	txn.addPage(raw)
	return newInternalPage(raw), isRight, nil
}

// siblingOf finds node's preferred merge/redistribute sibling: the left
// sibling, unless node is its parent's leftmost child, in which case
// the right sibling is used instead (reported via isRight).
func (t *Tree) siblingOf(node treePage) (id common.PageID, isRight bool, err error) {
	parentRaw, err := t.bpm.FetchPage(node.ParentPageID())
	if err != nil {
		return common.InvalidPageID, false, err
	}
	parent := newInternalPage(parentRaw)
	index := parent.ValueIndex(node.PageID())

	siblingIndex := index - 1
	if index == 0 {
		siblingIndex = index + 1
		isRight = true
	}
	id = parent.ValueAt(siblingIndex)

	if err := t.bpm.UnpinPage(parent.PageID(), false); err != nil {
		return common.InvalidPageID, false, err
	}
	return id, isRight, nil
}

// adjustRoot handles the two cases where the root page itself must
// change after a deletion: an emptied leaf root, or an internal root
// reduced to its single remaining child.
func (t *Tree) adjustRoot(oldRoot treePage) (bool, error) {
	if oldRoot.IsLeafPage() {
		// The root leaf is exempt from MinSize; it only collapses the
		// tree once it has been drained to nothing, not merely when it
		// falls under the threshold a non-root leaf would need to merge.
		if oldRoot.Size() != 0 {
			return false, nil
		}
		t.rootPageID = common.InvalidPageID
		if err := t.updateRootPageID(false); err != nil {
			return false, err
		}
		return true, nil
	}

	ip := newInternalPage(oldRoot.raw)
	if ip.Size() != 1 {
		return false, nil
	}

	newRootID := ip.RemoveAndReturnOnlyChild()
	t.rootPageID = newRootID
	if err := t.updateRootPageID(false); err != nil {
		return false, err
	}

	childRaw, err := t.bpm.FetchPage(newRootID)
	if err != nil {
		return false, err
	}
	treePage{raw: childRaw}.SetParentPageID(common.InvalidPageID)
	if err := t.bpm.UnpinPage(newRootID, true); err != nil {
		return false, err
	}
	return true, nil
}

/*****************************************************************************
 * DESCENT / CRABBING
 *****************************************************************************/

// findLeafPage acquires the root latch on txn if not already held, then
// descends to the leaf that would contain key (or the leftmost leaf,
// if leftMost is set). Returns nil without error for an empty tree.
func (t *Tree) findLeafPage(key GenericKey, leftMost bool, op operationType, txn *Transaction) (*leafPage, error) {
	exclusive := op != opRead
	if !txn.rootLatchHeld {
		if exclusive {
			t.rootMu.Lock()
		} else {
			t.rootMu.RLock()
		}
		txn.rootLatchHeld = true
		txn.rootLatchExclusive = exclusive
	}

	if t.rootPageID == common.InvalidPageID {
		t.releaseRootLatch(txn)
		return nil, nil
	}
	return t.descendToLeaf(key, leftMost, op, txn)
}

// descendToLeaf assumes the root latch is already held on txn (see
// findLeafPage) and the tree is non-empty. It walks root to leaf,
// latching each page before releasing its parent, releasing the root
// latch and every ancestor still held as soon as a descendant proves
// safe for op (see isSafe) -- read descents release immediately at
// every level, since a page latched only to choose the next child is
// always safe to let go once that child is latched.
func (t *Tree) descendToLeaf(key GenericKey, leftMost bool, op operationType, txn *Transaction) (*leafPage, error) {
	exclusive := op != opRead

	raw, err := t.bpm.FetchPage(t.rootPageID)
	if err != nil {
		return nil, err
	}
	if exclusive {
		raw.WLatch()
	} else {
		raw.RLatch()
	}
	tp := treePage{raw: raw}
	txn.addPage(raw)

	for !tp.IsLeafPage() {
		ip := newInternalPage(raw)
		var next common.PageID
		if leftMost {
			next = ip.ValueAt(0)
		} else {
			next = ip.Lookup(key, t.cmp)
		}

		childRaw, err := t.bpm.FetchPage(next)
		if err != nil {
			return nil, err
		}
		if exclusive {
			childRaw.WLatch()
		} else {
			childRaw.RLatch()
		}
		childTP := treePage{raw: childRaw}

		if isSafe(childTP, op) {
			t.releaseRootLatch(txn)
			if err := txn.drain(t.bpm, exclusive); err != nil {
				return nil, err
			}
		}
		txn.addPage(childRaw)

		raw, tp = childRaw, childTP
	}

	return newLeafPage(raw), nil
}

/*****************************************************************************
 * HEADER PAGE
 *****************************************************************************/

func (t *Tree) updateRootPageID(insertRecord bool) error {
	hp, err := fetchHeaderPage(t.bpm)
	if err != nil {
		return err
	}
	if insertRecord {
		hp.InsertRecord(t.name, t.rootPageID)
	} else {
		hp.UpdateRecord(t.name, t.rootPageID)
	}
	return t.bpm.UnpinPage(common.HeaderPageID, true)
}
