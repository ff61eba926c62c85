package bptree

import (
	"github.com/coursedb/indexlayer/buffer"
	"github.com/coursedb/indexlayer/common"
)

// Transaction carries the latched-page set and deleted-page set for a
// single tree operation, the same role the source's Transaction class
// plays: every page fetched and latched during a crabbed descent is
// appended here, in the order it was latched, so releasing the set
// unwinds latches and pins oldest-first.
type Transaction struct {
	pageSet    []*buffer.Page
	deletedSet map[common.PageID]bool

	// rootLatchHeld/rootLatchExclusive track the tree-level root latch
	// across a single operation, letting Tree pair one acquisition with
	// exactly one release instead of the source's thread-local
	// reentrant lock count (see Tree.releaseRootLatch).
	rootLatchHeld      bool
	rootLatchExclusive bool
}

// NewTransaction returns an empty transaction ready for one operation.
func NewTransaction() *Transaction {
	return &Transaction{
		deletedSet: make(map[common.PageID]bool),
	}
}

// addPage appends a latched page to the FIFO set.
func (t *Transaction) addPage(p *buffer.Page) {
	t.pageSet = append(t.pageSet, p)
}

// addDeleted marks a page id for deletion once it is unpinned.
func (t *Transaction) addDeleted(id common.PageID) {
	t.deletedSet[id] = true
}

// drain unlatches and unpins every page in the set, oldest first,
// deleting any that were scheduled for deletion. exclusive selects
// write-mode unlatch/dirty-unpin versus read-mode. Always fully
// drains the set even if an individual unpin fails, returning the
// first error encountered.
func (t *Transaction) drain(bpm *buffer.Manager, exclusive bool) error {
	var firstErr error
	for _, page := range t.pageSet {
		id := page.ID()
		if exclusive {
			page.WUnlatch()
		} else {
			page.RUnlatch()
		}
		if err := bpm.UnpinPage(id, exclusive); err != nil && firstErr == nil {
			firstErr = err
		}
		if t.deletedSet[id] {
			if err := bpm.DeletePage(id); err != nil && firstErr == nil {
				firstErr = err
			}
			delete(t.deletedSet, id)
		}
	}
	t.pageSet = t.pageSet[:0]
	return firstErr
}

// take hands ownership of the single remaining latched page to the
// caller (used by Begin/BeginAt, which keep the leaf they land on
// latched for the iterator's lifetime instead of draining it).
func (t *Transaction) take() *buffer.Page {
	p := t.pageSet[len(t.pageSet)-1]
	t.pageSet = t.pageSet[:0]
	return p
}
