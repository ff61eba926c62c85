package bptree

import (
	"encoding/binary"

	"golang.org/x/exp/slices"

	"github.com/coursedb/indexlayer/buffer"
	"github.com/coursedb/indexlayer/common"
)

// InternalMaxSize is the largest number of (key, child) slots an
// internal page holds before it must split.
var InternalMaxSize = maxEntriesFor(internalEntrySize)

// internalPage is an ordered array of (separator key, child page id)
// pairs. Slot 0's key is never read by Lookup — it exists only so
// every slot has the same width; its value still routes to the
// leftmost child.
type internalPage struct {
	treePage
}

func newInternalPage(raw *buffer.Page) *internalPage {
	return &internalPage{treePage{raw: raw}}
}

// Init prepares a freshly allocated page as an empty internal page.
func (p *internalPage) Init(parentID common.PageID) {
	p.setPageType(PageTypeInternal)
	p.SetSize(0)
	p.SetParentPageID(parentID)
	p.SetMaxSize(InternalMaxSize)
}

func (p *internalPage) slotOffset(i int) int {
	return headerSize + i*internalEntrySize
}

func (p *internalPage) KeyAt(i int) GenericKey {
	var k GenericKey
	off := p.slotOffset(i)
	copy(k[:], p.raw.Data[off:off+MaxKeySize])
	return k
}

func (p *internalPage) SetKeyAt(i int, k GenericKey) {
	off := p.slotOffset(i)
	copy(p.raw.Data[off:off+MaxKeySize], k[:])
}

func (p *internalPage) ValueAt(i int) common.PageID {
	off := p.slotOffset(i) + MaxKeySize
	return common.PageID(int32(binary.BigEndian.Uint32(p.raw.Data[off:])))
}

func (p *internalPage) setValueAt(i int, v common.PageID) {
	off := p.slotOffset(i) + MaxKeySize
	binary.BigEndian.PutUint32(p.raw.Data[off:], uint32(int32(v)))
}

// ValueIndex returns the slot whose child pointer equals v, or -1.
func (p *internalPage) ValueIndex(v common.PageID) int {
	for i := 0; i < p.Size(); i++ {
		if p.ValueAt(i) == v {
			return i
		}
	}
	return -1
}

// Lookup binary searches slots [1, size) for the greatest separator key
// <= key and returns the child pointer stored in that slot (slot 0's
// child when no separator is <= key). size must
// be > 1 (a freshly populated root always has exactly 2 children).
func (p *internalPage) Lookup(key GenericKey, cmp KeyComparator) common.PageID {
	candidates := slotIndices(p.Size())[1:]
	pos, _ := slices.BinarySearchFunc(candidates, key, func(i int, target GenericKey) int {
		if cmp(p.KeyAt(i), target) <= 0 {
			return -1
		}
		return 1
	})
	if pos == 0 {
		return p.ValueAt(0)
	}
	return p.ValueAt(candidates[pos-1])
}

// PopulateNewRoot initializes a brand-new two-child root page. Called
// only from insertIntoParent when a split propagates past the old root.
func (p *internalPage) PopulateNewRoot(oldValue common.PageID, newKey GenericKey, newValue common.PageID) {
	p.setValueAt(0, oldValue)
	p.SetKeyAt(1, newKey)
	p.setValueAt(1, newValue)
	p.IncreaseSize(2)
}

// InsertNodeAfter inserts (newKey, newValue) immediately after the slot
// whose child pointer is oldValue, shifting the tail right by one.
func (p *internalPage) InsertNodeAfter(oldValue common.PageID, newKey GenericKey, newValue common.PageID) int {
	index := p.ValueIndex(oldValue) + 1
	p.IncreaseSize(1)
	size := p.Size()
	for i := size - 1; i > index; i-- {
		p.SetKeyAt(i, p.KeyAt(i-1))
		p.setValueAt(i, p.ValueAt(i-1))
	}
	p.SetKeyAt(index, newKey)
	p.setValueAt(index, newValue)
	return size
}

// Remove deletes the slot at index, shifting the tail left by one.
func (p *internalPage) Remove(index int) {
	for i := index + 1; i < p.Size(); i++ {
		p.SetKeyAt(i-1, p.KeyAt(i))
		p.setValueAt(i-1, p.ValueAt(i))
	}
	p.IncreaseSize(-1)
}

// RemoveAndReturnOnlyChild is called only from adjustRoot, on a root
// whose last remaining child is about to become the new root itself.
func (p *internalPage) RemoveAndReturnOnlyChild() common.PageID {
	ret := p.ValueAt(0)
	p.IncreaseSize(-1)
	return ret
}

// MoveHalfTo splits p in two: the upper half of its slots move to
// recipient (a freshly allocated, empty page), and every moved child's
// parent pointer is rewritten to recipient's page id via bpm.
func (p *internalPage) MoveHalfTo(recipient *internalPage, bpm *buffer.Manager) error {
	total := p.Size()
	mid := total / 2

	for i := mid; i < total; i++ {
		recipient.SetKeyAt(i-mid, p.KeyAt(i))
		recipient.setValueAt(i-mid, p.ValueAt(i))
		if err := reparentChild(bpm, p.ValueAt(i), recipient.PageID()); err != nil {
			return err
		}
	}
	p.SetSize(mid)
	recipient.SetSize(total - mid)
	return nil
}

// MoveAllTo drains every slot of p into the tail of recipient (used
// during coalesce, where p is about to be deleted), first copying the
// index_in_parent separator down into slot 0's now-meaningful key.
func (p *internalPage) MoveAllTo(recipient *internalPage, indexInParent int, bpm *buffer.Manager) error {
	start := recipient.Size()

	parentPage, err := fetchInternal(bpm, p.ParentPageID())
	if err != nil {
		return err
	}
	p.SetKeyAt(0, parentPage.KeyAt(indexInParent))
	if err := bpm.UnpinPage(parentPage.PageID(), false); err != nil {
		return err
	}

	for i := 0; i < p.Size(); i++ {
		recipient.SetKeyAt(start+i, p.KeyAt(i))
		recipient.setValueAt(start+i, p.ValueAt(i))
		if err := reparentChild(bpm, p.ValueAt(i), recipient.PageID()); err != nil {
			return err
		}
	}
	recipient.SetSize(start + p.Size())
	p.SetSize(0)
	return nil
}

// MoveFirstToEndOf is the redistribute step used when the sibling is on
// the node's right: the sibling's first entry moves to the node's end.
// Called on the SIBLING with recipient == the underfull node.
func (p *internalPage) MoveFirstToEndOf(recipient *internalPage, bpm *buffer.Manager) error {
	key := p.KeyAt(0)
	value := p.ValueAt(0)
	p.IncreaseSize(-1)
	for i := 0; i < p.Size(); i++ {
		p.SetKeyAt(i, p.KeyAt(i+1))
		p.setValueAt(i, p.ValueAt(i+1))
	}

	if err := recipient.copyLastFrom(key, value, bpm); err != nil {
		return err
	}
	if err := reparentChild(bpm, value, recipient.PageID()); err != nil {
		return err
	}

	parentPage, err := fetchInternal(bpm, p.ParentPageID())
	if err != nil {
		return err
	}
	parentPage.SetKeyAt(parentPage.ValueIndex(p.PageID()), p.KeyAt(0))
	return bpm.UnpinPage(parentPage.PageID(), true)
}

func (p *internalPage) copyLastFrom(key GenericKey, value common.PageID, bpm *buffer.Manager) error {
	p.SetKeyAt(p.Size(), key)
	p.setValueAt(p.Size(), value)
	p.IncreaseSize(1)
	return nil
}

// MoveLastToFrontOf is the redistribute step used when the sibling is
// on the node's left: the sibling's last entry moves to the node's front.
// Called on the SIBLING with recipient == the underfull node.
func (p *internalPage) MoveLastToFrontOf(recipient *internalPage, parentIndex int, bpm *buffer.Manager) error {
	key := p.KeyAt(p.Size() - 1)
	value := p.ValueAt(p.Size() - 1)
	p.IncreaseSize(-1)
	return recipient.copyFirstFrom(key, value, parentIndex, bpm)
}

func (p *internalPage) copyFirstFrom(key GenericKey, value common.PageID, parentIndex int, bpm *buffer.Manager) error {
	for i := p.Size(); i > 0; i-- {
		p.SetKeyAt(i, p.KeyAt(i-1))
		p.setValueAt(i, p.ValueAt(i-1))
	}
	p.IncreaseSize(1)
	p.SetKeyAt(0, key)
	p.setValueAt(0, value)

	if err := reparentChild(bpm, value, p.PageID()); err != nil {
		return err
	}

	parentPage, err := fetchInternal(bpm, p.ParentPageID())
	if err != nil {
		return err
	}
	parentPage.SetKeyAt(parentIndex, p.KeyAt(0))
	return bpm.UnpinPage(parentPage.PageID(), true)
}

// reparentChild fetches childID solely to rewrite its parent pointer,
// used after every slot move so a child's parent_page_id never points
// at a page it no longer belongs to.
func reparentChild(bpm *buffer.Manager, childID, newParentID common.PageID) error {
	raw, err := bpm.FetchPage(childID)
	if err != nil {
		return err
	}
	treePage{raw: raw}.SetParentPageID(newParentID)
	return bpm.UnpinPage(childID, true)
}

func fetchInternal(bpm *buffer.Manager, id common.PageID) (*internalPage, error) {
	raw, err := bpm.FetchPage(id)
	if err != nil {
		return nil, err
	}
	return newInternalPage(raw), nil
}
