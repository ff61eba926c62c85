package bptree

import (
	"encoding/binary"

	"golang.org/x/exp/slices"

	"github.com/coursedb/indexlayer/buffer"
	"github.com/coursedb/indexlayer/common"
)

// LeafMaxSize is the largest number of (key, RID) slots a leaf page
// holds before it must split.
var LeafMaxSize = maxEntriesFor(leafEntrySize)

// leafPage is an ordered array of (key, RID) pairs plus the id of the
// next leaf in key order, so a completed range scan never has to climb
// back up into internal pages.
type leafPage struct {
	treePage
}

func newLeafPage(raw *buffer.Page) *leafPage {
	return &leafPage{treePage{raw: raw}}
}

// Init prepares a freshly allocated page as an empty leaf page.
func (p *leafPage) Init(parentID common.PageID) {
	p.setPageType(PageTypeLeaf)
	p.SetSize(0)
	p.SetParentPageID(parentID)
	p.SetMaxSize(LeafMaxSize)
	p.setNextPageID(common.InvalidPageID)
}

func (p *leafPage) NextPageID() common.PageID      { return p.nextPageID() }
func (p *leafPage) SetNextPageID(id common.PageID) { p.setNextPageID(id) }

func (p *leafPage) slotOffset(i int) int {
	return headerSize + i*leafEntrySize
}

func (p *leafPage) KeyAt(i int) GenericKey {
	var k GenericKey
	off := p.slotOffset(i)
	copy(k[:], p.raw.Data[off:off+MaxKeySize])
	return k
}

func (p *leafPage) setKeyAt(i int, k GenericKey) {
	off := p.slotOffset(i)
	copy(p.raw.Data[off:off+MaxKeySize], k[:])
}

func (p *leafPage) ValueAt(i int) common.RID {
	off := p.slotOffset(i) + MaxKeySize
	return common.RID{
		PageID: common.PageID(int32(binary.BigEndian.Uint32(p.raw.Data[off:]))),
		Slot:   binary.BigEndian.Uint32(p.raw.Data[off+4:]),
	}
}

func (p *leafPage) setValueAt(i int, v common.RID) {
	off := p.slotOffset(i) + MaxKeySize
	binary.BigEndian.PutUint32(p.raw.Data[off:], uint32(int32(v.PageID)))
	binary.BigEndian.PutUint32(p.raw.Data[off+4:], v.Slot)
}

// KeyIndex binary searches for the first slot whose key is >= key.
func (p *leafPage) KeyIndex(key GenericKey, cmp KeyComparator) int {
	candidates := slotIndices(p.Size())
	pos, _ := slices.BinarySearchFunc(candidates, key, func(i int, target GenericKey) int {
		return cmp(p.KeyAt(i), target)
	})
	return pos
}

// Lookup reports whether key is present, writing its value if so.
func (p *leafPage) Lookup(key GenericKey, cmp KeyComparator) (common.RID, bool) {
	idx := p.KeyIndex(key, cmp)
	if idx < p.Size() && cmp(p.KeyAt(idx), key) == 0 {
		return p.ValueAt(idx), true
	}
	return common.RID{}, false
}

// Insert inserts (key, value) in sorted order. Caller (the tree driver)
// has already verified key is absent via Lookup.
func (p *leafPage) Insert(key GenericKey, value common.RID, cmp KeyComparator) int {
	idx := p.KeyIndex(key, cmp)
	p.IncreaseSize(1)
	for i := p.Size() - 1; i > idx; i-- {
		p.setKeyAt(i, p.KeyAt(i-1))
		p.setValueAt(i, p.ValueAt(i-1))
	}
	p.setKeyAt(idx, key)
	p.setValueAt(idx, value)
	return p.Size()
}

// RemoveAndDeleteRecord deletes key if present and returns the
// resulting size (unchanged if key was absent).
func (p *leafPage) RemoveAndDeleteRecord(key GenericKey, cmp KeyComparator) int {
	idx := p.KeyIndex(key, cmp)
	if idx >= p.Size() || cmp(p.KeyAt(idx), key) != 0 {
		return p.Size()
	}
	for i := idx + 1; i < p.Size(); i++ {
		p.setKeyAt(i-1, p.KeyAt(i))
		p.setValueAt(i-1, p.ValueAt(i))
	}
	p.IncreaseSize(-1)
	return p.Size()
}

// MoveHalfTo splits p in two: the upper half of its entries move to
// recipient, and recipient inherits p's old next-leaf link while p's
// link is repointed at recipient.
func (p *leafPage) MoveHalfTo(recipient *leafPage) {
	total := p.Size()
	mid := total / 2

	for i := mid; i < total; i++ {
		recipient.setKeyAt(i-mid, p.KeyAt(i))
		recipient.setValueAt(i-mid, p.ValueAt(i))
	}
	p.SetSize(mid)
	recipient.SetSize(total - mid)

	recipient.setNextPageID(p.nextPageID())
	p.setNextPageID(recipient.PageID())
}

// MoveAllTo drains every entry of p into the tail of recipient (used
// during coalesce, where p is about to be deleted). The next_page_id
// chain is fixed up explicitly: the surviving page inherits whatever p
// pointed to next, so iteration never dead-ends at a deleted leaf.
func (p *leafPage) MoveAllTo(recipient *leafPage) {
	start := recipient.Size()
	for i := 0; i < p.Size(); i++ {
		recipient.setKeyAt(start+i, p.KeyAt(i))
		recipient.setValueAt(start+i, p.ValueAt(i))
	}
	recipient.SetSize(start + p.Size())
	recipient.setNextPageID(p.nextPageID())
	p.SetSize(0)
}

// MoveFirstToEndOf moves p's first entry to the end of recipient,
// called on the sibling when it sits to the right of the underfull
// node during redistribution.
func (p *leafPage) MoveFirstToEndOf(recipient *leafPage) {
	key := p.KeyAt(0)
	value := p.ValueAt(0)
	for i := 0; i < p.Size()-1; i++ {
		p.setKeyAt(i, p.KeyAt(i+1))
		p.setValueAt(i, p.ValueAt(i+1))
	}
	p.IncreaseSize(-1)

	recipient.setKeyAt(recipient.Size(), key)
	recipient.setValueAt(recipient.Size(), value)
	recipient.IncreaseSize(1)
}

// MoveLastToFrontOf moves p's last entry to the front of recipient,
// called on the sibling when it sits to the left of the underfull node
// during redistribution.
func (p *leafPage) MoveLastToFrontOf(recipient *leafPage) {
	last := p.Size() - 1
	key := p.KeyAt(last)
	value := p.ValueAt(last)
	p.IncreaseSize(-1)

	for i := recipient.Size(); i > 0; i-- {
		recipient.setKeyAt(i, recipient.KeyAt(i-1))
		recipient.setValueAt(i, recipient.ValueAt(i-1))
	}
	recipient.setKeyAt(0, key)
	recipient.setValueAt(0, value)
	recipient.IncreaseSize(1)
}
