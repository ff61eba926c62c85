package bptree

import (
	"encoding/binary"

	"github.com/coursedb/indexlayer/buffer"
	"github.com/coursedb/indexlayer/common"
)

// slotIndices returns the handle slices.BinarySearchFunc needs to binary
// search a page's slot array without a materialized []GenericKey: the
// slots themselves live in the page's byte buffer, so KeyAt(i) is the
// indirection a comparator closes over.
func slotIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// PageType distinguishes the two page shapes sharing this package's
// fixed-size page format.
type PageType byte

const (
	PageTypeInvalid  PageType = 0
	PageTypeInternal PageType = 1
	PageTypeLeaf     PageType = 2
)

// Header layout shared by every tree page, mirroring the base
// BPlusTreePage fields (page_id is implicit, carried by buffer.Page
// itself, so it is not duplicated in the on-page header):
//
//	[0]      page_type   (1 byte)
//	[1:5]    parent_page_id (int32, big-endian)
//	[5:9]    size           (int32)
//	[9:13]   max_size       (int32)
//	[13:17]  next_page_id   (int32, leaf pages only; unused by internal)
const (
	offPageType       = 0
	offParentPageID   = 1
	offSize           = 5
	offMaxSize        = 9
	offNextPageID     = 13
	headerSize        = 17
	internalEntrySize = MaxKeySize + 4 // key + child page id
	leafEntrySize     = MaxKeySize + 8 // key + RID{PageID int32, Slot uint32}
)

// treePage wraps a raw buffer page with accessors for the header every
// internal and leaf page shares. It holds no lock of its own — callers
// latch the underlying buffer.Page directly before touching a treePage
// built on top of it.
type treePage struct {
	raw *buffer.Page
}

func (p treePage) PageID() common.PageID { return p.raw.ID() }

func (p treePage) PageType() PageType {
	return PageType(p.raw.Data[offPageType])
}

func (p treePage) setPageType(t PageType) {
	p.raw.Data[offPageType] = byte(t)
}

func (p treePage) IsLeafPage() bool     { return p.PageType() == PageTypeLeaf }
func (p treePage) IsInternalPage() bool { return p.PageType() == PageTypeInternal }

// IsRootPage matches the source convention: a page with no parent is
// the root, regardless of which operation currently holds it latched.
func (p treePage) IsRootPage() bool {
	return p.ParentPageID() == common.InvalidPageID
}

func (p treePage) ParentPageID() common.PageID {
	return common.PageID(int32(binary.BigEndian.Uint32(p.raw.Data[offParentPageID:])))
}

func (p treePage) SetParentPageID(id common.PageID) {
	binary.BigEndian.PutUint32(p.raw.Data[offParentPageID:], uint32(int32(id)))
}

func (p treePage) Size() int {
	return int(int32(binary.BigEndian.Uint32(p.raw.Data[offSize:])))
}

func (p treePage) SetSize(n int) {
	binary.BigEndian.PutUint32(p.raw.Data[offSize:], uint32(int32(n)))
}

func (p treePage) IncreaseSize(delta int) {
	p.SetSize(p.Size() + delta)
}

func (p treePage) MaxSize() int {
	return int(int32(binary.BigEndian.Uint32(p.raw.Data[offMaxSize:])))
}

func (p treePage) SetMaxSize(n int) {
	binary.BigEndian.PutUint32(p.raw.Data[offMaxSize:], uint32(int32(n)))
}

// MinSize is ceil(maxSize/2), matching the source's GetMinSize(), which
// every non-root page must stay at or above after a delete.
func (p treePage) MinSize() int {
	return (p.MaxSize() + 1) / 2
}

func (p treePage) nextPageID() common.PageID {
	return common.PageID(int32(binary.BigEndian.Uint32(p.raw.Data[offNextPageID:])))
}

func (p treePage) setNextPageID(id common.PageID) {
	binary.BigEndian.PutUint32(p.raw.Data[offNextPageID:], uint32(int32(id)))
}

// maxEntriesFor computes the max_size the source assigns at Init time:
// as many (key, value) slots as fit after the header, minus one so an
// insert-then-check-overflow pattern always has room for the transient
// (max+1)-th entry before a split trims it back down.
func maxEntriesFor(entrySize int) int {
	n := (buffer.PageSize - headerSize) / entrySize
	return n - 1
}
