package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/coursedb/indexlayer/common"
)

// PageSize is the fixed size of every page's data buffer. Index code above
// the buffer pool sizes its max_size/min_size thresholds off this constant
// (see bptree.LeafMaxSize / bptree.InternalMaxSize).
const PageSize = 4096

// Page is a pinned, latchable, fixed-size byte buffer. It is the unit the
// buffer pool manager hands out; bptree's pages (and its header page)
// treat Data as a typed view over these bytes. The extendible hash keeps
// its buckets in ordinary Go maps and does not use Page.
//
// A Page's identity (ID) is stable for as long as it is pinned; once the
// pin count drops to zero the buffer pool manager may recycle the frame
// for a different page id.
type Page struct {
	id    common.PageID
	Data  [PageSize]byte
	latch sync.RWMutex

	pinCount atomic.Int32
	dirty    atomic.Bool
}

// ID returns the page identifier currently occupying this frame.
func (p *Page) ID() common.PageID { return p.id }

// RLatch / RUnlatch take/release the page's latch in shared (read) mode.
func (p *Page) RLatch()   { p.latch.RLock() }
func (p *Page) RUnlatch() { p.latch.RUnlock() }

// WLatch / WUnlatch take/release the page's latch in exclusive (write) mode.
func (p *Page) WLatch()   { p.latch.Lock() }
func (p *Page) WUnlatch() { p.latch.Unlock() }

// PinCount returns the current pin count (for tests and CheckAllUnpinned).
func (p *Page) PinCount() int32 { return p.pinCount.Load() }

// IsDirty reports whether the page has unflushed modifications.
func (p *Page) IsDirty() bool { return p.dirty.Load() }
