package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/krotik/common/errorutil"
	"github.com/krotik/common/logutil"

	"github.com/coursedb/indexlayer/common"
)

var log = logutil.GetLogger("buffer")

// Manager is the buffer pool manager the index layer is built against. It
// owns a fixed number of frames, a page table mapping page ids to the
// frame currently holding them, and an LRUReplacer choosing which
// unpinned frame to recycle when a fetch or allocation needs a free one.
//
// Every FetchPage/NewPage call increments the returned page's pin count;
// callers must balance it with exactly one UnpinPage, on every exit path,
// including error returns. CheckAllUnpinned is meant to hold between
// top-level bptree/extendiblehash operations, never mid-operation.
type Manager struct {
	mu        sync.Mutex
	frames    []Page
	pageTable map[common.PageID]common.FrameID
	freeList  []common.FrameID
	replacer  *LRUReplacer[common.FrameID]
	disk      *DiskManager // optional; nil means evicted pages are simply dropped

	nextPageID atomic.Int32
	closed     atomic.Bool
}

// NewManager creates a buffer pool with poolSize frames. disk may be nil;
// when nil, a page evicted to make room for another is gone for good
// (acceptable here because durability of the backing store is explicitly
// out of scope for the index layer — see SPEC_FULL.md §1 Non-goals).
func NewManager(poolSize int, disk *DiskManager) *Manager {
	errorutil.AssertTrue(poolSize > 0, "buffer pool size must be positive")

	m := &Manager{
		frames:    make([]Page, poolSize),
		pageTable: make(map[common.PageID]common.FrameID, poolSize),
		freeList:  make([]common.FrameID, poolSize),
		replacer:  NewLRUReplacer[common.FrameID](),
		disk:      disk,
	}
	for i := 0; i < poolSize; i++ {
		m.freeList[i] = common.FrameID(i)
	}
	// Page id 0 is reserved for the header page (common.HeaderPageID);
	// user pages start numbering at 1.
	m.nextPageID.Store(1)
	return m
}

// acquireFrame returns a frame to host a page, preferring the free list
// and falling back to evicting the replacer's chosen victim. Caller must
// hold m.mu.
func (m *Manager) acquireFrame() (common.FrameID, error) {
	if n := len(m.freeList); n > 0 {
		frameID := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return frameID, nil
	}

	frameID, ok := m.replacer.Victim()
	if !ok {
		return 0, common.ErrOutOfMemory
	}

	victim := &m.frames[frameID]
	var victimPageID common.PageID
	for pid, fid := range m.pageTable {
		if fid == frameID {
			victimPageID = pid
			break
		}
	}

	if victim.IsDirty() && m.disk != nil {
		if err := m.disk.WritePage(victimPageID, &victim.Data); err != nil {
			return 0, err
		}
	}

	delete(m.pageTable, victimPageID)
	log.Debug("evicted page ", victimPageID, " from frame ", frameID)
	return frameID, nil
}

// FetchPage pins and returns the page with the given id, loading it from
// the page table's resident frame or, failing that, from disk (if a
// DiskManager is attached) or as a freshly zeroed frame.
func (m *Manager) FetchPage(id common.PageID) (*Page, error) {
	if m.closed.Load() {
		return nil, common.ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if frameID, ok := m.pageTable[id]; ok {
		page := &m.frames[frameID]
		if page.pinCount.Load() == 0 {
			m.replacer.Erase(frameID)
		}
		page.pinCount.Add(1)
		return page, nil
	}

	frameID, err := m.acquireFrame()
	if err != nil {
		return nil, err
	}

	page := &m.frames[frameID]
	page.id = id
	page.dirty.Store(false)
	page.pinCount.Store(1)

	if m.disk != nil {
		if err := m.disk.ReadPage(id, &page.Data); err != nil {
			m.freeList = append(m.freeList, frameID)
			return nil, err
		}
	} else {
		page.Data = [PageSize]byte{}
	}

	m.pageTable[id] = frameID
	return page, nil
}

// NewPage allocates a fresh page id, pins it in a frame, and returns both.
func (m *Manager) NewPage() (common.PageID, *Page, error) {
	if m.closed.Load() {
		return common.InvalidPageID, nil, common.ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, err := m.acquireFrame()
	if err != nil {
		return common.InvalidPageID, nil, err
	}

	id := common.PageID(m.nextPageID.Add(1) - 1)
	page := &m.frames[frameID]
	page.id = id
	page.Data = [PageSize]byte{}
	page.dirty.Store(true)
	page.pinCount.Store(1)

	m.pageTable[id] = frameID
	return id, page, nil
}

// UnpinPage drops one pin from page id. isDirty, if true, marks the page
// dirty (a page is never un-marked dirty by an unpin; the flag is reset
// only when FetchPage loads a page into the frame). Once the pin count
// reaches zero the frame becomes an eviction candidate.
func (m *Manager) UnpinPage(id common.PageID, isDirty bool) error {
	if m.closed.Load() {
		return common.ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[id]
	if !ok {
		return common.ErrPageNotFound
	}

	page := &m.frames[frameID]
	if isDirty {
		page.dirty.Store(true)
	}

	remaining := page.pinCount.Add(-1)
	errorutil.AssertTrue(remaining >= 0, "unpin called more times than pin for a page")

	if remaining == 0 {
		m.replacer.Insert(frameID)
	}
	return nil
}

// DeletePage removes a page from the pool and returns its frame to the
// free list, then calls the DiskManager's FreePage (which leaves the
// on-disk slot in place). The page must be unpinned; a pinned page is
// never deleted out from under a reader or writer.
func (m *Manager) DeletePage(id common.PageID) error {
	if m.closed.Load() {
		return common.ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[id]
	if !ok {
		return nil
	}

	page := &m.frames[frameID]
	if page.pinCount.Load() > 0 {
		return common.ErrPagePinned
	}

	m.replacer.Erase(frameID)
	delete(m.pageTable, id)
	m.freeList = append(m.freeList, frameID)

	if m.disk != nil {
		m.disk.FreePage(id)
	}
	return nil
}

// Close marks the pool closed; every subsequent Fetch/New/Unpin/Delete
// call returns common.ErrClosed instead of touching frame state. Close
// is idempotent: calling it more than once is a no-op past the first.
// Any dirty frame still resident is flushed first if a DiskManager is
// attached, the same way a resident page is flushed on eviction.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disk == nil {
		return nil
	}
	for pid, frameID := range m.pageTable {
		frame := &m.frames[frameID]
		if frame.IsDirty() {
			if err := m.disk.WritePage(pid, &frame.Data); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckAllUnpinned reports whether every resident page currently has a
// pin count of zero. Called between top-level operations by tests and by
// bptree.Tree.Check — never on the index's hot path.
func (m *Manager) CheckAllUnpinned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pid, frameID := range m.pageTable {
		if m.frames[frameID].PinCount() > 0 {
			log.Warning("page ", pid, " still pinned in frame ", frameID)
			return false
		}
	}
	return true
}
