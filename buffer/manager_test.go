package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedb/indexlayer/common"
)

func TestNewPageStartsPinnedAndDirty(t *testing.T) {
	m := NewManager(4, nil)

	id, page, err := m.NewPage()
	require.NoError(t, err)
	assert.Equal(t, id, page.ID())
	assert.Equal(t, int32(1), page.PinCount())
	assert.True(t, page.IsDirty())
}

func TestFetchPageReturnsSamePinnedFrame(t *testing.T) {
	m := NewManager(4, nil)
	id, page, err := m.NewPage()
	require.NoError(t, err)
	page.Data[0] = 0x42
	require.NoError(t, m.UnpinPage(id, true))

	fetched, err := m.FetchPage(id)
	require.NoError(t, err)
	assert.Same(t, page, fetched)
	assert.Equal(t, byte(0x42), fetched.Data[0])
	assert.Equal(t, int32(1), fetched.PinCount())
}

func TestUnpinPageAllowsEviction(t *testing.T) {
	m := NewManager(1, nil)

	id1, _, err := m.NewPage()
	require.NoError(t, err)
	require.NoError(t, m.UnpinPage(id1, false))

	// The pool has exactly one frame; fetching a second page must evict
	// the first since it is the only unpinned candidate.
	id2, _, err := m.NewPage()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	_, ok := m.pageTable[id1]
	assert.False(t, ok, "evicted page must be removed from the page table")
}

func TestNewPageFailsWhenPoolExhaustedAndNothingUnpinned(t *testing.T) {
	m := NewManager(2, nil)

	_, _, err := m.NewPage()
	require.NoError(t, err)
	_, _, err = m.NewPage()
	require.NoError(t, err)

	// Both frames are still pinned; there is nothing to evict.
	_, _, err = m.NewPage()
	assert.ErrorIs(t, err, common.ErrOutOfMemory)
}

func TestUnpinPageOnUnknownPageReturnsError(t *testing.T) {
	m := NewManager(2, nil)
	err := m.UnpinPage(common.PageID(999), false)
	assert.ErrorIs(t, err, common.ErrPageNotFound)
}

func TestDeletePageRefusesWhilePinned(t *testing.T) {
	m := NewManager(2, nil)
	id, _, err := m.NewPage()
	require.NoError(t, err)

	err = m.DeletePage(id)
	assert.ErrorIs(t, err, common.ErrPagePinned)
}

func TestDeletePageFreesFrameForReuse(t *testing.T) {
	m := NewManager(1, nil)
	id, _, err := m.NewPage()
	require.NoError(t, err)
	require.NoError(t, m.UnpinPage(id, false))
	require.NoError(t, m.DeletePage(id))

	_, ok := m.pageTable[id]
	assert.False(t, ok)
	assert.Len(t, m.freeList, 1)
}

func TestCheckAllUnpinnedReflectsPinState(t *testing.T) {
	m := NewManager(4, nil)
	id, _, err := m.NewPage()
	require.NoError(t, err)

	assert.False(t, m.CheckAllUnpinned())
	require.NoError(t, m.UnpinPage(id, false))
	assert.True(t, m.CheckAllUnpinned())
}

func TestEvictedDirtyPageFlushesThroughDiskManager(t *testing.T) {
	dir := t.TempDir()
	disk, err := NewDiskManager(dir + "/pages.db")
	require.NoError(t, err)
	defer disk.Close()

	m := NewManager(1, disk)

	id1, page1, err := m.NewPage()
	require.NoError(t, err)
	page1.Data[0] = 0x7a
	require.NoError(t, m.UnpinPage(id1, true))

	// Forces eviction of id1's frame, which must flush to disk first.
	id2, _, err := m.NewPage()
	require.NoError(t, err)
	require.NoError(t, m.UnpinPage(id2, false))

	refetched, err := m.FetchPage(id1)
	require.NoError(t, err)
	assert.Equal(t, byte(0x7a), refetched.Data[0])
}

func TestCloseRejectsFurtherOperations(t *testing.T) {
	m := NewManager(4, nil)
	id, _, err := m.NewPage()
	require.NoError(t, err)
	require.NoError(t, m.UnpinPage(id, false))

	require.NoError(t, m.Close())

	_, _, err = m.NewPage()
	assert.ErrorIs(t, err, common.ErrClosed)

	_, err = m.FetchPage(id)
	assert.ErrorIs(t, err, common.ErrClosed)

	err = m.UnpinPage(id, false)
	assert.ErrorIs(t, err, common.ErrClosed)

	err = m.DeletePage(id)
	assert.ErrorIs(t, err, common.ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewManager(4, nil)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestCloseFlushesDirtyFramesThroughDiskManager(t *testing.T) {
	dir := t.TempDir()
	disk, err := NewDiskManager(dir + "/pages.db")
	require.NoError(t, err)
	defer disk.Close()

	m := NewManager(4, disk)
	id, page, err := m.NewPage()
	require.NoError(t, err)
	page.Data[0] = 0x99
	require.NoError(t, m.UnpinPage(id, true))

	require.NoError(t, m.Close())

	var buf [PageSize]byte
	require.NoError(t, disk.ReadPage(id, &buf))
	assert.Equal(t, byte(0x99), buf[0])
}
