package buffer

import (
	"fmt"
	"os"

	"github.com/coursedb/indexlayer/common"
)

// DiskManager backs a Manager with a flat file of fixed PageSize slots,
// indexed by page id. It exists so an evicted dirty frame isn't simply
// lost (see Manager's doc comment) without pulling in the write-ahead
// logging, checkpointing, or crash recovery that would make it a durable
// store — those stay a Non-goal for the index layer itself.
type DiskManager struct {
	file *os.File
}

// NewDiskManager opens (creating if necessary) the backing file at path.
func NewDiskManager(path string) (*DiskManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open page file: %w", err)
	}
	return &DiskManager{file: f}, nil
}

// ReadPage loads page id's slot into buf. A slot that was never written
// (a brand-new page id beyond the current file length) reads as zeros.
func (d *DiskManager) ReadPage(id common.PageID, buf *[PageSize]byte) error {
	offset := int64(id) * PageSize

	n, err := d.file.ReadAt(buf[:], offset)
	if err != nil && n == 0 {
		// Slot past end of file: treat as an all-zero page rather than
		// an error, matching a page that was allocated but never flushed.
		*buf = [PageSize]byte{}
		return nil
	}
	if err != nil && n < PageSize {
		return fmt.Errorf("short read for page %d: got %d of %d bytes: %w", id, n, PageSize, err)
	}
	return nil
}

// WritePage flushes buf to page id's slot.
func (d *DiskManager) WritePage(id common.PageID, buf *[PageSize]byte) error {
	offset := int64(id) * PageSize
	if _, err := d.file.WriteAt(buf[:], offset); err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	return nil
}

// FreePage is a no-op placeholder: the slot is left in place (it will be
// overwritten if its page id is reallocated) since there is no free-list
// persisted on disk — shrinking the backing file is not attempted.
func (d *DiskManager) FreePage(common.PageID) {}

// Close closes the backing file.
func (d *DiskManager) Close() error {
	return d.file.Close()
}
