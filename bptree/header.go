package bptree

import (
	"encoding/binary"

	"github.com/coursedb/indexlayer/buffer"
	"github.com/coursedb/indexlayer/common"
)

// headerPage persists the index_name -> root_page_id mapping for every
// tree sharing a buffer pool, at the fixed common.HeaderPageID page.
// Layout: [count uint32][ (nameLen uint16, name bytes, rootPageID int32) ]*
// Small and linearly scanned; the number of named indexes in this
// layer is expected to be a handful, never large enough to need an
// index of its own.
type headerPage struct {
	raw *buffer.Page
}

func fetchHeaderPage(bpm *buffer.Manager) (*headerPage, error) {
	raw, err := bpm.FetchPage(common.HeaderPageID)
	if err != nil {
		return nil, err
	}
	return &headerPage{raw: raw}, nil
}

type headerRecord struct {
	name       string
	rootPageID common.PageID
}

func (h *headerPage) records() []headerRecord {
	data := h.raw.Data[:]
	count := binary.BigEndian.Uint32(data[0:4])
	out := make([]headerRecord, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.BigEndian.Uint16(data[off : off+2]))
		off += 2
		name := string(data[off : off+nameLen])
		off += nameLen
		rootID := common.PageID(int32(binary.BigEndian.Uint32(data[off : off+4])))
		off += 4
		out = append(out, headerRecord{name: name, rootPageID: rootID})
	}
	return out
}

func (h *headerPage) write(records []headerRecord) {
	data := h.raw.Data[:]
	binary.BigEndian.PutUint32(data[0:4], uint32(len(records)))
	off := 4
	for _, r := range records {
		binary.BigEndian.PutUint16(data[off:off+2], uint16(len(r.name)))
		off += 2
		off += copy(data[off:], r.name)
		binary.BigEndian.PutUint32(data[off:off+4], uint32(int32(r.rootPageID)))
		off += 4
	}
}

// GetRootPageID looks up name's current root page id, returning
// common.InvalidPageID if the index has never registered one.
func (h *headerPage) GetRootPageID(name string) common.PageID {
	for _, r := range h.records() {
		if r.name == name {
			return r.rootPageID
		}
	}
	return common.InvalidPageID
}

// InsertRecord registers name's root for the first time.
func (h *headerPage) InsertRecord(name string, rootPageID common.PageID) {
	recs := h.records()
	recs = append(recs, headerRecord{name: name, rootPageID: rootPageID})
	h.write(recs)
}

// UpdateRecord rewrites name's root after a structural root change.
// If name was never registered, behaves like InsertRecord.
func (h *headerPage) UpdateRecord(name string, rootPageID common.PageID) {
	recs := h.records()
	for i := range recs {
		if recs[i].name == name {
			recs[i].rootPageID = rootPageID
			h.write(recs)
			return
		}
	}
	h.InsertRecord(name, rootPageID)
}
