package common

import "errors"

var (
	// ErrClosed is returned by buffer.Manager's FetchPage, NewPage,
	// UnpinPage and DeletePage once Close has been called on it.
	ErrClosed = errors.New("buffer pool: closed")

	// ErrOutOfMemory is returned when the buffer pool has no free frame
	// and no unpinned victim to evict. Structural operations (split,
	// coalesce, new root) surface it to the caller rather than panicking,
	// since it reflects pool exhaustion rather than a corrupt structure.
	ErrOutOfMemory = errors.New("buffer pool: out of frames")

	ErrPageNotFound = errors.New("buffer pool: page not found")
	ErrPagePinned   = errors.New("buffer pool: cannot delete a pinned page")
)
