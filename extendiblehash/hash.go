// Package extendiblehash implements a dynamically resizing hash table:
// a directory of 2^G bucket handles indexed by the low G bits of a key's
// hash, doubling the directory whenever a bucket's local depth would
// exceed the table's global depth. It is the in-memory analogue of
// src/hash/extendible_hash.cpp in a CMU-style storage course: the same
// directory-doubling, bucket-splitting design, generalized here with Go
// generics so it can back either the buffer pool's own page table
// (PageID -> FrameID) or a user-facing key/value index.
package extendiblehash

import (
	"sync"

	"github.com/krotik/common/bitutil"
	"github.com/krotik/common/errorutil"
	"github.com/krotik/common/logutil"

	"github.com/coursedb/indexlayer/common"
)

var log = logutil.GetLogger("extendiblehash")

// Hasher computes a key's hash. Callers supply one at construction time
// the way C++'s std::hash<K> is supplied implicitly; Go has no equivalent
// built in, so it is explicit here instead.
type Hasher[K comparable] func(key K) uint64

// HashBytes hashes a byte slice with MurmurHash3, for use as a Hasher
// over GenericKey[N] keys (GenericKey's backing array is sliced to
// []byte before calling in). The seed is fixed so the same key always
// maps to the same directory slot across the process lifetime.
func HashBytes(b []byte) uint64 {
	h, err := bitutil.MurMurHashData(b, 0, len(b), 0)
	errorutil.AssertTrue(err == nil, "murmur hash of a fixed-size key slice cannot fail")
	return uint64(h)
}

// ExtendibleHash is a directory-indexed hash table mapping keys to
// values. All methods are safe for concurrent use. Lock ordering is
// always bucket-latch then directory-latch (never the reverse), so a
// split in progress can never lose a concurrent insert into the bucket
// it is splitting.
type ExtendibleHash[K comparable, V any] struct {
	dirMu       sync.RWMutex
	globalDepth int
	dir         []*bucket[K, V]
	bucketCount int

	bucketSize int
	hash       Hasher[K]
}

// New creates an extendible hash table with one bucket of the given
// capacity (B in spec terms) and global depth 0.
func New[K comparable, V any](bucketSize int, hash Hasher[K]) *ExtendibleHash[K, V] {
	if bucketSize < 1 {
		bucketSize = 1
	}
	root := newBucket[K, V](0, bucketSize)
	return &ExtendibleHash[K, V]{
		globalDepth: 0,
		dir:         []*bucket[K, V]{root},
		bucketCount: 1,
		bucketSize:  bucketSize,
		hash:        hash,
	}
}

// index returns the directory slot for key and the bucket currently
// occupying it, under a shared directory latch.
func (h *ExtendibleHash[K, V]) index(key K) (int, *bucket[K, V]) {
	h.dirMu.RLock()
	defer h.dirMu.RUnlock()

	mask := uint64(len(h.dir) - 1)
	idx := int(h.hash(key) & mask)
	return idx, h.dir[idx]
}

// Find returns the value associated with key, if any.
func (h *ExtendibleHash[K, V]) Find(key K) (V, bool) {
	_, b := h.index(key)

	b.mu.Lock()
	// A split may have moved key's slot to a new bucket while we waited.
	for _, cur := h.index(key); cur != b; _, cur = h.index(key) {
		b.mu.Unlock()
		b = cur
		b.mu.Lock()
	}
	defer b.mu.Unlock()

	v, ok := b.data[key]
	return v, ok
}

// Remove deletes key, reporting whether it was present. The directory
// never shrinks afterward (shrinking is explicitly out of scope).
func (h *ExtendibleHash[K, V]) Remove(key K) bool {
	_, b := h.index(key)

	b.mu.Lock()
	// A split may have moved key's slot to a new bucket while we waited.
	for _, cur := h.index(key); cur != b; _, cur = h.index(key) {
		b.mu.Unlock()
		b = cur
		b.mu.Lock()
	}
	defer b.mu.Unlock()

	if _, ok := b.data[key]; !ok {
		return false
	}
	delete(b.data, key)
	return true
}

// Insert upserts key -> value, splitting the target bucket (and, if
// needed, doubling the directory) when it would otherwise overflow.
func (h *ExtendibleHash[K, V]) Insert(key K, value V) {
	for {
		_, b := h.index(key)

		b.mu.Lock()
		if _, cur := h.index(key); cur != b {
			// A split moved key's slot to a new bucket while we waited.
			b.mu.Unlock()
			continue
		}
		if _, exists := b.data[key]; exists || len(b.data) < h.bucketSize {
			b.data[key] = value
			b.mu.Unlock()
			return
		}

		// b is full and key is new: split before retrying. The bucket
		// latch is held across the directory mutation below (lock order
		// bucket -> directory, never the reverse) so no concurrent
		// insert into b can be lost mid-split.
		h.split(b)
		b.mu.Unlock()
	}
}

// split grows b's local depth by one, doubling the directory first if
// that would exceed the global depth, then rehashes b's entries between
// it and a newly allocated sibling. Caller must hold b.mu.
func (h *ExtendibleHash[K, V]) split(b *bucket[K, V]) {
	preSplitDepth := b.localDepth
	mask := uint64(1) << preSplitDepth
	b.localDepth++

	h.dirMu.Lock()
	defer h.dirMu.Unlock()

	if b.localDepth > h.globalDepth {
		h.dir = append(h.dir, h.dir...)
		h.globalDepth++
	}

	sibling := newBucket[K, V](b.localDepth, h.bucketSize)
	h.bucketCount++

	for k, v := range b.data {
		if h.hash(k)&mask != 0 {
			sibling.data[k] = v
			delete(b.data, k)
		}
	}

	for i, slot := range h.dir {
		if slot == b && uint64(i)&mask != 0 {
			h.dir[i] = sibling
		}
	}

	log.Debug("split bucket at local depth ", preSplitDepth, " -> global depth ", h.globalDepth)
}

// Stats reports the table's current shape. It snapshots the deduped
// bucket set and global depth under the directory latch, then releases
// it before taking any bucket latch: locking a bucket while still
// holding the directory latch would be the D -> B_i order, the reverse
// of split's B_i -> D, and the two orders on the same pair of locks can
// deadlock against a concurrent split. See the lock-ordering note on
// Insert/split.
func (h *ExtendibleHash[K, V]) Stats() common.Stats {
	h.dirMu.RLock()
	globalDepth := h.globalDepth
	seen := make(map[*bucket[K, V]]bool, h.bucketCount)
	var buckets []*bucket[K, V]
	for _, b := range h.dir {
		if seen[b] {
			continue
		}
		seen[b] = true
		buckets = append(buckets, b)
	}
	h.dirMu.RUnlock()

	var numKeys int64
	for _, b := range buckets {
		b.mu.Lock()
		numKeys += int64(len(b.data))
		b.mu.Unlock()
	}

	return common.Stats{
		NumKeys:     numKeys,
		GlobalDepth: globalDepth,
		NumBuckets:  len(buckets),
	}
}

// GlobalDepth returns the current number of directory-indexing bits.
func (h *ExtendibleHash[K, V]) GlobalDepth() int {
	h.dirMu.RLock()
	defer h.dirMu.RUnlock()
	return h.globalDepth
}
