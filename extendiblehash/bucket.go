package extendiblehash

import "sync"

// bucket is a leaf of the hash directory: a bounded map guarded by its
// own mutex, plus the local depth that determines which directory slots
// may point at it. Every directory slot whose low localDepth bits match
// this bucket's signature points here, and no other slot does.
type bucket[K comparable, V any] struct {
	mu         sync.Mutex
	localDepth int
	data       map[K]V
}

func newBucket[K comparable, V any](localDepth, size int) *bucket[K, V] {
	return &bucket[K, V]{
		localDepth: localDepth,
		data:       make(map[K]V, size),
	}
}
