package extendiblehash

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intHasher(k int) uint64 { return uint64(k) }

func TestNewStartsAtGlobalDepthZero(t *testing.T) {
	h := New[int, string](4, intHasher)
	assert.Equal(t, 0, h.GlobalDepth())

	stats := h.Stats()
	assert.Equal(t, 0, stats.GlobalDepth)
	assert.Equal(t, 1, stats.NumBuckets)
	assert.Equal(t, int64(0), stats.NumKeys)
}

func TestInsertFindRemove(t *testing.T) {
	h := New[int, string](4, intHasher)

	h.Insert(1, "one")
	h.Insert(2, "two")

	v, ok := h.Find(1)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	v, ok = h.Find(2)
	require.True(t, ok)
	assert.Equal(t, "two", v)

	_, ok = h.Find(3)
	assert.False(t, ok)

	assert.True(t, h.Remove(1))
	_, ok = h.Find(1)
	assert.False(t, ok)

	assert.False(t, h.Remove(1))
}

func TestInsertOverwritesExistingKey(t *testing.T) {
	h := New[int, string](4, intHasher)
	h.Insert(1, "one")
	h.Insert(1, "uno")

	v, ok := h.Find(1)
	require.True(t, ok)
	assert.Equal(t, "uno", v)

	assert.Equal(t, int64(1), h.Stats().NumKeys)
}

// TestBucketSplitGrowsDirectory drives enough inserts through a
// bucketSize-1 table that a split must occur, then checks the directory
// grew and every key originally inserted is still reachable.
func TestBucketSplitGrowsDirectory(t *testing.T) {
	h := New[int, int](1, intHasher)

	const n = 64
	for i := 0; i < n; i++ {
		h.Insert(i, i*10)
	}

	for i := 0; i < n; i++ {
		v, ok := h.Find(i)
		require.Truef(t, ok, "key %d missing after inserts", i)
		assert.Equal(t, i*10, v)
	}

	assert.Greater(t, h.GlobalDepth(), 0)

	stats := h.Stats()
	assert.Equal(t, int64(n), stats.NumKeys)
	assert.GreaterOrEqual(t, stats.NumBuckets, 2)
}

// TestLocalDepthNeverExceedsGlobalDepth checks the directory invariant
// directly against every distinct bucket reachable from the directory.
func TestLocalDepthNeverExceedsGlobalDepth(t *testing.T) {
	h := New[int, int](2, intHasher)
	for i := 0; i < 200; i++ {
		h.Insert(i, i)
	}

	h.dirMu.RLock()
	defer h.dirMu.RUnlock()

	seen := make(map[*bucket[int, int]]bool)
	for _, b := range h.dir {
		if seen[b] {
			continue
		}
		seen[b] = true
		assert.LessOrEqualf(t, b.localDepth, h.globalDepth,
			"bucket local depth %d exceeds global depth %d", b.localDepth, h.globalDepth)
	}
}

func TestConcurrentInsertAndFind(t *testing.T) {
	h := New[int, string](4, intHasher)

	var wg sync.WaitGroup
	const workers = 8
	const perWorker = 500

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := worker*perWorker + i
				h.Insert(key, fmt.Sprintf("v%d", key))
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			key := w*perWorker + i
			v, ok := h.Find(key)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprintf("v%d", key), v)
		}
	}

	assert.Equal(t, int64(workers*perWorker), h.Stats().NumKeys)
}

func TestHashBytesStableForEqualInput(t *testing.T) {
	a := HashBytes([]byte("the-same-key"))
	b := HashBytes([]byte("the-same-key"))
	assert.Equal(t, a, b)

	c := HashBytes([]byte("a-different-key"))
	assert.NotEqual(t, a, c)
}
