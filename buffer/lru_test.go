package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUReplacerVictimIsLeastRecentlyInserted(t *testing.T) {
	r := NewLRUReplacer[int]()
	r.Insert(1)
	r.Insert(2)
	r.Insert(3)
	assert.Equal(t, 3, r.Size())

	v, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, r.Size())

	v, ok = r.Victim()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLRUReplacerReinsertMovesToMostRecentlyUsed(t *testing.T) {
	r := NewLRUReplacer[int]()
	r.Insert(1)
	r.Insert(2)
	r.Insert(1) // touching 1 again should push it behind 2

	v, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = r.Victim()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestLRUReplacerEraseRemovesCandidate(t *testing.T) {
	r := NewLRUReplacer[int]()
	r.Insert(1)
	r.Insert(2)

	assert.True(t, r.Erase(1))
	assert.False(t, r.Erase(1))
	assert.Equal(t, 1, r.Size())

	v, ok := r.Victim()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLRUReplacerVictimOnEmptyReplacer(t *testing.T) {
	r := NewLRUReplacer[int]()
	_, ok := r.Victim()
	assert.False(t, ok)
}
