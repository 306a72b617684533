// Package merkle computes a deterministic minimal height Merkle tree hash.
// If the number of items is not a power of two, some leaves will be at
// different levels. Tries to keep both sides of the tree the same size, but
// the left may be one greater.
//
// The tree hashes follow RFC 6962: leaves and inner nodes are hashed under
// distinct domain prefixes, so the root of one tree can never collide with a
// leaf or inner node of another.
package merkle

import (
	"math/bits"

	"github.com/roundstep/roundstep/crypto"
)

// domain separation prefixes, per RFC 6962
var (
	leafPrefix  = []byte{0}
	innerPrefix = []byte{1}
)

// HashFromByteSlices computes a Merkle tree where the leaves are the byte
// slices in the provided order.
func HashFromByteSlices(items [][]byte) []byte {
	switch len(items) {
	case 0:
		return emptyHash()
	case 1:
		return leafHash(items[0])
	default:
		k := getSplitPoint(int64(len(items)))
		left := HashFromByteSlices(items[:k])
		right := HashFromByteSlices(items[k:])
		return innerHash(left, right)
	}
}

// getSplitPoint returns the largest power of 2 less than length.
func getSplitPoint(length int64) int64 {
	if length < 1 {
		panic("Trying to split a tree with size < 1")
	}
	uLength := uint64(length)
	bitlen := bits.Len64(uLength)
	k := int64(1 << uint(bitlen-1))
	if k == length {
		k >>= 1
	}
	return k
}

// returns sha256(<empty>)
func emptyHash() []byte {
	return crypto.Checksum([]byte{})
}

// returns sha256(0x00 || leaf)
func leafHash(leaf []byte) []byte {
	return crypto.Checksum(append(leafPrefix, leaf...))
}

// returns sha256(0x01 || left || right)
func innerHash(left, right []byte) []byte {
	data := make([]byte, len(innerPrefix)+len(left)+len(right))
	n := copy(data, innerPrefix)
	n += copy(data[n:], left)
	copy(data[n:], right)
	return crypto.Checksum(data)
}
