package common

import (
	"encoding/hex"
)

// HashSize is the byte length of a Hash.
const HashSize = 32

// Hash is a 32-byte content address. Every node of a trie is referenced by
// the hash of its serialized form, and the hash of the root node
// authenticates the full key/value content of the trie.
type Hash [HashSize]byte

// HashFromBytes copies the given slice into a Hash. Slices shorter than
// HashSize are zero-padded at the end, longer ones are truncated.
func HashFromBytes(data []byte) Hash {
	var h Hash
	copy(h[:], data)
	return h
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}
