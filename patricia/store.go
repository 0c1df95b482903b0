// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package patricia

//go:generate mockgen -source store.go -destination store_mocks.go -package patricia

import (
	"github.com/stratisproject/StratisPatricia/common"
	"golang.org/x/exp/maps"
)

const (
	// ErrNotFound is returned by a Store when the requested key is absent.
	ErrNotFound = common.ConstError("not found")

	// ErrMissingNode indicates that a node's hash is present in memory but
	// the store has no entry under that hash. The trie is corrupted
	// relative to its store and must be rebuilt from a known-good root.
	ErrMissingNode = common.ConstError("missing node in store")

	// ErrInvalidState indicates a violation of the trie's structural
	// invariants, caused by a logic error or a corrupted store.
	ErrInvalidState = common.ConstError("invalid trie state")
)

// Store is a content-addressed byte store the trie persists its nodes in.
// Keys are 32-byte hashes, values RLP-encoded node serializations. The trie
// never assumes the store is transactional; writes may become visible
// before a flush completes.
type Store interface {
	// Get returns the value stored under the given key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Put sets the value stored under the given key, overwriting any
	// previous value.
	Put(key []byte, value []byte) error

	// Delete removes the value stored under the given key. Deleting an
	// absent key is not an error.
	Delete(key []byte) error
}

// Hasher derives the content address of a node serialization. It must be
// deterministic and collision-resistant; trie structures sharing a store
// must share a hasher.
type Hasher interface {
	Hash(data []byte) common.Hash
}

// KeccakHasher is the reference Hasher producing Keccak-256 hashes, the
// choice compatible with Ethereum's state and storage tries.
type KeccakHasher struct{}

func (KeccakHasher) Hash(data []byte) common.Hash {
	return common.Keccak256(data)
}

// ----------------------------------------------------------------------------
//                             In-Memory Store
// ----------------------------------------------------------------------------

// InMemoryStore is a volatile Store backed by a map, the reference
// implementation used in tests and for short-lived tries.
type InMemoryStore struct {
	data map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: map[string][]byte{}}
}

func (s *InMemoryStore) Get(key []byte) ([]byte, error) {
	value, exists := s.data[string(key)]
	if !exists {
		return nil, ErrNotFound
	}
	res := make([]byte, len(value))
	copy(res, value)
	return res, nil
}

func (s *InMemoryStore) Put(key []byte, value []byte) error {
	copied := make([]byte, len(value))
	copy(copied, value)
	s.data[string(key)] = copied
	return nil
}

func (s *InMemoryStore) Delete(key []byte) error {
	delete(s.data, string(key))
	return nil
}

// Size returns the number of entries in the store.
func (s *InMemoryStore) Size() int {
	return len(s.data)
}

// Keys returns the keys of all entries in the store, in no particular
// order. Intended for tests asserting disposal behavior.
func (s *InMemoryStore) Keys() [][]byte {
	keys := maps.Keys(s.data)
	res := make([][]byte, 0, len(keys))
	for _, key := range keys {
		res = append(res, []byte(key))
	}
	return res
}
