// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package patricia implements an authenticated, persistent, ordered
// key-value map as a Merkle Patricia Trie. Every node is addressed by the
// hash of its serialized form and the hash of the root node authenticates
// the entire map: re-loading a previously observed root hash against the
// same store yields the exact same logical content. The wire format is
// bit-exact with Ethereum's state and storage tries.
package patricia

import (
	"fmt"

	"github.com/stratisproject/StratisPatricia/common"
	"github.com/stratisproject/StratisPatricia/patricia/rlp"
)

// Trie is a Merkle Patricia Trie on top of a content-addressed store.
// Mutations are accumulated in memory on dirty nodes; RootHash and Flush
// serialize dirty nodes into the store, children before parents.
//
// A Trie is not safe for concurrent use. Callers desiring concurrency must
// serialize all operations through a single owner and snapshot via RootHash
// and SetRoot on an independent instance sharing the same store.
type Trie struct {
	store  Store
	hasher Hasher

	// The root node, nil for an empty trie.
	root *Node

	// The root hash of an empty trie, the hash of the RLP encoding of the
	// empty string.
	emptyTrieHash common.Hash
}

// NewTrie creates an empty trie persisting its nodes in the given store,
// addressed by the given hasher. Both are retained for the lifetime of the
// trie.
func NewTrie(store Store, hasher Hasher) *Trie {
	return &Trie{
		store:         store,
		hasher:        hasher,
		emptyTrieHash: hasher.Hash(rlp.Encode(rlp.String{})),
	}
}

// EmptyTrieHash returns the root hash of an empty trie.
func (t *Trie) EmptyTrieHash() common.Hash {
	return t.emptyTrieHash
}

// Get returns the value stored under the given key, or nil if the key is
// not present. The returned slice must not be modified.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return t.get(t.root, KeyFromBytes(key))
}

// Put associates the given value with the given key. Putting a zero-length
// value removes the key. Key and value are copied.
func (t *Trie) Put(key []byte, value []byte) error {
	if len(value) == 0 {
		return t.Delete(key)
	}
	k := KeyFromBytes(copyBytes(key))
	v := copyBytes(value)
	if t.root == nil {
		t.root = newLeafNode(k, v)
		return nil
	}
	root, err := t.insert(t.root, k, payload{value: v})
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

// Delete removes the value stored under the given key. Deleting an absent
// key is a no-op.
func (t *Trie) Delete(key []byte) error {
	if t.root == nil {
		return nil
	}
	root, changed, err := t.delete(t.root, KeyFromBytes(key))
	if err != nil {
		return err
	}
	if changed {
		t.root = root
	}
	return nil
}

// RootHash forces the encoding of all dirty nodes into the store and
// returns the resulting root hash. The root node is always hashed and
// stored, regardless of its serialized size.
func (t *Trie) RootHash() (common.Hash, error) {
	if t.root == nil {
		return t.emptyTrieHash, nil
	}
	if _, err := t.root.encode(t.store, t.hasher, true); err != nil {
		return common.Hash{}, err
	}
	return *t.root.hash, nil
}

// SetRoot discards the current in-memory root and re-roots the trie at the
// given hash. The empty-trie hash and the zero hash both yield an empty
// trie; any other root is resolved lazily from the store on first access.
func (t *Trie) SetRoot(hash common.Hash) {
	if hash == t.emptyTrieHash || hash == (common.Hash{}) {
		t.root = nil
		return
	}
	t.root = nodeFromHash(hash)
}

// Flush encodes the root into the store if it is dirty and replaces the
// in-memory root with a hash-only stub, releasing all resolved nodes. It
// returns whether anything was written.
func (t *Trie) Flush() (bool, error) {
	if t.root == nil || !t.root.dirty {
		return false, nil
	}
	if _, err := t.root.encode(t.store, t.hasher, true); err != nil {
		return false, err
	}
	t.root = nodeFromHash(*t.root.hash)
	return true, nil
}

func (t *Trie) get(n *Node, key Key) ([]byte, error) {
	if n == nil {
		return nil, nil
	}
	if err := n.parse(t.store); err != nil {
		return nil, err
	}
	switch content := n.parsed.(type) {
	case *branchContent:
		if key.IsEmpty() {
			return content.value, nil
		}
		return t.get(content.children[key.Get(0)], key.Shift(1))
	case *kvContent:
		residue, matches := key.MatchAndShift(content.key)
		if !matches {
			return nil, nil
		}
		if content.child == nil {
			if residue.IsEmpty() {
				return content.value, nil
			}
			return nil, nil
		}
		return t.get(content.child, residue)
	default:
		return nil, fmt.Errorf("%w: node without content", ErrInvalidState)
	}
}

// payload is the subject of an insertion: a raw value creating a leaf, or
// an already constructed sub-node re-attached while splitting a kv node.
type payload struct {
	value []byte
	node  *Node
}

// insert adds the payload under the given key into the subtrie rooted at
// the given node and returns the node taking its place.
func (t *Trie) insert(n *Node, key Key, p payload) (*Node, error) {
	if err := n.parse(t.store); err != nil {
		return nil, err
	}
	switch content := n.parsed.(type) {
	case *branchContent:
		return t.insertIntoBranch(n, content, key, p)
	case *kvContent:
		return t.insertIntoKv(n, content, key, p)
	default:
		return nil, fmt.Errorf("%w: node without content", ErrInvalidState)
	}
}

func (t *Trie) insertIntoBranch(n *Node, content *branchContent, key Key, p payload) (*Node, error) {
	if key.IsEmpty() {
		if p.node != nil {
			return nil, fmt.Errorf("%w: sub-node insertion at branch value slot", ErrInvalidState)
		}
		content.value = p.value
		n.markDirty()
		return n, nil
	}
	index := key.Get(0)
	shifted := key.Shift(1)
	child := content.children[index]
	if child == nil {
		content.children[index] = t.newChildFor(shifted, p)
		n.markDirty()
		return n, nil
	}
	child, err := t.insert(child, shifted, p)
	if err != nil {
		return nil, err
	}
	content.children[index] = child
	n.markDirty()
	return n, nil
}

// newChildFor creates the node populating a previously empty branch slot:
// a leaf for a value payload, the payload node itself if its key is
// exhausted, or an extension carrying the remaining key otherwise.
func (t *Trie) newChildFor(key Key, p payload) *Node {
	if p.node == nil {
		return newLeafNode(key, p.value)
	}
	if key.IsEmpty() {
		return p.node
	}
	return newExtensionNode(key, p.node)
}

func (t *Trie) insertIntoKv(n *Node, content *kvContent, key Key, p payload) (*Node, error) {
	prefix := key.CommonPrefix(content.key)

	// The keys agree entirely: overwrite the value or child in place. A
	// value ending exactly at an extension belongs to the value slot of
	// the branch the extension forwards to and descends below instead.
	if prefix.Length() == key.Length() && prefix.Length() == content.key.Length() {
		if content.child == nil || p.node != nil {
			content.child = p.node
			content.value = p.value
			n.markDirty()
			return n, nil
		}
	}

	// The node's key is a (possibly full) prefix and the node forwards to
	// a child: descend into it with the remaining key.
	if prefix.Length() == content.key.Length() && content.child != nil {
		child, err := t.insert(content.child, key.Shift(prefix.Length()), p)
		if err != nil {
			return nil, err
		}
		content.child = child
		n.markDirty()
		return n, nil
	}

	// The keys diverge: split into a branch holding the two residues, the
	// current node's value-or-child and the new payload. The branch is
	// reached through an extension when a common prefix remains.
	branch := newBranchNode()
	branchView := branch.parsed.(*branchContent)
	if _, err := t.insertIntoBranch(branch, branchView, content.key.Shift(prefix.Length()), payload{value: content.value, node: content.child}); err != nil {
		return nil, err
	}
	if _, err := t.insertIntoBranch(branch, branchView, key.Shift(prefix.Length()), p); err != nil {
		return nil, err
	}
	if err := n.dispose(t.store); err != nil {
		return nil, err
	}
	if prefix.IsEmpty() {
		return branch, nil
	}
	return newExtensionNode(prefix, branch), nil
}

// delete removes the given key from the subtrie rooted at the given node.
// It returns the node taking its place, nil if the subtrie became empty,
// and whether anything changed. The trie is reduced to its canonical form
// on the way up: branches left with a single entry are compacted, and kv
// nodes are merged with kv children.
func (t *Trie) delete(n *Node, key Key) (*Node, bool, error) {
	if err := n.parse(t.store); err != nil {
		return nil, false, err
	}
	switch content := n.parsed.(type) {
	case *branchContent:
		return t.deleteFromBranch(n, content, key)
	case *kvContent:
		return t.deleteFromKv(n, content, key)
	default:
		return nil, false, fmt.Errorf("%w: node without content", ErrInvalidState)
	}
}

func (t *Trie) deleteFromBranch(n *Node, content *branchContent, key Key) (*Node, bool, error) {
	if key.IsEmpty() {
		if content.value == nil {
			return n, false, nil
		}
		content.value = nil
		n.markDirty()
		return t.compactBranch(n, content)
	}
	index := key.Get(0)
	child := content.children[index]
	if child == nil {
		return n, false, nil
	}
	child, changed, err := t.delete(child, key.Shift(1))
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return n, false, nil
	}
	content.children[index] = child
	n.markDirty()
	if child != nil {
		// The branch kept at least as many entries as before.
		return n, true, nil
	}
	return t.compactBranch(n, content)
}

// compactBranch reduces a branch that may have shrunk below two entries to
// its canonical replacement: a leaf when only the value slot remains, or a
// kv node absorbing the single remaining child.
func (t *Trie) compactBranch(n *Node, content *branchContent) (*Node, bool, error) {
	index := content.compactIndex()
	if index < 0 {
		return n, true, nil
	}
	if index == 16 {
		leaf := newLeafNode(EmptyKey(), content.value)
		if err := n.dispose(t.store); err != nil {
			return nil, false, err
		}
		return leaf, true, nil
	}
	child := content.children[index]
	if err := child.parse(t.store); err != nil {
		return nil, false, err
	}
	if kv, isKv := child.parsed.(*kvContent); isKv {
		// Absorb the child by prepending the branch index to its key.
		merged, err := SingleNibbleKey(Nibble(index)).Concat(kv.key)
		if err != nil {
			return nil, false, err
		}
		res := &Node{parsed: &kvContent{key: merged, child: kv.child, value: kv.value}, dirty: true}
		if err := child.dispose(t.store); err != nil {
			return nil, false, err
		}
		if err := n.dispose(t.store); err != nil {
			return nil, false, err
		}
		return res, true, nil
	}
	res := newExtensionNode(SingleNibbleKey(Nibble(index)), child)
	if err := n.dispose(t.store); err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func (t *Trie) deleteFromKv(n *Node, content *kvContent, key Key) (*Node, bool, error) {
	residue, matches := key.MatchAndShift(content.key)
	if !matches {
		return n, false, nil
	}
	if content.child == nil {
		if !residue.IsEmpty() {
			return n, false, nil
		}
		if err := n.dispose(t.store); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}
	child, changed, err := t.delete(content.child, residue)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return n, false, nil
	}
	if child == nil {
		// An extension always forwards to a subtrie holding at least two
		// entries; deleting one cannot empty it.
		return nil, false, fmt.Errorf("%w: deletion emptied an extension child", ErrInvalidState)
	}
	content.child = child
	n.markDirty()
	if err := child.parse(t.store); err != nil {
		return nil, false, err
	}
	if kv, isKv := child.parsed.(*kvContent); isKv {
		// Merge kv chains produced by compacting the child.
		merged, err := content.key.Concat(kv.key)
		if err != nil {
			return nil, false, err
		}
		content.key = merged
		content.child = kv.child
		content.value = kv.value
		if err := child.dispose(t.store); err != nil {
			return nil, false, err
		}
	}
	return n, true, nil
}

func copyBytes(data []byte) []byte {
	res := make([]byte, len(data))
	copy(res, data)
	return res
}
