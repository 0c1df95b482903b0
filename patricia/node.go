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

import (
	"errors"
	"fmt"

	"github.com/stratisproject/StratisPatricia/common"
	"github.com/stratisproject/StratisPatricia/patricia/rlp"
)

// Node is the in-memory record of a single trie node. A node may be present
// in three forms, any combination of which can be populated at a time:
//
//   - hash: the content address under which the serialized node is stored;
//   - serialized: the cached RLP serialization;
//   - parsed: the decoded structural view, one of branchContent or kvContent.
//
// At least one of the three is populated at all times. Nodes referenced only
// by hash are resolved from the store on first access; nodes whose
// serialization is shorter than 32 bytes are embedded into their parent's
// serialization instead of being stored under their hash.
//
// A dirty node's hash and serialization are stale and are refreshed by
// encode before they can be observed.
type Node struct {
	hash       *common.Hash
	serialized []byte
	parsed     nodeContent
	dirty      bool
}

// nodeContent is the decoded structural view of a node.
type nodeContent interface {
	isNodeContent()
}

// branchContent is a node with 16 child slots, one per nibble value, plus a
// terminal value slot for the key ending at this node.
type branchContent struct {
	children [16]*Node
	value    []byte
}

// kvContent is a node carrying a key fragment and either a child node
// (extension, non-terminal key) or a stored value (leaf, terminal key).
type kvContent struct {
	key   Key
	child *Node
	value []byte
}

func (*branchContent) isNodeContent() {}
func (*kvContent) isNodeContent()     {}

func newBranchNode() *Node {
	return &Node{parsed: &branchContent{}, dirty: true}
}

func newLeafNode(key Key, value []byte) *Node {
	return &Node{parsed: &kvContent{key: key.asTerminal(), value: value}, dirty: true}
}

func newExtensionNode(key Key, child *Node) *Node {
	return &Node{parsed: &kvContent{key: key, child: child}, dirty: true}
}

func nodeFromHash(hash common.Hash) *Node {
	return &Node{hash: &hash}
}

// nodeFromItem creates the node referenced by a child slot of a decoded
// serialization. An empty string denotes no child, a 32-byte string a node
// referenced by hash, and a nested list an embedded node.
func nodeFromItem(item rlp.Item) (*Node, error) {
	switch it := item.(type) {
	case rlp.String:
		if len(it.Str) == 0 {
			return nil, nil
		}
		if len(it.Str) == common.HashSize {
			return nodeFromHash(common.HashFromBytes(it.Str)), nil
		}
		return nil, fmt.Errorf("%w: child reference of %d bytes", ErrInvalidState, len(it.Str))
	case rlp.List:
		return &Node{serialized: rlp.Encode(item)}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected child item %T", ErrInvalidState, item)
	}
}

func (n *Node) markDirty() {
	n.dirty = true
}

// dispose removes this node's stored serialization from the store when the
// node is being replaced. Nodes that were never stored need no disposal.
// Disposal never recurses into children; those may still be reachable from
// other roots.
func (n *Node) dispose(store Store) error {
	if n.hash == nil {
		return nil
	}
	err := store.Delete(n.hash[:])
	n.hash = nil
	return err
}

// resolve fetches the serialized form of a node that is only present by
// hash from the store.
func (n *Node) resolve(store Store) error {
	if n.parsed != nil || n.serialized != nil {
		return nil
	}
	if n.hash == nil {
		return fmt.Errorf("%w: node without hash, serialization, or content", ErrInvalidState)
	}
	data, err := store.Get(n.hash[:])
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrMissingNode, n.hash)
		}
		return err
	}
	n.serialized = data
	return nil
}

// parse decodes the serialized form of this node into its structural view,
// resolving it from the store first if needed. A 2-element list is a kv
// node, terminal keys marking leaves; a 17-element list is a branch.
func (n *Node) parse(store Store) error {
	if n.parsed != nil {
		return nil
	}
	if err := n.resolve(store); err != nil {
		return err
	}
	item, err := rlp.Decode(n.serialized)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	list, ok := item.(rlp.List)
	if !ok {
		return fmt.Errorf("%w: node serialization is not a list", ErrInvalidState)
	}
	switch len(list.Items) {
	case 2:
		packed, ok := list.Items[0].(rlp.String)
		if !ok {
			return fmt.Errorf("%w: kv node key is not a string", ErrInvalidState)
		}
		key, err := KeyFromPacked(packed.Str)
		if err != nil {
			return err
		}
		if key.IsTerminal() {
			value, ok := list.Items[1].(rlp.String)
			if !ok {
				return fmt.Errorf("%w: leaf value is not a string", ErrInvalidState)
			}
			n.parsed = &kvContent{key: key, value: value.Str}
			return nil
		}
		child, err := nodeFromItem(list.Items[1])
		if err != nil {
			return err
		}
		if child == nil {
			return fmt.Errorf("%w: extension node without child", ErrInvalidState)
		}
		n.parsed = &kvContent{key: key, child: child}
		return nil
	case 17:
		branch := &branchContent{}
		for i := 0; i < 16; i++ {
			child, err := nodeFromItem(list.Items[i])
			if err != nil {
				return err
			}
			branch.children[i] = child
		}
		value, ok := list.Items[16].(rlp.String)
		if !ok {
			return fmt.Errorf("%w: branch value slot is not a string", ErrInvalidState)
		}
		if len(value.Str) > 0 {
			branch.value = value.Str
		}
		n.parsed = branch
		return nil
	default:
		return fmt.Errorf("%w: node serialization with %d elements", ErrInvalidState, len(list.Items))
	}
}

// branch returns the parsed branch view of this node.
func (n *Node) branch(store Store) (*branchContent, error) {
	if err := n.parse(store); err != nil {
		return nil, err
	}
	branch, ok := n.parsed.(*branchContent)
	if !ok {
		return nil, fmt.Errorf("%w: node is not a branch", ErrInvalidState)
	}
	return branch, nil
}

// kv returns the parsed kv view of this node.
func (n *Node) kv(store Store) (*kvContent, error) {
	if err := n.parse(store); err != nil {
		return nil, err
	}
	kv, ok := n.parsed.(*kvContent)
	if !ok {
		return nil, fmt.Errorf("%w: node is not a kv node", ErrInvalidState)
	}
	return kv, nil
}

// compactIndex scans the child slots after a deletion. It returns the index
// of the only remaining child if there is exactly one and no value, 16 if
// only the value slot is populated, and -1 if the branch cannot be
// compacted.
func (b *branchContent) compactIndex() int {
	index := -1
	for i, child := range b.children {
		if child == nil {
			continue
		}
		if index >= 0 {
			return -1
		}
		index = i
	}
	if index < 0 {
		if b.value != nil {
			return 16
		}
		return -1
	}
	if b.value != nil {
		return -1
	}
	return index
}

// encode refreshes the hash and serialization of a dirty node and returns
// the fragment to be embedded in the parent's serialization: the RLP
// encoding of the node's hash, or the literal serialization for nodes
// shorter than 32 bytes. With forceHash set the node is always hashed and
// stored; the trie applies this to the root.
//
// Serializations of dirty descendants are stored in post-order, children
// before parents. Whenever a previously stored version is replaced, the old
// hash mapping is deleted from the store before the new one is written.
func (n *Node) encode(store Store, hasher Hasher, forceHash bool) ([]byte, error) {
	if !n.dirty {
		if n.hash != nil {
			return rlp.Encode(rlp.Hash{Hash: (*[32]byte)(n.hash)}), nil
		}
		if n.serialized != nil && !forceHash {
			return n.serialized, nil
		}
	}
	data, err := n.serialize(store, hasher)
	if err != nil {
		return nil, err
	}
	if len(data) < common.HashSize && !forceHash {
		if err := n.dispose(store); err != nil {
			return nil, err
		}
		n.serialized = data
		n.dirty = false
		return data, nil
	}
	hash := hasher.Hash(data)
	if err := n.dispose(store); err != nil {
		return nil, err
	}
	if err := store.Put(hash[:], data); err != nil {
		return nil, err
	}
	n.hash = &hash
	n.serialized = data
	n.dirty = false
	return rlp.Encode(rlp.Hash{Hash: (*[32]byte)(&hash)}), nil
}

// serialize produces the RLP serialization of this node, recursively
// encoding dirty children.
func (n *Node) serialize(store Store, hasher Hasher) ([]byte, error) {
	if err := n.parse(store); err != nil {
		return nil, err
	}
	switch content := n.parsed.(type) {
	case *branchContent:
		items := make([]rlp.Item, 17)
		for i, child := range content.children {
			if child == nil {
				items[i] = rlp.String{}
				continue
			}
			encoded, err := child.encode(store, hasher, false)
			if err != nil {
				return nil, err
			}
			items[i] = rlp.Encoded{Data: encoded}
		}
		items[16] = rlp.String{Str: content.value}
		return rlp.Encode(rlp.List{Items: items}), nil
	case *kvContent:
		items := make([]rlp.Item, 2)
		items[0] = rlp.String{Str: content.key.ToPacked()}
		if content.child != nil {
			encoded, err := content.child.encode(store, hasher, false)
			if err != nil {
				return nil, err
			}
			items[1] = rlp.Encoded{Data: encoded}
		} else {
			items[1] = rlp.String{Str: content.value}
		}
		return rlp.Encode(rlp.List{Items: items}), nil
	default:
		return nil, fmt.Errorf("%w: node without content", ErrInvalidState)
	}
}
