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
	"fmt"
)

// Check verifies the structural invariants of the trie, resolving nodes
// from the store as needed. If the trie is self-consistent, nil is
// returned. If errors are detected, the trie is to be considered in an
// invalid state and the behaviour of all other operations is undefined.
//
// The verified invariants keep the representation canonical:
//   - a branch holds at least two entries (children and value combined,
//     with at least one child);
//   - an extension has a non-empty, non-terminal key and a non-kv child;
//   - a leaf has a terminal key and a non-empty value.
func (t *Trie) Check() error {
	if t.root == nil {
		return nil
	}
	return t.check(t.root)
}

func (t *Trie) check(n *Node) error {
	if err := n.parse(t.store); err != nil {
		return err
	}
	switch content := n.parsed.(type) {
	case *branchContent:
		count := 0
		for _, child := range content.children {
			if child != nil {
				count++
			}
		}
		if count == 0 {
			return fmt.Errorf("%w: branch without children", ErrInvalidState)
		}
		if count == 1 && content.value == nil {
			return fmt.Errorf("%w: branch with a single child and no value", ErrInvalidState)
		}
		for _, child := range content.children {
			if child == nil {
				continue
			}
			if err := t.check(child); err != nil {
				return err
			}
		}
		return nil
	case *kvContent:
		if content.child != nil {
			if content.key.IsTerminal() {
				return fmt.Errorf("%w: extension with terminal key", ErrInvalidState)
			}
			if err := content.child.parse(t.store); err != nil {
				return err
			}
			if _, isKv := content.child.parsed.(*kvContent); isKv {
				return fmt.Errorf("%w: extension forwarding to a kv node", ErrInvalidState)
			}
			return t.check(content.child)
		}
		if !content.key.IsTerminal() {
			return fmt.Errorf("%w: leaf with non-terminal key", ErrInvalidState)
		}
		if len(content.value) == 0 {
			return fmt.Errorf("%w: leaf without value", ErrInvalidState)
		}
		return nil
	default:
		return fmt.Errorf("%w: node without content", ErrInvalidState)
	}
}

// Dump prints the content of the trie to the console. Mainly intended for
// debugging.
func (t *Trie) Dump() {
	if t.root == nil {
		fmt.Printf("-empty-\n")
		return
	}
	t.dump(t.root, "")
}

func (t *Trie) dump(n *Node, indent string) {
	if err := n.parse(t.store); err != nil {
		fmt.Printf("%s<unresolved: %v>\n", indent, err)
		return
	}
	switch content := n.parsed.(type) {
	case *branchContent:
		fmt.Printf("%sBranch:\n", indent)
		for i, child := range content.children {
			if child == nil {
				continue
			}
			fmt.Printf("%s  %s:\n", indent, Nibble(i))
			t.dump(child, indent+"    ")
		}
		if content.value != nil {
			fmt.Printf("%s  value: %x\n", indent, content.value)
		}
	case *kvContent:
		if content.child != nil {
			fmt.Printf("%sExtension: %s\n", indent, content.key)
			t.dump(content.child, indent+"  ")
			return
		}
		fmt.Printf("%sLeaf: %s = %x\n", indent, content.key, content.value)
	}
}
