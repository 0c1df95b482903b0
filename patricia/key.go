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
	"bytes"
	"fmt"
	"strings"
)

// Key is a sequence of nibbles describing a navigation path in a trie,
// together with a terminator flag marking keys that lead to a stored value
// rather than to another node.
//
// The nibbles are stored in a byte buffer, two per byte in high-then-low
// order, of which the first offset nibbles are not part of the view. Keys
// are immutable values; Shift produces views sharing the same buffer, while
// Concat and CommonPrefix allocate fresh buffers. The buffer is never
// written through after a key escaped its constructor.
type Key struct {
	data     []byte
	offset   int
	terminal bool
}

// KeyFromBytes creates a non-terminal key covering all 2*len(data) nibbles
// of the given byte sequence. The buffer is handed over to the key and must
// not be modified afterwards.
func KeyFromBytes(data []byte) Key {
	return Key{data: data}
}

// KeyFromPacked decodes the packed wire form of a key. The first byte's
// high nibble holds two flag bits: 0x1 marks an odd number of nibbles
// (the first data nibble is the low nibble of byte zero), 0x2 marks a
// terminal key. The buffer is shared, not copied.
func KeyFromPacked(packed []byte) (Key, error) {
	if len(packed) == 0 {
		return Key{}, fmt.Errorf("%w: packed key must not be empty", ErrInvalidState)
	}
	flags := packed[0] >> 4
	if flags > 0x3 {
		return Key{}, fmt.Errorf("%w: invalid packed key flags %x", ErrInvalidState, flags)
	}
	offset := 2
	if flags&0x1 != 0 {
		offset = 1
	}
	return Key{
		data:     packed,
		offset:   offset,
		terminal: flags&0x2 != 0,
	}, nil
}

// EmptyKey returns a key of length zero. Empty keys are terminal by
// convention, whichever way they were obtained.
func EmptyKey() Key {
	return Key{terminal: true}
}

// SingleNibbleKey returns a non-terminal key holding the single given nibble.
func SingleNibbleKey(n Nibble) Key {
	return Key{data: []byte{byte(n) & 0xF}, offset: 1}
}

// ToPacked produces the packed wire form of this key, as embedded in the
// serialization of leaf and extension nodes.
func (k Key) ToPacked() []byte {
	length := k.Length()
	odd := length%2 == 1
	res := make([]byte, length/2+1)
	flags := byte(0)
	if odd {
		flags |= 0x1
	}
	if k.IsTerminal() {
		flags |= 0x2
	}
	res[0] = flags << 4
	pos := 2
	if odd {
		pos = 1
	}
	for i := 0; i < length; i++ {
		setNibble(res, pos+i, k.Get(i))
	}
	return res
}

// Length returns the number of nibbles in this key.
func (k Key) Length() int {
	return len(k.data)*2 - k.offset
}

func (k Key) IsEmpty() bool {
	return k.Length() == 0
}

// IsTerminal reports whether this key belongs to a leaf. An empty key is
// terminal regardless of its construction; it only ever serializes as the
// key portion of a leaf record.
func (k Key) IsTerminal() bool {
	return k.terminal || k.Length() == 0
}

// Get returns the i-th nibble of this key counted from the current offset.
func (k Key) Get(i int) Nibble {
	pos := k.offset + i
	b := k.data[pos/2]
	if pos%2 == 0 {
		return Nibble(b >> 4)
	}
	return Nibble(b & 0xF)
}

// Shift returns a view of this key with the first n nibbles removed. The
// underlying buffer is shared.
func (k Key) Shift(n int) Key {
	return Key{data: k.data, offset: k.offset + n, terminal: k.terminal}
}

// MatchAndShift tests whether this key starts with all nibbles of the
// given prefix and, if so, returns the remainder of this key after the
// prefix. Whole bytes are compared when both keys share offset parity.
func (k Key) MatchAndShift(prefix Key) (Key, bool) {
	length := prefix.Length()
	if length > k.Length() {
		return Key{}, false
	}
	if k.offset%2 == prefix.offset%2 {
		i := 0
		if prefix.offset%2 == 1 {
			if k.Get(0) != prefix.Get(0) {
				return Key{}, false
			}
			i = 1
		}
		full := (length - i) / 2
		a := (k.offset + i) / 2
		b := (prefix.offset + i) / 2
		if !bytes.Equal(k.data[a:a+full], prefix.data[b:b+full]) {
			return Key{}, false
		}
		i += full * 2
		for ; i < length; i++ {
			if k.Get(i) != prefix.Get(i) {
				return Key{}, false
			}
		}
	} else {
		for i := 0; i < length; i++ {
			if k.Get(i) != prefix.Get(i) {
				return Key{}, false
			}
		}
	}
	return k.Shift(length), true
}

// Concat returns a freshly allocated key holding the nibbles of this key
// followed by the nibbles of the other key. The result adopts the other
// key's terminator. Terminal keys cannot be extended.
func (k Key) Concat(other Key) (Key, error) {
	if k.IsTerminal() {
		return Key{}, fmt.Errorf("%w: cannot extend a terminal key", ErrInvalidState)
	}
	length := k.Length() + other.Length()
	res := newKeyWithLength(length)
	for i := 0; i < k.Length(); i++ {
		setNibble(res.data, res.offset+i, k.Get(i))
	}
	for i := 0; i < other.Length(); i++ {
		setNibble(res.data, res.offset+k.Length()+i, other.Get(i))
	}
	res.terminal = other.IsTerminal()
	return res, nil
}

// CommonPrefix returns the longest shared nibble prefix of this key and
// the other key. The result is freshly allocated and carries no terminator
// flag; an empty result still reports terminal, as every empty key does.
func (k Key) CommonPrefix(other Key) Key {
	max := k.Length()
	if length := other.Length(); length < max {
		max = length
	}
	length := 0
	for ; length < max; length++ {
		if k.Get(length) != other.Get(length) {
			break
		}
	}
	res := newKeyWithLength(length)
	for i := 0; i < length; i++ {
		setNibble(res.data, res.offset+i, k.Get(i))
	}
	return res
}

// Equal reports whether two keys denote the same nibble sequence with the
// same terminator, independent of their backing buffers.
func (k Key) Equal(other Key) bool {
	if k.Length() != other.Length() {
		return false
	}
	if k.IsTerminal() != other.IsTerminal() {
		return false
	}
	for i := 0; i < k.Length(); i++ {
		if k.Get(i) != other.Get(i) {
			return false
		}
	}
	return true
}

// HashCode returns a content-based hash of the nibble sequence and the
// terminator flag, for use in test collections. Equal keys with different
// backing buffers produce equal hash codes.
func (k Key) HashCode() uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < k.Length(); i++ {
		h ^= uint64(k.Get(i))
		h *= prime64
	}
	if k.IsTerminal() {
		h ^= 1
		h *= prime64
	}
	return h
}

func (k Key) String() string {
	if k.IsEmpty() {
		return "-empty-"
	}
	builder := strings.Builder{}
	for i := 0; i < k.Length(); i++ {
		builder.WriteRune(k.Get(i).Rune())
	}
	if k.IsTerminal() {
		builder.WriteRune('!')
	}
	return builder.String()
}

// asTerminal returns this key with the terminator flag set. Used when a
// key becomes the key portion of a leaf record.
func (k Key) asTerminal() Key {
	k.terminal = true
	return k
}

// newKeyWithLength allocates a zeroed, non-terminal key of the given
// nibble length, aligned such that an odd length starts at the low nibble
// of byte zero.
func newKeyWithLength(length int) Key {
	return Key{
		data:   make([]byte, (length+1)/2),
		offset: length % 2,
	}
}

// setNibble writes the given nibble at the given absolute nibble position
// of the buffer. Only used during key construction, before the buffer is
// shared.
func setNibble(data []byte, pos int, n Nibble) {
	if pos%2 == 0 {
		data[pos/2] = (data[pos/2] & 0x0F) | byte(n)<<4
	} else {
		data[pos/2] = (data[pos/2] & 0xF0) | byte(n)&0xF
	}
}
