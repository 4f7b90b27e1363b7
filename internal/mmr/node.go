// Package mmr implements a Merkle Mountain Range: an append-only
// commitment structure over checkpoint hashes with logarithmic
// inclusion and range proofs.
package mmr

import (
	"crypto/sha256"
	"encoding/binary"
)

// Leaf and internal hashes live in separate domains so an internal
// node can never be replayed as a leaf (second-preimage hardening).
const (
	LeafPrefix     byte = 0x00
	InternalPrefix byte = 0x01
)

const (
	// HashSize is the byte length of every hash in the range.
	HashSize = 32
	// NodeSize is the on-wire length of one serialized node:
	// index(8) + height(1) + hash(32).
	NodeSize = 41
)

// Node is one position in the range. Height 0 is a leaf; every other
// height is the merge of two equal-height peaks.
type Node struct {
	Index  uint64
	Height uint8
	Hash   [32]byte
}

func prefixedHash(prefix byte, parts ...[]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{prefix})
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// HashLeaf computes the domain-separated hash of leaf data.
func HashLeaf(data []byte) [32]byte {
	return prefixedHash(LeafPrefix, data)
}

// HashInternal computes the domain-separated hash of two child hashes.
func HashInternal(left, right [32]byte) [32]byte {
	return prefixedHash(InternalPrefix, left[:], right[:])
}

// NewLeafNode creates the leaf committing to data at the given position.
func NewLeafNode(index uint64, data []byte) *Node {
	return &Node{Index: index, Height: 0, Hash: HashLeaf(data)}
}

// NewInternalNode merges two children into their parent at the given
// position and height.
func NewInternalNode(index uint64, height uint8, left, right *Node) *Node {
	return &Node{Index: index, Height: height, Hash: HashInternal(left.Hash, right.Hash)}
}

// Serialize renders the node in its fixed 41-byte storage layout.
func (n *Node) Serialize() []byte {
	buf := make([]byte, NodeSize)
	binary.BigEndian.PutUint64(buf[:8], n.Index)
	buf[8] = n.Height
	copy(buf[9:], n.Hash[:])
	return buf
}

// DeserializeNode parses the 41-byte storage layout back into a node.
func DeserializeNode(data []byte) (*Node, error) {
	if len(data) < NodeSize {
		return nil, ErrInvalidNodeData
	}
	n := &Node{
		Index:  binary.BigEndian.Uint64(data[:8]),
		Height: data[8],
	}
	copy(n.Hash[:], data[9:NodeSize])
	return n, nil
}
