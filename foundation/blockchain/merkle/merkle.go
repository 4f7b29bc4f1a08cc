// Copyright 2017 Cameron Bergoon
// https://github.com/cbergoon/merkletree
// Licensed under the MIT License, see LICENCE file for details.
// This code has been cleaned up, refactored, and turned into generics.

// Package merkle provides an implementation of a merkle tree used to bind a
// block's transaction set to a single root hash, and to prove a single
// transaction's membership in that set without presenting the whole set.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
)

// emptyRoot is the root hash of an empty transaction set: the hash of the
// empty byte string. It is returned by Root when given no values instead of
// treating an empty block as an error condition.
var emptyRoot = sha256.Sum256(nil)

// Hashable represents the behavior concrete data must exhibit to be used in
// the merkle tree.
type Hashable[T any] interface {
	Hash() ([]byte, error)
	Equals(other T) bool
}

// Side identifies which side of a concatenation a proof hash occupies when
// recomputing a parent hash during verification.
type Side int

// Set of possible sides a proof element can occupy.
const (
	Left Side = iota
	Right
)

// ProofElem is a single step of a merkle proof: the sibling hash at this
// level of the tree and which side of the concatenation it belongs on.
type ProofElem struct {
	Hash []byte
	Side Side
}

// =============================================================================

// Tree represents a merkle tree that uses data of some type T that exhibits the
// behavior defined by the Hashable constraint.
type Tree[T Hashable[T]] struct {
	Root         *Node[T]
	Leafs        []*Node[T]
	MerkleRoot   []byte
	hashStrategy func() hash.Hash
}

// WithHashStrategy is used to change the default hash strategy of using sha256
// when constructing a new tree.
func WithHashStrategy[T Hashable[T]](hashStrategy func() hash.Hash) func(t *Tree[T]) {
	return func(t *Tree[T]) {
		t.hashStrategy = hashStrategy
	}
}

// NewTree constructs a new merkle tree that uses data of some type T that
// exhibits the behavior defined by the Hashable interface. An empty values
// slice is valid: the resulting tree has a nil Root and a MerkleRoot equal
// to the hash of the empty string.
func NewTree[T Hashable[T]](values []T, options ...func(t *Tree[T])) (*Tree[T], error) {
	var defaultHashStrategy = sha256.New

	t := Tree[T]{
		hashStrategy: defaultHashStrategy,
	}

	for _, option := range options {
		option(&t)
	}

	if err := t.Generate(values); err != nil {
		return nil, err
	}

	return &t, nil
}

// Generate constructs the leafs and nodes of the tree from the specified
// data. If the tree has been generated previously, the tree is re-generated
// from scratch. An empty values slice yields the empty-string hash as the
// root rather than an error, so that a block with no transactions still has
// a well defined merkle root.
func (t *Tree[T]) Generate(values []T) error {
	if len(values) == 0 {
		t.Root = nil
		t.Leafs = nil
		t.MerkleRoot = append([]byte(nil), emptyRoot[:]...)
		return nil
	}

	var leafs []*Node[T]
	for _, value := range values {
		hash, err := value.Hash()
		if err != nil {
			return err
		}

		leafs = append(leafs, &Node[T]{
			Hash:  hash,
			Value: value,
			leaf:  true,
			Tree:  t,
		})
	}

	if len(leafs) == 1 {
		t.Root = leafs[0]
		t.Leafs = leafs
		t.MerkleRoot = leafs[0].Hash
		return nil
	}

	if len(leafs)%2 == 1 {
		duplicate := &Node[T]{
			Hash:  leafs[len(leafs)-1].Hash,
			Value: leafs[len(leafs)-1].Value,
			leaf:  true,
			dup:   true,
			Tree:  t,
		}
		leafs = append(leafs, duplicate)
	}

	root, err := buildIntermediate(leafs, t)
	if err != nil {
		return err
	}

	t.Root = root
	t.Leafs = leafs
	t.MerkleRoot = root.Hash

	return nil
}

// Rebuild is a helper function that will rebuild the tree reusing only the
// data that it currently holds in the leaves.
func (t *Tree[T]) Rebuild() error {
	var data []T
	for _, node := range t.Leafs {
		data = append(data, node.Value)
	}

	return t.Generate(data)
}

// proof returns the set of sibling hashes, ordered from leaf to root, that
// let a caller reconstruct the path from data's leaf hash up to the tree's
// root hash.
func (t *Tree[T]) proof(data T) ([]ProofElem, error) {
	for _, node := range t.Leafs {
		if !node.Value.Equals(data) {
			continue
		}

		var path []ProofElem
		nodeParent := node.Parent

		for nodeParent != nil {
			if bytes.Equal(nodeParent.Left.Hash, node.Hash) {
				path = append(path, ProofElem{Hash: nodeParent.Right.Hash, Side: Right})
			} else {
				path = append(path, ProofElem{Hash: nodeParent.Left.Hash, Side: Left})
			}
			node = nodeParent
			nodeParent = nodeParent.Parent
		}

		return path, nil
	}

	return nil, errors.New("merkle: data not found in tree")
}

// Verify validates the hashes at each level of the tree and returns nil if
// the resulting hash at the root of the tree matches the stored root hash,
// or an error otherwise.
func (t *Tree[T]) Verify() error {
	if t.Root == nil {
		if bytes.Equal(t.MerkleRoot, emptyRoot[:]) {
			return nil
		}
		return errors.New("merkle: root hash invalid")
	}

	calculatedMerkleRoot, err := t.Root.verify()
	if err != nil {
		return err
	}

	if !bytes.Equal(t.MerkleRoot, calculatedMerkleRoot) {
		return errors.New("merkle: root hash invalid")
	}

	return nil
}

// Values returns a slice of unique values stored in the tree.
func (t *Tree[T]) Values() []T {
	var values []T
	for _, tx := range t.Leafs {
		values = append(values, tx.Value)
	}

	l := len(t.Leafs)
	if l >= 2 && bytes.Equal(t.Leafs[l-1].Hash, t.Leafs[l-2].Hash) {
		return values[:l-1]
	}

	return values
}

// RootHex converts the merkle root byte hash to a lowercase hex string.
func (t *Tree[T]) RootHex() string {
	return hex.EncodeToString(t.MerkleRoot)
}

// String returns a string representation of the tree. Only leaf nodes are
// included in the output.
func (t *Tree[T]) String() string {
	s := ""

	for _, l := range t.Leafs {
		s += fmt.Sprint(l)
		s += "\n"
	}

	return s
}

// MarshalText implements the TextMarshaler interface and produces a panic
// if anyone tries to marshal the Merkle tree. I don't want this to happen.
// Use the Values function to return a slice that can be marshaled.
func (t *Tree[T]) MarshalText() (text []byte, err error) {
	panic("do not marshal the merkle tree, use Values")
}

// =============================================================================

// Node represents a node, root, or leaf in the tree. It stores pointers to its
// immediate relationships, a hash, the data if it is a leaf, and other metadata.
type Node[T Hashable[T]] struct {
	Tree   *Tree[T]
	Parent *Node[T]
	Left   *Node[T]
	Right  *Node[T]
	Hash   []byte
	Value  T
	leaf   bool
	dup    bool
}

// verify walks down the tree until hitting a leaf, calculating the hash at
// each level and returning the resulting hash of the node.
func (n *Node[T]) verify() ([]byte, error) {
	if n.leaf {
		return n.Value.Hash()
	}

	rightBytes, err := n.Right.verify()
	if err != nil {
		return nil, err
	}

	leftBytes, err := n.Left.verify()
	if err != nil {
		return nil, err
	}

	h := n.Tree.hashStrategy()
	if _, err := h.Write(append(leftBytes, rightBytes...)); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}

// String returns a string representation of the node.
func (n *Node[T]) String() string {
	return fmt.Sprintf("%t %t %v %v", n.leaf, n.dup, n.Hash, n.Value)
}

// =============================================================================

// buildIntermediate is a helper function that for a given list of leaf nodes,
// constructs the intermediate and root levels of the tree. Returns the resulting
// root node of the tree.
func buildIntermediate[T Hashable[T]](nl []*Node[T], t *Tree[T]) (*Node[T], error) {
	var nodes []*Node[T]

	for i := 0; i < len(nl); i += 2 {
		left, right := i, i+1
		if i+1 == len(nl) {
			right = i
		}

		h := t.hashStrategy()
		chash := append(nl[left].Hash, nl[right].Hash...)
		if _, err := h.Write(chash); err != nil {
			return nil, err
		}

		n := Node[T]{
			Left:  nl[left],
			Right: nl[right],
			Hash:  h.Sum(nil),
			Tree:  t,
		}

		nodes = append(nodes, &n)
		nl[left].Parent = &n
		nl[right].Parent = &n

		if len(nl) == 2 {
			return &n, nil
		}
	}

	return buildIntermediate(nodes, t)
}

// =============================================================================
// Free-function API.
//
// The block/ledger code does not hold a merkle tree alive between calls: a
// block only needs a root to embed in its header and, occasionally, a proof
// for one transaction. These wrappers build a throwaway Tree to answer a
// single question, which keeps the package's public surface oriented around
// transaction slices rather than a retained tree object.

// Root computes the merkle root of values and renders it as lowercase hex.
// An empty values slice yields the hash of the empty string, so a block with
// no transactions still has a well defined root.
func Root[T Hashable[T]](values []T) (string, error) {
	t, err := NewTree(values)
	if err != nil {
		return "", err
	}

	return t.RootHex(), nil
}

// Proof builds the tree over values and returns the ordered list of sibling
// hashes and sides needed to verify that values[index] belongs to the set.
func Proof[T Hashable[T]](values []T, index int) ([]ProofElem, error) {
	if index < 0 || index >= len(values) {
		return nil, fmt.Errorf("merkle: index %d out of range for %d values", index, len(values))
	}

	t, err := NewTree(values)
	if err != nil {
		return nil, err
	}

	return t.proof(values[index])
}

// Verify recomputes the merkle root by folding leafHash up through proof,
// concatenating each step according to its Side, and reports whether the
// result matches expectedRootHex.
func Verify(leafHash []byte, proof []ProofElem, expectedRootHex string) bool {
	expectedRoot, err := hex.DecodeString(expectedRootHex)
	if err != nil {
		return false
	}

	if len(proof) == 0 {
		return bytes.Equal(leafHash, expectedRoot)
	}

	current := leafHash
	for _, step := range proof {
		h := sha256.New()

		switch step.Side {
		case Left:
			h.Write(step.Hash)
			h.Write(current)
		case Right:
			h.Write(current)
			h.Write(step.Hash)
		default:
			return false
		}

		current = h.Sum(nil)
	}

	return bytes.Equal(current, expectedRoot)
}
