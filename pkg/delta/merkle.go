// Package delta implements the Merkle-tree delta engine of C5: efficient
// set comparison between two entity populations, plus the sync checksum
// and size-estimate formulas the wire protocol relies on.
package delta

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/adrianco/the-goodies-sub000/pkg/graph"
)

// MerkleNode buckets entities by the first two characters of their ID and
// hashes bottom-up, memoizing the hash until the next Add invalidates it.
type MerkleNode struct {
	entityID string
	version  string
	children map[string]*MerkleNode
	hash     string
	dirty    bool
}

func NewMerkleNode() *MerkleNode {
	return &MerkleNode{children: map[string]*MerkleNode{}, dirty: true}
}

// Add places e into the bucket keyed by the first two characters of its ID,
// as a leaf keyed by the full ID, so entities sharing a prefix coexist.
func (n *MerkleNode) Add(e graph.Entity) {
	key := prefixKey(e.ID)
	child, ok := n.children[key]
	if !ok {
		child = NewMerkleNode()
		n.children[key] = child
	}
	leaf, ok := child.children[e.ID]
	if !ok {
		leaf = NewMerkleNode()
		child.children[e.ID] = leaf
	}
	leaf.entityID = e.ID
	leaf.version = e.Version
	leaf.dirty = true
	child.dirty = true
	n.dirty = true
}

func prefixKey(id string) string {
	if len(id) < 2 {
		return id
	}
	return id[:2]
}

// Hash returns the SHA-256 hex digest of this node: self-id, self-version,
// and every child's key+hash in sorted order. Memoized until Add is called
// again on this subtree.
func (n *MerkleNode) Hash() string {
	if !n.dirty && n.hash != "" {
		return n.hash
	}

	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(n.entityID))
	h.Write([]byte(n.version))
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(n.children[k].Hash()))
	}

	n.hash = hex.EncodeToString(h.Sum(nil))
	n.dirty = false
	return n.hash
}

// Diff returns the set of entity IDs differing between n and other.
// Equal hashes short-circuit to no difference; otherwise every child key
// present in either side is visited, and a key present on only one side
// contributes every entity below it.
func (n *MerkleNode) Diff(other *MerkleNode) map[string]bool {
	result := map[string]bool{}
	n.diffInto(other, result)
	return result
}

func (n *MerkleNode) diffInto(other *MerkleNode, result map[string]bool) {
	if n.Hash() == other.Hash() {
		return
	}

	keys := map[string]bool{}
	for k := range n.children {
		keys[k] = true
	}
	for k := range other.children {
		keys[k] = true
	}

	for k := range keys {
		nc, nok := n.children[k]
		oc, ook := other.children[k]
		switch {
		case nok && ook:
			nc.diffInto(oc, result)
		case nok && !ook:
			nc.collectAll(result)
		case !nok && ook:
			oc.collectAll(result)
		}
	}

	if n.entityID == other.entityID && n.version != other.version {
		result[n.entityID] = true
	}
}

func (n *MerkleNode) collectAll(result map[string]bool) {
	if n.entityID != "" {
		result[n.entityID] = true
	}
	for _, c := range n.children {
		c.collectAll(result)
	}
}

// BuildMerkleTree places every entity's latest version into a fresh tree.
func BuildMerkleTree(entities []graph.Entity) *MerkleNode {
	root := NewMerkleNode()
	for _, e := range entities {
		root.Add(e)
	}
	return root
}
