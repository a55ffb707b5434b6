// Package tree implements the authenticated sparse Merkle tree mapping
// KeyHash(id) to an account's Hashchain: the state tree (C2) that the
// sync engine folds operations into and the epoch finalizer commits.
package tree

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cypherpepe/prism/pkg/digest"
	"github.com/cypherpepe/prism/pkg/operation"
	"github.com/cypherpepe/prism/pkg/storage"
)

var (
	nodePrefix     = []byte("tree/node/")
	leafDataPrefix = []byte("tree/leafdata/")
	rootKey        = []byte("tree/root")
)

func nodeKey(h digest.Digest) []byte {
	return append(append([]byte(nil), nodePrefix...), []byte(h.Hex())...)
}

func leafDataKey(keyHash digest.Digest) []byte {
	return append(append([]byte(nil), leafDataPrefix...), []byte(keyHash.Hex())...)
}

// defaultHashes precomputes the hash of the empty subtree at every depth,
// so empty regions of the sparse tree never need to be materialized in
// storage. defaultHashes.hashes[Depth] is the empty leaf value (digest.Zero,
// meaning "no hashchain"); defaultHashes.hashes[0] is the root of a
// completely empty tree.
type defaultHashes struct {
	hashes [Depth + 1]digest.Digest
}

func computeDefaultHashes() *defaultHashes {
	var d defaultHashes
	d.hashes[Depth] = digest.Zero
	for i := Depth - 1; i >= 0; i-- {
		d.hashes[i] = digest.HashConcat(d.hashes[i+1].Bytes(), d.hashes[i+1].Bytes())
	}
	return &d
}

// Tree is a 256-level sparse Merkle tree, one level per bit of a Digest
// key, with content-addressed node storage layered over a storage.KV
// backend. The empty root is the hash of the all-empty tree, so a freshly
// opened Tree over an empty backend is immediately well-formed.
type Tree struct {
	mu       sync.RWMutex
	kv       storage.KV
	root     digest.Digest
	defaults *defaultHashes
}

// NewTree opens a Tree over kv, restoring a previously persisted root if
// one exists, or starting from the empty tree's root otherwise.
func NewTree(kv storage.KV) (*Tree, error) {
	t := &Tree{kv: kv, defaults: computeDefaultHashes()}
	t.root = t.defaults.hashes[0]

	v, err := kv.Get(rootKey)
	if err == storage.ErrNotFound {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tree: load root: %w", err)
	}
	root, err := digest.FromBytes(v)
	if err != nil {
		return nil, fmt.Errorf("tree: decode root: %w", err)
	}
	t.root = root
	return t, nil
}

// EmptyRoot returns the commitment of a tree with no entries.
func (t *Tree) EmptyRoot() digest.Digest {
	return t.defaults.hashes[0]
}

func (t *Tree) getNode(hash digest.Digest, depth int) (left, right digest.Digest, err error) {
	if hash == t.defaults.hashes[depth] {
		return t.defaults.hashes[depth+1], t.defaults.hashes[depth+1], nil
	}
	v, err := t.kv.Get(nodeKey(hash))
	if err != nil {
		return digest.Digest{}, digest.Digest{}, fmt.Errorf("tree: load node at depth %d: %w", depth, err)
	}
	if len(v) != 2*digest.Size {
		return digest.Digest{}, digest.Digest{}, fmt.Errorf("tree: corrupt node record at depth %d", depth)
	}
	left, err = digest.FromBytes(v[:digest.Size])
	if err != nil {
		return digest.Digest{}, digest.Digest{}, err
	}
	right, err = digest.FromBytes(v[digest.Size:])
	if err != nil {
		return digest.Digest{}, digest.Digest{}, err
	}
	return left, right, nil
}

func (t *Tree) putNode(hash, left, right digest.Digest) error {
	buf := make([]byte, 0, 2*digest.Size)
	buf = append(buf, left.Bytes()...)
	buf = append(buf, right.Bytes()...)
	if err := t.kv.Set(nodeKey(hash), buf); err != nil {
		return fmt.Errorf("tree: store node: %w", err)
	}
	return nil
}

// walkDown descends from root to the leaf for keyHash, returning the
// sibling at each level in leaf-to-root order (matching Proof.Siblings)
// and the current leaf value digest (digest.Zero if absent).
func (t *Tree) walkDown(keyHash digest.Digest) (siblings [Depth]digest.Digest, leafValue digest.Digest, err error) {
	current := t.root
	for depth := 0; depth < Depth; depth++ {
		left, right, err := t.getNode(current, depth)
		if err != nil {
			return siblings, digest.Digest{}, err
		}
		var sib, next digest.Digest
		if keyBit(keyHash, depth) == 0 {
			next, sib = left, right
		} else {
			next, sib = right, left
		}
		siblings[Depth-1-depth] = sib
		current = next
	}
	return siblings, current, nil
}

// Get performs a pure read: it reports whether id's KeyHash is present,
// and returns a Membership or NonMembership proof against the current
// root.
func (t *Tree) Get(id string) (found bool, hc *operation.Hashchain, proof Proof, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keyHash := digest.Hash([]byte(id))
	siblings, leafValue, err := t.walkDown(keyHash)
	if err != nil {
		return false, nil, Proof{}, err
	}

	found = !leafValue.IsZero()
	kind := KindNonMembership
	if found {
		kind = KindMembership
		hcBytes, err := t.kv.Get(leafDataKey(keyHash))
		if err != nil {
			return false, nil, Proof{}, fmt.Errorf("tree: load leaf data: %w", err)
		}
		hc, err = decodeHashchain(hcBytes)
		if err != nil {
			return false, nil, Proof{}, err
		}
	}

	return found, hc, Proof{
		Kind:     kind,
		KeyHash:  keyHash,
		Siblings: siblings,
		NewValue: leafValue,
		NewRoot:  t.root,
	}, nil
}

// ProcessOperation mutates the tree so the mapping for op.ID reflects op,
// and returns an Insert or Update proof binding the prior root to the new
// root. On validation failure the tree is left unchanged.
func (t *Tree) ProcessOperation(op operation.Operation) (Proof, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := op.Validate(); err != nil {
		return Proof{}, err
	}

	keyHash := digest.Hash([]byte(op.ID))
	prevRoot := t.root
	siblings, oldValue, err := t.walkDown(keyHash)
	if err != nil {
		return Proof{}, err
	}

	var hc *operation.Hashchain
	kind := KindUpdate
	if oldValue.IsZero() {
		kind = KindInsert
		hc = operation.New(op.ID)
	} else {
		hcBytes, err := t.kv.Get(leafDataKey(keyHash))
		if err != nil {
			return Proof{}, fmt.Errorf("tree: load leaf data: %w", err)
		}
		hc, err = decodeHashchain(hcBytes)
		if err != nil {
			return Proof{}, err
		}
	}

	if err := hc.PerformOperation(op); err != nil {
		return Proof{}, err
	}

	newHCBytes, err := encodeHashchain(hc)
	if err != nil {
		return Proof{}, err
	}
	newValue := digest.Hash(newHCBytes)

	if err := t.kv.Set(leafDataKey(keyHash), newHCBytes); err != nil {
		return Proof{}, fmt.Errorf("tree: store leaf data: %w", err)
	}

	current := newValue
	for i := 0; i < Depth; i++ {
		depth := Depth - 1 - i
		sib := siblings[i]
		var left, right digest.Digest
		if keyBit(keyHash, depth) == 0 {
			left, right = current, sib
		} else {
			left, right = sib, current
		}
		parent := digest.HashConcat(left.Bytes(), right.Bytes())
		if err := t.putNode(parent, left, right); err != nil {
			return Proof{}, err
		}
		current = parent
	}
	newRoot := current

	if err := t.kv.Set(rootKey, newRoot.Bytes()); err != nil {
		return Proof{}, fmt.Errorf("tree: store root: %w", err)
	}
	t.root = newRoot

	return Proof{
		Kind:     kind,
		KeyHash:  keyHash,
		Siblings: siblings,
		OldValue: oldValue,
		NewValue: newValue,
		PrevRoot: prevRoot,
		NewRoot:  newRoot,
	}, nil
}

// Commitment returns the current root.
func (t *Tree) Commitment() digest.Digest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// hashchainWire is the on-disk encoding of a Hashchain: only ID and
// Entries are persisted, since the active-key set is a pure function of
// replaying Entries in order.
type hashchainWire struct {
	ID      string            `json:"id"`
	Entries []operation.Entry `json:"entries"`
}

func encodeHashchain(hc *operation.Hashchain) ([]byte, error) {
	b, err := json.Marshal(hashchainWire{ID: hc.ID, Entries: hc.Entries})
	if err != nil {
		return nil, fmt.Errorf("tree: encode hashchain: %w", err)
	}
	return b, nil
}

func decodeHashchain(b []byte) (*operation.Hashchain, error) {
	var wire hashchainWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, fmt.Errorf("tree: decode hashchain: %w", err)
	}
	hc := operation.New(wire.ID)
	for _, entry := range wire.Entries {
		if err := hc.PerformOperation(entry.Op); err != nil {
			return nil, fmt.Errorf("tree: replay hashchain entry: %w", err)
		}
	}
	return hc, nil
}
