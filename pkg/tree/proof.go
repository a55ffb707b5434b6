package tree

import "github.com/cypherpepe/prism/pkg/digest"

// ProofKind discriminates the sum type returned by Get/ProcessOperation.
type ProofKind int

const (
	// KindMembership proves a key is present with a given value.
	KindMembership ProofKind = iota
	// KindNonMembership proves a key is absent.
	KindNonMembership
	// KindInsert proves a ProcessOperation transitioned an absent key to
	// present, moving the root from PrevRoot to NewRoot.
	KindInsert
	// KindUpdate proves a ProcessOperation transitioned an existing key's
	// value, moving the root from PrevRoot to NewRoot.
	KindUpdate
)

// Depth is the number of levels of the sparse tree, one per bit of a
// Digest key.
const Depth = digest.Size * 8

// Proof is authenticated evidence that can be checked against a prior and
// resulting root without seeing any other entry in the tree. Membership
// and NonMembership proofs are checked against a single root; Insert and
// Update proofs bind a root transition.
type Proof struct {
	Kind    ProofKind
	KeyHash digest.Digest

	// Siblings is ordered leaf-to-root: Siblings[0] is adjacent to the
	// leaf, Siblings[Depth-1] is adjacent to the root.
	Siblings [Depth]digest.Digest

	// OldValue/NewValue are the leaf value digests before/after the
	// transition (Zero for NonMembership/Insert's "before").
	OldValue digest.Digest
	NewValue digest.Digest

	// PrevRoot/NewRoot are populated for Insert/Update proofs.
	PrevRoot digest.Digest
	NewRoot  digest.Digest
}

// Verify recomputes the root(s) implied by the proof and checks them
// against expectation. For Membership/NonMembership it checks a single
// root; for Insert/Update it checks both PrevRoot (with OldValue) and
// NewRoot (with NewValue).
func (p Proof) Verify(defaults *defaultHashes) bool {
	switch p.Kind {
	case KindMembership, KindNonMembership:
		return computeRoot(p.KeyHash, p.NewValue, p.Siblings, defaults) == p.NewRoot
	case KindInsert, KindUpdate:
		gotPrev := computeRoot(p.KeyHash, p.OldValue, p.Siblings, defaults)
		gotNew := computeRoot(p.KeyHash, p.NewValue, p.Siblings, defaults)
		return gotPrev == p.PrevRoot && gotNew == p.NewRoot
	default:
		return false
	}
}

// computeRoot folds leafValue up through siblings along the path implied by
// keyHash's bits, leaf-to-root.
func computeRoot(keyHash digest.Digest, leafValue digest.Digest, siblings [Depth]digest.Digest, defaults *defaultHashes) digest.Digest {
	current := leafValue
	for i := 0; i < Depth; i++ {
		depth := Depth - 1 - i
		sibling := siblings[i]
		if keyBit(keyHash, depth) == 0 {
			current = digest.HashConcat(current.Bytes(), sibling.Bytes())
		} else {
			current = digest.HashConcat(sibling.Bytes(), current.Bytes())
		}
	}
	return current
}

// keyBit returns the bit of k at position depth (0 = most significant bit
// of k[0]).
func keyBit(k digest.Digest, depth int) int {
	byteIdx := depth / 8
	bitIdx := 7 - (depth % 8)
	return int((k[byteIdx] >> uint(bitIdx)) & 1)
}
