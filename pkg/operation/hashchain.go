package operation

import (
	"fmt"

	"github.com/cypherpepe/prism/pkg/digest"
)

// Entry is one link in a Hashchain: the operation applied, and the digest
// of the previous entry (Zero for the first entry).
type Entry struct {
	Op   Operation     `json:"op"`
	Prev digest.Digest `json:"prev"`
}

// Hashchain is the ordered, append-only history of key-management
// operations for one account identifier. The first entry is always
// CreateAccount or RegisterService; every subsequent entry is signed by a
// key present and unrevoked in the prefix.
type Hashchain struct {
	ID      string
	Entries []Entry
	active  map[string]bool // encoded verifying key -> active (not revoked)
}

// New creates an empty hashchain for id.
func New(id string) *Hashchain {
	return &Hashchain{ID: id, active: make(map[string]bool)}
}

// Clone returns a deep copy suitable for dry-run validation: mutating the
// clone never affects hc.
func (hc *Hashchain) Clone() *Hashchain {
	clone := &Hashchain{
		ID:      hc.ID,
		Entries: append([]Entry(nil), hc.Entries...),
		active:  make(map[string]bool, len(hc.active)),
	}
	for k, v := range hc.active {
		clone.active[k] = v
	}
	return clone
}

// LastDigest returns the digest of the last entry, or the zero digest if
// the hashchain is empty.
func (hc *Hashchain) LastDigest() digest.Digest {
	if len(hc.Entries) == 0 {
		return digest.Zero
	}
	last := hc.Entries[len(hc.Entries)-1]
	return digest.HashConcat(last.Prev.Bytes(), last.Op.Digest().Bytes())
}

// PerformOperation validates op against the current hashchain state
// (signature and authorization checks) and, on success, appends it. On
// failure the hashchain is unchanged.
func (hc *Hashchain) PerformOperation(op Operation) error {
	if len(hc.Entries) == 0 {
		return hc.performFirst(op)
	}
	return hc.performSubsequent(op)
}

func (hc *Hashchain) performFirst(op Operation) error {
	switch op.Kind {
	case KindCreateAccount:
		hc.active[op.InitialKey.Encode()] = true
	case KindRegisterService:
		// No key material; the namespace itself is the payload.
	default:
		return ErrUnexpectedFirstKind
	}
	hc.append(op)
	return nil
}

func (hc *Hashchain) performSubsequent(op Operation) error {
	if !op.RequiresExistingHashchain() {
		return fmt.Errorf("%w: %s cannot be applied to an existing hashchain", ErrInvalidOperation, op.Kind)
	}
	if op.SignedBy == nil || !hc.active[op.SignedBy.Encode()] {
		return ErrUnauthorizedKey
	}
	if err := op.VerifySignature(); err != nil {
		return err
	}

	switch op.Kind {
	case KindAddKey:
		hc.active[op.NewKey.Encode()] = true
	case KindRevokeKey:
		if !hc.active[op.RevokedKey.Encode()] {
			return ErrUnknownRevokedKey
		}
		hc.active[op.RevokedKey.Encode()] = false
	case KindAddData:
		// No key-set mutation; the payload is opaque application data.
	}

	hc.append(op)
	return nil
}

func (hc *Hashchain) append(op Operation) {
	hc.Entries = append(hc.Entries, Entry{Op: op, Prev: hc.LastDigest()})
}
