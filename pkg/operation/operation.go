// Package operation implements the typed operation variants and the
// per-account hashchain that validates them, per the key-transparency
// directory's operation model.
package operation

import (
	"encoding/json"
	"fmt"

	"github.com/cypherpepe/prism/pkg/digest"
	"github.com/cypherpepe/prism/pkg/keys"
)

// Kind discriminates the operation variant.
type Kind string

const (
	KindRegisterService Kind = "RegisterService"
	KindCreateAccount   Kind = "CreateAccount"
	KindAddKey          Kind = "AddKey"
	KindRevokeKey       Kind = "RevokeKey"
	KindAddData         Kind = "AddData"
)

// Operation is a tagged variant over the five directory operations. Exactly
// one of the scheme-specific fields is populated, selected by Kind.
type Operation struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`

	// CreateAccount
	InitialKey *keys.VerifyingKey `json:"initial_key,omitempty"`

	// AddKey
	NewKey *keys.VerifyingKey `json:"new_key,omitempty"`

	// RevokeKey
	RevokedKey *keys.VerifyingKey `json:"revoked_key,omitempty"`

	// AddData
	Payload []byte `json:"payload,omitempty"`

	// AddKey / RevokeKey / AddData: the key whose signature authorizes the
	// operation, and the signature itself over the canonical encoding of
	// the operation with Signature elided (SignedBy is part of the signed
	// bytes).
	SignedBy  *keys.VerifyingKey `json:"signed_by,omitempty"`
	Signature *keys.Signature    `json:"signature,omitempty"`
}

// RequiresExistingHashchain reports whether this operation must be applied
// against an already-created hashchain.
func (op Operation) RequiresExistingHashchain() bool {
	switch op.Kind {
	case KindAddKey, KindRevokeKey, KindAddData:
		return true
	default:
		return false
	}
}

// signingPayload returns the canonical bytes signed over by SignedBy: the
// operation encoded with Signature elided.
func (op Operation) signingPayload() ([]byte, error) {
	clone := op
	clone.Signature = nil
	return json.Marshal(clone)
}

// Validate performs structural validation only: well-formed fields and the
// syntactic presence of a signature where one is required. It does not
// check the signature against any hashchain state — see
// Hashchain.PerformOperation for that.
func (op Operation) Validate() error {
	if op.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidOperation)
	}
	switch op.Kind {
	case KindRegisterService:
		return nil
	case KindCreateAccount:
		if op.InitialKey == nil {
			return fmt.Errorf("%w: CreateAccount requires initial_key", ErrInvalidOperation)
		}
		return nil
	case KindAddKey:
		if op.NewKey == nil || op.SignedBy == nil || op.Signature == nil {
			return fmt.Errorf("%w: AddKey requires new_key, signed_by and signature", ErrInvalidOperation)
		}
		return nil
	case KindRevokeKey:
		if op.RevokedKey == nil || op.SignedBy == nil || op.Signature == nil {
			return fmt.Errorf("%w: RevokeKey requires revoked_key, signed_by and signature", ErrInvalidOperation)
		}
		return nil
	case KindAddData:
		if len(op.Payload) == 0 || op.SignedBy == nil || op.Signature == nil {
			return fmt.Errorf("%w: AddData requires payload, signed_by and signature", ErrInvalidOperation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
}

// Digest returns a content hash of the operation, used to chain hashchain
// entries together.
func (op Operation) Digest() digest.Digest {
	b, _ := json.Marshal(op)
	return digest.Hash(b)
}

// VerifySignature checks op.Signature against op.SignedBy over the
// canonical signing payload (the operation with Signature elided). Callers
// must already have confirmed SignedBy and Signature are non-nil via
// Validate.
func (op Operation) VerifySignature() error {
	payload, err := op.signingPayload()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	return op.SignedBy.Verify(payload, *op.Signature)
}
