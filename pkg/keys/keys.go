// Package keys implements the dual-scheme verifying/signing key and
// signature types shared across prism: Ed25519 (stdlib) and ECDSA over
// secp256k1 (github.com/ethereum/go-ethereum/crypto), with a single
// base64 canonical encoding for verifying keys that discriminates the
// scheme by decoded length.
package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/cypherpepe/prism/pkg/digest"
)

// Scheme identifies which signature algorithm a key or signature uses.
type Scheme int

const (
	// SchemeEd25519 signs raw messages with Ed25519.
	SchemeEd25519 Scheme = iota
	// SchemeSecp256k1 signs the SHA-256 digest of the message with ECDSA
	// over secp256k1.
	SchemeSecp256k1
)

func (s Scheme) String() string {
	switch s {
	case SchemeEd25519:
		return "ed25519"
	case SchemeSecp256k1:
		return "secp256k1"
	default:
		return "unknown"
	}
}

// VerifyingKey is a tagged union of {Ed25519(32 bytes), Secp256k1(33 or 65
// bytes)}. Equality is bytewise on the encoded form.
type VerifyingKey struct {
	Scheme Scheme
	// Raw holds the raw key bytes: 32 for Ed25519, 33 (compressed) or 65
	// (uncompressed) for Secp256k1.
	Raw []byte
}

// Signature is a tagged union matching the VerifyingKey variants.
type Signature struct {
	Scheme Scheme
	// Raw holds 64 raw signature bytes (R||S for secp256k1, the standard
	// 64-byte Ed25519 signature for ed25519).
	Raw []byte
}

// Equal reports whether two verifying keys carry the same scheme and bytes.
func (k VerifyingKey) Equal(other VerifyingKey) bool {
	if k.Scheme != other.Scheme || len(k.Raw) != len(other.Raw) {
		return false
	}
	for i := range k.Raw {
		if k.Raw[i] != other.Raw[i] {
			return false
		}
	}
	return true
}

// Encode returns the canonical base64 (standard alphabet, padded) textual
// form of the key: base64 of the raw bytes.
func (k VerifyingKey) Encode() string {
	return base64.StdEncoding.EncodeToString(k.Raw)
}

// DecodeVerifyingKey decodes a base64-encoded verifying key, discriminating
// the scheme by the decoded byte length: 32 is Ed25519, 33 or 65 is
// Secp256k1 (compressed or uncompressed). Any other length is an error.
func DecodeVerifyingKey(s string) (VerifyingKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return VerifyingKey{}, fmt.Errorf("keys: invalid base64: %w", err)
	}
	switch len(raw) {
	case ed25519.PublicKeySize:
		return VerifyingKey{Scheme: SchemeEd25519, Raw: raw}, nil
	case 33, 65:
		if _, err := decodeSecp256k1(raw); err != nil {
			return VerifyingKey{}, err
		}
		return VerifyingKey{Scheme: SchemeSecp256k1, Raw: raw}, nil
	default:
		return VerifyingKey{}, fmt.Errorf("%w: length %d", ErrInvalidKeyLength, len(raw))
	}
}

func decodeSecp256k1(raw []byte) (*ecdsa.PublicKey, error) {
	switch len(raw) {
	case 33:
		pub, err := gethcrypto.DecompressPubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSecp256k1Key, err)
		}
		return pub, nil
	case 65:
		pub, err := gethcrypto.UnmarshalPubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSecp256k1Key, err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSecp256k1Key, len(raw))
	}
}

// Verify checks that sig is a valid signature over message under k,
// returning an error if the scheme mismatches or the signature is invalid.
func (k VerifyingKey) Verify(message []byte, sig Signature) error {
	if k.Scheme != sig.Scheme {
		return ErrSchemeMismatch
	}
	switch k.Scheme {
	case SchemeEd25519:
		if len(k.Raw) != ed25519.PublicKeySize || len(sig.Raw) != ed25519.SignatureSize {
			return ErrInvalidSignature
		}
		if !ed25519.Verify(ed25519.PublicKey(k.Raw), message, sig.Raw) {
			return ErrInvalidSignature
		}
		return nil
	case SchemeSecp256k1:
		pub, err := decodeSecp256k1(k.Raw)
		if err != nil {
			return err
		}
		if len(sig.Raw) != 64 {
			return ErrInvalidSignature
		}
		hashed := digest.Hash(message)
		compressed := gethcrypto.CompressPubkey(pub)
		if !gethcrypto.VerifySignature(compressed, hashed.Bytes(), sig.Raw) {
			return ErrInvalidSignature
		}
		return nil
	default:
		return ErrUnknownScheme
	}
}

// SigningKey is a tagged union of the private key material for either
// scheme.
type SigningKey struct {
	Scheme      Scheme
	ed25519Priv ed25519.PrivateKey
	secp256k1   *ecdsa.PrivateKey
}

// GenerateEd25519 creates a new random Ed25519 signing key.
func GenerateEd25519() (SigningKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKey{}, fmt.Errorf("keys: generate ed25519: %w", err)
	}
	return SigningKey{Scheme: SchemeEd25519, ed25519Priv: priv}, nil
}

// GenerateSecp256k1 creates a new random secp256k1 signing key.
func GenerateSecp256k1() (SigningKey, error) {
	priv, err := gethcrypto.GenerateKey()
	if err != nil {
		return SigningKey{}, fmt.Errorf("keys: generate secp256k1: %w", err)
	}
	return SigningKey{Scheme: SchemeSecp256k1, secp256k1: priv}, nil
}

// Sign signs message with the signing key, per scheme: Ed25519 signs the
// raw message; secp256k1 signs the SHA-256 digest of the message.
func (sk SigningKey) Sign(message []byte) (Signature, error) {
	switch sk.Scheme {
	case SchemeEd25519:
		return Signature{Scheme: SchemeEd25519, Raw: ed25519.Sign(sk.ed25519Priv, message)}, nil
	case SchemeSecp256k1:
		hashed := digest.Hash(message)
		sig, err := gethcrypto.Sign(hashed.Bytes(), sk.secp256k1)
		if err != nil {
			return Signature{}, fmt.Errorf("keys: sign secp256k1: %w", err)
		}
		return Signature{Scheme: SchemeSecp256k1, Raw: sig[:64]}, nil
	default:
		return Signature{}, ErrUnknownScheme
	}
}

// VerifyingKey returns the public half of the signing key.
func (sk SigningKey) VerifyingKey() VerifyingKey {
	switch sk.Scheme {
	case SchemeEd25519:
		pub := sk.ed25519Priv.Public().(ed25519.PublicKey)
		return VerifyingKey{Scheme: SchemeEd25519, Raw: []byte(pub)}
	case SchemeSecp256k1:
		return VerifyingKey{Scheme: SchemeSecp256k1, Raw: gethcrypto.CompressPubkey(&sk.secp256k1.PublicKey)}
	default:
		return VerifyingKey{}
	}
}

// EncodeHex returns the hex encoding of the raw private key material, for
// persistence to the key file read/written by LoadOrGenerateSigningKey and
// prism-keygen.
func (sk SigningKey) EncodeHex() string {
	switch sk.Scheme {
	case SchemeEd25519:
		return fmt.Sprintf("ed25519:%x", []byte(sk.ed25519Priv))
	case SchemeSecp256k1:
		return fmt.Sprintf("secp256k1:%x", gethcrypto.FromECDSA(sk.secp256k1))
	default:
		return ""
	}
}
