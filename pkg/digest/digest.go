// Package digest implements the fixed-size collision-resistant hash used
// throughout prism as the unit of commitment: tree roots, key hashes and
// epoch commitments are all Digests.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Size is the length in bytes of a Digest.
const Size = 32

// Digest is a 32-byte SHA-256 output.
type Digest [Size]byte

// Zero is the all-zero digest, used as the commitment of the empty tree's
// predecessor and as a sentinel "no value" marker.
var Zero Digest

// Hash returns the SHA-256 digest of data.
func Hash(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// HashConcat hashes the concatenation of parts, domain-separating by
// writing a single 0x00 byte after each part (the last one included) so
// that HashConcat("ab","c") and HashConcat("a","bc") differ.
func HashConcat(parts ...[]byte) Digest {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0x00})
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Bytes returns the raw bytes of the digest.
func (d Digest) Bytes() []byte {
	return d[:]
}

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == Zero
}

// FromBytes builds a Digest from a byte slice, which must be exactly Size
// bytes long.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return d, fmt.Errorf("digest: invalid length %d, want %d", len(b), Size)
	}
	copy(d[:], b)
	return d, nil
}

// FromHex decodes a hex string into a Digest.
func FromHex(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("digest: invalid hex: %w", err)
	}
	return FromBytes(b)
}

// MarshalJSON encodes the digest as a hex string.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Hex())
}

// UnmarshalJSON decodes a hex string into the digest.
func (d *Digest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := FromHex(s)
	if err != nil {
		return err
	}
	*d = decoded
	return nil
}
