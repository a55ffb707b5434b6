package keys

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DecodeSigningKeyHex parses the "scheme:hexbytes" format written by
// EncodeHex / prism-keygen and loaded (via LoadOrGenerateSigningKey from
// Config.SigningKeyPath) at node startup.
func DecodeSigningKeyHex(s string) (SigningKey, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return SigningKey{}, ErrInvalidKeyFile
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil {
		return SigningKey{}, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	switch parts[0] {
	case "ed25519":
		if len(raw) != 64 {
			return SigningKey{}, fmt.Errorf("%w: ed25519 key must be 64 bytes", ErrInvalidKeyFile)
		}
		return SigningKey{Scheme: SchemeEd25519, ed25519Priv: raw}, nil
	case "secp256k1":
		priv, err := gethcrypto.ToECDSA(raw)
		if err != nil {
			return SigningKey{}, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
		}
		return SigningKey{Scheme: SchemeSecp256k1, secp256k1: priv}, nil
	default:
		return SigningKey{}, fmt.Errorf("%w: unknown scheme %q", ErrInvalidKeyFile, parts[0])
	}
}

// LoadOrGenerateSigningKey reads the signing key from path, or generates a
// fresh Ed25519 key and persists it if the file does not exist yet. This
// mirrors the teacher's loadOrGenerateEd25519Key startup glue.
func LoadOrGenerateSigningKey(path string) (SigningKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return DecodeSigningKeyHex(string(data))
	}
	if !os.IsNotExist(err) {
		return SigningKey{}, fmt.Errorf("keys: read key file: %w", err)
	}

	sk, err := GenerateEd25519()
	if err != nil {
		return SigningKey{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return SigningKey{}, fmt.Errorf("keys: create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sk.EncodeHex()), 0o600); err != nil {
		return SigningKey{}, fmt.Errorf("keys: write key file: %w", err)
	}
	return sk, nil
}
