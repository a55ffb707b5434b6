package keys

import "errors"

var (
	ErrInvalidKeyLength   = errors.New("keys: invalid verifying key length, want 32, 33 or 65 bytes")
	ErrInvalidSecp256k1Key = errors.New("keys: invalid secp256k1 key")
	ErrSchemeMismatch     = errors.New("keys: signature scheme does not match key scheme")
	ErrInvalidSignature   = errors.New("keys: signature verification failed")
	ErrUnknownScheme      = errors.New("keys: unknown scheme")
	ErrInvalidKeyFile     = errors.New("keys: invalid key file contents")
)
