package operation

import "errors"

var (
	ErrInvalidOperation    = errors.New("operation: invalid operation")
	ErrHashchainNotFound   = errors.New("operation: hashchain not found")
	ErrHashchainExists     = errors.New("operation: hashchain already exists")
	ErrUnauthorizedKey     = errors.New("operation: signing key not active on hashchain")
	ErrUnknownRevokedKey   = errors.New("operation: key to revoke is not active on hashchain")
	ErrUnexpectedFirstKind = errors.New("operation: first hashchain entry must be CreateAccount or RegisterService")
)
