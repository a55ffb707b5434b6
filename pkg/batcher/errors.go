package batcher

import "errors"

// ErrDisabled is returned by ValidateAndQueue when the batcher is disabled.
var ErrDisabled = errors.New("batcher: disabled")

// ErrHashchainNotFound is returned when an AddKey/RevokeKey/AddData
// operation targets an id with no existing hashchain.
var ErrHashchainNotFound = errors.New("batcher: hashchain not found")
