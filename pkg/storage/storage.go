// Package storage defines the key-value persistence contract (C5) consumed
// by the tree, sync engine and epoch finalizer, plus a higher-level Store
// that layers the epoch counter / commitment / last-synced-height schema on
// top of a raw KV backend. Two backends satisfy KV: kvdb (embedded,
// cometbft-db) and postgres (lib/pq).
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cypherpepe/prism/pkg/digest"
)

// ErrNotFound is returned by KV.Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// KV is the minimal synchronous, durable-on-return key-value contract that
// both the tree and Store are built on.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

var (
	keyEpoch            = []byte("sys/epoch")
	keyLastSyncedHeight = []byte("sys/last_synced_height")
	keyCommitmentPrefix = []byte("sys/commitment/")
)

func commitmentKey(epoch uint64) []byte {
	buf := make([]byte, len(keyCommitmentPrefix)+8)
	copy(buf, keyCommitmentPrefix)
	binary.BigEndian.PutUint64(buf[len(keyCommitmentPrefix):], epoch)
	return buf
}

// Store layers the epoch counter, per-epoch commitment and last-synced
// DA height on top of a raw KV backend, following the teacher's
// ledger.LedgerStore key-layout idiom (big-endian height/epoch suffixes).
type Store struct {
	kv KV
}

// NewStore wraps kv with the persistence contract schema.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// GetEpoch returns the persisted epoch counter, or 0 if unset.
func (s *Store) GetEpoch() (uint64, error) {
	v, err := s.kv.Get(keyEpoch)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: get epoch: %w", err)
	}
	return binary.BigEndian.Uint64(v), nil
}

// SetEpoch persists the epoch counter.
func (s *Store) SetEpoch(epoch uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, epoch)
	if err := s.kv.Set(keyEpoch, buf); err != nil {
		return fmt.Errorf("storage: set epoch: %w", err)
	}
	return nil
}

// GetLastSyncedHeight returns the persisted last-synced DA height, or
// (0, ErrNotFound) if never set — callers fall back to the configured
// start height in that case.
func (s *Store) GetLastSyncedHeight() (uint64, error) {
	v, err := s.kv.Get(keyLastSyncedHeight)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

// SetLastSyncedHeight persists the last-synced DA height.
func (s *Store) SetLastSyncedHeight(height uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	if err := s.kv.Set(keyLastSyncedHeight, buf); err != nil {
		return fmt.Errorf("storage: set last synced height: %w", err)
	}
	return nil
}

// GetCommitment returns the persisted commitment for epoch, or
// (Zero, ErrNotFound) if never set.
func (s *Store) GetCommitment(epoch uint64) (digest.Digest, error) {
	v, err := s.kv.Get(commitmentKey(epoch))
	if err != nil {
		return digest.Digest{}, err
	}
	return digest.FromBytes(v)
}

// SetCommitment persists the commitment for epoch.
func (s *Store) SetCommitment(epoch uint64, d digest.Digest) error {
	if err := s.kv.Set(commitmentKey(epoch), d.Bytes()); err != nil {
		return fmt.Errorf("storage: set commitment: %w", err)
	}
	return nil
}
