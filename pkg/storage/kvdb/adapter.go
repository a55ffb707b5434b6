// Package kvdb is the default, embedded storage.KV backend: it wraps
// cometbft-db's dbm.DB, adapted from the teacher's pkg/kvdb.KVAdapter.
package kvdb

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/cypherpepe/prism/pkg/storage"
)

// Adapter wraps a cometbft-db dbm.DB and exposes the storage.KV contract.
type Adapter struct {
	db dbm.DB
}

// Open opens (creating if necessary) a goleveldb-backed database named name
// under dir.
func Open(name, dir string) (*Adapter, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, fmt.Errorf("kvdb: open %s in %s: %w", name, dir, err)
	}
	return &Adapter{db: db}, nil
}

// NewAdapter wraps an already-open cometbft-db database.
func NewAdapter(db dbm.DB) *Adapter {
	return &Adapter{db: db}
}

// Get implements storage.KV.
func (a *Adapter) Get(key []byte) ([]byte, error) {
	v, err := a.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("kvdb: get: %w", err)
	}
	if v == nil {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

// Set implements storage.KV. Uses SetSync for durability on return, per the
// teacher's adapter.
func (a *Adapter) Set(key, value []byte) error {
	if err := a.db.SetSync(key, value); err != nil {
		return fmt.Errorf("kvdb: set: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (a *Adapter) Close() error {
	return a.db.Close()
}
