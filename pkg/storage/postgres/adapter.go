// Package postgres is the alternate storage.KV backend for deployments
// that want the prover's state in an operated database rather than an
// embedded one. It stores the same opaque key/value rows the embedded
// kvdb backend stores, in a single table.
package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/cypherpepe/prism/pkg/storage"
)

// Adapter wraps a *sql.DB opened against a Postgres connection string and
// exposes the storage.KV contract over a kv(key bytea primary key, value
// bytea) table.
type Adapter struct {
	db *sql.DB
}

// Open connects to the Postgres database at connStr and ensures the
// backing table exists.
func Open(connStr string) (*Adapter, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	a := &Adapter{db: db}
	if err := a.ensureSchema(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) ensureSchema() error {
	_, err := a.db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key bytea PRIMARY KEY,
		value bytea NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// Get implements storage.KV.
func (a *Adapter) Get(key []byte) ([]byte, error) {
	var value []byte
	err := a.db.QueryRow(`SELECT value FROM kv WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get: %w", err)
	}
	return value, nil
}

// Set implements storage.KV.
func (a *Adapter) Set(key, value []byte) error {
	_, err := a.db.Exec(`
		INSERT INTO kv (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("postgres: set: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}
