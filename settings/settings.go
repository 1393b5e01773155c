// Package settings is a small persisted key-value store for operator
// preferences that should survive restarts without living in the config
// file (e.g. defaults applied to newly created workloads).
package settings

import (
	"database/sql"
	"time"

	"github.com/mantyx/mantyx/errors"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the value for key, or ErrNotFound.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errors.Wrapf(errors.ErrNotFound, "setting %q", key)
		}
		return "", errors.Wrap(err, "failed to get setting")
	}
	return value, nil
}

// GetDefault returns the value for key, or fallback when unset.
func (s *Store) GetDefault(key, fallback string) string {
	value, err := s.Get(key)
	if err != nil {
		return fallback
	}
	return value
}

// Set stores a value, replacing any previous one.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, "failed to set setting")
	}
	return nil
}

// Delete removes a key. Missing keys are a no-op.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return errors.Wrap(err, "failed to delete setting")
	}
	return nil
}

// All returns every setting.
func (s *Store) All() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list settings")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
