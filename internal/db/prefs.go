package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetBool returns the boolean stored under key, or false when unset.
func GetBool(d *sql.DB, key string) (bool, error) {
	var v int
	err := d.QueryRow("SELECT value FROM prefs WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get pref %q: %w", key, err)
	}
	return v != 0, nil
}

// SetBool stores value under key.
func SetBool(d *sql.DB, key string, value bool) error {
	v := 0
	if value {
		v = 1
	}
	_, err := d.Exec(`
		INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, v, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set pref %q: %w", key, err)
	}
	return nil
}

// Prefs adapts a database handle to boolean preference storage.
type Prefs struct {
	DB *sql.DB
}

// Bool reads a preference.
func (p Prefs) Bool(key string) (bool, error) { return GetBool(p.DB, key) }

// SetBool writes a preference.
func (p Prefs) SetBool(key string, value bool) error { return SetBool(p.DB, key, value) }
