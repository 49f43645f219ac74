package persistence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// sqliteRepository stores payloads in a single key/value table. It exists as
// an alternative to Badger for setups where a plain inspectable database file
// is preferred.
type sqliteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the SQLite database file and ensures
// the schema exists.
func NewSQLiteRepository(dataSourceName string) (Repository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS app_state (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &sqliteRepository{db: db}, nil
}

func (r *sqliteRepository) Save(key string, data []byte) error {
	_, err := r.db.Exec(
		`INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, strftime('%s','now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data)
	return err
}

func (r *sqliteRepository) Load(key string) ([]byte, error) {
	var out []byte
	err := r.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&out)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sqliteRepository) Delete(key string) error {
	_, err := r.db.Exec(`DELETE FROM app_state WHERE key = ?`, key)
	return err
}

func (r *sqliteRepository) Close() error {
	return r.db.Close()
}
