// Package store persists discovered units: a SQLite table mapping unit
// names to network addresses (the alias table the apply engine resolves
// logical unit names through), the raw status document per unit, and the
// units.json exchange file kept for tooling that predates the database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed unit repository.
type Store struct {
	db *sql.DB
	// varDir receives one raw status-document file per unit; empty
	// disables the file cache.
	varDir string
}

// Open opens (and migrates) the unit database. varDir, when non-empty, is
// created and receives per-unit raw cache files.
func Open(dbPath, varDir string) (*Store, error) {
	if varDir != "" {
		if err := os.MkdirAll(varDir, 0o755); err != nil {
			return nil, fmt.Errorf("create var dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db, varDir: varDir}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		name TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		doc JSON NOT NULL,
		discovered_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveUnit upserts one discovered unit and writes its raw status document to
// the var directory. Discovery probes call this concurrently; database/sql
// serializes the writes and the cache files are independent per unit name.
func (s *Store) SaveUnit(name, address string, raw []byte) error {
	if name == "" {
		return fmt.Errorf("unit has no name")
	}
	_, err := s.db.Exec(`
		INSERT INTO units (name, address, doc, discovered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			address = excluded.address,
			doc = excluded.doc,
			discovered_at = excluded.discovered_at
	`, name, address, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save unit %s: %w", name, err)
	}

	if s.varDir != "" {
		path := filepath.Join(s.varDir, name+".json")
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return fmt.Errorf("cache unit %s: %w", name, err)
		}
	}
	return nil
}

// Aliases returns the persisted name→address table.
func (s *Store) Aliases() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT name, address FROM units`)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	aliases := make(map[string]string)
	for rows.Next() {
		var name, address string
		if err := rows.Scan(&name, &address); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		aliases[name] = address
	}
	return aliases, rows.Err()
}

// ExportUnitsFile writes the alias table as the units.json exchange format:
// a list of [name, address] pairs sorted by name.
func (s *Store) ExportUnitsFile(path string) error {
	aliases, err := s.Aliases()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([][2]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, [2]string{name, aliases[name]})
	}

	data, err := json.MarshalIndent(pairs, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal units: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadUnitsFile loads an alias table from a units.json exchange file. A
// missing file yields an empty map, not an error.
func ReadUnitsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read units file: %w", err)
	}

	var pairs [][2]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	aliases := make(map[string]string, len(pairs))
	for _, p := range pairs {
		aliases[p[0]] = p[1]
	}
	return aliases, nil
}
