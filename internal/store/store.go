// Package store provides the SQLite-backed revision cache: one row per
// synchronized revision, one row per path-level change, and a small
// per-repository metadata table.
package store

import (
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"revcache/internal/vc"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

// Metadata keys recognized in the repository table.
const (
	MetaRepositoryDir = "repository_dir"
	MetaYoungestRev   = "youngest_rev"
)

var metadataKeys = []string{MetaRepositoryDir, MetaYoungestRev}

var (
	ErrRevisionNotFound = errors.New("revision not cached")
)

// DB wraps a SQLite connection for the revision cache.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the cache database at dbPath.
func Open(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Begin starts a new transaction.
func (db *DB) Begin() (*sql.Tx, error) {
	return db.conn.Begin()
}

// RepoID derives the cache key for a repository location.
func RepoID(repoPath string) string {
	sum := blake3.Sum256([]byte(filepath.Clean(repoPath)))
	return hex.EncodeToString(sum[:8])
}

// IsUniqueViolation reports whether err is a uniqueness-constraint
// failure, the benign signal of a concurrent writer having already
// inserted the same row.
func IsUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// ----- Revisions -----

// RevisionRow is the cached metadata of one revision.
type RevisionRow struct {
	Rev       string
	TimeMicro int64
	Author    string
	Message   string
}

// HasRevision reports whether a revision row exists.
func (db *DB) HasRevision(repoID, rev string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM revision WHERE repos = ? AND rev = ?`, repoID, rev,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking revision: %w", err)
	}
	return count > 0, nil
}

// GetRevision retrieves one revision row.
func (db *DB) GetRevision(repoID, rev string) (*RevisionRow, error) {
	var row RevisionRow
	err := db.conn.QueryRow(
		`SELECT rev, time, author, message FROM revision WHERE repos = ? AND rev = ?`,
		repoID, rev,
	).Scan(&row.Rev, &row.TimeMicro, &row.Author, &row.Message)
	if err == sql.ErrNoRows {
		return nil, ErrRevisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying revision: %w", err)
	}
	return &row, nil
}

// CountRevisions returns the number of cached revisions.
func (db *DB) CountRevisions(repoID string) (int, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM revision WHERE repos = ?`, repoID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting revisions: %w", err)
	}
	return count, nil
}

// InsertRevision inserts a revision row. The (repos, rev) primary key
// turns a duplicate insert into a uniqueness violation.
func (db *DB) InsertRevision(tx *sql.Tx, repoID string, row *RevisionRow) error {
	_, err := tx.Exec(
		`INSERT INTO revision (repos, rev, time, author, message) VALUES (?, ?, ?, ?, ?)`,
		repoID, row.Rev, row.TimeMicro, row.Author, row.Message,
	)
	if err != nil && !IsUniqueViolation(err) {
		return fmt.Errorf("inserting revision: %w", err)
	}
	return err
}

// ----- Change records -----

// InsertChange inserts one path-level change of a revision.
func (db *DB) InsertChange(tx *sql.Tx, repoID, rev string, rec vc.ChangeRecord) error {
	_, err := tx.Exec(
		`INSERT INTO node_change (repos, rev, path, node_type, change_type, base_path, base_rev)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		repoID, rev, rec.Path, rec.Kind.Code(), rec.Action.Code(), rec.BasePath, rec.BaseRev,
	)
	if err != nil {
		return fmt.Errorf("inserting change: %w", err)
	}
	return nil
}

// Changes retrieves the change records of one revision, sorted by path.
func (db *DB) Changes(repoID, rev string) ([]vc.ChangeRecord, error) {
	rows, err := db.conn.Query(
		`SELECT path, node_type, change_type, base_path, base_rev
		 FROM node_change WHERE repos = ? AND rev = ? ORDER BY path`,
		repoID, rev,
	)
	if err != nil {
		return nil, fmt.Errorf("querying changes: %w", err)
	}
	defer rows.Close()

	var records []vc.ChangeRecord
	for rows.Next() {
		var path, kind, action string
		var basePath, baseRev sql.NullString
		if err := rows.Scan(&path, &kind, &action, &basePath, &baseRev); err != nil {
			return nil, fmt.Errorf("scanning change: %w", err)
		}
		records = append(records, vc.ChangeRecord{
			Path:     path,
			Kind:     vc.KindFromCode(kind),
			Action:   vc.ActionFromCode(action),
			BasePath: basePath.String,
			BaseRev:  baseRev.String,
		})
	}
	return records, rows.Err()
}

// PathRevisions lists the cached revision ids that touched a path,
// newest first by revision timestamp.
func (db *DB) PathRevisions(repoID, path string, limit int) ([]string, error) {
	query := `SELECT nc.rev FROM node_change nc
	          JOIN revision r ON r.repos = nc.repos AND r.rev = nc.rev
	          WHERE nc.repos = ? AND nc.path = ? ORDER BY r.time DESC`
	args := []any{repoID, path}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying path revisions: %w", err)
	}
	defer rows.Close()

	var revs []string
	for rows.Next() {
		var rev string
		if err := rows.Scan(&rev); err != nil {
			return nil, fmt.Errorf("scanning path revision: %w", err)
		}
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

// ----- Metadata -----

// Metadata returns the key/value metadata of a repository.
func (db *DB) Metadata(repoID string) (map[string]string, error) {
	rows, err := db.conn.Query(
		`SELECT name, value FROM repository WHERE id = ?`, repoID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning metadata: %w", err)
		}
		meta[name] = value.String
	}
	return meta, rows.Err()
}

// SetMetadata upserts one metadata key.
func (db *DB) SetMetadata(tx *sql.Tx, repoID, key, value string) error {
	_, err := tx.Exec(
		`INSERT INTO repository (id, name, value) VALUES (?, ?, ?)
		 ON CONFLICT(id, name) DO UPDATE SET value = excluded.value`,
		repoID, key, value,
	)
	if err != nil {
		return fmt.Errorf("setting metadata %s: %w", key, err)
	}
	return nil
}

// Clear removes every cached row of a repository and resets its metadata
// to empty values, forcing a full resynchronization.
func (db *DB) Clear(repoID string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM revision WHERE repos = ?`, repoID); err != nil {
		return fmt.Errorf("clearing revisions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM node_change WHERE repos = ?`, repoID); err != nil {
		return fmt.Errorf("clearing changes: %w", err)
	}
	for _, key := range metadataKeys {
		if err := db.SetMetadata(tx, repoID, key, ""); err != nil {
			return err
		}
	}
	return tx.Commit()
}
