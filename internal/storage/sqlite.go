// Package storage persists translation history and the translation cache
// in a local SQLite database.
package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okhotin/lingod/internal/translator"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for translation history and
// the translation cache. It implements translator.History.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used
// by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "lingod.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Translation history ---

// RecordTranslation persists a finished request and its fragment results
// in one transaction.
func (s *Store) RecordTranslation(ctx context.Context, rec translator.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning record transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO requests (id, created_at, mode, model, source_lang, target_lang, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, now, string(rec.Mode), rec.Model, rec.Source, rec.Target, rec.Status, rec.Error,
	); err != nil {
		return fmt.Errorf("inserting request %s: %w", rec.RequestID, err)
	}

	for _, f := range rec.Fragments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fragments (request_id, idx, source_text, translated_text)
			VALUES (?, ?, ?, ?)`,
			rec.RequestID, f.Index, f.SourceText, f.Translated,
		); err != nil {
			return fmt.Errorf("inserting fragment %d of request %s: %w", f.Index, rec.RequestID, err)
		}
	}

	return tx.Commit()
}

// GetRequest returns one recorded request with its fragments.
func (s *Store) GetRequest(ctx context.Context, id string) (Request, error) {
	var r Request
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, mode, model, source_lang, target_lang, status, error
		FROM requests WHERE id = ?`, id,
	).Scan(&r.ID, &createdAt, &r.Mode, &r.Model, &r.SourceLang, &r.TargetLang, &r.Status, &r.Error)
	if err == sql.ErrNoRows {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Request{}, fmt.Errorf("parsing created_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, source_text, translated_text
		FROM fragments WHERE request_id = ? ORDER BY idx ASC`, id,
	)
	if err != nil {
		return Request{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var f Fragment
		if err := rows.Scan(&f.Index, &f.SourceText, &f.Translated); err != nil {
			return Request{}, err
		}
		r.Fragments = append(r.Fragments, f)
	}
	return r, rows.Err()
}

// ListRequests returns the most recent requests, newest first, without
// their fragments.
func (s *Store) ListRequests(ctx context.Context, limit int) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, mode, model, source_lang, target_lang, status, error
		FROM requests ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Request
	for rows.Next() {
		var r Request
		var createdAt string
		if err := rows.Scan(&r.ID, &createdAt, &r.Mode, &r.Model, &r.SourceLang, &r.TargetLang, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Translation cache ---

// cacheKey derives a stable primary key from everything that influences a
// translation's output.
func cacheKey(model, source, target, text string) string {
	h := sha256.New()
	for _, part := range []string{model, source, target, text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CachedTranslation returns the cached translation for the exact
// model/language/text combination, if present. Lookup errors count as a
// miss.
func (s *Store) CachedTranslation(ctx context.Context, model, source, target, text string) (string, bool) {
	var translated string
	err := s.db.QueryRowContext(ctx,
		"SELECT translated_text FROM cache WHERE cache_key = ?",
		cacheKey(model, source, target, text),
	).Scan(&translated)
	if err != nil {
		return "", false
	}
	return translated, true
}

// CacheTranslation stores a finished translation, replacing any earlier
// entry for the same key.
func (s *Store) CacheTranslation(ctx context.Context, model, source, target, text, translated string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache (cache_key, model, source_lang, target_lang, source_text, translated_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET translated_text = excluded.translated_text, created_at = excluded.created_at`,
		cacheKey(model, source, target, text), model, source, target, text, translated,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}
