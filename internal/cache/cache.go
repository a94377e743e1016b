package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"subsync/internal/pipeline"
	"subsync/internal/subtitle"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; users clear the cache database after a mismatch.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was written by a different
// schema version.
var ErrSchemaMismatch = errors.New("cache schema version mismatch")

// ErrNotFound indicates no cached result for the requested key.
var ErrNotFound = errors.New("no cached subtitles")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Entry is one cached result.
type Entry struct {
	MediaID      string
	SourceLang   string
	TargetLang   string
	DetectedLang string
	Segments     []subtitle.Segment
	SegmentCount int
	UpdatedAt    time.Time
}

// Store is the SQLite-backed subtitle cache.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the cache database at path, creating
// parent directories as needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cache path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Put upserts a cached result.
func (s *Store) Put(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.MediaID) == "" {
		return errors.New("media id required")
	}
	if len(entry.Segments) == 0 {
		return errors.New("refusing to cache an empty result")
	}
	encoded, err := json.Marshal(entry.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return s.execWithRetry(ctx, `
INSERT INTO subtitle_cache (media_id, source_lang, target_lang, detected_lang, segments, segment_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (media_id, source_lang, target_lang) DO UPDATE SET
    detected_lang = excluded.detected_lang,
    segments = excluded.segments,
    segment_count = excluded.segment_count,
    updated_at = excluded.updated_at`,
		entry.MediaID, entry.SourceLang, entry.TargetLang, entry.DetectedLang,
		string(encoded), len(entry.Segments), now, now)
}

// Get fetches the cached result for one key. Returns ErrNotFound when the
// key has never been cached.
func (s *Store) Get(ctx context.Context, mediaID, sourceLang, targetLang string) (*Entry, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `
SELECT media_id, source_lang, target_lang, detected_lang, segments, segment_count, updated_at
FROM subtitle_cache
WHERE media_id = ? AND source_lang = ? AND target_lang = ?`,
		mediaID, sourceLang, targetLang)

	entry, err := scanEntry(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, mediaID)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns all cached entries without their segment payloads, newest
// first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
SELECT media_id, source_lang, target_lang, detected_lang, '', segment_count, updated_at
FROM subtitle_cache
ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows, false)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Invalidate removes every cached result for a media identity across all
// language pairs. Returns the number of rows removed.
func (s *Store) Invalidate(ctx context.Context, mediaID string) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `DELETE FROM subtitle_cache WHERE media_id = ?`, mediaID)
		if execErr != nil {
			return execErr
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}

// Persist satisfies pipeline.Persister.
func (s *Store) Persist(ctx context.Context, req pipeline.PersistRequest) error {
	return s.Put(ctx, Entry{
		MediaID:      req.MediaID,
		SourceLang:   req.SourceLanguage,
		TargetLang:   req.TargetLanguage,
		DetectedLang: req.DetectedLanguage,
		Segments:     req.Segments,
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner, withSegments bool) (*Entry, error) {
	var (
		entry   Entry
		payload string
		updated string
	)
	if err := row.Scan(&entry.MediaID, &entry.SourceLang, &entry.TargetLang,
		&entry.DetectedLang, &payload, &entry.SegmentCount, &updated); err != nil {
		return nil, err
	}
	if withSegments {
		if err := json.Unmarshal([]byte(payload), &entry.Segments); err != nil {
			return nil, fmt.Errorf("decode cached segments: %w", err)
		}
	}
	if ts, err := time.Parse(time.RFC3339, updated); err == nil {
		entry.UpdatedAt = ts
	}
	return &entry, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (run 'subsync cache invalidate --all' or delete the database)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
