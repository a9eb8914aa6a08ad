package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
)

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("history path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("history path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory %q: %w", dir, err)
		}
	}

	// busy_timeout + WAL keep watch-mode rebuilds from tripping over each other.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite history %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveBuild inserts rec, assigning an id and timestamp when they are unset.
// Saving a record with an existing id replaces it.
func (s *Store) SaveBuild(ctx context.Context, rec BuildRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusSuccess
	}

	query := `
INSERT INTO builds (
  id, ts_utc, config_hash, status, incremental, variants, modules, bundles,
  cache_hits, cache_misses, duration_ms, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  ts_utc=excluded.ts_utc,
  config_hash=excluded.config_hash,
  status=excluded.status,
  incremental=excluded.incremental,
  variants=excluded.variants,
  modules=excluded.modules,
  bundles=excluded.bundles,
  cache_hits=excluded.cache_hits,
  cache_misses=excluded.cache_misses,
  duration_ms=excluded.duration_ms,
  error=excluded.error
`
	incremental := 0
	if rec.Incremental {
		incremental = 1
	}
	return s.withRetry("save build", func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.ID,
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.ConfigHash,
			rec.Status,
			incremental,
			strings.Join(rec.Variants, ","),
			rec.Modules,
			rec.Bundles,
			rec.CacheHits,
			rec.CacheMisses,
			rec.Duration.Milliseconds(),
			rec.Error,
		)
		return err
	})
}

// RecentBuilds returns up to limit builds, newest first. A non-positive limit
// returns every build.
func (s *Store) RecentBuilds(ctx context.Context, limit int) ([]BuildRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
SELECT id, ts_utc, config_hash, status, incremental, variants, modules, bundles,
  cache_hits, cache_misses, duration_ms, error
FROM builds
ORDER BY ts_utc DESC, id ASC
`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows *sql.Rows
	err := s.withRetry("load builds", func() error {
		var qErr error
		rows, qErr = s.db.QueryContext(ctx, query, args...)
		return qErr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]BuildRecord, 0)
	for rows.Next() {
		var (
			tsRaw       string
			variantsRaw string
			incremental int
			durationMS  int64
			rec         BuildRecord
		)
		if err := rows.Scan(
			&rec.ID,
			&tsRaw,
			&rec.ConfigHash,
			&rec.Status,
			&incremental,
			&variantsRaw,
			&rec.Modules,
			&rec.Bundles,
			&rec.CacheHits,
			&rec.CacheMisses,
			&durationMS,
			&rec.Error,
		); err != nil {
			return nil, fmt.Errorf("scan build row: %w", err)
		}

		ts, err := time.Parse(time.RFC3339Nano, tsRaw)
		if err != nil {
			return nil, fmt.Errorf("parse build timestamp %q: %w", tsRaw, err)
		}
		rec.Timestamp = ts.UTC()
		rec.Incremental = incremental != 0
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if variantsRaw != "" {
			rec.Variants = strings.Split(variantsRaw, ",")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build rows: %w", err)
	}
	return records, nil
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func IsCorruptError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database") || errors.Is(err, os.ErrInvalid)
}
