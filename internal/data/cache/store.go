// Package cache persists per-file hashes and model results between scans so
// unchanged chunks are not sent for analysis again.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"repoaudit/internal/shared/observability"

	_ "modernc.org/sqlite"
)

const (
	driverName           = "sqlite"
	maxAttempts          = 5
	defaultMemoryEntries = 4096
)

// Kind partitions cached results.
type Kind string

const (
	KindUnderstanding Kind = "understanding"
	KindRuleResult    Kind = "rule_result"
	KindOpenScan      Kind = "open_scan"
)

type ScanRecord struct {
	RunID        string
	Root         string
	CommitHash   string
	StartedAt    time.Time
	FinishedAt   time.Time
	FileCount    int
	ChunkCount   int
	FindingCount int
	WarningCount int
}

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
	mem  *LRUCache[string, memEntry]
}

type memEntry struct {
	filePath string
	payload  []byte
}

// Open opens (or creates) the sqlite cache at path. memoryEntries bounds the
// in-process read-through layer; values <= 0 use a default.
func Open(path string, memoryEntries int) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("cache path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("cache path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite cache %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	if memoryEntries <= 0 {
		memoryEntries = defaultMemoryEntries
	}
	return &Store{path: cleanPath, db: db, mem: NewLRUCache[string, memEntry](memoryEntries)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// FileHashes returns every recorded path -> content hash.
func (s *Store) FileHashes(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	err := s.withRetry("load file hashes", func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT path, file_hash FROM files`)
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(out)
		for rows.Next() {
			var path, hash string
			if err := rows.Scan(&path, &hash); err != nil {
				return err
			}
			out[path] = hash
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetFileHash records hash for path. A file whose hash changed has its cached
// results dropped so stale verdicts never outlive the content they describe.
func (s *Store) SetFileHash(ctx context.Context, path, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("set file hash", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		var prev string
		err = tx.QueryRowContext(ctx, `SELECT file_hash FROM files WHERE path = ?`, path).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			_ = tx.Rollback()
			return err
		}
		if prev != "" && prev != hash {
			if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE file_path = ?`, path); err != nil {
				_ = tx.Rollback()
				return err
			}
			s.evictFile(path)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO files (path, file_hash, scanned_at_utc) VALUES (?, ?, ?)
ON CONFLICT(path) DO UPDATE SET file_hash=excluded.file_hash, scanned_at_utc=excluded.scanned_at_utc
`, path, hash, nowUTC()); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// RemoveFile forgets path and every result recorded against it.
func (s *Store) RemoveFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictFile(path)
	return s.withRetry("remove file", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE file_path = ?`, path); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Get returns the raw payload stored under (kind, key).
func (s *Store) Get(ctx context.Context, kind Kind, key string) ([]byte, bool, error) {
	memKey := memoryKey(kind, key)
	if v, ok := s.mem.Get(memKey); ok {
		observability.CacheLookupsTotal.WithLabelValues(string(kind), "hit").Inc()
		return v.payload, true, nil
	}

	var (
		payload  []byte
		filePath string
		found    bool
	)
	err := s.withRetry("get result", func() error {
		err := s.db.QueryRowContext(ctx, `SELECT payload, file_path FROM results WHERE kind = ? AND key = ?`, string(kind), key).Scan(&payload, &filePath)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		observability.CacheLookupsTotal.WithLabelValues(string(kind), "miss").Inc()
		return nil, false, nil
	}
	observability.CacheLookupsTotal.WithLabelValues(string(kind), "hit").Inc()
	s.mem.Put(memKey, memEntry{filePath: filePath, payload: payload})
	return payload, true, nil
}

// Put stores payload under (kind, key), attributed to filePath for
// invalidation.
func (s *Store) Put(ctx context.Context, kind Kind, key, filePath string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withRetry("put result", func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO results (kind, key, file_path, payload, updated_at_utc) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(kind, key) DO UPDATE SET
  file_path=excluded.file_path,
  payload=excluded.payload,
  updated_at_utc=excluded.updated_at_utc
`, string(kind), key, filePath, payload, nowUTC())
		return err
	})
	if err != nil {
		return err
	}
	s.mem.Put(memoryKey(kind, key), memEntry{filePath: filePath, payload: payload})
	return nil
}

type Reader interface {
	Get(ctx context.Context, kind Kind, key string) ([]byte, bool, error)
}

type Writer interface {
	Put(ctx context.Context, kind Kind, key, filePath string, payload []byte) error
}

// Load decodes the JSON value cached under (kind, key).
func Load[T any](ctx context.Context, s Reader, kind Kind, key string) (T, bool, error) {
	var v T
	raw, ok, err := s.Get(ctx, kind, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode cached %s %q: %w", kind, key, err)
	}
	return v, true, nil
}

// Save encodes v as JSON and stores it under (kind, key).
func Save[T any](ctx context.Context, s Writer, kind Kind, key, filePath string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", kind, key, err)
	}
	return s.Put(ctx, kind, key, filePath, raw)
}

func (s *Store) RecordScan(ctx context.Context, rec ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.RunID == "" {
		return fmt.Errorf("scan record requires a run id")
	}
	return s.withRetry("record scan", func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO scans (
  run_id, root, commit_hash, started_at_utc, finished_at_utc,
  file_count, chunk_count, finding_count, warning_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO NOTHING
`,
			rec.RunID, rec.Root, rec.CommitHash,
			rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano),
			rec.FileCount, rec.ChunkCount, rec.FindingCount, rec.WarningCount,
		)
		return err
	})
}

// LastScan returns the most recently finished scan.
func (s *Store) LastScan(ctx context.Context) (ScanRecord, bool, error) {
	var (
		rec               ScanRecord
		started, finished string
		found             bool
	)
	err := s.withRetry("load last scan", func() error {
		err := s.db.QueryRowContext(ctx, `
SELECT run_id, root, commit_hash, started_at_utc, finished_at_utc,
       file_count, chunk_count, finding_count, warning_count
FROM scans ORDER BY finished_at_utc DESC LIMIT 1
`).Scan(&rec.RunID, &rec.Root, &rec.CommitHash, &started, &finished,
			&rec.FileCount, &rec.ChunkCount, &rec.FindingCount, &rec.WarningCount)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return ScanRecord{}, false, err
	}
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return ScanRecord{}, false, fmt.Errorf("parse scan start %q: %w", started, err)
	}
	if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return ScanRecord{}, false, fmt.Errorf("parse scan finish %q: %w", finished, err)
	}
	return rec, true, nil
}

func (s *Store) evictFile(path string) {
	s.mem.Evict(func(_ string, e memEntry) bool { return e.filePath == path })
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

func memoryKey(kind Kind, key string) string {
	return string(kind) + "\x00" + key
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
