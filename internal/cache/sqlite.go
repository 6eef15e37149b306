package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/colthorp/convcache-go/internal/core"
)

// SQLiteStore is the structured primary tier: one row per cache key, with
// secondary indexes on owner, date, write time, and expiry time.
//
// The store opens lazily. Concurrent callers share a single in-flight open,
// and the outcome (success or failure) is cached for the rest of the
// session; a failed open permanently selects the fallback tier.
type SQLiteStore struct {
	path    string
	verbose bool

	sf      singleflight.Group
	mu      sync.Mutex
	db      *sql.DB
	opened  bool
	openErr error
}

// NewSQLiteStore creates a structured store backed by the database file at
// path. The database is not opened until the first call that needs it.
func NewSQLiteStore(path string, verbose bool) *SQLiteStore {
	return &SQLiteStore{path: path, verbose: verbose}
}

func (s *SQLiteStore) log(msg string) {
	core.Eprint(fmt.Sprintf("[SQLite] %s", msg), s.verbose)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_records (
  cache_key  TEXT PRIMARY KEY,
  owner_id   TEXT NOT NULL,
  date       TEXT NOT NULL,
  payload    TEXT NOT NULL,
  written_at INTEGER NOT NULL,
  expires_at INTEGER NOT NULL,
  item_count INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_records_owner      ON cache_records (owner_id);
CREATE INDEX IF NOT EXISTS idx_cache_records_date       ON cache_records (date);
CREATE INDEX IF NOT EXISTS idx_cache_records_written_at ON cache_records (written_at);
CREATE INDEX IF NOT EXISTS idx_cache_records_expires_at ON cache_records (expires_at);
`

// Open opens the database, provisioning the schema on first use. It is
// idempotent and single-flight: concurrent callers share one open attempt,
// and subsequent calls return the cached outcome without re-probing.
// A failure is reported as ErrUnavailable.
func (s *SQLiteStore) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.opened {
		err := s.openErr
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	_, err, _ := s.sf.Do("open", func() (interface{}, error) {
		s.mu.Lock()
		if s.opened {
			err := s.openErr
			s.mu.Unlock()
			return nil, err
		}
		s.mu.Unlock()

		db, err := s.open(ctx)

		s.mu.Lock()
		s.opened = true
		if err != nil {
			s.log(fmt.Sprintf("Open failed, tier unavailable for this session: %v", err))
			s.openErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
		} else {
			s.db = db
		}
		err = s.openErr
		s.mu.Unlock()
		return nil, err
	})
	return err
}

func (s *SQLiteStore) open(ctx context.Context) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	dsn := filepath.Clean(s.path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("provision schema: %w", err)
	}
	return db, nil
}

// Available reports whether the store opened successfully. It does not
// trigger an open.
func (s *SQLiteStore) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened && s.openErr == nil
}

func (s *SQLiteStore) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil, ErrUnavailable
	}
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.db, nil
}

// Get returns the record for the key. Read errors are swallowed and
// reported as a degraded miss; storage failures never propagate to lookups.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*CacheRecord, ReadStatus) {
	db, err := s.handle()
	if err != nil {
		return nil, ReadDegraded
	}

	row := db.QueryRowContext(ctx,
		`SELECT cache_key, owner_id, date, payload, written_at, expires_at, item_count
		   FROM cache_records
		  WHERE cache_key = ?`, key)

	var rec CacheRecord
	var payload []byte
	err = row.Scan(&rec.CacheKey, &rec.OwnerID, &rec.Date, &payload,
		&rec.WrittenAt, &rec.ExpiresAt, &rec.ItemCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ReadMiss
	}
	if err != nil {
		s.log(fmt.Sprintf("Read failed for %s: %v", key, err))
		return nil, ReadDegraded
	}
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		s.log(fmt.Sprintf("Payload decode failed for %s: %v", key, err))
		return nil, ReadDegraded
	}
	return &rec, ReadHit
}

// Put upserts the record by cache key. Unlike reads, write errors are
// returned so the manager can fall back to the flat tier.
func (s *SQLiteStore) Put(ctx context.Context, rec *CacheRecord) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO cache_records
		   (cache_key, owner_id, date, payload, written_at, expires_at, item_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
		   owner_id   = excluded.owner_id,
		   date       = excluded.date,
		   payload    = excluded.payload,
		   written_at = excluded.written_at,
		   expires_at = excluded.expires_at,
		   item_count = excluded.item_count`,
		rec.CacheKey, rec.OwnerID, rec.Date, payload,
		rec.WrittenAt, rec.ExpiresAt, rec.ItemCount)
	if err != nil {
		return fmt.Errorf("put cache record: %w", err)
	}
	return nil
}

// Delete removes the record for the key. Deletion is advisory cleanup:
// errors are logged and swallowed.
func (s *SQLiteStore) Delete(ctx context.Context, key string) {
	db, err := s.handle()
	if err != nil {
		return
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM cache_records WHERE cache_key = ?`, key); err != nil {
		s.log(fmt.Sprintf("Delete failed for %s: %v", key, err))
	}
}

// ScanByWriteTimeDesc materializes all records newest-first with their
// serialized payload sizes. The eviction policy needs total counts and
// sizes before deciding, so the result is a full snapshot, not a cursor.
func (s *SQLiteStore) ScanByWriteTimeDesc(ctx context.Context) ([]ScanRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT cache_key, written_at, LENGTH(payload)
		   FROM cache_records
		  ORDER BY written_at DESC, cache_key ASC`)
	if err != nil {
		return nil, fmt.Errorf("scan cache records: %w", err)
	}
	defer rows.Close()

	var records []ScanRecord
	for rows.Next() {
		var rec ScanRecord
		if err := rows.Scan(&rec.CacheKey, &rec.WrittenAt, &rec.SizeBytes); err != nil {
			return nil, fmt.Errorf("scan cache records: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan cache records: %w", err)
	}
	return records, nil
}

// Close closes the database handle if one was opened.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
