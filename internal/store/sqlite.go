package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/ahmadiii429861-dot/ahm-ai/pkg/logger"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/metrics"
)

// ErrQuotaExceeded is returned by Save when the encoded value is larger than
// the store's per-key quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// SQLiteStore is a flat string-keyed JSON store. Keys are independent: there
// is no transaction spanning more than one key.
type SQLiteStore struct {
	db       *sql.DB
	maxBytes int
	logger   *logger.Logger
}

// NewSQLiteStore opens the database. maxBytes <= 0 disables the quota.
func NewSQLiteStore(dataSourceName string, maxBytes int, log *logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if dataSourceName == ":memory:" || strings.Contains(dataSourceName, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if log == nil {
		log = logger.Global()
	}

	store := &SQLiteStore{db: db, maxBytes: maxBytes, logger: log}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS kv (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Load decodes the value under key into dst. A missing key, a read failure
// or an undecodable value all report false; undecodable values are removed
// so the next load starts from defaults.
func (s *SQLiteStore) Load(key string, dst any) bool {
	raw, ok := s.raw(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.logger.Warn("clearing corrupt storage key",
			zap.String("key", key),
			zap.Error(err),
		)
		metrics.StorageCorruptionsTotal.WithLabelValues(key).Inc()
		if rmErr := s.Remove(key); rmErr != nil {
			s.logger.Error("failed to clear corrupt storage key", zap.String("key", key), zap.Error(rmErr))
		}
		return false
	}
	return true
}

func (s *SQLiteStore) raw(key string) (string, bool) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("failed to read storage key", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return value, true
}

// Save encodes v as JSON and stores it under key, replacing any previous value.
func (s *SQLiteStore) Save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.SaveRaw(key, string(data))
}

// SaveRaw stores value verbatim. Callers normally use Save.
func (s *SQLiteStore) SaveRaw(key, value string) error {
	if s.maxBytes > 0 && len(value) > s.maxBytes {
		return fmt.Errorf("%s is %d bytes: %w", key, len(value), ErrQuotaExceeded)
	}

	stmt, err := s.db.Prepare(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare kv upsert: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to execute kv upsert: %w", err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *SQLiteStore) Remove(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM kv ORDER BY key ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key row: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
