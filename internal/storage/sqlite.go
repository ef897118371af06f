package storage

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

	_ "modernc.org/sqlite"

	logx "mailbot/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	key   TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	attrs TEXT NOT NULL DEFAULT '{}'
);`

// sqliteStore mirrors the table into memory so Get never touches the disk;
// Put upserts the row and only then updates the cache.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	mu      sync.Mutex
	records map[string]Record
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		// Mutation-observed-equals-mutation-durable is the whole point of
		// this store, so pay for the full fsync.
		"PRAGMA synchronous = FULL",
	}
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	records, err := loadConversations(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("conversations loaded", logx.String("path", path), logx.Int("records", len(records)))

	return &sqliteStore{db: db, log: log, records: records}, nil
}

func loadConversations(db *sql.DB) (map[string]Record, error) {
	rows, err := db.Query(`SELECT key, state, attrs FROM conversations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Record{}
	for rows.Next() {
		var key, state, attrs string
		if err := rows.Scan(&key, &state, &attrs); err != nil {
			return nil, err
		}
		rec := Record{State: state}
		if attrs != "" && attrs != "{}" {
			if err := json.Unmarshal([]byte(attrs), &rec.Attrs); err != nil {
				return nil, fmt.Errorf("conversation %s: corrupt attrs: %w", key, err)
			}
		}
		out[key] = rec
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, key string) (Record, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return Record{}, false, errors.New("store closed")
	}
	rec, ok := s.records[key]
	if !ok {
		return Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *sqliteStore) Put(ctx context.Context, key string, rec Record) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("empty conversation key")
	}

	attrs := "{}"
	if len(rec.Attrs) > 0 {
		b, err := json.Marshal(rec.Attrs)
		if err != nil {
			return err
		}
		attrs = string(b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errors.New("store closed")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(key, state, attrs) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET state=excluded.state, attrs=excluded.attrs`,
		key, rec.State, attrs,
	)
	if err != nil {
		return err
	}
	s.records[key] = rec.Clone()
	return nil
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}
