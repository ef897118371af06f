package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "mailbot/pkg/logx"
)

// fileStore keeps the whole key->record mapping in memory and rewrites it as
// a single JSON document on every Put. The document is written to a temp file,
// fsynced, and renamed over the target, so a crash between writes never leaves
// a partial snapshot behind.
//
// Writes are serialized globally. That is an explicit tradeoff: the workload
// is a handful of operator conversations, not a database.
type fileStore struct {
	log  logx.Logger
	path string

	mu      sync.Mutex
	records map[string]Record
	closed  bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	records, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	log.Debug("conversation snapshot loaded", logx.String("path", path), logx.Int("records", len(records)))

	return &fileStore{log: log, path: path, records: records}, nil
}

func loadSnapshot(path string) (map[string]Record, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	var m map[string]Record
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]Record{}
	}
	return m, nil
}

func (s *fileStore) Get(ctx context.Context, key string) (Record, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, false, errors.New("store closed")
	}
	rec, ok := s.records[key]
	if !ok {
		return Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *fileStore) Put(ctx context.Context, key string, rec Record) error {
	_ = ctx
	if strings.TrimSpace(key) == "" {
		return errors.New("empty conversation key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store closed")
	}

	// Build the next mapping without touching the committed one; the
	// in-memory view must only advance once the bytes are durable.
	next := make(map[string]Record, len(s.records)+1)
	for k, v := range s.records {
		next[k] = v
	}
	next[key] = rec.Clone()

	if err := s.writeSnapshot(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

func (s *fileStore) writeSnapshot(m map[string]Record) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
