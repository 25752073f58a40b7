// Package jsonfile persists comic metadata as a single JSON list on disk.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/xkcd-mirror/internal/comic"
	"github.com/JakeFAU/xkcd-mirror/internal/metrics"
	"github.com/JakeFAU/xkcd-mirror/internal/store"
)

// Config controls where the metadata file lives.
type Config struct {
	Path string
}

// Store is a file-backed comic.Store. The whole list is rewritten on every
// Append; readers see the previous snapshot until the rewrite succeeds.
type Store struct {
	path   string
	logger *zap.Logger

	// writeMu serializes Append; mu only guards the snapshot pointer.
	writeMu sync.Mutex
	mu      sync.RWMutex
	snap    *store.Snapshot
}

// Open loads the metadata file, creating an empty one when it does not exist.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("metadata path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}

	records, err := readFile(cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if werr := writeFile(ctx, cfg.Path, []comic.Record{}); werr != nil {
			return nil, werr
		}
		logger.Info("created empty metadata file", zap.String("path", cfg.Path))
	case err != nil:
		return nil, err
	}

	s := &Store{
		path:   cfg.Path,
		logger: logger,
		snap:   store.NewSnapshot(records),
	}
	metrics.SetStoreRecords(s.snap.Len())
	logger.Info("metadata loaded", zap.String("path", cfg.Path), zap.Int("records", s.snap.Len()))
	return s, nil
}

func (s *Store) current() *store.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// All returns the records in insertion order.
func (s *Store) All(_ context.Context) []comic.Record {
	return s.current().Records()
}

// Find returns the record for number or comic.ErrNotFound.
func (s *Store) Find(_ context.Context, number int) (comic.Record, error) {
	rec, ok := s.current().Find(number)
	if !ok {
		return comic.Record{}, fmt.Errorf("comic %d: %w", number, comic.ErrNotFound)
	}
	return rec, nil
}

// Numbers returns the set of comic numbers present.
func (s *Store) Numbers(_ context.Context) map[int]struct{} {
	return s.current().Numbers()
}

// Append adds the unseen records of batch and rewrites the file in full.
// On a failed rewrite the in-memory copy is left untouched.
func (s *Store) Append(ctx context.Context, batch []comic.Record) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next, added := s.current().Extend(batch)
	if len(added) == 0 {
		return nil
	}
	if err := writeFile(ctx, s.path, next.Records()); err != nil {
		return err
	}

	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()

	metrics.SetStoreRecords(next.Len())
	s.logger.Debug("metadata rewritten", zap.Int("added", len(added)), zap.Int("records", next.Len()))
	return nil
}

func readFile(path string) ([]comic.Record, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []comic.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", path, err)
	}
	return records, nil
}

// writeFile replaces path atomically: temp file, fsync, rename. The temp
// file is removed on every failure after it was created.
func writeFile(ctx context.Context, path string, records []comic.Record) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("metadata: open tmp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		_ = f.Close()
		return fmt.Errorf("metadata: encode: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("metadata: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("metadata: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("metadata: rename tmp: %w", err)
	}
	return nil
}
