// Package postgres keeps comic metadata in a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/xkcd-mirror/internal/comic"
	"github.com/JakeFAU/xkcd-mirror/internal/metrics"
	"github.com/JakeFAU/xkcd-mirror/internal/store"
)

const defaultTable = "comics"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store is a Postgres-backed comic.Store. Rows are ordered by a serial
// column so All keeps insertion order; reads come from a cached snapshot.
type Store struct {
	pool   pool
	table  string
	logger *zap.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	snap    *store.Snapshot
}

// New connects to Postgres, ensures the table exists and loads every row.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(ctx, p, cfg.Table, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool builds a store on an existing pool (primarily for testing).
func NewWithPool(ctx context.Context, p pool, table string, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{pool: p, table: table, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	records, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.snap = store.NewSnapshot(records)
	metrics.SetStoreRecords(s.snap.Len())
	logger.Info("metadata loaded", zap.String("table", table), zap.Int("records", s.snap.Len()))
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq          BIGSERIAL PRIMARY KEY,
	comic_number INTEGER UNIQUE NOT NULL,
	file_name    TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	caption      TEXT NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) ([]comic.Record, error) {
	query := fmt.Sprintf(`SELECT comic_number, file_name, title, caption FROM %s ORDER BY seq`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select comics: %w", err)
	}
	defer rows.Close()

	var out []comic.Record
	for rows.Next() {
		var rec comic.Record
		if err := rows.Scan(&rec.Number, &rec.FileName, &rec.Title, &rec.Caption); err != nil {
			return nil, fmt.Errorf("scan comic: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comics: %w", err)
	}
	return out, nil
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

// Append inserts the unseen records of batch in a single transaction.
func (s *Store) Append(ctx context.Context, batch []comic.Record) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next, added := s.current().Extend(batch)
	if len(added) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (comic_number, file_name, title, caption)
VALUES ($1, $2, $3, $4)
ON CONFLICT (comic_number) DO NOTHING`, s.table)
	for _, rec := range added {
		if _, err := tx.Exec(ctx, query, rec.Number, rec.FileName, rec.Title, rec.Caption); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("insert comic %d: %w", rec.Number, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()

	metrics.SetStoreRecords(next.Len())
	s.logger.Debug("metadata rows inserted", zap.Int("added", len(added)), zap.Int("records", next.Len()))
	return nil
}
