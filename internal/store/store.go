// Package store mirrors completed dialogues and evaluation results into
// PostgreSQL for cross-run querying. The JSON files remain the canonical
// record; the database is an optional secondary index.
package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New opens a pool against dsn and verifies connectivity. The mirror is
// optional infrastructure, so the ping is bounded rather than waiting on
// a dead database at startup.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger}, nil
}

// Migrate applies every *.up.sql file under migrationsDir in name order.
// Migrations are idempotent DDL, so reapplying on startup is safe.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	if _, err := os.Stat(migrationsDir); err != nil {
		return fmt.Errorf("migrations dir: %w", err)
	}
	dir := os.DirFS(migrationsDir)
	files, err := fs.Glob(dir, "*.up.sql")
	if err != nil {
		return fmt.Errorf("scan migrations dir: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		ddl, err := fs.ReadFile(dir, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(ctx, string(ddl)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		s.logger.Info("Migration applied", zap.String("file", name))
	}
	return nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}
