// Package storage is the persistence layer for the reward pipeline: runs,
// stage jobs, analytics dead letters, and the referral code directory. The
// database is the only synchronization point between dispatchers; all
// exclusivity comes from conditional updates, never in-process locks.
package storage

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Storage handles all database operations for the pipeline
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// Migrate executes the embedded SQL migrations in order.
func (s *Storage) Migrate(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		stmt := strings.TrimSpace(string(content))
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
		s.logger.Info("Migration applied",
			slog.String("file", e.Name()),
		)
	}

	return nil
}
