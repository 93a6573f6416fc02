package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
)

// InsertDeadLetter parks an analytics event whose synchronous delivery
// failed. Rows live until a replay succeeds.
func (s *Storage) InsertDeadLetter(ctx context.Context, eventType, payload string) error {
	query := `
		INSERT INTO analytics_dead_letters (event_type, payload, created_at)
		VALUES ($1, $2, NOW())
	`

	if _, err := s.db.ExecContext(ctx, query, eventType, payload); err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}

	s.logger.Warn("Analytics event dead-lettered",
		slog.String("event_type", eventType),
	)

	return nil
}

// ListOldestDeadLetters loads up to limit dead letters, oldest first, for
// replay.
func (s *Storage) ListOldestDeadLetters(ctx context.Context, limit int) ([]domain.AnalyticsDeadLetter, error) {
	query := `
		SELECT id, event_type, payload, created_at
		FROM analytics_dead_letters
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`

	var letters []domain.AnalyticsDeadLetter
	if err := s.db.SelectContext(ctx, &letters, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	return letters, nil
}

// DeleteDeadLetter removes a dead letter after a successful replay.
func (s *Storage) DeleteDeadLetter(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM analytics_dead_letters WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	return nil
}

// CountDeadLetters returns the dead-letter backlog size.
func (s *Storage) CountDeadLetters(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM analytics_dead_letters`); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}
