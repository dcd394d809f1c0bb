// Package events tracks externally delivered events that must be handled at
// most once, such as payment provider webhooks.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records webhook events that were already handled.
type ProcessedStore struct {
	db rowQuerier
}

// NewProcessedStore creates a store backed by a pgx pool.
func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{db: pool}
}

func newProcessedStoreWithExec(db rowQuerier) *ProcessedStore {
	if db == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{db: db}
}

// AlreadyProcessed reports whether this provider event id was handled before.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var exists int
	err := s.db.QueryRow(ctx,
		`SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`,
		provider, eventID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed records an event id for the provider, returning false if it
// was already recorded. Concurrent markers serialize on the primary key.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		INSERT INTO processed_events (provider, event_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		provider, eventID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Prune drops dedup records older than the cutoff. Providers stop retrying
// deliveries after days, so old rows only cost space.
func (s *ProcessedStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	ct, err := s.db.Exec(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("events: prune: %w", err)
	}
	return ct.RowsAffected(), nil
}
