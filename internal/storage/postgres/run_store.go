package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/store"
)

// RunStore implements store.RunRepository on Postgres.
//
// Expected schema:
//
//	CREATE TABLE crawl_runs (
//		id UUID PRIMARY KEY,
//		patch_id TEXT NOT NULL,
//		status TEXT NOT NULL,
//		started_at TIMESTAMPTZ NOT NULL,
//		heartbeat_at TIMESTAMPTZ NOT NULL,
//		completed_at TIMESTAMPTZ,
//		error_text TEXT,
//		config JSONB NOT NULL,
//		counters JSONB NOT NULL
//	);
type RunStore struct {
	pool Pool
}

// NewRunStore constructs a store over an existing pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// CreateRun inserts a new run in live status.
func (s *RunStore) CreateRun(ctx context.Context, run crawl.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	config, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshal run config: %w", err)
	}
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return fmt.Errorf("marshal run counters: %w", err)
	}
	query := `
		INSERT INTO crawl_runs (id, patch_id, status, started_at, heartbeat_at, config, counters)
		VALUES ($1, $2, $3, $4, $4, $5, $6);
	`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.PatchID, crawl.RunStatusLive, run.StartedAt, config, counters); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// Heartbeat records progress counters and advances heartbeat_at. Only
// live runs accept heartbeats.
func (s *RunStore) Heartbeat(ctx context.Context, runID string, counters crawl.RunCounters, at time.Time) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal run counters: %w", err)
	}
	query := `
		UPDATE crawl_runs SET counters = $1, heartbeat_at = $2
		WHERE id = $3 AND status = 'live';
	`
	tag, err := s.pool.Exec(ctx, query, payload, at, runID)
	if err != nil {
		return fmt.Errorf("heartbeat run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetStatus transitions the run. Terminal transitions record
// completed_at; a run already terminal is left untouched.
func (s *RunStore) SetStatus(ctx context.Context, runID string, status crawl.RunStatus, errText string, at time.Time) error {
	query := `
		UPDATE crawl_runs
		SET status = $1,
			completed_at = CASE WHEN $1 IN ('completed', 'error') THEN $2 ELSE completed_at END,
			error_text = COALESCE(NULLIF($3, ''), error_text)
		WHERE id = $4 AND status NOT IN ('completed', 'error');
	`
	tag, err := s.pool.Exec(ctx, query, status, at, errText, runID)
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun loads a run or returns store.ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID string) (crawl.Run, error) {
	query := `
		SELECT id, patch_id, status, started_at, heartbeat_at, completed_at, error_text, config, counters
		FROM crawl_runs WHERE id = $1;
	`
	var (
		run      crawl.Run
		status   string
		errText  *string
		config   []byte
		counters []byte
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID, &run.PatchID, &status, &run.StartedAt, &run.HeartbeatAt,
		&run.CompletedAt, &errText, &config, &counters,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawl.Run{}, store.ErrNotFound
		}
		return crawl.Run{}, fmt.Errorf("get run: %w", err)
	}
	if errText != nil {
		run.ErrorText = *errText
	}
	if err := json.Unmarshal(config, &run.Config); err != nil {
		return crawl.Run{}, fmt.Errorf("unmarshal run config: %w", err)
	}
	if err := json.Unmarshal(counters, &run.Counters); err != nil {
		return crawl.Run{}, fmt.Errorf("unmarshal run counters: %w", err)
	}
	return run, nil
}

// CountLiveRuns returns how many live runs exist for a patch.
func (s *RunStore) CountLiveRuns(ctx context.Context, patchID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM crawl_runs WHERE patch_id = $1 AND status = 'live';`,
		patchID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count live runs: %w", err)
	}
	return count, nil
}
