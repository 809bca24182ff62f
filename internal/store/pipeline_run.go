package store

import (
	"context"
	"fmt"

	"basegraph.app/categorizer/core/db"
	"basegraph.app/categorizer/internal/model"
)

const (
	createRunsTable = `CREATE TABLE IF NOT EXISTS categorization_runs (
	id BIGINT PRIMARY KEY,
	status VARCHAR(32) NOT NULL,
	error TEXT,
	scanned INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	processed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	labels_induced INTEGER NOT NULL DEFAULT 0,
	labels_persisted INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
)`
	insertRun  = `INSERT INTO categorization_runs (id, status, started_at) VALUES ($1, $2, $3)`
	finishRun  = `UPDATE categorization_runs SET status = $2, error = $3, scanned = $4, skipped = $5, processed = $6, failed = $7, labels_induced = $8, labels_persisted = $9, finished_at = $10 WHERE id = $1`
	selectRuns = `SELECT id, status, error, scanned, skipped, processed, failed, labels_induced, labels_persisted, started_at, finished_at FROM categorization_runs ORDER BY started_at DESC LIMIT $1`
)

type pipelineRunStore struct {
	db *db.DB
}

func NewPipelineRunStore(database *db.DB) PipelineRunStore {
	return &pipelineRunStore{db: database}
}

func (s *pipelineRunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Querier().Exec(ctx, createRunsTable); err != nil {
		return fmt.Errorf("creating categorization_runs table: %w", err)
	}
	return nil
}

func (s *pipelineRunStore) Create(ctx context.Context, run *model.PipelineRun) error {
	if _, err := s.db.Querier().Exec(ctx, insertRun, run.ID, run.Status, run.StartedAt); err != nil {
		return fmt.Errorf("creating run %d: %w", run.ID, err)
	}
	return nil
}

func (s *pipelineRunStore) Finish(ctx context.Context, run *model.PipelineRun) error {
	tag, err := s.db.Querier().Exec(ctx, finishRun,
		run.ID,
		run.Status,
		run.Error,
		run.Scanned,
		run.Skipped,
		run.Processed,
		run.Failed,
		run.LabelsInduced,
		run.LabelsPersisted,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finishing run %d: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (s *pipelineRunStore) ListRecent(ctx context.Context, limit int32) ([]model.PipelineRun, error) {
	rows, err := s.db.Querier().Query(ctx, selectRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := []model.PipelineRun{}
	for rows.Next() {
		var r model.PipelineRun
		if err := rows.Scan(
			&r.ID,
			&r.Status,
			&r.Error,
			&r.Scanned,
			&r.Skipped,
			&r.Processed,
			&r.Failed,
			&r.LabelsInduced,
			&r.LabelsPersisted,
			&r.StartedAt,
			&r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading runs: %w", err)
	}
	return runs, nil
}
