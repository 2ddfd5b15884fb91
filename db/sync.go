// ABOUTME: Database operations for the sync_runs table
// ABOUTME: Records the status, counts, and errors of each calendar sync pass
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/calmirror/models"
)

// SyncRunsRepository records sync pass history.
type SyncRunsRepository struct {
	db *sql.DB
}

// NewSyncRunsRepository creates a new sync runs repository.
func NewSyncRunsRepository(db *sql.DB) *SyncRunsRepository {
	return &SyncRunsRepository{db: db}
}

// StartRun inserts a run in the 'running' state.
func (r *SyncRunsRepository) StartRun(ctx context.Context, run *models.SyncRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = models.RunRunning

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, account_id, mode, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.AccountID.String(), run.Mode, run.Status, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to start sync run: %w", classify(err))
	}

	return nil
}

// FinishRun stores the outcome of a run.
func (r *SyncRunsRepository) FinishRun(ctx context.Context, run *models.SyncRun) error {
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	run.FinishedAt = &finished

	var errorMsg sql.NullString
	if run.ErrorMessage != nil {
		errorMsg = sql.NullString{String: *run.ErrorMessage, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET status = ?, event_count = ?, created_count = ?, updated_count = ?, failed_count = ?,
			error_message = ?, finished_at = ?
		WHERE id = ?
	`, run.Status, run.EventCount, run.Created, run.Updated, run.Failed, errorMsg, finished, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish sync run: %w", classify(err))
	}

	return nil
}

// RecentRuns returns the latest runs for an account, newest first.
func (r *SyncRunsRepository) RecentRuns(ctx context.Context, accountID uuid.UUID, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, mode, status, event_count, created_count, updated_count, failed_count,
			error_message, started_at, finished_at
		FROM sync_runs
		WHERE account_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, accountID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var account string
		var errorMessage sql.NullString
		var finishedAt sql.NullTime

		err := rows.Scan(
			&run.ID,
			&account,
			&run.Mode,
			&run.Status,
			&run.EventCount,
			&run.Created,
			&run.Updated,
			&run.Failed,
			&errorMessage,
			&run.StartedAt,
			&finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}

		run.AccountID, err = uuid.Parse(account)
		if err != nil {
			return nil, fmt.Errorf("invalid account id %q: %w", account, err)
		}
		if errorMessage.Valid {
			run.ErrorMessage = &errorMessage.String
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}
