package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/blunderlab/blunderlab/internal/models"
)

const importJobColumns = `id, user_id, status, progress, total_games, imported_games,
	error_message, created_at, started_at, completed_at`

func scanImportJob(row pgx.Row) (*models.ImportJob, error) {
	var j models.ImportJob
	err := row.Scan(&j.ID, &j.UserID, &j.Status, &j.Progress, &j.TotalGames,
		&j.ImportedGames, &j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (p *Postgres) CreateImportJob(ctx context.Context, userID int64) (*models.ImportJob, error) {
	return scanImportJob(p.pool.QueryRow(ctx, `
		INSERT INTO import_jobs (user_id, status)
		VALUES ($1, $2) RETURNING `+importJobColumns,
		userID, models.JobPending))
}

func (p *Postgres) GetImportJob(ctx context.Context, id int64) (*models.ImportJob, error) {
	return scanImportJob(p.pool.QueryRow(ctx,
		`SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1`, id))
}

func (p *Postgres) ActiveImportJob(ctx context.Context, userID int64) (*models.ImportJob, error) {
	return scanImportJob(p.pool.QueryRow(ctx, `
		SELECT `+importJobColumns+` FROM import_jobs
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1`,
		userID, models.JobPending, models.JobProcessing))
}

func (p *Postgres) MarkImportProcessing(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE import_jobs SET status = $2, progress = 5, started_at = $3
		WHERE id = $1`,
		id, models.JobProcessing, time.Now().UTC())
	return err
}

func (p *Postgres) SetImportTotal(ctx context.Context, id int64, total int) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE import_jobs SET total_games = $2 WHERE id = $1`, id, total)
	return err
}

func (p *Postgres) UpdateImportProgress(ctx context.Context, id int64, imported, progress int) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE import_jobs SET imported_games = $2, progress = $3 WHERE id = $1`,
		id, imported, progress)
	return err
}

func (p *Postgres) CompleteImportJob(ctx context.Context, id int64, imported int) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE import_jobs SET status = $2, imported_games = $3, progress = 100, completed_at = $4
		WHERE id = $1`,
		id, models.JobCompleted, imported, time.Now().UTC())
	return err
}

func (p *Postgres) FailImportJob(ctx context.Context, id int64, message string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE import_jobs SET status = $2, error_message = $3, completed_at = $4
		WHERE id = $1`,
		id, models.JobFailed, message, time.Now().UTC())
	return err
}

const analysisJobColumns = `id, user_id, status, progress, total_games, analyzed_games,
	error_message, created_at, started_at, completed_at`

func scanAnalysisJob(row pgx.Row) (*models.AnalysisJob, error) {
	var j models.AnalysisJob
	err := row.Scan(&j.ID, &j.UserID, &j.Status, &j.Progress, &j.TotalGames,
		&j.AnalyzedGames, &j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (p *Postgres) CreateAnalysisJob(ctx context.Context, userID int64) (*models.AnalysisJob, error) {
	return scanAnalysisJob(p.pool.QueryRow(ctx, `
		INSERT INTO analysis_jobs (user_id, status)
		VALUES ($1, $2) RETURNING `+analysisJobColumns,
		userID, models.JobPending))
}

func (p *Postgres) GetAnalysisJob(ctx context.Context, id int64) (*models.AnalysisJob, error) {
	return scanAnalysisJob(p.pool.QueryRow(ctx,
		`SELECT `+analysisJobColumns+` FROM analysis_jobs WHERE id = $1`, id))
}

func (p *Postgres) ActiveAnalysisJob(ctx context.Context, userID int64) (*models.AnalysisJob, error) {
	return scanAnalysisJob(p.pool.QueryRow(ctx, `
		SELECT `+analysisJobColumns+` FROM analysis_jobs
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1`,
		userID, models.JobPending, models.JobProcessing))
}

func (p *Postgres) MarkAnalysisProcessing(ctx context.Context, id int64, startedAt time.Time, total int) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE analysis_jobs SET status = $2, total_games = $3, started_at = $4
		WHERE id = $1`,
		id, models.JobProcessing, total, startedAt)
	return err
}

func (p *Postgres) ActiveStartedJobs(ctx context.Context, userID int64) ([]models.AnalysisJob, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+analysisJobColumns+` FROM analysis_jobs
		WHERE user_id = $1 AND status IN ($2, $3) AND started_at IS NOT NULL`,
		userID, models.JobPending, models.JobProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.AnalysisJob
	for rows.Next() {
		j, err := scanAnalysisJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (p *Postgres) UpdateAnalysisProgress(ctx context.Context, id int64, analyzed, progress int) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE analysis_jobs SET analyzed_games = $2, progress = $3 WHERE id = $1`,
		id, analyzed, progress)
	return err
}

func (p *Postgres) CompleteAnalysisJob(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE analysis_jobs SET status = $2, progress = 100, completed_at = $3
		WHERE id = $1`,
		id, models.JobCompleted, time.Now().UTC())
	return err
}

func (p *Postgres) FailAnalysisJob(ctx context.Context, id int64, message string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE analysis_jobs SET status = $2, error_message = $3, completed_at = $4
		WHERE id = $1`,
		id, models.JobFailed, message, time.Now().UTC())
	return err
}

// CancelAnalysisJob flips the job to cancelled and resets the user's
// in-progress games in one transaction, so a crash between the two
// writes cannot strand games in in_progress.
func (p *Postgres) CancelAnalysisJob(ctx context.Context, userID, jobID int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $3, error_message = 'Cancelled by user', completed_at = $4
		WHERE id = $1 AND user_id = $2 AND status IN ($5, $6)`,
		jobID, userID, models.JobCancelled, time.Now().UTC(),
		models.JobPending, models.JobProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE games SET analysis_state = $2
		WHERE user_id = $1 AND analysis_state = $3`,
		userID, models.StateUnanalyzed, models.StateInProgress)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}
