// Package store persists users, games, moves and jobs in PostgreSQL.
// Consumers depend on the per-entity interfaces; Postgres implements
// them in production and Memory implements them for tests and local
// single-binary runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blunderlab/blunderlab/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// GameFilter narrows ListGames. Zero values mean no constraint.
type GameFilter struct {
	Provider      models.Provider
	Result        string
	OpeningECO    string
	AnalysisState models.AnalysisState
	Limit         int
	Offset        int
}

// Users reads and updates user profiles.
type Users interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateImportMeta(ctx context.Context, userID int64, importedAt time.Time, currentRating *int) error
}

// Games owns the game rows and their analysis facet.
type Games interface {
	InsertGame(ctx context.Context, g *models.Game) (int64, error)
	GetGame(ctx context.Context, id int64) (*models.Game, error)
	ListGames(ctx context.Context, userID int64, f GameFilter) ([]models.Game, int, error)
	DeleteGame(ctx context.Context, userID, gameID int64) error

	// ExistingProviderIDs returns the provider ids already imported for
	// the user, for import dedup.
	ExistingProviderIDs(ctx context.Context, userID int64, provider models.Provider) (map[string]struct{}, error)

	// ClaimForAnalysis transitions the game to in_progress unless it is
	// already analyzed. Returns false when there is nothing to do.
	ClaimForAnalysis(ctx context.Context, gameID int64) (bool, error)
	SetAnalysisState(ctx context.Context, gameID int64, state models.AnalysisState) error

	// WriteAnalysis atomically replaces the game's move rows and stamps
	// the aggregate stats and analyzed_at.
	WriteAnalysis(ctx context.Context, gameID int64, stats GameStatsUpdate, moves []models.Move) error

	// MarkAnalyzedEmpty terminates a game whose analysis failed: zero
	// stats, analyzed state, never retried.
	MarkAnalyzedEmpty(ctx context.Context, gameID int64) error

	// ResetAnalysis deletes the game's moves and returns it to
	// in_progress ahead of a forced re-analysis.
	ResetAnalysis(ctx context.Context, gameID int64) error

	UnanalyzedGameIDs(ctx context.Context, userID int64) ([]int64, error)
	CountAnalyzedSince(ctx context.Context, userID int64, since time.Time) (int, error)
}

// GameStatsUpdate is the analysis outcome written onto a game row.
type GameStatsUpdate struct {
	Accuracy         *float64
	AvgCentipawnLoss *float64
	NumMoves         int
	NumBlunders      int
	NumMistakes      int
	NumInaccuracies  int
	OpeningECO       string
	OpeningName      string
	AnalyzedAt       time.Time
}

// Moves reads analyzed moves back out.
type Moves interface {
	ListMoves(ctx context.Context, gameID int64) ([]models.Move, error)
	UpdateCommentary(ctx context.Context, moveID int64, commentary string) error
}

// ImportJobs tracks provider import runs.
type ImportJobs interface {
	CreateImportJob(ctx context.Context, userID int64) (*models.ImportJob, error)
	GetImportJob(ctx context.Context, id int64) (*models.ImportJob, error)
	// ActiveImportJob returns the user's pending or processing job, or
	// ErrNotFound.
	ActiveImportJob(ctx context.Context, userID int64) (*models.ImportJob, error)
	MarkImportProcessing(ctx context.Context, id int64) error
	SetImportTotal(ctx context.Context, id int64, total int) error
	UpdateImportProgress(ctx context.Context, id int64, imported, progress int) error
	CompleteImportJob(ctx context.Context, id int64, imported int) error
	FailImportJob(ctx context.Context, id int64, message string) error
}

// AnalysisJobs tracks batch analysis runs.
type AnalysisJobs interface {
	CreateAnalysisJob(ctx context.Context, userID int64) (*models.AnalysisJob, error)
	GetAnalysisJob(ctx context.Context, id int64) (*models.AnalysisJob, error)
	ActiveAnalysisJob(ctx context.Context, userID int64) (*models.AnalysisJob, error)
	MarkAnalysisProcessing(ctx context.Context, id int64, startedAt time.Time, total int) error
	// ActiveStartedJobs lists the user's non-terminal jobs that have a
	// started_at, for coordinator progress recomputation.
	ActiveStartedJobs(ctx context.Context, userID int64) ([]models.AnalysisJob, error)
	UpdateAnalysisProgress(ctx context.Context, id int64, analyzed, progress int) error
	CompleteAnalysisJob(ctx context.Context, id int64) error
	FailAnalysisJob(ctx context.Context, id int64, message string) error
	// CancelAnalysisJob cancels the job and, in the same transaction,
	// resets every in_progress game of the user to unanalyzed.
	CancelAnalysisJob(ctx context.Context, userID, jobID int64) error
}

// Stats maintains the denormalized per-user aggregates.
type Stats interface {
	RecomputeUserStats(ctx context.Context, userID int64) error
	GetUserStats(ctx context.Context, userID int64) (*models.UserStats, error)
}

// Store bundles every per-entity interface; both Postgres and Memory
// satisfy it.
type Store interface {
	Users
	Games
	Moves
	ImportJobs
	AnalysisJobs
	Stats
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// Open connects a pool and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
