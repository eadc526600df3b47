// Package models defines the persistent entities shared by the HTTP
// dispatchers, the worker tasks and the store.
package models

import "time"

// Provider identifies the external game source a game was imported from.
type Provider string

const (
	ProviderChessCom Provider = "chess.com"
	ProviderLichess  Provider = "lichess"
)

// AnalysisState tracks per-game analysis progress.
type AnalysisState string

const (
	StateUnanalyzed AnalysisState = "unanalyzed"
	StateInProgress AnalysisState = "in_progress"
	StateAnalyzed   AnalysisState = "analyzed"
)

// JobStatus is the lifecycle status shared by import and analysis jobs.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether s is a final job status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Color is the side a player holds in a game.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Classification tags a single move.
type Classification string

const (
	ClassBook       Classification = "book"
	ClassBest       Classification = "best"
	ClassExcellent  Classification = "excellent"
	ClassGood       Classification = "good"
	ClassInaccuracy Classification = "inaccuracy"
	ClassMistake    Classification = "mistake"
	ClassBlunder    Classification = "blunder"
)

// User owns games and jobs.
type User struct {
	ID              int64      `json:"id"`
	Username        string     `json:"username"`
	Email           string     `json:"email"`
	HashedPassword  string     `json:"-"`
	ChessComHandle  string     `json:"chess_com_username,omitempty"`
	LichessHandle   string     `json:"lichess_username,omitempty"`
	CurrentRating   *int       `json:"current_rating,omitempty"`
	LastImportAt    *time.Time `json:"last_import_at,omitempty"`
	IsActive        bool       `json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Game is one imported game plus its analysis facet.
type Game struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`

	Provider    Provider `json:"provider"`
	ProviderURL string   `json:"provider_url,omitempty"`
	ProviderID  string   `json:"provider_id,omitempty"`
	PGN         string   `json:"pgn"`

	WhitePlayer string `json:"white_player"`
	BlackPlayer string `json:"black_player"`
	WhiteElo    *int   `json:"white_elo,omitempty"`
	BlackElo    *int   `json:"black_elo,omitempty"`
	UserColor   Color  `json:"user_color"`
	UserRating  *int   `json:"user_rating,omitempty"`

	Result      string `json:"result"` // win, loss, draw
	Termination string `json:"termination,omitempty"`
	TimeClass   string `json:"time_class,omitempty"`
	TimeControl string `json:"time_control,omitempty"`

	OpeningECO  string `json:"opening_eco,omitempty"`
	OpeningName string `json:"opening_name,omitempty"`
	OpeningPly  int    `json:"opening_ply,omitempty"`

	AnalysisState      AnalysisState `json:"analysis_state"`
	Accuracy           *float64      `json:"accuracy,omitempty"`
	AvgCentipawnLoss   *float64      `json:"average_centipawn_loss,omitempty"`
	NumMoves           int           `json:"num_moves"`
	NumBlunders        int           `json:"num_blunders"`
	NumMistakes        int           `json:"num_mistakes"`
	NumInaccuracies    int           `json:"num_inaccuracies"`

	DatePlayed time.Time  `json:"date_played"`
	CreatedAt  time.Time  `json:"created_at"`
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
}

// Move is one analyzed half-move of a game.
type Move struct {
	ID     int64 `json:"id"`
	GameID int64 `json:"game_id"`

	HalfMove   int    `json:"half_move"`   // 0-based ply
	MoveNumber int    `json:"move_number"` // full move number, 1-based
	IsWhite    bool   `json:"is_white"`
	SAN        string `json:"move_san"`
	UCI        string `json:"move_uci"`

	// Evaluations in centipawns from the moving player's perspective.
	EvalBefore  *float64 `json:"evaluation_before,omitempty"`
	EvalAfter   *float64 `json:"evaluation_after,omitempty"`
	BestMoveUCI string   `json:"best_move_uci,omitempty"`

	Classification Classification `json:"classification,omitempty"`
	CentipawnLoss  *float64       `json:"centipawn_loss,omitempty"`

	CoachCommentary string `json:"coach_commentary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ImportJob tracks one provider import run.
type ImportJob struct {
	ID     int64 `json:"job_id"`
	UserID int64 `json:"user_id"`

	Status        JobStatus `json:"status"`
	Progress      int       `json:"progress"` // 0-100
	TotalGames    int       `json:"total_games"`
	ImportedGames int       `json:"imported_games"`
	ErrorMessage  string    `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AnalysisJob tracks one batch analysis run.
type AnalysisJob struct {
	ID     int64 `json:"job_id"`
	UserID int64 `json:"user_id"`

	Status        JobStatus `json:"status"`
	Progress      int       `json:"progress"` // 0-100
	TotalGames    int       `json:"total_games"`
	AnalyzedGames int       `json:"analyzed_games"`
	ErrorMessage  string    `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// UserStats is the denormalized per-user aggregate refreshed after analysis.
type UserStats struct {
	UserID int64 `json:"user_id"`

	TotalGames  int `json:"total_games"`
	TotalWins   int `json:"total_wins"`
	TotalLosses int `json:"total_losses"`
	TotalDraws  int `json:"total_draws"`

	WhiteGames int `json:"white_games"`
	WhiteWins  int `json:"white_wins"`
	BlackGames int `json:"black_games"`
	BlackWins  int `json:"black_wins"`

	AvgAccuracy       *float64 `json:"avg_accuracy,omitempty"`
	AvgCentipawnLoss  *float64 `json:"avg_centipawn_loss,omitempty"`
	TotalBlunders     int      `json:"total_blunders"`
	TotalMistakes     int      `json:"total_mistakes"`
	TotalInaccuracies int      `json:"total_inaccuracies"`

	UpdatedAt time.Time `json:"updated_at"`
}
