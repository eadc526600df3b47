// Package worker implements the background tasks behind the HTTP
// dispatchers: provider imports, per-game engine analysis and batch
// coordination. Tasks receive only primitive arguments and re-load
// entities by id, so redelivery of a message is always safe.
package worker

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/blunderlab/blunderlab/internal/analysis"
	"github.com/blunderlab/blunderlab/internal/coach"
	"github.com/blunderlab/blunderlab/internal/engine"
	"github.com/blunderlab/blunderlab/internal/evalcache"
	"github.com/blunderlab/blunderlab/internal/models"
	"github.com/blunderlab/blunderlab/internal/providers"
	"github.com/blunderlab/blunderlab/internal/store"
	"github.com/blunderlab/blunderlab/internal/task"
)

// Task names shared with the HTTP dispatchers.
const (
	TaskImportGames  = "import_games"
	TaskAnalyzeGame  = "analyze_game"
	TaskBatchAnalyze = "batch_analyze"
)

// ImportArgs crosses the broker for an import run.
type ImportArgs struct {
	UserID   int64           `json:"user_id"`
	JobID    int64           `json:"job_id"`
	Provider models.Provider `json:"provider"`
	Handle   string          `json:"handle"`

	FromYear  int `json:"from_year,omitempty"`
	FromMonth int `json:"from_month,omitempty"`
	ToYear    int `json:"to_year,omitempty"`
	ToMonth   int `json:"to_month,omitempty"`
}

// AnalyzeArgs identifies one game to analyze.
type AnalyzeArgs struct {
	GameID int64 `json:"game_id"`
}

// BatchArgs identifies one batch analysis run.
type BatchArgs struct {
	UserID int64 `json:"user_id"`
	JobID  int64 `json:"job_id"`
}

// Notifier pushes completion events toward connected clients.
// *events.Bus satisfies it.
type Notifier interface {
	GameAnalysisCompleted(ctx context.Context, userID, gameID int64)
}

// AnalysisEngine is an owned engine instance: one per task, closed on
// every exit path.
type AnalysisEngine interface {
	analysis.Evaluator
	Close() error
}

// EngineFactory spawns a fresh engine subprocess.
type EngineFactory func() (AnalysisEngine, error)

// Worker owns the task handlers and their collaborators.
type Worker struct {
	db       store.Store
	rt       *task.Runtime
	notifier Notifier
	adapters map[models.Provider]providers.Adapter
	engines  EngineFactory
	limit    engine.Limit
	cache    *evalcache.Cache // optional
	coach    *coach.Coach     // optional
	coord    *Coordinator
	log      *logrus.Entry
}

// New wires a worker. cache and gameCoach may be nil.
func New(db store.Store, rt *task.Runtime, notifier Notifier,
	adapters map[models.Provider]providers.Adapter,
	engines EngineFactory, limit engine.Limit,
	cache *evalcache.Cache, gameCoach *coach.Coach) *Worker {
	return &Worker{
		db:       db,
		rt:       rt,
		notifier: notifier,
		adapters: adapters,
		engines:  engines,
		limit:    limit,
		cache:    cache,
		coach:    gameCoach,
		coord:    NewCoordinator(db),
		log:      logrus.WithField("component", "worker"),
	}
}

// Register binds the task handlers onto the runtime queues.
func (w *Worker) Register() {
	w.rt.Register(TaskImportGames, task.QueueImports, w.handleImport)
	w.rt.Register(TaskAnalyzeGame, task.QueueDefault, w.handleAnalyze)
	w.rt.Register(TaskBatchAnalyze, task.QueueDefault, w.handleBatch)
}
