package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blunderlab/blunderlab/internal/engine"
	"github.com/blunderlab/blunderlab/internal/models"
	"github.com/blunderlab/blunderlab/internal/providers"
	"github.com/blunderlab/blunderlab/internal/store"
	"github.com/blunderlab/blunderlab/internal/task"
)

const testPGN = `[Event "Test"]
[ECO "C50"]
[Opening "Italian Game"]

1. e4 e5 2. Nf3 Nc6 3. Bc4 Bc5 4. c3 Nf6 5. d3 d6 *
`

// steadyEngine scores every position a flat 10 centipawns.
type steadyEngine struct {
	calls int
	fail  bool
}

func (s *steadyEngine) Analyse(ctx context.Context, fen string, limit engine.Limit, k int) ([]engine.Line, error) {
	if s.fail {
		return nil, &engine.FailureError{Reason: "test crash"}
	}
	s.calls++
	return []engine.Line{{PV: []string{"e2e4"}, Score: engine.Score{CP: 10}, Depth: limit.Depth}}, nil
}

func (s *steadyEngine) Close() error { return nil }

type fakeNotifier struct {
	mu     sync.Mutex
	events []int64 // game ids
}

func (f *fakeNotifier) GameAnalysisCompleted(ctx context.Context, userID, gameID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, gameID)
}

type fakeAdapter struct {
	games []providers.NormalizedGame
	err   error
	calls int
}

func (f *fakeAdapter) Name() models.Provider { return models.ProviderChessCom }

func (f *fakeAdapter) FetchGames(ctx context.Context, handle string, from, to *providers.Month) ([]providers.NormalizedGame, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.games, nil
}

type fixture struct {
	db       *store.Memory
	worker   *Worker
	notifier *fakeNotifier
	adapter  *fakeAdapter
	engine   *steadyEngine
	rt       *task.Runtime
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := store.NewMemory()
	db.AddUser(models.User{ID: 1, Username: "alice", ChessComHandle: "alice"})

	notifier := &fakeNotifier{}
	adapter := &fakeAdapter{}
	eng := &steadyEngine{}
	rt := task.NewRuntime(task.NewMemoryBroker())

	w := New(db, rt, notifier,
		map[models.Provider]providers.Adapter{models.ProviderChessCom: adapter},
		func() (AnalysisEngine, error) { return eng, nil },
		engine.Limit{Depth: 12, MoveTime: 100 * time.Millisecond},
		nil, nil)
	w.Register()

	return &fixture{db: db, worker: w, notifier: notifier, adapter: adapter, engine: eng, rt: rt}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func normalized(id string) providers.NormalizedGame {
	rating := 1500
	return providers.NormalizedGame{
		Provider:   models.ProviderChessCom,
		ProviderID: id,
		PGN:        testPGN,
		UserColor:  models.White,
		Result:     "win",
		UserRating: &rating,
		DatePlayed: time.Now().UTC(),
	}
}

func TestHandleImport(t *testing.T) {
	ctx := context.Background()

	t.Run("imports new games and completes the job", func(t *testing.T) {
		f := newFixture(t)
		f.adapter.games = []providers.NormalizedGame{normalized("a"), normalized("b"), normalized("c")}

		job, err := f.db.CreateImportJob(ctx, 1)
		require.NoError(t, err)

		args := ImportArgs{UserID: 1, JobID: job.ID, Provider: models.ProviderChessCom, Handle: "alice"}
		require.NoError(t, f.worker.handleImport(ctx, mustJSON(t, args)))

		got, err := f.db.GetImportJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobCompleted, got.Status)
		assert.Equal(t, 100, got.Progress)
		assert.Equal(t, 3, got.TotalGames)
		assert.Equal(t, 3, got.ImportedGames)

		games, total, err := f.db.ListGames(ctx, 1, store.GameFilter{})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		for _, g := range games {
			assert.Equal(t, models.StateUnanalyzed, g.AnalysisState)
		}

		user, err := f.db.GetUser(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, user.LastImportAt)
		require.NotNil(t, user.CurrentRating)
		assert.Equal(t, 1500, *user.CurrentRating)
	})

	t.Run("second import of the same games adds nothing", func(t *testing.T) {
		f := newFixture(t)
		f.adapter.games = []providers.NormalizedGame{normalized("a"), normalized("b")}

		for i := 0; i < 2; i++ {
			job, err := f.db.CreateImportJob(ctx, 1)
			require.NoError(t, err)
			args := ImportArgs{UserID: 1, JobID: job.ID, Provider: models.ProviderChessCom, Handle: "alice"}
			require.NoError(t, f.worker.handleImport(ctx, mustJSON(t, args)))

			got, err := f.db.GetImportJob(ctx, job.ID)
			require.NoError(t, err)
			if i == 0 {
				assert.Equal(t, 2, got.ImportedGames)
			} else {
				assert.Equal(t, 0, got.ImportedGames, "re-import must deduplicate")
			}
		}

		_, total, err := f.db.ListGames(ctx, 1, store.GameFilter{})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("provider failure fails the job with a message", func(t *testing.T) {
		f := newFixture(t)
		f.adapter.err = &providers.UserNotFoundError{Provider: models.ProviderChessCom, Handle: "ghost"}

		job, err := f.db.CreateImportJob(ctx, 1)
		require.NoError(t, err)
		args := ImportArgs{UserID: 1, JobID: job.ID, Provider: models.ProviderChessCom, Handle: "ghost"}
		require.NoError(t, f.worker.handleImport(ctx, mustJSON(t, args)))

		got, err := f.db.GetImportJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobFailed, got.Status)
		assert.Contains(t, got.ErrorMessage, "ghost")
		require.NotNil(t, got.CompletedAt)
	})
}

func TestHandleAnalyze(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, f *fixture) int64 {
		id, err := f.db.InsertGame(ctx, &models.Game{
			UserID: 1, Provider: models.ProviderChessCom, ProviderID: "g",
			PGN: testPGN, UserColor: models.White, Result: "win",
			DatePlayed: time.Now().UTC(),
		})
		require.NoError(t, err)
		return id
	}

	t.Run("success writes stats, moves and an event", func(t *testing.T) {
		f := newFixture(t)
		id := seed(t, f)

		require.NoError(t, f.worker.handleAnalyze(ctx, mustJSON(t, AnalyzeArgs{GameID: id})))

		g, err := f.db.GetGame(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StateAnalyzed, g.AnalysisState)
		require.NotNil(t, g.AnalyzedAt)
		assert.Equal(t, 10, g.NumMoves)
		require.NotNil(t, g.Accuracy)
		// Flat 10cp scores mean every move "loses" 20cp.
		assert.InDelta(t, 98.0, *g.Accuracy, 0.01)
		assert.Equal(t, "C50", g.OpeningECO)

		moves, err := f.db.ListMoves(ctx, id)
		require.NoError(t, err)
		require.Len(t, moves, 10)
		for i, m := range moves {
			assert.Equal(t, i, m.HalfMove)
			assert.Equal(t, i%2 == 0, m.IsWhite)
		}

		assert.Equal(t, []int64{id}, f.notifier.events)
		assert.Equal(t, 11, f.engine.calls, "one analyse per position")

		stats, err := f.db.GetUserStats(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalGames)
	})

	t.Run("already analyzed games are skipped", func(t *testing.T) {
		f := newFixture(t)
		id := seed(t, f)
		require.NoError(t, f.worker.handleAnalyze(ctx, mustJSON(t, AnalyzeArgs{GameID: id})))
		calls := f.engine.calls

		require.NoError(t, f.worker.handleAnalyze(ctx, mustJSON(t, AnalyzeArgs{GameID: id})))
		assert.Equal(t, calls, f.engine.calls, "no second engine run")
		assert.Len(t, f.notifier.events, 1)
	})

	t.Run("missing games are ignored", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.worker.handleAnalyze(ctx, mustJSON(t, AnalyzeArgs{GameID: 404})))
		assert.Empty(t, f.notifier.events)
	})

	t.Run("engine failure marks the game analyzed with no stats", func(t *testing.T) {
		f := newFixture(t)
		f.engine.fail = true
		id := seed(t, f)

		require.NoError(t, f.worker.handleAnalyze(ctx, mustJSON(t, AnalyzeArgs{GameID: id})))

		g, err := f.db.GetGame(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StateAnalyzed, g.AnalysisState)
		require.NotNil(t, g.AnalyzedAt)
		assert.Nil(t, g.Accuracy)
		assert.Zero(t, g.NumBlunders)
		assert.Empty(t, f.notifier.events, "no completion event for a failed analysis")

		moves, err := f.db.ListMoves(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, moves)
	})
}

func TestBatchAndCoordinator(t *testing.T) {
	ctx := context.Background()

	seedGames := func(t *testing.T, f *fixture, n int) []int64 {
		var ids []int64
		for i := 0; i < n; i++ {
			id, err := f.db.InsertGame(ctx, &models.Game{
				UserID: 1, Provider: models.ProviderChessCom,
				ProviderID: fmt.Sprintf("g%d", i), PGN: testPGN,
				UserColor: models.White, Result: "win", DatePlayed: time.Now().UTC(),
			})
			require.NoError(t, err)
			ids = append(ids, id)
		}
		return ids
	}

	t.Run("empty batch completes immediately", func(t *testing.T) {
		f := newFixture(t)
		job, err := f.db.CreateAnalysisJob(ctx, 1)
		require.NoError(t, err)

		require.NoError(t, f.worker.handleBatch(ctx, mustJSON(t, BatchArgs{UserID: 1, JobID: job.ID})))

		got, err := f.db.GetAnalysisJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobCompleted, got.Status)
		assert.Equal(t, 100, got.Progress)
	})

	t.Run("batch claims every game before enqueueing", func(t *testing.T) {
		f := newFixture(t)
		ids := seedGames(t, f, 4)
		job, err := f.db.CreateAnalysisJob(ctx, 1)
		require.NoError(t, err)

		require.NoError(t, f.worker.handleBatch(ctx, mustJSON(t, BatchArgs{UserID: 1, JobID: job.ID})))

		got, err := f.db.GetAnalysisJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobProcessing, got.Status)
		assert.Equal(t, 4, got.TotalGames)
		require.NotNil(t, got.StartedAt)

		for _, id := range ids {
			g, err := f.db.GetGame(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.StateInProgress, g.AnalysisState)
		}
	})

	t.Run("out-of-order completions drive monotone progress", func(t *testing.T) {
		f := newFixture(t)
		ids := seedGames(t, f, 4)
		job, err := f.db.CreateAnalysisJob(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, f.worker.handleBatch(ctx, mustJSON(t, BatchArgs{UserID: 1, JobID: job.ID})))

		order := []int64{ids[3], ids[0], ids[2], ids[1]}
		wantProgress := []int{25, 50, 75, 100}
		for i, id := range order {
			require.NoError(t, f.worker.handleAnalyze(ctx, mustJSON(t, AnalyzeArgs{GameID: id})))

			got, err := f.db.GetAnalysisJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, wantProgress[i], got.Progress)
			assert.LessOrEqual(t, got.AnalyzedGames, got.TotalGames)
		}

		got, err := f.db.GetAnalysisJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobCompleted, got.Status)
	})

	t.Run("cancel mid-batch resets the unfinished games", func(t *testing.T) {
		f := newFixture(t)
		ids := seedGames(t, f, 10)
		job, err := f.db.CreateAnalysisJob(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, f.worker.handleBatch(ctx, mustJSON(t, BatchArgs{UserID: 1, JobID: job.ID})))

		for _, id := range ids[:3] {
			require.NoError(t, f.worker.handleAnalyze(ctx, mustJSON(t, AnalyzeArgs{GameID: id})))
		}

		require.NoError(t, f.db.CancelAnalysisJob(ctx, 1, job.ID))

		got, err := f.db.GetAnalysisJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobCancelled, got.Status)

		analyzed, inProgress, unanalyzed := 0, 0, 0
		for _, id := range ids {
			g, err := f.db.GetGame(ctx, id)
			require.NoError(t, err)
			switch g.AnalysisState {
			case models.StateAnalyzed:
				analyzed++
			case models.StateInProgress:
				inProgress++
			default:
				unanalyzed++
			}
		}
		assert.Equal(t, 3, analyzed)
		assert.Equal(t, 0, inProgress, "cancel leaves nothing stuck")
		assert.Equal(t, 7, unanalyzed)
	})

	t.Run("failed games still complete the batch", func(t *testing.T) {
		f := newFixture(t)
		ids := seedGames(t, f, 2)
		job, err := f.db.CreateAnalysisJob(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, f.worker.handleBatch(ctx, mustJSON(t, BatchArgs{UserID: 1, JobID: job.ID})))

		require.NoError(t, f.worker.handleAnalyze(ctx, mustJSON(t, AnalyzeArgs{GameID: ids[0]})))
		f.engine.fail = true
		require.NoError(t, f.worker.handleAnalyze(ctx, mustJSON(t, AnalyzeArgs{GameID: ids[1]})))

		got, err := f.db.GetAnalysisJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobCompleted, got.Status)
		assert.Equal(t, 100, got.Progress)
	})
}
