package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blunderlab/blunderlab/internal/engine"
	"github.com/blunderlab/blunderlab/internal/models"
	"github.com/blunderlab/blunderlab/internal/store"
	"github.com/blunderlab/blunderlab/internal/task"
	"github.com/blunderlab/blunderlab/internal/worker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubEngine struct{}

func (stubEngine) Analyse(ctx context.Context, fen string, limit engine.Limit, k int) ([]engine.Line, error) {
	return []engine.Line{{PV: []string{"e2e4"}, Score: engine.Score{CP: 35}, Depth: limit.Depth}}, nil
}

func (stubEngine) Close() error { return nil }

type testAPI struct {
	db     *store.Memory
	router *gin.Engine
	token  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db := store.NewMemory()
	db.AddUser(models.User{ID: 1, Username: "alice", ChessComHandle: "alice"})
	db.AddUser(models.User{ID: 2, Username: "bob"})

	rt := task.NewRuntime(task.NewMemoryBroker())
	noop := func(ctx context.Context, raw json.RawMessage) error { return nil }
	rt.Register(worker.TaskImportGames, task.QueueImports, noop)
	rt.Register(worker.TaskAnalyzeGame, task.QueueDefault, noop)
	rt.Register(worker.TaskBatchAnalyze, task.QueueDefault, noop)

	auth := NewHMACAuthenticator("test-secret")
	srv := New(Options{
		Store:   db,
		Runtime: rt,
		Auth:    auth,
		Engines: func() (worker.AnalysisEngine, error) { return stubEngine{}, nil },
		Limit:   engine.Limit{Depth: 12},
	})
	return &testAPI{
		db:     db,
		router: srv.Router(),
		token:  auth.Sign(1, time.Hour),
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (a *testAPI) seedGame(t *testing.T, state models.AnalysisState) int64 {
	t.Helper()
	id, err := a.db.InsertGame(context.Background(), &models.Game{
		UserID: 1, Provider: models.ProviderChessCom, ProviderID: "x",
		PGN: "1. e4 e5 *", UserColor: models.White, Result: "win",
		AnalysisState: state, DatePlayed: time.Now().UTC(),
	})
	require.NoError(t, err)
	if state != models.StateUnanalyzed {
		require.NoError(t, a.db.SetAnalysisState(context.Background(), id, state))
	}
	return id
}

func TestHMACAuthenticator(t *testing.T) {
	auth := NewHMACAuthenticator("s3cret")

	t.Run("round trip", func(t *testing.T) {
		userID, err := auth.Authenticate(auth.Sign(42, time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(42), userID)
	})
	t.Run("tampered token is rejected", func(t *testing.T) {
		token := auth.Sign(42, time.Hour)
		_, err := auth.Authenticate("9" + token[1:])
		assert.Error(t, err)
	})
	t.Run("expired token is rejected", func(t *testing.T) {
		_, err := auth.Authenticate(auth.Sign(42, -time.Minute))
		assert.Error(t, err)
	})
	t.Run("other secret is rejected", func(t *testing.T) {
		_, err := auth.Authenticate(NewHMACAuthenticator("other").Sign(42, time.Hour))
		assert.Error(t, err)
	})
}

func TestAuthMiddleware(t *testing.T) {
	a := newTestAPI(t)

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/games", nil)
		w := httptest.NewRecorder()
		a.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
	t.Run("token via query parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/games?token="+a.token, nil)
		w := httptest.NewRecorder()
		a.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestImportDispatch(t *testing.T) {
	t.Run("accepted with explicit handle", func(t *testing.T) {
		a := newTestAPI(t)
		w := a.do(t, http.MethodPost, "/api/games/import", gin.H{"handle": "alice", "import_all": true})
		require.Equal(t, http.StatusAccepted, w.Code)
		body := decode(t, w)
		assert.EqualValues(t, 1, body["job_id"])
		assert.Equal(t, string(models.JobPending), body["status"])
	})

	t.Run("falls back to the profile handle", func(t *testing.T) {
		a := newTestAPI(t)
		w := a.do(t, http.MethodPost, "/api/games/import", nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("no handle anywhere", func(t *testing.T) {
		a := newTestAPI(t)
		// user 1 has no lichess handle configured
		w := a.do(t, http.MethodPost, "/api/games/import/lichess", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("inverted range", func(t *testing.T) {
		a := newTestAPI(t)
		w := a.do(t, http.MethodPost, "/api/games/import", gin.H{
			"from_year": 2025, "from_month": 6, "to_year": 2025, "to_month": 2,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("duplicate active job conflicts", func(t *testing.T) {
		a := newTestAPI(t)
		first := a.do(t, http.MethodPost, "/api/games/import", nil)
		require.Equal(t, http.StatusAccepted, first.Code)

		second := a.do(t, http.MethodPost, "/api/games/import", nil)
		require.Equal(t, http.StatusConflict, second.Code)
		assert.Equal(t, decode(t, first)["job_id"], decode(t, second)["job_id"])
	})

	t.Run("status of an own job", func(t *testing.T) {
		a := newTestAPI(t)
		w := a.do(t, http.MethodPost, "/api/games/import", nil)
		require.Equal(t, http.StatusAccepted, w.Code)

		status := a.do(t, http.MethodGet, "/api/games/import/status/1", nil)
		require.Equal(t, http.StatusOK, status.Code)
		assert.Equal(t, string(models.JobPending), decode(t, status)["status"])
	})

	t.Run("foreign jobs stay hidden", func(t *testing.T) {
		a := newTestAPI(t)
		_, err := a.db.CreateImportJob(context.Background(), 2)
		require.NoError(t, err)
		w := a.do(t, http.MethodGet, "/api/games/import/status/1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAnalyzeDispatch(t *testing.T) {
	t.Run("queues an unanalyzed game", func(t *testing.T) {
		a := newTestAPI(t)
		a.seedGame(t, models.StateUnanalyzed)
		w := a.do(t, http.MethodPost, "/api/games/1/analyze", nil)
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "queued", decode(t, w)["status"])
	})

	t.Run("already analyzed answers 200", func(t *testing.T) {
		a := newTestAPI(t)
		a.seedGame(t, models.StateAnalyzed)
		w := a.do(t, http.MethodPost, "/api/games/1/analyze", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "already_analyzed", decode(t, w)["status"])
	})

	t.Run("force resets and re-queues", func(t *testing.T) {
		a := newTestAPI(t)
		id := a.seedGame(t, models.StateAnalyzed)
		w := a.do(t, http.MethodPost, "/api/games/1/analyze?force=true", nil)
		require.Equal(t, http.StatusAccepted, w.Code)

		g, err := a.db.GetGame(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StateInProgress, g.AnalysisState)
	})

	t.Run("unknown game", func(t *testing.T) {
		a := newTestAPI(t)
		w := a.do(t, http.MethodPost, "/api/games/99/analyze", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("batch then duplicate batch", func(t *testing.T) {
		a := newTestAPI(t)
		first := a.do(t, http.MethodPost, "/api/games/analyze/all", nil)
		require.Equal(t, http.StatusAccepted, first.Code)

		second := a.do(t, http.MethodPost, "/api/games/analyze/all", nil)
		assert.Equal(t, http.StatusConflict, second.Code)
	})

	t.Run("cancel without an active job", func(t *testing.T) {
		a := newTestAPI(t)
		w := a.do(t, http.MethodPost, "/api/games/analyze/cancel", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("cancel the active job", func(t *testing.T) {
		a := newTestAPI(t)
		require.Equal(t, http.StatusAccepted, a.do(t, http.MethodPost, "/api/games/analyze/all", nil).Code)

		w := a.do(t, http.MethodPost, "/api/games/analyze/cancel", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, string(models.JobCancelled), decode(t, w)["status"])

		status := a.do(t, http.MethodGet, "/api/games/analyze/status/1", nil)
		require.Equal(t, http.StatusOK, status.Code)
		assert.Equal(t, string(models.JobCancelled), decode(t, status)["status"])
	})
}

func TestGameReads(t *testing.T) {
	t.Run("list with filters", func(t *testing.T) {
		a := newTestAPI(t)
		a.seedGame(t, models.StateUnanalyzed)
		a.seedGame(t, models.StateAnalyzed)

		w := a.do(t, http.MethodGet, "/api/games?analysis_state=analyzed", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.EqualValues(t, 1, body["total"])
	})

	t.Run("detail includes moves", func(t *testing.T) {
		a := newTestAPI(t)
		a.seedGame(t, models.StateUnanalyzed)
		w := a.do(t, http.MethodGet, "/api/games/1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Contains(t, body, "game")
		assert.Contains(t, body, "moves")
	})

	t.Run("delete then gone", func(t *testing.T) {
		a := newTestAPI(t)
		a.seedGame(t, models.StateUnanalyzed)
		assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/games/1", nil).Code)
		assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/games/1", nil).Code)
	})

	t.Run("stats endpoint answers even with no games", func(t *testing.T) {
		a := newTestAPI(t)
		w := a.do(t, http.MethodGet, "/api/games/stats", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAnalyzePosition(t *testing.T) {
	const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

	t.Run("evaluates a legal position", func(t *testing.T) {
		a := newTestAPI(t)
		w := a.do(t, http.MethodPost, "/api/games/analyze/position", gin.H{"fen": startFEN})
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.InDelta(t, 0.35, body["evaluation"].(float64), 0.001)
		assert.Equal(t, "e2e4", body["best_move_uci"])
		assert.Equal(t, "e4", body["best_move_san"])
	})

	t.Run("rejects garbage FEN", func(t *testing.T) {
		a := newTestAPI(t)
		w := a.do(t, http.MethodPost, "/api/games/analyze/position", gin.H{"fen": "not a fen"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a missing body", func(t *testing.T) {
		a := newTestAPI(t)
		w := a.do(t, http.MethodPost, "/api/games/analyze/position", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestEventStreamUnavailable(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/api/games/events/analysis", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
