package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blunderlab/blunderlab/internal/engine"
	"github.com/blunderlab/blunderlab/internal/models"
)

// scriptedEvaluator returns one pre-canned centipawn score per call, in
// call order, mimicking the per-position walk.
type scriptedEvaluator struct {
	scores []int
	calls  int
}

func (s *scriptedEvaluator) Analyse(ctx context.Context, fen string, limit engine.Limit, k int) ([]engine.Line, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.calls >= len(s.scores) {
		return nil, fmt.Errorf("unexpected call %d", s.calls)
	}
	score := s.scores[s.calls]
	s.calls++
	return []engine.Line{{PV: []string{"e2e4", "e7e5"}, Score: engine.Score{CP: score}, Depth: limit.Depth}}, nil
}

const italianPGN = `[Event "Test"]
[ECO "C50"]
[Opening "Italian Game"]

1. e4 e5 2. Nf3 Nc6 3. Bc4 Bc5 4. c3 Nf6 5. d3 d6 *
`

func TestAnalyzeGame(t *testing.T) {
	// Eleven positions for ten plies. Scores are from the side to move,
	// so a quiet move roughly negates the previous score. Ply 6 hands
	// black a winning position, ply 3 drifts 70 centipawns.
	scores := []int{30, -25, 28, -20, 90, -80, 85, 230, -225, 220, -215}
	ev := &scriptedEvaluator{scores: scores}

	a := New(ev, engine.Limit{Depth: 12, MoveTime: 100 * time.Millisecond})
	res, err := a.AnalyzeGame(context.Background(), italianPGN, models.White)
	require.NoError(t, err)

	t.Run("one engine call per position", func(t *testing.T) {
		assert.Equal(t, 11, ev.calls)
	})

	t.Run("one record per ply", func(t *testing.T) {
		require.Len(t, res.Moves, 10)
		for i, m := range res.Moves {
			assert.Equal(t, i, m.HalfMove)
			assert.Equal(t, i/2+1, m.MoveNumber)
			assert.Equal(t, i%2 == 0, m.IsWhite)
		}
		assert.Equal(t, 10, res.Stats.NumMoves)
	})

	t.Run("opening comes from the headers", func(t *testing.T) {
		assert.Equal(t, "C50", res.OpeningCode)
		assert.Equal(t, "Italian Game", res.OpeningName)
	})

	t.Run("first moves are encoded", func(t *testing.T) {
		assert.Equal(t, "e4", res.Moves[0].SAN)
		assert.Equal(t, "e2e4", res.Moves[0].UCI)
		assert.Equal(t, "e2e4", res.Moves[0].BestMoveUCI)
	})

	t.Run("centipawn loss identity holds", func(t *testing.T) {
		for i, m := range res.Moves {
			require.NotNil(t, m.CentipawnLoss)
			require.NotNil(t, m.EvalBefore)
			require.NotNil(t, m.EvalAfter)
			assert.InDelta(t, float64(scores[i]+scores[i+1]), *m.CentipawnLoss, 0.1)
			assert.InDelta(t, float64(scores[i]), *m.EvalBefore, 0.1)
			assert.InDelta(t, float64(-scores[i+1]), *m.EvalAfter, 0.1)
		}
	})

	t.Run("stats count only the user's moves", func(t *testing.T) {
		// White plies 0,2,4,6,8 lose 5, 8, 10, 315, -5. Ply 6 drops a
		// slight edge into a lost position: blunder.
		assert.Equal(t, 1, res.Stats.NumBlunders)
		assert.Equal(t, 0, res.Stats.NumMistakes)
		assert.Equal(t, 0, res.Stats.NumInaccuracies)

		// Negative losses clamp to zero, so 338 over 5 moves.
		assert.InDelta(t, 67.6, res.Stats.AverageCPL, 0.01)
		assert.InDelta(t, 93.24, res.Stats.Accuracy, 0.01)
	})
}

func TestAnalyzeGameBlackPOV(t *testing.T) {
	scores := []int{30, -25, 28, -20, 90, -80, 85, 230, -225, 220, -215}
	ev := &scriptedEvaluator{scores: scores}

	a := New(ev, engine.Limit{Depth: 12})
	res, err := a.AnalyzeGame(context.Background(), italianPGN, models.Black)
	require.NoError(t, err)

	// Black plies 1,3,5,7,9 lose 3, 70, 5, 5, 5. Ply 3 drifts 70 while
	// the position stays healthy: inaccuracy.
	assert.Equal(t, 0, res.Stats.NumBlunders)
	assert.Equal(t, 1, res.Stats.NumInaccuracies)
	assert.InDelta(t, 17.6, res.Stats.AverageCPL, 0.01)
}

func TestAnalyzeGameCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := &scriptedEvaluator{scores: []int{30}}
	a := New(ev, engine.Limit{Depth: 12})
	_, err := a.AnalyzeGame(ctx, italianPGN, models.White)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeGameRejectsEmptyGames(t *testing.T) {
	a := New(&scriptedEvaluator{}, engine.Limit{Depth: 12})
	_, err := a.AnalyzeGame(context.Background(), "[Event \"x\"]\n\n*", models.White)
	assert.Error(t, err)
}

func TestAnalyzeGameBadPGN(t *testing.T) {
	a := New(&scriptedEvaluator{}, engine.Limit{Depth: 12})
	_, err := a.AnalyzeGame(context.Background(), "1. e9 xx", models.White)
	assert.Error(t, err)
}
