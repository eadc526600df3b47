package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blunderlab/blunderlab/internal/analysis"
	"github.com/blunderlab/blunderlab/internal/engine"
	"github.com/blunderlab/blunderlab/internal/evalcache"
	"github.com/blunderlab/blunderlab/internal/models"
	"github.com/blunderlab/blunderlab/internal/store"
)

func (w *Worker) handleAnalyze(ctx context.Context, raw json.RawMessage) error {
	var args AnalyzeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("decode analyze args: %w", err)
	}
	log := w.log.WithField("game_id", args.GameID)

	game, err := w.db.GetGame(ctx, args.GameID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("game vanished before analysis")
		return nil
	}
	if err != nil {
		return err
	}
	if game.AnalysisState == models.StateAnalyzed {
		return nil
	}

	claimed, err := w.db.ClaimForAnalysis(ctx, args.GameID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	res, err := w.runAnalysis(ctx, game)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-game: the broker redelivers, or the cancel
			// endpoint resets the in_progress state.
			return ctx.Err()
		}
		// Engine or parse failure is terminal for this game. Zero stats
		// and an analyzed state stop the retry storm.
		log.WithError(err).Warn("analysis failed, marking game analyzed with no stats")
		if err := w.db.MarkAnalyzedEmpty(ctx, args.GameID); err != nil {
			return err
		}
		w.coord.SyncUser(ctx, game.UserID)
		return nil
	}

	moves := movesFromResult(args.GameID, res)
	if w.coach != nil {
		w.coach.Annotate(ctx, moves, game.UserColor == models.White, res.OpeningName)
	}

	stats := store.GameStatsUpdate{
		Accuracy:         &res.Stats.Accuracy,
		AvgCentipawnLoss: &res.Stats.AverageCPL,
		NumMoves:         res.Stats.NumMoves,
		NumBlunders:      res.Stats.NumBlunders,
		NumMistakes:      res.Stats.NumMistakes,
		NumInaccuracies:  res.Stats.NumInaccuracies,
		OpeningECO:       res.OpeningCode,
		OpeningName:      res.OpeningName,
		AnalyzedAt:       time.Now().UTC(),
	}
	if err := w.db.WriteAnalysis(ctx, args.GameID, stats, moves); err != nil {
		return err
	}

	if err := w.db.RecomputeUserStats(ctx, game.UserID); err != nil {
		log.WithError(err).Warn("user stats recompute failed")
	}
	w.coord.SyncUser(ctx, game.UserID)
	w.notifier.GameAnalysisCompleted(ctx, game.UserID, args.GameID)

	log.WithFields(map[string]any{
		"moves":    res.Stats.NumMoves,
		"accuracy": res.Stats.Accuracy,
	}).Info("game analyzed")
	return nil
}

// runAnalysis owns one engine subprocess for the duration of one game.
func (w *Worker) runAnalysis(ctx context.Context, game *models.Game) (*analysis.Result, error) {
	eng, err := w.engines()
	if err != nil {
		return nil, fmt.Errorf("spawn engine: %w", err)
	}
	defer eng.Close()

	var ev analysis.Evaluator = eng
	if w.cache != nil {
		ev = &cachedEvaluator{ev: eng, cache: w.cache}
	}
	return analysis.New(ev, w.limit).AnalyzeGame(ctx, game.PGN, game.UserColor)
}

// cachedEvaluator serves repeated positions from badger and falls back
// to the live engine.
type cachedEvaluator struct {
	ev    analysis.Evaluator
	cache *evalcache.Cache
}

func (c *cachedEvaluator) Analyse(ctx context.Context, fen string, limit engine.Limit, k int) ([]engine.Line, error) {
	if lines, ok := c.cache.Get(fen, limit, k); ok {
		return lines, nil
	}
	lines, err := c.ev.Analyse(ctx, fen, limit, k)
	if err != nil {
		return nil, err
	}
	c.cache.Put(fen, limit, k, lines)
	return lines, nil
}

func movesFromResult(gameID int64, res *analysis.Result) []models.Move {
	moves := make([]models.Move, len(res.Moves))
	for i, ma := range res.Moves {
		moves[i] = models.Move{
			GameID:         gameID,
			HalfMove:       ma.HalfMove,
			MoveNumber:     ma.MoveNumber,
			IsWhite:        ma.IsWhite,
			SAN:            ma.SAN,
			UCI:            ma.UCI,
			EvalBefore:     ma.EvalBefore,
			EvalAfter:      ma.EvalAfter,
			BestMoveUCI:    ma.BestMoveUCI,
			Classification: ma.Classification,
			CentipawnLoss:  ma.CentipawnLoss,
		}
	}
	return moves
}
