package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

func (w *Worker) handleBatch(ctx context.Context, raw json.RawMessage) error {
	var args BatchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("decode batch args: %w", err)
	}
	log := w.log.WithFields(map[string]any{"job_id": args.JobID, "user_id": args.UserID})

	ids, err := w.db.UnanalyzedGameIDs(ctx, args.UserID)
	if err != nil {
		return w.db.FailAnalysisJob(ctx, args.JobID, err.Error())
	}

	if err := w.db.MarkAnalysisProcessing(ctx, args.JobID, time.Now().UTC(), len(ids)); err != nil {
		return err
	}

	if len(ids) == 0 {
		log.Info("nothing to analyze")
		return w.db.CompleteAnalysisJob(ctx, args.JobID)
	}

	for _, id := range ids {
		// Flip to in_progress before enqueueing so a concurrent cancel
		// can sweep the whole set back to unanalyzed.
		if _, err := w.db.ClaimForAnalysis(ctx, id); err != nil {
			log.WithError(err).WithField("game_id", id).Warn("claim failed, skipping")
			continue
		}
		if _, err := w.rt.Submit(ctx, TaskAnalyzeGame, AnalyzeArgs{GameID: id}); err != nil {
			return w.db.FailAnalysisJob(ctx, args.JobID, fmt.Sprintf("enqueue game %d: %v", id, err))
		}
	}

	log.WithField("games", len(ids)).Info("batch enqueued")
	return nil
}
