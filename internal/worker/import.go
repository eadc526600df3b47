package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blunderlab/blunderlab/internal/models"
	"github.com/blunderlab/blunderlab/internal/providers"
)

// progressBatch is how many inserts happen between job progress writes.
const progressBatch = 10

func (w *Worker) handleImport(ctx context.Context, raw json.RawMessage) error {
	var args ImportArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("decode import args: %w", err)
	}
	log := w.log.WithFields(map[string]any{
		"job_id": args.JobID, "user_id": args.UserID, "provider": string(args.Provider),
	})

	if err := w.db.MarkImportProcessing(ctx, args.JobID); err != nil {
		return err
	}

	adapter, ok := w.adapters[args.Provider]
	if !ok {
		return w.db.FailImportJob(ctx, args.JobID, fmt.Sprintf("no adapter for provider %s", args.Provider))
	}

	fetched, err := adapter.FetchGames(ctx, args.Handle, monthArg(args.FromYear, args.FromMonth), monthArg(args.ToYear, args.ToMonth))
	if err != nil {
		log.WithError(err).Warn("provider fetch failed")
		return w.db.FailImportJob(ctx, args.JobID, err.Error())
	}

	if err := w.db.SetImportTotal(ctx, args.JobID, len(fetched)); err != nil {
		return err
	}

	existing, err := w.db.ExistingProviderIDs(ctx, args.UserID, args.Provider)
	if err != nil {
		return w.db.FailImportJob(ctx, args.JobID, err.Error())
	}

	imported := 0
	for i, ng := range fetched {
		if _, dup := existing[ng.ProviderID]; dup && ng.ProviderID != "" {
			continue
		}
		g := gameFromNormalized(args.UserID, ng)
		if _, err := w.db.InsertGame(ctx, &g); err != nil {
			log.WithError(err).WithField("provider_id", ng.ProviderID).Warn("insert skipped")
			continue
		}
		imported++

		if imported%progressBatch == 0 {
			w.reportImportProgress(ctx, args.JobID, imported, i+1, len(fetched))
		}
	}

	w.updateImportMeta(ctx, args.UserID, fetched)

	if err := w.db.CompleteImportJob(ctx, args.JobID, imported); err != nil {
		return err
	}
	log.WithFields(map[string]any{"fetched": len(fetched), "imported": imported}).Info("import finished")
	return nil
}

// reportImportProgress maps processed count onto the 5..99 band; 100 is
// reserved for completion.
func (w *Worker) reportImportProgress(ctx context.Context, jobID int64, imported, processed, total int) {
	progress := 99
	if total > 0 {
		progress = 5 + processed*94/total
		if progress > 99 {
			progress = 99
		}
	}
	if err := w.db.UpdateImportProgress(ctx, jobID, imported, progress); err != nil {
		w.log.WithError(err).Warn("import progress write failed")
	}
}

// updateImportMeta stamps the user's last import and pulls the current
// rating from the newest fetched game that carries one.
func (w *Worker) updateImportMeta(ctx context.Context, userID int64, fetched []providers.NormalizedGame) {
	var rating *int
	var newest time.Time
	for _, g := range fetched {
		if g.UserRating != nil && (rating == nil || g.DatePlayed.After(newest)) {
			r := *g.UserRating
			rating = &r
			newest = g.DatePlayed
		}
	}
	if err := w.db.UpdateImportMeta(ctx, userID, time.Now().UTC(), rating); err != nil {
		w.log.WithError(err).Warn("user import meta update failed")
	}
}

func gameFromNormalized(userID int64, ng providers.NormalizedGame) models.Game {
	// Provider opening data occasionally claims absurd book depth.
	openingPly := min(ng.OpeningPly, 20)
	return models.Game{
		UserID:      userID,
		Provider:    ng.Provider,
		ProviderURL: ng.ProviderURL,
		ProviderID:  ng.ProviderID,
		PGN:         ng.PGN,
		WhitePlayer: ng.WhitePlayer,
		BlackPlayer: ng.BlackPlayer,
		WhiteElo:    ng.WhiteElo,
		BlackElo:    ng.BlackElo,
		UserColor:   ng.UserColor,
		UserRating:  ng.UserRating,
		Result:      ng.Result,
		Termination: ng.Termination,
		TimeClass:   ng.TimeClass,
		TimeControl: ng.TimeControl,
		OpeningECO:  ng.OpeningECO,
		OpeningName: ng.OpeningName,
		OpeningPly:  openingPly,
		DatePlayed:  ng.DatePlayed,
	}
}

func monthArg(year, month int) *providers.Month {
	if year == 0 || month == 0 {
		return nil
	}
	return &providers.Month{Year: year, Month: time.Month(month)}
}
