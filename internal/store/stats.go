package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/blunderlab/blunderlab/internal/models"
)

// RecomputeUserStats rebuilds the denormalized aggregate from the games
// table in a single upsert. Recomputing instead of incrementing keeps
// the row correct under at-least-once task delivery.
func (p *Postgres) RecomputeUserStats(ctx context.Context, userID int64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO user_stats (user_id, total_games, total_wins, total_losses, total_draws,
			white_games, white_wins, black_games, black_wins,
			avg_accuracy, avg_centipawn_loss,
			total_blunders, total_mistakes, total_inaccuracies, updated_at)
		SELECT
			$1,
			count(*),
			count(*) FILTER (WHERE result = 'win'),
			count(*) FILTER (WHERE result = 'loss'),
			count(*) FILTER (WHERE result = 'draw'),
			count(*) FILTER (WHERE user_color = 'white'),
			count(*) FILTER (WHERE user_color = 'white' AND result = 'win'),
			count(*) FILTER (WHERE user_color = 'black'),
			count(*) FILTER (WHERE user_color = 'black' AND result = 'win'),
			avg(accuracy) FILTER (WHERE analysis_state = 'analyzed'),
			avg(avg_centipawn_loss) FILTER (WHERE analysis_state = 'analyzed'),
			COALESCE(sum(num_blunders), 0),
			COALESCE(sum(num_mistakes), 0),
			COALESCE(sum(num_inaccuracies), 0),
			now()
		FROM games WHERE user_id = $1
		ON CONFLICT (user_id) DO UPDATE SET
			total_games = EXCLUDED.total_games,
			total_wins = EXCLUDED.total_wins,
			total_losses = EXCLUDED.total_losses,
			total_draws = EXCLUDED.total_draws,
			white_games = EXCLUDED.white_games,
			white_wins = EXCLUDED.white_wins,
			black_games = EXCLUDED.black_games,
			black_wins = EXCLUDED.black_wins,
			avg_accuracy = EXCLUDED.avg_accuracy,
			avg_centipawn_loss = EXCLUDED.avg_centipawn_loss,
			total_blunders = EXCLUDED.total_blunders,
			total_mistakes = EXCLUDED.total_mistakes,
			total_inaccuracies = EXCLUDED.total_inaccuracies,
			updated_at = EXCLUDED.updated_at`, userID)
	return err
}

func (p *Postgres) GetUserStats(ctx context.Context, userID int64) (*models.UserStats, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT user_id, total_games, total_wins, total_losses, total_draws,
		       white_games, white_wins, black_games, black_wins,
		       avg_accuracy, avg_centipawn_loss,
		       total_blunders, total_mistakes, total_inaccuracies, updated_at
		FROM user_stats WHERE user_id = $1`, userID)

	var s models.UserStats
	err := row.Scan(&s.UserID, &s.TotalGames, &s.TotalWins, &s.TotalLosses, &s.TotalDraws,
		&s.WhiteGames, &s.WhiteWins, &s.BlackGames, &s.BlackWins,
		&s.AvgAccuracy, &s.AvgCentipawnLoss,
		&s.TotalBlunders, &s.TotalMistakes, &s.TotalInaccuracies, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
