package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/blunderlab/blunderlab/internal/models"
)

const gameColumns = `id, user_id, provider, provider_url, provider_id, pgn,
	white_player, black_player, white_elo, black_elo, user_color, user_rating,
	result, termination, time_class, time_control,
	opening_eco, opening_name, opening_ply,
	analysis_state, accuracy, avg_centipawn_loss,
	num_moves, num_blunders, num_mistakes, num_inaccuracies,
	date_played, created_at, analyzed_at`

func scanGame(row pgx.Row) (*models.Game, error) {
	var g models.Game
	var providerID *string
	err := row.Scan(&g.ID, &g.UserID, &g.Provider, &g.ProviderURL, &providerID, &g.PGN,
		&g.WhitePlayer, &g.BlackPlayer, &g.WhiteElo, &g.BlackElo, &g.UserColor, &g.UserRating,
		&g.Result, &g.Termination, &g.TimeClass, &g.TimeControl,
		&g.OpeningECO, &g.OpeningName, &g.OpeningPly,
		&g.AnalysisState, &g.Accuracy, &g.AvgCentipawnLoss,
		&g.NumMoves, &g.NumBlunders, &g.NumMistakes, &g.NumInaccuracies,
		&g.DatePlayed, &g.CreatedAt, &g.AnalyzedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if providerID != nil {
		g.ProviderID = *providerID
	}
	return &g, nil
}

func (p *Postgres) InsertGame(ctx context.Context, g *models.Game) (int64, error) {
	var providerID *string
	if g.ProviderID != "" {
		providerID = &g.ProviderID
	}
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO games (user_id, provider, provider_url, provider_id, pgn,
			white_player, black_player, white_elo, black_elo, user_color, user_rating,
			result, termination, time_class, time_control,
			opening_eco, opening_name, opening_ply, analysis_state, date_played)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING id`,
		g.UserID, g.Provider, g.ProviderURL, providerID, g.PGN,
		g.WhitePlayer, g.BlackPlayer, g.WhiteElo, g.BlackElo, g.UserColor, g.UserRating,
		g.Result, g.Termination, g.TimeClass, g.TimeControl,
		g.OpeningECO, g.OpeningName, g.OpeningPly, models.StateUnanalyzed, g.DatePlayed,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert game: %w", err)
	}
	return id, nil
}

func (p *Postgres) GetGame(ctx context.Context, id int64) (*models.Game, error) {
	return scanGame(p.pool.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = $1`, id))
}

func (p *Postgres) ListGames(ctx context.Context, userID int64, f GameFilter) ([]models.Game, int, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}

	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Provider != "" {
		add("provider = $%d", f.Provider)
	}
	if f.Result != "" {
		add("result = $%d", f.Result)
	}
	if f.OpeningECO != "" {
		add("opening_eco = $%d", f.OpeningECO)
	}
	if f.AnalysisState != "" {
		add("analysis_state = $%d", f.AnalysisState)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM games WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM games WHERE %s ORDER BY date_played DESC LIMIT $%d OFFSET $%d`,
		gameColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var games []models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, 0, err
		}
		games = append(games, *g)
	}
	return games, total, rows.Err()
}

func (p *Postgres) DeleteGame(ctx context.Context, userID, gameID int64) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM games WHERE id = $1 AND user_id = $2`, gameID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ExistingProviderIDs(ctx context.Context, userID int64, provider models.Provider) (map[string]struct{}, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT provider_id FROM games
		WHERE user_id = $1 AND provider = $2 AND provider_id IS NOT NULL`,
		userID, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (p *Postgres) ClaimForAnalysis(ctx context.Context, gameID int64) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE games SET analysis_state = $2
		WHERE id = $1 AND analysis_state <> $3`,
		gameID, models.StateInProgress, models.StateAnalyzed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) SetAnalysisState(ctx context.Context, gameID int64, state models.AnalysisState) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE games SET analysis_state = $2 WHERE id = $1`, gameID, state)
	return err
}

func (p *Postgres) WriteAnalysis(ctx context.Context, gameID int64, stats GameStatsUpdate, moves []models.Move) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE games SET
			analysis_state = $2, accuracy = $3, avg_centipawn_loss = $4,
			num_moves = $5, num_blunders = $6, num_mistakes = $7, num_inaccuracies = $8,
			opening_eco = CASE WHEN $9 <> '' THEN $9 ELSE opening_eco END,
			opening_name = CASE WHEN $10 <> '' THEN $10 ELSE opening_name END,
			analyzed_at = $11
		WHERE id = $1`,
		gameID, models.StateAnalyzed, stats.Accuracy, stats.AvgCentipawnLoss,
		stats.NumMoves, stats.NumBlunders, stats.NumMistakes, stats.NumInaccuracies,
		stats.OpeningECO, stats.OpeningName, stats.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("update game stats: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM moves WHERE game_id = $1`, gameID); err != nil {
		return err
	}
	for _, m := range moves {
		_, err := tx.Exec(ctx, `
			INSERT INTO moves (game_id, half_move, move_number, is_white, move_san, move_uci,
				evaluation_before, evaluation_after, best_move_uci, classification,
				centipawn_loss, coach_commentary)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			gameID, m.HalfMove, m.MoveNumber, m.IsWhite, m.SAN, m.UCI,
			m.EvalBefore, m.EvalAfter, m.BestMoveUCI, m.Classification,
			m.CentipawnLoss, m.CoachCommentary)
		if err != nil {
			return fmt.Errorf("insert move %d: %w", m.HalfMove, err)
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) MarkAnalyzedEmpty(ctx context.Context, gameID int64) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE games SET
			analysis_state = $2, accuracy = NULL, avg_centipawn_loss = NULL,
			num_blunders = 0, num_mistakes = 0, num_inaccuracies = 0,
			analyzed_at = $3
		WHERE id = $1`,
		gameID, models.StateAnalyzed, time.Now().UTC())
	return err
}

func (p *Postgres) ResetAnalysis(ctx context.Context, gameID int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM moves WHERE game_id = $1`, gameID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE games SET analysis_state = $2, analyzed_at = NULL,
			accuracy = NULL, avg_centipawn_loss = NULL,
			num_blunders = 0, num_mistakes = 0, num_inaccuracies = 0
		WHERE id = $1`, gameID, models.StateInProgress)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) UnanalyzedGameIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id FROM games
		WHERE user_id = $1 AND analysis_state <> $2
		ORDER BY date_played DESC`, userID, models.StateAnalyzed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) CountAnalyzedSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM games
		WHERE user_id = $1 AND analysis_state = $2 AND analyzed_at >= $3`,
		userID, models.StateAnalyzed, since).Scan(&n)
	return n, err
}
