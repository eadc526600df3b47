package store

import (
	"context"

	"github.com/blunderlab/blunderlab/internal/models"
)

func (p *Postgres) ListMoves(ctx context.Context, gameID int64) ([]models.Move, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, game_id, half_move, move_number, is_white, move_san, move_uci,
		       evaluation_before, evaluation_after, best_move_uci, classification,
		       centipawn_loss, coach_commentary, created_at
		FROM moves WHERE game_id = $1 ORDER BY half_move`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moves []models.Move
	for rows.Next() {
		var m models.Move
		err := rows.Scan(&m.ID, &m.GameID, &m.HalfMove, &m.MoveNumber, &m.IsWhite,
			&m.SAN, &m.UCI, &m.EvalBefore, &m.EvalAfter, &m.BestMoveUCI,
			&m.Classification, &m.CentipawnLoss, &m.CoachCommentary, &m.CreatedAt)
		if err != nil {
			return nil, err
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

func (p *Postgres) UpdateCommentary(ctx context.Context, moveID int64, commentary string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE moves SET coach_commentary = $2 WHERE id = $1`, moveID, commentary)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
