package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/blunderlab/blunderlab/internal/models"
)

func (p *Postgres) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, username, email, hashed_password, chess_com_handle, lichess_handle,
		       current_rating, last_import_at, is_active, created_at
		FROM users WHERE id = $1`, id)

	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.HashedPassword, &u.ChessComHandle,
		&u.LichessHandle, &u.CurrentRating, &u.LastImportAt, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *Postgres) UpdateImportMeta(ctx context.Context, userID int64, importedAt time.Time, currentRating *int) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE users
		SET last_import_at = $2,
		    current_rating = COALESCE($3, current_rating)
		WHERE id = $1`, userID, importedAt, currentRating)
	return err
}
