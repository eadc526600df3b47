package store

import "context"

// schema is applied idempotently at startup. A real migration tool is
// overkill for a single-service schema of six tables.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id               BIGSERIAL PRIMARY KEY,
	username         TEXT NOT NULL UNIQUE,
	email            TEXT NOT NULL UNIQUE,
	hashed_password  TEXT NOT NULL,
	chess_com_handle TEXT NOT NULL DEFAULT '',
	lichess_handle   TEXT NOT NULL DEFAULT '',
	current_rating   INT,
	last_import_at   TIMESTAMPTZ,
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS games (
	id             BIGSERIAL PRIMARY KEY,
	user_id        BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider       TEXT NOT NULL,
	provider_url   TEXT NOT NULL DEFAULT '',
	provider_id    TEXT,
	pgn            TEXT NOT NULL,
	white_player   TEXT NOT NULL DEFAULT '',
	black_player   TEXT NOT NULL DEFAULT '',
	white_elo      INT,
	black_elo      INT,
	user_color     TEXT NOT NULL,
	user_rating    INT,
	result         TEXT NOT NULL,
	termination    TEXT NOT NULL DEFAULT '',
	time_class     TEXT NOT NULL DEFAULT '',
	time_control   TEXT NOT NULL DEFAULT '',
	opening_eco    TEXT NOT NULL DEFAULT '',
	opening_name   TEXT NOT NULL DEFAULT '',
	opening_ply    INT NOT NULL DEFAULT 0,
	analysis_state TEXT NOT NULL DEFAULT 'unanalyzed',
	accuracy       DOUBLE PRECISION,
	avg_centipawn_loss DOUBLE PRECISION,
	num_moves      INT NOT NULL DEFAULT 0,
	num_blunders   INT NOT NULL DEFAULT 0,
	num_mistakes   INT NOT NULL DEFAULT 0,
	num_inaccuracies INT NOT NULL DEFAULT 0,
	date_played    TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	analyzed_at    TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS games_provider_id_uniq
	ON games (provider, provider_id) WHERE provider_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS games_user_date_idx ON games (user_id, date_played);
CREATE INDEX IF NOT EXISTS games_user_opening_idx ON games (user_id, opening_eco);

CREATE TABLE IF NOT EXISTS moves (
	id               BIGSERIAL PRIMARY KEY,
	game_id          BIGINT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
	half_move        INT NOT NULL,
	move_number      INT NOT NULL,
	is_white         BOOLEAN NOT NULL,
	move_san         TEXT NOT NULL,
	move_uci         TEXT NOT NULL,
	evaluation_before DOUBLE PRECISION,
	evaluation_after  DOUBLE PRECISION,
	best_move_uci    TEXT NOT NULL DEFAULT '',
	classification   TEXT NOT NULL DEFAULT '',
	centipawn_loss   DOUBLE PRECISION,
	coach_commentary TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS moves_game_half_idx ON moves (game_id, half_move);

CREATE TABLE IF NOT EXISTS import_jobs (
	id             BIGSERIAL PRIMARY KEY,
	user_id        BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	status         TEXT NOT NULL DEFAULT 'pending',
	progress       INT NOT NULL DEFAULT 0,
	total_games    INT NOT NULL DEFAULT 0,
	imported_games INT NOT NULL DEFAULT 0,
	error_message  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS import_jobs_user_status_idx ON import_jobs (user_id, status);

CREATE TABLE IF NOT EXISTS analysis_jobs (
	id             BIGSERIAL PRIMARY KEY,
	user_id        BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	status         TEXT NOT NULL DEFAULT 'pending',
	progress       INT NOT NULL DEFAULT 0,
	total_games    INT NOT NULL DEFAULT 0,
	analyzed_games INT NOT NULL DEFAULT 0,
	error_message  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS analysis_jobs_user_status_idx ON analysis_jobs (user_id, status);

CREATE TABLE IF NOT EXISTS user_stats (
	user_id            BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	total_games        INT NOT NULL DEFAULT 0,
	total_wins         INT NOT NULL DEFAULT 0,
	total_losses       INT NOT NULL DEFAULT 0,
	total_draws        INT NOT NULL DEFAULT 0,
	white_games        INT NOT NULL DEFAULT 0,
	white_wins         INT NOT NULL DEFAULT 0,
	black_games        INT NOT NULL DEFAULT 0,
	black_wins         INT NOT NULL DEFAULT 0,
	avg_accuracy       DOUBLE PRECISION,
	avg_centipawn_loss DOUBLE PRECISION,
	total_blunders     INT NOT NULL DEFAULT 0,
	total_mistakes     INT NOT NULL DEFAULT 0,
	total_inaccuracies INT NOT NULL DEFAULT 0,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}
