package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/level-leaderboard/internal/domain"
)

// Querier is the subset of a pgx connection the repository needs
type Querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn is a single database connection owned by one request
type Conn interface {
	Querier
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Connector opens a new connection for each unit of work
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// Dialer opens a fresh pgx connection per call
type Dialer struct {
	config *pgx.ConnConfig
}

// NewDialer parses the connection string once so bad URLs fail at startup
func NewDialer(url string, connectTimeout time.Duration) (*Dialer, error) {
	cfg, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if connectTimeout > 0 {
		cfg.ConnectTimeout = connectTimeout
	}
	return &Dialer{config: cfg}, nil
}

// Connect opens a new connection
func (d *Dialer) Connect(ctx context.Context) (Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, d.config.Copy())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return conn, nil
}

// Repository provides PostgreSQL-based data access.
// Every method opens its own connection and closes it before returning.
type Repository struct {
	connector Connector
	logger    *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(connector Connector, logger *slog.Logger) *Repository {
	return &Repository{
		connector: connector,
		logger:    logger,
	}
}

// withConn runs fn on a connection that is closed exactly once on every path
func (r *Repository) withConn(ctx context.Context, fn func(conn Conn) error) error {
	conn, err := r.connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(context.WithoutCancel(ctx)); cerr != nil {
			r.logger.Warn("failed to close database connection", "error", cerr)
		}
	}()
	return fn(conn)
}

// Ping checks that the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.withConn(ctx, func(conn Conn) error {
		if err := conn.Ping(ctx); err != nil {
			return fmt.Errorf("pinging database: %w", err)
		}
		return nil
	})
}

// Bootstrap creates the tables when they do not exist yet
func (r *Repository) Bootstrap(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id UUID PRIMARY KEY,
			nickname VARCHAR(64) NOT NULL UNIQUE,
			total_stars INTEGER NOT NULL DEFAULT 0,
			levels_completed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS level_completions (
			player_id UUID NOT NULL REFERENCES players(id),
			level_id VARCHAR(128) NOT NULL,
			level_name VARCHAR(255) NOT NULL DEFAULT '',
			difficulty INTEGER NOT NULL DEFAULT 1,
			completed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(player_id, level_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_ranking ON players(total_stars DESC, levels_completed DESC)`,
	}

	return r.withConn(ctx, func(conn Conn) error {
		for _, stmt := range statements {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("bootstrapping schema: %w", err)
			}
		}
		r.logger.Info("database schema ready")
		return nil
	})
}

// TopPlayers returns up to limit players ordered by stars, then levels completed
func (r *Repository) TopPlayers(ctx context.Context, limit int) ([]domain.Player, error) {
	query := `
		SELECT id, nickname, total_stars, levels_completed, created_at
		FROM players
		ORDER BY total_stars DESC, levels_completed DESC, created_at ASC
		LIMIT $1
	`
	players := make([]domain.Player, 0, limit)
	err := r.withConn(ctx, func(conn Conn) error {
		rows, err := conn.Query(ctx, query, limit)
		if err != nil {
			return fmt.Errorf("querying leaderboard: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var p domain.Player
			if err := rows.Scan(&p.ID, &p.Nickname, &p.TotalStars, &p.LevelsCompleted, &p.CreatedAt); err != nil {
				return fmt.Errorf("scanning player: %w", err)
			}
			players = append(players, p)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("reading leaderboard: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return players, nil
}

// PlayerByNickname looks up a player by exact nickname
func (r *Repository) PlayerByNickname(ctx context.Context, nickname string) (*domain.Player, error) {
	query := `
		SELECT id, nickname, total_stars, levels_completed, created_at
		FROM players
		WHERE nickname = $1
	`
	var p domain.Player
	err := r.withConn(ctx, func(conn Conn) error {
		err := conn.QueryRow(ctx, query, nickname).Scan(
			&p.ID,
			&p.Nickname,
			&p.TotalStars,
			&p.LevelsCompleted,
			&p.CreatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrPlayerNotFound
			}
			return fmt.Errorf("getting player: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CompleteLevel upserts the player, records the completion once and recomputes
// the player's aggregates, all in one transaction.
func (r *Repository) CompleteLevel(ctx context.Context, req domain.CompleteLevelRequest) (*domain.CompletionResult, error) {
	var result *domain.CompletionResult
	err := r.withConn(ctx, func(conn Conn) error {
		var err error
		result, err = completeLevel(ctx, conn, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func completeLevel(ctx context.Context, q Querier, req domain.CompleteLevelRequest) (result *domain.CompletionResult, err error) {
	tx, err := q.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	// The no-op update makes RETURNING yield the existing row on conflict
	var playerID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO players (id, nickname, total_stars, levels_completed)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (nickname) DO UPDATE SET nickname = EXCLUDED.nickname
		RETURNING id
	`, uuid.New(), req.Nickname).Scan(&playerID)
	if err != nil {
		return nil, fmt.Errorf("upserting player: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO level_completions (player_id, level_id, level_name, difficulty)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (player_id, level_id) DO NOTHING
	`, playerID, req.LevelID, req.LevelName, req.Stars())
	if err != nil {
		return nil, fmt.Errorf("recording completion: %w", err)
	}

	var summary domain.PlayerSummary
	err = tx.QueryRow(ctx, `
		UPDATE players
		SET total_stars = (
			SELECT COALESCE(SUM(difficulty), 0) FROM level_completions WHERE player_id = $1
		),
		levels_completed = (
			SELECT COUNT(*) FROM level_completions WHERE player_id = $1
		)
		WHERE id = $1
		RETURNING nickname, total_stars, levels_completed
	`, playerID).Scan(&summary.Nickname, &summary.TotalStars, &summary.LevelsCompleted)
	if err != nil {
		return nil, fmt.Errorf("recomputing player stats: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing completion: %w", err)
	}

	return &domain.CompletionResult{
		Player:   summary,
		Recorded: tag.RowsAffected() == 1,
	}, nil
}

// ReconcileStats recomputes aggregates for every player whose stored totals drifted
// from their completions and returns the number of repaired rows.
func (r *Repository) ReconcileStats(ctx context.Context) (int64, error) {
	query := `
		UPDATE players p
		SET total_stars = agg.stars, levels_completed = agg.levels
		FROM (
			SELECT pl.id,
				COALESCE(SUM(lc.difficulty), 0) AS stars,
				COUNT(lc.player_id) AS levels
			FROM players pl
			LEFT JOIN level_completions lc ON lc.player_id = pl.id
			GROUP BY pl.id
		) agg
		WHERE p.id = agg.id
			AND (p.total_stars <> agg.stars OR p.levels_completed <> agg.levels)
	`
	var repaired int64
	err := r.withConn(ctx, func(conn Conn) error {
		tag, err := conn.Exec(ctx, query)
		if err != nil {
			return fmt.Errorf("reconciling player stats: %w", err)
		}
		repaired = tag.RowsAffected()
		return nil
	})
	return repaired, err
}
