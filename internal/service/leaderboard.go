package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/level-leaderboard/internal/domain"
)

// Store is the persistence the service runs on
type Store interface {
	TopPlayers(ctx context.Context, limit int) ([]domain.Player, error)
	PlayerByNickname(ctx context.Context, nickname string) (*domain.Player, error)
	CompleteLevel(ctx context.Context, req domain.CompleteLevelRequest) (*domain.CompletionResult, error)
	Ping(ctx context.Context) error
}

// Notifier receives player updates after a new completion is recorded
type Notifier interface {
	NotifyPlayerUpdate(ctx context.Context, player domain.PlayerSummary) error
}

// LeaderboardService provides business logic for leaderboard operations
type LeaderboardService struct {
	store    Store
	notifier Notifier
	size     int
	logger   *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service.
// A nil store means the database is not configured; data operations then fail
// with domain.ErrDatabaseNotConfigured. notifier may be nil.
func NewLeaderboardService(store Store, notifier Notifier, size int, logger *slog.Logger) *LeaderboardService {
	if size <= 0 || size > domain.LeaderboardSize {
		size = domain.LeaderboardSize
	}
	return &LeaderboardService{
		store:    store,
		notifier: notifier,
		size:     size,
		logger:   logger,
	}
}

// Configured reports whether a database is available
func (s *LeaderboardService) Configured() bool {
	return s.store != nil
}

// Ping checks the database
func (s *LeaderboardService) Ping(ctx context.Context) error {
	if s.store == nil {
		return domain.ErrDatabaseNotConfigured
	}
	return s.store.Ping(ctx)
}

// Leaderboard returns the top players, best first
func (s *LeaderboardService) Leaderboard(ctx context.Context) ([]domain.Player, error) {
	if s.store == nil {
		return nil, domain.ErrDatabaseNotConfigured
	}

	players, err := s.store.TopPlayers(ctx, s.size)
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard: %w", err)
	}
	if len(players) > s.size {
		players = players[:s.size]
	}
	return players, nil
}

// Player looks up a single player by exact nickname
func (s *LeaderboardService) Player(ctx context.Context, nickname string) (*domain.Player, error) {
	if s.store == nil {
		return nil, domain.ErrDatabaseNotConfigured
	}
	if nickname == "" {
		return nil, domain.ErrNicknameRequired
	}

	player, err := s.store.PlayerByNickname(ctx, nickname)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return player, nil
}

// CompleteLevel records a level completion and returns the refreshed player.
// Repeating a completion leaves the player's totals unchanged.
func (s *LeaderboardService) CompleteLevel(ctx context.Context, req domain.CompleteLevelRequest) (*domain.PlayerSummary, error) {
	if s.store == nil {
		return nil, domain.ErrDatabaseNotConfigured
	}

	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	result, err := s.store.CompleteLevel(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("completing level: %w", err)
	}

	if result.Recorded {
		s.logger.Info("level completed",
			"nickname", result.Player.Nickname,
			"level_id", req.LevelID,
			"difficulty", req.Stars(),
			"total_stars", result.Player.TotalStars,
		)
		if s.notifier != nil {
			if err := s.notifier.NotifyPlayerUpdate(ctx, result.Player); err != nil {
				// The completion is committed; a lost push is not a request failure
				s.logger.Warn("failed to publish player update", "nickname", result.Player.Nickname, "error", err)
			}
		}
	} else {
		s.logger.Debug("duplicate level completion ignored",
			"nickname", result.Player.Nickname,
			"level_id", req.LevelID,
		)
	}

	return &result.Player, nil
}

// CompleteLevelBatch records several completions, each in its own transaction.
// Failures are logged and skipped; the number of successful calls is returned.
func (s *LeaderboardService) CompleteLevelBatch(ctx context.Context, batch []domain.CompleteLevelRequest) (int, error) {
	if s.store == nil {
		return 0, domain.ErrDatabaseNotConfigured
	}

	processed := 0
	for _, req := range batch {
		if _, err := s.CompleteLevel(ctx, req); err != nil {
			s.logger.Error("failed to complete level in batch",
				"nickname", req.Nickname,
				"level_id", req.LevelID,
				"error", err,
			)
			continue
		}
		processed++
	}
	return processed, nil
}
