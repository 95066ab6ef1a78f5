// Package memstore is an in-memory implementation of the leaderboard store.
// It follows the same upsert, idempotent insert and recompute rules as the
// PostgreSQL repository and backs the service and handler tests.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/level-leaderboard/internal/domain"
)

// Store keeps players and completions in maps guarded by a mutex
type Store struct {
	mu          sync.Mutex
	players     map[string]*domain.Player
	completions map[uuid.UUID]map[string]domain.LevelCompletion
	clock       func() time.Time

	// Err, when set, is returned by every call
	Err error
}

// New creates an empty store
func New() *Store {
	return &Store{
		players:     make(map[string]*domain.Player),
		completions: make(map[uuid.UUID]map[string]domain.LevelCompletion),
		clock:       time.Now,
	}
}

// TopPlayers returns up to limit players in leaderboard order
func (s *Store) TopPlayers(_ context.Context, limit int) ([]domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	players := make([]domain.Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool { return domain.Ranks(players[i], players[j]) })
	if len(players) > limit {
		players = players[:limit]
	}
	return players, nil
}

// PlayerByNickname looks up a player by exact nickname
func (s *Store) PlayerByNickname(_ context.Context, nickname string) (*domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	p, ok := s.players[nickname]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	cp := *p
	return &cp, nil
}

// CompleteLevel upserts the player, inserts the completion once and recomputes totals
func (s *Store) CompleteLevel(_ context.Context, req domain.CompleteLevelRequest) (*domain.CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	p, ok := s.players[req.Nickname]
	if !ok {
		p = &domain.Player{ID: uuid.New(), Nickname: req.Nickname, CreatedAt: s.clock()}
		s.players[req.Nickname] = p
		s.completions[p.ID] = make(map[string]domain.LevelCompletion)
	}

	levels := s.completions[p.ID]
	_, seen := levels[req.LevelID]
	if !seen {
		levels[req.LevelID] = domain.LevelCompletion{
			PlayerID:    p.ID,
			LevelID:     req.LevelID,
			LevelName:   req.LevelName,
			Difficulty:  req.Stars(),
			CompletedAt: s.clock(),
		}
	}

	s.recompute(p)
	return &domain.CompletionResult{Player: p.Summary(), Recorded: !seen}, nil
}

func (s *Store) recompute(p *domain.Player) {
	stars := 0
	for _, c := range s.completions[p.ID] {
		stars += c.Difficulty
	}
	p.TotalStars = stars
	p.LevelsCompleted = len(s.completions[p.ID])
}

// Ping reports Err
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

// Completions returns the stored completions of a player
func (s *Store) Completions(nickname string) ([]domain.LevelCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[nickname]
	if !ok {
		return nil, errors.New("unknown player")
	}
	out := make([]domain.LevelCompletion, 0, len(s.completions[p.ID]))
	for _, c := range s.completions[p.ID] {
		out = append(out, c)
	}
	return out, nil
}

// PlayerCount returns the number of stored players
func (s *Store) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}
