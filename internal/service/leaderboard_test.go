package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/level-leaderboard/internal/domain"
	"github.com/level-leaderboard/internal/memstore"
)

type recordingNotifier struct {
	mu      sync.Mutex
	updates []domain.PlayerSummary
	err     error
}

func (n *recordingNotifier) NotifyPlayerUpdate(_ context.Context, p domain.PlayerSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, p)
	return n.err
}

func newTestService(store Store, notifier Notifier) *LeaderboardService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLeaderboardService(store, notifier, domain.LeaderboardSize, logger)
}

func intPtr(v int) *int { return &v }

func TestCompleteLevelCreatesPlayer(t *testing.T) {
	store := memstore.New()
	notifier := &recordingNotifier{}
	svc := newTestService(store, notifier)

	player, err := svc.CompleteLevel(context.Background(), domain.CompleteLevelRequest{
		Nickname:   " Ada ",
		LevelID:    "L1",
		Difficulty: intPtr(3),
	})
	if err != nil {
		t.Fatalf("CompleteLevel: %v", err)
	}
	want := domain.PlayerSummary{Nickname: "Ada", TotalStars: 3, LevelsCompleted: 1}
	if *player != want {
		t.Fatalf("player = %+v, want %+v", *player, want)
	}
	if store.PlayerCount() != 1 {
		t.Fatalf("player rows = %d, want 1", store.PlayerCount())
	}
	if len(notifier.updates) != 1 || notifier.updates[0] != want {
		t.Fatalf("unexpected notifications: %+v", notifier.updates)
	}
}

func TestCompleteLevelIsIdempotent(t *testing.T) {
	store := memstore.New()
	notifier := &recordingNotifier{}
	svc := newTestService(store, notifier)
	req := domain.CompleteLevelRequest{Nickname: "Ada", LevelID: "L1", Difficulty: intPtr(3)}

	first, err := svc.CompleteLevel(context.Background(), req)
	if err != nil {
		t.Fatalf("first CompleteLevel: %v", err)
	}
	second, err := svc.CompleteLevel(context.Background(), req)
	if err != nil {
		t.Fatalf("second CompleteLevel: %v", err)
	}
	if *first != *second {
		t.Fatalf("repeat changed totals: %+v -> %+v", *first, *second)
	}

	completions, err := store.Completions("Ada")
	if err != nil {
		t.Fatalf("Completions: %v", err)
	}
	if len(completions) != 1 {
		t.Fatalf("completion rows = %d, want 1", len(completions))
	}
	if len(notifier.updates) != 1 {
		t.Fatalf("duplicate completion must not notify, got %d updates", len(notifier.updates))
	}
}

func TestCompleteLevelDefaultsDifficulty(t *testing.T) {
	svc := newTestService(memstore.New(), nil)

	player, err := svc.CompleteLevel(context.Background(), domain.CompleteLevelRequest{Nickname: "Bob", LevelID: "L9"})
	if err != nil {
		t.Fatalf("CompleteLevel: %v", err)
	}
	if player.TotalStars != domain.DefaultDifficulty || player.LevelsCompleted != 1 {
		t.Fatalf("unexpected player: %+v", *player)
	}
}

func TestStarsMatchDistinctCompletions(t *testing.T) {
	store := memstore.New()
	svc := newTestService(store, nil)
	ctx := context.Background()

	difficulties := map[string]int{"L1": 1, "L2": 4, "L3": 2, "L4": 5}
	for round := 0; round < 3; round++ {
		for level, d := range difficulties {
			if _, err := svc.CompleteLevel(ctx, domain.CompleteLevelRequest{
				Nickname:   "Ada",
				LevelID:    level,
				Difficulty: intPtr(d),
			}); err != nil {
				t.Fatalf("CompleteLevel(%s): %v", level, err)
			}
		}
	}

	player, err := svc.Player(ctx, "Ada")
	if err != nil {
		t.Fatalf("Player: %v", err)
	}
	if player.TotalStars != 12 || player.LevelsCompleted != 4 {
		t.Fatalf("player = %+v, want 12 stars over 4 levels", *player)
	}
}

func TestCompleteLevelValidation(t *testing.T) {
	svc := newTestService(memstore.New(), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.CompleteLevelRequest
		want error
	}{
		{"missing level", domain.CompleteLevelRequest{Nickname: "Ada"}, domain.ErrNicknameAndLevelRequired},
		{"blank nickname", domain.CompleteLevelRequest{Nickname: "  ", LevelID: "L1"}, domain.ErrNicknameAndLevelRequired},
		{"zero difficulty", domain.CompleteLevelRequest{Nickname: "Ada", LevelID: "L1", Difficulty: intPtr(0)}, domain.ErrInvalidDifficulty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CompleteLevel(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestNotifierFailureDoesNotFailCompletion(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("redis down")}
	svc := newTestService(memstore.New(), notifier)

	if _, err := svc.CompleteLevel(context.Background(), domain.CompleteLevelRequest{Nickname: "Ada", LevelID: "L1"}); err != nil {
		t.Fatalf("CompleteLevel: %v", err)
	}
}

func TestPlayerLookup(t *testing.T) {
	svc := newTestService(memstore.New(), nil)
	ctx := context.Background()

	if _, err := svc.Player(ctx, ""); !errors.Is(err, domain.ErrNicknameRequired) {
		t.Fatalf("err = %v, want ErrNicknameRequired", err)
	}
	if _, err := svc.Player(ctx, "Ghost"); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Fatalf("err = %v, want ErrPlayerNotFound", err)
	}
}

func TestLeaderboardOrderingAndLimit(t *testing.T) {
	store := memstore.New()
	svc := newTestService(store, nil)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		nickname := fmt.Sprintf("player-%03d", i)
		levels := i%7 + 1
		for l := 0; l < levels; l++ {
			if _, err := svc.CompleteLevel(ctx, domain.CompleteLevelRequest{
				Nickname:   nickname,
				LevelID:    fmt.Sprintf("L%d", l),
				Difficulty: intPtr((i+l)%5 + 1),
			}); err != nil {
				t.Fatalf("CompleteLevel: %v", err)
			}
		}
	}

	board, err := svc.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(board) != domain.LeaderboardSize {
		t.Fatalf("leaderboard length = %d, want %d", len(board), domain.LeaderboardSize)
	}
	for i := 1; i < len(board); i++ {
		a, b := board[i-1], board[i]
		if a.TotalStars < b.TotalStars ||
			(a.TotalStars == b.TotalStars && a.LevelsCompleted < b.LevelsCompleted) {
			t.Fatalf("entries %d and %d out of order: %+v before %+v", i-1, i, a, b)
		}
	}
}

func TestEmptyLeaderboard(t *testing.T) {
	svc := newTestService(memstore.New(), nil)

	board, err := svc.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if board == nil || len(board) != 0 {
		t.Fatalf("expected empty non-nil leaderboard, got %v", board)
	}
}

func TestDatabaseNotConfigured(t *testing.T) {
	svc := newTestService(nil, nil)
	ctx := context.Background()

	if svc.Configured() {
		t.Fatalf("service without store must report unconfigured")
	}
	if _, err := svc.Leaderboard(ctx); !errors.Is(err, domain.ErrDatabaseNotConfigured) {
		t.Fatalf("Leaderboard err = %v", err)
	}
	if _, err := svc.Player(ctx, ""); !errors.Is(err, domain.ErrDatabaseNotConfigured) {
		t.Fatalf("Player err = %v", err)
	}
	if _, err := svc.CompleteLevel(ctx, domain.CompleteLevelRequest{}); !errors.Is(err, domain.ErrDatabaseNotConfigured) {
		t.Fatalf("CompleteLevel err = %v", err)
	}
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	store := memstore.New()
	store.Err = errors.New("connection refused")
	svc := newTestService(store, nil)

	_, err := svc.Leaderboard(context.Background())
	if !errors.Is(err, store.Err) {
		t.Fatalf("err = %v, want wrapped store error", err)
	}
	if domain.IsValidationError(err) || domain.IsNotFoundError(err) {
		t.Fatalf("store failure misclassified: %v", err)
	}
}

func TestCompleteLevelBatch(t *testing.T) {
	store := memstore.New()
	svc := newTestService(store, nil)

	processed, err := svc.CompleteLevelBatch(context.Background(), []domain.CompleteLevelRequest{
		{Nickname: "Ada", LevelID: "L1", Difficulty: intPtr(2)},
		{Nickname: "", LevelID: "L1"},
		{Nickname: "Ada", LevelID: "L2", Difficulty: intPtr(3)},
	})
	if err != nil {
		t.Fatalf("CompleteLevelBatch: %v", err)
	}
	if processed != 2 {
		t.Fatalf("processed = %d, want 2", processed)
	}
	player, err := svc.Player(context.Background(), "Ada")
	if err != nil {
		t.Fatalf("Player: %v", err)
	}
	if player.TotalStars != 5 || player.LevelsCompleted != 2 {
		t.Fatalf("unexpected player: %+v", *player)
	}
}

func TestConcurrentCompletionsSamePlayer(t *testing.T) {
	store := memstore.New()
	svc := newTestService(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.CompleteLevel(context.Background(), domain.CompleteLevelRequest{
				Nickname:   "Ada",
				LevelID:    fmt.Sprintf("L%d", i%5),
				Difficulty: intPtr(2),
			})
		}(i)
	}
	wg.Wait()

	player, err := svc.Player(context.Background(), "Ada")
	if err != nil {
		t.Fatalf("Player: %v", err)
	}
	if player.LevelsCompleted != 5 || player.TotalStars != 10 {
		t.Fatalf("unexpected player after concurrent completions: %+v", *player)
	}
	if store.PlayerCount() != 1 {
		t.Fatalf("player rows = %d, want 1", store.PlayerCount())
	}
}
