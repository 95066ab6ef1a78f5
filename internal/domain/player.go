package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeaderboardSize is the maximum number of players returned by the leaderboard query
const LeaderboardSize = 100

// Player represents a player in the system.
// TotalStars and LevelsCompleted are derived from the player's level completions.
type Player struct {
	ID              uuid.UUID `json:"-"`
	Nickname        string    `json:"nickname"`
	TotalStars      int       `json:"total_stars"`
	LevelsCompleted int       `json:"levels_completed"`
	CreatedAt       time.Time `json:"created_at"`
}

// Summary returns the lightweight view of the player sent after a completion
func (p Player) Summary() PlayerSummary {
	return PlayerSummary{
		Nickname:        p.Nickname,
		TotalStars:      p.TotalStars,
		LevelsCompleted: p.LevelsCompleted,
	}
}

// PlayerSummary is the player view without timestamps, used for write responses and push events
type PlayerSummary struct {
	Nickname        string `json:"nickname"`
	TotalStars      int    `json:"total_stars"`
	LevelsCompleted int    `json:"levels_completed"`
}

// Ranks reports whether a should be listed before b on the leaderboard.
// Exact ties fall back to the earlier created player.
func Ranks(a, b Player) bool {
	if a.TotalStars != b.TotalStars {
		return a.TotalStars > b.TotalStars
	}
	if a.LevelsCompleted != b.LevelsCompleted {
		return a.LevelsCompleted > b.LevelsCompleted
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
