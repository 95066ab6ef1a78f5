package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions understood by the request dispatcher
const (
	ActionLeaderboard   = "leaderboard"
	ActionPlayer        = "player"
	ActionCompleteLevel = "complete_level"
)

// DefaultDifficulty is the number of stars awarded when a completion omits difficulty
const DefaultDifficulty = 1

// LevelCompletion records that a player finished a level once
type LevelCompletion struct {
	PlayerID    uuid.UUID `json:"-"`
	LevelID     string    `json:"level_id"`
	LevelName   string    `json:"level_name"`
	Difficulty  int       `json:"difficulty"`
	CompletedAt time.Time `json:"completed_at"`
}

// CompleteLevelRequest is the payload of a complete_level call.
// It is shared by the HTTP body and the Kafka message format.
type CompleteLevelRequest struct {
	Action     string `json:"action,omitempty"`
	Nickname   string `json:"nickname"`
	LevelID    string `json:"level_id"`
	LevelName  string `json:"level_name,omitempty"`
	Difficulty *int   `json:"difficulty,omitempty"`
}

// Normalize trims the nickname and fills in optional fields
func (r CompleteLevelRequest) Normalize() CompleteLevelRequest {
	r.Nickname = strings.TrimSpace(r.Nickname)
	if r.Difficulty == nil {
		d := DefaultDifficulty
		r.Difficulty = &d
	}
	return r
}

// Validate checks a normalized request
func (r CompleteLevelRequest) Validate() error {
	if r.Nickname == "" || r.LevelID == "" {
		return ErrNicknameAndLevelRequired
	}
	if r.Difficulty != nil && *r.Difficulty < 1 {
		return ErrInvalidDifficulty
	}
	return nil
}

// Stars returns the difficulty of a normalized request
func (r CompleteLevelRequest) Stars() int {
	if r.Difficulty == nil {
		return DefaultDifficulty
	}
	return *r.Difficulty
}

// CompletionResult is the outcome of recording a completion
type CompletionResult struct {
	Player PlayerSummary
	// Recorded is false when the player had already completed the level
	Recorded bool
}
