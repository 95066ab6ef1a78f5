package domain

import "errors"

// Domain errors. Messages are returned to clients verbatim.
var (
	ErrDatabaseNotConfigured    = errors.New("Database not configured")
	ErrNicknameRequired         = errors.New("Nickname required")
	ErrNicknameAndLevelRequired = errors.New("Nickname and level_id required")
	ErrInvalidDifficulty        = errors.New("Difficulty must be a positive integer")
	ErrInvalidRequest           = errors.New("Invalid request body")
	ErrPlayerNotFound           = errors.New("Player not found")
	ErrMethodNotAllowed         = errors.New("Method not allowed")
	ErrInternalError            = errors.New("Internal server error")
)

// IsValidationError checks if an error is caused by bad client input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNicknameRequired) ||
		errors.Is(err, ErrNicknameAndLevelRequired) ||
		errors.Is(err, ErrInvalidDifficulty) ||
		errors.Is(err, ErrInvalidRequest)
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound)
}
