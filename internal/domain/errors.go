package domain

import "errors"

var (
	// ErrUnauthenticated is returned when no verified identity accompanies a request.
	ErrUnauthenticated = errors.New("authentication is required")
	// ErrTransactionConflict is returned after the store exhausted its conflict retries.
	ErrTransactionConflict = errors.New("storage transaction conflict, retry the submission")
	// ErrUnknownScope indicates a leaderboard scope outside the fixed category/difficulty tables.
	ErrUnknownScope = errors.New("unknown leaderboard scope")
)
