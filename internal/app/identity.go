package app

import (
	"strings"

	"github.com/st3v3lyrious/quiznetic/internal/domain"
)

// LeaderboardDisplayName derives the public name shown on leaderboard
// entries: the profile display name, then the email local part, then a
// guest handle, then a generic fallback.
func LeaderboardDisplayName(id domain.Identity) string {
	if name := strings.TrimSpace(id.DisplayName); name != "" {
		return name
	}

	if email := strings.TrimSpace(id.Email); email != "" {
		return strings.SplitN(email, "@", 2)[0]
	}

	if id.Anonymous {
		prefix := id.UID
		if len(prefix) > 6 {
			prefix = prefix[:6]
		}
		return "Guest-" + prefix
	}

	return "Player"
}
