package store

import "strings"

// Logical document layout:
//
//	users/{uid}                          profile
//	users/{uid}/scores/{scope}           best score
//	users/{uid}/attempts/{attemptId}     attempt (idempotency key = attemptId)
//	leaderboard/{scope}/entries/{uid}    leaderboard entry

func UserPath(uid string) string {
	return "users/" + uid
}

func ScorePath(uid, scope string) string {
	return "users/" + uid + "/scores/" + scope
}

func AttemptPath(uid, attemptID string) string {
	return "users/" + uid + "/attempts/" + attemptID
}

func AttemptsCollection(uid string) string {
	return "users/" + uid + "/attempts"
}

func LeaderboardEntryPath(scope, uid string) string {
	return "leaderboard/" + scope + "/entries/" + uid
}

func LeaderboardCollection(scope string) string {
	return "leaderboard/" + scope + "/entries"
}

// Split breaks a path into its segments.
func Split(path string) []string {
	return strings.Split(path, "/")
}

// Collection returns the parent collection of a document path, or ""
// for a root segment.
func Collection(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Key returns the final path segment, the document's key.
func Key(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return path
	}
	return path[i+1:]
}
