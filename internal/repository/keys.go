package repository

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Key namespace (spec.md §6.4).

func boardChangesKey(board uuid.UUID) string {
	return fmt.Sprintf("board/%s/changes", board)
}

func boardObjectsKey(board uuid.UUID) string {
	return fmt.Sprintf("board/%s/objects", board)
}

func boardVersionKey(board uuid.UUID) string {
	return fmt.Sprintf("board/%s/version", board)
}

func boardSessionsKey(board uuid.UUID) string {
	return fmt.Sprintf("board/%s/sessions", board)
}

func boardPresenceKey(board uuid.UUID) string {
	return fmt.Sprintf("board/%s/presence", board)
}

func sessionCheckinKey(session uuid.UUID) string {
	return fmt.Sprintf("session/%s/checkin", session)
}

const boardChangesPattern = "board/*/changes"

const presencePattern = "board/*/presence"

var boardIDFromKey = regexp.MustCompile(`^board/([^/]+)/.*$`)

// parseBoardID extracts the board id from any "board/{id}/..." key, per
// spec.md §6.4.
func parseBoardID(key string) (uuid.UUID, error) {
	m := boardIDFromKey.FindStringSubmatch(key)
	if m == nil {
		return uuid.UUID{}, fmt.Errorf("repository: no board id in key %q", key)
	}
	return uuid.Parse(m[1])
}
