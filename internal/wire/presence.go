package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PresenceMessage is the payload published on a board's presence channel
// and fanned out to other sessions (spec.md §3). ServerEvent is always one
// of UserJoined, UserLeft, UserCursorChanged, or UserCursorLeft.
type PresenceMessage struct {
	SourceSession uuid.UUID
	ServerEvent   ServerMessage
}

func (m PresenceMessage) MarshalJSON() ([]byte, error) {
	event, err := json.Marshal(m.ServerEvent)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		SourceSession uuid.UUID       `json:"source_session"`
		ServerEvent   json.RawMessage `json:"server_event"`
	}{m.SourceSession, event})
}

func (m *PresenceMessage) UnmarshalJSON(data []byte) error {
	var env struct {
		SourceSession uuid.UUID       `json:"source_session"`
		ServerEvent   json.RawMessage `json:"server_event"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("wire: decode presence message: %w", err)
	}
	event, err := DecodeServerMessage(env.ServerEvent)
	if err != nil {
		return fmt.Errorf("wire: decode presence message event: %w", err)
	}
	m.SourceSession = env.SourceSession
	m.ServerEvent = event
	return nil
}
