package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lukewestby/redboard/internal/change"
)

// ServerMessage is a frame sent from server to client (spec.md §6.2).
type ServerMessage interface {
	serverMessage()
}

type ServerReady struct{}

// ObjectEntry is one (object-id, object) pair within a SnapshotChunk. It
// serializes as a two-element JSON array, matching the wire tuple shape.
type ObjectEntry struct {
	ID     uuid.UUID
	Object json.RawMessage
}

func (e ObjectEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]json.RawMessage{
		mustMarshal(e.ID),
		e.Object,
	})
}

func (e *ObjectEntry) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &e.ID); err != nil {
		return err
	}
	e.Object = pair[1]
	return nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

type SnapshotChunk struct{ Entries []ObjectEntry }

// SnapshotFinished carries the snapshot's version. BoardHandler always sets
// Version; a board that has never been checkpointed reports the "0"
// sentinel. A nil Version encodes as "version": null.
type SnapshotFinished struct{ Version *string }

type ChangeAccepted struct {
	Change    change.Change
	SessionID uuid.UUID
}

type UserJoined struct {
	SessionID uuid.UUID
	Username  string
}

type UserLeft struct{ SessionID uuid.UUID }

type UserCursorChanged struct {
	SessionID uuid.UUID
	X, Y      float64
}

type UserCursorLeft struct{ SessionID uuid.UUID }

func (ServerReady) serverMessage()       {}
func (SnapshotChunk) serverMessage()     {}
func (SnapshotFinished) serverMessage()  {}
func (ChangeAccepted) serverMessage()    {}
func (UserJoined) serverMessage()        {}
func (UserLeft) serverMessage()          {}
func (UserCursorChanged) serverMessage() {}
func (UserCursorLeft) serverMessage()    {}

func (ServerReady) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{"ServerReady"})
}

func (m SnapshotChunk) MarshalJSON() ([]byte, error) {
	entries := m.Entries
	if entries == nil {
		entries = []ObjectEntry{}
	}
	return json.Marshal(struct {
		Type    string        `json:"type"`
		Entries []ObjectEntry `json:"entries"`
	}{"SnapshotChunk", entries})
}

func (m SnapshotFinished) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string  `json:"type"`
		Version *string `json:"version"`
	}{"SnapshotFinished", m.Version})
}

func (m ChangeAccepted) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string        `json:"type"`
		Change    change.Change `json:"change"`
		SessionID uuid.UUID     `json:"session_id"`
	}{"ChangeAccepted", m.Change, m.SessionID})
}

func (m UserJoined) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string    `json:"type"`
		SessionID uuid.UUID `json:"session_id"`
		Username  string    `json:"username"`
	}{"UserJoined", m.SessionID, m.Username})
}

func (m UserLeft) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string    `json:"type"`
		SessionID uuid.UUID `json:"session_id"`
	}{"UserLeft", m.SessionID})
}

func (m UserCursorChanged) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string    `json:"type"`
		SessionID uuid.UUID `json:"session_id"`
		X         float64   `json:"x"`
		Y         float64   `json:"y"`
	}{"UserCursorChanged", m.SessionID, m.X, m.Y})
}

func (m UserCursorLeft) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string    `json:"type"`
		SessionID uuid.UUID `json:"session_id"`
	}{"UserCursorLeft", m.SessionID})
}

type serverEnvelope struct {
	Type      string          `json:"type"`
	Entries   []ObjectEntry   `json:"entries"`
	Version   *string         `json:"version"`
	Change    json.RawMessage `json:"change"`
	SessionID uuid.UUID       `json:"session_id"`
	Username  string          `json:"username"`
	X         float64         `json:"x"`
	Y         float64         `json:"y"`
}

// DecodeServerMessage parses a single server-to-client JSON text frame.
// Used by client-facing tests to exercise the round trip of spec.md §8.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env serverEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode server frame: %w", err)
	}

	switch env.Type {
	case "ServerReady":
		return ServerReady{}, nil
	case "SnapshotChunk":
		return SnapshotChunk{Entries: env.Entries}, nil
	case "SnapshotFinished":
		return SnapshotFinished{Version: env.Version}, nil
	case "ChangeAccepted":
		var c change.Change
		if err := json.Unmarshal(env.Change, &c); err != nil {
			return nil, fmt.Errorf("wire: decode ChangeAccepted.change: %w", err)
		}
		return ChangeAccepted{Change: c, SessionID: env.SessionID}, nil
	case "UserJoined":
		return UserJoined{SessionID: env.SessionID, Username: env.Username}, nil
	case "UserLeft":
		return UserLeft{SessionID: env.SessionID}, nil
	case "UserCursorChanged":
		return UserCursorChanged{SessionID: env.SessionID, X: env.X, Y: env.Y}, nil
	case "UserCursorLeft":
		return UserCursorLeft{SessionID: env.SessionID}, nil
	default:
		return nil, fmt.Errorf("wire: unknown server frame type %q", env.Type)
	}
}
