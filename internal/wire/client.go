// Package wire defines the JSON frames exchanged between client and server
// (spec.md §6.1, §6.2) and the ephemeral PresenceMessage carried on the
// in-process presence bus (spec.md §3).
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/lukewestby/redboard/internal/change"
)

// ClientMessage is a frame sent from client to server. Each concrete type
// corresponds to one row of spec.md §6.1.
type ClientMessage interface {
	clientMessage()
}

type ClientReady struct{ Username string }
type StartSnapshot struct{}
type ApplyChange struct{ Change change.Change }
type CursorChanged struct{ X, Y float64 }
type CursorLeft struct{}
type Ping struct{}

func (ClientReady) clientMessage()    {}
func (StartSnapshot) clientMessage()  {}
func (ApplyChange) clientMessage()    {}
func (CursorChanged) clientMessage()  {}
func (CursorLeft) clientMessage()     {}
func (Ping) clientMessage()           {}

func (m ClientReady) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Username string `json:"username"`
	}{"ClientReady", m.Username})
}

func (m ApplyChange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string        `json:"type"`
		Change change.Change `json:"change"`
	}{"ApplyChange", m.Change})
}

func (m CursorChanged) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string  `json:"type"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
	}{"CursorChanged", m.X, m.Y})
}

func (StartSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{"StartSnapshot"})
}

func (CursorLeft) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{"CursorLeft"})
}

func (Ping) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{"Ping"})
}

// clientEnvelope is the superset of fields across all client frame types,
// used only to dispatch on "type" before decoding into the concrete type.
type clientEnvelope struct {
	Type     string          `json:"type"`
	Username string          `json:"username"`
	Change   json.RawMessage `json:"change"`
	X        float64         `json:"x"`
	Y        float64         `json:"y"`
}

// DecodeClientMessage parses a single client-to-server JSON text frame.
// Spec.md §7 treats a decode failure as a dropped frame, not a torn-down
// connection: callers should log and continue rather than propagate.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode client frame: %w", err)
	}

	switch env.Type {
	case "ClientReady":
		return ClientReady{Username: env.Username}, nil
	case "StartSnapshot":
		return StartSnapshot{}, nil
	case "ApplyChange":
		var c change.Change
		if err := json.Unmarshal(env.Change, &c); err != nil {
			return nil, fmt.Errorf("wire: decode ApplyChange.change: %w", err)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("wire: invalid change: %w", err)
		}
		return ApplyChange{Change: c}, nil
	case "CursorChanged":
		return CursorChanged{X: env.X, Y: env.Y}, nil
	case "CursorLeft":
		return CursorLeft{}, nil
	case "Ping":
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown client frame type %q", env.Type)
	}
}
