// Package socketio wraps a single gorilla websocket connection into a
// mutex-guarded sender half and a stream-reader half, grounded on
// original_source/service/src/socket.rs (SocketSender/SocketStream) and the
// per-client send-channel idiom of the teacher's internal/ws/broadcast.go.
package socketio

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/gorilla/websocket"
)

// Sender is the shared, mutex-guarded write half of one client connection.
// BoardHandler, Broadcaster, and Presence all hold a reference to the same
// Sender and may call Send concurrently (spec.md §5 "one socket, many
// producers").
type Sender struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewSender wraps conn for concurrent, closed-aware sends.
func NewSender(conn *websocket.Conn) *Sender {
	return &Sender{conn: conn}
}

// Send marshals v and writes it as a single text frame. Per
// original_source/service/src/socket.rs, Send is a silent no-op once the
// sender is closed or the underlying connection has a broken pipe — callers
// never need to special-case a departed peer.
func (s *Sender) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if isBrokenConnection(err) {
			return nil
		}
		return err
	}
	return nil
}

// Close marks the sender closed and closes the underlying connection. Safe
// to call more than once.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// isBrokenConnection reports whether err indicates the peer is gone —
// broken pipe, connection reset, or a plain closed-network error — mirroring
// is_broken_connection_error in original_source/service/src/socket.rs,
// which walks the tungstenite/io error chain looking for BrokenPipe.
func isBrokenConnection(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsUnexpectedCloseError(err) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

// MessageKind tags the variant of a Message read off a Stream.
type MessageKind int

const (
	// KindData is a text frame carrying application payload.
	KindData MessageKind = iota
	// KindClose signals the peer initiated connection close.
	KindClose
	// KindUnknown is any frame type the application does not act on
	// (binary frames).
	KindUnknown
)

// Message is one frame read off a Stream.
type Message struct {
	Kind MessageKind
	Data []byte
}

// Stream is the read half of one client connection, mapping gorilla's frame
// types onto the small Message vocabulary BoardHandler dispatches on
// (original_source/service/src/socket.rs SocketStream). Protocol-level ping
// frames never reach ReadMessage: gorilla answers them with a pong
// transparently before its read loop continues, matching the original's
// treatment of transport-level keepalive as invisible to application code.
// The application-level "Ping" the spec's protocol defines (spec.md §6.2)
// is a JSON text frame decoded like any other ClientMessage.
type Stream struct {
	conn *websocket.Conn
}

// NewStream wraps conn's read half.
func NewStream(conn *websocket.Conn) *Stream {
	return &Stream{conn: conn}
}

// ReadMessage blocks for the next frame and classifies it.
func (s *Stream) ReadMessage() (Message, error) {
	msgType, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return Message{Kind: KindClose}, nil
		}
		return Message{}, err
	}

	switch msgType {
	case websocket.TextMessage:
		return Message{Kind: KindData, Data: data}, nil
	case websocket.CloseMessage:
		return Message{Kind: KindClose}, nil
	default:
		return Message{Kind: KindUnknown, Data: data}, nil
	}
}
