// Package collab implements the per-connection collaboration state machine:
// BoardHandler dispatches inbound client frames, Broadcaster streams the
// change log back to a client once it asks for a snapshot, and Presence
// forwards other sessions' cursor/join/leave events. Grounded on
// original_source/service/src/board_handler.rs, broadcaster.rs, and
// original_source/src/presence.rs, in the teacher's per-connection-goroutine
// idiom (internal/ws/broadcast.go's client/writePump shape).
package collab

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lukewestby/redboard/internal/change"
	"github.com/lukewestby/redboard/internal/concurrency"
	"github.com/lukewestby/redboard/internal/logging"
	"github.com/lukewestby/redboard/internal/repository"
	"github.com/lukewestby/redboard/internal/socketio"
	"github.com/lukewestby/redboard/internal/wire"
)

// BoardHandler owns one client connection's lifecycle on one board: reading
// frames, dispatching them to the repository, and running the two
// background workers (Broadcaster, Presence) that push server-originated
// events back down the same socket (spec.md §5 "per-session workers").
type BoardHandler struct {
	boardID   uuid.UUID
	sessionID uuid.UUID
	repo      *repository.Repository
	sender    *socketio.Sender
	stream    *socketio.Stream

	mu          sync.Mutex
	closed      bool
	cancelBcast context.CancelFunc
	bcastDone   chan struct{}

	presenceCancel context.CancelFunc
	presenceDone   chan struct{}
}

// New constructs a BoardHandler for one freshly-upgraded connection.
func New(boardID, sessionID uuid.UUID, repo *repository.Repository, sender *socketio.Sender, stream *socketio.Stream) *BoardHandler {
	return &BoardHandler{
		boardID:   boardID,
		sessionID: sessionID,
		repo:      repo,
		sender:    sender,
		stream:    stream,
	}
}

// Start runs the handler to completion: it is the NEW -> JOINED ->
// STREAMING -> CLOSED state machine of spec.md §5, driven by whatever
// frames arrive. It blocks until the connection closes. Mirrors
// board_handler.rs's start(): spawn Presence, loop run() swallowing its
// error until closed is observed, then tear down.
func (h *BoardHandler) Start(ctx context.Context) {
	h.startPresence(ctx)

	for {
		h.mu.Lock()
		closed := h.closed
		h.mu.Unlock()
		if closed {
			break
		}
		if err := h.run(ctx); err != nil {
			logging.Log.WithError(err).WithFields(map[string]any{
				"board":   h.boardID,
				"session": h.sessionID,
			}).Warn("board handler iteration failed")
		}
	}

	h.shutdownWorkers()
}

// run reads and dispatches frames until the connection closes or an
// unrecoverable error occurs, touching the session's liveness after every
// frame (board_handler.rs run()).
func (h *BoardHandler) run(ctx context.Context) error {
	for {
		h.mu.Lock()
		closed := h.closed
		h.mu.Unlock()
		if closed {
			return nil
		}

		msg, err := h.stream.ReadMessage()
		if err != nil {
			h.onClose(ctx)
			return nil
		}

		switch msg.Kind {
		case socketio.KindClose:
			h.onClose(ctx)
			return nil
		case socketio.KindData:
			if err := h.dispatch(ctx, msg.Data); err != nil {
				return err
			}
		case socketio.KindUnknown:
			// ignore
		}

		if err := h.repo.TouchSession(ctx, h.sessionID); err != nil {
			return err
		}
	}
}

func (h *BoardHandler) dispatch(ctx context.Context, data []byte) error {
	cm, err := wire.DecodeClientMessage(data)
	if err != nil {
		logging.Log.WithError(err).Debug("dropped malformed client frame")
		return nil
	}

	switch m := cm.(type) {
	case wire.ClientReady:
		return h.onClientReady(ctx, m.Username)
	case wire.CursorChanged:
		return h.onCursorChanged(ctx, m.X, m.Y)
	case wire.CursorLeft:
		return h.onCursorLeft(ctx)
	case wire.StartSnapshot:
		return h.onStartSnapshot(ctx)
	case wire.ApplyChange:
		return h.onApplyChange(ctx, m.Change)
	case wire.Ping:
		// Liveness touch already happens after every frame; nothing else to do.
		return nil
	}
	return nil
}

// onClientReady registers the session, tells it about everyone already
// present, and signals it may now start issuing application frames
// (board_handler.rs on_client_ready). Re-joining with an id already
// registered on this board is treated as an idempotent refresh: the
// session record is overwritten and UserJoined is republished either way.
func (h *BoardHandler) onClientReady(ctx context.Context, username string) error {
	if err := h.repo.CreateSession(ctx, h.boardID, repository.Session{ID: h.sessionID, Username: username}); err != nil {
		return err
	}

	sessions, err := h.repo.GetSessions(ctx, h.boardID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.ID == h.sessionID {
			continue
		}
		if err := h.sender.Send(wire.UserJoined{SessionID: s.ID, Username: s.Username}); err != nil {
			return err
		}
	}

	if err := h.repo.PublishPresence(ctx, h.boardID, h.sessionID, wire.UserJoined{SessionID: h.sessionID, Username: username}); err != nil {
		return err
	}

	return h.sender.Send(wire.ServerReady{})
}

// onCursorChanged and onCursorLeft delegate straight to the repository:
// UpdateCursor/DeleteCursor are themselves the publish (no persisted state),
// so there is nothing left for the handler to do afterward.
func (h *BoardHandler) onCursorChanged(ctx context.Context, x, y float64) error {
	return h.repo.UpdateCursor(ctx, h.boardID, h.sessionID, x, y)
}

func (h *BoardHandler) onCursorLeft(ctx context.Context) error {
	return h.repo.DeleteCursor(ctx, h.boardID, h.sessionID)
}

// onStartSnapshot streams the board's current materialized objects, then
// hands the connection over to a fresh Broadcaster for everything
// published from here on (board_handler.rs on_start_snapshot). A client may
// ask for a new snapshot more than once (e.g. after a local desync); doing
// so restarts the Broadcaster from the freshly observed version.
func (h *BoardHandler) onStartSnapshot(ctx context.Context) error {
	h.stopBroadcaster()

	version, err := h.repo.GetVersion(ctx, h.boardID)
	if err != nil {
		return err
	}

	sendErr := h.repo.StreamObjectChunks(ctx, h.boardID, func(entries []wire.ObjectEntry) error {
		return h.sender.Send(wire.SnapshotChunk{Entries: entries})
	})
	if sendErr != nil {
		return sendErr
	}

	v := version
	if err := h.sender.Send(wire.SnapshotFinished{Version: &v}); err != nil {
		return err
	}

	h.startBroadcaster(ctx, version)
	return nil
}

func (h *BoardHandler) onApplyChange(ctx context.Context, c change.Change) error {
	if err := c.Validate(); err != nil {
		logging.Log.WithError(err).Debug("dropped invalid change")
		return nil
	}
	_, err := h.repo.PublishChange(ctx, h.boardID, h.sessionID, c)
	return err
}

// onClose tears down session state for a departing client (board_handler.rs
// on_close): mark closed, close the socket, stop the workers, delete the
// session record. DeleteSession itself publishes UserLeft, so every path
// that removes a session — graceful close here or SessionChecker's reap —
// notifies the board alike.
func (h *BoardHandler) onClose(ctx context.Context) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	_ = h.sender.Close()
	h.shutdownWorkers()

	if err := h.repo.DeleteSession(ctx, h.boardID, h.sessionID); err != nil {
		logging.Log.WithError(err).Warn("failed to delete session on close")
	}
}

func (h *BoardHandler) startPresence(ctx context.Context) {
	pctx, cancel := context.WithCancel(ctx)
	h.presenceCancel = cancel
	h.presenceDone = make(chan struct{})
	p := NewPresence(h.boardID, h.sessionID, h.repo, h.sender)
	done := h.presenceDone
	concurrency.GoSafe(func() {
		p.Start(pctx)
		close(done)
	})
}

func (h *BoardHandler) startBroadcaster(ctx context.Context, version string) {
	bctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancelBcast = cancel
	h.bcastDone = make(chan struct{})
	done := h.bcastDone
	h.mu.Unlock()

	b := NewBroadcaster(h.boardID, version, h.repo, h.sender)
	concurrency.GoSafe(func() {
		b.Start(bctx)
		close(done)
	})
}

func (h *BoardHandler) stopBroadcaster() {
	h.mu.Lock()
	cancel := h.cancelBcast
	done := h.bcastDone
	h.cancelBcast = nil
	h.bcastDone = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (h *BoardHandler) shutdownWorkers() {
	if h.presenceCancel != nil {
		h.presenceCancel()
		<-h.presenceDone
		h.presenceCancel = nil
	}
	h.stopBroadcaster()
}
