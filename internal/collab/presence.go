package collab

import (
	"context"

	"github.com/google/uuid"
	"github.com/lukewestby/redboard/internal/logging"
	"github.com/lukewestby/redboard/internal/repository"
	"github.com/lukewestby/redboard/internal/socketio"
)

// Presence forwards every other session's join/leave/cursor event on a
// board down to this client's socket, for the lifetime of the connection
// (spec.md §5 "per-session workers"), grounded on original_source/src/presence.rs.
type Presence struct {
	boardID   uuid.UUID
	sessionID uuid.UUID
	repo      *repository.Repository
	sender    *socketio.Sender
}

// NewPresence builds a Presence worker for one connection.
func NewPresence(boardID, sessionID uuid.UUID, repo *repository.Repository, sender *socketio.Sender) *Presence {
	return &Presence{boardID: boardID, sessionID: sessionID, repo: repo, sender: sender}
}

// Start subscribes to the board's presence stream and forwards every
// message not originated by this session, until ctx is cancelled
// (presence.rs run(): "if message.source_session != self.session_id").
func (p *Presence) Start(ctx context.Context) {
	receiver := p.repo.SubscribePresence(p.boardID)
	defer receiver.Close()

	for {
		msg, ok := receiver.Next(ctx)
		if !ok {
			return
		}
		if msg.SourceSession == p.sessionID {
			continue
		}
		if err := p.sender.Send(msg.ServerEvent); err != nil {
			logging.Log.WithError(err).WithField("board", p.boardID).Warn("presence forward failed")
			continue
		}
	}
}
