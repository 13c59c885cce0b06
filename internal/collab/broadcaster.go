package collab

import (
	"context"

	"github.com/google/uuid"
	"github.com/lukewestby/redboard/internal/config"
	"github.com/lukewestby/redboard/internal/logging"
	"github.com/lukewestby/redboard/internal/repository"
	"github.com/lukewestby/redboard/internal/socketio"
	"github.com/lukewestby/redboard/internal/wire"
)

// Broadcaster streams a board's change log to one client from a fixed
// starting version onward, in order, until cancelled. It is restarted by
// BoardHandler every time the client re-requests a snapshot (spec.md §5
// "STREAMING"), grounded on original_source/service/src/broadcaster.rs.
//
// It never filters out the client's own changes: the server-assigned order
// of the stream is authoritative, and a client that applied its own change
// optimistically reconciles on receiving its own ChangeAccepted (spec.md §9
// open question).
type Broadcaster struct {
	boardID uuid.UUID
	version string
	repo    *repository.Repository
	sender  *socketio.Sender
}

// NewBroadcaster builds a Broadcaster that will stream everything strictly
// after version.
func NewBroadcaster(boardID uuid.UUID, version string, repo *repository.Repository, sender *socketio.Sender) *Broadcaster {
	return &Broadcaster{boardID: boardID, version: version, repo: repo, sender: sender}
}

// Start runs until ctx is cancelled, matching the fault-isolated outer loop
// of broadcaster.rs's start(): each run() either blocks for more changes or
// returns, and a returned error is logged and swallowed before looping
// again.
func (b *Broadcaster) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := b.run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Log.WithError(err).WithField("board", b.boardID).Warn("broadcaster iteration failed")
		}
	}
}

// run performs one blocking read-and-send pass: it blocks for up to
// config.BroadcasterBlock waiting for new entries, then sends everything it
// got, advancing its watermark to the last entry sent before sending it
// (matching get_changes_for_board/broadcaster.rs: the watermark only moves
// forward once the batch is known).
func (b *Broadcaster) run(ctx context.Context) error {
	changes, err := b.repo.GetChanges(ctx, b.boardID, b.version, config.BroadcasterBatch)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}

	b.version = changes[len(changes)-1].Version

	for _, c := range changes {
		if err := b.sender.Send(wire.ChangeAccepted{Change: c.Change, SessionID: c.SessionID}); err != nil {
			return err
		}
	}
	return nil
}
