// Package repository implements the domain operations of spec.md §4.1 on
// top of an abstract store.Store, grounded on original_source/src/repository.rs
// and original_source/service/src/{broadcaster,checkpointer}.rs. Every Store
// call is wrapped in the bounded retry policy of internal/retry.
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lukewestby/redboard/internal/change"
	"github.com/lukewestby/redboard/internal/concurrency"
	"github.com/lukewestby/redboard/internal/config"
	"github.com/lukewestby/redboard/internal/retry"
	"github.com/lukewestby/redboard/internal/store"
	"github.com/lukewestby/redboard/internal/wire"
)

// Session is one connected client's durable presence record, stored as a
// hash field under a board's sessions key (spec.md §3 "Session"). Cursor
// position is never persisted here: update_cursor/delete_cursor only
// publish (spec.md §4.1).
type Session struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// Repository is the domain-level façade over a store.Store: session
// bookkeeping, the change log, checkpointing, and presence fan-out.
type Repository struct {
	store store.Store
	bus   *presenceBus
	attempts int
}

// New constructs a Repository and launches its singleton presence fan-in
// worker (spec.md §4.1: "1 subscribing connection shared by every session
// on the process"). The worker runs until ctx is cancelled.
func New(ctx context.Context, s store.Store) *Repository {
	r := &Repository{
		store:    s,
		bus:      newPresenceBus(),
		attempts: config.StoreRetryAttempts,
	}
	concurrency.GoSafe(func() { r.runPresenceFanIn(ctx) })
	go func() {
		<-ctx.Done()
		r.bus.closeAll()
	}()
	return r
}

func (r *Repository) retry(action func() error) error {
	return retry.Do(r.attempts, action)
}

// CreateSession registers a new session for board, idempotently (spec.md
// §9 open question: re-joining with the same session id simply overwrites
// its record).
func (r *Repository) CreateSession(ctx context.Context, board uuid.UUID, session Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("repository: marshal session: %w", err)
	}
	if err := r.retry(func() error {
		return r.store.HSet(ctx, boardSessionsKey(board), session.ID.String(), string(payload))
	}); err != nil {
		return err
	}
	return r.TouchSession(ctx, session.ID)
}

// GetSessions returns every session currently registered for board.
func (r *Repository) GetSessions(ctx context.Context, board uuid.UUID) ([]Session, error) {
	var raw map[string]string
	if err := r.retry(func() error {
		var err error
		raw, err = r.store.HGetAll(ctx, boardSessionsKey(board))
		return err
	}); err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(raw))
	for _, v := range raw {
		var s Session
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// DeleteSession removes session from board's sessions hash, removes its
// liveness key, and publishes UserLeft (spec.md §4.1
// "delete_session_for_board") — all three effects belong to this single
// operation so every caller (graceful close, SessionChecker reap) gets them
// alike.
func (r *Repository) DeleteSession(ctx context.Context, board, session uuid.UUID) error {
	if err := r.retry(func() error {
		return r.store.HDel(ctx, boardSessionsKey(board), session.String())
	}); err != nil {
		return err
	}
	if err := r.retry(func() error {
		return r.store.Del(ctx, sessionCheckinKey(session))
	}); err != nil {
		return err
	}
	return r.PublishPresence(ctx, board, session, wire.UserLeft{SessionID: session})
}

// TouchSession refreshes a session's liveness TTL (spec.md §4.1 "touch
// session"), called after every inbound frame and on join.
func (r *Repository) TouchSession(ctx context.Context, session uuid.UUID) error {
	return r.retry(func() error {
		return r.store.SetEx(ctx, sessionCheckinKey(session), "1", config.LivenessTTL)
	})
}

// SessionExists reports whether session's liveness key has not yet expired.
func (r *Repository) SessionExists(ctx context.Context, session uuid.UUID) (bool, error) {
	var exists bool
	err := r.retry(func() error {
		var err error
		exists, err = r.store.Exists(ctx, sessionCheckinKey(session))
		return err
	})
	return exists, err
}

// UpdateCursor publishes a session's latest cursor position (spec.md §4.1
// "update_session_cursor_for_board"): publish only, no persisted state,
// unlike PublishChange, which appends to the change log.
func (r *Repository) UpdateCursor(ctx context.Context, board uuid.UUID, session uuid.UUID, x, y float64) error {
	return r.PublishPresence(ctx, board, session, wire.UserCursorChanged{SessionID: session, X: x, Y: y})
}

// DeleteCursor publishes that a session's cursor has left the board. No
// persisted state.
func (r *Repository) DeleteCursor(ctx context.Context, board uuid.UUID, session uuid.UUID) error {
	return r.PublishPresence(ctx, board, session, wire.UserCursorLeft{SessionID: session})
}

// StreamAllBoardIDs enumerates every board with a change log (spec.md §4.1
// "stream_all_board_ids"), used by the Checkpointer.
func (r *Repository) StreamAllBoardIDs(ctx context.Context) ([]uuid.UUID, error) {
	var boards []uuid.UUID
	iter := r.store.ScanMatch(ctx, boardChangesPattern)
	for {
		key, ok, err := iter.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		board, err := parseBoardID(key)
		if err != nil {
			continue
		}
		boards = append(boards, board)
	}
	return boards, nil
}

// LoggedChange is one change-log entry read back from a board's stream: its
// entry id, the session that submitted it, and the change itself (spec.md
// §4.1 "get_changes_for_board" returns (version, session_id, change)
// triples).
type LoggedChange struct {
	Version   string
	SessionID uuid.UUID
	Change    change.Change
}

// GetChanges performs a blocking read of up to count changes strictly
// after since on board's change log (spec.md §4.1 "get_changes_for_board").
// It always blocks up to config.BroadcasterBlock: some messages may still
// be missed if published immediately after the call returns, so callers
// (Broadcaster, Checkpointer) are expected to poll in a loop.
func (r *Repository) GetChanges(ctx context.Context, board uuid.UUID, since string, count int64) ([]LoggedChange, error) {
	var entries []store.StreamEntry
	if err := r.retry(func() error {
		var err error
		entries, err = r.store.XReadBlocking(ctx, boardChangesKey(board), since, count, config.BroadcasterBlock)
		return err
	}); err != nil {
		return nil, err
	}

	logged := make([]LoggedChange, 0, len(entries))
	for _, e := range entries {
		var c change.Change
		if err := json.Unmarshal([]byte(e.Fields["change"]), &c); err != nil {
			return nil, fmt.Errorf("repository: decode logged change %s: %w", e.ID, err)
		}
		sessionID, err := uuid.Parse(e.Fields["session_id"])
		if err != nil {
			return nil, fmt.Errorf("repository: decode logged change session id %s: %w", e.ID, err)
		}
		logged = append(logged, LoggedChange{Version: e.ID, SessionID: sessionID, Change: c})
	}
	return logged, nil
}

// PublishChange appends c, tagged with the submitting session, to board's
// change log and returns its assigned entry id (spec.md §4.1
// "publish_change_for_board"). Passing "*" as the entry id lets the Store
// assign a globally ordered id; clients reconcile any optimistic local
// state against the order the server ultimately broadcasts.
func (r *Repository) PublishChange(ctx context.Context, board uuid.UUID, session uuid.UUID, c change.Change) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("repository: marshal change: %w", err)
	}
	var id string
	err = r.retry(func() error {
		var err error
		id, err = r.store.XAdd(ctx, boardChangesKey(board), map[string]string{
			"change":     string(payload),
			"session_id": session.String(),
		})
		return err
	})
	return id, err
}

// GetVersion returns board's last-checkpointed version, or
// config.VersionSentinel if it has never been checkpointed (spec.md §4.1
// "get_version_for_board").
func (r *Repository) GetVersion(ctx context.Context, board uuid.UUID) (string, error) {
	var val string
	var ok bool
	if err := r.retry(func() error {
		var err error
		val, ok, err = r.store.Get(ctx, boardVersionKey(board))
		return err
	}); err != nil {
		return "", err
	}
	if !ok {
		return config.VersionSentinel, nil
	}
	return val, nil
}

// StreamObjectChunks yields board's current object set (as checkpointed
// plus anything folded in since) in chunks of config.SnapshotChunkSize
// object ids at a time (spec.md §4.1 "stream_object_chunks_for_board").
func (r *Repository) StreamObjectChunks(ctx context.Context, board uuid.UUID, emit func([]wire.ObjectEntry) error) error {
	var keys []string
	if err := r.retry(func() error {
		var err error
		keys, err = r.store.JSONObjKeys(ctx, boardObjectsKey(board), "$")
		return err
	}); err != nil {
		return err
	}
	for i := 0; i < len(keys); i += config.SnapshotChunkSize {
		end := i + config.SnapshotChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunkKeys := keys[i:end]

		paths := make([]string, len(chunkKeys))
		for j, k := range chunkKeys {
			paths[j] = fmt.Sprintf("$.%s", k)
		}
		var raw string
		if err := r.retry(func() error {
			var err error
			raw, err = r.store.JSONGet(ctx, boardObjectsKey(board), paths)
			return err
		}); err != nil {
			return err
		}
		entries, err := decodeObjectChunk(chunkKeys, raw)
		if err != nil {
			return err
		}
		if err := emit(entries); err != nil {
			return err
		}
	}
	return nil
}

// decodeObjectChunk parses the two JSON.GET response shapes of spec.md §4.6:
// a single path returns a one-element JSON array holding the object;
// multiple paths return {"$.id1":[v1], "$.id2":[v2], ...}.
func decodeObjectChunk(ids []string, raw string) ([]wire.ObjectEntry, error) {
	if raw == "" {
		return nil, nil
	}
	entries := make([]wire.ObjectEntry, 0, len(ids))
	if len(ids) == 1 {
		var oneElemSlice []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &oneElemSlice); err != nil {
			return nil, fmt.Errorf("repository: decode single-path JSON.GET: %w", err)
		}
		if len(oneElemSlice) == 0 {
			return nil, nil
		}
		parsed, err := uuid.Parse(ids[0])
		if err != nil {
			return nil, fmt.Errorf("repository: bad object id %q: %w", ids[0], err)
		}
		entries = append(entries, wire.ObjectEntry{ID: parsed, Object: oneElemSlice[0]})
		return entries, nil
	}

	var multi map[string][]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &multi); err != nil {
		return nil, fmt.Errorf("repository: decode multi-path JSON.GET: %w", err)
	}
	for _, id := range ids {
		values, ok := multi[fmt.Sprintf("$.%s", id)]
		if !ok || len(values) == 0 {
			continue
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("repository: bad object id %q: %w", id, err)
		}
		entries = append(entries, wire.ObjectEntry{ID: parsed, Object: values[0]})
	}
	return entries, nil
}

// ApplyChanges folds a batch of changes into board's checkpointed object
// document and advances its version, all atomically (spec.md §4.5): the
// classic checkpoint transaction. nextVersion is the id of the last entry
// being folded in, and becomes the new XTRIM floor and version value.
func (r *Repository) ApplyChanges(ctx context.Context, board uuid.UUID, changes []change.Change, nextVersion string) error {
	objectsKey := boardObjectsKey(board)
	changesKey := boardChangesKey(board)
	versionKey := boardVersionKey(board)

	return r.retry(func() error {
		return r.store.RunAtomic(ctx, func(tx store.Tx) error {
			tx.JSONSetRootIfAbsent(objectsKey)
			for _, c := range changes {
				switch c.Type {
				case change.KindInsert:
					tx.JSONSet(objectsKey, fmt.Sprintf("$.%s", c.ID), string(c.Object))
				case change.KindUpdate:
					tx.JSONSet(objectsKey, fmt.Sprintf("$.%s.%s", c.ID, c.Key), string(c.Value))
				case change.KindDelete:
					tx.JSONDel(objectsKey, fmt.Sprintf("$.%s", c.ID))
				}
			}
			tx.Set(versionKey, nextVersion)
			// MINID keeps entries with id >= nextVersion, so the entry at
			// nextVersion itself stays in the log as a marker.
			tx.XTrimMinID(changesKey, nextVersion)
			return nil
		})
	})
}

// PublishPresence publishes msg on board's presence channel, to be fanned
// out to every other session's Presence worker via the shared
// subscription (spec.md §4.1 "publish_presence_message_for_board").
func (r *Repository) PublishPresence(ctx context.Context, board uuid.UUID, sourceSession uuid.UUID, event wire.ServerMessage) error {
	msg := wire.PresenceMessage{SourceSession: sourceSession, ServerEvent: event}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("repository: marshal presence message: %w", err)
	}
	return r.retry(func() error {
		return r.store.Publish(ctx, boardPresenceKey(board), string(payload))
	})
}

// SubscribePresence returns a receiver of every presence message published
// for board. The returned receiver must be Close()d when no longer needed.
func (r *Repository) SubscribePresence(board uuid.UUID) *PresenceReceiver {
	return &PresenceReceiver{board: board, bus: r.bus, ch: r.bus.subscribe()}
}

// Close releases the Repository's underlying Store.
func (r *Repository) Close() error {
	return r.store.Close()
}
