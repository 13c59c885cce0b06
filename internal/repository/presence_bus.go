package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lukewestby/redboard/internal/config"
	"github.com/lukewestby/redboard/internal/logging"
	"github.com/lukewestby/redboard/internal/wire"
)

// boardMessage pairs a presence message with the board it was published on.
type boardMessage struct {
	board   uuid.UUID
	message wire.PresenceMessage
}

// presenceBus is the in-process many-producer/many-consumer broadcast bus
// of spec.md §4.1: bounded per-subscriber capacity, drop-oldest under
// consumer lag, best-effort by design.
type presenceBus struct {
	mu          sync.Mutex
	subscribers map[chan boardMessage]struct{}
	closed      bool
}

func newPresenceBus() *presenceBus {
	return &presenceBus{subscribers: make(map[chan boardMessage]struct{})}
}

// subscribe returns a new receiver channel. Callers must call unsubscribe
// when done to release it.
func (b *presenceBus) subscribe() chan boardMessage {
	ch := make(chan boardMessage, config.PresenceBusCapacity)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[ch] = struct{}{}
	return ch
}

func (b *presenceBus) unsubscribe(ch chan boardMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// publish fans msg out to every subscriber. A subscriber whose buffer is
// full has its oldest pending message dropped to make room — "drop-oldest
// on consumer lag" (spec.md §5).
func (b *presenceBus) publish(msg boardMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

func (b *presenceBus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// PresenceReceiver is returned by Repository.SubscribePresence. It yields
// messages for exactly one board, silently skipping everything else
// fanned out on the shared bus.
type PresenceReceiver struct {
	board uuid.UUID
	bus   *presenceBus
	ch    chan boardMessage
}

// Next blocks until the next presence message for this board arrives, the
// context is cancelled, or the bus is closed (io.EOF-shaped via ok=false).
func (r *PresenceReceiver) Next(ctx context.Context) (wire.PresenceMessage, bool) {
	for {
		select {
		case <-ctx.Done():
			return wire.PresenceMessage{}, false
		case msg, ok := <-r.ch:
			if !ok {
				return wire.PresenceMessage{}, false
			}
			if msg.board == r.board {
				return msg.message, true
			}
		}
	}
}

// Close releases the receiver's slot on the shared bus.
func (r *PresenceReceiver) Close() {
	r.bus.unsubscribe(r.ch)
}

// runPresenceFanIn holds the single dedicated pattern subscription to
// board/*/presence and forwards every message onto the in-process bus. It
// is the singleton task of spec.md §4.1: "N sessions on one process share
// 1 subscribing connection." Call loops forever until ctx is cancelled,
// swallowing per-iteration errors the way Checkpointer/SessionChecker do
// (spec.md §9 "fault-isolated worker loops").
func (r *Repository) runPresenceFanIn(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := r.presenceFanInOnce(ctx); err != nil && ctx.Err() == nil {
			logging.Log.WithError(err).Warn("presence fan-in subscription failed, retrying")
		}
	}
}

func (r *Repository) presenceFanInOnce(ctx context.Context) error {
	sub, err := r.store.PSubscribe(ctx, presencePattern)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		channel, payload, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		board, err := parseBoardID(channel)
		if err != nil {
			logging.Log.WithField("channel", channel).Debug("presence fan-in: unparseable channel")
			continue
		}
		var msg wire.PresenceMessage
		if err := msg.UnmarshalJSON([]byte(payload)); err != nil {
			logging.Log.WithError(err).Debug("presence fan-in: dropped malformed payload")
			continue
		}
		r.bus.publish(boardMessage{board: board, message: msg})
	}
}
