// Package store defines the abstract backing Store the core is specified
// against (spec.md §6.3) and a Redis-compatible implementation of it. Any
// substrate offering the same capabilities — hashes, TTL'd strings,
// key-pattern scanning, pub/sub with pattern subscribe, a JSON document
// type with JSONPath operations, and a trimmable append-only log with
// blocking reads — can implement this interface.
package store

import (
	"context"
	"time"
)

// StreamEntry is one change-log entry as read back from the Store: an
// opaque, ordered entry-id plus its field map (spec.md §3 "Change-log
// entry").
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// KeyIterator is a lazy, finite, non-restartable sequence of keys, used for
// SCAN-based enumeration (spec.md §9 "Lazy sequences").
type KeyIterator interface {
	// Next advances the iterator and reports whether a key is available.
	Next(ctx context.Context) (string, bool, error)
}

// PresenceSubscription is a live pattern subscription to presence channels.
type PresenceSubscription interface {
	// Next blocks for the next published message, returning its channel
	// name and payload.
	Next(ctx context.Context) (channel string, payload string, err error)
	Close() error
}

// Tx collects JSON-document and version/trim operations for one atomic
// checkpoint transaction (spec.md §4.5). Every queued operation is applied
// all-or-nothing when the enclosing RunAtomic call returns nil.
type Tx interface {
	// JSONSetRootIfAbsent ensures an empty JSON object exists at key's
	// root, without overwriting an existing value.
	JSONSetRootIfAbsent(key string)
	// JSONSet sets the value at the given JSONPath to the raw JSON value.
	JSONSet(key, path, value string)
	// JSONDel deletes the given JSONPath.
	JSONDel(key, path string)
	// Set sets a plain string key (used for the version key).
	Set(key, value string)
	// XTrimMinID trims a stream so only entries with id >= minID survive.
	XTrimMinID(key, minID string)
}

// Store is the abstract backing substrate the core is specified against.
type Store interface {
	// HSet sets one field of a hash.
	HSet(ctx context.Context, key, field, value string) error
	// HGetAll returns every field/value pair of a hash.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HDel removes one field of a hash.
	HDel(ctx context.Context, key, field string) error

	// SetEx sets a string key with a TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// Get reads a plain string key, reporting (value, false, nil) if absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Exists reports whether a key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Del removes a key unconditionally.
	Del(ctx context.Context, key string) error

	// ScanMatch returns a lazy iterator over keys matching a glob pattern.
	ScanMatch(ctx context.Context, pattern string) KeyIterator

	// Publish publishes a payload to a channel.
	Publish(ctx context.Context, channel, payload string) error
	// PSubscribe opens a dedicated connection pattern-subscribed to the
	// given glob. The subscription owns its own connection, outside the
	// shared pool (spec.md §6.3 "single dedicated connections outside the
	// pool").
	PSubscribe(ctx context.Context, pattern string) (PresenceSubscription, error)

	// JSONObjKeys lists the top-level keys of the JSON object at path.
	// Returns (nil, nil) if the key does not exist.
	JSONObjKeys(ctx context.Context, key, path string) ([]string, error)
	// JSONGet issues a multi-path JSON.GET for the given JSONPaths,
	// returning the raw response body (shape depends on len(paths), see
	// spec.md §4.6). Returns ("", nil) if the key does not exist.
	JSONGet(ctx context.Context, key string, paths []string) (string, error)

	// XAdd appends one entry to a stream, letting the Store assign the
	// entry-id, and returns the assigned id.
	XAdd(ctx context.Context, key string, fields map[string]string) (string, error)
	// XReadBlocking performs a blocking read of up to count entries with
	// id strictly greater than since, blocking up to block for data to
	// arrive. An empty result is not an error.
	XReadBlocking(ctx context.Context, key, since string, count int64, block time.Duration) ([]StreamEntry, error)

	// RunAtomic executes fn against a fresh Tx and applies every queued
	// operation as one all-or-nothing transaction.
	RunAtomic(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any resources held by the Store (connection pool,
	// dedicated connections).
	Close() error
}
