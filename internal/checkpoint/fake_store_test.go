package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lukewestby/redboard/internal/store"
)

// fakeStore is a minimal in-process store.Store, duplicated here (rather
// than imported from internal/repository's own test-only fake, which test
// files cannot export across packages) so Checkpointer/SessionChecker can
// be exercised without a live Redis/JSON/Streams server.
type fakeStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	strings map[string]string
	objects map[string]map[string]json.RawMessage
	streams map[string][]store.StreamEntry
	seq     int64
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	return &fakeStore{
		hashes:  make(map[string]map[string]string),
		strings: make(map[string]string),
		objects: make(map[string]map[string]json.RawMessage),
		streams: make(map[string][]store.StreamEntry),
	}
}

func (f *fakeStore) nextID() string {
	f.seq++
	return fmt.Sprintf("%d-0", f.seq)
}

func (f *fakeStore) HSet(ctx context.Context, key, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	f.hashes[key][field] = value
	return nil
}

func (f *fakeStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) HDel(ctx context.Context, key, field string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hashes[key], field)
	return nil
}

func (f *fakeStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[key] = value
	return nil
}

func (f *fakeStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.strings[key]
	return v, ok, nil
}

func (f *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.strings[key]
	return ok, nil
}

func (f *fakeStore) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.strings, key)
	return nil
}

type fakeKeyIterator struct {
	keys []string
	i    int
}

func (it *fakeKeyIterator) Next(ctx context.Context) (string, bool, error) {
	if it.i >= len(it.keys) {
		return "", false, nil
	}
	k := it.keys[it.i]
	it.i++
	return k, true, nil
}

func (f *fakeStore) ScanMatch(ctx context.Context, pattern string) store.KeyIterator {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix, suffix, _ := strings.Cut(pattern, "*")
	var keys []string
	for k := range f.streams {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return &fakeKeyIterator{keys: keys}
}

func (f *fakeStore) Publish(ctx context.Context, channel, payload string) error {
	return nil
}

type fakePresenceSub struct {
	ch     chan [2]string
	closed chan struct{}
}

func (s *fakePresenceSub) Next(ctx context.Context) (string, string, error) {
	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	case <-s.closed:
		return "", "", fmt.Errorf("fake: subscription closed")
	case msg := <-s.ch:
		return msg[0], msg[1], nil
	}
}

func (s *fakePresenceSub) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

func (f *fakeStore) PSubscribe(ctx context.Context, pattern string) (store.PresenceSubscription, error) {
	return &fakePresenceSub{ch: make(chan [2]string, 1), closed: make(chan struct{})}, nil
}

func (f *fakeStore) JSONObjKeys(ctx context.Context, key, path string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeStore) JSONGet(ctx context.Context, key string, paths []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return "", nil
	}
	if len(paths) == 1 {
		id := strings.TrimPrefix(paths[0], "$.")
		v, ok := obj[id]
		if !ok {
			return "", nil
		}
		out, err := json.Marshal([]json.RawMessage{v})
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	multi := make(map[string][]json.RawMessage, len(paths))
	for _, p := range paths {
		id := strings.TrimPrefix(p, "$.")
		if v, ok := obj[id]; ok {
			multi[p] = []json.RawMessage{v}
		}
	}
	out, err := json.Marshal(multi)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (f *fakeStore) XAdd(ctx context.Context, key string, fields map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID()
	frozen := make(map[string]string, len(fields))
	for k, v := range fields {
		frozen[k] = v
	}
	f.streams[key] = append(f.streams[key], store.StreamEntry{ID: id, Fields: frozen})
	return id, nil
}

func compareStreamID(a, b string) int {
	aMillis, aSeq := splitStreamID(a)
	bMillis, bSeq := splitStreamID(b)
	if aMillis != bMillis {
		if aMillis < bMillis {
			return -1
		}
		return 1
	}
	switch {
	case aSeq < bSeq:
		return -1
	case aSeq > bSeq:
		return 1
	default:
		return 0
	}
}

func splitStreamID(id string) (int64, int64) {
	parts := strings.SplitN(id, "-", 2)
	millis, _ := strconv.ParseInt(parts[0], 10, 64)
	var seq int64
	if len(parts) > 1 {
		seq, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return millis, seq
}

func entryGreaterThan(id, since string) bool {
	if since == "0" || since == "" {
		return true
	}
	return compareStreamID(id, since) > 0
}

func (f *fakeStore) XReadBlocking(ctx context.Context, key, since string, count int64, block time.Duration) ([]store.StreamEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []store.StreamEntry
	for _, e := range f.streams[key] {
		if entryGreaterThan(e.ID, since) {
			matched = append(matched, e)
		}
		if int64(len(matched)) >= count {
			break
		}
	}
	return matched, nil
}

type fakeTx struct {
	f   *fakeStore
	ops []func()
}

func (t *fakeTx) JSONSetRootIfAbsent(key string) {
	t.ops = append(t.ops, func() {
		if t.f.objects[key] == nil {
			t.f.objects[key] = make(map[string]json.RawMessage)
		}
	})
}

func splitObjectPath(path string) (id, field string, nested bool) {
	trimmed := strings.TrimPrefix(path, "$.")
	parts := strings.SplitN(trimmed, ".", 2)
	if len(parts) == 1 {
		return parts[0], "", false
	}
	return parts[0], parts[1], true
}

func (t *fakeTx) JSONSet(key, path, value string) {
	t.ops = append(t.ops, func() {
		id, field, nested := splitObjectPath(path)
		if t.f.objects[key] == nil {
			t.f.objects[key] = make(map[string]json.RawMessage)
		}
		if !nested {
			t.f.objects[key][id] = json.RawMessage(value)
			return
		}
		existing := map[string]json.RawMessage{}
		if raw, ok := t.f.objects[key][id]; ok {
			json.Unmarshal(raw, &existing)
		}
		existing[field] = json.RawMessage(value)
		merged, _ := json.Marshal(existing)
		t.f.objects[key][id] = merged
	})
}

func (t *fakeTx) JSONDel(key, path string) {
	t.ops = append(t.ops, func() {
		id, _, _ := splitObjectPath(path)
		delete(t.f.objects[key], id)
	})
}

func (t *fakeTx) Set(key, value string) {
	t.ops = append(t.ops, func() {
		t.f.strings[key] = value
	})
}

func (t *fakeTx) XTrimMinID(key, minID string) {
	t.ops = append(t.ops, func() {
		var kept []store.StreamEntry
		for _, e := range t.f.streams[key] {
			if compareStreamID(e.ID, minID) >= 0 {
				kept = append(kept, e)
			}
		}
		t.f.streams[key] = kept
	})
}

func (f *fakeStore) RunAtomic(ctx context.Context, fn func(tx store.Tx) error) error {
	tx := &fakeTx{f: f}
	if err := fn(tx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range tx.ops {
		op()
	}
	return nil
}

func (f *fakeStore) Close() error { return nil }

// expireLiveness simulates a session's liveness key lapsing without a
// client-initiated close, by deleting the key directly (fakeStore does not
// model real TTL expiry).
func expireLiveness(t *testing.T, f *fakeStore, sessionID fmt.Stringer) {
	t.Helper()
	require := func(err error) {
		if err != nil {
			t.Fatalf("expireLiveness: %v", err)
		}
	}
	require(f.Del(context.Background(), fmt.Sprintf("session/%s/checkin", sessionID)))
}
