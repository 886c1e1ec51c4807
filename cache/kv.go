package cache

import (
	"time"

	"github.com/datavision/des/cmn/nlog"
	"github.com/datavision/des/container"
)

// KVStore is the minimal capability a network (or embedded) key-value
// store must offer for the remote cache backend.
type KVStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

// Remote is the §4.B "remote KV" backend: entries serialised as a
// compact msgp record with optional per-record TTL. On decode error it
// deletes the key and reports a miss rather than raising to the
// caller.
type Remote struct {
	store      KVStore
	defaultTTL time.Duration
}

func NewRemote(store KVStore, defaultTTL time.Duration) *Remote {
	return &Remote{store: store, defaultTTL: defaultTTL}
}

func (r *Remote) Get(key string) ([]container.IndexEntry, bool) {
	raw, ok, err := r.store.Get(key)
	if err != nil || !ok {
		return nil, false
	}
	rec, err := unmarshalRecord(raw)
	if err != nil {
		nlog.Warningf("cache decode error, evicting: %s", nlog.Fields("key", key, "err", err))
		_ = r.store.Delete(key)
		return nil, false
	}
	return rec.Entries, true
}

func (r *Remote) Set(key string, entries []container.IndexEntry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	rec := &record{Entries: entries}
	if err := r.store.Set(key, rec.MarshalMsg(), ttl); err != nil {
		nlog.Warningf("cache set failed: %s", nlog.Fields("key", key, "err", err))
	}
}

func (r *Remote) Delete(key string) {
	_ = r.store.Delete(key)
}

func (r *Remote) Clear() {
	// KVStore does not expose enumeration; remote backends are shared
	// and "clear everything" is rarely desired. No-op by design.
}
