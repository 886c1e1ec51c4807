package cache_test

import (
	"testing"
	"time"

	"github.com/datavision/des/cache"
	"github.com/datavision/des/container"
)

func sampleEntries() []container.IndexEntry {
	return []container.IndexEntry{{Name: "a", DataOffset: 16, DataLength: 5, MetaOffset: 21, MetaLength: 2}}
}

func TestMemoryGetSetDelete(t *testing.T) {
	m := cache.NewMemory(4, time.Minute)
	if _, ok := m.Get("k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	m.Set("k", sampleEntries(), 0)
	got, ok := m.Get("k")
	if !ok || len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("unexpected get result: %v %v", got, ok)
	}
	m.Delete("k")
	if _, ok := m.Get("k"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := cache.NewMemory(4, time.Millisecond)
	m.Set("k", sampleEntries(), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := m.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestMemoryLRUEviction(t *testing.T) {
	// A budget of 16 over 16 stripes leaves one slot per stripe; which
	// keys survive depends on striping, but at most 16 of the 1000
	// distinct keys can still be cached, and the last one set is.
	m := cache.NewMemory(16, time.Minute)
	keys := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		k := string(rune('a'+i%26)) + string(rune(i))
		keys = append(keys, k)
		m.Set(k, sampleEntries(), 0)
	}
	present := 0
	for _, k := range keys {
		if _, ok := m.Get(k); ok {
			present++
		}
	}
	if present > 16 {
		t.Fatalf("expected at most 16 cached keys, got %d", present)
	}
	if _, ok := m.Get(keys[len(keys)-1]); !ok {
		t.Fatal("expected the most recently set key to be cached")
	}
}

func TestNullAlwaysMisses(t *testing.T) {
	var n cache.Null
	n.Set("k", sampleEntries(), 0)
	if _, ok := n.Get("k"); ok {
		t.Fatal("null cache must always miss")
	}
}

func TestRemoteRoundTripViaBunt(t *testing.T) {
	kv, err := cache.OpenBuntKV(":memory:")
	if err != nil {
		t.Fatalf("open buntdb: %v", err)
	}
	defer kv.Close()

	r := cache.NewRemote(kv, time.Minute)
	r.Set("k", sampleEntries(), 0)
	got, ok := r.Get("k")
	if !ok || len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("unexpected remote get result: %v %v", got, ok)
	}
	r.Delete("k")
	if _, ok := r.Get("k"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestRemoteDegradesOnDecodeError(t *testing.T) {
	kv, err := cache.OpenBuntKV(":memory:")
	if err != nil {
		t.Fatalf("open buntdb: %v", err)
	}
	defer kv.Close()
	_ = kv.Set("corrupt", []byte("not msgpack"), 0)

	r := cache.NewRemote(kv, time.Minute)
	if _, ok := r.Get("corrupt"); ok {
		t.Fatal("expected miss on decode error, not a panic/propagated error")
	}
}

func TestCacheKeys(t *testing.T) {
	if cache.LocalKey("/a/b.des", 10, 20, 1) == "" {
		t.Fatal("local key must not be empty")
	}
	if cache.S3Key("bucket", "key", "etag", 1) == "" {
		t.Fatal("s3 key must not be empty")
	}
}
