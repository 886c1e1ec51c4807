package reader_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/datavision/des/cache"
	"github.com/datavision/des/container"
	"github.com/datavision/des/reader"
)

// memRR is the same in-memory RangeReader helper used by the container
// package tests, duplicated here to keep packages independently testable.
type memRR struct{ buf []byte }

func (m *memRR) Size(context.Context) (int64, error) { return int64(len(m.buf)), nil }
func (m *memRR) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	return m.buf[offset : offset+length], nil
}

type fakeExt struct{ files map[string][]byte }

func (f fakeExt) FetchExternal(_ context.Context, name string) ([]byte, error) {
	if b, ok := f.files[name]; ok {
		return b, nil
	}
	return nil, container.NewTooSmallErr(0) // any error is fine for these tests
}

func buildContainer(t *testing.T, files map[string]string, metas map[string]string, external map[string]bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := container.NewEncoder(&buf)
	if err != nil {
		t.Fatal(err)
	}
	for name, data := range files {
		if external[name] {
			continue
		}
		off, err := enc.WriteData([]byte(data))
		if err != nil {
			t.Fatal(err)
		}
		var metaOff, metaLen uint64
		if m, ok := metas[name]; ok {
			metaOff, metaLen = enc.AppendMeta([]byte(m))
		}
		enc.AddEntry(container.IndexEntry{
			Name:       name,
			DataOffset: off,
			DataLength: uint64(len(data)),
			MetaOffset: metaOff,
			MetaLength: metaLen,
		})
	}
	for name := range external {
		var metaOff, metaLen uint64
		if m, ok := metas[name]; ok {
			metaOff, metaLen = enc.AppendMeta([]byte(m))
		}
		enc.AddEntry(container.IndexEntry{
			Name:       name,
			Flags:      container.FlagExternal,
			DataLength: uint64(len(files[name])),
			MetaOffset: metaOff,
			MetaLength: metaLen,
		})
	}
	if _, err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReaderGetFileAndMeta(t *testing.T) {
	raw := buildContainer(t,
		map[string]string{"a.txt": "hello world", "b.txt": "goodbye"},
		map[string]string{"a.txt": `{"k":"v"}`},
		nil,
	)
	rr := &memRR{buf: raw}
	ctx := context.Background()
	r, err := reader.Open(ctx, rr, "test-key", cache.NewMemory(10, 0), nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := r.GetFile(ctx, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}

	meta, err := r.GetMeta(ctx, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if meta["k"] != "v" {
		t.Fatalf("meta mismatch: %#v", meta)
	}

	if _, err := r.GetFile(ctx, "missing"); err == nil {
		t.Fatal("expected not-found error")
	}

	ok, err := r.Contains(ctx, "b.txt")
	if err != nil || !ok {
		t.Fatalf("expected b.txt present, err=%v ok=%v", err, ok)
	}

	names, err := r.ListFiles(ctx)
	if err != nil || len(names) != 2 {
		t.Fatalf("expected 2 names, got %v err=%v", names, err)
	}
}

func TestReaderExternalFile(t *testing.T) {
	raw := buildContainer(t,
		map[string]string{"big.bin": "payload-bytes-that-live-elsewhere"},
		nil,
		map[string]bool{"big.bin": true},
	)
	rr := &memRR{buf: raw}
	ctx := context.Background()
	ext := fakeExt{files: map[string][]byte{"big.bin": []byte("payload-bytes-that-live-elsewhere")}}
	r, err := reader.Open(ctx, rr, "k2", cache.Null{}, ext)
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.GetFile(ctx, "big.bin")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload-bytes-that-live-elsewhere" {
		t.Fatalf("got %q", got)
	}
}

func TestReaderStats(t *testing.T) {
	raw := buildContainer(t,
		map[string]string{"a": "12345", "b": "big-payload-elsewhere"},
		nil,
		map[string]bool{"b": true},
	)
	rr := &memRR{buf: raw}
	ctx := context.Background()
	r, err := reader.Open(ctx, rr, "k3", cache.Null{}, fakeExt{files: map[string][]byte{"b": []byte("big-payload-elsewhere")}})
	if err != nil {
		t.Fatal(err)
	}
	s, err := r.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalFiles != 2 || s.InternalFiles != 1 || s.ExternalFiles != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

// Batch coalescing: three adjacent internal files (gap 0) come back
// with their own payloads from one batch call, and a name that is not
// in the index is left out of the result.
func TestReaderGetFilesBatchCoalescing(t *testing.T) {
	raw := buildContainer(t,
		map[string]string{
			"f1": "aaaa",
			"f2": "bbbb",
			"f3": "cccc",
		},
		nil,
		nil,
	)
	rr := &memRR{buf: raw}
	ctx := context.Background()
	r, err := reader.Open(ctx, rr, "k4", cache.Null{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	out, err := r.GetFilesBatch(ctx, []string{"f1", "f2", "f3", "missing"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	if string(out["f1"]) != "aaaa" || string(out["f2"]) != "bbbb" || string(out["f3"]) != "cccc" {
		t.Fatalf("batch result mismatch: %#v", out)
	}
}

func TestReaderIndexCachedAcrossOpens(t *testing.T) {
	raw := buildContainer(t, map[string]string{"only": "x"}, nil, nil)
	mem := cache.NewMemory(10, 0)
	ctx := context.Background()

	r1, err := reader.Open(ctx, &memRR{buf: raw}, "shared-key", mem, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r1.ListFiles(ctx); err != nil {
		t.Fatal(err)
	}

	if _, ok := mem.Get("shared-key"); !ok {
		t.Fatal("expected index to be cached after first ListFiles")
	}

	// A second reader under the same cache key, opened over a different
	// (valid) container, lists the cached index rather than its own.
	other := buildContainer(t, map[string]string{"other": "y"}, nil, nil)
	r2, err := reader.Open(ctx, &memRR{buf: other}, "shared-key", mem, nil)
	if err != nil {
		t.Fatal(err)
	}
	names, err := r2.ListFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "only" {
		t.Fatalf("expected cached index [only] on second open, got %v", names)
	}
}
