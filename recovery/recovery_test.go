package recovery_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/datavision/des/container"
	"github.com/datavision/des/objstore"
	"github.com/datavision/des/recovery"
	"github.com/datavision/des/store"
)

type fakeObj struct {
	objects map[string][]byte
}

func (f *fakeObj) Head(_ context.Context, _, key string) (int64, string, bool, error) {
	b, ok := f.objects[key]
	if !ok {
		return 0, "", false, nil
	}
	return int64(len(b)), "etag", true, nil
}

func (f *fakeObj) GetRange(_ context.Context, _, key string, offset, length int64) ([]byte, error) {
	b := f.objects[key]
	return b[offset : offset+length], nil
}

func (f *fakeObj) Delete(_ context.Context, _, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeObj) List(_ context.Context, _, _, _ string) (objstore.ListResult, error) {
	var keys []string
	for k := range f.objects {
		keys = append(keys, k)
	}
	return objstore.ListResult{Keys: keys}, nil
}

type fakeStore struct {
	staleClaimsReset int64
	writing          []store.Container
	failed           []int64
	finalized        []int64
	expiredLocks     int64
	all              []store.Container
	fixedCounts      map[int64]uint64
}

func (f *fakeStore) ResetStaleClaims(context.Context, time.Duration) (int64, error) {
	return f.staleClaimsReset, nil
}
func (f *fakeStore) StaleWriting(context.Context, time.Duration) ([]store.Container, error) {
	return f.writing, nil
}
func (f *fakeStore) MarkFailed(_ context.Context, id int64) error {
	f.failed = append(f.failed, id)
	return nil
}
func (f *fakeStore) FinalizeUploaded(_ context.Context, id int64, _, _ uint64) error {
	f.finalized = append(f.finalized, id)
	return nil
}
func (f *fakeStore) DeleteExpiredLocks(context.Context) (int64, error) { return f.expiredLocks, nil }
func (f *fakeStore) AllContainers(context.Context) ([]store.Container, error) { return f.all, nil }
func (f *fakeStore) FixFileCount(_ context.Context, id int64, count uint64) error {
	if f.fixedCounts == nil {
		f.fixedCounts = map[int64]uint64{}
	}
	f.fixedCounts[id] = count
	return nil
}

func buildValidContainer(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := container.NewEncoder(&buf)
	if err != nil {
		t.Fatal(err)
	}
	off, err := enc.WriteData([]byte("hi"))
	if err != nil {
		t.Fatal(err)
	}
	enc.AddEntry(container.IndexEntry{Name: "a", DataOffset: off, DataLength: 2})
	if _, err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSweepPartialContainersMarksMissingAsFailed(t *testing.T) {
	obj := &fakeObj{objects: map[string][]byte{}}
	st := &fakeStore{writing: []store.Container{{ID: 1, Key: "missing.des"}}}
	m := recovery.NewManager(st, obj, recovery.Config{Bucket: "b", Grace: time.Minute, ClaimTimeout: time.Minute})

	report, err := m.RunAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.ContainersFailed != 1 {
		t.Fatalf("expected 1 failed container, got %d", report.ContainersFailed)
	}
	if len(st.failed) != 1 || st.failed[0] != 1 {
		t.Fatalf("expected container 1 marked failed, got %v", st.failed)
	}
}

func TestSweepPartialContainersFinalizesValidObject(t *testing.T) {
	raw := buildValidContainer(t)
	obj := &fakeObj{objects: map[string][]byte{"ok.des": raw}}
	st := &fakeStore{writing: []store.Container{{ID: 2, Key: "ok.des"}}}
	m := recovery.NewManager(st, obj, recovery.Config{Bucket: "b", Grace: time.Minute, ClaimTimeout: time.Minute})

	report, err := m.RunAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.ContainersFixed != 1 {
		t.Fatalf("expected 1 fixed container, got %d", report.ContainersFixed)
	}
	if len(st.finalized) != 1 || st.finalized[0] != 2 {
		t.Fatalf("expected container 2 finalized, got %v", st.finalized)
	}
}

func TestSweepIntegrityFixesDriftedFileCount(t *testing.T) {
	raw := buildValidContainer(t)
	obj := &fakeObj{objects: map[string][]byte{"ok.des": raw}}
	st := &fakeStore{all: []store.Container{{ID: 3, Key: "ok.des", FileCount: 99}}}
	m := recovery.NewManager(st, obj, recovery.Config{Bucket: "b", Grace: time.Minute, ClaimTimeout: time.Minute})

	report, err := m.RunAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.IntegrityFixed != 1 {
		t.Fatalf("expected 1 integrity fix, got %d", report.IntegrityFixed)
	}
	if st.fixedCounts[3] != 1 {
		t.Fatalf("expected file_count fixed to 1, got %d", st.fixedCounts[3])
	}
}

func TestSweepIntegrityFindsOrphans(t *testing.T) {
	raw := buildValidContainer(t)
	obj := &fakeObj{objects: map[string][]byte{"known.des": raw, "orphan.des": raw}}
	st := &fakeStore{all: []store.Container{{ID: 4, Key: "known.des", FileCount: 1}}}
	m := recovery.NewManager(st, obj, recovery.Config{Bucket: "b", Grace: time.Minute, ClaimTimeout: time.Minute})

	report, err := m.RunAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.OrphansFound != 1 {
		t.Fatalf("expected 1 orphan, got %d", report.OrphansFound)
	}
}

func TestRunAllIsIdempotentOnRepeat(t *testing.T) {
	raw := buildValidContainer(t)
	obj := &fakeObj{objects: map[string][]byte{"ok.des": raw}}
	st := &fakeStore{all: []store.Container{{ID: 5, Key: "ok.des", FileCount: 1}}}
	m := recovery.NewManager(st, obj, recovery.Config{Bucket: "b", Grace: time.Minute, ClaimTimeout: time.Minute})

	if _, err := m.RunAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	report2, err := m.RunAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report2.IntegrityFixed != 0 || report2.OrphansFound != 0 {
		t.Fatalf("second run should be a no-op, got %+v", report2)
	}
}
