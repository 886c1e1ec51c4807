package packer_test

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/datavision/des/lock"
	"github.com/datavision/des/packer"
)

type fakeLockStore struct{}

func (fakeLockStore) TryAcquire(context.Context, uint32, string, time.Duration) (bool, error) {
	return true, nil
}
func (fakeLockStore) Renew(context.Context, uint32, string, time.Duration) (bool, error) {
	return true, nil
}
func (fakeLockStore) Release(context.Context, uint32, string) error { return nil }

type fakeCStore struct {
	nextID       int64
	checkpoints  int
	finalized    bool
	finalFiles   uint64
	finalBytes   uint64
}

func (f *fakeCStore) CreateContainer(context.Context, uint32, time.Time, string) (int64, error) {
	f.nextID++
	return f.nextID, nil
}
func (f *fakeCStore) Checkpoint(context.Context, int64, uint64, uint64) error {
	f.checkpoints++
	return nil
}
func (f *fakeCStore) FinalizeUploaded(_ context.Context, _ int64, files, bytes uint64) error {
	f.finalized = true
	f.finalFiles = files
	f.finalBytes = bytes
	return nil
}

type fakeProvider struct {
	pending []packer.SourceFile
	packed  []int64
	failed  []int64
}

func (f *fakeProvider) GetPendingFiles(context.Context, uint32, int) ([]packer.SourceFile, error) {
	out := f.pending
	f.pending = nil
	return out, nil
}
func (f *fakeProvider) MarkFilesPacked(_ context.Context, ids []int64, _ []string, _ int64) error {
	f.packed = append(f.packed, ids...)
	return nil
}
func (f *fakeProvider) MarkFilesFailed(_ context.Context, ids []int64, _ error) error {
	f.failed = append(f.failed, ids...)
	return nil
}

type fakeUploader struct {
	uploadedKey string
	uploadedLen int
	puts        map[string][]byte
}

func (u *fakeUploader) UploadFile(_ context.Context, _, key string, r io.Reader) error {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	u.uploadedKey = key
	u.uploadedLen = len(b)
	return nil
}

func (u *fakeUploader) PutBytes(_ context.Context, _, key string, data []byte) error {
	if u.puts == nil {
		u.puts = make(map[string][]byte)
	}
	u.puts[key] = append([]byte(nil), data...)
	return nil
}

func TestPackerHappyPath(t *testing.T) {
	dir := t.TempDir()
	cstore := &fakeCStore{}
	provider := &fakeProvider{pending: []packer.SourceFile{
		{ID: 1, Name: "DES_20250101_(0123456789AB_7F)", Bytes: []byte("payload-one")},
		{ID: 2, Name: "DES_20250101_(0123456789AC_80)", Bytes: []byte("payload-two")},
	}}
	uploader := &fakeUploader{}
	locks := lock.NewService(fakeLockStore{}, "packer-1", 10*time.Second)

	cfg := packer.Config{
		WorkDir: dir, DestBucket: "bkt", DestPrefix: "archive", ShardBits: 8,
		BatchSize: 10, LockTTL: 10 * time.Second, CheckpointEveryFiles: 1,
		BigFileThreshold: 1 << 20, LoopSleep: time.Millisecond, MaxUploadRetries: 3,
	}
	p := packer.New([]uint32{1}, cfg, locks, cstore, provider, uploader, "packer-1")

	p.RunPass(context.Background())

	if len(provider.packed) != 2 {
		t.Fatalf("expected 2 files marked packed, got %v", provider.packed)
	}
	if cstore.checkpoints == 0 {
		t.Fatal("expected at least one checkpoint")
	}

	p.Shutdown(context.Background())
	if !cstore.finalized {
		t.Fatal("expected shutdown to finalize the open writer")
	}
	if cstore.finalFiles != 2 {
		t.Fatalf("expected final file count 2, got %d", cstore.finalFiles)
	}
	if uploader.uploadedKey == "" {
		t.Fatal("expected the finalized container to be uploaded")
	}
	if _, err := os.Stat(uploader.uploadedKey); err == nil {
		t.Fatal("uploadedKey should be a remote key, not a local path")
	}
}

func TestPackerExternalizesBigFiles(t *testing.T) {
	dir := t.TempDir()
	cstore := &fakeCStore{}
	big := make([]byte, 32)
	provider := &fakeProvider{pending: []packer.SourceFile{
		{ID: 1, Name: "DES_20250101_(0123456789AB_7F)", Bytes: big},
	}}
	uploader := &fakeUploader{}
	locks := lock.NewService(fakeLockStore{}, "packer-3", 10*time.Second)

	cfg := packer.Config{
		WorkDir: dir, DestBucket: "bkt", DestPrefix: "archive", ShardBits: 8,
		BatchSize: 10, LockTTL: 10 * time.Second, CheckpointEveryFiles: 1,
		BigFileThreshold: 16, LoopSleep: time.Millisecond, MaxUploadRetries: 3,
	}
	p := packer.New([]uint32{1}, cfg, locks, cstore, provider, uploader, "packer-3")

	p.RunPass(context.Background())

	if len(uploader.puts) != 1 {
		t.Fatalf("expected one externalised side-object PUT, got %d", len(uploader.puts))
	}
	for key, data := range uploader.puts {
		if len(data) != len(big) {
			t.Fatalf("externalised payload size mismatch for %s: got %d want %d", key, len(data), len(big))
		}
		wantKey := "archive/2" // loose prefix check: archive/<today>/_bigFiles/<name>
		if len(key) < len(wantKey) || key[:len(wantKey)] != wantKey {
			t.Fatalf("unexpected external key shape: %s", key)
		}
	}

	p.Shutdown(context.Background())
}

func TestShardHexWidthMatchesShardBits(t *testing.T) {
	dir := t.TempDir()
	cstore := &fakeCStore{}
	provider := &fakeProvider{}
	uploader := &fakeUploader{}
	locks := lock.NewService(fakeLockStore{}, "packer-2", 10*time.Second)
	cfg := packer.Config{
		WorkDir: dir, DestBucket: "bkt", DestPrefix: "archive", ShardBits: 8,
		BatchSize: 10, LockTTL: 10 * time.Second, BigFileThreshold: 1 << 20, LoopSleep: time.Millisecond,
	}
	p := packer.New([]uint32{0}, cfg, locks, cstore, provider, uploader, "packer-2")
	p.RunPass(context.Background()) // ensures writer/container is created even with no pending files
	p.Shutdown(context.Background())

	// ShardBits 8 gives two hex digits, so shard 0 is "shard_00".
	const wantSuffix = "/shard_00.des"
	key := uploader.uploadedKey
	if len(key) < len(wantSuffix) || key[len(key)-len(wantSuffix):] != wantSuffix {
		t.Fatalf("expected container key ending in %s, got %q", wantSuffix, key)
	}
}
