// Package packer implements the multi-shard packer (spec §4.H): one
// process claims a list of shards, maintains one per-day writer per
// shard, appends claimed source files, checkpoints, and finalises
// (close + upload) on day rollover.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package packer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/datavision/des/cmn/nlog"
	"github.com/datavision/des/lock"
	"github.com/datavision/des/stats"
	"github.com/datavision/des/writer"
)

// SourceFile is one claimed file, materialised payload included
// (§6.4: "provider is responsible for the source object-store GET").
type SourceFile struct {
	ID    int64
	Name  string
	Bytes []byte
	Meta  map[string]any
}

// SourceProvider is the §6.4 contract the packer claims files through,
// independent of any particular source schema.
type SourceProvider interface {
	GetPendingFiles(ctx context.Context, shard uint32, limit int) ([]SourceFile, error)
	MarkFilesPacked(ctx context.Context, ids []int64, desNames []string, containerID int64) error
	MarkFilesFailed(ctx context.Context, ids []int64, cause error) error
}

// ContainerStore is the subset of store.Store the packer needs for
// container-row bookkeeping.
type ContainerStore interface {
	CreateContainer(ctx context.Context, shard uint32, day time.Time, key string) (int64, error)
	Checkpoint(ctx context.Context, id int64, fileCount, dataBytes uint64) error
	FinalizeUploaded(ctx context.Context, id int64, fileCount, dataBytes uint64) error
}

// Uploader pushes the finalised local container file to the archive
// bucket and, per §4.C, individual externalised payloads ahead of
// that. objstore.Client satisfies both. (The writer.ExternalPutter
// requirement is what a shard's per-day writer configures from.)
type Uploader interface {
	UploadFile(ctx context.Context, bucket, key string, r io.Reader) error
	PutBytes(ctx context.Context, bucket, key string, data []byte) error
}

// Config carries the §6.6 packer/writer knobs.
type Config struct {
	WorkDir                string
	DestBucket             string
	DestPrefix             string
	ShardBits              uint8
	BatchSize              int
	LockTTL                time.Duration
	CheckpointEveryFiles   uint64
	CheckpointEverySeconds time.Duration
	BigFileThreshold       uint64
	LoopSleep              time.Duration
	MaxUploadRetries       int
}

type shardState struct {
	w              *writer.Writer
	f              *os.File
	localPath      string
	containerID    int64
	day            string
	fileCount      uint64
	dataBytes      uint64
	lastCheckpoint time.Time
}

// Packer owns a fixed set of shards for one process lifetime.
type Packer struct {
	shards   []uint32
	cfg      Config
	locks    *lock.Service
	cstore   ContainerStore
	provider SourceProvider
	uploader Uploader
	holder   string

	mu     sync.Mutex
	states map[uint32]*shardState

	stats *stats.Registry
}

func New(shards []uint32, cfg Config, locks *lock.Service, cstore ContainerStore, provider SourceProvider, uploader Uploader, holder string) *Packer {
	return &Packer{
		shards: shards, cfg: cfg, locks: locks, cstore: cstore,
		provider: provider, uploader: uploader, holder: holder,
		states: make(map[uint32]*shardState),
	}
}

// SetStats wires a metrics registry in; nil is a valid no-op default.
func (p *Packer) SetStats(st *stats.Registry) { p.stats = st }

// RunPass executes exactly one pass over every owned shard (§4.H),
// then the caller is expected to sleep LoopSleep before the next call.
func (p *Packer) RunPass(ctx context.Context) {
	for _, shard := range p.shards {
		if err := p.step(ctx, shard); err != nil {
			nlog.Errorf("packer shard step failed: %s", nlog.Fields("shard", shard, "err", err))
		}
	}
}

func (p *Packer) step(ctx context.Context, shard uint32) error {
	ok, err := p.locks.Acquire(ctx, shard)
	if err != nil {
		return errors.Wrap(err, "acquire shard lock")
	}
	if !ok {
		if p.stats != nil {
			p.stats.PackerLockConflicts.WithLabelValues(shardHex(shard, p.cfg.ShardBits)).Inc()
		}
		return nil // conflict: another holder owns the lease, skip this pass
	}

	select {
	case <-p.locks.Lost(shard):
		p.dropState(shard) // lease lost mid-pass: drop local state, do not finalise
		return nil
	default:
	}

	today := time.Now().UTC().Format("2006-01-02")
	st, err := p.ensureWriter(ctx, shard, today)
	if err != nil {
		return errors.Wrap(err, "ensure writer")
	}

	files, err := p.provider.GetPendingFiles(ctx, shard, p.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "claim pending files")
	}
	if len(files) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(files))
	names := make([]string, 0, len(files))
	for _, f := range files {
		if err := st.w.Add(ctx, f.Name, f.Bytes, writerAddOpts(f.Meta)); err != nil {
			if markErr := p.provider.MarkFilesFailed(ctx, []int64{f.ID}, err); markErr != nil {
				nlog.Errorf("mark failed also failed: %s", nlog.Fields("id", f.ID, "err", markErr))
			}
			continue
		}
		st.fileCount++
		st.dataBytes += uint64(len(f.Bytes))
		ids = append(ids, f.ID)
		names = append(names, f.Name)
	}

	if p.shouldCheckpoint(st) {
		if err := p.cstore.Checkpoint(ctx, st.containerID, st.fileCount, st.dataBytes); err != nil {
			return errors.Wrap(err, "checkpoint")
		}
		st.lastCheckpoint = time.Now()
	}

	if len(ids) > 0 {
		if err := p.provider.MarkFilesPacked(ctx, ids, names, st.containerID); err != nil {
			return errors.Wrap(err, "mark files packed")
		}
		if p.stats != nil {
			p.stats.PackerFilesPacked.WithLabelValues(shardHex(shard, p.cfg.ShardBits)).Add(float64(len(ids)))
		}
	}
	return nil
}

func writerAddOpts(meta map[string]any) writer.AddOpts {
	return writer.AddOpts{Meta: meta}
}

func (p *Packer) shouldCheckpoint(st *shardState) bool {
	if p.cfg.CheckpointEveryFiles > 0 && st.fileCount%p.cfg.CheckpointEveryFiles == 0 {
		return true
	}
	if p.cfg.CheckpointEverySeconds > 0 && time.Since(st.lastCheckpoint) >= p.cfg.CheckpointEverySeconds {
		return true
	}
	return false
}

func (p *Packer) ensureWriter(ctx context.Context, shard uint32, today string) (*shardState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[shard]
	if ok && st.day != today {
		if err := p.finalizeLocked(ctx, shard, st); err != nil {
			return nil, err
		}
		delete(p.states, shard)
		ok = false
	}
	if ok {
		return st, nil
	}

	dir := filepath.Join(p.cfg.WorkDir, today)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	localPath := filepath.Join(dir, fmt.Sprintf("shard_%s.des", shardHex(shard, p.cfg.ShardBits)))
	f, err := os.Create(localPath)
	if err != nil {
		return nil, err
	}
	dayPrefix := fmt.Sprintf("%s/%s", p.cfg.DestPrefix, today)
	w, err := writer.New(f, p.cfg.BigFileThreshold, writer.ExternalConfig{
		Client: p.uploader,
		Bucket: p.cfg.DestBucket,
		Prefix: dayPrefix,
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	destKey := fmt.Sprintf("%s/%s/shard_%s.des", p.cfg.DestPrefix, today, shardHex(shard, p.cfg.ShardBits))
	containerID, err := p.cstore.CreateContainer(ctx, shard, time.Now().UTC(), destKey)
	if err != nil {
		f.Close()
		return nil, err
	}

	st = &shardState{w: w, f: f, localPath: localPath, containerID: containerID, day: today, lastCheckpoint: time.Now()}
	p.states[shard] = st
	return st, nil
}

// finalizeLocked closes, uploads, and marks a shard's writer uploaded.
// Called with p.mu held.
func (p *Packer) finalizeLocked(ctx context.Context, shard uint32, st *shardState) error {
	if _, err := st.w.Close(); err != nil {
		return errors.Wrap(err, "close writer")
	}
	if err := st.f.Close(); err != nil {
		return errors.Wrap(err, "close local file")
	}

	destKey := fmt.Sprintf("%s/%s/shard_%s.des", p.cfg.DestPrefix, st.day, shardHex(shard, p.cfg.ShardBits))
	if err := p.uploadWithRetry(ctx, destKey, st.localPath); err != nil {
		if p.stats != nil {
			p.stats.PackerUploadErrors.WithLabelValues(shardHex(shard, p.cfg.ShardBits)).Inc()
		}
		// container row stays "writing"; the recovery manager reconciles it.
		return errors.Wrap(err, "upload container")
	}

	if err := p.cstore.FinalizeUploaded(ctx, st.containerID, st.fileCount, st.dataBytes); err != nil {
		return errors.Wrap(err, "finalize container row")
	}
	return os.Remove(st.localPath)
}

func (p *Packer) uploadWithRetry(ctx context.Context, key, localPath string) error {
	maxAttempts := p.cfg.MaxUploadRetries
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		err = p.uploader.UploadFile(ctx, p.cfg.DestBucket, key, f)
		f.Close()
		if err == nil {
			return nil
		}
		lastErr = err
		backoff := time.Duration(1<<attempt) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

// dropState discards in-memory writer state for a lost lease without
// finalising (§7 Lease-lost: the next acquirer or recovery cleans up).
func (p *Packer) dropState(shard uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[shard]; ok {
		st.f.Close()
		delete(p.states, shard)
	}
}

// Shutdown finalises every open shard writer; called on graceful
// process shutdown.
func (p *Packer) Shutdown(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for shard, st := range p.states {
		if err := p.finalizeLocked(ctx, shard, st); err != nil {
			nlog.Errorf("shutdown finalize failed: %s", nlog.Fields("shard", shard, "err", err))
		}
	}
	p.states = make(map[uint32]*shardState)
}

func shardHex(shard uint32, shardBits uint8) string {
	width := (int(shardBits) + 3) / 4
	return fmt.Sprintf("%0*x", width, shard)
}

// ScanLeftoverLocalFiles walks workDir at startup looking for
// container files left behind by a killed process, using godirwalk
// for speed over large work directories (§4.I's concerns overlap
// here: stray local files predate a DB-driven recovery pass).
func ScanLeftoverLocalFiles(workDir string) ([]string, error) {
	var found []string
	err := godirwalk.Walk(workDir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			if filepath.Ext(path) == ".des" {
				found = append(found, path)
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return found, nil
}

// RunLoop runs passes until ctx is cancelled, sleeping LoopSleep
// between them (§4.H: "one iteration per shard per pass, then sleep
// loop_sleep").
func (p *Packer) RunLoop(ctx context.Context) {
	for {
		p.RunPass(ctx)
		select {
		case <-ctx.Done():
			p.Shutdown(context.Background())
			return
		case <-time.After(p.cfg.LoopSleep):
		}
	}
}
