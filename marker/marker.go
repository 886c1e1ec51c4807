// Package marker implements the marker worker (spec §4.F): drags
// catalog rows from untouched to marked, rate-limited and with
// transient/permanent error classification and dead-letter escalation.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package marker

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/datavision/des/assign"
	"github.com/datavision/des/cmn/nlog"
	"github.com/datavision/des/stats"
	"github.com/datavision/des/store"
)

// Store is the subset of store.Store this package depends on.
type Store interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
	SelectUnmarked(ctx context.Context, tx *sql.Tx, maxAge time.Duration, batchSize int) ([]store.CatalogRow, error)
}

// Config carries the §6.6 marker knobs.
type Config struct {
	MaxAge        time.Duration
	BatchSize     int
	RatePerSecond float64
	ShardBits     uint8
	MaxRetries    int
	Backoff       float64 // defaulted to 2 by NewWorker; RunOnce does not read it
}

// BatchStats is the per-iteration summary the marker emits: row counts
// and the batch's total duration. It carries no per-row latency
// percentiles and no per-error-kind breakdown.
type BatchStats struct {
	Selected  int
	Marked    int
	Retried   int
	DeadLettered int
	Duration  time.Duration
}

// Worker runs marker iterations against one Store using one name
// Generator.
type Worker struct {
	st     Store
	gen    *assign.Generator
	cfg    Config
	lim    *rate.Limiter
	shutdown chan struct{}

	stats *stats.Registry
}

// SetStats wires a metrics registry in; nil is a valid no-op default.
func (w *Worker) SetStats(st *stats.Registry) { w.stats = st }

// NewWorker builds a Worker. A row that fails transiently is set to
// des_status='retry' and is eligible again on the very next pass (its
// created_at already satisfies max_age); no backoff delay is applied
// between attempts, and cfg.Backoff is not used to compute one.
func NewWorker(st Store, gen *assign.Generator, cfg Config) *Worker {
	if cfg.Backoff <= 1 {
		cfg.Backoff = 2
	}
	burst := int(math.Ceil(cfg.RatePerSecond))
	if burst < 1 {
		burst = 1
	}
	return &Worker{
		st:       st,
		gen:      gen,
		cfg:      cfg,
		lim:      rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		shutdown: make(chan struct{}),
	}
}

// Shutdown sets the graceful-shutdown flag; the current batch is
// permitted to finish (§4.F).
func (w *Worker) Shutdown() { close(w.shutdown) }

func (w *Worker) shuttingDown() bool {
	select {
	case <-w.shutdown:
		return true
	default:
		return false
	}
}

// RunOnce executes exactly one marker iteration (§4.F steps 1-4).
func (w *Worker) RunOnce(ctx context.Context) (BatchStats, error) {
	start := time.Now()
	var stats BatchStats

	tx, err := w.st.BeginTx(ctx)
	if err != nil {
		return stats, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	rows, err := w.st.SelectUnmarked(ctx, tx, w.cfg.MaxAge, w.cfg.BatchSize)
	if err != nil {
		return stats, err
	}
	stats.Selected = len(rows)

	for _, row := range rows {
		if w.shuttingDown() {
			break
		}
		if err := w.lim.Wait(ctx); err != nil {
			return stats, err
		}

		if err := w.markOne(ctx, tx, row); err != nil {
			if store.IsTransient(err) {
				if row.RetryCount+1 >= w.cfg.MaxRetries {
					if dlqErr := store.DeadLetterRow(ctx, tx, row.ID, err.Error(), row.RetryCount+1); dlqErr != nil {
						return stats, dlqErr
					}
					stats.DeadLettered++
					continue
				}
				if retryErr := store.RetryRow(ctx, tx, row.ID); retryErr != nil {
					return stats, retryErr
				}
				stats.Retried++
				continue
			}
			return stats, err // permanent error surfaces to caller's loop
		}
		stats.Marked++
	}

	if err := tx.Commit(); err != nil {
		return stats, err
	}
	committed = true
	stats.Duration = time.Since(start)

	if w.stats != nil {
		w.stats.MarkerBatches.Inc()
		w.stats.MarkerRowsMarked.Add(float64(stats.Marked))
		w.stats.MarkerDeadLettered.Add(float64(stats.DeadLettered))
	}

	nlog.Infof("marker batch done: %s", nlog.Fields(
		"selected", stats.Selected, "marked", stats.Marked,
		"retried", stats.Retried, "dead_lettered", stats.DeadLettered,
		"duration_ms", stats.Duration.Milliseconds(),
	))
	return stats, nil
}

func (w *Worker) markOne(ctx context.Context, tx *sql.Tx, row store.CatalogRow) error {
	name := w.gen.Next()
	sum := sha256.Sum256([]byte(name))
	hash := hex.EncodeToString(sum[:])
	shard, err := assign.ShardID(name, w.cfg.ShardBits)
	if err != nil {
		return err
	}
	return store.MarkRow(ctx, tx, row.ID, name, hash, shard)
}

// RunLoop runs RunOnce repeatedly until Shutdown is called or ctx is
// cancelled, sleeping between iterations when a batch comes back empty.
func (w *Worker) RunLoop(ctx context.Context, idleSleep time.Duration) {
	for {
		if w.shuttingDown() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		stats, err := w.RunOnce(ctx)
		if err != nil {
			nlog.Errorf("marker iteration failed: %s", nlog.Fields("err", err))
		}
		if stats.Selected == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
		}
	}
}
