// Package health implements the health checker (spec §4.L): four
// probes (DB, object store, shard locks, source providers) run in
// parallel with a per-probe timeout, aggregated into one readiness
// report. Uses golang.org/x/sync/errgroup for the parallel fan-out,
// the teacher's pattern for bounded concurrent work.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the aggregate readiness verdict (§4.L).
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const probeTimeout = 5 * time.Second

// DB is the minimal probe surface for the metadata store.
type DB interface {
	Ping(ctx context.Context) error
}

// ObjectStore is the minimal probe surface for the archive bucket.
type ObjectStore interface {
	Head(ctx context.Context, bucket, key string) (size int64, etag string, exists bool, err error)
}

// LockCounter reports held vs. expired shard leases.
type LockCounter interface {
	CountLocks(ctx context.Context) (held, expired int, err error)
}

// SourceProvider is one named source connector's liveness probe.
type SourceProvider struct {
	Name string
	Ping func(ctx context.Context) error
}

// Config wires the collaborators the checker probes; Bucket is used
// as the HEAD target (any stable key, existing or not — a 404 HEAD
// still proves connectivity).
type Config struct {
	Bucket         string
	ProbeKey       string
	SourceProbes   []SourceProvider
}

// Report is the §4.L aggregate result, JSON-serialisable for
// GET /health/ready (§6.3).
type Report struct {
	Status        Status            `json:"status"`
	DB            string            `json:"db"`
	ObjectStore   string            `json:"object_store"`
	LocksHeld     int               `json:"locks_held"`
	LocksExpired  int               `json:"locks_expired"`
	Sources       map[string]string `json:"sources,omitempty"`
	CheckedAt     time.Time         `json:"checked_at"`
}

// Checker runs the four §4.L probes.
type Checker struct {
	db    DB
	obj   ObjectStore
	locks LockCounter
	cfg   Config
}

func NewChecker(db DB, obj ObjectStore, locks LockCounter, cfg Config) *Checker {
	return &Checker{db: db, obj: obj, locks: locks, cfg: cfg}
}

// Check runs all probes in parallel, each bounded by probeTimeout, and
// aggregates per §4.L: unhealthy iff DB or object-store failed;
// degraded if any lock is expired or any source is down; else healthy.
func (c *Checker) Check(parent context.Context) Report {
	ctx, cancel := context.WithTimeout(parent, probeTimeout)
	defer cancel()

	var (
		dbErr, objErr error
		held, expired int
		sourceStatus  = make([]string, len(c.cfg.SourceProbes))
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if c.db == nil {
			dbErr = nil
			return nil
		}
		dbErr = c.db.Ping(gctx)
		return nil
	})

	g.Go(func() error {
		if c.obj == nil {
			return nil
		}
		_, _, _, objErr = c.obj.Head(gctx, c.cfg.Bucket, c.cfg.ProbeKey)
		return nil
	})

	g.Go(func() error {
		if c.locks == nil {
			return nil
		}
		h, e, err := c.locks.CountLocks(gctx)
		if err == nil {
			held, expired = h, e
		}
		return nil
	})

	for i, sp := range c.cfg.SourceProbes {
		i, sp := i, sp
		g.Go(func() error {
			err := sp.Ping(gctx)
			status := "ok"
			if err != nil {
				status = "down"
			}
			sourceStatus[i] = status // each goroutine owns a distinct index, no shared-write race
			return nil
		})
	}

	_ = g.Wait() // per-probe errors are captured above, never propagated as a group failure

	sourceResults := make(map[string]string, len(c.cfg.SourceProbes))
	for i, sp := range c.cfg.SourceProbes {
		sourceResults[sp.Name] = sourceStatus[i]
	}

	report := Report{
		DB:           probeString(dbErr),
		ObjectStore:  probeString(objErr),
		LocksHeld:    held,
		LocksExpired: expired,
		Sources:      sourceResults,
		CheckedAt:    time.Now().UTC(),
	}
	report.Status = c.aggregate(dbErr, objErr, expired, sourceResults)
	return report
}

func (c *Checker) aggregate(dbErr, objErr error, expired int, sources map[string]string) Status {
	if dbErr != nil || objErr != nil {
		return StatusUnhealthy
	}
	if expired > 0 {
		return StatusDegraded
	}
	for _, s := range sources {
		if s != "ok" {
			return StatusDegraded
		}
	}
	return StatusHealthy
}

func probeString(err error) string {
	if err != nil {
		return "down: " + err.Error()
	}
	return "ok"
}
