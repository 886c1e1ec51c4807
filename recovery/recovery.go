// Package recovery implements the crash-recovery manager (spec §4.I):
// four independent sweeps safe to interleave, run periodically and at
// startup.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package recovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/datavision/des/cmn/nlog"
	"github.com/datavision/des/container"
	"github.com/datavision/des/objstore"
	"github.com/datavision/des/stats"
	"github.com/datavision/des/store"
)

// HeadRanger is the minimal object-store surface the recovery manager
// needs: existence check and a footer-sized range read.
type HeadRanger interface {
	Head(ctx context.Context, bucket, key string) (size int64, etag string, exists bool, err error)
	GetRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix, continuation string) (objstore.ListResult, error)
}

// Store is the subset of store.Store the recovery manager depends on.
type Store interface {
	ResetStaleClaims(ctx context.Context, claimTimeout time.Duration) (int64, error)
	StaleWriting(ctx context.Context, grace time.Duration) ([]store.Container, error)
	MarkFailed(ctx context.Context, id int64) error
	FinalizeUploaded(ctx context.Context, id int64, fileCount, dataBytes uint64) error
	DeleteExpiredLocks(ctx context.Context) (int64, error)
	AllContainers(ctx context.Context) ([]store.Container, error)
	FixFileCount(ctx context.Context, id int64, fileCount uint64) error
}

// Config carries the §6.6 recovery knobs.
type Config struct {
	Bucket       string
	ClaimTimeout time.Duration
	Grace        time.Duration
}

// SweepReport summarises one full recovery run (§8 property #9:
// idempotent on an immediately-repeated invocation).
type SweepReport struct {
	RunID           string
	StaleClaimsReset int64
	ContainersFixed int
	ContainersFailed int
	LocksExpired    int64
	IntegrityFixed  int
	OrphansFound    int
}

// Manager runs the four sweeps against one store + object-store pair.
type Manager struct {
	st  Store
	obj HeadRanger
	cfg Config

	stats *stats.Registry
}

func NewManager(st Store, obj HeadRanger, cfg Config) *Manager {
	return &Manager{st: st, obj: obj, cfg: cfg}
}

// SetStats wires a metrics registry in; nil is a valid no-op default.
func (m *Manager) SetStats(st *stats.Registry) { m.stats = st }

func (m *Manager) countSweep(name string) {
	if m.stats != nil {
		m.stats.RecoverySweeps.WithLabelValues(name).Inc()
	}
}

// RunAll executes all four sweeps in sequence and returns a combined
// report; each sweep is independent so a failure in one does not
// block the others. Sweep errors are logged, not propagated: the
// returned error is always nil.
func (m *Manager) RunAll(ctx context.Context) (SweepReport, error) {
	report := SweepReport{RunID: uuid.NewString()}

	n, err := m.st.ResetStaleClaims(ctx, m.cfg.ClaimTimeout)
	if err != nil {
		nlog.Errorf("stale-claims sweep failed: %s", nlog.Fields("run_id", report.RunID, "err", err))
	}
	report.StaleClaimsReset = n
	m.countSweep("stale_claims")

	fixed, failed, err := m.sweepPartialContainers(ctx)
	if err != nil {
		nlog.Errorf("partial-container sweep failed: %s", nlog.Fields("run_id", report.RunID, "err", err))
	}
	report.ContainersFixed, report.ContainersFailed = fixed, failed
	m.countSweep("partial_containers")

	expired, err := m.st.DeleteExpiredLocks(ctx)
	if err != nil {
		nlog.Errorf("expired-locks sweep failed: %s", nlog.Fields("run_id", report.RunID, "err", err))
	}
	report.LocksExpired = expired
	m.countSweep("expired_locks")

	integrityFixed, orphans, err := m.sweepIntegrity(ctx)
	if err != nil {
		nlog.Errorf("integrity sweep failed: %s", nlog.Fields("run_id", report.RunID, "err", err))
	}
	report.IntegrityFixed, report.OrphansFound = integrityFixed, orphans
	m.countSweep("integrity")

	nlog.Infof("recovery pass complete: %s", nlog.Fields(
		"run_id", report.RunID, "stale_claims", report.StaleClaimsReset,
		"containers_fixed", report.ContainersFixed, "containers_failed", report.ContainersFailed,
		"locks_expired", report.LocksExpired, "integrity_fixed", report.IntegrityFixed,
		"orphans", report.OrphansFound,
	))
	return report, nil
}

// sweepPartialContainers implements §4.I.2.
func (m *Manager) sweepPartialContainers(ctx context.Context) (fixed, failed int, err error) {
	rows, err := m.st.StaleWriting(ctx, m.cfg.Grace)
	if err != nil {
		return 0, 0, err
	}
	for _, c := range rows {
		size, _, exists, headErr := m.obj.Head(ctx, m.cfg.Bucket, c.Key)
		if headErr != nil {
			nlog.Errorf("head failed during recovery: %s", nlog.Fields("container_id", c.ID, "key", c.Key, "err", headErr))
			continue
		}
		if !exists {
			if err := m.st.MarkFailed(ctx, c.ID); err != nil {
				return fixed, failed, err
			}
			failed++
			continue
		}
		raw, err := m.obj.GetRange(ctx, m.cfg.Bucket, c.Key, size-container.FooterSize, container.FooterSize)
		if err != nil {
			nlog.Errorf("footer range-read failed: %s", nlog.Fields("container_id", c.ID, "key", c.Key, "err", err))
			continue
		}
		footer, err := container.DecodeFooter(raw, size)
		if err != nil {
			if delErr := m.obj.Delete(ctx, m.cfg.Bucket, c.Key); delErr != nil {
				nlog.Errorf("delete of invalid container failed: %s", nlog.Fields("key", c.Key, "err", delErr))
			}
			if err := m.st.MarkFailed(ctx, c.ID); err != nil {
				return fixed, failed, err
			}
			failed++
			continue
		}
		if err := m.st.FinalizeUploaded(ctx, c.ID, footer.FileCount, footer.DataLength); err != nil {
			return fixed, failed, err
		}
		fixed++
	}
	return fixed, failed, nil
}

// sweepIntegrity implements §4.I.4: per-container footer/file_count
// check, plus an optional orphan scan using a cuckoo filter so listing
// a large prefix doesn't require an O(containers) membership scan.
func (m *Manager) sweepIntegrity(ctx context.Context) (fixed, orphans int, err error) {
	rows, err := m.st.AllContainers(ctx)
	if err != nil {
		return 0, 0, err
	}

	known := cuckoo.NewFilter(uint(nextPow2(len(rows) + 1)))
	for _, c := range rows {
		known.InsertUnique([]byte(c.Key))

		size, _, exists, headErr := m.obj.Head(ctx, m.cfg.Bucket, c.Key)
		if headErr != nil || !exists {
			continue // absence is handled by the partial-container sweep
		}
		raw, err := m.obj.GetRange(ctx, m.cfg.Bucket, c.Key, size-container.FooterSize, container.FooterSize)
		if err != nil {
			continue
		}
		footer, err := container.DecodeFooter(raw, size)
		if err != nil {
			if merr := m.st.MarkFailed(ctx, c.ID); merr != nil {
				return fixed, orphans, merr
			}
			continue
		}
		if footer.FileCount != c.FileCount {
			if err := m.st.FixFileCount(ctx, c.ID, footer.FileCount); err != nil {
				return fixed, orphans, err
			}
			fixed++
		}
	}

	orphans, err = m.scanOrphans(ctx, known)
	return fixed, orphans, err
}

func (m *Manager) scanOrphans(ctx context.Context, known *cuckoo.Filter) (int, error) {
	orphans := 0
	token := ""
	for {
		res, err := m.obj.List(ctx, m.cfg.Bucket, "", token)
		if err != nil {
			return orphans, err
		}
		for _, key := range res.Keys {
			if !known.Lookup([]byte(key)) {
				orphans++
				nlog.Warningf("orphan object found: %s", nlog.Fields("key", key))
			}
		}
		if res.ContinuationToken == "" {
			break
		}
		token = res.ContinuationToken
	}
	return orphans, nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	if p < 1024 {
		p = 1024
	}
	return p
}
