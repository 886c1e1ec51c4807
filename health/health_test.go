package health_test

import (
	"context"
	"errors"
	"testing"

	"github.com/datavision/des/health"
)

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }

type fakeObjStore struct{ err error }

func (f fakeObjStore) Head(context.Context, string, string) (int64, string, bool, error) {
	return 0, "", false, f.err
}

type fakeLocks struct {
	held, expired int
	err           error
}

func (f fakeLocks) CountLocks(context.Context) (int, int, error) { return f.held, f.expired, f.err }

func TestCheckHealthy(t *testing.T) {
	c := health.NewChecker(fakeDB{}, fakeObjStore{}, fakeLocks{held: 3}, health.Config{Bucket: "b", ProbeKey: "k"})
	r := c.Check(context.Background())
	if r.Status != health.StatusHealthy {
		t.Fatalf("expected healthy, got %s", r.Status)
	}
}

func TestCheckUnhealthyOnDBFailure(t *testing.T) {
	c := health.NewChecker(fakeDB{err: errors.New("conn refused")}, fakeObjStore{}, fakeLocks{}, health.Config{})
	r := c.Check(context.Background())
	if r.Status != health.StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", r.Status)
	}
}

func TestCheckUnhealthyOnObjectStoreFailure(t *testing.T) {
	c := health.NewChecker(fakeDB{}, fakeObjStore{err: errors.New("timeout")}, fakeLocks{}, health.Config{})
	r := c.Check(context.Background())
	if r.Status != health.StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", r.Status)
	}
}

func TestCheckDegradedOnExpiredLocks(t *testing.T) {
	c := health.NewChecker(fakeDB{}, fakeObjStore{}, fakeLocks{held: 2, expired: 1}, health.Config{})
	r := c.Check(context.Background())
	if r.Status != health.StatusDegraded {
		t.Fatalf("expected degraded, got %s", r.Status)
	}
	if r.LocksExpired != 1 || r.LocksHeld != 2 {
		t.Fatalf("expected lock counts to be reported as-is, got held=%d expired=%d", r.LocksHeld, r.LocksExpired)
	}
}

func TestCheckDegradedOnSourceDown(t *testing.T) {
	cfg := health.Config{
		SourceProbes: []health.SourceProvider{
			{Name: "imaging", Ping: func(context.Context) error { return nil }},
			{Name: "orders", Ping: func(context.Context) error { return errors.New("down") }},
		},
	}
	c := health.NewChecker(fakeDB{}, fakeObjStore{}, fakeLocks{}, cfg)
	r := c.Check(context.Background())
	if r.Status != health.StatusDegraded {
		t.Fatalf("expected degraded, got %s", r.Status)
	}
	if r.Sources["imaging"] != "ok" || r.Sources["orders"] != "down" {
		t.Fatalf("unexpected source statuses: %+v", r.Sources)
	}
}
