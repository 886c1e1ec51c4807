package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/datavision/des/lock"
)

type fakeStore struct {
	mu       sync.Mutex
	acquires int
	renews   int
	renewOK  bool
	released bool
}

func (f *fakeStore) TryAcquire(context.Context, uint32, string, time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	return true, nil
}

func (f *fakeStore) Renew(context.Context, uint32, string, time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews++
	return f.renewOK, nil
}

func (f *fakeStore) Release(context.Context, uint32, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	return nil
}

func TestAcquireStartsHeartbeat(t *testing.T) {
	fs := &fakeStore{renewOK: true}
	svc := lock.NewService(fs, "holder-a", 40*time.Millisecond)
	ok, err := svc.Acquire(context.Background(), 1)
	if err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}
	time.Sleep(120 * time.Millisecond)

	fs.mu.Lock()
	renews := fs.renews
	fs.mu.Unlock()
	if renews == 0 {
		t.Fatal("expected at least one heartbeat renew within 120ms at ttl/2=20ms cadence")
	}

	if err := svc.Release(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	fs.mu.Lock()
	released := fs.released
	fs.mu.Unlock()
	if !released {
		t.Fatal("expected release to be forwarded to the store")
	}
}

func TestLeaseLostClosesChannel(t *testing.T) {
	fs := &fakeStore{renewOK: false}
	svc := lock.NewService(fs, "holder-b", 20*time.Millisecond)
	if _, err := svc.Acquire(context.Background(), 2); err != nil {
		t.Fatal(err)
	}

	select {
	case <-svc.Lost(2):
	case <-time.After(time.Second):
		t.Fatal("expected Lost channel to close after a failed renew")
	}
}

func TestLostOnNeverAcquiredShardIsAlreadyClosed(t *testing.T) {
	fs := &fakeStore{}
	svc := lock.NewService(fs, "holder-c", time.Second)
	select {
	case <-svc.Lost(99):
	default:
		t.Fatal("expected Lost to return an already-closed channel for an unknown shard")
	}
}
