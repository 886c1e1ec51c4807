package marker_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/datavision/des/assign"
	"github.com/datavision/des/marker"
	"github.com/datavision/des/store"

	_ "github.com/lib/pq"
)

// fakeStore only needs to satisfy marker.Store; SelectUnmarked returns
// a fixed, in-memory row set. Transactions are stubbed via a sql.Tx
// obtained from an unconnected driver registration is unnecessary here
// because marker.Worker's only tx-using calls go through package-level
// store.MarkRow/RetryRow/DeadLetterRow, which this test cannot invoke
// without a real *sql.Tx - so these tests use a Store whose BeginTx
// fails fast and check only that RunOnce/RunLoop surface that failure
// and stop cleanly; row selection and rate limiting are not reached
// without a live Postgres instance.
type fakeStore struct {
	rows    []store.CatalogRow
	beginErr error
}

func (f *fakeStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return nil, f.beginErr
}

func (f *fakeStore) SelectUnmarked(ctx context.Context, tx *sql.Tx, maxAge time.Duration, batchSize int) ([]store.CatalogRow, error) {
	return f.rows, nil
}

func TestRunOnceSurfacesBeginTxError(t *testing.T) {
	fs := &fakeStore{beginErr: sql.ErrConnDone}
	gen, err := assign.NewGenerator(assign.Config{NodeID: 1, WrapBits: 32, Prefix: "DES"})
	if err != nil {
		t.Fatal(err)
	}
	w := marker.NewWorker(fs, gen, marker.Config{
		MaxAge: time.Minute, BatchSize: 10, RatePerSecond: 1000, ShardBits: 8, MaxRetries: 3,
	})
	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Fatal("expected BeginTx error to propagate")
	}
}

func TestWorkerShutdownFlagRespected(t *testing.T) {
	gen, err := assign.NewGenerator(assign.Config{NodeID: 1, WrapBits: 32, Prefix: "DES"})
	if err != nil {
		t.Fatal(err)
	}
	fs := &fakeStore{beginErr: sql.ErrConnDone}
	w := marker.NewWorker(fs, gen, marker.Config{
		MaxAge: time.Minute, BatchSize: 10, RatePerSecond: 1000, ShardBits: 8, MaxRetries: 3,
	})
	w.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.RunLoop(ctx, 10*time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected RunLoop to exit promptly after Shutdown")
	}
}
