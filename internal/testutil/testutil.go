// Package testutil provides shared test helpers for stores, blob storage,
// and services.
package testutil

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/assessment"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/catalog"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/storage"
	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/store"
)

// Epoch is the fixed clock reading used by TestService.
var Epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "mitasat-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBlobs creates a temporary blob directory with a filesystem provider.
func TestBlobs(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// Clock is a settable time source.
type Clock struct{ now atomic.Int64 }

// NewClock returns a clock reading at.
func NewClock(at time.Time) *Clock {
	c := &Clock{}
	c.Set(at)
	return c
}

// Now returns the current reading.
func (c *Clock) Now() time.Time { return time.Unix(0, c.now.Load()).UTC() }

// Set moves the clock to at.
func (c *Clock) Set(at time.Time) { c.now.Store(at.UnixNano()) }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.now.Add(int64(d)) }

// SeqIDs returns a goroutine-safe generator of predictable IDs.
func SeqIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s-%04d", prefix, n.Add(1)) }
}

// TestService builds a Service over a fresh database and blob directory with
// the default catalog, a settable clock starting at Epoch, and sequential IDs.
func TestService(t *testing.T, opts ...assessment.Option) (*assessment.Service, *store.DB, *Clock) {
	t.Helper()
	db := TestDB(t)
	_, blobs := TestBlobs(t)
	clock := NewClock(Epoch)
	base := []assessment.Option{
		assessment.WithBlobs(blobs),
		assessment.WithClock(clock.Now),
		assessment.WithIDGenerator(SeqIDs("id")),
	}
	svc := assessment.NewService(db, catalog.Default(), append(base, opts...)...)
	return svc, db, clock
}
