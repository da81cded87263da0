// Package testutil provides shared test helpers for setting up ledgers and
// project catalogs.
package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/starford/timetrail/internal/ledger"
	"github.com/starford/timetrail/internal/models"
)

// TestDB creates a temporary SQLite ledger that is automatically cleaned up.
func TestDB(t *testing.T, opts ...ledger.Option) *ledger.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "timetrail-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := ledger.Open(dbFile.Name(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Clock is a manually advanced time source for deterministic tests.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{t: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// MustProject registers a project in db or fails the test.
func MustProject(t *testing.T, db *ledger.DB, name string, dirs ...string) *models.Project {
	t.Helper()
	p := &models.Project{Name: name, DirectoryPatterns: dirs}
	if err := db.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("create project %s: %v", name, err)
	}
	return p
}
