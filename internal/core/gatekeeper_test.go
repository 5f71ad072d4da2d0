// ABOUTME: Tests for the Gatekeeper inbound control flow
// ABOUTME: Runs against an in-memory SQLite storage with a controllable clock

package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harper/threadkeeper/internal/storage"
	"github.com/harper/threadkeeper/internal/storage/sqlite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newGatekeeper(t *testing.T, clock *fakeClock) (*Gatekeeper, *sqlite.Storage) {
	t.Helper()
	store, err := sqlite.NewStorageInMemory(sqlite.Options{
		Clock:         clock.Now,
		BurstInterval: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewStorageInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewGatekeeper(store.Guard(), store.Ledger(), store.Checkpoints(), store.Identities(), nil), store
}

func TestGatekeeper_FirstContact(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	gk, store := newGatekeeper(t, clock)
	ctx := context.Background()

	d, err := gk.Admit(ctx, Inbound{MessageID: "m1", Identity: "+15550001", Timezone: "America/Chicago"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if d.Duplicate || !d.Enrolled || !d.NewConversation || !d.FirstOfDay || d.MessageCount != 1 {
		t.Errorf("Admit() = %+v, want enrolled first-of-day with count 1", d)
	}

	id, err := store.Identities().Get(ctx, "+15550001")
	if err != nil || id == nil {
		t.Fatalf("Get() = %v, %v", id, err)
	}
	if id.Timezone != "America/Chicago" {
		t.Errorf("enrolled timezone = %s, want America/Chicago", id.Timezone)
	}
}

func TestGatekeeper_InvalidTimezoneStillCounts(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	gk, store := newGatekeeper(t, clock)
	ctx := context.Background()

	for _, tz := range []string{"UTC+14", "Not/AZone"} {
		in := Inbound{MessageID: "m-" + tz, Identity: "id-" + tz, Timezone: tz}

		d, err := gk.Admit(ctx, in)
		if err != nil {
			t.Fatalf("Admit(tz=%q) error = %v", tz, err)
		}
		if d.Duplicate || !d.Enrolled || !d.FirstOfDay || d.MessageCount != 1 {
			t.Errorf("Admit(tz=%q) = %+v, want enrolled first-of-day with count 1", tz, d)
		}

		// A redelivery is a duplicate only because the first delivery was counted.
		d, err = gk.Admit(ctx, in)
		if err != nil || !d.Duplicate {
			t.Errorf("redelivery Admit(tz=%q) = %+v, %v; want duplicate", tz, d, err)
		}

		day, err := store.Ledger().Today(ctx, in.Identity)
		if err != nil {
			t.Fatalf("Today() error = %v", err)
		}
		if day != "2026-06-01" {
			t.Errorf("Today() = %s, want default-zone date 2026-06-01", day)
		}
		count, err := store.Ledger().GetMessageCount(ctx, in.Identity)
		if err != nil || count != 1 {
			t.Errorf("GetMessageCount() = %d, %v; want 1", count, err)
		}
	}
}

func TestGatekeeper_DuplicateShortCircuits(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	gk, store := newGatekeeper(t, clock)
	ctx := context.Background()

	if _, err := gk.Admit(ctx, Inbound{MessageID: "m1", Identity: "u1"}); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	d, err := gk.Admit(ctx, Inbound{MessageID: "m1", Identity: "u1"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if !d.Duplicate {
		t.Error("second Admit() of m1 should be a duplicate")
	}

	count, err := store.Ledger().GetMessageCount(ctx, "u1")
	if err != nil {
		t.Fatalf("GetMessageCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("GetMessageCount() = %d, want 1 (duplicates are not counted)", count)
	}
}

func TestGatekeeper_ContinuingConversation(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	gk, store := newGatekeeper(t, clock)
	ctx := context.Background()

	if _, err := gk.Admit(ctx, Inbound{MessageID: "m1", Identity: "u1"}); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if _, err := store.Checkpoints().PutLatest(ctx, "u1", []byte(`{"messages":[]}`), nil); err != nil {
		t.Fatalf("PutLatest() error = %v", err)
	}

	clock.Advance(500 * time.Millisecond)
	d, err := gk.Admit(ctx, Inbound{MessageID: "m2", Identity: "u1"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if d.NewConversation || d.FirstOfDay {
		t.Errorf("Admit() = %+v, want continuing conversation", d)
	}
	if !d.Burst {
		t.Error("two messages 500ms apart should be a burst")
	}
	if d.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", d.MessageCount)
	}
}

func TestGatekeeper_ConcurrentOpenersHaveOneWinner(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	gk, _ := newGatekeeper(t, clock)
	ctx := context.Background()

	var winners atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			d, err := gk.Admit(ctx, Inbound{MessageID: fmt.Sprintf("m%d", i), Identity: "u1"})
			if err != nil {
				return err
			}
			if d.FirstOfDay {
				winners.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if got := winners.Load(); got != 1 {
		t.Errorf("first-of-day winners = %d, want 1", got)
	}
}

func TestGatekeeper_MissingIdentity(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	gk, _ := newGatekeeper(t, clock)

	_, err := gk.Admit(context.Background(), Inbound{MessageID: "m1"})
	if !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("Admit() error = %v, want ErrInvalidArgument", err)
	}
}

func TestGatekeeper_WithoutEnrollerRejectsUnknownIdentity(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	_, store := newGatekeeper(t, clock)
	gk := NewGatekeeper(store.Guard(), store.Ledger(), store.Checkpoints(), nil, nil)

	_, err := gk.Admit(context.Background(), Inbound{MessageID: "m1", Identity: "stranger"})
	if !errors.Is(err, storage.ErrUnknownIdentity) {
		t.Errorf("Admit() error = %v, want ErrUnknownIdentity", err)
	}
}
