package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/chainclient"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/store"
)

type failingClient struct{ err error }

func (f failingClient) BroadcastWithdrawal(to, symbol string, amount *bigmath.Int, memo string) (string, error) {
	return "", f.err
}
func (f failingClient) BroadcastMint(to, symbol string, amount *bigmath.Int, memo string) (string, error) {
	return "", f.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTickProcessesOldestWithdrawalFirst(t *testing.T) {
	db := store.NewMemStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := Enqueue(db, WithdrawalsCollection, "w1", "alice", "MRY", bigmath.New(100), "", base); err != nil {
		t.Fatalf("enqueue w1: %v", err)
	}
	if err := Enqueue(db, WithdrawalsCollection, "w2", "bob", "MRY", bigmath.New(50), "", base.Add(time.Second)); err != nil {
		t.Fatalf("enqueue w2: %v", err)
	}

	w := New(db, chainclient.NewStubClient(), events.NoopSink{})
	w.nowFn = fixedClock(base.Add(time.Minute))

	if busy := w.Tick(); !busy {
		t.Fatal("expected a job to be worked")
	}
	doc, ok, err := db.FindOne(WithdrawalsCollection, store.M{"_id": "w1"})
	if err != nil || !ok {
		t.Fatalf("expected w1 to exist, ok=%v err=%v", ok, err)
	}
	if doc["status"] != string(StatusDone) && doc["status"] != StatusDone {
		t.Fatalf("expected w1 done, got %v", doc["status"])
	}

	doc2, ok, err := db.FindOne(WithdrawalsCollection, store.M{"_id": "w2"})
	if err != nil || !ok {
		t.Fatalf("expected w2 to exist, ok=%v err=%v", ok, err)
	}
	if doc2["status"] != StatusPending {
		t.Fatalf("expected w2 still pending, got %v", doc2["status"])
	}
}

func TestTickFallsBackToDepositsWhenNoWithdrawals(t *testing.T) {
	db := store.NewMemStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := Enqueue(db, DepositsCollection, "d1", "alice", "MRY", bigmath.New(10), "", base); err != nil {
		t.Fatalf("enqueue d1: %v", err)
	}
	w := New(db, chainclient.NewStubClient(), events.NoopSink{})
	w.nowFn = fixedClock(base.Add(time.Minute))

	if busy := w.Tick(); !busy {
		t.Fatal("expected deposit to be worked")
	}
	doc, ok, err := db.FindOne(DepositsCollection, store.M{"_id": "d1"})
	if err != nil || !ok {
		t.Fatalf("expected d1 to exist, ok=%v err=%v", ok, err)
	}
	if doc["status"] != StatusDone {
		t.Fatalf("expected d1 done, got %v", doc["status"])
	}
}

func TestTickMarksFailedOnBroadcastError(t *testing.T) {
	db := store.NewMemStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := Enqueue(db, WithdrawalsCollection, "w1", "alice", "MRY", bigmath.New(100), "", base); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	w := New(db, failingClient{err: errors.New("chain unreachable")}, events.NoopSink{})
	w.nowFn = fixedClock(base.Add(time.Minute))

	w.Tick()
	doc, ok, err := db.FindOne(WithdrawalsCollection, store.M{"_id": "w1"})
	if err != nil || !ok {
		t.Fatalf("expected w1 to exist, ok=%v err=%v", ok, err)
	}
	if doc["status"] != StatusFailed {
		t.Fatalf("expected w1 failed, got %v", doc["status"])
	}
	if doc["attempts"] != float64(1) && doc["attempts"] != int64(1) && doc["attempts"] != 1 {
		t.Fatalf("expected attempts=1, got %v (%T)", doc["attempts"], doc["attempts"])
	}
}

func TestRecoverStaleResetsOldProcessingJobs(t *testing.T) {
	db := store.NewMemStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := Enqueue(db, WithdrawalsCollection, "w1", "alice", "MRY", bigmath.New(100), "", base); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	w := New(db, chainclient.NewStubClient(), events.NoopSink{})
	w.nowFn = fixedClock(base)
	if _, ok := w.claimOldest(WithdrawalsCollection); !ok {
		t.Fatal("expected claim to succeed")
	}

	// Advance well past the staleness window without resolving the job.
	w.nowFn = fixedClock(base.Add(2 * StaleAfter))
	w.recoverStale(WithdrawalsCollection)

	doc, ok, err := db.FindOne(WithdrawalsCollection, store.M{"_id": "w1"})
	if err != nil || !ok {
		t.Fatalf("expected w1 to exist, ok=%v err=%v", ok, err)
	}
	if doc["status"] != StatusPending {
		t.Fatalf("expected w1 recovered to pending, got %v", doc["status"])
	}
}
