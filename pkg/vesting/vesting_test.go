package vesting

import (
	"testing"

	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/ledger"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/types"
)

func seedVesting(t *testing.T) (*Engine, store.Store, *ledger.Ledger) {
	t.Helper()
	db := store.NewMemStore()
	if err := ledger.EnsureAccount(db, "buyer"); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	l := ledger.New(db)

	v := &types.VestingState{
		User: "buyer", LaunchpadID: "lp1", AllocationType: "SEED",
		TotalAllocated: bigmath.New(1000), TotalClaimed: bigmath.Zero(),
		VestingStartTimestamp: 0, CliffDurationMs: 100, LinearDurationMs: 900,
	}
	doc, _ := store.ToDoc(stateKey(v.User, v.LaunchpadID, v.AllocationType), v)
	if err := db.InsertOne(VestingStatesCollection, doc); err != nil {
		t.Fatalf("seed vesting state: %v", err)
	}
	return New(db, l, events.NoopSink{}), db, l
}

func TestAvailableToClaimZeroBeforeCliff(t *testing.T) {
	e, _, _ := seedVesting(t)
	v, err := e.loadState("buyer", "lp1", "SEED")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := AvailableToClaim(v, 50); got.Sign() != 0 {
		t.Fatalf("expected zero before cliff, got %s", got)
	}
}

func TestAvailableToClaimLinearAfterCliff(t *testing.T) {
	e, _, _ := seedVesting(t)
	v, _ := e.loadState("buyer", "lp1", "SEED")
	// cliff ends at 100, linear duration 900: at t=550, elapsed=450/900=50%.
	got := AvailableToClaim(v, 550)
	if got.Int64() != 500 {
		t.Fatalf("expected 500 available at 50%% linear, got %s", got)
	}
}

func TestAvailableToClaimCapsAtTotalAllocated(t *testing.T) {
	e, _, _ := seedVesting(t)
	v, _ := e.loadState("buyer", "lp1", "SEED")
	got := AvailableToClaim(v, 100000)
	if got.Int64() != 1000 {
		t.Fatalf("expected full allocation available after schedule end, got %s", got)
	}
}

func TestClaimPaysOutAndTracksClaimed(t *testing.T) {
	e, _, l := seedVesting(t)
	payout, err := e.Claim("buyer", "lp1", "SEED", "MRY", 550)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout.Int64() != 500 {
		t.Fatalf("expected payout 500, got %s", payout)
	}
	bal, err := l.GetBalance("buyer", "MRY")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.Int64() != 500 {
		t.Fatalf("expected balance 500, got %s", bal)
	}

	v, _ := e.loadState("buyer", "lp1", "SEED")
	if v.TotalClaimed.Int64() != 500 {
		t.Fatalf("expected totalClaimed 500, got %s", v.TotalClaimed)
	}
	if v.IsFullyClaimed {
		t.Fatal("should not be fully claimed at 50%")
	}
}

func TestClaimRejectsWhenNothingAvailable(t *testing.T) {
	e, _, _ := seedVesting(t)
	if _, err := e.Claim("buyer", "lp1", "SEED", "MRY", 50); err != ErrNothingToClaim {
		t.Fatalf("expected nothing-to-claim rejection, got %v", err)
	}
}

func TestNextVestingDateTracksSchedule(t *testing.T) {
	e, _, _ := seedVesting(t)
	v, _ := e.loadState("buyer", "lp1", "SEED")
	if d := NextVestingDate(v, 50); d == nil || *d != 100 {
		t.Fatalf("expected next date 100 pre-cliff, got %v", d)
	}
	if d := NextVestingDate(v, 500); d == nil || *d != 1000 {
		t.Fatalf("expected next date 1000 mid-linear, got %v", d)
	}
	if d := NextVestingDate(v, 1000); d != nil {
		t.Fatalf("expected nil after schedule end, got %v", *d)
	}
}
