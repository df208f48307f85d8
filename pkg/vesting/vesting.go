// Package vesting implements cliff + linear vesting claim accounting
// (spec.md §4.10): a stateless formula module operating on VestingState
// documents, grounded on the AMM fee-growth checkpoint module's load/mutate/
// save shape (pkg/amm) generalized to a schedule-driven claim instead of a
// pool-state update.
package vesting

import (
	"errors"

	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/ledger"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/types"
)

const VestingStatesCollection = "vestingStates"

var (
	ErrNotFound       = errors.New("vesting: state not found")
	ErrNothingToClaim = errors.New("vesting: nothing available to claim")
)

type Engine struct {
	db     store.Store
	ledger *ledger.Ledger
	sink   events.Sink
}

func New(db store.Store, l *ledger.Ledger, sink events.Sink) *Engine {
	return &Engine{db: db, ledger: l, sink: sink}
}

func stateKey(user, launchpadID, allocationType string) string {
	return user + "_" + launchpadID + "_" + allocationType
}

func (e *Engine) loadState(user, launchpadID, allocationType string) (*types.VestingState, error) {
	doc, ok, err := e.db.FindOne(VestingStatesCollection, store.M{"_id": stateKey(user, launchpadID, allocationType)})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return store.FromDoc[types.VestingState](doc)
}

func (e *Engine) saveState(v *types.VestingState) error {
	doc, err := store.ToDoc(stateKey(v.User, v.LaunchpadID, v.AllocationType), v)
	if err != nil {
		return err
	}
	ok, err := e.db.UpdateOne(VestingStatesCollection, store.M{"_id": stateKey(v.User, v.LaunchpadID, v.AllocationType)}, store.Update{Set: doc})
	if err != nil {
		return err
	}
	if !ok {
		return e.db.InsertOne(VestingStatesCollection, doc)
	}
	return nil
}

// AvailableToClaim implements spec.md §4.10's formula:
// min(totalAllocated·elapsed/duration, totalAllocated) − totalClaimed,
// zero before the cliff ends and zero once fully claimed.
func AvailableToClaim(v *types.VestingState, t int64) *bigmath.Int {
	cliffEnd := v.VestingStartTimestamp + v.CliffDurationMs
	if t < cliffEnd {
		return bigmath.Zero()
	}
	duration := v.LinearDurationMs
	if duration <= 0 {
		vested := v.TotalAllocated
		return nonNegative(vested.Sub(v.TotalClaimed))
	}
	elapsed := t - cliffEnd
	if elapsed > duration {
		elapsed = duration
	}
	vested := bigmath.MulDiv(v.TotalAllocated, bigmath.New(elapsed), bigmath.New(duration))
	vested = bigmath.Min(vested, v.TotalAllocated)
	return nonNegative(vested.Sub(v.TotalClaimed))
}

func nonNegative(v *bigmath.Int) *bigmath.Int {
	if v.IsNeg() {
		return bigmath.Zero()
	}
	return v
}

// NextVestingDate implements spec.md §4.10: the next schedule boundary
// strictly after t — the cliff end if not yet reached, otherwise the linear
// schedule's end, or nil once fully vested.
func NextVestingDate(v *types.VestingState, t int64) *int64 {
	cliffEnd := v.VestingStartTimestamp + v.CliffDurationMs
	if t < cliffEnd {
		return &cliffEnd
	}
	linearEnd := cliffEnd + v.LinearDurationMs
	if t < linearEnd {
		return &linearEnd
	}
	return nil
}

// IsFullyClaimed implements spec.md §4.10: totalClaimed == totalAllocated.
func IsFullyClaimed(v *types.VestingState) bool {
	return v.TotalClaimed.Cmp(v.TotalAllocated) == 0
}

// Claim pays out whatever is available at t and updates the claimed total.
func (e *Engine) Claim(user, launchpadID, allocationType, payoutSymbol string, t int64) (*bigmath.Int, error) {
	v, err := e.loadState(user, launchpadID, allocationType)
	if err != nil {
		return nil, err
	}
	available := AvailableToClaim(v, t)
	if available.Sign() <= 0 {
		return nil, ErrNothingToClaim
	}
	if err := e.ledger.AdjustBalance(user, payoutSymbol, available); err != nil {
		return nil, err
	}
	v.TotalClaimed = v.TotalClaimed.Add(available)
	v.IsFullyClaimed = IsFullyClaimed(v)
	if err := e.saveState(v); err != nil {
		return nil, err
	}
	e.sink.LogEvent("vesting", "vesting_claim", user, v, "")
	return available, nil
}
