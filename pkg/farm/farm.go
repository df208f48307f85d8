// Package farm implements farm staking (spec.md §4.9): stake/unstake/harvest
// against an LP or plain token balance, with pro-rata reward bookkeeping
// accrued per block via rewardPerBlock, grounded on the AMM fee-growth
// checkpoint pattern (pkg/amm) generalized from LP fees to farm rewards.
package farm

import (
	"errors"
	"strings"

	"github.com/futureshock/meeray-core/pkg/amm"
	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/ledger"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/types"
)

const (
	FarmsCollection         = "farms"
	FarmPositionsCollection = "userFarmPositions"

	// LPTokenPrefix marks a staking token symbol as an LP share rather than
	// a plain account balance; the pool ID is the remainder of the symbol.
	LPTokenPrefix = "LP_"
)

var (
	ErrFarmNotFound      = errors.New("farm: not found")
	ErrFarmNotActive     = errors.New("farm: not active")
	ErrOutsideWindow     = errors.New("farm: outside staking window")
	ErrBelowMinStake     = errors.New("farm: amount below minStakeAmount")
	ErrInvalidAmount     = errors.New("farm: amount must be positive")
	ErrPositionNotFound  = errors.New("farm: user position not found")
	ErrInsufficientStake = errors.New("farm: insufficient staked amount")
)

type Engine struct {
	db     store.Store
	ledger *ledger.Ledger
	ammEng *amm.Engine
	sink   events.Sink
}

func New(db store.Store, l *ledger.Ledger, ammEng *amm.Engine, sink events.Sink) *Engine {
	return &Engine{db: db, ledger: l, ammEng: ammEng, sink: sink}
}

func positionKey(user, farmID string) string { return user + "_" + farmID }

func (e *Engine) loadFarm(farmID string) (*types.Farm, error) {
	doc, ok, err := e.db.FindOne(FarmsCollection, store.M{"_id": farmID})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrFarmNotFound
	}
	return store.FromDoc[types.Farm](doc)
}

func (e *Engine) saveFarm(f *types.Farm) error {
	doc, err := store.ToDoc(f.FarmID, f)
	if err != nil {
		return err
	}
	ok, err := e.db.UpdateOne(FarmsCollection, store.M{"_id": f.FarmID}, store.Update{Set: doc})
	if err != nil {
		return err
	}
	if !ok {
		return e.db.InsertOne(FarmsCollection, doc)
	}
	return nil
}

func (e *Engine) loadPosition(user, farmID string) (*types.UserFarmPosition, bool, error) {
	doc, ok, err := e.db.FindOne(FarmPositionsCollection, store.M{"_id": positionKey(user, farmID)})
	if err != nil || !ok {
		return nil, ok, err
	}
	pos, err := store.FromDoc[types.UserFarmPosition](doc)
	return pos, true, err
}

func (e *Engine) savePosition(pos *types.UserFarmPosition) error {
	doc, err := store.ToDoc(positionKey(pos.User, pos.FarmID), pos)
	if err != nil {
		return err
	}
	ok, err := e.db.UpdateOne(FarmPositionsCollection, store.M{"_id": positionKey(pos.User, pos.FarmID)}, store.Update{Set: doc})
	if err != nil {
		return err
	}
	if !ok {
		return e.db.InsertOne(FarmPositionsCollection, doc)
	}
	return nil
}

// debitStakingToken implements spec.md §4.9's LP-prefix routing: an
// LP-prefixed symbol debits the user's liquidity position for the derived
// pool, otherwise it debits the plain account balance via C3.
func (e *Engine) debitStakingToken(user, symbol string, amount *bigmath.Int) error {
	if poolID, ok := strings.CutPrefix(symbol, LPTokenPrefix); ok {
		return e.ammEng.AdjustPositionBalance(user, poolID, amount.Neg())
	}
	return e.ledger.AdjustBalance(user, symbol, amount.Neg())
}

func (e *Engine) creditStakingToken(user, symbol string, amount *bigmath.Int) error {
	if poolID, ok := strings.CutPrefix(symbol, LPTokenPrefix); ok {
		return e.ammEng.AdjustPositionBalance(user, poolID, amount)
	}
	return e.ledger.AdjustBalance(user, symbol, amount)
}

// Stake implements spec.md §4.9's stake operation.
func (e *Engine) Stake(user, farmID string, amount *bigmath.Int, ts int64) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	f, err := e.loadFarm(farmID)
	if err != nil {
		return err
	}
	if f.Status != "active" {
		return ErrFarmNotActive
	}
	if ts < f.StartTime || ts > f.EndTime {
		return ErrOutsideWindow
	}
	if f.MinStakeAmount != nil && f.MinStakeAmount.IsPos() && amount.Cmp(f.MinStakeAmount) < 0 {
		return ErrBelowMinStake
	}

	if err := e.debitStakingToken(user, f.StakingTokenSymbol, amount); err != nil {
		return err
	}

	pos, found, err := e.loadPosition(user, farmID)
	if err != nil {
		return err
	}
	if !found {
		pos = &types.UserFarmPosition{User: user, FarmID: farmID, StakedAmount: bigmath.Zero(), PendingRewards: bigmath.Zero()}
	} else {
		e.accrue(f, pos, ts)
	}
	pos.StakedAmount = pos.StakedAmount.Add(amount)
	pos.LastHarvestTime = ts
	if err := e.savePosition(pos); err != nil {
		return err
	}

	f.TotalStaked = f.TotalStaked.Add(amount)
	if err := e.saveFarm(f); err != nil {
		return err
	}

	e.sink.LogEvent("farm", "farm_stake", user, pos, "")
	return nil
}

// accrue applies pro-rata rewards for the elapsed blocks since the
// position's last harvest, proportional to its share of totalStaked at the
// time of accrual.
func (e *Engine) accrue(f *types.Farm, pos *types.UserFarmPosition, ts int64) {
	if f.TotalStaked.Sign() <= 0 || pos.StakedAmount.Sign() <= 0 {
		return
	}
	elapsed := ts - pos.LastHarvestTime
	if elapsed <= 0 {
		return
	}
	emitted := f.RewardPerBlock.Mul(bigmath.New(elapsed))
	share := bigmath.MulDiv(emitted, pos.StakedAmount, f.TotalStaked)
	pos.PendingRewards = pos.PendingRewards.Add(share)
}

// Unstake withdraws staked amount back to the user, accruing any
// outstanding rewards into PendingRewards first.
func (e *Engine) Unstake(user, farmID string, amount *bigmath.Int, ts int64) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	f, err := e.loadFarm(farmID)
	if err != nil {
		return err
	}
	pos, found, err := e.loadPosition(user, farmID)
	if err != nil {
		return err
	}
	if !found || pos.StakedAmount.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}
	e.accrue(f, pos, ts)

	if err := e.creditStakingToken(user, f.StakingTokenSymbol, amount); err != nil {
		return err
	}
	pos.StakedAmount = pos.StakedAmount.Sub(amount)
	pos.LastHarvestTime = ts
	if err := e.savePosition(pos); err != nil {
		return err
	}

	f.TotalStaked = f.TotalStaked.Sub(amount)
	if err := e.saveFarm(f); err != nil {
		return err
	}

	e.sink.LogEvent("farm", "farm_unstake", user, pos, "")
	return nil
}

// Harvest pays out accrued PendingRewards in the farm's reward token.
func (e *Engine) Harvest(user, farmID string, ts int64) (*bigmath.Int, error) {
	f, err := e.loadFarm(farmID)
	if err != nil {
		return nil, err
	}
	pos, found, err := e.loadPosition(user, farmID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPositionNotFound
	}
	e.accrue(f, pos, ts)

	payout := pos.PendingRewards
	pos.PendingRewards = bigmath.Zero()
	pos.LastHarvestTime = ts
	if err := e.savePosition(pos); err != nil {
		return nil, err
	}
	if payout.IsPos() {
		if err := e.ledger.AdjustBalance(user, f.RewardTokenSymbol, payout); err != nil {
			return nil, err
		}
	}
	e.sink.LogEvent("farm", "farm_harvest", user, pos, "")
	return payout, nil
}
