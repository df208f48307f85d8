// Package amm implements the constant-product AMM pool engine (spec.md
// §4.6), grounded on the Cosmos-SDK DEX keeper swap/add/remove-liquidity
// split found in other_examples' x/dex keeper (swap_secure.go,
// dex_advanced.go) — validate, resolve reserve direction by token symbol,
// apply the constant-product formula, update reserves, emit an event —
// adapted from sdk.Int/module-account escrow to pkg/ledger-mediated
// smallest-unit transfers.
package amm

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/ledger"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/types"
)

const (
	PoolsCollection     = "pools"
	PositionsCollection = "liquidityPositions"
	TradesCollection    = "trades"

	feeNumerator   = 9970
	feeDenominator = 10000

	minBurnFloor = 1
	minBurnCeil  = 1000
)

var (
	ErrPoolNotFound        = errors.New("amm: pool not found")
	ErrInvalidAmount       = errors.New("amm: amount must be positive")
	ErrRatioTolerance      = errors.New("amm: deposit ratio outside tolerance")
	ErrInsufficientReserve = errors.New("amm: insufficient reserves")
	ErrPositionNotFound    = errors.New("amm: liquidity position not found")
)

type Engine struct {
	db     store.Store
	ledger *ledger.Ledger
	sink   events.Sink

	// RatioTolerancePercent bounds how far a non-initial deposit's implied
	// ratio may drift from the pool's current reserve ratio (spec.md §4.6).
	RatioTolerancePercent int64
}

func New(db store.Store, l *ledger.Ledger, sink events.Sink) *Engine {
	return &Engine{db: db, ledger: l, sink: sink, RatioTolerancePercent: 1}
}

func positionKey(user, poolID string) string { return user + "_" + poolID }

func (e *Engine) loadPool(poolID string) (*types.LiquidityPool, error) {
	doc, ok, err := e.db.FindOne(PoolsCollection, store.M{"_id": poolID})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPoolNotFound
	}
	return store.FromDoc[types.LiquidityPool](doc)
}

func (e *Engine) savePool(pool *types.LiquidityPool) error {
	doc, err := store.ToDoc(pool.PoolID, pool)
	if err != nil {
		return err
	}
	ok, err := e.db.UpdateOne(PoolsCollection, store.M{"_id": pool.PoolID}, store.Update{Set: doc})
	if err != nil {
		return err
	}
	if !ok {
		return e.db.InsertOne(PoolsCollection, doc)
	}
	return nil
}

func (e *Engine) loadPosition(user, poolID string) (*types.UserLiquidityPosition, bool, error) {
	doc, ok, err := e.db.FindOne(PositionsCollection, store.M{"_id": positionKey(user, poolID)})
	if err != nil || !ok {
		return nil, ok, err
	}
	pos, err := store.FromDoc[types.UserLiquidityPosition](doc)
	return pos, true, err
}

func (e *Engine) savePosition(pos *types.UserLiquidityPosition) error {
	doc, err := store.ToDoc(positionKey(pos.User, pos.PoolID), pos)
	if err != nil {
		return err
	}
	ok, err := e.db.UpdateOne(PositionsCollection, store.M{"_id": positionKey(pos.User, pos.PoolID)}, store.Update{Set: doc})
	if err != nil {
		return err
	}
	if !ok {
		return e.db.InsertOne(PositionsCollection, doc)
	}
	return nil
}

// AddLiquidity implements spec.md §4.6's add-liquidity sequence.
func (e *Engine) AddLiquidity(user, poolID string, amountA, amountB *bigmath.Int) error {
	if amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		return ErrInvalidAmount
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}

	isInitial := pool.TotalLpTokens == nil || pool.TotalLpTokens.IsZero()
	if !isInitial {
		// expected B = amountA * reserveB / reserveA; reject drift beyond
		// RatioTolerancePercent.
		expectedB := bigmath.MulDiv(amountA, pool.TokenBReserve, pool.TokenAReserve)
		if !withinTolerance(expectedB, amountB, e.RatioTolerancePercent) {
			return ErrRatioTolerance
		}
	}

	if err := e.ledger.AdjustBalance(user, pool.TokenASymbol, amountA.Neg()); err != nil {
		return err
	}
	if err := e.ledger.AdjustBalance(user, pool.TokenBSymbol, amountB.Neg()); err != nil {
		return err
	}

	var minted *bigmath.Int
	if isInitial {
		total := bigmath.Sqrt(amountA.Mul(amountB))
		burned := clampBurn(total)
		minted = total.Sub(burned)
		if minted.Sign() <= 0 {
			return ErrInvalidAmount
		}
		pool.TotalLpTokens = total
		pool.FeeGrowthGlobalA = bigmath.Zero()
		pool.FeeGrowthGlobalB = bigmath.Zero()
	} else {
		fromA := bigmath.MulDiv(amountA, pool.TotalLpTokens, pool.TokenAReserve)
		fromB := bigmath.MulDiv(amountB, pool.TotalLpTokens, pool.TokenBReserve)
		minted = bigmath.Min(fromA, fromB)
		if minted.Sign() <= 0 {
			return ErrInvalidAmount
		}
		pool.TotalLpTokens = pool.TotalLpTokens.Add(minted)
	}

	pool.TokenAReserve = pool.TokenAReserve.Add(amountA)
	pool.TokenBReserve = pool.TokenBReserve.Add(amountB)
	if err := e.savePool(pool); err != nil {
		return err
	}

	pos, found, err := e.loadPosition(user, poolID)
	if err != nil {
		return err
	}
	if !found {
		pos = &types.UserLiquidityPosition{User: user, PoolID: poolID, LpTokenBalance: bigmath.Zero()}
	}
	pos.LpTokenBalance = pos.LpTokenBalance.Add(minted)
	pos.FeeGrowthEntryA = pool.FeeGrowthGlobalA.Clone()
	pos.FeeGrowthEntryB = pool.FeeGrowthGlobalB.Clone()
	if err := e.savePosition(pos); err != nil {
		return err
	}

	e.sink.LogEvent("amm", "add_liquidity", user, pos, "")
	return nil
}

func withinTolerance(expected, actual *bigmath.Int, tolerancePercent int64) bool {
	if expected.IsZero() {
		return actual.IsZero()
	}
	diff := expected.Sub(actual)
	if diff.IsNeg() {
		diff = diff.Neg()
	}
	allowed := bigmath.MulDiv(expected, bigmath.New(tolerancePercent), bigmath.New(100))
	return diff.Cmp(allowed) <= 0
}

// clampBurn derives the minimum-liquidity burn from the initial mint,
// clamped into [1, 1000] (spec.md §4.6).
func clampBurn(totalMinted *bigmath.Int) *bigmath.Int {
	burn := bigmath.Sqrt(totalMinted)
	if burn.Cmp(bigmath.New(minBurnFloor)) < 0 {
		return bigmath.New(minBurnFloor)
	}
	if burn.Cmp(bigmath.New(minBurnCeil)) > 0 {
		return bigmath.New(minBurnCeil)
	}
	return burn
}

// SwapResult is what Swap reports back to the caller.
type SwapResult struct {
	AmountOut *bigmath.Int
	Trade     *types.Trade
}

// Swap implements spec.md §4.6's swap operation.
func (e *Engine) Swap(pair *types.TradingPair, user, poolID, tokenIn, tokenOut string, amountIn *bigmath.Int, sender, txID string, ts int64) (SwapResult, error) {
	if amountIn.Sign() <= 0 {
		return SwapResult{}, ErrInvalidAmount
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return SwapResult{}, err
	}

	var reserveIn, reserveOut *bigmath.Int
	var tokenInSymbol, tokenOutSymbol string
	switch {
	case tokenIn == pool.TokenASymbol && tokenOut == pool.TokenBSymbol:
		reserveIn, reserveOut = pool.TokenAReserve, pool.TokenBReserve
		tokenInSymbol, tokenOutSymbol = pool.TokenASymbol, pool.TokenBSymbol
	case tokenIn == pool.TokenBSymbol && tokenOut == pool.TokenASymbol:
		reserveIn, reserveOut = pool.TokenBReserve, pool.TokenAReserve
		tokenInSymbol, tokenOutSymbol = pool.TokenBSymbol, pool.TokenASymbol
	default:
		return SwapResult{}, fmt.Errorf("amm: pool %s does not hold pair %s/%s", poolID, tokenIn, tokenOut)
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return SwapResult{}, ErrInsufficientReserve
	}

	amountInWithFee := bigmath.MulDiv(amountIn, bigmath.New(feeNumerator), bigmath.New(feeDenominator))
	if amountInWithFee.Sign() <= 0 {
		return SwapResult{}, ErrInvalidAmount
	}
	amountOut := bigmath.MulDiv(amountInWithFee, reserveOut, reserveIn.Add(amountInWithFee))
	if amountOut.Sign() <= 0 {
		return SwapResult{}, ErrInsufficientReserve
	}

	feeAmount := amountIn.Sub(amountInWithFee)
	feeDelta := bigmath.FeeGrowthDelta(feeAmount, tokenDecimalsOf(pair, tokenInSymbol), pool.TotalLpTokens)

	if err := e.ledger.AdjustBalance(user, tokenInSymbol, amountIn.Neg()); err != nil {
		return SwapResult{}, err
	}
	if err := e.ledger.AdjustBalance(user, tokenOutSymbol, amountOut); err != nil {
		return SwapResult{}, err
	}

	if tokenInSymbol == pool.TokenASymbol {
		pool.TokenAReserve = pool.TokenAReserve.Add(amountIn)
		pool.TokenBReserve = pool.TokenBReserve.Sub(amountOut)
		pool.FeeGrowthGlobalA = pool.FeeGrowthGlobalA.Add(feeDelta)
	} else {
		pool.TokenBReserve = pool.TokenBReserve.Add(amountIn)
		pool.TokenAReserve = pool.TokenAReserve.Sub(amountOut)
		pool.FeeGrowthGlobalB = pool.FeeGrowthGlobalB.Add(feeDelta)
	}
	if err := e.savePool(pool); err != nil {
		return SwapResult{}, err
	}

	trade := buildPoolTrade(pair, tokenInSymbol, tokenOutSymbol, user, sender, txID, amountIn, amountOut, ts)
	doc, err := store.ToDoc(trade.TradeID, trade)
	if err != nil {
		return SwapResult{}, err
	}
	if err := e.db.InsertOne(TradesCollection, doc); err != nil {
		return SwapResult{}, err
	}

	e.sink.LogEvent("amm", "swap", user, trade, txID)
	return SwapResult{AmountOut: amountOut, Trade: trade}, nil
}

func tokenDecimalsOf(pair *types.TradingPair, symbol string) int {
	if pair == nil {
		return 0
	}
	if symbol == pair.BaseAssetSymbol {
		return pair.BaseDecimals
	}
	return pair.QuoteDecimals
}

// buildPoolTrade infers buy/sell side by matching tokenIn/tokenOut against
// the pair's base/quote symbols (spec.md §4.6): buying base means paying
// quote in and receiving base out.
func buildPoolTrade(pair *types.TradingPair, tokenIn, tokenOut, user, sender, txID string, amountIn, amountOut *bigmath.Int, ts int64) *types.Trade {
	id := PoolTradeID(pair.PairID, tokenIn, tokenOut, sender, txID, amountOut)
	isMakerBuyer := tokenOut == pair.BaseAssetSymbol
	var qty, price *bigmath.Int
	if isMakerBuyer {
		qty = amountOut
		price = bigmath.DecimalAwarePrice(amountIn, amountOut, pair.BaseDecimals, pair.QuoteDecimals)
	} else {
		qty = amountIn
		price = bigmath.DecimalAwarePrice(amountOut, amountIn, pair.BaseDecimals, pair.QuoteDecimals)
	}
	return &types.Trade{
		TradeID:      id,
		PairID:       pair.PairID,
		BaseSymbol:   pair.BaseAssetSymbol,
		QuoteSymbol:  pair.QuoteAssetSymbol,
		BuyerUserID:  user,
		SellerUserID: user,
		Price:        price,
		Quantity:     qty,
		Total:        price.Mul(qty),
		Timestamp:    ts,
		IsMakerBuyer: isMakerBuyer,
		Source:       "pool",
		Settled:      true,
	}
}

// PoolTradeID computes spec.md §6's deterministic pool-trade ID:
// sha256(pairId|tokenIn|tokenOut|sender|txId|amountOut)[:16].
func PoolTradeID(pairID, tokenIn, tokenOut, sender, txID string, amountOut *bigmath.Int) string {
	h := sha256.Sum256([]byte(pairID + "|" + tokenIn + "|" + tokenOut + "|" + sender + "|" + txID + "|" + amountOut.String()))
	return hex.EncodeToString(h[:])[:16]
}

// RemoveLiquidity implements spec.md §4.6's remove-liquidity operation,
// including the accrued-fee claim on the portion burned.
func (e *Engine) RemoveLiquidity(user, poolID string, lpAmount *bigmath.Int) (*bigmath.Int, *bigmath.Int, error) {
	if lpAmount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, nil, err
	}
	pos, found, err := e.loadPosition(user, poolID)
	if err != nil {
		return nil, nil, err
	}
	if !found || pos.LpTokenBalance.Cmp(lpAmount) < 0 {
		return nil, nil, ErrPositionNotFound
	}

	amountA := bigmath.MulDiv(lpAmount, pool.TokenAReserve, pool.TotalLpTokens)
	amountB := bigmath.MulDiv(lpAmount, pool.TokenBReserve, pool.TotalLpTokens)

	payoutA := claimPortion(pool.FeeGrowthGlobalA, pos.FeeGrowthEntryA, lpAmount)
	payoutB := claimPortion(pool.FeeGrowthGlobalB, pos.FeeGrowthEntryB, lpAmount)

	pool.TokenAReserve = pool.TokenAReserve.Sub(amountA)
	pool.TokenBReserve = pool.TokenBReserve.Sub(amountB)
	pool.TotalLpTokens = pool.TotalLpTokens.Sub(lpAmount)
	if err := e.savePool(pool); err != nil {
		return nil, nil, err
	}

	pos.LpTokenBalance = pos.LpTokenBalance.Sub(lpAmount)
	pos.FeeGrowthEntryA = pool.FeeGrowthGlobalA.Clone()
	pos.FeeGrowthEntryB = pool.FeeGrowthGlobalB.Clone()
	if err := e.savePosition(pos); err != nil {
		return nil, nil, err
	}

	totalA := amountA.Add(payoutA)
	totalB := amountB.Add(payoutB)
	if err := e.ledger.AdjustBalance(user, pool.TokenASymbol, totalA); err != nil {
		return nil, nil, err
	}
	if err := e.ledger.AdjustBalance(user, pool.TokenBSymbol, totalB); err != nil {
		return nil, nil, err
	}

	e.sink.LogEvent("amm", "remove_liquidity", user, pos, "")
	return totalA, totalB, nil
}

// claimPortion implements spec.md §4.6's fee-claim formula:
// (feeGrowthGlobal - feeGrowthEntry) * lp / 10^18.
func claimPortion(feeGrowthGlobal, feeGrowthEntry, lpAmount *bigmath.Int) *bigmath.Int {
	delta := feeGrowthGlobal.Sub(feeGrowthEntry)
	if delta.Sign() <= 0 {
		return bigmath.Zero()
	}
	return bigmath.MulDiv(delta, lpAmount, bigmath.Pow10(18))
}

// ClaimFees implements spec.md §4.6's claim-fees operation: the same
// formula applied over the user's full LP balance, then re-snapshots the
// entry checkpoints.
func (e *Engine) ClaimFees(user, poolID string) (*bigmath.Int, *bigmath.Int, error) {
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, nil, err
	}
	pos, found, err := e.loadPosition(user, poolID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, ErrPositionNotFound
	}

	payoutA := claimPortion(pool.FeeGrowthGlobalA, pos.FeeGrowthEntryA, pos.LpTokenBalance)
	payoutB := claimPortion(pool.FeeGrowthGlobalB, pos.FeeGrowthEntryB, pos.LpTokenBalance)

	pos.FeeGrowthEntryA = pool.FeeGrowthGlobalA.Clone()
	pos.FeeGrowthEntryB = pool.FeeGrowthGlobalB.Clone()
	if err := e.savePosition(pos); err != nil {
		return nil, nil, err
	}

	if payoutA.IsPos() {
		if err := e.ledger.AdjustBalance(user, pool.TokenASymbol, payoutA); err != nil {
			return nil, nil, err
		}
	}
	if payoutB.IsPos() {
		if err := e.ledger.AdjustBalance(user, pool.TokenBSymbol, payoutB); err != nil {
			return nil, nil, err
		}
	}

	e.sink.LogEvent("amm", "claim_fees", user, pos, "")
	return payoutA, payoutB, nil
}

// Quote simulates a swap without mutating state — consumed by the liquidity
// aggregator (C7).
func (e *Engine) Quote(poolID, tokenIn, tokenOut string, amountIn *bigmath.Int) (*bigmath.Int, error) {
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	var reserveIn, reserveOut *bigmath.Int
	switch {
	case tokenIn == pool.TokenASymbol && tokenOut == pool.TokenBSymbol:
		reserveIn, reserveOut = pool.TokenAReserve, pool.TokenBReserve
	case tokenIn == pool.TokenBSymbol && tokenOut == pool.TokenASymbol:
		reserveIn, reserveOut = pool.TokenBReserve, pool.TokenAReserve
	default:
		return nil, fmt.Errorf("amm: pool %s does not hold pair %s/%s", poolID, tokenIn, tokenOut)
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return bigmath.Zero(), nil
	}
	amountInWithFee := bigmath.MulDiv(amountIn, bigmath.New(feeNumerator), bigmath.New(feeDenominator))
	return bigmath.MulDiv(amountInWithFee, reserveOut, reserveIn.Add(amountInWithFee)), nil
}

func (e *Engine) Pool(poolID string) (*types.LiquidityPool, error) {
	return e.loadPool(poolID)
}

// Position exposes a user's liquidity position — consumed by farm staking
// (C9) to read LP balances it doesn't itself own.
func (e *Engine) Position(user, poolID string) (*types.UserLiquidityPosition, bool, error) {
	return e.loadPosition(user, poolID)
}

// AdjustPositionBalance applies delta to a user's LP token balance directly,
// without touching pool reserves — consumed by farm staking (C9) when it
// moves LP shares between a liquidity position and a farm stake.
func (e *Engine) AdjustPositionBalance(user, poolID string, delta *bigmath.Int) error {
	pos, found, err := e.loadPosition(user, poolID)
	if err != nil {
		return err
	}
	if !found {
		pos = &types.UserLiquidityPosition{User: user, PoolID: poolID, LpTokenBalance: bigmath.Zero()}
	}
	newBalance := pos.LpTokenBalance.Add(delta)
	if newBalance.IsNeg() {
		return ErrInsufficientReserve
	}
	pos.LpTokenBalance = newBalance
	return e.savePosition(pos)
}
