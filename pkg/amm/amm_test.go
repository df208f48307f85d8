package amm

import (
	"testing"

	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/ledger"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/types"
)

func seedPoolEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	db := store.NewMemStore()
	for _, name := range []string{"lp1", "lp2", "trader"} {
		if err := ledger.EnsureAccount(db, name); err != nil {
			t.Fatalf("seed account: %v", err)
		}
	}
	l := ledger.New(db)
	for _, sym := range []string{"MRY", "TESTS"} {
		if err := l.AdjustBalance("lp1", sym, bigmath.New(1_000_000)); err != nil {
			t.Fatalf("seed lp1: %v", err)
		}
		if err := l.AdjustBalance("lp2", sym, bigmath.New(1_000_000)); err != nil {
			t.Fatalf("seed lp2: %v", err)
		}
		if err := l.AdjustBalance("trader", sym, bigmath.New(1_000_000)); err != nil {
			t.Fatalf("seed trader: %v", err)
		}
	}

	pool := &types.LiquidityPool{
		PoolID: "MRY_TESTS", TokenASymbol: "MRY", TokenBSymbol: "TESTS",
		TokenAReserve: bigmath.Zero(), TokenBReserve: bigmath.Zero(),
		TotalLpTokens: bigmath.Zero(), FeeGrowthGlobalA: bigmath.Zero(), FeeGrowthGlobalB: bigmath.Zero(),
		Status: "ACTIVE",
	}
	doc, err := store.ToDoc(pool.PoolID, pool)
	if err != nil {
		t.Fatalf("pool codec: %v", err)
	}
	if err := db.InsertOne(PoolsCollection, doc); err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	return New(db, l, events.NoopSink{}), db
}

func TestAddLiquidityInitialMintsSqrtMinusBurn(t *testing.T) {
	e, _ := seedPoolEngine(t)
	if err := e.AddLiquidity("lp1", "MRY_TESTS", bigmath.New(10000), bigmath.New(40000)); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	pool, err := e.Pool("MRY_TESTS")
	if err != nil {
		t.Fatalf("load pool: %v", err)
	}
	// sqrt(10000*40000) = sqrt(400_000_000) = 20000.
	if pool.TotalLpTokens.Int64() != 20000 {
		t.Fatalf("expected total LP 20000, got %s", pool.TotalLpTokens)
	}
	pos, found, err := e.loadPosition("lp1", "MRY_TESTS")
	if err != nil || !found {
		t.Fatalf("expected position, found=%v err=%v", found, err)
	}
	// burn = clamp(sqrt(20000), 1, 1000) = clamp(141, 1, 1000) = 141.
	if pos.LpTokenBalance.Int64() != 20000-141 {
		t.Fatalf("expected minted %d, got %s", 20000-141, pos.LpTokenBalance)
	}
}

func TestAddLiquiditySubsequentRejectsRatioDrift(t *testing.T) {
	e, _ := seedPoolEngine(t)
	if err := e.AddLiquidity("lp1", "MRY_TESTS", bigmath.New(10000), bigmath.New(40000)); err != nil {
		t.Fatalf("initial add: %v", err)
	}
	// ratio is 1:4, so 1000 MRY expects ~4000 TESTS; 10000 TESTS is far off.
	if err := e.AddLiquidity("lp2", "MRY_TESTS", bigmath.New(1000), bigmath.New(10000)); err != ErrRatioTolerance {
		t.Fatalf("expected ratio tolerance rejection, got %v", err)
	}
}

func TestAddLiquiditySubsequentMintsProRata(t *testing.T) {
	e, _ := seedPoolEngine(t)
	if err := e.AddLiquidity("lp1", "MRY_TESTS", bigmath.New(10000), bigmath.New(40000)); err != nil {
		t.Fatalf("initial add: %v", err)
	}
	if err := e.AddLiquidity("lp2", "MRY_TESTS", bigmath.New(1000), bigmath.New(4000)); err != nil {
		t.Fatalf("subsequent add: %v", err)
	}
	pos, found, err := e.loadPosition("lp2", "MRY_TESTS")
	if err != nil || !found {
		t.Fatalf("expected lp2 position: %v %v", found, err)
	}
	// fromA = 1000*20000/10000 = 2000, fromB = 4000*20000/40000 = 2000.
	if pos.LpTokenBalance.Int64() != 2000 {
		t.Fatalf("expected 2000 minted, got %s", pos.LpTokenBalance)
	}
}

func TestSwapAppliesFeeAndUpdatesReserves(t *testing.T) {
	e, _ := seedPoolEngine(t)
	if err := e.AddLiquidity("lp1", "MRY_TESTS", bigmath.New(100000), bigmath.New(100000)); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	pair := &types.TradingPair{PairID: "MRY_TESTS", BaseAssetSymbol: "MRY", QuoteAssetSymbol: "TESTS", BaseDecimals: 0, QuoteDecimals: 0}

	result, err := e.Swap(pair, "trader", "MRY_TESTS", "TESTS", "MRY", bigmath.New(1000), "trader", "tx1", 100)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	// amountInWithFee = 1000*9970/10000 = 997; out = 997*100000/(100000+997) = 98713... floor.
	if result.AmountOut.Sign() <= 0 {
		t.Fatalf("expected positive amountOut, got %s", result.AmountOut)
	}
	pool, _ := e.Pool("MRY_TESTS")
	if pool.TokenBReserve.Int64() != 100000+1000 {
		t.Fatalf("expected reserveB increased by full amountIn, got %s", pool.TokenBReserve)
	}
	if !pool.FeeGrowthGlobalB.IsPos() {
		t.Fatal("expected feeGrowthGlobalB to accrue")
	}
	if result.Trade.Source != "pool" {
		t.Fatalf("expected pool trade source, got %s", result.Trade.Source)
	}
}

func TestSwapRejectsUnknownPair(t *testing.T) {
	e, _ := seedPoolEngine(t)
	if err := e.AddLiquidity("lp1", "MRY_TESTS", bigmath.New(1000), bigmath.New(1000)); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	pair := &types.TradingPair{PairID: "MRY_TESTS", BaseAssetSymbol: "MRY", QuoteAssetSymbol: "TESTS"}
	if _, err := e.Swap(pair, "trader", "MRY_TESTS", "GOLD", "MRY", bigmath.New(10), "trader", "tx1", 1); err == nil {
		t.Fatal("expected error for pair not held by pool")
	}
}

func TestRemoveLiquidityReturnsProRataReservesAndFees(t *testing.T) {
	e, _ := seedPoolEngine(t)
	if err := e.AddLiquidity("lp1", "MRY_TESTS", bigmath.New(100000), bigmath.New(100000)); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	pair := &types.TradingPair{PairID: "MRY_TESTS", BaseAssetSymbol: "MRY", QuoteAssetSymbol: "TESTS"}
	if _, err := e.Swap(pair, "trader", "MRY_TESTS", "TESTS", "MRY", bigmath.New(10000), "trader", "tx1", 1); err != nil {
		t.Fatalf("swap: %v", err)
	}

	pos, _, err := e.loadPosition("lp1", "MRY_TESTS")
	if err != nil {
		t.Fatalf("load position: %v", err)
	}
	amountA, amountB, err := e.RemoveLiquidity("lp1", "MRY_TESTS", pos.LpTokenBalance)
	if err != nil {
		t.Fatalf("remove liquidity: %v", err)
	}
	if amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		t.Fatalf("expected positive payouts, got %s %s", amountA, amountB)
	}
}

func TestClaimFeesResnapshotsEntryCheckpoint(t *testing.T) {
	e, _ := seedPoolEngine(t)
	if err := e.AddLiquidity("lp1", "MRY_TESTS", bigmath.New(100000), bigmath.New(100000)); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	pair := &types.TradingPair{PairID: "MRY_TESTS", BaseAssetSymbol: "MRY", QuoteAssetSymbol: "TESTS"}
	if _, err := e.Swap(pair, "trader", "MRY_TESTS", "TESTS", "MRY", bigmath.New(10000), "trader", "tx1", 1); err != nil {
		t.Fatalf("swap: %v", err)
	}
	payoutA, payoutB, err := e.ClaimFees("lp1", "MRY_TESTS")
	if err != nil {
		t.Fatalf("claim fees: %v", err)
	}
	if payoutA.Sign() < 0 || payoutB.Sign() <= 0 {
		t.Fatalf("expected non-negative A payout and positive B payout, got %s %s", payoutA, payoutB)
	}
	// second claim immediately after should yield zero (entries re-snapshotted).
	payoutA2, payoutB2, err := e.ClaimFees("lp1", "MRY_TESTS")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if payoutA2.IsPos() || payoutB2.IsPos() {
		t.Fatalf("expected zero payout on immediate re-claim, got %s %s", payoutA2, payoutB2)
	}
}
