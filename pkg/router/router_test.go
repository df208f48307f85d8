package router

import (
	"testing"

	"github.com/futureshock/meeray-core/pkg/aggregator"
	"github.com/futureshock/meeray-core/pkg/amm"
	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/ledger"
	"github.com/futureshock/meeray-core/pkg/matching"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/types"
)

func seedRouter(t *testing.T) (*Router, store.Store, *ledger.Ledger) {
	t.Helper()
	db := store.NewMemStore()
	for _, name := range []string{"lp1", "seller", "trader"} {
		if err := ledger.EnsureAccount(db, name); err != nil {
			t.Fatalf("seed account: %v", err)
		}
	}
	l := ledger.New(db)
	for _, sym := range []string{"MRY", "TESTS"} {
		if err := l.AdjustBalance("lp1", sym, bigmath.New(1_000_000)); err != nil {
			t.Fatalf("seed lp1: %v", err)
		}
		if err := l.AdjustBalance("trader", sym, bigmath.New(1_000_000)); err != nil {
			t.Fatalf("seed trader: %v", err)
		}
	}
	if err := l.AdjustBalance("seller", "MRY", bigmath.New(1_000_000)); err != nil {
		t.Fatalf("seed seller: %v", err)
	}

	for _, sym := range []string{"MRY", "TESTS"} {
		tok := &types.Token{Symbol: sym, Precision: 0, MaxSupply: bigmath.New(0), CurrentSupply: bigmath.New(0)}
		doc, _ := store.ToDoc(sym, tok)
		if err := db.InsertOne(TokensCollection, doc); err != nil {
			t.Fatalf("seed token %s: %v", sym, err)
		}
	}

	pool := &types.LiquidityPool{
		PoolID: "MRY_TESTS", TokenASymbol: "MRY", TokenBSymbol: "TESTS",
		TokenAReserve: bigmath.Zero(), TokenBReserve: bigmath.Zero(),
		TotalLpTokens: bigmath.Zero(), FeeGrowthGlobalA: bigmath.Zero(), FeeGrowthGlobalB: bigmath.Zero(),
		Status: "ACTIVE",
	}
	poolDoc, _ := store.ToDoc(pool.PoolID, pool)
	if err := db.InsertOne(amm.PoolsCollection, poolDoc); err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	pair := &types.TradingPair{
		PairID: "MRY_TESTS", BaseAssetSymbol: "MRY", QuoteAssetSymbol: "TESTS",
		TickSize: bigmath.New(1), LotSize: bigmath.New(1), Status: "TRADING",
	}
	pairDoc, _ := store.ToDoc(pair.PairID, pair)
	if err := db.InsertOne(matching.TradingPairsCollection, pairDoc); err != nil {
		t.Fatalf("seed pair: %v", err)
	}

	ammEng := amm.New(db, l, events.NoopSink{})
	if err := ammEng.AddLiquidity("lp1", "MRY_TESTS", bigmath.New(10000), bigmath.New(10000)); err != nil {
		t.Fatalf("seed pool liquidity: %v", err)
	}

	matchEng := matching.New(db, l, events.NoopSink{})
	if err := matchEng.Warmup(); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	ask := &types.Order{
		OrderID: "ask1", UserID: "seller", PairID: "MRY_TESTS",
		Side: types.Sell, Type: types.Limit, Price: bigmath.New(2),
		Quantity: bigmath.New(500), FilledQuantity: bigmath.Zero(), Status: types.StatusOpen,
	}
	if _, err := matchEng.AddOrder(ask, 1); err != nil {
		t.Fatalf("rest ask: %v", err)
	}

	aggEng := aggregator.New(db, ammEng, matchEng)
	return New(db, l, ammEng, aggEng, matchEng), db, l
}

func TestValidateRejectsUnknownToken(t *testing.T) {
	r, _, _ := seedRouter(t)
	req := TradeRequest{Sender: "trader", TokenIn: "TESTS", TokenOut: "GOLD", AmountIn: bigmath.New(10), MinAmountOut: bigmath.New(1)}
	if ok, reason := r.Validate(req); ok || reason != ErrUnknownToken.Error() {
		t.Fatalf("expected unknown token rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestValidateRejectsMultipleConstraints(t *testing.T) {
	r, _, _ := seedRouter(t)
	slip := int64(1)
	req := TradeRequest{
		Sender: "trader", TokenIn: "TESTS", TokenOut: "MRY", AmountIn: bigmath.New(10),
		MinAmountOut: bigmath.New(1), MaxSlippagePercent: &slip,
	}
	if ok, reason := r.Validate(req); ok || reason != ErrConstraintCount.Error() {
		t.Fatalf("expected constraint-count rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestValidateRejectsInsufficientBalance(t *testing.T) {
	r, _, _ := seedRouter(t)
	req := TradeRequest{Sender: "trader", TokenIn: "TESTS", TokenOut: "MRY", AmountIn: bigmath.New(10_000_000), MinAmountOut: bigmath.New(1)}
	if ok, reason := r.Validate(req); ok || reason != "insufficient balance" {
		t.Fatalf("expected insufficient balance rejection, got ok=%v reason=%s", ok, reason)
	}
}

func TestValidateAcceptsNoRouteMarketTrade(t *testing.T) {
	r, _, _ := seedRouter(t)
	req := TradeRequest{Sender: "trader", TokenIn: "TESTS", TokenOut: "MRY", AmountIn: bigmath.New(100), MinAmountOut: bigmath.New(1)}
	if ok, reason := r.Validate(req); !ok {
		t.Fatalf("expected acceptance, got reason=%s", reason)
	}
}

func TestProcessPicksAMMWhenNoRoutesGiven(t *testing.T) {
	r, _, l := seedRouter(t)
	req := TradeRequest{Sender: "trader", TokenIn: "TESTS", TokenOut: "MRY", AmountIn: bigmath.New(100), MinAmountOut: bigmath.New(1)}
	result, err := r.Process(req, "tx1", 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.TotalAmountOut.Sign() <= 0 {
		t.Fatalf("expected positive output, got %s", result.TotalAmountOut)
	}
	bal, err := l.GetBalance("trader", "MRY")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.Cmp(bigmath.New(1_000_000)) <= 0 {
		t.Fatalf("expected trader MRY balance to increase, got %s", bal)
	}
}

func TestProcessRerouteOnUnsatisfiableAMMMinOut(t *testing.T) {
	r, _, _ := seedRouter(t)
	// The AMM can't possibly return 1,000,000 MRY for 100 TESTS out of a
	// 10,000:10,000 pool, so this must reroute into a limit order on the
	// book instead of executing the losing AMM quote.
	req := TradeRequest{Sender: "trader", TokenIn: "TESTS", TokenOut: "MRY", AmountIn: bigmath.New(100), MinAmountOut: bigmath.New(1_000_000)}
	result, err := r.Process(req, "tx2", 11)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(result.Filled) != 1 || result.Filled[0].Type != aggregator.SourceOrderBook {
		t.Fatalf("expected a single order-book reroute fill, got %+v", result.Filled)
	}
	if !result.Deferred {
		t.Fatalf("expected the slippage check to be deferred since the resting limit order can't fill immediately at this price")
	}
}

func TestProcessExplicitRoutesSplitAcrossVenues(t *testing.T) {
	r, _, _ := seedRouter(t)
	req := TradeRequest{
		Sender: "trader", TokenIn: "TESTS", TokenOut: "MRY", AmountIn: bigmath.New(100),
		MinAmountOut: bigmath.New(1),
		Routes: []RouteAllocation{
			{Type: aggregator.SourceAMM, Allocation: 70, PoolID: "MRY_TESTS"},
			{Type: aggregator.SourceOrderBook, Allocation: 30, PairID: "MRY_TESTS"},
		},
	}
	result, err := r.Process(req, "tx3", 12)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(result.Filled) != 2 {
		t.Fatalf("expected two route fills, got %+v", result.Filled)
	}
	if result.TotalAmountOut.Sign() <= 0 {
		t.Fatalf("expected positive combined output, got %s", result.TotalAmountOut)
	}
}
