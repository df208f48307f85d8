package orderbook

import (
	"testing"

	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/types"
)

func testPair() *types.TradingPair {
	return &types.TradingPair{
		PairID:           "MRY_TESTS",
		BaseAssetSymbol:  "MRY",
		QuoteAssetSymbol: "TESTS",
		TickSize:         bigmath.New(1),
		LotSize:          bigmath.New(1),
		Status:           "TRADING",
	}
}

func limitOrder(id, user string, side types.Side, price, qty int64) *types.Order {
	return &types.Order{
		OrderID:        id,
		UserID:         user,
		PairID:         "MRY_TESTS",
		Side:           side,
		Type:           types.Limit,
		Price:          bigmath.New(price),
		Quantity:       bigmath.New(qty),
		FilledQuantity: bigmath.Zero(),
		Status:         types.StatusOpen,
	}
}

// Seed test 4 (spec.md §8): single ask 100 @ 10, incoming market buy qty 40.
func TestMarketBuyPartialFillAgainstSingleAsk(t *testing.T) {
	pair := testPair()
	book := NewBook(pair.PairID)

	ask := limitOrder("ask1", "seller", types.Sell, 10, 100)
	book.AddOrder(ask)

	taker := &types.Order{
		OrderID:        "taker1",
		UserID:         "buyer",
		PairID:         pair.PairID,
		Side:           types.Buy,
		Type:           types.Market,
		Quantity:       bigmath.New(40),
		FilledQuantity: bigmath.Zero(),
	}

	result := book.Match(pair, taker, 1000)
	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.Price.Int64() != 10 || trade.Quantity.Int64() != 40 {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if !result.Remaining.IsZero() {
		t.Fatalf("taker should be fully filled, remaining=%s", result.Remaining)
	}
	if ask.FilledQuantity.Int64() != 40 {
		t.Fatalf("expected maker filled 40, got %s", ask.FilledQuantity)
	}
	if ask.Status != types.StatusPartiallyFilled {
		t.Fatalf("expected maker partially filled, got %s", ask.Status)
	}
	if ask.Remaining().Int64() != 60 {
		t.Fatalf("expected maker remaining 60, got %s", ask.Remaining())
	}
}

func TestPriceTimePriorityFIFOWithinLevel(t *testing.T) {
	pair := testPair()
	book := NewBook(pair.PairID)

	first := limitOrder("ask-first", "s1", types.Sell, 10, 50)
	second := limitOrder("ask-second", "s2", types.Sell, 10, 50)
	book.AddOrder(first)
	book.AddOrder(second)

	taker := &types.Order{
		OrderID: "t1", UserID: "buyer", PairID: pair.PairID,
		Side: types.Buy, Type: types.Market,
		Quantity: bigmath.New(60), FilledQuantity: bigmath.Zero(),
	}
	result := book.Match(pair, taker, 1)
	if len(result.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(result.Trades))
	}
	if result.Trades[0].MakerOrderID != "ask-first" {
		t.Fatalf("expected FIFO: first resting order fills first, got %s", result.Trades[0].MakerOrderID)
	}
	if result.Trades[0].Quantity.Int64() != 50 {
		t.Fatalf("first maker should fully fill at 50, got %s", result.Trades[0].Quantity)
	}
	if result.Trades[1].MakerOrderID != "ask-second" || result.Trades[1].Quantity.Int64() != 10 {
		t.Fatalf("second maker should fill remaining 10, got %+v", result.Trades[1])
	}
}

func TestLimitDoesNotCrossBeyondPrice(t *testing.T) {
	pair := testPair()
	book := NewBook(pair.PairID)
	book.AddOrder(limitOrder("ask1", "s1", types.Sell, 12, 10))

	taker := limitOrder("buy1", "b1", types.Buy, 10, 5) // won't cross 12
	result := book.Match(pair, taker, 1)
	if len(result.Trades) != 0 {
		t.Fatalf("expected no trades, taker price below ask")
	}
	if result.Remaining.Int64() != 5 {
		t.Fatalf("expected full remaining, got %s", result.Remaining)
	}
	book.AddOrder(taker)
	if book.Crossed() {
		t.Fatal("book must not rest in a crossed state")
	}
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	book := NewBook("MRY_TESTS")
	o := limitOrder("ord1", "u1", types.Buy, 5, 10)
	book.AddOrder(o)
	if !book.RemoveOrder("ord1") {
		t.Fatal("expected removal to succeed")
	}
	if book.RemoveOrder("ord1") {
		t.Fatal("second removal should report not found")
	}
	if book.BestBid() != nil {
		t.Fatal("book should be empty after removal")
	}
}

func TestSnapshotAggregatesAndTruncatesDepth(t *testing.T) {
	book := NewBook("MRY_TESTS")
	book.AddOrder(limitOrder("a", "u", types.Sell, 10, 5))
	book.AddOrder(limitOrder("b", "u", types.Sell, 10, 7))
	book.AddOrder(limitOrder("c", "u", types.Sell, 11, 3))

	_, asks := book.Snapshot(1)
	if len(asks) != 1 {
		t.Fatalf("expected depth-limited to 1 level, got %d", len(asks))
	}
	if asks[0].Price.Int64() != 10 || asks[0].Qty.Int64() != 12 {
		t.Fatalf("expected aggregated level 10@12, got %+v", asks[0])
	}
}
