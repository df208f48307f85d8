// Package matching implements the matching engine (spec.md §4.5): a
// pairId -> *orderbook.Book registry, lazily populated and warmed up from
// the store, grounded on the teacher's MarketRegistry lazy-construction
// pattern (pkg/app/core/mempool) generalized from a single fixed market to
// an arbitrary set of TRADING pairs.
package matching

import (
	"errors"
	"fmt"
	"sync"

	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/ledger"
	"github.com/futureshock/meeray-core/pkg/orderbook"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/types"
)

const (
	OrdersCollection       = "orders"
	TradesCollection       = "trades"
	TradingPairsCollection = "tradingPairs"
)

// Engine owns one orderbook.Book per trading pair.
type Engine struct {
	mu     sync.Mutex
	db     store.Store
	ledger *ledger.Ledger
	sink   events.Sink

	books map[string]*orderbook.Book
	pairs map[string]*types.TradingPair
}

func New(db store.Store, l *ledger.Ledger, sink events.Sink) *Engine {
	return &Engine{
		db:     db,
		ledger: l,
		sink:   sink,
		books:  make(map[string]*orderbook.Book),
		pairs:  make(map[string]*types.TradingPair),
	}
}

// Warmup constructs a book for every TRADING pair and replays its resting
// OPEN/PARTIALLY_FILLED LIMIT orders, in createdAt order, so book state is
// reconstructed identically to how it stood before restart (spec.md §4.5).
func (e *Engine) Warmup() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pairDocs, err := e.db.Find(TradingPairsCollection, store.M{"status": "TRADING"})
	if err != nil {
		return err
	}
	for _, doc := range pairDocs {
		pair, err := store.FromDoc[types.TradingPair](doc)
		if err != nil {
			return err
		}
		e.pairs[pair.PairID] = pair
		book := orderbook.NewBook(pair.PairID)
		e.books[pair.PairID] = book

		orderDocs, err := e.db.Find(OrdersCollection, store.M{
			"pairId": pair.PairID,
			"type":   string(types.Limit),
			"status": store.In{Values: []interface{}{string(types.StatusOpen), string(types.StatusPartiallyFilled)}},
		})
		if err != nil {
			return err
		}
		sortByCreatedAt(orderDocs)
		for _, od := range orderDocs {
			o, err := store.FromDoc[types.Order](od)
			if err != nil {
				return err
			}
			book.AddOrder(o)
		}
	}
	return nil
}

func sortByCreatedAt(docs []store.Document) {
	for i := 1; i < len(docs); i++ {
		for j := i; j > 0; j-- {
			a, _ := docs[j-1]["createdAt"].(string)
			b, _ := docs[j]["createdAt"].(string)
			if a <= b {
				break
			}
			docs[j-1], docs[j] = docs[j], docs[j-1]
		}
	}
}

// bookFor lazily loads a pair + book for cases where Warmup hasn't run
// (unit tests exercising a single pair in isolation).
func (e *Engine) bookFor(pairID string) (*orderbook.Book, *types.TradingPair, bool) {
	book, ok := e.books[pairID]
	if ok {
		return book, e.pairs[pairID], true
	}
	doc, ok, err := e.db.FindOne(TradingPairsCollection, store.M{"_id": pairID})
	if err != nil || !ok {
		return nil, nil, false
	}
	pair, err := store.FromDoc[types.TradingPair](doc)
	if err != nil || pair.Status != "TRADING" {
		return nil, nil, false
	}
	book = orderbook.NewBook(pairID)
	e.books[pairID] = book
	e.pairs[pairID] = pair
	return book, pair, true
}

// BookFor exposes the per-pair book to other components (the liquidity
// aggregator, C7) without letting them mutate engine-internal state.
func (e *Engine) BookFor(pairID string) (*orderbook.Book, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	book, _, ok := e.bookFor(pairID)
	return book, ok
}

// AddResult is what AddOrder reports back to the caller (the executor).
type AddResult struct {
	Accepted bool
	Reason   string
	Order    *types.Order
	Trades   []types.Trade
}

// AddOrder implements spec.md §4.5's six-step addOrder sequence.
func (e *Engine) AddOrder(taker *types.Order, ts int64) (AddResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, pair, ok := e.bookFor(taker.PairID)
	if !ok {
		taker.Status = types.StatusRejected
		_ = e.persistOrder(taker)
		return AddResult{Accepted: false, Reason: "unknown or non-trading pair"}, nil
	}

	if taker.FilledQuantity == nil {
		taker.FilledQuantity = bigmath.Zero()
	}
	if taker.Status == "" {
		taker.Status = types.StatusOpen
	}
	if err := e.persistOrder(taker); err != nil {
		return AddResult{}, err
	}

	result := book.Match(pair, taker, ts)

	filledQty := bigmath.Zero()
	filledQuoteValue := bigmath.Zero()

	for i := range result.Trades {
		trade := &result.Trades[i]
		maker := result.MakerOrders[trade.MakerOrderID]

		filledQty = filledQty.Add(trade.Quantity)
		filledQuoteValue = filledQuoteValue.Add(trade.Total)
		if maker != nil {
			maker.CumulativeQuoteValue = addQuoteValue(maker.CumulativeQuoteValue, trade.Total)
		}

		// A deferred reroute order carries minAmountOut past the point its
		// slippage check would normally run; re-evaluate it on every fill
		// that lands against it, as either side of the trade, and fail just
		// this fill (not the whole order) if it comes up short
		// (SPEC_FULL.md §5 decision 3).
		switch {
		case !minAmountOutSatisfied(taker, filledQty, filledQuoteValue):
			trade.Settled = false
			trade.SettleErr = "taker minAmountOut breached"
			e.sink.CriticalSettlementFailure(trade.TradeID, errors.New(trade.SettleErr))
		case maker != nil && !minAmountOutSatisfied(maker, maker.FilledQuantity, maker.CumulativeQuoteValue):
			trade.Settled = false
			trade.SettleErr = "maker minAmountOut breached"
			e.sink.CriticalSettlementFailure(trade.TradeID, errors.New(trade.SettleErr))
		default:
			if err := e.settleTrade(pair, trade); err != nil {
				trade.Settled = false
				trade.SettleErr = err.Error()
				e.sink.CriticalSettlementFailure(trade.TradeID, err)
			} else {
				trade.Settled = true
			}
		}

		if err := e.db.InsertOne(TradesCollection, mustToDoc(trade.TradeID, trade)); err != nil {
			return AddResult{}, err
		}
		if maker != nil {
			if err := e.persistOrder(maker); err != nil {
				return AddResult{}, err
			}
		}
	}

	taker.FilledQuantity = taker.FilledQuantity.Add(filledQty)
	if taker.Remaining().IsZero() {
		taker.Status = types.StatusFilled
	} else if filledQty.IsPos() {
		taker.Status = types.StatusPartiallyFilled
	} else if taker.Type == types.Market {
		// A MARKET order that crossed nothing has no book presence to fall
		// back to and nothing left to revisit later: reject it outright
		// rather than leave it OPEN forever (spec.md §4.5).
		taker.Status = types.StatusRejected
	}
	if taker.FilledQuantity.IsPos() {
		taker.AverageFillPrice = filledQuoteValue.Div(taker.FilledQuantity)
		taker.CumulativeQuoteValue = filledQuoteValue
	}

	// A GTC LIMIT order with quantity left over becomes a resting maker for
	// subsequent takers on this pair; MARKET orders and IOC/FOK never rest.
	if taker.Type == types.Limit && taker.Remaining().IsPos() && taker.TimeInForce != types.IOC && taker.TimeInForce != types.FOK {
		book.AddOrder(taker)
	}

	if err := e.persistOrder(taker); err != nil {
		return AddResult{}, err
	}

	e.sink.LogEvent("matching", "order_matched", taker.UserID, taker, "")
	return AddResult{Accepted: true, Order: taker, Trades: result.Trades}, nil
}

// minAmountOutSatisfied reports whether an order's cumulative fill still
// clears its deferred slippage floor, prorated to how much of the order has
// filled so far (SPEC_FULL.md §5 decision 3). Orders without minAmountOut
// set (the overwhelming majority) are always satisfied.
func minAmountOutSatisfied(o *types.Order, filledQty, quoteValue *bigmath.Int) bool {
	if o == nil || o.MinAmountOut == nil || o.Quantity == nil || o.Quantity.IsZero() || filledQty.IsZero() {
		return true
	}
	required := bigmath.MulDiv(o.MinAmountOut, filledQty, o.Quantity)
	if o.Side == types.Buy {
		return filledQty.Cmp(required) >= 0
	}
	return quoteValue.Cmp(required) >= 0
}

// addQuoteValue accumulates a trade's quote value onto an order's running
// total, tolerating a nil starting point (a freshly resting order has never
// had CumulativeQuoteValue set).
func addQuoteValue(existing, delta *bigmath.Int) *bigmath.Int {
	if existing == nil {
		return delta.Clone()
	}
	return existing.Add(delta)
}

// settleTrade applies the four atomic balance adjustments spec.md §4.5
// requires (seller -base, buyer +base, seller +quote, buyer -quote).
func (e *Engine) settleTrade(pair *types.TradingPair, trade *types.Trade) error {
	total := trade.Total
	if err := e.ledger.AdjustBalance(trade.SellerUserID, pair.BaseAssetSymbol, trade.Quantity.Neg()); err != nil {
		return err
	}
	if err := e.ledger.AdjustBalance(trade.BuyerUserID, pair.BaseAssetSymbol, trade.Quantity); err != nil {
		return err
	}
	if err := e.ledger.AdjustBalance(trade.SellerUserID, pair.QuoteAssetSymbol, total); err != nil {
		return err
	}
	if err := e.ledger.AdjustBalance(trade.BuyerUserID, pair.QuoteAssetSymbol, total.Neg()); err != nil {
		return err
	}
	return nil
}

// CancelOrder implements spec.md §4.5's cancelOrder, including escrow
// refund and idempotency on already-terminal orders.
func (e *Engine) CancelOrder(orderID, pairID, userID string) (bool, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	doc, ok, err := e.db.FindOne(OrdersCollection, store.M{"_id": orderID})
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, "order not found", nil
	}
	o, err := store.FromDoc[types.Order](doc)
	if err != nil {
		return false, "", err
	}
	if o.UserID != userID {
		return false, "not order owner", nil
	}
	if o.Status.Terminal() {
		return true, "", nil
	}
	if o.Status != types.StatusOpen && o.Status != types.StatusPartiallyFilled {
		return false, "order not cancellable", nil
	}

	book, pair, ok := e.bookFor(pairID)
	if ok {
		book.RemoveOrder(orderID)
	}
	if pair == nil {
		doc, found, err := e.db.FindOne(TradingPairsCollection, store.M{"_id": pairID})
		if err != nil {
			return false, "", err
		}
		if !found {
			return false, "unknown pair", nil
		}
		pair, err = store.FromDoc[types.TradingPair](doc)
		if err != nil {
			return false, "", err
		}
	}

	refundSymbol, refundAmount := refundFor(o, pair)
	o.Status = types.StatusCancelled
	if err := e.persistOrder(o); err != nil {
		return false, "", err
	}
	if refundAmount.IsPos() {
		if err := e.ledger.AdjustBalance(o.UserID, refundSymbol, refundAmount); err != nil {
			return false, "", err
		}
	}
	e.sink.LogEvent("matching", "order_cancelled", userID, o, "")
	return true, "", nil
}

// refundFor computes spec.md §4.5's cancel-escrow refund: BUY/LIMIT refunds
// (quantity-filled)*price in quote; SELL refunds (quantity-filled) in base;
// an unfilled MARKET BUY with quoteOrderQty refunds the full quote amount.
func refundFor(o *types.Order, pair *types.TradingPair) (string, *bigmath.Int) {
	remaining := o.Remaining()
	if o.Type == types.Market && o.Side == types.Buy && o.QuoteOrderQty != nil && o.FilledQuantity.IsZero() {
		return pair.QuoteAssetSymbol, o.QuoteOrderQty.Clone()
	}
	if o.Side == types.Buy {
		if o.Price == nil {
			return pair.QuoteAssetSymbol, bigmath.Zero()
		}
		return pair.QuoteAssetSymbol, o.Price.Mul(remaining)
	}
	return pair.BaseAssetSymbol, remaining
}

func (e *Engine) persistOrder(o *types.Order) error {
	doc, err := store.ToDoc(o.OrderID, o)
	if err != nil {
		return err
	}
	updated, err := e.db.UpdateOne(OrdersCollection, store.M{"_id": o.OrderID}, store.Update{Set: doc})
	if err != nil {
		return err
	}
	if !updated {
		return e.db.InsertOne(OrdersCollection, doc)
	}
	return nil
}

func mustToDoc(id string, v interface{}) store.Document {
	doc, err := store.ToDoc(id, v)
	if err != nil {
		panic(fmt.Sprintf("matching: trade codec failure: %v", err))
	}
	return doc
}
