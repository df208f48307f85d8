// Package orderbook implements the per-pair in-memory order book (spec.md
// §4.4): bids sorted descending by price then ascending by creation time,
// asks sorted ascending by price then ascending by creation time, grounded
// on the teacher's heap-backed best-price tracking with FIFO price-level
// queues (pkg/app/core/orderbook/orderbook.go), generalized from int64
// tick/lot prices to bigmath.Int so prices and quantities stay arbitrary
// precision.
package orderbook

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/types"
)

// level is one FIFO price level.
type level struct {
	price  *bigmath.Int
	orders []*types.Order
}

// maxHeap/minHeap track best price in O(1) peek, exactly as the teacher's
// MaxPriceHeap/MinPriceHeap do for int64 ticks, generalized to *level by
// price comparison via bigmath.Int.Cmp.
type maxHeap []*level

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].price.Cmp(h[j].price) > 0 }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(*level)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type minHeap []*level

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].price.Cmp(h[j].price) < 0 }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(*level)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Book is the order book for a single trading pair.
type Book struct {
	mu     sync.Mutex
	pairID string

	bidHeap *maxHeap
	askHeap *minHeap
	bids    map[string]*level // price.String() -> level
	asks    map[string]*level

	orderPrice map[string]*bigmath.Int // orderID -> price, for O(1) cancel lookup
	orderSide  map[string]types.Side
}

func NewBook(pairID string) *Book {
	bh := &maxHeap{}
	ah := &minHeap{}
	heap.Init(bh)
	heap.Init(ah)
	return &Book{
		pairID:     pairID,
		bidHeap:    bh,
		askHeap:    ah,
		bids:       make(map[string]*level),
		asks:       make(map[string]*level),
		orderPrice: make(map[string]*bigmath.Int),
		orderSide:  make(map[string]types.Side),
	}
}

// AddOrder inserts a resting LIMIT order into the correct side, preserving
// price/time priority (spec.md §4.4).
func (b *Book) AddOrder(o *types.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addOrderLocked(o)
}

func (b *Book) addOrderLocked(o *types.Order) {
	key := o.Price.String()
	if o.Side == types.Buy {
		lv, ok := b.bids[key]
		if !ok {
			lv = &level{price: o.Price.Clone()}
			b.bids[key] = lv
			heap.Push(b.bidHeap, lv)
		}
		lv.orders = append(lv.orders, o)
	} else {
		lv, ok := b.asks[key]
		if !ok {
			lv = &level{price: o.Price.Clone()}
			b.asks[key] = lv
			heap.Push(b.askHeap, lv)
		}
		lv.orders = append(lv.orders, o)
	}
	b.orderPrice[o.OrderID] = o.Price
	b.orderSide[o.OrderID] = o.Side
}

// RemoveOrder removes a resting order by ID. Returns whether it was found.
func (b *Book) RemoveOrder(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeOrderLocked(orderID)
}

func (b *Book) removeOrderLocked(orderID string) bool {
	price, ok := b.orderPrice[orderID]
	if !ok {
		return false
	}
	side := b.orderSide[orderID]
	key := price.String()
	var levels map[string]*level
	if side == types.Buy {
		levels = b.bids
	} else {
		levels = b.asks
	}
	lv, ok := levels[key]
	if !ok {
		return false
	}
	for i, o := range lv.orders {
		if o.OrderID == orderID {
			lv.orders = append(lv.orders[:i], lv.orders[i+1:]...)
			break
		}
	}
	if len(lv.orders) == 0 {
		delete(levels, key)
		if side == types.Buy {
			removeFromHeap(b.bidHeap, lv)
		} else {
			removeFromMinHeap(b.askHeap, lv)
		}
	}
	delete(b.orderPrice, orderID)
	delete(b.orderSide, orderID)
	return true
}

func removeFromHeap(h *maxHeap, lv *level) {
	for i, x := range *h {
		if x == lv {
			heap.Remove(h, i)
			return
		}
	}
}

func removeFromMinHeap(h *minHeap, lv *level) {
	for i, x := range *h {
		if x == lv {
			heap.Remove(h, i)
			return
		}
	}
}

// TradeID computes the deterministic book-trade ID from spec.md §6:
// sha256(pairId|makerId|takerId|qty|price)[:16], hex-encoded.
func TradeID(pairID, makerID, takerID string, qty, price *bigmath.Int) string {
	h := sha256.Sum256([]byte(pairID + "|" + makerID + "|" + takerID + "|" + qty.String() + "|" + price.String()))
	return hex.EncodeToString(h[:])[:16]
}

// MatchResult is what Match returns: the trades generated plus whatever
// quantity the taker still has left unmatched. MakerOrders hands back the
// live, book-resident maker pointers Match just mutated, keyed by order ID,
// so callers don't have to re-derive maker state from a possibly stale
// persisted copy.
type MatchResult struct {
	Trades      []types.Trade
	Remaining   *bigmath.Int
	MakerOrders map[string]*types.Order
}

// Match executes price/time-priority matching for taker against the
// opposite side of the book (spec.md §4.4). It does not mutate the taker
// order; callers (C5) apply FilledQuantity/status transitions themselves
// using MatchResult. Maker orders are mutated and removed/retained in place.
func (b *Book) Match(pair *types.TradingPair, taker *types.Order, ts int64) MatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := taker.Quantity.Clone()
	var trades []types.Trade
	makerOrders := make(map[string]*types.Order)

	crosses := func(makerPrice *bigmath.Int) bool {
		if taker.Type == types.Market {
			return true
		}
		if taker.Side == types.Buy {
			return makerPrice.Cmp(taker.Price) <= 0
		}
		return makerPrice.Cmp(taker.Price) >= 0
	}

	matchAgainst := func(bestPrice func() (*level, bool), popEmpty func(*level)) {
		for remaining.IsPos() {
			lv, ok := bestPrice()
			if !ok {
				return
			}
			if !crosses(lv.price) {
				return
			}
			maker := lv.orders[0]
			makerAvail := maker.Remaining()
			qty := bigmath.Min(remaining, makerAvail)

			trade := b.buildTrade(pair, maker, taker, qty, lv.price, ts)
			trades = append(trades, trade)
			makerOrders[maker.OrderID] = maker

			maker.FilledQuantity = maker.FilledQuantity.Add(qty)
			remaining = remaining.Sub(qty)

			if maker.Remaining().IsZero() {
				maker.Status = types.StatusFilled
				lv.orders = lv.orders[1:]
				if len(lv.orders) == 0 {
					popEmpty(lv)
				}
			} else {
				maker.Status = types.StatusPartiallyFilled
			}
		}
	}

	if taker.Side == types.Buy {
		matchAgainst(
			func() (*level, bool) {
				if b.askHeap.Len() == 0 {
					return nil, false
				}
				return (*b.askHeap)[0], true
			},
			func(lv *level) {
				delete(b.asks, lv.price.String())
				removeFromMinHeap(b.askHeap, lv)
			},
		)
	} else {
		matchAgainst(
			func() (*level, bool) {
				if b.bidHeap.Len() == 0 {
					return nil, false
				}
				return (*b.bidHeap)[0], true
			},
			func(lv *level) {
				delete(b.bids, lv.price.String())
				removeFromHeap(b.bidHeap, lv)
			},
		)
	}

	return MatchResult{Trades: trades, Remaining: remaining, MakerOrders: makerOrders}
}

func (b *Book) buildTrade(pair *types.TradingPair, maker, taker *types.Order, qty, price *bigmath.Int, ts int64) types.Trade {
	var buyer, seller string
	isMakerBuyer := maker.Side == types.Buy
	if isMakerBuyer {
		buyer, seller = maker.UserID, taker.UserID
	} else {
		buyer, seller = taker.UserID, maker.UserID
	}
	return types.Trade{
		TradeID:      TradeID(pair.PairID, maker.OrderID, taker.OrderID, qty, price),
		PairID:       pair.PairID,
		BaseSymbol:   pair.BaseAssetSymbol,
		QuoteSymbol:  pair.QuoteAssetSymbol,
		MakerOrderID: maker.OrderID,
		TakerOrderID: taker.OrderID,
		BuyerUserID:  buyer,
		SellerUserID: seller,
		Price:        price.Clone(),
		Quantity:     qty.Clone(),
		Total:        price.Mul(qty),
		Timestamp:    ts,
		IsMakerBuyer: isMakerBuyer,
		Source:       "book",
	}
}

// PriceLevelView is an aggregated, read-only snapshot row.
type PriceLevelView struct {
	Price *bigmath.Int
	Qty   *bigmath.Int
}

// Snapshot aggregates remaining quantity per price level and truncates to
// depth (spec.md §4.4). Bids come back best (highest) first, asks best
// (lowest) first.
func (b *Book) Snapshot(depth int) (bids, asks []PriceLevelView) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bids = aggregateLevels(b.bids, depth, true)
	asks = aggregateLevels(b.asks, depth, false)
	return bids, asks
}

func aggregateLevels(levels map[string]*level, depth int, descending bool) []PriceLevelView {
	views := make([]PriceLevelView, 0, len(levels))
	for _, lv := range levels {
		if len(lv.orders) == 0 {
			continue
		}
		qty := bigmath.Zero()
		for _, o := range lv.orders {
			qty = qty.Add(o.Remaining())
		}
		views = append(views, PriceLevelView{Price: lv.price, Qty: qty})
	}
	sort.Slice(views, func(i, j int) bool {
		c := views[i].Price.Cmp(views[j].Price)
		if descending {
			return c > 0
		}
		return c < 0
	})
	if depth > 0 && len(views) > depth {
		views = views[:depth]
	}
	return views
}

// BestBid/BestAsk return the top-of-book price, or nil if that side is
// empty — used by the liquidity aggregator (C7) for order-book quoting.
func (b *Book) BestBid() *bigmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bidHeap.Len() == 0 {
		return nil
	}
	return (*b.bidHeap)[0].price
}

func (b *Book) BestAsk() *bigmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.askHeap.Len() == 0 {
		return nil
	}
	return (*b.askHeap)[0].price
}

// DepthAt returns total remaining quantity resting at or better than price
// on the given side — used to reject order-book routes whose available
// depth at the best level is insufficient (spec.md §4.7/§8).
func (b *Book) DepthAt(side types.Side) *bigmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var lv *level
	if side == types.Buy {
		if b.bidHeap.Len() > 0 {
			lv = (*b.bidHeap)[0]
		}
	} else {
		if b.askHeap.Len() > 0 {
			lv = (*b.askHeap)[0]
		}
	}
	if lv == nil {
		return bigmath.Zero()
	}
	qty := bigmath.Zero()
	for _, o := range lv.orders {
		qty = qty.Add(o.Remaining())
	}
	return qty
}

// Crossed reports whether the book is locked/crossed at rest — should never
// be true after Match runs (spec.md §8 P5); exposed for invariant tests.
func (b *Book) Crossed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bidHeap.Len() == 0 || b.askHeap.Len() == 0 {
		return false
	}
	bestBid := (*b.bidHeap)[0].price
	bestAsk := (*b.askHeap)[0].price
	return bestBid.Cmp(bestAsk) >= 0
}

func (b *Book) PairID() string { return b.pairID }
