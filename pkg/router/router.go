// Package router implements the hybrid trade router (spec.md §4.8):
// validates a trade request against the token registry and balances, then
// either takes the aggregator's best single quote or executes an explicit
// set of route allocations across AMM (C6) and order-book (C5) venues.
package router

import (
	"errors"
	"fmt"

	"github.com/futureshock/meeray-core/pkg/aggregator"
	"github.com/futureshock/meeray-core/pkg/amm"
	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/ledger"
	"github.com/futureshock/meeray-core/pkg/matching"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/types"
)

const TokensCollection = "tokens"

var (
	ErrUnknownToken       = errors.New("router: unknown token")
	ErrSameToken          = errors.New("router: tokenIn == tokenOut")
	ErrInvalidAmount      = errors.New("router: amountIn must be positive")
	ErrConstraintCount    = errors.New("router: exactly one of price, minAmountOut, maxSlippagePercent must be set")
	ErrInvalidSlippage    = errors.New("router: maxSlippagePercent out of [0,100]")
	ErrNoLiquidity        = errors.New("router: no liquidity source available")
	ErrRouteAllocation    = errors.New("router: route allocations must sum to 100% and each be in (0,100]")
	ErrAllRoutesFailed    = errors.New("router: all routes failed")
	ErrUnknownPair        = errors.New("router: no trading pair for token pair")
	ErrTickLotMisaligned  = errors.New("router: price/quantity not aligned to pair tick/lot size")
	ErrSlippageExceeded   = errors.New("router: total output below minAmountOut")
)

// RouteAllocation is one explicit route the caller pins a percentage to.
type RouteAllocation struct {
	Type       aggregator.SourceKind
	Allocation int64 // percent, (0,100]
	PoolID     string
	PairID     string
}

// TradeRequest is spec.md §4.8's hybrid_trade wire shape.
type TradeRequest struct {
	Sender             string
	TokenIn            string
	TokenOut           string
	AmountIn           *bigmath.Int
	Price              *bigmath.Int
	MinAmountOut       *bigmath.Int
	MaxSlippagePercent *int64
	Routes             []RouteAllocation
}

// TradeResult is what Process reports back.
type TradeResult struct {
	TotalAmountOut *bigmath.Int
	Filled         []RouteFill
	Deferred       bool // true if the slippage check was deferred to fill-time
}

type RouteFill struct {
	Type      aggregator.SourceKind
	AmountOut *bigmath.Int
	Err       error
}

type Router struct {
	db       store.Store
	ledger   *ledger.Ledger
	ammEng   *amm.Engine
	aggEng   *aggregator.Aggregator
	matchEng *matching.Engine
}

func New(db store.Store, l *ledger.Ledger, ammEng *amm.Engine, aggEng *aggregator.Aggregator, matchEng *matching.Engine) *Router {
	return &Router{db: db, ledger: l, ammEng: ammEng, aggEng: aggEng, matchEng: matchEng}
}

func (r *Router) tokenExists(symbol string) bool {
	_, ok, err := r.db.FindOne(TokensCollection, store.M{"_id": symbol})
	return err == nil && ok
}

// Validate implements spec.md §4.8's validation rules.
func (r *Router) Validate(req TradeRequest) (bool, string) {
	if !r.tokenExists(req.TokenIn) || !r.tokenExists(req.TokenOut) {
		return false, ErrUnknownToken.Error()
	}
	if req.TokenIn == req.TokenOut {
		return false, ErrSameToken.Error()
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return false, ErrInvalidAmount.Error()
	}
	constraintCount := 0
	if req.Price != nil {
		constraintCount++
	}
	if req.MinAmountOut != nil {
		constraintCount++
	}
	if req.MaxSlippagePercent != nil {
		constraintCount++
		if *req.MaxSlippagePercent < 0 || *req.MaxSlippagePercent > 100 {
			return false, ErrInvalidSlippage.Error()
		}
	}
	if constraintCount != 1 {
		return false, ErrConstraintCount.Error()
	}

	balance, err := r.ledger.GetBalance(req.Sender, req.TokenIn)
	if err != nil || balance.Cmp(req.AmountIn) < 0 {
		return false, "insufficient balance"
	}

	if len(req.Routes) == 0 {
		sources, err := r.aggEng.GetLiquiditySources(req.TokenIn, req.TokenOut)
		if err != nil {
			return false, err.Error()
		}
		anyLiquid := false
		for _, s := range sources {
			if s.HasLiquidity {
				anyLiquid = true
				if s.Kind == aggregator.SourceAMM {
					out, err := r.ammEng.Quote(s.PoolID, req.TokenIn, req.TokenOut, req.AmountIn)
					if err != nil || out.Sign() <= 0 {
						anyLiquid = false
					}
				}
			}
		}
		if !anyLiquid {
			return false, ErrNoLiquidity.Error()
		}
		return true, ""
	}

	var total int64
	for _, route := range req.Routes {
		if route.Allocation <= 0 || route.Allocation > 100 {
			return false, ErrRouteAllocation.Error()
		}
		total += route.Allocation
	}
	if total < 9999 || total > 10001 { // ±0.01% expressed in basis-of-10000
		return false, ErrRouteAllocation.Error()
	}
	return true, ""
}

// Process implements spec.md §4.8's processing sequence.
func (r *Router) Process(req TradeRequest, txID string, ts int64) (TradeResult, error) {
	routes := req.Routes
	if len(routes) == 0 {
		quote, err := r.aggEng.GetBestQuote(req.TokenIn, req.TokenOut, req.AmountIn)
		if err != nil {
			return TradeResult{}, err
		}
		if len(quote.Routes) == 0 {
			return TradeResult{}, ErrNoLiquidity
		}
		winner := quote.Routes[0]
		if winner.Type == aggregator.SourceAMM && req.MinAmountOut != nil && quote.AmountOut.Cmp(req.MinAmountOut) < 0 {
			return r.executeReroutedLimitOrder(req, txID, ts)
		}
		routes = []RouteAllocation{{Type: winner.Type, Allocation: 100, PoolID: winner.Details.PoolID, PairID: winner.Details.PairID}}
	}

	pair, found, err := r.resolvePair(req.TokenIn, req.TokenOut)
	if err != nil {
		return TradeResult{}, err
	}
	if !found {
		// AMM-only token pairs (no matching TRADING pair) still need a
		// pair shape for trade bookkeeping; synthesize one with 0 decimals.
		pair = &types.TradingPair{PairID: req.TokenIn + "_" + req.TokenOut, BaseAssetSymbol: req.TokenOut, QuoteAssetSymbol: req.TokenIn}
	}

	var fills []RouteFill
	total := bigmath.Zero()
	deferred := false
	anySucceeded := false

	for _, route := range routes {
		portion := bigmath.MulDiv(req.AmountIn, bigmath.New(route.Allocation), bigmath.New(100))
		if portion.Sign() <= 0 {
			continue
		}
		switch route.Type {
		case aggregator.SourceAMM:
			result, err := r.ammEng.Swap(pair, req.Sender, route.PoolID, req.TokenIn, req.TokenOut, portion, req.Sender, txID, ts)
			if err != nil {
				fills = append(fills, RouteFill{Type: route.Type, Err: err})
				continue
			}
			total = total.Add(result.AmountOut)
			fills = append(fills, RouteFill{Type: route.Type, AmountOut: result.AmountOut})
			anySucceeded = true
		case aggregator.SourceOrderBook:
			out, noImmediateFill, err := r.executeOrderBookRoute(req, route.PairID, portion, txID, ts)
			if err != nil {
				fills = append(fills, RouteFill{Type: route.Type, Err: err})
				continue
			}
			total = total.Add(out)
			fills = append(fills, RouteFill{Type: route.Type, AmountOut: out})
			anySucceeded = true
			if noImmediateFill {
				deferred = true
			}
		}
	}

	if !anySucceeded {
		return TradeResult{}, ErrAllRoutesFailed
	}
	if req.MinAmountOut != nil && !deferred {
		if total.Cmp(req.MinAmountOut) < 0 {
			return TradeResult{}, ErrSlippageExceeded
		}
	}
	return TradeResult{TotalAmountOut: total, Filled: fills, Deferred: deferred}, nil
}

// resolvePair finds the TradingPair document backing tokenIn/tokenOut, in
// whichever base/quote orientation it's stored.
func (r *Router) resolvePair(tokenIn, tokenOut string) (*types.TradingPair, bool, error) {
	docs, err := r.db.Find(matching.TradingPairsCollection, store.M{})
	if err != nil {
		return nil, false, err
	}
	for _, doc := range docs {
		pair, err := store.FromDoc[types.TradingPair](doc)
		if err != nil {
			return nil, false, err
		}
		if (pair.BaseAssetSymbol == tokenIn && pair.QuoteAssetSymbol == tokenOut) ||
			(pair.BaseAssetSymbol == tokenOut && pair.QuoteAssetSymbol == tokenIn) {
			return pair, true, nil
		}
	}
	return nil, false, nil
}

// executeReroutedLimitOrder implements spec.md §4.8's AMM-output-too-low
// reroute: place an order-book limit order at the price that would exactly
// satisfy minAmountOut.
func (r *Router) executeReroutedLimitOrder(req TradeRequest, txID string, ts int64) (TradeResult, error) {
	pair, ok, err := r.resolvePair(req.TokenIn, req.TokenOut)
	if err != nil {
		return TradeResult{}, err
	}
	if !ok {
		return TradeResult{}, ErrUnknownPair
	}
	isBuy := req.TokenOut == pair.BaseAssetSymbol

	var price *bigmath.Int
	if isBuy {
		price = bigmath.MulDiv(req.AmountIn, bigmath.Pow10(pair.BaseDecimals), req.MinAmountOut)
	} else {
		price = bigmath.MulDiv(req.MinAmountOut, bigmath.Pow10(pair.BaseDecimals), req.AmountIn)
	}
	quantity, side, debitSymbol := rerouteOrderShape(req, pair, isBuy, price)

	if !tickAligned(price, pair.TickSize) || !tickAligned(quantity, pair.LotSize) {
		return TradeResult{}, ErrTickLotMisaligned
	}

	if err := r.ledger.AdjustBalance(req.Sender, debitSymbol, req.AmountIn.Neg()); err != nil {
		return TradeResult{}, err
	}

	order := &types.Order{
		OrderID: fmt.Sprintf("reroute-%s", txID), UserID: req.Sender, PairID: pair.PairID,
		Side: side, Type: types.Limit, Price: price, Quantity: quantity,
		FilledQuantity: bigmath.Zero(), Status: types.StatusOpen, MinAmountOut: req.MinAmountOut,
	}
	result, err := r.matchEng.AddOrder(order, ts)
	if err != nil {
		return TradeResult{}, err
	}
	if !result.Accepted {
		return TradeResult{}, fmt.Errorf("router: reroute order rejected: %s", result.Reason)
	}

	totalOut := bigmath.Zero()
	for _, t := range result.Trades {
		if isBuy {
			totalOut = totalOut.Add(t.Quantity)
		} else {
			totalOut = totalOut.Add(t.Price.Mul(t.Quantity))
		}
	}
	deferred := len(result.Trades) == 0
	if !deferred && totalOut.Cmp(req.MinAmountOut) < 0 {
		return TradeResult{}, ErrSlippageExceeded
	}
	return TradeResult{
		TotalAmountOut: totalOut,
		Filled:         []RouteFill{{Type: aggregator.SourceOrderBook, AmountOut: totalOut}},
		Deferred:       deferred,
	}, nil
}

func rerouteOrderShape(req TradeRequest, pair *types.TradingPair, isBuy bool, price *bigmath.Int) (*bigmath.Int, types.Side, string) {
	if isBuy {
		// BUY: exposure is amountIn (quote); quantity is implied by price.
		qty := bigmath.Zero()
		if price.IsPos() {
			qty = bigmath.MulDiv(req.AmountIn, bigmath.Pow10(pair.BaseDecimals), price)
		}
		return qty, types.Buy, pair.QuoteAssetSymbol
	}
	return req.AmountIn, types.Sell, pair.BaseAssetSymbol
}

func tickAligned(value, step *bigmath.Int) bool {
	if step == nil || step.IsZero() {
		return true
	}
	return value.Sub(bigmath.MulDiv(value, bigmath.New(1), step).Mul(step)).IsZero()
}

// executeOrderBookRoute debits the exposure token and creates a market
// order through C5 for the given pair; it returns whether the order
// produced no immediate fills (deferred slippage case).
func (r *Router) executeOrderBookRoute(req TradeRequest, pairID string, portion *bigmath.Int, txID string, ts int64) (*bigmath.Int, bool, error) {
	pair, ok, err := r.resolvePair(req.TokenIn, req.TokenOut)
	if err != nil {
		return nil, false, err
	}
	if !ok || pair.PairID != pairID {
		return nil, false, ErrUnknownPair
	}
	isBuy := req.TokenOut == pair.BaseAssetSymbol
	debitSymbol := pair.QuoteAssetSymbol
	side := types.Buy
	if !isBuy {
		debitSymbol = pair.BaseAssetSymbol
		side = types.Sell
	}

	if err := r.ledger.AdjustBalance(req.Sender, debitSymbol, portion.Neg()); err != nil {
		return nil, false, err
	}

	order := &types.Order{
		OrderID: fmt.Sprintf("route-%s-%s", txID, pairID), UserID: req.Sender, PairID: pairID,
		Side: side, Type: types.Market, FilledQuantity: bigmath.Zero(), Status: types.StatusOpen,
	}
	if isBuy {
		// The book matches by base quantity, so a quote-denominated market
		// buy is converted using the best ask before submission; the quote
		// amount is still recorded for the cancel-time escrow refund.
		order.QuoteOrderQty = portion
		order.Quantity = bigmath.Zero()
		if book, ok := r.matchEng.BookFor(pairID); ok {
			if bestAsk := book.BestAsk(); bestAsk != nil && bestAsk.IsPos() {
				order.Quantity = portion.Div(bestAsk)
			}
		}
	} else {
		order.Quantity = portion
	}

	result, err := r.matchEng.AddOrder(order, ts)
	if err != nil {
		return nil, false, err
	}
	if !result.Accepted {
		return nil, false, fmt.Errorf("router: order-book route rejected: %s", result.Reason)
	}

	out := bigmath.Zero()
	for _, t := range result.Trades {
		if isBuy {
			out = out.Add(t.Quantity)
		} else {
			out = out.Add(t.Price.Mul(t.Quantity))
		}
	}
	return out, len(result.Trades) == 0, nil
}
