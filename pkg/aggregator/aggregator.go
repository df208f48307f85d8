// Package aggregator implements the hybrid liquidity aggregator (spec.md
// §4.7): it quotes both AMM pools and order-book pairs for a token pair and
// picks whichever source yields the larger integer amountOut, grounded on
// the prediction-market AMM model in other_examples (0332cc27…amm.go) for
// the "quote multiple sources, rank by output" shape, adapted from that
// single-AMM design to a pool-vs-book comparison.
package aggregator

import (
	"github.com/futureshock/meeray-core/pkg/amm"
	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/matching"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/types"
)

// SourceKind tags a liquidity source's origin.
type SourceKind string

const (
	SourceAMM       SourceKind = "AMM"
	SourceOrderBook SourceKind = "ORDER_BOOK"
)

// Source describes one quotable venue for a token pair (spec.md §4.7).
type Source struct {
	Kind         SourceKind
	PoolID       string // set for AMM sources
	PairID       string // set for order-book sources
	BaseSymbol   string // set for order-book sources
	QuoteSymbol  string // set for order-book sources
	HasLiquidity bool
	BestBid      *bigmath.Int
	BestAsk      *bigmath.Int
	BidDepth     *bigmath.Int
	AskDepth     *bigmath.Int
}

// Quote is one source's answer to getBestQuote (spec.md §4.7).
type Quote struct {
	Source    Source
	AmountOut *bigmath.Int
}

// Route is one allocation line in the final BestQuote result.
type Route struct {
	Type       SourceKind
	Allocation int // percent, 0-100
	Details    Source
}

// BestQuoteResult is spec.md §4.7's getBestQuote return shape.
type BestQuoteResult struct {
	AmountIn    *bigmath.Int
	AmountOut   *bigmath.Int
	PriceImpact *bigmath.Int // basis points, integer-truncated
	Routes      []Route
}

type Aggregator struct {
	db     store.Store
	ammEng *amm.Engine
	engine *matching.Engine
}

func New(db store.Store, ammEng *amm.Engine, matchEng *matching.Engine) *Aggregator {
	return &Aggregator{db: db, ammEng: ammEng, engine: matchEng}
}

// GetLiquiditySources implements spec.md §4.7's getLiquiditySources: every
// pool containing both tokens (including zero-reserve pools, tagged
// hasLiquidity=false) and every TRADING pair matching the two tokens.
func (a *Aggregator) GetLiquiditySources(tokenA, tokenB string) ([]Source, error) {
	var sources []Source

	poolDocs, err := a.db.Find(amm.PoolsCollection, store.M{})
	if err != nil {
		return nil, err
	}
	for _, doc := range poolDocs {
		pool, err := store.FromDoc[types.LiquidityPool](doc)
		if err != nil {
			return nil, err
		}
		if !pairMatches(pool.TokenASymbol, pool.TokenBSymbol, tokenA, tokenB) {
			continue
		}
		hasLiquidity := pool.TokenAReserve.IsPos() && pool.TokenBReserve.IsPos()
		sources = append(sources, Source{Kind: SourceAMM, PoolID: pool.PoolID, HasLiquidity: hasLiquidity})
	}

	pairDocs, err := a.db.Find(matching.TradingPairsCollection, store.M{"status": "TRADING"})
	if err != nil {
		return nil, err
	}
	for _, doc := range pairDocs {
		pair, err := store.FromDoc[types.TradingPair](doc)
		if err != nil {
			return nil, err
		}
		if !pairMatches(pair.BaseAssetSymbol, pair.QuoteAssetSymbol, tokenA, tokenB) {
			continue
		}
		book, ok := a.engine.BookFor(pair.PairID)
		if !ok {
			continue
		}
		bestBid, bestAsk := book.BestBid(), book.BestAsk()
		src := Source{
			Kind: SourceOrderBook, PairID: pair.PairID,
			BaseSymbol: pair.BaseAssetSymbol, QuoteSymbol: pair.QuoteAssetSymbol,
			BestBid: bestBid, BestAsk: bestAsk,
			BidDepth: book.DepthAt(types.Buy), AskDepth: book.DepthAt(types.Sell),
		}
		src.HasLiquidity = bestBid != nil || bestAsk != nil
		sources = append(sources, src)
	}
	return sources, nil
}

func pairMatches(symA, symB, tokenA, tokenB string) bool {
	return (symA == tokenA && symB == tokenB) || (symA == tokenB && symB == tokenA)
}

// GetBestQuote implements spec.md §4.7's getBestQuote: ask every source for
// a quote and select the highest integer amountOut, allocated 100% to the
// winner.
func (a *Aggregator) GetBestQuote(tokenIn, tokenOut string, amountIn *bigmath.Int) (BestQuoteResult, error) {
	sources, err := a.GetLiquiditySources(tokenIn, tokenOut)
	if err != nil {
		return BestQuoteResult{}, err
	}

	var best *Quote
	for _, src := range sources {
		if !src.HasLiquidity {
			continue
		}
		q, ok, err := a.quoteSource(src, tokenIn, tokenOut, amountIn)
		if err != nil {
			return BestQuoteResult{}, err
		}
		if !ok {
			continue
		}
		if best == nil || q.AmountOut.Cmp(best.AmountOut) > 0 {
			qCopy := q
			best = &qCopy
		}
	}

	if best == nil {
		return BestQuoteResult{AmountIn: amountIn, AmountOut: bigmath.Zero()}, nil
	}
	return BestQuoteResult{
		AmountIn:  amountIn,
		AmountOut: best.AmountOut,
		Routes:    []Route{{Type: best.Source.Kind, Allocation: 100, Details: best.Source}},
	}, nil
}

// quoteSource asks one source for its amountOut: AMM via constant-product
// simulation, order book by filling at the best level only, rejecting if
// available depth is insufficient (spec.md §4.7).
func (a *Aggregator) quoteSource(src Source, tokenIn, tokenOut string, amountIn *bigmath.Int) (Quote, bool, error) {
	switch src.Kind {
	case SourceAMM:
		out, err := a.ammEng.Quote(src.PoolID, tokenIn, tokenOut, amountIn)
		if err != nil {
			return Quote{}, false, nil
		}
		if out.Sign() <= 0 {
			return Quote{}, false, nil
		}
		return Quote{Source: src, AmountOut: out}, true, nil
	case SourceOrderBook:
		return a.quoteOrderBook(src, tokenIn, amountIn)
	default:
		return Quote{}, false, nil
	}
}

// quoteOrderBook fills amountIn at the best level only, rejecting if
// available depth is insufficient (spec.md §4.7). tokenIn == quote symbol
// means the taker is buying base (consumes the best ask); tokenIn == base
// symbol means the taker is selling base (consumes the best bid).
func (a *Aggregator) quoteOrderBook(src Source, tokenIn string, amountIn *bigmath.Int) (Quote, bool, error) {
	if tokenIn == src.QuoteSymbol {
		if src.BestAsk == nil || src.BestAsk.IsZero() {
			return Quote{}, false, nil
		}
		qtyAffordable := amountIn.Div(src.BestAsk)
		if src.AskDepth == nil || src.AskDepth.Cmp(qtyAffordable) < 0 {
			return Quote{}, false, nil
		}
		return Quote{Source: src, AmountOut: qtyAffordable}, true, nil
	}
	if tokenIn == src.BaseSymbol {
		if src.BestBid == nil {
			return Quote{}, false, nil
		}
		if src.BidDepth == nil || src.BidDepth.Cmp(amountIn) < 0 {
			return Quote{}, false, nil
		}
		return Quote{Source: src, AmountOut: amountIn.Mul(src.BestBid)}, true, nil
	}
	return Quote{}, false, nil
}
