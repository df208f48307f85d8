// Package executor implements the serial transaction dispatcher (spec.md
// §2/§5): for each transaction in a block it runs Validate then, only if
// validated, Process, against the single document store shared by every
// component. Grounded on the teacher's applyTxV2WithFills dispatch shape
// (pkg/app/perp/apply_signed_tx.go) — parse, switch on kind, call into the
// owning component, emit — minus EIP-712 signature verification, which is
// out of scope here: Sender arrives pre-verified from the block-mining
// layer (spec.md §1).
package executor

import (
	"errors"
	"fmt"

	"github.com/futureshock/meeray-core/pkg/aggregator"
	"github.com/futureshock/meeray-core/pkg/amm"
	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/farm"
	"github.com/futureshock/meeray-core/pkg/ledger"
	"github.com/futureshock/meeray-core/pkg/matching"
	"github.com/futureshock/meeray-core/pkg/nft"
	"github.com/futureshock/meeray-core/pkg/router"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/types"
	"github.com/futureshock/meeray-core/pkg/vesting"
)

// Kind discriminates the wire-level transaction shapes named in spec.md §6.
type Kind string

const (
	KindFarmStake           Kind = "farm_stake"
	KindFarmUnstake         Kind = "farm_unstake"
	KindFarmHarvest         Kind = "farm_harvest"
	KindPoolAddLiquidity    Kind = "pool_add_liquidity"
	KindPoolRemoveLiquidity Kind = "pool_remove_liquidity"
	KindPoolClaimFees       Kind = "pool_claim_fees"
	KindHybridTrade         Kind = "hybrid_trade"
	KindMarketPlaceOrder    Kind = "market_place_order"
	KindMarketCancelOrder   Kind = "market_cancel_order"
	KindNftCreateCollection Kind = "nft_create_collection"
	KindNftMintInstance     Kind = "nft_mint_instance"
	KindNftMakeOffer        Kind = "nft_make_offer"
	KindNftCancelOffer      Kind = "nft_cancel_offer"
	KindNftAcceptOffer      Kind = "nft_accept_offer"
	KindNftCreateListing    Kind = "nft_create_listing"
	KindVestingClaim        Kind = "vesting_claim"
)

// Per-kind payloads. A Transaction carries exactly one populated payload
// matching its Kind, mirroring the teacher's SignedTransaction.Order /
// .Cancel nested-payload shape generalized to this core's wider kind set.
type FarmStakePayload struct {
	FarmID string
	Amount *bigmath.Int
}

type FarmHarvestPayload struct {
	FarmID string
}

type PoolAddLiquidityPayload struct {
	PoolID       string
	TokenAAmount *bigmath.Int
	TokenBAmount *bigmath.Int
}

type PoolRemoveLiquidityPayload struct {
	PoolID        string
	LpTokenAmount *bigmath.Int
}

type PoolClaimFeesPayload struct {
	PoolID string
}

type HybridTradePayload struct {
	TokenIn            string
	TokenOut           string
	AmountIn           *bigmath.Int
	Price              *bigmath.Int
	MinAmountOut       *bigmath.Int
	MaxSlippagePercent *int64
	Routes             []router.RouteAllocation
}

type MarketPlaceOrderPayload struct {
	PairID        string
	Type          types.OrderType
	Side          types.Side
	Price         *bigmath.Int
	Quantity      *bigmath.Int
	QuoteOrderQty *bigmath.Int
	TimeInForce   types.TimeInForce
}

type MarketCancelOrderPayload struct {
	OrderID string
	PairID  string
}

type NftCreateCollectionPayload struct {
	Symbol       string
	MaxSupply    int64
	Mintable     bool
	Burnable     bool
	Transferable bool
	RoyaltyBps   int
}

type NftMintInstancePayload struct {
	CollectionSymbol string
	Traits           map[string]string
}

type NftMakeOfferPayload struct {
	TargetType         string
	TargetID           string
	OfferAmount        *bigmath.Int
	PaymentTokenSymbol string
	ExpiresAt          *int64
}

type NftCancelOfferPayload struct {
	OfferID string
}

type NftAcceptOfferPayload struct {
	OfferID string
}

type NftCreateListingPayload struct {
	TargetType         string
	TargetID           string
	Price              *bigmath.Int
	PaymentTokenSymbol string
}

type VestingClaimPayload struct {
	LaunchpadID    string
	AllocationType string
	PayoutSymbol   string
}

// Transaction is one ordered item supplied by the block-mining layer.
// Sender has already been signature-verified upstream (spec.md §1).
type Transaction struct {
	Kind   Kind
	Sender string

	FarmStake           *FarmStakePayload
	FarmUnstake         *FarmStakePayload
	FarmHarvest         *FarmHarvestPayload
	PoolAddLiquidity    *PoolAddLiquidityPayload
	PoolRemoveLiquidity *PoolRemoveLiquidityPayload
	PoolClaimFees       *PoolClaimFeesPayload
	HybridTrade         *HybridTradePayload
	MarketPlaceOrder    *MarketPlaceOrderPayload
	MarketCancelOrder   *MarketCancelOrderPayload
	NftCreateCollection *NftCreateCollectionPayload
	NftMintInstance     *NftMintInstancePayload
	NftMakeOffer        *NftMakeOfferPayload
	NftCancelOffer      *NftCancelOfferPayload
	NftAcceptOffer      *NftAcceptOfferPayload
	NftCreateListing    *NftCreateListingPayload
	VestingClaim        *VestingClaimPayload
}

var (
	ErrUnknownKind    = errors.New("executor: unknown transaction kind")
	ErrMissingPayload = errors.New("executor: payload missing for declared kind")
	ErrInvalidAmount  = errors.New("executor: amount must be positive")
)

// Executor owns every domain component (C3-C12) and dispatches each
// transaction's validate/process pair by Kind.
type Executor struct {
	db     store.Store
	ledger *ledger.Ledger
	match  *matching.Engine
	ammEng *amm.Engine
	aggEng *aggregator.Aggregator
	router *router.Router
	farm   *farm.Engine
	vest   *vesting.Engine
	nft    *nft.Engine
	sink   events.Sink
}

// New wires the executor against already-constructed components. cmd/node
// is responsible for construction order (C1-C2 leaves first, §2's
// dependency table).
func New(db store.Store, l *ledger.Ledger, match *matching.Engine, ammEng *amm.Engine, aggEng *aggregator.Aggregator, r *router.Router, farmEng *farm.Engine, vestEng *vesting.Engine, nftEng *nft.Engine, sink events.Sink) *Executor {
	return &Executor{db: db, ledger: l, match: match, ammEng: ammEng, aggEng: aggEng, router: r, farm: farmEng, vest: vestEng, nft: nftEng, sink: sink}
}

// Validate implements spec.md §2's validate(tx, sender) -> (ok, reason?).
// Structural/precondition failures only; never mutates state.
func (ex *Executor) Validate(tx Transaction) (bool, string) {
	switch tx.Kind {
	case KindFarmStake:
		if tx.FarmStake == nil || tx.FarmStake.Amount == nil || tx.FarmStake.Amount.Sign() <= 0 {
			return false, ErrInvalidAmount.Error()
		}
		return true, ""
	case KindFarmUnstake:
		if tx.FarmUnstake == nil || tx.FarmUnstake.Amount == nil || tx.FarmUnstake.Amount.Sign() <= 0 {
			return false, ErrInvalidAmount.Error()
		}
		return true, ""
	case KindFarmHarvest:
		if tx.FarmHarvest == nil || tx.FarmHarvest.FarmID == "" {
			return false, ErrMissingPayload.Error()
		}
		return true, ""
	case KindPoolAddLiquidity:
		p := tx.PoolAddLiquidity
		if p == nil || p.PoolID == "" || p.TokenAAmount == nil || p.TokenBAmount == nil ||
			p.TokenAAmount.Sign() <= 0 || p.TokenBAmount.Sign() <= 0 {
			return false, ErrInvalidAmount.Error()
		}
		return true, ""
	case KindPoolRemoveLiquidity:
		p := tx.PoolRemoveLiquidity
		if p == nil || p.PoolID == "" || p.LpTokenAmount == nil || p.LpTokenAmount.Sign() <= 0 {
			return false, ErrInvalidAmount.Error()
		}
		return true, ""
	case KindPoolClaimFees:
		if tx.PoolClaimFees == nil || tx.PoolClaimFees.PoolID == "" {
			return false, ErrMissingPayload.Error()
		}
		return true, ""
	case KindHybridTrade:
		if tx.HybridTrade == nil {
			return false, ErrMissingPayload.Error()
		}
		return ex.router.Validate(toRouterRequest(tx.Sender, tx.HybridTrade))
	case KindMarketPlaceOrder:
		return ex.validatePlaceOrder(tx)
	case KindMarketCancelOrder:
		if tx.MarketCancelOrder == nil || tx.MarketCancelOrder.OrderID == "" || tx.MarketCancelOrder.PairID == "" {
			return false, ErrMissingPayload.Error()
		}
		return true, ""
	case KindNftCreateCollection:
		p := tx.NftCreateCollection
		if p == nil || p.Symbol == "" || p.MaxSupply <= 0 {
			return false, ErrMissingPayload.Error()
		}
		return true, ""
	case KindNftMintInstance:
		if tx.NftMintInstance == nil || tx.NftMintInstance.CollectionSymbol == "" {
			return false, ErrMissingPayload.Error()
		}
		return true, ""
	case KindNftMakeOffer:
		p := tx.NftMakeOffer
		if p == nil || p.TargetType == "" || p.TargetID == "" || p.OfferAmount == nil || p.OfferAmount.Sign() <= 0 {
			return false, ErrInvalidAmount.Error()
		}
		return true, ""
	case KindNftCancelOffer:
		if tx.NftCancelOffer == nil || tx.NftCancelOffer.OfferID == "" {
			return false, ErrMissingPayload.Error()
		}
		return true, ""
	case KindNftAcceptOffer:
		if tx.NftAcceptOffer == nil || tx.NftAcceptOffer.OfferID == "" {
			return false, ErrMissingPayload.Error()
		}
		return true, ""
	case KindNftCreateListing:
		p := tx.NftCreateListing
		if p == nil || p.TargetType == "" || p.TargetID == "" || p.Price == nil || p.Price.Sign() <= 0 {
			return false, ErrInvalidAmount.Error()
		}
		return true, ""
	case KindVestingClaim:
		p := tx.VestingClaim
		if p == nil || p.LaunchpadID == "" || p.AllocationType == "" || p.PayoutSymbol == "" {
			return false, ErrMissingPayload.Error()
		}
		return true, ""
	default:
		return false, ErrUnknownKind.Error()
	}
}

func (ex *Executor) validatePlaceOrder(tx Transaction) (bool, string) {
	p := tx.MarketPlaceOrder
	if p == nil || p.PairID == "" {
		return false, ErrMissingPayload.Error()
	}
	if p.Type == types.Limit && (p.Price == nil || p.Price.Sign() <= 0) {
		return false, "limit order requires a positive price"
	}
	if p.Side == types.Buy && p.Type == types.Market && p.QuoteOrderQty != nil {
		if p.QuoteOrderQty.Sign() <= 0 {
			return false, ErrInvalidAmount.Error()
		}
		return true, ""
	}
	if p.Quantity == nil || p.Quantity.Sign() <= 0 {
		return false, ErrInvalidAmount.Error()
	}
	return true, ""
}

// Process implements spec.md §2's process(tx, sender, txId, ts) -> ok.
// Only called after a successful Validate. Component-level errors surface
// as a non-nil error; the caller (block application loop) decides whether
// that constitutes an execution-guard abort (spec.md §7 rule 2) or a
// settlement failure to log as CRITICAL (spec.md §7 rule 3) depending on
// whether any counterparty balance was already paid.
func (ex *Executor) Process(tx Transaction, txID string, ts int64) (bool, error) {
	switch tx.Kind {
	case KindFarmStake:
		if err := ex.farm.Stake(tx.Sender, tx.FarmStake.FarmID, tx.FarmStake.Amount, ts); err != nil {
			return false, err
		}
		return true, nil
	case KindFarmUnstake:
		if err := ex.farm.Unstake(tx.Sender, tx.FarmUnstake.FarmID, tx.FarmUnstake.Amount, ts); err != nil {
			return false, err
		}
		return true, nil
	case KindFarmHarvest:
		if _, err := ex.farm.Harvest(tx.Sender, tx.FarmHarvest.FarmID, ts); err != nil {
			return false, err
		}
		return true, nil
	case KindPoolAddLiquidity:
		p := tx.PoolAddLiquidity
		if err := ex.ammEng.AddLiquidity(tx.Sender, p.PoolID, p.TokenAAmount, p.TokenBAmount); err != nil {
			return false, err
		}
		return true, nil
	case KindPoolRemoveLiquidity:
		p := tx.PoolRemoveLiquidity
		if _, _, err := ex.ammEng.RemoveLiquidity(tx.Sender, p.PoolID, p.LpTokenAmount); err != nil {
			return false, err
		}
		return true, nil
	case KindPoolClaimFees:
		if _, _, err := ex.ammEng.ClaimFees(tx.Sender, tx.PoolClaimFees.PoolID); err != nil {
			return false, err
		}
		return true, nil
	case KindHybridTrade:
		if _, err := ex.router.Process(toRouterRequest(tx.Sender, tx.HybridTrade), txID, ts); err != nil {
			return false, err
		}
		return true, nil
	case KindMarketPlaceOrder:
		return ex.processPlaceOrder(tx, txID, ts)
	case KindMarketCancelOrder:
		p := tx.MarketCancelOrder
		ok, reason, err := ex.match.CancelOrder(p.OrderID, p.PairID, tx.Sender)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("executor: cancel rejected: %s", reason)
		}
		return true, nil
	case KindNftCreateCollection:
		p := tx.NftCreateCollection
		if err := ex.nft.CreateCollection(tx.Sender, p.Symbol, p.MaxSupply, p.Mintable, p.Burnable, p.Transferable, p.RoyaltyBps); err != nil {
			return false, err
		}
		return true, nil
	case KindNftMintInstance:
		p := tx.NftMintInstance
		if _, err := ex.nft.MintInstance(p.CollectionSymbol, tx.Sender, p.Traits); err != nil {
			return false, err
		}
		return true, nil
	case KindNftMakeOffer:
		p := tx.NftMakeOffer
		if _, err := ex.nft.MakeOffer(tx.Sender, p.TargetType, p.TargetID, p.OfferAmount, p.PaymentTokenSymbol, p.ExpiresAt, ts); err != nil {
			return false, err
		}
		return true, nil
	case KindNftCancelOffer:
		if err := ex.nft.CancelOffer(tx.NftCancelOffer.OfferID, tx.Sender, ts); err != nil {
			return false, err
		}
		return true, nil
	case KindNftAcceptOffer:
		if err := ex.nft.AcceptOffer(tx.NftAcceptOffer.OfferID, tx.Sender, ts); err != nil {
			return false, err
		}
		return true, nil
	case KindNftCreateListing:
		p := tx.NftCreateListing
		if _, err := ex.nft.CreateListing(tx.Sender, p.TargetType, p.TargetID, p.Price, p.PaymentTokenSymbol, ts); err != nil {
			return false, err
		}
		return true, nil
	case KindVestingClaim:
		p := tx.VestingClaim
		if _, err := ex.vest.Claim(tx.Sender, p.LaunchpadID, p.AllocationType, p.PayoutSymbol, ts); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, ErrUnknownKind
	}
}

func (ex *Executor) processPlaceOrder(tx Transaction, txID string, ts int64) (bool, error) {
	p := tx.MarketPlaceOrder
	order := &types.Order{
		OrderID:        fmt.Sprintf("%s-ord-%s", tx.Sender, txID),
		UserID:         tx.Sender,
		PairID:         p.PairID,
		Side:           p.Side,
		Type:           p.Type,
		Price:          p.Price,
		Quantity:       p.Quantity,
		QuoteOrderQty:  p.QuoteOrderQty,
		FilledQuantity: bigmath.Zero(),
		Status:         types.StatusOpen,
		TimeInForce:    p.TimeInForce,
	}
	if order.TimeInForce == "" {
		order.TimeInForce = types.GTC
	}

	debitSymbol, debitAmount, err := ex.escrowFor(order)
	if err != nil {
		return false, err
	}
	if debitAmount.IsPos() {
		if err := ex.ledger.AdjustBalance(tx.Sender, debitSymbol, debitAmount.Neg()); err != nil {
			return false, err
		}
	}

	result, err := ex.match.AddOrder(order, ts)
	if err != nil {
		// Execution guard (spec.md §7 rule 2): roll back the escrow debit
		// since no order was actually booked.
		if debitAmount.IsPos() {
			_ = ex.ledger.AdjustBalance(tx.Sender, debitSymbol, debitAmount)
		}
		return false, err
	}
	if !result.Accepted {
		if debitAmount.IsPos() {
			_ = ex.ledger.AdjustBalance(tx.Sender, debitSymbol, debitAmount)
		}
		return false, fmt.Errorf("executor: order rejected: %s", result.Reason)
	}
	return true, nil
}

// escrowFor computes the up-front debit for a newly placed order: BUY locks
// quote (price*quantity for LIMIT, quoteOrderQty for a quote-denominated
// MARKET buy), SELL locks base quantity. Mirrors pkg/router's reroute/
// order-book-route escrow debits so cancel-time refunds (matching.refundFor)
// stay consistent regardless of which component placed the order.
func (ex *Executor) escrowFor(o *types.Order) (string, *bigmath.Int, error) {
	doc, found, err := ex.db.FindOne(matching.TradingPairsCollection, store.M{"_id": o.PairID})
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, fmt.Errorf("executor: unknown trading pair %s", o.PairID)
	}
	pair, err := store.FromDoc[types.TradingPair](doc)
	if err != nil {
		return "", nil, err
	}
	if o.Side == types.Buy {
		if o.Type == types.Market {
			if o.QuoteOrderQty != nil {
				return pair.QuoteAssetSymbol, o.QuoteOrderQty.Clone(), nil
			}
			// Base-quantity market buy: exact cost is unknown until matched,
			// so escrow an upper bound off the best resting ask.
			book, ok := ex.match.BookFor(o.PairID)
			if !ok {
				return "", nil, fmt.Errorf("executor: no book for pair %s", o.PairID)
			}
			bestAsk := book.BestAsk()
			if bestAsk == nil || bestAsk.Sign() <= 0 {
				return "", nil, fmt.Errorf("executor: no resting ask to price market buy on %s", o.PairID)
			}
			return pair.QuoteAssetSymbol, bestAsk.Mul(o.Quantity), nil
		}
		return pair.QuoteAssetSymbol, o.Price.Mul(o.Quantity), nil
	}
	return pair.BaseAssetSymbol, o.Quantity.Clone(), nil
}

func toRouterRequest(sender string, p *HybridTradePayload) router.TradeRequest {
	return router.TradeRequest{
		Sender:             sender,
		TokenIn:            p.TokenIn,
		TokenOut:           p.TokenOut,
		AmountIn:           p.AmountIn,
		Price:              p.Price,
		MinAmountOut:       p.MinAmountOut,
		MaxSlippagePercent: p.MaxSlippagePercent,
		Routes:             p.Routes,
	}
}
