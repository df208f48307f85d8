// Package types holds the in-memory domain model shared by every component
// of the core (spec.md §3). Monetary fields are bigmath.Int (arbitrary
// precision, decimal-string persisted form); timestamps are block-time
// milliseconds.
package types

import "github.com/futureshock/meeray-core/pkg/bigmath"

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

type OrderStatus string

const (
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Order is the in-memory representation of spec.md §3's Order entity.
type Order struct {
	OrderID              string       `json:"orderId"`
	UserID               string       `json:"userId"`
	PairID               string       `json:"pairId"`
	Side                 Side         `json:"side"`
	Type                 OrderType    `json:"type"`
	Price                *bigmath.Int `json:"price,omitempty"`
	Quantity             *bigmath.Int `json:"quantity"`
	FilledQuantity       *bigmath.Int `json:"filledQuantity"`
	Status               OrderStatus  `json:"status"`
	TimeInForce          TimeInForce  `json:"timeInForce"`
	QuoteOrderQty        *bigmath.Int `json:"quoteOrderQty,omitempty"`
	AverageFillPrice     *bigmath.Int `json:"averageFillPrice,omitempty"`
	CumulativeQuoteValue *bigmath.Int `json:"cumulativeQuoteValue,omitempty"`
	// MinAmountOut/escrow bookkeeping set by the hybrid router (C8) when a
	// rerouted limit order must defer its slippage check to fill time
	// (SPEC_FULL.md §5 decision 3).
	MinAmountOut *bigmath.Int `json:"minAmountOut,omitempty"`
	CreatedAt    string       `json:"createdAt"`
	UpdatedAt    string       `json:"lastUpdatedAt"`
}

func (o *Order) Remaining() *bigmath.Int {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Trade is spec.md §3's immutable Trade entity.
type Trade struct {
	TradeID      string       `json:"tradeId"`
	PairID       string       `json:"pairId"`
	BaseSymbol   string       `json:"baseSymbol"`
	QuoteSymbol  string       `json:"quoteSymbol"`
	MakerOrderID string       `json:"makerOrderId,omitempty"`
	TakerOrderID string       `json:"takerOrderId,omitempty"`
	BuyerUserID  string       `json:"buyerUserId"`
	SellerUserID string       `json:"sellerUserId"`
	Price        *bigmath.Int `json:"price"`
	Quantity     *bigmath.Int `json:"quantity"`
	Total        *bigmath.Int `json:"total"`
	Timestamp    int64        `json:"timestamp"`
	IsMakerBuyer bool         `json:"isMakerBuyer"`
	Source       string       `json:"source"` // "book" or "pool"
	Settled      bool         `json:"settled"`
	SettleErr    string       `json:"settleError,omitempty"`
}

// TradingPair is spec.md §3's TradingPair entity.
type TradingPair struct {
	PairID           string       `json:"pairId"`
	BaseAssetSymbol  string       `json:"baseAssetSymbol"`
	QuoteAssetSymbol string       `json:"quoteAssetSymbol"`
	BaseDecimals     int          `json:"baseDecimals"`
	QuoteDecimals    int          `json:"quoteDecimals"`
	TickSize         *bigmath.Int `json:"tickSize"`
	LotSize          *bigmath.Int `json:"lotSize"`
	MinNotional      *bigmath.Int `json:"minNotional"`
	MinTradeAmount   *bigmath.Int `json:"minTradeAmount"`
	MaxTradeAmount   *bigmath.Int `json:"maxTradeAmount"`
	Status           string       `json:"status"` // TRADING, HALTED
}

// LiquidityPool is spec.md §3's LiquidityPool entity.
type LiquidityPool struct {
	PoolID           string       `json:"poolId"`
	TokenASymbol     string       `json:"tokenA_symbol"`
	TokenAReserve    *bigmath.Int `json:"tokenA_reserve"`
	TokenBSymbol     string       `json:"tokenB_symbol"`
	TokenBReserve    *bigmath.Int `json:"tokenB_reserve"`
	TotalLpTokens    *bigmath.Int `json:"totalLpTokens"`
	FeeGrowthGlobalA *bigmath.Int `json:"feeGrowthGlobalA"`
	FeeGrowthGlobalB *bigmath.Int `json:"feeGrowthGlobalB"`
	Status           string       `json:"status"`
}

// UserLiquidityPosition is spec.md §3's UserLiquidityPosition entity.
type UserLiquidityPosition struct {
	User            string       `json:"user"`
	PoolID          string       `json:"poolId"`
	LpTokenBalance  *bigmath.Int `json:"lpTokenBalance"`
	FeeGrowthEntryA *bigmath.Int `json:"feeGrowthEntryA"`
	FeeGrowthEntryB *bigmath.Int `json:"feeGrowthEntryB"`
}

// Farm is spec.md §3's Farm entity.
type Farm struct {
	FarmID             string       `json:"farmId"`
	StakingTokenSymbol string       `json:"stakingTokenSymbol"`
	StartTime          int64        `json:"startTime"`
	EndTime            int64        `json:"endTime"`
	Status             string       `json:"status"`
	TotalStaked        *bigmath.Int `json:"totalStaked"`
	MinStakeAmount     *bigmath.Int `json:"minStakeAmount"`
	RewardTokenSymbol  string       `json:"rewardTokenSymbol"`
	RewardPerBlock     *bigmath.Int `json:"rewardPerBlock"`
}

// UserFarmPosition is spec.md §3's UserFarmPosition entity.
type UserFarmPosition struct {
	User            string       `json:"user"`
	FarmID          string       `json:"farmId"`
	StakedAmount    *bigmath.Int `json:"stakedAmount"`
	PendingRewards  *bigmath.Int `json:"pendingRewards"`
	LastHarvestTime int64        `json:"lastHarvestTime"`
}

// VestingState is spec.md §3's VestingState entity.
type VestingState struct {
	User                  string       `json:"user"`
	LaunchpadID           string       `json:"launchpadId"`
	AllocationType        string       `json:"allocationType"`
	TotalAllocated        *bigmath.Int `json:"totalAllocated"`
	TotalClaimed          *bigmath.Int `json:"totalClaimed"`
	VestingStartTimestamp int64        `json:"vestingStartTimestamp"`
	CliffDurationMs       int64        `json:"cliffDurationMs"`
	LinearDurationMs      int64        `json:"linearDurationMs"`
	IsFullyClaimed        bool         `json:"isFullyClaimed"`
}

// NftCollection is spec.md §3's NftCollection entity.
type NftCollection struct {
	Symbol          string `json:"symbol"`
	Creator         string `json:"creator"`
	CurrentSupply   int64  `json:"currentSupply"`
	MaxSupply       int64  `json:"maxSupply"`
	Mintable        bool   `json:"mintable"`
	Burnable        bool   `json:"burnable"`
	Transferable    bool   `json:"transferable"`
	RoyaltyBps      int    `json:"royaltyBps"`
}

// NftInstance is spec.md §3's NftInstance entity.
type NftInstance struct {
	CollectionSymbol string            `json:"collectionSymbol"`
	Index            int64             `json:"index"`
	Owner            string            `json:"owner"`
	Traits           map[string]string `json:"traits,omitempty"`
}

// NftOffer is spec.md §3's NftOffer entity, also used for seller-side fixed
// price listings (SPEC_FULL.md §3 C11 supplement).
type NftOffer struct {
	OfferID          string            `json:"offerId"`
	TargetType       string            `json:"targetType"` // NFT, COLLECTION, TRAIT
	TargetID         string            `json:"targetId"`
	OfferBy          string            `json:"offerBy"`
	OfferAmount      *bigmath.Int      `json:"offerAmount"`
	PaymentToken     string            `json:"paymentToken"`
	EscrowedAmount   *bigmath.Int      `json:"escrowedAmount"`
	Status           string            `json:"status"` // ACTIVE, ACCEPTED, EXPIRED, CANCELLED
	ExpiresAt        *int64            `json:"expiresAt,omitempty"`
	Traits           map[string]string `json:"traits,omitempty"`
	IsListing        bool              `json:"isListing"`
}

// BridgeJob is spec.md §3's BridgeJob entity.
type BridgeJob struct {
	JobID      string       `json:"jobId"`
	To         string       `json:"to"`
	Amount     *bigmath.Int `json:"amount"`
	Symbol     string       `json:"symbol"`
	Memo       string       `json:"memo,omitempty"`
	Status     string       `json:"status"` // pending, processing, done, failed
	Attempts   int          `json:"attempts"`
	TxID       string       `json:"txId,omitempty"`
	LastError  string       `json:"lastError,omitempty"`
	CreatedAt  string       `json:"createdAt"`
	UpdatedAt  string       `json:"updatedAt"`
}

// Token is spec.md §3's Token entity.
type Token struct {
	Symbol         string       `json:"symbol"`
	Precision      int          `json:"precision"`
	MaxSupply      *bigmath.Int `json:"maxSupply"`
	CurrentSupply  *bigmath.Int `json:"currentSupply"`
	Mintable       bool         `json:"mintable"`
	Burnable       bool         `json:"burnable"`
	Issuer         string       `json:"issuer,omitempty"`
}

// Account is spec.md §3's Account entity.
type Account struct {
	Name     string                  `json:"name"`
	Balances map[string]*bigmath.Int `json:"balances"`
}
