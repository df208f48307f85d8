// Package nft implements the NFT lifecycle (spec.md §4.11, supplemented per
// SPEC_FULL.md §3 C11): collection creation, instance minting, offers/bids,
// and fixed-price listings — grounded on the matching engine's escrow/cancel/
// settle shape (pkg/matching), generalized from order-book escrow to a
// single-sided offer escrow.
package nft

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/ledger"
	"github.com/futureshock/meeray-core/pkg/store"
	"github.com/futureshock/meeray-core/pkg/types"
)

const (
	CollectionsCollection = "nftCollections"
	InstancesCollection   = "nftInstances"
	OffersCollection      = "nftOffers"

	TargetNFT        = "NFT"
	TargetCollection = "COLLECTION"
	TargetTrait      = "TRAIT"

	StatusActive    = "ACTIVE"
	StatusAccepted  = "ACCEPTED"
	StatusExpired   = "EXPIRED"
	StatusCancelled = "CANCELLED"
)

var (
	ErrCollectionNotFound  = errors.New("nft: collection not found")
	ErrSupplyExhausted     = errors.New("nft: collection at max supply")
	ErrNotMintable         = errors.New("nft: collection not mintable")
	ErrInstanceNotFound    = errors.New("nft: instance not found")
	ErrNotTransferable     = errors.New("nft: collection not transferable")
	ErrInvalidTargetType   = errors.New("nft: invalid target type")
	ErrSelfOffer           = errors.New("nft: cannot offer on own listing/self-owned target")
	ErrInvalidAmount       = errors.New("nft: offerAmount must be positive")
	ErrExpirationInPast    = errors.New("nft: expiresAt must be in the future")
	ErrOfferNotFound       = errors.New("nft: offer not found")
	ErrOfferNotActive      = errors.New("nft: offer not active")
	ErrNotOfferOwner       = errors.New("nft: not offer owner")
	ErrNotTargetOwner      = errors.New("nft: caller does not own the offer's target")
)

type Engine struct {
	db     store.Store
	ledger *ledger.Ledger
	sink   events.Sink

	CollectionCreationFeeSymbol string
	CollectionCreationFee       *bigmath.Int
}

func New(db store.Store, l *ledger.Ledger, sink events.Sink, feeSymbol string, fee *bigmath.Int) *Engine {
	return &Engine{db: db, ledger: l, sink: sink, CollectionCreationFeeSymbol: feeSymbol, CollectionCreationFee: fee}
}

func (e *Engine) loadCollection(symbol string) (*types.NftCollection, error) {
	doc, ok, err := e.db.FindOne(CollectionsCollection, store.M{"_id": symbol})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return store.FromDoc[types.NftCollection](doc)
}

func (e *Engine) saveCollection(c *types.NftCollection) error {
	doc, err := store.ToDoc(c.Symbol, c)
	if err != nil {
		return err
	}
	ok, err := e.db.UpdateOne(CollectionsCollection, store.M{"_id": c.Symbol}, store.Update{Set: doc})
	if err != nil {
		return err
	}
	if !ok {
		return e.db.InsertOne(CollectionsCollection, doc)
	}
	return nil
}

func instanceKey(symbol string, index int64) string {
	return symbol + "_" + bigmath.New(index).String()
}

func (e *Engine) loadInstance(symbol string, index int64) (*types.NftInstance, error) {
	doc, ok, err := e.db.FindOne(InstancesCollection, store.M{"_id": instanceKey(symbol, index)})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return store.FromDoc[types.NftInstance](doc)
}

func (e *Engine) saveInstance(i *types.NftInstance) error {
	doc, err := store.ToDoc(instanceKey(i.CollectionSymbol, i.Index), i)
	if err != nil {
		return err
	}
	ok, err := e.db.UpdateOne(InstancesCollection, store.M{"_id": instanceKey(i.CollectionSymbol, i.Index)}, store.Update{Set: doc})
	if err != nil {
		return err
	}
	if !ok {
		return e.db.InsertOne(InstancesCollection, doc)
	}
	return nil
}

// CreateCollection debits the creation fee from the creator and mints the
// collection document (SPEC_FULL.md §3 C11 supplement).
func (e *Engine) CreateCollection(creator, symbol string, maxSupply int64, mintable, burnable, transferable bool, royaltyBps int) error {
	if e.CollectionCreationFee != nil && e.CollectionCreationFee.IsPos() {
		if err := e.ledger.AdjustBalance(creator, e.CollectionCreationFeeSymbol, e.CollectionCreationFee.Neg()); err != nil {
			return err
		}
	}
	c := &types.NftCollection{
		Symbol: symbol, Creator: creator, CurrentSupply: 0, MaxSupply: maxSupply,
		Mintable: mintable, Burnable: burnable, Transferable: transferable, RoyaltyBps: royaltyBps,
	}
	if err := e.saveCollection(c); err != nil {
		return err
	}
	e.sink.LogEvent("nft", "collection_create", creator, c, "")
	return nil
}

// MintInstance mints the next sequential instance in a collection, up to
// maxSupply.
func (e *Engine) MintInstance(collectionSymbol, owner string, traits map[string]string) (*types.NftInstance, error) {
	c, err := e.loadCollection(collectionSymbol)
	if err != nil {
		return nil, err
	}
	if !c.Mintable {
		return nil, ErrNotMintable
	}
	if c.MaxSupply > 0 && c.CurrentSupply >= c.MaxSupply {
		return nil, ErrSupplyExhausted
	}
	instance := &types.NftInstance{CollectionSymbol: collectionSymbol, Index: c.CurrentSupply, Owner: owner, Traits: traits}
	if err := e.saveInstance(instance); err != nil {
		return nil, err
	}
	c.CurrentSupply++
	if err := e.saveCollection(c); err != nil {
		return nil, err
	}
	e.sink.LogEvent("nft", "instance_mint", owner, instance, "")
	return instance, nil
}

func (e *Engine) loadOffer(offerID string) (*types.NftOffer, error) {
	doc, ok, err := e.db.FindOne(OffersCollection, store.M{"_id": offerID})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOfferNotFound
	}
	return store.FromDoc[types.NftOffer](doc)
}

func (e *Engine) saveOffer(o *types.NftOffer) error {
	doc, err := store.ToDoc(o.OfferID, o)
	if err != nil {
		return err
	}
	ok, err := e.db.UpdateOne(OffersCollection, store.M{"_id": o.OfferID}, store.Update{Set: doc})
	if err != nil {
		return err
	}
	if !ok {
		return e.db.InsertOne(OffersCollection, doc)
	}
	return nil
}

// OfferID computes spec.md §6's deterministic offer ID:
// sha256(type|target|offerBy|ts)[:16].
func OfferID(targetType, targetID, offerBy string, ts int64) string {
	h := sha256.Sum256([]byte(targetType + "|" + targetID + "|" + offerBy + "|" + bigmath.New(ts).String()))
	return hex.EncodeToString(h[:])[:16]
}

func (e *Engine) targetOwner(targetType, targetID string) (string, error) {
	switch targetType {
	case TargetNFT:
		symbol, index, err := splitNftTargetID(targetID)
		if err != nil {
			return "", err
		}
		instance, err := e.loadInstance(symbol, index)
		if err != nil {
			return "", err
		}
		return instance.Owner, nil
	default:
		return "", nil
	}
}

func (e *Engine) targetTransferable(targetType, targetID string) (bool, error) {
	switch targetType {
	case TargetNFT:
		symbol, _, err := splitNftTargetID(targetID)
		if err != nil {
			return false, err
		}
		c, err := e.loadCollection(symbol)
		if err != nil {
			return false, err
		}
		return c.Transferable, nil
	case TargetCollection:
		c, err := e.loadCollection(targetID)
		if err != nil {
			return false, err
		}
		return c.Transferable, nil
	case TargetTrait:
		return true, nil
	default:
		return false, ErrInvalidTargetType
	}
}

func splitNftTargetID(targetID string) (string, int64, error) {
	for i := len(targetID) - 1; i >= 0; i-- {
		if targetID[i] == '_' {
			symbol := targetID[:i]
			idx := bigmath.Parse(targetID[i+1:])
			return symbol, idx.Int64(), nil
		}
	}
	return "", 0, ErrInstanceNotFound
}

// MakeOffer implements spec.md §4.11's make-offer operation: cancels any
// prior ACTIVE offer from the same buyer on the same target (refunding its
// escrow) before escrowing the new amount.
func (e *Engine) MakeOffer(offerBy, targetType, targetID string, offerAmount *bigmath.Int, paymentToken string, expiresAt *int64, ts int64) (*types.NftOffer, error) {
	if targetType != TargetNFT && targetType != TargetCollection && targetType != TargetTrait {
		return nil, ErrInvalidTargetType
	}
	if offerAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if expiresAt != nil && *expiresAt <= ts {
		return nil, ErrExpirationInPast
	}
	transferable, err := e.targetTransferable(targetType, targetID)
	if err != nil {
		return nil, err
	}
	if !transferable {
		return nil, ErrNotTransferable
	}
	owner, err := e.targetOwner(targetType, targetID)
	if err != nil {
		return nil, err
	}
	if owner == offerBy {
		return nil, ErrSelfOffer
	}

	if err := e.cancelExistingOffer(offerBy, targetType, targetID); err != nil {
		return nil, err
	}

	if err := e.ledger.AdjustBalance(offerBy, paymentToken, offerAmount.Neg()); err != nil {
		return nil, err
	}

	offer := &types.NftOffer{
		OfferID: OfferID(targetType, targetID, offerBy, ts), TargetType: targetType, TargetID: targetID,
		OfferBy: offerBy, OfferAmount: offerAmount, PaymentToken: paymentToken,
		EscrowedAmount: offerAmount.Clone(), Status: StatusActive, ExpiresAt: expiresAt,
	}
	if err := e.saveOffer(offer); err != nil {
		// rollback escrow on insert failure (spec.md §4.11).
		_ = e.ledger.AdjustBalance(offerBy, paymentToken, offerAmount)
		return nil, err
	}
	e.sink.LogEvent("nft", "nft_make_offer", offerBy, offer, "")
	return offer, nil
}

func (e *Engine) cancelExistingOffer(offerBy, targetType, targetID string) error {
	docs, err := e.db.Find(OffersCollection, store.M{
		"offerBy": offerBy, "targetType": targetType, "targetId": targetID, "status": StatusActive, "isListing": false,
	})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		existing, err := store.FromDoc[types.NftOffer](doc)
		if err != nil {
			return err
		}
		if err := e.ledger.AdjustBalance(existing.OfferBy, existing.PaymentToken, existing.EscrowedAmount); err != nil {
			return err
		}
		existing.Status = StatusCancelled
		existing.EscrowedAmount = bigmath.Zero()
		if err := e.saveOffer(existing); err != nil {
			return err
		}
	}
	return nil
}

// expireOffer converts an ACTIVE offer that has outlived its ExpiresAt into
// a cancel-with-refund (spec.md §5 decision 4): escrow returns to offerBy
// and the offer lands in a terminal EXPIRED state rather than CANCELLED, so
// callers can tell a deliberate cancel from one the clock forced.
func (e *Engine) expireOffer(o *types.NftOffer) error {
	if o.EscrowedAmount.IsPos() {
		if err := e.ledger.AdjustBalance(o.OfferBy, o.PaymentToken, o.EscrowedAmount); err != nil {
			return err
		}
	}
	o.Status = StatusExpired
	o.EscrowedAmount = bigmath.Zero()
	if err := e.saveOffer(o); err != nil {
		return err
	}
	e.sink.LogEvent("nft", "nft_expire_offer", o.OfferBy, o, "")
	return nil
}

// CancelOffer refunds escrow and marks an ACTIVE offer CANCELLED. ts is the
// caller's current chain timestamp, used to catch an offer that expired
// before this cancel was observed (spec.md §5 decision 4).
func (e *Engine) CancelOffer(offerID, caller string, ts int64) error {
	o, err := e.loadOffer(offerID)
	if err != nil {
		return err
	}
	if o.OfferBy != caller {
		return ErrNotOfferOwner
	}
	if o.Status != StatusActive {
		return ErrOfferNotActive
	}
	if o.ExpiresAt != nil && *o.ExpiresAt < ts {
		return e.expireOffer(o)
	}
	if o.EscrowedAmount.IsPos() {
		if err := e.ledger.AdjustBalance(o.OfferBy, o.PaymentToken, o.EscrowedAmount); err != nil {
			return err
		}
	}
	o.Status = StatusCancelled
	o.EscrowedAmount = bigmath.Zero()
	if err := e.saveOffer(o); err != nil {
		return err
	}
	e.sink.LogEvent("nft", "nft_cancel_offer", caller, o, "")
	return nil
}

// AcceptOffer implements spec.md §4.11's accept path for a buyer-side offer:
// the target owner accepts, escrow pays the owner, the NFT instance
// transfers (for TargetNFT). ts is the caller's current chain timestamp; an
// offer observed past its ExpiresAt is converted to a cancel-with-refund
// instead of being accepted (spec.md §5 decision 4).
func (e *Engine) AcceptOffer(offerID, owner string, ts int64) error {
	o, err := e.loadOffer(offerID)
	if err != nil {
		return err
	}
	if o.Status != StatusActive {
		return ErrOfferNotActive
	}
	if o.ExpiresAt != nil && *o.ExpiresAt < ts {
		return e.expireOffer(o)
	}
	if o.IsListing {
		return e.acceptListing(o, owner)
	}
	actualOwner, err := e.targetOwner(o.TargetType, o.TargetID)
	if err != nil {
		return err
	}
	if actualOwner != "" && actualOwner != owner {
		return ErrNotTargetOwner
	}
	if err := e.ledger.AdjustBalance(owner, o.PaymentToken, o.EscrowedAmount); err != nil {
		return err
	}
	if err := e.transferTarget(o.TargetType, o.TargetID, o.OfferBy); err != nil {
		return err
	}
	o.Status = StatusAccepted
	o.EscrowedAmount = bigmath.Zero()
	if err := e.saveOffer(o); err != nil {
		return err
	}
	e.sink.LogEvent("nft", "nft_accept_offer", owner, o, "")
	return nil
}

// acceptListing implements the fixed-price listing supplement: the lister
// (offerBy on an IsListing offer) created a seller-side ask; a buyer
// accepting it pays the lister and receives the NFT.
func (e *Engine) acceptListing(o *types.NftOffer, buyer string) error {
	if err := e.ledger.AdjustBalance(buyer, o.PaymentToken, o.OfferAmount.Neg()); err != nil {
		return err
	}
	if err := e.ledger.AdjustBalance(o.OfferBy, o.PaymentToken, o.OfferAmount); err != nil {
		return err
	}
	if err := e.transferTarget(o.TargetType, o.TargetID, buyer); err != nil {
		return err
	}
	o.Status = StatusAccepted
	if err := e.saveOffer(o); err != nil {
		return err
	}
	e.sink.LogEvent("nft", "nft_accept_listing", buyer, o, "")
	return nil
}

func (e *Engine) transferTarget(targetType, targetID, newOwner string) error {
	if targetType != TargetNFT {
		return nil
	}
	symbol, index, err := splitNftTargetID(targetID)
	if err != nil {
		return err
	}
	instance, err := e.loadInstance(symbol, index)
	if err != nil {
		return err
	}
	c, err := e.loadCollection(symbol)
	if err != nil {
		return err
	}
	if !c.Transferable {
		return ErrNotTransferable
	}
	instance.Owner = newOwner
	return e.saveInstance(instance)
}

// CreateListing implements the fixed-price-listing supplement (SPEC_FULL.md
// §3 C11): a seller-side ask, modeled as an NftOffer with IsListing=true and
// offerBy the lister, accepted by a paying buyer rather than a target owner.
func (e *Engine) CreateListing(lister, targetType, targetID string, price *bigmath.Int, paymentToken string, ts int64) (*types.NftOffer, error) {
	if targetType != TargetNFT {
		return nil, ErrInvalidTargetType
	}
	if price.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	owner, err := e.targetOwner(targetType, targetID)
	if err != nil {
		return nil, err
	}
	if owner != lister {
		return nil, ErrNotOfferOwner
	}
	listing := &types.NftOffer{
		OfferID: OfferID(targetType, targetID, lister, ts) + "L", TargetType: targetType, TargetID: targetID,
		OfferBy: lister, OfferAmount: price, PaymentToken: paymentToken, Status: StatusActive, IsListing: true,
	}
	if err := e.saveOffer(listing); err != nil {
		return nil, err
	}
	e.sink.LogEvent("nft", "nft_create_listing", lister, listing, "")
	return listing, nil
}
