package nft

import (
	"testing"

	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/events"
	"github.com/futureshock/meeray-core/pkg/ledger"
	"github.com/futureshock/meeray-core/pkg/store"
)

func seedNft(t *testing.T) (*Engine, store.Store, *ledger.Ledger) {
	t.Helper()
	db := store.NewMemStore()
	for _, name := range []string{"creator", "bidder1", "bidder2"} {
		if err := ledger.EnsureAccount(db, name); err != nil {
			t.Fatalf("seed account: %v", err)
		}
	}
	l := ledger.New(db)
	for _, name := range []string{"creator", "bidder1", "bidder2"} {
		if err := l.AdjustBalance(name, "MRY", bigmath.New(10000)); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}
	e := New(db, l, events.NoopSink{}, "MRY", bigmath.New(100))
	if err := e.CreateCollection("creator", "ANML", 10, true, true, true, 500); err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if _, err := e.MintInstance("ANML", "creator", map[string]string{"color": "red"}); err != nil {
		t.Fatalf("mint instance: %v", err)
	}
	return e, db, l
}

func TestCreateCollectionDebitsFee(t *testing.T) {
	_, _, l := seedNft(t)
	bal, err := l.GetBalance("creator", "MRY")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.Int64() != 9900 {
		t.Fatalf("expected fee debited to 9900, got %s", bal)
	}
}

func TestMintInstanceRespectsMaxSupply(t *testing.T) {
	e, _, _ := seedNft(t)
	c, err := e.loadCollection("ANML")
	if err != nil {
		t.Fatalf("load collection: %v", err)
	}
	if c.CurrentSupply != 1 {
		t.Fatalf("expected currentSupply 1 after seeding, got %d", c.CurrentSupply)
	}
}

func TestMakeOfferEscrowsAndRejectsSelfOffer(t *testing.T) {
	e, _, _ := seedNft(t)
	if _, err := e.MakeOffer("creator", TargetNFT, "ANML_0", bigmath.New(500), "MRY", nil, 10); err != ErrSelfOffer {
		t.Fatalf("expected self-offer rejection, got %v", err)
	}
}

func TestMakeOfferCancelsPriorActiveOfferFromSameBuyer(t *testing.T) {
	e, _, l := seedNft(t)
	first, err := e.MakeOffer("bidder1", TargetNFT, "ANML_0", bigmath.New(500), "MRY", nil, 10)
	if err != nil {
		t.Fatalf("first offer: %v", err)
	}
	second, err := e.MakeOffer("bidder1", TargetNFT, "ANML_0", bigmath.New(800), "MRY", nil, 11)
	if err != nil {
		t.Fatalf("second offer: %v", err)
	}
	stale, err := e.loadOffer(first.OfferID)
	if err != nil {
		t.Fatalf("load stale offer: %v", err)
	}
	if stale.Status != StatusCancelled {
		t.Fatalf("expected prior offer cancelled, got %s", stale.Status)
	}
	bal, err := l.GetBalance("bidder1", "MRY")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	// 10000 - 800 (second escrow), first 500 was refunded before re-escrow.
	if bal.Int64() != 9200 {
		t.Fatalf("expected balance 9200 after swap-offer, got %s", bal)
	}
	if second.EscrowedAmount.Int64() != 800 {
		t.Fatalf("expected new escrow 800, got %s", second.EscrowedAmount)
	}
}

func TestAcceptOfferTransfersInstanceAndPaysOwner(t *testing.T) {
	e, _, l := seedNft(t)
	offer, err := e.MakeOffer("bidder1", TargetNFT, "ANML_0", bigmath.New(500), "MRY", nil, 10)
	if err != nil {
		t.Fatalf("make offer: %v", err)
	}
	if err := e.AcceptOffer(offer.OfferID, "creator", 11); err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	instance, err := e.loadInstance("ANML", 0)
	if err != nil {
		t.Fatalf("load instance: %v", err)
	}
	if instance.Owner != "bidder1" {
		t.Fatalf("expected ownership transferred to bidder1, got %s", instance.Owner)
	}
	bal, err := l.GetBalance("creator", "MRY")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.Int64() != 9900+500 {
		t.Fatalf("expected creator paid 500, got %s", bal)
	}
}

func TestCancelOfferRefundsEscrow(t *testing.T) {
	e, _, l := seedNft(t)
	offer, err := e.MakeOffer("bidder2", TargetNFT, "ANML_0", bigmath.New(300), "MRY", nil, 10)
	if err != nil {
		t.Fatalf("make offer: %v", err)
	}
	if err := e.CancelOffer(offer.OfferID, "bidder2", 11); err != nil {
		t.Fatalf("cancel offer: %v", err)
	}
	bal, err := l.GetBalance("bidder2", "MRY")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.Int64() != 10000 {
		t.Fatalf("expected full refund to 10000, got %s", bal)
	}
}

func TestListingAcceptPaysListerAndTransfersToBuyer(t *testing.T) {
	e, _, l := seedNft(t)
	listing, err := e.CreateListing("creator", TargetNFT, "ANML_0", bigmath.New(1000), "MRY", 10)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if err := e.AcceptOffer(listing.OfferID, "bidder1", 11); err != nil {
		t.Fatalf("accept listing: %v", err)
	}
	instance, err := e.loadInstance("ANML", 0)
	if err != nil {
		t.Fatalf("load instance: %v", err)
	}
	if instance.Owner != "bidder1" {
		t.Fatalf("expected buyer to own instance, got %s", instance.Owner)
	}
	creatorBal, err := l.GetBalance("creator", "MRY")
	if err != nil {
		t.Fatalf("get creator balance: %v", err)
	}
	if creatorBal.Int64() != 9900+1000 {
		t.Fatalf("expected creator paid 1000, got %s", creatorBal)
	}
}

func TestAcceptOfferPastExpiryConvertsToRefund(t *testing.T) {
	e, _, l := seedNft(t)
	expiresAt := int64(20)
	offer, err := e.MakeOffer("bidder1", TargetNFT, "ANML_0", bigmath.New(500), "MRY", &expiresAt, 10)
	if err != nil {
		t.Fatalf("make offer: %v", err)
	}
	if err := e.AcceptOffer(offer.OfferID, "creator", 25); err != nil {
		t.Fatalf("accept past expiry should refund, not error: %v", err)
	}
	stale, err := e.loadOffer(offer.OfferID)
	if err != nil {
		t.Fatalf("load offer: %v", err)
	}
	if stale.Status != StatusExpired {
		t.Fatalf("expected offer EXPIRED, got %s", stale.Status)
	}
	instance, err := e.loadInstance("ANML", 0)
	if err != nil {
		t.Fatalf("load instance: %v", err)
	}
	if instance.Owner != "creator" {
		t.Fatalf("expected instance to stay with creator, got %s", instance.Owner)
	}
	bal, err := l.GetBalance("bidder1", "MRY")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.Int64() != 10000 {
		t.Fatalf("expected bidder1 fully refunded to 10000, got %s", bal)
	}
}
