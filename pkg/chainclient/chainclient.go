// Package chainclient defines the source-chain broadcast collaborator
// (spec.md §6) the bridge worker (C12) depends on. The concrete
// implementation — signing and submitting a custom-op to Steem — lives
// outside this core's scope; this package only names the interface and a
// deterministic in-memory stub useful for tests.
package chainclient

import (
	"strconv"

	"github.com/futureshock/meeray-core/pkg/bigmath"
)

// Client is the external broadcaster the bridge worker calls to move funds
// on the source chain.
type Client interface {
	// BroadcastWithdrawal submits a transfer of amount/symbol to `to` with
	// the given memo, returning the source-chain transaction ID.
	BroadcastWithdrawal(to, symbol string, amount *bigmath.Int, memo string) (txID string, err error)
	// BroadcastMint submits the custom-op representing a deposit-triggered
	// local mint, returning the source-chain transaction ID.
	BroadcastMint(to, symbol string, amount *bigmath.Int, memo string) (txID string, err error)
}

// StubClient is a deterministic in-memory Client for tests and local runs
// without a live source-chain connection: every call succeeds immediately.
type StubClient struct {
	nextID int
}

func NewStubClient() *StubClient { return &StubClient{} }

func (s *StubClient) BroadcastWithdrawal(to, symbol string, amount *bigmath.Int, memo string) (string, error) {
	s.nextID++
	return "stub-withdrawal-tx-" + strconv.Itoa(s.nextID), nil
}

func (s *StubClient) BroadcastMint(to, symbol string, amount *bigmath.Int, memo string) (string, error) {
	s.nextID++
	return "stub-mint-tx-" + strconv.Itoa(s.nextID), nil
}
