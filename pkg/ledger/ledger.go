// Package ledger implements the account balance ledger (spec.md §4.3): the
// sole mutator of Account.balances, strictly serial, grounded on the
// teacher's account/manager.go balance-mutation pattern but generalized from
// a single USDC field to an arbitrary token-symbol map.
package ledger

import (
	"fmt"

	"github.com/futureshock/meeray-core/pkg/bigmath"
	"github.com/futureshock/meeray-core/pkg/store"
)

const Collection = "accounts"

type Ledger struct {
	db store.Store
}

func New(db store.Store) *Ledger {
	return &Ledger{db: db}
}

// BalanceKey returns the composite key a token is tracked under: bare
// symbol, or "symbol@issuer" when an issuer is present (spec.md §4.3).
func BalanceKey(symbol, issuer string) string {
	if issuer == "" {
		return symbol
	}
	return symbol + "@" + issuer
}

// GetBalance returns the current balance for tokenKey (as produced by
// BalanceKey), or zero if the account or the balance entry doesn't exist.
func (l *Ledger) GetBalance(user, tokenKey string) (*bigmath.Int, error) {
	doc, ok, err := l.db.FindOne(Collection, store.M{"_id": user})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("ledger: account %s not found", user)
	}
	balances, _ := doc["balances"].(store.Document)
	if balances == nil {
		if m, ok2 := doc["balances"].(map[string]interface{}); ok2 {
			balances = store.Document(m)
		}
	}
	raw, _ := balances[tokenKey].(string)
	return bigmath.Parse(raw), nil
}

// AdjustBalance applies delta to user's tokenKey balance; it fails (without
// mutating anything) if the resulting balance would be negative, or if the
// account does not exist — account creation is an out-of-scope external
// collaborator (spec.md §3), the ledger only ever adjusts an existing
// account.
func (l *Ledger) AdjustBalance(user, tokenKey string, delta *bigmath.Int) error {
	cur, err := l.GetBalance(user, tokenKey)
	if err != nil {
		return err
	}
	next := cur.Add(delta)
	if next.IsNeg() {
		return fmt.Errorf("ledger: insufficient balance for %s: have %s, delta %s", tokenKey, cur, delta)
	}
	ok, err := l.db.UpdateOne(Collection, store.M{"_id": user},
		store.Update{Set: map[string]interface{}{"balances." + tokenKey: next.String()}})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("ledger: account %s not found", user)
	}
	return nil
}

// EnsureAccount creates a zero-balance account document if one doesn't
// already exist. Account creation proper is an external collaborator
// (spec.md §1); this only exists so component tests can seed fixtures
// without depending on that collaborator.
func EnsureAccount(db store.Store, name string) error {
	if _, ok, _ := db.FindOne(Collection, store.M{"_id": name}); ok {
		return nil
	}
	return db.InsertOne(Collection, store.Document{"_id": name, "name": name, "balances": store.Document{}})
}
