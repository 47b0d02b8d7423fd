// Package balances implements the per-(asset, account) balance map and the
// built-in "transfer" dispatchable method, so a scheduled delegated transfer
// works end to end without host-specific handlers.
package balances

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/deferd/internal/ledger/dispatch"
	pebblestore "github.com/rzbill/deferd/internal/storage/pebble"
	"github.com/rzbill/deferd/pkg/account"
)

// MethodTransfer is the dispatch method name for delegated transfers.
const MethodTransfer = "transfer"

// ErrInsufficientFunds is returned when a debit exceeds the balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

const keyPrefix = "ledger/bal/"

// Key returns the balance key for an asset and account.
// Format: ledger/bal/{asset}/{account_32B}
func Key(asset string, acct account.ID) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(asset)+1+account.Size)
	k = append(k, keyPrefix...)
	k = append(k, asset...)
	k = append(k, '/')
	k = append(k, acct[:]...)
	return k
}

// Store reads and mutates balances. Mutations stage into an indexed batch.
type Store struct {
	db *pebblestore.DB
}

// NewStore binds a balance store.
func NewStore(db *pebblestore.DB) *Store {
	return &Store{db: db}
}

// Get returns the committed balance. Unseen pairs default to zero.
func (s *Store) Get(asset string, acct account.ID) (uint64, error) {
	v, err := s.db.Get(Key(asset, acct))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return decodeAmount(v)
}

// GetThrough returns the balance as visible through the batch.
func (s *Store) GetThrough(b *pebble.Batch, asset string, acct account.ID) (uint64, error) {
	v, closer, err := b.Get(Key(asset, acct))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	defer closer.Close()
	return decodeAmount(v)
}

// Credit stages an increase of the balance.
func (s *Store) Credit(b *pebble.Batch, asset string, acct account.ID, amount uint64) error {
	cur, err := s.GetThrough(b, asset, acct)
	if err != nil {
		return err
	}
	return s.set(b, asset, acct, cur+amount)
}

// Debit stages a decrease of the balance, failing without mutation when the
// balance is insufficient.
func (s *Store) Debit(b *pebble.Batch, asset string, acct account.ID, amount uint64) error {
	cur, err := s.GetThrough(b, asset, acct)
	if err != nil {
		return err
	}
	if cur < amount {
		return fmt.Errorf("%w: account %s has %d, needs %d", ErrInsufficientFunds, acct, cur, amount)
	}
	return s.set(b, asset, acct, cur-amount)
}

// Transfer stages a debit from one account and a credit to another.
func (s *Store) Transfer(b *pebble.Batch, asset string, from, to account.ID, amount uint64) error {
	if err := s.Debit(b, asset, from, amount); err != nil {
		return err
	}
	return s.Credit(b, asset, to, amount)
}

func (s *Store) set(b *pebble.Batch, asset string, acct account.ID, amount uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], amount)
	return b.Set(Key(asset, acct), v[:], nil)
}

func decodeAmount(v []byte) (uint64, error) {
	if len(v) < 8 {
		return 0, fmt.Errorf("balances: corrupt amount (%d bytes)", len(v))
	}
	return binary.BigEndian.Uint64(v[:8]), nil
}

// transferParams is the wire form of a transfer action's params.
type transferParams struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// TransferHandler returns the dispatch handler for MethodTransfer. The
// debited account is always the task's original submitter.
func (s *Store) TransferHandler() dispatch.Handler {
	return func(_ context.Context, call *dispatch.Call) error {
		var p transferParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return fmt.Errorf("transfer: bad params: %w", err)
		}
		if p.Asset == "" {
			return errors.New("transfer: asset required")
		}
		to, err := account.Parse(p.To)
		if err != nil {
			return fmt.Errorf("transfer: bad recipient: %w", err)
		}
		return s.Transfer(call.Batch, p.Asset, call.As, to, p.Amount)
	}
}
