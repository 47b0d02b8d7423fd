// Package nonce implements the per-account replay guard: one strictly
// increasing counter per account, advanced by exactly one per admitted task.
// It is the sole anti-replay mechanism; a previously admitted
// (account, nonce) pair can never be admitted again because the counter has
// already moved past it.
package nonce

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/deferd/internal/storage/pebble"
	"github.com/rzbill/deferd/pkg/account"
)

// ErrInvalidNonce is returned when a presented nonce does not equal the
// account's expected counter. The caller can recover by resubmitting with
// the current expected value; stored state is never mutated on this error.
var ErrInvalidNonce = errors.New("invalid nonce")

const keyPrefix = "ledger/nonce/"

// Key returns the counter key for an account.
// Format: ledger/nonce/{account_32B}
func Key(acct account.ID) []byte {
	k := make([]byte, 0, len(keyPrefix)+account.Size)
	k = append(k, keyPrefix...)
	k = append(k, acct[:]...)
	return k
}

// Ledger reads and advances account counters. The scheduler is the only
// writer; reads are safe for external validation/UX callers.
type Ledger struct {
	db *pebblestore.DB
}

// NewLedger binds a nonce ledger to the store.
func NewLedger(db *pebblestore.DB) *Ledger {
	return &Ledger{db: db}
}

// Expected returns the next nonce the account must present. Unseen accounts
// default to zero.
func (l *Ledger) Expected(acct account.ID) (uint64, error) {
	v, err := l.db.Get(Key(acct))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(v) < 8 {
		return 0, fmt.Errorf("nonce: corrupt counter for %s", acct)
	}
	return binary.BigEndian.Uint64(v[:8]), nil
}

// Admit checks the presented nonce against the account's counter and, on
// match, stages the increment into the batch. The batch must be indexed so
// admissions staged earlier in the same batch are visible.
func (l *Ledger) Admit(b *pebble.Batch, acct account.ID, presented uint64) error {
	expected, err := l.expectedThrough(b, acct)
	if err != nil {
		return err
	}
	if presented != expected {
		return fmt.Errorf("%w: account %s presented %d, expected %d", ErrInvalidNonce, acct, presented, expected)
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], expected+1)
	return b.Set(Key(acct), v[:], nil)
}

func (l *Ledger) expectedThrough(b *pebble.Batch, acct account.ID) (uint64, error) {
	v, closer, err := b.Get(Key(acct))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	defer closer.Close()
	if len(v) < 8 {
		return 0, fmt.Errorf("nonce: corrupt counter for %s", acct)
	}
	return binary.BigEndian.Uint64(v[:8]), nil
}
