// Package trustfund implements beneficiary payouts keyed on liveness: a
// grantor deposits funds, names weighted beneficiaries, and configures a
// living-switch condition. Once the condition trips at some height, anyone
// may trigger the withdrawal that distributes the deposits across the
// beneficiaries proportionally to weight.
//
// The only clock is the ledger height; conditions are either an absolute
// height or an interval of heights since the grantor's last clock-in.
// ClockIn and Withdraw are also registered as dispatchable methods, so both
// liveness maintenance and payouts can be scheduled as deferred delegated
// tasks.
package trustfund

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/deferd/internal/eventlog"
	"github.com/rzbill/deferd/internal/ledger/balances"
	"github.com/rzbill/deferd/internal/ledger/dispatch"
	pebblestore "github.com/rzbill/deferd/internal/storage/pebble"
	"github.com/rzbill/deferd/pkg/account"
)

// Dispatch method names registered by this module.
const (
	MethodClockIn  = "trustfund.clock_in"
	MethodWithdraw = "trustfund.withdraw"
	MethodDeposit  = "trustfund.deposit"
)

var (
	// ErrNotTripped is returned when a withdrawal is attempted before the
	// grantor's living-switch condition has been met.
	ErrNotTripped = errors.New("living switch not tripped")
	// ErrNoBeneficiaries is returned when a fund has no beneficiary list.
	ErrNoBeneficiaries = errors.New("no beneficiaries configured")
)

// BeneficiaryShare is one weighted recipient of a fund.
type BeneficiaryShare struct {
	Address string `json:"address"`
	Weight  uint64 `json:"weight"`
}

// Condition kinds for the living switch.
const (
	CondNone     = "none"
	CondHeight   = "height"
	CondInterval = "clock_in_interval"
)

// Condition describes when a fund becomes withdrawable.
type Condition struct {
	Kind string `json:"kind"`
	// Height is the absolute trip height for CondHeight.
	Height uint64 `json:"height,omitempty"`
	// Interval is the trip distance in heights since the last clock-in for
	// CondInterval.
	Interval uint64 `json:"interval,omitempty"`
}

// Keyspace:
//   - ledger/tf/ben/{grantor_32B}           -> json []BeneficiaryShare
//   - ledger/tf/cond/{grantor_32B}          -> json Condition
//   - ledger/tf/clock/{grantor_32B}         -> last_clock_in_height(8 BE)
//   - ledger/tf/dep/{grantor_32B}/{asset}   -> amount(8 BE)
const (
	benPrefix   = "ledger/tf/ben/"
	condPrefix  = "ledger/tf/cond/"
	clockPrefix = "ledger/tf/clock/"
	depPrefix   = "ledger/tf/dep/"
)

func benKey(g account.ID) []byte   { return append([]byte(benPrefix), g[:]...) }
func condKey(g account.ID) []byte  { return append([]byte(condPrefix), g[:]...) }
func clockKey(g account.ID) []byte { return append([]byte(clockPrefix), g[:]...) }

func depKey(g account.ID, asset string) []byte {
	k := make([]byte, 0, len(depPrefix)+account.Size+1+len(asset))
	k = append(k, depPrefix...)
	k = append(k, g[:]...)
	k = append(k, '/')
	k = append(k, asset...)
	return k
}

func depKeyPrefix(g account.ID) []byte {
	k := make([]byte, 0, len(depPrefix)+account.Size+1)
	k = append(k, depPrefix...)
	k = append(k, g[:]...)
	k = append(k, '/')
	return k
}

// Fund owns the trust-fund keyspace. Mutations stage into indexed batches
// so scheduled trust-fund actions commit atomically with the height run
// that dispatched them.
type Fund struct {
	db       *pebblestore.DB
	balances *balances.Store
	events   *eventlog.Log
}

// NewFund binds the module to its collaborators.
func NewFund(db *pebblestore.DB, bal *balances.Store, events *eventlog.Log) *Fund {
	return &Fund{db: db, balances: bal, events: events}
}

// SetBeneficiaries stages the grantor's weighted beneficiary list.
func (f *Fund) SetBeneficiaries(b *pebble.Batch, height uint64, grantor account.ID, shares []BeneficiaryShare) error {
	if len(shares) == 0 {
		return errors.New("trustfund: at least one beneficiary required")
	}
	var totalWeight uint64
	for _, s := range shares {
		if _, err := account.Parse(s.Address); err != nil {
			return fmt.Errorf("trustfund: bad beneficiary: %w", err)
		}
		if s.Weight == 0 {
			return errors.New("trustfund: beneficiary weight must be positive")
		}
		// the weight sum is a divisor at withdrawal; it must not wrap
		if totalWeight+s.Weight < totalWeight {
			return errors.New("trustfund: beneficiary weights overflow")
		}
		totalWeight += s.Weight
	}
	v, err := json.Marshal(shares)
	if err != nil {
		return err
	}
	if err := b.Set(benKey(grantor), v, nil); err != nil {
		return err
	}
	_, err = f.events.StageAppend(b, eventlog.Event{
		Height: height, Kind: eventlog.KindBeneficiariesSet, Account: grantor.String(), Ok: true,
	})
	return err
}

// Beneficiaries returns the committed beneficiary list, empty when unset.
func (f *Fund) Beneficiaries(grantor account.ID) ([]BeneficiaryShare, error) {
	v, err := f.db.Get(benKey(grantor))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var shares []BeneficiaryShare
	if err := json.Unmarshal(v, &shares); err != nil {
		return nil, fmt.Errorf("trustfund: corrupt beneficiary record: %w", err)
	}
	return shares, nil
}

// SetLivingSwitch stages the grantor's withdrawal condition.
func (f *Fund) SetLivingSwitch(b *pebble.Batch, height uint64, grantor account.ID, cond Condition) error {
	switch cond.Kind {
	case CondNone:
	case CondHeight:
		if cond.Height == 0 {
			return errors.New("trustfund: trip height must be positive")
		}
	case CondInterval:
		if cond.Interval == 0 {
			return errors.New("trustfund: clock-in interval must be positive")
		}
	default:
		return fmt.Errorf("trustfund: unknown condition kind %q", cond.Kind)
	}
	v, err := json.Marshal(cond)
	if err != nil {
		return err
	}
	if err := b.Set(condKey(grantor), v, nil); err != nil {
		return err
	}
	_, err = f.events.StageAppend(b, eventlog.Event{
		Height: height, Kind: eventlog.KindLivingSwitchSet, Account: grantor.String(), Ok: true, Note: cond.Kind,
	})
	return err
}

// LivingSwitch returns the committed condition; CondNone when unset.
func (f *Fund) LivingSwitch(grantor account.ID) (Condition, error) {
	v, err := f.db.Get(condKey(grantor))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return Condition{Kind: CondNone}, nil
		}
		return Condition{}, err
	}
	var cond Condition
	if err := json.Unmarshal(v, &cond); err != nil {
		return Condition{}, fmt.Errorf("trustfund: corrupt condition record: %w", err)
	}
	return cond, nil
}

// ClockIn stages a liveness refresh at the given height.
func (f *Fund) ClockIn(b *pebble.Batch, height uint64, grantor account.ID) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], height)
	if err := b.Set(clockKey(grantor), v[:], nil); err != nil {
		return err
	}
	_, err := f.events.StageAppend(b, eventlog.Event{
		Height: height, Kind: eventlog.KindClockedIn, Account: grantor.String(), Ok: true,
	})
	return err
}

// LastClockIn returns the committed last clock-in height, zero when never.
func (f *Fund) LastClockIn(grantor account.ID) (uint64, error) {
	v, err := f.db.Get(clockKey(grantor))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(v) < 8 {
		return 0, errors.New("trustfund: corrupt clock-in record")
	}
	return binary.BigEndian.Uint64(v[:8]), nil
}

// Deposit stages a move of funds from the grantor's balance into the fund.
func (f *Fund) Deposit(b *pebble.Batch, grantor account.ID, asset string, amount uint64) error {
	if asset == "" {
		return errors.New("trustfund: asset required")
	}
	if amount == 0 {
		return errors.New("trustfund: amount must be positive")
	}
	if err := f.balances.Debit(b, asset, grantor, amount); err != nil {
		return err
	}
	cur, err := readAmountThrough(b, depKey(grantor, asset))
	if err != nil {
		return err
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], cur+amount)
	return b.Set(depKey(grantor, asset), v[:], nil)
}

// Deposited returns the committed fund balance for an asset.
func (f *Fund) Deposited(grantor account.ID, asset string) (uint64, error) {
	v, err := f.db.Get(depKey(grantor, asset))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(v) < 8 {
		return 0, errors.New("trustfund: corrupt deposit record")
	}
	return binary.BigEndian.Uint64(v[:8]), nil
}

// tripped reports whether the condition allows withdrawal at the height.
func (f *Fund) tripped(b *pebble.Batch, grantor account.ID, height uint64) (bool, error) {
	cond, err := f.livingSwitchThrough(b, grantor)
	if err != nil {
		return false, err
	}
	switch cond.Kind {
	case CondHeight:
		return height > cond.Height, nil
	case CondInterval:
		last, err := f.lastClockInThrough(b, grantor)
		if err != nil {
			return false, err
		}
		if height < last {
			return false, nil
		}
		return height-last > cond.Interval, nil
	default:
		return false, nil
	}
}

// Withdraw distributes every deposited asset across the beneficiaries by
// weight, provided the grantor's living switch has tripped at the height.
// The integer split is exact: each share is floor(amount*weight/total) and
// the remainder goes to the first beneficiary, so replicas agree and no
// funds are lost.
func (f *Fund) Withdraw(b *pebble.Batch, height uint64, caller, grantor account.ID) error {
	ok, err := f.tripped(b, grantor, height)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: grantor %s at height %d", ErrNotTripped, grantor, height)
	}
	shares, err := f.beneficiariesThrough(b, grantor)
	if err != nil {
		return err
	}
	if len(shares) == 0 {
		return ErrNoBeneficiaries
	}
	var totalWeight uint64
	for _, s := range shares {
		if totalWeight+s.Weight < totalWeight {
			return errors.New("trustfund: corrupt beneficiary record: weight overflow")
		}
		totalWeight += s.Weight
	}

	assets, amounts, err := f.depositsThrough(b, grantor)
	if err != nil {
		return err
	}
	for i, asset := range assets {
		amount := amounts[i]
		cuts := make([]uint64, len(shares))
		var floored uint64
		for j, s := range shares {
			// floor(amount*weight/totalWeight) with a 128-bit product:
			// weight <= totalWeight, so the quotient fits in 64 bits
			hi, lo := bits.Mul64(amount, s.Weight)
			cuts[j], _ = bits.Div64(hi, lo, totalWeight)
			floored += cuts[j]
		}
		// remainder to the first beneficiary keeps the split exact
		cuts[0] += amount - floored
		for j, s := range shares {
			if cuts[j] == 0 {
				continue
			}
			addr, err := account.Parse(s.Address)
			if err != nil {
				return fmt.Errorf("trustfund: corrupt beneficiary record: %w", err)
			}
			if err := f.balances.Credit(b, asset, addr, cuts[j]); err != nil {
				return err
			}
		}
		if err := b.Delete(depKey(grantor, asset), nil); err != nil {
			return err
		}
	}

	_, err = f.events.StageAppend(b, eventlog.Event{
		Height: height, Kind: eventlog.KindWithdrawn, Account: grantor.String(), Ok: true,
		Note: caller.String(),
	})
	return err
}

func readAmountThrough(b *pebble.Batch, key []byte) (uint64, error) {
	v, closer, err := b.Get(key)
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	defer closer.Close()
	if len(v) < 8 {
		return 0, errors.New("trustfund: corrupt amount")
	}
	return binary.BigEndian.Uint64(v[:8]), nil
}

func (f *Fund) livingSwitchThrough(b *pebble.Batch, grantor account.ID) (Condition, error) {
	v, closer, err := b.Get(condKey(grantor))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return Condition{Kind: CondNone}, nil
		}
		return Condition{}, err
	}
	defer closer.Close()
	var cond Condition
	if err := json.Unmarshal(v, &cond); err != nil {
		return Condition{}, fmt.Errorf("trustfund: corrupt condition record: %w", err)
	}
	return cond, nil
}

func (f *Fund) lastClockInThrough(b *pebble.Batch, grantor account.ID) (uint64, error) {
	return readAmountThrough(b, clockKey(grantor))
}

func (f *Fund) beneficiariesThrough(b *pebble.Batch, grantor account.ID) ([]BeneficiaryShare, error) {
	v, closer, err := b.Get(benKey(grantor))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()
	var shares []BeneficiaryShare
	if err := json.Unmarshal(v, &shares); err != nil {
		return nil, fmt.Errorf("trustfund: corrupt beneficiary record: %w", err)
	}
	return shares, nil
}

// depositsThrough lists the grantor's deposited assets and amounts in key
// order, reading through the batch.
func (f *Fund) depositsThrough(b *pebble.Batch, grantor account.ID) ([]string, []uint64, error) {
	prefix := depKeyPrefix(grantor)
	upper := append(append([]byte(nil), prefix...), 0xFF)
	it, err := b.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = it.Close() }()

	var assets []string
	var amounts []uint64
	for ok := it.First(); ok; ok = it.Next() {
		k := it.Key()
		assets = append(assets, string(k[len(prefix):]))
		v := it.Value()
		if len(v) < 8 {
			return nil, nil, errors.New("trustfund: corrupt deposit record")
		}
		amounts = append(amounts, binary.BigEndian.Uint64(v[:8]))
	}
	return assets, amounts, nil
}

// RegisterMethods wires the module's dispatchable methods into the registry.
func (f *Fund) RegisterMethods(r *dispatch.Registry) {
	r.Register(MethodClockIn, f.clockInHandler)
	r.Register(MethodWithdraw, f.withdrawHandler)
	r.Register(MethodDeposit, f.depositHandler)
}

func (f *Fund) clockInHandler(_ context.Context, call *dispatch.Call) error {
	return f.ClockIn(call.Batch, call.Height, call.As)
}

type withdrawParams struct {
	Grantor string `json:"grantor"`
}

func (f *Fund) withdrawHandler(_ context.Context, call *dispatch.Call) error {
	var p withdrawParams
	if err := json.Unmarshal(call.Params, &p); err != nil {
		return fmt.Errorf("trustfund: bad params: %w", err)
	}
	grantor, err := account.Parse(p.Grantor)
	if err != nil {
		return fmt.Errorf("trustfund: bad grantor: %w", err)
	}
	return f.Withdraw(call.Batch, call.Height, call.As, grantor)
}

type depositParams struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

func (f *Fund) depositHandler(_ context.Context, call *dispatch.Call) error {
	var p depositParams
	if err := json.Unmarshal(call.Params, &p); err != nil {
		return fmt.Errorf("trustfund: bad params: %w", err)
	}
	return f.Deposit(call.Batch, call.As, p.Asset, p.Amount)
}
