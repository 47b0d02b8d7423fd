// Package runtime assembles the deferd node: the Pebble store, the nonce
// ledger, the task queue, the event log, balances, the trust-fund module,
// and the scheduler, plus the persisted height register that drives them.
package runtime

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/deferd/internal/config"
	"github.com/rzbill/deferd/internal/eventlog"
	"github.com/rzbill/deferd/internal/ledger"
	"github.com/rzbill/deferd/internal/ledger/balances"
	"github.com/rzbill/deferd/internal/ledger/dispatch"
	"github.com/rzbill/deferd/internal/ledger/nonce"
	"github.com/rzbill/deferd/internal/ledger/scheduler"
	"github.com/rzbill/deferd/internal/ledger/taskqueue"
	pebblestore "github.com/rzbill/deferd/internal/storage/pebble"
	"github.com/rzbill/deferd/internal/trustfund"
	"github.com/rzbill/deferd/pkg/account"
	logpkg "github.com/rzbill/deferd/pkg/log"
)

// heightKey is the persisted height register. Height zero is the reserved
// carry-over bucket, so a fresh store starts at zero and the first advance
// runs height one.
const heightKey = "ledger/height"

// Runtime owns the node's components and serializes all ledger mutations.
type Runtime struct {
	cfg    config.Config
	logger logpkg.Logger

	db       *pebblestore.DB
	nonces   *nonce.Ledger
	queue    *taskqueue.Queue
	events   *eventlog.Log
	balances *balances.Store
	fund     *trustfund.Fund
	registry *dispatch.Registry
	sched    *scheduler.Scheduler

	// mu orders height advances against admissions so a height transition
	// never observes a half-admitted task.
	mu     sync.Mutex
	height uint64
}

// Open builds a runtime from configuration. The caller must Close it.
func Open(cfg config.Config, logger logpkg.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       cfg.DataDir,
		Fsync:         fsyncMode(cfg.Fsync),
		FsyncInterval: time.Duration(cfg.FsyncIntervalMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: open store: %w", err)
	}

	events, err := eventlog.OpenLog(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	bal := balances.NewStore(db)
	fund := trustfund.NewFund(db, bal, events)

	registry := dispatch.NewRegistry()
	registry.Register(balances.MethodTransfer, bal.TransferHandler())
	fund.RegisterMethods(registry)

	r := &Runtime{
		cfg:      cfg,
		logger:   logger.With(logpkg.Component("runtime")),
		db:       db,
		nonces:   nonce.NewLedger(db),
		queue:    taskqueue.NewQueue(db),
		events:   events,
		balances: bal,
		fund:     fund,
		registry: registry,
	}
	r.sched = scheduler.New(db, r.nonces, r.queue, registry, events, scheduler.Config{
		MaxTasksPerHeight: cfg.MaxTasksPerHeight,
		PayloadMaxBytes:   cfg.PayloadMaxBytes,
	}, logger)

	if r.height, err = r.loadHeight(); err != nil {
		_ = db.Close()
		return nil, err
	}
	r.logger.Info("runtime open",
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Uint64("height", r.height),
		logpkg.Int("max_tasks_per_height", cfg.MaxTasksPerHeight),
	)
	return r, nil
}

// Close releases the underlying store.
func (r *Runtime) Close() error {
	return r.db.Close()
}

func (r *Runtime) loadHeight() (uint64, error) {
	v, err := r.db.Get([]byte(heightKey))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(v) < 8 {
		return 0, fmt.Errorf("runtime: corrupt height register (%d bytes)", len(v))
	}
	return binary.BigEndian.Uint64(v[:8]), nil
}

// Height returns the current ledger height.
func (r *Runtime) Height() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.height
}

// AdvanceHeight moves the ledger to the next height and executes its task
// batch. The height register update and the full height run commit in one
// batch: a crash leaves the node either entirely before or entirely after
// the transition.
func (r *Runtime) AdvanceHeight(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.height + 1
	b := r.db.NewIndexedBatch()
	defer b.Close()
	if err := r.sched.RunBatch(ctx, b, next); err != nil {
		return 0, err
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], next)
	if err := b.Set([]byte(heightKey), v[:], nil); err != nil {
		return 0, err
	}
	if err := r.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	r.height = next
	return next, nil
}

// Schedule admits a deferred task for a future height. Serialized on the
// runtime lock: AdvanceHeight stages the height run through RunBatch, which
// bypasses the scheduler's own lock, so admissions must not interleave with
// a transition in flight.
func (r *Runtime) Schedule(ctx context.Context, t ledger.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sched.Schedule(ctx, t)
}

// ExpectedNonce returns the nonce an account must present next.
func (r *Runtime) ExpectedNonce(acct account.ID) (uint64, error) {
	return r.sched.ExpectedNonce(acct)
}

// Events reads committed events from fromSeq, optionally filtered by a CEL
// expression over the event fields.
func (r *Runtime) Events(fromSeq uint64, limit int, filterExpr string) ([]eventlog.Event, error) {
	var filter *eventlog.Filter
	if filterExpr != "" {
		f, err := eventlog.NewFilter(filterExpr)
		if err != nil {
			return nil, err
		}
		filter = f
	}
	return r.events.Read(fromSeq, limit, filter)
}

// Balance returns the committed balance for an asset and account.
func (r *Runtime) Balance(asset string, acct account.ID) (uint64, error) {
	return r.balances.Get(asset, acct)
}

// Credit mints a balance outside the dispatch path. Development and test
// seeding only; production balances change through dispatched actions.
func (r *Runtime) Credit(ctx context.Context, asset string, acct account.ID, amount uint64) error {
	b := r.db.NewIndexedBatch()
	defer b.Close()
	if err := r.balances.Credit(b, asset, acct, amount); err != nil {
		return err
	}
	return r.db.CommitBatch(ctx, b)
}

// Fund exposes the trust-fund module for read queries.
func (r *Runtime) Fund() *trustfund.Fund { return r.fund }

// commitFund applies one trust-fund mutation at the current height in its
// own batch. Direct API calls; scheduled trust-fund actions instead ride the
// height run's batch through dispatch.
func (r *Runtime) commitFund(ctx context.Context, stage func(b *pebble.Batch, height uint64) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.db.NewIndexedBatch()
	defer b.Close()
	if err := stage(b, r.height); err != nil {
		return err
	}
	return r.db.CommitBatch(ctx, b)
}

// SetBeneficiaries replaces a grantor's weighted beneficiary list.
func (r *Runtime) SetBeneficiaries(ctx context.Context, grantor account.ID, shares []trustfund.BeneficiaryShare) error {
	return r.commitFund(ctx, func(b *pebble.Batch, h uint64) error {
		return r.fund.SetBeneficiaries(b, h, grantor, shares)
	})
}

// SetLivingSwitch replaces a grantor's withdrawal condition.
func (r *Runtime) SetLivingSwitch(ctx context.Context, grantor account.ID, cond trustfund.Condition) error {
	return r.commitFund(ctx, func(b *pebble.Batch, h uint64) error {
		return r.fund.SetLivingSwitch(b, h, grantor, cond)
	})
}

// ClockIn refreshes a grantor's liveness at the current height.
func (r *Runtime) ClockIn(ctx context.Context, grantor account.ID) error {
	return r.commitFund(ctx, func(b *pebble.Batch, h uint64) error {
		return r.fund.ClockIn(b, h, grantor)
	})
}

// FundDeposit moves funds from the grantor's balance into their fund.
func (r *Runtime) FundDeposit(ctx context.Context, grantor account.ID, asset string, amount uint64) error {
	return r.commitFund(ctx, func(b *pebble.Batch, _ uint64) error {
		return r.fund.Deposit(b, grantor, asset, amount)
	})
}

// FundWithdraw distributes a tripped fund's deposits to its beneficiaries.
func (r *Runtime) FundWithdraw(ctx context.Context, caller, grantor account.ID) error {
	return r.commitFund(ctx, func(b *pebble.Batch, h uint64) error {
		return r.fund.Withdraw(b, h, caller, grantor)
	})
}

// Methods returns the dispatchable method names.
func (r *Runtime) Methods() []string { return r.registry.Methods() }

// PendingTasks returns the number of queued tasks for a due height.
func (r *Runtime) PendingTasks(dueHeight uint64) (uint64, error) {
	return r.queue.Count(dueHeight)
}

// CheckHealth verifies the store answers reads.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.loadHeight()
	return err
}

func fsyncMode(s string) pebblestore.FsyncMode {
	switch s {
	case "interval":
		return pebblestore.FsyncModeInterval
	case "never":
		return pebblestore.FsyncModeNever
	default:
		return pebblestore.FsyncModeAlways
	}
}
