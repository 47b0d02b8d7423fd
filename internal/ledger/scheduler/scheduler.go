// Package scheduler orchestrates deferred delegated tasks: it admits
// submissions through the nonce ledger and, once per height, executes due
// tasks through the execution sink under a fixed per-height cap.
//
// Each height run is one atomic state transition: merge the carry-over
// bucket with the height's due bucket, dispatch at most MaxTasksPerHeight
// tasks from the front, record one event per dispatched task, and re-file
// the remainder as the new carry-over. A dispatched task is consumed
// whether or not the sink succeeds; failure is reported, never retried, and
// the nonce it consumed is never returned.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/deferd/internal/eventlog"
	"github.com/rzbill/deferd/internal/ledger"
	"github.com/rzbill/deferd/internal/ledger/dispatch"
	"github.com/rzbill/deferd/internal/ledger/nonce"
	"github.com/rzbill/deferd/internal/ledger/taskqueue"
	pebblestore "github.com/rzbill/deferd/internal/storage/pebble"
	"github.com/rzbill/deferd/pkg/account"
	logpkg "github.com/rzbill/deferd/pkg/log"
)

// ErrInvalidNonce is the admission-time error surfaced to submitters.
var ErrInvalidNonce = nonce.ErrInvalidNonce

// Config bounds the scheduler's per-height work and accepted payloads.
type Config struct {
	// MaxTasksPerHeight caps dispatches per height run. Must be >= 1.
	MaxTasksPerHeight int
	// PayloadMaxBytes caps a task's encoded params. Zero means no cap.
	PayloadMaxBytes int
}

// Scheduler owns the nonce ledger and task queue; no other component
// writes them.
type Scheduler struct {
	db     *pebblestore.DB
	nonces *nonce.Ledger
	queue  *taskqueue.Queue
	sink   dispatch.Sink
	events *eventlog.Log
	cfg    Config
	logger logpkg.Logger

	// mu serializes admissions and height runs: a height transition is
	// indivisible with respect to any queue or nonce mutation.
	mu sync.Mutex
}

// New wires a scheduler. Panics on a non-positive cap: an uncapped height
// run breaks the bounded-work guarantee replicas depend on.
func New(db *pebblestore.DB, nonces *nonce.Ledger, queue *taskqueue.Queue, sink dispatch.Sink, events *eventlog.Log, cfg Config, logger logpkg.Logger) *Scheduler {
	if cfg.MaxTasksPerHeight < 1 {
		panic("scheduler: MaxTasksPerHeight must be >= 1")
	}
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}
	return &Scheduler{
		db:     db,
		nonces: nonces,
		queue:  queue,
		sink:   sink,
		events: events,
		cfg:    cfg,
		logger: logger.With(logpkg.Component("scheduler")),
	}
}

// ExpectedNonce returns the next nonce an account must present. Read-only;
// safe for external validation callers.
func (s *Scheduler) ExpectedNonce(acct account.ID) (uint64, error) {
	return s.nonces.Expected(acct)
}

// Schedule validates and admits a task: nonce admission then enqueue, both
// in one committed batch. On ErrInvalidNonce nothing is mutated. The host
// has already authenticated the submitter; only the nonce is checked here.
func (s *Scheduler) Schedule(ctx context.Context, t ledger.Task) error {
	if t.Action.Method == "" {
		return errors.New("scheduler: task method required")
	}
	if t.DueHeight == taskqueue.CarryOverHeight {
		return fmt.Errorf("scheduler: due height %d is reserved", taskqueue.CarryOverHeight)
	}
	if s.cfg.PayloadMaxBytes > 0 && len(t.Action.Params) > s.cfg.PayloadMaxBytes {
		return fmt.Errorf("scheduler: params exceed %d bytes", s.cfg.PayloadMaxBytes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewIndexedBatch()
	defer b.Close()
	if err := s.nonces.Admit(b, t.Submitter, t.Nonce); err != nil {
		return err
	}
	if err := s.queue.Enqueue(b, t); err != nil {
		return err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	s.logger.Debug("task admitted",
		logpkg.Str("submitter", t.Submitter.String()),
		logpkg.Uint64("nonce", t.Nonce),
		logpkg.Uint64("due_height", t.DueHeight),
		logpkg.Str("method", t.Action.Method),
	)
	return nil
}

// Run executes the height transition in its own batch. Invoked exactly once
// per height advance by the host's block-finalization hook.
func (s *Scheduler) Run(ctx context.Context, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewIndexedBatch()
	defer b.Close()
	if err := s.RunBatch(ctx, b, height); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// RunBatch stages the full height transition into the caller's indexed
// batch: drain carry-over, drain the due bucket, dispatch up to the cap in
// order (carry-over first, then due, each in arrival order), and re-file
// the remainder. Callers holding their own lock and batch (the runtime's
// height hook) commit alongside their height register update.
func (s *Scheduler) RunBatch(ctx context.Context, b *pebble.Batch, height uint64) error {
	if height == taskqueue.CarryOverHeight {
		return fmt.Errorf("scheduler: cannot run reserved height %d", taskqueue.CarryOverHeight)
	}

	carry, err := s.queue.DrainCarryOver(b)
	if err != nil {
		return err
	}
	due, err := s.queue.DrainDue(b, height)
	if err != nil {
		return err
	}
	pending := append(carry, due...)
	if len(pending) == 0 {
		return nil
	}

	n := len(pending)
	if n > s.cfg.MaxTasksPerHeight {
		n = s.cfg.MaxTasksPerHeight
	}
	for _, t := range pending[:n] {
		s.dispatchOne(ctx, b, height, t)
	}
	if err := s.queue.SetCarryOver(b, pending[n:]); err != nil {
		return err
	}

	s.logger.Info("height run complete",
		logpkg.Uint64("height", height),
		logpkg.Int("dispatched", n),
		logpkg.Int("carried_over", len(pending)-n),
	)
	return nil
}

// dispatchOne invokes the sink and records the outcome. A failing task is
// isolated: it never blocks siblings, never aborts the batch, and never
// rolls back the nonce it consumed.
func (s *Scheduler) dispatchOne(ctx context.Context, b *pebble.Batch, height uint64, t ledger.Task) {
	err := s.sink.Dispatch(ctx, b, height, t.Submitter, t.Action)

	ev := eventlog.Event{
		Height:  height,
		Account: t.Submitter.String(),
		Nonce:   t.Nonce,
		Method:  t.Action.Method,
	}
	if err == nil {
		ev.Kind = eventlog.KindTaskExecutedOk
		ev.Ok = true
	} else {
		ev.Kind = eventlog.KindTaskExecutedErr
		ev.Note = err.Error()
		s.logger.Warn("task dispatch failed",
			logpkg.Uint64("height", height),
			logpkg.Str("submitter", t.Submitter.String()),
			logpkg.Uint64("nonce", t.Nonce),
			logpkg.Str("method", t.Action.Method),
			logpkg.Err(err),
		)
	}
	if _, aerr := s.events.StageAppend(b, ev); aerr != nil {
		// Event staging failures are storage-level; surface in logs. The
		// task itself is still consumed.
		s.logger.Error("event append failed", logpkg.Err(aerr))
	}
}
