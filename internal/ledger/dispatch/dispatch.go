// Package dispatch defines the execution sink boundary: the component that
// actually performs a task's action on behalf of its original submitter.
//
// The scheduler never interprets or restricts actions; which methods are
// dispatchable is policy owned by whoever populates the Registry. Handler
// effects stage into the height batch, so a failing action and its siblings
// commit or not independently of each other only through their own staged
// writes; the scheduler's bookkeeping always commits.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/deferd/internal/ledger"
	"github.com/rzbill/deferd/pkg/account"
)

// ErrUnknownMethod is returned when no handler is registered for a method.
var ErrUnknownMethod = errors.New("unknown method")

// Call carries everything a handler needs to apply an action.
type Call struct {
	// Batch is the indexed batch for the current height run; handler writes
	// staged here commit atomically with the scheduler's bookkeeping.
	Batch *pebble.Batch
	// As is the original submitter the action executes on behalf of. The
	// host verified this identity at submission time.
	As account.ID
	// Height is the ledger height the action executes at.
	Height uint64
	// Params is the handler's opaque encoded input.
	Params []byte
}

// Handler applies one method. It must be bounded, synchronous, and
// deterministic: replicas derive identical state from identical input.
type Handler func(ctx context.Context, call *Call) error

// Sink attempts a decoded action as the given account and reports the
// outcome. Failures are per-task: recorded by the caller, never retried.
type Sink interface {
	Dispatch(ctx context.Context, b *pebble.Batch, height uint64, as account.ID, action ledger.Action) error
}

// Registry is a method-name keyed Sink implementation.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a method name. Last registration wins.
func (r *Registry) Register(method string, h Handler) {
	r.handlers[method] = h
}

// Methods returns the registered method names, sorted.
func (r *Registry) Methods() []string {
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Dispatch implements Sink.
func (r *Registry) Dispatch(ctx context.Context, b *pebble.Batch, height uint64, as account.ID, action ledger.Action) error {
	h, ok := r.handlers[action.Method]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, action.Method)
	}
	return h(ctx, &Call{Batch: b, As: as, Height: height, Params: action.Params})
}
