// Package asyncinput coordinates a synchronous, caller-editable config
// value with an asynchronous externally-visible result, merging updates
// from both sides and discarding stale completions by timestamp.
//
// See SPEC_FULL.md §6.3 for the full contract. The short version: the
// caller edits a config synchronously and never blocks on the handler; the
// handler's results reach the external setter only if they are newer than
// anything the external side has already seen.
package asyncinput

import (
	"context"
	"sync"

	"github.com/oriys/reactiverpc/internal/cell"
	"github.com/oriys/reactiverpc/internal/clock"
	"github.com/oriys/reactiverpc/internal/dispatcher"
)

// Meta pairs a config value with the monotonic timestamp of the edit that
// produced it.
type Meta[C any] struct {
	TS     int64
	Config C
}

// Value is the externally-owned value this gateway reads from and writes
// to: a result R plus the Meta describing which config produced it.
type Value[C, R any] struct {
	Result R
	Meta   Meta[C]
}

// Handler computes an async result from a config value.
type Handler[C, R any] func(ctx context.Context, cfg C) (R, error)

// Setter publishes a new externally-visible Value.
type Setter[C, R any] func(Value[C, R])

// Gateway is the bidirectional controlled-input coordinator.
type Gateway[C, R any] struct {
	h      Handler[C, R]
	setter Setter[C, R]
	clock  *clock.Source

	mu          sync.Mutex
	meta        Meta[C]
	externalTS  int64
	metaCell    *cell.Cell[Meta[C]]
	pendingCell *cell.Cell[bool]
	resultCell  *cell.Cell[*R]

	dispatcher *dispatcher.Dispatcher[Meta[C], Value[C, R]]
}

// New constructs a Gateway seeded from the external value's current Meta.
// setter is invoked whenever a fresh (non-stale) result is ready; it should
// update the caller's external Value (and bump its _meta.ts) so future
// Gateway instances reading the same external state observe the merge.
func New[C, R any](initial Value[C, R], h Handler[C, R], setter Setter[C, R]) *Gateway[C, R] {
	g := &Gateway[C, R]{
		h:          h,
		setter:     setter,
		clock:      clock.New(),
		meta:       initial.Meta,
		externalTS: initial.Meta.TS,
	}
	g.metaCell = cell.New(g.meta)
	g.pendingCell = cell.New(false)
	initialData := initial.Result
	g.resultCell = cell.New[*R](&initialData)

	g.dispatcher = dispatcher.New(g.metaCell, func(ctx context.Context, m Meta[C], progress func(float64), c *dispatcher.Controller) (Value[C, R], error) {
		res, err := h(ctx, m.Config)
		if err != nil {
			return Value[C, R]{}, err
		}
		return Value[C, R]{Result: res, Meta: m}, nil
	}, 0)

	g.dispatcher.StateCell().Subscribe(func(s dispatcher.State[Value[C, R]]) {
		if s.Status == dispatcher.StatusLoading {
			return
		}
		g.handleResolution(s)
	})

	return g
}

// Config returns the current synchronous config the caller should edit.
func (g *Gateway[C, R]) Config() C {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.meta.Config
}

// Result returns the latest resolved result, or nil while a recomputation
// is pending.
func (g *Gateway[C, R]) Result() *R {
	if g.pendingCell.Value() {
		return nil
	}
	return g.resultCell.Value()
}

// Pending reports whether a recomputation is currently outstanding.
func (g *Gateway[C, R]) Pending() bool {
	return g.pendingCell.Value()
}

// SyncExternal applies an externally-driven update to the value this
// gateway wraps. It should be called whenever the caller's external state
// changes for reasons other than this gateway's own setter calls (e.g.
// another gateway instance, or a remote sync). Per the external-to-internal
// sync policy, it only takes effect when the external Meta.TS is strictly
// newer than this gateway's internal Meta.TS.
func (g *Gateway[C, R]) SyncExternal(v Value[C, R]) {
	g.mu.Lock()
	if v.Meta.TS > g.externalTS {
		g.externalTS = v.Meta.TS
	}
	if v.Meta.TS > g.meta.TS {
		g.meta = v.Meta
		g.mu.Unlock()
		g.pendingCell.Set(true)
		g.metaCell.Set(g.meta)
		g.resultCell.Set(&v.Result)
		return
	}
	g.mu.Unlock()
}

// SetConfig clones the current config, applies update (which may either
// return a new C or mutate its argument in place and return the zero
// value, signalled by returning ok=false), and schedules async
// recomputation with a fresh, strictly-increasing timestamp.
func (g *Gateway[C, R]) SetConfig(update func(cur C) (next C, ok bool)) {
	g.mu.Lock()
	next, ok := update(g.meta.Config)
	if !ok {
		next = g.meta.Config
	}
	ts := g.clock.Next(g.meta.TS)
	g.meta = Meta[C]{Config: next, TS: ts}
	meta := g.meta
	g.mu.Unlock()

	g.pendingCell.Set(true)
	g.metaCell.Set(meta)
}

func (g *Gateway[C, R]) handleResolution(s dispatcher.State[Value[C, R]]) {
	g.mu.Lock()
	externalTS := g.externalTS
	g.mu.Unlock()

	if s.Status != dispatcher.StatusOk {
		g.pendingCell.Set(false)
		return
	}

	v := s.Data
	if v.Meta.TS <= externalTS {
		// Staleness discard: a result for a config the external side has
		// already superseded. Drop it, clear pending, never touch setter.
		g.pendingCell.Set(false)
		return
	}

	g.mu.Lock()
	g.externalTS = v.Meta.TS
	g.mu.Unlock()

	g.resultCell.Set(&v.Result)
	if g.setter != nil {
		g.setter(v)
	}
	g.pendingCell.Set(false)
}

// Close tears down the gateway's internal dispatcher.
func (g *Gateway[C, R]) Close() {
	g.dispatcher.Close()
}
