// Package dispatcher turns a reactive input cell and an async function into
// a reactive loading/ok/error state cell, with debounce, progress reporting,
// and cancellation of stale work.
//
// See the package-level invariants in the project's SPEC_FULL.md §6.2: at
// most one invocation of the dispatch function is ever "live"; a later
// dispatch always aborts the controller of the run it supersedes before
// that run can publish anything further.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/reactiverpc/internal/cell"
)

// Controller is the cancellation handle passed into a dispatch function.
// At most one Controller is "current" for a Dispatcher at any time.
type Controller struct {
	aborted atomic.Bool
}

// Abort marks the controller as aborted. Idempotent.
func (c *Controller) Abort() {
	c.aborted.Store(true)
}

// Aborted reports whether Abort has been called.
func (c *Controller) Aborted() bool {
	return c.aborted.Load()
}

// Status is the tag of a dispatcher State.
type Status int

const (
	StatusLoading Status = iota
	StatusOk
	StatusError
)

// State is the tagged loading/ok/error payload exposed on StateCell.
type State[O any] struct {
	Status   Status
	Progress float64 // valid when Status == StatusLoading, in [0,1]
	Data     O       // valid when Status == StatusOk
	Err      error   // valid when Status == StatusError
}

func loadingState[O any](progress float64) State[O] {
	return State[O]{Status: StatusLoading, Progress: progress}
}

func okState[O any](data O) State[O] {
	return State[O]{Status: StatusOk, Data: data}
}

func errState[O any](err error) State[O] {
	return State[O]{Status: StatusError, Err: normalizeError(err)}
}

func normalizeError(e any) error {
	if e == nil {
		return nil
	}
	if err, ok := e.(error); ok {
		return err
	}
	return fmt.Errorf("%v", e)
}

// ErrAborted is what a run passes to raise when its controller was aborted
// before the handler started (during the debounce wait, or before the
// first call when there is no debounce). raise publishes nothing for an
// aborted controller, so ErrAborted never reaches the state cell.
var ErrAborted = fmt.Errorf("dispatcher: aborted")

// Func is the async evaluation function driven by a Dispatcher. It receives
// the current input value, a progress reporter, and the controller for the
// in-flight run, and should stop promptly (it need not publish anything
// itself) once ctrl.Aborted() is true.
type Func[I, O any] func(ctx context.Context, v I, progress func(float64), ctrl *Controller) (O, error)

// Dispatcher adapts valueCell and f into a reactive State[O] cell.
type Dispatcher[I, O any] struct {
	f        Func[I, O]
	debounce time.Duration
	equal    cell.Equal[I]

	stateCell    *cell.Cell[State[O]]
	filteredCell *cell.Cell[*O]

	mu           sync.Mutex // serializes state-cell writes (single writer)
	current      *Controller
	lastValue    I
	haveLast     bool
	unsubscribe  func()
}

// Option configures New.
type Option[I, O any] func(*Dispatcher[I, O])

// WithEqual overrides the deep-equality comparator used to decide whether a
// new input value is "different" from the last seen one.
func WithEqual[I, O any](eq cell.Equal[I]) Option[I, O] {
	return func(d *Dispatcher[I, O]) { d.equal = eq }
}

// New constructs a Dispatcher, subscribes to valueCell, and dispatches
// immediately for the cell's current value.
func New[I, O any](valueCell *cell.Cell[I], f Func[I, O], debounce time.Duration, opts ...Option[I, O]) *Dispatcher[I, O] {
	d := &Dispatcher[I, O]{
		f:         f,
		debounce:  debounce,
		equal:     cell.DeepEqual[I],
		stateCell: cell.New(loadingState[O](0)),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.filteredCell = cell.Filter(d.stateCell,
		func(s State[O]) bool { return s.Status == StatusOk },
		func(s State[O]) *O { data := s.Data; return &data },
	)

	d.unsubscribe = valueCell.Subscribe(func(v I) {
		d.onValue(v)
	})
	d.onValue(valueCell.Value())

	return d
}

// StateCell exposes the dispatcher's reactive loading/ok/error state.
func (d *Dispatcher[I, O]) StateCell() *cell.Cell[State[O]] {
	return d.stateCell
}

// FilteredCell exposes a pointer to the ok payload's data while the state
// is ok, and nil while loading or after an error.
func (d *Dispatcher[I, O]) FilteredCell() *cell.Cell[*O] {
	return d.filteredCell
}

// Close unsubscribes from the input cell and aborts any in-flight run.
func (d *Dispatcher[I, O]) Close() {
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
	d.mu.Lock()
	if d.current != nil {
		d.current.Abort()
	}
	d.mu.Unlock()
}

func (d *Dispatcher[I, O]) onValue(v I) {
	d.mu.Lock()
	if d.haveLast && d.equal(d.lastValue, v) {
		d.mu.Unlock()
		return
	}
	d.lastValue = v
	d.haveLast = true
	d.mu.Unlock()

	d.dispatch(v)
}

// dispatch runs the atomic reset phase synchronously, then continues the
// debounce + handler invocation on a separate goroutine.
func (d *Dispatcher[I, O]) dispatch(v I) {
	d.mu.Lock()
	if d.current != nil {
		d.current.Abort()
	}
	c := &Controller{}
	d.current = c
	d.stateCell.Set(State[O]{Status: StatusLoading, Progress: 0})
	d.mu.Unlock()

	commit := func(data O) {
		d.publish(c, okState[O](data))
	}
	raise := func(err error) {
		d.publish(c, errState[O](err))
	}
	progress := func(p float64) {
		d.publish(c, loadingState[O](p))
	}

	go d.run(v, c, commit, raise, progress)
}

func (d *Dispatcher[I, O]) run(v I, c *Controller, commit func(O), raise func(error), progress func(float64)) {
	if d.debounce > 0 {
		timer := time.NewTimer(d.debounce)
		<-timer.C
		timer.Stop()
		if c.Aborted() {
			raise(ErrAborted)
			return
		}
	} else if c.Aborted() {
		raise(ErrAborted)
		return
	}

	data, err := d.f(context.Background(), v, progress, c)
	if err != nil {
		raise(err)
		return
	}
	commit(data)
}

// publish writes a payload derived from controller c, but only if c has not
// been aborted, and only if c is still the externally current controller
// (the strict local-controller check preferred by the project's design
// notes over the looser "is the cell's current controller still this one"
// check).
func (d *Dispatcher[I, O]) publish(c *Controller, s State[O]) {
	if c.Aborted() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != c {
		return
	}
	if c.Aborted() {
		return
	}
	d.stateCell.Set(s)
}
