// Package appstorage is a revisioned key/value store with background
// persistence: in-memory reads and writes are immediate, while sync to a
// Backend happens on a periodic refresh and a debounced flush, the way the
// teacher's statefn.StateStore layers a durable backend under an
// in-process cache, generalized to a reactive, per-key subscribe model.
package appstorage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/reactiverpc/internal/cell"
	"github.com/oriys/reactiverpc/internal/dispatcher"
	"github.com/oriys/reactiverpc/internal/rpcenvelope"
)

// ItemData is the value a Storage[T] holds for one key: the decoded data,
// its revision (bumped on every write, monotonically non-decreasing), and
// whether it is a tombstone.
type ItemData[T any] struct {
	Key     string
	Data    T
	Rev     int64
	Deleted bool
}

// Item is a single reactive cell over an ItemData[T]. Callers read via
// Get and observe changes via Subscribe the same way any other Cell works.
type Item[T any] struct {
	c *cell.Cell[ItemData[T]]
}

// Get returns the item's current value.
func (it *Item[T]) Get() ItemData[T] { return it.c.Value() }

// Subscribe registers fn to be called synchronously on every change.
func (it *Item[T]) Subscribe(fn func(ItemData[T])) func() { return it.c.Subscribe(fn) }

func (it *Item[T]) update(data T) {
	cur := it.c.Value()
	it.c.Set(ItemData[T]{Key: cur.Key, Data: data, Rev: cur.Rev + 1, Deleted: false})
}

func (it *Item[T]) remove() {
	cur := it.c.Value()
	var zero T
	it.c.Set(ItemData[T]{Key: cur.Key, Data: zero, Rev: cur.Rev + 1, Deleted: true})
}

// mergeRemote applies a remote ItemData[T] under the in-memory-wins-when-
// equal-or-greater merge policy: a remote write only replaces local state
// when its revision is strictly greater.
func (it *Item[T]) mergeRemote(remote ItemData[T]) {
	cur := it.c.Value()
	if remote.Rev > cur.Rev {
		it.c.Set(remote)
	}
}

// Config controls a Storage[T]'s background timing.
type Config struct {
	RefreshInterval time.Duration // how often to pull backend state, default 200ms
	FlushDebounce   time.Duration // debounce before persisting dirty items, default 500ms
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 200 * time.Millisecond
	}
	if c.FlushDebounce <= 0 {
		c.FlushDebounce = 500 * time.Millisecond
	}
	return c
}

// Storage is a revisioned, backend-persisted key/value store scoped to a
// single prefix (a logical namespace — e.g. one per application).
type Storage[T any] struct {
	prefix  string
	backend Backend
	cfg     Config

	mu    sync.RWMutex
	items map[string]*Item[T]

	dirtyMu sync.Mutex
	dirty   map[string]struct{}

	tick     atomic.Int64
	tickCell *cell.Cell[int64]
	flusher  *dispatcher.Dispatcher[int64, struct{}]

	indexCell *cell.Cell[map[string]*Item[T]]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// indexEqual compares index snapshots by key set and item identity, not by
// deep item content — an existing item mutating in place through its own
// Cell is not a membership change and should not republish the index.
func indexEqual[T any](a, b map[string]*Item[T]) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// New creates a Storage[T] against backend, scoped to prefix. Call Start
// to begin the background refresh/flush loops.
func New[T any](prefix string, backend Backend, cfg Config) *Storage[T] {
	cfg = cfg.withDefaults()
	s := &Storage[T]{
		prefix:    prefix,
		backend:   backend,
		cfg:       cfg,
		items:     make(map[string]*Item[T]),
		dirty:     make(map[string]struct{}),
		tickCell:  cell.New[int64](0),
		indexCell: cell.NewWithEqual(map[string]*Item[T]{}, indexEqual[T]),
	}
	s.flusher = dispatcher.New(s.tickCell, s.flushFunc, cfg.FlushDebounce)
	return s
}

// Index returns the reactive view of non-tombstoned items keyed by name.
// It republishes whenever a key is added to or removed from the set;
// an existing item's data changing in place does not touch it.
func (s *Storage[T]) Index() *cell.Cell[map[string]*Item[T]] { return s.indexCell }

func (s *Storage[T]) publishIndex() {
	s.mu.RLock()
	snap := make(map[string]*Item[T], len(s.items))
	for k, it := range s.items {
		if !it.Get().Deleted {
			snap[k] = it
		}
	}
	s.mu.RUnlock()
	s.indexCell.Set(snap)
}

// Start launches the background refresh loop. It is idempotent only in
// the sense that calling it twice starts two loops; callers own the
// Storage's lifecycle.
func (s *Storage[T]) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.refreshLoop(ctx)
}

// Stop halts the background refresh loop and the flush dispatcher,
// flushing any pending writes first.
func (s *Storage[T]) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.flushDirty(context.Background())
	s.flusher.Close()
}

func (s *Storage[T]) refreshLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshFromBackend(ctx)
		}
	}
}

func (s *Storage[T]) refreshFromBackend(ctx context.Context) {
	remote, err := s.backend.List(ctx, s.prefix)
	if err != nil {
		return
	}
	for _, raw := range remote {
		var data T
		if !raw.Deleted {
			if err := rpcenvelope.Decode(raw.Data, &data); err != nil {
				continue
			}
		}
		item := s.ensureItem(raw.Key)
		item.mergeRemote(ItemData[T]{Key: raw.Key, Data: data, Rev: raw.Rev, Deleted: raw.Deleted})
	}
	s.publishIndex()
}

func (s *Storage[T]) ensureItem(key string) *Item[T] {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return item
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[key]; ok {
		return item
	}
	item = &Item[T]{c: cell.New(ItemData[T]{Key: key})}
	s.items[key] = item
	return item
}

func (s *Storage[T]) markDirty(key string) {
	s.dirtyMu.Lock()
	s.dirty[key] = struct{}{}
	s.dirtyMu.Unlock()
	s.tickCell.Set(s.tick.Add(1))
}

func (s *Storage[T]) flushFunc(ctx context.Context, _ int64, _ func(float64), _ *dispatcher.Controller) (struct{}, error) {
	s.flushDirty(ctx)
	return struct{}{}, nil
}

func (s *Storage[T]) flushDirty(ctx context.Context) {
	s.dirtyMu.Lock()
	keys := make([]string, 0, len(s.dirty))
	for k := range s.dirty {
		keys = append(keys, k)
	}
	s.dirty = make(map[string]struct{})
	s.dirtyMu.Unlock()

	for _, key := range keys {
		item := s.ensureItem(key)
		v := item.Get()
		data, err := rpcenvelope.Encode(v.Data)
		if err != nil {
			continue
		}
		_ = s.backend.Put(ctx, s.prefix, rawItem{Key: key, Data: data, Rev: v.Rev, Deleted: v.Deleted})
	}
}

// Put creates or updates the value at key and schedules a debounced
// persist. Returns the Item handle for subscribing to future changes.
func (s *Storage[T]) Put(key string, data T) *Item[T] {
	item := s.ensureItem(key)
	item.update(data)
	s.markDirty(key)
	s.publishIndex()
	return item
}

// Delete tombstones the value at key: it stops appearing in List, but the
// revisioned record (and its eventual persistence) is preserved.
func (s *Storage[T]) Delete(key string) {
	item := s.ensureItem(key)
	item.remove()
	s.markDirty(key)
	s.publishIndex()
}

// Get returns the current value at key and whether it exists
// (present and not a tombstone).
func (s *Storage[T]) Get(key string) (ItemData[T], bool) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return ItemData[T]{}, false
	}
	v := item.Get()
	return v, !v.Deleted
}

// Item returns the reactive handle for key, creating an empty one if it
// does not exist yet — useful for subscribing before a value arrives.
func (s *Storage[T]) Item(key string) *Item[T] {
	return s.ensureItem(key)
}

// List returns every non-tombstoned item, in no particular order.
func (s *Storage[T]) List() []ItemData[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ItemData[T], 0, len(s.items))
	for _, item := range s.items {
		v := item.Get()
		if !v.Deleted {
			out = append(out, v)
		}
	}
	return out
}

var instances sync.Map

// GetInstance returns the process-wide Storage[T] for prefix, creating it
// (and starting its background loops against ctx) on first use. Later
// calls for the same prefix ignore backend/cfg and return the existing
// instance, mirroring the teacher's per-function singleton pool pattern.
func GetInstance[T any](ctx context.Context, prefix string, backend Backend, cfg Config) *Storage[T] {
	if v, ok := instances.Load(prefix); ok {
		return v.(*Storage[T])
	}
	s := New[T](prefix, backend, cfg)
	actual, loaded := instances.LoadOrStore(prefix, s)
	if !loaded {
		s.Start(ctx)
	}
	return actual.(*Storage[T])
}
