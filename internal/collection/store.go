// Package collection implements the path-keyed collection store: a cache of
// collection nodes that fetches lazily from the backend, coalesces
// concurrent fetches for the same path and notifies only the listeners of
// the key that changed.
package collection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/micro-nova/medialink/internal/events"
	"github.com/micro-nova/medialink/internal/models"
)

const defaultFetchTimeout = 30 * time.Second

// Fetcher is the backend fetch channel.
type Fetcher interface {
	Fetch(ctx context.Context, path models.Path) (*models.Node, error)
}

// FetcherFunc adapts a function to a Fetcher.
type FetcherFunc func(ctx context.Context, path models.Path) (*models.Node, error)

func (f FetcherFunc) Fetch(ctx context.Context, path models.Path) (*models.Node, error) {
	return f(ctx, path)
}

// Options tune a Store.
type Options struct {
	// FetchTimeout bounds a single backend fetch. Zero means 30s.
	FetchTimeout time.Duration
}

// entry is the store's record for one key. gen is bumped by every fetch
// start, invalidation and push; a completion carrying an older gen lost the
// race and is dropped.
type entry struct {
	path  models.Path
	state models.NodeState
	prev  models.NodeState // restored when the in-flight fetch fails
	node  *models.Node
	gen   uint64
}

// Store is the collection cache. Only the store mutates its entries;
// everything handed out is a copy.
type Store struct {
	fetcher Fetcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timeout time.Duration
	entries map[models.Key]*entry
	scoped  map[models.Key]*events.Registry[models.Key]
	closed  bool

	changes events.Registry[models.Key]
	errs    events.Registry[*models.FetchError]
}

// New creates a store that fetches through f.
func New(f Fetcher, opts Options) *Store {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		fetcher: f,
		timeout: opts.FetchTimeout,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[models.Key]*entry),
		scoped:  make(map[models.Key]*events.Registry[models.Key]),
	}
}

// Key returns the canonical key for path.
func (s *Store) Key(path models.Path) models.Key { return path.Key() }

// Fetch requests that path's node become present. It returns true if a new
// backend fetch was started, false if the node is already present or a fetch
// for it is already in flight.
func (s *Store) Fetch(path models.Path) bool {
	key := path.Key()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	e, ok := s.entries[key]
	if !ok {
		e = &entry{path: path.Clone(), state: models.StateAbsent}
		s.entries[key] = e
	}
	switch e.state {
	case models.StatePresent:
		s.mu.Unlock()
		return false
	case models.StatePending:
		s.mu.Unlock()
		slog.Debug("store: duplicate fetch suppressed", "key", key)
		return false
	}
	e.prev = e.state
	e.state = models.StatePending
	e.gen++
	gen := e.gen
	timeout := s.timeout
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(e.path, key, gen, timeout)
	return true
}

// SetFetchTimeout changes the bound on fetches started from now on. Zero
// means 30s.
func (s *Store) SetFetchTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultFetchTimeout
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

func (s *Store) run(path models.Path, key models.Key, gen uint64, timeout time.Duration) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	node, err := s.fetcher.Fetch(ctx, path)
	cancel()

	s.mu.Lock()
	e := s.entries[key]
	if e == nil || e.gen != gen {
		s.mu.Unlock()
		slog.Debug("store: discarding superseded fetch", "key", key, "gen", gen)
		return
	}
	if err == nil && node == nil {
		err = models.ErrEmptyResponse
	}
	if err != nil {
		e.state = e.prev
		s.mu.Unlock()
		slog.Warn("store: fetch failed", "key", key, "err", err)
		s.errs.Notify(&models.FetchError{Path: path.Clone(), Err: err})
		return
	}
	cp := node.DeepCopy()
	cp.Path = path.Clone()
	e.node = &cp
	e.state = models.StatePresent
	s.mu.Unlock()

	s.notify(key)
}

// Get returns the cached view of path. It never blocks on the backend and
// never starts a fetch. Paths with no data yield a placeholder with
// Loaded == false.
func (s *Store) Get(path models.Path) models.Collection {
	key := path.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return placeholder(key, path, models.StateAbsent)
	}
	if e.node == nil {
		return placeholder(key, path, e.state)
	}
	return models.Collection{Key: key, State: e.state, Loaded: true, Node: e.node.DeepCopy()}
}

func placeholder(key models.Key, path models.Path, state models.NodeState) models.Collection {
	return models.Collection{Key: key, State: state, Node: models.Node{Path: path.Clone()}}
}

// State returns the lifecycle state of path.
func (s *Store) State(path models.Path) models.NodeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[path.Key()]; ok {
		return e.state
	}
	return models.StateAbsent
}

// Invalidate marks path stale after a backend push. An in-flight fetch for
// it is superseded and its result will be dropped. Reports whether anything
// was cached or pending for path.
func (s *Store) Invalidate(path models.Path) bool {
	key := path.Key()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.state == models.StateAbsent || e.state == models.StateStale {
		s.mu.Unlock()
		return false
	}
	if e.state == models.StatePending && e.node == nil {
		// nothing to serve yet; refetch from scratch
		e.state = models.StateAbsent
	} else {
		e.state = models.StateStale
	}
	e.gen++
	s.mu.Unlock()

	s.notify(key)
	return true
}

// InvalidateAll marks every loaded node stale and returns how many changed.
func (s *Store) InvalidateAll() int {
	s.mu.Lock()
	var keys []models.Key
	for key, e := range s.entries {
		if e.node == nil || e.state == models.StateStale {
			continue
		}
		e.state = models.StateStale
		e.gen++
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.notify(key)
	}
	return len(keys)
}

// Put stores node as the present data for path, superseding any in-flight
// fetch. Used for full-node pushes from the backend.
func (s *Store) Put(path models.Path, node models.Node) {
	key := path.Key()
	cp := node.DeepCopy()
	cp.Path = path.Clone()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{path: path.Clone()}
		s.entries[key] = e
	}
	e.node = &cp
	e.state = models.StatePresent
	e.gen++
	s.mu.Unlock()

	s.notify(key)
}

// Seed loads previously persisted nodes as stale: servable, but refetched
// on the next Fetch. Keys the store already tracks are left alone.
func (s *Store) Seed(nodes []models.Node) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, node := range nodes {
		key := node.Path.Key()
		if _, ok := s.entries[key]; ok {
			continue
		}
		cp := node.DeepCopy()
		s.entries[key] = &entry{path: cp.Path.Clone(), state: models.StateStale, node: &cp}
		n++
	}
	return n
}

// Snapshot returns copies of every node that holds data.
func (s *Store) Snapshot() []models.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := make([]models.Node, 0, len(s.entries))
	for _, e := range s.entries {
		if e.node != nil {
			nodes = append(nodes, e.node.DeepCopy())
		}
	}
	return nodes
}

// Len returns the number of nodes holding data.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.node != nil {
			n++
		}
	}
	return n
}

// AddChangeListener registers l for every change; the payload is the key
// that changed.
func (s *Store) AddChangeListener(l events.Listener[models.Key]) bool {
	return s.changes.Add(l)
}

// RemoveChangeListener deregisters l. Safe to call more than once.
func (s *Store) RemoveChangeListener(l events.Listener[models.Key]) bool {
	return s.changes.Remove(l)
}

// Watch registers l for changes to path only.
func (s *Store) Watch(path models.Path, l events.Listener[models.Key]) bool {
	key := path.Key()
	s.mu.Lock()
	r, ok := s.scoped[key]
	if !ok {
		r = new(events.Registry[models.Key])
		s.scoped[key] = r
	}
	added := r.Add(l)
	s.mu.Unlock()
	return added
}

// Unwatch removes a registration made with Watch. Safe to call more than
// once.
func (s *Store) Unwatch(path models.Path, l events.Listener[models.Key]) bool {
	key := path.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.scoped[key]
	if !ok {
		return false
	}
	removed := r.Remove(l)
	if r.Len() == 0 {
		delete(s.scoped, key)
	}
	return removed
}

// AddErrorListener registers l for fetch failures.
func (s *Store) AddErrorListener(l events.Listener[*models.FetchError]) bool {
	return s.errs.Add(l)
}

// RemoveErrorListener deregisters an error listener.
func (s *Store) RemoveErrorListener(l events.Listener[*models.FetchError]) bool {
	return s.errs.Remove(l)
}

func (s *Store) notify(key models.Key) {
	s.mu.Lock()
	scoped := s.scoped[key]
	s.mu.Unlock()

	s.changes.Notify(key)
	if scoped != nil {
		scoped.Notify(key)
	}
}

// Close cancels in-flight fetches and waits for them to finish. Fetch is a
// no-op afterwards; cached data stays readable.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
