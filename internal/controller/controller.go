// Package controller is the action dispatch layer of medialink: it owns the
// collection store, the connection manager and the backend client, wires
// them together and publishes their changes to UI subscribers.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/micro-nova/medialink/internal/backend"
	"github.com/micro-nova/medialink/internal/collection"
	"github.com/micro-nova/medialink/internal/config"
	"github.com/micro-nova/medialink/internal/events"
	"github.com/micro-nova/medialink/internal/identity"
	"github.com/micro-nova/medialink/internal/link"
	"github.com/micro-nova/medialink/internal/models"
	"github.com/micro-nova/medialink/internal/snapshot"
)

// DiscoverFunc finds a backend address when none is configured.
type DiscoverFunc func(ctx context.Context) (string, error)

// Options carries the optional collaborators of a Controller.
type Options struct {
	// Snapshot, if set, seeds the store on Start and is written on Shutdown.
	Snapshot *snapshot.DB
	// Discover is used when the configuration has no backend URL.
	Discover DiscoverFunc
	// ConfigDir is where metadata.json is looked up for the version.
	ConfigDir string
}

// Controller wires one collection store and one connection manager to a
// backend client. Exactly one exists per running daemon.
type Controller struct {
	cfgStore config.Store
	bus      *events.Bus
	opts     Options

	client *backend.Client
	coll   *collection.Store
	link   *link.Manager

	onChange *events.Func[models.Key]
	onError  *events.Func[*models.FetchError]
	onStatus *events.Func[models.ConnectionStatus]

	// updateMu serializes UpdateConfig from read to apply.
	updateMu sync.Mutex

	mu       sync.Mutex
	cfg      config.Config
	seenOpen bool
	cancel   context.CancelFunc
}

// New loads the configuration and builds the store, manager and client. Call
// Start to connect.
func New(cfgStore config.Store, bus *events.Bus, opts Options) (*Controller, error) {
	cfg, err := cfgStore.Load()
	if err != nil {
		return nil, err
	}

	client := backend.NewClient(cfg.BackendURL, backend.Settings{
		PingInterval: cfg.PingInterval.Std(),
	})

	c := &Controller{
		cfgStore: cfgStore,
		bus:      bus,
		opts:     opts,
		cfg:      *cfg,
		client:   client,
		coll:     collection.New(client, collection.Options{FetchTimeout: cfg.FetchTimeout.Std()}),
		link:     link.NewManager(client, linkOptions(*cfg)),
	}
	c.onChange = events.NewFunc(c.collectionChanged)
	c.onError = events.NewFunc(c.fetchFailed)
	c.onStatus = events.NewFunc(c.statusChanged)
	return c, nil
}

// Start seeds the store from the snapshot, registers the controller's
// listeners and starts the connection manager.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	backendURL := c.cfg.BackendURL
	c.mu.Unlock()

	if c.opts.Snapshot != nil {
		nodes, err := c.opts.Snapshot.Load(ctx)
		if err != nil {
			slog.Warn("controller: failed to load snapshot", "err", err)
		} else {
			slog.Info("controller: seeded from snapshot", "nodes", c.coll.Seed(nodes))
		}
	}

	c.coll.AddChangeListener(c.onChange)
	c.coll.AddErrorListener(c.onError)
	c.link.AddChangeListener(c.onStatus)
	c.client.OnPush(c.handlePush)

	c.link.Start(ctx)

	if backendURL == "" && c.opts.Discover != nil {
		go c.discover(ctx)
	}
}

func (c *Controller) discover(ctx context.Context) {
	url, err := c.opts.Discover(ctx)
	if err != nil {
		slog.Warn("controller: backend discovery failed", "err", err)
		return
	}
	c.mu.Lock()
	configured := c.cfg.BackendURL != ""
	c.mu.Unlock()
	if configured {
		return
	}
	c.client.SetURL(url)
	c.link.RequestReconnect()
}

// Shutdown stops the manager and the store, persists the snapshot and
// flushes the configuration.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	c.link.RemoveChangeListener(c.onStatus)
	c.coll.RemoveChangeListener(c.onChange)
	c.coll.RemoveErrorListener(c.onError)

	c.link.Close()
	c.coll.Close()
	if cancel != nil {
		cancel()
	}

	var errs []error
	if c.opts.Snapshot != nil {
		if err := c.opts.Snapshot.Save(ctx, c.coll.Snapshot()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.cfgStore.Flush(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Fetch requests path from the backend unless it is cached or in flight.
func (c *Controller) Fetch(path models.Path) bool {
	return c.coll.Fetch(path)
}

// Collection returns the cached view of path.
func (c *Controller) Collection(path models.Path) models.Collection {
	return c.coll.Get(path)
}

// Filter returns the cached view of path narrowed to children matching query.
func (c *Controller) Filter(path models.Path, query string) models.Collection {
	return c.coll.Filter(path, query)
}

// Invalidate marks path stale.
func (c *Controller) Invalidate(path models.Path) bool {
	return c.coll.Invalidate(path)
}

// Store exposes the collection store to in-process consumers.
func (c *Controller) Store() *collection.Store { return c.coll }

// Link exposes the connection manager to in-process consumers.
func (c *Controller) Link() *link.Manager { return c.link }

// Status returns the connection status.
func (c *Controller) Status() models.ConnectionStatus {
	return c.link.Status()
}

// Reconnect reconnects to the backend, joining an attempt in flight.
func (c *Controller) Reconnect(ctx context.Context) error {
	return c.link.Reconnect(ctx)
}

// Info describes the daemon.
func (c *Controller) Info() models.Info {
	return models.Info{
		Version:  identity.GetVersion(c.opts.ConfigDir),
		Hostname: identity.GetHostname(),
		Backend:  c.client.Endpoint(),
		Cached:   c.coll.Len(),
	}
}

// Config returns the current configuration.
func (c *Controller) Config() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig validates and applies upd, then persists the result.
func (c *Controller) UpdateConfig(upd config.Update) (config.Config, *models.AppError) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	c.mu.Lock()
	next := c.cfg.Apply(upd)
	c.mu.Unlock()

	if err := next.Validate(); err != nil {
		return config.Config{}, models.ErrBadRequest(err.Error())
	}
	if err := c.cfgStore.Save(&next); err != nil {
		return config.Config{}, models.ErrInternal(err.Error())
	}
	return c.apply(next, upd.BackendURL != nil), nil
}

// ApplyConfig switches to cfg, as loaded from an edited file. A changed
// backend URL triggers a reconnect; an empty one does not clear a configured
// address. Ping interval, snapshot and mDNS settings take effect on restart.
func (c *Controller) ApplyConfig(cfg config.Config) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()
	c.apply(cfg, false)
}

// apply installs cfg. clearURL allows an empty BackendURL to replace a
// configured one.
func (c *Controller) apply(cfg config.Config, clearURL bool) config.Config {
	c.mu.Lock()
	prev := c.cfg
	if cfg.BackendURL == "" && prev.BackendURL != "" && !clearURL {
		slog.Warn("controller: keeping configured backend", "backend", prev.BackendURL)
		cfg.BackendURL = prev.BackendURL
	}
	c.cfg = cfg
	c.mu.Unlock()

	c.link.SetOptions(linkOptions(cfg))
	c.coll.SetFetchTimeout(cfg.FetchTimeout.Std())

	if cfg.BackendURL != prev.BackendURL && cfg.BackendURL != "" {
		slog.Info("controller: backend changed, reconnecting", "from", prev.BackendURL, "to", cfg.BackendURL)
		c.client.SetURL(cfg.BackendURL)
		c.link.RequestReconnect()
	}
	return cfg
}

func linkOptions(cfg config.Config) link.Options {
	return link.Options{
		AutoReconnect:     cfg.AutoReconnect,
		ReconnectInterval: cfg.ReconnectInterval.Std(),
		DialTimeout:       cfg.DialTimeout.Std(),
	}
}

func (c *Controller) collectionChanged(key models.Key) {
	c.bus.Publish(models.Event{Type: models.EventCollection, Key: key})
}

func (c *Controller) fetchFailed(err *models.FetchError) {
	c.bus.Publish(models.Event{Type: models.EventError, Key: err.Path.Key(), Error: err.Err.Error()})
}

// statusChanged publishes st and, when the connection comes back after an
// earlier open, marks the cache stale since pushes may have been missed.
func (c *Controller) statusChanged(st models.ConnectionStatus) {
	c.bus.Publish(models.Event{Type: models.EventStatus, Status: &st})
	if !st.Open {
		return
	}
	c.mu.Lock()
	resync := c.seenOpen
	c.seenOpen = true
	c.mu.Unlock()
	if resync {
		n := c.coll.InvalidateAll()
		slog.Info("controller: reconnected, cache marked stale", "nodes", n, "since", st.Since.Format(time.RFC3339))
	}
}

func (c *Controller) handlePush(p models.Push) {
	switch p.Action {
	case models.ActionInvalidate:
		c.coll.Invalidate(p.Path)
	case models.ActionUpdate:
		if p.Node == nil {
			c.coll.Invalidate(p.Path)
			return
		}
		c.coll.Put(p.Path, *p.Node)
	default:
		slog.Debug("controller: ignoring push", "action", p.Action, "path", p.Path.Key())
	}
}
