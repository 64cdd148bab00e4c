// Package link owns the lifecycle of the single live connection to the
// media backend: it tracks whether the connection is open, reconnects on
// request (joining an attempt already in flight) and broadcasts every state
// transition to its listeners.
package link

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/micro-nova/medialink/internal/events"
	"github.com/micro-nova/medialink/internal/models"
)

const (
	defaultDialTimeout       = 10 * time.Second
	defaultReconnectInterval = 5 * time.Second
)

// Conn is one established connection.
type Conn interface {
	// Done is closed when the transport detects that the connection is gone.
	Done() <-chan struct{}
	// Err reports why the connection ended, once Done is closed.
	Err() error
	Close() error
}

// Transport establishes connections.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Endpointer is implemented by transports that can name what they dial.
type Endpointer interface {
	Endpoint() string
}

// Options tune a Manager.
type Options struct {
	// AutoReconnect schedules a new attempt after a disconnect or a failed
	// dial.
	AutoReconnect bool
	// ReconnectInterval spaces automatic attempts. Zero means 5s.
	ReconnectInterval time.Duration
	// DialTimeout bounds a single attempt. Zero means 10s.
	DialTimeout time.Duration
}

// attempt is one connection attempt. Every Reconnect issued while it is in
// flight shares it.
type attempt struct {
	done chan struct{}
	err  error
}

// Manager is the connection status manager. Status reads are always
// available; transitions happen only on the manager's loop goroutine, which
// also delivers notifications, so listeners see transitions one at a time and
// in order.
type Manager struct {
	transport Transport
	limiter   *rate.Limiter

	kick chan struct{}
	done chan struct{}

	mu      sync.RWMutex
	opts    Options
	status  models.ConnectionStatus
	pending *attempt
	started bool
	closed  bool
	cancel  context.CancelFunc

	listeners events.Registry[models.ConnectionStatus]
}

// NewManager creates a manager for t. Call Start to connect.
func NewManager(t Transport, opts Options) *Manager {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	return &Manager{
		transport: t,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Every(opts.ReconnectInterval), 1),
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		status: models.ConnectionStatus{
			State: models.ConnClosed,
			Since: time.Now(),
		},
	}
}

// Status returns the current connection status.
func (m *Manager) Status() models.ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// AddChangeListener registers l for status transitions.
func (m *Manager) AddChangeListener(l events.Listener[models.ConnectionStatus]) bool {
	return m.listeners.Add(l)
}

// RemoveChangeListener deregisters l. Safe to call more than once.
func (m *Manager) RemoveChangeListener(l events.Listener[models.ConnectionStatus]) bool {
	return m.listeners.Remove(l)
}

// Start launches the manager loop and the first connection attempt. The
// loop stops when ctx is cancelled or Close is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.RequestReconnect()
	go m.run(ctx)
}

// Reconnect tears down the current connection, if any, and establishes a new
// one. If an attempt is already in flight the call joins it instead of
// starting another. It returns the attempt's result, or ctx's error if ctx
// ends first.
//
// Reconnect must not be called from a change listener: the listener runs on
// the goroutine that completes the attempt. Use RequestReconnect there.
func (m *Manager) Reconnect(ctx context.Context) error {
	a := m.begin()
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestReconnect is the fire-and-forget form of Reconnect.
func (m *Manager) RequestReconnect() {
	m.begin()
}

func (m *Manager) begin() *attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		a := &attempt{done: make(chan struct{}), err: models.ErrClosed}
		close(a.done)
		return a
	}
	if m.pending != nil {
		slog.Debug("link: reconnect already in progress, joining")
		return m.pending
	}
	m.pending = &attempt{done: make(chan struct{})}
	select {
	case m.kick <- struct{}{}:
	default:
	}
	return m.pending
}

// Close stops the loop, closes the connection and fails any pending attempt
// with models.ErrClosed. It returns once the loop has exited, also when the
// start context was cancelled first.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	started := m.started
	cancel := m.cancel
	m.mu.Unlock()

	if !started {
		m.finish(models.ErrClosed)
		return
	}
	cancel()
	<-m.done
}

// SetOptions changes the reconnect policy and dial timeout of a running
// manager. A scheduled retry keeps its delay; later ones use the new
// interval.
func (m *Manager) SetOptions(opts Options) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()
	m.limiter.SetLimit(rate.Every(opts.ReconnectInterval))
}

func (m *Manager) options() Options {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts
}

type dialResult struct {
	conn Conn
	err  error
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	var (
		conn     Conn
		connDone <-chan struct{}
		dialing  bool
		results  = make(chan dialResult, 1)
		retry    *time.Timer
		retryC   <-chan time.Time
	)

	stopRetry := func() {
		if retry != nil {
			retry.Stop()
			retry, retryC = nil, nil
		}
	}
	scheduleRetry := func() {
		if !m.options().AutoReconnect {
			return
		}
		stopRetry()
		delay := m.limiter.Reserve().Delay()
		slog.Info("link: scheduling reconnect", "in", delay)
		retry = time.NewTimer(delay)
		retryC = retry.C
	}
	dial := func() {
		stopRetry()
		if conn != nil {
			old := conn
			conn, connDone = nil, nil
			_ = old.Close()
			m.transition(models.ConnClosed, nil)
		}
		m.transition(models.ConnConnecting, nil)
		dialing = true
		timeout := m.options().DialTimeout
		go func() {
			dctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			c, err := m.transport.Dial(dctx)
			results <- dialResult{conn: c, err: err}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.closed = true
			m.mu.Unlock()
			stopRetry()
			if dialing {
				if r := <-results; r.conn != nil {
					_ = r.conn.Close()
				}
				m.transition(models.ConnClosed, nil)
			}
			if conn != nil {
				_ = conn.Close()
				m.transition(models.ConnClosed, nil)
			}
			m.finish(models.ErrClosed)
			return

		case <-m.kick:
			if dialing {
				continue
			}
			dial()

		case r := <-results:
			dialing = false
			if r.err != nil {
				slog.Warn("link: connect failed", "err", r.err)
				m.settle(models.ConnClosed, r.err, r.err)
				scheduleRetry()
				continue
			}
			conn, connDone = r.conn, r.conn.Done()
			m.settle(models.ConnOpen, nil, nil)

		case <-connDone:
			err := conn.Err()
			conn, connDone = nil, nil
			slog.Warn("link: connection lost", "err", err)
			if err == nil {
				err = errDisconnected
			}
			m.transition(models.ConnClosed, err)
			scheduleRetry()

		case <-retryC:
			retry, retryC = nil, nil
			m.RequestReconnect()
		}
	}
}

var errDisconnected = errors.New("disconnected")

// transition stores the new status and then notifies listeners, so a
// listener reading Status sees the state it is being told about.
func (m *Manager) transition(state models.ConnState, err error) {
	m.apply(state, err, false, nil)
}

// settle is a transition that ends the pending attempt. The attempt is
// detached together with the status update, so a reconnect requested by
// anyone who has seen the outcome starts a new attempt; its waiters are
// released after the listeners ran.
func (m *Manager) settle(state models.ConnState, err, result error) {
	m.apply(state, err, true, result)
}

func (m *Manager) apply(state models.ConnState, err error, settle bool, result error) {
	m.mu.Lock()
	st := m.status
	st.State = state
	st.Open = state == models.ConnOpen
	st.Since = time.Now()
	switch {
	case state == models.ConnOpen:
		st.Attempts = 0
		st.LastError = ""
	case err != nil:
		st.LastError = err.Error()
		if state == models.ConnClosed && m.status.State == models.ConnConnecting {
			st.Attempts++
		}
	}
	if e, ok := m.transport.(Endpointer); ok {
		st.Endpoint = e.Endpoint()
	}
	m.status = st
	var a *attempt
	if settle {
		a, m.pending = m.pending, nil
	}
	m.mu.Unlock()

	slog.Info("link: status changed", "state", state, "endpoint", st.Endpoint)
	m.listeners.Notify(st)
	if a != nil {
		a.err = result
		close(a.done)
	}
}

// finish completes the pending attempt, if any.
func (m *Manager) finish(err error) {
	m.mu.Lock()
	a := m.pending
	m.pending = nil
	m.mu.Unlock()
	if a != nil {
		a.err = err
		close(a.done)
	}
}
