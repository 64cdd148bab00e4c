// Package backend speaks the media backend's WebSocket protocol. A Client is
// both the transport dialled by the connection manager and the fetch channel
// used by the collection store.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/micro-nova/medialink/internal/link"
	"github.com/micro-nova/medialink/internal/models"
)

// Settings tune the WebSocket session.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	// ReadTimeout is how long the session waits for any frame (pongs
	// included) before declaring the connection dead.
	ReadTimeout time.Duration
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		ReadTimeout:      45 * time.Second,
	}
}

// PushHandler receives unsolicited backend pushes. It runs on the session's
// read goroutine.
type PushHandler func(models.Push)

// Client dials the backend and serves fetches over the current session.
type Client struct {
	settings Settings
	dialer   *websocket.Dialer

	mu      sync.Mutex
	url     string
	header  http.Header
	session *session
	onPush  PushHandler
}

var (
	_ link.Transport  = (*Client)(nil)
	_ link.Endpointer = (*Client)(nil)
)

// NewClient creates a client for the backend at url (ws:// or wss://).
func NewClient(url string, settings Settings) *Client {
	def := DefaultSettings()
	if settings.HandshakeTimeout <= 0 {
		settings.HandshakeTimeout = def.HandshakeTimeout
	}
	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = def.WriteTimeout
	}
	if settings.PingInterval <= 0 {
		settings.PingInterval = def.PingInterval
	}
	if settings.ReadTimeout <= 0 {
		settings.ReadTimeout = def.ReadTimeout
	}
	return &Client{
		settings: settings,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		url: url,
	}
}

// SetURL changes the backend address. It takes effect on the next Dial.
func (c *Client) SetURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = url
}

// Endpoint returns the backend address.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// SetHeader sets extra HTTP headers sent with the handshake.
func (c *Client) SetHeader(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header = h.Clone()
}

// OnPush installs the handler for backend pushes.
func (c *Client) OnPush(fn PushHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPush = fn
}

// Dial opens a new session and makes it current.
func (c *Client) Dial(ctx context.Context) (link.Conn, error) {
	c.mu.Lock()
	url, header := c.url, c.header
	c.mu.Unlock()

	if url == "" {
		return nil, errors.New("backend: no address configured")
	}

	ws, _, err := c.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("backend: dial %s: %w", url, err)
	}

	s := newSession(ws, c.settings, c.push)

	c.mu.Lock()
	old := c.session
	c.session = s
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	go s.readLoop()
	go s.pingLoop()
	slog.Info("backend: connected", "url", url)
	return s, nil
}

// Fetch requests the node at path over the current session.
func (c *Client) Fetch(ctx context.Context, path models.Path) (*models.Node, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, models.ErrNotConnected
	}

	resp, err := s.request(ctx, models.Message{Action: models.ActionFetch, Path: path})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &models.BackendError{Message: resp.Error}
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, models.ErrEmptyResponse
	}
	var node models.Node
	if err := json.Unmarshal(resp.Data, &node); err != nil {
		return nil, fmt.Errorf("backend: decode node: %w", err)
	}
	return &node, nil
}

func (c *Client) push(msg models.Message) {
	c.mu.Lock()
	fn := c.onPush
	c.mu.Unlock()
	if fn == nil {
		return
	}

	p := models.Push{Action: msg.Action, Path: msg.Path}
	if msg.Action == models.ActionUpdate && len(msg.Data) > 0 {
		var node models.Node
		if err := json.Unmarshal(msg.Data, &node); err != nil {
			slog.Warn("backend: bad update push", "path", msg.Path.Key(), "err", err)
			return
		}
		p.Node = &node
	}
	fn(p)
}

// session is one WebSocket connection. It implements link.Conn.
type session struct {
	ws       *websocket.Conn
	settings Settings
	onPush   func(models.Message)

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan models.Message
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(ws *websocket.Conn, settings Settings, onPush func(models.Message)) *session {
	s := &session{
		ws:       ws,
		settings: settings,
		onPush:   onPush,
		pending:  make(map[string]chan models.Message),
		done:     make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
	})
	return s
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) Close() error {
	s.shutdown(nil)
	return nil
}

// shutdown ends the session once; err is recorded as the reason unless the
// session was closed locally.
func (s *session) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.settings.WriteTimeout))
		_ = s.ws.Close()
		close(s.done)
	})
}

func (s *session) write(msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *session) request(ctx context.Context, msg models.Message) (models.Message, error) {
	msg.ID = uuid.NewString()
	ch := make(chan models.Message, 1)

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return models.Message{}, models.ErrNotConnected
	default:
	}
	s.pending[msg.ID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.write(msg); err != nil {
		s.shutdown(err)
		return models.Message{}, fmt.Errorf("backend: write: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-s.done:
		return models.Message{}, models.ErrNotConnected
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

func (s *session) readLoop() {
	_ = s.ws.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
	for {
		typ, data, err := s.ws.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				slog.Info("backend: read error", "err", err)
			}
			s.shutdown(err)
			return
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
		if typ != websocket.TextMessage {
			continue
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("backend: bad frame", "err", err)
			continue
		}

		if msg.ID == "" {
			s.onPush(msg)
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[msg.ID]
		s.mu.Unlock()
		if !ok {
			slog.Debug("backend: response for unknown request", "id", msg.ID)
			continue
		}
		select {
		case ch <- msg:
		default:
			slog.Debug("backend: duplicate response dropped", "id", msg.ID)
		}
	}
}

func (s *session) pingLoop() {
	ticker := time.NewTicker(s.settings.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.settings.WriteTimeout))
			if err != nil {
				s.shutdown(err)
				return
			}
		}
	}
}
