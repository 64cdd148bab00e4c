// Package backendtest provides an in-process media backend speaking the
// WebSocket protocol, for tests.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/micro-nova/medialink/internal/models"
)

// Server is a fake backend. Nodes are served by key; unknown keys get an
// error response.
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu      sync.Mutex
	nodes   map[models.Key]models.Node
	conns   []*peer
	fetches map[models.Key]int
	dials   int
	hold    chan struct{} // when set, FETCH responses wait for it to close
}

// peer is one client connection; gorilla allows a single writer at a time.
type peer struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.ws.WriteMessage(websocket.TextMessage, data)
}

// NewServer starts a backend and closes it with the test.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		nodes:   make(map[models.Key]models.Node),
		fetches: make(map[models.Key]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(func() {
		s.DropAll()
		s.Server.Close()
	})
	return s
}

// WSURL returns the ws:// address of the socket endpoint.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/socket"
}

// SetNode makes node available at its path.
func (s *Server) SetNode(node models.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.Path.Key()] = node
}

// Hold makes FETCH responses wait until the returned function is called.
func (s *Server) Hold() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.hold == ch {
				s.hold = nil
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Fetches returns how many FETCH requests arrived for path.
func (s *Server) Fetches(path models.Path) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[path.Key()]
}

// Dials returns how many WebSocket connections were accepted.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Push sends msg to every connected client.
func (s *Server) Push(msg models.Message) {
	data, _ := json.Marshal(msg)
	s.mu.Lock()
	conns := append([]*peer(nil), s.conns...)
	s.mu.Unlock()
	for _, p := range conns {
		_ = p.write(data)
	}
}

// DropAll closes every client connection from the server side.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, p := range conns {
		_ = p.ws.Close()
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/socket" {
		http.NotFound(w, r)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{ws: ws}
	s.mu.Lock()
	s.dials++
	s.conns = append(s.conns, p)
	s.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req models.Message
		if err := json.Unmarshal(data, &req); err != nil || req.Action != models.ActionFetch {
			continue
		}
		go func(req models.Message) {
			resp := s.answer(req)
			out, _ := json.Marshal(resp)
			_ = p.write(out)
		}(req)
	}
}

func (s *Server) answer(req models.Message) models.Message {
	key := req.Path.Key()
	s.mu.Lock()
	s.fetches[key]++
	hold := s.hold
	s.mu.Unlock()

	if hold != nil {
		<-hold
	}

	s.mu.Lock()
	node, ok := s.nodes[key]
	s.mu.Unlock()

	resp := models.Message{ID: req.ID, Action: req.Action, Path: req.Path}
	if !ok {
		resp.Error = "no such path: " + string(key)
		return resp
	}
	resp.Data, _ = json.Marshal(node)
	return resp
}

// RootWithGroups builds a root node with n child groups.
func RootWithGroups(n int) models.Node {
	root := models.Node{Path: models.RootPath.Clone(), ID: "root", Name: "Root"}
	for i := 0; i < n; i++ {
		id := strconv.Itoa(i)
		root.Groups = append(root.Groups, models.Group{Key: "g" + id, ID: "id-" + id, Name: "Album " + id})
	}
	return root
}
