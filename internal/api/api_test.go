package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/micro-nova/medialink/internal/api"
	"github.com/micro-nova/medialink/internal/auth"
	"github.com/micro-nova/medialink/internal/backend/backendtest"
	"github.com/micro-nova/medialink/internal/config"
	"github.com/micro-nova/medialink/internal/controller"
	"github.com/micro-nova/medialink/internal/events"
	"github.com/micro-nova/medialink/internal/models"
)

const wait = 3 * time.Second

type testEnv struct {
	srv     *httptest.Server
	backend *backendtest.Server
	ctrl    *controller.Controller
}

// newTestServer spins up the router over a real controller talking to an
// in-process backend.
func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	return newTestServerWithAuth(t, nil)
}

func newTestServerWithAuth(t *testing.T, authSvc *auth.Service) *testEnv {
	t.Helper()

	backend := backendtest.NewServer(t)
	backend.SetNode(backendtest.RootWithGroups(3))
	backend.SetNode(models.Node{Path: models.Path{"Root", "g1"}, Name: "Album 1"})

	cfg := config.Default()
	cfg.BackendURL = backend.WSURL()
	store := config.NewMemStore()
	if err := store.Save(&cfg); err != nil {
		t.Fatal(err)
	}
	bus := events.NewBus()

	ctrl, err := controller.New(store, bus, controller.Options{})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	ctrl.Start(context.Background())

	srv := httptest.NewServer(api.NewRouter(ctrl, authSvc, bus))
	t.Cleanup(func() {
		srv.Close()
		_ = ctrl.Shutdown(context.Background())
	})
	return &testEnv{srv: srv, backend: backend, ctrl: ctrl}
}

// do is a convenience helper for making requests to the test server.
func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("NewRequest %s %s: %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do %s %s: %v", method, path, err)
	}
	return resp
}

// decodeJSON reads and decodes a JSON response body into v.
func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

// requireStatus fails the test if the response status doesn't match.
func requireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, expected, body)
	}
}

func requireAppError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	requireStatus(t, resp, status)
	var appErr models.AppError
	decodeJSON(t, resp, &appErr)
	if appErr.Code != code || appErr.Message == "" {
		t.Errorf("error body = %+v, want code %s", appErr, code)
	}
}

func (e *testEnv) waitOpen(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := e.ctrl.Reconnect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

// getLoaded polls until the collection at query is loaded.
func (e *testEnv) getLoaded(t *testing.T, query string) models.Collection {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		resp := do(t, e.srv, http.MethodGet, "/api/collection"+query, "")
		requireStatus(t, resp, http.StatusOK)
		var c models.Collection
		decodeJSON(t, resp, &c)
		if c.Loaded {
			return c
		}
		if time.Now().After(deadline) {
			t.Fatalf("collection %s never loaded", query)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// --- Tests ---

func TestGetStatus(t *testing.T) {
	env := newTestServer(t)
	env.waitOpen(t)

	resp := do(t, env.srv, http.MethodGet, "/api/status", "")
	requireStatus(t, resp, http.StatusOK)
	var st models.ConnectionStatus
	decodeJSON(t, resp, &st)
	if !st.Open || st.State != models.ConnOpen || st.Endpoint != env.backend.WSURL() {
		t.Errorf("status = %+v", st)
	}
}

func TestPostReconnect(t *testing.T) {
	env := newTestServer(t)
	env.waitOpen(t)

	resp := do(t, env.srv, http.MethodPost, "/api/reconnect", "")
	requireStatus(t, resp, http.StatusOK)
	var st models.ConnectionStatus
	decodeJSON(t, resp, &st)
	if !st.Open {
		t.Errorf("status after reconnect = %+v", st)
	}
}

func TestGetCollectionDefaultsToRoot(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, env.srv, http.MethodGet, "/api/collection", "")
	requireStatus(t, resp, http.StatusOK)
	var c models.Collection
	decodeJSON(t, resp, &c)
	if c.Key != "/Root" || c.Loaded || c.State != models.StateAbsent {
		t.Errorf("collection = %+v, want absent root placeholder", c)
	}
	if n := env.backend.Fetches(models.RootPath); n != 0 {
		t.Errorf("GET triggered %d backend fetches", n)
	}
}

func TestFetchThenGet(t *testing.T) {
	env := newTestServer(t)
	env.waitOpen(t)

	resp := do(t, env.srv, http.MethodPost, "/api/collection/fetch", `{"path":["Root"]}`)
	requireStatus(t, resp, http.StatusAccepted)
	var fr struct {
		Key     string `json:"key"`
		Started bool   `json:"started"`
	}
	decodeJSON(t, resp, &fr)
	if fr.Key != "/Root" || !fr.Started {
		t.Errorf("fetch response = %+v", fr)
	}

	c := env.getLoaded(t, "?key=/Root")
	if len(c.Groups) != 3 || c.State != models.StatePresent {
		t.Errorf("root = %+v", c)
	}

	resp = do(t, env.srv, http.MethodPost, "/api/collection/fetch", `{"path":["Root"]}`)
	requireStatus(t, resp, http.StatusAccepted)
	decodeJSON(t, resp, &fr)
	if fr.Started {
		t.Error("fetch of present path started a request")
	}
}

func TestGetCollectionByPathParams(t *testing.T) {
	env := newTestServer(t)
	env.waitOpen(t)

	resp := do(t, env.srv, http.MethodPost, "/api/collection/fetch", `{"path":["Root","g1"]}`)
	requireStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()

	c := env.getLoaded(t, "?path=Root&path=g1")
	if c.Name != "Album 1" || c.Key != "/Root/g1" {
		t.Errorf("collection = %+v", c)
	}
}

func TestGetCollectionFiltered(t *testing.T) {
	env := newTestServer(t)
	env.waitOpen(t)
	env.ctrl.Fetch(models.RootPath)
	env.getLoaded(t, "")

	resp := do(t, env.srv, http.MethodGet, "/api/collection?q=album+2", "")
	requireStatus(t, resp, http.StatusOK)
	var c models.Collection
	decodeJSON(t, resp, &c)
	if len(c.Groups) != 1 || c.Groups[0].Key != "g2" {
		t.Errorf("filtered groups = %+v", c.Groups)
	}
}

func TestGetCollectionBadKey(t *testing.T) {
	env := newTestServer(t)
	resp := do(t, env.srv, http.MethodGet, "/api/collection?key=Root", "")
	requireAppError(t, resp, http.StatusBadRequest, "BAD_REQUEST")
}

func TestFetchBadBodies(t *testing.T) {
	env := newTestServer(t)
	for _, body := range []string{`{not json`, `{"path":[]}`, `{}`} {
		resp := do(t, env.srv, http.MethodPost, "/api/collection/fetch", body)
		requireAppError(t, resp, http.StatusBadRequest, "BAD_REQUEST")
	}
}

func TestInvalidate(t *testing.T) {
	env := newTestServer(t)
	env.waitOpen(t)
	env.ctrl.Fetch(models.RootPath)
	env.getLoaded(t, "")

	resp := do(t, env.srv, http.MethodPost, "/api/collection/invalidate", `{"path":["Root"]}`)
	requireStatus(t, resp, http.StatusOK)
	var ir struct {
		Invalidated bool `json:"invalidated"`
	}
	decodeJSON(t, resp, &ir)
	if !ir.Invalidated {
		t.Error("invalidated = false")
	}

	c := env.getLoaded(t, "")
	if c.State != models.StateStale {
		t.Errorf("state = %v, want stale", c.State)
	}
}

func TestConfig(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, env.srv, http.MethodGet, "/api/config", "")
	requireStatus(t, resp, http.StatusOK)
	var cfg config.Config
	decodeJSON(t, resp, &cfg)
	if cfg.BackendURL != env.backend.WSURL() {
		t.Errorf("backend_url = %q", cfg.BackendURL)
	}

	resp = do(t, env.srv, http.MethodPatch, "/api/config", `{"auto_reconnect":false,"fetch_timeout":"10s"}`)
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &cfg)
	if cfg.AutoReconnect || cfg.FetchTimeout.Std() != 10*time.Second {
		t.Errorf("patched config = %+v", cfg)
	}

	resp = do(t, env.srv, http.MethodPatch, "/api/config", `{"backend_url":"ftp://x"}`)
	requireAppError(t, resp, http.StatusBadRequest, "BAD_REQUEST")

	resp = do(t, env.srv, http.MethodPatch, "/api/config", `nope`)
	requireAppError(t, resp, http.StatusBadRequest, "BAD_REQUEST")
}

func TestGetInfo(t *testing.T) {
	env := newTestServer(t)
	resp := do(t, env.srv, http.MethodGet, "/api/info", "")
	requireStatus(t, resp, http.StatusOK)
	var info models.Info
	decodeJSON(t, resp, &info)
	if info.Version == "" || info.Backend != env.backend.WSURL() {
		t.Errorf("info = %+v", info)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t)
	resp := do(t, env.srv, http.MethodOptions, "/api/collection", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestAccessKeyRequired(t *testing.T) {
	dir := t.TempDir()
	keys := `{"panel": {"key": "k1"}}`
	if err := os.WriteFile(filepath.Join(dir, auth.KeysFileName), []byte(keys), 0600); err != nil {
		t.Fatal(err)
	}
	authSvc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	t.Cleanup(authSvc.Close)
	env := newTestServerWithAuth(t, authSvc)

	requireAppError(t, do(t, env.srv, http.MethodGet, "/api/status", ""), http.StatusUnauthorized, "UNAUTHORIZED")

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/status", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer k1")
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = do(t, env.srv, http.MethodGet, "/api/info?api-key=k1", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestUnknownRoute(t *testing.T) {
	env := newTestServer(t)
	resp := do(t, env.srv, http.MethodGet, "/api/nope", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSSESubscribe(t *testing.T) {
	env := newTestServer(t)
	env.waitOpen(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/subscribe", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	client := &http.Client{Transport: &http.Transport{DisableCompression: true}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	requireStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	evs := make(chan models.Event, 16)
	go func() {
		defer close(evs)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err == nil {
				evs <- ev
			}
		}
	}()

	next := func() models.Event {
		t.Helper()
		select {
		case ev, ok := <-evs:
			if !ok {
				t.Fatal("stream ended")
			}
			return ev
		case <-time.After(wait):
			t.Fatal("timed out waiting for SSE event")
			return models.Event{}
		}
	}

	first := next()
	if first.Type != models.EventStatus || first.Status == nil || !first.Status.Open {
		t.Errorf("first event = %+v, want current status", first)
	}

	env.ctrl.Fetch(models.RootPath)
	for {
		ev := next()
		if ev.Type == models.EventCollection && ev.Key == "/Root" {
			break
		}
	}
}
