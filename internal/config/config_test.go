package config_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/micro-nova/medialink/internal/config"
)

// --- JSONStore tests ---

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestJSONStore_LoadMissingFile_ReturnsDefault(t *testing.T) {
	store := config.NewJSONStore(t.TempDir())

	cfg, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if diff := deep.Equal(*cfg, config.Default()); diff != nil {
		t.Error(diff)
	}
}

func TestJSONStore_SaveLoadRoundTrip(t *testing.T) {
	store := config.NewJSONStore(t.TempDir())

	cfg := config.Default()
	cfg.BackendURL = "ws://tchaik.local:8080/socket"
	cfg.AutoReconnect = false
	cfg.ReconnectInterval = config.Duration(2 * time.Second)

	if err := store.Save(&cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// Flush to ensure the file is written
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := deep.Equal(*loaded, cfg); diff != nil {
		t.Error(diff)
	}
}

func TestJSONStore_FileFormat(t *testing.T) {
	store := config.NewJSONStore(t.TempDir())
	cfg := config.Default()
	if err := store.Save(&cfg); err != nil {
		t.Fatal(err)
	}
	if err := store.Flush(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["reconnect_interval"] != "5s" || raw["fetch_timeout"] != "30s" {
		t.Errorf("durations not written as strings: %s", data)
	}
}

func TestJSONStore_CorruptJSON_ReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	store := config.NewJSONStore(dir)
	writeFile(t, filepath.Join(dir, "config.json"), "{invalid json!!!")

	cfg, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if diff := deep.Equal(*cfg, config.Default()); diff != nil {
		t.Error(diff)
	}
}

func TestJSONStore_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	store := config.NewJSONStore(dir)
	writeFile(t, store.Path(), `{"backend_url":"ws://host:1/socket"}`)

	cfg, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	want := config.Default()
	want.BackendURL = "ws://host:1/socket"
	if diff := deep.Equal(*cfg, want); diff != nil {
		t.Error(diff)
	}
}

func TestJSONStore_MigratesLegacyKeys(t *testing.T) {
	dir := t.TempDir()
	store := config.NewJSONStore(dir)
	writeFile(t, store.Path(), `{"websocket":"ws://old:8080/socket","reconnect":false,"retry_timeout":3}`)

	cfg, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BackendURL != "ws://old:8080/socket" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.AutoReconnect {
		t.Error("AutoReconnect = true, want false from legacy key")
	}
	if cfg.ReconnectInterval.Std() != 3*time.Second {
		t.Errorf("ReconnectInterval = %v, want 3s", cfg.ReconnectInterval.Std())
	}
}

func TestJSONStore_CurrentKeyWinsOverLegacy(t *testing.T) {
	dir := t.TempDir()
	store := config.NewJSONStore(dir)
	writeFile(t, store.Path(), `{"ws_url":"ws://old:1/socket","backend_url":"ws://new:1/socket"}`)

	cfg, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BackendURL != "ws://new:1/socket" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
}

func TestJSONStore_MigratesBadValues(t *testing.T) {
	dir := t.TempDir()
	store := config.NewJSONStore(dir)
	writeFile(t, store.Path(), `{"backend_url":"http://nope","dial_timeout":"0s","ping_interval":-1}`)

	cfg, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	def := config.Default()
	if cfg.BackendURL != "" {
		t.Errorf("invalid BackendURL kept: %q", cfg.BackendURL)
	}
	if cfg.DialTimeout != def.DialTimeout || cfg.PingInterval != def.PingInterval {
		t.Errorf("non-positive durations not replaced: %+v", cfg)
	}
}

func TestJSONStore_SaveIsDebounced(t *testing.T) {
	store := config.NewJSONStore(t.TempDir())
	cfg := config.Default()
	for i := 0; i < 5; i++ {
		cfg.BackendURL = "ws://host:" + string(rune('1'+i)) + "/socket"
		if err := store.Save(&cfg); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Fatalf("file written before debounce delay: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		loaded, err := store.Load()
		if err != nil {
			t.Fatal(err)
		}
		if loaded.BackendURL == "ws://host:5/socket" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("last save never written, BackendURL = %q", loaded.BackendURL)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestJSONStore_FlushWithoutSave_NoError(t *testing.T) {
	store := config.NewJSONStore(t.TempDir())

	// Flush with nothing pending is a no-op
	if err := store.Flush(); err != nil {
		t.Errorf("Flush() with no pending save: error = %v, want nil", err)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Errorf("Flush without Save created a file: %v", err)
	}
}

func TestJSONStore_Path(t *testing.T) {
	dir := t.TempDir()
	store := config.NewJSONStore(dir)
	if got, want := store.Path(), filepath.Join(dir, "config.json"); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

// --- MemStore tests ---

func TestMemStore_LoadBeforeSave_ReturnsDefault(t *testing.T) {
	store := config.NewMemStore()
	cfg, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(*cfg, config.Default()); diff != nil {
		t.Error(diff)
	}
	if store.Path() != ":memory:" {
		t.Errorf("Path() = %q", store.Path())
	}
	if err := store.Flush(); err != nil {
		t.Errorf("Flush() = %v", err)
	}
}

func TestMemStore_MutationIsolation(t *testing.T) {
	store := config.NewMemStore()
	cfg := config.Default()
	cfg.BackendURL = "ws://a:1/socket"
	if err := store.Save(&cfg); err != nil {
		t.Fatal(err)
	}
	cfg.BackendURL = "ws://mutated:1/socket"

	loaded, _ := store.Load()
	if loaded.BackendURL != "ws://a:1/socket" {
		t.Errorf("Save kept a reference: %q", loaded.BackendURL)
	}
	loaded.BackendURL = "ws://mutated:2/socket"
	again, _ := store.Load()
	if again.BackendURL != "ws://a:1/socket" {
		t.Errorf("Load returned shared memory: %q", again.BackendURL)
	}
}

// --- Config tests ---

func TestDurationJSON(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{`"5s"`, 5 * time.Second},
		{`"1m30s"`, 90 * time.Second},
		{`7`, 7 * time.Second},
		{`0.5`, 500 * time.Millisecond},
	}
	for _, tc := range tests {
		var d config.Duration
		if err := json.Unmarshal([]byte(tc.in), &d); err != nil {
			t.Errorf("Unmarshal(%s): %v", tc.in, err)
			continue
		}
		if d.Std() != tc.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tc.in, d.Std(), tc.want)
		}
	}

	var d config.Duration
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("Unmarshal of bad duration succeeded")
	}
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Error("Unmarshal of bool succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"empty means discover", "", false},
		{"ws", "ws://host:8080/socket", false},
		{"wss", "wss://host/socket", false},
		{"http", "http://host/socket", true},
		{"no host", "ws:///socket", true},
		{"garbage", "://", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.BackendURL = tc.url
			if err := cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate(%q) = %v, wantErr %v", tc.url, err, tc.wantErr)
			}
		})
	}

	cfg := config.Default()
	cfg.FetchTimeout = config.Duration(-time.Second)
	if err := cfg.Validate(); err == nil {
		t.Error("negative duration accepted")
	}
}

func TestApply(t *testing.T) {
	url := "ws://new:1/socket"
	off := false
	iv := config.Duration(time.Second)

	got := config.Default().Apply(config.Update{BackendURL: &url, AutoReconnect: &off, ReconnectInterval: &iv})
	want := config.Default()
	want.BackendURL = url
	want.AutoReconnect = false
	want.ReconnectInterval = iv
	if diff := deep.Equal(got, want); diff != nil {
		t.Error(diff)
	}

	if diff := deep.Equal(config.Default().Apply(config.Update{}), config.Default()); diff != nil {
		t.Errorf("empty update changed config: %v", diff)
	}
}

// --- Watcher tests ---

func TestWatcherReloadsOnEdit(t *testing.T) {
	dir := t.TempDir()
	store := config.NewJSONStore(dir)

	changes := make(chan config.Config, 8)
	w, err := config.NewWatcher(store, func(c config.Config) { changes <- c })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeFile(t, filepath.Join(dir, "other.json"), `{}`)
	writeFile(t, store.Path(), `{"backend_url":"ws://edited:1/socket"}`)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.BackendURL == "ws://edited:1/socket" {
				return
			}
		case <-deadline:
			t.Fatal("watcher did not report the edit")
		}
	}
}

func TestJSONStore_LoadStrict(t *testing.T) {
	dir := t.TempDir()
	store := config.NewJSONStore(dir)

	if _, err := store.LoadStrict(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadStrict(missing) error = %v, want ErrNotExist", err)
	}

	writeFile(t, store.Path(), `{"backend_url":"ws://tch`)
	if _, err := store.LoadStrict(); err == nil {
		t.Error("LoadStrict(truncated) error = nil")
	}

	writeFile(t, store.Path(), `{"backend_url":"ws://tchaik:8080/socket"}`)
	cfg, err := store.LoadStrict()
	if err != nil {
		t.Fatalf("LoadStrict: %v", err)
	}
	if cfg.BackendURL != "ws://tchaik:8080/socket" || cfg.FetchTimeout != config.Default().FetchTimeout {
		t.Errorf("LoadStrict = %+v", cfg)
	}
}

func TestWatcherSkipsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	store := config.NewJSONStore(dir)
	const good = "ws://tchaik:8080/socket"

	changes := make(chan config.Config, 16)
	w, err := config.NewWatcher(store, func(c config.Config) { changes <- c })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeFile(t, store.Path(), `{"backend_url":"ws://tch`)
	time.Sleep(100 * time.Millisecond)
	writeFile(t, store.Path(), `{"backend_url":"http://wrong-scheme"}`)
	time.Sleep(100 * time.Millisecond)
	writeFile(t, store.Path(), `{"backend_url":"`+good+`"}`)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.BackendURL != good {
				t.Fatalf("watcher delivered %q from a broken edit", c.BackendURL)
			}
			return
		case <-deadline:
			t.Fatal("watcher did not report the valid edit")
		}
	}
}
