// Command medialinkd is the medialink daemon: it keeps the connection to a
// media backend, caches the collection tree and serves both over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/micro-nova/medialink/internal/api"
	"github.com/micro-nova/medialink/internal/auth"
	"github.com/micro-nova/medialink/internal/config"
	"github.com/micro-nova/medialink/internal/controller"
	"github.com/micro-nova/medialink/internal/events"
	"github.com/micro-nova/medialink/internal/identity"
	"github.com/micro-nova/medialink/internal/maintenance"
	"github.com/micro-nova/medialink/internal/snapshot"
	"github.com/micro-nova/medialink/internal/zeroconf"
)

func main() {
	var (
		addr    = flag.String("addr", ":8080", "HTTP listen address")
		cfgDir  = flag.String("config-dir", "", "config directory (default: ~/.config/medialink)")
		backend = flag.String("backend", "", "backend WebSocket URL, overrides the config file")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	// Configure logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Resolve config directory
	if *cfgDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("cannot determine home directory", "err", err)
			os.Exit(1)
		}
		*cfgDir = filepath.Join(home, ".config", "medialink")
	}
	if err := os.MkdirAll(*cfgDir, 0755); err != nil {
		slog.Error("cannot create config directory", "path", *cfgDir, "err", err)
		os.Exit(1)
	}

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Config store
	store := config.NewJSONStore(*cfgDir)
	cfg, err := store.Load()
	if err != nil {
		slog.Error("cannot read config", "path", store.Path(), "err", err)
		os.Exit(1)
	}
	if *backend != "" {
		if err := overrideBackend(store, cfg, *backend); err != nil {
			slog.Error("invalid -backend", "err", err)
			os.Exit(1)
		}
	}

	// Collection snapshot
	var snap *snapshot.DB
	if cfg.SnapshotFile != "" {
		path := cfg.SnapshotFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(*cfgDir, path)
		}
		snap, err = snapshot.Open(path)
		if err != nil {
			slog.Warn("snapshot unavailable, starting cold", "path", path, "err", err)
			snap = nil
		} else {
			defer snap.Close()
		}
	}

	// Event bus
	bus := events.NewBus()

	// Controller
	ctrl, err := controller.New(store, bus, controller.Options{
		Snapshot:  snap,
		ConfigDir: *cfgDir,
		Discover: func(ctx context.Context) (string, error) {
			slog.Info("no backend configured, browsing", "service", zeroconf.BackendServiceType)
			return zeroconf.Browse(ctx, zeroconf.BackendServiceType)
		},
	})
	if err != nil {
		slog.Error("controller initialization failed", "err", err)
		os.Exit(1)
	}
	ctrl.Start(ctx)

	// Reload on manual edits of config.json
	if w, err := config.NewWatcher(store, ctrl.ApplyConfig); err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer w.Close()
		go w.Run(ctx)
	}

	// Checkpoints and config backups
	var saver maintenance.Saver
	if snap != nil {
		saver = snap
	}
	maint := maintenance.New(ctrl.Store(), saver, maintenance.Options{
		CheckpointInterval: cfg.CheckpointInterval.Std(),
		ConfigFile:         store.Path(),
		BackupDir:          filepath.Join(*cfgDir, "backups"),
	})
	go maint.Start(ctx)

	// Zeroconf mDNS registration
	if cfg.Advertise {
		port := 80
		if parts := strings.SplitN(*addr, ":", 2); len(parts) == 2 && parts[1] != "" {
			if p, err := strconv.Atoi(parts[1]); err == nil {
				port = p
			}
		}
		zc := zeroconf.New(identity.GetHostname(), port, "version="+identity.GetVersion(*cfgDir))
		go func() {
			if err := zc.Start(ctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
		}()
	}

	// Access keys
	authSvc, err := auth.NewService(*cfgDir)
	if err != nil {
		slog.Error("auth service initialization failed", "err", err)
		os.Exit(1)
	}
	defer authSvc.Close()
	if authSvc.IsOpenMode() {
		slog.Info("no access keys configured, API is open", "file", filepath.Join(*cfgDir, auth.KeysFileName))
	}

	// HTTP server
	srv := &http.Server{
		Addr:         *addr,
		Handler:      api.NewRouter(ctrl, authSvc, bus),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE)
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("medialink listening", "addr", *addr, "backend", cfg.BackendURL, "config", *cfgDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	// Graceful HTTP shutdown
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	// Stop the link, persist the snapshot, flush config
	if err := ctrl.Shutdown(shutCtx); err != nil {
		slog.Warn("controller shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
}

// overrideBackend sets the backend address from the command line and saves
// it. An address that fails validation leaves cfg untouched.
func overrideBackend(store config.Store, cfg *config.Config, url string) error {
	next := *cfg
	next.BackendURL = url
	if err := next.Validate(); err != nil {
		return err
	}
	*cfg = next
	if err := store.Save(cfg); err != nil {
		slog.Warn("cannot save -backend to config", "path", store.Path(), "err", err)
	}
	return nil
}
