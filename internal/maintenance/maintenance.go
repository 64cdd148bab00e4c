// Package maintenance runs medialinkd's background housekeeping: periodic
// checkpoints of the collection cache into the snapshot database and daily
// backups of the configuration file.
package maintenance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/micro-nova/medialink/internal/events"
	"github.com/micro-nova/medialink/internal/models"
)

const (
	backupPrefix = "medialink-config-"
	backupSuffix = ".json"
	backupHour   = 2

	defaultBackupMaxAge = 90 * 24 * time.Hour
)

// Source is the cache being checkpointed.
type Source interface {
	Snapshot() []models.Node
	AddChangeListener(events.Listener[models.Key]) bool
	RemoveChangeListener(events.Listener[models.Key]) bool
}

// Saver persists a set of nodes.
type Saver interface {
	Save(ctx context.Context, nodes []models.Node) error
}

// Options configure a Service.
type Options struct {
	// CheckpointInterval spaces cache checkpoints. Zero disables them.
	CheckpointInterval time.Duration
	// ConfigFile is backed up daily into BackupDir. Empty disables backups.
	ConfigFile string
	BackupDir  string
	// BackupMaxAge prunes older backups. Zero means 90 days.
	BackupMaxAge time.Duration
}

// Service manages background maintenance goroutines.
type Service struct {
	source Source
	saver  Saver
	opts   Options

	dirty    atomic.Bool
	onChange *events.Func[models.Key]
}

// New creates a maintenance Service. saver may be nil when snapshots are
// disabled.
func New(source Source, saver Saver, opts Options) *Service {
	if opts.BackupMaxAge <= 0 {
		opts.BackupMaxAge = defaultBackupMaxAge
	}
	s := &Service{source: source, saver: saver, opts: opts}
	s.onChange = events.NewFunc(func(models.Key) { s.dirty.Store(true) })
	return s
}

// Start launches the maintenance goroutines and blocks until ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) {
	if s.saver != nil && s.opts.CheckpointInterval > 0 {
		s.source.AddChangeListener(s.onChange)
		defer s.source.RemoveChangeListener(s.onChange)
		go s.runCheckpoint(ctx)
	}
	if s.opts.ConfigFile != "" && s.opts.BackupDir != "" {
		go s.runBackup(ctx)
	}

	<-ctx.Done()
}

// Checkpoint writes the cache to the snapshot if it changed since the last
// checkpoint. It reports whether anything was written.
func (s *Service) Checkpoint(ctx context.Context) (bool, error) {
	if s.saver == nil || !s.dirty.Swap(false) {
		return false, nil
	}
	nodes := s.source.Snapshot()
	if err := s.saver.Save(ctx, nodes); err != nil {
		s.dirty.Store(true)
		return false, err
	}
	slog.Debug("maintenance: checkpoint written", "nodes", len(nodes))
	return true, nil
}

func (s *Service) runCheckpoint(ctx context.Context) {
	ticker := time.NewTicker(s.opts.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Checkpoint(ctx); err != nil {
				slog.Warn("maintenance: checkpoint failed", "err", err)
			}
		}
	}
}

// runBackup performs daily backups at 2am.
func (s *Service) runBackup(ctx context.Context) {
	for {
		delay := nextAt(time.Now(), backupHour).Sub(time.Now())

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			path, err := s.RunBackupNow()
			if err != nil {
				slog.Error("maintenance: backup failed", "err", err)
			} else {
				slog.Info("maintenance: backup created", "file", path)
			}
		}
	}
}

// nextAt returns the next time after now at hour:00 local time.
func nextAt(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunBackupNow copies the configuration file into the backup directory and
// prunes old backups. It returns the backup's path.
func (s *Service) RunBackupNow() (string, error) {
	if s.opts.ConfigFile == "" || s.opts.BackupDir == "" {
		return "", fmt.Errorf("maintenance: backups not configured")
	}
	if err := os.MkdirAll(s.opts.BackupDir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	date := time.Now().Format("2006-01-02")
	dest := filepath.Join(s.opts.BackupDir, backupPrefix+date+backupSuffix)
	if err := copyFile(s.opts.ConfigFile, dest); err != nil {
		return "", err
	}

	pruneOldBackups(s.opts.BackupDir, s.opts.BackupMaxAge)
	return dest, nil
}

// ListBackups returns the backup files in dir, oldest first.
func ListBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	files := []string{}
	for _, e := range entries {
		if isBackup(e) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func isBackup(e os.DirEntry) bool {
	return !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), backupSuffix)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// pruneOldBackups deletes backup files older than maxAge from backupDir.
func pruneOldBackups(backupDir string, maxAge time.Duration) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !isBackup(e) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(backupDir, e.Name())
			if err := os.Remove(path); err != nil {
				slog.Warn("maintenance: failed to prune old backup", "file", path, "err", err)
			} else {
				slog.Info("maintenance: pruned old backup", "file", path)
			}
		}
	}
}
