// Package snapshot guards a working directory with labeled point-in-time
// copies. The manager proposes rollbacks through events; it never restores
// anything without an explicit caller decision.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oriolane/oriole/internal/events"
	"github.com/oriolane/oriole/internal/observability"
)

// Defaults.
const (
	DefaultMaxTotalBytes = 500 << 20 // 500 MB across all snapshots
	DefaultFailureLimit  = 3

	lockFileName = ".lock"
	metaFileName = "meta.json"
	filesDirName = "files"

	// captureConcurrency bounds parallel file copies during capture.
	captureConcurrency = 8
)

// Config for the manager.
type Config struct {
	// Dir is the instance's snapshots directory.
	Dir string
	// WorkDir is the tree being protected.
	WorkDir string
	// MaxTotalBytes caps the combined size of kept snapshots; oldest are
	// evicted past it. Defaults to 500 MB.
	MaxTotalBytes int64
	// FailureLimit is the consecutive tool-failure count that triggers a
	// rollback proposal. Defaults to 3.
	FailureLimit int
	// AutoSnapshot takes a snapshot before the first file-modifying
	// operation of a turn.
	AutoSnapshot bool
}

// Meta describes one stored snapshot.
type Meta struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	CreatedAt  time.Time `json:"created_at"`
	FileCount  int       `json:"file_count"`
	TotalBytes int64     `json:"total_bytes"`
}

// Operation is one recorded state-changing action.
type Operation struct {
	Kind string
	Path string
	At   time.Time
}

// Manager owns the snapshot directory for one instance. The directory lock
// guarantees a single manager per directory across processes.
type Manager struct {
	cfg         Config
	logger      *slog.Logger
	broadcaster *events.Broadcaster

	mu                  sync.Mutex
	ops                 []Operation
	turnSnapshotted     bool
	consecutiveFailures int
	proposalSent        bool
}

// fileModifyingKinds are operation kinds that trigger the pre-modification
// auto snapshot.
var fileModifyingKinds = map[string]bool{
	"file_write":  true,
	"file_delete": true,
	"file_move":   true,
	"dir_delete":  true,
}

// New acquires the directory lock and loads existing snapshot metadata.
func New(cfg Config, broadcaster *events.Broadcaster, logger *slog.Logger) (*Manager, error) {
	if cfg.Dir == "" || cfg.WorkDir == "" {
		return nil, fmt.Errorf("snapshot: Dir and WorkDir are required")
	}
	if cfg.MaxTotalBytes <= 0 {
		cfg.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = DefaultFailureLimit
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}

	if err := acquireLock(cfg.Dir); err != nil {
		return nil, err
	}

	return &Manager{cfg: cfg, logger: logger, broadcaster: broadcaster}, nil
}

// acquireLock creates the lock file exclusively. A stale lock from a dead
// process must be removed by the operator; silently stealing it risks two
// writers in the same directory.
func acquireLock(dir string) error {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("snapshot: directory %s is locked by another process (remove %s if stale)", dir, path)
		}
		return fmt.Errorf("snapshot: acquire lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f.Close()
}

// Close releases the directory lock.
func (m *Manager) Close() error {
	return os.Remove(filepath.Join(m.cfg.Dir, lockFileName))
}

// Snapshot captures the working tree under a new snapshot id.
func (m *Manager) Snapshot(ctx context.Context, label string) (string, error) {
	id := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
	dest := filepath.Join(m.cfg.Dir, id, filesDirName)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: create %s: %w", dest, err)
	}

	fileCount, totalBytes, err := m.capture(ctx, dest)
	if err != nil {
		os.RemoveAll(filepath.Join(m.cfg.Dir, id))
		return "", err
	}

	meta := Meta{ID: id, Label: label, CreatedAt: time.Now().UTC(), FileCount: fileCount, TotalBytes: totalBytes}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(m.cfg.Dir, id, metaFileName), data, 0o644); err != nil {
		return "", fmt.Errorf("snapshot: write meta: %w", err)
	}

	m.logger.Info("snapshot captured", "snapshot_id", id, "label", label,
		"files", fileCount, "bytes", totalBytes)

	if err := m.evict(); err != nil {
		m.logger.Warn("snapshot eviction failed", "error", err)
	}
	return id, nil
}

// capture copies the working tree into dest, bounded by ctx and a worker
// limit. The snapshots directory itself is skipped when nested in WorkDir.
func (m *Manager) capture(ctx context.Context, dest string) (int, int64, error) {
	type job struct {
		rel  string
		mode fs.FileMode
	}
	var jobs []job

	snapAbs, _ := filepath.Abs(m.cfg.Dir)
	err := filepath.WalkDir(m.cfg.WorkDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if abs, aerr := filepath.Abs(path); aerr == nil && strings.HasPrefix(abs, snapAbs) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(m.cfg.WorkDir, path)
		if err != nil {
			return err
		}
		jobs = append(jobs, job{rel: rel, mode: info.Mode()})
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("snapshot: walk %s: %w", m.cfg.WorkDir, err)
	}

	var total int64
	var totalMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(captureConcurrency)
	for _, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := copyFile(
				filepath.Join(m.cfg.WorkDir, j.rel),
				filepath.Join(dest, j.rel),
				j.mode,
			)
			if err != nil {
				return err
			}
			totalMu.Lock()
			total += n
			totalMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, fmt.Errorf("snapshot: capture: %w", err)
	}
	return len(jobs), total, nil
}

// Rollback restores the snapshot's files into the working tree. Files created
// after the snapshot are left in place; only captured paths are rewritten.
func (m *Manager) Rollback(ctx context.Context, snapshotID string) error {
	src := filepath.Join(m.cfg.Dir, snapshotID, filesDirName)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("snapshot: unknown snapshot %s", snapshotID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(captureConcurrency)
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			_, err = copyFile(path, filepath.Join(m.cfg.WorkDir, rel), info.Mode())
			return err
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapshot: walk %s: %w", src, err)
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("snapshot: rollback: %w", err)
	}

	m.logger.Info("snapshot restored", "snapshot_id", snapshotID)
	return nil
}

// List returns stored snapshots, oldest first.
func (m *Manager) List() ([]Meta, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, err
	}
	var out []Meta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.cfg.Dir, e.Name(), metaFileName))
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// evict removes oldest snapshots until the total size fits the cap.
func (m *Manager) evict() error {
	metas, err := m.List()
	if err != nil {
		return err
	}
	var total int64
	for _, meta := range metas {
		total += meta.TotalBytes
	}
	for _, meta := range metas {
		if total <= m.cfg.MaxTotalBytes {
			break
		}
		if err := os.RemoveAll(filepath.Join(m.cfg.Dir, meta.ID)); err != nil {
			return err
		}
		total -= meta.TotalBytes
		m.logger.Info("snapshot evicted", "snapshot_id", meta.ID, "bytes", meta.TotalBytes)
	}
	return nil
}

// RecordOperation notes a state-changing action. The first file-modifying
// operation of a turn triggers the auto snapshot when enabled.
func (m *Manager) RecordOperation(ctx context.Context, kind, path string) {
	m.mu.Lock()
	m.ops = append(m.ops, Operation{Kind: kind, Path: path, At: time.Now()})
	needSnapshot := m.cfg.AutoSnapshot && fileModifyingKinds[kind] && !m.turnSnapshotted
	if needSnapshot {
		m.turnSnapshotted = true
	}
	m.mu.Unlock()

	if needSnapshot {
		if _, err := m.Snapshot(ctx, "auto before "+kind); err != nil {
			m.logger.Warn("auto snapshot failed", "kind", kind, "error", err)
		}
	}
}

// RecordToolResult feeds the failure trigger. critical immediately proposes a
// rollback; otherwise the consecutive-failure limit applies.
func (m *Manager) RecordToolResult(sessionID string, success, critical bool) {
	m.mu.Lock()
	if success {
		m.consecutiveFailures = 0
		m.mu.Unlock()
		return
	}
	m.consecutiveFailures++
	trigger := (critical || m.consecutiveFailures >= m.cfg.FailureLimit) && !m.proposalSent
	if trigger {
		m.proposalSent = true
	}
	failures := m.consecutiveFailures
	m.mu.Unlock()

	if trigger {
		m.proposeRollback(sessionID, failures, critical)
	}
}

// proposeRollback surfaces the newest snapshot as a rollback choice. The
// decision stays with the orchestrator or the user.
func (m *Manager) proposeRollback(sessionID string, failures int, critical bool) {
	metas, err := m.List()
	if err != nil || len(metas) == 0 {
		m.logger.Warn("rollback proposed but no snapshot available",
			"failures", failures, "critical", critical)
		return
	}
	latest := metas[len(metas)-1]

	m.logger.Warn("proposing rollback", "snapshot_id", latest.ID,
		"failures", failures, "critical", critical)
	if m.broadcaster != nil {
		m.broadcaster.Custom(sessionID, "rollback_proposal", map[string]any{
			"snapshot_id":          latest.ID,
			"snapshot_label":       latest.Label,
			"consecutive_failures": failures,
			"critical":             critical,
		})
	}
}

// CheckPreTask resets per-turn state. Call at turn start.
func (m *Manager) CheckPreTask() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = m.ops[:0]
	m.turnSnapshotted = false
	m.consecutiveFailures = 0
	m.proposalSent = false
}

// CheckPostTask verifies the turn's recorded operations. With integrity on,
// written paths must still exist.
func (m *Manager) CheckPostTask(integrity bool) []string {
	m.mu.Lock()
	ops := make([]Operation, len(m.ops))
	copy(ops, m.ops)
	m.mu.Unlock()

	if !integrity {
		return nil
	}
	var problems []string
	for _, op := range ops {
		if op.Path == "" || op.Kind == "file_delete" || op.Kind == "dir_delete" {
			continue
		}
		if _, err := os.Stat(op.Path); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s missing after turn", op.Kind, op.Path))
		}
	}
	return problems
}

// Operations returns the turn's recorded operations.
func (m *Manager) Operations() []Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Operation, len(m.ops))
	copy(out, m.ops)
	return out
}

func copyFile(src, dst string, mode fs.FileMode) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
