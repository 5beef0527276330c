// Package storage owns the per-instance on-disk layout and the SQLite store
// for conversations, messages, and heartbeats.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths resolves the fixed directory layout of one instance.
type Paths struct {
	Root string
}

// NewPaths anchors an instance layout at dataDir/instances/<instanceID>.
func NewPaths(dataDir, instanceID string) Paths {
	return Paths{Root: filepath.Join(dataDir, "instances", instanceID)}
}

func (p Paths) DBDir() string        { return filepath.Join(p.Root, "db") }
func (p Paths) DBFile() string       { return filepath.Join(p.DBDir(), "instance.db") }
func (p Paths) MemoryDir() string    { return filepath.Join(p.Root, "memory") }
func (p Paths) StoreDir() string     { return filepath.Join(p.Root, "store") }
func (p Paths) ToolResults() string  { return filepath.Join(p.Root, "storage", "tool_results") }
func (p Paths) PlaybooksDir() string { return filepath.Join(p.Root, "playbooks") }
func (p Paths) SnapshotsDir() string { return filepath.Join(p.Root, "snapshots") }

// Ensure creates every directory of the layout.
func (p Paths) Ensure() error {
	dirs := []string{
		p.DBDir(), p.MemoryDir(), p.StoreDir(),
		p.ToolResults(), p.PlaybooksDir(), p.SnapshotsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
