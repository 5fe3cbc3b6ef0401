/*
Package state implements durable persistence for the gate's trust state.

This file defines the file backend, which keeps the snapshot as a single JSON
document. Writes go through a temporary file and an atomic rename so a crash
mid-write never leaves a truncated snapshot behind.
*/
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sogsgate/internal/app/trust"
)

// FileBackend persists the trust snapshot as a JSON file.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend writing to the given path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load reads the snapshot file. A missing or empty file yields an empty snapshot.
func (b *FileBackend) Load(ctx context.Context) (*trust.Snapshot, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return trust.NewSnapshot(), nil
		}
		return nil, fmt.Errorf("failed to read snapshot %q: %w", b.path, err)
	}

	if strings.TrimSpace(string(raw)) == "" {
		return trust.NewSnapshot(), nil
	}

	snap := trust.NewSnapshot()
	if err := json.Unmarshal(raw, snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %q: %w", b.path, err)
	}

	return snap, nil
}

// Save writes the snapshot atomically: marshal, write to a temporary file in
// the same directory, fsync, rename over the target.
func (b *FileBackend) Save(ctx context.Context, snap *trust.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot file: %w", err)
	}

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}

	if err := os.Rename(tmp.Name(), b.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace snapshot %q: %w", b.path, err)
	}

	return nil
}

// Close is a no-op for the file backend.
func (b *FileBackend) Close() {}
