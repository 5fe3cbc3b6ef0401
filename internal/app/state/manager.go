/*
Package state implements durable persistence for the gate's trust state.

This file defines the Manager, which debounces snapshot writes into a rolling
window: the first change in a window flushes immediately, later changes within
the window coalesce into one trailing flush when the window ends. Close always
flushes, bypassing the debounce, so shutdown never loses trust state.
*/
package state

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"sogsgate/internal/app/trust"
	"sogsgate/internal/pkg/errs"
	"sogsgate/internal/pkg/logx"
)

const (
	// FlushWindow is the rolling debounce window for snapshot writes.
	FlushWindow = 5 * time.Second

	// saveTimeout bounds a single backend write.
	saveTimeout = 10 * time.Second
)

// Source produces the current trust snapshot on demand.
type Source interface {
	Snapshot() *trust.Snapshot
}

// Manager coordinates debounced snapshot writes against a Backend.
type Manager struct {
	backend Backend
	source  Source

	// limiter implements the rolling window: one immediate flush per window.
	limiter *rate.Limiter

	mu     sync.Mutex
	dirty  bool
	timer  *time.Timer
	closed bool

	// lastFlush and lastErr describe the most recent flush attempt, for the admin API.
	lastFlush time.Time
	lastErr   error

	logger zerolog.Logger
}

// NewManager constructs a Manager writing to the given backend.
func NewManager(backend Backend, source Source) *Manager {
	return &Manager{
		backend: backend,
		source:  source,
		limiter: rate.NewLimiter(rate.Every(FlushWindow), 1),
		logger:  logx.Component("PersistenceManager"),
	}
}

// NoteChange records that trust state changed. If no flush happened within the
// current window the snapshot is written immediately; otherwise the change is
// coalesced into a trailing flush at the end of the window.
func (m *Manager) NoteChange() {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return
	}

	if m.limiter.Allow() {
		m.dirty = false
		m.mu.Unlock()
		m.flush()
		return
	}

	m.dirty = true
	if m.timer == nil {
		m.timer = time.AfterFunc(FlushWindow, m.trailingFlush)
	}
	m.mu.Unlock()
}

// trailingFlush runs at the end of a debounce window and writes the snapshot
// if changes were coalesced during the window.
func (m *Manager) trailingFlush() {
	m.mu.Lock()
	m.timer = nil

	if m.closed || !m.dirty {
		m.mu.Unlock()
		return
	}

	m.dirty = false
	m.mu.Unlock()

	m.flush()
}

// Flush writes the snapshot now, bypassing the debounce. Used by the admin API
// and at shutdown.
func (m *Manager) Flush() error {
	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()

	return m.flush()
}

// flush performs one backend write and records its outcome.
func (m *Manager) flush() error {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	err := m.backend.Save(ctx, m.source.Snapshot())

	m.mu.Lock()
	m.lastFlush = time.Now()
	m.lastErr = err
	m.mu.Unlock()

	if err != nil {
		// A failed write risks losing trust state; surface it, but never let it
		// take down event handling for unrelated rooms.
		m.logger.Error().Err(err).Msg(errs.NewError(errs.ErrSnapshotSave).Message)
		return err
	}

	m.logger.Debug().Msg("Trust-state snapshot written")
	return nil
}

// Close stops the debounce timer and writes a final snapshot unconditionally.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.dirty = false
	m.mu.Unlock()

	return m.flush()
}

// Stats reports the time and outcome of the most recent flush attempt.
func (m *Manager) Stats() (lastFlush time.Time, lastErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastFlush, m.lastErr
}
