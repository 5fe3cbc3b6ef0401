/*
Package trust contains the in-memory trust state for all rooms.

This file defines the Store, a registry of per-room partitions, and the Partition,
which owns one room's verified-user set and pending-challenge map. Partitions are
created lazily, mutated only by the admission gate, and never destroyed; they are
loaded from a snapshot at startup and written back by the persistence manager.
*/
package trust

import (
	"sync"
	"time"
)

// PendingTTL is the age past which a pending challenge is considered stale and
// re-issued on the next visibility trigger. Post attempts still honor a stale
// record's answer.
const PendingTTL = 30 * 24 * time.Hour

// Record holds one user's pending-challenge state, keyed in the partition by the
// user's pseudonymous room handle. A Record with an empty Answer marks a user the
// gate has seen and soft-verified (no puzzle required for the room).
type Record struct {
	// Answer is the expected puzzle answer, compared case-insensitively.
	Answer string `json:"answer,omitempty"`

	// IssuedAt is when the challenge was issued, in Unix milliseconds.
	IssuedAt int64 `json:"issuedAt,omitempty"`

	// MessageID identifies the outstanding challenge message so it can be retracted.
	MessageID int64 `json:"messageId,omitempty"`
}

// Stale reports whether the record holds a challenge answer issued more than
// PendingTTL before now. Records without an answer never go stale.
func (r Record) Stale(now time.Time) bool {
	if r.Answer == "" || r.IssuedAt == 0 {
		return false
	}
	issued := time.UnixMilli(r.IssuedAt)
	return now.Sub(issued) > PendingTTL
}

// Partition owns the trust state of a single room: the monotonic set of verified
// user identifiers and the map of pending challenges by user handle.
// All operations are synchronous and total.
type Partition struct {
	mu       sync.RWMutex
	verified map[int64]struct{}
	pending  map[string]Record
}

// NewPartition returns an empty Partition.
func NewPartition() *Partition {
	return &Partition{
		verified: make(map[int64]struct{}),
		pending:  make(map[string]Record),
	}
}

// IsVerified reports whether the given user identifier is trusted in this room.
func (p *Partition) IsVerified(userID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.verified[userID]
	return ok
}

// MarkVerified adds the user identifier to the verified set. Idempotent;
// entries are never removed.
func (p *Partition) MarkVerified(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.verified[userID] = struct{}{}
}

// Pending returns the pending-challenge record for the given user handle,
// and whether one exists.
func (p *Partition) Pending(handle string) (Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.pending[handle]
	return rec, ok
}

// SetPending stores the pending-challenge record for the given user handle,
// superseding any previous record.
func (p *Partition) SetPending(handle string, rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending[handle] = rec
}

// Counts returns the number of verified users and pending records in this room.
func (p *Partition) Counts() (verified, pending int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.verified), len(p.pending)
}

// Store is the registry of all per-room trust partitions.
type Store struct {
	mu         sync.RWMutex
	partitions map[string]*Partition
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		partitions: make(map[string]*Partition),
	}
}

// Partition returns the partition for the given room token, creating it if absent.
func (s *Store) Partition(roomToken string) *Partition {
	s.mu.RLock()
	p, ok := s.partitions[roomToken]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		p, ok = s.partitions[roomToken]
		if !ok {
			p = NewPartition()
			s.partitions[roomToken] = p
		}
		s.mu.Unlock()
	}

	return p
}
