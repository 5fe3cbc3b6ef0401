/*
Package trust contains the in-memory trust state for all rooms.

This file defines the Snapshot, the durable representation of all rooms' trust
state, and the load/dump contract between the Store and the persistence backends.
The Sessions field carries each room's identity seed so that a room's signing
identity survives restarts; it is filled in by the gate registry, not the Store.
*/
package trust

import "slices"

// Snapshot is the serializable trust-state document.
type Snapshot struct {
	// Verified maps room token to the list of verified user identifiers.
	Verified map[string][]int64 `json:"verified,omitempty"`

	// Sessions maps room token to the room identity's hex-encoded seed.
	Sessions map[string]string `json:"sessions,omitempty"`

	// Rooms maps room token to that room's pending records by user handle.
	Rooms map[string]map[string]Record `json:"rooms,omitempty"`
}

// NewSnapshot returns an empty Snapshot with all maps allocated.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Verified: make(map[string][]int64),
		Sessions: make(map[string]string),
		Rooms:    make(map[string]map[string]Record),
	}
}

// Load replaces the Store's partitions with the contents of the snapshot.
// Unknown room tokens are loaded as-is; the gate simply never consults them
// if the room has been removed from the configuration.
func (s *Store) Load(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partitions = make(map[string]*Partition)

	if snap == nil {
		return
	}

	for token, ids := range snap.Verified {
		p := s.loadPartition(token)
		for _, id := range ids {
			p.verified[id] = struct{}{}
		}
	}

	for token, records := range snap.Rooms {
		p := s.loadPartition(token)
		for handle, rec := range records {
			p.pending[handle] = rec
		}
	}
}

// loadPartition returns the partition for token, creating it if absent.
// Callers must hold s.mu.
func (s *Store) loadPartition(token string) *Partition {
	p, ok := s.partitions[token]
	if !ok {
		p = NewPartition()
		s.partitions[token] = p
	}
	return p
}

// Dump writes the Store's verified sets and pending maps into the snapshot,
// replacing its Verified and Rooms fields. The Sessions field is left untouched.
func (s *Store) Dump(snap *Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap.Verified = make(map[string][]int64, len(s.partitions))
	snap.Rooms = make(map[string]map[string]Record, len(s.partitions))

	for token, p := range s.partitions {
		p.mu.RLock()

		ids := make([]int64, 0, len(p.verified))
		for id := range p.verified {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		snap.Verified[token] = ids

		records := make(map[string]Record, len(p.pending))
		for handle, rec := range p.pending {
			records[handle] = rec
		}
		snap.Rooms[token] = records

		p.mu.RUnlock()
	}
}
