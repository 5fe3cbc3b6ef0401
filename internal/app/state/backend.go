/*
Package state implements durable persistence for the gate's trust state.

This file defines the Backend contract shared by the file and Postgres
implementations. A backend stores the whole trust snapshot; the choice of
backend is a deployment decision made once at startup.
*/
package state

import (
	"context"

	"sogsgate/internal/app/trust"
)

// Backend stores and retrieves trust snapshots.
type Backend interface {
	// Load reads the persisted snapshot. A backend with no prior state
	// returns an empty snapshot, not an error.
	Load(ctx context.Context) (*trust.Snapshot, error)

	// Save persists the snapshot, replacing the state of every room it names.
	// Rooms persisted earlier but absent from the snapshot are retained, since
	// trust state outlives a room's presence in the configuration.
	Save(ctx context.Context, snap *trust.Snapshot) error

	// Close releases the backend's resources.
	Close()
}
