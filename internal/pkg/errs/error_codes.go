/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally
within the gate and on the admin API.
*/
package errs

// 1xxx: Configuration Errors (fatal at startup)
const (
	// ErrInvalidConfig indicates that an environment setting failed validation.
	ErrInvalidConfig = 1001

	// ErrRoomsConfigInvalid indicates that the rooms configuration file is malformed.
	ErrRoomsConfigInvalid = 1002
)

// 2xxx: Room and Event Errors
const (
	// ErrUnknownRoom indicates an event referenced a room token absent from the configuration.
	// Treated as a no-op by the gate; surfaced only on the admin API.
	ErrUnknownRoom = 2001

	// ErrMissingIdentity indicates a room context has no usable signing identity.
	ErrMissingIdentity = 2002
)

// 3xxx: Admin API Errors
const (
	// ErrUnauthorized indicates a missing or invalid admin bearer token.
	ErrUnauthorized = 3001

	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 3002
)

// 4xxx: Host Round-Trip Errors
const (
	// ErrRoundTripTimeout indicates a correlated host response did not arrive in time.
	ErrRoundTripTimeout = 4001

	// ErrUploadFailed indicates the puzzle image upload round-trip failed.
	ErrUploadFailed = 4002

	// ErrSendFailed indicates a message send round-trip failed.
	ErrSendFailed = 4003

	// ErrHostDisconnected indicates the host session is closed.
	ErrHostDisconnected = 4004
)

// 5xxx: Persistence and Internal System Errors
const (
	// ErrSnapshotSave indicates the trust-state snapshot could not be written.
	ErrSnapshotSave = 5001

	// ErrSnapshotLoad indicates the trust-state snapshot could not be read.
	ErrSnapshotLoad = 5002

	// ErrUnknown represents an unclassified, general internal error.
	ErrUnknown = 5000
)
