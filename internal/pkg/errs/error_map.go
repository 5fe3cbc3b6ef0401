/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
admin API responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: Configuration Errors
	ErrInvalidConfig:      {Code: ErrInvalidConfig, Message: "Invalid configuration: %s."},
	ErrRoomsConfigInvalid: {Code: ErrRoomsConfigInvalid, Message: "Invalid rooms configuration: %s."},

	// 2xxx: Room and Event Errors
	ErrUnknownRoom:     {Code: ErrUnknownRoom, Message: "Room is not configured.", Status: http.StatusNotFound},
	ErrMissingIdentity: {Code: ErrMissingIdentity, Message: "Room has no signing identity."},

	// 3xxx: Admin API Errors
	ErrUnauthorized:  {Code: ErrUnauthorized, Message: "Missing or invalid admin token.", Status: http.StatusUnauthorized},
	ErrInvalidParams: {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},

	// 4xxx: Host Round-Trip Errors
	ErrRoundTripTimeout: {Code: ErrRoundTripTimeout, Message: "Host did not respond in time."},
	ErrUploadFailed:     {Code: ErrUploadFailed, Message: "Puzzle image upload failed."},
	ErrSendFailed:       {Code: ErrSendFailed, Message: "Message send failed."},
	ErrHostDisconnected: {Code: ErrHostDisconnected, Message: "Host session is closed.", Status: http.StatusServiceUnavailable},

	// 5xxx: Persistence and Internal System Errors
	ErrSnapshotSave: {Code: ErrSnapshotSave, Message: "Failed to write trust-state snapshot.", Status: http.StatusInternalServerError},
	ErrSnapshotLoad: {Code: ErrSnapshotLoad, Message: "Failed to read trust-state snapshot."},
	ErrUnknown:      {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
