/*
Package handler provides HTTP handler functions for the gate's admin port.
*/
package handler

import (
	"net/http"
	"time"

	"sogsgate/internal/pkg/errs"
	"sogsgate/internal/pkg/resp"
)

// HandleRoomStats reports per-room trust counters and the state of the last
// snapshot flush.
func HandleRoomStats(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lastFlush, lastErr := deps.Persist.Stats()

		flushInfo := map[string]any{
			"lastFlush": "",
			"lastError": "",
		}
		if !lastFlush.IsZero() {
			flushInfo["lastFlush"] = lastFlush.Format(time.RFC3339)
		}
		if lastErr != nil {
			flushInfo["lastError"] = lastErr.Error()
		}

		data := map[string]any{
			"rooms":       deps.Registry.Stats(),
			"persistence": flushInfo,
		}
		resp.RespondSuccess(w, r, data)
	}
}

// HandleFlush forces an immediate snapshot write, bypassing the debounce.
func HandleFlush(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Persist.Flush(); err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrSnapshotSave))
			return
		}

		resp.RespondSuccess(w, r, map[string]string{"flushed": "true"})
	}
}
