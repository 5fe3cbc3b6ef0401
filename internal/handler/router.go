/*
Package handler provides the HTTP handlers and routing setup for the gate's admin port.

This file defines the main Router, applying logging, panic recovery, and static
bearer-token authentication before delegating to the admin handlers. The admin
port is an operator surface: it exposes health, per-room trust counters, and a
forced snapshot flush, and is the place where persistence failures become visible.
*/
package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sogsgate/internal/app/gate"
	"sogsgate/internal/app/state"
	"sogsgate/internal/configs"
	"sogsgate/internal/pkg/errs"
	"sogsgate/internal/pkg/logx"
	"sogsgate/internal/pkg/resp"
)

// AppDeps bundles the collaborators the admin handlers need.
type AppDeps struct {
	Registry *gate.Registry
	Persist  *state.Manager
	Config   *configs.AppConfig
}

// Router sets up the admin HTTP routing table (chi.Router).
func Router(deps *AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]string{
			"status":  "ok",
			"service": "SOGS Gate",
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(bearerAuth(deps.Config.AdminToken))

		api.Get("/rooms", HandleRoomStats(deps))
		api.Post("/flush", HandleFlush(deps))
	})

	return r
}

// bearerAuth rejects requests whose Authorization header does not carry the
// configured admin token. Comparison is constant-time.
func bearerAuth(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
