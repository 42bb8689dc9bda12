// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"tgwarden/internal/web"
)

func (e *engine) initRoutes() {
	e.mux = http.NewServeMux()

	// Hosting platforms port-check this.
	e.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Bot is running!")
	})

	health := web.Health(e.mux)
	health.RegisterFunc("telegram", e.pollerHealth)

	e.mux.HandleFunc("GET /debug/users", e.debugAuth(e.serveUsers))
	e.mux.HandleFunc("GET /debug/log", e.debugAuth(e.logStream.ServeHTTP))
}

func (e *engine) pollerHealth() (status string, ok bool) {
	e.poller.ReadAccess(func(p *pollerState) {
		switch {
		case p.lastErr != nil:
			status, ok = fmt.Sprintf("last poll failed: %v", p.lastErr), false
		case p.lastSuccess.IsZero():
			status, ok = "no successful polls yet", false
		default:
			status, ok = fmt.Sprintf("last successful poll at %s", p.lastSuccess.Format(time.RFC3339)), true
		}
	})
	return status, ok
}

// debugAuth protects debug endpoints with a bearer token. With no DEBUG_TOKEN
// configured the endpoints are disabled entirely.
func (e *engine) debugAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if e.debugToken == "" {
			web.RespondError(e.logf, w, web.ErrNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+e.debugToken {
			web.RespondError(e.logf, w, web.ErrUnauthorized)
			return
		}
		next(w, r)
	}
}

func (e *engine) serveUsers(w http.ResponseWriter, r *http.Request) {
	data, err := e.store.JSON()
	if err != nil {
		web.RespondJSONError(e.logf, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(data)
}
