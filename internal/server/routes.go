package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapmagictest/snapmagic/internal/common"
)

// handleShutdown handles POST /admin/api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.config.IsProduction() {
		WriteError(w, http.StatusForbidden, "shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}

// registerRoutes sets up the routes named in spec.md §6 plus the
// supplemented admin surface from SPEC_FULL.md.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	auth := sessionAuthMiddleware(s.config)
	admin := func(h http.Handler) http.Handler { return auth(adminMiddleware(h)) }

	// System — unauthenticated
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/debug/memstats", s.handleMemstats)
	mux.HandleFunc("/admin/api/shutdown", s.handleShutdown)

	// Dev-mode artifact delivery for the local-disk FileBlobStore. A real
	// S3 backend's PresignGet points straight at the object store and never
	// reaches this route; handleBlobGet no-ops with 404 in that case.
	mux.HandleFunc("/blobs/", s.handleBlobGet)

	// Auth
	mux.HandleFunc("/login", s.handleLogin)

	// Client-facing, session-authenticated
	mux.Handle("/submit", auth(http.HandlerFunc(s.handleSubmit)))
	mux.Handle("/status/", auth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("/gallery", auth(http.HandlerFunc(s.handleGallery)))

	// Operator-only admin surface — never exposed to end users.
	mux.Handle("/admin/api/deadletter", admin(http.HandlerFunc(s.handleAdminDeadLetter)))
	mux.Handle("/admin/api/sessions/", admin(http.HandlerFunc(s.handleAdminOverride)))
	mux.Handle("/admin/ws", admin(http.HandlerFunc(s.handleAdminWS)))
	mux.Handle("/admin/prometheus", admin(promhttp.Handler()))
}

// --- System handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

func (s *Server) handleMemstats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"heap_alloc_bytes": m.HeapAlloc,
		"heap_inuse_bytes": m.HeapInuse,
		"heap_idle_bytes":  m.HeapIdle,
		"sys_bytes":        m.Sys,
		"num_gc":           m.NumGC,
	})
}
