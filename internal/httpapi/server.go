// Package httpapi is the bot's HTTP control plane: status and stats
// endpoints, plugin reload, store health probes and the Prometheus
// metrics surface.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hermesbot/hermes/internal/config"
	"github.com/hermesbot/hermes/internal/connection"
	"github.com/hermesbot/hermes/internal/plugin"
	"github.com/hermesbot/hermes/internal/sched"
)

// Pinger is the store health slice; nil when no store is configured.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the control plane's collaborators.
type Deps struct {
	Config    *config.Config
	Conn      *connection.Supervisor
	Registry  *plugin.Registry
	Sched     *sched.Scheduler
	Store     Pinger
	StartedAt time.Time
	LoadCtx   func() *plugin.LoadContext
}

// Server is the HTTP control plane.
type Server struct {
	d        Deps
	logger   *log.Logger
	limiter  *ipLimiter
	shutdown atomic.Bool
	srv      *http.Server
}

// New builds the control plane server.
func New(d Deps) *Server {
	s := &Server{
		d:       d,
		logger:  log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
		limiter: newIPLimiter(ipLimitMax, ipLimitWindow),
	}

	r := mux.NewRouter()
	r.Use(s.securityHeaders)
	r.Use(s.shutdownGuard)
	r.Use(s.limiter.middleware)

	r.HandleFunc("/", s.handleSummary).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/bot-info", s.handleBotInfo).Methods("GET")
	r.HandleFunc("/api/mongodb-health", s.handleStoreHealth).Methods("GET")
	r.HandleFunc("/api/connection-stats", s.handleConnStats).Methods("GET")
	r.HandleFunc("/api/test-mongodb", s.handleStoreTest).Methods("POST")
	r.HandleFunc("/api/force-gc", s.handleForceGC).Methods("POST")
	r.HandleFunc("/plugins", s.handlePlugins).Methods("GET")
	r.HandleFunc("/plugins/stats", s.handlePluginStats).Methods("GET")
	r.HandleFunc("/plugins/reload-all", s.handleReloadAll).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", d.Config.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start blocks serving HTTP until shutdown.
func (s *Server) Start() error {
	s.logger.Printf("🚀 Control plane listening on %s", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// BeginShutdown flips the 503 flag and stops the listener.
func (s *Server) BeginShutdown(ctx context.Context) error {
	s.shutdown.Store(true)
	return s.srv.Shutdown(ctx)
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) shutdownGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.shutdown.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "shutting down"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    s.d.Config.BotName,
		"mode":    s.d.Config.Mode,
		"state":   s.d.Conn.State(),
		"uptime":  time.Since(s.d.StartedAt).String(),
		"plugins": s.d.Registry.Len(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBotInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      s.d.Config.BotName,
		"prefix":    s.d.Config.Prefix,
		"mode":      s.d.Config.Mode,
		"timezone":  s.d.Config.Timezone,
		"userId":    s.d.Conn.Client().UserID(),
		"startedAt": s.d.StartedAt,
		"jobs":      s.d.Sched.List(),
	})
}

func (s *Server) handleStoreHealth(w http.ResponseWriter, r *http.Request) {
	if s.d.Store == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unconfigured"})
		return
	}
	if err := s.d.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unreachable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStoreTest(w http.ResponseWriter, r *http.Request) {
	if s.d.Store == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "store not configured"})
		return
	}
	start := time.Now()
	if err := s.d.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"latencyMs": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleConnStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":         s.d.Conn.State(),
		"attempts":      s.d.Conn.Attempts(),
		"connectedAt":   s.d.Conn.ConnectedAt(),
		"lastAttempt":   s.d.Conn.LastAttempt(),
		"retryCacheLen": s.d.Conn.RetryCacheLen(),
	})
}

func (s *Server) handleForceGC(w http.ResponseWriter, r *http.Request) {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	runtime.GC()
	runtime.ReadMemStats(&after)
	writeJSON(w, http.StatusOK, map[string]any{
		"heapBeforeMB": before.Alloc / (1 << 20),
		"heapAfterMB":  after.Alloc / (1 << 20),
	})
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	type pluginInfo struct {
		Name     string   `json:"name"`
		Version  string   `json:"version"`
		Category string   `json:"category"`
		Commands []string `json:"commands"`
		Aliases  []string `json:"aliases,omitempty"`
	}
	var out []pluginInfo
	for _, e := range s.d.Registry.Entries() {
		out = append(out, pluginInfo{
			Name:     e.Desc.Name,
			Version:  e.Desc.Version,
			Category: e.Desc.Category,
			Commands: e.Desc.Commands,
			Aliases:  e.Desc.Aliases,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": out})
}

func (s *Server) handlePluginStats(w http.ResponseWriter, r *http.Request) {
	var out []plugin.View
	for _, e := range s.d.Registry.Entries() {
		out = append(out, e.StatsView())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":     out,
		"unhealthy": s.d.Registry.Unhealthy(),
	})
}

func (s *Server) handleReloadAll(w http.ResponseWriter, r *http.Request) {
	var lctx *plugin.LoadContext
	if s.d.LoadCtx != nil {
		lctx = s.d.LoadCtx()
	}
	if err := s.d.Registry.ReloadAll(r.Context(), lctx); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "reloaded",
		"plugins": s.d.Registry.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
