// Package gateway is the HTTP surface over the core operations. Session
// validation is external: requests arrive with an X-User-ID header injected
// by the auth layer in front of this process, and the gateway only scopes
// data to that user.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dohr-michael/dayflow/internal/core"
	"github.com/dohr-michael/dayflow/internal/fault"
)

// Server is the dayflow gateway HTTP server.
type Server struct {
	httpServer *http.Server
	app        *core.App
	host       string
	port       int
}

// NewServer creates the gateway server and its routes.
func NewServer(app *core.App, host string, port int) *Server {
	s := &Server{app: app, host: host, port: port}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Post("/api/ingest/{source}", s.handleIngest)

		r.Get("/api/plans", s.handleGetPlan)
		r.Post("/api/plans", s.handleGeneratePlan)
		r.Patch("/api/plans/{id}/status", s.handlePlanStatus)

		r.Get("/api/tasks", s.handleListTasks)
		r.Patch("/api/tasks/{id}/flags", s.handleTaskFlags)
		r.Post("/api/tasks/{id}/resolve", s.handleResolve)

		r.Get("/api/notifications", s.handleListNotifications)
		r.Post("/api/notifications/{id}/dismiss", s.handleDismiss)
		r.Post("/api/feedback", s.handleFeedback)
		r.Get("/api/feedback/summary", s.handleFeedbackSummary)

		r.Post("/api/sync", s.handleSync)
		r.Get("/api/sync/status", s.handleSyncStatus)

		r.Put("/api/energy", s.handleEnergy)

		r.Get("/api/reminders", s.handleListReminders)
		r.Post("/api/reminders/{id}/promote", s.handlePromote)
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("gateway: listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

type ctxKey string

const userKey ctxKey = "user"

// requireUser rejects requests without the identity header the outer auth
// layer is responsible for setting.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-User-ID")
		if user == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(userKey).(string)
	return user
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFault maps the error kind to an HTTP status.
func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.InvalidRequest:
		status = http.StatusBadRequest
	case fault.AuthRequired:
		status = http.StatusUnauthorized
	case fault.Busy, fault.Conflict:
		status = http.StatusConflict
	case fault.RateLimited:
		status = http.StatusTooManyRequests
	case fault.Transient:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(fault.KindOf(err)),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		fmt.Sscanf(q, "%d", &limit)
	}
	writeJSON(w, http.StatusOK, s.app.ListEvents(limit))
}
