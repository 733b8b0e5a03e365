package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docsense/docsense/internal/analyzer"
	"github.com/docsense/docsense/internal/billing"
	"github.com/docsense/docsense/internal/ledger"
	"github.com/docsense/docsense/internal/metrics"
	"github.com/docsense/docsense/internal/toolcatalog"
	"github.com/docsense/docsense/internal/userstore"
	"github.com/docsense/docsense/internal/version"
)

// Server exposes the REST endpoints for the docsense backend.
type Server struct {
	users     userstore.Store
	store     ledger.Store
	meter     *billing.Meter
	transfers *billing.TransferCoordinator
	engine    analyzer.Engine
	catalog   *toolcatalog.Catalog
	collector *metrics.Collector

	adminEmail   string
	defaultGrant int64
}

// Config wires the Server's collaborators.
type Config struct {
	Users        userstore.Store
	Ledger       ledger.Store
	Meter        *billing.Meter
	Transfers    *billing.TransferCoordinator
	Engine       analyzer.Engine
	Catalog      *toolcatalog.Catalog
	Collector    *metrics.Collector
	AdminEmail   string
	DefaultGrant int64
}

// New constructs a Server with the required dependencies.
func New(cfg Config) *Server {
	return &Server{
		users:        cfg.Users,
		store:        cfg.Ledger,
		meter:        cfg.Meter,
		transfers:    cfg.Transfers,
		engine:       cfg.Engine,
		catalog:      cfg.Catalog,
		collector:    cfg.Collector,
		adminEmail:   strings.TrimSpace(strings.ToLower(cfg.AdminEmail)),
		defaultGrant: cfg.DefaultGrant,
	}
}

// Handler builds the chi router for the full API surface.
func (s *Server) Handler() http.Handler {
	r := s.newBaseRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/tools", s.handleListTools)

		api.Group(func(private chi.Router) {
			private.Use(s.identityMiddleware)
			private.Post("/tools/{tool}/invoke", s.handleInvokeTool)
			private.Get("/credits/balance", s.handleBalance)
			private.Get("/credits/transactions", s.handleTransactions)
			private.Get("/usage/report", s.handleUsageReport)
			private.Get("/usage/audit", s.handleAuditTrail)
			private.Get("/account/actions", s.handleActions)

			private.Post("/teams", s.handleCreateTeam)
			private.Post("/teams/members", s.handleAddMember)
			private.Get("/teams/members", s.handleListMembers)
			private.Post("/credits/transfer", s.handleTransfer)

			private.Get("/admin/overview", s.handleAdminOverview)
		})
	})

	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.collector != nil {
		r.Use(s.requestMetrics)
	}
	return r
}

// requestMetrics feeds per-endpoint counters into the collector.
func (s *Server) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + " " + r.URL.Path
		s.collector.RecordRequestStart(endpoint)
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.collector.RecordRequestEnd(endpoint)
		s.collector.RecordRequest(endpoint, time.Since(start))
		if ww.Status() >= http.StatusInternalServerError {
			s.collector.RecordError(endpoint)
		}
	})
}

type contextKey string

const userContextKey contextKey = "docsense.user"

// identityMiddleware resolves the calling user from the X-User-Email header.
// Unknown callers are registered as clients with the default credit grant,
// mirroring registration-time account creation.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimSpace(strings.ToLower(r.Header.Get("X-User-Email")))
		if email == "" {
			s.respondError(w, http.StatusUnauthorized, errors.New("missing X-User-Email header"))
			return
		}
		role := userstore.RoleClient
		if s.adminEmail != "" && email == s.adminEmail {
			role = userstore.RoleOrgAdmin
		}
		user, err := s.users.EnsureUser(r.Context(), email, "", role)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

func userFromContext(ctx context.Context) *userstore.User {
	u, _ := ctx.Value(userContextKey).(*userstore.User)
	return u
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Info(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		s.respondError(w, http.StatusNotFound, errors.New("metrics disabled"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.collector.GetSnapshot())))
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"tools": s.catalog.List()})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondChargeError maps the billing error taxonomy onto HTTP statuses.
func (s *Server) respondChargeError(w http.ResponseWriter, err error) {
	var insufficient *billing.InsufficientCreditError
	switch {
	case errors.As(err, &insufficient):
		s.respondJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":     "insufficient credit",
			"required":  insufficient.Required,
			"remaining": insufficient.Remaining,
		})
	case errors.Is(err, billing.ErrUnknownTool):
		s.respondError(w, http.StatusNotFound, err)
	case errors.Is(err, billing.ErrInvalidSource):
		s.respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, billing.ErrUnauthorized):
		s.respondError(w, http.StatusForbidden, err)
	case errors.Is(err, userstore.ErrUserNotFound):
		s.respondError(w, http.StatusNotFound, err)
	case errors.Is(err, billing.ErrLedgerUnavailable):
		s.respondError(w, http.StatusBadGateway, errors.New("billing failed"))
	default:
		s.respondError(w, http.StatusInternalServerError, err)
	}
}
