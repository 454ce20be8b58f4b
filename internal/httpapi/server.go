// Package httpapi exposes the member, ledger, statistics and parameter
// operations over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/audit"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/commission"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/configstore"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/errs"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/ledger"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/logger"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/metrics"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/referral"
)

// Services are the domain services the API fronts.
type Services struct {
	Engine    *commission.Engine
	Lifecycle *commission.Lifecycle
	Ledger    *ledger.Ledger
	Graph     *referral.Graph
	Params    *configstore.Store
	Audit     *audit.Log
}

type Server struct {
	router *chi.Mux
	svc    Services
	log    *slog.Logger
	srv    *http.Server
}

func NewServer(addr string, svc Services, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		router: chi.NewRouter(),
		svc:    svc,
		log:    log,
	}
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.Middleware)

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(adminActor)

		r.Route("/members", func(r chi.Router) {
			r.Post("/", s.handleCreateMember)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetMember)
				r.Post("/approve", s.handleApprove)
				r.Post("/reject", s.handleReject)
				r.Put("/commission-rate", s.handleSetCommissionRate)
				r.Get("/balance", s.handleBalance)
				r.Get("/reconcile", s.handleReconcile)
				r.Get("/transactions", s.handleTransactions)
				r.Post("/adjustments", s.handleAdjust)
				r.Post("/injections", s.handleInject)
				r.Get("/upline", s.handleUpline)
				r.Get("/downline", s.handleDownline)
				r.Get("/downline/grouped", s.handleDownlineGrouped)
			})
		})

		r.Get("/entries/{id}", s.handleGetEntry)
		r.Post("/entries/{id}/reverse", s.handleReverse)

		r.Get("/stats/distribution", s.handleDistributionStats)
		r.Get("/stats/status", s.handleStatusCounts)
		r.Get("/stats/totals", s.handleTotals)
		r.Get("/stats/audit", s.handleAudit)

		r.Get("/config", s.handleGetConfig)
		r.Put("/config/{key}", s.handleSetConfig)
		r.Post("/config/pause", s.handlePause(true))
		r.Post("/config/resume", s.handlePause(false))

		r.Get("/admin-actions", s.handleAdminActions)
	})
}

func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// adminHeader names the admin on whose behalf a request acts.
const adminHeader = "X-Admin-ID"

func adminActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(adminHeader); id != "" {
			r = r.WithContext(audit.WithActor(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps err onto a status code. The body carries the user
// message only; the full chain is logged for server faults.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeError(w, status, errs.UserMessage(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidArgument), errors.Is(err, errs.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrAlreadyDistributed),
		errors.Is(err, errs.ErrAlreadyReversed),
		errors.Is(err, errs.ErrAlreadyApproved),
		errors.Is(err, errs.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, errs.ErrSystemPaused), errors.Is(err, errs.ErrStorageConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeBody decodes a JSON request body into v and checks its validate tags.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}
