// Package api provides the HTTP surface for the Scholaris billing service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felixgeelhaar/scholaris/internal/integrity"
	"github.com/felixgeelhaar/scholaris/internal/ratelimit"
	"github.com/felixgeelhaar/scholaris/internal/reauth"
	"github.com/felixgeelhaar/scholaris/pkg/observability"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the billing API server.
type Server struct {
	router *chi.Mux
	server *http.Server
	logger *slog.Logger
	health *observability.HealthRegistry
}

// Limiters groups the three rate-limit tiers applied to the route groups.
type Limiters struct {
	Billing *ratelimit.Limiter
	Cards   *ratelimit.Limiter
	Webhook *ratelimit.Limiter
}

// NewServer creates a server with the full middleware chain: request id,
// logging, metrics, then per-group rate limiting, request integrity
// verification on mutating routes, and re-authentication on destructive
// ones.
func NewServer(
	cfg ServerConfig,
	billing *BillingHandler,
	webhooks *WebhookHandler,
	verifier *integrity.Verifier,
	signer *integrity.Signer,
	gate *reauth.Gate,
	limiters Limiters,
	health *observability.HealthRegistry,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router: chi.NewRouter(),
		logger: logger,
		health: health,
	}

	r := s.router
	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(requestLogger(logger))
	r.Use(metricsMiddleware)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	signing := responseSigning(signer)
	integrityCheck := requireIntegrity(verifier, logger)
	reauthCheck := requireReauth(gate, logger)

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimit(limiters.Billing, userIdentity))
			r.Use(signing)

			// Read-only endpoints skip inbound verification but still get
			// outbound signing.
			r.Get("/subscription", billing.GetSubscription)
			r.Get("/invoices", billing.ListInvoices)
			r.Get("/payment-methods", billing.ListPaymentMethods)

			r.Group(func(r chi.Router) {
				r.Use(integrityCheck)
				r.Post("/checkout", billing.CreateCheckout)
				r.Post("/subscription/reactivate", billing.ReactivateSubscription)
				r.Post("/reauth", billing.IssueReauthToken)
			})

			r.Group(func(r chi.Router) {
				r.Use(integrityCheck)
				r.Use(reauthCheck)
				r.Post("/subscription/cancel", billing.CancelSubscription)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(limiters.Cards, userIdentity))
			r.Use(signing)
			r.Use(integrityCheck)
			r.Use(reauthCheck)

			r.Post("/payment-methods", billing.AddPaymentMethod)
			r.Post("/payment-methods/{methodID}/default", billing.SetDefaultPaymentMethod)
			r.Delete("/payment-methods/{methodID}", billing.DeletePaymentMethod)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(limiters.Webhook, sourceIPIdentity))
		r.Post("/webhooks/stripe", webhooks.HandleStripe)
	})

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	report := s.health.GetOverallHealth(r.Context())
	status := http.StatusOK
	if report.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting billing API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down billing API server")
	return s.server.Shutdown(ctx)
}
