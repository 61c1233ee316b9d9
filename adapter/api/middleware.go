package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/felixgeelhaar/scholaris/internal/integrity"
	"github.com/felixgeelhaar/scholaris/internal/ratelimit"
	"github.com/felixgeelhaar/scholaris/internal/reauth"
	"github.com/felixgeelhaar/scholaris/pkg/observability"
)

// Security-relevant request headers.
const (
	headerRequestID      = "X-Request-Id"
	headerUserID         = "X-User-Id"
	headerTxnTimestamp   = "X-Transaction-Timestamp"
	headerTxnNonce       = "X-Transaction-Nonce"
	headerTxnSignature   = "X-Transaction-Signature"
	headerReauthPassword = "X-Reauth-Password"
	headerReauthToken    = "X-Reauth-Token"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scholaris_http_requests_total",
			Help: "Total HTTP requests received.",
		},
		[]string{"method", "path", "code"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scholaris_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "code"},
	)
	securityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scholaris_security_rejections_total",
			Help: "Requests rejected by a security layer before business logic.",
		},
		[]string{"layer", "reason"},
	)
)

// requestID assigns or propagates the request id and places it in the
// logging context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := observability.WithRequestID(r.Context(), id)
		if userID := r.Header.Get(headerUserID); userID != "" {
			ctx = observability.WithUserID(ctx, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.LogAttrs(r.Context(), slog.LevelInfo, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

// metricsMiddleware records request counts and latency per route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		code := strconv.Itoa(ww.Status())
		httpRequestsTotal.WithLabelValues(r.Method, pattern, code).Inc()
		httpRequestDuration.WithLabelValues(r.Method, pattern, code).Observe(time.Since(start).Seconds())
	})
}

// identityFunc extracts the rate-limit identity from a request.
type identityFunc func(r *http.Request) string

// userIdentity keys quotas on the authenticated user, falling back to the
// source address for unauthenticated probes.
func userIdentity(r *http.Request) string {
	if userID := r.Header.Get(headerUserID); userID != "" {
		return userID
	}
	return r.RemoteAddr
}

// sourceIPIdentity keys quotas on the source address; webhook deliveries
// carry no user identity.
func sourceIPIdentity(r *http.Request) string {
	return r.RemoteAddr
}

// rateLimit enforces a tier's budget. The counter increments before the
// business handler runs, so failed attempts still consume quota. Quota
// state rides on RateLimit-* headers for both allowed and rejected
// requests.
func rateLimit(limiter *ratelimit.Limiter, identity identityFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := limiter.Allow(r.Context(), identity(r))
			if err != nil && !errors.Is(err, ratelimit.ErrLimited) {
				writeError(w, r, err)
				return
			}

			resetSeconds := int64(decision.Reset.Seconds() + 0.5)
			w.Header().Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("RateLimit-Reset", strconv.FormatInt(resetSeconds, 10))

			if errors.Is(err, ratelimit.ErrLimited) {
				securityRejections.WithLabelValues("rate-limit", "exceeded").Inc()
				w.Header().Set("Retry-After", strconv.FormatInt(resetSeconds, 10))
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireIntegrity verifies the request signature over the exact raw body
// bytes before the handler sees the request. The body is re-buffered for
// downstream reads.
func requireIntegrity(verifier *integrity.Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := bufferBody(r)
			if err != nil {
				writeError(w, r, err)
				return
			}

			sig := integrity.RequestSignature{
				Timestamp: r.Header.Get(headerTxnTimestamp),
				Nonce:     r.Header.Get(headerTxnNonce),
				Signature: r.Header.Get(headerTxnSignature),
			}
			if err := verifier.Verify(r.Context(), r.Method, r.URL.Path, sig, body); err != nil {
				securityRejections.WithLabelValues("integrity", reasonFor(err)).Inc()
				observability.SecurityEvent(logger, "request-integrity").WarnContext(r.Context(),
					"request integrity rejected",
					"method", r.Method,
					"path", r.URL.Path,
					"reason", reasonFor(err),
				)
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireReauth gates destructive operations on fresh proof of the
// password, independent of the session. Proof is either the password
// itself or a previously issued single-use token.
func requireReauth(gate *reauth.Gate, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := uuid.Parse(r.Header.Get(headerUserID))
			if err != nil {
				writeError(w, r, reauth.ErrRequired)
				return
			}
			proof := reauth.Proof{
				Password: r.Header.Get(headerReauthPassword),
				Token:    r.Header.Get(headerReauthToken),
			}
			if err := gate.Authorize(r.Context(), userID, proof); err != nil {
				securityRejections.WithLabelValues("reauth", reasonFor(err)).Inc()
				observability.SecurityEvent(logger, "reauth").WarnContext(r.Context(),
					"re-authentication rejected",
					"path", r.URL.Path,
					"reason", reasonFor(err),
				)
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, integrity.ErrMissingFields):
		return "missing-fields"
	case errors.Is(err, integrity.ErrStaleTimestamp):
		return "stale-timestamp"
	case errors.Is(err, integrity.ErrSignatureMismatch):
		return "signature-mismatch"
	case errors.Is(err, integrity.ErrNonceReused):
		return "nonce-reused"
	case errors.Is(err, reauth.ErrRequired):
		return "required"
	case errors.Is(err, reauth.ErrInvalid):
		return "invalid"
	case errors.Is(err, reauth.ErrExpired):
		return "expired"
	default:
		return "other"
	}
}
