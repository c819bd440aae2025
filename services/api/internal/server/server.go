package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v76"

	"stupify/internal/metrics"
	"stupify/internal/ratelimit"
	"stupify/internal/usertoken"
	"stupify/internal/util"
	"stupify/internal/validation"
	"stupify/pkg/billing"
	"stupify/pkg/companion"
	"stupify/pkg/usage"
	"stupify/services/api/internal/app"
)

const (
	maxJSONBodyBytes       = 1 << 20
	maxWebhookBodyBytes    = 1 << 20
	defaultMaxAudioBytes   = 25 << 20
	multipartMemoryBytes   = 8 << 20
	multipartOverheadBytes = 1 << 20
	rateWindow             = time.Minute
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Authenticator  usertoken.Authenticator
	Redis          *redis.Client
	Metrics        *metrics.Collector
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies

	ChatRateLimitPerMinute       int
	TranscribeRateLimitPerMinute int
	ShareRateLimitPerMinute      int
	TriggerRateLimitPerMinute    int
	MaxAudioBytes                int64
}

// Server exposes the HTTP API.
type Server struct {
	app       *app.App
	auth      usertoken.Authenticator
	metrics   *metrics.Collector
	validator *validation.Validator
	proxies   *util.TrustedProxies
	origins   []string
	router    chi.Router

	maxAudioBytes     int64
	chatLimiter       *ratelimit.SlidingWindowLimiter
	transcribeLimiter *ratelimit.SlidingWindowLimiter
	shareLimiter      *ratelimit.SlidingWindowLimiter
	triggerLimiter    *ratelimit.SlidingWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("authenticator required")
	}
	newLimiter := func(name string, limit, fallback int) (*ratelimit.SlidingWindowLimiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		limiter, err := ratelimit.NewSlidingWindowLimiter(cfg.Redis, "stupify:ratelimit:"+name, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	chatLimiter, err := newLimiter("chat", cfg.ChatRateLimitPerMinute, 20)
	if err != nil {
		return nil, err
	}
	transcribeLimiter, err := newLimiter("transcribe", cfg.TranscribeRateLimitPerMinute, 10)
	if err != nil {
		return nil, err
	}
	shareLimiter, err := newLimiter("share", cfg.ShareRateLimitPerMinute, 10)
	if err != nil {
		return nil, err
	}
	triggerLimiter, err := newLimiter("trigger", cfg.TriggerRateLimitPerMinute, 30)
	if err != nil {
		return nil, err
	}
	maxAudio := cfg.MaxAudioBytes
	if maxAudio <= 0 {
		maxAudio = defaultMaxAudioBytes
	}
	s := &Server{
		app:               cfg.App,
		auth:              cfg.Authenticator,
		metrics:           cfg.Metrics,
		validator:         validation.New(),
		proxies:           cfg.TrustedProxies,
		origins:           cfg.AllowedOrigins,
		maxAudioBytes:     maxAudio,
		chatLimiter:       chatLimiter,
		transcribeLimiter: transcribeLimiter,
		shareLimiter:      shareLimiter,
		triggerLimiter:    triggerLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(util.WithSecurityHeaders)
	r.Use(util.WithCORS(s.origins))
	r.Use(util.WithRequestID)
	r.Use(util.WithRequestLog)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		methodNotAllowed(w)
	})

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// public
	r.Get("/api/share/{slug}", s.handleViewShare)
	r.Post("/api/webhooks/stripe", s.handleStripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticated)

		r.Post("/api/chat", s.handleChat)
		r.Post("/api/transcribe", s.handleTranscribe)

		r.Get("/api/me", s.handleMe)
		r.Patch("/api/me", s.handleUpdateMe)
		r.Get("/api/dashboard", s.handleDashboard)
		r.Delete("/api/account", s.handleDeleteAccount)

		r.Route("/api/gamification", func(r chi.Router) {
			r.Get("/stats", s.handleStats)
			r.Get("/streak", s.handleStreak)
			r.Get("/achievements", s.handleAchievements)
			r.Post("/checkin", s.handleCheckIn)
		})

		r.Route("/api/companion", func(r chi.Router) {
			r.Get("/", s.handleGetCompanion)
			r.Post("/", s.handleCreateCompanion)
			r.Patch("/", s.handleUpdateCompanion)
			r.Get("/personalities", s.handlePersonalities)
			r.Post("/interact", s.handleInteractCompanion)
			r.Post("/triggers", s.handleTrigger)
			r.Get("/messages", s.handleListMessages)
			r.Get("/messages/next", s.handleNextMessage)
			r.Post("/messages/{id}/read", s.handleAckMessage(app.AckRead))
			r.Post("/messages/{id}/dismiss", s.handleAckMessage(app.AckDismiss))
		})

		r.Get("/api/knowledge", s.handleKnowledge)
		r.Get("/api/knowledge/search", s.handleSearchKnowledge)

		r.Post("/api/share", s.handleCreateShare)

		r.Post("/api/billing/checkout", s.handleCheckout)
		r.Post("/api/billing/portal", s.handlePortal)
	})
	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Ping(ctx); err != nil {
		util.LoggerFromContext(r.Context()).Error("health check failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type identityContextKey struct{}

// authenticated resolves the bearer token to an identity and rejects
// tokens issued before the user deleted their account.
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.audit(r, "api.authorize", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		revoked, err := s.app.TokenRevoked(r.Context(), id.UserID, id.IssuedAt)
		if err != nil {
			util.LoggerFromContext(r.Context()).Error("token revocation check failed", "user_id", id.UserID, "err", err)
			writeError(w, http.StatusServiceUnavailable, "authorization unavailable")
			return
		}
		if revoked {
			s.audit(r, "api.authorize", "fail", "reason", "revoked", "user_id", id.UserID)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey{}, id)
		ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("user_id", id.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identity(r *http.Request) usertoken.Identity {
	id, _ := r.Context().Value(identityContextKey{}).(usertoken.Identity)
	return id
}

// decodeJSON decodes and validates a request body, writing the error
// response itself on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validator.Struct(dst); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request", "fields": verr.Fields})
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.SlidingWindowLimiter, scope, key, msg string) bool {
	d, err := limiter.Allow(r.Context(), scope+":"+key)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("rate limiter unavailable", "scope", scope, "err", err)
		writeError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
		return false
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.Allowed {
		return true
	}
	retry := max(1, int(math.Ceil(d.RetryAfter.Seconds())))
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	if s.metrics != nil {
		s.metrics.RateLimited.WithLabelValues(scope).Inc()
	}
	s.audit(r, "api.ratelimit", "rate_limited", "scope", scope)
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.proxies.ClientIP(r),
	}
	util.SecurityEvent(r.Context(), event, append(logAttrs, attrs...)...)
}

// writeAppError maps application errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var stripeErr *stripe.Error
	switch {
	case errors.Is(err, usage.ErrQuotaExceeded):
		writeError(w, http.StatusPaymentRequired, "question limit reached for your plan")
	case errors.Is(err, app.ErrInvalidQuestion),
		errors.Is(err, app.ErrInvalidLevel),
		errors.Is(err, app.ErrInvalidArchetype),
		errors.Is(err, app.ErrUnsupportedAudio),
		errors.Is(err, companion.ErrInvalidName),
		errors.Is(err, companion.ErrUnknownAction),
		errors.Is(err, companion.ErrUnknownTrigger),
		errors.Is(err, billing.ErrInvalidTier),
		errors.Is(err, billing.ErrNoCustomer),
		errors.Is(err, billing.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrCompanionNotFound),
		errors.Is(err, app.ErrMessageNotFound),
		errors.Is(err, app.ErrShareNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrCompanionExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrProviderUnavailable):
		util.LoggerFromContext(r.Context()).Warn("provider failure", "err", err)
		writeError(w, http.StatusBadGateway, "AI provider unavailable, please try again")
	case errors.As(err, &stripeErr):
		util.LoggerFromContext(r.Context()).Error("stripe request failed", "err", err)
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
	case errors.Is(err, app.ErrBillingDisabled),
		errors.Is(err, app.ErrTranscriptionDisabled),
		errors.Is(err, billing.ErrPriceNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		util.LoggerFromContext(r.Context()).Info("request canceled by client")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
