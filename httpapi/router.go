package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
	"github.com/PHPxCODER/rdp-website-sub000/middleware"
	"github.com/PHPxCODER/rdp-website-sub000/session"
)

const (
	DefaultAttemptCookie = "signin_attempt"
	DefaultDeviceCookie  = "trusted_device"
)

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	SecureCookies  bool
	CookieDomain   string
	AttemptCookie  string
	DeviceCookie   string
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	// Ready backs GET /healthz. A nil Ready always reports healthy.
	Ready          func(ctx context.Context) error
	RequestTimeout time.Duration
}

// Handler serves the sign-in and two-factor routes.
type Handler struct {
	engine *authflow.Engine
	issuer *session.Issuer
	logger *zap.Logger
	opts   Options
}

func New(engine *authflow.Engine, issuer *session.Issuer, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AttemptCookie == "" {
		opts.AttemptCookie = DefaultAttemptCookie
	}
	if opts.DeviceCookie == "" {
		opts.DeviceCookie = DefaultDeviceCookie
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Handler{engine: engine, issuer: issuer, logger: logger, opts: opts}
}

// Router builds the chi router with the middleware stack and all routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(AccessLog(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(h.opts.RequestTimeout))

	if len(h.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", h.healthz)
	if h.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.opts.Metrics)
	}

	r.Route("/signin", func(r chi.Router) {
		r.Post("/", h.start)
		r.Get("/", h.state)
		r.Post("/email", h.submitEmail)
		r.Post("/password", h.submitPassword)
		r.Post("/code", h.submitEmailCode)
		r.Post("/code/cells", h.inputCode)
		r.Post("/totp", h.submitTOTP)
		r.Post("/totp/use", h.useAuthenticator)
		r.Post("/backup-code", h.submitBackupCode)
		r.Post("/backup-code/use", h.useBackupCode)
		r.Post("/resend", h.resend)
		r.Post("/back", h.goBack)
	})
	r.Post("/signout", h.signOut)

	r.Route("/account/2fa", func(r chi.Router) {
		r.Use(middleware.RequireSession(h.issuer))
		r.Post("/setup", h.setupTwoFactor)
		r.Post("/enable", h.enableTwoFactor)
		r.Post("/disable", h.disableTwoFactor)
		r.Get("/backup-codes", h.backupCodesRemaining)
		r.Post("/backup-codes", h.regenerateBackupCodes)
		r.Post("/backup-codes/migrate", h.migrateBackupCodes)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, response{Error: &apiError{Kind: "not_found", Message: "endpoint not found"}})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, response{Error: &apiError{Kind: "method_not_allowed", Message: "method not allowed"}})
	})

	return r
}

// AccessLog logs one line per request.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", chimw.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ready != nil {
		if err := h.opts.Ready(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
