package controller

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig collects the handlers mounted by NewRouter. Vendor is
// optional and only set when the simulated vendor runs in-process.
type RouterConfig struct {
	Campaigns *CampaignController
	Receipts  http.HandlerFunc
	Vendor    http.Handler
	Auth      *Authenticator
	Logger    *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", Health)
	r.Post("/webhooks/delivery-receipts", cfg.Receipts)
	if cfg.Vendor != nil {
		r.Method(http.MethodPost, "/vendor/send", cfg.Vendor)
	}

	r.Group(func(r chi.Router) {
		auth := cfg.Auth
		if auth == nil {
			auth = &Authenticator{Logger: logger}
		}
		r.Use(auth.Middleware)
		cfg.Campaigns.Routes(r)
	})
	return r
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
