package main

import (
	"context"
	"net/http"
	"time"

	"circulationapi/internal/circulation"
	"circulationapi/internal/httpx"
	"circulationapi/internal/stats"

	"github.com/rs/zerolog"
)

type routerDeps struct {
	Circulation *circulation.HTTPHandler
	Stats       *stats.HTTPHandler
	JWTSecret   string
	// Ready reports whether backing services are reachable. Nil means always ready.
	Ready func(ctx context.Context) error

	Logger       zerolog.Logger
	CORSOrigins  []string
	EnableHSTS   bool
	MaxBodyBytes int64
	RateLimiter  *httpx.RateLimitMiddleware
}

func newRouter(d routerDeps) http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	d.Circulation.Routes(router, httpx.AuthMiddleware(d.JWTSecret), httpx.OptionalAuthMiddleware(d.JWTSecret))
	router.HandleFunc("GET /api/stats", d.Stats.Get)

	middlewares := []func(http.Handler) http.Handler{
		httpx.RequestIDMiddleware,
		httpx.AccessLogMiddleware(d.Logger),
		httpx.RecoveryMiddleware(d.Logger),
		httpx.CORSMiddleware(d.CORSOrigins),
		httpx.SecurityHeadersMiddleware(d.EnableHSTS),
		httpx.RequestSizeLimitMiddleware(d.MaxBodyBytes),
	}
	if d.RateLimiter != nil {
		middlewares = append(middlewares, d.RateLimiter.Middleware)
	}
	return httpx.Chain(router, middlewares...)
}
