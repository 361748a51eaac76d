// Package http provides the JSON API for the ledger service.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"
	"sync"
	"time"

	"coffer/internal/cache"
	"coffer/internal/config"
	"coffer/internal/core"
	"coffer/internal/log"
	"coffer/internal/metrics"
	"coffer/internal/ratelimit"
)

const (
	queryCacheSize     = 256
	queryCacheTTL      = 30 * time.Second
	cacheSweepInterval = time.Minute

	statsCacheKey         = "stats"
	historyCacheKeyPrefix = "history:"
)

type contextKey string

// requestIDKey is the context key under which the request ID travels.
const requestIDKey contextKey = "request_id"

// Server wraps the standard HTTP server with the ledger routes, the
// per-client rate limiter and a small cache for query responses.
type Server struct {
	http.Server

	svc    Service
	logger *log.Logger

	limiter        *ratelimit.Limiter
	queryCache     *cache.Cache[[]byte]
	trustedProxies []*net.IPNet

	startedAt    time.Time
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

// NewServer builds the HTTP server around the given ledger service.
func NewServer(cfg *config.Config, svc Service, logger *log.Logger) (*Server, error) {
	proxies, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		svc:            svc,
		logger:         logger.WithComponent("http"),
		queryCache:     cache.New[[]byte](queryCacheSize, queryCacheTTL),
		trustedProxies: proxies,
		startedAt:      time.Now(),
		stopCleanup:    make(chan struct{}),
	}
	s.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/api/v1/deposits", s.handleDeposit)
	mux.HandleFunc("/api/v1/withdrawals", s.handleWithdraw)
	mux.HandleFunc("/api/v1/transfers/inbound", s.handleInboundTransfer)
	mux.HandleFunc("/api/v1/balance", s.handleBalance)
	mux.HandleFunc("/api/v1/capacity", s.handleCapacity)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/history", s.handleHistory)

	handler := s.withTracing(s.withRateLimit(mux))
	handler = s.withSecurityHeaders(handler)
	handler = metrics.InstrumentHandler(handler)

	s.Server = http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.cacheJanitor()
	return s, nil
}

// Shutdown stops background work and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		close(s.stopCleanup)
		s.limiter.Stop()
	})
	return s.Server.Shutdown(ctx)
}

func (s *Server) cacheJanitor() {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.queryCache.CleanExpired(); n > 0 {
				s.logger.Debug("expired cache entries removed", "count", n)
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// invalidateAccount drops cached queries made stale by an operation.
func (s *Server) invalidateAccount(account core.Principal) {
	s.queryCache.Delete(statsCacheKey)
	s.queryCache.InvalidatePrefix(historyCacheKeyPrefix + string(account))
}

func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Probes and scrapes bypass throttling.
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}

		clientIP := s.extractClientIP(r)
		if !s.limiter.Allow(clientIP, time.Now()) {
			metrics.RecordThrottled()
			s.logger.Warn("request throttled", "client_ip", clientIP, "path", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		logFn := s.logger.Info
		switch {
		case rw.statusCode >= 500:
			logFn = s.logger.Error
		case rw.statusCode >= 400:
			logFn = s.logger.Warn
		}
		logFn("request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", s.extractClientIP(r),
		)
	})
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID returns a short random identifier for tracing.
func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "req_unknown"
	}
	return "req_" + hex.EncodeToString(b)
}
