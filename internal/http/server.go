// Package http serves the Telegram webhook and a small read API for the
// chat ledgers.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"kassa/internal/core"
	"kassa/internal/services"
	"kassa/internal/telegram"
)

type Server struct {
	http.Server
	svc             *services.LedgerService
	notifier        *telegram.Notifier
	webhookSecret   string
	balanceThreadID int64
	rateLimiter     *rateLimiter

	// Balance reads are cached per chat and deduplicated under load.
	balanceCache *lruCache[balancePayload]
	balanceGroup singleflight.Group

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

type balancePayload struct {
	ChatID       int64  `json:"chat_id"`
	GeneralCents int64  `json:"general_cents"`
	FoodCents    int64  `json:"food_cents"`
	General      string `json:"general"`
	Food         string `json:"food"`
}

// NewServer configures routes, returning a ready-to-run http.Server.
// notifier may be nil; command replies are then skipped.
func NewServer(addr string, svc *services.LedgerService, notifier *telegram.Notifier, webhookSecret string, balanceThreadID int64) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		svc:              svc,
		notifier:         notifier,
		webhookSecret:    webhookSecret,
		balanceThreadID:  balanceThreadID,
		rateLimiter:      newRateLimiter(),
		balanceCache:     newLRUCache[balancePayload](100, 5*time.Minute),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)
	mux.HandleFunc("/webhook", s.withSecurityHeaders(s.handleWebhook))
	mux.HandleFunc("/balance", s.withSecurityHeaders(s.handleBalance))

	return s
}

func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if cleaned := s.balanceCache.CleanExpired(); cleaned > 0 {
				slog.Debug("Cache cleanup completed", "entries_removed", cleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.stopCacheCleanup)
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting and request
// logging to responses.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if r.Method == http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleBalance serves the current balances of a chat as JSON. Results are
// cached for a few minutes; concurrent misses share one store read.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid chat_id", http.StatusBadRequest)
		return
	}

	key := strconv.FormatInt(chatID, 10)
	payload, found := s.balanceCache.Get(key)
	if !found {
		v, err, _ := s.balanceGroup.Do(key, func() (any, error) {
			ledger, err := s.svc.Ledger(r.Context(), chatID)
			if err != nil {
				return balancePayload{}, err
			}
			p := balancePayload{
				ChatID:       chatID,
				GeneralCents: ledger.GeneralCents,
				FoodCents:    ledger.FoodCents,
				General:      core.FormatCents(ledger.GeneralCents),
				Food:         core.FormatCents(ledger.FoodCents),
			}
			s.balanceCache.Set(key, p)
			return p, nil
		})
		if err != nil {
			slog.ErrorContext(r.Context(), "Balance read failed", "chat_id", chatID, "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		payload = v.(balancePayload)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.ErrorContext(r.Context(), "Balance encode failed", "chat_id", chatID, "error", err)
	}
}

func (s *Server) invalidateBalance(chatID int64) {
	s.balanceCache.Delete(strconv.FormatInt(chatID, 10))
}
