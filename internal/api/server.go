package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
	"github.com/JakeFAU/tdnet-ingest/internal/metrics"
)

const maxBodyBytes = 4 << 10

// Runner executes a single date run.
type Runner interface {
	RunForDate(ctx context.Context, date time.Time) (disclosure.RunResult, error)
}

// Config controls request handling.
type Config struct {
	// Location resolves "today" when a request carries no date.
	Location *time.Location
	APIKey   string
}

// Server wires HTTP handlers to the run engine.
type Server struct {
	router chi.Router
	runner Runner
	clock  disclosure.Clock
	loc    *time.Location
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewServer constructs a Server with middleware and routes. A non-empty
// APIKey protects the /v1 routes.
func NewServer(runner Runner, clock disclosure.Clock, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	s := &Server{
		runner:   runner,
		clock:    clock,
		loc:      loc,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/runs", s.startRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runRequest struct {
	Date string `json:"date"`
}

type runErrorResponse struct {
	Error  string                `json:"error"`
	Result *disclosure.RunResult `json:"result,omitempty"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	raw, err := requestedDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var date time.Time
	if raw == "" {
		date = disclosure.Today(s.clock.Now(), s.loc)
	} else {
		date, err = disclosure.ParseDate(raw, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	key := disclosure.FormatDate(date)
	if !s.claim(key) {
		writeError(w, http.StatusConflict, fmt.Sprintf("a run for %s is already in progress", key))
		return
	}
	defer s.release(key)

	result, err := s.runner.RunForDate(r.Context(), date)
	if err != nil {
		s.logger.Error("run faulted", zap.String("date", key), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, runErrorResponse{Error: err.Error(), Result: &result})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// requestedDate reads the date from the query string, then the JSON body.
// An absent date yields "".
func requestedDate(r *http.Request) (string, error) {
	if q := strings.TrimSpace(r.URL.Query().Get("date")); q != "" {
		return q, nil
	}
	var req runRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", errors.New("invalid JSON")
	}
	return strings.TrimSpace(req.Date), nil
}

func (s *Server) claim(date string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[date]; busy {
		return false
	}
	s.inflight[date] = struct{}{}
	return true
}

func (s *Server) release(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, date)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.Stack("stack"))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
