package api

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// responseWriter captures the status code and response size, which the
// standard ResponseWriter does not expose after the handler returns.
type responseWriter struct {
	http.ResponseWriter
	status       int
	wroteHeader  bool
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RequestLogger logs every request with structured output. Level follows the
// status class: Info below 400, Warn for 4xx, Error for 5xx. Health checks
// are skipped to reduce orchestrator noise.
func (s *Server) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		meta := MetadataFromContext(r.Context())
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.status),
			slog.String("duration", time.Since(start).String()),
			slog.Int("response_size", wrapped.bytesWritten),
			slog.String("request_id", meta.RequestID),
		}
		logger := LoggerFromContext(r.Context())
		msg := "request completed"
		switch {
		case wrapped.status >= 500:
			logger.LogAttrs(r.Context(), slog.LevelError, msg, attrs...)
		case wrapped.status >= 400:
			logger.LogAttrs(r.Context(), slog.LevelWarn, msg, attrs...)
		default:
			logger.LogAttrs(r.Context(), slog.LevelInfo, msg, attrs...)
		}
	})
}

// Throttle rejects requests with 429 once the client's token bucket is
// drained. Clients are keyed by remote IP.
func (s *Server) Throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimit == nil {
			next.ServeHTTP(w, r)
			return
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.RateLimit.Allow(host) {
			writeError(w, r, &domain.Error{
				Type:    domain.ErrTypeRequestThrottled,
				Code:    http.StatusTooManyRequests,
				Message: "too many requests, slow down",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TrackStats feeds the endpoint statistics counter after the handler runs,
// keyed by the matched chi route pattern so path parameters collapse into
// one bucket per endpoint.
func (s *Server) TrackStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Tracker == nil {
			next.ServeHTTP(w, r)
			return
		}
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		meta := MetadataFromContext(r.Context())
		var warehouse *domain.WarehouseID
		if prefix := chi.URLParam(r, "prefix"); prefix != "" {
			if id, err := domain.ParseWarehouseID(prefix); err == nil {
				warehouse = &id
			}
		}
		s.Tracker.Record(meta.ProjectID, warehouse, route, wrapped.status)
	})
}
