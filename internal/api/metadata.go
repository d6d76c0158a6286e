package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// Identity headers per the catalog protocol.
const (
	requestIDHeader = "x-request-id"
	projectIDHeader = "x-project-id"
)

type metadataKey struct{}

// MetadataFromContext extracts the request metadata assembled by the
// Metadata middleware. Returns an empty value outside a request.
func MetadataFromContext(ctx context.Context) *domain.RequestMetadata {
	if meta, ok := ctx.Value(metadataKey{}).(*domain.RequestMetadata); ok {
		return meta
	}
	return &domain.RequestMetadata{}
}

// ContextWithMetadata stores request metadata, used by tests and the auth
// hook.
func ContextWithMetadata(ctx context.Context, meta *domain.RequestMetadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, meta)
}

type loggerKey struct{}

func contextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the request-scoped logger, falling back to the
// default logger outside a request.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// Metadata is the first middleware in the chain. It assembles the
// RequestMetadata every layer below depends on: the request id (echoed back,
// UUIDv7 when absent), the tenant from x-project-id with the configured
// default as fallback, and the external base URI synthesized from
// x-forwarded-* headers. A request-scoped logger with the request_id
// attribute is stored alongside.
func (s *Server) Metadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			v7, err := uuid.NewV7()
			if err != nil {
				v7 = uuid.New()
			}
			id = v7.String()
		}

		base := s.BaseURI
		if base == "" {
			base = baseURI(r)
		}
		meta := &domain.RequestMetadata{
			RequestID:  id,
			Method:     r.Method,
			BaseURI:    base,
			ReceivedAt: time.Now().UTC(),
		}
		if p := r.Header.Get(projectIDHeader); p != "" {
			pid, err := domain.ParseProjectID(p)
			if err != nil {
				writeError(w, r, err)
				return
			}
			meta.ProjectID = &pid
		} else if s.DefaultProject != "" {
			pid := s.DefaultProject
			meta.ProjectID = &pid
		}

		ctx := ContextWithMetadata(r.Context(), meta)
		ctx = contextWithLogger(ctx, slog.Default().With("request_id", id))
		w.Header().Set(requestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// baseURI reconstructs the externally visible URL prefix from forwarded
// headers so returned locations point at the proxy, not this process.
func baseURI(r *http.Request) string {
	proto := r.Header.Get("x-forwarded-proto")
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	host := r.Header.Get("x-forwarded-host")
	if host == "" {
		host = r.Host
	}
	if port := r.Header.Get("x-forwarded-port"); port != "" && !strings.Contains(host, ":") {
		if !(proto == "http" && port == "80") && !(proto == "https" && port == "443") {
			host += ":" + port
		}
	}
	prefix := strings.TrimSuffix(r.Header.Get("x-forwarded-prefix"), "/")
	return proto + "://" + host + prefix
}
