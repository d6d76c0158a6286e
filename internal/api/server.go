// Package api exposes the Iceberg REST catalog protocol plus the management
// surface. Handlers follow one shape: decode into value types that reject
// malformed input at the boundary, resolve entities through the
// authorization mediator, run at most one write transaction, emit an event
// after commit and translate errors into the Iceberg envelope.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/lakekeeper/lakekeeper/internal/authz"
	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/lakekeeper/lakekeeper/internal/events"
	"github.com/lakekeeper/lakekeeper/internal/health"
	"github.com/lakekeeper/lakekeeper/internal/license"
	"github.com/lakekeeper/lakekeeper/internal/ratelimit"
	"github.com/lakekeeper/lakekeeper/internal/secrets"
	"github.com/lakekeeper/lakekeeper/internal/signer"
	"github.com/lakekeeper/lakekeeper/internal/stats"
)

// ProfileValidator probes a storage profile before a warehouse is created or
// updated. The storage package implements it.
type ProfileValidator interface {
	Validate(ctx context.Context, profile domain.StorageProfile, material []byte) error
}

// Server holds the dependencies of every handler.
type Server struct {
	Catalog catalog.Store
	Authz   *authz.Mediator
	Secrets secrets.Store
	Events  *events.Dispatcher
	Tracker *stats.Tracker
	Signer  *signer.Signer
	Storage ProfileValidator
	Health  *health.Monitor
	License *license.Checker

	// RateLimit throttles requests per client IP when set. The health
	// endpoint is exempt so probes keep working under load.
	RateLimit *ratelimit.Limiter

	// Auth is the optional authentication middleware. It runs after
	// Metadata and may set Actor and HasAdminPrivileges on the request
	// metadata.
	Auth func(http.Handler) http.Handler

	DefaultProject domain.ProjectID
	CORSOrigins    []string

	// BaseURI overrides the base URL synthesized from forwarded headers.
	// Set it when the deployment's external address cannot be derived from
	// the request.
	BaseURI string

	// ServeOpenAPIDoc exposes the API document at /openapi.yaml.
	ServeOpenAPIDoc bool
}

// emit hands an event to the dispatcher. Called strictly after commit.
func (s *Server) emit(ev events.Event) {
	if s.Events != nil {
		s.Events.Emit(ev)
	}
}

// licenseStatus returns the current license, valid-unlimited when no checker
// is wired.
func (s *Server) licenseStatus() domain.LicenseStatus {
	if s.License == nil {
		return domain.LicenseStatus{Valid: true}
	}
	return s.License.Status()
}

// requireLicense fails closed on an expired license, and on quota exhaustion
// when the operation creates a tabular.
func (s *Server) requireLicense(creates bool) error {
	status := s.licenseStatus()
	if status.Expired {
		return &domain.Error{
			Type:    domain.ErrTypeLicenseExpired,
			Code:    http.StatusForbidden,
			Message: "the deployment license has expired",
		}
	}
	if creates && status.QuotaExceeded() {
		return &domain.Error{
			Type:    domain.ErrTypeLicenseQuotaExceeded,
			Code:    http.StatusForbidden,
			Message: "the licensed table quota is exhausted",
		}
	}
	return nil
}

// NewRouter mounts all routes with the middleware chain in protocol order:
// metadata extraction, then authentication, then handlers.
func NewRouter(s *Server) chi.Router {
	r := chi.NewRouter()

	corsOrigins := s.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestIDHeader, projectIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))
	r.Use(s.Metadata)
	r.Use(s.RequestLogger)
	r.Use(s.Recover)
	if s.Auth != nil {
		r.Use(s.Auth)
	}

	r.Get("/health", s.HandleHealth)
	if s.ServeOpenAPIDoc {
		r.Get("/openapi.yaml", s.HandleOpenAPIDoc)
	}

	r.Route("/catalog/v1", func(r chi.Router) {
		r.Use(s.Throttle)
		r.Use(s.TrackStats)
		r.Get("/config", s.HandleGetConfig)
		r.Route("/{prefix}", func(r chi.Router) {
			r.Get("/namespaces", s.HandleListNamespaces)
			r.Post("/namespaces", s.HandleCreateNamespace)
			r.Get("/namespaces/{namespace}", s.HandleGetNamespace)
			r.Head("/namespaces/{namespace}", s.HandleHeadNamespace)
			r.Delete("/namespaces/{namespace}", s.HandleDropNamespace)
			r.Post("/namespaces/{namespace}/properties", s.HandleUpdateNamespaceProperties)

			r.Get("/namespaces/{namespace}/tables", s.HandleListTables)
			r.Post("/namespaces/{namespace}/tables", s.HandleCreateTable)
			r.Get("/namespaces/{namespace}/tables/{table}", s.HandleLoadTable)
			r.Head("/namespaces/{namespace}/tables/{table}", s.HandleHeadTable)
			r.Post("/namespaces/{namespace}/tables/{table}", s.HandleCommitTable)
			r.Delete("/namespaces/{namespace}/tables/{table}", s.HandleDropTable)
			r.Post("/namespaces/{namespace}/tables/{table}/metrics", s.HandleReportMetrics)
			r.Post("/tables/rename", s.HandleRenameTable)

			r.Get("/namespaces/{namespace}/views", s.HandleListViews)
			r.Post("/namespaces/{namespace}/views", s.HandleCreateView)
			r.Get("/namespaces/{namespace}/views/{view}", s.HandleLoadView)
			r.Head("/namespaces/{namespace}/views/{view}", s.HandleHeadView)
			r.Post("/namespaces/{namespace}/views/{view}", s.HandleCommitView)
			r.Delete("/namespaces/{namespace}/views/{view}", s.HandleDropView)
			r.Post("/views/rename", s.HandleRenameView)

			r.Post("/aws/s3/sign", s.HandleSignS3)
			r.Post("/namespaces/{namespace}/tables/{table}/s3/sign", s.HandleSignS3Table)
		})
	})

	r.Route("/management/v1", func(r chi.Router) {
		r.Use(s.Throttle)
		r.Use(s.TrackStats)
		r.Post("/bootstrap", s.HandleBootstrap)
		r.Get("/info", s.HandleServerInfo)

		r.Post("/project", s.HandleCreateProject)
		r.Get("/project-list", s.HandleListProjects)
		r.Get("/project/{projectID}", s.HandleGetProject)
		r.Post("/project/{projectID}/rename", s.HandleRenameProject)
		r.Delete("/project/{projectID}", s.HandleDeleteProject)

		r.Post("/warehouse", s.HandleCreateWarehouse)
		r.Get("/warehouse", s.HandleListWarehouses)
		r.Get("/warehouse/{warehouseID}", s.HandleGetWarehouse)
		r.Delete("/warehouse/{warehouseID}", s.HandleDeleteWarehouse)
		r.Post("/warehouse/{warehouseID}/rename", s.HandleRenameWarehouse)
		r.Post("/warehouse/{warehouseID}/activate", s.HandleActivateWarehouse)
		r.Post("/warehouse/{warehouseID}/deactivate", s.HandleDeactivateWarehouse)
		r.Post("/warehouse/{warehouseID}/delete-profile", s.HandleSetDeleteProfile)
		r.Post("/warehouse/{warehouseID}/protection", s.HandleSetWarehouseProtection)
		r.Get("/warehouse/{warehouseID}/statistics", s.HandleWarehouseStatistics)
		r.Get("/warehouse/{warehouseID}/deleted-tabulars", s.HandleListDeletedTabulars)
		r.Post("/warehouse/{warehouseID}/deleted-tabulars/undrop", s.HandleUndropTabulars)
		r.Post("/warehouse/{warehouseID}/namespace/{namespaceID}/protection", s.HandleSetNamespaceProtection)
		r.Post("/warehouse/{warehouseID}/table/{tabularID}/protection", s.HandleSetTabularProtection)
		r.Post("/warehouse/{warehouseID}/view/{tabularID}/protection", s.HandleSetTabularProtection)

		r.Post("/role", s.HandleCreateRole)
		r.Get("/role", s.HandleListRoles)
		r.Get("/role/{roleID}", s.HandleGetRole)
		r.Delete("/role/{roleID}", s.HandleDeleteRole)

		r.Get("/user", s.HandleListUsers)
		r.Get("/user/{userID}", s.HandleGetUser)
		r.Post("/user", s.HandleProvisionUser)

		r.Get("/task", s.HandleListTasks)
	})

	return r
}

// Recover converts a handler panic into a 500 envelope without taking down
// the process.
func (s *Server) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				LoggerFromContext(r.Context()).Error("handler panicked", "panic", rec)
				writeError(w, r, &domain.Error{
					Type:    domain.ErrTypeUnexpected,
					Code:    http.StatusInternalServerError,
					Message: "internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
