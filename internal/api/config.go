package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// ConfigResponse is the Iceberg client bootstrap payload. Overrides win over
// anything the client configured; defaults fill gaps.
type ConfigResponse struct {
	Overrides map[string]string `json:"overrides"`
	Defaults  map[string]string `json:"defaults"`
}

// HandleGetConfig resolves the warehouse named in the query (either a bare
// warehouse id or "project/warehouse-name") and returns the client
// configuration pointing back at this catalog.
func (s *Server) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	name := r.URL.Query().Get("warehouse")
	if name == "" {
		writeError(w, r, domain.BadRequest("the warehouse query parameter is required"))
		return
	}

	var wh *domain.Warehouse
	var err error
	if project, whName, ok := strings.Cut(name, "/"); ok {
		var pid domain.ProjectID
		pid, err = domain.ParseProjectID(project)
		if err == nil {
			wh, err = s.Catalog.GetWarehouseByName(ctx, pid, whName)
		}
	} else if id, idErr := domain.ParseWarehouseID(name); idErr == nil {
		wh, err = s.Catalog.GetWarehouse(ctx, id)
	} else if meta.ProjectID != nil {
		wh, err = s.Catalog.GetWarehouseByName(ctx, *meta.ProjectID, name)
	} else {
		err = domain.BadRequest("warehouse %q needs a project/ prefix or an x-project-id header", name)
	}
	if wh, err = s.Authz.RequireWarehouseUse(ctx, meta, wh, err); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, ConfigResponse{
		Overrides: map[string]string{
			"prefix": wh.ID.String(),
			"uri":    meta.BaseURI + "/catalog",
		},
		Defaults: map[string]string{
			"warehouse": wh.ID.String(),
		},
	})
}

// resolveWarehouse loads the warehouse from the route prefix and checks Use.
func (s *Server) resolveWarehouse(r *http.Request, meta *domain.RequestMetadata) (*domain.Warehouse, error) {
	id, err := domain.ParseWarehouseID(chi.URLParam(r, "prefix"))
	if err != nil {
		return nil, err
	}
	wh, err := s.Catalog.GetWarehouse(r.Context(), id)
	return s.Authz.RequireWarehouseUse(r.Context(), meta, wh, err)
}

// namespaceParam decodes the multipart namespace path parameter.
func namespaceParam(r *http.Request) (domain.NamespaceIdent, error) {
	return domain.ParseNamespaceIdent(chi.URLParam(r, "namespace"))
}
