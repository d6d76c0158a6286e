package api

import (
	"net/http"
	"strconv"

	"github.com/lakekeeper/lakekeeper/internal/authz"
	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/lakekeeper/lakekeeper/internal/events"
)

// CreateNamespaceRequest is the Iceberg create-namespace body.
type CreateNamespaceRequest struct {
	Namespace  []string          `json:"namespace"`
	Properties map[string]string `json:"properties"`
}

// NamespaceResponse mirrors the Iceberg namespace payload.
type NamespaceResponse struct {
	Namespace  []string          `json:"namespace"`
	Properties map[string]string `json:"properties"`
}

// ListNamespacesResponse carries the idents only, per protocol.
type ListNamespacesResponse struct {
	Namespaces [][]string `json:"namespaces"`
}

// UpdatePropertiesRequest is the Iceberg properties-update body.
type UpdatePropertiesRequest struct {
	Removals []string          `json:"removals"`
	Updates  map[string]string `json:"updates"`
}

// UpdatePropertiesResponse reports which keys changed.
type UpdatePropertiesResponse struct {
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
	Missing []string `json:"missing"`
}

func namespaceResponse(ns *domain.Namespace) NamespaceResponse {
	props := ns.Properties
	if props == nil {
		props = map[string]string{}
	}
	return NamespaceResponse{Namespace: ns.Ident, Properties: props}
}

// HandleListNamespaces lists namespaces the actor may see. With
// can_list_everything on the warehouse the full listing is returned;
// otherwise each namespace is filtered by can_get_metadata.
func (s *Server) HandleListNamespaces(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.resolveWarehouse(r, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.Authz.RequireWarehouseAction(ctx, meta, wh, nil, authz.WarehouseCanListNamespaces); err != nil {
		writeError(w, r, err)
		return
	}

	var filter catalog.NamespaceFilter
	if parent := r.URL.Query().Get("parent"); parent != "" {
		ident, err := domain.ParseNamespaceIdent(parent)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.Parent = ident
	}
	namespaces, err := s.Catalog.ListNamespaces(ctx, wh.ID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	listAll, err := s.Authz.IsAllowedWarehouseAction(ctx, meta, wh.ID, authz.WarehouseCanListEverything)
	if err != nil {
		writeError(w, r, err)
		return
	}

	idents := make([][]string, 0, len(namespaces))
	for _, ns := range namespaces {
		if !listAll.Allowed() {
			visible, err := s.Authz.IsAllowedNamespaceAction(ctx, meta, ns.ID, authz.NamespaceCanGetMetadata)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !visible.Allowed() {
				continue
			}
		}
		idents = append(idents, ns.Ident)
	}
	writeJSON(w, r, http.StatusOK, ListNamespacesResponse{Namespaces: idents})
}

func (s *Server) HandleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.resolveWarehouse(r, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CreateNamespaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ident, err := domain.NewNamespaceIdent(req.Namespace)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.Authz.RequireWarehouseAction(ctx, meta, wh, nil, authz.WarehouseCanCreateNamespace); err != nil {
		writeError(w, r, err)
		return
	}
	// Resolve the parent through the mediator so a missing parent is hidden
	// from actors without visibility into it.
	if parent := ident.Parent(); parent != nil {
		parentNS, lookupErr := s.Catalog.GetNamespaceByIdent(ctx, wh.ID, parent)
		if _, err := s.Authz.RequireNamespaceAction(ctx, meta, wh.ID, parentNS, lookupErr, authz.NamespaceCanGetMetadata); err != nil {
			writeError(w, r, err)
			return
		}
	}

	var created *domain.Namespace
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		var err error
		created, err = tx.CreateNamespace(ctx, &domain.Namespace{
			WarehouseID: wh.ID,
			Ident:       ident,
			Properties:  req.Properties,
		})
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.Authz.GrantOwnership(ctx, meta,
		authz.NamespaceObject(created.ID), authz.WarehouseObject(wh.ID)); err != nil {
		LoggerFromContext(ctx).Error("failed to write ownership tuples", "error", err)
	}
	s.emit(events.CreateNamespaceEvent{Namespace: *created, Metadata: events.NewMetadata(meta)})
	writeJSON(w, r, http.StatusOK, namespaceResponse(created))
}

// loadNamespace resolves the route namespace through the authorization
// mediator with the given action.
func (s *Server) loadNamespace(r *http.Request, meta *domain.RequestMetadata, wh *domain.Warehouse, action authz.NamespaceAction) (*domain.Namespace, error) {
	ident, err := namespaceParam(r)
	if err != nil {
		return nil, err
	}
	ns, lookupErr := s.Catalog.GetNamespaceByIdent(r.Context(), wh.ID, ident)
	return s.Authz.RequireNamespaceAction(r.Context(), meta, wh.ID, ns, lookupErr, action)
}

func (s *Server) HandleGetNamespace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.resolveWarehouse(r, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ns, err := s.loadNamespace(r, meta, wh, authz.NamespaceCanGetMetadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, namespaceResponse(ns))
}

func (s *Server) HandleHeadNamespace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.resolveWarehouse(r, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.loadNamespace(r, meta, wh, authz.NamespaceCanGetMetadata); err != nil {
		w.WriteHeader(domain.ErrorModel(err).Code)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleUpdateNamespaceProperties(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.resolveWarehouse(r, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ns, err := s.loadNamespace(r, meta, wh, authz.NamespaceCanUpdate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req UpdatePropertiesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var missing []string
	for _, key := range req.Removals {
		if _, ok := ns.Properties[key]; !ok {
			missing = append(missing, key)
		}
	}

	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		_, err := tx.UpdateNamespaceProperties(ctx, ns.ID, req.Updates, req.Removals)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := UpdatePropertiesResponse{Updated: []string{}, Removed: []string{}, Missing: missing}
	for key := range req.Updates {
		resp.Updated = append(resp.Updated, key)
	}
	for _, key := range req.Removals {
		if _, ok := ns.Properties[key]; ok {
			resp.Removed = append(resp.Removed, key)
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) HandleDropNamespace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.resolveWarehouse(r, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ns, err := s.loadNamespace(r, meta, wh, authz.NamespaceCanDelete)
	if err != nil {
		writeError(w, r, err)
		return
	}
	recursive, _ := strconv.ParseBool(r.URL.Query().Get("recursive"))

	var dropped []domain.Tabular
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		var err error
		dropped, err = tx.DropNamespace(ctx, ns.ID, recursive)
		if err != nil {
			return err
		}
		return enqueuePurges(ctx, tx, wh, dropped, false)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.Authz.RevokeEntity(ctx, meta,
		authz.NamespaceObject(ns.ID), authz.WarehouseObject(wh.ID)); err != nil {
		LoggerFromContext(ctx).Error("failed to delete ownership tuples", "error", err)
	}
	s.emit(events.DropNamespaceEvent{
		NamespaceID: ns.ID,
		Ident:       ns.Ident.String(),
		Metadata:    events.NewMetadata(meta),
	})
	w.WriteHeader(http.StatusNoContent)
}
