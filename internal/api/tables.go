package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lakekeeper/lakekeeper/internal/authz"
	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/lakekeeper/lakekeeper/internal/events"
	"github.com/lakekeeper/lakekeeper/internal/tasks"
)

// CreateTabularRequest registers a table or view. Location defaults to a
// path under the warehouse base location; MetadataLocation may be empty for
// a staged create.
type CreateTabularRequest struct {
	Name             string `json:"name"`
	Location         string `json:"location"`
	MetadataLocation string `json:"metadata-location"`
}

// CommitTabularRequest is the metadata pointer compare-and-swap.
type CommitTabularRequest struct {
	ExpectedMetadataLocation string `json:"expected-metadata-location"`
	MetadataLocation         string `json:"metadata-location"`
}

// LoadTabularResponse is the load/create/commit result.
type LoadTabularResponse struct {
	ID                       domain.TabularID `json:"id"`
	Namespace                []string         `json:"namespace"`
	Name                     string           `json:"name"`
	Location                 string           `json:"location"`
	MetadataLocation         string           `json:"metadata-location"`
	PreviousMetadataLocation *string          `json:"previous-metadata-location,omitempty"`
	Protected                bool             `json:"protected"`
}

// ListTabularsResponse lists identifiers per protocol.
type ListTabularsResponse struct {
	Identifiers []TabularIdentJSON `json:"identifiers"`
}

// TabularIdentJSON is the protocol shape of a table identifier.
type TabularIdentJSON struct {
	Namespace []string `json:"namespace"`
	Name      string   `json:"name"`
}

// RenameTabularRequest moves a table or view between names and namespaces.
type RenameTabularRequest struct {
	Source      TabularIdentJSON `json:"source"`
	Destination TabularIdentJSON `json:"destination"`
}

func loadTabularResponse(ns domain.NamespaceIdent, tab *domain.Tabular) LoadTabularResponse {
	return LoadTabularResponse{
		ID:                       tab.ID,
		Namespace:                ns,
		Name:                     tab.Name,
		Location:                 tab.Location,
		MetadataLocation:         tab.MetadataLocation,
		PreviousMetadataLocation: tab.PreviousMetadataLocation,
		Protected:                tab.Protected,
	}
}

// tabularParam returns the route parameter name for the kind.
func tabularParam(kind domain.TabularKind) string {
	if kind == domain.TabularKindView {
		return "view"
	}
	return "table"
}

// loadTabular resolves the route table/view through the mediator.
func (s *Server) loadTabular(r *http.Request, meta *domain.RequestMetadata, wh *domain.Warehouse, kind domain.TabularKind, action authz.TabularAction) (*domain.Tabular, domain.NamespaceIdent, error) {
	ns, err := namespaceParam(r)
	if err != nil {
		return nil, nil, err
	}
	name := chi.URLParam(r, tabularParam(kind))
	if name == "" {
		return nil, nil, &domain.Error{
			Type:    domain.ErrTypeTableIdentifierInvalid,
			Code:    http.StatusBadRequest,
			Message: fmt.Sprintf("%s name must not be empty", kind),
		}
	}
	ident := domain.TabularIdent{Namespace: ns, Name: name}
	tab, lookupErr := s.Catalog.GetTabularByIdent(r.Context(), wh.ID, kind, ident)
	tab, err = s.Authz.RequireTabularAction(r.Context(), meta, wh.ID, kind, tab, lookupErr, action)
	return tab, ns, err
}

// enqueuePurges schedules one purge-tabular task per dropped row. Soft
// deleted rows are scheduled at their cleanup deadline, hard deleted rows
// immediately. deleteData requests object removal alongside the row.
func enqueuePurges(ctx context.Context, tx catalog.Transaction, wh *domain.Warehouse, dropped []domain.Tabular, deleteData bool) error {
	for _, tab := range dropped {
		scheduledFor := time.Now()
		if tab.CleanupAt != nil {
			scheduledFor = *tab.CleanupAt
		}
		payload, err := json.Marshal(tasks.PurgePayload{
			TabularID:   tab.ID,
			WarehouseID: wh.ID,
			Location:    tab.Location,
			DeleteData:  deleteData,
		})
		if err != nil {
			return err
		}
		if _, err := tx.EnqueueTask(ctx, catalog.TaskCreate{
			QueueName:    domain.QueuePurgeTabular,
			Payload:      payload,
			ScheduledFor: scheduledFor,
		}); err != nil {
			return err
		}
	}
	return nil
}

// --- generic tabular handlers, shared between tables and views ---

func (s *Server) handleListTabulars(w http.ResponseWriter, r *http.Request, kind domain.TabularKind) {
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
	tabs, err := s.Catalog.ListTabulars(ctx, ns.ID, kind)
	if err != nil {
		writeError(w, r, err)
		return
	}

	listAll, err := s.Authz.IsAllowedNamespaceAction(ctx, meta, ns.ID, authz.NamespaceCanListEverything)
	if err != nil {
		writeError(w, r, err)
		return
	}
	idents := make([]TabularIdentJSON, 0, len(tabs))
	for _, tab := range tabs {
		if !listAll.Allowed() {
			visible, err := s.Authz.IsAllowedTabularAction(ctx, meta, kind, tab.ID, authz.TabularCanGetMetadata)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !visible.Allowed() {
				continue
			}
		}
		idents = append(idents, TabularIdentJSON{Namespace: ns.Ident, Name: tab.Name})
	}
	writeJSON(w, r, http.StatusOK, ListTabularsResponse{Identifiers: idents})
}

func (s *Server) handleCreateTabular(w http.ResponseWriter, r *http.Request, kind domain.TabularKind) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	if err := s.requireLicense(true); err != nil {
		writeError(w, r, err)
		return
	}
	wh, err := s.resolveWarehouse(r, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	createAction := authz.NamespaceCanCreateTable
	if kind == domain.TabularKindView {
		createAction = authz.NamespaceCanCreateView
	}
	ns, err := s.loadNamespace(r, meta, wh, createAction)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CreateTabularRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, &domain.Error{
			Type:    domain.ErrTypeTableIdentifierInvalid,
			Code:    http.StatusBadRequest,
			Message: "name is required",
		})
		return
	}
	location := req.Location
	if location == "" {
		location = tabularLocation(wh, ns.Ident, req.Name)
	}

	var created *domain.Tabular
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		var err error
		created, err = tx.CreateTabular(ctx, catalog.TabularCreate{
			NamespaceID:      ns.ID,
			Kind:             kind,
			Name:             req.Name,
			MetadataLocation: req.MetadataLocation,
			Location:         location,
		})
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.Authz.GrantOwnership(ctx, meta,
		authz.TabularObject(kind, created.ID), authz.NamespaceObject(ns.ID)); err != nil {
		LoggerFromContext(ctx).Error("failed to write ownership tuples", "error", err)
	}
	s.emit(events.CreateTabularEvent{Tabular: *created, Metadata: events.NewMetadata(meta)})
	writeJSON(w, r, http.StatusOK, loadTabularResponse(ns.Ident, created))
}

func (s *Server) handleLoadTabular(w http.ResponseWriter, r *http.Request, kind domain.TabularKind) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.resolveWarehouse(r, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tab, ns, err := s.loadTabular(r, meta, wh, kind, authz.TabularCanGetMetadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, loadTabularResponse(ns, tab))
}

func (s *Server) handleHeadTabular(w http.ResponseWriter, r *http.Request, kind domain.TabularKind) {
	meta := MetadataFromContext(r.Context())
	wh, err := s.resolveWarehouse(r, meta)
	if err != nil {
		w.WriteHeader(domain.ErrorModel(err).Code)
		return
	}
	if _, _, err := s.loadTabular(r, meta, wh, kind, authz.TabularCanGetMetadata); err != nil {
		w.WriteHeader(domain.ErrorModel(err).Code)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommitTabular(w http.ResponseWriter, r *http.Request, kind domain.TabularKind) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	if err := s.requireLicense(false); err != nil {
		writeError(w, r, err)
		return
	}
	wh, err := s.resolveWarehouse(r, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tab, ns, err := s.loadTabular(r, meta, wh, kind, authz.TabularCanCommit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CommitTabularRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.MetadataLocation == "" {
		writeError(w, r, domain.BadRequest("metadata-location is required"))
		return
	}

	var committed *domain.Tabular
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		var err error
		committed, err = tx.CommitTabular(ctx, catalog.TabularCommit{
			TabularID:                tab.ID,
			ExpectedMetadataLocation: req.ExpectedMetadataLocation,
			NewMetadataLocation:      req.MetadataLocation,
		})
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.emit(events.CommitTabularEvent{Tabular: *committed, Metadata: events.NewMetadata(meta)})
	writeJSON(w, r, http.StatusOK, loadTabularResponse(ns, committed))
}

func (s *Server) handleDropTabular(w http.ResponseWriter, r *http.Request, kind domain.TabularKind) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.resolveWarehouse(r, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tab, _, err := s.loadTabular(r, meta, wh, kind, authz.TabularCanDrop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purgeRequested"))

	var dropped *domain.Tabular
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		var err error
		dropped, err = tx.DropTabular(ctx, tab.ID, purge, wh.TabularDeleteProfile)
		if err != nil {
			return err
		}
		return enqueuePurges(ctx, tx, wh, []domain.Tabular{*dropped}, purge)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.emit(events.DropTabularEvent{Tabular: *dropped, Purged: purge, Metadata: events.NewMetadata(meta)})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRenameTabular(w http.ResponseWriter, r *http.Request, kind domain.TabularKind) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.resolveWarehouse(r, meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req RenameTabularRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	srcNS, err := domain.NewNamespaceIdent(req.Source.Namespace)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dstNS, err := domain.NewNamespaceIdent(req.Destination.Namespace)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Destination.Name == "" {
		writeError(w, r, &domain.Error{
			Type:    domain.ErrTypeTableIdentifierInvalid,
			Code:    http.StatusBadRequest,
			Message: "destination name is required",
		})
		return
	}

	source := domain.TabularIdent{Namespace: srcNS, Name: req.Source.Name}
	tab, lookupErr := s.Catalog.GetTabularByIdent(ctx, wh.ID, kind, source)
	tab, err = s.Authz.RequireTabularAction(ctx, meta, wh.ID, kind, tab, lookupErr, authz.TabularCanRename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dest := domain.TabularIdent{Namespace: dstNS, Name: req.Destination.Name}

	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		return tx.RenameTabular(ctx, tab.ID, dest)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.emit(events.RenameTabularEvent{TabularID: tab.ID, To: dest, Metadata: events.NewMetadata(meta)})
	w.WriteHeader(http.StatusNoContent)
}

// tabularLocation lays out a default location under the warehouse base.
func tabularLocation(wh *domain.Warehouse, ns domain.NamespaceIdent, name string) string {
	location := wh.StorageProfile.BaseLocation()
	for _, segment := range ns {
		location += "/" + segment
	}
	return location + "/" + name
}

// --- kind-specific route bindings ---

func (s *Server) HandleListTables(w http.ResponseWriter, r *http.Request) {
	s.handleListTabulars(w, r, domain.TabularKindTable)
}

func (s *Server) HandleCreateTable(w http.ResponseWriter, r *http.Request) {
	s.handleCreateTabular(w, r, domain.TabularKindTable)
}

func (s *Server) HandleLoadTable(w http.ResponseWriter, r *http.Request) {
	s.handleLoadTabular(w, r, domain.TabularKindTable)
}

func (s *Server) HandleHeadTable(w http.ResponseWriter, r *http.Request) {
	s.handleHeadTabular(w, r, domain.TabularKindTable)
}

func (s *Server) HandleCommitTable(w http.ResponseWriter, r *http.Request) {
	s.handleCommitTabular(w, r, domain.TabularKindTable)
}

func (s *Server) HandleDropTable(w http.ResponseWriter, r *http.Request) {
	s.handleDropTabular(w, r, domain.TabularKindTable)
}

func (s *Server) HandleRenameTable(w http.ResponseWriter, r *http.Request) {
	s.handleRenameTabular(w, r, domain.TabularKindTable)
}

func (s *Server) HandleListViews(w http.ResponseWriter, r *http.Request) {
	s.handleListTabulars(w, r, domain.TabularKindView)
}

func (s *Server) HandleCreateView(w http.ResponseWriter, r *http.Request) {
	s.handleCreateTabular(w, r, domain.TabularKindView)
}

func (s *Server) HandleLoadView(w http.ResponseWriter, r *http.Request) {
	s.handleLoadTabular(w, r, domain.TabularKindView)
}

func (s *Server) HandleHeadView(w http.ResponseWriter, r *http.Request) {
	s.handleHeadTabular(w, r, domain.TabularKindView)
}

func (s *Server) HandleCommitView(w http.ResponseWriter, r *http.Request) {
	s.handleCommitTabular(w, r, domain.TabularKindView)
}

func (s *Server) HandleDropView(w http.ResponseWriter, r *http.Request) {
	s.handleDropTabular(w, r, domain.TabularKindView)
}

func (s *Server) HandleRenameView(w http.ResponseWriter, r *http.Request) {
	s.handleRenameTabular(w, r, domain.TabularKindView)
}

// HandleReportMetrics accepts scan and commit metrics reports from clients.
// Reports are discarded; the endpoint exists so compliant clients do not
// log errors after every scan.
func (s *Server) HandleReportMetrics(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
