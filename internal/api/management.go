package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lakekeeper/lakekeeper/internal/authz"
	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/lakekeeper/lakekeeper/internal/events"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// BootstrapRequest opens the deployment. The caller becomes the initial
// server admin.
type BootstrapRequest struct {
	AcceptTermsOfUse bool `json:"accept-terms-of-use"`
}

// ServerInfoResponse is the /info payload.
type ServerInfoResponse struct {
	Version          string               `json:"version"`
	ServerID         domain.ServerID      `json:"server-id"`
	Bootstrapped     bool                 `json:"bootstrapped"`
	DefaultProjectID domain.ProjectID     `json:"default-project-id,omitempty"`
	License          domain.LicenseStatus `json:"license"`
}

// CreateProjectRequest registers a tenant. ProjectID is optional; when
// empty the name doubles as the id after slug validation.
type CreateProjectRequest struct {
	ProjectID string `json:"project-id"`
	Name      string `json:"project-name"`
}

type ListProjectsResponse struct {
	Projects []domain.Project `json:"projects"`
}

type RenameRequest struct {
	NewName string `json:"new-name"`
}

// CreateWarehouseRequest attaches a storage profile to a project. The
// credential is stored in the secret backend, never in the catalog.
type CreateWarehouseRequest struct {
	Name              string                      `json:"warehouse-name"`
	StorageProfile    domain.StorageProfile       `json:"storage-profile"`
	StorageCredential json.RawMessage             `json:"storage-credential,omitempty"`
	DeleteProfile     domain.TabularDeleteProfile `json:"delete-profile"`
}

type CreateWarehouseResponse struct {
	WarehouseID domain.WarehouseID `json:"warehouse-id"`
}

type ListWarehousesResponse struct {
	Warehouses []domain.Warehouse `json:"warehouses"`
}

type ProtectionRequest struct {
	Protected bool `json:"protected"`
}

type ListDeletedTabularsResponse struct {
	Tabulars []domain.Tabular `json:"tabulars"`
}

type UndropTabularsRequest struct {
	Targets []string `json:"targets"`
}

type WarehouseStatisticsResponse struct {
	WarehouseID domain.WarehouseID           `json:"warehouse-id"`
	Stats       []domain.WarehouseStatistics `json:"stats"`
}

type CreateRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type ListRolesResponse struct {
	Roles []domain.Role `json:"roles"`
}

type ListUsersResponse struct {
	Users []domain.User `json:"users"`
}

type ProvisionUserRequest struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email,omitempty"`
	UserType domain.UserType `json:"user-type,omitempty"`
}

type ListTasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

// projectFromMeta resolves the request tenant from the x-project-id header
// or the configured default.
func projectFromMeta(meta *domain.RequestMetadata) (domain.ProjectID, error) {
	if meta.ProjectID == nil {
		return "", domain.BadRequest("no project id: set the x-project-id header or configure a default project")
	}
	return *meta.ProjectID, nil
}

// --- server ---

func (s *Server) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	var req BootstrapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.AcceptTermsOfUse {
		writeError(w, r, domain.BadRequest("terms of use must be accepted to bootstrap"))
		return
	}

	var server *domain.Server
	err := catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		var err error
		server, err = tx.BootstrapServer(ctx, req.AcceptTermsOfUse)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.Authz.SetServerID(server.ServerID)
	// The bootstrapping principal becomes the server owner.
	if err := s.Authz.GrantOwnership(ctx, meta, authz.ServerObject(server.ServerID), ""); err != nil {
		LoggerFromContext(ctx).Error("failed to write ownership tuples", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleServerInfo(w http.ResponseWriter, r *http.Request) {
	server, err := s.Catalog.ServerInfo(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ServerInfoResponse{
		Version:          Version,
		ServerID:         server.ServerID,
		Bootstrapped:     !server.OpenForBootstrap,
		DefaultProjectID: s.DefaultProject,
		License:          s.licenseStatus(),
	})
}

// --- projects ---

func (s *Server) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	if err := s.Authz.RequireServerAction(ctx, meta, authz.ServerCanCreateProject); err != nil {
		writeError(w, r, err)
		return
	}
	var req CreateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, domain.BadRequest("project-name is required"))
		return
	}
	rawID := req.ProjectID
	if rawID == "" {
		rawID = req.Name
	}
	projectID, err := domain.ParseProjectID(rawID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var project *domain.Project
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		var err error
		project, err = tx.CreateProject(ctx, projectID, req.Name)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.Authz.GrantOwnership(ctx, meta, authz.ProjectObject(project.ProjectID), ""); err != nil {
		LoggerFromContext(ctx).Error("failed to write ownership tuples", "error", err)
	}
	s.emit(events.CreateProjectEvent{Project: *project, Metadata: events.NewMetadata(meta)})
	writeJSON(w, r, http.StatusCreated, project)
}

func (s *Server) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	if err := s.Authz.RequireServerAction(ctx, meta, authz.ServerCanListProjects); err != nil {
		writeError(w, r, err)
		return
	}
	projects, err := s.Catalog.ListProjects(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ListProjectsResponse{Projects: projects})
}

// loadProject resolves the route project through the mediator.
func (s *Server) loadProject(r *http.Request, meta *domain.RequestMetadata, action authz.ProjectAction) (*domain.Project, error) {
	id, err := domain.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		return nil, err
	}
	project, lookupErr := s.Catalog.GetProject(r.Context(), id)
	return s.Authz.RequireProjectAction(r.Context(), meta, project, lookupErr, action)
}

func (s *Server) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	meta := MetadataFromContext(r.Context())
	project, err := s.loadProject(r, meta, authz.ProjectCanGetMetadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, project)
}

func (s *Server) HandleRenameProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	project, err := s.loadProject(r, meta, authz.ProjectCanRename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req RenameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.NewName == "" {
		writeError(w, r, domain.BadRequest("new-name is required"))
		return
	}
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		return tx.RenameProject(ctx, project.ProjectID, req.NewName)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleDeleteProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	project, err := s.loadProject(r, meta, authz.ProjectCanDelete)
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		return tx.DeleteProject(ctx, project.ProjectID)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.Authz.RevokeEntity(ctx, meta, authz.ProjectObject(project.ProjectID), ""); err != nil {
		LoggerFromContext(ctx).Error("failed to remove ownership tuples", "error", err)
	}
	s.emit(events.DeleteProjectEvent{ProjectID: project.ProjectID, Metadata: events.NewMetadata(meta)})
	w.WriteHeader(http.StatusNoContent)
}

// --- warehouses ---

func (s *Server) HandleCreateWarehouse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	projectID, err := projectFromMeta(meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	project, lookupErr := s.Catalog.GetProject(ctx, projectID)
	project, err = s.Authz.RequireProjectAction(ctx, meta, project, lookupErr, authz.ProjectCanCreateWarehouse)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CreateWarehouseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, domain.BadRequest("warehouse-name is required"))
		return
	}
	if err := req.StorageProfile.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if req.DeleteProfile.Kind == "" {
		req.DeleteProfile.Kind = domain.DeleteProfileHard
	}
	if s.Storage != nil {
		if err := s.Storage.Validate(ctx, req.StorageProfile, req.StorageCredential); err != nil {
			writeError(w, r, err)
			return
		}
	}

	var secretID *domain.SecretID
	if len(req.StorageCredential) > 0 {
		id, err := s.Secrets.Store(ctx, req.StorageCredential)
		if err != nil {
			writeError(w, r, err)
			return
		}
		secretID = &id
	}

	wh := &domain.Warehouse{
		ID:                   domain.NewWarehouseID(),
		ProjectID:            project.ProjectID,
		Name:                 req.Name,
		StorageProfile:       req.StorageProfile,
		StorageSecretID:      secretID,
		Status:               domain.WarehouseStatusActive,
		TabularDeleteProfile: req.DeleteProfile,
	}
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		var err error
		wh, err = tx.CreateWarehouse(ctx, wh)
		return err
	})
	if err != nil {
		// The secret outlived a failed create; remove it so it does not leak.
		if secretID != nil {
			if derr := s.Secrets.Delete(ctx, *secretID); derr != nil {
				LoggerFromContext(ctx).Error("failed to delete orphaned storage secret",
					"secret_id", secretID.String(), "error", derr)
			}
		}
		writeError(w, r, err)
		return
	}

	if err := s.Authz.GrantOwnership(ctx, meta,
		authz.WarehouseObject(wh.ID), authz.ProjectObject(project.ProjectID)); err != nil {
		LoggerFromContext(ctx).Error("failed to write ownership tuples", "error", err)
	}
	s.emit(events.CreateWarehouseEvent{Warehouse: *wh, Metadata: events.NewMetadata(meta)})
	writeJSON(w, r, http.StatusCreated, CreateWarehouseResponse{WarehouseID: wh.ID})
}

func (s *Server) HandleListWarehouses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	projectID, err := projectFromMeta(meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	project, lookupErr := s.Catalog.GetProject(ctx, projectID)
	project, err = s.Authz.RequireProjectAction(ctx, meta, project, lookupErr, authz.ProjectCanListWarehouses)
	if err != nil {
		writeError(w, r, err)
		return
	}
	warehouses, err := s.Catalog.ListWarehouses(ctx, project.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	visible := make([]domain.Warehouse, 0, len(warehouses))
	for _, wh := range warehouses {
		decision, err := s.Authz.IsAllowedWarehouseAction(ctx, meta, wh.ID, authz.WarehouseUse)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if decision.Allowed() {
			visible = append(visible, wh)
		}
	}
	writeJSON(w, r, http.StatusOK, ListWarehousesResponse{Warehouses: visible})
}

// loadWarehouseRoute resolves the management route warehouse through the
// mediator. The catalog routes use resolveWarehouse instead; they key on the
// {prefix} parameter.
func (s *Server) loadWarehouseRoute(r *http.Request, meta *domain.RequestMetadata, action authz.WarehouseAction) (*domain.Warehouse, error) {
	id, err := domain.ParseWarehouseID(chi.URLParam(r, "warehouseID"))
	if err != nil {
		return nil, err
	}
	wh, lookupErr := s.Catalog.GetWarehouse(r.Context(), id)
	return s.Authz.RequireWarehouseAction(r.Context(), meta, wh, lookupErr, action)
}

func (s *Server) HandleGetWarehouse(w http.ResponseWriter, r *http.Request) {
	meta := MetadataFromContext(r.Context())
	wh, err := s.loadWarehouseRoute(r, meta, authz.WarehouseCanGetMetadata)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, wh)
}

func (s *Server) HandleDeleteWarehouse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.loadWarehouseRoute(r, meta, authz.WarehouseCanDelete)
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		return tx.DeleteWarehouse(ctx, wh.ID)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if wh.StorageSecretID != nil {
		if err := s.Secrets.Delete(ctx, *wh.StorageSecretID); err != nil {
			LoggerFromContext(ctx).Error("failed to delete storage secret",
				"secret_id", wh.StorageSecretID.String(), "error", err)
		}
	}
	if err := s.Authz.RevokeEntity(ctx, meta,
		authz.WarehouseObject(wh.ID), authz.ProjectObject(wh.ProjectID)); err != nil {
		LoggerFromContext(ctx).Error("failed to remove ownership tuples", "error", err)
	}
	s.emit(events.DeleteWarehouseEvent{WarehouseID: wh.ID, Metadata: events.NewMetadata(meta)})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleRenameWarehouse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.loadWarehouseRoute(r, meta, authz.WarehouseCanRename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req RenameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.NewName == "" {
		writeError(w, r, domain.BadRequest("new-name is required"))
		return
	}
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		return tx.RenameWarehouse(ctx, wh.ID, req.NewName)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.emit(events.UpdateWarehouseEvent{WarehouseID: wh.ID, Change: "rename", Metadata: events.NewMetadata(meta)})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setWarehouseStatus(w http.ResponseWriter, r *http.Request, status domain.WarehouseStatus, change string) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.loadWarehouseRoute(r, meta, authz.WarehouseCanDeactivate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		return tx.SetWarehouseStatus(ctx, wh.ID, status)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.emit(events.UpdateWarehouseEvent{WarehouseID: wh.ID, Change: change, Metadata: events.NewMetadata(meta)})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleActivateWarehouse(w http.ResponseWriter, r *http.Request) {
	s.setWarehouseStatus(w, r, domain.WarehouseStatusActive, "activate")
}

func (s *Server) HandleDeactivateWarehouse(w http.ResponseWriter, r *http.Request) {
	s.setWarehouseStatus(w, r, domain.WarehouseStatusDeactivated, "deactivate")
}

func (s *Server) HandleSetDeleteProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.loadWarehouseRoute(r, meta, authz.WarehouseCanDeactivate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var profile domain.TabularDeleteProfile
	if err := decodeJSON(r, &profile); err != nil {
		writeError(w, r, err)
		return
	}
	switch profile.Kind {
	case domain.DeleteProfileHard, domain.DeleteProfileSoft:
	default:
		writeError(w, r, domain.BadRequest("unknown delete profile type %q", profile.Kind))
		return
	}
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		return tx.SetWarehouseDeleteProfile(ctx, wh.ID, profile)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.emit(events.UpdateWarehouseEvent{WarehouseID: wh.ID, Change: "delete-profile", Metadata: events.NewMetadata(meta)})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleSetWarehouseProtection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.loadWarehouseRoute(r, meta, authz.WarehouseCanModifyProtection)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ProtectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		return tx.SetWarehouseProtected(ctx, wh.ID, req.Protected)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.emit(events.UpdateWarehouseEvent{WarehouseID: wh.ID, Change: "protection", Metadata: events.NewMetadata(meta)})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleWarehouseStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.loadWarehouseRoute(r, meta, authz.WarehouseCanGetStatistics)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("page-size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, domain.BadRequest("page-size must be a positive integer"))
			return
		}
		limit = n
	}
	stats, err := s.Catalog.GetWarehouseStatistics(ctx, wh.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, WarehouseStatisticsResponse{WarehouseID: wh.ID, Stats: stats})
}

func (s *Server) HandleListDeletedTabulars(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.loadWarehouseRoute(r, meta, authz.WarehouseCanListDeleted)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var filter catalog.DeletedTabularsFilter
	if raw := r.URL.Query().Get("namespaceId"); raw != "" {
		nsID, err := domain.ParseNamespaceID(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.NamespaceID = &nsID
	}
	tabs, err := s.Catalog.ListDeletedTabulars(ctx, wh.ID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ListDeletedTabularsResponse{Tabulars: tabs})
}

func (s *Server) HandleUndropTabulars(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	if _, err := s.loadWarehouseRoute(r, meta, authz.WarehouseCanUndrop); err != nil {
		writeError(w, r, err)
		return
	}
	var req UndropTabularsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Targets) == 0 {
		writeError(w, r, domain.BadRequest("targets must not be empty"))
		return
	}
	ids := make([]domain.TabularID, 0, len(req.Targets))
	for _, raw := range req.Targets {
		id, err := domain.ParseTabularID(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ids = append(ids, id)
	}

	var restored []domain.Tabular
	err := catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		var err error
		restored, err = tx.UndropTabulars(ctx, ids)
		if err != nil {
			return err
		}
		for i := range restored {
			id := restored[i].ID
			if _, err := tx.CancelPendingTasks(ctx, catalog.TaskFilter{
				QueueName: domain.QueuePurgeTabular,
				EntityID:  &id,
				States:    []domain.TaskState{domain.TaskStatePending},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	evMeta := events.NewMetadata(meta)
	for i := range restored {
		s.emit(events.UndropTabularEvent{Tabular: restored[i], Metadata: evMeta})
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- protection on children, addressed by id ---

func (s *Server) HandleSetNamespaceProtection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.loadWarehouseRoute(r, meta, authz.WarehouseUse)
	if err != nil {
		writeError(w, r, err)
		return
	}
	nsID, err := domain.ParseNamespaceID(chi.URLParam(r, "namespaceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ns, lookupErr := s.Catalog.GetNamespace(ctx, nsID)
	if ns != nil && ns.WarehouseID != wh.ID {
		ns, lookupErr = nil, domain.NotFound("namespace %q not found", nsID)
	}
	// Clearing protection is as destructive as the drop it unblocks.
	ns, err = s.Authz.RequireNamespaceAction(ctx, meta, wh.ID, ns, lookupErr, authz.NamespaceCanDelete)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ProtectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		return tx.SetNamespaceProtected(ctx, ns.ID, req.Protected)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleSetTabularProtection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	wh, err := s.loadWarehouseRoute(r, meta, authz.WarehouseUse)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tabID, err := domain.ParseTabularID(chi.URLParam(r, "tabularID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	tab, lookupErr := s.Catalog.GetTabular(ctx, tabID)
	kind := domain.TabularKindTable
	if tab != nil {
		kind = tab.Kind
		ns, nsErr := s.Catalog.GetNamespace(ctx, tab.NamespaceID)
		if nsErr != nil {
			writeError(w, r, nsErr)
			return
		}
		if ns.WarehouseID != wh.ID {
			tab, lookupErr = nil, domain.NotFound("tabular %q not found", tabID)
		}
	}
	tab, err = s.Authz.RequireTabularAction(ctx, meta, wh.ID, kind, tab, lookupErr, authz.TabularCanDrop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ProtectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		return tx.SetTabularProtected(ctx, tab.ID, req.Protected)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- roles ---

func (s *Server) HandleCreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	projectID, err := projectFromMeta(meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	project, lookupErr := s.Catalog.GetProject(ctx, projectID)
	project, err = s.Authz.RequireProjectAction(ctx, meta, project, lookupErr, authz.ProjectCanCreateRole)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CreateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, domain.BadRequest("name is required"))
		return
	}

	role := &domain.Role{
		ID:          domain.NewRoleID(),
		ProjectID:   project.ProjectID,
		Name:        req.Name,
		Description: req.Description,
	}
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		var err error
		role, err = tx.CreateRole(ctx, role)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.Authz.GrantOwnership(ctx, meta,
		authz.RoleObject(role.ID), authz.ProjectObject(project.ProjectID)); err != nil {
		LoggerFromContext(ctx).Error("failed to write ownership tuples", "error", err)
	}
	s.emit(events.CreateRoleEvent{Role: *role, Metadata: events.NewMetadata(meta)})
	writeJSON(w, r, http.StatusCreated, role)
}

func (s *Server) HandleListRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	projectID, err := projectFromMeta(meta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	project, lookupErr := s.Catalog.GetProject(ctx, projectID)
	project, err = s.Authz.RequireProjectAction(ctx, meta, project, lookupErr, authz.ProjectCanListRoles)
	if err != nil {
		writeError(w, r, err)
		return
	}
	roles, err := s.Catalog.ListRoles(ctx, project.ProjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ListRolesResponse{Roles: roles})
}

// loadRole resolves the route role through the mediator, scoped to the
// request project.
func (s *Server) loadRole(r *http.Request, meta *domain.RequestMetadata, action authz.RoleAction) (*domain.Role, error) {
	projectID, err := projectFromMeta(meta)
	if err != nil {
		return nil, err
	}
	id, err := domain.ParseRoleID(chi.URLParam(r, "roleID"))
	if err != nil {
		return nil, err
	}
	role, lookupErr := s.Catalog.GetRole(r.Context(), id)
	if role != nil && role.ProjectID != projectID {
		role, lookupErr = nil, domain.NotFound("role %q not found", id)
	}
	return s.Authz.RequireRoleAction(r.Context(), meta, projectID, role, lookupErr, action)
}

func (s *Server) HandleGetRole(w http.ResponseWriter, r *http.Request) {
	meta := MetadataFromContext(r.Context())
	role, err := s.loadRole(r, meta, authz.RoleCanRead)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, role)
}

func (s *Server) HandleDeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	role, err := s.loadRole(r, meta, authz.RoleCanDelete)
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		return tx.DeleteRole(ctx, role.ID)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.Authz.RevokeEntity(ctx, meta,
		authz.RoleObject(role.ID), authz.ProjectObject(role.ProjectID)); err != nil {
		LoggerFromContext(ctx).Error("failed to remove ownership tuples", "error", err)
	}
	s.emit(events.DeleteRoleEvent{RoleID: role.ID, Metadata: events.NewMetadata(meta)})
	w.WriteHeader(http.StatusNoContent)
}

// --- users ---

func (s *Server) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	if err := s.Authz.RequireServerAction(ctx, meta, authz.ServerCanListUsers); err != nil {
		writeError(w, r, err)
		return
	}
	users, err := s.Catalog.ListUsers(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ListUsersResponse{Users: users})
}

func (s *Server) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	userID := domain.UserID(chi.URLParam(r, "userID"))
	// Principals may always read themselves; everyone else needs the
	// server-level listing privilege.
	if userID != meta.Actor {
		if err := s.Authz.RequireServerAction(ctx, meta, authz.ServerCanListUsers); err != nil {
			writeError(w, r, err)
			return
		}
	}
	user, err := s.Catalog.GetUser(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, user)
}

func (s *Server) HandleProvisionUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	var req ProvisionUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	// Self-provisioning updates the caller's own record from its token;
	// provisioning someone else is a server-admin action.
	if req.ID == "" {
		req.ID = string(meta.Actor)
	}
	if req.ID != string(meta.Actor) {
		if err := s.Authz.RequireServerAction(ctx, meta, authz.ServerCanProvisionUser); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.ID == "" {
		writeError(w, r, domain.BadRequest("user id is required when authentication is disabled"))
		return
	}
	if req.UserType == "" {
		req.UserType = domain.UserTypeHuman
	}
	switch req.UserType {
	case domain.UserTypeHuman, domain.UserTypeApplication:
	default:
		writeError(w, r, domain.BadRequest("unknown user type %q", req.UserType))
		return
	}

	user := &domain.User{
		ID:       domain.UserID(req.ID),
		Name:     req.Name,
		Email:    req.Email,
		UserType: req.UserType,
	}
	err := catalog.RunWriteTx(ctx, s.Catalog, func(tx catalog.Transaction) error {
		var err error
		user, err = tx.ProvisionUser(ctx, user)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, user)
}

// --- tasks ---

func (s *Server) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	// Task inspection is a server-operator surface.
	if err := s.Authz.RequireServerAction(ctx, meta, authz.ServerCanListProjects); err != nil {
		writeError(w, r, err)
		return
	}
	filter := catalog.TaskFilter{QueueName: r.URL.Query().Get("queue")}
	if raw := r.URL.Query().Get("state"); raw != "" {
		state := domain.TaskState(raw)
		switch state {
		case domain.TaskStatePending, domain.TaskStateClaimed, domain.TaskStateSucceeded,
			domain.TaskStateFailed, domain.TaskStateCancelled:
		default:
			writeError(w, r, domain.BadRequest("unknown task state %q", raw))
			return
		}
		filter.States = []domain.TaskState{state}
	}
	tasks, err := s.Catalog.ListTasks(ctx, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ListTasksResponse{Tasks: tasks})
}
