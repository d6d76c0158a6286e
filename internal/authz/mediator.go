package authz

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// Decision wraps a boolean verdict so call sites read as intent rather than
// a bare bool that is easy to drop on the floor.
type Decision struct {
	allowed bool
}

func (d Decision) Allowed() bool { return d.allowed }

// Mediator resolves store lookups against backend checks. The core rule: a
// caller who may not see an entity learns nothing about its existence. When
// the store reports absence, the mediator still consults the backend with a
// discovery action on the parent; only a positive discovery verdict turns
// the answer into 404, otherwise the caller gets the same 403 it would get
// for an entity it cannot see.
type Mediator struct {
	backend Backend
	logger  *slog.Logger

	mu       sync.RWMutex
	serverID domain.ServerID
}

// NewMediator creates a mediator over the given backend.
func NewMediator(backend Backend, logger *slog.Logger) *Mediator {
	return &Mediator{
		backend: backend,
		logger:  logger.With("component", "authz"),
	}
}

// SetServerID pins the object id used for server-scope checks, known after
// bootstrap or the first ServerInfo read.
func (m *Mediator) SetServerID(id domain.ServerID) {
	m.mu.Lock()
	m.serverID = id
	m.mu.Unlock()
}

func (m *Mediator) serverObject() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ServerObject(m.serverID)
}

// Backend exposes the underlying relationship engine for tuple maintenance
// and health probing.
func (m *Mediator) Backend() Backend { return m.backend }

// isAllowed performs one check with admin bypass. Transport failures come
// back as AuthorizationBackendUnavailable, never as a denial.
func (m *Mediator) isAllowed(ctx context.Context, meta *domain.RequestMetadata, action Action, object string, consistency Consistency) (bool, error) {
	if meta.HasAdminPrivileges {
		return true, nil
	}
	key := TupleKey{User: meta.ActorString(), Relation: action.Relation(), Object: object}
	allowed, err := m.backend.CheckRelation(ctx, key, consistency)
	if err != nil {
		m.logger.ErrorContext(ctx, "authorization check failed",
			"object", object, "relation", action.Relation(), "error", err)
		return false, domain.AuthzUnavailable(err)
	}
	return allowed, nil
}

// require is the shared resolution rule. entity is nil iff lookupErr is set.
// discoverObject names the parent consulted when the entity is absent.
func (m *Mediator) require(ctx context.Context, meta *domain.RequestMetadata, lookupErr error, action Action, object string, discover Action, discoverObject string) error {
	if lookupErr != nil && !domain.IsNotFound(lookupErr) {
		return lookupErr
	}
	if lookupErr != nil {
		canDiscover, err := m.isAllowed(ctx, meta, discover, discoverObject, MinimizeLatency)
		if err != nil {
			return err
		}
		if !canDiscover {
			return domain.Forbidden(action.Scope(), "not allowed to %s", action.Relation())
		}
		return lookupErr
	}
	allowed, err := m.isAllowed(ctx, meta, action, object, MinimizeLatency)
	if err != nil {
		return err
	}
	if !allowed {
		return domain.Forbidden(action.Scope(), "not allowed to %s", action.Relation())
	}
	return nil
}

// RequireServerAction checks an action against the deployment singleton.
func (m *Mediator) RequireServerAction(ctx context.Context, meta *domain.RequestMetadata, action ServerAction) error {
	allowed, err := m.isAllowed(ctx, meta, action, m.serverObject(), MinimizeLatency)
	if err != nil {
		return err
	}
	if !allowed {
		return domain.Forbidden(action.Scope(), "not allowed to %s", action.Relation())
	}
	return nil
}

// RequireProjectAction resolves a project lookup against an action.
func (m *Mediator) RequireProjectAction(ctx context.Context, meta *domain.RequestMetadata, project *domain.Project, lookupErr error, action ProjectAction) (*domain.Project, error) {
	var object string
	if project != nil {
		object = ProjectObject(project.ProjectID)
	}
	err := m.require(ctx, meta, lookupErr, action, object, ServerCanListProjects, m.serverObject())
	if err != nil {
		return nil, err
	}
	return project, nil
}

// RequireWarehouseUse gates every catalog operation that names a warehouse.
// An actor without Use on an existing warehouse, or without warehouse
// discovery on the project when it does not exist, gets the same 403.
func (m *Mediator) RequireWarehouseUse(ctx context.Context, meta *domain.RequestMetadata, wh *domain.Warehouse, lookupErr error) (*domain.Warehouse, error) {
	return m.RequireWarehouseAction(ctx, meta, wh, lookupErr, WarehouseUse)
}

// RequireWarehouseAction resolves a warehouse lookup against an action.
func (m *Mediator) RequireWarehouseAction(ctx context.Context, meta *domain.RequestMetadata, wh *domain.Warehouse, lookupErr error, action WarehouseAction) (*domain.Warehouse, error) {
	var object, discoverObject string
	if wh != nil {
		object = WarehouseObject(wh.ID)
		discoverObject = ProjectObject(wh.ProjectID)
	} else if meta.ProjectID != nil {
		discoverObject = ProjectObject(*meta.ProjectID)
	}
	err := m.require(ctx, meta, lookupErr, action, object, ProjectCanListWarehouses, discoverObject)
	if err != nil {
		return nil, err
	}
	return wh, nil
}

// RequireNamespaceAction resolves a namespace lookup against an action. The
// warehouse must already have passed RequireWarehouseUse.
func (m *Mediator) RequireNamespaceAction(ctx context.Context, meta *domain.RequestMetadata, warehouse domain.WarehouseID, ns *domain.Namespace, lookupErr error, action NamespaceAction) (*domain.Namespace, error) {
	var object string
	if ns != nil {
		object = NamespaceObject(ns.ID)
	}
	err := m.require(ctx, meta, lookupErr, action, object,
		WarehouseCanListNamespaces, WarehouseObject(warehouse))
	if err != nil {
		return nil, err
	}
	return ns, nil
}

// RequireTabularAction resolves a table or view lookup against an action.
func (m *Mediator) RequireTabularAction(ctx context.Context, meta *domain.RequestMetadata, warehouse domain.WarehouseID, kind domain.TabularKind, tab *domain.Tabular, lookupErr error, action TabularAction) (*domain.Tabular, error) {
	var object string
	if tab != nil {
		object = TabularObject(kind, tab.ID)
	}
	err := m.require(ctx, meta, lookupErr, action, object,
		WarehouseCanListEverything, WarehouseObject(warehouse))
	if err != nil {
		return nil, err
	}
	return tab, nil
}

// RequireRoleAction resolves a role lookup against an action.
func (m *Mediator) RequireRoleAction(ctx context.Context, meta *domain.RequestMetadata, project domain.ProjectID, role *domain.Role, lookupErr error, action RoleAction) (*domain.Role, error) {
	var object string
	if role != nil {
		object = RoleObject(role.ID)
	}
	err := m.require(ctx, meta, lookupErr, action, object,
		ProjectCanListRoles, ProjectObject(project))
	if err != nil {
		return nil, err
	}
	return role, nil
}

// IsAllowedNamespaceAction is the branching variant used by list filtering.
func (m *Mediator) IsAllowedNamespaceAction(ctx context.Context, meta *domain.RequestMetadata, id domain.NamespaceID, action NamespaceAction) (Decision, error) {
	allowed, err := m.isAllowed(ctx, meta, action, NamespaceObject(id), MinimizeLatency)
	return Decision{allowed: allowed}, err
}

// IsAllowedTabularAction is the branching variant for tabular checks.
func (m *Mediator) IsAllowedTabularAction(ctx context.Context, meta *domain.RequestMetadata, kind domain.TabularKind, id domain.TabularID, action TabularAction) (Decision, error) {
	allowed, err := m.isAllowed(ctx, meta, action, TabularObject(kind, id), MinimizeLatency)
	return Decision{allowed: allowed}, err
}

// IsAllowedWarehouseAction is the branching variant for warehouse checks.
func (m *Mediator) IsAllowedWarehouseAction(ctx context.Context, meta *domain.RequestMetadata, id domain.WarehouseID, action WarehouseAction) (Decision, error) {
	allowed, err := m.isAllowed(ctx, meta, action, WarehouseObject(id), MinimizeLatency)
	return Decision{allowed: allowed}, err
}

// GrantOwnership records the creator's ownership edge plus the containment
// edge to the parent after an entity is created.
func (m *Mediator) GrantOwnership(ctx context.Context, meta *domain.RequestMetadata, object, parentObject string) error {
	writes := []TupleKey{
		{User: meta.ActorString(), Relation: "ownership", Object: object},
	}
	if parentObject != "" {
		writes = append(writes, TupleKey{User: parentObject, Relation: "parent", Object: object})
	}
	if err := m.backend.WriteTuples(ctx, writes, nil); err != nil {
		return domain.AuthzUnavailable(err)
	}
	return nil
}

// RevokeEntity removes the containment edge when an entity is deleted.
// Ownership edges of other users are left to backend garbage collection.
func (m *Mediator) RevokeEntity(ctx context.Context, meta *domain.RequestMetadata, object, parentObject string) error {
	deletes := []TupleKey{
		{User: meta.ActorString(), Relation: "ownership", Object: object},
	}
	if parentObject != "" {
		deletes = append(deletes, TupleKey{User: parentObject, Relation: "parent", Object: object})
	}
	if err := m.backend.WriteTuples(ctx, nil, deletes); err != nil {
		return domain.AuthzUnavailable(err)
	}
	return nil
}

// HealthCheck probes the backend.
func (m *Mediator) HealthCheck(ctx context.Context) error {
	return m.backend.HealthCheck(ctx)
}
