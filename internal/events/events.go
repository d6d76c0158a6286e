// Package events publishes catalog lifecycle events to registered backends.
// Emission is fire-and-forget from the request path: handlers hand a typed
// event to the dispatcher after the transaction commits and move on.
package events

import (
	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// Event is one committed lifecycle change. EntityID keys the per-entity
// ordering guarantee: events for the same entity reach each backend in
// emission order.
type Event interface {
	Kind() string
	EntityID() string
}

// Metadata snapshots the originating request for every event.
type Metadata struct {
	RequestID string        `json:"request-id"`
	Actor     domain.UserID `json:"actor"`
}

// NewMetadata extracts the event snapshot from request metadata.
func NewMetadata(meta *domain.RequestMetadata) Metadata {
	return Metadata{RequestID: meta.RequestID, Actor: meta.Actor}
}

type CreateProjectEvent struct {
	Project  domain.Project `json:"project"`
	Metadata Metadata       `json:"metadata"`
}

func (e CreateProjectEvent) Kind() string     { return "create-project" }
func (e CreateProjectEvent) EntityID() string { return e.Project.ProjectID.String() }

type DeleteProjectEvent struct {
	ProjectID domain.ProjectID `json:"project-id"`
	Metadata  Metadata         `json:"metadata"`
}

func (e DeleteProjectEvent) Kind() string     { return "delete-project" }
func (e DeleteProjectEvent) EntityID() string { return e.ProjectID.String() }

type CreateWarehouseEvent struct {
	Warehouse domain.Warehouse `json:"warehouse"`
	Metadata  Metadata         `json:"metadata"`
}

func (e CreateWarehouseEvent) Kind() string     { return "create-warehouse" }
func (e CreateWarehouseEvent) EntityID() string { return e.Warehouse.ID.String() }

type UpdateWarehouseEvent struct {
	WarehouseID domain.WarehouseID `json:"warehouse-id"`
	Change      string             `json:"change"`
	Metadata    Metadata           `json:"metadata"`
}

func (e UpdateWarehouseEvent) Kind() string     { return "update-warehouse" }
func (e UpdateWarehouseEvent) EntityID() string { return e.WarehouseID.String() }

type DeleteWarehouseEvent struct {
	WarehouseID domain.WarehouseID `json:"warehouse-id"`
	Metadata    Metadata           `json:"metadata"`
}

func (e DeleteWarehouseEvent) Kind() string     { return "delete-warehouse" }
func (e DeleteWarehouseEvent) EntityID() string { return e.WarehouseID.String() }

type CreateNamespaceEvent struct {
	Namespace domain.Namespace `json:"namespace"`
	Metadata  Metadata         `json:"metadata"`
}

func (e CreateNamespaceEvent) Kind() string     { return "create-namespace" }
func (e CreateNamespaceEvent) EntityID() string { return e.Namespace.ID.String() }

type DropNamespaceEvent struct {
	NamespaceID domain.NamespaceID `json:"namespace-id"`
	Ident       string             `json:"ident"`
	Metadata    Metadata           `json:"metadata"`
}

func (e DropNamespaceEvent) Kind() string     { return "drop-namespace" }
func (e DropNamespaceEvent) EntityID() string { return e.NamespaceID.String() }

type CreateTabularEvent struct {
	Tabular  domain.Tabular `json:"tabular"`
	Metadata Metadata       `json:"metadata"`
}

func (e CreateTabularEvent) Kind() string {
	if e.Tabular.Kind == domain.TabularKindView {
		return "create-view"
	}
	return "create-table"
}
func (e CreateTabularEvent) EntityID() string { return e.Tabular.ID.String() }

type CommitTabularEvent struct {
	Tabular  domain.Tabular `json:"tabular"`
	Metadata Metadata       `json:"metadata"`
}

func (e CommitTabularEvent) Kind() string {
	if e.Tabular.Kind == domain.TabularKindView {
		return "commit-view"
	}
	return "commit-table"
}
func (e CommitTabularEvent) EntityID() string { return e.Tabular.ID.String() }

type DropTabularEvent struct {
	Tabular  domain.Tabular `json:"tabular"`
	Purged   bool           `json:"purged"`
	Metadata Metadata       `json:"metadata"`
}

func (e DropTabularEvent) Kind() string {
	if e.Tabular.Kind == domain.TabularKindView {
		return "drop-view"
	}
	return "drop-table"
}
func (e DropTabularEvent) EntityID() string { return e.Tabular.ID.String() }

type RenameTabularEvent struct {
	TabularID domain.TabularID    `json:"tabular-id"`
	To        domain.TabularIdent `json:"to"`
	Metadata  Metadata            `json:"metadata"`
}

func (e RenameTabularEvent) Kind() string     { return "rename-tabular" }
func (e RenameTabularEvent) EntityID() string { return e.TabularID.String() }

type UndropTabularEvent struct {
	Tabular  domain.Tabular `json:"tabular"`
	Metadata Metadata       `json:"metadata"`
}

func (e UndropTabularEvent) Kind() string     { return "undrop-tabular" }
func (e UndropTabularEvent) EntityID() string { return e.Tabular.ID.String() }

type CreateRoleEvent struct {
	Role     domain.Role `json:"role"`
	Metadata Metadata    `json:"metadata"`
}

func (e CreateRoleEvent) Kind() string     { return "create-role" }
func (e CreateRoleEvent) EntityID() string { return e.Role.ID.String() }

type DeleteRoleEvent struct {
	RoleID   domain.RoleID `json:"role-id"`
	Metadata Metadata      `json:"metadata"`
}

func (e DeleteRoleEvent) Kind() string     { return "delete-role" }
func (e DeleteRoleEvent) EntityID() string { return e.RoleID.String() }
