// Package catalog defines the transactional store contract over the entity
// graph. The postgres package implements it; handlers and background tasks
// consume it. Reads work without a transaction; all writes go through a
// Transaction obtained from BeginWrite, exactly one per request, committed
// on success and rolled back on any error.
package catalog

import (
	"context"
	"time"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// PageToken paginates list operations. Empty Token means first page.
type PageToken struct {
	Token    string
	PageSize int
}

// NamespaceFilter narrows ListNamespaces.
type NamespaceFilter struct {
	// Parent restricts the listing to direct children of the given ident.
	// Nil lists top-level namespaces only.
	Parent domain.NamespaceIdent
}

// DeletedTabularsFilter narrows ListDeletedTabulars.
type DeletedTabularsFilter struct {
	NamespaceID *domain.NamespaceID
}

// TaskFilter selects queued tasks for cancellation or listing.
type TaskFilter struct {
	QueueName string
	// EntityID matches the payload's entity id (used to cancel the pending
	// purge for an undropped tabular).
	EntityID *domain.TabularID
	States   []domain.TaskState
}

// TabularCreate carries the fields needed to register a new table or view.
type TabularCreate struct {
	NamespaceID      domain.NamespaceID
	Kind             domain.TabularKind
	Name             string
	MetadataLocation string
	Location         string
}

// TabularCommit is an atomic metadata pointer swap. The store compares
// ExpectedMetadataLocation with the current pointer and fails with
// ConcurrentModification on mismatch.
type TabularCommit struct {
	TabularID                domain.TabularID
	ExpectedMetadataLocation string
	NewMetadataLocation      string
}

// TaskCreate enqueues deferred work inside the enclosing transaction so the
// task is atomic with the business change that requires it.
type TaskCreate struct {
	QueueName    string
	Payload      []byte
	ScheduledFor time.Time
}

// Store is the read side plus the entry point for writes.
type Store interface {
	// --- server ---
	ServerInfo(ctx context.Context) (*domain.Server, error)

	// --- projects ---
	GetProject(ctx context.Context, id domain.ProjectID) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)

	// --- warehouses ---
	GetWarehouse(ctx context.Context, id domain.WarehouseID) (*domain.Warehouse, error)
	GetWarehouseByName(ctx context.Context, project domain.ProjectID, name string) (*domain.Warehouse, error)
	ListWarehouses(ctx context.Context, project domain.ProjectID) ([]domain.Warehouse, error)

	// --- namespaces ---
	GetNamespace(ctx context.Context, id domain.NamespaceID) (*domain.Namespace, error)
	GetNamespaceByIdent(ctx context.Context, warehouse domain.WarehouseID, ident domain.NamespaceIdent) (*domain.Namespace, error)
	ListNamespaces(ctx context.Context, warehouse domain.WarehouseID, filter NamespaceFilter) ([]domain.Namespace, error)

	// --- tabulars ---
	GetTabular(ctx context.Context, id domain.TabularID) (*domain.Tabular, error)
	GetTabularByIdent(ctx context.Context, warehouse domain.WarehouseID, kind domain.TabularKind, ident domain.TabularIdent) (*domain.Tabular, error)
	ListTabulars(ctx context.Context, namespace domain.NamespaceID, kind domain.TabularKind) ([]domain.Tabular, error)
	ListDeletedTabulars(ctx context.Context, warehouse domain.WarehouseID, filter DeletedTabularsFilter) ([]domain.Tabular, error)
	// ResolveTabularByLocation finds the active tabular whose location is a
	// prefix of the given object-store location, used by the S3 signer's
	// bucket/key inference.
	ResolveTabularByLocation(ctx context.Context, warehouse domain.WarehouseID, location string) (*domain.Tabular, error)

	// --- roles and users ---
	GetRole(ctx context.Context, id domain.RoleID) (*domain.Role, error)
	ListRoles(ctx context.Context, project domain.ProjectID) ([]domain.Role, error)
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	// --- statistics ---
	GetWarehouseStatistics(ctx context.Context, warehouse domain.WarehouseID, limit int) ([]domain.WarehouseStatistics, error)
	RecordEndpointStats(ctx context.Context, buckets []domain.EndpointStatBucket) error

	// --- task queue (consumer side, no request transaction) ---
	ClaimTasks(ctx context.Context, queue string, max int, lease time.Duration) ([]domain.Task, error)
	HeartbeatTask(ctx context.Context, id domain.TaskID, lease time.Duration) error
	CompleteTask(ctx context.Context, id domain.TaskID) error
	// FailTask records a failed attempt. The task returns to pending until
	// attempts exceed maxAttempts, then transitions to failed.
	FailTask(ctx context.Context, id domain.TaskID, maxAttempts int, retryDelay time.Duration) error
	// ReapExpiredLeases reverts claimed tasks whose lease expired back to
	// pending with attempts+1. Returns the number of reaped tasks.
	ReapExpiredLeases(ctx context.Context) (int, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]domain.Task, error)

	// BeginWrite opens the request's single write transaction.
	BeginWrite(ctx context.Context) (Transaction, error)
}

// Transaction is the exclusive write handle. Reads through the transaction
// observe writes made earlier in the same request.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// --- server ---
	BootstrapServer(ctx context.Context, termsAccepted bool) (*domain.Server, error)

	// --- projects ---
	CreateProject(ctx context.Context, id domain.ProjectID, name string) (*domain.Project, error)
	RenameProject(ctx context.Context, id domain.ProjectID, name string) error
	// DeleteProject fails while warehouses exist in the project.
	DeleteProject(ctx context.Context, id domain.ProjectID) error

	// --- warehouses ---
	CreateWarehouse(ctx context.Context, wh *domain.Warehouse) (*domain.Warehouse, error)
	RenameWarehouse(ctx context.Context, id domain.WarehouseID, name string) error
	SetWarehouseStatus(ctx context.Context, id domain.WarehouseID, status domain.WarehouseStatus) error
	SetWarehouseDeleteProfile(ctx context.Context, id domain.WarehouseID, profile domain.TabularDeleteProfile) error
	SetWarehouseProtected(ctx context.Context, id domain.WarehouseID, protected bool) error
	DeleteWarehouse(ctx context.Context, id domain.WarehouseID) error

	// --- namespaces ---
	CreateNamespace(ctx context.Context, ns *domain.Namespace) (*domain.Namespace, error)
	UpdateNamespaceProperties(ctx context.Context, id domain.NamespaceID, updates map[string]string, removals []string) (*domain.Namespace, error)
	SetNamespaceProtected(ctx context.Context, id domain.NamespaceID, protected bool) error
	// DropNamespace fails with EntityNotEmpty semantics unless recursive;
	// recursive drop applies the warehouse delete profile to every
	// descendant tabular atomically.
	DropNamespace(ctx context.Context, id domain.NamespaceID, recursive bool) ([]domain.Tabular, error)
	RenameNamespace(ctx context.Context, id domain.NamespaceID, newIdent domain.NamespaceIdent) error

	// --- tabulars ---
	CreateTabular(ctx context.Context, create TabularCreate) (*domain.Tabular, error)
	CommitTabular(ctx context.Context, commit TabularCommit) (*domain.Tabular, error)
	RenameTabular(ctx context.Context, id domain.TabularID, newIdent domain.TabularIdent) error
	SetTabularProtected(ctx context.Context, id domain.TabularID, protected bool) error
	// DropTabular soft-deletes or removes the row depending on the
	// warehouse delete profile and the purge flag. It returns the dropped
	// row and, for hard deletes, expects the caller to enqueue the purge in
	// the same transaction.
	DropTabular(ctx context.Context, id domain.TabularID, purge bool, profile domain.TabularDeleteProfile) (*domain.Tabular, error)
	// UndropTabulars restores soft-deleted tabulars and reports which purge
	// tasks must be cancelled.
	UndropTabulars(ctx context.Context, ids []domain.TabularID) ([]domain.Tabular, error)
	// PurgeTabular removes a soft-deleted row for good. Returns (nil, nil)
	// when there is nothing to purge: the row is gone already or was
	// undropped after the purge was scheduled.
	PurgeTabular(ctx context.Context, id domain.TabularID) (*domain.Tabular, error)

	// --- roles and users ---
	CreateRole(ctx context.Context, role *domain.Role) (*domain.Role, error)
	DeleteRole(ctx context.Context, id domain.RoleID) error
	ProvisionUser(ctx context.Context, user *domain.User) (*domain.User, error)

	// --- statistics ---
	UpdateWarehouseStatistics(ctx context.Context, warehouse domain.WarehouseID) (*domain.WarehouseStatistics, error)

	// --- task queue (producer side) ---
	EnqueueTask(ctx context.Context, create TaskCreate) (domain.TaskID, error)
	// CancelPendingTasks transitions matching pending tasks to cancelled.
	// Claimed tasks are left alone.
	CancelPendingTasks(ctx context.Context, filter TaskFilter) (int, error)
}
