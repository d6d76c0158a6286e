// Package domain defines the core catalog types shared across lakekeeperd.
// These types represent the entity graph, not HTTP or database specifics.
//
// Domain types carry json tags because management API responses serialize
// them directly. Where the API shape diverges (Iceberg protocol envelopes,
// computed fields) the api package defines its own response structs.
package domain

import (
	"strings"
	"time"
)

// Server is the deployment singleton, created by the one-time bootstrap call.
type Server struct {
	ServerID         ServerID `json:"server-id"`
	OpenForBootstrap bool     `json:"open-for-bootstrap"`
	TermsAccepted    bool     `json:"terms-accepted"`
}

// Project is the tenant boundary. Warehouses live inside exactly one project.
type Project struct {
	ProjectID ProjectID `json:"project-id"`
	Name      string    `json:"project-name"`
	CreatedAt time.Time `json:"-"`
}

// WarehouseStatus represents the activation state of a warehouse.
type WarehouseStatus string

const (
	WarehouseStatusActive      WarehouseStatus = "active"
	WarehouseStatusDeactivated WarehouseStatus = "inactive"
)

// ValidWarehouseStatus checks if a string is a known warehouse status.
func ValidWarehouseStatus(s string) bool {
	switch WarehouseStatus(s) {
	case WarehouseStatusActive, WarehouseStatusDeactivated:
		return true
	}
	return false
}

// Warehouse attaches a project to a storage profile. Name is unique within
// the project.
type Warehouse struct {
	ID                   WarehouseID          `json:"id"`
	ProjectID            ProjectID            `json:"project-id"`
	Name                 string               `json:"name"`
	StorageProfile       StorageProfile       `json:"storage-profile"`
	StorageSecretID      *SecretID            `json:"-"`
	Status               WarehouseStatus      `json:"status"`
	TabularDeleteProfile TabularDeleteProfile `json:"delete-profile"`
	Protected            bool                 `json:"protected"`
	CreatedAt            time.Time            `json:"-"`
}

// NamespaceIdent is the ordered path of a namespace. Each segment must be
// non-empty and the ident must have at least one segment.
type NamespaceIdent []string

// ParseNamespaceIdent splits a unit-separator (0x1F) encoded multipart
// namespace path, the encoding the Iceberg REST spec uses for nested
// namespaces in URLs.
func ParseNamespaceIdent(s string) (NamespaceIdent, error) {
	if s == "" {
		return nil, &Error{Type: ErrTypeInvalidNamespace, Code: 400, Message: "namespace must not be empty"}
	}
	return NewNamespaceIdent(strings.Split(s, "\x1f"))
}

// NewNamespaceIdent validates segments into a NamespaceIdent.
func NewNamespaceIdent(parts []string) (NamespaceIdent, error) {
	if len(parts) == 0 {
		return nil, &Error{Type: ErrTypeInvalidNamespace, Code: 400, Message: "namespace must have at least one segment"}
	}
	for _, p := range parts {
		if p == "" {
			return nil, &Error{Type: ErrTypeInvalidNamespace, Code: 400, Message: "namespace segments must not be empty"}
		}
	}
	return NamespaceIdent(parts), nil
}

func (n NamespaceIdent) String() string { return strings.Join(n, ".") }

// Parent returns the ident without its last segment, or nil for a top-level
// namespace.
func (n NamespaceIdent) Parent() NamespaceIdent {
	if len(n) <= 1 {
		return nil
	}
	return n[:len(n)-1]
}

// Namespace is a hierarchical container for tabulars. The full ident is
// unique per warehouse; ParentID, when set, belongs to the same warehouse.
type Namespace struct {
	ID          NamespaceID       `json:"namespace-id"`
	WarehouseID WarehouseID       `json:"-"`
	Ident       NamespaceIdent    `json:"namespace"`
	Properties  map[string]string `json:"properties"`
	ParentID    *NamespaceID      `json:"-"`
	Protected   bool              `json:"protected"`
	CreatedAt   time.Time         `json:"-"`
}

// TabularKind discriminates tables from views. Both share soft-delete,
// protection, rename and drop semantics.
type TabularKind string

const (
	TabularKindTable TabularKind = "table"
	TabularKindView  TabularKind = "view"
)

// Tabular is a table or view. Active iff DeletedAt is nil; a soft-deleted
// tabular has DeletedAt set and a scheduled CleanupAt; a purged row no
// longer exists in the store.
type Tabular struct {
	ID                       TabularID   `json:"id"`
	NamespaceID              NamespaceID `json:"namespace-id"`
	Kind                     TabularKind `json:"kind"`
	Name                     string      `json:"name"`
	MetadataLocation         string      `json:"metadata-location"`
	PreviousMetadataLocation *string     `json:"previous-metadata-location,omitempty"`
	Location                 string      `json:"location"`
	DeletedAt                *time.Time  `json:"deleted-at,omitempty"`
	CleanupAt                *time.Time  `json:"cleanup-at,omitempty"`
	Protected                bool        `json:"protected"`
	CreatedAt                time.Time   `json:"created-at"`
}

// Active reports whether the tabular is visible to catalog operations.
func (t *Tabular) Active() bool { return t.DeletedAt == nil }

// TabularIdent names a tabular by namespace path plus name.
type TabularIdent struct {
	Namespace NamespaceIdent `json:"namespace"`
	Name      string         `json:"name"`
}

func (ti TabularIdent) String() string {
	return ti.Namespace.String() + "." + ti.Name
}

// Role groups users for assignment purposes. Names are unique per project.
type Role struct {
	ID          RoleID    `json:"id"`
	ProjectID   ProjectID `json:"project-id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created-at"`
	UpdatedAt   time.Time `json:"updated-at"`
}

// UserType distinguishes humans from machine principals.
type UserType string

const (
	UserTypeHuman       UserType = "human"
	UserTypeApplication UserType = "application"
)

// User is a cross-project principal keyed by the OIDC subject.
type User struct {
	ID            UserID    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	UserType      UserType  `json:"user-type"`
	LastUpdatedAt time.Time `json:"last-updated-at"`
}

// TaskState is the lifecycle state of a queued task.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateClaimed   TaskState = "claimed"
	TaskStateSucceeded TaskState = "succeeded"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// Well-known queue names.
const (
	QueuePurgeTabular = "purge-tabular"
	QueueStatsRefresh = "statistics-refresh"
)

// Task is a durable at-least-once unit of deferred work.
type Task struct {
	ID             TaskID     `json:"task-id"`
	QueueName      string     `json:"queue-name"`
	Payload        []byte     `json:"-"`
	ScheduledFor   time.Time  `json:"scheduled-for"`
	Attempts       int        `json:"attempts"`
	State          TaskState  `json:"state"`
	LeaseExpiresAt *time.Time `json:"lease-expires-at,omitempty"`
	HeartbeatAt    *time.Time `json:"heartbeat-at,omitempty"`
	CreatedAt      time.Time  `json:"created-at"`
}

// WarehouseStatistics is one snapshot row in the per-warehouse time series.
// StatisticsID is a UUIDv7, so ordering by id equals ordering by time.
type WarehouseStatistics struct {
	StatisticsID   StatisticsID `json:"-"`
	WarehouseID    WarehouseID  `json:"-"`
	NumberOfTables int64        `json:"number-of-tables"`
	NumberOfViews  int64        `json:"number-of-views"`
	TakenAt        time.Time    `json:"timestamp"`
}

// EndpointStatBucket is one rollup-window counter row. ValidUntil is the
// exclusive upper bound of the window the count belongs to.
type EndpointStatBucket struct {
	ProjectID   *ProjectID   `json:"project-id,omitempty"`
	WarehouseID *WarehouseID `json:"warehouse-id,omitempty"`
	MatchedPath string       `json:"http-route"`
	StatusCode  int          `json:"status-code"`
	Count       int64        `json:"count"`
	ValidUntil  time.Time    `json:"valid-until"`
}

// LicenseStatus is surfaced on the request context so handlers can fail
// closed on expiry or quota exhaustion.
type LicenseStatus struct {
	Valid     bool       `json:"valid"`
	Expired   bool       `json:"expired"`
	QuotaUsed int64      `json:"quota-used"`
	QuotaMax  int64      `json:"quota-max"` // 0 = unlimited
	ExpiresAt *time.Time `json:"expires-at,omitempty"`
}

// QuotaExceeded reports whether the table quota is exhausted.
func (l LicenseStatus) QuotaExceeded() bool {
	return l.QuotaMax > 0 && l.QuotaUsed >= l.QuotaMax
}
