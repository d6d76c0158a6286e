package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Every identifier in the catalog is a distinct type. A WarehouseID can never
// be passed where a NamespaceID is expected, which removes a whole class of
// cross-entity confusion bugs at compile time.

// ProjectID is the tenant identifier. Unlike the UUID-based ids it is a
// caller-chosen slug: non-empty alphanumerics plus '-' and '_'.
type ProjectID string

// ParseProjectID validates a project id string.
func ParseProjectID(s string) (ProjectID, error) {
	if s == "" {
		return "", &Error{Type: ErrTypeMalformedProjectID, Code: 400, Message: "project id must not be empty"}
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return "", &Error{
				Type:    ErrTypeMalformedProjectID,
				Code:    400,
				Message: fmt.Sprintf("project id %q contains invalid character %q", s, c),
			}
		}
	}
	return ProjectID(s), nil
}

func (id ProjectID) String() string { return string(id) }

// UUID-backed identifiers.
type (
	ServerID    uuid.UUID
	WarehouseID uuid.UUID
	NamespaceID uuid.UUID
	TabularID   uuid.UUID
	TableID     uuid.UUID
	ViewID      uuid.UUID
	RoleID      uuid.UUID
	SecretID    uuid.UUID
	TaskID      uuid.UUID
	// StatisticsID identifies a warehouse statistics snapshot.
	StatisticsID uuid.UUID
)

// UserID is the OIDC subject (or a generated value for internal users).
type UserID string

func (id UserID) String() string { return string(id) }

func (id ServerID) String() string    { return uuid.UUID(id).String() }
func (id WarehouseID) String() string { return uuid.UUID(id).String() }
func (id NamespaceID) String() string { return uuid.UUID(id).String() }
func (id TabularID) String() string   { return uuid.UUID(id).String() }
func (id TableID) String() string     { return uuid.UUID(id).String() }
func (id ViewID) String() string      { return uuid.UUID(id).String() }
func (id RoleID) String() string      { return uuid.UUID(id).String() }
func (id SecretID) String() string    { return uuid.UUID(id).String() }
func (id TaskID) String() string      { return uuid.UUID(id).String() }

func (id StatisticsID) String() string { return uuid.UUID(id).String() }

// The UUID-backed ids travel through JSON payloads and task queues, so they
// marshal as canonical UUID strings rather than raw byte arrays.
func (id ServerID) MarshalText() ([]byte, error)    { return []byte(uuid.UUID(id).String()), nil }
func (id WarehouseID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }
func (id NamespaceID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }
func (id TabularID) MarshalText() ([]byte, error)   { return []byte(uuid.UUID(id).String()), nil }
func (id TableID) MarshalText() ([]byte, error)     { return []byte(uuid.UUID(id).String()), nil }
func (id ViewID) MarshalText() ([]byte, error)      { return []byte(uuid.UUID(id).String()), nil }
func (id RoleID) MarshalText() ([]byte, error)      { return []byte(uuid.UUID(id).String()), nil }
func (id SecretID) MarshalText() ([]byte, error)    { return []byte(uuid.UUID(id).String()), nil }
func (id TaskID) MarshalText() ([]byte, error)      { return []byte(uuid.UUID(id).String()), nil }

func (id StatisticsID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *ServerID) UnmarshalText(b []byte) error {
	u, err := parseUUID("server", string(b))
	*id = ServerID(u)
	return err
}

func (id *WarehouseID) UnmarshalText(b []byte) error {
	u, err := parseUUID("warehouse", string(b))
	*id = WarehouseID(u)
	return err
}

func (id *NamespaceID) UnmarshalText(b []byte) error {
	u, err := parseUUID("namespace", string(b))
	*id = NamespaceID(u)
	return err
}

func (id *TabularID) UnmarshalText(b []byte) error {
	u, err := parseUUID("tabular", string(b))
	*id = TabularID(u)
	return err
}

func (id *TableID) UnmarshalText(b []byte) error {
	u, err := parseUUID("table", string(b))
	*id = TableID(u)
	return err
}

func (id *ViewID) UnmarshalText(b []byte) error {
	u, err := parseUUID("view", string(b))
	*id = ViewID(u)
	return err
}

func (id *RoleID) UnmarshalText(b []byte) error {
	u, err := parseUUID("role", string(b))
	*id = RoleID(u)
	return err
}

func (id *SecretID) UnmarshalText(b []byte) error {
	u, err := parseUUID("secret", string(b))
	*id = SecretID(u)
	return err
}

func (id *TaskID) UnmarshalText(b []byte) error {
	u, err := parseUUID("task", string(b))
	*id = TaskID(u)
	return err
}

func (id *StatisticsID) UnmarshalText(b []byte) error {
	u, err := parseUUID("statistics", string(b))
	*id = StatisticsID(u)
	return err
}

func NewWarehouseID() WarehouseID { return WarehouseID(uuid.New()) }
func NewNamespaceID() NamespaceID { return NamespaceID(uuid.New()) }
func NewTabularID() TabularID     { return TabularID(uuid.New()) }
func NewRoleID() RoleID           { return RoleID(uuid.New()) }
func NewSecretID() SecretID       { return SecretID(uuid.New()) }
func NewServerID() ServerID       { return ServerID(uuid.New()) }

// NewTaskID returns a time-ordered (v7) task id so queue scans stay
// index-friendly.
func NewTaskID() TaskID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source does; fall back to v4.
		return TaskID(uuid.New())
	}
	return TaskID(id)
}

// NewStatisticsID is a v7 id for the same reason: snapshots list newest
// first by id.
func NewStatisticsID() StatisticsID {
	id, err := uuid.NewV7()
	if err != nil {
		return StatisticsID(uuid.New())
	}
	return StatisticsID(id)
}

func parseUUID(kind, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, &Error{
			Type:    ErrTypeEntityNotFound,
			Code:    400,
			Message: fmt.Sprintf("malformed %s id %q", kind, s),
			cause:   err,
		}
	}
	return id, nil
}

func ParseWarehouseID(s string) (WarehouseID, error) {
	id, err := parseUUID("warehouse", s)
	return WarehouseID(id), err
}

func ParseNamespaceID(s string) (NamespaceID, error) {
	id, err := parseUUID("namespace", s)
	return NamespaceID(id), err
}

func ParseTabularID(s string) (TabularID, error) {
	id, err := parseUUID("tabular", s)
	return TabularID(id), err
}

func ParseRoleID(s string) (RoleID, error) {
	id, err := parseUUID("role", s)
	return RoleID(id), err
}

func ParseSecretID(s string) (SecretID, error) {
	id, err := parseUUID("secret", s)
	return SecretID(id), err
}

func ParseTaskID(s string) (TaskID, error) {
	id, err := parseUUID("task", s)
	return TaskID(id), err
}

// TableID and ViewID are views over TabularID for operations where the kind
// is statically known.
func (id TabularID) AsTable() TableID { return TableID(id) }
func (id TabularID) AsView() ViewID   { return ViewID(id) }
func (id TableID) Tabular() TabularID { return TabularID(id) }
func (id ViewID) Tabular() TabularID  { return TabularID(id) }
