// Package authz mediates between HTTP handlers and the relationship-based
// authorization backend. Handlers never consult the backend directly: they
// hand the mediator a store lookup result plus a named action, and get back
// either the resolved entity or a structured denial.
package authz

// Action is a named capability on a specific entity scope. The Relation
// method yields the fixed relation string used in backend tuples.
type Action interface {
	Relation() string
	Scope() string
}

// ServerAction is checked against the deployment singleton.
type ServerAction string

const (
	ServerCanCreateProject ServerAction = "can_create_project"
	ServerCanListProjects  ServerAction = "can_list_all_projects"
	ServerCanListUsers     ServerAction = "can_list_users"
	ServerCanProvisionUser ServerAction = "can_provision_users"
	ServerCanBootstrap     ServerAction = "can_bootstrap"
)

func (a ServerAction) Relation() string { return string(a) }
func (a ServerAction) Scope() string    { return "Server" }

// ProjectAction is checked against a project.
type ProjectAction string

const (
	ProjectCanCreateWarehouse ProjectAction = "can_create_warehouse"
	ProjectCanListWarehouses  ProjectAction = "can_list_warehouses"
	ProjectCanCreateRole      ProjectAction = "can_create_role"
	ProjectCanListRoles       ProjectAction = "can_list_roles"
	ProjectCanDelete          ProjectAction = "can_delete"
	ProjectCanRename          ProjectAction = "can_rename"
	ProjectCanGetMetadata     ProjectAction = "can_get_metadata"
)

func (a ProjectAction) Relation() string { return string(a) }
func (a ProjectAction) Scope() string    { return "Project" }

// WarehouseAction is checked against a warehouse.
type WarehouseAction string

const (
	WarehouseUse                 WarehouseAction = "can_use"
	WarehouseCanListNamespaces   WarehouseAction = "can_list_namespaces"
	WarehouseCanCreateNamespace  WarehouseAction = "can_create_namespace"
	WarehouseCanListEverything   WarehouseAction = "can_list_everything"
	WarehouseCanDeactivate       WarehouseAction = "can_deactivate"
	WarehouseCanDelete           WarehouseAction = "can_delete"
	WarehouseCanRename           WarehouseAction = "can_rename"
	WarehouseCanModifyProtection WarehouseAction = "can_set_protection"
	WarehouseCanGetMetadata      WarehouseAction = "can_get_metadata"
	WarehouseCanListDeleted      WarehouseAction = "can_list_deleted_tabulars"
	WarehouseCanUndrop           WarehouseAction = "can_undrop"
	WarehouseCanGetStatistics    WarehouseAction = "can_get_statistics"
)

func (a WarehouseAction) Relation() string { return string(a) }
func (a WarehouseAction) Scope() string    { return "Warehouse" }

// NamespaceAction is checked against a namespace.
type NamespaceAction string

const (
	NamespaceCanListNamespaces NamespaceAction = "can_list_namespaces"
	NamespaceCanCreateTable    NamespaceAction = "can_create_table"
	NamespaceCanCreateView     NamespaceAction = "can_create_view"
	NamespaceCanListEverything NamespaceAction = "can_list_everything"
	NamespaceCanDelete         NamespaceAction = "can_delete"
	NamespaceCanUpdate         NamespaceAction = "can_update_properties"
	NamespaceCanGetMetadata    NamespaceAction = "can_get_metadata"
)

func (a NamespaceAction) Relation() string { return string(a) }
func (a NamespaceAction) Scope() string    { return "Namespace" }

// TabularAction is checked against a table or view.
type TabularAction string

const (
	TabularCanDrop        TabularAction = "can_drop"
	TabularCanRename      TabularAction = "can_rename"
	TabularCanCommit      TabularAction = "can_commit"
	TabularCanGetData     TabularAction = "can_read_data"
	TabularCanWriteData   TabularAction = "can_write_data"
	TabularCanGetMetadata TabularAction = "can_get_metadata"
)

func (a TabularAction) Relation() string { return string(a) }
func (a TabularAction) Scope() string    { return "Table" }

// RoleAction is checked against a role.
type RoleAction string

const (
	RoleCanAssign RoleAction = "can_assign"
	RoleCanRead   RoleAction = "can_read"
	RoleCanDelete RoleAction = "can_delete"
)

func (a RoleAction) Relation() string { return string(a) }
func (a RoleAction) Scope() string    { return "Role" }
