package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lakekeeper/lakekeeper/internal/api"
	"github.com/lakekeeper/lakekeeper/internal/authz"
	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memCatalog is an in-memory catalog.Store used to drive handlers through
// httptest without a database. Writes go through memTx, which mutates the
// maps directly; Commit and Rollback are no-ops, so a handler bug that
// half-applies a change before failing shows up in assertions.
type memCatalog struct {
	mu         sync.Mutex
	server     *domain.Server
	projects   map[domain.ProjectID]*domain.Project
	warehouses map[domain.WarehouseID]*domain.Warehouse
	namespaces map[domain.NamespaceID]*domain.Namespace
	tabulars   map[domain.TabularID]*domain.Tabular
	roles      map[domain.RoleID]*domain.Role
	users      map[domain.UserID]*domain.User
	tasks      map[domain.TaskID]*domain.Task
	whStats    map[domain.WarehouseID][]domain.WarehouseStatistics
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		projects:   make(map[domain.ProjectID]*domain.Project),
		warehouses: make(map[domain.WarehouseID]*domain.Warehouse),
		namespaces: make(map[domain.NamespaceID]*domain.Namespace),
		tabulars:   make(map[domain.TabularID]*domain.Tabular),
		roles:      make(map[domain.RoleID]*domain.Role),
		users:      make(map[domain.UserID]*domain.User),
		tasks:      make(map[domain.TaskID]*domain.Task),
		whStats:    make(map[domain.WarehouseID][]domain.WarehouseStatistics),
	}
}

// --- read side ---

func (c *memCatalog) ServerInfo(ctx context.Context) (*domain.Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server == nil {
		return nil, domain.NotFound("server is not bootstrapped")
	}
	server := *c.server
	return &server, nil
}

func (c *memCatalog) GetProject(ctx context.Context, id domain.ProjectID) (*domain.Project, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.projects[id]
	if !ok {
		return nil, domain.NotFound("project %q not found", id)
	}
	project := *p
	return &project, nil
}

func (c *memCatalog) ListProjects(ctx context.Context) ([]domain.Project, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]domain.Project, 0, len(c.projects))
	for _, p := range c.projects {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (c *memCatalog) GetWarehouse(ctx context.Context, id domain.WarehouseID) (*domain.Warehouse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wh, ok := c.warehouses[id]
	if !ok {
		return nil, domain.NotFound("warehouse %s not found", id)
	}
	warehouse := *wh
	return &warehouse, nil
}

func (c *memCatalog) GetWarehouseByName(ctx context.Context, project domain.ProjectID, name string) (*domain.Warehouse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, wh := range c.warehouses {
		if wh.ProjectID == project && wh.Name == name {
			warehouse := *wh
			return &warehouse, nil
		}
	}
	return nil, domain.NotFound("warehouse %q not found in project %q", name, project)
}

func (c *memCatalog) ListWarehouses(ctx context.Context, project domain.ProjectID) ([]domain.Warehouse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []domain.Warehouse
	for _, wh := range c.warehouses {
		if wh.ProjectID == project {
			result = append(result, *wh)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (c *memCatalog) GetNamespace(ctx context.Context, id domain.NamespaceID) (*domain.Namespace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.namespaces[id]
	if !ok {
		return nil, domain.NotFound("namespace %s not found", id)
	}
	namespace := *ns
	namespace.Properties = maps.Clone(ns.Properties)
	return &namespace, nil
}

func (c *memCatalog) GetNamespaceByIdent(ctx context.Context, warehouse domain.WarehouseID, ident domain.NamespaceIdent) (*domain.Namespace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ns := c.namespaceByIdentLocked(warehouse, ident); ns != nil {
		namespace := *ns
		namespace.Properties = maps.Clone(ns.Properties)
		return &namespace, nil
	}
	return nil, domain.NotFound("namespace %s not found", ident)
}

func (c *memCatalog) namespaceByIdentLocked(warehouse domain.WarehouseID, ident domain.NamespaceIdent) *domain.Namespace {
	for _, ns := range c.namespaces {
		if ns.WarehouseID == warehouse && ns.Ident.String() == ident.String() {
			return ns
		}
	}
	return nil
}

func (c *memCatalog) ListNamespaces(ctx context.Context, warehouse domain.WarehouseID, filter catalog.NamespaceFilter) ([]domain.Namespace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var parentID *domain.NamespaceID
	if filter.Parent != nil {
		parent := c.namespaceByIdentLocked(warehouse, filter.Parent)
		if parent == nil {
			return nil, nil
		}
		parentID = &parent.ID
	}
	var result []domain.Namespace
	for _, ns := range c.namespaces {
		if ns.WarehouseID != warehouse {
			continue
		}
		switch {
		case parentID == nil && ns.ParentID == nil:
			result = append(result, *ns)
		case parentID != nil && ns.ParentID != nil && *ns.ParentID == *parentID:
			result = append(result, *ns)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Ident.String() < result[j].Ident.String() })
	return result, nil
}

func (c *memCatalog) GetTabular(ctx context.Context, id domain.TabularID) (*domain.Tabular, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tab, ok := c.tabulars[id]
	if !ok {
		return nil, domain.NotFound("table or view %s not found", id)
	}
	tabular := *tab
	return &tabular, nil
}

func (c *memCatalog) GetTabularByIdent(ctx context.Context, warehouse domain.WarehouseID, kind domain.TabularKind, ident domain.TabularIdent) (*domain.Tabular, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns := c.namespaceByIdentLocked(warehouse, ident.Namespace)
	if ns != nil {
		for _, tab := range c.tabulars {
			if tab.NamespaceID == ns.ID && tab.Kind == kind && tab.Name == ident.Name && tab.Active() {
				tabular := *tab
				return &tabular, nil
			}
		}
	}
	return nil, domain.NotFound("%s %s not found", kind, ident)
}

func (c *memCatalog) ListTabulars(ctx context.Context, namespace domain.NamespaceID, kind domain.TabularKind) ([]domain.Tabular, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []domain.Tabular
	for _, tab := range c.tabulars {
		if tab.NamespaceID == namespace && tab.Kind == kind && tab.Active() {
			result = append(result, *tab)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (c *memCatalog) ListDeletedTabulars(ctx context.Context, warehouse domain.WarehouseID, filter catalog.DeletedTabularsFilter) ([]domain.Tabular, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []domain.Tabular
	for _, tab := range c.tabulars {
		if tab.Active() {
			continue
		}
		ns, ok := c.namespaces[tab.NamespaceID]
		if !ok || ns.WarehouseID != warehouse {
			continue
		}
		if filter.NamespaceID != nil && tab.NamespaceID != *filter.NamespaceID {
			continue
		}
		result = append(result, *tab)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (c *memCatalog) ResolveTabularByLocation(ctx context.Context, warehouse domain.WarehouseID, location string) (*domain.Tabular, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best *domain.Tabular
	for _, tab := range c.tabulars {
		if !tab.Active() || !strings.HasPrefix(location, tab.Location) {
			continue
		}
		ns, ok := c.namespaces[tab.NamespaceID]
		if !ok || ns.WarehouseID != warehouse {
			continue
		}
		if best == nil || len(tab.Location) > len(best.Location) {
			best = tab
		}
	}
	if best == nil {
		return nil, domain.NotFound("no table or view owns location %q", location)
	}
	tabular := *best
	return &tabular, nil
}

func (c *memCatalog) GetRole(ctx context.Context, id domain.RoleID) (*domain.Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	role, ok := c.roles[id]
	if !ok {
		return nil, domain.NotFound("role %s not found", id)
	}
	out := *role
	return &out, nil
}

func (c *memCatalog) ListRoles(ctx context.Context, project domain.ProjectID) ([]domain.Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []domain.Role
	for _, role := range c.roles {
		if role.ProjectID == project {
			result = append(result, *role)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (c *memCatalog) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	user, ok := c.users[id]
	if !ok {
		return nil, domain.NotFound("user %q not found", id)
	}
	out := *user
	return &out, nil
}

func (c *memCatalog) ListUsers(ctx context.Context) ([]domain.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]domain.User, 0, len(c.users))
	for _, user := range c.users {
		result = append(result, *user)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (c *memCatalog) GetWarehouseStatistics(ctx context.Context, warehouse domain.WarehouseID, limit int) ([]domain.WarehouseStatistics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.whStats[warehouse]
	if len(stats) > limit {
		stats = stats[:limit]
	}
	return append([]domain.WarehouseStatistics(nil), stats...), nil
}

func (c *memCatalog) RecordEndpointStats(ctx context.Context, buckets []domain.EndpointStatBucket) error {
	return nil
}

// --- task queue, consumer side ---

func (c *memCatalog) ClaimTasks(ctx context.Context, queue string, max int, lease time.Duration) ([]domain.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var result []domain.Task
	for _, task := range c.tasks {
		if len(result) >= max {
			break
		}
		if task.QueueName != queue || task.State != domain.TaskStatePending || task.ScheduledFor.After(now) {
			continue
		}
		task.State = domain.TaskStateClaimed
		task.Attempts++
		expires := now.Add(lease)
		task.LeaseExpiresAt = &expires
		task.HeartbeatAt = &now
		result = append(result, *task)
	}
	return result, nil
}

func (c *memCatalog) HeartbeatTask(ctx context.Context, id domain.TaskID, lease time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[id]
	if !ok || task.State != domain.TaskStateClaimed {
		return domain.NotFound("task %s is not claimed", id)
	}
	now := time.Now()
	expires := now.Add(lease)
	task.LeaseExpiresAt = &expires
	task.HeartbeatAt = &now
	return nil
}

func (c *memCatalog) CompleteTask(ctx context.Context, id domain.TaskID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[id]
	if !ok || task.State != domain.TaskStateClaimed {
		return domain.NotFound("task %s is not claimed", id)
	}
	task.State = domain.TaskStateSucceeded
	task.LeaseExpiresAt = nil
	return nil
}

func (c *memCatalog) FailTask(ctx context.Context, id domain.TaskID, maxAttempts int, retryDelay time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[id]
	if !ok || task.State != domain.TaskStateClaimed {
		return domain.NotFound("task %s is not claimed", id)
	}
	if task.Attempts >= maxAttempts {
		task.State = domain.TaskStateFailed
	} else {
		task.State = domain.TaskStatePending
	}
	task.ScheduledFor = time.Now().Add(retryDelay)
	task.LeaseExpiresAt = nil
	return nil
}

func (c *memCatalog) ReapExpiredLeases(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	reaped := 0
	for _, task := range c.tasks {
		if task.State == domain.TaskStateClaimed && task.LeaseExpiresAt != nil && task.LeaseExpiresAt.Before(now) {
			task.State = domain.TaskStatePending
			task.LeaseExpiresAt = nil
			reaped++
		}
	}
	return reaped, nil
}

func (c *memCatalog) ListTasks(ctx context.Context, filter catalog.TaskFilter) ([]domain.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []domain.Task
	for _, task := range c.tasks {
		if taskMatches(task, filter) {
			result = append(result, *task)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func taskMatches(task *domain.Task, filter catalog.TaskFilter) bool {
	if filter.QueueName != "" && task.QueueName != filter.QueueName {
		return false
	}
	if filter.EntityID != nil {
		var payload struct {
			TabularID string `json:"tabular_id"`
		}
		if json.Unmarshal(task.Payload, &payload) != nil || payload.TabularID != filter.EntityID.String() {
			return false
		}
	}
	if len(filter.States) > 0 {
		found := false
		for _, state := range filter.States {
			if task.State == state {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *memCatalog) BeginWrite(ctx context.Context) (catalog.Transaction, error) {
	return &memTx{c: c}, nil
}

// --- write side ---

type memTx struct {
	c *memCatalog
}

func (t *memTx) Commit(ctx context.Context) error   { return nil }
func (t *memTx) Rollback(ctx context.Context) error { return nil }

func (t *memTx) BootstrapServer(ctx context.Context, termsAccepted bool) (*domain.Server, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.c.server != nil {
		return nil, domain.AlreadyExists("server is already bootstrapped")
	}
	t.c.server = &domain.Server{
		ServerID:         domain.NewServerID(),
		OpenForBootstrap: false,
		TermsAccepted:    termsAccepted,
	}
	server := *t.c.server
	return &server, nil
}

func (t *memTx) CreateProject(ctx context.Context, id domain.ProjectID, name string) (*domain.Project, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if _, ok := t.c.projects[id]; ok {
		return nil, domain.AlreadyExists("project %q already exists", id)
	}
	t.c.projects[id] = &domain.Project{ProjectID: id, Name: name, CreatedAt: time.Now()}
	project := *t.c.projects[id]
	return &project, nil
}

func (t *memTx) RenameProject(ctx context.Context, id domain.ProjectID, name string) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	p, ok := t.c.projects[id]
	if !ok {
		return domain.NotFound("project %q not found", id)
	}
	p.Name = name
	return nil
}

func (t *memTx) DeleteProject(ctx context.Context, id domain.ProjectID) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if _, ok := t.c.projects[id]; !ok {
		return domain.NotFound("project %q not found", id)
	}
	for _, wh := range t.c.warehouses {
		if wh.ProjectID == id {
			return domain.BadRequest("project %q still contains warehouses", id)
		}
	}
	delete(t.c.projects, id)
	return nil
}

func (t *memTx) CreateWarehouse(ctx context.Context, wh *domain.Warehouse) (*domain.Warehouse, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for _, existing := range t.c.warehouses {
		if existing.ProjectID == wh.ProjectID && existing.Name == wh.Name {
			return nil, domain.AlreadyExists("warehouse %q already exists", wh.Name)
		}
	}
	created := *wh
	created.CreatedAt = time.Now()
	t.c.warehouses[created.ID] = &created
	out := created
	return &out, nil
}

func (t *memTx) RenameWarehouse(ctx context.Context, id domain.WarehouseID, name string) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	wh, ok := t.c.warehouses[id]
	if !ok {
		return domain.NotFound("warehouse %s not found", id)
	}
	wh.Name = name
	return nil
}

func (t *memTx) SetWarehouseStatus(ctx context.Context, id domain.WarehouseID, status domain.WarehouseStatus) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	wh, ok := t.c.warehouses[id]
	if !ok {
		return domain.NotFound("warehouse %s not found", id)
	}
	wh.Status = status
	return nil
}

func (t *memTx) SetWarehouseDeleteProfile(ctx context.Context, id domain.WarehouseID, profile domain.TabularDeleteProfile) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	wh, ok := t.c.warehouses[id]
	if !ok {
		return domain.NotFound("warehouse %s not found", id)
	}
	wh.TabularDeleteProfile = profile
	return nil
}

func (t *memTx) SetWarehouseProtected(ctx context.Context, id domain.WarehouseID, protected bool) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	wh, ok := t.c.warehouses[id]
	if !ok {
		return domain.NotFound("warehouse %s not found", id)
	}
	wh.Protected = protected
	return nil
}

func (t *memTx) DeleteWarehouse(ctx context.Context, id domain.WarehouseID) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	wh, ok := t.c.warehouses[id]
	if !ok {
		return domain.NotFound("warehouse %s not found", id)
	}
	if wh.Protected {
		return domain.Protected("warehouse %s is protected", id)
	}
	for nsID, ns := range t.c.namespaces {
		if ns.WarehouseID != id {
			continue
		}
		for tabID, tab := range t.c.tabulars {
			if tab.NamespaceID == nsID {
				delete(t.c.tabulars, tabID)
			}
		}
		delete(t.c.namespaces, nsID)
	}
	delete(t.c.warehouses, id)
	return nil
}

func (t *memTx) CreateNamespace(ctx context.Context, ns *domain.Namespace) (*domain.Namespace, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.c.namespaceByIdentLocked(ns.WarehouseID, ns.Ident) != nil {
		return nil, domain.AlreadyExists("namespace %s already exists", ns.Ident)
	}
	created := *ns
	created.ID = domain.NewNamespaceID()
	created.CreatedAt = time.Now()
	if created.Properties == nil {
		created.Properties = map[string]string{}
	}
	if parent := ns.Ident.Parent(); parent != nil {
		p := t.c.namespaceByIdentLocked(ns.WarehouseID, parent)
		if p == nil {
			return nil, domain.NotFound("parent namespace %s not found", parent)
		}
		created.ParentID = &p.ID
	}
	t.c.namespaces[created.ID] = &created
	out := created
	return &out, nil
}

func (t *memTx) UpdateNamespaceProperties(ctx context.Context, id domain.NamespaceID, updates map[string]string, removals []string) (*domain.Namespace, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	ns, ok := t.c.namespaces[id]
	if !ok {
		return nil, domain.NotFound("namespace %s not found", id)
	}
	if ns.Properties == nil {
		ns.Properties = map[string]string{}
	}
	for _, k := range removals {
		delete(ns.Properties, k)
	}
	for k, v := range updates {
		ns.Properties[k] = v
	}
	out := *ns
	out.Properties = maps.Clone(ns.Properties)
	return &out, nil
}

func (t *memTx) SetNamespaceProtected(ctx context.Context, id domain.NamespaceID, protected bool) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	ns, ok := t.c.namespaces[id]
	if !ok {
		return domain.NotFound("namespace %s not found", id)
	}
	ns.Protected = protected
	return nil
}

func (t *memTx) DropNamespace(ctx context.Context, id domain.NamespaceID, recursive bool) ([]domain.Tabular, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	ns, ok := t.c.namespaces[id]
	if !ok {
		return nil, domain.NotFound("namespace %s not found", id)
	}
	if ns.Protected {
		return nil, domain.Protected("namespace %s is protected", ns.Ident)
	}

	subtree := t.c.subtreeLocked(id)
	for _, nsID := range subtree {
		if nsID != id && t.c.namespaces[nsID].Protected {
			return nil, domain.Protected("namespace %s contains a protected namespace", ns.Ident)
		}
	}

	if !recursive {
		if len(subtree) > 1 {
			return nil, domain.BadRequest("namespace %s is not empty", ns.Ident)
		}
		for _, tab := range t.c.tabulars {
			if tab.NamespaceID == id && tab.Active() {
				return nil, domain.BadRequest("namespace %s is not empty", ns.Ident)
			}
		}
		delete(t.c.namespaces, id)
		return nil, nil
	}

	wh, ok := t.c.warehouses[ns.WarehouseID]
	if !ok {
		return nil, domain.NotFound("warehouse %s not found", ns.WarehouseID)
	}
	var dropped []domain.Tabular
	for _, nsID := range subtree {
		for _, tab := range t.c.tabulars {
			if tab.NamespaceID != nsID || !tab.Active() {
				continue
			}
			if tab.Protected {
				return nil, domain.Protected("namespace %s contains a protected %s %q", ns.Ident, tab.Kind, tab.Name)
			}
			out, err := t.c.dropTabularLocked(tab.ID, false, wh.TabularDeleteProfile)
			if err != nil {
				return nil, err
			}
			dropped = append(dropped, *out)
		}
	}
	if wh.TabularDeleteProfile.Kind == domain.DeleteProfileHard {
		for _, nsID := range subtree {
			delete(t.c.namespaces, nsID)
		}
	}
	return dropped, nil
}

func (c *memCatalog) subtreeLocked(root domain.NamespaceID) []domain.NamespaceID {
	subtree := []domain.NamespaceID{root}
	for i := 0; i < len(subtree); i++ {
		for _, ns := range c.namespaces {
			if ns.ParentID != nil && *ns.ParentID == subtree[i] {
				subtree = append(subtree, ns.ID)
			}
		}
	}
	return subtree
}

func (t *memTx) RenameNamespace(ctx context.Context, id domain.NamespaceID, newIdent domain.NamespaceIdent) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	ns, ok := t.c.namespaces[id]
	if !ok {
		return domain.NotFound("namespace %s not found", id)
	}
	ns.Ident = newIdent
	return nil
}

func (t *memTx) CreateTabular(ctx context.Context, create catalog.TabularCreate) (*domain.Tabular, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for _, tab := range t.c.tabulars {
		if tab.NamespaceID == create.NamespaceID && tab.Name == create.Name && tab.Active() {
			return nil, domain.AlreadyExists("%s %q already exists", create.Kind, create.Name)
		}
	}
	created := &domain.Tabular{
		ID:               domain.NewTabularID(),
		NamespaceID:      create.NamespaceID,
		Kind:             create.Kind,
		Name:             create.Name,
		MetadataLocation: create.MetadataLocation,
		Location:         create.Location,
		CreatedAt:        time.Now(),
	}
	t.c.tabulars[created.ID] = created
	out := *created
	return &out, nil
}

func (t *memTx) CommitTabular(ctx context.Context, commit catalog.TabularCommit) (*domain.Tabular, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	tab, ok := t.c.tabulars[commit.TabularID]
	if !ok || !tab.Active() {
		return nil, domain.NotFound("table or view %s not found", commit.TabularID)
	}
	if tab.MetadataLocation != commit.ExpectedMetadataLocation {
		return nil, domain.ConcurrentModification(
			"metadata location changed concurrently, expected %q but found %q",
			commit.ExpectedMetadataLocation, tab.MetadataLocation)
	}
	prev := tab.MetadataLocation
	tab.PreviousMetadataLocation = &prev
	tab.MetadataLocation = commit.NewMetadataLocation
	out := *tab
	return &out, nil
}

func (t *memTx) RenameTabular(ctx context.Context, id domain.TabularID, newIdent domain.TabularIdent) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	tab, ok := t.c.tabulars[id]
	if !ok || !tab.Active() {
		return domain.NotFound("table or view %s not found", id)
	}
	src, ok := t.c.namespaces[tab.NamespaceID]
	if !ok {
		return domain.NotFound("namespace %s not found", tab.NamespaceID)
	}
	dest := t.c.namespaceByIdentLocked(src.WarehouseID, newIdent.Namespace)
	if dest == nil {
		return domain.NotFound("destination namespace %s not found", newIdent.Namespace)
	}
	tab.NamespaceID = dest.ID
	tab.Name = newIdent.Name
	return nil
}

func (t *memTx) SetTabularProtected(ctx context.Context, id domain.TabularID, protected bool) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	tab, ok := t.c.tabulars[id]
	if !ok || !tab.Active() {
		return domain.NotFound("table or view %s not found", id)
	}
	tab.Protected = protected
	return nil
}

func (t *memTx) DropTabular(ctx context.Context, id domain.TabularID, purge bool, profile domain.TabularDeleteProfile) (*domain.Tabular, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return t.c.dropTabularLocked(id, purge, profile)
}

func (c *memCatalog) dropTabularLocked(id domain.TabularID, purge bool, profile domain.TabularDeleteProfile) (*domain.Tabular, error) {
	tab, ok := c.tabulars[id]
	if !ok || !tab.Active() {
		return nil, domain.NotFound("table or view %s not found", id)
	}
	if tab.Protected {
		return nil, domain.Protected("%s %q is protected", tab.Kind, tab.Name)
	}
	now := time.Now()
	if profile.Kind == domain.DeleteProfileHard {
		delete(c.tabulars, id)
		out := *tab
		out.DeletedAt = &now
		return &out, nil
	}
	cleanup := now.Add(profile.ExpirationSeconds())
	tab.DeletedAt = &now
	tab.CleanupAt = &cleanup
	out := *tab
	return &out, nil
}

func (t *memTx) UndropTabulars(ctx context.Context, ids []domain.TabularID) ([]domain.Tabular, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	var restored []domain.Tabular
	for _, id := range ids {
		tab, ok := t.c.tabulars[id]
		if !ok || tab.Active() {
			return nil, domain.NotFound("one or more tabulars are not soft-deleted")
		}
		tab.DeletedAt = nil
		tab.CleanupAt = nil
		restored = append(restored, *tab)
	}
	return restored, nil
}

func (t *memTx) PurgeTabular(ctx context.Context, id domain.TabularID) (*domain.Tabular, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	tab, ok := t.c.tabulars[id]
	if !ok || tab.Active() {
		return nil, nil
	}
	delete(t.c.tabulars, id)
	out := *tab
	return &out, nil
}

func (t *memTx) CreateRole(ctx context.Context, role *domain.Role) (*domain.Role, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for _, existing := range t.c.roles {
		if existing.ProjectID == role.ProjectID && existing.Name == role.Name {
			return nil, domain.AlreadyExists("role %q already exists", role.Name)
		}
	}
	created := *role
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	t.c.roles[created.ID] = &created
	out := created
	return &out, nil
}

func (t *memTx) DeleteRole(ctx context.Context, id domain.RoleID) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if _, ok := t.c.roles[id]; !ok {
		return domain.NotFound("role %s not found", id)
	}
	delete(t.c.roles, id)
	return nil
}

func (t *memTx) ProvisionUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	created := *user
	created.LastUpdatedAt = time.Now()
	t.c.users[created.ID] = &created
	out := created
	return &out, nil
}

func (t *memTx) UpdateWarehouseStatistics(ctx context.Context, warehouse domain.WarehouseID) (*domain.WarehouseStatistics, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	var tables, views int64
	for _, tab := range t.c.tabulars {
		ns, ok := t.c.namespaces[tab.NamespaceID]
		if !ok || ns.WarehouseID != warehouse || !tab.Active() {
			continue
		}
		if tab.Kind == domain.TabularKindTable {
			tables++
		} else {
			views++
		}
	}
	snapshot := domain.WarehouseStatistics{
		StatisticsID:   domain.NewStatisticsID(),
		WarehouseID:    warehouse,
		NumberOfTables: tables,
		NumberOfViews:  views,
		TakenAt:        time.Now(),
	}
	t.c.whStats[warehouse] = append([]domain.WarehouseStatistics{snapshot}, t.c.whStats[warehouse]...)
	return &snapshot, nil
}

func (t *memTx) EnqueueTask(ctx context.Context, create catalog.TaskCreate) (domain.TaskID, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	id := domain.NewTaskID()
	scheduledFor := create.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = time.Now()
	}
	t.c.tasks[id] = &domain.Task{
		ID:           id,
		QueueName:    create.QueueName,
		Payload:      create.Payload,
		ScheduledFor: scheduledFor,
		State:        domain.TaskStatePending,
		CreatedAt:    time.Now(),
	}
	return id, nil
}

func (t *memTx) CancelPendingTasks(ctx context.Context, filter catalog.TaskFilter) (int, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	cancelled := 0
	for _, task := range t.c.tasks {
		if task.State != domain.TaskStatePending || !taskMatches(task, filter) {
			continue
		}
		task.State = domain.TaskStateCancelled
		cancelled++
	}
	return cancelled, nil
}

// memSecrets is an in-memory secrets.Store.
type memSecrets struct {
	mu    sync.Mutex
	items map[domain.SecretID][]byte
}

func newMemSecrets() *memSecrets {
	return &memSecrets{items: make(map[domain.SecretID][]byte)}
}

func (s *memSecrets) Store(ctx context.Context, material []byte) (domain.SecretID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := domain.NewSecretID()
	s.items[id] = append([]byte(nil), material...)
	return id, nil
}

func (s *memSecrets) Retrieve(ctx context.Context, id domain.SecretID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	material, ok := s.items[id]
	if !ok {
		return nil, domain.NotFound("secret %s not found", id)
	}
	return append([]byte(nil), material...), nil
}

func (s *memSecrets) Delete(ctx context.Context, id domain.SecretID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *memSecrets) HealthCheck(ctx context.Context) error { return nil }

// --- fixture ---

const testProject = domain.ProjectID("test-project")

type fixture struct {
	t       *testing.T
	store   *memCatalog
	secrets *memSecrets
	backend *authz.MemoryBackend // nil with the allow-all mediator
	server  *api.Server
	router  http.Handler
}

// newFixture wires a server over the in-memory store with an allow-all
// mediator, the default for tests that exercise catalog semantics rather
// than permissions.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return buildFixture(t, authz.AllowAll{}, nil)
}

// newAuthzFixture wires the memory relationship backend instead, for tests
// that exercise the 403 versus 404 resolution. Tuples are granted via grant.
func newAuthzFixture(t *testing.T) *fixture {
	t.Helper()
	backend := authz.NewMemoryBackend()
	return buildFixture(t, backend, backend)
}

func buildFixture(t *testing.T, backend authz.Backend, mem *authz.MemoryBackend) *fixture {
	t.Helper()
	store := newMemCatalog()
	f := &fixture{
		t:       t,
		store:   store,
		secrets: newMemSecrets(),
		backend: mem,
	}
	f.server = &api.Server{
		Catalog:        store,
		Authz:          authz.NewMediator(backend, discardLogger()),
		Secrets:        f.secrets,
		DefaultProject: testProject,
	}
	f.router = api.NewRouter(f.server)
	return f
}

// grant writes one relationship tuple for the anonymous test actor.
func (f *fixture) grant(relation, object string) {
	f.t.Helper()
	require.NotNil(f.t, f.backend, "grant requires the memory backend fixture")
	err := f.backend.WriteTuples(context.Background(), []authz.TupleKey{
		{User: "user:anonymous", Relation: relation, Object: object},
	}, nil)
	require.NoError(f.t, err)
}

// do executes one request against the router. A non-nil body is JSON-encoded.
func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

// decodeAs unmarshals the recorded response body.
func decodeAs[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body: %s", rr.Body.String())
	return out
}

// errType extracts the stable error type from an envelope response.
func errType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope), "body: %s", rr.Body.String())
	return envelope.Error.Type
}

// --- seed helpers, writing straight into the store ---

func (f *fixture) seedBootstrap() domain.ServerID {
	f.t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if f.store.server == nil {
		f.store.server = &domain.Server{ServerID: domain.NewServerID(), TermsAccepted: true}
	}
	f.server.Authz.SetServerID(f.store.server.ServerID)
	return f.store.server.ServerID
}

func (f *fixture) seedProject(id domain.ProjectID) *domain.Project {
	f.t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	p := &domain.Project{ProjectID: id, Name: string(id), CreatedAt: time.Now()}
	f.store.projects[id] = p
	return p
}

func (f *fixture) seedRole(project domain.ProjectID, name string) *domain.Role {
	f.t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	role := &domain.Role{
		ID:        domain.NewRoleID(),
		ProjectID: project,
		Name:      name,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.store.roles[role.ID] = role
	return role
}

func softProfile(expiration time.Duration) domain.TabularDeleteProfile {
	return domain.TabularDeleteProfile{
		Kind:       domain.DeleteProfileSoft,
		Expiration: domain.Duration(expiration),
	}
}

func (f *fixture) seedWarehouse(project domain.ProjectID, name string, deleteProfile domain.TabularDeleteProfile) *domain.Warehouse {
	f.t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	wh := &domain.Warehouse{
		ID:        domain.NewWarehouseID(),
		ProjectID: project,
		Name:      name,
		StorageProfile: domain.StorageProfile{
			Type: domain.StorageTypeS3,
			S3:   &domain.S3StorageProfile{Bucket: "test-bucket", Region: "eu-central-1"},
		},
		Status:               domain.WarehouseStatusActive,
		TabularDeleteProfile: deleteProfile,
		CreatedAt:            time.Now(),
	}
	f.store.warehouses[wh.ID] = wh
	return wh
}

func (f *fixture) seedNamespace(wh *domain.Warehouse, parts ...string) *domain.Namespace {
	f.t.Helper()
	ident, err := domain.NewNamespaceIdent(parts)
	require.NoError(f.t, err)
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	ns := &domain.Namespace{
		ID:          domain.NewNamespaceID(),
		WarehouseID: wh.ID,
		Ident:       ident,
		Properties:  map[string]string{},
		CreatedAt:   time.Now(),
	}
	if parent := ident.Parent(); parent != nil {
		p := f.store.namespaceByIdentLocked(wh.ID, parent)
		require.NotNil(f.t, p, "parent namespace %s must be seeded first", parent)
		ns.ParentID = &p.ID
	}
	f.store.namespaces[ns.ID] = ns
	return ns
}

func (f *fixture) seedTabular(ns *domain.Namespace, kind domain.TabularKind, name string) *domain.Tabular {
	f.t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	tab := &domain.Tabular{
		ID:               domain.NewTabularID(),
		NamespaceID:      ns.ID,
		Kind:             kind,
		Name:             name,
		MetadataLocation: "s3://test-bucket/" + ns.Ident.String() + "/" + name + "/metadata/v1.json",
		Location:         "s3://test-bucket/" + ns.Ident.String() + "/" + name,
		CreatedAt:        time.Now(),
	}
	f.store.tabulars[tab.ID] = tab
	return tab
}

// pendingPurgeTasks returns the pending purge tasks for one tabular.
func (f *fixture) pendingPurgeTasks(id domain.TabularID) []domain.Task {
	f.t.Helper()
	tasks, err := f.store.ListTasks(context.Background(), catalog.TaskFilter{
		QueueName: domain.QueuePurgeTabular,
		EntityID:  &id,
		States:    []domain.TaskState{domain.TaskStatePending},
	})
	require.NoError(f.t, err)
	return tasks
}
