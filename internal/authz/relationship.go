package authz

import (
	"context"
	"fmt"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// Consistency expresses the read preference for a relationship check.
type Consistency string

const (
	// HigherConsistency reads through to the policy engine's latest state.
	// Used right after tuples were written for the same entity.
	HigherConsistency Consistency = "higher_consistency"
	// MinimizeLatency permits slightly stale reads. The default for checks.
	MinimizeLatency Consistency = "minimize_latency"
)

// TupleKey is one relationship edge: user has relation on object. Objects
// are "<type>:<id>", users are "user:<subject>" or a userset reference like
// "role:<id>#assignee".
type TupleKey struct {
	User     string
	Relation string
	Object   string
}

func (k TupleKey) String() string {
	return fmt.Sprintf("%s#%s@%s", k.Object, k.Relation, k.User)
}

// Object naming helpers. Relation strings are fixed per type, so tuple
// layouts are part of the persisted policy model and must stay stable.

func ServerObject(id domain.ServerID) string       { return "server:" + id.String() }
func ProjectObject(id domain.ProjectID) string     { return "project:" + id.String() }
func WarehouseObject(id domain.WarehouseID) string { return "warehouse:" + id.String() }
func NamespaceObject(id domain.NamespaceID) string { return "namespace:" + id.String() }
func RoleObject(id domain.RoleID) string           { return "role:" + id.String() }

func TabularObject(kind domain.TabularKind, id domain.TabularID) string {
	if kind == domain.TabularKindView {
		return "view:" + id.String()
	}
	return "table:" + id.String()
}

// Backend is the relationship engine contract. A check failure caused by
// transport must be returned as an error, never as a denial: the mediator
// maps errors to 503 and denials to 403, and must not confuse the two.
type Backend interface {
	// CheckRelation reports whether the tuple holds.
	CheckRelation(ctx context.Context, key TupleKey, consistency Consistency) (bool, error)
	// WriteTuples applies adds and deletes atomically.
	WriteTuples(ctx context.Context, writes, deletes []TupleKey) error
	// HealthCheck probes the engine.
	HealthCheck(ctx context.Context) error
	// Name identifies the backend in health reports and logs.
	Name() string
}
