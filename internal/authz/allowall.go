package authz

import "context"

// AllowAll is the development backend: every check passes, writes are
// swallowed. Selected with AUTHORIZATION_BACKEND=AllowAll.
type AllowAll struct{}

func (AllowAll) CheckRelation(ctx context.Context, key TupleKey, consistency Consistency) (bool, error) {
	return true, nil
}

func (AllowAll) WriteTuples(ctx context.Context, writes, deletes []TupleKey) error { return nil }

func (AllowAll) HealthCheck(ctx context.Context) error { return nil }

func (AllowAll) Name() string { return "allow-all" }
