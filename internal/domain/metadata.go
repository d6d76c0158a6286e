package domain

import "time"

// RequestMetadata is the per-request context assembled by the metadata
// middleware. It travels with the request through authorization, the store
// and the event dispatcher; it never crosses request boundaries.
type RequestMetadata struct {
	RequestID    string
	Method       string
	MatchedRoute string
	// ProjectID is the tenant from the x-project-id header, falling back to
	// the configured default project. Nil when neither is present.
	ProjectID *ProjectID
	// Actor is the authenticated principal. Empty when authentication is
	// disabled.
	Actor UserID
	// HasAdminPrivileges is set by the authenticator from a configured
	// claim. It short-circuits authorization checks but not the mediator,
	// so events are still emitted.
	HasAdminPrivileges bool
	// BaseURI is the externally visible base URL synthesized from
	// x-forwarded-{host,port,proto,prefix}.
	BaseURI    string
	ReceivedAt time.Time
}

// ActorString renders the principal in the <type>:<id> form used by the
// relationship-based authorization backend.
func (m *RequestMetadata) ActorString() string {
	if m.Actor == "" {
		return "user:anonymous"
	}
	return "user:" + string(m.Actor)
}
