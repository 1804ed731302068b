// Package identity resolves the session identity attached to every job:
// either a durable device-scoped guest identifier or an authenticated user
// derived from an access token.
package identity

import "net/http"

// Identity header names understood by the analysis service. Exactly one is
// set on any request.
const (
	HeaderGuestID = "X-Guest-Id"
	HeaderUserID  = "X-User-Id"
)

// Kind distinguishes guest sessions from authenticated ones.
type Kind string

const (
	KindGuest         Kind = "guest"
	KindAuthenticated Kind = "authenticated"
)

// Identity is the actor that owns jobs. The remote service partitions all
// job queries by this identity, so one actor never observes another's jobs.
type Identity struct {
	Kind Kind

	// GuestID is set when Kind is KindGuest.
	GuestID string

	// UserID and UserEmail are set when Kind is KindAuthenticated.
	UserID    string
	UserEmail string
}

// IsZero reports whether no identity is available at all.
func (id Identity) IsZero() bool {
	return id.GuestID == "" && id.UserID == ""
}

// ApplyHeaders sets the identity header on an outgoing request. Guest and
// user headers are mutually exclusive.
func (id Identity) ApplyHeaders(req *http.Request) {
	switch id.Kind {
	case KindAuthenticated:
		req.Header.Set(HeaderUserID, id.UserID)
	case KindGuest:
		req.Header.Set(HeaderGuestID, id.GuestID)
	}
}
