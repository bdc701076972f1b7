// Package identity carries the signed-in user supplied by the upstream
// identity provider through request contexts.
package identity

import "context"

type Role string

var (
	RoleClient Role = "client"
	RoleIntern Role = "intern"
	RoleAdmin  Role = "admin"
)

func (r Role) String() string {
	switch r {
	case RoleClient, RoleIntern, RoleAdmin:
		return string(r)
	default:
		return ""
	}
}

type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

type userKey struct{}

func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// FromContext returns the current user, or false when the request is anonymous.
func FromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey{}).(*User)
	if !ok || u == nil || u.ID == "" {
		return nil, false
	}
	return u, true
}
