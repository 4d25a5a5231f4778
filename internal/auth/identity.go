package auth

import (
	"context"
	"sort"
)

// Identity is the per-request view of the caller: who presented a valid token and
// which rights their role grants.
type Identity struct {
	UserID   string
	Username string
	Email    string
	Rights   map[string]struct{}
}

// NewIdentity builds an identity from verified token claims. A nil rights set becomes empty.
func NewIdentity(sub Subject, rights map[string]struct{}) Identity {
	if rights == nil {
		rights = map[string]struct{}{}
	}
	return Identity{UserID: sub.UserID, Username: sub.Username, Email: sub.Email, Rights: rights}
}

// HasPermission reports whether the identity can execute action identified by perm.
func (id Identity) HasPermission(perm string) bool {
	if perm == "" {
		return false
	}
	_, ok := id.Rights[perm]
	return ok
}

// RightsList returns the rights in sorted order.
func (id Identity) RightsList() []string {
	out := make([]string, 0, len(id.Rights))
	for r := range id.Rights {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

type identityContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}
