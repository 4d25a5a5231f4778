package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/YvesL-Web/project-manager/internal/cache"
	"github.com/YvesL-Web/project-manager/internal/obs"
)

// Cache namespaces used by the resolver.
const (
	NamespaceUsers           = "users"
	NamespaceUsersByUsername = "users_by_username"
	NamespaceRoles           = "roles"
)

// Resolver maps identities to their effective rights. User and role records are
// read through the cache; the rights themselves are recomputed on every call.
type Resolver struct {
	users UserStore
	roles RoleStore
	cache cache.Cache
	group singleflight.Group
}

// NewResolver wires the resolver to its stores. A nil cache disables caching.
func NewResolver(users UserStore, roles RoleStore, c cache.Cache) *Resolver {
	if c == nil {
		c = cache.Nop{}
	}
	return &Resolver{users: users, roles: roles, cache: c}
}

// UserByUsername returns the user record for username. The password hash is never populated.
func (r *Resolver) UserByUsername(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrNotFound
	}
	u, err := readThrough(ctx, r, NamespaceUsersByUsername, username, func(ctx context.Context) (*User, error) {
		return r.users.FindByUsername(ctx, username)
	})
	if err != nil {
		return nil, err
	}
	u.PasswordHash = ""
	return u, nil
}

// UserByID returns the user record for id. The password hash is never populated.
func (r *Resolver) UserByID(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	u, err := readThrough(ctx, r, NamespaceUsers, id, func(ctx context.Context) (*User, error) {
		return r.users.FindByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	u.PasswordHash = ""
	return u, nil
}

// RoleByID returns the role record for id.
func (r *Resolver) RoleByID(ctx context.Context, id string) (*Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	return readThrough(ctx, r, NamespaceRoles, id, func(ctx context.Context) (*Role, error) {
		return r.roles.Find(ctx, id)
	})
}

// RightsForRole returns the rights granted by the role. A missing role grants nothing.
func (r *Resolver) RightsForRole(ctx context.Context, roleID string) map[string]struct{} {
	role, err := r.RoleByID(ctx, roleID)
	if err != nil {
		r.logLookupFailure("role", roleID, err)
		return map[string]struct{}{}
	}
	parsed := ParseRights(role.Rights)
	set := make(map[string]struct{}, len(parsed))
	for _, p := range parsed {
		set[p] = struct{}{}
	}
	return set
}

// ResolveRights returns the rights of the user with id userID. Unknown users, unknown
// roles and store failures all yield an empty, non-nil set.
func (r *Resolver) ResolveRights(ctx context.Context, userID string) map[string]struct{} {
	u, err := r.UserByID(ctx, userID)
	if err != nil {
		r.logLookupFailure("user", userID, err)
		return map[string]struct{}{}
	}
	return r.RightsForRole(ctx, u.RoleID)
}

// RightsForUsername is ResolveRights keyed by username.
func (r *Resolver) RightsForUsername(ctx context.Context, username string) map[string]struct{} {
	u, err := r.UserByUsername(ctx, username)
	if err != nil {
		r.logLookupFailure("username", username, err)
		return map[string]struct{}{}
	}
	return r.RightsForRole(ctx, u.RoleID)
}

// InvalidateUser drops both cached views of u.
func (r *Resolver) InvalidateUser(ctx context.Context, u *User) {
	if u == nil {
		return
	}
	r.cacheDelete(ctx, NamespaceUsers, u.ID)
	r.cacheDelete(ctx, NamespaceUsersByUsername, u.Username)
}

// InvalidateRole drops the cached role record.
func (r *Resolver) InvalidateRole(ctx context.Context, roleID string) {
	r.cacheDelete(ctx, NamespaceRoles, roleID)
}

// DeclaredPermissions is the set role definitions are validated against.
func (r *Resolver) DeclaredPermissions() map[string]struct{} {
	return AllPermissions()
}

func readThrough[T any](ctx context.Context, r *Resolver, ns, key string, load func(context.Context) (*T, error)) (*T, error) {
	var cached T
	hit, err := r.cache.Get(ctx, ns, key, &cached)
	switch {
	case err != nil:
		obs.CacheLookup(ns, "error")
		obs.Warn("cache_get_failed", map[string]any{"namespace": ns, "key": key, "error": err.Error()})
	case hit:
		obs.CacheLookup(ns, "hit")
		return &cached, nil
	default:
		obs.CacheLookup(ns, "miss")
	}

	// The shared load outlives any single caller; each caller stops waiting on its own ctx.
	loadCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(cache.Key(ns, key), func() (any, error) {
		loaded, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Set(loadCtx, ns, key, loaded); err != nil {
			obs.Warn("cache_set_failed", map[string]any{"namespace": ns, "key": key, "error": err.Error()})
		}
		return loaded, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	// Callers sharing a flight must not share the pointer.
	out := *(res.Val.(*T))
	return &out, nil
}

func (r *Resolver) cacheDelete(ctx context.Context, ns, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if err := r.cache.Delete(ctx, ns, key); err != nil {
		obs.Warn("cache_delete_failed", map[string]any{"namespace": ns, "key": key, "error": err.Error()})
	}
}

func (r *Resolver) logLookupFailure(kind, key string, err error) {
	if errors.Is(err, ErrNotFound) {
		return
	}
	obs.Error("rights_lookup_failed", err, map[string]any{"kind": kind, "key": key})
}
