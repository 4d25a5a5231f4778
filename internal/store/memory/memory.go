// Package memory is an in-process auth.Store for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/YvesL-Web/project-manager/internal/auth"
	"github.com/YvesL-Web/project-manager/internal/ids"
)

// Store keeps users and roles in maps guarded by one mutex. Records are copied on the
// way in and out.
type Store struct {
	mu    sync.RWMutex
	users map[string]auth.User
	roles map[string]auth.Role
	now   func() time.Time
}

var _ auth.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users: make(map[string]auth.User),
		roles: make(map[string]auth.Role),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Users(context.Context) auth.UserStore { return users{s} }
func (s *Store) Roles(context.Context) auth.RoleStore { return roles{s} }

type users struct{ s *Store }

func (u users) Create(_ context.Context, user *auth.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.roles[user.RoleID]; !ok {
		return auth.ErrNotFound
	}
	for _, existing := range u.s.users {
		if existing.Username == user.Username || strings.EqualFold(existing.Email, user.Email) {
			return auth.ErrConflict
		}
	}
	if user.ID == "" {
		user.ID = ids.New()
	} else if _, ok := u.s.users[user.ID]; ok {
		return auth.ErrConflict
	}
	now := u.s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	u.s.users[user.ID] = *user
	return nil
}

func (u users) find(match func(auth.User) bool) (*auth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, user := range u.s.users {
		if match(user) {
			cp := user
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (u users) FindByID(_ context.Context, id string) (*auth.User, error) {
	u.s.mu.RLock()
	user, ok := u.s.users[id]
	u.s.mu.RUnlock()
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &user, nil
}

func (u users) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	return u.find(func(user auth.User) bool { return user.Username == username })
}

func (u users) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	return u.find(func(user auth.User) bool { return strings.EqualFold(user.Email, email) })
}

func (u users) List(context.Context) ([]*auth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	out := make([]*auth.User, 0, len(u.s.users))
	for _, user := range u.s.users {
		cp := user
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u users) Update(_ context.Context, user *auth.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	current, ok := u.s.users[user.ID]
	if !ok {
		return auth.ErrNotFound
	}
	if _, ok := u.s.roles[user.RoleID]; !ok {
		return auth.ErrNotFound
	}
	for id, existing := range u.s.users {
		if id != user.ID && (existing.Username == user.Username || strings.EqualFold(existing.Email, user.Email)) {
			return auth.ErrConflict
		}
	}
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = u.s.now()
	u.s.users[user.ID] = *user
	return nil
}

func (u users) Delete(_ context.Context, id string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(u.s.users, id)
	return nil
}

type roles struct{ s *Store }

func (r roles) Create(_ context.Context, role *auth.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.roles {
		if existing.Name == role.Name {
			return auth.ErrConflict
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	} else if _, ok := r.s.roles[role.ID]; ok {
		return auth.ErrConflict
	}
	now := r.s.now()
	role.CreatedAt, role.UpdatedAt = now, now
	r.s.roles[role.ID] = *role
	return nil
}

func (r roles) Find(_ context.Context, id string) (*auth.Role, error) {
	r.s.mu.RLock()
	role, ok := r.s.roles[id]
	r.s.mu.RUnlock()
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &role, nil
}

func (r roles) List(context.Context) ([]*auth.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*auth.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		cp := role
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r roles) Update(_ context.Context, role *auth.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.roles[role.ID]
	if !ok {
		return auth.ErrNotFound
	}
	for id, existing := range r.s.roles {
		if id != role.ID && existing.Name == role.Name {
			return auth.ErrConflict
		}
	}
	role.CreatedAt = current.CreatedAt
	role.UpdatedAt = r.s.now()
	r.s.roles[role.ID] = *role
	return nil
}

// Delete refuses to remove a role that users still reference, like the foreign key
// on users.role_id.
func (r roles) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[id]; !ok {
		return auth.ErrNotFound
	}
	for _, user := range r.s.users {
		if user.RoleID == id {
			return auth.ErrConflict
		}
	}
	delete(r.s.roles, id)
	return nil
}
