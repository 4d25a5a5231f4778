package auth

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/YvesL-Web/project-manager/internal/cache"
)

func init() {
	passwordCost = 4
}

// fakeStore is a map backed Store that counts lookups so tests can observe caching.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*User
	roles map[string]*Role

	userLookups atomic.Int32
	roleLookups atomic.Int32
	failUsers   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*User{}, roles: map[string]*Role{}}
}

func (s *fakeStore) Users(context.Context) UserStore { return fakeUsers{s} }
func (s *fakeStore) Roles(context.Context) RoleStore { return fakeRoles{s} }

func (s *fakeStore) addRole(id, rights string) *Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Role{ID: id, Name: id, Rights: rights}
	s.roles[id] = r
	return r
}

func (s *fakeStore) addUser(id, username, roleID string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, err := HashPassword("password-" + username)
	if err != nil {
		panic(err)
	}
	u := &User{ID: id, Username: username, Email: username + "@example.com", RoleID: roleID, PasswordHash: hash}
	s.users[id] = u
	return u
}

type fakeUsers struct{ s *fakeStore }

func (f fakeUsers) Create(_ context.Context, u *User) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, existing := range f.s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return ErrConflict
		}
	}
	if u.ID == "" {
		u.ID = "u-" + u.Username
	}
	cp := *u
	f.s.users[u.ID] = &cp
	return nil
}

func (f fakeUsers) find(match func(*User) bool) (*User, error) {
	f.s.userLookups.Add(1)
	if f.s.failUsers != nil {
		return nil, f.s.failUsers
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f fakeUsers) FindByID(_ context.Context, id string) (*User, error) {
	return f.find(func(u *User) bool { return u.ID == id })
}

func (f fakeUsers) FindByUsername(_ context.Context, username string) (*User, error) {
	return f.find(func(u *User) bool { return u.Username == username })
}

func (f fakeUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	return f.find(func(u *User) bool { return u.Email == email })
}

func (f fakeUsers) List(context.Context) ([]*User, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	out := make([]*User, 0, len(f.s.users))
	for _, u := range f.s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeUsers) Update(_ context.Context, u *User) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.users[u.ID]; !ok {
		return ErrNotFound
	}
	cp := *u
	f.s.users[u.ID] = &cp
	return nil
}

func (f fakeUsers) Delete(_ context.Context, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.users[id]; !ok {
		return ErrNotFound
	}
	delete(f.s.users, id)
	return nil
}

type fakeRoles struct{ s *fakeStore }

func (f fakeRoles) Create(_ context.Context, r *Role) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, existing := range f.s.roles {
		if existing.Name == r.Name {
			return ErrConflict
		}
	}
	if r.ID == "" {
		r.ID = "r-" + r.Name
	}
	cp := *r
	f.s.roles[r.ID] = &cp
	return nil
}

func (f fakeRoles) Find(_ context.Context, id string) (*Role, error) {
	f.s.roleLookups.Add(1)
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	r, ok := f.s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f fakeRoles) List(context.Context) ([]*Role, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	out := make([]*Role, 0, len(f.s.roles))
	for _, r := range f.s.roles {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeRoles) Update(_ context.Context, r *Role) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.roles[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	f.s.roles[r.ID] = &cp
	return nil
}

func (f fakeRoles) Delete(_ context.Context, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.roles[id]; !ok {
		return ErrNotFound
	}
	delete(f.s.roles, id)
	return nil
}

// switchableCache forwards to a real cache until it is switched off, after which every
// call reports cache.ErrUnavailable.
type switchableCache struct {
	inner cache.Cache
	down  atomic.Bool
}

func (c *switchableCache) Get(ctx context.Context, ns, key string, dst any) (bool, error) {
	if c.down.Load() {
		return false, cache.ErrUnavailable
	}
	return c.inner.Get(ctx, ns, key, dst)
}

func (c *switchableCache) Set(ctx context.Context, ns, key string, v any) error {
	if c.down.Load() {
		return cache.ErrUnavailable
	}
	return c.inner.Set(ctx, ns, key, v)
}

func (c *switchableCache) Delete(ctx context.Context, ns, key string) error {
	if c.down.Load() {
		return cache.ErrUnavailable
	}
	return c.inner.Delete(ctx, ns, key)
}
