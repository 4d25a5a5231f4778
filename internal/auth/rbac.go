package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/YvesL-Web/project-manager/internal/obs"
	"github.com/YvesL-Web/project-manager/internal/queue"
)

// RoleInput describes a role to create. Rights is the comma joined rights string.
type RoleInput struct {
	Name        string
	Description string
	Rights      string
}

type RoleUpdate struct {
	Name        *string
	Description *string
	Rights      *string
}

type UserInput struct {
	Username string
	Email    string
	Password string
	RoleID   string
}

type UserUpdate struct {
	Username *string
	Email    *string
	Password *string
	RoleID   *string
}

// RBACService manages users and roles and keeps the resolver cache in step with writes.
type RBACService struct {
	store    Store
	resolver *Resolver
	emails   queue.EmailQueue
}

func NewRBACService(store Store, resolver *Resolver, emails queue.EmailQueue) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	if resolver == nil {
		return nil, errors.New("rbac resolver is required")
	}
	if emails == nil {
		emails = queue.LogQueue{}
	}
	return &RBACService{store: store, resolver: resolver, emails: emails}, nil
}

// normalizeRights parses, validates and re-joins a rights string.
func normalizeRights(raw string) (string, error) {
	rights := ParseRights(raw)
	if err := ValidateRights(rights); err != nil {
		return "", err
	}
	return JoinRights(rights), nil
}

func (s *RBACService) CreateRole(ctx context.Context, in RoleInput) (*Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	rights, err := normalizeRights(in.Rights)
	if err != nil {
		return nil, err
	}
	role := &Role{Name: name, Description: strings.TrimSpace(in.Description), Rights: rights}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *RBACService) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.Roles(ctx).List(ctx)
}

func (s *RBACService) GetRole(ctx context.Context, roleID string) (*Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.Roles(ctx).Find(ctx, roleID)
}

func (s *RBACService) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (*Role, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		role.Name = name
	}
	if upd.Description != nil {
		role.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Rights != nil {
		rights, err := normalizeRights(*upd.Rights)
		if err != nil {
			return nil, err
		}
		role.Rights = rights
	}
	if err := s.store.Roles(ctx).Update(ctx, role); err != nil {
		return nil, err
	}
	s.resolver.InvalidateRole(ctx, role.ID)
	return role, nil
}

func (s *RBACService) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if err := s.store.Roles(ctx).Delete(ctx, roleID); err != nil {
		return err
	}
	s.resolver.InvalidateRole(ctx, roleID)
	return nil
}

func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.ContainsAny(username, " \t\r\n") {
		return "", fmt.Errorf("%w: username is required and may not contain spaces", ErrInvalidInput)
	}
	return username, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}

func (s *RBACService) requireRole(ctx context.Context, roleID string) (string, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return "", fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: role %s does not exist", ErrInvalidInput, roleID)
		}
		return "", err
	}
	return roleID, nil
}

// CreateUser stores a new account and enqueues its welcome e-mail. A queue failure
// does not fail the call.
func (s *RBACService) CreateUser(ctx context.Context, in UserInput) (*User, error) {
	username, err := normalizeUsername(in.Username)
	if err != nil {
		return nil, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	roleID, err := s.requireRole(ctx, in.RoleID)
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{Username: username, Email: email, RoleID: roleID, PasswordHash: hash}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	if err := s.emails.Enqueue(ctx, queue.WelcomeEmail(user.Username, user.Email)); err != nil {
		obs.Error("welcome_email_enqueue_failed", err, map[string]any{"user_id": user.ID})
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *RBACService) ListUsers(ctx context.Context) ([]*User, error) {
	users, err := s.store.Users(ctx).List(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		u.PasswordHash = ""
	}
	return users, nil
}

func (s *RBACService) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *RBACService) findUser(ctx context.Context, userID string) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.Users(ctx).FindByID(ctx, userID)
}

func (s *RBACService) UpdateUser(ctx context.Context, userID string, upd UserUpdate) (*User, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	previous := *user
	if upd.Username != nil {
		if user.Username, err = normalizeUsername(*upd.Username); err != nil {
			return nil, err
		}
	}
	if upd.Email != nil {
		if user.Email, err = normalizeEmail(*upd.Email); err != nil {
			return nil, err
		}
	}
	if upd.RoleID != nil {
		if user.RoleID, err = s.requireRole(ctx, *upd.RoleID); err != nil {
			return nil, err
		}
	}
	if upd.Password != nil {
		if user.PasswordHash, err = HashPassword(*upd.Password); err != nil {
			return nil, err
		}
	}
	if err := s.store.Users(ctx).Update(ctx, user); err != nil {
		return nil, err
	}
	s.resolver.InvalidateUser(ctx, &previous)
	s.resolver.InvalidateUser(ctx, user)
	user.PasswordHash = ""
	return user, nil
}

func (s *RBACService) DeleteUser(ctx context.Context, userID string) error {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).Delete(ctx, user.ID); err != nil {
		return err
	}
	s.resolver.InvalidateUser(ctx, user)
	return nil
}

// AdminRoleName is the role EnsureAdmin grants.
const AdminRoleName = "admin"

// EnsureAdmin makes sure an account with email exists and holds the admin role, which is
// created with every declared permission when missing. An existing account is left as is.
func (s *RBACService) EnsureAdmin(ctx context.Context, email, password string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if u, err := s.store.Users(ctx).FindByEmail(ctx, email); err == nil {
		u.PasswordHash = ""
		return u, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	roles, err := s.store.Roles(ctx).List(ctx)
	if err != nil {
		return nil, err
	}
	var admin *Role
	for _, r := range roles {
		if r.Name == AdminRoleName {
			admin = r
			break
		}
	}
	if admin == nil {
		admin, err = s.CreateRole(ctx, RoleInput{
			Name:        AdminRoleName,
			Description: "Full access",
			Rights:      JoinRights(SortedPermissions()),
		})
		if err != nil {
			return nil, err
		}
	}
	username, _, _ := strings.Cut(email, "@")
	return s.CreateUser(ctx, UserInput{Username: username, Email: email, Password: password, RoleID: admin.ID})
}
