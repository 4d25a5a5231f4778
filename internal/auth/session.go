package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Service authenticates credentials and mints session tokens.
type Service struct {
	store Store
	codec *Codec
}

// NewService constructs Service.
func NewService(store Store, codec *Codec) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: codec is required")
	}
	return &Service{store: store, codec: codec}, nil
}

// Codec returns the codec tokens are issued with.
func (s *Service) Codec() *Codec { return s.codec }

// SubjectOf is the claim set issued for u.
func SubjectOf(u *User) Subject {
	return Subject{UserID: u.ID, Username: u.Username, Email: u.Email}
}

// Login checks email and password and issues a fresh token pair. The returned user
// carries no password hash.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, nil, ErrEmailNotFound
	}
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("find user: %w", err)
	}
	if err := CheckPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	pair, err := s.IssuePair(SubjectOf(user))
	if err != nil {
		return TokenPair{}, nil, err
	}
	user.PasswordHash = ""
	return pair, user, nil
}

// IssuePair signs an access and a refresh token for sub.
func (s *Service) IssuePair(sub Subject) (TokenPair, error) {
	access, accessExp, err := s.codec.Issue(sub, KindAccess)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.codec.Issue(sub, KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token. Refresh tokens are
// stateless and are not rotated.
func (s *Service) Refresh(_ context.Context, refreshToken string) (string, time.Time, error) {
	sub, err := s.codec.Verify(refreshToken)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.codec.Issue(sub, KindAccess)
}
