package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer     = "project-manager"
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Subject is the identity carried by both token kinds.
type Subject struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// TokenKind selects the expiry policy used by Issue.
type TokenKind int

const (
	KindAccess TokenKind = iota
	KindRefresh
)

func (k TokenKind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("TokenKind(%d)", int(k))
	}
}

// SessionClaims is the JWT payload. Access and refresh tokens share this shape.
type SessionClaims struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session tokens. It is immutable after NewCodec and safe for
// concurrent use.
type Codec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl < 0 {
			return errors.New("auth: access ttl must be positive")
		}
		if ttl > 0 {
			c.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl < 0 {
			return errors.New("auth: refresh ttl must be positive")
		}
		if ttl > 0 {
			c.refreshTTL = ttl
		}
		return nil
	}
}

// WithCodecIssuer overrides the iss claim written and required by the codec.
func WithCodecIssuer(issuer string) CodecOption {
	return func(c *Codec) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
		return nil
	}
}

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewCodec builds an HS256 codec around secret.
func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	c := &Codec{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// TTL returns the lifetime applied to tokens of kind.
func (c *Codec) TTL(kind TokenKind) time.Duration {
	if kind == KindRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Issue signs sub with the expiry policy of kind and returns the token and its expiry.
func (c *Codec) Issue(sub Subject, kind TokenKind) (string, time.Time, error) {
	if kind != KindAccess && kind != KindRefresh {
		return "", time.Time{}, fmt.Errorf("auth: unknown token kind %s", kind)
	}
	if strings.TrimSpace(sub.UserID) == "" && strings.TrimSpace(sub.Username) == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject needs a user id or username", ErrInvalidInput)
	}
	now := c.now().UTC()
	claims := SessionClaims{
		UserID:   sub.UserID,
		Username: sub.Username,
		Email:    sub.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL(kind))),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, issuer and expiry. On any failure it returns the zero Subject
// and an error matching ErrInvalidToken.
func (c *Codec) Verify(token string) (Subject, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Subject{}, ErrTokenMalformed
	}
	var claims SessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Subject{}, classifyTokenError(err)
	}
	return Subject{UserID: claims.UserID, Username: claims.Username, Email: claims.Email}, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}
