package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/YvesL-Web/project-manager/internal/auth"
	"github.com/YvesL-Web/project-manager/internal/obs"
)

// TransportMode selects how session tokens travel between client and server.
type TransportMode string

const (
	// TransportCookie carries tokens in the access_token and refresh_token cookies.
	TransportCookie TransportMode = "cookie"
	// TransportHeader carries the access token as a bearer token and the refresh token in
	// X-Refresh-Token. Reissued access tokens come back in X-Access-Token.
	TransportHeader TransportMode = "header"
)

const (
	accessCookie       = "access_token"
	refreshCookie      = "refresh_token"
	authHeader         = "Authorization"
	bearer             = "Bearer "
	refreshTokenHeader = "X-Refresh-Token"
	accessTokenHeader  = "X-Access-Token"
)

// Gate outcome labels.
const (
	outcomeAccessValid    = "access_valid"
	outcomeRefreshed      = "refreshed"
	outcomeMissing        = "missing"
	outcomeNoRefresh      = "no_refresh"
	outcomeRefreshInvalid = "refresh_invalid"
)

// TokenCodec verifies and issues session tokens.
type TokenCodec interface {
	Verify(token string) (auth.Subject, error)
	Issue(sub auth.Subject, kind auth.TokenKind) (string, time.Time, error)
	TTL(kind auth.TokenKind) time.Duration
}

// RightsSource resolves the rights of a username. It never fails; unknown users have none.
type RightsSource interface {
	RightsForUsername(ctx context.Context, username string) map[string]struct{}
}

// GateConfig configures NewGate.
type GateConfig struct {
	Codec        TokenCodec
	Resolver     RightsSource
	Mode         TransportMode
	CookieSecure bool
	CookieDomain string
}

// Gate authenticates requests from their session tokens. An expired or otherwise invalid
// access token is replaced from a valid refresh token on the same request.
type Gate struct {
	codec    TokenCodec
	resolver RightsSource
	mode     TransportMode
	cookies  cookieJar
}

func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Codec == nil {
		return nil, errors.New("httpapi: gate codec is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("httpapi: gate resolver is required")
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = TransportCookie
	case TransportCookie, TransportHeader:
	default:
		return nil, errors.New("httpapi: unknown token transport " + string(cfg.Mode))
	}
	return &Gate{
		codec:    cfg.Codec,
		resolver: cfg.Resolver,
		mode:     cfg.Mode,
		cookies: cookieJar{
			secure:     cfg.CookieSecure,
			domain:     cfg.CookieDomain,
			accessTTL:  cfg.Codec.TTL(auth.KindAccess),
			refreshTTL: cfg.Codec.TTL(auth.KindRefresh),
		},
	}, nil
}

// Mode reports the configured transport.
func (g *Gate) Mode() TransportMode { return g.mode }

// Middleware admits requests carrying a valid access token, or a valid refresh token from
// which a new access token is minted and returned alongside the response.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, refresh := g.credentials(r)
		if access == "" && refresh == "" {
			g.reject(w, r, outcomeMissing, http.StatusUnauthorized, "Missing Authorization Tokens", nil)
			return
		}

		sub, err := g.codec.Verify(access)
		outcome := outcomeAccessValid
		if err != nil {
			if refresh == "" {
				g.reject(w, r, outcomeNoRefresh, http.StatusUnauthorized, "Access token expired and no refresh token provided", err)
				return
			}
			sub, err = g.codec.Verify(refresh)
			if err != nil {
				g.reject(w, r, outcomeRefreshInvalid, http.StatusForbidden, "Invalid or expired refresh token", err)
				return
			}
			token, _, err := g.codec.Issue(sub, auth.KindAccess)
			if err != nil {
				obs.Error("access_reissue_failed", err, map[string]any{
					"request_id": RequestIDFromContext(r.Context()),
				})
				writeError(w, r, http.StatusInternalServerError, "Internal server error")
				return
			}
			g.deliverAccess(w, token)
			outcome = outcomeRefreshed
		}

		var rights map[string]struct{}
		if sub.Username != "" {
			rights = g.resolver.RightsForUsername(r.Context(), sub.Username)
		}
		obs.GateOutcome(outcome)
		ctx := auth.ContextWithIdentity(r.Context(), auth.NewIdentity(sub, rights))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) credentials(r *http.Request) (access, refresh string) {
	if g.mode == TransportHeader {
		access = bearerToken(r.Header.Get(authHeader))
		refresh = strings.TrimSpace(r.Header.Get(refreshTokenHeader))
		return access, refresh
	}
	return cookieValue(r, accessCookie), cookieValue(r, refreshCookie)
}

func (g *Gate) deliverAccess(w http.ResponseWriter, token string) {
	if g.mode == TransportHeader {
		w.Header().Set(accessTokenHeader, token)
		return
	}
	http.SetCookie(w, g.cookies.access(token))
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, outcome string, code int, msg string, cause error) {
	obs.GateOutcome(outcome)
	fields := map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"outcome":    outcome,
		"path":       r.URL.Path,
	}
	if cause != nil {
		fields["reason"] = cause.Error()
	}
	obs.Info("session_rejected", fields)
	writeError(w, r, code, msg)
}

// requirePermission writes 403 and reports false unless the caller holds perm.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, perm string) bool {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok || !id.HasPermission(perm) {
		writeError(w, r, http.StatusForbidden, "Unauthorized")
		return false
	}
	return true
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// cookieJar builds the session cookies. All are httpOnly and SameSite=Strict.
type cookieJar struct {
	secure     bool
	domain     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func (j cookieJar) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   j.domain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (j cookieJar) access(token string) *http.Cookie {
	return j.cookie(accessCookie, token, j.accessTTL)
}

func (j cookieJar) refresh(token string) *http.Cookie {
	return j.cookie(refreshCookie, token, j.refreshTTL)
}

// clear returns expired copies of both session cookies.
func (j cookieJar) clear() []*http.Cookie {
	out := make([]*http.Cookie, 0, 2)
	for _, name := range []string{accessCookie, refreshCookie} {
		c := j.cookie(name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		out = append(out, c)
	}
	return out
}
