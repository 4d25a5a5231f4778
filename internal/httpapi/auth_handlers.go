package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/YvesL-Web/project-manager/internal/audit"
	"github.com/YvesL-Web/project-manager/internal/auth"
	"github.com/YvesL-Web/project-manager/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type meResponse struct {
	UserID   string   `json:"user_id,omitempty"`
	Username string   `json:"username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Rights   []string `json:"rights"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, user, err := a.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.Record(r.Context(), audit.Event{
		Name:         "auth.login",
		ResourceType: "user",
		ResourceID:   user.ID,
		Fields: map[string]any{
			"username":           user.Username,
			"access_expires_at":  pair.AccessExpiresAt.Format(time.RFC3339),
			"refresh_expires_at": pair.RefreshExpiresAt.Format(time.RFC3339),
		},
	})

	if a.gate.Mode() == TransportHeader {
		writeSuccess(w, http.StatusOK, tokenResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
		})
		return
	}
	http.SetCookie(w, a.cookies.access(pair.AccessToken))
	http.SetCookie(w, a.cookies.refresh(pair.RefreshToken))
	writeSuccess(w, http.StatusOK, user)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	for _, c := range a.cookies.clear() {
		http.SetCookie(w, c)
	}
	writeSuccess(w, http.StatusOK, map[string]any{"logged_out": true})
}

// handleRefreshToken exchanges a refresh token for a new access token. The refresh token
// comes from the body, falling back to the transport the gate reads it from.
func (a *API) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	// The body is optional; without one the token comes from the session transport.
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	refresh := strings.TrimSpace(req.RefreshToken)
	if refresh == "" {
		_, refresh = a.gate.credentials(r)
	}
	token, _, err := a.sessions.Refresh(r.Context(), refresh)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, r, http.StatusForbidden, "Invalid Refresh Token")
			return
		}
		handleAuthError(w, r, err)
		return
	}
	if a.gate.Mode() == TransportCookie {
		http.SetCookie(w, a.cookies.access(token))
	}
	writeSuccess(w, http.StatusOK, tokenResponse{AccessToken: token})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "Missing Authorization Tokens")
		return
	}
	writeSuccess(w, http.StatusOK, meResponse{
		UserID:   id.UserID,
		Username: id.Username,
		Email:    id.Email,
		Rights:   id.RightsList(),
	})
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrEmailNotFound):
		writeError(w, r, http.StatusNotFound, "Email not found")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusBadRequest, "Invalid credentials")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "Email and password are required")
	default:
		obs.Error("auth_request_failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		})
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}
