package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/sclera-labs/authgate/pkg/apperrors"
	"github.com/sclera-labs/authgate/pkg/authcore/session"
)

type loginResponse struct {
	CSRF     string   `json:"csrf"`
	Username string   `json:"username"`
	Scopes   []string `json:"scopes"`
}

// handleLogin establishes a session for an API caller. It accepts either
// an already-signed session cookie (a no-op refresh of the CSRF token)
// or an upstream-signed credential to materialize into one, then sets
// the encrypted session cookie and returns the CSRF/identity summary the
// caller needs for subsequent mutating requests.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cred, ok := h.extractCredential(r)
	if !ok {
		h.writeError(w, r, apperrors.NewUnauthenticatedError("no credential presented", nil))
		return
	}

	hdl, claims, err := h.resolveCredential(ctx, cred)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	csrf, err := session.NewCSRFToken()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	state := session.State{Handle: hdl.Encode(), CSRF: csrf, ReturnURL: r.URL.Query().Get("return_url")}
	if err := h.sessions.SetCookie(w, state); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(loginResponse{CSRF: csrf, Username: claims.Username, Scopes: claims.Scopes})
}

// handleLogout clears the session cookie and revokes the session token
// it referenced. A missing or already-invalid cookie is not an error:
// logout is idempotent.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.requireCSRF(r); err != nil {
		h.writeError(w, r, err)
		return
	}

	state, ok := h.sessions.FromRequest(r)
	if ok && state.Handle != "" {
		if hdl, valid := h.isOpaqueHandle(state.Handle); valid {
			_, _ = h.tokenService.Revoke(r.Context(), hdl, "", clientIP(r))
		}
	}
	h.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type userInfoResponse struct {
	Username string   `json:"username"`
	UID      int64    `json:"uid"`
	Email    string   `json:"email"`
	Groups   []string `json:"groups"`
	Scopes   []string `json:"scopes"`
}

// handleUserInfo returns the authenticated caller's own identity and
// scopes, a read-only convenience the original distillation dropped but
// any API client of a capability system like this one needs to render
// "who am I, what can I do" without decoding a token itself.
func (h *Handler) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.extractCredential(r)
	if !ok {
		h.writeError(w, r, apperrors.NewUnauthenticatedError("no credential presented", nil))
		return
	}

	_, claims, err := h.resolveCredential(r.Context(), cred)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(userInfoResponse{
		Username: claims.Username,
		UID:      claims.UID,
		Email:    claims.Email,
		Groups:   claims.GroupNames(),
		Scopes:   claims.Scopes,
	})
}
