package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sclera-labs/authgate/pkg/apperrors"
	"github.com/sclera-labs/authgate/pkg/authcore/handle"
	"github.com/sclera-labs/authgate/pkg/authcore/store"
	"github.com/sclera-labs/authgate/pkg/authcore/tokens"
)

// authenticate resolves the caller's own credential into ParentData,
// shared by every /auth/tokens* handler: all of them act on behalf of
// whoever is already authenticated, never on a bare username from the
// query string.
func (h *Handler) authenticate(r *http.Request) (tokens.ParentData, error) {
	ctx := r.Context()
	cred, ok := h.extractCredential(r)
	if !ok {
		return tokens.ParentData{}, apperrors.NewUnauthenticatedError("no credential presented", nil)
	}

	_, claims, err := h.resolveCredential(ctx, cred)
	if err != nil {
		return tokens.ParentData{}, err
	}

	isAdmin, err := h.admins.IsAdmin(ctx, claims.Username)
	if err != nil {
		return tokens.ParentData{}, apperrors.NewStorageError("failed to check admin roster", err)
	}

	return tokens.ParentData{
		JTI:        claims.JTI,
		Username:   claims.Username,
		UID:        claims.UID,
		Email:      claims.Email,
		Scopes:     claims.Scopes,
		ExpiresAt:  claims.ExpiresAt,
		IsAdmin:    isAdmin,
		IsMemberOf: claims.IsMemberOf,
	}, nil
}

type createUserTokenRequest struct {
	Username  string    `json:"username"`
	TokenName string    `json:"token_name"`
	Scopes    []string  `json:"scopes"`
	Expires   time.Time `json:"expires"`
}

type createUserTokenResponse struct {
	Token string `json:"token"`
}

func (h *Handler) handleCreateUserToken(w http.ResponseWriter, r *http.Request) {
	parent, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.requireCSRF(r); err != nil {
		h.writeError(w, r, err)
		return
	}

	var body createUserTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, apperrors.NewInvalidRequestError("malformed request body", err))
		return
	}
	if body.Username == "" {
		body.Username = parent.Username
	}

	req := tokens.CreateUserTokenRequest{
		Username:  body.Username,
		TokenName: body.TokenName,
		Scopes:    body.Scopes,
		Expires:   body.Expires,
	}

	hdl, err := h.tokenService.CreateUserToken(r.Context(), parent, req, clientIP(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createUserTokenResponse{Token: hdl.Encode()})
}

type tokenMetadata struct {
	JTI       string    `json:"jti"`
	Type      string    `json:"type"`
	Name      string    `json:"name,omitempty"`
	Username  string    `json:"username"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func recordToMetadata(r *store.Record) tokenMetadata {
	return tokenMetadata{
		JTI:       r.JTI,
		Type:      r.Type,
		Name:      r.Name,
		Username:  r.Username,
		Scopes:    r.Scopes,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}

func (h *Handler) handleListTokens(w http.ResponseWriter, r *http.Request) {
	parent, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	records, err := h.tokenStore().List(r.Context(), parent.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	metadata := make([]tokenMetadata, 0, len(records))
	for _, rec := range records {
		metadata = append(metadata, recordToMetadata(rec))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

func (h *Handler) handleGetTokenMetadata(w http.ResponseWriter, r *http.Request) {
	parent, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	key := chi.URLParam(r, "key")
	record, err := h.tokenStore().Get(r.Context(), key)
	if err != nil {
		h.writeNotFound(w, r, err)
		return
	}
	if record.Username != parent.Username && !parent.IsAdmin {
		h.writeNotFound(w, r, store.ErrNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(recordToMetadata(record))
}

func (h *Handler) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	parent, err := h.authenticate(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.requireCSRF(r); err != nil {
		h.writeError(w, r, err)
		return
	}

	key := chi.URLParam(r, "key")
	record, err := h.tokenStore().Get(r.Context(), key)
	if err != nil {
		h.writeNotFound(w, r, err)
		return
	}
	if record.Username != parent.Username && !parent.IsAdmin {
		h.writeNotFound(w, r, store.ErrNotFound)
		return
	}

	if _, err := h.tokenService.Revoke(r.Context(), handle.Handle{Key: key}, parent.Username, clientIP(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeNotFound maps a store lookup miss to 404, matching the "404 if
// foreign or absent" rule: a token owned by someone else gets the same
// response as a token that does not exist at all.
func (h *Handler) writeNotFound(w http.ResponseWriter, _ *http.Request, _ error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             "not_found",
		"error_description": "token not found",
	})
}

// tokenStore returns the token service's store, so the gateway never has
// to hold its own Store reference.
func (h *Handler) tokenStore() store.Store {
	return h.tokenService.Store()
}
