package gateway

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sclera-labs/authgate/pkg/apperrors"
	"github.com/sclera-labs/authgate/pkg/authcore/capability"
	"github.com/sclera-labs/authgate/pkg/authcore/handle"
	"github.com/sclera-labs/authgate/pkg/authcore/tokencodec"
	"github.com/sclera-labs/authgate/pkg/authcore/tokens"
)

// requiredCapabilities merges the "capability" and "scope" query
// parameters into a single required set, since "scope" is the
// user-facing term for the same concept.
func requiredCapabilities(r *http.Request) []string {
	q := r.URL.Query()
	var required []string
	required = append(required, q["capability"]...)
	required = append(required, q["scope"]...)
	return required
}

func satisfyStrategy(r *http.Request) capability.Strategy {
	switch r.URL.Query().Get("satisfy") {
	case "any":
		return capability.StrategyAny
	default:
		return capability.StrategyAll
	}
}

// handleAuth implements GET /auth, the per-request decision endpoint.
func (h *Handler) handleAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	required := requiredCapabilities(r)
	if len(required) == 0 {
		h.writeError(w, r, apperrors.NewInvalidRequestError("at least one capability or scope is required", nil))
		return
	}

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

	strategy := satisfyStrategy(r)
	allowed, decisions, err := h.pipeline.Evaluate(required, claims, strategy)
	if err != nil {
		h.writeError(w, r, apperrors.NewInternalError("capability evaluation failed", err))
		return
	}
	if !allowed {
		reason := "denied"
		for _, d := range decisions {
			if !d.Allowed && d.Reason != "" {
				reason = d.Reason
				break
			}
		}
		h.writeError(w, r, apperrors.NewDeniedError(reason, nil))
		return
	}

	finalHandle, finalClaims, err := h.maybeReissue(ctx, r, hdl, claims)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	encoded, err := h.tokenService.EncodedToken(ctx, finalHandle)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("X-Auth-Request-User", finalClaims.Username)
	w.Header().Set("X-Auth-Request-Uid", itoa64(finalClaims.UID))
	w.Header().Set("X-Auth-Request-Email", finalClaims.Email)
	w.Header().Set("X-Auth-Request-Groups", strings.Join(finalClaims.GroupNames(), ","))
	w.Header().Set("X-Auth-Request-Token", encoded)
	w.Header().Set("X-Auth-Request-Token-Scopes", strings.Join(finalClaims.Scopes, " "))
	w.Header().Set("X-Auth-Request-Scopes-Accepted", strings.Join(required, " "))
	w.Header().Set("X-Auth-Request-Scopes-Satisfy", string(strategy))
	w.WriteHeader(http.StatusOK)
}

// resolveCredential classifies cred and resolves it to a live handle and
// its decoded claims, per the decision engine's step 2.
func (h *Handler) resolveCredential(ctx context.Context, cred credential) (handle.Handle, *tokencodec.Claims, error) {
	if hdl, ok := h.isOpaqueHandle(cred.raw); ok {
		claims, err := h.tokenService.GetData(ctx, hdl)
		if err != nil {
			return handle.Handle{}, nil, err
		}
		return hdl, claims, nil
	}

	hdl, err := h.tokenService.VerifyUpstream(ctx, cred.raw)
	if err != nil {
		return handle.Handle{}, nil, err
	}
	claims, err := h.tokenService.GetData(ctx, hdl)
	if err != nil {
		return handle.Handle{}, nil, err
	}
	return hdl, claims, nil
}

// maybeReissue implements step 5: on request, either confirm the session
// materialized during classification (an upstream-signed credential
// always produces a fresh self-signed handle in resolveCredential) or
// derive a cross-audience internal token.
func (h *Handler) maybeReissue(ctx context.Context, r *http.Request, hdl handle.Handle, claims *tokencodec.Claims) (handle.Handle, *tokencodec.Claims, error) {
	if r.URL.Query().Get("reissue_token") != "true" {
		return hdl, claims, nil
	}

	audience := r.URL.Query().Get("audience")
	if audience != "internal" {
		return hdl, claims, nil
	}
	if claims.Issuer != h.cfg.Issuer || claims.Audience != h.cfg.DefaultAudience {
		return hdl, claims, nil
	}

	service := r.URL.Query().Get("service")
	if service == "" {
		service = "default"
	}

	isAdmin, err := h.admins.IsAdmin(ctx, claims.Username)
	if err != nil {
		return handle.Handle{}, nil, apperrors.NewStorageError("failed to check admin roster", err)
	}

	parent := tokens.ParentData{
		JTI:        claims.JTI,
		Username:   claims.Username,
		UID:        claims.UID,
		Email:      claims.Email,
		Scopes:     claims.Scopes,
		ExpiresAt:  claims.ExpiresAt,
		IsAdmin:    isAdmin,
		IsMemberOf: claims.IsMemberOf,
	}

	ip := clientIP(r)
	internalHandle, err := h.tokenService.GetInternalToken(ctx, parent, service, claims.Scopes, ip)
	if err != nil {
		return handle.Handle{}, nil, err
	}
	internalClaims, err := h.tokenService.GetData(ctx, internalHandle)
	if err != nil {
		return handle.Handle{}, nil, err
	}
	return internalHandle, internalClaims, nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}
