package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sclera-labs/authgate/pkg/apperrors"
)

// writeError maps err to its documented HTTP status and body. 401s carry
// a WWW-Authenticate challenge built from the error's taxonomy Type;
// every other status gets a plain JSON error body. Unrecognized errors
// are always overwritten to 500, per the error handling design's
// "StorageError/UpstreamUnavailable never leak detail" rule.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.NewInternalError("internal error", err)
	}

	status := appErr.StatusCode()
	if status == http.StatusUnauthorized {
		h.writeUnauthorized(w, r, appErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             string(appErr.Type),
		"error_description": appErr.Message,
	})
}

func (h *Handler) writeUnauthorized(w http.ResponseWriter, r *http.Request, appErr *apperrors.Error) {
	realm := h.cfg.Realm
	scheme := "Bearer"
	if wantsBasic(r) {
		scheme = "Basic"
		realm = h.cfg.BasicAuthRealm
	}

	if scheme == "Bearer" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+realm+`", error="`+string(appErr.Type)+`", error_description="`+appErr.Message+`"`)
	} else {
		w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             string(appErr.Type),
		"error_description": appErr.Message,
	})
}

func wantsBasic(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return len(auth) >= 6 && auth[:6] == "Basic "
}
