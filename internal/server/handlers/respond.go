package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/faultline/faultline/internal/errors"
)

// errorResponder writes error bodies for every handler in this package. The
// server installs its own so handler failures and routing failures look alike.
var errorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder replaces the error writer; nil restores the default.
func SetHTTPErrorResponder(fn func(http.ResponseWriter, *http.Request, error)) {
	if fn == nil {
		fn = apperrors.RespondWithError
	}
	errorResponder = fn
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	errorResponder(w, r, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
