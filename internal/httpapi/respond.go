package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/mzemanski-eng/claims-ebilling/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// writeError maps an *apperrors.AppError to its declared status code; any
// other error is treated as an unclassified internal failure so a bug in
// a handler never leaks a raw Go error string to a caller.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.StatusCode, errorBody{
			Error:   string(appErr.Type),
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{
		Error:   string(apperrors.TypeInternal),
		Message: "an unexpected error occurred",
	})
}

// decodeJSON decodes the request body into dst. A request with no body at
// all (an optional-fields request like approve_invoice's notes) is a
// no-op, leaving dst at its zero value.
func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.Wrap(err, apperrors.TypeValidation, "malformed request body")
	}
	return nil
}
