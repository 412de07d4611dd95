package httpapi

import (
	"encoding/json"
	"net/http"

	kisserrors "github.com/devrev/kissvdb/internal/errors"
)

// errorBody is the uniform error response shape from spec.md section 6:
// {error: <kind-tag>, message: <human sentence>}.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: kind, Message: message})
}

// writeKissError maps a *errors.KissError to its HTTP status and kind tag.
// Anything else (an invariant violation, per spec.md section 7) is reported
// as internal without leaking its message verbatim.
func writeKissError(w http.ResponseWriter, err error) {
	ke, ok := err.(*kisserrors.KissError)
	if !ok {
		writeError(w, http.StatusInternalServerError, string(kisserrors.CodeInternal), "internal error")
		return
	}
	writeError(w, ke.ToHTTPStatus(), string(ke.Code), ke.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
