package common

import (
	"encoding/json"
	"errors"
	"net/http"
)

type ErrorBody struct {
	Kind       string   `json:"kind"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// RespondWithError writes a structured error body with the status code
// derived from the error's kind.
func RespondWithError(w http.ResponseWriter, err error) {
	body := ErrorBody{
		Kind:    ErrorKind(err),
		Message: err.Error(),
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		body.Violations = vErr.Violations
	}
	RespondWithJSON(w, HTTPStatusFromError(err), ErrorResponse{Error: body})
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"kind": "InternalError", "message": "failed to marshal response"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
