package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorKindMatching(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		kind   string
		status int
	}{
		{"validation", NewValidationError("name is required"), "ValidationError", http.StatusBadRequest},
		{"authentication", Errorf("%w: caller does not own contest", ErrAuthentication), "AuthenticationError", http.StatusUnauthorized},
		{"conflict", Errorf("%w: contest already frozen", ErrConflict), "ConflictError", http.StatusConflict},
		{"not found", Errorf("%w: contest", ErrNotFound), "NotFoundError", http.StatusNotFound},
		{"database", NewDatabaseError("UpdateContest", errors.New("connection reset")), "DatabaseError", http.StatusInternalServerError},
		{"unknown", errors.New("boom"), "InternalError", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ErrorKind(tc.err); got != tc.kind {
				t.Errorf("ErrorKind = %q, want %q", got, tc.kind)
			}
			if got := HTTPStatusFromError(tc.err); got != tc.status {
				t.Errorf("HTTPStatusFromError = %d, want %d", got, tc.status)
			}
		})
	}
}

func TestValidationErrorCollectsAllViolations(t *testing.T) {
	err := NewValidationError(
		"contest must have at least one problem",
		"problem \"two-sum\" has no test cases",
	)
	if !errors.Is(err, ErrValidation) {
		t.Fatal("expected errors.Is(err, ErrValidation)")
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatal("expected *ValidationError")
	}
	if len(vErr.Violations) != 2 {
		t.Fatalf("got %d violations, want 2", len(vErr.Violations))
	}
}

func TestNewValidationErrorEmptyIsNil(t *testing.T) {
	if err := NewValidationError(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestDatabaseErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("deadlock detected")
	err := NewDatabaseError("InsertSubmission", cause)
	if !errors.Is(err, ErrDatabase) {
		t.Fatal("expected errors.Is(err, ErrDatabase)")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected the cause to remain reachable through Unwrap")
	}
}

func TestRespondWithErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, NewValidationError("duration_minutes must be positive", "name is required"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error.Kind != "ValidationError" {
		t.Errorf("kind = %q, want ValidationError", resp.Error.Kind)
	}
	if len(resp.Error.Violations) != 2 {
		t.Errorf("got %d violations, want 2", len(resp.Error.Violations))
	}
}
