package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestServiceErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		code      ErrorCode
		retryable bool
	}{
		{http.StatusTooManyRequests, ErrTransient, true},
		{http.StatusServiceUnavailable, ErrTransient, true},
		{http.StatusGatewayTimeout, ErrTransient, true},
		{http.StatusUnauthorized, ErrAuth, false},
		{http.StatusForbidden, ErrAuth, false},
		{http.StatusBadRequest, ErrRequest, false},
		{http.StatusConflict, ErrRequest, false},
		{http.StatusPreconditionFailed, ErrRequest, false},
		{http.StatusNotFound, ErrRequest, false},
		{http.StatusInternalServerError, ErrService, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := ServiceError("overpass", tt.status, "boom")
			if err.Code != tt.code {
				t.Errorf("code = %s, want %s", err.Code, tt.code)
			}
			if err.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", err.Retryable(), tt.retryable)
			}
			if err.Status != tt.status {
				t.Errorf("Status = %d, want %d", err.Status, tt.status)
			}
		})
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("fetch region 03: %w", ServiceError("overpass", http.StatusForbidden, "blocked"))
	if !IsCode(err, ErrAuth) {
		t.Error("expected wrapped error to carry AUTH code")
	}
	if IsCode(err, ErrTransient) {
		t.Error("did not expect TRANSIENT code")
	}
	if IsCode(errors.New("plain"), ErrAuth) {
		t.Error("plain error must not match")
	}
	if got := CodeOf(err); got != ErrAuth {
		t.Errorf("CodeOf = %s, want AUTH", got)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %s, want INTERNAL", got)
	}
}

func TestFetchErrorMessage(t *testing.T) {
	err := NewError(ErrRequest, "bad query").WithGuidance("Fix it")
	err.Status = 400
	if got, want := err.Error(), "REQUEST: bad query (HTTP 400). Fix it"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
