package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestHubErrorMessageFormat(t *testing.T) {
	err := NewStorageUnavailableError("fast_store", "connection refused")
	msg := err.Error()

	if msg == "" {
		t.Error("error message should not be empty")
	}
	for _, s := range []string{"storage_unavailable_error", "fast_store", "connection refused", "503"} {
		if !strings.Contains(msg, s) {
			t.Errorf("error message should contain %q, got %q", s, msg)
		}
	}
}

func TestHTTPStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      *HubError
		wantCode int
	}{
		{"not found", NewNotFoundError("durable", "msg"), 404},
		{"conflict", NewConflictError("durable", "msg"), 409},
		{"storage unavailable", NewStorageUnavailableError("fast_store", "msg"), 503},
		{"index unavailable", NewIndexUnavailableError("encoder", "msg"), 503},
		{"unauthorized", NewUnauthorizedError("msg"), 401},
		{"forbidden", NewForbiddenError("msg"), 403},
		{"validation", NewValidationError("msg"), 400},
		{"internal", NewInternalError("api", "msg"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.wantCode {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.wantCode)
			}
		})
	}
}

func TestRetryableFlag(t *testing.T) {
	if !IsRetryable(NewStorageUnavailableError("fast_store", "msg")) {
		t.Error("storage unavailable should be retryable")
	}
	if !IsRetryable(NewIndexUnavailableError("index", "msg")) {
		t.Error("index unavailable should be retryable")
	}
	for _, err := range []*HubError{
		NewNotFoundError("durable", "msg"),
		NewConflictError("durable", "msg"),
		NewUnauthorizedError("msg"),
		NewForbiddenError("msg"),
		NewValidationError("msg"),
		NewInternalError("api", "msg"),
	} {
		if IsRetryable(err) {
			t.Errorf("%s should not be retryable", err.Type)
		}
	}
}

func TestTypePredicatesUnwrap(t *testing.T) {
	wrapped := fmt.Errorf("loading document: %w", NewNotFoundError("durable", "document not found"))

	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should see through wrapping")
	}
	if IsConflict(wrapped) {
		t.Error("IsConflict should not match a not-found error")
	}
	if IsNotFound(fmt.Errorf("plain error")) {
		t.Error("IsNotFound should be false for non-hub errors")
	}
}

func TestComponentDistinguishesStorageHalves(t *testing.T) {
	fast := NewStorageUnavailableError("fast_store", "down")
	durable := NewStorageUnavailableError("durable", "down")

	if fast.Component == durable.Component {
		t.Error("components must distinguish which storage half failed")
	}
	if !IsStorageUnavailable(fast) || !IsStorageUnavailable(durable) {
		t.Error("both halves should classify as storage unavailable")
	}
}
