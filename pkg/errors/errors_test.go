package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := &Error{
		Domain:    QueueDomain,
		Operation: "Enqueue",
		Code:      CodeQueueError,
		Message:   "queue unavailable",
		Original:  fmt.Errorf("connection refused"),
	}

	got := err.Error()
	want := "[queue.Enqueue] Code=QUEUE_ERROR: queue unavailable: connection refused"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap(ErrNotFound, "transaction not found")

	if !Is(err, ErrNotFound) {
		t.Error("wrapped sentinel must still match with Is")
	}

	var domainErr *Error
	if !As(err, &domainErr) {
		t.Fatal("wrapped error must be a domain error")
	}
	if domainErr.Message != "transaction not found" {
		t.Errorf("unexpected message %q", domainErr.Message)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "whatever") != nil {
		t.Error("wrapping nil must return nil")
	}
}

func TestWrapDomainErrorKeepsContext(t *testing.T) {
	inner := NewStorageError("UpdateStatus", fmt.Errorf("deadlock"))
	wrapped := Wrap(inner, "could not advance record")

	var domainErr *Error
	if !As(wrapped, &domainErr) {
		t.Fatal("expected domain error")
	}
	if domainErr.Code != CodeStorageError {
		t.Errorf("code lost in wrap: %q", domainErr.Code)
	}
	if domainErr.Operation != "UpdateStatus" {
		t.Errorf("operation lost in wrap: %q", domainErr.Operation)
	}
	if domainErr.Message != "could not advance record" {
		t.Errorf("unexpected message %q", domainErr.Message)
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewQueueError("Enqueue", fmt.Errorf("down"))); got != CodeQueueError {
		t.Errorf("CodeOf = %q, want %q", got, CodeQueueError)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid request", NewInvalidRequest("missing to"), http.StatusBadRequest},
		{"on-chain failure", NewOnChainFailure("0xabc"), http.StatusBadRequest},
		{"signing error", NewUpstreamSigningError("Submit", fmt.Errorf("boom")), http.StatusBadRequest},
		{"timeout", &Error{Code: CodeTransportTimeout, Original: ErrTimeout}, http.StatusAccepted},
		{"storage", NewStorageError("Create", fmt.Errorf("down")), http.StatusInternalServerError},
		{"queue", NewQueueError("Enqueue", fmt.Errorf("down")), http.StatusInternalServerError},
		{"not found", Wrap(ErrNotFound, "no such record"), http.StatusNotFound},
		{"unknown", fmt.Errorf("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.want)
			}
		})
	}
}
