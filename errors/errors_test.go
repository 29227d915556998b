package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if got := test.class.String(); got != test.expected {
				t.Errorf("expected %s, got %s", test.expected, got)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"journal unavailable", ErrJournalUnavailable, true},
		{"publish failed", ErrPublishFailed, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"invalid signal", ErrInvalidSignal, false},
		{"blocked host", ErrBlockedHost, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"refused in message", fmt.Errorf("dial tcp: connection refused"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("x")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, false},
		{"coded transient", NewConnectionFailed("c1", "broker gone"), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsTransient(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, got, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"blocked host", ErrBlockedHost, true},
		{"connection deleted", ErrConnectionDeleted, true},
		{"connection timeout", ErrConnectionTimeout, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsFatal(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, got, test.err)
			}
		})
	}
}

func TestWrapHelpers(t *testing.T) {
	base := errors.New("boom")

	err := WrapTransient(base, "clientActor", "Connect", "open session")
	if !IsTransient(err) {
		t.Error("expected transient classification")
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to unwrap to base")
	}
	if !strings.Contains(err.Error(), "clientActor.Connect: open session failed") {
		t.Errorf("unexpected message: %s", err.Error())
	}

	if WrapInvalid(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil must return nil")
	}
}

func TestCodedError(t *testing.T) {
	err := NewConnectionNotAccessible("conn-1")
	if err.Status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", err.Status)
	}
	if err.Code != CodeConnectionNotAccessible {
		t.Errorf("unexpected code %s", err.Code)
	}
	if !errors.Is(err, ErrConnectionNotFound) {
		t.Error("expected cause chain to reach ErrConnectionNotFound")
	}

	tagged := err.WithCorrelationID("corr-42")
	if tagged.CorrelationID != "corr-42" {
		t.Error("correlation id not applied")
	}
	if err.CorrelationID != "" {
		t.Error("WithCorrelationID must not mutate the receiver")
	}
}

func TestAsCoded(t *testing.T) {
	coded := NewHostBlocked("169.254.169.254")
	if got := AsCoded(fmt.Errorf("wrapped: %w", coded)); got != coded {
		t.Error("expected AsCoded to find coded error in chain")
	}

	generic := AsCoded(errors.New("dial tcp: i/o timeout"))
	if generic.Code != CodeConnectionFailed {
		t.Errorf("expected generic connection failed code, got %s", generic.Code)
	}
	if generic.Class != ErrorTransient {
		t.Errorf("expected transient class, got %s", generic.Class)
	}
}
