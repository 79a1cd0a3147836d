package errkind

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsRetriableDefaultsByKind(t *testing.T) {
	if !IsRetriable(New(Network, "connection reset")) {
		t.Fatal("Network should be retriable by default")
	}
	if IsRetriable(New(Validation, "bad input")) {
		t.Fatal("Validation should not be retriable by default")
	}
}

func TestWithRetriableOverridesDefault(t *testing.T) {
	err := New(Timeout, "deadline exceeded").WithRetriable(false)
	if IsRetriable(err) {
		t.Fatal("WithRetriable(false) should override Timeout's default retriability")
	}
}

func TestIsRetriableFailsClosedForUnclassifiedErrors(t *testing.T) {
	if IsRetriable(errors.New("plain error")) {
		t.Fatal("an unclassified error should not be retriable")
	}
}

func TestOfExtractsKindThroughWrapping(t *testing.T) {
	inner := New(SafetyDenied, "command matched a deny pattern")
	wrapped := fmt.Errorf("executing task: %w", inner)
	if got := Of(wrapped); got != SafetyDenied {
		t.Fatalf("Of(wrapped) = %v, want SafetyDenied", got)
	}
}

func TestOfReturnsInternalForUnclassifiedErrors(t *testing.T) {
	if got := Of(errors.New("plain")); got != Internal {
		t.Fatalf("Of(plain) = %v, want Internal", got)
	}
}

func TestWrapPreservesCauseInErrorString(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Wrap(Network, cause)
	if !errors.Is(wrapped, cause) {
		t.Fatal("Wrap should preserve the cause for errors.Is")
	}
	if !strings.Contains(wrapped.Error(), "connection refused") {
		t.Fatalf("Error() = %q, want it to contain the cause's message", wrapped.Error())
	}
}
