package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppErrorMatchesKindSentinel(t *testing.T) {
	err := NotFound("incident.get", "incident", "abc")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NotFound sentinel to match")
	}
	if errors.Is(err, ErrValidationFailed) {
		t.Fatalf("did not expect ValidationFailed to match")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if KindOf(wrapped) != KindNotFound {
		t.Fatalf("expected kind to survive wrapping, got %q", KindOf(wrapped))
	}
}

func TestKindOfSkipsKindlessWrappers(t *testing.T) {
	inner := Validation("playbook.create", "steps required")
	outer := NewAppError("service.create", "create failed", inner)
	if KindOf(outer) != KindValidationFailed {
		t.Fatalf("expected inner kind, got %q", KindOf(outer))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("expected empty kind for plain error")
	}
}

func TestParseWindowRejectsInvertedRange(t *testing.T) {
	if _, _, err := ParseWindow("2024-05-02T00:00:00Z", "2024-05-01T00:00:00Z"); err == nil {
		t.Fatalf("expected inverted window error")
	}
	from, to, err := ParseWindow("2024-05-01T00:00:00Z", "")
	if err != nil || from.IsZero() || !to.IsZero() {
		t.Fatalf("unexpected window %v %v %v", from, to, err)
	}
}
