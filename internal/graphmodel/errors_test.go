package graphmodel

import (
	"errors"
	"testing"
)

func TestErrorKindMatching(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(KindNotFound, "entities.get", cause)

	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected KindNotFound")
	}
	if IsKind(err, KindConflict) {
		t.Fatalf("did not expect KindConflict")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap to expose cause")
	}
}

func TestValidationErrorNamesField(t *testing.T) {
	err := NewValidationError("relationships.create", "type", errors.New("unknown relationship type"))
	if err.Field != "type" {
		t.Fatalf("expected field=type, got %q", err.Field)
	}
	if !IsKind(err, KindValidation) {
		t.Fatalf("expected KindValidation")
	}
}
