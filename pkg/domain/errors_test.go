package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindsSurviveWrapping(t *testing.T) {
	base := Validationf("folder %d has no children", 3).WithDetails("child list empty")
	wrapped := fmt.Errorf("send to court: %w", base)
	if KindOf(wrapped) != KindValidation {
		t.Fatalf("expected validation, got %s", KindOf(wrapped))
	}
	if !errors.Is(wrapped, &Error{Kind: KindValidation}) {
		t.Fatalf("expected errors.Is to match by kind")
	}
	if base.Error() != "folder 3 has no children: child list empty" {
		t.Fatalf("unexpected message %q", base.Error())
	}
}

func TestKindOfClassification(t *testing.T) {
	if KindOf(nil) != "" {
		t.Fatalf("nil error has no kind")
	}
	if KindOf(NotFound(EntityProject, 9)) != KindNotFound {
		t.Fatalf("expected not found")
	}
	if KindOf(fmt.Errorf("lookup: %w", ErrNotFound)) != KindNotFound {
		t.Fatalf("expected sentinel to classify as not found")
	}
	if KindOf(errors.New("disk full")) != KindFatal {
		t.Fatalf("expected unclassified errors to be fatal")
	}
	fatal := Fatal(errors.New("io"), "copy failed")
	if !errors.Is(fatal, fatal.Err) || !IsKind(fatal, KindFatal) {
		t.Fatalf("expected fatal error to unwrap")
	}
}
