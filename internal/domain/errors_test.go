package domain

import (
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestClassifyTaggedError(t *testing.T) {
	err := Ef(KindRateLimit, "429 from %s", "service")
	if got := Classify(err); got != KindRateLimit {
		t.Errorf("Classify: got %s, want rate_limit_error", got)
	}
}

func TestClassifySurvivesWrapping(t *testing.T) {
	inner := E(KindValidation, errors.New("field state: required"))
	wrapped := fmt.Errorf("attempt 2: %w", inner)
	if got := Classify(wrapped); got != KindValidation {
		t.Errorf("Classify through fmt wrap: got %s", got)
	}
	stacked := pkgerrors.Wrap(inner, "run job")
	if got := Classify(stacked); got != KindValidation {
		t.Errorf("Classify through errors.Wrap: got %s", got)
	}
}

func TestClassifyUntaggedIsFatal(t *testing.T) {
	if got := Classify(errors.New("nil pointer dereference")); got != KindFatal {
		t.Errorf("Classify: got %s, want fatal", got)
	}
}

func TestENilPassthrough(t *testing.T) {
	if E(KindFetch, nil) != nil {
		t.Error("E(nil) should stay nil")
	}
	if Classify(nil) != "" {
		t.Error("Classify(nil) should be empty")
	}
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := E(KindFetch, base)
	if !errors.Is(err, base) {
		t.Error("classified error should unwrap to its cause")
	}
}
