package errors

import (
	"strings"
	"testing"
)

func TestNotFittedError(t *testing.T) {
	err := NewNotFittedError("RandomForestClassifier", "Predict")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var nfe *NotFittedError
	if !As(err, &nfe) {
		t.Fatalf("expected NotFittedError, got %T", err)
	}
	if nfe.ModelName != "RandomForestClassifier" {
		t.Errorf("ModelName = %q, want RandomForestClassifier", nfe.ModelName)
	}
	if !strings.Contains(err.Error(), "Call Fit() before using Predict()") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestDimensionError(t *testing.T) {
	tests := []struct {
		name     string
		axis     int
		axisName string
	}{
		{name: "row axis", axis: 0, axisName: "rows"},
		{name: "feature axis", axis: 1, axisName: "features"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDimensionError("KNN.Predict", 784, 783, tt.axis)

			var de *DimensionError
			if !As(err, &de) {
				t.Fatalf("expected DimensionError, got %T", err)
			}
			if de.Expected != 784 || de.Got != 783 {
				t.Errorf("expected/got = %d/%d, want 784/783", de.Expected, de.Got)
			}
			if !strings.Contains(err.Error(), tt.axisName) {
				t.Errorf("message %q should mention %q", err.Error(), tt.axisName)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("n_estimators", "must be positive", -1)

	var ve *ValidationError
	if !As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if !strings.Contains(err.Error(), "n_estimators") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestModelErrorUnwrap(t *testing.T) {
	inner := New("boom")
	err := NewModelError("CNN.Fit", "training failed", inner)

	if !Is(err, inner) {
		t.Error("ModelError should unwrap to the inner error")
	}
}

func TestWarnHandler(t *testing.T) {
	var captured error
	SetWarningHandler(func(w error) { captured = w })
	defer SetWarningHandler(func(w error) {})

	w := NewDataConversionWarning("uint8", "float64", "pixels rescaled to [0, 1]")
	Warn(w)

	if captured == nil {
		t.Fatal("warning handler not invoked")
	}
	if !strings.Contains(captured.Error(), "pixels rescaled") {
		t.Errorf("unexpected warning: %v", captured)
	}
}

func TestZerologWarnFuncTakesPriority(t *testing.T) {
	var viaHandler, viaZerolog bool
	SetWarningHandler(func(w error) { viaHandler = true })
	SetZerologWarnFunc(func(w error) { viaZerolog = true })
	defer func() {
		SetZerologWarnFunc(nil)
		SetWarningHandler(func(w error) {})
	}()

	Warn(New("test warning"))

	if !viaZerolog {
		t.Error("zerolog sink should receive the warning")
	}
	if viaHandler {
		t.Error("plain handler should not run when a zerolog sink is set")
	}
}
