package ensemble

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// threeBlobs builds three well-separated clusters of 2-D points.
func threeBlobs() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(15, 2, []float64{
		0, 0, 0.2, 0.1, 0.1, 0.3, 0.3, 0.2, 0.1, 0.1,
		5, 5, 5.2, 5.1, 5.1, 5.3, 5.3, 5.2, 5.1, 5.1,
		10, 0, 10.2, 0.1, 10.1, 0.3, 10.3, 0.2, 10.1, 0.1,
	})
	y := mat.NewDense(15, 1, []float64{
		0, 0, 0, 0, 0,
		1, 1, 1, 1, 1,
		2, 2, 2, 2, 2,
	})
	return X, y
}

func TestRandomForestFitPredict(t *testing.T) {
	X, y := threeBlobs()

	rf := NewRandomForestClassifier(
		WithNEstimators(20),
		WithRandomState(42),
	)
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	pred, err := rf.Predict(X)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	n, _ := y.Dims()
	for i := 0; i < n; i++ {
		if pred.At(i, 0) != y.At(i, 0) {
			t.Errorf("sample %d: predicted %v, want %v", i, pred.At(i, 0), y.At(i, 0))
		}
	}

	if got := rf.Classes(); len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("Classes = %v, want [0 1 2]", got)
	}
}

func TestRandomForestPredictProba(t *testing.T) {
	X, y := threeBlobs()

	rf := NewRandomForestClassifier(
		WithNEstimators(10),
		WithRandomState(1),
	)
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	proba, err := rf.PredictProba(X)
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}

	rows, cols := proba.Dims()
	if cols != 3 {
		t.Fatalf("proba columns = %d, want 3", cols)
	}
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			p := proba.At(i, j)
			if p < 0 || p > 1 {
				t.Errorf("invalid probability %v at (%d, %d)", p, i, j)
			}
			sum += p
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("row %d probabilities sum to %v, want 1", i, sum)
		}
	}
}

func TestRandomForestSeededReproducibility(t *testing.T) {
	X, y := threeBlobs()

	fit := func(nJobs int) mat.Matrix {
		rf := NewRandomForestClassifier(
			WithNEstimators(15),
			WithRandomState(7),
			WithNJobs(nJobs),
		)
		if err := rf.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		proba, err := rf.PredictProba(X)
		if err != nil {
			t.Fatal(err)
		}
		return proba
	}

	// Same seed must reproduce regardless of worker count.
	parallelProba := fit(-1)
	sequentialProba := fit(1)
	if !mat.EqualApprox(parallelProba, sequentialProba, 1e-12) {
		t.Error("seeded fit should not depend on parallelism")
	}
}

func TestRandomForestProgressOption(t *testing.T) {
	X, y := threeBlobs()

	rf := NewRandomForestClassifier(
		WithNEstimators(3),
		WithRandomState(11),
		WithProgress(),
	)
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Fit with progress bar: %v", err)
	}
	if !rf.IsFitted() {
		t.Error("forest should be fitted")
	}

	pred, err := rf.Predict(X)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if n, _ := pred.Dims(); n != 15 {
		t.Errorf("prediction rows = %d, want 15", n)
	}
}

func TestRandomForestOptionValidation(t *testing.T) {
	X, y := threeBlobs()

	tests := []struct {
		name string
		opts []RandomForestOption
	}{
		{"zero estimators", []RandomForestOption{WithNEstimators(0)}},
		{"bad max_features", []RandomForestOption{WithMaxFeatures("half")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rf := NewRandomForestClassifier(tt.opts...)
			if err := rf.Fit(X, y); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestRandomForestNotFitted(t *testing.T) {
	rf := NewRandomForestClassifier()
	if _, err := rf.Predict(mat.NewDense(1, 2, nil)); err == nil {
		t.Error("Predict before Fit should fail")
	}
}

func TestRandomForestGobRoundTrip(t *testing.T) {
	X, y := threeBlobs()

	rf := NewRandomForestClassifier(
		WithNEstimators(5),
		WithRandomState(3),
	)
	if err := rf.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rf); err != nil {
		t.Fatalf("encode: %v", err)
	}

	restored := &RandomForestClassifier{}
	if err := gob.NewDecoder(&buf).Decode(restored); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !restored.IsFitted() {
		t.Fatal("restored forest should be fitted")
	}

	origPred, _ := rf.Predict(X)
	restPred, err := restored.Predict(X)
	if err != nil {
		t.Fatalf("restored Predict: %v", err)
	}
	if !mat.Equal(origPred, restPred) {
		t.Error("restored forest should predict identically")
	}
}
