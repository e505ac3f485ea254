package neighbors

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func twoBlobs() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(8, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
		10, 10,
		10, 11,
		11, 10,
		11, 11,
	})
	y := mat.NewDense(8, 1, []float64{
		0, 0, 0, 0,
		1, 1, 1, 1,
	})
	return X, y
}

func TestKNNFitPredict(t *testing.T) {
	X, y := twoBlobs()

	knn := NewKNeighborsClassifier(WithK(3))
	if err := knn.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	queries := mat.NewDense(2, 2, []float64{
		0.5, 0.5, // near the class-0 blob
		10.5, 10.5, // near the class-1 blob
	})
	pred, err := knn.Predict(queries)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if pred.At(0, 0) != 0 {
		t.Errorf("query 0 predicted %v, want 0", pred.At(0, 0))
	}
	if pred.At(1, 0) != 1 {
		t.Errorf("query 1 predicted %v, want 1", pred.At(1, 0))
	}
}

func TestKNNPredictProba(t *testing.T) {
	X, y := twoBlobs()

	knn := NewKNeighborsClassifier(WithK(4))
	if err := knn.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	// A point inside the class-0 blob: all 4 neighbors are class 0.
	proba, err := knn.PredictProba(mat.NewDense(1, 2, []float64{0.5, 0.5}))
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}

	if got := proba.At(0, 0); got != 1 {
		t.Errorf("P(class 0) = %v, want 1", got)
	}
	if got := proba.At(0, 1); got != 0 {
		t.Errorf("P(class 1) = %v, want 0", got)
	}
}

func TestKNNDistanceWeighting(t *testing.T) {
	// One class-0 point very close, two class-1 points farther away.
	X := mat.NewDense(3, 1, []float64{0, 10, 11})
	y := mat.NewDense(3, 1, []float64{0, 1, 1})

	uniform := NewKNeighborsClassifier(WithK(3), WithWeights("uniform"))
	if err := uniform.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	weighted := NewKNeighborsClassifier(WithK(3), WithWeights("distance"))
	if err := weighted.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	q := mat.NewDense(1, 1, []float64{0.5})

	// Uniform vote: two class-1 neighbors outvote the close class-0 one.
	predU, err := uniform.Predict(q)
	if err != nil {
		t.Fatal(err)
	}
	if predU.At(0, 0) != 1 {
		t.Errorf("uniform vote predicted %v, want 1", predU.At(0, 0))
	}

	// Distance weighting flips the result toward the near neighbor.
	predW, err := weighted.Predict(q)
	if err != nil {
		t.Fatal(err)
	}
	if predW.At(0, 0) != 0 {
		t.Errorf("distance vote predicted %v, want 0", predW.At(0, 0))
	}
}

func TestKNNTieBreaksTowardSmallestLabel(t *testing.T) {
	// Two neighbors, one of each class, equidistant from the query.
	X := mat.NewDense(2, 1, []float64{-1, 1})
	y := mat.NewDense(2, 1, []float64{5, 2})

	knn := NewKNeighborsClassifier(WithK(2))
	if err := knn.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	pred, err := knn.Predict(mat.NewDense(1, 1, []float64{0}))
	if err != nil {
		t.Fatal(err)
	}
	if pred.At(0, 0) != 2 {
		t.Errorf("tie should break toward the smallest label, got %v", pred.At(0, 0))
	}
}

func TestKNNValidation(t *testing.T) {
	X, y := twoBlobs()

	t.Run("k exceeds training size", func(t *testing.T) {
		knn := NewKNeighborsClassifier(WithK(100))
		if err := knn.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		if _, err := knn.Predict(mat.NewDense(1, 2, nil)); err == nil {
			t.Error("expected error when k > n_train")
		}
	})

	t.Run("invalid weights", func(t *testing.T) {
		knn := NewKNeighborsClassifier(WithWeights("gaussian"))
		if err := knn.Fit(X, y); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("not fitted", func(t *testing.T) {
		knn := NewKNeighborsClassifier()
		if _, err := knn.Predict(mat.NewDense(1, 2, nil)); err == nil {
			t.Error("Predict before Fit should fail")
		}
	})

	t.Run("feature mismatch", func(t *testing.T) {
		knn := NewKNeighborsClassifier()
		if err := knn.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		if _, err := knn.Predict(mat.NewDense(1, 3, nil)); err == nil {
			t.Error("expected dimension error")
		}
	})
}

func TestKNNParallelMatchesSequential(t *testing.T) {
	// Enough queries to cross the parallel threshold.
	n := 64
	X, y := twoBlobs()
	queries := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		queries.Set(i, 0, float64(i%12))
		queries.Set(i, 1, float64((i*5)%12))
	}

	par := NewKNeighborsClassifier(WithK(3))
	seq := NewKNeighborsClassifier(WithK(3), WithNJobs(1))
	if err := par.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if err := seq.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	pp, err := par.PredictProba(queries)
	if err != nil {
		t.Fatal(err)
	}
	sp, err := seq.PredictProba(queries)
	if err != nil {
		t.Fatal(err)
	}

	if !mat.EqualApprox(pp, sp, 1e-12) {
		t.Error("parallel and sequential scans should agree")
	}
}

func TestKNNGobRoundTrip(t *testing.T) {
	X, y := twoBlobs()

	knn := NewKNeighborsClassifier(WithK(3))
	if err := knn.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(knn); err != nil {
		t.Fatalf("encode: %v", err)
	}
	restored := &KNeighborsClassifier{}
	if err := gob.NewDecoder(&buf).Decode(restored); err != nil {
		t.Fatalf("decode: %v", err)
	}

	q := mat.NewDense(1, 2, []float64{10.4, 10.6})
	a, _ := knn.Predict(q)
	b, err := restored.Predict(q)
	if err != nil {
		t.Fatalf("restored Predict: %v", err)
	}
	if math.Abs(a.At(0, 0)-b.At(0, 0)) > 0 {
		t.Error("restored classifier should predict identically")
	}
}
