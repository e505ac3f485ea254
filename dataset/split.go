package dataset

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/pkg/errors"
)

// Split holds the result of a train/validation split.
type Split struct {
	XTrain *mat.Dense
	XTest  *mat.Dense
	YTrain *mat.Dense
	YTest  *mat.Dense
}

// TrainTestSplit partitions X and Y into train and test subsets by a seeded
// uniform permutation. testFraction is the share of rows assigned to the
// test side, rounded to the nearest row; the same seed always produces the
// same partition.
func TrainTestSplit(X, Y mat.Matrix, testFraction float64, seed int64) (*Split, error) {
	n, cols := X.Dims()
	yRows, yCols := Y.Dims()

	if n == 0 {
		return nil, errors.NewValueError("TrainTestSplit", "empty data")
	}
	if yRows != n {
		return nil, errors.NewDimensionError("TrainTestSplit", n, yRows, 0)
	}
	if yCols != 1 {
		return nil, errors.NewValueError("TrainTestSplit", "y must be a column vector")
	}
	if testFraction <= 0 || testFraction >= 1 {
		return nil, errors.NewValidationError("test_fraction", "must be in (0, 1)", testFraction)
	}

	nTest := int(math.Round(float64(n) * testFraction))
	if nTest == 0 {
		nTest = 1
	}
	if nTest == n {
		nTest = n - 1
	}
	nTrain := n - nTest

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(n)

	split := &Split{
		XTrain: mat.NewDense(nTrain, cols, nil),
		XTest:  mat.NewDense(nTest, cols, nil),
		YTrain: mat.NewDense(nTrain, 1, nil),
		YTest:  mat.NewDense(nTest, 1, nil),
	}

	for i, src := range perm {
		if i < nTrain {
			copyRow(split.XTrain, i, X, src, cols)
			split.YTrain.Set(i, 0, Y.At(src, 0))
		} else {
			copyRow(split.XTest, i-nTrain, X, src, cols)
			split.YTest.Set(i-nTrain, 0, Y.At(src, 0))
		}
	}

	return split, nil
}

func copyRow(dst *mat.Dense, dstRow int, src mat.Matrix, srcRow, cols int) {
	for j := 0; j < cols; j++ {
		dst.Set(dstRow, j, src.At(srcRow, j))
	}
}
