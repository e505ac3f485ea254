// Package metrics provides the classification metrics used to score the
// digit classifiers against held-out labels.
package metrics

import (
	"github.com/YuminosukeSato/digitrec/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Accuracy computes the fraction of matching labels between yTrue and yPred.
// Both are n x 1 matrices of class labels.
func Accuracy(yTrue, yPred mat.Matrix) (float64, error) {
	n, err := checkLabelPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	correct := 0
	for i := 0; i < n; i++ {
		if int(yTrue.At(i, 0)) == int(yPred.At(i, 0)) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ConfusionMatrix computes an nClasses x nClasses matrix where entry (i, j)
// counts samples of true class i predicted as class j.
func ConfusionMatrix(yTrue, yPred mat.Matrix, nClasses int) (*mat.Dense, error) {
	n, err := checkLabelPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return nil, err
	}
	if nClasses <= 0 {
		return nil, errors.NewValidationError("n_classes", "must be positive", nClasses)
	}

	cm := mat.NewDense(nClasses, nClasses, nil)
	for i := 0; i < n; i++ {
		t := int(yTrue.At(i, 0))
		p := int(yPred.At(i, 0))
		if t < 0 || t >= nClasses {
			return nil, errors.NewValueError("ConfusionMatrix", "true label out of range")
		}
		if p < 0 || p >= nClasses {
			return nil, errors.NewValueError("ConfusionMatrix", "predicted label out of range")
		}
		cm.Set(t, p, cm.At(t, p)+1)
	}
	return cm, nil
}

// ClassReport holds per-class precision, recall and F1.
type ClassReport struct {
	Precision []float64
	Recall    []float64
	F1        []float64
	Support   []int
}

// PrecisionRecallF1 computes per-class precision, recall and F1 from label
// vectors. Classes with no predicted (or no true) samples get 0 for the
// affected metric.
func PrecisionRecallF1(yTrue, yPred mat.Matrix, nClasses int) (*ClassReport, error) {
	cm, err := ConfusionMatrix(yTrue, yPred, nClasses)
	if err != nil {
		return nil, err
	}

	report := &ClassReport{
		Precision: make([]float64, nClasses),
		Recall:    make([]float64, nClasses),
		F1:        make([]float64, nClasses),
		Support:   make([]int, nClasses),
	}

	for k := 0; k < nClasses; k++ {
		tp := cm.At(k, k)
		var predicted, actual float64
		for j := 0; j < nClasses; j++ {
			predicted += cm.At(j, k)
			actual += cm.At(k, j)
		}
		report.Support[k] = int(actual)

		if predicted > 0 {
			report.Precision[k] = tp / predicted
		}
		if actual > 0 {
			report.Recall[k] = tp / actual
		}
		if report.Precision[k]+report.Recall[k] > 0 {
			report.F1[k] = 2 * report.Precision[k] * report.Recall[k] / (report.Precision[k] + report.Recall[k])
		}
	}

	return report, nil
}

func checkLabelPair(op string, yTrue, yPred mat.Matrix) (int, error) {
	n, cTrue := yTrue.Dims()
	nPred, cPred := yPred.Dims()

	if n == 0 {
		return 0, errors.NewValueError(op, "empty input")
	}
	if cTrue != 1 || cPred != 1 {
		return 0, errors.NewValueError(op, "labels must be column vectors")
	}
	if nPred != n {
		return 0, errors.NewDimensionError(op, n, nPred, 0)
	}
	return n, nil
}
