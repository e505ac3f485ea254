// Package neighbors implements a brute-force k-nearest-neighbor classifier.
// Queries scan the memorized training set with Euclidean distance; the scan
// is parallelized over query rows.
package neighbors

import (
	"bytes"
	"encoding/gob"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/core/model"
	"github.com/YuminosukeSato/digitrec/core/parallel"
	"github.com/YuminosukeSato/digitrec/pkg/errors"
)

// Minimum query count before Predict fans out across cores.
const parallelThreshold = 16

// KNeighborsClassifier classifies by majority vote among the k nearest
// training samples.
type KNeighborsClassifier struct {
	state *model.StateManager

	// Hyperparameters
	k       int
	weights string // "uniform" or "distance"
	nJobs   int

	// Fitted state
	XTrain      *mat.Dense
	YTrain      []int
	ClassLabels []int
	NFeaturesIn int
}

// KNeighborsOption is a functional option for KNeighborsClassifier.
type KNeighborsOption func(*KNeighborsClassifier)

// WithK sets the number of neighbors (default: 5).
func WithK(k int) KNeighborsOption {
	return func(knn *KNeighborsClassifier) {
		knn.k = k
	}
}

// WithWeights sets the vote weighting: "uniform" (default) or "distance".
func WithWeights(weights string) KNeighborsOption {
	return func(knn *KNeighborsClassifier) {
		knn.weights = weights
	}
}

// WithNJobs sets the parallelism: 1 scans queries sequentially, any other
// value uses all CPU cores.
func WithNJobs(n int) KNeighborsOption {
	return func(knn *KNeighborsClassifier) {
		knn.nJobs = n
	}
}

// NewKNeighborsClassifier creates a KNeighborsClassifier.
func NewKNeighborsClassifier(opts ...KNeighborsOption) *KNeighborsClassifier {
	knn := &KNeighborsClassifier{
		state:   model.NewStateManager(),
		k:       5,
		weights: "uniform",
		nJobs:   -1,
	}
	for _, opt := range opts {
		opt(knn)
	}
	return knn
}

// IsFitted returns whether the model has been fitted.
func (knn *KNeighborsClassifier) IsFitted() bool {
	return knn.state.IsFitted()
}

// Classes returns the sorted unique class labels seen during fitting.
func (knn *KNeighborsClassifier) Classes() []int {
	return knn.ClassLabels
}

// Fit memorizes the training data.
func (knn *KNeighborsClassifier) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 {
		return errors.NewModelError("KNeighborsClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows != nSamples {
		return errors.NewDimensionError("KNeighborsClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("KNeighborsClassifier.Fit", "y must be a column vector")
	}
	if knn.k <= 0 {
		return errors.NewValidationError("k", "must be positive", knn.k)
	}
	if knn.weights != "uniform" && knn.weights != "distance" {
		return errors.NewValidationError("weights", "must be 'uniform' or 'distance'", knn.weights)
	}

	knn.XTrain = mat.DenseCopyOf(X)
	knn.YTrain = make([]int, nSamples)
	classMap := make(map[int]bool)
	for i := 0; i < nSamples; i++ {
		label := int(y.At(i, 0))
		knn.YTrain[i] = label
		classMap[label] = true
	}
	knn.ClassLabels = make([]int, 0, len(classMap))
	for c := range classMap {
		knn.ClassLabels = append(knn.ClassLabels, c)
	}
	sort.Ints(knn.ClassLabels)
	knn.NFeaturesIn = nFeatures

	knn.state.SetDimensions(nFeatures, nSamples)
	knn.state.SetFitted()
	return nil
}

// Predict returns the majority vote among each sample's k nearest training
// rows. Ties break toward the smallest class label.
func (knn *KNeighborsClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := knn.PredictProba(X)
	if err != nil {
		return nil, err
	}

	n, _ := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best, bestP := 0, -1.0
		for j := range knn.ClassLabels {
			if p := proba.At(i, j); p > bestP {
				best, bestP = j, p
			}
		}
		out.Set(i, 0, float64(knn.ClassLabels[best]))
	}
	return out, nil
}

// PredictProba returns normalized neighbor vote weights per class, columns
// ordered by Classes().
func (knn *KNeighborsClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !knn.state.IsFitted() {
		return nil, errors.NewNotFittedError("KNeighborsClassifier", "PredictProba")
	}

	n, cols := X.Dims()
	if cols != knn.NFeaturesIn {
		return nil, errors.NewDimensionError("KNeighborsClassifier.PredictProba", knn.NFeaturesIn, cols, 1)
	}
	nTrain := len(knn.YTrain)
	if knn.k > nTrain {
		return nil, errors.NewValidationError("k", "must not exceed the number of training samples", knn.k)
	}

	classIdx := make(map[int]int, len(knn.ClassLabels))
	for i, c := range knn.ClassLabels {
		classIdx[c] = i
	}

	out := mat.NewDense(n, len(knn.ClassLabels), nil)

	scan := func(start, end int) {
		dists := make([]float64, nTrain)
		order := make([]int, nTrain)
		for q := start; q < end; q++ {
			for i := 0; i < nTrain; i++ {
				dists[i] = euclidean(X, q, knn.XTrain, i, knn.NFeaturesIn)
				order[i] = i
			}
			// Stable order on equal distances keeps results deterministic.
			sort.SliceStable(order, func(a, b int) bool {
				return dists[order[a]] < dists[order[b]]
			})

			for _, i := range order[:knn.k] {
				w := 1.0
				if knn.weights == "distance" {
					w = 1.0 / (dists[i] + 1e-9)
				}
				j := classIdx[knn.YTrain[i]]
				out.Set(q, j, out.At(q, j)+w)
			}

			total := 0.0
			for j := range knn.ClassLabels {
				total += out.At(q, j)
			}
			for j := range knn.ClassLabels {
				out.Set(q, j, out.At(q, j)/total)
			}
		}
	}

	if knn.nJobs == 1 {
		scan(0, n)
	} else {
		parallel.ParallelizeWithThreshold(n, parallelThreshold, scan)
	}

	return out, nil
}

func euclidean(a mat.Matrix, ai int, b mat.Matrix, bi int, cols int) float64 {
	sum := 0.0
	for j := 0; j < cols; j++ {
		d := a.At(ai, j) - b.At(bi, j)
		sum += d * d
	}
	return math.Sqrt(sum)
}

// knnSnapshot is the gob wire form of a fitted classifier.
type knnSnapshot struct {
	XTrain      *mat.Dense
	YTrain      []int
	ClassLabels []int
	NFeaturesIn int
	K           int
	Weights     string
}

// GobEncode implements gob.GobEncoder.
func (knn *KNeighborsClassifier) GobEncode() ([]byte, error) {
	if !knn.state.IsFitted() {
		return nil, errors.NewNotFittedError("KNeighborsClassifier", "GobEncode")
	}
	snap := knnSnapshot{
		XTrain:      knn.XTrain,
		YTrain:      knn.YTrain,
		ClassLabels: knn.ClassLabels,
		NFeaturesIn: knn.NFeaturesIn,
		K:           knn.k,
		Weights:     knn.weights,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return nil, errors.Wrap(err, "neighbors: encoding classifier")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (knn *KNeighborsClassifier) GobDecode(data []byte) error {
	var snap knnSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "neighbors: decoding classifier")
	}
	knn.state = model.NewStateManager()
	knn.XTrain = snap.XTrain
	knn.YTrain = snap.YTrain
	knn.ClassLabels = snap.ClassLabels
	knn.NFeaturesIn = snap.NFeaturesIn
	knn.k = snap.K
	knn.weights = snap.Weights
	knn.nJobs = -1
	knn.state.SetFitted()
	return nil
}
