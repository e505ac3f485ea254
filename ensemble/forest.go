// Package ensemble implements the random forest classifier used as the main
// tree-based model of the pipeline.
package ensemble

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/cheggaaa/pb/v3"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/core/model"
	"github.com/YuminosukeSato/digitrec/core/parallel"
	"github.com/YuminosukeSato/digitrec/pkg/errors"
	"github.com/YuminosukeSato/digitrec/tree"
)

// RandomForestClassifier is a bagged ensemble of decision trees with
// per-split feature subsampling. Prediction averages the class probability
// estimates of all trees.
type RandomForestClassifier struct {
	state *model.StateManager

	// Hyperparameters
	nEstimators  int
	maxDepth     int
	maxFeatures  string // "sqrt", "log2", "all"
	bootstrap    bool
	randomState  int64
	nJobs        int
	showProgress bool

	// Fitted state
	Trees       []*tree.DecisionTreeClassifier
	ClassLabels []int
	NFeaturesIn int
}

// RandomForestOption is a functional option for RandomForestClassifier.
type RandomForestOption func(*RandomForestClassifier)

// WithNEstimators sets the number of trees (default: 100).
func WithNEstimators(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.nEstimators = n
	}
}

// WithMaxDepth limits each tree's depth. 0 means unlimited.
func WithMaxDepth(depth int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.maxDepth = depth
	}
}

// WithMaxFeatures sets the per-split feature subsampling rule: "sqrt"
// (default), "log2" or "all".
func WithMaxFeatures(rule string) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.maxFeatures = rule
	}
}

// WithBootstrap toggles bootstrap sampling of training rows (default: true).
func WithBootstrap(bootstrap bool) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.bootstrap = bootstrap
	}
}

// WithRandomState sets the root random seed. Per-tree seeds are derived from
// it by tree index, so seeded fits reproduce regardless of parallelism.
func WithRandomState(seed int64) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.randomState = seed
	}
}

// WithNJobs sets the parallelism: 1 fits trees sequentially, any other value
// uses all CPU cores.
func WithNJobs(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.nJobs = n
	}
}

// WithProgress shows a terminal progress bar during fitting.
func WithProgress() RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.showProgress = true
	}
}

// NewRandomForestClassifier creates a RandomForestClassifier.
func NewRandomForestClassifier(opts ...RandomForestOption) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:       model.NewStateManager(),
		nEstimators: 100,
		maxDepth:    0,
		maxFeatures: "sqrt",
		bootstrap:   true,
		randomState: -1,
		nJobs:       -1,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// IsFitted returns whether the model has been fitted.
func (rf *RandomForestClassifier) IsFitted() bool {
	return rf.state.IsFitted()
}

// Classes returns the sorted unique class labels seen during fitting.
func (rf *RandomForestClassifier) Classes() []int {
	return rf.ClassLabels
}

// Fit trains the forest on X (n_samples x n_features) and y (n_samples x 1).
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 {
		return errors.NewModelError("RandomForestClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows != nSamples {
		return errors.NewDimensionError("RandomForestClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("RandomForestClassifier.Fit", "y must be a column vector")
	}
	if rf.nEstimators <= 0 {
		return errors.NewValidationError("n_estimators", "must be positive", rf.nEstimators)
	}

	maxFeat, err := rf.resolveMaxFeatures(nFeatures)
	if err != nil {
		return err
	}

	rf.extractClasses(y)
	rf.NFeaturesIn = nFeatures

	// Per-tree seeds are drawn up front in index order so the fit is
	// reproducible no matter how work is chunked across workers.
	rootSeed := rf.randomState
	if rootSeed < 0 {
		rootSeed = time.Now().UnixNano()
	}
	seedRng := rand.New(rand.NewSource(rootSeed))
	seeds := make([]int64, rf.nEstimators)
	for i := range seeds {
		seeds[i] = seedRng.Int63()
	}

	var bar *pb.ProgressBar
	if rf.showProgress {
		bar = pb.StartNew(rf.nEstimators)
	}

	rf.Trees = make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	errs := make([]error, rf.nEstimators)

	fitRange := func(start, end int) {
		for i := start; i < end; i++ {
			errs[i] = rf.fitTree(i, seeds[i], X, y, nSamples, nFeatures, maxFeat)
			if bar != nil {
				bar.Increment()
			}
		}
	}

	if rf.nJobs == 1 {
		fitRange(0, rf.nEstimators)
	} else {
		parallel.Parallelize(rf.nEstimators, fitRange)
	}

	if bar != nil {
		bar.Finish()
	}

	for _, err := range errs {
		if err != nil {
			return errors.NewModelError("RandomForestClassifier.Fit", "tree fitting failed", err)
		}
	}

	rf.state.SetDimensions(nFeatures, nSamples)
	rf.state.SetFitted()
	return nil
}

func (rf *RandomForestClassifier) fitTree(idx int, seed int64, X, y mat.Matrix, nSamples, nFeatures, maxFeat int) error {
	rng := rand.New(rand.NewSource(seed))

	// Bootstrap rows (or use the full set when bootstrap is off).
	XSub, ySub := X, y
	if rf.bootstrap {
		bx := mat.NewDense(nSamples, nFeatures, nil)
		by := mat.NewDense(nSamples, 1, nil)
		for i := 0; i < nSamples; i++ {
			src := rng.Intn(nSamples)
			for j := 0; j < nFeatures; j++ {
				bx.Set(i, j, X.At(src, j))
			}
			by.Set(i, 0, y.At(src, 0))
		}
		XSub, ySub = bx, by
	}

	t := tree.NewDecisionTreeClassifier(
		tree.WithCriterion("gini"),
		tree.WithMaxDepth(rf.maxDepth),
		tree.WithMaxFeatures(maxFeat),
		tree.WithTreeRandomState(rng.Int63()),
	)
	if err := t.Fit(XSub, ySub); err != nil {
		return err
	}
	rf.Trees[idx] = t
	return nil
}

func (rf *RandomForestClassifier) resolveMaxFeatures(nFeatures int) (int, error) {
	switch rf.maxFeatures {
	case "sqrt":
		return int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures))))), nil
	case "log2":
		return int(math.Max(1, math.Floor(math.Log2(float64(nFeatures))))), nil
	case "all":
		return 0, nil
	default:
		return 0, errors.NewValidationError("max_features", "must be 'sqrt', 'log2' or 'all'", rf.maxFeatures)
	}
}

func (rf *RandomForestClassifier) extractClasses(y mat.Matrix) {
	rows, _ := y.Dims()
	classMap := make(map[int]bool)
	for i := 0; i < rows; i++ {
		classMap[int(y.At(i, 0))] = true
	}
	rf.ClassLabels = make([]int, 0, len(classMap))
	for c := range classMap {
		rf.ClassLabels = append(rf.ClassLabels, c)
	}
	sort.Ints(rf.ClassLabels)
}

// Predict returns the class with the highest averaged probability for each
// sample. Ties break toward the smallest class label.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}

	n, _ := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best, bestP := 0, -1.0
		for j := range rf.ClassLabels {
			if p := proba.At(i, j); p > bestP {
				best, bestP = j, p
			}
		}
		out.Set(i, 0, float64(rf.ClassLabels[best]))
	}
	return out, nil
}

// PredictProba returns per-class probabilities averaged over all trees,
// columns ordered by Classes(). Bootstrap samples may miss rare classes, so
// each tree's columns are re-mapped onto the forest's class set.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !rf.state.IsFitted() {
		return nil, errors.NewNotFittedError("RandomForestClassifier", "PredictProba")
	}

	n, cols := X.Dims()
	if cols != rf.NFeaturesIn {
		return nil, errors.NewDimensionError("RandomForestClassifier.PredictProba", rf.NFeaturesIn, cols, 1)
	}

	classIdx := make(map[int]int, len(rf.ClassLabels))
	for i, c := range rf.ClassLabels {
		classIdx[c] = i
	}

	sum := mat.NewDense(n, len(rf.ClassLabels), nil)
	for _, t := range rf.Trees {
		p, err := t.PredictProba(X)
		if err != nil {
			return nil, err
		}
		treeClasses := t.Classes()
		for i := 0; i < n; i++ {
			for j, c := range treeClasses {
				k := classIdx[c]
				sum.Set(i, k, sum.At(i, k)+p.At(i, j))
			}
		}
	}

	inv := 1.0 / float64(len(rf.Trees))
	sum.Scale(inv, sum)
	return sum, nil
}

// forestSnapshot is the gob wire form of a fitted forest.
type forestSnapshot struct {
	Trees       []*tree.DecisionTreeClassifier
	ClassLabels []int
	NFeaturesIn int
	NEstimators int
	MaxDepth    int
	MaxFeatures string
	Bootstrap   bool
}

// GobEncode implements gob.GobEncoder.
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	if !rf.state.IsFitted() {
		return nil, errors.NewNotFittedError("RandomForestClassifier", "GobEncode")
	}
	snap := forestSnapshot{
		Trees:       rf.Trees,
		ClassLabels: rf.ClassLabels,
		NFeaturesIn: rf.NFeaturesIn,
		NEstimators: rf.nEstimators,
		MaxDepth:    rf.maxDepth,
		MaxFeatures: rf.maxFeatures,
		Bootstrap:   rf.bootstrap,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return nil, errors.Wrap(err, "ensemble: encoding forest")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var snap forestSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "ensemble: decoding forest")
	}
	rf.state = model.NewStateManager()
	rf.Trees = snap.Trees
	rf.ClassLabels = snap.ClassLabels
	rf.NFeaturesIn = snap.NFeaturesIn
	rf.nEstimators = snap.NEstimators
	rf.maxDepth = snap.MaxDepth
	rf.maxFeatures = snap.MaxFeatures
	rf.bootstrap = snap.Bootstrap
	rf.state.SetFitted()
	return nil
}
