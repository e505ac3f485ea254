// Package tree implements a CART-style decision tree classifier. It is the
// building block of the random forest in the ensemble package.
package tree

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/core/model"
	"github.com/YuminosukeSato/digitrec/pkg/errors"
)

// Node is one node of a fitted decision tree. Fields are exported for gob
// encoding.
type Node struct {
	// Feature and Threshold define the split: samples with
	// x[Feature] <= Threshold go left. Feature is -1 for leaves.
	Feature   int
	Threshold float64
	Left      *Node
	Right     *Node

	// ClassCounts holds the training-sample class distribution at this
	// node, indexed like ClassLabels on the classifier.
	ClassCounts []float64
}

// IsLeaf reports whether the node has no split.
func (n *Node) IsLeaf() bool {
	return n.Feature < 0
}

// DecisionTreeClassifier is a CART classifier with gini or entropy splits.
type DecisionTreeClassifier struct {
	state *model.StateManager

	// Hyperparameters
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	randomState     int64

	// Fitted state, exported for gob encoding.
	Root        *Node
	ClassLabels []int
	NFeaturesIn int

	// Importances holds the normalized impurity-decrease importance of
	// each feature after Fit.
	Importances []float64

	nTotal float64
	rand   *rand.Rand
}

// DecisionTreeOption is a functional option for DecisionTreeClassifier.
type DecisionTreeOption func(*DecisionTreeClassifier)

// WithCriterion sets the split quality measure: "gini" or "entropy".
func WithCriterion(criterion string) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.criterion = criterion
	}
}

// WithMaxDepth limits the tree depth. 0 means unlimited.
func WithMaxDepth(depth int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum samples required to split a node.
func WithMinSamplesSplit(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the minimum samples required in each leaf.
func WithMinSamplesLeaf(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesLeaf = n
	}
}

// WithMaxFeatures sets how many randomly chosen features are considered at
// each split. 0 means all features; the forest passes sqrt(n_features).
func WithMaxFeatures(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.maxFeatures = n
	}
}

// WithTreeRandomState sets the random seed for feature subsampling.
func WithTreeRandomState(seed int64) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.randomState = seed
	}
}

// NewDecisionTreeClassifier creates a DecisionTreeClassifier.
func NewDecisionTreeClassifier(opts ...DecisionTreeOption) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		maxDepth:        0,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     0,
		randomState:     -1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	if dt.randomState >= 0 {
		dt.rand = rand.New(rand.NewSource(dt.randomState))
	} else {
		dt.rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return dt
}

// IsFitted returns whether the model has been fitted.
func (dt *DecisionTreeClassifier) IsFitted() bool {
	return dt.state.IsFitted()
}

// Classes returns the sorted unique class labels seen during fitting.
func (dt *DecisionTreeClassifier) Classes() []int {
	return dt.ClassLabels
}

// Fit grows the tree on X (n_samples x n_features) and y (n_samples x 1).
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows != nSamples {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("DecisionTreeClassifier.Fit", "y must be a column vector")
	}
	if dt.criterion != "gini" && dt.criterion != "entropy" {
		return errors.NewValidationError("criterion", "must be 'gini' or 'entropy'", dt.criterion)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", dt.minSamplesLeaf)
	}
	if dt.maxFeatures < 0 || dt.maxFeatures > nFeatures {
		return errors.NewValidationError("max_features", "must be in [0, n_features]", dt.maxFeatures)
	}

	dt.extractClasses(y)
	dt.NFeaturesIn = nFeatures

	// Class labels mapped to indices for counting.
	classIdx := make(map[int]int, len(dt.ClassLabels))
	for i, c := range dt.ClassLabels {
		classIdx[c] = i
	}
	labels := make([]int, nSamples)
	for i := 0; i < nSamples; i++ {
		labels[i] = classIdx[int(y.At(i, 0))]
	}

	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}

	dt.nTotal = float64(nSamples)
	dt.Importances = make([]float64, nFeatures)
	dt.Root = dt.buildNode(X, labels, indices, 0)
	normalize(dt.Importances)
	dt.state.SetDimensions(nFeatures, nSamples)
	dt.state.SetFitted()
	return nil
}

func (dt *DecisionTreeClassifier) extractClasses(y mat.Matrix) {
	rows, _ := y.Dims()
	classMap := make(map[int]bool)
	for i := 0; i < rows; i++ {
		classMap[int(y.At(i, 0))] = true
	}
	dt.ClassLabels = make([]int, 0, len(classMap))
	for c := range classMap {
		dt.ClassLabels = append(dt.ClassLabels, c)
	}
	sort.Ints(dt.ClassLabels)
}

func (dt *DecisionTreeClassifier) buildNode(X mat.Matrix, labels []int, indices []int, depth int) *Node {
	counts := make([]float64, len(dt.ClassLabels))
	for _, i := range indices {
		counts[labels[i]]++
	}
	node := &Node{Feature: -1, ClassCounts: counts}

	if len(indices) < dt.minSamplesSplit {
		return node
	}
	if dt.maxDepth > 0 && depth >= dt.maxDepth {
		return node
	}
	if isPure(counts) {
		return node
	}

	feature, threshold, gain, ok := dt.bestSplit(X, labels, indices, counts)
	if !ok {
		return node
	}

	var left, right []int
	for _, i := range indices {
		if X.At(i, feature) <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < dt.minSamplesLeaf || len(right) < dt.minSamplesLeaf {
		return node
	}

	node.Feature = feature
	node.Threshold = threshold
	dt.Importances[feature] += float64(len(indices)) / dt.nTotal * gain
	node.Left = dt.buildNode(X, labels, left, depth+1)
	node.Right = dt.buildNode(X, labels, right, depth+1)
	return node
}

// bestSplit scans candidate features for the threshold with the highest
// impurity decrease. Thresholds are midpoints between adjacent distinct
// sorted values.
func (dt *DecisionTreeClassifier) bestSplit(X mat.Matrix, labels []int, indices []int, totalCounts []float64) (int, float64, float64, bool) {
	n := float64(len(indices))
	parentImpurity := dt.impurity(totalCounts, n)

	bestGain := 1e-12
	bestFeature := -1
	bestThreshold := 0.0

	sorted := make([]int, len(indices))
	leftCounts := make([]float64, len(totalCounts))
	rightCounts := make([]float64, len(totalCounts))

	for _, f := range dt.candidateFeatures() {
		copy(sorted, indices)
		sort.Slice(sorted, func(a, b int) bool {
			return X.At(sorted[a], f) < X.At(sorted[b], f)
		})

		for i := range leftCounts {
			leftCounts[i] = 0
			rightCounts[i] = totalCounts[i]
		}

		for i := 0; i < len(sorted)-1; i++ {
			c := labels[sorted[i]]
			leftCounts[c]++
			rightCounts[c]--

			v, next := X.At(sorted[i], f), X.At(sorted[i+1], f)
			if v == next {
				continue
			}

			nLeft := float64(i + 1)
			nRight := n - nLeft
			if int(nLeft) < dt.minSamplesLeaf || int(nRight) < dt.minSamplesLeaf {
				continue
			}

			gain := parentImpurity -
				(nLeft/n)*dt.impurity(leftCounts, nLeft) -
				(nRight/n)*dt.impurity(rightCounts, nRight)
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (v + next) / 2
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, 0, false
	}
	return bestFeature, bestThreshold, bestGain, true
}

// candidateFeatures returns all feature indices, or a random subset of size
// maxFeatures when feature subsampling is enabled.
func (dt *DecisionTreeClassifier) candidateFeatures() []int {
	if dt.maxFeatures == 0 || dt.maxFeatures >= dt.NFeaturesIn {
		all := make([]int, dt.NFeaturesIn)
		for i := range all {
			all[i] = i
		}
		return all
	}
	perm := dt.rand.Perm(dt.NFeaturesIn)
	return perm[:dt.maxFeatures]
}

func (dt *DecisionTreeClassifier) impurity(counts []float64, n float64) float64 {
	if dt.criterion == "entropy" {
		e := 0.0
		for _, c := range counts {
			if c > 0 {
				p := c / n
				e -= p * math.Log2(p)
			}
		}
		return e
	}
	// gini
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

func isPure(counts []float64) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

// Score returns the mean accuracy of Predict(X) against y. It returns 0 when
// prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	n, _ := y.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		if int(pred.At(i, 0)) == int(y.At(i, 0)) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// GetDepth returns the depth of the fitted tree. A lone leaf has depth 0.
func (dt *DecisionTreeClassifier) GetDepth() int {
	return nodeDepth(dt.Root)
}

func nodeDepth(n *Node) int {
	if n == nil || n.IsLeaf() {
		return 0
	}
	l, r := nodeDepth(n.Left), nodeDepth(n.Right)
	if l > r {
		return l + 1
	}
	return r + 1
}

// GetFeatureImportances returns the normalized impurity-decrease importance
// of each feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return dt.Importances
}

func normalize(vals []float64) {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	if sum == 0 {
		return
	}
	for i := range vals {
		vals[i] /= sum
	}
}

// Predict returns the majority class of the leaf each sample lands in.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}

	n, _ := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best, bestP := 0, -1.0
		for j := range dt.ClassLabels {
			if p := proba.At(i, j); p > bestP {
				best, bestP = j, p
			}
		}
		out.Set(i, 0, float64(dt.ClassLabels[best]))
	}
	return out, nil
}

// PredictProba returns the leaf class distribution for each sample, columns
// ordered by Classes().
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !dt.state.IsFitted() {
		return nil, errors.NewNotFittedError("DecisionTreeClassifier", "PredictProba")
	}

	n, cols := X.Dims()
	if cols != dt.NFeaturesIn {
		return nil, errors.NewDimensionError("DecisionTreeClassifier.PredictProba", dt.NFeaturesIn, cols, 1)
	}

	out := mat.NewDense(n, len(dt.ClassLabels), nil)
	for i := 0; i < n; i++ {
		node := dt.Root
		for !node.IsLeaf() {
			if X.At(i, node.Feature) <= node.Threshold {
				node = node.Left
			} else {
				node = node.Right
			}
		}
		total := 0.0
		for _, c := range node.ClassCounts {
			total += c
		}
		for j, c := range node.ClassCounts {
			out.Set(i, j, c/total)
		}
	}
	return out, nil
}

// treeSnapshot is the gob wire form of a fitted tree.
type treeSnapshot struct {
	Root        *Node
	ClassLabels []int
	NFeaturesIn int
	Importances []float64
	Criterion   string
	MaxDepth    int
}

// GobEncode implements gob.GobEncoder.
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	if !dt.state.IsFitted() {
		return nil, errors.NewNotFittedError("DecisionTreeClassifier", "GobEncode")
	}
	snap := treeSnapshot{
		Root:        dt.Root,
		ClassLabels: dt.ClassLabels,
		NFeaturesIn: dt.NFeaturesIn,
		Importances: dt.Importances,
		Criterion:   dt.criterion,
		MaxDepth:    dt.maxDepth,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return nil, errors.Wrap(err, "tree: encoding tree")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var snap treeSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "tree: decoding tree")
	}
	dt.state = model.NewStateManager()
	dt.Root = snap.Root
	dt.ClassLabels = snap.ClassLabels
	dt.NFeaturesIn = snap.NFeaturesIn
	dt.Importances = snap.Importances
	dt.criterion = snap.Criterion
	dt.maxDepth = snap.MaxDepth
	dt.state.SetFitted()
	return nil
}
