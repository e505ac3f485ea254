package neural

import (
	"bytes"
	"encoding/gob"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/cheggaaa/pb/v3"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/core/model"
	"github.com/YuminosukeSato/digitrec/pkg/errors"
	digitlog "github.com/YuminosukeSato/digitrec/pkg/log"
)

// netConfig holds the training hyperparameters shared by the presets.
type netConfig struct {
	epochs    int
	batchSize int
	lr        float64
	momentum  float64
	seed      int64
	seeded    bool
	progress  bool
}

// classifier is the training and inference core shared by MLPClassifier and
// CNNClassifier. The wrapping preset supplies the layer stack.
type classifier struct {
	state *model.StateManager
	cfg   netConfig
	name  string

	// Fitted state
	Net         *Sequential
	ClassLabels []int
	NFeaturesIn int
	LossHist    []float64
}

func newClassifier(name string) classifier {
	return classifier{
		state: model.NewStateManager(),
		name:  name,
		cfg: netConfig{
			epochs:    10,
			batchSize: 32,
			lr:        0.1,
			momentum:  0.9,
		},
	}
}

// IsFitted returns whether the model has been fitted.
func (c *classifier) IsFitted() bool {
	return c.state.IsFitted()
}

// Classes returns the sorted unique class labels seen during fitting.
func (c *classifier) Classes() []int {
	return c.ClassLabels
}

// LossHistory returns the mean training loss recorded after each epoch.
func (c *classifier) LossHistory() []float64 {
	return c.LossHist
}

func (c *classifier) validate(X, y mat.Matrix) (nSamples, nFeatures int, err error) {
	nSamples, nFeatures = X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 {
		return 0, 0, errors.NewModelError(c.name+".Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows != nSamples {
		return 0, 0, errors.NewDimensionError(c.name+".Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return 0, 0, errors.NewValueError(c.name+".Fit", "y must be a column vector")
	}
	if c.cfg.epochs <= 0 {
		return 0, 0, errors.NewValidationError("epochs", "must be positive", c.cfg.epochs)
	}
	if c.cfg.batchSize <= 0 {
		return 0, 0, errors.NewValidationError("batch_size", "must be positive", c.cfg.batchSize)
	}
	if c.cfg.lr <= 0 {
		return 0, 0, errors.NewValidationError("learning_rate", "must be positive", c.cfg.lr)
	}
	if c.cfg.momentum < 0 || c.cfg.momentum >= 1 {
		return 0, 0, errors.NewValidationError("momentum", "must be in [0, 1)", c.cfg.momentum)
	}
	return nSamples, nFeatures, nil
}

// warnIfUnscaled raises a DataConversionWarning when pixel values look like
// raw 0..255 intensities. Gradient descent behaves poorly on that range.
func (c *classifier) warnIfUnscaled(X mat.Matrix) {
	n, cols := X.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < cols; j++ {
			if v := X.At(i, j); v < 0 || v > 1 {
				errors.Warn(errors.NewDataConversionWarning(
					"raw intensities", "[0, 1] range",
					"input exceeds [0, 1]; scale features before fitting"))
				return
			}
		}
	}
}

// fit trains net on X/y with minibatch SGD. net must be unbuilt.
func (c *classifier) fit(net *Sequential, inShape []int, X, y mat.Matrix) error {
	nSamples, nFeatures, err := c.validate(X, y)
	if err != nil {
		return err
	}
	if want := flatLen(inShape); nFeatures != want {
		return errors.NewDimensionError(c.name+".Fit", want, nFeatures, 1)
	}
	c.warnIfUnscaled(X)

	seed := c.cfg.seed
	if !c.cfg.seeded {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	if err := net.Build(inShape, rng); err != nil {
		return err
	}

	labels := make([]int, nSamples)
	classMap := make(map[int]bool)
	for i := 0; i < nSamples; i++ {
		label := int(y.At(i, 0))
		labels[i] = label
		classMap[label] = true
	}
	classes := make([]int, 0, len(classMap))
	for cl := range classMap {
		classes = append(classes, cl)
	}
	sort.Ints(classes)
	if len(classes) > net.OutUnits {
		return errors.NewValidationError("classes", "more labels than output units", len(classes))
	}
	classIdx := make(map[int]int, len(classes))
	for i, cl := range classes {
		classIdx[cl] = i
	}

	targets := make([]int, nSamples)
	for i, label := range labels {
		targets[i] = classIdx[label]
	}

	xd := mat.DenseCopyOf(X)
	nBatches := (nSamples + c.cfg.batchSize - 1) / c.cfg.batchSize

	var bar *pb.ProgressBar
	if c.cfg.progress {
		bar = pb.StartNew(c.cfg.epochs * nBatches)
	}

	c.LossHist = make([]float64, 0, c.cfg.epochs)
	batchX := mat.NewDense(c.cfg.batchSize, nFeatures, nil)
	batchT := make([]int, c.cfg.batchSize)

	for epoch := 0; epoch < c.cfg.epochs; epoch++ {
		perm := rng.Perm(nSamples)
		epochLoss := 0.0

		for b := 0; b < nBatches; b++ {
			lo := b * c.cfg.batchSize
			hi := lo + c.cfg.batchSize
			if hi > nSamples {
				hi = nSamples
			}
			size := hi - lo

			bx := batchX
			bt := batchT
			if size != c.cfg.batchSize {
				bx = mat.NewDense(size, nFeatures, nil)
				bt = make([]int, size)
			}
			for r := 0; r < size; r++ {
				src := perm[lo+r]
				bx.SetRow(r, xd.RawRowView(src))
				bt[r] = targets[src]
			}

			loss := net.TrainBatch(bx, bt, c.cfg.lr, c.cfg.momentum)
			epochLoss += loss * float64(size)
			if bar != nil {
				bar.Increment()
			}
		}

		epochLoss /= float64(nSamples)
		c.LossHist = append(c.LossHist, epochLoss)
		slog.Info("epoch finished",
			slog.String(digitlog.ModelNameKey, c.name),
			slog.Int(digitlog.EpochKey, epoch+1),
			slog.Float64(digitlog.LossKey, epochLoss),
		)
	}

	if bar != nil {
		bar.Finish()
	}

	c.Net = net
	c.ClassLabels = classes
	c.NFeaturesIn = nFeatures
	c.state.SetDimensions(nFeatures, nSamples)
	c.state.SetFitted()
	return nil
}

// PredictProba returns softmax class probabilities, columns ordered by
// Classes().
func (c *classifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !c.state.IsFitted() {
		return nil, errors.NewNotFittedError(c.name, "PredictProba")
	}
	n, cols := X.Dims()
	if cols != c.NFeaturesIn {
		return nil, errors.NewDimensionError(c.name+".PredictProba", c.NFeaturesIn, cols, 1)
	}

	probs := c.Net.Probabilities(mat.DenseCopyOf(X))
	if len(c.ClassLabels) == c.Net.OutUnits {
		return probs, nil
	}

	// Fewer observed labels than output units: keep only their columns and
	// renormalize.
	out := mat.NewDense(n, len(c.ClassLabels), nil)
	for i := 0; i < n; i++ {
		total := 0.0
		for j := range c.ClassLabels {
			total += probs.At(i, j)
		}
		for j := range c.ClassLabels {
			out.Set(i, j, probs.At(i, j)/total)
		}
	}
	return out, nil
}

// Predict returns the most probable class per row. Ties break toward the
// smallest class label.
func (c *classifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := c.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, _ := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best, bestP := 0, -1.0
		for j := range c.ClassLabels {
			if p := proba.At(i, j); p > bestP {
				best, bestP = j, p
			}
		}
		out.Set(i, 0, float64(c.ClassLabels[best]))
	}
	return out, nil
}

// layerSpec is the gob wire form of a single layer. Exactly one pointer is
// set for layers that carry parameters; Kind alone restores the stateless
// ones.
type layerSpec struct {
	Kind    string
	Dense   *Dense
	Conv    *Conv2D
	Pool    *MaxPool2D
	Dropout *Dropout
}

func specFromLayer(layer Layer) (layerSpec, error) {
	switch l := layer.(type) {
	case *Dense:
		return layerSpec{Kind: "dense", Dense: l}, nil
	case *Conv2D:
		return layerSpec{Kind: "conv2d", Conv: l}, nil
	case *MaxPool2D:
		return layerSpec{Kind: "maxpool2d", Pool: l}, nil
	case *Dropout:
		return layerSpec{Kind: "dropout", Dropout: l}, nil
	case *ReLU:
		return layerSpec{Kind: "relu"}, nil
	case *Flatten:
		return layerSpec{Kind: "flatten"}, nil
	default:
		return layerSpec{}, errors.Newf("neural: unknown layer type %T", layer)
	}
}

func (s layerSpec) layer() (Layer, error) {
	switch s.Kind {
	case "dense":
		return s.Dense, nil
	case "conv2d":
		return s.Conv, nil
	case "maxpool2d":
		return s.Pool, nil
	case "dropout":
		return s.Dropout, nil
	case "relu":
		return NewReLU(), nil
	case "flatten":
		return NewFlatten(), nil
	default:
		return nil, errors.Newf("neural: unknown layer kind %q", s.Kind)
	}
}

// netSnapshot is the gob wire form of a fitted network classifier.
type netSnapshot struct {
	Layers      []layerSpec
	InShape     []int
	OutUnits    int
	ClassLabels []int
	NFeaturesIn int
	LossHist    []float64
}

func (c *classifier) gobEncode() ([]byte, error) {
	if !c.state.IsFitted() {
		return nil, errors.NewNotFittedError(c.name, "GobEncode")
	}
	specs := make([]layerSpec, len(c.Net.Layers))
	for i, layer := range c.Net.Layers {
		spec, err := specFromLayer(layer)
		if err != nil {
			return nil, err
		}
		specs[i] = spec
	}
	snap := netSnapshot{
		Layers:      specs,
		InShape:     c.Net.InShape,
		OutUnits:    c.Net.OutUnits,
		ClassLabels: c.ClassLabels,
		NFeaturesIn: c.NFeaturesIn,
		LossHist:    c.LossHist,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return nil, errors.Wrap(err, "neural: encoding classifier")
	}
	return buf.Bytes(), nil
}

func (c *classifier) gobDecode(data []byte, name string) error {
	var snap netSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "neural: decoding classifier")
	}
	layers := make([]Layer, len(snap.Layers))
	for i, spec := range snap.Layers {
		layer, err := spec.layer()
		if err != nil {
			return err
		}
		layers[i] = layer
	}
	c.state = model.NewStateManager()
	c.name = name
	c.Net = &Sequential{
		Layers:   layers,
		InShape:  snap.InShape,
		OutUnits: snap.OutUnits,
		built:    true,
	}
	c.ClassLabels = snap.ClassLabels
	c.NFeaturesIn = snap.NFeaturesIn
	c.LossHist = snap.LossHist
	c.state.SetFitted()
	return nil
}
