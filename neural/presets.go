package neural

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/dataset"
)

// MLPClassifier is a fully connected network for digit images:
// 784 inputs, one ReLU hidden layer, 10 softmax outputs.
type MLPClassifier struct {
	classifier

	hiddenUnits int
	dropoutRate float64
}

// MLPOption is a functional option for MLPClassifier.
type MLPOption func(*MLPClassifier)

// WithHiddenUnits sets the hidden layer width (default: 100).
func WithHiddenUnits(n int) MLPOption {
	return func(m *MLPClassifier) { m.hiddenUnits = n }
}

// WithMLPDropout inserts a dropout layer after the hidden activation
// (default: 0, disabled).
func WithMLPDropout(rate float64) MLPOption {
	return func(m *MLPClassifier) { m.dropoutRate = rate }
}

// WithMLPEpochs sets the number of training epochs (default: 10).
func WithMLPEpochs(n int) MLPOption {
	return func(m *MLPClassifier) { m.cfg.epochs = n }
}

// WithMLPBatchSize sets the minibatch size (default: 32).
func WithMLPBatchSize(n int) MLPOption {
	return func(m *MLPClassifier) { m.cfg.batchSize = n }
}

// WithMLPLearningRate sets the SGD learning rate (default: 0.1).
func WithMLPLearningRate(lr float64) MLPOption {
	return func(m *MLPClassifier) { m.cfg.lr = lr }
}

// WithMLPMomentum sets the SGD momentum (default: 0.9).
func WithMLPMomentum(mu float64) MLPOption {
	return func(m *MLPClassifier) { m.cfg.momentum = mu }
}

// WithMLPRandomState seeds initialization and batch shuffling.
func WithMLPRandomState(seed int64) MLPOption {
	return func(m *MLPClassifier) {
		m.cfg.seed = seed
		m.cfg.seeded = true
	}
}

// WithMLPProgress shows a progress bar during fitting.
func WithMLPProgress() MLPOption {
	return func(m *MLPClassifier) { m.cfg.progress = true }
}

// NewMLPClassifier creates an MLPClassifier.
func NewMLPClassifier(opts ...MLPOption) *MLPClassifier {
	m := &MLPClassifier{
		classifier:  newClassifier("MLPClassifier"),
		hiddenUnits: 100,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Fit trains the network. X rows are flattened images scaled to [0, 1] and
// y holds one digit label per row.
func (m *MLPClassifier) Fit(X, y mat.Matrix) error {
	layers := []Layer{
		NewDense(m.hiddenUnits),
		NewReLU(),
	}
	if m.dropoutRate > 0 {
		layers = append(layers, NewDropout(m.dropoutRate))
	}
	layers = append(layers, NewDense(dataset.NumClass))
	return m.fit(NewSequential(layers...), []int{dataset.NumPixels}, X, y)
}

// GobEncode implements gob.GobEncoder.
func (m *MLPClassifier) GobEncode() ([]byte, error) {
	return m.gobEncode()
}

// GobDecode implements gob.GobDecoder.
func (m *MLPClassifier) GobDecode(data []byte) error {
	return m.gobDecode(data, "MLPClassifier")
}

// CNNClassifier is a small convolutional network for digit images:
// Conv 5x5 x20, ReLU, MaxPool 2, Dense 100 ReLU, Dropout, 10 softmax outputs.
type CNNClassifier struct {
	classifier

	filters     int
	kernelSize  int
	poolSize    int
	hiddenUnits int
	dropoutRate float64
}

// CNNOption is a functional option for CNNClassifier.
type CNNOption func(*CNNClassifier)

// WithFilters sets the convolution filter count (default: 20).
func WithFilters(n int) CNNOption {
	return func(c *CNNClassifier) { c.filters = n }
}

// WithKernelSize sets the square convolution kernel size (default: 5).
func WithKernelSize(n int) CNNOption {
	return func(c *CNNClassifier) { c.kernelSize = n }
}

// WithPoolSize sets the max-pooling window (default: 2).
func WithPoolSize(n int) CNNOption {
	return func(c *CNNClassifier) { c.poolSize = n }
}

// WithCNNHiddenUnits sets the dense layer width after flattening
// (default: 100).
func WithCNNHiddenUnits(n int) CNNOption {
	return func(c *CNNClassifier) { c.hiddenUnits = n }
}

// WithDropoutRate sets the drop probability before the output layer
// (default: 0.25).
func WithDropoutRate(rate float64) CNNOption {
	return func(c *CNNClassifier) { c.dropoutRate = rate }
}

// WithCNNEpochs sets the number of training epochs (default: 10).
func WithCNNEpochs(n int) CNNOption {
	return func(c *CNNClassifier) { c.cfg.epochs = n }
}

// WithCNNBatchSize sets the minibatch size (default: 32).
func WithCNNBatchSize(n int) CNNOption {
	return func(c *CNNClassifier) { c.cfg.batchSize = n }
}

// WithCNNLearningRate sets the SGD learning rate (default: 0.1).
func WithCNNLearningRate(lr float64) CNNOption {
	return func(c *CNNClassifier) { c.cfg.lr = lr }
}

// WithCNNMomentum sets the SGD momentum (default: 0.9).
func WithCNNMomentum(mu float64) CNNOption {
	return func(c *CNNClassifier) { c.cfg.momentum = mu }
}

// WithCNNRandomState seeds initialization, batch shuffling and dropout.
func WithCNNRandomState(seed int64) CNNOption {
	return func(c *CNNClassifier) {
		c.cfg.seed = seed
		c.cfg.seeded = true
	}
}

// WithCNNProgress shows a progress bar during fitting.
func WithCNNProgress() CNNOption {
	return func(c *CNNClassifier) { c.cfg.progress = true }
}

// NewCNNClassifier creates a CNNClassifier.
func NewCNNClassifier(opts ...CNNOption) *CNNClassifier {
	c := &CNNClassifier{
		classifier:  newClassifier("CNNClassifier"),
		filters:     20,
		kernelSize:  5,
		poolSize:    2,
		hiddenUnits: 100,
		dropoutRate: 0.25,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fit trains the network. X rows are flattened 28x28 images scaled to [0, 1]
// and y holds one digit label per row.
func (c *CNNClassifier) Fit(X, y mat.Matrix) error {
	net := NewSequential(
		NewConv2D(c.filters, c.kernelSize, true),
		NewReLU(),
		NewMaxPool2D(c.poolSize),
		NewFlatten(),
		NewDense(c.hiddenUnits),
		NewReLU(),
		NewDropout(c.dropoutRate),
		NewDense(dataset.NumClass),
	)
	return c.fit(net, []int{1, dataset.ImgSize, dataset.ImgSize}, X, y)
}

// GobEncode implements gob.GobEncoder.
func (c *CNNClassifier) GobEncode() ([]byte, error) {
	return c.gobEncode()
}

// GobDecode implements gob.GobDecoder.
func (c *CNNClassifier) GobDecode(data []byte) error {
	return c.gobDecode(data, "CNNClassifier")
}
