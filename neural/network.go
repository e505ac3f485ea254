package neural

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/pkg/errors"
)

// Sequential chains layers and trains them end to end with softmax
// cross-entropy. The final layer must produce one logit per class.
type Sequential struct {
	Layers []Layer

	// InShape is the per-sample input shape fixed by Build.
	InShape  []int
	OutUnits int

	built bool
}

// NewSequential creates a network from the given layers.
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

// Build wires the layer shapes and initializes parameters from the seeded rng.
func (net *Sequential) Build(inShape []int, rng *rand.Rand) error {
	shape := inShape
	for _, layer := range net.Layers {
		out, err := layer.Build(shape)
		if err != nil {
			return err
		}
		shape = out
		if pl, ok := layer.(ParamLayer); ok {
			pl.InitParams(rng)
		}
		if do, ok := layer.(*Dropout); ok {
			do.setRNG(rng)
		}
	}
	if len(shape) != 1 {
		return errors.NewValueError("Sequential.Build", "network output must be a vector of class logits")
	}
	net.InShape = inShape
	net.OutUnits = shape[0]
	net.built = true
	return nil
}

// Forward runs the whole stack on a batch of flattened samples.
func (net *Sequential) Forward(x *mat.Dense, training bool) *mat.Dense {
	out := x
	for _, layer := range net.Layers {
		out = layer.Forward(out, training)
	}
	return out
}

// Backward propagates the loss gradient back through the stack.
func (net *Sequential) Backward(grad *mat.Dense) {
	for i := len(net.Layers) - 1; i >= 0; i-- {
		grad = net.Layers[i].Backward(grad)
	}
}

// Update applies one SGD-with-momentum step to every trainable layer.
func (net *Sequential) Update(lr, momentum float64) {
	for _, layer := range net.Layers {
		if pl, ok := layer.(ParamLayer); ok {
			pl.Update(lr, momentum)
		}
	}
}

// TrainBatch runs one forward/backward/update cycle on a minibatch and
// returns the mean cross-entropy loss. labels holds the class index of each
// batch row.
func (net *Sequential) TrainBatch(x *mat.Dense, labels []int, lr, momentum float64) float64 {
	logits := net.Forward(x, true)
	loss, grad := softmaxCrossEntropy(logits, labels)
	net.Backward(grad)
	net.Update(lr, momentum)
	return loss
}

// Probabilities runs inference and returns softmax class probabilities.
func (net *Sequential) Probabilities(x *mat.Dense) *mat.Dense {
	logits := net.Forward(x, false)
	n, c := logits.Dims()
	out := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		softmaxRow(logits, out, i, c)
	}
	return out
}

// softmaxRow writes the softmax of logits row i into out row i, shifting by
// the row maximum for numerical stability.
func softmaxRow(logits, out *mat.Dense, i, c int) {
	maxv := logits.At(i, 0)
	for j := 1; j < c; j++ {
		if v := logits.At(i, j); v > maxv {
			maxv = v
		}
	}
	sum := 0.0
	for j := 0; j < c; j++ {
		e := math.Exp(logits.At(i, j) - maxv)
		out.Set(i, j, e)
		sum += e
	}
	for j := 0; j < c; j++ {
		out.Set(i, j, out.At(i, j)/sum)
	}
}

// softmaxCrossEntropy returns the mean cross-entropy loss and the per-sample
// gradient w.r.t. the logits, probs - onehot. Trainable layers average their
// parameter gradients over the batch.
func softmaxCrossEntropy(logits *mat.Dense, labels []int) (float64, *mat.Dense) {
	n, c := logits.Dims()
	probs := mat.NewDense(n, c, nil)
	loss := 0.0
	for i := 0; i < n; i++ {
		softmaxRow(logits, probs, i, c)
		p := probs.At(i, labels[i])
		if p < 1e-15 {
			p = 1e-15
		}
		loss -= math.Log(p)
	}
	loss /= float64(n)

	grad := mat.NewDense(n, c, nil)
	grad.Copy(probs)
	for i := 0; i < n; i++ {
		grad.Set(i, labels[i], grad.At(i, labels[i])-1)
	}
	return loss, grad
}
