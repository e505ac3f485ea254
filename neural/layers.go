// Package neural implements small feed-forward and convolutional networks
// trained with minibatch SGD and softmax cross-entropy. The MLPClassifier
// and CNNClassifier presets cover the two architectures used by the digit
// pipeline.
package neural

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/pkg/errors"
)

// Layer is one stage of a Sequential network. Batches travel as matrices
// with one flattened sample per row; Build fixes the per-sample shape.
type Layer interface {
	// Build validates and records the input shape and returns the output
	// shape. Shapes are either [features] or [channels, height, width].
	Build(in []int) ([]int, error)

	// Forward runs the layer on a batch. training toggles train-only
	// behavior such as dropout.
	Forward(x *mat.Dense, training bool) *mat.Dense

	// Backward consumes the loss gradient w.r.t. this layer's output and
	// returns the gradient w.r.t. its input. Must follow a Forward call
	// with training=true.
	Backward(grad *mat.Dense) *mat.Dense
}

// ParamLayer is a Layer with trainable parameters.
type ParamLayer interface {
	Layer

	// InitParams draws the initial weights from rng.
	InitParams(rng *rand.Rand)

	// Update applies one SGD-with-momentum step using the gradients
	// accumulated by the latest Backward call.
	Update(lr, momentum float64)
}

func flatLen(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Dense is a fully connected layer: y = xW + b.
type Dense struct {
	// Out is the number of output units.
	Out int

	// Fitted parameters, exported for gob encoding.
	In int
	W  *mat.Dense // In x Out
	B  []float64

	cache *mat.Dense // input of the latest Forward
	gradW *mat.Dense
	gradB []float64
	velW  *mat.Dense
	velB  []float64
}

// NewDense creates a fully connected layer with out units.
func NewDense(out int) *Dense {
	return &Dense{Out: out}
}

func (d *Dense) Build(in []int) ([]int, error) {
	if d.Out <= 0 {
		return nil, errors.NewValidationError("dense.out", "must be positive", d.Out)
	}
	d.In = flatLen(in)
	return []int{d.Out}, nil
}

func (d *Dense) InitParams(rng *rand.Rand) {
	// He-normal initialization, suited to the ReLU activations used
	// throughout both presets.
	std := math.Sqrt(2.0 / float64(d.In))
	w := make([]float64, d.In*d.Out)
	for i := range w {
		w[i] = rng.NormFloat64() * std
	}
	d.W = mat.NewDense(d.In, d.Out, w)
	d.B = make([]float64, d.Out)
}

func (d *Dense) Forward(x *mat.Dense, training bool) *mat.Dense {
	n, _ := x.Dims()
	out := mat.NewDense(n, d.Out, nil)
	out.Mul(x, d.W)
	for i := 0; i < n; i++ {
		for j := 0; j < d.Out; j++ {
			out.Set(i, j, out.At(i, j)+d.B[j])
		}
	}
	if training {
		d.cache = x
	}
	return out
}

func (d *Dense) Backward(grad *mat.Dense) *mat.Dense {
	n, _ := grad.Dims()

	d.gradW = mat.NewDense(d.In, d.Out, nil)
	d.gradW.Mul(d.cache.T(), grad)
	d.gradW.Scale(1/float64(n), d.gradW)

	d.gradB = make([]float64, d.Out)
	for j := 0; j < d.Out; j++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += grad.At(i, j)
		}
		d.gradB[j] = sum / float64(n)
	}

	gradIn := mat.NewDense(n, d.In, nil)
	gradIn.Mul(grad, d.W.T())
	return gradIn
}

func (d *Dense) Update(lr, momentum float64) {
	if d.velW == nil {
		d.velW = mat.NewDense(d.In, d.Out, nil)
		d.velB = make([]float64, d.Out)
	}
	for i := 0; i < d.In; i++ {
		for j := 0; j < d.Out; j++ {
			v := momentum*d.velW.At(i, j) - lr*d.gradW.At(i, j)
			d.velW.Set(i, j, v)
			d.W.Set(i, j, d.W.At(i, j)+v)
		}
	}
	for j := 0; j < d.Out; j++ {
		v := momentum*d.velB[j] - lr*d.gradB[j]
		d.velB[j] = v
		d.B[j] += v
	}
}

// ReLU is the rectified linear activation.
type ReLU struct {
	mask *mat.Dense
}

// NewReLU creates a ReLU activation layer.
func NewReLU() *ReLU {
	return &ReLU{}
}

func (r *ReLU) Build(in []int) ([]int, error) {
	return in, nil
}

func (r *ReLU) Forward(x *mat.Dense, training bool) *mat.Dense {
	n, c := x.Dims()
	out := mat.NewDense(n, c, nil)
	var mask *mat.Dense
	if training {
		mask = mat.NewDense(n, c, nil)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			if v := x.At(i, j); v > 0 {
				out.Set(i, j, v)
				if mask != nil {
					mask.Set(i, j, 1)
				}
			}
		}
	}
	r.mask = mask
	return out
}

func (r *ReLU) Backward(grad *mat.Dense) *mat.Dense {
	n, c := grad.Dims()
	out := mat.NewDense(n, c, nil)
	out.MulElem(grad, r.mask)
	return out
}

// Flatten collapses a [channels, height, width] shape into a vector. Batch
// rows are already flat, so only the shape bookkeeping changes.
type Flatten struct{}

// NewFlatten creates a Flatten layer.
func NewFlatten() *Flatten {
	return &Flatten{}
}

func (f *Flatten) Build(in []int) ([]int, error) {
	return []int{flatLen(in)}, nil
}

func (f *Flatten) Forward(x *mat.Dense, training bool) *mat.Dense {
	return x
}

func (f *Flatten) Backward(grad *mat.Dense) *mat.Dense {
	return grad
}

// Dropout randomly zeroes activations during training with inverted scaling,
// so inference needs no rescaling.
type Dropout struct {
	// Rate is the drop probability in [0, 1).
	Rate float64

	rng  *rand.Rand
	mask *mat.Dense
}

// NewDropout creates a Dropout layer with the given drop probability.
func NewDropout(rate float64) *Dropout {
	return &Dropout{Rate: rate}
}

func (d *Dropout) Build(in []int) ([]int, error) {
	if d.Rate < 0 || d.Rate >= 1 {
		return nil, errors.NewValidationError("dropout.rate", "must be in [0, 1)", d.Rate)
	}
	return in, nil
}

func (d *Dropout) setRNG(rng *rand.Rand) {
	d.rng = rng
}

func (d *Dropout) Forward(x *mat.Dense, training bool) *mat.Dense {
	if !training || d.Rate == 0 {
		return x
	}
	n, c := x.Dims()
	out := mat.NewDense(n, c, nil)
	d.mask = mat.NewDense(n, c, nil)
	scale := 1 / (1 - d.Rate)
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			if d.rng.Float64() >= d.Rate {
				d.mask.Set(i, j, scale)
				out.Set(i, j, x.At(i, j)*scale)
			}
		}
	}
	return out
}

func (d *Dropout) Backward(grad *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return grad
	}
	n, c := grad.Dims()
	out := mat.NewDense(n, c, nil)
	out.MulElem(grad, d.mask)
	return out
}
