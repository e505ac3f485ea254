package neural

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/core/parallel"
	"github.com/YuminosukeSato/digitrec/pkg/errors"
)

// Conv2D is a 2-D convolution with stride 1. With Pad set the input is
// zero-padded so the spatial size is preserved ("same" padding); otherwise
// the output shrinks by KernelSize-1 in each dimension.
type Conv2D struct {
	Filters    int
	KernelSize int
	Pad        bool

	// Fitted parameters, exported for gob encoding.
	InC, InH, InW    int
	OutH, OutW       int
	W                *mat.Dense // Filters x InC*KernelSize*KernelSize
	B                []float64

	cache *mat.Dense
	gradW *mat.Dense
	gradB []float64
	velW  *mat.Dense
	velB  []float64
}

// NewConv2D creates a convolution layer with the given filter count and
// square kernel size.
func NewConv2D(filters, kernelSize int, pad bool) *Conv2D {
	return &Conv2D{Filters: filters, KernelSize: kernelSize, Pad: pad}
}

func (c *Conv2D) Build(in []int) ([]int, error) {
	if len(in) != 3 {
		return nil, errors.NewValueError("Conv2D.Build", "input must have shape [channels, height, width]")
	}
	if c.Filters <= 0 {
		return nil, errors.NewValidationError("conv.filters", "must be positive", c.Filters)
	}
	if c.KernelSize <= 0 {
		return nil, errors.NewValidationError("conv.kernel_size", "must be positive", c.KernelSize)
	}
	c.InC, c.InH, c.InW = in[0], in[1], in[2]
	if c.Pad {
		c.OutH, c.OutW = c.InH, c.InW
	} else {
		c.OutH = c.InH - c.KernelSize + 1
		c.OutW = c.InW - c.KernelSize + 1
	}
	if c.OutH <= 0 || c.OutW <= 0 {
		return nil, errors.NewValidationError("conv.kernel_size", "larger than the input", c.KernelSize)
	}
	return []int{c.Filters, c.OutH, c.OutW}, nil
}

func (c *Conv2D) InitParams(rng *rand.Rand) {
	fanIn := c.InC * c.KernelSize * c.KernelSize
	std := math.Sqrt(2.0 / float64(fanIn))
	w := make([]float64, c.Filters*fanIn)
	for i := range w {
		w[i] = rng.NormFloat64() * std
	}
	c.W = mat.NewDense(c.Filters, fanIn, w)
	c.B = make([]float64, c.Filters)
}

// padOffset is the top/left padding applied when Pad is set.
func (c *Conv2D) padOffset() int {
	if c.Pad {
		return (c.KernelSize - 1) / 2
	}
	return 0
}

func (c *Conv2D) at(x *mat.Dense, sample, ch, row, col int) float64 {
	if row < 0 || row >= c.InH || col < 0 || col >= c.InW {
		return 0
	}
	return x.At(sample, ch*c.InH*c.InW+row*c.InW+col)
}

func (c *Conv2D) Forward(x *mat.Dense, training bool) *mat.Dense {
	n, _ := x.Dims()
	out := mat.NewDense(n, c.Filters*c.OutH*c.OutW, nil)
	off := c.padOffset()

	parallel.Parallelize(n, func(start, end int) {
		for s := start; s < end; s++ {
			for f := 0; f < c.Filters; f++ {
				for oh := 0; oh < c.OutH; oh++ {
					for ow := 0; ow < c.OutW; ow++ {
						sum := c.B[f]
						for ch := 0; ch < c.InC; ch++ {
							for kh := 0; kh < c.KernelSize; kh++ {
								for kw := 0; kw < c.KernelSize; kw++ {
									v := c.at(x, s, ch, oh-off+kh, ow-off+kw)
									sum += v * c.W.At(f, ch*c.KernelSize*c.KernelSize+kh*c.KernelSize+kw)
								}
							}
						}
						out.Set(s, f*c.OutH*c.OutW+oh*c.OutW+ow, sum)
					}
				}
			}
		}
	})

	if training {
		c.cache = x
	}
	return out
}

func (c *Conv2D) Backward(grad *mat.Dense) *mat.Dense {
	n, _ := grad.Dims()
	fanIn := c.InC * c.KernelSize * c.KernelSize
	off := c.padOffset()

	c.gradW = mat.NewDense(c.Filters, fanIn, nil)
	c.gradB = make([]float64, c.Filters)
	gradIn := mat.NewDense(n, c.InC*c.InH*c.InW, nil)

	inv := 1 / float64(n)
	for s := 0; s < n; s++ {
		for f := 0; f < c.Filters; f++ {
			for oh := 0; oh < c.OutH; oh++ {
				for ow := 0; ow < c.OutW; ow++ {
					g := grad.At(s, f*c.OutH*c.OutW+oh*c.OutW+ow)
					if g == 0 {
						continue
					}
					c.gradB[f] += g * inv
					for ch := 0; ch < c.InC; ch++ {
						for kh := 0; kh < c.KernelSize; kh++ {
							for kw := 0; kw < c.KernelSize; kw++ {
								ih, iw := oh-off+kh, ow-off+kw
								if ih < 0 || ih >= c.InH || iw < 0 || iw >= c.InW {
									continue
								}
								wi := ch*c.KernelSize*c.KernelSize + kh*c.KernelSize + kw
								c.gradW.Set(f, wi, c.gradW.At(f, wi)+g*c.cache.At(s, ch*c.InH*c.InW+ih*c.InW+iw)*inv)
								gi := ch*c.InH*c.InW + ih*c.InW + iw
								gradIn.Set(s, gi, gradIn.At(s, gi)+g*c.W.At(f, wi))
							}
						}
					}
				}
			}
		}
	}
	return gradIn
}

func (c *Conv2D) Update(lr, momentum float64) {
	fanIn := c.InC * c.KernelSize * c.KernelSize
	if c.velW == nil {
		c.velW = mat.NewDense(c.Filters, fanIn, nil)
		c.velB = make([]float64, c.Filters)
	}
	for f := 0; f < c.Filters; f++ {
		for i := 0; i < fanIn; i++ {
			v := momentum*c.velW.At(f, i) - lr*c.gradW.At(f, i)
			c.velW.Set(f, i, v)
			c.W.Set(f, i, c.W.At(f, i)+v)
		}
		v := momentum*c.velB[f] - lr*c.gradB[f]
		c.velB[f] = v
		c.B[f] += v
	}
}

// MaxPool2D downsamples each channel by taking the maximum over
// non-overlapping Size x Size windows.
type MaxPool2D struct {
	Size int

	// Fitted shape, exported for gob encoding.
	InC, InH, InW int
	OutH, OutW    int

	argmax [][]int // per-sample flat input index of each maximum
}

// NewMaxPool2D creates a max-pooling layer with the given window size.
func NewMaxPool2D(size int) *MaxPool2D {
	return &MaxPool2D{Size: size}
}

func (p *MaxPool2D) Build(in []int) ([]int, error) {
	if len(in) != 3 {
		return nil, errors.NewValueError("MaxPool2D.Build", "input must have shape [channels, height, width]")
	}
	if p.Size <= 0 {
		return nil, errors.NewValidationError("pool.size", "must be positive", p.Size)
	}
	p.InC, p.InH, p.InW = in[0], in[1], in[2]
	p.OutH = p.InH / p.Size
	p.OutW = p.InW / p.Size
	if p.OutH == 0 || p.OutW == 0 {
		return nil, errors.NewValidationError("pool.size", "larger than the input", p.Size)
	}
	return []int{p.InC, p.OutH, p.OutW}, nil
}

func (p *MaxPool2D) Forward(x *mat.Dense, training bool) *mat.Dense {
	n, _ := x.Dims()
	outLen := p.InC * p.OutH * p.OutW
	out := mat.NewDense(n, outLen, nil)
	var argmax [][]int
	if training {
		argmax = make([][]int, n)
	}

	for s := 0; s < n; s++ {
		if argmax != nil {
			argmax[s] = make([]int, outLen)
		}
		for ch := 0; ch < p.InC; ch++ {
			for oh := 0; oh < p.OutH; oh++ {
				for ow := 0; ow < p.OutW; ow++ {
					best := math.Inf(-1)
					bestIdx := -1
					for dh := 0; dh < p.Size; dh++ {
						for dw := 0; dw < p.Size; dw++ {
							ih, iw := oh*p.Size+dh, ow*p.Size+dw
							idx := ch*p.InH*p.InW + ih*p.InW + iw
							if v := x.At(s, idx); v > best {
								best, bestIdx = v, idx
							}
						}
					}
					oi := ch*p.OutH*p.OutW + oh*p.OutW + ow
					out.Set(s, oi, best)
					if argmax != nil {
						argmax[s][oi] = bestIdx
					}
				}
			}
		}
	}

	p.argmax = argmax
	return out
}

func (p *MaxPool2D) Backward(grad *mat.Dense) *mat.Dense {
	n, outLen := grad.Dims()
	gradIn := mat.NewDense(n, p.InC*p.InH*p.InW, nil)
	for s := 0; s < n; s++ {
		for oi := 0; oi < outLen; oi++ {
			idx := p.argmax[s][oi]
			gradIn.Set(s, idx, gradIn.At(s, idx)+grad.At(s, oi))
		}
	}
	return gradIn
}
