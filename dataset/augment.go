package dataset

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/pkg/errors"
)

// Direction is one of the four fixed single-pixel shifts used for
// augmentation.
type Direction int

const (
	ShiftUp Direction = iota
	ShiftDown
	ShiftLeft
	ShiftRight
)

func (d Direction) String() string {
	switch d {
	case ShiftUp:
		return "up"
	case ShiftDown:
		return "down"
	case ShiftLeft:
		return "left"
	case ShiftRight:
		return "right"
	}
	return "unknown"
}

// Shift moves every 28x28 image in X one pixel in the given direction. The
// row or column vacated by the shift is zero-filled and the row or column
// pushed off the edge is discarded.
func Shift(X mat.Matrix, dir Direction) (*mat.Dense, error) {
	n, cols := X.Dims()
	if cols != NumPixels {
		return nil, errors.NewDimensionError("Shift", NumPixels, cols, 1)
	}
	if dir < ShiftUp || dir > ShiftRight {
		return nil, errors.NewValidationError("direction", "must be one of up/down/left/right", int(dir))
	}

	out := mat.NewDense(n, NumPixels, nil)
	for i := 0; i < n; i++ {
		for r := 0; r < ImgSize; r++ {
			for c := 0; c < ImgSize; c++ {
				// Source coordinates in the original image for the
				// destination pixel (r, c).
				sr, sc := r, c
				switch dir {
				case ShiftUp:
					sr = r + 1
				case ShiftDown:
					sr = r - 1
				case ShiftLeft:
					sc = c + 1
				case ShiftRight:
					sc = c - 1
				}
				if sr < 0 || sr >= ImgSize || sc < 0 || sc >= ImgSize {
					continue // vacated edge stays zero
				}
				out.Set(i, r*ImgSize+c, X.At(i, sr*ImgSize+sc))
			}
		}
	}
	return out, nil
}

// Augment returns the original images plus all four single-pixel shifts,
// with the labels replicated accordingly. The result has 5n rows: originals
// first, then up, down, left, right blocks in that order.
func Augment(X, Y mat.Matrix) (*mat.Dense, *mat.Dense, error) {
	n, cols := X.Dims()
	yRows, yCols := Y.Dims()

	if cols != NumPixels {
		return nil, nil, errors.NewDimensionError("Augment", NumPixels, cols, 1)
	}
	if yRows != n {
		return nil, nil, errors.NewDimensionError("Augment", n, yRows, 0)
	}
	if yCols != 1 {
		return nil, nil, errors.NewValueError("Augment", "y must be a column vector")
	}

	outX := mat.NewDense(5*n, NumPixels, nil)
	outY := mat.NewDense(5*n, 1, nil)

	for i := 0; i < n; i++ {
		for j := 0; j < NumPixels; j++ {
			outX.Set(i, j, X.At(i, j))
		}
		outY.Set(i, 0, Y.At(i, 0))
	}

	for b, dir := range []Direction{ShiftUp, ShiftDown, ShiftLeft, ShiftRight} {
		shifted, err := Shift(X, dir)
		if err != nil {
			return nil, nil, err
		}
		base := (b + 1) * n
		for i := 0; i < n; i++ {
			for j := 0; j < NumPixels; j++ {
				outX.Set(base+i, j, shifted.At(i, j))
			}
			outY.Set(base+i, 0, Y.At(i, 0))
		}
	}

	return outX, outY, nil
}
