// Package dataset handles the on-disk interfaces of the pipeline: reading
// Kaggle-format MNIST CSVs, splitting off a validation set, augmenting the
// training images with pixel shifts, and writing submission files.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/pkg/errors"
)

// Image geometry of the MNIST tables. Every row is a row-major 28x28
// grayscale image with intensities 0..255.
const (
	ImgSize   = 28
	NumPixels = ImgSize * ImgSize
	NumClass  = 10
)

// Dataset is a labeled pixel table: X is n x 784, Y is n x 1 with labels 0..9.
type Dataset struct {
	X *mat.Dense
	Y *mat.Dense
}

// NumSamples returns the number of rows in the dataset.
func (d *Dataset) NumSamples() int {
	r, _ := d.X.Dims()
	return r
}

// LoadTrainCSV reads a labeled table with header label,pixel0..pixel783.
func LoadTrainCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset: opening %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "dataset: reading header of %s", path)
	}
	if err := validateHeader(header, true); err != nil {
		return nil, err
	}

	var (
		pixels []float64
		labels []float64
		row    int
	)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "dataset: reading row %d of %s", row+2, path)
		}
		if len(record) != NumPixels+1 {
			return nil, errors.NewDimensionError("LoadTrainCSV", NumPixels+1, len(record), 1)
		}

		label, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, errors.NewValueError("LoadTrainCSV", fmt.Sprintf("row %d: non-integer label %q", row+1, record[0]))
		}
		if label < 0 || label >= NumClass {
			return nil, errors.NewValueError("LoadTrainCSV", fmt.Sprintf("row %d: label %d out of range [0, %d]", row+1, label, NumClass-1))
		}
		labels = append(labels, float64(label))

		pixels, err = appendPixels(pixels, record[1:], row)
		if err != nil {
			return nil, err
		}
		row++
	}

	if row == 0 {
		return nil, errors.NewValueError("LoadTrainCSV", "no data rows")
	}

	return &Dataset{
		X: mat.NewDense(row, NumPixels, pixels),
		Y: mat.NewDense(row, 1, labels),
	}, nil
}

// LoadTestCSV reads an unlabeled table with header pixel0..pixel783.
func LoadTestCSV(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset: opening %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "dataset: reading header of %s", path)
	}
	if err := validateHeader(header, false); err != nil {
		return nil, err
	}

	var (
		pixels []float64
		row    int
	)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "dataset: reading row %d of %s", row+2, path)
		}
		if len(record) != NumPixels {
			return nil, errors.NewDimensionError("LoadTestCSV", NumPixels, len(record), 1)
		}
		pixels, err = appendPixels(pixels, record, row)
		if err != nil {
			return nil, err
		}
		row++
	}

	if row == 0 {
		return nil, errors.NewValueError("LoadTestCSV", "no data rows")
	}

	return mat.NewDense(row, NumPixels, pixels), nil
}

func validateHeader(header []string, labeled bool) error {
	op := "LoadTestCSV"
	want := NumPixels
	offset := 0
	if labeled {
		op = "LoadTrainCSV"
		want = NumPixels + 1
		offset = 1
		if len(header) > 0 && header[0] != "label" {
			return errors.NewValueError(op, fmt.Sprintf("first column must be 'label', got %q", header[0]))
		}
	}
	if len(header) != want {
		return errors.NewDimensionError(op, want, len(header), 1)
	}
	for i := offset; i < len(header); i++ {
		if header[i] != "pixel"+strconv.Itoa(i-offset) {
			return errors.NewValueError(op, fmt.Sprintf("column %d must be %q, got %q", i, "pixel"+strconv.Itoa(i-offset), header[i]))
		}
	}
	return nil
}

func appendPixels(dst []float64, record []string, row int) ([]float64, error) {
	for i, field := range record {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, errors.NewValueError("dataset", fmt.Sprintf("row %d, pixel %d: non-integer value %q", row+1, i, field))
		}
		if v < 0 || v > 255 {
			return nil, errors.NewValueError("dataset", fmt.Sprintf("row %d, pixel %d: intensity %d out of range [0, 255]", row+1, i, v))
		}
		dst = append(dst, float64(v))
	}
	return dst, nil
}
