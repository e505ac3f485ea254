package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/pkg/errors"
)

// WriteSubmission writes predicted labels to a Kaggle-style submission CSV
// with header ImageId,Label and ImageId counting from 1.
func WriteSubmission(path string, labels mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "dataset: creating %s", path)
	}
	defer f.Close()

	if err := WriteSubmissionTo(f, labels); err != nil {
		return err
	}
	return nil
}

// WriteSubmissionTo writes the submission rows to an arbitrary writer.
func WriteSubmissionTo(w io.Writer, labels mat.Matrix) error {
	n, cols := labels.Dims()
	if n == 0 {
		return errors.NewValueError("WriteSubmission", "no predictions")
	}
	if cols != 1 {
		return errors.NewValueError("WriteSubmission", "labels must be a column vector")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ImageId", "Label"}); err != nil {
		return errors.Wrap(err, "dataset: writing submission header")
	}
	for i := 0; i < n; i++ {
		label := int(labels.At(i, 0))
		rec := []string{strconv.Itoa(i + 1), strconv.Itoa(label)}
		if err := cw.Write(rec); err != nil {
			return errors.Wrapf(err, "dataset: writing submission row %d", i+1)
		}
	}
	cw.Flush()
	return errors.WithStack(cw.Error())
}
