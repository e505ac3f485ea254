package dataset

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func trainHeader() string {
	cols := make([]string, 0, NumPixels+1)
	cols = append(cols, "label")
	for i := 0; i < NumPixels; i++ {
		cols = append(cols, "pixel"+strconv.Itoa(i))
	}
	return strings.Join(cols, ",")
}

func testHeader() string {
	cols := make([]string, 0, NumPixels)
	for i := 0; i < NumPixels; i++ {
		cols = append(cols, "pixel"+strconv.Itoa(i))
	}
	return strings.Join(cols, ",")
}

// trainRow builds a CSV row with the given label and a constant intensity.
func trainRow(label, intensity int) string {
	cols := make([]string, 0, NumPixels+1)
	cols = append(cols, strconv.Itoa(label))
	for i := 0; i < NumPixels; i++ {
		cols = append(cols, strconv.Itoa(intensity))
	}
	return strings.Join(cols, ",")
}

func writeTempCSV(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTrainCSV(t *testing.T) {
	path := writeTempCSV(t, trainHeader(), trainRow(3, 10), trainRow(7, 200))

	ds, err := LoadTrainCSV(path)
	if err != nil {
		t.Fatalf("LoadTrainCSV: %v", err)
	}

	if got := ds.NumSamples(); got != 2 {
		t.Errorf("NumSamples = %d, want 2", got)
	}
	if _, c := ds.X.Dims(); c != NumPixels {
		t.Errorf("X columns = %d, want %d", c, NumPixels)
	}
	if ds.Y.At(0, 0) != 3 || ds.Y.At(1, 0) != 7 {
		t.Errorf("labels = %v, %v; want 3, 7", ds.Y.At(0, 0), ds.Y.At(1, 0))
	}
	if ds.X.At(1, 0) != 200 {
		t.Errorf("X[1][0] = %v, want 200", ds.X.At(1, 0))
	}
}

func TestLoadTrainCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{
			name:  "bad header",
			lines: []string{strings.Replace(trainHeader(), "label", "Label", 1), trainRow(1, 0)},
		},
		{
			name:  "out of range label",
			lines: []string{trainHeader(), trainRow(10, 0)},
		},
		{
			name:  "out of range pixel",
			lines: []string{trainHeader(), trainRow(1, 300)},
		},
		{
			name:  "no data rows",
			lines: []string{trainHeader()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempCSV(t, tt.lines...)
			if _, err := LoadTrainCSV(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadTestCSV(t *testing.T) {
	row := strings.TrimPrefix(trainRow(0, 128), "0,")
	path := writeTempCSV(t, testHeader(), row)

	X, err := LoadTestCSV(path)
	if err != nil {
		t.Fatalf("LoadTestCSV: %v", err)
	}
	r, c := X.Dims()
	if r != 1 || c != NumPixels {
		t.Errorf("dims = (%d, %d), want (1, %d)", r, c, NumPixels)
	}
	if X.At(0, 500) != 128 {
		t.Errorf("X[0][500] = %v, want 128", X.At(0, 500))
	}
}

func TestLoadTestCSVRejectsLabeledHeader(t *testing.T) {
	path := writeTempCSV(t, trainHeader(), trainRow(1, 0))
	if _, err := LoadTestCSV(path); err == nil {
		t.Error("expected error for labeled header, got nil")
	}
}

func TestTrainTestSplit(t *testing.T) {
	n := 100
	X := mat.NewDense(n, 2, nil)
	Y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(i)*2)
		Y.Set(i, 0, float64(i%10))
	}

	split, err := TrainTestSplit(X, Y, 0.2, 42)
	if err != nil {
		t.Fatalf("TrainTestSplit: %v", err)
	}

	trainRows, _ := split.XTrain.Dims()
	testRows, _ := split.XTest.Dims()
	if trainRows+testRows != n {
		t.Errorf("split sizes %d + %d != %d", trainRows, testRows, n)
	}
	if testRows != 20 {
		t.Errorf("test rows = %d, want 20", testRows)
	}

	// Rows must be disjoint: the first feature is a unique row id.
	seen := make(map[float64]bool, n)
	for i := 0; i < trainRows; i++ {
		seen[split.XTrain.At(i, 0)] = true
	}
	for i := 0; i < testRows; i++ {
		id := split.XTest.At(i, 0)
		if seen[id] {
			t.Fatalf("row %v appears in both train and test", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("split covers %d unique rows, want %d", len(seen), n)
	}

	// Labels must travel with their rows.
	for i := 0; i < trainRows; i++ {
		id := int(split.XTrain.At(i, 0))
		if got := split.YTrain.At(i, 0); got != float64(id%10) {
			t.Fatalf("train row %d: label %v, want %d", i, got, id%10)
		}
	}
}

func TestTrainTestSplitReproducible(t *testing.T) {
	X := mat.NewDense(50, 1, nil)
	Y := mat.NewDense(50, 1, nil)
	for i := 0; i < 50; i++ {
		X.Set(i, 0, float64(i))
	}

	a, err := TrainTestSplit(X, Y, 0.3, 7)
	if err != nil {
		t.Fatal(err)
	}
	b, err := TrainTestSplit(X, Y, 0.3, 7)
	if err != nil {
		t.Fatal(err)
	}

	if !mat.Equal(a.XTrain, b.XTrain) || !mat.Equal(a.XTest, b.XTest) {
		t.Error("same seed should produce the same split")
	}

	c, err := TrainTestSplit(X, Y, 0.3, 8)
	if err != nil {
		t.Fatal(err)
	}
	if mat.Equal(a.XTest, c.XTest) {
		t.Error("different seeds should produce different splits")
	}
}

func TestTrainTestSplitInvalidFraction(t *testing.T) {
	X := mat.NewDense(10, 1, nil)
	Y := mat.NewDense(10, 1, nil)

	for _, frac := range []float64{0, 1, -0.5, 1.5} {
		if _, err := TrainTestSplit(X, Y, frac, 1); err == nil {
			t.Errorf("fraction %v should be rejected", frac)
		}
	}
}
