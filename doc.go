// Package digitrec provides a complete handwritten-digit classification
// pipeline for Kaggle-format MNIST data, written in Go.
//
// The module covers the whole workflow end to end: loading the 785-column
// train CSV and 784-column test CSV, visualizing sample digits, splitting
// off a validation set, fitting any of four classifier families, scoring
// them, and writing competition-style submission files.
//
// # Quick Start
//
//	package main
//
//	import (
//	    "log"
//
//	    "github.com/YuminosukeSato/digitrec/dataset"
//	    "github.com/YuminosukeSato/digitrec/ensemble"
//	    "github.com/YuminosukeSato/digitrec/metrics"
//	)
//
//	func main() {
//	    ds, err := dataset.LoadTrainCSV("train.csv")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    split, err := dataset.TrainTestSplit(ds.X, ds.Y, 0.2, 42)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    clf := ensemble.NewRandomForestClassifier(
//	        ensemble.WithNEstimators(100),
//	        ensemble.WithRandomState(42),
//	    )
//	    if err := clf.Fit(split.XTrain, split.YTrain); err != nil {
//	        log.Fatal(err)
//	    }
//	    pred, err := clf.Predict(split.XTest)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    acc, _ := metrics.Accuracy(split.YTest, pred)
//	    log.Printf("validation accuracy: %.4f", acc)
//	}
//
// # Packages
//
//   - dataset: CSV loading, train/validation splitting, shift augmentation,
//     submission writing
//   - preprocessing: MinMaxScaler and StandardScaler
//   - tree: DecisionTreeClassifier
//   - ensemble: RandomForestClassifier
//   - neighbors: KNeighborsClassifier
//   - neural: Sequential networks, MLPClassifier and CNNClassifier presets
//   - metrics: classification metrics (accuracy, confusion matrix, F1)
//   - visualize: digit tile plots rendered with gonum/plot
//   - core/model: estimator interfaces, state management, gob persistence
//   - core/parallel: parallel processing utilities
//
// All estimators follow the same conventions: construction through
// functional options, Fit(X, y mat.Matrix) error, Predict(X mat.Matrix)
// (mat.Matrix, error), and typed errors from pkg/errors when called before
// fitting or with mismatched shapes.
//
// # License
//
// digitrec is released under the MIT License.
package digitrec
