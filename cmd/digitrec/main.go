// Command digitrec trains digit classifiers on the Kaggle MNIST CSV files
// and writes competition submissions.
//
// Usage:
//
//	digitrec plot -data train.csv -out digits.png
//	digitrec train -model cnn -data train.csv -test test.csv -out submission.csv
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/core/model"
	"github.com/YuminosukeSato/digitrec/dataset"
	"github.com/YuminosukeSato/digitrec/ensemble"
	"github.com/YuminosukeSato/digitrec/metrics"
	"github.com/YuminosukeSato/digitrec/neighbors"
	"github.com/YuminosukeSato/digitrec/neural"
	digitlog "github.com/YuminosukeSato/digitrec/pkg/log"
	"github.com/YuminosukeSato/digitrec/preprocessing"
	"github.com/YuminosukeSato/digitrec/visualize"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	digitlog.SetupLogger("info")
	digitlog.WireWarnings()

	runID := uuid.NewString()
	logger := slog.With(slog.String(digitlog.RunIDKey, runID))

	var err error
	switch os.Args[1] {
	case "plot":
		err = runPlot(logger, os.Args[2:])
	case "train":
		err = runTrain(logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", digitlog.ErrAttr(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: digitrec <plot|train> [flags]")
	fmt.Fprintln(os.Stderr, "run 'digitrec <command> -h' for command flags")
}

func runPlot(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("plot", flag.ExitOnError)
	dataPath := fs.String("data", "train.csv", "labeled training CSV")
	outPath := fs.String("out", "digits.png", "output PNG path")
	rows := fs.Int("rows", 3, "tile rows")
	cols := fs.Int("cols", 5, "tile columns")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ds, err := dataset.LoadTrainCSV(*dataPath)
	if err != nil {
		return err
	}
	logger.Info("training data loaded",
		slog.Int(digitlog.SamplesKey, ds.NumSamples()),
		slog.Int(digitlog.FeaturesKey, dataset.NumPixels),
	)

	title := fmt.Sprintf("first %d training digits", *rows**cols)
	if err := visualize.TilePlot(ds.X, *rows, *cols, title, *outPath); err != nil {
		return err
	}
	logger.Info("tile plot written", slog.String("path", *outPath))
	return nil
}

func runTrain(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	modelName := fs.String("model", "forest", "classifier: forest, knn, mlp or cnn")
	dataPath := fs.String("data", "train.csv", "labeled training CSV")
	testPath := fs.String("test", "", "unlabeled test CSV; when set a submission is written")
	outPath := fs.String("out", "submission.csv", "submission CSV path")
	holdout := fs.Float64("holdout", 0.2, "fraction of training data held out for evaluation")
	augment := fs.Bool("augment", false, "expand training data with one-pixel shifts")
	seed := fs.Int64("seed", 42, "random seed for splitting and training")
	savePath := fs.String("save", "", "write the fitted model to this gob file")
	loadPath := fs.String("load", "", "load a fitted model from this gob file instead of training")
	lossPath := fs.String("lossplot", "", "write a loss curve PNG (mlp and cnn only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ds, err := dataset.LoadTrainCSV(*dataPath)
	if err != nil {
		return err
	}
	logger.Info("training data loaded",
		slog.String(digitlog.ModelNameKey, *modelName),
		slog.Int(digitlog.SamplesKey, ds.NumSamples()),
	)

	split, err := dataset.TrainTestSplit(ds.X, ds.Y, *holdout, *seed)
	if err != nil {
		return err
	}

	xTrain, yTrain := split.XTrain, split.YTrain
	if *augment {
		xTrain, yTrain, err = dataset.Augment(xTrain, yTrain)
		if err != nil {
			return err
		}
		n, _ := xTrain.Dims()
		logger.Info("training data augmented", slog.Int(digitlog.SamplesKey, n))
	}

	clf, err := buildModel(*modelName, *seed)
	if err != nil {
		return err
	}

	// Neural models train on [0, 1] features; forest and knn take raw
	// intensities.
	var scaler *preprocessing.MinMaxScaler
	fitX := mat.Matrix(xTrain)
	evalX := mat.Matrix(split.XTest)
	if neuralModel(*modelName) {
		scaler = preprocessing.NewMinMaxScaler()
		if fitX, err = scaler.FitTransform(xTrain); err != nil {
			return err
		}
		if evalX, err = scaler.Transform(split.XTest); err != nil {
			return err
		}
	}

	if *loadPath != "" {
		if err := model.LoadModel(clf, *loadPath); err != nil {
			return err
		}
		logger.Info("model loaded", slog.String("path", *loadPath))
	} else {
		start := time.Now()
		if err := clf.Fit(fitX, yTrain); err != nil {
			return err
		}
		logger.Info("model fitted",
			slog.String(digitlog.ModelNameKey, *modelName),
			slog.Int64(digitlog.DurationMsKey, time.Since(start).Milliseconds()),
		)
	}

	pred, err := clf.Predict(evalX)
	if err != nil {
		return err
	}
	acc, err := metrics.Accuracy(split.YTest, pred)
	if err != nil {
		return err
	}
	logger.Info("holdout evaluated",
		slog.String(digitlog.ModelNameKey, *modelName),
		slog.Float64(digitlog.AccuracyKey, acc),
	)

	if *lossPath != "" {
		hist, ok := lossHistory(clf)
		if !ok {
			logger.Warn("loss plot requested for a model without a loss history")
		} else if err := visualize.LossPlot(hist, *modelName+" training loss", *lossPath); err != nil {
			return err
		}
	}

	if *savePath != "" {
		if err := model.SaveModel(clf, *savePath); err != nil {
			return err
		}
		logger.Info("model saved", slog.String("path", *savePath))
	}

	if *testPath != "" {
		xTest, err := dataset.LoadTestCSV(*testPath)
		if err != nil {
			return err
		}
		testX := mat.Matrix(xTest)
		if scaler != nil {
			if testX, err = scaler.Transform(xTest); err != nil {
				return err
			}
		}
		labels, err := clf.Predict(testX)
		if err != nil {
			return err
		}
		if err := dataset.WriteSubmission(*outPath, labels); err != nil {
			return err
		}
		n, _ := labels.Dims()
		logger.Info("submission written",
			slog.String("path", *outPath),
			slog.Int(digitlog.SamplesKey, n),
		)
	}

	return nil
}

func neuralModel(name string) bool {
	return name == "mlp" || name == "cnn"
}

func buildModel(name string, seed int64) (model.Classifier, error) {
	switch name {
	case "forest":
		return ensemble.NewRandomForestClassifier(
			ensemble.WithNEstimators(100),
			ensemble.WithRandomState(seed),
			ensemble.WithProgress(),
		), nil
	case "knn":
		return neighbors.NewKNeighborsClassifier(neighbors.WithK(5)), nil
	case "mlp":
		return neural.NewMLPClassifier(
			neural.WithMLPRandomState(seed),
			neural.WithMLPProgress(),
		), nil
	case "cnn":
		return neural.NewCNNClassifier(
			neural.WithCNNRandomState(seed),
			neural.WithCNNProgress(),
		), nil
	default:
		return nil, fmt.Errorf("unknown model %q: want forest, knn, mlp or cnn", name)
	}
}

func lossHistory(clf model.Classifier) ([]float64, bool) {
	type hasHistory interface {
		LossHistory() []float64
	}
	if h, ok := clf.(hasHistory); ok {
		return h.LossHistory(), true
	}
	return nil, false
}
