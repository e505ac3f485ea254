// Standard attribute keys used across the pipeline. Using the same keys
// everywhere keeps the training and prediction logs filterable: every
// estimator reports its shape, timing and metric values under the constants
// below.

package log

// Model and operation context.
const (
	// ModelNameKey identifies the estimator type.
	// Examples: "RandomForestClassifier", "CNNClassifier"
	ModelNameKey = "model.name"

	// RunIDKey carries the unique identifier of one pipeline run.
	RunIDKey = "run.id"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "augment", "split"
	OperationKey = "ml.operation"

	// ComponentKey identifies the package performing the operation.
	// Examples: "dataset", "ensemble", "neural"
	ComponentKey = "ml.component"
)

// Data shape.
const (
	// SamplesKey is the number of rows being processed.
	SamplesKey = "data.samples"

	// FeaturesKey is the number of columns being processed.
	FeaturesKey = "data.features"

	// BatchSizeKey is the minibatch size during neural network training.
	BatchSizeKey = "data.batch_size"
)

// Training and evaluation.
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// EpochKey is the current epoch during neural network training.
	EpochKey = "training.epoch"

	// TreesKey is the number of fitted trees during forest training.
	TreesKey = "training.trees"

	// LossKey is the average training loss for the finished epoch.
	LossKey = "metrics.loss"

	// AccuracyKey is a classification accuracy in [0, 1].
	AccuracyKey = "metrics.accuracy"
)
