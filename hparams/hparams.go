// Package hparams holds the run configuration of train_mnist: trainer and logger
// options plus the SimpleMNIST model options, all settable from the command line.
package hparams

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Seed is the fixed seed of every random source created for a run.
const Seed int64 = 2334

// MaxBuckets bounds --buckets. The weight table takes 40 bytes per bucket.
const MaxBuckets = 1 << 28

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid hyperparameter")

// HParams is the parsed configuration. It is read-only once parsing is done.
//
// The struct tags are read by flarc: `flag` is the option name on the command line.
// Custom option types are held by pointer: flarc takes a flag.Value only as the
// field's own value. Copies of an HParams share them.
type HParams struct {
	Gpus        int         `flag:"gpus" help:"num GPUs to use for training."`
	MaxEpochs   int         `flag:"max_epochs" help:"number of epochs to train for."`
	LoggerType  *LoggerType `flag:"logger_type" metavar:"tensorboard|comet|mlflow|neptune|test_tube|wandb|trains|multiple" help:"experiment logger backend."`
	SaveDir     string      `flag:"save_dir" help:"root directory of logs written by the logger."`
	Name        string      `flag:"name" help:"experiment name."`
	Version     int         `flag:"version" help:"experiment version."`
	APIKey      *Optional   `flag:"api_key" help:"API key of the comet or neptune backend."`
	TrackingURI *Optional   `flag:"tracking_uri" help:"MLflow tracking URI."`

	ResumeFromCheckpoint *Optional `flag:"resume_from_checkpoint" help:"checkpoint to load before the first epoch."`
	EarlyStop            bool      `flag:"early_stop" help:"stop once validation is perfect or repeats an earlier epoch."`

	// SimpleMNIST options

	LearningRate    int    `flag:"learning_rate" help:"perceptron weight step."`
	BatchSize       int    `flag:"batch_size" help:"samples per training step."`
	DataRoot        string `flag:"data_root" help:"directory holding the MNIST idx .gz files."`
	Download        bool   `flag:"download" help:"download MNIST into data_root when missing."`
	Buckets         int    `flag:"buckets" help:"hashed feature table size (rounded up to a prime)."`
	PixelBits       int    `flag:"pixel_bits" help:"bits kept per pixel when packing patches (1-8)."`
	WeightInit      int    `flag:"weight_init" help:"initial weights are drawn from [-weight_init, weight_init]."`
	LimitTrain      int    `flag:"limit_train" help:"train on the first N shuffled samples per epoch (0 = all)."`
	ValSignificance int    `flag:"val_significance" help:"validate on a statistical sample at this significance (0 = whole set)."`
}

// Default returns the configuration used when no option is given.
func Default() HParams {
	return HParams{
		Gpus:       0,
		MaxEpochs:  2,
		LoggerType: TensorBoard.Ref(),
		SaveDir:    ".",
		Name:       "simplemnist",
		Version:    0,

		APIKey:               None(),
		TrackingURI:          None(),
		ResumeFromCheckpoint: None(),

		LearningRate:    1,
		BatchSize:       32,
		DataRoot:        filepath.Join(os.TempDir(), "mnist"),
		Download:        true,
		Buckets:         1 << 16,
		PixelBits:       2,
		WeightInit:      2,
		LimitTrain:      0,
		ValSignificance: 0,
	}
}

// Validate checks the numeric constraints and the logger type.
func (h HParams) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	check(h.Gpus >= 0, "gpus must be non-negative, got %d", h.Gpus)
	check(h.MaxEpochs >= 1, "max_epochs must be positive, got %d", h.MaxEpochs)
	check(h.Logger().Valid(), "logger_type: %s is not one of %v", h.Logger(), LoggerTypes)
	check(h.LearningRate >= 1, "learning_rate must be positive, got %d", h.LearningRate)
	check(h.BatchSize >= 1, "batch_size must be positive, got %d", h.BatchSize)
	check(h.Buckets >= 2 && h.Buckets <= MaxBuckets, "buckets must be within 2-%d, got %d", MaxBuckets, h.Buckets)
	check(h.PixelBits >= 1 && h.PixelBits <= 8, "pixel_bits must be within 1-8, got %d", h.PixelBits)
	check(h.WeightInit >= 0, "weight_init must be non-negative, got %d", h.WeightInit)
	check(h.LimitTrain >= 0, "limit_train must be non-negative, got %d", h.LimitTrain)
	check(h.ValSignificance >= 0 && h.ValSignificance < 100, "val_significance must be within 0-99, got %d", h.ValSignificance)
	return errors.Join(errs...)
}

// Logger is the selected logger type, "" when unset.
func (h HParams) Logger() LoggerType {
	if h.LoggerType == nil {
		return ""
	}
	return *h.LoggerType
}

// AsMap returns the hyperparameters reported to experiment loggers, keyed by option
// name. The API key is left out; absent optional values are left out too.
func (h HParams) AsMap() map[string]any {
	m := map[string]any{
		"gpus":             h.Gpus,
		"max_epochs":       h.MaxEpochs,
		"logger_type":      string(h.Logger()),
		"save_dir":         h.SaveDir,
		"name":             h.Name,
		"version":          h.Version,
		"learning_rate":    h.LearningRate,
		"batch_size":       h.BatchSize,
		"data_root":        h.DataRoot,
		"download":         h.Download,
		"buckets":          h.Buckets,
		"pixel_bits":       h.PixelBits,
		"weight_init":      h.WeightInit,
		"limit_train":      h.LimitTrain,
		"val_significance": h.ValSignificance,
		"early_stop":       h.EarlyStop,
		"seed":             Seed,
	}
	if ckpt, ok := h.ResumeFromCheckpoint.Get(); ok {
		m["resume_from_checkpoint"] = ckpt
	}
	if uri, ok := h.TrackingURI.Get(); ok {
		m["tracking_uri"] = uri
	}
	return m
}
