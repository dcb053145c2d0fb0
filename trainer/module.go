package trainer

import (
	"context"
	"io"
	"math/rand"
)

// StepOutput summarizes one training step.
type StepOutput struct {
	// Loss is the mean loss over the batch.
	Loss    float64
	Correct int
	Total   int
}

// Evaluator is the read-only part of a Module used for validation.
// ValidationStep must be safe for concurrent use.
type Evaluator interface {
	ValLen() int
	ValLabel(i int) uint16
	ValidationStep(i int) (predicted uint16, loss float64)
}

// Module is a trainable model together with its data.
type Module interface {
	Evaluator

	// PrepareData loads (and if needed fetches) the dataset.
	PrepareData(ctx context.Context) error
	// Hyperparams are logged once before the first epoch.
	Hyperparams() map[string]any

	// OnEpochStart reorders the training samples using rng.
	OnEpochStart(epoch int, rng *rand.Rand)
	TrainLen() int
	BatchSize() int
	// TrainingStep trains on the given positions of the current epoch order.
	TrainingStep(batch []int) StepOutput
	// ValSignificance selects statistical validation sampling; 0 validates everything.
	ValSignificance() int

	// Save writes a checkpoint.
	Save(w io.Writer) error
}
