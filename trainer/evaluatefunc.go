package trainer

import (
	"math"
	"sync"

	"github.com/neurlang/plloggers/parallel"
)

// Evaluation is the result of one validation pass.
type Evaluation struct {
	// Accuracy in [0, 1].
	Accuracy float64
	// Success is Accuracy as a whole percentage.
	Success int
	Loss    float64
	Samples int
	// Digest fingerprints every prediction in order.
	Digest [32]byte
}

// sampleSize calculates the statistically sufficient sample size
// for a given dataset size N and significance level (0-100).
func sampleSize(N int, significance byte) int {
	if N <= 1 {
		return N
	}

	z := zScoreFromAlpha(100 - significance)

	// worst-case proportion
	p := 0.5
	e := float64(100-significance) * 0.01

	numerator := math.Pow(z, 2) * p * (1 - p)
	denominator := math.Pow(e, 2)

	ss := numerator / denominator

	// finite population correction
	correctedSS := ss * float64(N) / (float64(N) - 1 + ss)

	if int(correctedSS) > N {
		return N
	}
	if correctedSS < 1 {
		return 1
	}
	return int(correctedSS)
}

// zScoreFromAlpha returns the Z-score for a given alpha level
// Common: 90% => 1.645, 95% => 1.96, 99% => 2.576
func zScoreFromAlpha(alpha byte) float64 {
	switch {
	case alpha <= 1:
		return 2.576
	case alpha <= 5:
		return 1.96
	case alpha <= 10:
		return 1.645
	default:
		return 1.96
	}
}

// NewEvaluateFunc returns a function validating m on workers goroutines.
// A significance of 0 evaluates the whole validation set, anything else the
// first sampleSize(ValLen, significance) samples.
func NewEvaluateFunc(m Evaluator, significance int, workers int) func() Evaluation {
	return func() Evaluation {
		length := m.ValLen()
		if significance > 0 {
			length = sampleSize(length, byte(significance))
		}
		if length == 0 {
			return Evaluation{Digest: parallel.NewDigest(0).Sum()}
		}

		digest := parallel.NewDigest(length)
		var mut sync.Mutex
		var correct int
		var loss float64

		parallel.ForEach(length, workers, func(i int) {
			predicted, l := m.ValidationStep(i)
			digest.MustPut(i, predicted)

			mut.Lock()
			if predicted == m.ValLabel(i) {
				correct++
			}
			loss += l
			mut.Unlock()
		})

		acc := float64(correct) / float64(length)
		return Evaluation{
			Accuracy: acc,
			Success:  100 * correct / length,
			Loss:     loss / float64(length),
			Samples:  length,
			Digest:   digest.Sum(),
		}
	}
}
