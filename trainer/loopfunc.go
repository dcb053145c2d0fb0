package trainer

// NewStopFunc returns the early stopping rule of Fit. It stops once validation is
// perfect, or when an epoch reproduces the predictions of an earlier one: training is
// then stuck in a local minimum.
func NewStopFunc() func(Evaluation) (stop bool, reason string) {
	var seen = make(map[[32]byte]struct{})
	return func(ev Evaluation) (bool, string) {
		if ev.Samples > 0 && ev.Success >= 100 {
			return true, "max accuracy"
		}
		if _, ok := seen[ev.Digest]; ok {
			return true, "local minimum"
		}
		seen[ev.Digest] = struct{}{}
		return false, ""
	}
}
