package model

import (
	"github.com/neurlang/plloggers/datasets/mnist"
	"github.com/neurlang/plloggers/hash"
	"github.com/neurlang/plloggers/parallel"
	"github.com/neurlang/plloggers/trainer"
)

// features returns the weight buckets activated by img. Background patches are skipped.
func (m *SimpleMNIST) features(img *mnist.Input) []uint32 {
	patches := make([]uint32, 0, mnist.Features/4)
	positions := make([]uint32, 0, mnist.Features/4)
	for p := 0; p < mnist.Features; p++ {
		q := (img.Feature(p) >> m.shift) & m.mask
		if q == 0 {
			continue
		}
		patches = append(patches, q)
		positions = append(positions, uint32(p))
	}
	hash.Batch(patches, patches, positions, m.buckets)
	return patches
}

func (m *SimpleMNIST) scores(feats []uint32) (s [mnist.Classes]int64) {
	for c := range s {
		w := m.weights[c]
		var sum int64
		for _, b := range feats {
			sum += int64(w[b])
		}
		s[c] = sum
	}
	return
}

// argmax picks the highest score; the lowest class wins ties.
func argmax(s [mnist.Classes]int64) int {
	best := 0
	for c := 1; c < len(s); c++ {
		if s[c] > s[best] {
			best = c
		}
	}
	return best
}

// hinge is the multiclass hinge loss max(0, 1 + max_{c != y} s_c - s_y).
func hinge(s [mnist.Classes]int64, y int) float64 {
	var rival int64
	first := true
	for c, v := range s {
		if c == y {
			continue
		}
		if first || v > rival {
			rival, first = v, false
		}
	}
	return float64(max(0, 1+rival-s[y]))
}

// Predict classifies img.
func (m *SimpleMNIST) Predict(img *mnist.Input) int {
	return argmax(m.scores(m.features(img)))
}

// ValidationStep classifies validation sample i. It only reads the weights.
func (m *SimpleMNIST) ValidationStep(i int) (uint16, float64) {
	s := &m.data.Val[i]
	scores := m.scores(m.features(&s.Image))
	return uint16(argmax(scores)), hinge(scores, int(s.Label))
}

type stepResult struct {
	feats     []uint32
	predicted int
	loss      float64
}

// TrainingStep predicts the batch concurrently with the current weights, then applies
// the perceptron update for every mistake in batch order.
func (m *SimpleMNIST) TrainingStep(batch []int) trainer.StepOutput {
	if m.data == nil || len(batch) == 0 {
		return trainer.StepOutput{}
	}
	results := make([]stepResult, len(batch))
	parallel.ForEach(len(batch), m.cfg.Workers, func(i int) {
		s := &m.data.Train[m.order[batch[i]]]
		feats := m.features(&s.Image)
		scores := m.scores(feats)
		results[i] = stepResult{feats: feats, predicted: argmax(scores), loss: hinge(scores, int(s.Label))}
	})

	lr := int32(m.cfg.LearningRate)
	var out trainer.StepOutput
	for i, r := range results {
		y := int(m.data.Train[m.order[batch[i]]].Label)
		out.Loss += r.loss
		out.Total++
		if r.predicted == y {
			out.Correct++
			continue
		}
		good, bad := m.weights[y], m.weights[r.predicted]
		for _, b := range r.feats {
			good[b] += lr
			bad[b] -= lr
		}
	}
	out.Loss /= float64(out.Total)
	return out
}

// trainSplit evaluates the training samples in their original order.
type trainSplit struct{ m *SimpleMNIST }

// TrainEvaluator exposes the training set through the validation interface.
func (m *SimpleMNIST) TrainEvaluator() trainer.Evaluator { return trainSplit{m} }

func (t trainSplit) ValLen() int {
	if t.m.data == nil {
		return 0
	}
	return len(t.m.data.Train)
}

func (t trainSplit) ValLabel(i int) uint16 { return uint16(t.m.data.Train[i].Label) }

func (t trainSplit) ValidationStep(i int) (uint16, float64) {
	s := &t.m.data.Train[i]
	scores := t.m.scores(t.m.features(&s.Image))
	return uint16(argmax(scores)), hinge(scores, int(s.Label))
}
