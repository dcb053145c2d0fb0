//go:build !cuda

package trainer

import (
	"math/rand"
	"testing"

	"github.com/neurlang/plloggers/devices"
	"github.com/stretchr/testify/assert"
)

func TestNewRequiresCUDAForGPUs(t *testing.T) {
	_, err := New(Config{Gpus: 1, MaxEpochs: 1, Rand: rand.New(rand.NewSource(1))})
	assert.ErrorIs(t, err, devices.ErrNoCUDA)
}
