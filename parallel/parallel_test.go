package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEachVisitsEveryIndexOnce(t *testing.T) {
	const n = 1000
	var visits [n]atomic.Int32
	var running, peak atomic.Int32

	ForEach(n, 4, func(i int) {
		cur := running.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		visits[i].Add(1)
		running.Add(-1)
	})

	for i := range visits {
		require.Equal(t, int32(1), visits[i].Load(), "index %d", i)
	}
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestForEachDegenerateArguments(t *testing.T) {
	called := 0
	ForEach(0, 4, func(int) { called++ })
	ForEach(-3, 4, func(int) { called++ })
	assert.Zero(t, called)

	ForEach(3, 0, func(int) { called++ })
	assert.Equal(t, 3, called)
}

func TestDigestIsOrderIndependent(t *testing.T) {
	values := []uint16{3, 1, 4, 1, 5, 9, 2, 6}

	forward := NewDigest(len(values))
	for i, v := range values {
		forward.MustPut(i, v)
	}

	concurrent := NewDigest(len(values))
	ForEach(len(values), 8, func(i int) {
		concurrent.MustPut(i, values[i])
	})

	assert.Equal(t, forward.Sum(), concurrent.Sum())

	other := NewDigest(len(values))
	for i, v := range values {
		other.MustPut(i, v+1)
	}
	assert.NotEqual(t, forward.Sum(), other.Sum())
}

func TestDigestRejectsBadWrites(t *testing.T) {
	d := NewDigest(2)
	require.NoError(t, d.Put(0, 1))
	assert.ErrorContains(t, d.Put(0, 1), "duplicate")
	assert.ErrorContains(t, d.Put(2, 1), "out of range")
	assert.Panics(t, func() { d.MustPut(-1, 0) })
}
