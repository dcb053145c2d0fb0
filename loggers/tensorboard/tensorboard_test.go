package tensorboard

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neurlang/plloggers/loggers/base"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMaskedCRC(t *testing.T) {
	// crc32c("") is 0, masked it is the mask delta.
	assert.Equal(t, uint32(0xa282ead8), maskedCRC(nil))
}

func TestRecordRoundTrip(t *testing.T) {
	event := encodeScalars(12.5, 7, map[string]float64{"b": 2, "a": 0.25})
	framed := appendRecord(nil, event)
	assert.Len(t, framed, 8+4+len(event)+4)

	data, err := readRecord(bytes.NewReader(framed))
	require.NoError(t, err)
	ev, err := decodeEvent(data)
	require.NoError(t, err)

	assert.Equal(t, 12.5, ev.WallTime)
	assert.Equal(t, int64(7), ev.Step)
	assert.Equal(t, map[string]float32{"a": 0.25, "b": 2}, ev.Scalars)

	framed[len(framed)-1] ^= 0xff
	_, err = readRecord(bytes.NewReader(framed))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLogger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clock := time.Unix(1700000000, 0)

	l := New(dir, "simplemnist", 3)
	l.Now = func() time.Time { return clock }

	assert.Equal(t, "simplemnist", l.Name())
	assert.Equal(t, "3", l.Version())
	assert.Equal(t, filepath.Join(dir, "simplemnist", "version_3"), l.LogDir())
	assert.NoDirExists(t, l.LogDir(), "construction must not touch the filesystem")

	require.NoError(t, l.LogHyperparams(ctx, map[string]any{"batch_size": 32, "opt": map[string]any{"lr": 1}}))
	require.NoError(t, l.LogMetrics(ctx, map[string]float64{"train_loss": 0.5}, 50))
	require.NoError(t, l.LogMetrics(ctx, map[string]float64{"val_acc": 0.9, "epoch": 0}, 100))
	require.NoError(t, l.Save(ctx))
	require.NoError(t, l.Finalize(ctx, base.StatusSuccess))
	require.NoError(t, l.Finalize(ctx, base.StatusSuccess), "finalize twice")

	matches, err := filepath.Glob(filepath.Join(l.LogDir(), "events.out.tfevents.1700000000.*"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	events, err := ReadEvents(matches[0])
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, FileVersion, events[0].FileVersion)
	assert.Equal(t, int64(50), events[1].Step)
	assert.Equal(t, float32(0.5), events[1].Scalars["train_loss"])
	assert.Equal(t, int64(100), events[2].Step)
	assert.Equal(t, map[string]float32{"val_acc": 0.9, "epoch": 0}, events[2].Scalars)

	raw, err := os.ReadFile(filepath.Join(l.LogDir(), HparamsFile))
	require.NoError(t, err)
	var hp map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &hp))
	assert.Equal(t, map[string]any{"batch_size": 32, "opt/lr": 1}, hp)
}

func TestLoggerWithoutMetrics(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "idle", 0)
	require.NoError(t, l.Finalize(context.Background(), base.StatusFailed))
	assert.NoDirExists(t, l.LogDir())
}
