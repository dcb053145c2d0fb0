package loggers_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/neurlang/plloggers/hparams"
	"github.com/neurlang/plloggers/loggers"
	"github.com/neurlang/plloggers/loggers/base"
	"github.com/neurlang/plloggers/loggers/comet"
	"github.com/neurlang/plloggers/loggers/mlflow"
	"github.com/neurlang/plloggers/loggers/neptune"
	"github.com/neurlang/plloggers/loggers/tensorboard"
	"github.com/neurlang/plloggers/loggers/testtube"
	"github.com/neurlang/plloggers/loggers/trains"
	"github.com/neurlang/plloggers/loggers/wandb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEveryType(t *testing.T) {
	dir := t.TempDir()
	for _, lt := range hparams.LoggerTypes {
		t.Run(string(lt), func(t *testing.T) {
			h := hparams.Default()
			h.LoggerType = lt.Ref()
			h.SaveDir = dir

			l, err := loggers.New(h)
			require.NoError(t, err)
			require.NotNil(t, l)
		})
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "constructing loggers must not write anything")
}

func TestNewUnsupported(t *testing.T) {
	h := hparams.Default()
	h.LoggerType = hparams.LoggerType("visdom").Ref()

	l, err := loggers.New(h)
	assert.Nil(t, l)
	require.ErrorIs(t, err, loggers.ErrUnsupportedLoggerType)
	assert.EqualError(t, err, "logger_type: visdom is unsupported")
}

func TestNewParameters(t *testing.T) {
	h := hparams.Default()
	h.SaveDir = "/tmp/out"
	h.Name = "run1"
	h.Version = 5
	h.APIKey = hparams.Some("key")
	h.TrackingURI = hparams.Some("http://mlflow:5000")

	build := func(lt hparams.LoggerType) base.Logger {
		h := h
		h.LoggerType = lt.Ref()
		l, err := loggers.New(h)
		require.NoError(t, err)
		return l
	}

	t.Run("tensorboard", func(t *testing.T) {
		tb := build(hparams.TensorBoard).(*tensorboard.Logger)
		assert.Equal(t, "/tmp/out", tb.SaveDir())
		assert.Equal(t, "run1", tb.Name())
		assert.Equal(t, "5", tb.Version())
	})
	t.Run("comet", func(t *testing.T) {
		c := build(hparams.Comet).(*comet.Logger)
		assert.Equal(t, loggers.ProjectName, c.ProjectName())
		assert.Equal(t, "key", c.APIKey())
		assert.Equal(t, "/tmp/out", c.SaveDir())
		assert.Equal(t, "run1", c.Name())
	})
	t.Run("mlflow", func(t *testing.T) {
		m := build(hparams.MLFlow).(*mlflow.Logger)
		assert.Equal(t, "run1", m.Name())
		assert.Equal(t, "http://mlflow:5000", m.TrackingURI())
	})
	t.Run("neptune", func(t *testing.T) {
		n := build(hparams.Neptune).(*neptune.Logger)
		assert.Equal(t, "key", n.APIKey())
		assert.Equal(t, "run1", n.ProjectName())
	})
	t.Run("test_tube", func(t *testing.T) {
		tt := build(hparams.TestTube).(*testtube.Logger)
		assert.Equal(t, "/tmp/out", tt.SaveDir())
		assert.Equal(t, "5", tt.Version())
	})
	t.Run("wandb", func(t *testing.T) {
		w := build(hparams.Wandb).(*wandb.Logger)
		assert.Equal(t, "run1", w.Name())
		assert.Equal(t, "/tmp/out", w.SaveDir())
		assert.Equal(t, loggers.ProjectName, w.Project())
	})
	t.Run("trains", func(t *testing.T) {
		tr := build(hparams.Trains).(*trains.Logger)
		assert.Equal(t, loggers.ProjectName, tr.ProjectName())
		assert.Equal(t, "run1", tr.Name())
	})
	t.Run("multiple", func(t *testing.T) {
		c := build(hparams.Multiple).(base.Collection)
		require.Len(t, c, 2)

		tb := c[0].(*tensorboard.Logger)
		assert.Equal(t, "/tmp/out", tb.SaveDir())
		assert.Equal(t, "run1", tb.Name())
		assert.Equal(t, "5", tb.Version())

		cm := c[1].(*comet.Logger)
		assert.Equal(t, loggers.ProjectName, cm.ProjectName())
		assert.Equal(t, "key", cm.APIKey())
		assert.Equal(t, "/tmp/out", cm.SaveDir())
		assert.Equal(t, "run1", cm.Name())

		assert.Equal(t, filepath.Join("/tmp/out", "run1", "version_5"), c.LogDir())
	})
}

func TestNewZeroHParams(t *testing.T) {
	_, err := loggers.New(hparams.HParams{})
	assert.ErrorIs(t, err, loggers.ErrUnsupportedLoggerType)
}

func TestNewAbsentOptionals(t *testing.T) {
	h := hparams.Default()

	h.LoggerType = hparams.Comet.Ref()
	l, err := loggers.New(h)
	require.NoError(t, err)
	assert.False(t, l.(*comet.Logger).Online())

	h.LoggerType = hparams.MLFlow.Ref()
	l, err = loggers.New(h)
	require.NoError(t, err)
	assert.Equal(t, "", l.(*mlflow.Logger).TrackingURI())
}
