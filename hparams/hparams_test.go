package hparams_test

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neurlang/plloggers/hparams"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youta-t/flarc"
)

func TestDefault(t *testing.T) {
	h := hparams.Default()

	assert.Equal(t, 0, h.Gpus)
	assert.Equal(t, 2, h.MaxEpochs)
	assert.Equal(t, hparams.TensorBoard, h.Logger())
	assert.Equal(t, ".", h.SaveDir)
	assert.Equal(t, "simplemnist", h.Name)
	assert.Equal(t, 0, h.Version)

	_, hasKey := h.APIKey.Get()
	assert.False(t, hasKey, "api_key must be absent by default")
	_, hasURI := h.TrackingURI.Get()
	assert.False(t, hasURI, "tracking_uri must be absent by default")
	assert.Equal(t, "", h.ResumeFromCheckpoint.OrEmpty())
	assert.False(t, h.EarlyStop)

	assert.Equal(t, filepath.Join(os.TempDir(), "mnist"), h.DataRoot)
	require.NoError(t, h.Validate())
}

func TestLoggerTypeSet(t *testing.T) {
	for _, lt := range hparams.LoggerTypes {
		t.Run(string(lt), func(t *testing.T) {
			var got hparams.LoggerType
			require.NoError(t, got.Set(string(lt)))
			assert.Equal(t, lt, got)
			assert.Equal(t, string(lt), got.String())
		})
	}

	t.Run("out of the choice set", func(t *testing.T) {
		got := hparams.TensorBoard
		err := got.Set("visdom")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"visdom"`)
		assert.Contains(t, err.Error(), "test_tube")
		assert.Equal(t, hparams.TensorBoard, got, "a rejected value must not overwrite the previous one")
	})

	assert.Len(t, hparams.LoggerTypes, 8)
}

func TestDefaultOptionsAreFlagValues(t *testing.T) {
	h := hparams.Default()
	for name, v := range map[string]any{
		"logger_type":            h.LoggerType,
		"api_key":                h.APIKey,
		"tracking_uri":           h.TrackingURI,
		"resume_from_checkpoint": h.ResumeFromCheckpoint,
	} {
		assert.Implements(t, (*flag.Value)(nil), v, name)
		assert.NotNil(t, v, name)
	}
}

// parse runs argv through a flarc command declared by Default and returns what the
// task received.
func parse(t *testing.T, argv ...string) (hparams.HParams, int) {
	t.Helper()
	var got hparams.HParams
	cmd, err := flarc.NewCommand(
		"parse", hparams.Default(), flarc.Args{},
		func(_ context.Context, cl flarc.Commandline[hparams.HParams], _ []any) error {
			got = cl.Flags()
			return nil
		},
	)
	require.NoError(t, err)
	code := flarc.Run(context.Background(), cmd, flarc.WithArgs(argv), flarc.WithOutput(io.Discard, io.Discard))
	return got, code
}

func TestParseWithFlarc(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		h, code := parse(t)
		require.Equal(t, 0, code)
		assert.Equal(t, hparams.TensorBoard, h.Logger())
		assert.Equal(t, 2, h.MaxEpochs)
		_, hasKey := h.APIKey.Get()
		assert.False(t, hasKey)
	})

	t.Run("options", func(t *testing.T) {
		h, code := parse(t,
			"--logger_type", "mlflow", "--tracking_uri", "http://mlflow:5000",
			"--api_key", "secret", "--max_epochs", "3", "--early_stop",
		)
		require.Equal(t, 0, code)
		assert.Equal(t, hparams.MLFlow, h.Logger())
		assert.Equal(t, "http://mlflow:5000", h.TrackingURI.OrEmpty())
		assert.Equal(t, "secret", h.APIKey.OrEmpty())
		assert.Equal(t, 3, h.MaxEpochs)
		assert.True(t, h.EarlyStop)
	})

	t.Run("out of the choice set", func(t *testing.T) {
		_, code := parse(t, "--logger_type", "visdom")
		assert.NotEqual(t, 0, code)
	})

	t.Run("malformed number", func(t *testing.T) {
		_, code := parse(t, "--gpus", "x")
		assert.NotEqual(t, 0, code)
	})
}

func TestOptional(t *testing.T) {
	var o hparams.Optional
	assert.Equal(t, "", o.String())
	assert.Equal(t, "", o.OrEmpty())

	require.NoError(t, o.Set(""))
	v, ok := o.Get()
	assert.True(t, ok, "an explicitly empty value is present")
	assert.Equal(t, "", v)

	var nilOpt *hparams.Optional
	assert.Equal(t, "", nilOpt.String())
	assert.Equal(t, "", nilOpt.OrEmpty())
	_, ok = nilOpt.Get()
	assert.False(t, ok)

	_, ok = hparams.None().Get()
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	theory := func(mutate func(*hparams.HParams), wantSubstr string) func(*testing.T) {
		return func(t *testing.T) {
			h := hparams.Default()
			mutate(&h)
			err := h.Validate()
			require.ErrorIs(t, err, hparams.ErrInvalid)
			assert.Contains(t, err.Error(), wantSubstr)
		}
	}

	t.Run("negative gpus", theory(func(h *hparams.HParams) { h.Gpus = -1 }, "gpus"))
	t.Run("zero epochs", theory(func(h *hparams.HParams) { h.MaxEpochs = 0 }, "max_epochs"))
	t.Run("unknown logger", theory(func(h *hparams.HParams) { h.LoggerType = hparams.LoggerType("visdom").Ref() }, "logger_type: visdom"))
	t.Run("no logger", theory(func(h *hparams.HParams) { h.LoggerType = nil }, "logger_type"))
	t.Run("zero batch", theory(func(h *hparams.HParams) { h.BatchSize = 0 }, "batch_size"))
	t.Run("too many pixel bits", theory(func(h *hparams.HParams) { h.PixelBits = 9 }, "pixel_bits"))
	t.Run("one bucket", theory(func(h *hparams.HParams) { h.Buckets = 1 }, "buckets"))
	t.Run("too many buckets", theory(func(h *hparams.HParams) { h.Buckets = hparams.MaxBuckets + 1 }, "buckets"))
	t.Run("significance 100", theory(func(h *hparams.HParams) { h.ValSignificance = 100 }, "val_significance"))
}

func TestAsMap(t *testing.T) {
	h := hparams.Default()
	h.APIKey = hparams.Some("secret")
	h.TrackingURI = hparams.Some("http://mlflow.invalid")

	m := h.AsMap()
	assert.NotContains(t, m, "api_key")
	assert.Equal(t, "http://mlflow.invalid", m["tracking_uri"])
	assert.Equal(t, hparams.Seed, m["seed"])

	want := map[string]any{"max_epochs": 2, "logger_type": "tensorboard", "name": "simplemnist"}
	for k, v := range want {
		if diff := cmp.Diff(v, m[k]); diff != "" {
			t.Errorf("AsMap()[%q] mismatch (-want +got):\n%s", k, diff)
		}
	}

	assert.NotContains(t, hparams.Default().AsMap(), "tracking_uri")
	assert.NotContains(t, hparams.Default().AsMap(), "resume_from_checkpoint")

	h.ResumeFromCheckpoint = hparams.Some("ckpt/epoch=1.ckpt")
	assert.Equal(t, "ckpt/epoch=1.ckpt", h.AsMap()["resume_from_checkpoint"])
}
