package main

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neurlang/plloggers/datasets/mnist"
	"github.com/neurlang/plloggers/hparams"
	"github.com/neurlang/plloggers/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youta-t/flarc"
)

func synthetic() *mnist.Dataset {
	var samples []mnist.Sample
	for c := 0; c < mnist.Classes; c++ {
		var s mnist.Sample
		s.Label = byte(c)
		row, col := (c/4)*7+2, (c%4)*7+2
		for y := row; y < row+3; y++ {
			for x := col; x < col+3; x++ {
				s.Image[y*mnist.ImgSize+x] = 255
			}
		}
		samples = append(samples, s)
	}
	return &mnist.Dataset{Train: samples, Val: samples}
}

// checkpoint writes freshly initialized weights for the given flags.
func checkpoint(t *testing.T, f Flags) string {
	t.Helper()
	cfg := model.ConfigFrom(hparams.Default())
	cfg.Buckets = f.Buckets
	cfg.PixelBits = f.PixelBits
	m, err := model.NewFromConfig(cfg, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "epoch=0.ckpt")
	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, m.Save(out))
	require.NoError(t, out.Close())
	return path
}

func TestInfer(t *testing.T) {
	f := defaults()
	f.Buckets = 512
	f.Download = false
	f.DataRoot = t.TempDir()
	f.Checkpoint = checkpoint(t, f)
	f.Train = true

	out := new(bytes.Buffer)
	require.NoError(t, Infer(context.Background(), f, out, model.WithDataset(synthetic())))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "[val success rate] "), lines[0])
	assert.Contains(t, lines[0], "with 10 samples")
	assert.True(t, strings.HasPrefix(lines[1], "[train success rate] "), lines[1])
}

func TestInferRejects(t *testing.T) {
	theory := func(mutate func(*Flags), target error) func(*testing.T) {
		return func(t *testing.T) {
			f := defaults()
			f.Buckets = 512
			f.Download = false
			f.DataRoot = t.TempDir()
			f.Checkpoint = checkpoint(t, f)
			mutate(&f)

			err := Infer(context.Background(), f, new(bytes.Buffer), model.WithDataset(synthetic()))
			assert.ErrorIs(t, err, target)
		}
	}

	t.Run("no checkpoint", theory(func(f *Flags) { f.Checkpoint = "" }, flarc.ErrUsage))
	t.Run("bad significance", theory(func(f *Flags) { f.ValSignificance = 100 }, flarc.ErrUsage))
	t.Run("other bucket count", theory(func(f *Flags) { f.Buckets = 1024 }, model.ErrCheckpoint))
	t.Run("missing file", theory(func(f *Flags) { f.Checkpoint += ".missing" }, os.ErrNotExist))
}

func TestInferChecksCheckpointBeforeData(t *testing.T) {
	f := defaults()
	f.Buckets = 512
	f.Download = true
	f.DataRoot = filepath.Join(t.TempDir(), "mnist")
	f.Checkpoint = filepath.Join(t.TempDir(), "missing.ckpt")

	// a download would fail on the canceled context instead
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Infer(ctx, f, new(bytes.Buffer))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NotErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, f.DataRoot)
}
