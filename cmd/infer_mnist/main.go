package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"

	"github.com/neurlang/plloggers/devices"
	"github.com/neurlang/plloggers/hparams"
	"github.com/neurlang/plloggers/internal/ctxlog"
	"github.com/neurlang/plloggers/model"
	"github.com/neurlang/plloggers/trainer"
	"github.com/youta-t/flarc"
)

type Flags struct {
	Checkpoint      string `flag:"checkpoint" help:"required. checkpoint written by train_mnist."`
	DataRoot        string `flag:"data_root" help:"directory holding the MNIST idx .gz files."`
	Download        bool   `flag:"download" help:"download MNIST into data_root when missing."`
	Buckets         int    `flag:"buckets" help:"--buckets the checkpoint was trained with."`
	PixelBits       int    `flag:"pixel_bits" help:"--pixel_bits the checkpoint was trained with."`
	ValSignificance int    `flag:"val_significance" help:"evaluate a statistical sample at this significance (0 = whole set)."`
	Train           bool   `flag:"train" help:"evaluate the training set too."`
}

func defaults() Flags {
	h := hparams.Default()
	return Flags{
		DataRoot:  h.DataRoot,
		Download:  h.Download,
		Buckets:   h.Buckets,
		PixelBits: h.PixelBits,
	}
}

func main() {
	logger := ctxlog.New(os.Stderr, "info", "text")

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill,
	)
	defer cancel()
	ctx = ctxlog.WithLogger(ctx, logger)

	cmd, err := flarc.NewCommand(
		"evaluate a SimpleMNIST checkpoint",
		defaults(),
		flarc.Args{},
		func(ctx context.Context, cl flarc.Commandline[Flags], _ []any) error {
			return Infer(ctx, cl.Flags(), cl.Stdout())
		},
	)
	if err != nil {
		logger.Error("cannot build command line", "error", err)
		os.Exit(1)
	}

	os.Exit(flarc.Run(ctx, cmd, flarc.WithHelp(true)))
}

// Infer loads the checkpoint and prints one line per evaluated split.
func Infer(ctx context.Context, f Flags, out io.Writer, opts ...model.Option) error {
	if f.Checkpoint == "" {
		return fmt.Errorf("%w: flag `--checkpoint` is required", flarc.ErrUsage)
	}
	if f.ValSignificance < 0 || f.ValSignificance >= 100 {
		return errors.Join(flarc.ErrUsage, fmt.Errorf("val_significance must be within 0-99, got %d", f.ValSignificance))
	}

	cfg := model.ConfigFrom(hparams.Default())
	cfg.DataRoot = f.DataRoot
	cfg.Download = f.Download
	cfg.Buckets = f.Buckets
	cfg.PixelBits = f.PixelBits

	// weights are replaced by the checkpoint, so the seed only has to be valid
	m, err := model.NewFromConfig(cfg, rand.New(rand.NewSource(hparams.Seed)), opts...)
	if err != nil {
		return err
	}
	if err := trainer.Resume(ctx, m, f.Checkpoint); err != nil {
		return err
	}
	if err := m.PrepareData(ctx); err != nil {
		return err
	}

	workers := devices.Workers()
	type split struct {
		name string
		ev   trainer.Evaluator
	}
	splits := []split{{"val", m}}
	if f.Train {
		splits = append(splits, split{"train", m.TrainEvaluator()})
	}

	for _, s := range splits {
		r := trainer.NewEvaluateFunc(s.ev, f.ValSignificance, workers)()
		fmt.Fprintf(out, "[%s success rate] %d %% with %d samples, loss %.4f\n", s.name, r.Success, r.Samples, r.Loss)
	}
	return nil
}
