package main

import (
	"context"
	"errors"
	"io"
	"math/rand"

	"github.com/neurlang/plloggers/hparams"
	"github.com/neurlang/plloggers/internal/ctxlog"
	"github.com/neurlang/plloggers/loggers"
	"github.com/neurlang/plloggers/model"
	"github.com/neurlang/plloggers/trainer"
	"github.com/youta-t/flarc"
)

// NewCommand builds the command line. opts are handed to the model of every run.
func NewCommand(opts ...model.Option) (flarc.Command, error) {
	return newCommand(Task(opts...))
}

func newCommand(task flarc.Task[hparams.HParams]) (flarc.Command, error) {
	return flarc.NewCommand(
		"train SimpleMNIST with a selectable experiment logger",
		hparams.Default(),
		flarc.Args{},
		task,
		flarc.WithDescription(`
Train the SimpleMNIST classifier for --max_epochs epochs and report hyperparameters,
metrics and checkpoints to the logger chosen by --logger_type.

Logger types:

    tensorboard  event files under <save_dir>/<name>/version_<version>
    comet        Comet experiment (offline archive under <save_dir> without --api_key)
    mlflow       MLflow run (./mlruns, or --tracking_uri)
    neptune      Neptune run (offline under .neptune without --api_key)
    test_tube    csv files under <save_dir>/default/version_<version>
    wandb        offline run under <save_dir>/wandb
    trains       Trains (ClearML) task on the local API server
    multiple     tensorboard and comet at once

Example:

    {{ .Command }} --logger_type wandb --name run1 --save_dir /tmp/out
`),
	)
}

// Task validates the parsed flags and runs the training.
func Task(opts ...model.Option) flarc.Task[hparams.HParams] {
	return func(ctx context.Context, cl flarc.Commandline[hparams.HParams], _ []any) error {
		h := cl.Flags()
		if err := h.Validate(); err != nil {
			return errors.Join(flarc.ErrUsage, err)
		}

		if err := Run(ctx, h, cl.Stderr(), opts...); err != nil {
			ctxlog.FromContext(ctx).Error("training failed", "logger_type", h.Logger(), "error", err)
			return err
		}
		return nil
	}
}

// Run seeds the run, then builds the model, the logger and the trainer, and fits.
// Errors are returned as they are.
func Run(ctx context.Context, h hparams.HParams, progress io.Writer, opts ...model.Option) error {
	rng := rand.New(rand.NewSource(hparams.Seed))

	m, err := model.New(h, rng, opts...)
	if err != nil {
		return err
	}

	logger, err := loggers.New(h)
	if err != nil {
		return err
	}

	tr, err := trainer.New(trainer.Config{
		Gpus:      h.Gpus,
		MaxEpochs: h.MaxEpochs,
		Logger:    logger,
		Rand:      rng,
		RootDir:   h.SaveDir,
		Progress:  progress,

		ResumeFrom:  h.ResumeFromCheckpoint.OrEmpty(),
		EarlyStop:   h.EarlyStop,
		Hyperparams: h.AsMap(),
	})
	if err != nil {
		return err
	}

	ctxlog.FromContext(ctx).Info(
		"training",
		"logger_type", h.Logger(), "logger", logger.Name(), "version", logger.Version(),
		"max_epochs", h.MaxEpochs, "gpus", h.Gpus,
	)
	return tr.Fit(ctx, m)
}
