package trainer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"github.com/neurlang/plloggers/devices"
	"github.com/neurlang/plloggers/internal/ctxlog"
	"github.com/neurlang/plloggers/loggers/base"
)

// DefaultLogEveryNSteps is how often training metrics are logged.
const DefaultLogEveryNSteps = 50

// ErrInvalidConfig is wrapped by New for a rejected Config.
var ErrInvalidConfig = errors.New("trainer: invalid config")

// Config of a Trainer.
type Config struct {
	Gpus      int
	MaxEpochs int
	// Logger receives hyperparameters and metrics. nil disables logging.
	Logger base.Logger
	// Rand drives every random decision of the loop. Required.
	Rand *rand.Rand

	// RootDir holds checkpoints when the logger has no log directory. Defaults to ".".
	RootDir string
	// Workers bounds validation parallelism. Defaults to devices.Workers().
	Workers int
	// LogEveryNSteps defaults to DefaultLogEveryNSteps.
	LogEveryNSteps int
	// Progress receives the progress bar. nil discards it.
	Progress io.Writer
	// DisableCheckpoints skips writing epoch=<n>.ckpt files.
	DisableCheckpoints bool
	// ResumeFrom is a checkpoint loaded into the module before the first epoch.
	ResumeFrom string
	// EarlyStop ends training early, see NewStopFunc.
	EarlyStop bool
	// Hyperparams are logged along with the module's own. The module wins on conflicts.
	Hyperparams map[string]any
}

// Trainer runs Fit. It is not safe for concurrent use.
type Trainer struct {
	cfg        Config
	devices    []devices.Device
	globalStep int
	history    []Evaluation
}

// New validates cfg and resolves the requested GPUs.
func New(cfg Config) (*Trainer, error) {
	if cfg.MaxEpochs < 1 {
		return nil, fmt.Errorf("%w: max_epochs must be positive, got %d", ErrInvalidConfig, cfg.MaxEpochs)
	}
	if cfg.Rand == nil {
		return nil, fmt.Errorf("%w: no random source", ErrInvalidConfig)
	}
	devs, err := devices.Resolve(cfg.Gpus)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = base.Collection{}
	}
	if cfg.RootDir == "" {
		cfg.RootDir = "."
	}
	if cfg.Workers < 1 {
		cfg.Workers = devices.Workers()
	}
	if cfg.LogEveryNSteps < 1 {
		cfg.LogEveryNSteps = DefaultLogEveryNSteps
	}
	if cfg.Progress == nil {
		cfg.Progress = io.Discard
	}
	return &Trainer{cfg: cfg, devices: devs}, nil
}

// Devices returns the resolved GPUs; empty for CPU-only training.
func (t *Trainer) Devices() []devices.Device { return t.devices }

// GlobalStep counts training steps taken across epochs.
func (t *Trainer) GlobalStep() int { return t.globalStep }

// History holds the validation result of each finished epoch.
func (t *Trainer) History() []Evaluation { return t.history }

// Fit trains m for MaxEpochs epochs. The logger is finalized with StatusSuccess when
// Fit returns nil and with StatusFailed otherwise; the training error is returned as is,
// joined with a finalize error if one happens.
func (t *Trainer) Fit(ctx context.Context, m Module) (err error) {
	logger := t.cfg.Logger
	defer func() {
		status := base.StatusSuccess
		if err != nil {
			status = base.StatusFailed
		}
		if ferr := logger.Finalize(context.WithoutCancel(ctx), status); ferr != nil {
			err = errors.Join(err, fmt.Errorf("trainer: finalize logger: %w", ferr))
		}
	}()

	log := ctxlog.FromContext(ctx)
	cpu := devices.CPU()
	log.Info("trainer: starting",
		"max_epochs", t.cfg.MaxEpochs,
		"gpus", devices.Names(t.devices),
		"cpu", cpu.Brand,
		"workers", t.cfg.Workers,
		"logger", logger.Name(),
	)

	if err := m.PrepareData(ctx); err != nil {
		return fmt.Errorf("trainer: prepare data: %w", err)
	}

	if err := Resume(ctx, m, t.cfg.ResumeFrom); err != nil {
		return err
	}

	hp := m.Hyperparams()
	for k, v := range t.cfg.Hyperparams {
		if _, ok := hp[k]; !ok {
			hp[k] = v
		}
	}
	hp["gpus"] = t.cfg.Gpus
	hp["max_epochs"] = t.cfg.MaxEpochs
	if err := logger.LogHyperparams(ctx, hp); err != nil {
		return fmt.Errorf("trainer: log hyperparameters: %w", err)
	}

	evaluate := NewEvaluateFunc(m, m.ValSignificance(), t.cfg.Workers)
	stop := NewStopFunc()
	for epoch := 0; epoch < t.cfg.MaxEpochs; epoch++ {
		if err := t.trainEpoch(ctx, m, epoch); err != nil {
			return err
		}

		ev := evaluate()
		t.history = append(t.history, ev)
		err := logger.LogMetrics(ctx, map[string]float64{
			"val_loss": ev.Loss,
			"val_acc":  ev.Accuracy,
			"epoch":    float64(epoch),
		}, t.globalStep)
		if err != nil {
			return fmt.Errorf("trainer: log metrics: %w", err)
		}
		log.Info("trainer: epoch finished",
			"epoch", epoch,
			"step", t.globalStep,
			"val_acc", ev.Accuracy,
			"val_loss", ev.Loss,
			"samples", ev.Samples,
			"digest", hex.EncodeToString(ev.Digest[:8]),
		)

		if !t.cfg.DisableCheckpoints {
			path, err := t.checkpoint(m, epoch)
			if err != nil {
				return fmt.Errorf("trainer: checkpoint: %w", err)
			}
			log.Debug("trainer: checkpoint written", "path", path)
		}

		if t.cfg.EarlyStop {
			if done, reason := stop(ev); done {
				log.Info("trainer: stopping early", "epoch", epoch, "reason", reason)
				break
			}
		}
	}

	if err := logger.Save(ctx); err != nil {
		return fmt.Errorf("trainer: save logger: %w", err)
	}
	return nil
}

func (t *Trainer) trainEpoch(ctx context.Context, m Module, epoch int) error {
	m.OnEpochStart(epoch, t.cfg.Rand)
	n := m.TrainLen()
	bs := max(m.BatchSize(), 1)

	bar := pb.Default.New(n).
		SetWriter(t.cfg.Progress).
		Set("prefix", fmt.Sprintf("epoch %d", epoch)).
		Start()
	defer bar.Finish()

	var windowLoss float64
	var windowCorrect, windowTotal, windowSteps int
	batch := make([]int, 0, bs)

	for start := 0; start < n; start += bs {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = batch[:0]
		for i := start; i < min(start+bs, n); i++ {
			batch = append(batch, i)
		}

		out := m.TrainingStep(batch)
		t.globalStep++
		windowLoss += out.Loss
		windowCorrect += out.Correct
		windowTotal += out.Total
		windowSteps++
		bar.Add(len(batch))

		if t.globalStep%t.cfg.LogEveryNSteps == 0 {
			metrics := map[string]float64{"train_loss": windowLoss / float64(windowSteps)}
			if windowTotal > 0 {
				metrics["train_acc"] = float64(windowCorrect) / float64(windowTotal)
			}
			if err := t.cfg.Logger.LogMetrics(ctx, metrics, t.globalStep); err != nil {
				return fmt.Errorf("trainer: log metrics: %w", err)
			}
			windowLoss, windowCorrect, windowTotal, windowSteps = 0, 0, 0, 0
		}
	}
	return nil
}

// CheckpointDir is <logdir>/checkpoints when the logger has a log directory,
// <RootDir>/checkpoints otherwise.
func (t *Trainer) CheckpointDir() string {
	if d, ok := t.cfg.Logger.(base.LogDirer); ok {
		if dir := d.LogDir(); dir != "" {
			return filepath.Join(dir, "checkpoints")
		}
	}
	return filepath.Join(t.cfg.RootDir, "checkpoints")
}

func (t *Trainer) checkpoint(m Module, epoch int) (string, error) {
	dir := t.CheckpointDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("epoch=%d.ckpt", epoch))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
