// Package loggers builds the experiment logger selected by --logger_type.
package loggers

import (
	"errors"
	"fmt"

	"github.com/neurlang/plloggers/hparams"
	"github.com/neurlang/plloggers/loggers/base"
	"github.com/neurlang/plloggers/loggers/comet"
	"github.com/neurlang/plloggers/loggers/mlflow"
	"github.com/neurlang/plloggers/loggers/neptune"
	"github.com/neurlang/plloggers/loggers/tensorboard"
	"github.com/neurlang/plloggers/loggers/testtube"
	"github.com/neurlang/plloggers/loggers/trains"
	"github.com/neurlang/plloggers/loggers/wandb"
)

// ProjectName is the project every backend with a project concept logs into.
const ProjectName = "pl-loggers"

// ErrUnsupportedLoggerType matches the error New returns for an unknown logger type.
var ErrUnsupportedLoggerType = errors.New("unsupported logger type")

// UnsupportedError is returned by New for a logger type outside hparams.LoggerTypes.
type UnsupportedError struct {
	LoggerType hparams.LoggerType
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("logger_type: %s is unsupported", e.LoggerType)
}

func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupportedLoggerType
}

// Factory builds one logger from the configuration.
type Factory func(h hparams.HParams) base.Logger

var factories = map[hparams.LoggerType]Factory{
	hparams.TensorBoard: newTensorBoard,
	hparams.Comet:       newComet,
	hparams.MLFlow: func(h hparams.HParams) base.Logger {
		return mlflow.New(h.Name, h.TrackingURI.OrEmpty())
	},
	hparams.Neptune: func(h hparams.HParams) base.Logger {
		return neptune.New(h.APIKey.OrEmpty(), h.Name)
	},
	hparams.TestTube: func(h hparams.HParams) base.Logger {
		return testtube.New(h.SaveDir, h.Version)
	},
	hparams.Wandb: func(h hparams.HParams) base.Logger {
		return wandb.New(h.Name, h.SaveDir, ProjectName)
	},
	hparams.Trains: func(h hparams.HParams) base.Logger {
		return trains.New(ProjectName, h.Name)
	},
	hparams.Multiple: func(h hparams.HParams) base.Logger {
		return base.Collection{newTensorBoard(h), newComet(h)}
	},
}

func newTensorBoard(h hparams.HParams) base.Logger {
	return tensorboard.New(h.SaveDir, h.Name, h.Version)
}

func newComet(h hparams.HParams) base.Logger {
	return comet.New(ProjectName, h.APIKey.OrEmpty(), h.SaveDir, h.Name)
}

// New returns the logger named by h.LoggerType. It performs no I/O, so it fails only
// for a logger type outside hparams.LoggerTypes.
func New(h hparams.HParams) (base.Logger, error) {
	f, ok := factories[h.Logger()]
	if !ok {
		return nil, &UnsupportedError{LoggerType: h.Logger()}
	}
	return f(h), nil
}
