// Package tensorboard writes runs in the TensorBoard event file format.
//
// Layout: <save_dir>/<name>/version_<version>/events.out.tfevents.<unix>.<host>, and
// hparams.yaml next to it once hyperparameters are logged and saved.
package tensorboard

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/neurlang/plloggers/internal/ctxlog"
	"github.com/neurlang/plloggers/loggers/base"
	"gopkg.in/yaml.v3"
)

// HparamsFile is the name of the hyperparameter file in the log directory.
const HparamsFile = "hparams.yaml"

// Logger is the TensorBoard backend.
type Logger struct {
	saveDir string
	name    string
	version int

	// Now is the clock used for wall times and the events file name.
	Now func() time.Time

	mu      sync.Mutex
	w       *EventWriter
	hparams map[string]any
	closed  bool
}

var _ base.Logger = (*Logger)(nil)
var _ base.LogDirer = (*Logger)(nil)

// New returns a logger writing under saveDir/name/version_<version>. Nothing is created yet.
func New(saveDir, name string, version int) *Logger {
	return &Logger{saveDir: saveDir, name: name, version: version, Now: time.Now}
}

func (l *Logger) SaveDir() string { return l.saveDir }
func (l *Logger) Name() string    { return l.name }
func (l *Logger) Version() string { return strconv.Itoa(l.version) }

// LogDir is saveDir/name/version_<version>; an empty name is omitted.
func (l *Logger) LogDir() string {
	return filepath.Join(l.saveDir, l.name, "version_"+strconv.Itoa(l.version))
}

func (l *Logger) LogHyperparams(ctx context.Context, params map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hparams == nil {
		l.hparams = map[string]any{}
	}
	for k, v := range base.SanitizeParams(base.FlattenParams(params)) {
		l.hparams[k] = v
	}
	ctxlog.FromContext(ctx).Debug("tensorboard: hyperparameters recorded", "count", len(params))
	return nil
}

func (l *Logger) LogMetrics(ctx context.Context, metrics map[string]float64, step int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, err := l.writer(ctx)
	if err != nil {
		return err
	}
	return w.WriteScalars(l.Now(), int64(step), metrics)
}

// writer opens the events file on first use. l.mu must be held.
func (l *Logger) writer(ctx context.Context) (*EventWriter, error) {
	if l.w != nil {
		return l.w, nil
	}
	w, err := NewEventWriter(l.LogDir(), l.Now())
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("tensorboard: writing events", "path", w.Path())
	l.w = w
	return w, nil
}

func (l *Logger) Save(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.save()
}

func (l *Logger) save() error {
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			return err
		}
	}
	if l.hparams == nil {
		return nil
	}
	if err := os.MkdirAll(l.LogDir(), 0o755); err != nil {
		return err
	}
	out, err := yaml.Marshal(l.hparams)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(l.LogDir(), HparamsFile), out, 0o644)
}

// Finalize saves and closes the events file. Later calls are no-ops.
func (l *Logger) Finalize(ctx context.Context, status base.Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.save(); err != nil {
		return err
	}
	if l.w == nil {
		return nil
	}
	ctxlog.FromContext(ctx).Debug("tensorboard: closed", "status", status)
	return l.w.Close()
}
