// Package testtube writes runs in the test-tube experiment layout:
//
//	<save_dir>/default/version_<v>/meta_tags.csv
//	<save_dir>/default/version_<v>/metrics.csv
//	<save_dir>/default/version_<v>/tf/events.out.tfevents.*
package testtube

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/neurlang/plloggers/internal/ctxlog"
	"github.com/neurlang/plloggers/loggers/base"
	"github.com/neurlang/plloggers/loggers/tensorboard"
)

// DefaultName is the experiment directory name.
const DefaultName = "default"

const (
	MetaTagsFile = "meta_tags.csv"
	MetricsFile  = "metrics.csv"
)

type row struct {
	step      int
	createdAt time.Time
	values    map[string]float64
}

// Logger is the test-tube backend.
type Logger struct {
	saveDir string
	version int

	// Now is the clock of created_at and event wall times.
	Now func() time.Time

	mu      sync.Mutex
	tags    map[string]any
	rows    []row
	columns map[string]struct{}
	events  *tensorboard.EventWriter
	closed  bool
}

var _ base.Logger = (*Logger)(nil)
var _ base.LogDirer = (*Logger)(nil)

// New returns a logger writing under saveDir/default/version_<version>. Nothing is created yet.
func New(saveDir string, version int) *Logger {
	return &Logger{saveDir: saveDir, version: version, Now: time.Now, columns: map[string]struct{}{}}
}

func (l *Logger) SaveDir() string { return l.saveDir }
func (l *Logger) Name() string    { return DefaultName }
func (l *Logger) Version() string { return strconv.Itoa(l.version) }

func (l *Logger) LogDir() string {
	return filepath.Join(l.saveDir, DefaultName, "version_"+strconv.Itoa(l.version))
}

func (l *Logger) LogHyperparams(ctx context.Context, params map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tags == nil {
		l.tags = map[string]any{}
	}
	for k, v := range base.SanitizeParams(base.FlattenParams(params)) {
		l.tags[k] = v
	}
	return nil
}

func (l *Logger) LogMetrics(ctx context.Context, metrics map[string]float64, step int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.Now()

	if l.events == nil {
		w, err := tensorboard.NewEventWriter(filepath.Join(l.LogDir(), "tf"), now)
		if err != nil {
			return err
		}
		ctxlog.FromContext(ctx).Info("test_tube: writing experiment", "dir", l.LogDir())
		l.events = w
	}
	if err := l.events.WriteScalars(now, int64(step), metrics); err != nil {
		return err
	}

	values := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		values[k] = v
		l.columns[k] = struct{}{}
	}
	l.rows = append(l.rows, row{step: step, createdAt: now, values: values})
	return nil
}

// Save rewrites meta_tags.csv and metrics.csv and flushes the events file.
func (l *Logger) Save(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.save()
}

func (l *Logger) save() error {
	if l.tags == nil && l.rows == nil {
		return nil
	}
	if err := os.MkdirAll(l.LogDir(), 0o755); err != nil {
		return err
	}
	if err := l.writeMetaTags(); err != nil {
		return err
	}
	if err := l.writeMetrics(); err != nil {
		return err
	}
	if l.events != nil {
		return l.events.Flush()
	}
	return nil
}

func (l *Logger) writeMetaTags() error {
	records := [][]string{{"key", "value"}}
	for _, k := range base.SortedKeys(l.tags) {
		records = append(records, []string{k, base.FormatValue(l.tags[k])})
	}
	return writeCSV(filepath.Join(l.LogDir(), MetaTagsFile), records)
}

func (l *Logger) writeMetrics() error {
	keys := make([]string, 0, len(l.columns))
	for k := range l.columns {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	header := append(slices.Clone(keys), "step", "created_at")
	records := [][]string{header}
	for _, r := range l.rows {
		rec := make([]string, 0, len(header))
		for _, k := range keys {
			if v, ok := r.values[k]; ok {
				rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
			} else {
				rec = append(rec, "")
			}
		}
		rec = append(rec, strconv.Itoa(r.step), r.createdAt.Format("2006-01-02 15:04:05.000000"))
		records = append(records, rec)
	}
	return writeCSV(filepath.Join(l.LogDir(), MetricsFile), records)
}

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

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
	if l.events != nil {
		return l.events.Close()
	}
	return nil
}
