// Package mlflow logs runs to an MLflow tracking server over its REST 2.0 API, or to a
// local file store (./mlruns by default) when the tracking URI is absent or a file: URI.
package mlflow

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/neurlang/plloggers/internal/ctxlog"
	"github.com/neurlang/plloggers/loggers/base"
)

// DefaultFileStore is the file store used when no tracking URI is given.
const DefaultFileStore = "./mlruns"

// Run states, as named by MLflow.
const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

// Tag keys set on every run.
const (
	TagRunName = "mlflow.runName"
	TagSource  = "mlflow.source.name"
)

// Max entries per log-batch request.
const (
	maxParamsPerBatch  = 100
	maxMetricsPerBatch = 1000
)

type metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type store interface {
	createRun(ctx context.Context, experimentName string, start time.Time, tags []param) (runID string, err error)
	logBatch(ctx context.Context, runID string, metrics []metric, params []param) error
	updateRun(ctx context.Context, runID, status string, end time.Time) error
	close() error
}

// Logger is the MLflow backend.
type Logger struct {
	experimentName string
	trackingURI    string

	// Now is the clock of timestamps.
	Now func() time.Time

	mu     sync.Mutex
	store  store
	runID  string
	closed bool
}

var _ base.Logger = (*Logger)(nil)

// New returns an MLflow logger. trackingURI may be empty.
func New(experimentName, trackingURI string) *Logger {
	return &Logger{experimentName: experimentName, trackingURI: trackingURI, Now: time.Now}
}

func (l *Logger) Name() string        { return l.experimentName }
func (l *Logger) TrackingURI() string { return l.trackingURI }

// Version is the run id, empty until the run is created.
func (l *Logger) Version() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runID
}

// openStore picks the store from the tracking URI.
func openStore(uri string) (store, error) {
	if uri == "" {
		return &fileStore{root: DefaultFileStore}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("mlflow: tracking uri: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return newRESTStore(strings.TrimSuffix(uri, "/")), nil
	case "file":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return &fileStore{root: path}, nil
	case "":
		return &fileStore{root: uri}, nil
	default:
		return nil, fmt.Errorf("mlflow: unsupported tracking uri scheme %q", u.Scheme)
	}
}

// run creates the run on first use. l.mu must be held.
func (l *Logger) run(ctx context.Context) (string, error) {
	if l.runID != "" {
		return l.runID, nil
	}
	if l.store == nil {
		s, err := openStore(l.trackingURI)
		if err != nil {
			return "", err
		}
		l.store = s
	}
	tags := []param{{Key: TagRunName, Value: l.experimentName}, {Key: TagSource, Value: "train_mnist"}}
	id, err := l.store.createRun(ctx, l.experimentName, l.Now(), tags)
	if err != nil {
		return "", err
	}
	l.runID = id
	ctxlog.FromContext(ctx).Info("mlflow: run created", "experiment", l.experimentName, "run_id", id)
	return id, nil
}

func (l *Logger) LogHyperparams(ctx context.Context, params map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, err := l.run(ctx)
	if err != nil {
		return err
	}
	params = base.SanitizeParams(base.FlattenParams(params))
	ps := make([]param, 0, len(params))
	for _, k := range base.SortedKeys(params) {
		ps = append(ps, param{Key: k, Value: base.FormatValue(params[k])})
	}
	for len(ps) > 0 {
		n := min(len(ps), maxParamsPerBatch)
		if err := l.store.logBatch(ctx, id, nil, ps[:n]); err != nil {
			return err
		}
		ps = ps[n:]
	}
	return nil
}

func (l *Logger) LogMetrics(ctx context.Context, metrics map[string]float64, step int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, err := l.run(ctx)
	if err != nil {
		return err
	}
	ts := l.Now().UnixMilli()
	ms := make([]metric, 0, len(metrics))
	for _, k := range base.SortedKeys(metrics) {
		ms = append(ms, metric{Key: k, Value: metrics[k], Timestamp: ts, Step: int64(step)})
	}
	for len(ms) > 0 {
		n := min(len(ms), maxMetricsPerBatch)
		if err := l.store.logBatch(ctx, id, ms[:n], nil); err != nil {
			return err
		}
		ms = ms[n:]
	}
	return nil
}

// Save is a no-op: every record is written when logged.
func (l *Logger) Save(ctx context.Context) error { return nil }

func (l *Logger) Finalize(ctx context.Context, status base.Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.runID == "" {
		l.closed = true
		return nil
	}
	l.closed = true
	defer l.store.close()

	st := StatusFinished
	if status != base.StatusSuccess {
		st = StatusFailed
	}
	return l.store.updateRun(ctx, l.runID, st, l.Now())
}
