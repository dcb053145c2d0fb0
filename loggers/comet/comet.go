// Package comet logs runs to Comet. With an API key it talks to the REST v2 write API,
// without one it writes an offline archive <save_dir>/<experiment-key>.zip.
package comet

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/neurlang/plloggers/internal/ctxlog"
	"github.com/neurlang/plloggers/loggers/base"
	"github.com/neurlang/plloggers/loggers/rest"
)

// DefaultBaseURL is the Comet REST v2 endpoint.
const DefaultBaseURL = "https://www.comet.com/api/rest/v2"

// Logger is the Comet backend.
type Logger struct {
	projectName    string
	apiKey         string
	saveDir        string
	experimentName string

	// BaseURL of the REST API, used in online mode.
	BaseURL string
	// Now is the clock of metric timestamps.
	Now func() time.Time

	mu       sync.Mutex
	key      string
	client   *rest.Client
	created  bool
	started  time.Time
	messages []message
	closed   bool
}

var _ base.Logger = (*Logger)(nil)

// New returns a Comet logger. An empty apiKey selects offline mode.
func New(projectName, apiKey, saveDir, experimentName string) *Logger {
	l := &Logger{
		projectName:    projectName,
		apiKey:         apiKey,
		saveDir:        saveDir,
		experimentName: experimentName,
		BaseURL:        DefaultBaseURL,
		Now:            time.Now,
	}
	if !l.Online() {
		l.key = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return l
}

func (l *Logger) ProjectName() string { return l.projectName }
func (l *Logger) APIKey() string      { return l.apiKey }
func (l *Logger) SaveDir() string     { return l.saveDir }
func (l *Logger) Name() string        { return l.experimentName }

// Online reports whether the logger talks to the REST API.
func (l *Logger) Online() bool { return l.apiKey != "" }

// Version is the experiment key. In online mode it is empty until the experiment is created.
func (l *Logger) Version() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.key
}

// ArchivePath is the offline archive location.
func (l *Logger) ArchivePath() string {
	return filepath.Join(l.saveDir, l.key+".zip")
}

type message struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Value     any    `json:"value"`
	Step      *int   `json:"step,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (l *Logger) LogHyperparams(ctx context.Context, params map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	params = base.SanitizeParams(base.FlattenParams(params))
	now := l.Now().UnixMilli()
	for _, k := range base.SortedKeys(params) {
		if err := l.send(ctx, message{Type: "parameter", Name: k, Value: params[k], Timestamp: now}); err != nil {
			return err
		}
	}
	return nil
}

func (l *Logger) LogMetrics(ctx context.Context, metrics map[string]float64, step int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.Now().UnixMilli()
	for _, k := range base.SortedKeys(metrics) {
		if err := l.send(ctx, message{Type: "metric", Name: k, Value: metrics[k], Step: &step, Timestamp: now}); err != nil {
			return err
		}
	}
	return nil
}

// send posts m online or buffers it offline. l.mu must be held.
func (l *Logger) send(ctx context.Context, m message) error {
	if l.started.IsZero() {
		l.started = l.Now()
	}
	if !l.Online() {
		l.messages = append(l.messages, m)
		return nil
	}
	if err := l.ensureExperiment(ctx); err != nil {
		return err
	}
	switch m.Type {
	case "parameter":
		return l.client.Post(ctx, "/write/experiment/parameter", map[string]any{
			"experimentKey":  l.key,
			"parameterName":  m.Name,
			"parameterValue": base.FormatValue(m.Value),
		}, nil)
	case "metric":
		return l.client.Post(ctx, "/write/experiment/metric", map[string]any{
			"experimentKey": l.key,
			"metricName":    m.Name,
			"metricValue":   m.Value,
			"step":          *m.Step,
			"timestamp":     m.Timestamp,
		}, nil)
	default:
		return l.client.Post(ctx, "/write/experiment/log-other", map[string]any{
			"experimentKey": l.key,
			"key":           m.Name,
			"value":         base.FormatValue(m.Value),
		}, nil)
	}
}

func (l *Logger) ensureExperiment(ctx context.Context) error {
	if l.created {
		return nil
	}
	if l.client == nil {
		l.client = rest.New(l.BaseURL, rest.WithHeader("Authorization", l.apiKey))
	}
	var created struct {
		ExperimentKey string `json:"experimentKey"`
		Link          string `json:"link"`
	}
	err := l.client.Post(ctx, "/write/experiment/create", map[string]any{
		"projectName":    l.projectName,
		"experimentName": l.experimentName,
	}, &created)
	if err != nil {
		return fmt.Errorf("comet: create experiment: %w", err)
	}
	l.key = created.ExperimentKey
	l.created = true
	ctxlog.FromContext(ctx).Info("comet: experiment created", "key", l.key, "link", created.Link)
	return nil
}

// Save rewrites the offline archive. Online messages are already sent.
func (l *Logger) Save(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Online() {
		return nil
	}
	return l.writeArchive("")
}

func (l *Logger) Finalize(ctx context.Context, status base.Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	if !l.Online() {
		if err := l.writeArchive(status); err != nil {
			return err
		}
		ctxlog.FromContext(ctx).Info("comet: offline experiment archived", "path", l.ArchivePath())
		return nil
	}
	if !l.created {
		return nil
	}
	defer l.client.Close()
	return l.send(ctx, message{Type: "other", Name: "status", Value: string(status)})
}

type experiment struct {
	ExperimentKey  string `json:"experimentKey"`
	ProjectName    string `json:"projectName"`
	ExperimentName string `json:"experimentName"`
	StartTimeMs    int64  `json:"startTimeMillis"`
	EndTimeMs      int64  `json:"endTimeMillis,omitempty"`
	Status         string `json:"status,omitempty"`
}

// writeArchive writes experiment.json and messages.jsonl through a temporary file. l.mu must be held.
func (l *Logger) writeArchive(status base.Status) error {
	if l.started.IsZero() && status == "" {
		return nil
	}
	if l.started.IsZero() {
		l.started = l.Now()
	}
	if err := os.MkdirAll(l.saveDir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(l.saveDir, ".comet-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	exp := experiment{
		ExperimentKey:  l.key,
		ProjectName:    l.projectName,
		ExperimentName: l.experimentName,
		StartTimeMs:    l.started.UnixMilli(),
	}
	if status != "" {
		exp.EndTimeMs = l.Now().UnixMilli()
		exp.Status = string(status)
	}

	zw := zip.NewWriter(tmp)
	if err := writeJSON(zw, "experiment.json", func(enc *json.Encoder) error { return enc.Encode(exp) }); err != nil {
		tmp.Close()
		return err
	}
	err = writeJSON(zw, "messages.jsonl", func(enc *json.Encoder) error {
		for _, m := range l.messages {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tmp.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), l.ArchivePath())
}

func writeJSON(zw *zip.Writer, name string, f func(*json.Encoder) error) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	return f(json.NewEncoder(w))
}
