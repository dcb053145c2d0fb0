// Package trains logs runs to a Trains (ClearML) API server.
package trains

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/neurlang/plloggers/internal/ctxlog"
	"github.com/neurlang/plloggers/loggers/base"
	"github.com/neurlang/plloggers/loggers/rest"
)

// DefaultBaseURL is the API server of a local Trains deployment.
const DefaultBaseURL = "http://localhost:8008"

// HyperparamsSection groups hyperparameters in the task's configuration.
const HyperparamsSection = "General"

// Logger is the Trains backend.
type Logger struct {
	projectName string
	taskName    string

	// BaseURL of the API server.
	BaseURL string
	// Now is the clock of event timestamps.
	Now func() time.Time

	mu     sync.Mutex
	client *rest.Client
	taskID string
	closed bool
}

var _ base.Logger = (*Logger)(nil)

// New returns a Trains logger. The task is created on the first record.
func New(projectName, taskName string) *Logger {
	return &Logger{projectName: projectName, taskName: taskName, BaseURL: DefaultBaseURL, Now: time.Now}
}

func (l *Logger) ProjectName() string { return l.projectName }
func (l *Logger) Name() string        { return l.taskName }

// Version is the task id, empty until the task is created.
func (l *Logger) Version() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.taskID
}

// envelope is the response shape of every API call. Data points at the caller's result.
type envelope struct {
	Data any `json:"data"`
}

func (l *Logger) call(ctx context.Context, endpoint string, body any, data any) error {
	var result any
	if data != nil {
		result = &envelope{Data: data}
	}
	if err := l.client.Post(ctx, "/"+endpoint, body, result); err != nil {
		return fmt.Errorf("trains: %s: %w", endpoint, err)
	}
	return nil
}

func (l *Logger) projectID(ctx context.Context) (string, error) {
	var found struct {
		Projects []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"projects"`
	}
	err := l.call(ctx, "projects.get_all", map[string]any{
		"name":        "^" + regexp.QuoteMeta(l.projectName) + "$",
		"only_fields": []string{"id", "name"},
	}, &found)
	if err != nil {
		return "", err
	}
	for _, p := range found.Projects {
		if p.Name == l.projectName {
			return p.ID, nil
		}
	}

	var created struct {
		ID string `json:"id"`
	}
	err = l.call(ctx, "projects.create", map[string]any{
		"name":        l.projectName,
		"description": "created by train_mnist",
	}, &created)
	return created.ID, err
}

// task creates and starts the task on first use. l.mu must be held.
func (l *Logger) task(ctx context.Context) (string, error) {
	if l.taskID != "" {
		return l.taskID, nil
	}
	if l.client == nil {
		l.client = rest.New(strings.TrimSuffix(l.BaseURL, "/"))
	}
	project, err := l.projectID(ctx)
	if err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	err = l.call(ctx, "tasks.create", map[string]any{
		"name":    l.taskName,
		"project": project,
		"type":    "training",
	}, &created)
	if err != nil {
		return "", err
	}
	if err := l.call(ctx, "tasks.started", map[string]any{"task": created.ID}, nil); err != nil {
		return "", err
	}
	l.taskID = created.ID
	ctxlog.FromContext(ctx).Info("trains: task started", "project", l.projectName, "task_id", created.ID)
	return created.ID, nil
}

type hyperparam struct {
	Section string `json:"section"`
	Name    string `json:"name"`
	Value   string `json:"value"`
}

func (l *Logger) LogHyperparams(ctx context.Context, params map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, err := l.task(ctx)
	if err != nil {
		return err
	}
	params = base.SanitizeParams(base.FlattenParams(params))
	hps := make([]hyperparam, 0, len(params))
	for _, k := range base.SortedKeys(params) {
		hps = append(hps, hyperparam{Section: HyperparamsSection, Name: k, Value: base.FormatValue(params[k])})
	}
	return l.call(ctx, "tasks.edit_hyper_params", map[string]any{"task": id, "hyperparams": hps}, nil)
}

type scalarEvent struct {
	Task      string  `json:"task"`
	Type      string  `json:"type"`
	Timestamp int64   `json:"timestamp"`
	Iter      int     `json:"iter"`
	Metric    string  `json:"metric"`
	Variant   string  `json:"variant"`
	Value     float64 `json:"value"`
}

// LogMetrics reports each metric as a scalar. "title/series" keys are split into metric
// and variant; other keys use the key for both.
func (l *Logger) LogMetrics(ctx context.Context, metrics map[string]float64, step int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, err := l.task(ctx)
	if err != nil {
		return err
	}
	ts := l.Now().UnixMilli()
	events := make([]scalarEvent, 0, len(metrics))
	for _, k := range base.SortedKeys(metrics) {
		title, series, ok := strings.Cut(k, "/")
		if !ok {
			series = k
		}
		events = append(events, scalarEvent{
			Task:      id,
			Type:      "training_stats_scalar",
			Timestamp: ts,
			Iter:      step,
			Metric:    title,
			Variant:   series,
			Value:     metrics[k],
		})
	}
	return l.call(ctx, "events.add_batch", events, nil)
}

// Save is a no-op: events are sent when logged.
func (l *Logger) Save(ctx context.Context) error { return nil }

func (l *Logger) Finalize(ctx context.Context, status base.Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.taskID == "" {
		l.closed = true
		return nil
	}
	l.closed = true
	defer l.client.Close()

	if status == base.StatusSuccess {
		return l.call(ctx, "tasks.completed", map[string]any{"task": l.taskID}, nil)
	}
	return l.call(ctx, "tasks.failed", map[string]any{"task": l.taskID, "status_reason": "training failed"}, nil)
}
