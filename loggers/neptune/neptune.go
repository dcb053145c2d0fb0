// Package neptune logs runs to Neptune. With an API key, attribute operations are sent to
// the leaderboard REST API; without one they are appended to an offline directory
// .neptune/offline/<project>/<run>/ that can be synced later.
package neptune

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neurlang/plloggers/internal/ctxlog"
	"github.com/neurlang/plloggers/loggers/base"
	"github.com/neurlang/plloggers/loggers/rest"
)

const (
	// DefaultBaseURL is the Neptune API host.
	DefaultBaseURL = "https://app.neptune.ai"
	// DefaultOfflineRoot holds offline runs.
	DefaultOfflineRoot = ".neptune"
)

// ErrNoProject is returned when logging online without a project.
var ErrNoProject = errors.New("neptune: project name is required in online mode")

// Logger is the Neptune backend.
type Logger struct {
	apiKey      string
	projectName string

	// BaseURL of the API, used in online mode.
	BaseURL string
	// OfflineRoot is the directory offline runs are written under.
	OfflineRoot string
	// Now is the clock of metric timestamps.
	Now func() time.Time

	mu      sync.Mutex
	client  *rest.Client
	runID   string
	offline *os.File
	closed  bool
}

var _ base.Logger = (*Logger)(nil)

// New returns a Neptune logger. An empty apiKey selects offline mode.
func New(apiKey, projectName string) *Logger {
	return &Logger{
		apiKey:      apiKey,
		projectName: projectName,
		BaseURL:     DefaultBaseURL,
		OfflineRoot: DefaultOfflineRoot,
		Now:         time.Now,
	}
}

func (l *Logger) APIKey() string      { return l.apiKey }
func (l *Logger) ProjectName() string { return l.projectName }
func (l *Logger) Name() string        { return l.projectName }
func (l *Logger) Online() bool        { return l.apiKey != "" }

// Version is the run id, empty until the run is created.
func (l *Logger) Version() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runID
}

// OfflineDir is the offline run directory, empty until the run is created.
func (l *Logger) OfflineDir() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Online() || l.runID == "" {
		return ""
	}
	return l.offlineDir()
}

func (l *Logger) offlineDir() string {
	project := l.projectName
	if project == "" {
		project = "default"
	}
	return filepath.Join(l.OfflineRoot, "offline", strings.ReplaceAll(project, "/", "__"), l.runID)
}

// Operation is one attribute update.
type Operation struct {
	Path         string            `json:"path"`
	AssignString *valueOf[string]  `json:"assignString,omitempty"`
	AssignFloat  *valueOf[float64] `json:"assignFloat,omitempty"`
	AssignBool   *valueOf[bool]    `json:"assignBool,omitempty"`
	LogFloats    *logFloats        `json:"logFloats,omitempty"`
}

type valueOf[T any] struct {
	Value T `json:"value"`
}

type logFloats struct {
	Entries []floatEntry `json:"entries"`
}

type floatEntry struct {
	Value       float64 `json:"value"`
	Step        float64 `json:"step"`
	TimestampMs int64   `json:"timestampMilliseconds"`
}

func paramOperation(key string, v any) Operation {
	op := Operation{Path: "parameters/" + key}
	switch x := v.(type) {
	case bool:
		op.AssignBool = &valueOf[bool]{x}
	case int:
		op.AssignFloat = &valueOf[float64]{float64(x)}
	case int64:
		op.AssignFloat = &valueOf[float64]{float64(x)}
	case float64:
		op.AssignFloat = &valueOf[float64]{x}
	default:
		op.AssignString = &valueOf[string]{base.FormatValue(v)}
	}
	return op
}

func (l *Logger) LogHyperparams(ctx context.Context, params map[string]any) error {
	params = base.SanitizeParams(base.FlattenParams(params))
	ops := make([]Operation, 0, len(params))
	for _, k := range base.SortedKeys(params) {
		ops = append(ops, paramOperation(k, params[k]))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.execute(ctx, ops)
}

func (l *Logger) LogMetrics(ctx context.Context, metrics map[string]float64, step int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.Now().UnixMilli()
	ops := make([]Operation, 0, len(metrics))
	for _, k := range base.SortedKeys(metrics) {
		ops = append(ops, Operation{
			Path:      "metrics/" + k,
			LogFloats: &logFloats{Entries: []floatEntry{{Value: metrics[k], Step: float64(step), TimestampMs: ts}}},
		})
	}
	return l.execute(ctx, ops)
}

// execute sends or appends ops. l.mu must be held.
func (l *Logger) execute(ctx context.Context, ops []Operation) error {
	if err := l.ensureRun(ctx); err != nil {
		return err
	}
	if !l.Online() {
		enc := json.NewEncoder(l.offline)
		for _, op := range ops {
			if err := enc.Encode(op); err != nil {
				return err
			}
		}
		return nil
	}
	err := l.client.Post(ctx, "/api/leaderboard/v1/attributes/operations?experimentId="+l.runID, ops, nil)
	if err != nil {
		return fmt.Errorf("neptune: execute operations: %w", err)
	}
	return nil
}

type runInfo struct {
	ID        string `json:"id"`
	Project   string `json:"project"`
	CreatedMs int64  `json:"createdMilliseconds"`
}

func (l *Logger) ensureRun(ctx context.Context) error {
	if l.runID != "" {
		return nil
	}
	if !l.Online() {
		l.runID = uuid.NewString()
		dir := l.offlineDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		info, err := json.Marshal(runInfo{ID: l.runID, Project: l.projectName, CreatedMs: l.Now().UnixMilli()})
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "run.json"), info, 0o644); err != nil {
			return err
		}
		f, err := os.OpenFile(filepath.Join(dir, "operations.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		l.offline = f
		ctxlog.FromContext(ctx).Info("neptune: logging offline", "dir", dir)
		return nil
	}

	if l.projectName == "" {
		return ErrNoProject
	}
	if l.client == nil {
		l.client = rest.New(l.BaseURL, rest.WithBearer(l.apiKey))
	}
	var created struct {
		ID      string `json:"id"`
		ShortID string `json:"shortId"`
	}
	err := l.client.Post(ctx, "/api/leaderboard/v1/experiments", map[string]any{
		"projectIdentifier": l.projectName,
		"type":              "run",
	}, &created)
	if err != nil {
		return fmt.Errorf("neptune: create run: %w", err)
	}
	l.runID = created.ID
	ctxlog.FromContext(ctx).Info("neptune: run created", "id", created.ID, "short_id", created.ShortID)
	return nil
}

func (l *Logger) Save(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline != nil {
		return l.offline.Sync()
	}
	return nil
}

// Finalize records sys/failed and closes the run.
func (l *Logger) Finalize(ctx context.Context, status base.Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.runID == "" {
		l.closed = true
		return nil
	}
	l.closed = true

	err := l.execute(ctx, []Operation{{
		Path:       "sys/failed",
		AssignBool: &valueOf[bool]{status != base.StatusSuccess},
	}})
	if l.offline != nil {
		return errors.Join(err, l.offline.Close())
	}
	return errors.Join(err, l.client.Close())
}
