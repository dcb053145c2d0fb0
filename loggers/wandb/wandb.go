// Package wandb writes offline Weights & Biases runs:
// <save_dir>/wandb/offline-run-<YYYYMMDD_HHMMSS>-<id>/ with config.yaml,
// wandb-history.jsonl, wandb-summary.json and wandb-metadata.json.
package wandb

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neurlang/plloggers/devices"
	"github.com/neurlang/plloggers/internal/ctxlog"
	"github.com/neurlang/plloggers/loggers/base"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFile   = "config.yaml"
	HistoryFile  = "wandb-history.jsonl"
	SummaryFile  = "wandb-summary.json"
	MetadataFile = "wandb-metadata.json"
)

// Logger is the wandb backend.
type Logger struct {
	name    string
	saveDir string
	project string
	id      string

	// Now is the clock of history timestamps and the run directory name.
	Now func() time.Time

	mu      sync.Mutex
	started time.Time
	dir     string
	history *os.File
	config  map[string]any
	summary map[string]any
	closed  bool
}

var _ base.Logger = (*Logger)(nil)
var _ base.LogDirer = (*Logger)(nil)

// New returns an offline wandb logger. Nothing is created until the first record.
func New(name, saveDir, project string) *Logger {
	return &Logger{
		name:    name,
		saveDir: saveDir,
		project: project,
		id:      strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Now:     time.Now,
		summary: map[string]any{},
	}
}

func (l *Logger) Name() string    { return l.name }
func (l *Logger) SaveDir() string { return l.saveDir }
func (l *Logger) Project() string { return l.project }

// Version is the run id.
func (l *Logger) Version() string { return l.id }

// LogDir is the run directory, empty until the run starts.
func (l *Logger) LogDir() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dir
}

type metadata struct {
	Program    string          `json:"program"`
	Project    string          `json:"project"`
	Name       string          `json:"name"`
	RunID      string          `json:"run_id"`
	Host       string          `json:"host"`
	StartedAt  string          `json:"startedAt"`
	Args       []string        `json:"args"`
	CPUCount   int             `json:"cpu_count"`
	CPULogical int             `json:"cpu_count_logical"`
	CPU        devices.CPUInfo `json:"cpu"`
	State      string          `json:"state"`
	ExitedAt   string          `json:"exitedAt,omitempty"`
}

// start creates the run directory and the metadata file. l.mu must be held.
func (l *Logger) start(ctx context.Context) error {
	if l.dir != "" {
		return nil
	}
	l.started = l.Now()
	dir := filepath.Join(l.saveDir, "wandb", "offline-run-"+l.started.Format("20060102_150405")+"-"+l.id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, HistoryFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.dir = dir
	l.history = f
	ctxlog.FromContext(ctx).Info("wandb: offline run", "dir", dir)
	return l.writeMetadata("running", time.Time{})
}

func (l *Logger) writeMetadata(state string, exited time.Time) error {
	host, _ := os.Hostname()
	cpu := devices.CPU()
	meta := metadata{
		Program:    "train_mnist",
		Project:    l.project,
		Name:       l.name,
		RunID:      l.id,
		Host:       host,
		StartedAt:  l.started.UTC().Format(time.RFC3339Nano),
		Args:       os.Args[1:],
		CPUCount:   cpu.PhysicalCores,
		CPULogical: cpu.LogicalCores,
		CPU:        cpu,
		State:      state,
	}
	if !exited.IsZero() {
		meta.ExitedAt = exited.UTC().Format(time.RFC3339Nano)
	}
	return writeJSON(filepath.Join(l.dir, MetadataFile), meta)
}

func (l *Logger) LogHyperparams(ctx context.Context, params map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.start(ctx); err != nil {
		return err
	}
	if l.config == nil {
		l.config = map[string]any{}
	}
	for k, v := range base.SanitizeParams(base.FlattenParams(params)) {
		l.config[k] = v
	}
	return l.writeConfig()
}

type configEntry struct {
	Desc  any `yaml:"desc"`
	Value any `yaml:"value"`
}

func (l *Logger) writeConfig() error {
	doc := map[string]any{"wandb_version": 1}
	for k, v := range l.config {
		doc[k] = configEntry{Value: v}
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(l.dir, ConfigFile), out, 0o644)
}

func (l *Logger) LogMetrics(ctx context.Context, metrics map[string]float64, step int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.start(ctx); err != nil {
		return err
	}
	now := l.Now()
	entry := make(map[string]any, len(metrics)+3)
	for k, v := range metrics {
		entry[k] = v
	}
	entry["_step"] = step
	entry["_runtime"] = now.Sub(l.started).Seconds()
	entry["_timestamp"] = float64(now.UnixNano()) / 1e9

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := l.history.Write(append(line, '\n')); err != nil {
		return err
	}
	for k, v := range entry {
		l.summary[k] = v
	}
	return nil
}

// Save writes the summary of the latest values.
func (l *Logger) Save(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dir == "" {
		return nil
	}
	if err := l.history.Sync(); err != nil {
		return err
	}
	return writeJSON(filepath.Join(l.dir, SummaryFile), l.summary)
}

// Finalize writes the summary and marks the run finished or failed in its metadata.
func (l *Logger) Finalize(ctx context.Context, status base.Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.dir == "" {
		l.closed = true
		return nil
	}
	l.closed = true
	if err := writeJSON(filepath.Join(l.dir, SummaryFile), l.summary); err != nil {
		return err
	}
	state := "finished"
	if status != base.StatusSuccess {
		state = "failed"
	}
	if err := l.writeMetadata(state, l.Now()); err != nil {
		return err
	}
	return l.history.Close()
}

func writeJSON(path string, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
