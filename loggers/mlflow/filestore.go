package mlflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Run status codes stored in a file store run's meta.yaml.
var statusCodes = map[string]int{
	StatusRunning:  1,
	StatusFinished: 3,
	StatusFailed:   4,
}

type experimentMeta struct {
	ArtifactLocation string `yaml:"artifact_location"`
	ExperimentID     string `yaml:"experiment_id"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	Name             string `yaml:"name"`
	CreationTime     int64  `yaml:"creation_time"`
}

type runMeta struct {
	ArtifactURI    string `yaml:"artifact_uri"`
	EndTime        *int64 `yaml:"end_time"`
	EntryPointName string `yaml:"entry_point_name"`
	ExperimentID   string `yaml:"experiment_id"`
	LifecycleStage string `yaml:"lifecycle_stage"`
	RunID          string `yaml:"run_id"`
	RunName        string `yaml:"run_name"`
	RunUUID        string `yaml:"run_uuid"`
	SourceType     int    `yaml:"source_type"`
	StartTime      int64  `yaml:"start_time"`
	Status         int    `yaml:"status"`
	UserID         string `yaml:"user_id"`
}

// fileStore writes the mlruns directory layout.
type fileStore struct {
	root string
	// runDir of the created run
	runDir string
}

func (s *fileStore) experimentDir(name string, now time.Time) (id string, dir string, err error) {
	entries, err := os.ReadDir(s.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", "", err
	}
	next := 1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.root, e.Name(), "meta.yaml"))
		if err != nil {
			continue
		}
		var meta experimentMeta
		if err := yaml.Unmarshal(raw, &meta); err != nil {
			continue
		}
		if meta.Name == name && meta.LifecycleStage == "active" {
			return meta.ExperimentID, filepath.Join(s.root, e.Name()), nil
		}
		if n, err := strconv.Atoi(e.Name()); err == nil && n >= next {
			next = n + 1
		}
	}

	id = strconv.Itoa(next)
	dir = filepath.Join(s.root, id)
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", "", err
	}
	meta := experimentMeta{
		ArtifactLocation: "file://" + filepath.ToSlash(abs),
		ExperimentID:     id,
		LifecycleStage:   "active",
		Name:             name,
		CreationTime:     now.UnixMilli(),
	}
	if err := writeYAML(filepath.Join(dir, "meta.yaml"), meta); err != nil {
		return "", "", err
	}
	return id, dir, nil
}

func (s *fileStore) createRun(_ context.Context, experimentName string, start time.Time, tags []param) (string, error) {
	expID, expDir, err := s.experimentDir(experimentName, start)
	if err != nil {
		return "", fmt.Errorf("mlflow: experiment %q: %w", experimentName, err)
	}
	runID := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.runDir = filepath.Join(expDir, runID)

	abs, err := filepath.Abs(filepath.Join(s.runDir, "artifacts"))
	if err != nil {
		return "", err
	}
	meta := runMeta{
		ArtifactURI:    "file://" + filepath.ToSlash(abs),
		ExperimentID:   expID,
		LifecycleStage: "active",
		RunID:          runID,
		RunName:        experimentName,
		RunUUID:        runID,
		SourceType:     4,
		StartTime:      start.UnixMilli(),
		Status:         statusCodes[StatusRunning],
		UserID:         currentUser(),
	}
	if err := writeYAML(filepath.Join(s.runDir, "meta.yaml"), meta); err != nil {
		return "", err
	}
	for _, dir := range []string{"metrics", "params", "tags", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(s.runDir, dir), 0o755); err != nil {
			return "", err
		}
	}
	for _, t := range tags {
		if err := writeKey(s.runDir, "tags", t.Key, []byte(t.Value), false); err != nil {
			return "", err
		}
	}
	return runID, nil
}

func (s *fileStore) logBatch(_ context.Context, _ string, metrics []metric, params []param) error {
	for _, p := range params {
		if err := writeKey(s.runDir, "params", p.Key, []byte(p.Value), false); err != nil {
			return err
		}
	}
	for _, m := range metrics {
		line := fmt.Sprintf("%d %s %d\n", m.Timestamp, strconv.FormatFloat(m.Value, 'g', -1, 64), m.Step)
		if err := writeKey(s.runDir, "metrics", m.Key, []byte(line), true); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) updateRun(_ context.Context, _ string, status string, end time.Time) error {
	path := filepath.Join(s.runDir, "meta.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var meta runMeta
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return err
	}
	endMs := end.UnixMilli()
	meta.EndTime = &endMs
	meta.Status = statusCodes[status]
	return writeYAML(path, meta)
}

func (s *fileStore) close() error { return nil }

// writeKey writes one metric, param or tag file. Keys containing "/" become subdirectories.
func writeKey(runDir, kind, key string, data []byte, appendTo bool) error {
	path := filepath.Join(runDir, kind, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Join(runDir, kind)+string(filepath.Separator)) {
		return fmt.Errorf("mlflow: invalid %s key %q", kind, key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if !appendTo {
		return os.WriteFile(path, data, 0o644)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
