package mlflow

import (
	"context"
	"fmt"
	"time"

	"github.com/neurlang/plloggers/loggers/rest"
)

const apiPrefix = "/api/2.0/mlflow"

type restStore struct {
	client *rest.Client
}

func newRESTStore(baseURL string) *restStore {
	return &restStore{client: rest.New(baseURL)}
}

func (s *restStore) experimentID(ctx context.Context, name string) (string, error) {
	var got struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	err := s.client.Get(ctx, apiPrefix+"/experiments/get-by-name", map[string]string{"experiment_name": name}, &got)
	if err == nil {
		return got.Experiment.ExperimentID, nil
	}
	if !rest.IsNotFound(err) {
		return "", fmt.Errorf("mlflow: get experiment %q: %w", name, err)
	}

	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := s.client.Post(ctx, apiPrefix+"/experiments/create", map[string]any{"name": name}, &created); err != nil {
		return "", fmt.Errorf("mlflow: create experiment %q: %w", name, err)
	}
	return created.ExperimentID, nil
}

func (s *restStore) createRun(ctx context.Context, experimentName string, start time.Time, tags []param) (string, error) {
	expID, err := s.experimentID(ctx, experimentName)
	if err != nil {
		return "", err
	}
	var created struct {
		Run struct {
			Info struct {
				RunID string `json:"run_id"`
			} `json:"info"`
		} `json:"run"`
	}
	err = s.client.Post(ctx, apiPrefix+"/runs/create", map[string]any{
		"experiment_id": expID,
		"start_time":    start.UnixMilli(),
		"tags":          tags,
	}, &created)
	if err != nil {
		return "", fmt.Errorf("mlflow: create run: %w", err)
	}
	return created.Run.Info.RunID, nil
}

func (s *restStore) logBatch(ctx context.Context, runID string, metrics []metric, params []param) error {
	body := map[string]any{"run_id": runID}
	if len(metrics) > 0 {
		body["metrics"] = metrics
	}
	if len(params) > 0 {
		body["params"] = params
	}
	if err := s.client.Post(ctx, apiPrefix+"/runs/log-batch", body, nil); err != nil {
		return fmt.Errorf("mlflow: log batch: %w", err)
	}
	return nil
}

func (s *restStore) updateRun(ctx context.Context, runID, status string, end time.Time) error {
	err := s.client.Post(ctx, apiPrefix+"/runs/update", map[string]any{
		"run_id":   runID,
		"status":   status,
		"end_time": end.UnixMilli(),
	}, nil)
	if err != nil {
		return fmt.Errorf("mlflow: update run: %w", err)
	}
	return nil
}

func (s *restStore) close() error {
	return s.client.Close()
}
