package trains_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neurlang/plloggers/loggers/base"
	"github.com/neurlang/plloggers/loggers/trains"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	t        *testing.T
	projects []map[string]any
	calls    []string
	bodies   map[string]any
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Path[1:]
	f.calls = append(f.calls, endpoint)

	var body any
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	f.bodies[endpoint] = body

	w.Header().Set("Content-Type", "application/json")
	var data any = map[string]any{}
	switch endpoint {
	case "projects.get_all":
		data = map[string]any{"projects": f.projects}
	case "projects.create":
		data = map[string]any{"id": "p-new"}
	case "tasks.create":
		data = map[string]any{"id": "t-1"}
	}
	json.NewEncoder(w).Encode(map[string]any{"meta": map[string]any{"result_code": 200}, "data": data})
}

func TestLogger(t *testing.T) {
	ctx := context.Background()
	fake := &fakeServer{t: t, bodies: map[string]any{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	l := trains.New("pl-loggers", "simplemnist")
	assert.Equal(t, trains.DefaultBaseURL, l.BaseURL)
	l.BaseURL = server.URL

	require.NoError(t, l.LogHyperparams(ctx, map[string]any{"batch_size": 32}))
	require.NoError(t, l.LogMetrics(ctx, map[string]float64{"val/acc": 0.5, "train_loss": 1}, 9))
	require.NoError(t, l.Save(ctx))
	require.NoError(t, l.Finalize(ctx, base.StatusSuccess))

	assert.Equal(t, "t-1", l.Version())
	assert.Equal(t, []string{
		"projects.get_all",
		"projects.create",
		"tasks.create",
		"tasks.started",
		"tasks.edit_hyper_params",
		"events.add_batch",
		"tasks.completed",
	}, fake.calls)

	assert.Equal(t, "^pl-loggers$", fake.bodies["projects.get_all"].(map[string]any)["name"])
	create := fake.bodies["tasks.create"].(map[string]any)
	assert.Equal(t, "simplemnist", create["name"])
	assert.Equal(t, "p-new", create["project"])

	events := fake.bodies["events.add_batch"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.Equal(t, "train_loss", first["metric"])
	assert.Equal(t, "train_loss", first["variant"])
	second := events[1].(map[string]any)
	assert.Equal(t, "val", second["metric"])
	assert.Equal(t, "acc", second["variant"])
	assert.Equal(t, float64(9), second["iter"])
	assert.Equal(t, "t-1", second["task"])
}

func TestExistingProjectAndFailure(t *testing.T) {
	ctx := context.Background()
	fake := &fakeServer{
		t:        t,
		bodies:   map[string]any{},
		projects: []map[string]any{{"id": "p-old", "name": "pl-loggers"}},
	}
	server := httptest.NewServer(fake)
	defer server.Close()

	l := trains.New("pl-loggers", "simplemnist")
	l.BaseURL = server.URL
	require.NoError(t, l.LogMetrics(ctx, map[string]float64{"a": 1}, 0))
	require.NoError(t, l.Finalize(ctx, base.StatusFailed))

	assert.NotContains(t, fake.calls, "projects.create")
	assert.Equal(t, "p-old", fake.bodies["tasks.create"].(map[string]any)["project"])
	assert.Equal(t, "tasks.failed", fake.calls[len(fake.calls)-1])
}

func TestServerDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	l := trains.New("pl-loggers", "x")
	l.BaseURL = server.URL
	err := l.LogMetrics(context.Background(), map[string]float64{"a": 1}, 0)
	assert.ErrorContains(t, err, "projects.get_all")
	assert.NoError(t, l.Finalize(context.Background(), base.StatusFailed))
}
