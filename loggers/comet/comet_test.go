package comet_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/neurlang/plloggers/loggers/base"
	"github.com/neurlang/plloggers/loggers/comet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffline(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	l := comet.New("pl-loggers", "", dir, "simplemnist")
	assert.False(t, l.Online())
	assert.Len(t, l.Version(), 32)
	assert.NoFileExists(t, l.ArchivePath())

	require.NoError(t, l.LogHyperparams(ctx, map[string]any{"batch_size": 32}))
	require.NoError(t, l.LogMetrics(ctx, map[string]float64{"val_acc": 0.5, "val_loss": 1.5}, 10))
	require.NoError(t, l.Save(ctx))
	assert.FileExists(t, l.ArchivePath())
	require.NoError(t, l.Finalize(ctx, base.StatusSuccess))

	zr, err := zip.OpenReader(l.ArchivePath())
	require.NoError(t, err)
	defer zr.Close()

	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = b
	}

	var exp map[string]any
	require.NoError(t, json.Unmarshal(files["experiment.json"], &exp))
	assert.Equal(t, "pl-loggers", exp["projectName"])
	assert.Equal(t, "simplemnist", exp["experimentName"])
	assert.Equal(t, l.Version(), exp["experimentKey"])
	assert.Equal(t, "success", exp["status"])

	var types, names []string
	sc := bufio.NewScanner(bytes.NewReader(files["messages.jsonl"]))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		types = append(types, m["type"].(string))
		names = append(names, m["name"].(string))
	}
	assert.Equal(t, []string{"parameter", "metric", "metric"}, types)
	assert.Equal(t, []string{"batch_size", "val_acc", "val_loss"}, names)
}

func TestOnline(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/write/experiment/create":
			assert.Equal(t, "pl-loggers", body["projectName"])
			assert.Equal(t, "simplemnist", body["experimentName"])
			w.Write([]byte(`{"experimentKey":"abc123","link":"https://comet.invalid/abc123"}`))
		case "/write/experiment/metric":
			assert.Equal(t, "abc123", body["experimentKey"])
			assert.Equal(t, "train_loss", body["metricName"])
			assert.Equal(t, 0.25, body["metricValue"])
			assert.Equal(t, float64(50), body["step"])
			w.Write([]byte(`{}`))
		default:
			assert.Equal(t, "abc123", body["experimentKey"])
			w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	l := comet.New("pl-loggers", "secret", t.TempDir(), "simplemnist")
	l.BaseURL = server.URL
	assert.True(t, l.Online())
	assert.Equal(t, "", l.Version())

	require.NoError(t, l.LogHyperparams(ctx, map[string]any{"lr": 1}))
	require.NoError(t, l.LogMetrics(ctx, map[string]float64{"train_loss": 0.25}, 50))
	require.NoError(t, l.Finalize(ctx, base.StatusFailed))
	assert.Equal(t, "abc123", l.Version())

	assert.Equal(t, []string{
		"/write/experiment/create",
		"/write/experiment/parameter",
		"/write/experiment/metric",
		"/write/experiment/log-other",
	}, paths)
}

func TestOnlineCreateFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	l := comet.New("pl-loggers", "bad", t.TempDir(), "x")
	l.BaseURL = server.URL
	err := l.LogMetrics(context.Background(), map[string]float64{"a": 1}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create experiment")
}
