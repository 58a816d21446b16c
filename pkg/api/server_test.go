package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisproc/trellis/pkg/client"
	"github.com/trellisproc/trellis/pkg/engine"
	"github.com/trellisproc/trellis/pkg/owsproxy"
	"github.com/trellisproc/trellis/pkg/pack"
	"github.com/trellisproc/trellis/pkg/provider"
	"github.com/trellisproc/trellis/pkg/runtime"
	"github.com/trellisproc/trellis/pkg/staging"
	"github.com/trellisproc/trellis/pkg/status"
	"github.com/trellisproc/trellis/pkg/storage"
	"github.com/trellisproc/trellis/pkg/workspace"
	"github.com/trellisproc/trellis/pkg/wps"
)

const testBase = "http://trellis.example"

// stubRunner stands in for containerd; onRun can drop files into the
// workdir the way a real tool would.
type stubRunner struct {
	onRun func(spec runtime.Spec)
}

func (r *stubRunner) Run(ctx context.Context, spec runtime.Spec) (*runtime.Result, error) {
	if r.onRun != nil {
		r.onRun(spec)
	}
	return &runtime.Result{ExitCode: 0}, nil
}

func (r *stubRunner) Close() error { return nil }

type testServer struct {
	server    *Server
	store     storage.Store
	engine    *engine.Engine
	runner    *stubRunner
	http      *httptest.Server
	outputDir string
}

func newTestServer(t *testing.T, mutate func(cfg *Config)) *testServer {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	outputDir := t.TempDir()
	writer := status.NewWriter(outputDir, testBase+"/wpsoutputs", testBase+"/ows/wps")

	spaces, err := workspace.NewLocalDriver(filepath.Join(t.TempDir(), "work"))
	require.NoError(t, err)

	runner := &stubRunner{}
	eng, err := engine.New(engine.Config{
		Store:        store,
		Loader:       pack.NewLoader(nil),
		Stager:       staging.NewStager(outputDir, testBase+"/wpsoutputs", nil, nil),
		Status:       writer,
		Workspaces:   spaces,
		Runner:       runner,
		OutputDir:    outputDir,
		Workers:      2,
		JobTimeout:   30 * time.Second,
		ScheduleTick: 10 * time.Millisecond,
		JanitorTick:  time.Hour,
	})
	require.NoError(t, err)

	cache := wps.NewClientCache(nil)
	cfg := Config{
		Engine:      eng,
		Store:       store,
		Providers:   provider.NewRegistry(store, cache),
		Proxy:       owsproxy.New(store, nil),
		Loader:      pack.NewLoader(nil),
		Clients:     cache,
		Status:      writer,
		BaseURL:     testBase,
		OutputDir:   outputDir,
		Title:       "Trellis test instance",
		Provider:    "Trellis",
		Version:     "0.0.0-test",
		SyncTimeout: 10 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	server, err := NewServer(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testServer{
		server:    server,
		store:     store,
		engine:    eng,
		runner:    runner,
		http:      ts,
		outputDir: outputDir,
	}
}

// start launches the engine loops, for tests that need jobs to run
func (env *testServer) start(t *testing.T) {
	t.Helper()
	env.engine.Start()
	t.Cleanup(env.engine.Stop)
}

func (env *testServer) url(path string) string {
	return env.http.URL + path
}

func doJSON(t *testing.T, method, url string, payload interface{}) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func decode(t *testing.T, raw []byte, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, target), "body: %s", raw)
}

// catPackage is a minimal containerized tool: copy the input file to
// stdout.log
func catPackage() map[string]interface{} {
	return map[string]interface{}{
		"cwlVersion":  "v1.0",
		"class":       "CommandLineTool",
		"baseCommand": "cat",
		"requirements": []interface{}{
			map[string]interface{}{"class": "DockerRequirement", "dockerPull": "debian:stretch-slim"},
		},
		"inputs": []interface{}{
			map[string]interface{}{"id": "file", "type": "File",
				"inputBinding": map[string]interface{}{"position": 1}},
		},
		"outputs": []interface{}{
			map[string]interface{}{"id": "output", "type": "File",
				"outputBinding": map[string]interface{}{"glob": "stdout.log"}},
		},
	}
}

func deployBody(id string) client.DeployPayload {
	return client.DeployPayload{
		ProcessDescription: map[string]interface{}{
			"process": map[string]interface{}{
				"id":       id,
				"title":    "Echo file",
				"abstract": "Copies its input to the output",
			},
		},
		ExecutionUnit:         []client.ExecutionUnit{{Unit: catPackage()}},
		DeploymentProfileName: engine.DeploymentProfileDocker,
	}
}

func deployEcho(t *testing.T, env *testServer, id string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, env.url("/processes"), deployBody(id))
	require.Equal(t, http.StatusCreated, resp.StatusCode, "deploy: %s", body)
}

// fileServer serves one small input payload over HTTP
func fileServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, content)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLandingPage(t *testing.T) {
	env := newTestServer(t, nil)

	resp, body := doJSON(t, http.MethodGet, env.url("/"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var landing struct {
		Title string `json:"title"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	decode(t, body, &landing)
	assert.Equal(t, "Trellis test instance", landing.Title)

	rels := make(map[string]string)
	for _, link := range landing.Links {
		rels[link.Rel] = link.Href
	}
	assert.Equal(t, testBase+"/processes", rels["processes"])
	assert.Equal(t, testBase+"/ows/wps", rels["wps"])
}

func TestConformance(t *testing.T) {
	env := newTestServer(t, nil)

	resp, body := doJSON(t, http.MethodGet, env.url("/conformance"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc struct {
		ConformsTo []string `json:"conformsTo"`
	}
	decode(t, body, &doc)
	assert.Contains(t, doc.ConformsTo, "http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/core")
}

func TestHealthz(t *testing.T) {
	env := newTestServer(t, nil)

	resp, body := doJSON(t, http.MethodGet, env.url("/healthz"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	decode(t, body, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Checks["storage"])
	assert.Equal(t, "ok", health.Checks["engine"])
	assert.Equal(t, "0.0.0-test", health.Version)
}

func TestHealthzUnhealthyStore(t *testing.T) {
	env := newTestServer(t, nil)
	require.NoError(t, env.store.Close())

	resp, body := doJSON(t, http.MethodGet, env.url("/healthz"), nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var health HealthResponse
	decode(t, body, &health)
	assert.Equal(t, "unhealthy", health.Status)
	assert.Contains(t, health.Checks["storage"], "error")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t, nil)

	// A first request makes sure the API counters carry samples
	_, _ = doJSON(t, http.MethodGet, env.url("/"), nil)

	resp, body := doJSON(t, http.MethodGet, env.url("/metrics"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "trellis_api_requests_total")
}

func TestServerValidatesConfig(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine is required")
}

func TestOutputsServedStatically(t *testing.T) {
	env := newTestServer(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.outputDir, "hello.txt"), []byte("published"), 0644))

	resp, body := doJSON(t, http.MethodGet, env.url("/wpsoutputs/hello.txt"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "published", string(body))
}
