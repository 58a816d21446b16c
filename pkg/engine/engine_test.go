package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisproc/trellis/pkg/datasource"
	"github.com/trellisproc/trellis/pkg/events"
	"github.com/trellisproc/trellis/pkg/pack"
	"github.com/trellisproc/trellis/pkg/runtime"
	"github.com/trellisproc/trellis/pkg/staging"
	"github.com/trellisproc/trellis/pkg/status"
	"github.com/trellisproc/trellis/pkg/storage"
	"github.com/trellisproc/trellis/pkg/types"
	"github.com/trellisproc/trellis/pkg/workspace"
	"github.com/trellisproc/trellis/pkg/wps"
)

const testOutputURL = "http://trellis.example/wpsoutputs"

// fakeRunner records every container spec it ran and answers with a
// canned result. onRun can drop files into the workdir the way a real
// tool would; block holds the run until the job context is cancelled.
type fakeRunner struct {
	mu     sync.Mutex
	specs  []runtime.Spec
	result *runtime.Result
	err    error
	onRun  func(spec runtime.Spec)
	block  bool
}

func (f *fakeRunner) Run(ctx context.Context, spec runtime.Spec) (*runtime.Result, error) {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	block := f.block
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun(spec)
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

func (f *fakeRunner) Close() error { return nil }

func (f *fakeRunner) ranSpecs() []runtime.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runtime.Spec(nil), f.specs...)
}

type testEnv struct {
	engine    *Engine
	store     storage.Store
	spaces    workspace.Driver
	runner    *fakeRunner
	outputDir string
}

func newTestEngine(t *testing.T, mutate func(cfg *Config)) *testEnv {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	spaces, err := workspace.NewLocalDriver(filepath.Join(t.TempDir(), "work"))
	require.NoError(t, err)

	outputDir := t.TempDir()
	runner := &fakeRunner{result: &runtime.Result{ExitCode: 0}}

	cfg := Config{
		Store:        store,
		Loader:       pack.NewLoader(nil),
		Stager:       staging.NewStager(outputDir, testOutputURL, nil, nil),
		Status:       status.NewWriter(outputDir, testOutputURL, "http://trellis.example/ows/wps"),
		Workspaces:   spaces,
		Runner:       runner,
		OutputDir:    outputDir,
		Workers:      2,
		JobTimeout:   30 * time.Second,
		ScheduleTick: 10 * time.Millisecond,
		JanitorTick:  time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	eng, err := New(cfg)
	require.NoError(t, err)

	return &testEnv{
		engine:    eng,
		store:     store,
		spaces:    spaces,
		runner:    runner,
		outputDir: outputDir,
	}
}

func (env *testEnv) start(t *testing.T) {
	t.Helper()
	env.engine.Start()
	t.Cleanup(env.engine.Stop)
}

func ndviPackage() map[string]interface{} {
	return map[string]interface{}{
		"cwlVersion":  "v1.0",
		"class":       "CommandLineTool",
		"baseCommand": "ndvi.sh",
		"requirements": []interface{}{
			map[string]interface{}{"class": "DockerRequirement", "dockerPull": "ghcr.io/example/ndvi:1.2"},
		},
		"inputs": []interface{}{
			map[string]interface{}{"id": "scene", "type": "File",
				"inputBinding": map[string]interface{}{"position": 1}},
			map[string]interface{}{"id": "level", "type": "int",
				"inputBinding": map[string]interface{}{"position": 2, "prefix": "--level"}},
		},
		"outputs": []interface{}{
			map[string]interface{}{"id": "result", "type": "File",
				"outputBinding": map[string]interface{}{"glob": "out/*.tif"}},
		},
	}
}

func deployNDVI(t *testing.T, store storage.Store) {
	t.Helper()
	require.NoError(t, store.SaveProcess(&types.Process{
		ID:         "ndvi",
		Kind:       types.ProcessKindApplication,
		Title:      "NDVI",
		Package:    ndviPackage(),
		Visibility: types.VisibilityPublic,
	}))
}

func sceneServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "scene bytes")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ndviJob(t *testing.T) *types.Job {
	t.Helper()
	src := sceneServer(t)
	job := types.NewJob("ndvi")
	job.Inputs = []types.IOEntry{
		{ID: "scene", Href: src.URL + "/scene.tif"},
		{ID: "level", Value: 3},
	}
	return job
}

// writeTiff makes the fake container behave like the real tool: one
// file matching the package's output glob
func writeTiff(t *testing.T) func(spec runtime.Spec) {
	return func(spec runtime.Spec) {
		outTree := filepath.Join(spec.WorkDir, "out")
		if err := os.MkdirAll(outTree, 0755); err != nil {
			t.Error(err)
			return
		}
		if err := os.WriteFile(filepath.Join(outTree, "result.tif"), []byte("ndvi bytes"), 0644); err != nil {
			t.Error(err)
		}
	}
}

func waitForStatus(t *testing.T, store storage.Store, jobID string, want types.JobStatus) *types.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return nil
}

func TestNewValidatesConfig(t *testing.T) {
	outputDir := t.TempDir()
	spaces, err := workspace.NewLocalDriver(t.TempDir())
	require.NoError(t, err)
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	valid := Config{
		Store:      store,
		Loader:     pack.NewLoader(nil),
		Stager:     staging.NewStager(outputDir, testOutputURL, nil, nil),
		Status:     status.NewWriter(outputDir, testOutputURL, ""),
		Workspaces: spaces,
	}

	breakages := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"store", func(cfg *Config) { cfg.Store = nil }},
		{"loader", func(cfg *Config) { cfg.Loader = nil }},
		{"stager", func(cfg *Config) { cfg.Stager = nil }},
		{"status", func(cfg *Config) { cfg.Status = nil }},
		{"workspaces", func(cfg *Config) { cfg.Workspaces = nil }},
	}
	for _, tc := range breakages {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "required")
		})
	}

	t.Run("defaults", func(t *testing.T) {
		eng, err := New(valid)
		require.NoError(t, err)
		assert.Equal(t, time.Hour, eng.jobTimeout)
		assert.Equal(t, 24*time.Hour, eng.retention)
		assert.NotNil(t, eng.http)
		assert.NotNil(t, eng.clients)
	})
}

func TestAcceptPersistsJobAndStatus(t *testing.T) {
	env := newTestEngine(t, nil)
	deployNDVI(t, env.store)

	job := ndviJob(t)
	require.NoError(t, env.engine.Accept(job, "NDVI"))

	assert.Equal(t, testOutputURL+"/"+job.ID+".xml", job.StatusLocation)

	saved, err := env.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobAccepted, saved.Status)

	data, err := os.ReadFile(filepath.Join(env.outputDir, job.ID+".xml"))
	require.NoError(t, err)
	resp, err := wps.ParseExecuteResponse(data)
	require.NoError(t, err)
	assert.Equal(t, wps.StatusAccepted, resp.Status.State())
	assert.Equal(t, "ndvi", resp.Process.Identifier)
}

func TestRunApplicationJob(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	sub := broker.Subscribe()

	env := newTestEngine(t, func(cfg *Config) { cfg.Broker = broker })
	env.runner.onRun = writeTiff(t)
	deployNDVI(t, env.store)

	job := ndviJob(t)
	env.start(t)
	require.NoError(t, env.engine.Accept(job, "NDVI"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := env.engine.WaitForJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, types.JobSucceeded, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.False(t, final.IsWorkflow)
	assert.NotNil(t, final.Started)
	assert.NotNil(t, final.Finished)

	require.Len(t, final.Results, 1)
	assert.Equal(t, "result", final.Results[0].ID)
	assert.Equal(t, testOutputURL+"/"+job.ID+"/result/result.tif", final.Results[0].Href)

	produced, err := os.ReadFile(filepath.Join(env.outputDir, job.ID, "result", "result.tif"))
	require.NoError(t, err)
	assert.Equal(t, "ndvi bytes", string(produced))

	// terminal status document carries the output reference
	data, err := os.ReadFile(filepath.Join(env.outputDir, job.ID+".xml"))
	require.NoError(t, err)
	resp, err := wps.ParseExecuteResponse(data)
	require.NoError(t, err)
	assert.Equal(t, wps.StatusSucceeded, resp.Status.State())
	entries := resp.OutputEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, final.Results[0].Href, entries[0].Href)

	// per-job log follows the lifecycle
	logData, err := os.ReadFile(filepath.Join(env.outputDir, job.ID+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "Job started.")
	assert.Contains(t, string(logData), "Job succeeded.")

	// container got the staged input path and the literal flag
	specs := env.runner.ranSpecs()
	require.Len(t, specs, 1)
	argv := strings.Join(specs[0].Command, " ")
	assert.Contains(t, argv, filepath.Join("inputs", "scene"))
	assert.Contains(t, argv, "--level 3")

	var seen []events.EventType
	timeout := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case ev := <-sub:
			seen = append(seen, ev.Type)
		case <-timeout:
			t.Fatalf("events never arrived, got %v", seen)
		}
	}
	assert.Equal(t, []events.EventType{
		events.EventJobAccepted, events.EventJobRunning, events.EventJobSucceeded,
	}, seen)
}

func TestRunApplicationJobFailure(t *testing.T) {
	env := newTestEngine(t, nil)
	env.runner.result = &runtime.Result{ExitCode: 3}
	deployNDVI(t, env.store)

	job := ndviJob(t)
	env.start(t)
	require.NoError(t, env.engine.Accept(job, "NDVI"))

	final := waitForStatus(t, env.store, job.ID, types.JobFailed)

	assert.Contains(t, final.StatusMessage, "step ndvi")
	assert.Contains(t, final.StatusMessage, "container exited with code 3")
	require.NotEmpty(t, final.Exceptions)
	assert.Equal(t, wps.CodeNoApplicableCode, final.Exceptions[0].Code)
	assert.Equal(t, "ndvi", final.Exceptions[0].Locator)

	data, err := os.ReadFile(filepath.Join(env.outputDir, job.ID+".xml"))
	require.NoError(t, err)
	resp, err := wps.ParseExecuteResponse(data)
	require.NoError(t, err)
	assert.Equal(t, wps.StatusFailed, resp.Status.State())
	require.NotEmpty(t, resp.Status.Exceptions())
	assert.Contains(t, resp.Status.Exceptions()[0].Text, "container exited with code 3")
}

func TestRunApplicationJobWorkerFault(t *testing.T) {
	env := newTestEngine(t, nil)
	env.runner.onRun = func(runtime.Spec) { panic("tool exploded") }
	deployNDVI(t, env.store)

	job := ndviJob(t)
	env.start(t)
	require.NoError(t, env.engine.Accept(job, "NDVI"))

	// a crash of the worker itself lands in exception, not failed
	final := waitForStatus(t, env.store, job.ID, types.JobException)
	assert.Contains(t, final.StatusMessage, "internal failure")
	require.NotEmpty(t, final.Exceptions)
	assert.Equal(t, wps.CodeNoApplicableCode, final.Exceptions[0].Code)
	assert.Contains(t, final.Exceptions[0].Text, "tool exploded")

	// the WPS status document renders exception as a failed run
	data, err := os.ReadFile(filepath.Join(env.outputDir, job.ID+".xml"))
	require.NoError(t, err)
	resp, err := wps.ParseExecuteResponse(data)
	require.NoError(t, err)
	assert.Equal(t, wps.StatusFailed, resp.Status.State())
}

func TestDismissRunningJob(t *testing.T) {
	env := newTestEngine(t, nil)
	env.runner.block = true
	deployNDVI(t, env.store)

	job := ndviJob(t)
	env.start(t)
	require.NoError(t, env.engine.Accept(job, "NDVI"))

	waitForStatus(t, env.store, job.ID, types.JobRunning)
	require.NoError(t, env.engine.DismissJob(context.Background(), job.ID))

	final := waitForStatus(t, env.store, job.ID, types.JobDismissed)
	assert.Equal(t, "Job dismissed.", final.StatusMessage)

	// the worker releases its claim after settling the job
	require.Eventually(t, func() bool { return !env.engine.isActive(job.ID) },
		2*time.Second, 10*time.Millisecond)

	err := env.engine.DismissJob(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrJobFinished)
}

func TestDismissUnclaimedJob(t *testing.T) {
	env := newTestEngine(t, nil)
	deployNDVI(t, env.store)

	// engine never started: the job stays accepted until dismissed
	job := ndviJob(t)
	require.NoError(t, env.engine.Accept(job, "NDVI"))
	require.NoError(t, env.engine.DismissJob(context.Background(), job.ID))

	saved, err := env.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobDismissed, saved.Status)

	err = env.engine.DismissJob(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrJobFinished)
}

func TestDismissUnknownJob(t *testing.T) {
	env := newTestEngine(t, nil)
	err := env.engine.DismissJob(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, types.ErrJobNotFound)
}

const describeBufferXML = `<?xml version="1.0" encoding="UTF-8"?>
<wps:ProcessDescriptions xmlns:wps="http://www.opengis.net/wps/1.0.0" xmlns:ows="http://www.opengis.net/ows/1.1">
  <ProcessDescription wps:processVersion="1.0">
    <ows:Identifier>buffer</ows:Identifier>
    <ows:Title>Buffer</ows:Title>
    <DataInputs>
      <Input>
        <ows:Identifier>raster</ows:Identifier>
        <ComplexData>
          <Default><Format><MimeType>image/tiff</MimeType></Format></Default>
        </ComplexData>
      </Input>
    </DataInputs>
    <ProcessOutputs>
      <Output>
        <ows:Identifier>output</ows:Identifier>
        <ComplexOutput>
          <Default><Format><MimeType>image/tiff</MimeType></Format></Default>
        </ComplexOutput>
      </Output>
    </ProcessOutputs>
  </ProcessDescription>
</wps:ProcessDescriptions>`

// newBufferProvider scripts a WPS 1.0 endpoint whose Execute answers
// synchronously with a succeeded response referencing /data/result.tif
func newBufferProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/wps", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		switch r.URL.Query().Get("request") {
		case "DescribeProcess":
			fmt.Fprint(w, describeBufferXML)
		case "Execute":
			fmt.Fprintf(w, `<?xml version="1.0"?>
<wps:ExecuteResponse xmlns:wps="http://www.opengis.net/wps/1.0.0" xmlns:ows="http://www.opengis.net/ows/1.1" statusLocation="%s/status">
  <wps:Status creationTime="2026-08-25T10:01:00Z"><wps:ProcessSucceeded>done</wps:ProcessSucceeded></wps:Status>
  <wps:ProcessOutputs>
    <wps:Output>
      <ows:Identifier>output</ows:Identifier>
      <wps:Reference href="%s/data/result.tif" mimeType="image/tiff"/>
    </wps:Output>
  </wps:ProcessOutputs>
</wps:ExecuteResponse>`, srv.URL, srv.URL)
		default:
			http.Error(w, "unknown request", http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/data/result.tif", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "tiff bytes")
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunProviderJob(t *testing.T) {
	provider := newBufferProvider(t)

	env := newTestEngine(t, nil)
	svc := types.NewService("emu", provider.URL+"/wps")
	require.NoError(t, env.store.SaveService(svc))

	job := types.NewJob("buffer")
	job.Service = "emu"
	job.Inputs = []types.IOEntry{{ID: "raster", Href: "http://data.example/scene.tif"}}

	env.start(t)
	require.NoError(t, env.engine.Accept(job, "Buffer"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := env.engine.WaitForJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, types.JobSucceeded, final.Status)
	require.Len(t, final.Results, 1)
	assert.Equal(t, "output", final.Results[0].ID)
	assert.Equal(t, testOutputURL+"/"+job.ID+"/output/result.tif", final.Results[0].Href)

	fetched, err := os.ReadFile(filepath.Join(env.outputDir, job.ID, "output", "result.tif"))
	require.NoError(t, err)
	assert.Equal(t, "tiff bytes", string(fetched))

	// no container ran for a provider job
	assert.Empty(t, env.runner.ranSpecs())
}

// stuckPeer scripts an API-Processes service whose job never leaves
// running, counting the DELETE that stops it
type stuckPeer struct {
	server   *httptest.Server
	executes atomic.Int32
	deletes  atomic.Int32
}

func newStuckPeer(t *testing.T) *stuckPeer {
	t.Helper()
	p := &stuckPeer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/processes/buffer", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"buffer","version":"1.0","outputs":[{"id":"output","formats":[{"mimeType":"image/tiff","default":true}]}]}`)
	})
	mux.HandleFunc("/processes/buffer/execution", func(w http.ResponseWriter, r *http.Request) {
		p.executes.Add(1)
		w.Header().Set("Location", p.server.URL+"/jobs/r1")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"jobID":"r1","status":"accepted"}`)
	})
	mux.HandleFunc("/jobs/r1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			p.deletes.Add(1)
			fmt.Fprint(w, `{"jobID":"r1","status":"dismissed"}`)
			return
		}
		fmt.Fprint(w, `{"jobID":"r1","status":"running","progress":40,"message":"processing"}`)
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func TestDismissProviderJobStopsRemote(t *testing.T) {
	peer := newStuckPeer(t)

	env := newTestEngine(t, nil)
	svc := types.NewService("peer", peer.server.URL)
	svc.Type = types.ServiceTypeAPI
	require.NoError(t, env.store.SaveService(svc))

	job := types.NewJob("buffer")
	job.Service = "peer"
	job.Inputs = []types.IOEntry{{ID: "raster", Href: "http://data.example/scene.tif"}}

	env.start(t)
	require.NoError(t, env.engine.Accept(job, "Buffer"))

	// dismiss only once the dispatch settled, so the adapter holds a
	// job location to cancel
	require.Eventually(t, func() bool {
		got, err := env.store.GetJob(job.ID)
		return err == nil && peer.executes.Load() > 0 &&
			strings.Contains(got.StatusMessage, "Monitoring execution.")
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, env.engine.DismissJob(context.Background(), job.ID))

	final := waitForStatus(t, env.store, job.ID, types.JobDismissed)
	assert.Equal(t, "Job dismissed.", final.StatusMessage)

	// the worker stopped the backend job before settling
	require.Eventually(t, func() bool { return peer.deletes.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func chainTool(command string) map[string]interface{} {
	return map[string]interface{}{
		"cwlVersion":  "v1.0",
		"class":       "CommandLineTool",
		"baseCommand": command,
		"requirements": []interface{}{
			map[string]interface{}{"class": "DockerRequirement", "dockerPull": "debian:stretch-slim"},
		},
		"inputs": []interface{}{
			map[string]interface{}{"id": "file", "type": "File",
				"inputBinding": map[string]interface{}{"position": 1}},
		},
		"outputs": []interface{}{
			map[string]interface{}{"id": "output", "type": "File",
				"outputBinding": map[string]interface{}{"glob": "out/*.txt"}},
		},
	}
}

func TestRunWorkflowJob(t *testing.T) {
	steps := map[string]map[string]interface{}{
		"P": chainTool("cat"),
		"Q": chainTool("wc"),
	}
	mux := http.NewServeMux()
	for id, pkg := range steps {
		pkg := pkg
		mux.HandleFunc("/processes/"+id+"/package", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"class":"CommandLineTool","cwlVersion":"v1.0","baseCommand":%q,"requirements":[{"class":"DockerRequirement","dockerPull":"debian:stretch-slim"}],"inputs":[{"id":%q,"type":"File","inputBinding":{"position":1}}],"outputs":[{"id":"output","type":"File","outputBinding":{"glob":"out/*.txt"}}]}`,
				pkg["baseCommand"], map[string]string{"P": "file", "Q": "x"}[id])
		})
	}
	refs := httptest.NewServer(mux)
	t.Cleanup(refs.Close)

	env := newTestEngine(t, func(cfg *Config) {
		cfg.Loader = pack.NewLoader(refs.Client())
		cfg.Sources = datasource.NewRegistry("", refs.URL)
	})
	env.runner.onRun = func(spec runtime.Spec) {
		outTree := filepath.Join(spec.WorkDir, "out")
		if err := os.MkdirAll(outTree, 0755); err != nil {
			t.Error(err)
			return
		}
		if err := os.WriteFile(filepath.Join(outTree, "result.txt"), []byte(spec.ID), 0644); err != nil {
			t.Error(err)
		}
	}

	workflow := map[string]interface{}{
		"cwlVersion": "v1.0",
		"class":      "Workflow",
		"inputs": []interface{}{
			map[string]interface{}{"id": "source", "type": "File"},
		},
		"outputs": map[string]interface{}{
			"final": map[string]interface{}{"type": "File", "outputSource": "s2/output"},
		},
		"steps": map[string]interface{}{
			"s1": map[string]interface{}{
				"run": "P.cwl",
				"in":  map[string]interface{}{"file": "source"},
				"out": []interface{}{"output"},
			},
			"s2": map[string]interface{}{
				"run": "Q.cwl",
				"in":  map[string]interface{}{"x": "s1/output"},
				"out": []interface{}{"output"},
			},
		},
	}
	require.NoError(t, env.store.SaveProcess(&types.Process{
		ID:         "chain",
		Kind:       types.ProcessKindWorkflow,
		Title:      "Chain",
		Package:    workflow,
		Visibility: types.VisibilityPublic,
	}))

	src := sceneServer(t)
	job := types.NewJob("chain")
	job.Inputs = []types.IOEntry{{ID: "source", Href: src.URL + "/scene.txt"}}

	env.start(t)
	require.NoError(t, env.engine.Accept(job, "Chain"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := env.engine.WaitForJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, types.JobSucceeded, final.Status)
	assert.True(t, final.IsWorkflow)
	require.Len(t, final.Results, 1)
	assert.Equal(t, "final", final.Results[0].ID)
	assert.Equal(t, testOutputURL+"/"+job.ID+"/final/result.txt", final.Results[0].Href)

	// the published file is the second step's product
	produced, err := os.ReadFile(filepath.Join(env.outputDir, job.ID, "final", "result.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(produced), "-s2"), "got %q", produced)

	// steps ran in wiring order, each in its own workdir
	specs := env.runner.ranSpecs()
	require.Len(t, specs, 2)
	assert.True(t, strings.HasSuffix(specs[0].WorkDir, "s1"))
	assert.True(t, strings.HasSuffix(specs[1].WorkDir, "s2"))

	// the second step consumed the first step's output from its own mount
	argv := strings.Join(specs[1].Command, " ")
	assert.Contains(t, argv, filepath.Join("s2", "inputs", "x"))
}

func TestWaitForJobHonorsContext(t *testing.T) {
	env := newTestEngine(t, nil)
	deployNDVI(t, env.store)

	job := ndviJob(t)
	require.NoError(t, env.engine.Accept(job, "NDVI"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	got, err := env.engine.WaitForJob(ctx, job.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, got)
	assert.Equal(t, types.JobAccepted, got.Status)
}
