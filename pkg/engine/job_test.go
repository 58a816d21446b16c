package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisproc/trellis/pkg/datasource"
	"github.com/trellisproc/trellis/pkg/iomodel"
	"github.com/trellisproc/trellis/pkg/pack"
	"github.com/trellisproc/trellis/pkg/remote"
	"github.com/trellisproc/trellis/pkg/staging"
	"github.com/trellisproc/trellis/pkg/types"
)

func TestThreadInputs(t *testing.T) {
	base := []types.IOEntry{
		{ID: "source", Href: "http://data.example/a.tif"},
		{ID: "source", Href: "http://data.example/b.tif"},
		{ID: "level", Value: 3},
	}
	results := map[string]map[string]types.IOEntry{
		"s1": {"output": {ID: "output", Href: "/results/s1/out.tif"}},
	}

	t.Run("application passes job inputs through", func(t *testing.T) {
		step := pack.Step{Name: "tool"}
		got := threadInputs(types.ProcessKindApplication, step, base, nil)
		assert.Equal(t, base, got)
	})

	t.Run("workflow wiring", func(t *testing.T) {
		step := pack.Step{
			Name: "s2",
			Inputs: []pack.StepInput{
				{ID: "scenes", Source: "source"},
				{ID: "mask", Source: "s1/output"},
				{ID: "mode", Default: "fast"},
				{ID: "absent", Source: "nothing"},
			},
		}
		got := threadInputs(types.ProcessKindWorkflow, step, base, results)
		require.Len(t, got, 4)

		// workflow-level source fans out to every matching job input
		assert.Equal(t, "scenes", got[0].ID)
		assert.Equal(t, "http://data.example/a.tif", got[0].Href)
		assert.Equal(t, "scenes", got[1].ID)
		assert.Equal(t, "http://data.example/b.tif", got[1].Href)

		// step output reference re-identified for the consumer
		assert.Equal(t, "mask", got[2].ID)
		assert.Equal(t, "/results/s1/out.tif", got[2].Href)

		// unmatched source falls back to the declared default
		assert.Equal(t, "mode", got[3].ID)
		assert.Equal(t, "fast", got[3].Value)
	})

	t.Run("unmatched source without default is dropped", func(t *testing.T) {
		step := pack.Step{
			Name:   "s2",
			Inputs: []pack.StepInput{{ID: "absent", Source: "nothing"}},
		}
		got := threadInputs(types.ProcessKindWorkflow, step, base, results)
		assert.Empty(t, got)
	})
}

func TestOverlayStaged(t *testing.T) {
	originals := []types.IOEntry{
		{ID: "scene", Href: "http://data.example/scene.tif", Data: []interface{}{"x"}},
		{ID: "level", Value: 3},
	}
	staged := []staging.StagedInput{
		{ID: "scene", Path: "/work/inputs/scene/scene.tif"},
		{ID: "level", Value: 3},
	}

	got := overlayStaged(originals, staged)
	require.Len(t, got, 2)
	assert.Equal(t, "/work/inputs/scene/scene.tif", got[0].Href)
	assert.Nil(t, got[0].Data)
	assert.Equal(t, 3, got[1].Value)

	// the original entries stay untouched for remote dispatch
	assert.Equal(t, "http://data.example/scene.tif", originals[0].Href)
}

func TestSplitSource(t *testing.T) {
	cases := []struct {
		source   string
		step     string
		output   string
		expectOK bool
	}{
		{"s1/output", "s1", "output", true},
		{"s1/nested/output", "s1", "nested/output", true},
		{"final", "", "", false},
		{"/output", "", "", false},
		{"s1/", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		step, output, ok := splitSource(tc.source)
		assert.Equal(t, tc.expectOK, ok, tc.source)
		assert.Equal(t, tc.step, step, tc.source)
		assert.Equal(t, tc.output, output, tc.source)
	}
}

func TestExpectedForStep(t *testing.T) {
	step := pack.Step{Name: "ndvi", Package: ndviPackage()}

	t.Run("derived from the package", func(t *testing.T) {
		got, err := expectedForStep(step)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "result", got[0].ID)
		assert.True(t, got[0].AsReference)
	})

	t.Run("narrowed to the wired outputs", func(t *testing.T) {
		narrowed := step
		narrowed.Outputs = []string{"result"}
		got, err := expectedForStep(narrowed)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "result", got[0].ID)
	})

	t.Run("unknown wired output stays bare", func(t *testing.T) {
		unknown := step
		unknown.Outputs = []string{"extra"}
		got, err := expectedForStep(unknown)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, remote.ExpectedOutput{ID: "extra"}, got[0])
	})
}

func TestDeployPayload(t *testing.T) {
	step := pack.Step{Name: "s1", Reference: "ndvi", Package: ndviPackage()}
	payload := deployPayload(step)

	assert.Equal(t, DeploymentProfileDocker, payload.DeploymentProfileName)
	require.Len(t, payload.ExecutionUnit, 1)
	assert.Equal(t, step.Package, payload.ExecutionUnit[0].Unit)

	proc, ok := payload.ProcessDescription["process"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ndvi", proc["id"])
}

func TestStepProcessID(t *testing.T) {
	assert.Equal(t, "buffer", stepProcessID(pack.Step{
		Name:      "s1",
		Reference: "ref",
		Hints:     pack.Hints{WPS1: &pack.WPS1Requirement{Provider: "http://wps.example", Process: "buffer"}},
	}))
	assert.Equal(t, "ref", stepProcessID(pack.Step{Name: "s1", Reference: "ref"}))
	assert.Equal(t, "s1", stepProcessID(pack.Step{Name: "s1"}))
}

func TestDefaultMime(t *testing.T) {
	assert.Equal(t, "image/tiff", defaultMime([]iomodel.Format{
		{MimeType: "application/json"},
		{MimeType: "image/tiff", Default: true},
	}))
	assert.Equal(t, "application/json", defaultMime([]iomodel.Format{
		{MimeType: "application/json"},
	}))
	assert.Equal(t, "", defaultMime(nil))
}

func TestJobOutputDir(t *testing.T) {
	env := newTestEngine(t, nil)

	plain := types.NewJob("ndvi")
	assert.Equal(t, filepath.Join(env.outputDir, plain.ID), env.engine.jobOutputDir(plain))

	scoped := types.NewJob("ndvi")
	scoped.Context = "proj/alpha"
	assert.Equal(t,
		filepath.Join(env.outputDir, "proj", "alpha", scoped.ID),
		env.engine.jobOutputDir(scoped))
}

func TestDispatchFor(t *testing.T) {
	sources := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(sources, []byte(
		"alpha:\n  netloc: data.alpha.example\n  ades: http://ades.alpha.example/api\n  default: true\n"), 0644))

	job := types.NewJob("chain")
	job.Inputs = []types.IOEntry{{ID: "in", Href: "http://data.alpha.example/granule.nc"}}

	t.Run("esgf steps are refused", func(t *testing.T) {
		env := newTestEngine(t, nil)
		_, err := env.engine.dispatchFor(job, pack.Step{Name: "s1", Hints: pack.Hints{ESGF: true}}, "/work")
		assert.ErrorIs(t, err, types.ErrNotImplemented)
	})

	t.Run("wps1 hint targets the pinned provider", func(t *testing.T) {
		env := newTestEngine(t, nil)
		step := pack.Step{
			Name:  "s1",
			Hints: pack.Hints{WPS1: &pack.WPS1Requirement{Provider: "http://wps.example", Process: "buffer"}},
		}
		d, err := env.engine.dispatchFor(job, step, "/work")
		require.NoError(t, err)
		assert.IsType(t, &remote.WPS1{}, d.adapter)
		assert.Equal(t, "http://wps.example", d.host)
		assert.False(t, d.local)
	})

	t.Run("ems mode deploys on the data's service", func(t *testing.T) {
		env := newTestEngine(t, func(cfg *Config) {
			cfg.EMS = true
			cfg.Sources = datasource.NewRegistry(sources, "http://local.example")
		})
		d, err := env.engine.dispatchFor(job, pack.Step{Name: "s1", Reference: "P", Package: ndviPackage()}, "/work")
		require.NoError(t, err)
		assert.IsType(t, &remote.APIProcesses{}, d.adapter)
		assert.Equal(t, "http://ades.alpha.example/api", d.host)
		assert.False(t, d.local)
	})

	t.Run("default runs a local container", func(t *testing.T) {
		env := newTestEngine(t, nil)
		d, err := env.engine.dispatchFor(job, pack.Step{Name: "s1", Package: ndviPackage()}, "/work")
		require.NoError(t, err)
		assert.IsType(t, &remote.LocalContainer{}, d.adapter)
		assert.Equal(t, "localhost", d.host)
		assert.True(t, d.local)
	})

	t.Run("no runtime means no local dispatch", func(t *testing.T) {
		env := newTestEngine(t, func(cfg *Config) { cfg.Runner = nil })
		_, err := env.engine.dispatchFor(job, pack.Step{Name: "s1", Package: ndviPackage()}, "/work")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no container runtime")
	})
}
