package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisproc/trellis/pkg/types"
)

func applicationPackage(command string) map[string]interface{} {
	return map[string]interface{}{
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
				"outputBinding": map[string]interface{}{"glob": "stdout.log"}},
		},
	}
}

// packageServer serves {id: package} maps at /processes/{id}/package
func packageServer(t *testing.T, packages map[string]map[string]interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for id, pkg := range packages {
		body, err := json.Marshal(pkg)
		require.NoError(t, err)
		mux.HandleFunc(fmt.Sprintf("/processes/%s/package", id), func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
		})
	}
	return httptest.NewServer(mux)
}

func TestBuildPlanApplication(t *testing.T) {
	loader := NewLoader(nil)
	pkg := applicationPackage("cat")

	plan, err := loader.BuildPlan(context.Background(), "cat-app", pkg, nil)
	require.NoError(t, err)

	assert.Equal(t, types.ProcessKindApplication, plan.Kind)
	require.Len(t, plan.Steps, 1)
	step := plan.Steps[0]
	assert.Equal(t, "cat-app", step.Name)
	assert.Equal(t, "debian:stretch-slim", step.Hints.Docker)
	assert.Equal(t, []string{"output"}, step.Outputs)
}

func TestBuildPlanWorkflow(t *testing.T) {
	srv := packageServer(t, map[string]map[string]interface{}{
		"P": applicationPackage("cat"),
		"Q": applicationPackage("wc"),
	})
	defer srv.Close()

	workflow := map[string]interface{}{
		"class": "Workflow",
		"inputs": []interface{}{
			map[string]interface{}{"id": "source", "type": "File"},
		},
		"outputs": map[string]interface{}{
			"final": map[string]interface{}{"type": "File", "outputSource": "s2/output"},
		},
		"steps": map[string]interface{}{
			"s2": map[string]interface{}{
				"run": "Q.cwl",
				"in":  map[string]interface{}{"x": "s1/output"},
				"out": []interface{}{"output"},
			},
			"s1": map[string]interface{}{
				"run": "P.cwl",
				"in":  map[string]interface{}{"file": "source"},
				"out": []interface{}{"output"},
			},
		},
	}

	loader := NewLoader(srv.Client())
	locate := func(ref string) string { return srv.URL + "/processes/" + ref }

	plan, err := loader.BuildPlan(context.Background(), "chain", workflow, locate)
	require.NoError(t, err)

	assert.Equal(t, types.ProcessKindWorkflow, plan.Kind)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "s1", plan.Steps[0].Name, "wiring order puts the producer first")
	assert.Equal(t, "s2", plan.Steps[1].Name)
	assert.Equal(t, "P", plan.Steps[0].Reference, "local .cwl references resolve to process ids")
	assert.Equal(t, srv.URL+"/processes/P", plan.Steps[0].URL)

	require.Len(t, plan.Steps[1].Inputs, 1)
	from, output, ok := plan.Steps[1].Inputs[0].SourceStep()
	require.True(t, ok)
	assert.Equal(t, "s1", from)
	assert.Equal(t, "output", output)

	require.Len(t, plan.Outputs, 1)
	assert.Equal(t, "final", plan.Outputs[0].ID)
	assert.Equal(t, "s2/output", plan.Outputs[0].Source)
}

func TestBuildPlanIndependentStepsKeepNameOrder(t *testing.T) {
	srv := packageServer(t, map[string]map[string]interface{}{
		"A": applicationPackage("a"),
		"B": applicationPackage("b"),
		"C": applicationPackage("c"),
	})
	defer srv.Close()

	workflow := map[string]interface{}{
		"class": "Workflow",
		"steps": map[string]interface{}{
			"charlie": map[string]interface{}{"run": "C.cwl", "out": []interface{}{"output"}},
			"alpha":   map[string]interface{}{"run": "A.cwl", "out": []interface{}{"output"}},
			"bravo":   map[string]interface{}{"run": "B.cwl", "out": []interface{}{"output"}},
		},
	}

	loader := NewLoader(srv.Client())
	plan, err := loader.BuildPlan(context.Background(), "fanout", workflow,
		func(ref string) string { return srv.URL + "/processes/" + ref })
	require.NoError(t, err)

	var names []string
	for _, s := range plan.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, names)
}

func TestBuildPlanCyclicWiring(t *testing.T) {
	srv := packageServer(t, map[string]map[string]interface{}{
		"P": applicationPackage("cat"),
		"Q": applicationPackage("wc"),
	})
	defer srv.Close()

	workflow := map[string]interface{}{
		"class": "Workflow",
		"steps": map[string]interface{}{
			"s1": map[string]interface{}{
				"run": "P.cwl",
				"in":  map[string]interface{}{"file": "s2/output"},
				"out": []interface{}{"output"},
			},
			"s2": map[string]interface{}{
				"run": "Q.cwl",
				"in":  map[string]interface{}{"x": "s1/output"},
				"out": []interface{}{"output"},
			},
		},
	}

	loader := NewLoader(srv.Client())
	_, err := loader.BuildPlan(context.Background(), "loop", workflow,
		func(ref string) string { return srv.URL + "/processes/" + ref })

	var rerr *types.PackageRegistrationError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Error(), "cyclic")
}

func TestBuildPlanSelfReferenceCycle(t *testing.T) {
	loader := NewLoader(nil)

	workflow := map[string]interface{}{
		"class": "Workflow",
		"steps": map[string]interface{}{
			"again": map[string]interface{}{"run": "loop.cwl", "out": []interface{}{"output"}},
		},
	}

	_, err := loader.BuildPlan(context.Background(), "loop", workflow,
		func(ref string) string { return "http://unused/processes/" + ref })

	var rerr *types.PackageRegistrationError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Error(), "cyclic")
}

func TestBuildPlanUnknownStepReference(t *testing.T) {
	srv := packageServer(t, map[string]map[string]interface{}{
		"P": applicationPackage("cat"),
	})
	defer srv.Close()

	workflow := map[string]interface{}{
		"class": "Workflow",
		"steps": map[string]interface{}{
			"s1": map[string]interface{}{
				"run": "P.cwl",
				"in":  map[string]interface{}{"file": "ghost/output"},
				"out": []interface{}{"output"},
			},
		},
	}

	loader := NewLoader(srv.Client())
	_, err := loader.BuildPlan(context.Background(), "dangling", workflow,
		func(ref string) string { return srv.URL + "/processes/" + ref })

	var rerr *types.PackageRegistrationError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Error(), "unknown step")
}

func TestBuildPlanMissingStepPackage(t *testing.T) {
	srv := packageServer(t, map[string]map[string]interface{}{})
	defer srv.Close()

	workflow := map[string]interface{}{
		"class": "Workflow",
		"steps": map[string]interface{}{
			"s1": map[string]interface{}{"run": "gone.cwl", "out": []interface{}{"output"}},
		},
	}

	loader := NewLoader(srv.Client())
	_, err := loader.BuildPlan(context.Background(), "broken", workflow,
		func(ref string) string { return srv.URL + "/processes/" + ref })
	assert.ErrorIs(t, err, types.ErrPackageNotFound)
}

func TestParseHints(t *testing.T) {
	t.Run("list form", func(t *testing.T) {
		hints, err := ParseHints(map[string]interface{}{
			"requirements": []interface{}{
				map[string]interface{}{"class": "DockerRequirement", "dockerPull": "debian:stretch-slim"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "debian:stretch-slim", hints.Docker)
	})

	t.Run("mapping form", func(t *testing.T) {
		hints, err := ParseHints(map[string]interface{}{
			"hints": map[string]interface{}{
				"WPS1Requirement": map[string]interface{}{
					"provider": "https://wps.example.com/ows", "process": "subset",
				},
			},
		})
		require.NoError(t, err)
		require.NotNil(t, hints.WPS1)
		assert.Equal(t, "https://wps.example.com/ows", hints.WPS1.Provider)
		assert.Equal(t, "subset", hints.WPS1.Process)
	})

	t.Run("esgf flag", func(t *testing.T) {
		hints, err := ParseHints(map[string]interface{}{
			"hints": []interface{}{map[string]interface{}{"class": "ESGF-CWTRequirement"}},
		})
		require.NoError(t, err)
		assert.True(t, hints.ESGF)
	})

	t.Run("docker without image", func(t *testing.T) {
		_, err := ParseHints(map[string]interface{}{
			"requirements": []interface{}{map[string]interface{}{"class": "DockerRequirement"}},
		})
		assert.Error(t, err)
	})

	t.Run("wps1 without process", func(t *testing.T) {
		_, err := ParseHints(map[string]interface{}{
			"hints": map[string]interface{}{
				"WPS1Requirement": map[string]interface{}{"provider": "https://wps.example.com"},
			},
		})
		assert.Error(t, err)
	})

	t.Run("unknown classes are ignored", func(t *testing.T) {
		hints, err := ParseHints(map[string]interface{}{
			"requirements": []interface{}{map[string]interface{}{"class": "InlineJavascriptRequirement"}},
		})
		require.NoError(t, err)
		assert.Empty(t, hints.Docker)
	})
}

func TestDeriveIO(t *testing.T) {
	t.Run("list sections", func(t *testing.T) {
		inputs, outputs, err := DeriveIO(applicationPackage("cat"))
		require.NoError(t, err)
		require.Len(t, inputs, 1)
		require.Len(t, outputs, 1)
		assert.Equal(t, "file", inputs[0].Identifier)
		assert.Equal(t, "output", outputs[0].Identifier)
		assert.True(t, outputs[0].AsReference)
	})

	t.Run("mapping and shorthand sections", func(t *testing.T) {
		pkg := map[string]interface{}{
			"inputs": map[string]interface{}{
				"b-count": "int",
				"a-file":  map[string]interface{}{"type": "File"},
			},
			"outputs": nil,
		}
		inputs, outputs, err := DeriveIO(pkg)
		require.NoError(t, err)
		require.Len(t, inputs, 2)
		assert.Equal(t, "a-file", inputs[0].Identifier, "mapping entries are ordered by id")
		assert.Equal(t, "b-count", inputs[1].Identifier)
		assert.Empty(t, outputs)
	})

	t.Run("duplicate identifiers", func(t *testing.T) {
		pkg := map[string]interface{}{
			"inputs": []interface{}{
				map[string]interface{}{"id": "x", "type": "string"},
				map[string]interface{}{"id": "x", "type": "int"},
			},
		}
		_, _, err := DeriveIO(pkg)
		var terr *types.PackageTypeError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "x", terr.Field)
	})
}
