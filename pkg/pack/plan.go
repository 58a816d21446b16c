package pack

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/trellisproc/trellis/pkg/types"
)

// StepInput wires one step input to a workflow input or a prior step output
type StepInput struct {
	ID      string
	Source  string
	Default interface{}
}

// SourceStep splits a "step/output" source reference; ok is false for
// workflow-level input references
func (si StepInput) SourceStep() (step, output string, ok bool) {
	idx := strings.Index(si.Source, "/")
	if idx <= 0 {
		return "", "", false
	}
	return si.Source[:idx], si.Source[idx+1:], true
}

// Step is one resolved unit of a plan: a named reference to a runnable
// package plus its input wiring
type Step struct {
	Name      string
	Reference string
	URL       string
	Package   map[string]interface{}
	Inputs    []StepInput
	Outputs   []string
	Hints     Hints
}

// WorkflowOutput maps a workflow-level output onto a step output
type WorkflowOutput struct {
	ID     string
	Source string
}

// Plan is the executable form of a deployed package: the root package,
// its classification and the ordered steps to dispatch
type Plan struct {
	ProcessID string
	Kind      types.ProcessKind
	Package   map[string]interface{}
	Steps     []Step
	Outputs   []WorkflowOutput
}

// LocateFunc maps a step reference (a process id) to the base URL of the
// process on its responsible service
type LocateFunc func(ref string) string

// BuildPlan resolves a package into an execution plan. Applications get a
// single synthetic step; workflows get their steps fetched recursively
// (each remote reference resolved through {url}/package), checked for
// reference cycles and ordered topologically by their input wiring.
func (l *Loader) BuildPlan(ctx context.Context, processID string, pkg map[string]interface{}, locate LocateFunc) (*Plan, error) {
	kind, err := Classify(pkg)
	if err != nil {
		return nil, err
	}

	plan := &Plan{ProcessID: processID, Kind: kind, Package: pkg}

	if kind == types.ProcessKindApplication {
		hints, err := ParseHints(pkg)
		if err != nil {
			return nil, err
		}
		plan.Steps = []Step{{
			Name:      processID,
			Reference: processID,
			Package:   pkg,
			Hints:     hints,
			Outputs:   packageOutputIDs(pkg),
		}}
		return plan, nil
	}

	inFlight := map[string]bool{processID: true}
	steps, err := l.resolveSteps(ctx, pkg, locate, inFlight)
	if err != nil {
		return nil, err
	}
	ordered, err := orderSteps(steps)
	if err != nil {
		return nil, err
	}
	plan.Steps = ordered
	plan.Outputs = workflowOutputs(pkg)
	return plan, nil
}

// resolveSteps fetches every step package of a workflow, recursing into
// nested workflows so broken or cyclic references fail at registration
func (l *Loader) resolveSteps(ctx context.Context, pkg map[string]interface{}, locate LocateFunc, inFlight map[string]bool) ([]Step, error) {
	defs, err := workflowStepDefs(pkg)
	if err != nil {
		return nil, err
	}

	steps := make([]Step, 0, len(defs))
	for _, def := range defs {
		ref := def.run
		// local file references name a deployed process
		if parsedURL, err := url.Parse(ref); (err != nil || parsedURL.Scheme == "") && strings.HasSuffix(ref, ".cwl") {
			ref = strings.TrimSuffix(ref, ".cwl")
		}

		stepURL := ref
		if parsed, err := url.Parse(ref); err != nil || parsed.Scheme == "" {
			stepURL = locate(ref)
		}

		if inFlight[stepURL] || inFlight[ref] {
			return nil, &types.PackageRegistrationError{
				Reason: fmt.Sprintf("cyclic workflow step reference %q", ref),
			}
		}

		stepPkg, _, err := l.FetchProcessPackage(ctx, stepURL)
		if err != nil {
			return nil, err
		}

		kind, err := Classify(stepPkg)
		if err != nil {
			return nil, err
		}
		if kind == types.ProcessKindWorkflow {
			inFlight[stepURL] = true
			inFlight[ref] = true
			if _, err := l.resolveSteps(ctx, stepPkg, locate, inFlight); err != nil {
				return nil, err
			}
			delete(inFlight, stepURL)
			delete(inFlight, ref)
		}

		hints, err := ParseHints(stepPkg)
		if err != nil {
			return nil, err
		}
		stepHints, err := ParseHints(def.raw)
		if err != nil {
			return nil, err
		}
		hints.overlay(stepHints)

		steps = append(steps, Step{
			Name:      def.name,
			Reference: ref,
			URL:       stepURL,
			Package:   stepPkg,
			Inputs:    def.inputs,
			Outputs:   def.outputs,
			Hints:     hints,
		})
	}
	return steps, nil
}

type stepDef struct {
	name    string
	run     string
	inputs  []StepInput
	outputs []string
	raw     map[string]interface{}
}

// workflowStepDefs accepts both the mapping and the list spellings of a
// workflow's steps section
func workflowStepDefs(pkg map[string]interface{}) ([]stepDef, error) {
	var defs []stepDef

	switch steps := pkg["steps"].(type) {
	case map[string]interface{}:
		names := make([]string, 0, len(steps))
		for name := range steps {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			body, ok := steps[name].(map[string]interface{})
			if !ok {
				return nil, &types.PackageRegistrationError{Reason: fmt.Sprintf("invalid workflow step %q", name)}
			}
			def, err := parseStepDef(name, body)
			if err != nil {
				return nil, err
			}
			defs = append(defs, def)
		}
	case []interface{}:
		for _, entry := range steps {
			body, ok := entry.(map[string]interface{})
			if !ok {
				return nil, &types.PackageRegistrationError{Reason: "invalid workflow step entry"}
			}
			name, _ := body["id"].(string)
			if name == "" {
				return nil, &types.PackageRegistrationError{Reason: "workflow step entry without id"}
			}
			def, err := parseStepDef(name, body)
			if err != nil {
				return nil, err
			}
			defs = append(defs, def)
		}
	default:
		return nil, &types.PackageRegistrationError{Reason: "workflow package has no steps"}
	}

	if len(defs) == 0 {
		return nil, &types.PackageRegistrationError{Reason: "workflow package has no steps"}
	}
	return defs, nil
}

func parseStepDef(name string, body map[string]interface{}) (stepDef, error) {
	def := stepDef{name: name, raw: body}

	run, _ := body["run"].(string)
	if run == "" {
		return def, &types.PackageRegistrationError{Reason: fmt.Sprintf("workflow step %q has no run reference", name)}
	}
	def.run = run

	switch in := body["in"].(type) {
	case map[string]interface{}:
		ids := make([]string, 0, len(in))
		for id := range in {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			def.inputs = append(def.inputs, parseStepInput(id, in[id]))
		}
	case nil:
	default:
		return def, &types.PackageRegistrationError{Reason: fmt.Sprintf("invalid in section of workflow step %q", name)}
	}

	switch out := body["out"].(type) {
	case []interface{}:
		for _, o := range out {
			switch v := o.(type) {
			case string:
				def.outputs = append(def.outputs, v)
			case map[string]interface{}:
				if id, ok := v["id"].(string); ok {
					def.outputs = append(def.outputs, id)
				}
			}
		}
	case nil:
	default:
		return def, &types.PackageRegistrationError{Reason: fmt.Sprintf("invalid out section of workflow step %q", name)}
	}

	return def, nil
}

func parseStepInput(id string, raw interface{}) StepInput {
	switch v := raw.(type) {
	case string:
		return StepInput{ID: id, Source: v}
	case map[string]interface{}:
		si := StepInput{ID: id}
		si.Source, _ = v["source"].(string)
		si.Default = v["default"]
		return si
	default:
		return StepInput{ID: id}
	}
}

// orderSteps sorts steps topologically by their input wiring, with a
// stable name order among independent steps. Cyclic wiring is rejected.
func orderSteps(steps []Step) ([]Step, error) {
	byName := make(map[string]int, len(steps))
	for i, s := range steps {
		byName[s.Name] = i
	}

	indegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, s := range steps {
		for _, in := range s.Inputs {
			from, _, ok := in.SourceStep()
			if !ok {
				continue
			}
			j, exists := byName[from]
			if !exists {
				return nil, &types.PackageRegistrationError{
					Reason: fmt.Sprintf("workflow step %q references unknown step %q", s.Name, from),
				}
			}
			dependents[j] = append(dependents[j], i)
			indegree[i]++
		}
	}

	ready := make([]int, 0, len(steps))
	for i, deg := range indegree {
		if deg == 0 {
			ready = append(ready, i)
		}
	}
	sortByName := func(ix []int) {
		sort.Slice(ix, func(a, b int) bool { return steps[ix[a]].Name < steps[ix[b]].Name })
	}
	sortByName(ready)

	ordered := make([]Step, 0, len(steps))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		ordered = append(ordered, steps[i])

		released := make([]int, 0, len(dependents[i]))
		for _, j := range dependents[i] {
			indegree[j]--
			if indegree[j] == 0 {
				released = append(released, j)
			}
		}
		sortByName(released)
		ready = append(ready, released...)
	}

	if len(ordered) != len(steps) {
		return nil, &types.PackageRegistrationError{Reason: "cyclic step wiring in workflow package"}
	}
	return ordered, nil
}

// workflowOutputs extracts the workflow-level outputs with their
// outputSource wiring
func workflowOutputs(pkg map[string]interface{}) []WorkflowOutput {
	var outputs []WorkflowOutput
	appendOutput := func(id string, body map[string]interface{}) {
		out := WorkflowOutput{ID: id}
		if src, ok := body["outputSource"].(string); ok {
			out.Source = src
		}
		outputs = append(outputs, out)
	}

	switch raw := pkg["outputs"].(type) {
	case []interface{}:
		for _, entry := range raw {
			body, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			if id, ok := body["id"].(string); ok {
				appendOutput(id, body)
			}
		}
	case map[string]interface{}:
		ids := make([]string, 0, len(raw))
		for id := range raw {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if body, ok := raw[id].(map[string]interface{}); ok {
				appendOutput(id, body)
			} else {
				outputs = append(outputs, WorkflowOutput{ID: id})
			}
		}
	}
	return outputs
}

func packageOutputIDs(pkg map[string]interface{}) []string {
	var ids []string
	for _, out := range workflowOutputs(pkg) {
		ids = append(ids, out.ID)
	}
	return ids
}
