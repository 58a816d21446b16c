package remote

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/trellisproc/trellis/pkg/iomodel"
	"github.com/trellisproc/trellis/pkg/log"
	"github.com/trellisproc/trellis/pkg/pack"
	"github.com/trellisproc/trellis/pkg/runtime"
	"github.com/trellisproc/trellis/pkg/staging"
	"github.com/trellisproc/trellis/pkg/types"
)

// LocalContainer runs one step's application package in a container on
// this host. The step workdir is mounted read-write at its own path so
// staged input paths stay valid inside the container; stdout and stderr
// are always captured to files under the workdir.
type LocalContainer struct {
	Base
	Staging

	step    pack.Step
	runner  runtime.Runner
	jobID   string
	workDir string
	log     zerolog.Logger

	inputs   []*iomodel.WPSIO
	outputs  []*iomodel.WPSIO
	resultCh chan containerResult
}

type containerResult struct {
	result *runtime.Result
	err    error
}

// NewLocalContainer builds the adapter for one plan step
func NewLocalContainer(step pack.Step, runner runtime.Runner, stager *staging.Stager, jobID, workDir string) *LocalContainer {
	return &LocalContainer{
		Staging: Staging{Stager: stager},
		step:    step,
		runner:  runner,
		jobID:   jobID,
		workDir: filepath.Clean(workDir),
		log:     log.WithComponent("remote.container"),
	}
}

// StdoutPath is where the container's stdout lands
func (p *LocalContainer) StdoutPath() string { return filepath.Join(p.workDir, "stdout.log") }

// StderrPath is where the container's stderr lands
func (p *LocalContainer) StderrPath() string { return filepath.Join(p.workDir, "stderr.log") }

// Prepare validates the container image hint and derives the typed I/O
// the argv builder and output discovery work from
func (p *LocalContainer) Prepare(_ context.Context) error {
	if p.step.Hints.Docker == "" {
		return &types.PackageTypeError{Field: p.step.Name, Reason: "application package carries no container image"}
	}
	inputs, outputs, err := pack.DeriveIO(p.step.Package)
	if err != nil {
		return err
	}
	p.inputs = inputs
	p.outputs = outputs
	return nil
}

// Dispatch renders the command line, starts the container run in the
// background and returns the container id as the monitor reference
func (p *LocalContainer) Dispatch(ctx context.Context, inputs []types.IOEntry, _ []ExpectedOutput) (string, error) {
	argv, err := p.buildArgs(inputs)
	if err != nil {
		return "", err
	}

	id := containerID(p.jobID, p.step.Name)
	spec := runtime.Spec{
		ID:      id,
		Image:   p.step.Hints.Docker,
		Command: argv,
		WorkDir: p.workDir,
		Mounts:  []runtime.Mount{{Source: p.workDir, Destination: p.workDir}},
		Stdout:  p.StdoutPath(),
		Stderr:  p.StderrPath(),
	}

	p.log.Info().
		Str("container", id).
		Str("image", spec.Image).
		Strs("command", argv).
		Msg("launching container")

	p.resultCh = make(chan containerResult, 1)
	go func() {
		result, err := p.runner.Run(ctx, spec)
		p.resultCh <- containerResult{result: result, err: err}
	}()
	return id, nil
}

// Monitor blocks on the container exit; success is exit code zero
func (p *LocalContainer) Monitor(ctx context.Context, monitorRef string, _ Reporter) (bool, error) {
	select {
	case r := <-p.resultCh:
		if r.err != nil {
			return false, r.err
		}
		p.log.Info().
			Str("container", monitorRef).
			Uint32("exit_code", r.result.ExitCode).
			Dur("duration", r.result.Duration).
			Msg("container finished")
		if r.result.ExitCode != 0 {
			return false, fmt.Errorf("container exited with code %d", r.result.ExitCode)
		}
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// GetResults discovers produced files under the workdir through each
// expected output's glob binding
func (p *LocalContainer) GetResults(_ context.Context, _ string, outputs []ExpectedOutput) ([]types.IOEntry, error) {
	entries := make([]types.IOEntry, 0, len(outputs))
	for _, want := range outputs {
		def := p.describedOutput(want.ID)
		if def == nil {
			return nil, fmt.Errorf("package declares no %q output", want.ID)
		}

		patterns := globPatterns(def.Binding)
		if len(patterns) == 0 {
			return nil, fmt.Errorf("output %q has no glob binding", want.ID)
		}

		var matches []string
		for _, pattern := range patterns {
			found, err := filepath.Glob(filepath.Join(p.workDir, pattern))
			if err != nil {
				return nil, fmt.Errorf("output %q: bad glob %q: %w", want.ID, pattern, err)
			}
			matches = append(matches, found...)
		}
		sort.Strings(matches)

		if len(matches) == 0 {
			return nil, fmt.Errorf("container produced no file for output %q", want.ID)
		}

		entry := types.IOEntry{ID: want.ID, MimeType: want.MimeType}
		if len(matches) == 1 {
			entry.Href = matches[0]
		} else {
			entry.Data = make([]interface{}, len(matches))
			for i, m := range matches {
				entry.Data[i] = m
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (p *LocalContainer) describedOutput(id string) *iomodel.WPSIO {
	for _, out := range p.outputs {
		if out.Identifier == id {
			return out
		}
	}
	return nil
}

// buildArgs renders the package command line: baseCommand, then fixed
// arguments, then bound inputs ordered by position with ties broken by
// identifier. Bound values carry their prefix flag when one is declared;
// booleans emit the flag alone and drop out entirely when false.
func (p *LocalContainer) buildArgs(inputs []types.IOEntry) ([]string, error) {
	args := stringList(p.step.Package["baseCommand"])
	args = append(args, stringList(p.step.Package["arguments"])...)

	byID := make(map[string]types.IOEntry, len(inputs))
	for _, in := range inputs {
		byID[in.ID] = in
	}

	type boundArg struct {
		position int
		id       string
		prefix   string
		values   []string
		flagOnly bool
	}
	var bound []boundArg

	for _, def := range p.inputs {
		if def.Binding == nil {
			continue
		}
		entry, supplied := byID[def.Identifier]
		if !supplied {
			if def.Default != nil {
				entry = types.IOEntry{ID: def.Identifier, Value: def.Default}
			} else if def.MinOccurs == 0 {
				continue
			} else {
				return nil, fmt.Errorf("required input %q was not supplied", def.Identifier)
			}
		}

		b := boundArg{id: def.Identifier}
		if pos, ok := def.Binding["position"]; ok {
			b.position = toInt(pos)
		}
		b.prefix, _ = def.Binding["prefix"].(string)

		switch {
		case len(entry.Data) > 0:
			for _, raw := range entry.Data {
				b.values = append(b.values, fmt.Sprintf("%v", raw))
			}
		case entry.Href != "":
			b.values = []string{entry.Href}
		case def.DataType == "boolean":
			if !truthy(entry.Value) {
				continue
			}
			if b.prefix == "" {
				return nil, fmt.Errorf("boolean input %q has no prefix to emit", def.Identifier)
			}
			b.flagOnly = true
		default:
			b.values = []string{fmt.Sprintf("%v", entry.Value)}
		}
		bound = append(bound, b)
	}

	sort.SliceStable(bound, func(i, j int) bool {
		if bound[i].position != bound[j].position {
			return bound[i].position < bound[j].position
		}
		return bound[i].id < bound[j].id
	})

	for _, b := range bound {
		if b.prefix != "" {
			args = append(args, b.prefix)
		}
		if !b.flagOnly {
			args = append(args, b.values...)
		}
	}

	if len(args) == 0 {
		return nil, &types.PackageTypeError{Field: p.step.Name, Reason: "package defines no command"}
	}
	return args, nil
}

// globPatterns accepts the string and list spellings of a glob binding
func globPatterns(binding map[string]interface{}) []string {
	if binding == nil {
		return nil
	}
	switch g := binding["glob"].(type) {
	case string:
		if g != "" {
			return []string{g}
		}
	case []interface{}:
		var patterns []string
		for _, raw := range g {
			if s, ok := raw.(string); ok && s != "" {
				patterns = append(patterns, s)
			}
		}
		return patterns
	}
	return nil
}

func stringList(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out
	}
	return nil
}

func toInt(raw interface{}) int {
	switch v := raw.(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func truthy(raw interface{}) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

// containerID derives a runtime-safe id from the job and step names
func containerID(jobID, step string) string {
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(step) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-._")
	if name == "" {
		name = "step"
	}
	return short + "-" + name
}
