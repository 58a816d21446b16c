package deploy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/trellisproc/trellis/pkg/client"
	"github.com/trellisproc/trellis/pkg/pack"
	"github.com/trellisproc/trellis/pkg/types"
)

// Deployment profiles stamped on the deploy payload, by package class.
const (
	ProfileDockerizedApplication = "http://www.opengis.net/profiles/eoc/dockerizedApplication"
	ProfileWorkflow              = "http://www.opengis.net/profiles/eoc/workflow"
)

// Options describes one process deployment. Exactly one of PackagePath
// or PackageHref supplies the execution unit; ID is required unless the
// package document carries an id of its own.
type Options struct {
	ID          string
	Title       string
	Abstract    string
	Version     string
	Keywords    []string
	PackagePath string
	PackageHref string
	Visibility  types.Visibility
}

// ReadPackage loads a package description from a local file. The
// extension gate and the YAML-superset decoding match what the server
// applies to referenced units, so a rejected file fails here instead of
// after the upload.
func ReadPackage(path string) (map[string]interface{}, error) {
	if err := pack.CheckReference(path); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read package %s: %w", path, err)
	}
	return pack.Decode(content)
}

// BuildPayload assembles the deploy request body from the options. A
// local package file is inlined as the execution unit; an href is passed
// through for the server to resolve.
func BuildPayload(opts Options) (*client.DeployPayload, error) {
	if opts.PackagePath == "" && opts.PackageHref == "" {
		return nil, fmt.Errorf("deploy: a package file or href is required")
	}
	if opts.PackagePath != "" && opts.PackageHref != "" {
		return nil, fmt.Errorf("deploy: package file and href are mutually exclusive")
	}

	unit := client.ExecutionUnit{Href: opts.PackageHref}
	profile := ProfileDockerizedApplication
	if opts.PackagePath != "" {
		pkg, err := ReadPackage(opts.PackagePath)
		if err != nil {
			return nil, err
		}
		kind, err := pack.Classify(pkg)
		if err != nil {
			return nil, err
		}
		if kind == types.ProcessKindWorkflow {
			profile = ProfileWorkflow
		}
		unit = client.ExecutionUnit{Unit: pkg}

		if opts.ID == "" {
			if id, ok := pkg["id"].(string); ok {
				opts.ID = id
			}
		}
	}
	if opts.ID == "" {
		return nil, fmt.Errorf("deploy: a process identifier is required")
	}

	desc := map[string]interface{}{"id": opts.ID}
	if opts.Title != "" {
		desc["title"] = opts.Title
	}
	if opts.Abstract != "" {
		desc["abstract"] = opts.Abstract
	}
	if opts.Version != "" {
		desc["version"] = opts.Version
	}
	if len(opts.Keywords) > 0 {
		desc["keywords"] = opts.Keywords
	}
	if opts.Visibility != "" {
		desc["visibility"] = string(opts.Visibility)
	}

	return &client.DeployPayload{
		ProcessDescription:    map[string]interface{}{"process": desc},
		ExecutionUnit:         []client.ExecutionUnit{unit},
		DeploymentProfileName: profile,
	}, nil
}

// ParseInputs turns CLI input arguments into execute entries. Each
// argument is id=value; a value starting with '@' is a reference
// (id=@https://host/file.nc), anything else is passed as a literal.
func ParseInputs(args []string) ([]types.IOEntry, error) {
	entries := make([]types.IOEntry, 0, len(args))
	for _, arg := range args {
		id, value, ok := strings.Cut(arg, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("input %q is not id=value", arg)
		}
		entry := types.IOEntry{ID: id}
		if strings.HasPrefix(value, "@") {
			entry.Href = strings.TrimPrefix(value, "@")
		} else {
			entry.Value = value
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ParseOutputs turns CLI output arguments into output requests. Each
// argument is id or id=reference|value.
func ParseOutputs(args []string) ([]client.OutputRequest, error) {
	outputs := make([]client.OutputRequest, 0, len(args))
	for _, arg := range args {
		id, mode, _ := strings.Cut(arg, "=")
		if id == "" {
			return nil, fmt.Errorf("output %q carries no identifier", arg)
		}
		switch mode {
		case "", "reference", "value":
		default:
			return nil, fmt.Errorf("output %q: transmission mode must be reference or value", arg)
		}
		outputs = append(outputs, client.OutputRequest{ID: id, TransmissionMode: mode})
	}
	return outputs, nil
}

// Watch polls the job's status location until it reaches a terminal
// state, invoking report on every observed change. It returns the final
// status document.
func Watch(ctx context.Context, c *client.Client, location string, every time.Duration, report func(*client.StatusInfo)) (*client.StatusInfo, error) {
	if every <= 0 {
		every = 2 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var lastStatus string
	lastProgress := -1
	for {
		info, err := c.JobStatus(ctx, location)
		if err != nil {
			return nil, err
		}
		if report != nil && (info.Status != lastStatus || info.Progress != lastProgress) {
			report(info)
			lastStatus, lastProgress = info.Status, info.Progress
		}
		if info.JobStatus().Terminal() {
			return info, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return info, ctx.Err()
		}
	}
}
