package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultBasePath is the base directory for job workspaces
	DefaultBasePath = "/var/lib/trellis/workspaces"
)

// Workspace is the scratch layout of one job: a root directory with
// separate trees for staged inputs and produced outputs.
type Workspace struct {
	JobID      string
	Root       string
	InputsDir  string
	OutputsDir string
}

// Info describes an allocated workspace for retention decisions
type Info struct {
	JobID   string
	Path    string
	ModTime time.Time
}

// Driver defines the interface for job workspace allocation
type Driver interface {
	// Create allocates the workspace directories for a job
	Create(jobID string) (*Workspace, error)

	// Get returns the workspace layout without touching the filesystem
	Get(jobID string) *Workspace

	// Delete removes a job workspace and all its contents
	Delete(jobID string) error

	// List enumerates allocated workspaces
	List() ([]Info, error)
}

// LocalDriver allocates workspaces under a local base directory
type LocalDriver struct {
	basePath string
}

// NewLocalDriver creates a new local workspace driver
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		basePath = DefaultBasePath
	}

	// Ensure base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	return &LocalDriver{
		basePath: basePath,
	}, nil
}

// Create allocates the workspace directories for a job
func (d *LocalDriver) Create(jobID string) (*Workspace, error) {
	ws := d.Get(jobID)

	for _, dir := range []string{ws.Root, ws.InputsDir, ws.OutputsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create workspace directory: %w", err)
		}
	}

	return ws, nil
}

// Get returns the workspace layout for a job
func (d *LocalDriver) Get(jobID string) *Workspace {
	root := filepath.Join(d.basePath, jobID)
	return &Workspace{
		JobID:      jobID,
		Root:       root,
		InputsDir:  filepath.Join(root, "inputs"),
		OutputsDir: filepath.Join(root, "outputs"),
	}
}

// Delete removes a job workspace and all its contents
func (d *LocalDriver) Delete(jobID string) error {
	root := filepath.Join(d.basePath, jobID)

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil // Already deleted
	}

	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}

	return nil
}

// List enumerates allocated workspaces with their modification times so
// the janitor can apply retention.
func (d *LocalDriver) List() ([]Info, error) {
	entries, err := os.ReadDir(d.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			JobID:   entry.Name(),
			Path:    filepath.Join(d.basePath, entry.Name()),
			ModTime: fi.ModTime(),
		})
	}
	return infos, nil
}
