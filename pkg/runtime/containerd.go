package runtime

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// DefaultNamespace is the containerd namespace for Trellis
	DefaultNamespace = "trellis"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// stopGracePeriod is how long a killed container gets between
	// SIGTERM and SIGKILL.
	stopGracePeriod = 10 * time.Second
)

// Mount binds a host directory into the container
type Mount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// Spec describes a one-shot application container run
type Spec struct {
	ID      string   // container ID, unique per step run
	Image   string   // image reference to pull and run
	Command []string // argv; empty keeps the image entrypoint
	Env     []string // KEY=VALUE pairs
	WorkDir string   // working directory inside the container
	Mounts  []Mount
	Stdout  string // host file receiving stdout; empty discards
	Stderr  string // host file receiving stderr; empty discards
}

// Result reports how a container run ended
type Result struct {
	ExitCode uint32
	Duration time.Duration
}

// Runner runs application step containers to completion
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
	Close() error
}

// ContainerdRunner implements Runner using containerd
type ContainerdRunner struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRunner creates a new containerd-backed runner
func NewContainerdRunner(socketPath string) (*ContainerdRunner, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRunner{
		client:    client,
		namespace: DefaultNamespace,
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdRunner) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// PullImage pulls a container image from a registry
func (r *ContainerdRunner) PullImage(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	_, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}

	return nil
}

// Run executes the container described by spec and waits for it to exit.
// Cancelling ctx kills the container (SIGTERM, then SIGKILL after the
// grace period). The container and its snapshot are removed afterwards.
func (r *ContainerdRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)
	// Cleanup must survive ctx cancellation
	cleanup := namespaces.WithNamespace(context.WithoutCancel(ctx), r.namespace)

	image, err := r.ensureImage(ctx, spec.Image)
	if err != nil {
		return nil, err
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
	}
	if len(spec.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Command...))
	}
	if spec.WorkDir != "" {
		opts = append(opts, oci.WithProcessCwd(spec.WorkDir))
	}
	if len(spec.Mounts) > 0 {
		mounts := make([]specs.Mount, 0, len(spec.Mounts))
		for _, m := range spec.Mounts {
			options := []string{"rbind"}
			if m.ReadOnly {
				options = append(options, "ro")
			}
			mounts = append(mounts, specs.Mount{
				Source:      m.Source,
				Destination: m.Destination,
				Type:        "bind",
				Options:     options,
			})
		}
		opts = append(opts, oci.WithMounts(mounts))
	}

	container, err := r.client.NewContainer(
		ctx,
		spec.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer container.Delete(cleanup, containerd.WithSnapshotCleanup)

	creator, closeIO, err := ioCreator(spec)
	if err != nil {
		return nil, err
	}
	defer closeIO()

	task, err := container.NewTask(ctx, creator)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	defer task.Delete(cleanup)

	// Wait must be set up before Start so the exit is never missed
	exitCh, err := task.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for task: %w", err)
	}

	started := time.Now()
	if err := task.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start task: %w", err)
	}

	select {
	case exit := <-exitCh:
		code, _, err := exit.Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read exit status: %w", err)
		}
		return &Result{ExitCode: code, Duration: time.Since(started)}, nil

	case <-ctx.Done():
		r.stopTask(cleanup, task, exitCh)
		return nil, ctx.Err()
	}
}

// ensureImage returns the local image, pulling it when missing
func (r *ContainerdRunner) ensureImage(ctx context.Context, imageRef string) (containerd.Image, error) {
	image, err := r.client.GetImage(ctx, imageRef)
	if err == nil {
		return image, nil
	}

	image, err = r.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	return image, nil
}

// stopTask tries a graceful SIGTERM and escalates to SIGKILL after the
// grace period.
func (r *ContainerdRunner) stopTask(ctx context.Context, task containerd.Task, exitCh <-chan containerd.ExitStatus) {
	if err := task.Kill(ctx, syscall.SIGTERM); err != nil {
		return
	}

	select {
	case <-exitCh:
	case <-time.After(stopGracePeriod):
		_ = task.Kill(ctx, syscall.SIGKILL)
		<-exitCh
	}
}

// ioCreator builds the task IO from the spec's stdout/stderr sinks
func ioCreator(spec Spec) (cio.Creator, func(), error) {
	if spec.Stdout == "" && spec.Stderr == "" {
		return cio.NullIO, func() {}, nil
	}

	var files []*os.File
	open := func(path string) (*os.File, error) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log sink %s: %w", path, err)
		}
		files = append(files, f)
		return f, nil
	}
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	var stdout, stderr *os.File
	var err error
	if spec.Stdout != "" {
		if stdout, err = open(spec.Stdout); err != nil {
			closeAll()
			return nil, nil, err
		}
	}
	if spec.Stderr != "" {
		if stderr, err = open(spec.Stderr); err != nil {
			closeAll()
			return nil, nil, err
		}
	}

	var outW, errW *os.File = stdout, stderr
	if outW == nil {
		outW = stderr
	}
	if errW == nil {
		errW = stdout
	}
	return cio.NewCreator(cio.WithStreams(nil, outW, errW)), closeAll, nil
}
