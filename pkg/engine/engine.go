package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/trellisproc/trellis/pkg/datasource"
	"github.com/trellisproc/trellis/pkg/events"
	"github.com/trellisproc/trellis/pkg/log"
	"github.com/trellisproc/trellis/pkg/metrics"
	"github.com/trellisproc/trellis/pkg/pack"
	"github.com/trellisproc/trellis/pkg/remote"
	"github.com/trellisproc/trellis/pkg/runtime"
	"github.com/trellisproc/trellis/pkg/staging"
	"github.com/trellisproc/trellis/pkg/status"
	"github.com/trellisproc/trellis/pkg/storage"
	"github.com/trellisproc/trellis/pkg/types"
	"github.com/trellisproc/trellis/pkg/workspace"
	"github.com/trellisproc/trellis/pkg/wps"
)

// Job-level progress milestones. Step execution occupies the window
// between ProgressRunSteps and ProgressStepsDone; each step's adapter
// schedule is remapped into its slice of that window.
const (
	ProgressPrepLog      = 1
	ProgressLaunching    = 2
	ProgressLoading      = 5
	ProgressGetInput     = 6
	ProgressConvertInput = 8
	ProgressRunSteps     = 10
	ProgressStepsDone    = 95
	ProgressPrepOutput   = 98
	ProgressDone         = 100
)

// DeploymentProfileDocker marks auto-deployed step packages as
// containerized applications on the target deployment service.
const DeploymentProfileDocker = "http://www.opengis.net/profiles/eoc/dockerizedApplication"

// ErrJobFinished is returned when a dismissal targets a job already in a
// terminal state.
var ErrJobFinished = errors.New("job already finished")

// Notifier delivers terminal-state notifications. A returned error is
// recorded in the job log; it never fails the job.
type Notifier interface {
	Notify(ctx context.Context, job *types.Job) error
}

// Config wires the engine's collaborators. Store, Loader, Stager,
// Status and Workspaces are required; the rest degrade gracefully when
// absent (no local runtime, no events, no notifications).
type Config struct {
	Store      storage.Store
	Loader     *pack.Loader
	Stager     *staging.Stager
	Status     *status.Writer
	Sources    *datasource.Registry
	Workspaces workspace.Driver
	Runner     runtime.Runner
	Clients    *wps.ClientCache
	Broker     *events.Broker
	Notifier   Notifier
	HTTPClient *http.Client

	// EMS dispatches steps to remote deployment services instead of
	// running containers locally.
	EMS       bool
	OutputDir string

	Workers      int
	JobTimeout   time.Duration
	Retention    time.Duration
	ScheduleTick time.Duration
	JanitorTick  time.Duration
}

// Engine claims accepted jobs from the store and executes them on a
// bounded worker pool, owning every write to a claimed job record.
type Engine struct {
	store    storage.Store
	loader   *pack.Loader
	stager   *staging.Stager
	status   *status.Writer
	sources  *datasource.Registry
	spaces   workspace.Driver
	runner   runtime.Runner
	clients  *wps.ClientCache
	broker   *events.Broker
	notifier Notifier
	http     *http.Client

	ems        bool
	outputDir  string
	jobTimeout time.Duration
	retention  time.Duration
	tick       time.Duration
	janitorTck time.Duration

	slots *semaphore.Weighted
	log   zerolog.Logger

	mu     sync.Mutex
	active map[string]*jobHandle

	kickCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// jobHandle tracks one claimed job: the cancellation of its worker, the
// adapter currently dispatching a step and whether a dismissal was
// requested.
type jobHandle struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	adapter   remote.Process
	dismissed bool
	// stopTarget is the adapter that was dispatching when the dismissal
	// fired. The worker clears the live adapter as each step settles, so
	// the target is pinned here at cancellation time.
	stopTarget remote.Process
}

func (h *jobHandle) setAdapter(p remote.Process) {
	h.mu.Lock()
	h.adapter = p
	h.mu.Unlock()
}

func (h *jobHandle) markDismissed() {
	h.mu.Lock()
	h.dismissed = true
	h.stopTarget = h.adapter
	h.mu.Unlock()
}

func (h *jobHandle) dismissTarget() remote.Process {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopTarget
}

func (h *jobHandle) isDismissed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dismissed
}

// New builds an engine from its collaborators
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("engine: store is required")
	case cfg.Loader == nil:
		return nil, fmt.Errorf("engine: package loader is required")
	case cfg.Stager == nil:
		return nil, fmt.Errorf("engine: stager is required")
	case cfg.Status == nil:
		return nil, fmt.Errorf("engine: status writer is required")
	case cfg.Workspaces == nil:
		return nil, fmt.Errorf("engine: workspace driver is required")
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Clients == nil {
		cfg.Clients = wps.NewClientCache(cfg.HTTPClient)
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.ScheduleTick <= 0 {
		cfg.ScheduleTick = 2 * time.Second
	}
	if cfg.JanitorTick <= 0 {
		cfg.JanitorTick = time.Minute
	}

	return &Engine{
		store:      cfg.Store,
		loader:     cfg.Loader,
		stager:     cfg.Stager,
		status:     cfg.Status,
		sources:    cfg.Sources,
		spaces:     cfg.Workspaces,
		runner:     cfg.Runner,
		clients:    cfg.Clients,
		broker:     cfg.Broker,
		notifier:   cfg.Notifier,
		http:       cfg.HTTPClient,
		ems:        cfg.EMS,
		outputDir:  cfg.OutputDir,
		jobTimeout: cfg.JobTimeout,
		retention:  cfg.Retention,
		tick:       cfg.ScheduleTick,
		janitorTck: cfg.JanitorTick,
		slots:      semaphore.NewWeighted(int64(workers)),
		log:        log.WithComponent("engine"),
		active:     make(map[string]*jobHandle),
		kickCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}, nil
}

// Start launches the scheduler and janitor loops
func (e *Engine) Start() {
	e.wg.Add(2)
	go e.scheduleLoop()
	go e.janitorLoop()
}

// Stop halts the loops, cancels every in-flight job and waits for the
// workers to return
func (e *Engine) Stop() {
	close(e.stopCh)

	e.mu.Lock()
	for _, handle := range e.active {
		handle.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
}

// Accept persists a freshly submitted job, stamps its status location
// and nudges the scheduler
func (e *Engine) Accept(job *types.Job, title string) error {
	job.StatusLocation = e.status.Location(job.ID)
	if err := e.store.SaveJob(job); err != nil {
		return fmt.Errorf("accept job %s: %w", job.ID, err)
	}
	metrics.JobsSubmitted.Inc()
	e.publish(events.EventJobAccepted, job.ID, "job accepted")
	if err := e.status.Write(job, title); err != nil {
		e.log.Warn().Err(err).Str("job_id", job.ID).Msg("cannot write initial status document")
	}
	e.Kick()
	return nil
}

// Kick asks the scheduler to scan for claimable jobs without waiting
// for the next tick
func (e *Engine) Kick() {
	select {
	case e.kickCh <- struct{}{}:
	default:
	}
}

// WaitForJob blocks until the job reaches a terminal state and returns
// its final record. It is how synchronous execution requests wait out
// the worker.
func (e *Engine) WaitForJob(ctx context.Context, jobID string) (*types.Job, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, err := e.store.GetJob(jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return job, ctx.Err()
		}
	}
}

// DismissJob cancels a job. Claimed jobs are interrupted and their
// worker finishes the bookkeeping; unclaimed jobs transition directly.
func (e *Engine) DismissJob(ctx context.Context, jobID string) error {
	e.mu.Lock()
	handle := e.active[jobID]
	e.mu.Unlock()

	if handle != nil {
		handle.markDismissed()
		handle.cancel()
		return nil
	}

	job, err := e.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("dismiss job %s: %w", jobID, ErrJobFinished)
	}
	if err := job.SetStatus(types.JobDismissed); err != nil {
		return err
	}
	job.StatusMessage = "Job dismissed."
	job.SaveLog("")
	metrics.JobsDismissed.Inc()
	e.finalize(job, e.jobTitle(job), events.EventJobDismissed, "job dismissed")
	return nil
}

// scheduleLoop periodically claims accepted jobs into free worker slots
func (e *Engine) scheduleLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-e.kickCh:
		case <-e.stopCh:
			return
		}
		if err := e.schedule(); err != nil {
			e.log.Error().Err(err).Msg("job scan failed")
		}
	}
}

// schedule runs one claim cycle
func (e *Engine) schedule() error {
	jobs, _, err := e.store.FindJobs(storage.JobFilter{
		Status: []types.JobStatus{types.JobAccepted},
		Sort:   storage.SortCreated,
	})
	if err != nil {
		return fmt.Errorf("list accepted jobs: %w", err)
	}

	for _, job := range jobs {
		if !e.slots.TryAcquire(1) {
			return nil
		}
		handle, ok := e.claim(job.ID)
		if !ok {
			e.slots.Release(1)
			continue
		}

		e.wg.Add(1)
		go func(job *types.Job, handle *jobHandle) {
			defer e.wg.Done()
			defer e.slots.Release(1)
			defer e.release(job.ID)
			defer handle.cancel()
			e.runJob(handle.ctx, handle, job)
		}(job, handle)
	}
	return nil
}

// claim registers a handle for the job unless one already exists
func (e *Engine) claim(jobID string) (*jobHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.active[jobID]; exists {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.jobTimeout)
	handle := &jobHandle{ctx: ctx, cancel: cancel}
	e.active[jobID] = handle
	return handle, true
}

func (e *Engine) release(jobID string) {
	e.mu.Lock()
	delete(e.active, jobID)
	e.mu.Unlock()
}

func (e *Engine) isActive(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[jobID]
	return ok
}

func (e *Engine) publish(eventType events.EventType, jobID, message string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(events.NewEvent(eventType, jobID, message))
}
