package status

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/trellisproc/trellis/pkg/client"
	"github.com/trellisproc/trellis/pkg/types"
	"github.com/trellisproc/trellis/pkg/wps"
)

// writeInterval is the minimum spacing between XML rewrites for a live
// job. Terminal transitions always write.
const writeInterval = 2 * time.Second

// logTimeFormat is the timestamp layout of job log file lines.
const logTimeFormat = "2006-01-02 15:04:05"

// loggerName labels the origin of job log file lines.
const loggerName = "trellis.job"

// Levels stamped on job log file lines.
const (
	LevelInfo  = "INFO"
	LevelError = "ERROR"
)

// Writer maintains the per-job status artifacts under the served output
// tree: the ExecuteResponse XML document legacy WPS clients poll, its
// <wps_id>.xml alias, and the plain-text job log file.
type Writer struct {
	outputDir string
	outputURL string
	service   string
	interval  time.Duration
	now       func() time.Time

	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	lastWrite time.Time
	flushed   int
}

// NewWriter builds a writer rooted at outputDir whose documents are
// served under outputURL. serviceInstance is the capabilities URL
// stamped on each document; empty omits the attribute.
func NewWriter(outputDir, outputURL, serviceInstance string) *Writer {
	return &Writer{
		outputDir: filepath.Clean(outputDir),
		outputURL: strings.TrimRight(outputURL, "/"),
		service:   serviceInstance,
		interval:  writeInterval,
		now:       time.Now,
		jobs:      make(map[string]*jobState),
	}
}

// Location returns the public URL of the job's XML status document.
func (w *Writer) Location(jobID string) string {
	return w.outputURL + "/" + jobID + ".xml"
}

// Path returns the local path of the job's XML status document.
func (w *Writer) Path(jobID string) string {
	return filepath.Join(w.outputDir, jobID+".xml")
}

// LogPath returns the local path of the job's log file.
func (w *Writer) LogPath(jobID string) string {
	return filepath.Join(w.outputDir, jobID+".log")
}

// Update rewrites the XML status document unless one was written less
// than the throttle interval ago. Terminal states always write.
func (w *Writer) Update(job *types.Job, title string) error {
	w.mu.Lock()
	st := w.state(job.ID)
	if !job.Status.Terminal() && w.now().Sub(st.lastWrite) < w.interval {
		w.mu.Unlock()
		return nil
	}
	st.lastWrite = w.now()
	w.mu.Unlock()
	return w.Write(job, title)
}

// Write renders and stores the ExecuteResponse XML document for the
// job, plus the <wps_id>.xml alias when the job carries one. Unlike
// Update it never throttles.
func (w *Writer) Write(job *types.Job, title string) error {
	doc := &wps.StatusDocument{
		ProcessID:       job.ProcessID,
		Title:           title,
		State:           wps.StateForJobStatus(job.Status),
		Percent:         job.Progress,
		Message:         job.StatusMessage,
		CreationTime:    job.Created,
		StatusLocation:  w.Location(job.ID),
		ServiceInstance: w.service,
		Exceptions:      job.Exceptions,
		Outputs:         job.Results,
	}
	body, err := wps.RenderStatusDocument(doc)
	if err != nil {
		return fmt.Errorf("render status for job %s: %w", job.ID, err)
	}
	if err := w.writeFile(w.Path(job.ID), body); err != nil {
		return fmt.Errorf("write status for job %s: %w", job.ID, err)
	}
	if job.WPSID != "" && job.WPSID != job.ID {
		if err := w.writeFile(w.Path(job.WPSID), body); err != nil {
			return fmt.Errorf("write status alias for job %s: %w", job.ID, err)
		}
	}
	return nil
}

// SyncLog appends the job log lines not yet mirrored into the job's
// log file, one "[timestamp] LEVEL [logger] message" line each. level
// applies to the newly flushed lines; empty means INFO.
func (w *Writer) SyncLog(job *types.Job, level string) error {
	if level == "" {
		level = LevelInfo
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	st := w.state(job.ID)
	if st.flushed >= len(job.Logs) {
		return nil
	}
	pending := job.Logs[st.flushed:]

	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("sync log for job %s: %w", job.ID, err)
	}
	f, err := os.OpenFile(w.LogPath(job.ID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("sync log for job %s: %w", job.ID, err)
	}
	defer f.Close()

	stamp := w.now().UTC().Format(logTimeFormat)
	for _, line := range pending {
		if _, err := fmt.Fprintf(f, "[%s] %-8s [%s] %s\n", stamp, level, loggerName, line); err != nil {
			return fmt.Errorf("sync log for job %s: %w", job.ID, err)
		}
		st.flushed++
	}
	return nil
}

// Forget drops the bookkeeping for a finished job. The status and log
// files stay on disk.
func (w *Writer) Forget(jobID string) {
	w.mu.Lock()
	delete(w.jobs, jobID)
	w.mu.Unlock()
}

// state returns the tracking entry for a job, creating it on first use.
// Callers hold w.mu.
func (w *Writer) state(jobID string) *jobState {
	st, ok := w.jobs[jobID]
	if !ok {
		st = &jobState{}
		w.jobs[jobID] = st
	}
	return st
}

// Clients poll the document while it is rewritten, so the file is
// replaced atomically.
func (w *Writer) writeFile(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Document renders the OGC API Processes status document for a job.
// base is the public service root used to build the navigation links.
func Document(job *types.Job, base string) *client.StatusInfo {
	self := strings.TrimRight(base, "/") + "/jobs/" + job.ID
	info := &client.StatusInfo{
		JobID:     job.ID,
		ProcessID: job.ProcessID,
		Status:    string(job.Status),
		Message:   job.StatusMessage,
		Progress:  job.Progress,
		Created:   &job.Created,
		Started:   job.Started,
		Finished:  job.Finished,
		Links: []client.Link{
			{Href: self, Rel: "self", Type: "application/json", Title: "job status"},
			{Href: self + "/logs", Rel: "logs", Type: "application/json", Title: "job logs"},
		},
	}
	switch job.Status {
	case types.JobSucceeded:
		info.Links = append(info.Links, client.Link{
			Href: self + "/results", Rel: "results", Type: "application/json", Title: "job results",
		})
	case types.JobFailed, types.JobException:
		info.Links = append(info.Links, client.Link{
			Href: self + "/exceptions", Rel: "exceptions", Type: "application/json", Title: "job exceptions",
		})
	}
	return info
}

// Results renders the results listing document for a job.
func Results(job *types.Job) *client.ResultsDocument {
	return &client.ResultsDocument{Outputs: job.Results}
}
