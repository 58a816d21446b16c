package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an execution
type JobStatus string

const (
	JobAccepted  JobStatus = "accepted"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobDismissed JobStatus = "dismissed"
	JobException JobStatus = "exception"
	JobUnknown   JobStatus = "unknown"
)

// statusTransitions holds the allowed next states per current state.
// Terminal states have no entry.
var statusTransitions = map[JobStatus][]JobStatus{
	JobAccepted: {JobRunning, JobDismissed},
	JobRunning:  {JobRunning, JobSucceeded, JobFailed, JobDismissed, JobException},
}

// Terminal reports whether the status admits no further transitions
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobDismissed, JobException:
		return true
	}
	return false
}

// Valid reports whether s is a known status value
func (s JobStatus) Valid() bool {
	switch s {
	case JobAccepted, JobRunning, JobSucceeded, JobFailed, JobDismissed, JobException, JobUnknown:
		return true
	}
	return false
}

// CanTransition reports whether s -> next is an allowed move
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Job tracks one execution of a process from submission to completion
type Job struct {
	ID                string      `json:"id"`
	TaskID            string      `json:"task_id"`
	WPSID             string      `json:"wps_id,omitempty"`
	ProcessID         string      `json:"process_id"`
	Service           string      `json:"service,omitempty"`
	UserID            string      `json:"user_id,omitempty"`
	Status            JobStatus   `json:"status"`
	Progress          int         `json:"progress"`
	StatusMessage     string      `json:"status_message,omitempty"`
	StatusLocation    string      `json:"status_location,omitempty"`
	Logs              []string    `json:"logs,omitempty"`
	Exceptions        []Exception `json:"exceptions,omitempty"`
	Inputs            []IOEntry   `json:"inputs,omitempty"`
	Results           []IOEntry   `json:"results,omitempty"`
	Created           time.Time   `json:"created"`
	Started           *time.Time  `json:"started,omitempty"`
	Finished          *time.Time  `json:"finished,omitempty"`
	ExecuteAsync      bool        `json:"execute_async"`
	IsWorkflow        bool        `json:"is_workflow"`
	Context           string      `json:"context,omitempty"`
	Access            Visibility  `json:"access,omitempty"`
	NotificationEmail string      `json:"notification_email,omitempty"`
	Tags              []string    `json:"tags,omitempty"`
	Request           string      `json:"request,omitempty"`
	Response          string      `json:"response,omitempty"`
}

// NewJob creates a job in the accepted state with fresh identifiers
func NewJob(processID string) *Job {
	now := time.Now().UTC()
	id := uuid.New().String()
	return &Job{
		ID:        id,
		TaskID:    id,
		ProcessID: processID,
		Status:    JobAccepted,
		Progress:  0,
		Access:    VisibilityPrivate,
		Created:   now,
	}
}

// SetStatus moves the job to next, enforcing the transition table.
// Entering running for the first time stamps Started; entering a terminal
// state stamps Finished.
func (j *Job) SetStatus(next JobStatus) error {
	if !next.Valid() {
		return fmt.Errorf("invalid job status %q", next)
	}
	if j.Status == next && next != JobRunning {
		return nil
	}
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("job %s: illegal status transition %s -> %s", j.ID, j.Status, next)
	}
	now := time.Now().UTC()
	if next == JobRunning && j.Started == nil {
		j.Started = &now
	}
	if next.Terminal() {
		j.Finished = &now
	}
	j.Status = next
	return nil
}

// SetProgress records progress, clamped to [0,100] and never decreasing
func (j *Job) SetProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress < j.Progress {
		return
	}
	j.Progress = progress
}

// SaveLog appends a formatted log line unless it repeats the previous one.
// The line carries the elapsed time and progress the way the status
// documents render them.
func (j *Job) SaveLog(message string) {
	if message == "" {
		message = j.StatusMessage
	}
	if message == "" {
		return
	}
	line := fmt.Sprintf("%s %3d%%: %s", formatDuration(j.Duration()), j.Progress, message)
	if n := len(j.Logs); n > 0 && j.Logs[n-1] == line {
		return
	}
	j.Logs = append(j.Logs, line)
}

// AddException records a structured error against the job
func (j *Job) AddException(code, locator, text string) {
	j.Exceptions = append(j.Exceptions, Exception{Code: code, Locator: locator, Text: text})
}

// Duration is the elapsed execution time: Started to Finished when both are
// stamped, Started to now while running, zero before the job starts
func (j *Job) Duration() time.Duration {
	if j.Started == nil {
		return 0
	}
	if j.Finished != nil {
		return j.Finished.Sub(*j.Started)
	}
	return time.Since(*j.Started)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
