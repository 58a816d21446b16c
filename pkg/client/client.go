package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/trellisproc/trellis/pkg/types"
)

// defaultTimeout bounds one control-plane round trip; monitoring loops
// pace themselves and pass their own contexts
const defaultTimeout = 30 * time.Second

// Client talks OGC API - Processes to a remote endpoint, either a peer
// deployment service or this service itself from the CLI
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates a client for the endpoint base URL. A nil
// httpClient gets the default control timeout. The token, when
// non-empty, is sent as a bearer credential on every request.
func NewClient(base string, httpClient *http.Client, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  httpClient,
	}
}

// Base returns the endpoint URL this client targets
func (c *Client) Base() string { return c.base }

// APIError is a non-2xx response decoded from the JSON error body
type APIError struct {
	Status      int    `json:"-"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("remote returned %d %s: %s", e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("remote returned %d", e.Status)
}

// DeployPayload is the deploy request body
type DeployPayload struct {
	ProcessDescription    map[string]interface{} `json:"processDescription"`
	ExecutionUnit         []ExecutionUnit        `json:"executionUnit"`
	DeploymentProfileName string                 `json:"deploymentProfileName,omitempty"`
}

// ExecutionUnit carries the application package inline or by reference
type ExecutionUnit struct {
	Unit map[string]interface{} `json:"unit,omitempty"`
	Href string                 `json:"href,omitempty"`
}

// ProcessSummary is one entry of a process listing or description
type ProcessSummary struct {
	ID         string                   `json:"id"`
	Title      string                   `json:"title,omitempty"`
	Abstract   string                   `json:"abstract,omitempty"`
	Version    string                   `json:"version,omitempty"`
	Keywords   []string                 `json:"keywords,omitempty"`
	Inputs     []map[string]interface{} `json:"inputs,omitempty"`
	Outputs    []map[string]interface{} `json:"outputs,omitempty"`
	Visibility string                   `json:"visibility,omitempty"`
}

// ExecuteRequest is the execute envelope
type ExecuteRequest struct {
	Mode     string          `json:"mode,omitempty"`
	Response string          `json:"response,omitempty"`
	Inputs   []types.IOEntry `json:"inputs,omitempty"`
	Outputs  []OutputRequest `json:"outputs,omitempty"`
}

// OutputRequest selects how one output comes back
type OutputRequest struct {
	ID               string `json:"id"`
	TransmissionMode string `json:"transmissionMode,omitempty"`
}

// SubmitResult is the execute response body; Location mirrors the
// Location response header when the body carries one
type SubmitResult struct {
	JobID    string `json:"jobID"`
	Status   string `json:"status"`
	Location string `json:"location,omitempty"`
}

// Link is a typed relation in a status document
type Link struct {
	Href  string `json:"href"`
	Rel   string `json:"rel,omitempty"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// StatusInfo is a job status document
type StatusInfo struct {
	JobID     string     `json:"jobID"`
	ProcessID string     `json:"processID,omitempty"`
	Status    string     `json:"status"`
	Message   string     `json:"message,omitempty"`
	Progress  int        `json:"progress"`
	Created   *time.Time `json:"created,omitempty"`
	Started   *time.Time `json:"started,omitempty"`
	Finished  *time.Time `json:"finished,omitempty"`
	Links     []Link     `json:"links,omitempty"`
}

// JobStatus maps the document status onto the job state machine,
// tolerating the spellings other implementations use
func (s *StatusInfo) JobStatus() types.JobStatus {
	switch strings.ToLower(s.Status) {
	case "accepted":
		return types.JobAccepted
	case "running", "started", "paused":
		return types.JobRunning
	case "succeeded", "successful":
		return types.JobSucceeded
	case "failed":
		return types.JobFailed
	case "dismissed":
		return types.JobDismissed
	case "exception":
		return types.JobException
	}
	return types.JobUnknown
}

// ResultsDocument is a job results listing
type ResultsDocument struct {
	Outputs []types.IOEntry `json:"outputs"`
}

// UnmarshalJSON accepts the listing form {"outputs": [...]} as well as
// the keyed form {"id": {"href": ...}, ...} other implementations return
func (d *ResultsDocument) UnmarshalJSON(data []byte) error {
	var listing struct {
		Outputs []types.IOEntry `json:"outputs"`
	}
	if err := json.Unmarshal(data, &listing); err == nil && listing.Outputs != nil {
		d.Outputs = listing.Outputs
		return nil
	}
	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(data, &keyed); err != nil {
		return err
	}
	ids := make([]string, 0, len(keyed))
	for id := range keyed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		var entry types.IOEntry
		if err := json.Unmarshal(keyed[id], &entry); err != nil || (entry.Href == "" && entry.Value == nil && entry.Data == nil) {
			var value interface{}
			if err := json.Unmarshal(keyed[id], &value); err != nil {
				return fmt.Errorf("decode result %q: %w", id, err)
			}
			entry = types.IOEntry{Value: value}
		}
		entry.ID = id
		d.Outputs = append(d.Outputs, entry)
	}
	return nil
}

// ListProcesses fetches the process listing
func (c *Client) ListProcesses(ctx context.Context) ([]ProcessSummary, error) {
	var listing struct {
		Processes []ProcessSummary `json:"processes"`
	}
	if err := c.getJSON(ctx, c.base+"/processes", &listing); err != nil {
		return nil, fmt.Errorf("list processes at %s: %w", c.base, err)
	}
	return listing.Processes, nil
}

// DescribeProcess fetches one process description. Both the bare
// document and the {"process": {...}} wrapper are understood.
func (c *Client) DescribeProcess(ctx context.Context, id string) (*ProcessSummary, error) {
	var wrapped struct {
		Process *ProcessSummary `json:"process"`
		ProcessSummary
	}
	if err := c.getJSON(ctx, c.base+"/processes/"+id, &wrapped); err != nil {
		return nil, processErr(err, id)
	}
	if wrapped.Process != nil {
		return wrapped.Process, nil
	}
	return &wrapped.ProcessSummary, nil
}

// GetPackage fetches the raw application package of a process
func (c *Client) GetPackage(ctx context.Context, id string) (map[string]interface{}, error) {
	var pkg map[string]interface{}
	if err := c.getJSON(ctx, c.base+"/processes/"+id+"/package", &pkg); err != nil {
		return nil, processErr(err, id)
	}
	return pkg, nil
}

// Deploy registers a process on the remote
func (c *Client) Deploy(ctx context.Context, payload *DeployPayload) error {
	_, _, err := c.send(ctx, http.MethodPost, c.base+"/processes", payload)
	if err != nil {
		return fmt.Errorf("deploy to %s: %w", c.base, err)
	}
	return nil
}

// Undeploy removes a process from the remote
func (c *Client) Undeploy(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/processes/"+id, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	if _, _, err := c.do(req); err != nil {
		return processErr(err, id)
	}
	return nil
}

// SetVisibility toggles who can see a deployed process
func (c *Client) SetVisibility(ctx context.Context, id string, visibility types.Visibility) error {
	body := map[string]string{"value": string(visibility)}
	if _, _, err := c.send(ctx, http.MethodPut, c.base+"/processes/"+id+"/visibility", body); err != nil {
		return processErr(err, id)
	}
	return nil
}

// Execute submits a job and returns the submit body plus the monitor
// location taken from the Location header
func (c *Client) Execute(ctx context.Context, processID string, req *ExecuteRequest) (*SubmitResult, string, error) {
	body, headers, err := c.send(ctx, http.MethodPost, c.base+"/processes/"+processID+"/execution", req)
	if err != nil {
		return nil, "", processErr(err, processID)
	}
	var result SubmitResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, "", fmt.Errorf("decode execute response: %w", err)
	}
	location := headers.Get("Location")
	if location == "" {
		location = result.Location
	}
	if location == "" && result.JobID != "" {
		location = c.base + "/jobs/" + result.JobID
	}
	return &result, location, nil
}

// JobStatus fetches the status document at the monitor location
func (c *Client) JobStatus(ctx context.Context, location string) (*StatusInfo, error) {
	var info StatusInfo
	if err := c.getJSON(ctx, location, &info); err != nil {
		return nil, jobErr(err, location)
	}
	return &info, nil
}

// Status fetches a job status by id
func (c *Client) Status(ctx context.Context, jobID string) (*StatusInfo, error) {
	return c.JobStatus(ctx, c.base+"/jobs/"+jobID)
}

// Results fetches the results document of a finished job. The location
// is the monitor ref; "/results" is appended when missing.
func (c *Client) Results(ctx context.Context, location string) (*ResultsDocument, error) {
	if !strings.HasSuffix(location, "/results") {
		location += "/results"
	}
	var doc ResultsDocument
	if err := c.getJSON(ctx, location, &doc); err != nil {
		return nil, jobErr(err, location)
	}
	return &doc, nil
}

// Logs fetches the log lines of a job
func (c *Client) Logs(ctx context.Context, jobID string) ([]string, error) {
	var lines []string
	if err := c.getJSON(ctx, c.base+"/jobs/"+jobID+"/logs", &lines); err != nil {
		return nil, jobErr(err, jobID)
	}
	return lines, nil
}

// Dismiss cancels a job
func (c *Client) Dismiss(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/jobs/"+jobID, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	if _, _, err := c.do(req); err != nil {
		return jobErr(err, jobID)
	}
	return nil
}

func processErr(err error, id string) error {
	var aerr *APIError
	if errors.As(err, &aerr) && aerr.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", types.ErrProcessNotFound, id)
	}
	return err
}

func jobErr(err error, ref string) error {
	var aerr *APIError
	if errors.As(err, &aerr) && aerr.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, ref)
	}
	return err
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	body, _, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, url string, payload interface{}) ([]byte, http.Header, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)
	return c.do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		aerr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, aerr)
		return nil, resp.Header, aerr
	}
	return body, resp.Header, nil
}
