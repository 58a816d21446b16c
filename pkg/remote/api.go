package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trellisproc/trellis/pkg/client"
	"github.com/trellisproc/trellis/pkg/log"
	"github.com/trellisproc/trellis/pkg/staging"
	"github.com/trellisproc/trellis/pkg/types"
)

// badGatewayRetryPause is how long the adapter waits before its single
// retry of a request answered with 502
const badGatewayRetryPause = 10 * time.Second

// APIProcesses dispatches one step to a peer deployment service over
// OGC API - Processes. Control-plane calls (describe, deploy) go through
// the shared client; the dispatch, polling and results calls carry the
// flaky-gateway retry below and so run on a raw HTTP client.
type APIProcesses struct {
	Base
	Staging

	base    string
	process string
	api     *client.Client
	http    *http.Client
	token   string
	deploy  *client.DeployPayload

	// StatusCodeMock substitutes the observed status when a 502 survives
	// the retry. Tests use it to drive this path; nothing else may
	// simulate a status.
	StatusCodeMock int

	retryPause time.Duration
	delay      func(attempt int) time.Duration
	log        zerolog.Logger

	location string
}

// NewAPIProcesses builds the adapter for one process on the service at
// base. A nil httpClient gets a default without an overall timeout, as
// polling is paced by the monitor loop.
func NewAPIProcesses(base, process string, httpClient *http.Client, stager *staging.Stager, token string) *APIProcesses {
	base = strings.TrimRight(base, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIProcesses{
		Staging:    Staging{Stager: stager},
		base:       base,
		process:    process,
		api:        client.NewClient(base, httpClient, token),
		http:       httpClient,
		token:      token,
		retryPause: badGatewayRetryPause,
		delay:      func(attempt int) time.Duration { return pollDelay(wpsPollSchedule, attempt) },
		log:        log.WithComponent("remote.api"),
	}
}

// WithDeployPayload arms Prepare to deploy the process on the remote
// service when it is not already there
func (a *APIProcesses) WithDeployPayload(payload *client.DeployPayload) *APIProcesses {
	a.deploy = payload
	return a
}

// Prepare verifies the process exists on the remote service, deploying
// and publishing it first when a deploy payload was supplied
func (a *APIProcesses) Prepare(ctx context.Context) error {
	_, err := a.api.DescribeProcess(ctx, a.process)
	if err == nil {
		return nil
	}
	if !errors.Is(err, types.ErrProcessNotFound) || a.deploy == nil {
		return fmt.Errorf("describe %s at %s: %w", a.process, a.base, err)
	}

	a.log.Info().Str("process", a.process).Str("service", a.base).
		Msg("process missing on remote service, deploying")
	if err := a.api.Deploy(ctx, a.deploy); err != nil {
		return fmt.Errorf("deploy %s to %s: %w", a.process, a.base, err)
	}
	if err := a.api.SetVisibility(ctx, a.process, types.VisibilityPublic); err != nil {
		return fmt.Errorf("publish %s on %s: %w", a.process, a.base, err)
	}
	return nil
}

// FormatInputs hosts local files so the remote service can fetch them
func (a *APIProcesses) FormatInputs(_ context.Context, inputs []types.IOEntry) ([]types.IOEntry, error) {
	return hostInputs(a.Stager, inputs)
}

// FormatOutputs requests every output by reference
func (a *APIProcesses) FormatOutputs(_ context.Context, outputs []ExpectedOutput) ([]ExpectedOutput, error) {
	out := make([]ExpectedOutput, len(outputs))
	for i, o := range outputs {
		o.AsReference = true
		out[i] = o
	}
	return out, nil
}

// Dispatch submits the execute envelope and returns the monitor location
// from the Location header
func (a *APIProcesses) Dispatch(ctx context.Context, inputs []types.IOEntry, outputs []ExpectedOutput) (string, error) {
	req := &client.ExecuteRequest{Mode: "async", Response: "document", Inputs: inputs}
	for _, out := range outputs {
		mode := "value"
		if out.AsReference {
			mode = "reference"
		}
		req.Outputs = append(req.Outputs, client.OutputRequest{ID: out.ID, TransmissionMode: mode})
	}

	resp, err := a.request(ctx, http.MethodPost, a.base+"/processes/"+a.process+"/execution", req, true)
	if err != nil {
		return "", fmt.Errorf("execute %s at %s: %w", a.process, a.base, err)
	}
	location := resp.Header.Get("Location")

	var result client.SubmitResult
	if err := decodeResponse(resp, &result); err != nil {
		return "", fmt.Errorf("execute %s at %s: %w", a.process, a.base, err)
	}
	if location == "" {
		location = result.Location
	}
	if location == "" && result.JobID != "" {
		location = a.base + "/jobs/" + result.JobID
	}
	if location == "" {
		return "", fmt.Errorf("execute response from %s carries no job location", a.base)
	}

	a.location = location
	a.log.Info().
		Str("service", a.base).
		Str("process", a.process).
		Str("location", location).
		Msg("remote execution dispatched")
	return location, nil
}

// Monitor polls the job status document until it reaches a terminal
// state, with the same failure budget as the WPS monitor
func (a *APIProcesses) Monitor(ctx context.Context, monitorRef string, rep Reporter) (bool, error) {
	failures := 0
	for attempt := 0; ; attempt++ {
		if err := sleepContext(ctx, a.delay(attempt)); err != nil {
			return false, err
		}

		var info client.StatusInfo
		resp, err := a.request(ctx, http.MethodGet, monitorRef, nil, true)
		if err == nil {
			err = decodeResponse(resp, &info)
		}
		if err != nil {
			failures++
			a.log.Warn().Err(err).
				Str("location", monitorRef).
				Int("failures", failures).
				Msg("could not read job status")
			if failures >= maxPollFailures {
				return false, fmt.Errorf("could not read job status after %d retries, giving up: %w", maxPollFailures, err)
			}
			continue
		}
		failures = 0

		switch info.JobStatus() {
		case types.JobSucceeded:
			return true, nil
		case types.JobFailed, types.JobException:
			msg := info.Message
			if msg == "" {
				msg = "no failure detail provided"
			}
			return false, fmt.Errorf("remote job failed: %s", msg)
		case types.JobDismissed:
			return false, fmt.Errorf("remote job was dismissed")
		default:
			rep.report(Remap(info.Progress, ProgressMonitor, ProgressResults), info.Message)
		}
	}
}

// GetResults fetches the results document at <location>/results
func (a *APIProcesses) GetResults(ctx context.Context, monitorRef string, _ []ExpectedOutput) ([]types.IOEntry, error) {
	url := monitorRef
	if !strings.HasSuffix(url, "/results") {
		url += "/results"
	}
	resp, err := a.request(ctx, http.MethodGet, url, nil, true)
	if err != nil {
		return nil, fmt.Errorf("fetch results from %s: %w", url, err)
	}
	var doc client.ResultsDocument
	if err := decodeResponse(resp, &doc); err != nil {
		return nil, fmt.Errorf("fetch results from %s: %w", url, err)
	}
	return doc.Outputs, nil
}

// DismissRemote issues a best-effort cancellation of the dispatched job
func (a *APIProcesses) DismissRemote(ctx context.Context) error {
	if a.location == "" {
		return nil
	}
	resp, err := a.request(ctx, http.MethodDelete, a.location, nil, false)
	if err != nil {
		return err
	}
	return decodeResponse(resp, nil)
}

// request performs one JSON round trip. A 502 from a flaky gateway gets
// exactly one retry after a pause; a 502 that survives the retry takes
// the StatusCodeMock value when one is set.
func (a *APIProcesses) request(ctx context.Context, method, url string, payload interface{}, retry bool) (*http.Response, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	resp, err := a.send(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusBadGateway && retry {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		a.log.Warn().Str("url", url).Msg("remote gateway returned 502, retrying once")
		if err := sleepContext(ctx, a.retryPause); err != nil {
			return nil, err
		}
		if resp, err = a.send(ctx, method, url, body); err != nil {
			return nil, err
		}
	}
	if resp.StatusCode == http.StatusBadGateway && a.StatusCodeMock != 0 {
		resp.StatusCode = a.StatusCodeMock
	}
	return resp, nil
}

func (a *APIProcesses) send(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	return a.http.Do(req)
}

// decodeResponse drains one response, turning non-2xx statuses into
// APIError values and decoding the body into out when given
func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		aerr := &client.APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, aerr)
		return aerr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
