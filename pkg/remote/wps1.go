package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trellisproc/trellis/pkg/log"
	"github.com/trellisproc/trellis/pkg/staging"
	"github.com/trellisproc/trellis/pkg/types"
	"github.com/trellisproc/trellis/pkg/wps"
)

// wpsPollSchedule paces status-document polling: quick at first, backing
// off to a steady half-minute. The last entry repeats indefinitely.
var wpsPollSchedule = []time.Duration{
	2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second,
	5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second,
	10 * time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second,
	20 * time.Second, 20 * time.Second, 20 * time.Second, 20 * time.Second, 20 * time.Second,
	30 * time.Second,
}

// maxPollFailures is how many consecutive unreadable status documents a
// monitor loop tolerates before giving up. The counter resets whenever a
// document parses.
const maxPollFailures = 5

func pollDelay(schedule []time.Duration, attempt int) time.Duration {
	if attempt >= len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[attempt]
}

// WPS1 dispatches one step to a process hosted on a WPS 1.0 provider.
// Complex inputs travel by reference; local files get hosted under the
// served output URL first.
type WPS1 struct {
	Base
	Staging

	provider string
	process  string
	clients  *wps.ClientCache
	language string
	log      zerolog.Logger

	delay func(attempt int) time.Duration
	descr *wps.ProcessDescription
	last  *wps.ExecuteResponse
}

// NewWPS1 builds the adapter for one provider process
func NewWPS1(provider, process string, clients *wps.ClientCache, stager *staging.Stager) *WPS1 {
	return &WPS1{
		Staging:  Staging{Stager: stager},
		provider: provider,
		process:  process,
		clients:  clients,
		log:      log.WithComponent("remote.wps1"),
		delay:    func(attempt int) time.Duration { return pollDelay(wpsPollSchedule, attempt) },
	}
}

// WithLanguage sets the language forwarded on every WPS request
func (w *WPS1) WithLanguage(language string) *WPS1 {
	w.language = language
	return w
}

func (w *WPS1) client() *wps.Client {
	return w.clients.Get(w.provider, w.language)
}

// Prepare fetches the process description so outputs can be typed
func (w *WPS1) Prepare(ctx context.Context) error {
	descr, err := w.client().DescribeProcess(ctx, w.process)
	if err != nil {
		return fmt.Errorf("describe %s at %s: %w", w.process, w.provider, err)
	}
	w.descr = descr
	return nil
}

// FormatInputs hosts local files so the provider can fetch them
func (w *WPS1) FormatInputs(_ context.Context, inputs []types.IOEntry) ([]types.IOEntry, error) {
	return hostInputs(w.Stager, inputs)
}

// FormatOutputs marks described complex outputs as references and fills
// in their default media types
func (w *WPS1) FormatOutputs(_ context.Context, outputs []ExpectedOutput) ([]ExpectedOutput, error) {
	out := make([]ExpectedOutput, len(outputs))
	for i, o := range outputs {
		if d := w.describedOutput(o.ID); d != nil && (d.ComplexOutput != nil || d.ComplexData != nil) {
			o.AsReference = true
			if o.MimeType == "" {
				cd := d.ComplexOutput
				if cd == nil {
					cd = d.ComplexData
				}
				o.MimeType = cd.Default.MimeType
			}
		}
		out[i] = o
	}
	return out, nil
}

func (w *WPS1) describedOutput(id string) *wps.DescriptionIO {
	if w.descr == nil {
		return nil
	}
	for i := range w.descr.Outputs {
		if w.descr.Outputs[i].Identifier == id {
			return &w.descr.Outputs[i]
		}
	}
	return nil
}

// Dispatch submits an asynchronous Execute request and returns the
// status location to poll
func (w *WPS1) Dispatch(ctx context.Context, inputs []types.IOEntry, outputs []ExpectedOutput) (string, error) {
	req := &wps.ExecuteRequest{
		Identifier: w.process,
		Inputs:     inputs,
		Async:      true,
		Language:   w.language,
	}
	for _, out := range outputs {
		req.Outputs = append(req.Outputs, wps.RequestedOutput{
			Identifier:  out.ID,
			AsReference: out.AsReference,
			MimeType:    out.MimeType,
		})
	}

	resp, err := w.client().Execute(ctx, req)
	if err != nil {
		return "", fmt.Errorf("execute %s at %s: %w", w.process, w.provider, err)
	}
	w.last = resp
	w.log.Info().
		Str("provider", w.provider).
		Str("process", w.process).
		Str("location", resp.StatusLocation).
		Msg("remote execution dispatched")
	return resp.StatusLocation, nil
}

// Monitor polls the status document until the run reaches a terminal
// WPS state. Up to maxPollFailures consecutive unreadable documents are
// tolerated; the counter resets on every successful read.
func (w *WPS1) Monitor(ctx context.Context, monitorRef string, rep Reporter) (bool, error) {
	resp := w.last
	failures := 0
	for attempt := 0; ; attempt++ {
		if resp != nil {
			switch resp.Status.State() {
			case wps.StatusSucceeded:
				w.last = resp
				return true, nil
			case wps.StatusFailed:
				w.last = resp
				return false, fmt.Errorf("remote process failed: %s", resp.Status.Message())
			default:
				rep.report(Remap(resp.Status.Percent(), ProgressMonitor, ProgressResults), resp.Status.Message())
			}
		}
		if monitorRef == "" {
			return false, fmt.Errorf("execute response from %s carries no status location", w.provider)
		}

		if err := sleepContext(ctx, w.delay(attempt)); err != nil {
			return false, err
		}
		next, err := w.client().Status(ctx, monitorRef)
		if err != nil {
			failures++
			w.log.Warn().Err(err).
				Str("location", monitorRef).
				Int("failures", failures).
				Msg("could not read status document")
			if failures >= maxPollFailures {
				return false, fmt.Errorf("could not read status document after %d retries, giving up: %w", maxPollFailures, err)
			}
			resp = nil
			continue
		}
		failures = 0
		resp = next
	}
}

// GetResults converts <ProcessOutputs> of the final status document into
// I/O entries. An output carrying both a reference and inline data keeps
// the reference, except for the multi-file convention where inline JSON
// lists one URL per produced file; those URLs are kept in Data so every
// file can be staged.
func (w *WPS1) GetResults(ctx context.Context, monitorRef string, outputs []ExpectedOutput) ([]types.IOEntry, error) {
	resp := w.last
	if resp == nil || resp.Status.State() != wps.StatusSucceeded {
		if monitorRef == "" {
			return nil, fmt.Errorf("no final status document for %s", w.process)
		}
		var err error
		resp, err = w.client().Status(ctx, monitorRef)
		if err != nil {
			return nil, fmt.Errorf("read final status document: %w", err)
		}
	}

	entries := make([]types.IOEntry, 0, len(resp.Outputs))
	for _, out := range resp.Outputs {
		entry := types.IOEntry{ID: out.Identifier, Title: out.Title}
		if out.Reference != nil && out.Reference.Href != "" {
			entry.Href = out.Reference.Href
			entry.MimeType = out.Reference.MimeType
		}
		if out.Data != nil {
			switch {
			case out.Data.Complex != nil:
				if urls, ok := referenceArray(out.Data.Complex); ok {
					entry.Data = urls
					if entry.MimeType == "" {
						entry.MimeType = out.Data.Complex.MimeType
					}
				} else if entry.Href == "" {
					entry.Value = strings.TrimSpace(out.Data.Complex.Content)
					entry.MimeType = out.Data.Complex.MimeType
				}
			case out.Data.Literal != nil:
				if entry.Href == "" {
					entry.Value = out.Data.Literal.Value
				}
			}
		}
		entries = append(entries, entry)
	}

	produced := make(map[string]bool, len(entries))
	for _, e := range entries {
		produced[e.ID] = true
	}
	for _, want := range outputs {
		if !produced[want.ID] {
			return nil, fmt.Errorf("remote process returned no %q output", want.ID)
		}
	}
	return entries, nil
}

// referenceArray detects inline application/json data whose content is
// an array of http(s) URLs, one per produced file. The content arrives
// as raw inner XML, so entities are unescaped before decoding.
func referenceArray(data *wps.ComplexData) ([]interface{}, bool) {
	if !strings.Contains(strings.ToLower(data.MimeType), "json") {
		return nil, false
	}
	content := html.UnescapeString(strings.TrimSpace(data.Content))
	var urls []string
	if err := json.Unmarshal([]byte(content), &urls); err != nil || len(urls) == 0 {
		return nil, false
	}
	out := make([]interface{}, len(urls))
	for i, u := range urls {
		if !isWebRef(u) {
			return nil, false
		}
		out[i] = u
	}
	return out, true
}
