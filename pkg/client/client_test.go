package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisproc/trellis/pkg/types"
)

func TestExecuteSubmitsEnvelope(t *testing.T) {
	var got ExecuteRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/processes/ncdump/execution", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer sesame", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Location", "https://ades.example/jobs/job-1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"jobID": "job-1", "status": "accepted"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "sesame")
	result, location, err := c.Execute(context.Background(), "ncdump", &ExecuteRequest{
		Mode:     "async",
		Response: "document",
		Inputs:   []types.IOEntry{{ID: "dataset", Href: "https://data.example/tasmax.nc"}},
		Outputs:  []OutputRequest{{ID: "output", TransmissionMode: "reference"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "job-1", result.JobID)
	assert.Equal(t, "accepted", result.Status)
	assert.Equal(t, "https://ades.example/jobs/job-1", location)

	assert.Equal(t, "async", got.Mode)
	assert.Equal(t, "document", got.Response)
	require.Len(t, got.Inputs, 1)
	assert.Equal(t, "dataset", got.Inputs[0].ID)
	assert.Equal(t, "https://data.example/tasmax.nc", got.Inputs[0].Href)
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, "reference", got.Outputs[0].TransmissionMode)
}

func TestExecuteLocationFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		header string
		body   string
		want   func(base string) string
	}{
		{
			name: "body location",
			body: `{"jobID": "job-2", "status": "accepted", "location": "https://other.example/jobs/job-2"}`,
			want: func(string) string { return "https://other.example/jobs/job-2" },
		},
		{
			name: "derived from job id",
			body: `{"jobID": "job-3", "status": "accepted"}`,
			want: func(base string) string { return base + "/jobs/job-3" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Location", tt.header)
				}
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(server.URL, nil, "")
			_, location, err := c.Execute(context.Background(), "ncdump", &ExecuteRequest{})
			require.NoError(t, err)
			assert.Equal(t, tt.want(server.URL), location)
		})
	}
}

func TestDescribeProcessUnwrapsEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare document", `{"id": "ncdump", "title": "NetCDF dump", "version": "4.4.1"}`},
		{"wrapped document", `{"process": {"id": "ncdump", "title": "NetCDF dump", "version": "4.4.1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/processes/ncdump", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(server.URL, nil, "")
			desc, err := c.DescribeProcess(context.Background(), "ncdump")
			require.NoError(t, err)
			assert.Equal(t, "ncdump", desc.ID)
			assert.Equal(t, "NetCDF dump", desc.Title)
			assert.Equal(t, "4.4.1", desc.Version)
		})
	}
}

func TestDescribeProcessNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code": "NoSuchProcess", "description": "no process ncdump"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "")
	_, err := c.DescribeProcess(context.Background(), "ncdump")
	assert.ErrorIs(t, err, types.ErrProcessNotFound)
}

func TestListProcesses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/processes", r.URL.Path)
		_, _ = w.Write([]byte(`{"processes": [{"id": "ncdump"}, {"id": "spotchecker"}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "")
	processes, err := c.ListProcesses(context.Background())
	require.NoError(t, err)
	require.Len(t, processes, 2)
	assert.Equal(t, "ncdump", processes[0].ID)
	assert.Equal(t, "spotchecker", processes[1].ID)
}

func TestDeploySendsPayload(t *testing.T) {
	var got DeployPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/processes", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"processSummary": {"id": "ncdump"}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "")
	err := c.Deploy(context.Background(), &DeployPayload{
		ProcessDescription:    map[string]interface{}{"id": "ncdump"},
		ExecutionUnit:         []ExecutionUnit{{Href: "https://apps.example/ncdump.cwl"}},
		DeploymentProfileName: "http://www.opengis.net/profiles/eoc/dockerizedApplication",
	})
	require.NoError(t, err)

	assert.Equal(t, "ncdump", got.ProcessDescription["id"])
	require.Len(t, got.ExecutionUnit, 1)
	assert.Equal(t, "https://apps.example/ncdump.cwl", got.ExecutionUnit[0].Href)
	assert.Contains(t, got.DeploymentProfileName, "dockerizedApplication")
}

func TestSetVisibility(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/processes/ncdump/visibility", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "public", body["value"])
		_, _ = w.Write([]byte(`{"value": "public"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "")
	require.NoError(t, c.SetVisibility(context.Background(), "ncdump", types.VisibilityPublic))
}

func TestJobStatusMapsForeignSpellings(t *testing.T) {
	tests := []struct {
		status string
		want   types.JobStatus
	}{
		{"accepted", types.JobAccepted},
		{"running", types.JobRunning},
		{"started", types.JobRunning},
		{"paused", types.JobRunning},
		{"succeeded", types.JobSucceeded},
		{"successful", types.JobSucceeded},
		{"Successful", types.JobSucceeded},
		{"failed", types.JobFailed},
		{"dismissed", types.JobDismissed},
		{"exception", types.JobException},
		{"meditating", types.JobUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			info := &StatusInfo{Status: tt.status}
			assert.Equal(t, tt.want, info.JobStatus())
		})
	}
}

func TestJobStatusFetchesDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/job-1", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"jobID": "job-1",
			"processID": "ncdump",
			"status": "running",
			"message": "execute request",
			"progress": 42
		}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "")
	info, err := c.JobStatus(context.Background(), server.URL+"/jobs/job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", info.JobID)
	assert.Equal(t, "ncdump", info.ProcessID)
	assert.Equal(t, types.JobRunning, info.JobStatus())
	assert.Equal(t, 42, info.Progress)
}

func TestResultsListingForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/job-1/results", r.URL.Path)
		_, _ = w.Write([]byte(`{"outputs": [
			{"id": "output", "href": "https://ades.example/wpsoutputs/job-1/output/tasmax.nc", "mimeType": "application/x-netcdf"},
			{"id": "count", "value": 7}
		]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "")
	doc, err := c.Results(context.Background(), server.URL+"/jobs/job-1")
	require.NoError(t, err)
	require.Len(t, doc.Outputs, 2)
	assert.Equal(t, "output", doc.Outputs[0].ID)
	assert.Equal(t, "application/x-netcdf", doc.Outputs[0].MimeType)
	assert.Equal(t, "count", doc.Outputs[1].ID)
	assert.Equal(t, float64(7), doc.Outputs[1].Value)
}

func TestResultsKeyedForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"output": {"href": "https://ades.example/wpsoutputs/job-1/output/tasmax.nc"},
			"count": {"value": 7},
			"flag": true
		}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "")
	doc, err := c.Results(context.Background(), server.URL+"/jobs/job-1/results")
	require.NoError(t, err)
	require.Len(t, doc.Outputs, 3)

	byID := map[string]types.IOEntry{}
	for _, out := range doc.Outputs {
		byID[out.ID] = out
	}
	assert.Equal(t, "https://ades.example/wpsoutputs/job-1/output/tasmax.nc", byID["output"].Href)
	assert.Equal(t, float64(7), byID["count"].Value)
	assert.Equal(t, true, byID["flag"].Value)
}

func TestDismiss(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/jobs/job-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"jobID": "job-1", "status": "dismissed"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "")
	require.NoError(t, c.Dismiss(context.Background(), "job-1"))
}

func TestDismissUnknownJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code": "NoSuchJob", "description": "no job job-9"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "")
	err := c.Dismiss(context.Background(), "job-9")
	assert.ErrorIs(t, err, types.ErrJobNotFound)
}

func TestLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/job-1/logs", r.URL.Path)
		_, _ = w.Write([]byte(`["2026-01-02T10:00:00Z INFO   1%: accepted", "2026-01-02T10:00:05Z INFO 100%: done"]`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "")
	lines, err := c.Logs(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "accepted")
}

func TestAPIErrorCarriesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code": "AccessForbidden", "description": "process is private"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "")
	_, err := c.ListProcesses(context.Background())
	require.Error(t, err)

	var aerr *APIError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, http.StatusForbidden, aerr.Status)
	assert.Equal(t, "AccessForbidden", aerr.Code)
	assert.Contains(t, aerr.Error(), "process is private")
}
