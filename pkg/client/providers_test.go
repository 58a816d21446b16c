package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterProvider(t *testing.T) {
	var got ProviderRegistration
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/providers", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "hummingbird", "url": "https://wps.example/ows", "type": "WPS", "auth": "token"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, "")
	summary, err := c.RegisterProvider(context.Background(), &ProviderRegistration{
		ID:   "Humming Bird",
		URL:  "https://wps.example/ows",
		Type: "WPS",
	})
	require.NoError(t, err)

	assert.Equal(t, "hummingbird", summary.ID)
	assert.Equal(t, "WPS", summary.Type)
	assert.Equal(t, "Humming Bird", got.ID)
	assert.Equal(t, "https://wps.example/ows", got.URL)
}

func TestListProviders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/providers", r.URL.Path)
		_, _ = w.Write([]byte(`{"providers": [{"id": "a", "url": "https://a.example"}, {"id": "b", "url": "https://b.example"}]}`))
	}))
	defer server.Close()

	providers, err := NewClient(server.URL, nil, "").ListProviders(context.Background())
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "a", providers[0].ID)
}

func TestProviderProcesses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/providers/hummingbird/processes", r.URL.Path)
		_, _ = w.Write([]byte(`{"processes": [{"id": "ncdump", "title": "NetCDF dump"}]}`))
	}))
	defer server.Close()

	processes, err := NewClient(server.URL, nil, "").ProviderProcesses(context.Background(), "hummingbird")
	require.NoError(t, err)
	require.Len(t, processes, 1)
	assert.Equal(t, "ncdump", processes[0].ID)
}

func TestUnregisterProviderNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code": "NoSuchProvider", "description": "unknown provider"}`))
	}))
	defer server.Close()

	err := NewClient(server.URL, nil, "").UnregisterProvider(context.Background(), "gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone")
}

func TestExecuteProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/providers/hummingbird/processes/ncdump/jobs", r.URL.Path)
		w.Header().Set("Location", "https://ems.example/jobs/job-9")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"jobID": "job-9", "status": "accepted"}`))
	}))
	defer server.Close()

	result, location, err := NewClient(server.URL, nil, "").ExecuteProvider(
		context.Background(), "hummingbird", "ncdump", &ExecuteRequest{})
	require.NoError(t, err)
	assert.Equal(t, "job-9", result.JobID)
	assert.Equal(t, "https://ems.example/jobs/job-9", location)
}
