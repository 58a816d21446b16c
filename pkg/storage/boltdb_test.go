package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisproc/trellis/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestProcessCRUD(t *testing.T) {
	store := newTestStore(t)

	process := &types.Process{
		ID:         "ndvi.landsat8",
		Kind:       types.ProcessKindApplication,
		Title:      "NDVI",
		Package:    map[string]interface{}{"class": "CommandLineTool"},
		Visibility: types.VisibilityPrivate,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.SaveProcess(process))

	got, err := store.GetProcess("ndvi.landsat8")
	require.NoError(t, err)
	assert.Equal(t, process.ID, got.ID)
	assert.Equal(t, process.Title, got.Title)

	got.Visibility = types.VisibilityPublic
	require.NoError(t, store.SaveProcess(got))

	updated, err := store.GetProcess("ndvi.landsat8")
	require.NoError(t, err)
	assert.Equal(t, types.VisibilityPublic, updated.Visibility)

	require.NoError(t, store.DeleteProcess("ndvi.landsat8"))
	_, err = store.GetProcess("ndvi.landsat8")
	assert.ErrorIs(t, err, types.ErrProcessNotFound)

	err = store.DeleteProcess("ndvi.landsat8")
	assert.ErrorIs(t, err, types.ErrProcessNotFound)
}

func TestListProcessesByVisibility(t *testing.T) {
	store := newTestStore(t)

	for i, vis := range []types.Visibility{
		types.VisibilityPublic, types.VisibilityPrivate, types.VisibilityPublic,
	} {
		require.NoError(t, store.SaveProcess(&types.Process{
			ID:         fmt.Sprintf("proc-%d", i),
			Visibility: vis,
		}))
	}

	all, err := store.ListProcesses("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "proc-0", all[0].ID, "listing is sorted by id")

	public, err := store.ListProcesses(types.VisibilityPublic)
	require.NoError(t, err)
	assert.Len(t, public, 2)
}

func TestServiceCRUD(t *testing.T) {
	store := newTestStore(t)

	service := types.NewService("hummingbird", "https://hummingbird.example/wps")
	require.NoError(t, store.SaveService(service))

	got, err := store.GetService("hummingbird")
	require.NoError(t, err)
	assert.Equal(t, types.ServiceTypeWPS, got.Type)

	list, err := store.ListServices()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeleteService("hummingbird"))
	_, err = store.GetService("hummingbird")
	assert.ErrorIs(t, err, types.ErrServiceNotFound)
}

func TestGetServiceByURL(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveService(types.NewService("emu", "https://emu.example/wps")))
	require.NoError(t, store.SaveService(types.NewService("flyingpigeon", "https://fp.example/wps")))

	got, err := store.GetServiceByURL("https://fp.example/wps")
	require.NoError(t, err)
	assert.Equal(t, "flyingpigeon", got.Name)

	_, err = store.GetServiceByURL("https://unknown.example/wps")
	assert.ErrorIs(t, err, types.ErrServiceNotFound)
}

func TestPurgeExpiredTokens(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	require.NoError(t, store.SaveToken(&types.AccessToken{
		Token: "live", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, store.SaveToken(&types.AccessToken{
		Token: "stale", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))

	purged, err := store.PurgeExpiredTokens()
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = store.GetToken("live")
	require.NoError(t, err)
	_, err = store.GetToken("stale")
	assert.ErrorIs(t, err, types.ErrAccessTokenNotFound)
}

func seedJobs(t *testing.T, store *BoltStore) []*types.Job {
	t.Helper()
	base := time.Date(2019, 7, 1, 12, 0, 0, 0, time.UTC)
	specs := []struct {
		process string
		service string
		status  types.JobStatus
		user    string
		tags    []string
	}{
		{"subset", "", types.JobSucceeded, "alice", []string{"dev"}},
		{"subset", "", types.JobRunning, "alice", nil},
		{"ndvi", "hummingbird", types.JobFailed, "bob", []string{"dev", "ops"}},
		{"ndvi", "hummingbird", types.JobAccepted, "bob", nil},
		{"mosaic", "", types.JobRunning, "alice", []string{"ops"}},
	}

	jobs := make([]*types.Job, 0, len(specs))
	for i, spec := range specs {
		job := types.NewJob(spec.process)
		job.Service = spec.service
		job.Status = spec.status
		job.UserID = spec.user
		job.Tags = spec.tags
		job.Created = base.Add(time.Duration(i) * time.Minute)
		if spec.status.Terminal() {
			finished := job.Created.Add(30 * time.Second)
			job.Finished = &finished
		}
		require.NoError(t, store.SaveJob(job))
		jobs = append(jobs, job)
	}
	return jobs
}

func TestFindJobsFilters(t *testing.T) {
	store := newTestStore(t)
	seedJobs(t, store)

	tests := []struct {
		name   string
		filter JobFilter
		want   int
	}{
		{"all", JobFilter{}, 5},
		{"by process", JobFilter{Process: "ndvi"}, 2},
		{"by service", JobFilter{Service: "hummingbird"}, 2},
		{"by status", JobFilter{Status: []types.JobStatus{types.JobRunning}}, 2},
		{"by status set", JobFilter{Status: []types.JobStatus{types.JobSucceeded, types.JobFailed}}, 2},
		{"by user", JobFilter{UserID: "alice"}, 3},
		{"by one tag", JobFilter{Tags: []string{"dev"}}, 2},
		{"by all tags", JobFilter{Tags: []string{"dev", "ops"}}, 1},
		{"no match", JobFilter{Process: "nothing"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, total, err := store.FindJobs(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, total)
		})
	}
}

func TestFindJobsSortAndPage(t *testing.T) {
	store := newTestStore(t)
	seeded := seedJobs(t, store)

	page, total, err := store.FindJobs(JobFilter{Sort: SortCreated, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, seeded[0].ID, page[0].ID)
	assert.Equal(t, seeded[1].ID, page[1].ID)

	page, _, err = store.FindJobs(JobFilter{Sort: SortCreated, Limit: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, page, 1, "last page is partial")
	assert.Equal(t, seeded[4].ID, page[0].ID)

	page, _, err = store.FindJobs(JobFilter{Sort: SortCreated, Limit: 2, Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page, "past-the-end page is empty")

	byStatus, _, err := store.FindJobs(JobFilter{Sort: SortStatus, Limit: 10})
	require.NoError(t, err)
	require.Len(t, byStatus, 5)
	assert.Equal(t, types.JobAccepted, byStatus[0].Status)

	byFinished, _, err := store.FindJobs(JobFilter{Sort: SortFinished, Limit: 10})
	require.NoError(t, err)
	assert.Nil(t, byFinished[0].Finished, "unfinished jobs sort first")

	_, _, err = store.FindJobs(JobFilter{Sort: "bogus"})
	assert.Error(t, err)
}

func TestJobDeleteAndClear(t *testing.T) {
	store := newTestStore(t)
	jobs := seedJobs(t, store)

	require.NoError(t, store.DeleteJob(jobs[0].ID))
	_, err := store.GetJob(jobs[0].ID)
	assert.ErrorIs(t, err, types.ErrJobNotFound)

	require.NoError(t, store.ClearJobs())
	_, total, err := store.FindJobs(JobFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestTokenRoundTrip(t *testing.T) {
	store := newTestStore(t)

	token := &types.AccessToken{
		Token:     "0123456789abcdef",
		UserID:    "alice",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, store.SaveToken(token))

	got, err := store.GetToken("0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)

	_, err = store.GetToken("deadbeefdeadbeef")
	require.ErrorIs(t, err, types.ErrAccessTokenNotFound)
	assert.NotContains(t, err.Error(), "deadbeefdeadbeef", "full token never appears in errors")

	require.NoError(t, store.DeleteToken("0123456789abcdef"))
	_, err = store.GetToken("0123456789abcdef")
	assert.True(t, errors.Is(err, types.ErrAccessTokenNotFound))
}

func TestEscapedKeysRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveProcess(&types.Process{ID: "org.example$subset.v2"}))
	got, err := store.GetProcess("org.example$subset.v2")
	require.NoError(t, err)
	assert.Equal(t, "org.example$subset.v2", got.ID)
}
