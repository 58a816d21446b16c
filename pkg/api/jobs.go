package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trellisproc/trellis/pkg/client"
	"github.com/trellisproc/trellis/pkg/status"
	"github.com/trellisproc/trellis/pkg/storage"
	"github.com/trellisproc/trellis/pkg/types"
	"github.com/trellisproc/trellis/pkg/wps"
)

func (s *Server) listJobs(c echo.Context) error {
	filter, err := jobFilter(c)
	if err != nil {
		return badRequest(c, wps.CodeInvalidParameterValue, err.Error())
	}

	jobs, total, err := s.cfg.Store.FindJobs(filter)
	if err != nil {
		return fail(c, err)
	}

	documents := make([]*client.StatusInfo, 0, len(jobs))
	for _, job := range jobs {
		documents = append(documents, status.Document(job, s.cfg.BaseURL))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"jobs":  documents,
		"count": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// jobFilter reads the listing filters from the query string and, for
// scoped routes, the path.
func jobFilter(c echo.Context) (storage.JobFilter, error) {
	filter := storage.JobFilter{
		Process: c.Param("id"),
		Service: c.Param("provider"),
		UserID:  c.QueryParam("user"),
		Sort:    c.QueryParam("sort"),
	}
	if filter.Process == "" {
		filter.Process = c.QueryParam("process")
	}
	if filter.Service == "" {
		filter.Service = c.QueryParam("service")
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			st := types.JobStatus(strings.ToLower(strings.TrimSpace(value)))
			if !st.Valid() {
				return filter, fmt.Errorf("unknown status %q", value)
			}
			filter.Status = append(filter.Status, st)
		}
	}
	if raw := c.QueryParam("tags"); raw != "" {
		filter.Tags = strings.Split(raw, ",")
	}
	access, err := parseVisibility(c.QueryParam("access"))
	if err != nil {
		return filter, err
	}
	filter.Access = access
	filter.Page, filter.Limit = parsePage(c)
	return filter, nil
}

// scopedJob loads the job and rejects ids reached through a path whose
// process or provider segments do not match the record.
func (s *Server) scopedJob(c echo.Context) (*types.Job, error) {
	job, err := s.cfg.Store.GetJob(c.Param("job"))
	if err != nil {
		return nil, err
	}
	if pid := c.Param("id"); pid != "" && job.ProcessID != pid {
		return nil, fmt.Errorf("%w: %s under process %s", types.ErrJobNotFound, job.ID, pid)
	}
	if provider := c.Param("provider"); provider != "" && job.Service != provider {
		return nil, fmt.Errorf("%w: %s under provider %s", types.ErrJobNotFound, job.ID, provider)
	}
	return job, nil
}

func (s *Server) getJob(c echo.Context) error {
	job, err := s.scopedJob(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, status.Document(job, s.cfg.BaseURL))
}

func (s *Server) getJobResults(c echo.Context) error {
	job, err := s.scopedJob(c)
	if err != nil {
		return fail(c, err)
	}
	switch job.Status {
	case types.JobSucceeded:
		return c.JSON(http.StatusOK, status.Results(job))
	case types.JobAccepted, types.JobRunning:
		return c.JSON(http.StatusNotFound, errorBody{
			Code:        "ResultNotReady",
			Description: fmt.Sprintf("job %s is %s, results are not ready", job.ID, job.Status),
		})
	default:
		return c.JSON(http.StatusBadRequest, errorBody{
			Code:        "InvalidJobStatus",
			Description: fmt.Sprintf("job %s did not succeed, status is %s", job.ID, job.Status),
		})
	}
}

func (s *Server) getJobOutputs(c echo.Context) error {
	job, err := s.scopedJob(c)
	if err != nil {
		return fail(c, err)
	}
	outputs := job.Results
	if outputs == nil {
		outputs = []types.IOEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"outputs": outputs})
}

func (s *Server) getJobExceptions(c echo.Context) error {
	job, err := s.scopedJob(c)
	if err != nil {
		return fail(c, err)
	}
	exceptions := job.Exceptions
	if exceptions == nil {
		exceptions = []types.Exception{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"exceptions": exceptions})
}

func (s *Server) getJobLogs(c echo.Context) error {
	job, err := s.scopedJob(c)
	if err != nil {
		return fail(c, err)
	}
	logs := job.Logs
	if logs == nil {
		logs = []string{}
	}
	return c.JSON(http.StatusOK, logs)
}

func (s *Server) dismissJob(c echo.Context) error {
	job, err := s.scopedJob(c)
	if err != nil {
		return fail(c, err)
	}
	if err := s.cfg.Engine.DismissJob(c.Request().Context(), job.ID); err != nil {
		return fail(c, err)
	}

	dismissed, err := s.cfg.Store.GetJob(job.ID)
	if err != nil {
		return fail(c, err)
	}
	s.log.Info().Str("job", job.ID).Msg("job dismissed")
	return c.JSON(http.StatusOK, status.Document(dismissed, s.cfg.BaseURL))
}
