package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trellisproc/trellis/pkg/client"
	"github.com/trellisproc/trellis/pkg/iomodel"
	"github.com/trellisproc/trellis/pkg/pack"
	"github.com/trellisproc/trellis/pkg/staging"
	"github.com/trellisproc/trellis/pkg/types"
	"github.com/trellisproc/trellis/pkg/wps"
)

// executeEnvelope is the execute request body. The notification address
// and tags ride alongside the standard submission fields.
type executeEnvelope struct {
	client.ExecuteRequest
	NotificationEmail string   `json:"notificationEmail,omitempty"`
	Tags              []string `json:"tags,omitempty"`
}

func (s *Server) listProcesses(c echo.Context) error {
	visibility, err := parseVisibility(c.QueryParam("visibility"))
	if err != nil {
		return badRequest(c, wps.CodeInvalidParameterValue, err.Error())
	}

	processes, err := s.cfg.Store.ListProcesses(visibility)
	if err != nil {
		return fail(c, err)
	}

	page, limit := parsePage(c)
	if limit > 0 {
		start := page * limit
		if start > len(processes) {
			start = len(processes)
		}
		end := start + limit
		if end > len(processes) {
			end = len(processes)
		}
		processes = processes[start:end]
	}

	summaries := make([]client.ProcessSummary, 0, len(processes))
	for _, p := range processes {
		summaries = append(summaries, processSummary(p))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"processes": summaries,
	})
}

func (s *Server) deployProcess(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, registrationError("read deploy payload: %v", err))
	}

	var payload client.DeployPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fail(c, registrationError("decode deploy payload: %v", err))
	}
	var envelope map[string]interface{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fail(c, registrationError("decode deploy payload: %v", err))
	}

	process, err := s.buildProcess(c, &payload, envelope)
	if err != nil {
		return fail(c, err)
	}
	if err := s.cfg.Store.SaveProcess(process); err != nil {
		return fail(c, err)
	}

	s.log.Info().Str("process", process.ID).Str("kind", string(process.Kind)).Msg("process deployed")
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":             process.ID,
		"deploymentDone": true,
	})
}

// buildProcess turns a deployment payload into a stored process record:
// load the execution unit, classify it, derive its typed I/O and merge
// the declared descriptions on top.
func (s *Server) buildProcess(c echo.Context, payload *client.DeployPayload, envelope map[string]interface{}) (*types.Process, error) {
	desc := payload.ProcessDescription
	if nested, ok := desc["process"].(map[string]interface{}); ok {
		desc = nested
	}
	if desc == nil {
		return nil, registrationError("deploy payload carries no processDescription")
	}

	id := firstString(desc, "id", "identifier")
	if id == "" {
		return nil, registrationError("processDescription carries no process identifier")
	}

	pkg, err := s.executionUnit(c, payload)
	if err != nil {
		return nil, err
	}
	kind, err := pack.Classify(pkg)
	if err != nil {
		return nil, err
	}

	derivedIn, derivedOut, err := pack.DeriveIO(pkg)
	if err != nil {
		return nil, err
	}
	declaredIn, err := declaredIO(desc["inputs"], iomodel.DirectionInput)
	if err != nil {
		return nil, err
	}
	declaredOut, err := declaredIO(desc["outputs"], iomodel.DirectionOutput)
	if err != nil {
		return nil, err
	}

	inputs := iomodel.Merge(declaredIn, derivedIn)
	outputs := iomodel.Merge(declaredOut, derivedOut)
	if err := iomodel.ValidateDefaults(inputs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	process := &types.Process{
		ID:         id,
		Kind:       kind,
		Title:      firstString(desc, "title"),
		Abstract:   firstString(desc, "abstract"),
		Keywords:   stringSlice(desc["keywords"]),
		Version:    firstString(desc, "version", "processVersion"),
		Metadata:   metadataLinks(desc["metadata"]),
		Package:    pkg,
		Payload:    envelope,
		Inputs:     apiMaps(inputs),
		Outputs:    apiMaps(outputs),
		Visibility: types.VisibilityPublic,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if v, err := parseVisibility(firstString(desc, "visibility")); err == nil && v != "" {
		process.Visibility = v
	}
	if process.Title == "" {
		process.Title = firstString(pkg, "label")
	}
	if process.Abstract == "" {
		process.Abstract = firstString(pkg, "doc")
	}
	return process, nil
}

// executionUnit resolves the deployable package from the payload, either
// inline or by fetching the referenced document.
func (s *Server) executionUnit(c echo.Context, payload *client.DeployPayload) (map[string]interface{}, error) {
	if len(payload.ExecutionUnit) == 0 {
		return nil, registrationError("deploy payload carries no executionUnit")
	}
	unit := payload.ExecutionUnit[0]
	if unit.Unit != nil {
		return unit.Unit, nil
	}
	if unit.Href == "" {
		return nil, registrationError("executionUnit carries neither unit nor href")
	}
	if s.cfg.Loader == nil {
		return nil, registrationError("no package loader configured for referenced units")
	}
	return s.cfg.Loader.LoadReference(c.Request().Context(), unit.Href)
}

func registrationError(format string, args ...interface{}) error {
	return &types.PackageRegistrationError{Reason: fmt.Sprintf(format, args...)}
}

func (s *Server) describeProcess(c echo.Context) error {
	process, err := s.cfg.Store.GetProcess(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"process": processSummary(process),
	})
}

func (s *Server) getProcessPackage(c echo.Context) error {
	process, err := s.cfg.Store.GetProcess(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if process.Package == nil {
		return fail(c, fmt.Errorf("%w: %s", types.ErrPackageNotFound, process.ID))
	}
	return c.JSON(http.StatusOK, process.Package)
}

func (s *Server) getProcessPayload(c echo.Context) error {
	process, err := s.cfg.Store.GetProcess(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if process.Payload == nil {
		return fail(c, fmt.Errorf("%w: %s", types.ErrPayloadNotFound, process.ID))
	}
	return c.JSON(http.StatusOK, process.Payload)
}

func (s *Server) setProcessVisibility(c echo.Context) error {
	process, err := s.cfg.Store.GetProcess(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	var body struct {
		Value string `json:"value"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, wps.CodeInvalidParameterValue, "decode visibility value")
	}
	visibility, err := parseVisibility(body.Value)
	if err != nil || visibility == "" {
		return badRequest(c, wps.CodeInvalidParameterValue, "visibility must be public or private")
	}

	process.Visibility = visibility
	process.UpdatedAt = time.Now().UTC()
	if err := s.cfg.Store.SaveProcess(process); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"value": string(visibility)})
}

func (s *Server) undeployProcess(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.cfg.Store.GetProcess(id); err != nil {
		return fail(c, err)
	}
	if err := s.cfg.Store.DeleteProcess(id); err != nil {
		return fail(c, err)
	}
	s.log.Info().Str("process", id).Msg("process undeployed")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":               id,
		"undeploymentDone": true,
	})
}

func (s *Server) executeProcess(c echo.Context) error {
	process, err := s.cfg.Store.GetProcess(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	var req executeEnvelope
	if err := c.Bind(&req); err != nil {
		return badRequest(c, wps.CodeInvalidParameterValue, "decode execute request")
	}

	job := types.NewJob(process.ID)
	job.Inputs = req.Inputs
	job.IsWorkflow = process.Kind == types.ProcessKindWorkflow
	job.ExecuteAsync = !strings.EqualFold(req.Mode, "sync")
	job.UserID = userID(c)
	job.Tags = req.Tags
	if err := s.prepareJob(c, job, req.NotificationEmail); err != nil {
		return fail(c, err)
	}

	return s.submitJob(c, job, process.Title)
}

// prepareJob applies the submission concerns shared by local and
// provider executions: the output context header and the sealed
// notification address.
func (s *Server) prepareJob(c echo.Context, job *types.Job, email string) error {
	outputContext, err := staging.ValidateOutputContext(c.Request().Header.Get(staging.HeaderOutputContext))
	if err != nil {
		return err
	}
	if outputContext == "" {
		outputContext = s.cfg.OutputContext
	}
	job.Context = outputContext

	if email != "" {
		if s.cfg.Secrets != nil {
			sealed, err := s.cfg.Secrets.SealString(email)
			if err != nil {
				return fmt.Errorf("seal notification address: %w", err)
			}
			email = sealed
		}
		job.NotificationEmail = email
	}
	return nil
}

// submitJob accepts the job into the engine and answers with the OGC
// submission document. Sync submissions wait for the terminal state
// before answering; the wait is bounded and falls back to the async
// shape on timeout.
func (s *Server) submitJob(c echo.Context, job *types.Job, title string) error {
	if err := s.cfg.Engine.Accept(job, title); err != nil {
		return fail(c, err)
	}

	if !job.ExecuteAsync {
		ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.SyncTimeout)
		defer cancel()
		if finished, err := s.cfg.Engine.WaitForJob(ctx, job.ID); err == nil {
			job = finished
		} else {
			s.log.Warn().Str("job", job.ID).Err(err).Msg("sync wait gave up, answering async")
		}
	}

	location := s.jobLocation(job)
	c.Response().Header().Set("Location", location)
	return c.JSON(http.StatusCreated, client.SubmitResult{
		JobID:    job.ID,
		Status:   string(job.Status),
		Location: location,
	})
}

// jobLocation builds the monitor URL, provider-scoped when the job
// targets a registered service.
func (s *Server) jobLocation(job *types.Job) string {
	base := s.cfg.BaseURL
	if job.Service != "" {
		base += "/providers/" + job.Service
	}
	return fmt.Sprintf("%s/processes/%s/jobs/%s", base, job.ProcessID, job.ID)
}

func processSummary(p *types.Process) client.ProcessSummary {
	return client.ProcessSummary{
		ID:         p.ID,
		Title:      p.Title,
		Abstract:   p.Abstract,
		Version:    p.Version,
		Keywords:   p.Keywords,
		Inputs:     p.Inputs,
		Outputs:    p.Outputs,
		Visibility: string(p.Visibility),
	}
}

// declaredIO parses the user-declared I/O section of a deploy payload
func declaredIO(raw interface{}, dir iomodel.Direction) ([]*iomodel.WPSIO, error) {
	entries, ok := raw.([]interface{})
	if !ok {
		return nil, nil
	}
	ios := make([]*iomodel.WPSIO, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		io, err := iomodel.APIToWPS(m, dir)
		if err != nil {
			return nil, err
		}
		ios = append(ios, io)
	}
	return ios, nil
}

func apiMaps(ios []*iomodel.WPSIO) []map[string]interface{} {
	maps := make([]map[string]interface{}, 0, len(ios))
	for _, io := range ios {
		maps = append(maps, iomodel.WPSToAPI(io))
	}
	return maps
}

func parseVisibility(value string) (types.Visibility, error) {
	switch strings.ToLower(value) {
	case "":
		return "", nil
	case string(types.VisibilityPublic):
		return types.VisibilityPublic, nil
	case string(types.VisibilityPrivate):
		return types.VisibilityPrivate, nil
	default:
		return "", fmt.Errorf("unknown visibility %q", value)
	}
}

func parsePage(c echo.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	if page < 0 {
		page = 0
	}
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	if limit < 0 {
		limit = 0
	}
	return page, limit
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func stringSlice(raw interface{}) []string {
	entries, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func metadataLinks(raw interface{}) []types.Metadata {
	entries, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	links := make([]types.Metadata, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		links = append(links, types.Metadata{
			Title: firstString(m, "title"),
			Role:  firstString(m, "role"),
			Href:  firstString(m, "href"),
		})
	}
	return links
}
