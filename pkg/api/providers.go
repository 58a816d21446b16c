package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trellisproc/trellis/pkg/client"
	"github.com/trellisproc/trellis/pkg/iomodel"
	"github.com/trellisproc/trellis/pkg/provider"
	"github.com/trellisproc/trellis/pkg/types"
	"github.com/trellisproc/trellis/pkg/wps"
)

// providerView is the JSON shape of a registered provider
type providerView struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Public   bool   `json:"public"`
	Auth     string `json:"auth"`
	Title    string `json:"title,omitempty"`
	Abstract string `json:"abstract,omitempty"`
}

func describedView(d provider.Description) providerView {
	return providerView{
		ID:       d.Service.Name,
		URL:      d.Service.URL,
		Type:     string(d.Service.Type),
		Public:   d.Service.Public,
		Auth:     string(d.Service.Auth),
		Title:    d.Title,
		Abstract: d.Abstract,
	}
}

func (s *Server) listProviders(c echo.Context) error {
	described, err := s.cfg.Providers.List(c.Request().Context(), false)
	if err != nil {
		return fail(c, err)
	}
	views := make([]providerView, 0, len(described))
	for _, d := range described {
		views = append(views, describedView(d))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"providers": views})
}

func (s *Server) registerProvider(c echo.Context) error {
	var body struct {
		ID        string `json:"id"`
		URL       string `json:"url"`
		Type      string `json:"type"`
		Public    bool   `json:"public"`
		Auth      string `json:"auth"`
		SkipProbe bool   `json:"skipProbe"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, wps.CodeInvalidParameterValue, "decode provider registration")
	}
	if body.URL == "" {
		return fail(c, &types.ServiceRegistrationError{Name: body.ID, Reason: "registration carries no url"})
	}

	service, err := s.cfg.Providers.Register(c.Request().Context(), provider.RegisterOptions{
		Name:      body.ID,
		URL:       body.URL,
		Type:      types.ServiceType(body.Type),
		Public:    body.Public,
		Auth:      types.AuthMode(body.Auth),
		SkipProbe: body.SkipProbe,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, describedView(provider.Description{Service: service}))
}

func (s *Server) describeProvider(c echo.Context) error {
	described, err := s.cfg.Providers.Describe(c.Request().Context(), c.Param("provider"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, describedView(*described))
}

func (s *Server) unregisterProvider(c echo.Context) error {
	name := c.Param("provider")
	if _, err := s.cfg.Providers.Get(name); err != nil {
		return fail(c, err)
	}
	if err := s.cfg.Providers.Unregister(name); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listProviderProcesses(c echo.Context) error {
	service, err := s.cfg.Providers.Get(c.Param("provider"))
	if err != nil {
		return fail(c, err)
	}

	summaries, err := s.providerProcesses(c, service)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"processes": summaries})
}

// providerProcesses lists the remote offering in the provider's own
// protocol, normalized to process summaries.
func (s *Server) providerProcesses(c echo.Context, service *types.Service) ([]client.ProcessSummary, error) {
	ctx := c.Request().Context()
	if service.Type == types.ServiceTypeAPI {
		return client.NewClient(service.URL, nil, "").ListProcesses(ctx)
	}

	caps, err := s.cfg.Clients.Get(service.URL, "").GetCapabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("capabilities of %s: %w", service.Name, err)
	}
	summaries := make([]client.ProcessSummary, 0, len(caps.Processes))
	for _, brief := range caps.Processes {
		summaries = append(summaries, client.ProcessSummary{
			ID:       brief.Identifier,
			Title:    brief.Title,
			Abstract: brief.Abstract,
			Version:  brief.Version,
		})
	}
	return summaries, nil
}

func (s *Server) describeProviderProcess(c echo.Context) error {
	service, err := s.cfg.Providers.Get(c.Param("provider"))
	if err != nil {
		return fail(c, err)
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	if service.Type == types.ServiceTypeAPI {
		summary, err := client.NewClient(service.URL, nil, "").DescribeProcess(ctx, id)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"process": summary})
	}

	described, err := s.cfg.Clients.Get(service.URL, "").DescribeProcess(ctx, id)
	if err != nil {
		return fail(c, fmt.Errorf("%w: %s on %s", types.ErrProcessNotFound, id, service.Name))
	}

	summary := client.ProcessSummary{
		ID:       described.Identifier,
		Title:    described.Title,
		Abstract: described.Abstract,
		Version:  described.Version,
	}
	for _, input := range described.Inputs {
		io := input.ToWPSIO(iomodel.DirectionInput)
		summary.Inputs = append(summary.Inputs, iomodel.WPSToAPI(&io))
	}
	for _, output := range described.Outputs {
		io := output.ToWPSIO(iomodel.DirectionOutput)
		summary.Outputs = append(summary.Outputs, iomodel.WPSToAPI(&io))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"process": summary})
}

func (s *Server) executeProviderProcess(c echo.Context) error {
	service, err := s.cfg.Providers.Get(c.Param("provider"))
	if err != nil {
		return fail(c, err)
	}

	var req executeEnvelope
	if err := c.Bind(&req); err != nil {
		return badRequest(c, wps.CodeInvalidParameterValue, "decode execute request")
	}

	job := types.NewJob(c.Param("id"))
	job.Service = service.Name
	job.Inputs = req.Inputs
	job.ExecuteAsync = !strings.EqualFold(req.Mode, "sync")
	job.UserID = userID(c)
	job.Tags = req.Tags
	if err := s.prepareJob(c, job, req.NotificationEmail); err != nil {
		return fail(c, err)
	}

	return s.submitJob(c, job, job.ProcessID)
}
