package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/trellisproc/trellis/pkg/engine"
	"github.com/trellisproc/trellis/pkg/log"
	"github.com/trellisproc/trellis/pkg/metrics"
	"github.com/trellisproc/trellis/pkg/owsproxy"
	"github.com/trellisproc/trellis/pkg/pack"
	"github.com/trellisproc/trellis/pkg/provider"
	"github.com/trellisproc/trellis/pkg/security"
	"github.com/trellisproc/trellis/pkg/status"
	"github.com/trellisproc/trellis/pkg/storage"
	"github.com/trellisproc/trellis/pkg/wps"
)

// Config wires the HTTP server's collaborators. Engine, Store and
// BaseURL are required; the rest disable their routes when absent.
type Config struct {
	Engine    *engine.Engine
	Store     storage.Store
	Providers *provider.Registry
	Proxy     *owsproxy.Proxy
	Loader    *pack.Loader
	Clients   *wps.ClientCache
	Secrets   *security.SecretsManager

	// Status renders the legacy WPS statusLocation URLs; shared with the
	// engine so both point at the same files.
	Status *status.Writer

	// BaseURL is the public root used in Location headers and status
	// document links.
	BaseURL string
	// WPSPath mounts the WPS 1.0 endpoint, default /ows/wps.
	WPSPath string
	// OutputDir is served at /wpsoutputs.
	OutputDir string
	// OutputContext is the default output sub-directory applied when a
	// request carries no X-WPS-Output-Context header.
	OutputContext string

	// AuthRequired guards mutating routes with bearer tokens.
	AuthRequired bool

	Title    string
	Abstract string
	Provider string
	Version  string

	// SyncTimeout bounds how long a synchronous execute request waits
	// for its job.
	SyncTimeout time.Duration
}

// Server is the HTTP face of the service: the OGC API Processes
// routes, the WPS 1.0 endpoint, the output file tree and the OWS proxy.
type Server struct {
	echo *echo.Echo
	cfg  Config
	log  zerolog.Logger
}

// NewServer builds the server and registers all routes
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("api: engine is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("api: store is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api: base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.WPSPath == "" {
		cfg.WPSPath = "/ows/wps"
	}
	if cfg.Title == "" {
		cfg.Title = "Trellis processing service"
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 10 * time.Minute
	}

	s := &Server{
		echo: echo.New(),
		cfg:  cfg,
		log:  log.WithComponent("api"),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.requestLogger)
	s.echo.Use(measureRequests)

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/", s.landingPage)
	e.GET("/conformance", s.conformance)
	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	guard := s.bearerAuth

	// Process deployment and execution
	e.GET("/processes", s.listProcesses)
	e.POST("/processes", s.deployProcess, guard)
	e.GET("/processes/:id", s.describeProcess)
	e.DELETE("/processes/:id", s.undeployProcess, guard)
	e.GET("/processes/:id/package", s.getProcessPackage)
	e.GET("/processes/:id/payload", s.getProcessPayload)
	e.PUT("/processes/:id/visibility", s.setProcessVisibility, guard)
	e.POST("/processes/:id/execution", s.executeProcess, guard)
	e.POST("/processes/:id/jobs", s.executeProcess, guard)
	e.GET("/processes/:id/jobs", s.listJobs)
	e.GET("/processes/:id/jobs/:job", s.getJob)
	e.GET("/processes/:id/jobs/:job/results", s.getJobResults)
	e.GET("/processes/:id/jobs/:job/exceptions", s.getJobExceptions)
	e.GET("/processes/:id/jobs/:job/logs", s.getJobLogs)
	e.DELETE("/processes/:id/jobs/:job", s.dismissJob, guard)

	// Jobs
	e.GET("/jobs", s.listJobs)
	e.GET("/jobs/:job", s.getJob)
	e.GET("/jobs/:job/results", s.getJobResults)
	e.GET("/jobs/:job/outputs", s.getJobOutputs)
	e.GET("/jobs/:job/exceptions", s.getJobExceptions)
	e.GET("/jobs/:job/logs", s.getJobLogs)
	e.DELETE("/jobs/:job", s.dismissJob, guard)

	// Remote providers
	if s.cfg.Providers != nil {
		e.GET("/providers", s.listProviders)
		e.POST("/providers", s.registerProvider, guard)
		e.GET("/providers/:provider", s.describeProvider)
		e.DELETE("/providers/:provider", s.unregisterProvider, guard)
		e.GET("/providers/:provider/processes", s.listProviderProcesses)
		e.GET("/providers/:provider/processes/:id", s.describeProviderProcess)
		e.POST("/providers/:provider/processes/:id/jobs", s.executeProviderProcess, guard)
		e.GET("/providers/:provider/processes/:id/jobs", s.listJobs)
		e.GET("/providers/:provider/processes/:id/jobs/:job", s.getJob)
		e.GET("/providers/:provider/processes/:id/jobs/:job/results", s.getJobResults)
		e.GET("/providers/:provider/processes/:id/jobs/:job/exceptions", s.getJobExceptions)
		e.GET("/providers/:provider/processes/:id/jobs/:job/logs", s.getJobLogs)
		e.DELETE("/providers/:provider/processes/:id/jobs/:job", s.dismissJob, guard)
	}

	// WPS 1.0 endpoint, KVP GET and XML POST
	e.GET(s.cfg.WPSPath, s.wpsEndpoint)
	e.POST(s.cfg.WPSPath, s.wpsEndpoint)

	// Published job outputs
	if s.cfg.OutputDir != "" {
		e.Static("/wpsoutputs", s.cfg.OutputDir)
	}

	// OWS proxy for registered providers
	if s.cfg.Proxy != nil {
		proxy := func(c echo.Context) error {
			s.cfg.Proxy.Forward(c.Response(), c.Request(), c.Param("provider"), c.Param("*"))
			return nil
		}
		e.Any("/ows/proxy/:provider", proxy)
		e.Any("/ows/proxy/:provider/*", proxy)
	}
}

// Handler exposes the route tree, mainly for httptest servers
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves HTTP on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("api server listening")
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) landingPage(c echo.Context) error {
	base := s.cfg.BaseURL
	return c.JSON(http.StatusOK, map[string]interface{}{
		"title":       s.cfg.Title,
		"description": s.cfg.Abstract,
		"links": []map[string]string{
			{"href": base + "/processes", "rel": "processes", "type": "application/json"},
			{"href": base + "/jobs", "rel": "jobs", "type": "application/json"},
			{"href": base + "/conformance", "rel": "conformance", "type": "application/json"},
			{"href": base + s.cfg.WPSPath, "rel": "wps", "type": "text/xml"},
		},
	})
}

func (s *Server) conformance(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{
		"conformsTo": {
			"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/core",
			"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/ogc-process-description",
			"http://www.opengis.net/spec/ogcapi-processes-1/1.0/conf/json",
			"http://www.opengis.net/spec/ogcapi-processes-2/1.0/conf/deploy-replace-undeploy",
		},
	})
}
