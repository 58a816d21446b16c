package api

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trellisproc/trellis/pkg/iomodel"
	"github.com/trellisproc/trellis/pkg/status"
	"github.com/trellisproc/trellis/pkg/types"
	"github.com/trellisproc/trellis/pkg/wps"
)

// wpsEndpoint serves the legacy WPS 1.0 protocol: KVP on GET, XML
// documents on POST. Responses are XML unless the client asks for JSON,
// in which case Execute answers with the status document.
func (s *Server) wpsEndpoint(c echo.Context) error {
	if c.Request().Method == http.MethodPost {
		return s.wpsPost(c)
	}
	return s.wpsGet(c)
}

func (s *Server) wpsGet(c echo.Context) error {
	// DataInputs entries are ";"-separated, which net/url based query
	// parsing rejects, so the raw query is decoded directly
	values := wps.ParseQueryKVP(c.Request().URL.RawQuery)

	if service := wps.KVPGet(values, "service"); !strings.EqualFold(service, wps.ServiceName) {
		return s.wpsException(c, http.StatusBadRequest, wps.CodeInvalidParameterValue, "service",
			"service must be WPS")
	}

	switch request := wps.KVPGet(values, "request"); strings.ToLower(request) {
	case "getcapabilities":
		return s.wpsCapabilities(c)
	case "describeprocess":
		return s.wpsDescribe(c, wps.KVPGet(values, "identifier"))
	case "execute":
		req, err := wps.ParseExecuteKVP(values)
		if err != nil {
			return s.wpsError(c, err)
		}
		return s.wpsExecute(c, req, c.Request().URL.RawQuery)
	case "":
		return s.wpsException(c, http.StatusBadRequest, wps.CodeMissingParameterValue, "request",
			"missing request parameter")
	default:
		return s.wpsException(c, http.StatusBadRequest, wps.CodeOperationNotSupported, request,
			"unknown request "+request)
	}
}

func (s *Server) wpsPost(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return s.wpsException(c, http.StatusBadRequest, wps.CodeNoApplicableCode, "",
			"could not read request body")
	}

	switch root := xmlRootName(body); root {
	case "Execute":
		req, err := wps.ParseExecuteRequest(body)
		if err != nil {
			return s.wpsError(c, err)
		}
		return s.wpsExecute(c, req, string(body))
	case "GetCapabilities":
		return s.wpsCapabilities(c)
	case "DescribeProcess":
		var doc struct {
			Identifiers []string `xml:"Identifier"`
		}
		if err := xml.Unmarshal(body, &doc); err != nil {
			return s.wpsException(c, http.StatusBadRequest, wps.CodeNoApplicableCode, "",
				"could not parse DescribeProcess body")
		}
		return s.wpsDescribe(c, strings.Join(doc.Identifiers, ","))
	default:
		return s.wpsException(c, http.StatusBadRequest, wps.CodeOperationNotSupported, root,
			"unknown request "+root)
	}
}

// xmlRootName sniffs the local name of the document's root element
func xmlRootName(body []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	for {
		token, err := decoder.Token()
		if err != nil {
			return ""
		}
		if start, ok := token.(xml.StartElement); ok {
			return start.Name.Local
		}
	}
}

func (s *Server) wpsCapabilities(c echo.Context) error {
	processes, err := s.cfg.Store.ListProcesses("")
	if err != nil {
		return s.wpsError(c, err)
	}

	doc := wps.CapabilitiesDocument{
		Title:     s.cfg.Title,
		Abstract:  s.cfg.Abstract,
		Provider:  s.cfg.Provider,
		Languages: []string{"en-US"},
	}
	for _, p := range processes {
		doc.Processes = append(doc.Processes, wps.ProcessBrief{
			Identifier: p.ID,
			Title:      p.Title,
			Abstract:   p.Abstract,
			Version:    p.Version,
		})
	}

	body, err := wps.RenderCapabilities(&doc)
	if err != nil {
		return s.wpsError(c, err)
	}
	return c.Blob(http.StatusOK, "text/xml", body)
}

func (s *Server) wpsDescribe(c echo.Context, identifier string) error {
	if identifier == "" {
		return s.wpsException(c, http.StatusBadRequest, wps.CodeMissingParameterValue, "identifier",
			"missing identifier parameter")
	}

	var processes []*types.Process
	if strings.EqualFold(identifier, "all") {
		all, err := s.cfg.Store.ListProcesses("")
		if err != nil {
			return s.wpsError(c, err)
		}
		processes = all
	} else {
		for _, id := range strings.Split(identifier, ",") {
			process, err := s.cfg.Store.GetProcess(strings.TrimSpace(id))
			if err != nil {
				return s.wpsException(c, http.StatusBadRequest, wps.CodeInvalidParameterValue, id,
					"no process with identifier "+id)
			}
			processes = append(processes, process)
		}
	}

	docs := make([]wps.ProcessDescriptionDocument, 0, len(processes))
	for _, p := range processes {
		doc := wps.ProcessDescriptionDocument{
			Identifier: p.ID,
			Title:      p.Title,
			Abstract:   p.Abstract,
			Version:    p.Version,
		}
		inputs, err := storedIO(p.Inputs, iomodel.DirectionInput)
		if err != nil {
			return s.wpsError(c, err)
		}
		outputs, err := storedIO(p.Outputs, iomodel.DirectionOutput)
		if err != nil {
			return s.wpsError(c, err)
		}
		doc.Inputs = inputs
		doc.Outputs = outputs
		docs = append(docs, doc)
	}

	body, err := wps.RenderProcessDescriptions(docs)
	if err != nil {
		return s.wpsError(c, err)
	}
	return c.Blob(http.StatusOK, "text/xml", body)
}

// storedIO revives the typed I/O of a stored process from its API maps
func storedIO(maps []map[string]interface{}, dir iomodel.Direction) ([]iomodel.WPSIO, error) {
	ios := make([]iomodel.WPSIO, 0, len(maps))
	for _, m := range maps {
		io, err := iomodel.APIToWPS(m, dir)
		if err != nil {
			return nil, err
		}
		ios = append(ios, *io)
	}
	return ios, nil
}

func (s *Server) wpsExecute(c echo.Context, req *wps.ExecuteRequest, rawRequest string) error {
	process, err := s.cfg.Store.GetProcess(req.Identifier)
	if err != nil {
		return s.wpsException(c, http.StatusBadRequest, wps.CodeInvalidParameterValue, req.Identifier,
			"no process with identifier "+req.Identifier)
	}

	job := types.NewJob(process.ID)
	job.Inputs = req.Inputs
	job.IsWorkflow = process.Kind == types.ProcessKindWorkflow
	job.ExecuteAsync = req.Async
	job.UserID = userID(c)
	job.Request = rawRequest
	if err := s.prepareJob(c, job, ""); err != nil {
		return s.wpsError(c, err)
	}

	if err := s.cfg.Engine.Accept(job, process.Title); err != nil {
		return s.wpsError(c, err)
	}

	if !req.Async {
		ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.SyncTimeout)
		defer cancel()
		if finished, err := s.cfg.Engine.WaitForJob(ctx, job.ID); err == nil {
			job = finished
		} else {
			s.log.Warn().Str("job", job.ID).Err(err).Msg("sync wait gave up, answering with current state")
		}
	}

	if acceptsJSON(c) {
		c.Response().Header().Set("Location", s.jobLocation(job))
		return c.JSON(http.StatusCreated, status.Document(job, s.cfg.BaseURL))
	}

	doc := &wps.StatusDocument{
		ProcessID:       job.ProcessID,
		Title:           process.Title,
		State:           wps.StateForJobStatus(job.Status),
		Percent:         job.Progress,
		Message:         job.StatusMessage,
		CreationTime:    job.Created,
		ServiceInstance: s.cfg.BaseURL + s.cfg.WPSPath,
		Exceptions:      job.Exceptions,
		Outputs:         job.Results,
	}
	if s.cfg.Status != nil {
		doc.StatusLocation = s.cfg.Status.Location(job.ID)
	}

	body, err := wps.RenderStatusDocument(doc)
	if err != nil {
		return s.wpsError(c, err)
	}
	return c.Blob(http.StatusOK, "text/xml", body)
}

func acceptsJSON(c echo.Context) bool {
	return strings.Contains(c.Request().Header.Get("Accept"), "application/json")
}

// wpsError renders any error as an OWS exception report, keeping KVP
// codes when the error carries them.
func (s *Server) wpsError(c echo.Context, err error) error {
	var kvpErr *wps.KVPError
	if errors.As(err, &kvpErr) {
		return s.wpsException(c, http.StatusBadRequest, kvpErr.Code, kvpErr.Locator, kvpErr.Message)
	}
	return s.wpsException(c, http.StatusInternalServerError, wps.CodeNoApplicableCode, "", err.Error())
}

func (s *Server) wpsException(c echo.Context, httpStatus int, code, locator, text string) error {
	body, err := wps.RenderExceptionReport(code, locator, text)
	if err != nil {
		return c.String(http.StatusInternalServerError, text)
	}
	return c.Blob(httpStatus, "text/xml", body)
}
