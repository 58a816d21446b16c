package wps

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/trellisproc/trellis/pkg/iomodel"
	"github.com/trellisproc/trellis/pkg/types"
)

// OGC WPS 1.0.0 namespaces used when rendering documents. Parsing matches
// element local names so WPS 2.0 responses with a different namespace
// still decode.
const (
	NamespaceWPS   = "http://www.opengis.net/wps/1.0.0"
	NamespaceOWS   = "http://www.opengis.net/ows/1.1"
	NamespaceXlink = "http://www.w3.org/1999/xlink"

	ServiceName = "WPS"
	Version100  = "1.0.0"
)

// WPS process run states as reported inside <Status>
const (
	StatusAccepted  = "ProcessAccepted"
	StatusStarted   = "ProcessStarted"
	StatusPaused    = "ProcessPaused"
	StatusSucceeded = "ProcessSucceeded"
	StatusFailed    = "ProcessFailed"
)

// ExecuteResponse is a parsed WPS Execute status document
type ExecuteResponse struct {
	XMLName        xml.Name `xml:"ExecuteResponse"`
	Version        string   `xml:"version,attr"`
	StatusLocation string   `xml:"statusLocation,attr"`
	Process        ProcessBrief
	Status         Status   `xml:"Status"`
	Outputs        []Output `xml:"ProcessOutputs>Output"`
}

// ProcessBrief identifies a process in capabilities and responses
type ProcessBrief struct {
	XMLName    xml.Name `xml:"Process"`
	Identifier string   `xml:"Identifier"`
	Title      string   `xml:"Title"`
	Abstract   string   `xml:"Abstract"`
	Version    string   `xml:"processVersion,attr"`
}

// Status holds exactly one of the five WPS process states
type Status struct {
	CreationTime string              `xml:"creationTime,attr"`
	Accepted     *StatusDetail       `xml:"ProcessAccepted"`
	Started      *StatusDetail       `xml:"ProcessStarted"`
	Paused       *StatusDetail       `xml:"ProcessPaused"`
	Succeeded    *StatusDetail       `xml:"ProcessSucceeded"`
	Failed       *StatusFailedDetail `xml:"ProcessFailed"`
}

// StatusDetail carries the message and, for ProcessStarted, the progress
type StatusDetail struct {
	PercentCompleted string `xml:"percentCompleted,attr"`
	Message          string `xml:",chardata"`
}

// StatusFailedDetail wraps the exception report of a failed run
type StatusFailedDetail struct {
	Report *ExceptionReport `xml:"ExceptionReport"`
}

// ExceptionReport is an OWS exception document, either standalone or
// nested under ProcessFailed
type ExceptionReport struct {
	XMLName    xml.Name       `xml:"ExceptionReport"`
	Exceptions []OWSException `xml:"Exception"`
}

// OWSException is a single exception entry
type OWSException struct {
	Code    string   `xml:"exceptionCode,attr"`
	Locator string   `xml:"locator,attr"`
	Text    []string `xml:"ExceptionText"`
}

// Error renders the first exception entry, making a report usable as a Go
// error for failed requests
func (r *ExceptionReport) Error() string {
	if len(r.Exceptions) == 0 {
		return "wps exception report with no entries"
	}
	exc := r.Exceptions[0]
	text := strings.Join(exc.Text, "; ")
	if exc.Locator != "" {
		return fmt.Sprintf("wps exception %s (locator %s): %s", exc.Code, exc.Locator, text)
	}
	return fmt.Sprintf("wps exception %s: %s", exc.Code, text)
}

// Output is one entry of <ProcessOutputs>
type Output struct {
	Identifier string     `xml:"Identifier"`
	Title      string     `xml:"Title"`
	Reference  *Reference `xml:"Reference"`
	Data       *Data      `xml:"Data"`
}

// Reference points to output content by URL. Output references carry a
// plain href attribute, input references an xlink one; both parse here.
type Reference struct {
	Href     string `xml:"href,attr"`
	MimeType string `xml:"mimeType,attr"`
	Encoding string `xml:"encoding,attr"`
	Schema   string `xml:"schema,attr"`
}

// Data is inline output content
type Data struct {
	Literal *LiteralData `xml:"LiteralData"`
	Complex *ComplexData `xml:"ComplexData"`
}

// LiteralData is an inline literal value
type LiteralData struct {
	DataType string `xml:"dataType,attr"`
	Value    string `xml:",chardata"`
}

// ComplexData is inline complex content, kept verbatim
type ComplexData struct {
	MimeType string `xml:"mimeType,attr"`
	Encoding string `xml:"encoding,attr"`
	Content  string `xml:",innerxml"`
}

// State names the process state set on the status, or "" when the
// document carries none
func (s *Status) State() string {
	switch {
	case s.Accepted != nil:
		return StatusAccepted
	case s.Started != nil:
		return StatusStarted
	case s.Paused != nil:
		return StatusPaused
	case s.Succeeded != nil:
		return StatusSucceeded
	case s.Failed != nil:
		return StatusFailed
	}
	return ""
}

// JobStatus maps the WPS state onto the job state machine
func (s *Status) JobStatus() types.JobStatus {
	switch s.State() {
	case StatusAccepted:
		return types.JobAccepted
	case StatusStarted, StatusPaused:
		return types.JobRunning
	case StatusSucceeded:
		return types.JobSucceeded
	case StatusFailed:
		return types.JobFailed
	}
	return types.JobUnknown
}

// Percent reports run progress: the ProcessStarted attribute when given,
// 100 on success, 0 otherwise
func (s *Status) Percent() int {
	switch s.State() {
	case StatusStarted:
		if p, err := strconv.Atoi(strings.TrimSpace(s.Started.PercentCompleted)); err == nil {
			return p
		}
		return 0
	case StatusSucceeded:
		return 100
	}
	return 0
}

// Message returns the human-readable status text, if any
func (s *Status) Message() string {
	switch s.State() {
	case StatusAccepted:
		return strings.TrimSpace(s.Accepted.Message)
	case StatusStarted:
		return strings.TrimSpace(s.Started.Message)
	case StatusPaused:
		return strings.TrimSpace(s.Paused.Message)
	case StatusSucceeded:
		return strings.TrimSpace(s.Succeeded.Message)
	case StatusFailed:
		if s.Failed.Report != nil {
			return s.Failed.Report.Error()
		}
		return "process failed"
	}
	return ""
}

// Exceptions converts a failed status into job exception entries
func (s *Status) Exceptions() []types.Exception {
	if s.Failed == nil || s.Failed.Report == nil {
		return nil
	}
	excs := make([]types.Exception, 0, len(s.Failed.Report.Exceptions))
	for _, e := range s.Failed.Report.Exceptions {
		excs = append(excs, types.Exception{
			Code:    e.Code,
			Locator: e.Locator,
			Text:    strings.Join(e.Text, "; "),
		})
	}
	return excs
}

// OutputEntries converts <ProcessOutputs> into I/O entries. When an
// output carries both a reference and inline data the reference wins and
// the data is dropped.
func (r *ExecuteResponse) OutputEntries() []types.IOEntry {
	entries := make([]types.IOEntry, 0, len(r.Outputs))
	for _, out := range r.Outputs {
		entry := types.IOEntry{ID: out.Identifier, Title: out.Title}
		switch {
		case out.Reference != nil && out.Reference.Href != "":
			entry.Href = out.Reference.Href
			entry.MimeType = out.Reference.MimeType
		case out.Data != nil && out.Data.Literal != nil:
			entry.Value = out.Data.Literal.Value
		case out.Data != nil && out.Data.Complex != nil:
			entry.Value = out.Data.Complex.Content
			entry.MimeType = out.Data.Complex.MimeType
		}
		entries = append(entries, entry)
	}
	return entries
}

// ParseExecuteResponse decodes a WPS Execute status document
func ParseExecuteResponse(data []byte) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse wps execute response: %w", err)
	}
	return &resp, nil
}

// executeDocument is the parse shape of an Execute XML POST body
type executeDocument struct {
	XMLName    xml.Name          `xml:"Execute"`
	Identifier string            `xml:"Identifier"`
	Language   string            `xml:"language,attr"`
	Inputs     []requestInput    `xml:"DataInputs>Input"`
	Response   *responseDocument `xml:"ResponseForm>ResponseDocument"`
}

type requestInput struct {
	Identifier string     `xml:"Identifier"`
	Reference  *Reference `xml:"Reference"`
	Data       *Data      `xml:"Data"`
}

type responseDocument struct {
	Status  string            `xml:"status,attr"`
	Store   string            `xml:"storeExecuteResponse,attr"`
	Outputs []requestedOutput `xml:"Output"`
}

type requestedOutput struct {
	AsReference string `xml:"asReference,attr"`
	MimeType    string `xml:"mimeType,attr"`
	Identifier  string `xml:"Identifier"`
}

// ParseExecuteRequest decodes an Execute XML POST body into the
// protocol-neutral request form shared with the KVP codec
func ParseExecuteRequest(data []byte) (*ExecuteRequest, error) {
	var doc executeDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse wps execute request: %w", err)
	}
	if doc.Identifier == "" {
		return nil, &KVPError{Code: CodeMissingParameterValue, Locator: "Identifier", Message: "missing process identifier"}
	}

	req := &ExecuteRequest{Identifier: doc.Identifier, Language: doc.Language}
	for _, in := range doc.Inputs {
		entry := types.IOEntry{ID: in.Identifier}
		switch {
		case in.Reference != nil && in.Reference.Href != "":
			entry.Href = in.Reference.Href
			entry.MimeType = in.Reference.MimeType
		case in.Data != nil && in.Data.Literal != nil:
			entry.Value = in.Data.Literal.Value
		case in.Data != nil && in.Data.Complex != nil:
			entry.Value = in.Data.Complex.Content
			entry.MimeType = in.Data.Complex.MimeType
		}
		req.Inputs = append(req.Inputs, entry)
	}
	if doc.Response != nil {
		req.Async = strings.EqualFold(doc.Response.Status, "true") ||
			strings.EqualFold(doc.Response.Store, "true")
		for _, out := range doc.Response.Outputs {
			req.Outputs = append(req.Outputs, RequestedOutput{
				Identifier:  out.Identifier,
				AsReference: strings.EqualFold(out.AsReference, "true"),
				MimeType:    out.MimeType,
			})
		}
	}
	return req, nil
}

// ParseExceptionReport decodes a standalone OWS exception report
func ParseExceptionReport(data []byte) (*ExceptionReport, error) {
	var report ExceptionReport
	if err := xml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse ows exception report: %w", err)
	}
	return &report, nil
}

// Capabilities is a parsed GetCapabilities response
type Capabilities struct {
	XMLName   xml.Name       `xml:"Capabilities"`
	Version   string         `xml:"version,attr"`
	Title     string         `xml:"ServiceIdentification>Title"`
	Abstract  string         `xml:"ServiceIdentification>Abstract"`
	Keywords  []string       `xml:"ServiceIdentification>Keywords>Keyword"`
	Provider  string         `xml:"ServiceProvider>ProviderName"`
	Processes []ProcessBrief `xml:"ProcessOfferings>Process"`
}

// ParseCapabilities decodes a GetCapabilities response
func ParseCapabilities(data []byte) (*Capabilities, error) {
	var caps Capabilities
	if err := xml.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("parse wps capabilities: %w", err)
	}
	return &caps, nil
}

// ProcessDescriptions is a parsed DescribeProcess response
type ProcessDescriptions struct {
	XMLName   xml.Name             `xml:"ProcessDescriptions"`
	Processes []ProcessDescription `xml:"ProcessDescription"`
}

// ProcessDescription describes one process with its typed I/O
type ProcessDescription struct {
	Identifier string          `xml:"Identifier"`
	Title      string          `xml:"Title"`
	Abstract   string          `xml:"Abstract"`
	Version    string          `xml:"processVersion,attr"`
	Inputs     []DescriptionIO `xml:"DataInputs>Input"`
	Outputs    []DescriptionIO `xml:"ProcessOutputs>Output"`
}

// DescriptionIO is one input or output of a process description
type DescriptionIO struct {
	Identifier    string              `xml:"Identifier"`
	Title         string              `xml:"Title"`
	Abstract      string              `xml:"Abstract"`
	MinOccurs     string              `xml:"minOccurs,attr"`
	MaxOccurs     string              `xml:"maxOccurs,attr"`
	LiteralData   *LiteralDescription `xml:"LiteralData"`
	LiteralOutput *LiteralDescription `xml:"LiteralOutput"`
	ComplexData   *ComplexDescription `xml:"ComplexData"`
	ComplexOutput *ComplexDescription `xml:"ComplexOutput"`
	BoundingBox   *BBoxDescription    `xml:"BoundingBoxData"`
}

// LiteralDescription is the literal domain of a described I/O
type LiteralDescription struct {
	DataType      string    `xml:"DataType"`
	AllowedValues []string  `xml:"AllowedValues>Value"`
	AnyValue      *struct{} `xml:"AnyValue"`
	Default       string    `xml:"DefaultValue"`
}

// ComplexDescription is the format domain of a described I/O
type ComplexDescription struct {
	Default   FormatEntry   `xml:"Default>Format"`
	Supported []FormatEntry `xml:"Supported>Format"`
}

// FormatEntry is one complex format choice
type FormatEntry struct {
	MimeType string `xml:"MimeType"`
	Encoding string `xml:"Encoding"`
	Schema   string `xml:"Schema"`
}

// BBoxDescription is the CRS domain of a bounding-box I/O
type BBoxDescription struct {
	Default   string   `xml:"Default>CRS"`
	Supported []string `xml:"Supported>CRS"`
}

// ParseProcessDescriptions decodes a DescribeProcess response
func ParseProcessDescriptions(data []byte) (*ProcessDescriptions, error) {
	var descs ProcessDescriptions
	if err := xml.Unmarshal(data, &descs); err != nil {
		return nil, fmt.Errorf("parse wps process descriptions: %w", err)
	}
	return &descs, nil
}

// ToWPSIO converts a described I/O into the internal model so remote
// WPS-1 processes can surface through the same views as local ones
func (d *DescriptionIO) ToWPSIO(direction iomodel.Direction) iomodel.WPSIO {
	io := iomodel.WPSIO{
		Identifier: d.Identifier,
		Title:      d.Title,
		Abstract:   d.Abstract,
		Direction:  direction,
		MinOccurs:  parseOccurs(d.MinOccurs, 1),
		MaxOccurs:  parseOccurs(d.MaxOccurs, 1),
	}

	literal := d.LiteralData
	if literal == nil {
		literal = d.LiteralOutput
	}
	complexDom := d.ComplexData
	if complexDom == nil {
		complexDom = d.ComplexOutput
	}

	switch {
	case literal != nil:
		io.Kind = iomodel.KindLiteral
		io.DataType = strings.ToLower(strings.TrimSpace(literal.DataType))
		if io.DataType == "" {
			io.DataType = "string"
		}
		io.AllowedValues = literal.AllowedValues
		io.AnyValue = literal.AnyValue != nil
		if literal.Default != "" {
			io.Default = literal.Default
		}
	case complexDom != nil:
		io.Kind = iomodel.KindComplex
		formats := make([]iomodel.Format, 0, len(complexDom.Supported)+1)
		if complexDom.Default.MimeType != "" {
			formats = append(formats, iomodel.Format{
				MimeType: complexDom.Default.MimeType,
				Encoding: complexDom.Default.Encoding,
				Schema:   complexDom.Default.Schema,
				Default:  true,
			})
		}
		for _, f := range complexDom.Supported {
			if f.MimeType == complexDom.Default.MimeType {
				continue
			}
			formats = append(formats, iomodel.Format{
				MimeType: f.MimeType,
				Encoding: f.Encoding,
				Schema:   f.Schema,
			})
		}
		io.Formats = formats
		io.AsReference = direction == iomodel.DirectionOutput
	case d.BoundingBox != nil:
		io.Kind = iomodel.KindBoundingBox
		crs := d.BoundingBox.Supported
		if d.BoundingBox.Default != "" {
			crs = append([]string{d.BoundingBox.Default}, crs...)
		}
		io.SupportedCRS = crs
	default:
		io.Kind = iomodel.KindLiteral
		io.DataType = "string"
	}
	return io
}

func parseOccurs(value string, fallback int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if strings.EqualFold(value, "unbounded") {
		return iomodel.MaxOccursUnbounded
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
