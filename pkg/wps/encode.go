package wps

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/trellisproc/trellis/pkg/iomodel"
	"github.com/trellisproc/trellis/pkg/types"
)

// Marshal-side shadow types carry literal namespace prefixes; the parse
// types in wps.go stay prefix-agnostic.

// StateForJobStatus maps a job state onto the WPS status element name.
// Dismissed and exception states surface as ProcessFailed for legacy
// clients.
func StateForJobStatus(status types.JobStatus) string {
	switch status {
	case types.JobAccepted:
		return StatusAccepted
	case types.JobRunning:
		return StatusStarted
	case types.JobSucceeded:
		return StatusSucceeded
	default:
		return StatusFailed
	}
}

// StatusDocument is the content of a rendered ExecuteResponse
type StatusDocument struct {
	ProcessID       string
	Title           string
	State           string
	Percent         int
	Message         string
	CreationTime    time.Time
	StatusLocation  string
	ServiceInstance string
	Exceptions      []types.Exception
	Outputs         []types.IOEntry
}

type xmlExecuteResponse struct {
	XMLName         xml.Name `xml:"wps:ExecuteResponse"`
	XMLNSWPS        string   `xml:"xmlns:wps,attr"`
	XMLNSOWS        string   `xml:"xmlns:ows,attr"`
	XMLNSXlink      string   `xml:"xmlns:xlink,attr"`
	Service         string   `xml:"service,attr"`
	Version         string   `xml:"version,attr"`
	Lang            string   `xml:"xml:lang,attr"`
	ServiceInstance string   `xml:"serviceInstance,attr,omitempty"`
	StatusLocation  string   `xml:"statusLocation,attr,omitempty"`

	Process xmlProcessBrief
	Status  xmlStatus
	Outputs *xmlProcessOutputs
}

type xmlProcessBrief struct {
	XMLName    xml.Name `xml:"wps:Process"`
	Version    string   `xml:"wps:processVersion,attr,omitempty"`
	Identifier string   `xml:"ows:Identifier"`
	Title      string   `xml:"ows:Title,omitempty"`
}

type xmlStatus struct {
	XMLName      xml.Name          `xml:"wps:Status"`
	CreationTime string            `xml:"creationTime,attr"`
	Accepted     *xmlStatusDetail  `xml:"wps:ProcessAccepted"`
	Started      *xmlStartedDetail `xml:"wps:ProcessStarted"`
	Succeeded    *xmlStatusDetail  `xml:"wps:ProcessSucceeded"`
	Failed       *xmlStatusFailed  `xml:"wps:ProcessFailed"`
}

type xmlStatusDetail struct {
	Message string `xml:",chardata"`
}

type xmlStartedDetail struct {
	Percent string `xml:"percentCompleted,attr"`
	Message string `xml:",chardata"`
}

type xmlStatusFailed struct {
	Report xmlExceptionReport `xml:"wps:ExceptionReport"`
}

type xmlExceptionReport struct {
	XMLNSOWS   string         `xml:"xmlns:ows,attr,omitempty"`
	Version    string         `xml:"version,attr"`
	Exceptions []xmlException `xml:"ows:Exception"`
}

type xmlException struct {
	Code    string   `xml:"exceptionCode,attr"`
	Locator string   `xml:"locator,attr,omitempty"`
	Text    []string `xml:"ows:ExceptionText"`
}

type xmlProcessOutputs struct {
	XMLName xml.Name    `xml:"wps:ProcessOutputs"`
	Outputs []xmlOutput `xml:"wps:Output"`
}

type xmlOutput struct {
	Identifier string              `xml:"ows:Identifier"`
	Title      string              `xml:"ows:Title,omitempty"`
	Reference  *xmlOutputReference `xml:"wps:Reference"`
	Data       *xmlData            `xml:"wps:Data"`
}

type xmlOutputReference struct {
	Href     string `xml:"href,attr"`
	MimeType string `xml:"mimeType,attr,omitempty"`
}

type xmlData struct {
	Literal *xmlLiteralData `xml:"wps:LiteralData"`
	Complex *xmlComplexData `xml:"wps:ComplexData"`
}

type xmlLiteralData struct {
	DataType string `xml:"dataType,attr,omitempty"`
	Value    string `xml:",chardata"`
}

type xmlComplexData struct {
	MimeType string `xml:"mimeType,attr,omitempty"`
	Content  string `xml:",chardata"`
}

// RenderStatusDocument produces the ExecuteResponse XML for a job
func RenderStatusDocument(doc *StatusDocument) ([]byte, error) {
	resp := xmlExecuteResponse{
		XMLNSWPS:        NamespaceWPS,
		XMLNSOWS:        NamespaceOWS,
		XMLNSXlink:      NamespaceXlink,
		Service:         ServiceName,
		Version:         Version100,
		Lang:            "en-US",
		ServiceInstance: doc.ServiceInstance,
		StatusLocation:  doc.StatusLocation,
		Process: xmlProcessBrief{
			Identifier: doc.ProcessID,
			Title:      doc.Title,
		},
		Status: xmlStatus{
			CreationTime: doc.CreationTime.UTC().Format(time.RFC3339),
		},
	}

	switch doc.State {
	case StatusAccepted:
		resp.Status.Accepted = &xmlStatusDetail{Message: doc.Message}
	case StatusStarted:
		resp.Status.Started = &xmlStartedDetail{
			Percent: strconv.Itoa(doc.Percent),
			Message: doc.Message,
		}
	case StatusSucceeded:
		resp.Status.Succeeded = &xmlStatusDetail{Message: doc.Message}
	case StatusFailed:
		resp.Status.Failed = &xmlStatusFailed{Report: buildExceptionReport(doc.Exceptions, doc.Message, "")}
	default:
		return nil, fmt.Errorf("unknown wps state %q", doc.State)
	}

	if doc.State == StatusSucceeded && len(doc.Outputs) > 0 {
		outs := make([]xmlOutput, 0, len(doc.Outputs))
		for _, entry := range doc.Outputs {
			out := xmlOutput{Identifier: entry.ID, Title: entry.Title}
			if entry.Href != "" {
				out.Reference = &xmlOutputReference{Href: entry.Href, MimeType: entry.MimeType}
			} else if entry.Value != nil {
				out.Data = &xmlData{Literal: &xmlLiteralData{Value: fmt.Sprintf("%v", entry.Value)}}
			}
			outs = append(outs, out)
		}
		resp.Outputs = &xmlProcessOutputs{Outputs: outs}
	}

	return marshalDocument(resp)
}

func buildExceptionReport(excs []types.Exception, fallback, xmlns string) xmlExceptionReport {
	report := xmlExceptionReport{XMLNSOWS: xmlns, Version: Version100}
	for _, exc := range excs {
		code := exc.Code
		if code == "" {
			code = CodeNoApplicableCode
		}
		report.Exceptions = append(report.Exceptions, xmlException{
			Code:    code,
			Locator: exc.Locator,
			Text:    []string{exc.Text},
		})
	}
	if len(report.Exceptions) == 0 {
		report.Exceptions = []xmlException{{
			Code: CodeNoApplicableCode,
			Text: []string{fallback},
		}}
	}
	return report
}

type xmlStandaloneReport struct {
	XMLName    xml.Name       `xml:"ows:ExceptionReport"`
	XMLNSOWS   string         `xml:"xmlns:ows,attr"`
	Version    string         `xml:"version,attr"`
	Exceptions []xmlException `xml:"ows:Exception"`
}

// RenderExceptionReport produces a standalone OWS exception report
func RenderExceptionReport(code, locator, text string) ([]byte, error) {
	inner := buildExceptionReport([]types.Exception{{Code: code, Locator: locator, Text: text}}, text, "")
	report := xmlStandaloneReport{
		XMLNSOWS:   NamespaceOWS,
		Version:    Version100,
		Exceptions: inner.Exceptions,
	}
	return marshalDocument(report)
}

// RenderExecuteRequest produces the Execute XML POST body
func RenderExecuteRequest(req *ExecuteRequest) ([]byte, error) {
	execute := xmlExecute{
		XMLNSWPS:   NamespaceWPS,
		XMLNSOWS:   NamespaceOWS,
		XMLNSXlink: NamespaceXlink,
		Service:    ServiceName,
		Version:    Version100,
		Identifier: req.Identifier,
	}

	if len(req.Inputs) > 0 {
		inputs := make([]xmlInput, 0, len(req.Inputs))
		for _, entry := range req.Inputs {
			in := xmlInput{Identifier: entry.ID}
			if entry.Href != "" {
				in.Reference = &xmlInputReference{Href: entry.Href, MimeType: entry.MimeType}
			} else {
				in.Data = &xmlData{Literal: &xmlLiteralData{Value: fmt.Sprintf("%v", entry.Value)}}
			}
			inputs = append(inputs, in)
		}
		execute.DataInputs = &xmlDataInputs{Inputs: inputs}
	}

	doc := &xmlResponseDocument{
		Status:               req.Async,
		StoreExecuteResponse: req.Async,
	}
	for _, out := range req.Outputs {
		doc.Outputs = append(doc.Outputs, xmlRequestedOutput{
			AsReference: out.AsReference,
			MimeType:    out.MimeType,
			Identifier:  out.Identifier,
		})
	}
	execute.ResponseForm = &xmlResponseForm{Document: doc}

	return marshalDocument(execute)
}

type xmlExecute struct {
	XMLName    xml.Name `xml:"wps:Execute"`
	XMLNSWPS   string   `xml:"xmlns:wps,attr"`
	XMLNSOWS   string   `xml:"xmlns:ows,attr"`
	XMLNSXlink string   `xml:"xmlns:xlink,attr"`
	Service    string   `xml:"service,attr"`
	Version    string   `xml:"version,attr"`

	Identifier   string           `xml:"ows:Identifier"`
	DataInputs   *xmlDataInputs   `xml:"wps:DataInputs"`
	ResponseForm *xmlResponseForm `xml:"wps:ResponseForm"`
}

type xmlDataInputs struct {
	Inputs []xmlInput `xml:"wps:Input"`
}

type xmlInput struct {
	Identifier string             `xml:"ows:Identifier"`
	Reference  *xmlInputReference `xml:"wps:Reference"`
	Data       *xmlData           `xml:"wps:Data"`
}

type xmlInputReference struct {
	Href     string `xml:"xlink:href,attr"`
	MimeType string `xml:"mimeType,attr,omitempty"`
}

type xmlResponseForm struct {
	Document *xmlResponseDocument `xml:"wps:ResponseDocument"`
}

type xmlResponseDocument struct {
	Status               bool                 `xml:"status,attr"`
	StoreExecuteResponse bool                 `xml:"storeExecuteResponse,attr"`
	Outputs              []xmlRequestedOutput `xml:"wps:Output"`
}

type xmlRequestedOutput struct {
	AsReference bool   `xml:"asReference,attr"`
	MimeType    string `xml:"mimeType,attr,omitempty"`
	Identifier  string `xml:"ows:Identifier"`
}

// CapabilitiesDocument is the content of a rendered GetCapabilities
// response
type CapabilitiesDocument struct {
	Title     string
	Abstract  string
	Keywords  []string
	Provider  string
	Processes []ProcessBrief
	Languages []string
}

type xmlCapabilities struct {
	XMLName    xml.Name `xml:"wps:Capabilities"`
	XMLNSWPS   string   `xml:"xmlns:wps,attr"`
	XMLNSOWS   string   `xml:"xmlns:ows,attr"`
	XMLNSXlink string   `xml:"xmlns:xlink,attr"`
	Service    string   `xml:"service,attr"`
	Version    string   `xml:"version,attr"`
	Lang       string   `xml:"xml:lang,attr"`

	Identification xmlServiceIdentification
	ProviderName   string `xml:"ows:ServiceProvider>ows:ProviderName"`
	Offerings      xmlProcessOfferings
	Languages      *xmlLanguages
}

type xmlServiceIdentification struct {
	XMLName     xml.Name `xml:"ows:ServiceIdentification"`
	Title       string   `xml:"ows:Title"`
	Abstract    string   `xml:"ows:Abstract,omitempty"`
	Keywords    []string `xml:"ows:Keywords>ows:Keyword"`
	ServiceType string   `xml:"ows:ServiceType"`
	Versions    []string `xml:"ows:ServiceTypeVersion"`
}

type xmlProcessOfferings struct {
	XMLName   xml.Name `xml:"wps:ProcessOfferings"`
	Processes []xmlOfferedProcess
}

type xmlOfferedProcess struct {
	XMLName    xml.Name `xml:"wps:Process"`
	Version    string   `xml:"wps:processVersion,attr,omitempty"`
	Identifier string   `xml:"ows:Identifier"`
	Title      string   `xml:"ows:Title,omitempty"`
	Abstract   string   `xml:"ows:Abstract,omitempty"`
}

type xmlLanguages struct {
	XMLName   xml.Name `xml:"wps:Languages"`
	Default   string   `xml:"wps:Default>ows:Language"`
	Supported []string `xml:"wps:Supported>ows:Language"`
}

// RenderCapabilities produces the GetCapabilities XML response
func RenderCapabilities(doc *CapabilitiesDocument) ([]byte, error) {
	caps := xmlCapabilities{
		XMLNSWPS:   NamespaceWPS,
		XMLNSOWS:   NamespaceOWS,
		XMLNSXlink: NamespaceXlink,
		Service:    ServiceName,
		Version:    Version100,
		Lang:       "en-US",
		Identification: xmlServiceIdentification{
			Title:       doc.Title,
			Abstract:    doc.Abstract,
			Keywords:    doc.Keywords,
			ServiceType: ServiceName,
			Versions:    []string{Version100},
		},
		ProviderName: doc.Provider,
	}
	for _, p := range doc.Processes {
		caps.Offerings.Processes = append(caps.Offerings.Processes, xmlOfferedProcess{
			Version:    p.Version,
			Identifier: p.Identifier,
			Title:      p.Title,
			Abstract:   p.Abstract,
		})
	}
	if len(doc.Languages) > 0 {
		caps.Languages = &xmlLanguages{Default: doc.Languages[0], Supported: doc.Languages}
	}
	return marshalDocument(caps)
}

// ProcessDescriptionDocument is the content of one rendered
// DescribeProcess entry
type ProcessDescriptionDocument struct {
	Identifier string
	Title      string
	Abstract   string
	Version    string
	Inputs     []iomodel.WPSIO
	Outputs    []iomodel.WPSIO
}

type xmlProcessDescriptions struct {
	XMLName    xml.Name `xml:"wps:ProcessDescriptions"`
	XMLNSWPS   string   `xml:"xmlns:wps,attr"`
	XMLNSOWS   string   `xml:"xmlns:ows,attr"`
	XMLNSXlink string   `xml:"xmlns:xlink,attr"`
	Service    string   `xml:"service,attr"`
	Version    string   `xml:"version,attr"`
	Lang       string   `xml:"xml:lang,attr"`

	Processes []xmlProcessDescription
}

type xmlProcessDescription struct {
	XMLName    xml.Name           `xml:"ProcessDescription"`
	Version    string             `xml:"wps:processVersion,attr,omitempty"`
	Identifier string             `xml:"ows:Identifier"`
	Title      string             `xml:"ows:Title,omitempty"`
	Abstract   string             `xml:"ows:Abstract,omitempty"`
	Inputs     []xmlIODescription `xml:"DataInputs>Input"`
	Outputs    []xmlIODescription `xml:"ProcessOutputs>Output"`
}

type xmlIODescription struct {
	MinOccurs  string `xml:"minOccurs,attr,omitempty"`
	MaxOccurs  string `xml:"maxOccurs,attr,omitempty"`
	Identifier string `xml:"ows:Identifier"`
	Title      string `xml:"ows:Title,omitempty"`
	Abstract   string `xml:"ows:Abstract,omitempty"`

	LiteralData   *xmlLiteralDomain `xml:"LiteralData"`
	LiteralOutput *xmlLiteralDomain `xml:"LiteralOutput"`
	ComplexData   *xmlComplexDomain `xml:"ComplexData"`
	ComplexOutput *xmlComplexDomain `xml:"ComplexOutput"`
	BBoxData      *xmlBBoxDomain    `xml:"BoundingBoxData"`
	BBoxOutput    *xmlBBoxDomain    `xml:"BoundingBoxOutput"`
}

type xmlLiteralDomain struct {
	DataType      string    `xml:"ows:DataType,omitempty"`
	AnyValue      *struct{} `xml:"ows:AnyValue"`
	AllowedValues []string  `xml:"ows:AllowedValues>ows:Value"`
	Default       string    `xml:"DefaultValue,omitempty"`
}

type xmlComplexDomain struct {
	Default   xmlFormatEntry   `xml:"Default>Format"`
	Supported []xmlFormatEntry `xml:"Supported>Format"`
}

type xmlFormatEntry struct {
	MimeType string `xml:"MimeType"`
	Encoding string `xml:"Encoding,omitempty"`
	Schema   string `xml:"Schema,omitempty"`
}

type xmlBBoxDomain struct {
	Default   string   `xml:"Default>CRS"`
	Supported []string `xml:"Supported>CRS"`
}

// maxOccursCap stands in for unbounded arrays; the WPS 1.0 schema wants
// an integer here
const maxOccursCap = 1000

// RenderProcessDescriptions produces the DescribeProcess XML response
func RenderProcessDescriptions(docs []ProcessDescriptionDocument) ([]byte, error) {
	out := xmlProcessDescriptions{
		XMLNSWPS:   NamespaceWPS,
		XMLNSOWS:   NamespaceOWS,
		XMLNSXlink: NamespaceXlink,
		Service:    ServiceName,
		Version:    Version100,
		Lang:       "en-US",
	}
	for _, doc := range docs {
		desc := xmlProcessDescription{
			Version:    doc.Version,
			Identifier: doc.Identifier,
			Title:      doc.Title,
			Abstract:   doc.Abstract,
		}
		for _, in := range doc.Inputs {
			desc.Inputs = append(desc.Inputs, describeIO(in, true))
		}
		for _, o := range doc.Outputs {
			desc.Outputs = append(desc.Outputs, describeIO(o, false))
		}
		out.Processes = append(out.Processes, desc)
	}
	return marshalDocument(out)
}

func describeIO(io iomodel.WPSIO, input bool) xmlIODescription {
	desc := xmlIODescription{
		Identifier: io.Identifier,
		Title:      io.Title,
		Abstract:   io.Abstract,
	}
	if input {
		desc.MinOccurs = strconv.Itoa(io.MinOccurs)
		max := io.MaxOccurs
		if max >= iomodel.MaxOccursUnbounded {
			max = maxOccursCap
		}
		if max < 1 {
			max = 1
		}
		desc.MaxOccurs = strconv.Itoa(max)
	}

	switch io.Kind {
	case iomodel.KindComplex:
		domain := &xmlComplexDomain{}
		for i, f := range io.Formats {
			entry := xmlFormatEntry{MimeType: f.MimeType, Encoding: f.Encoding, Schema: f.Schema}
			if f.Default || (i == 0 && domain.Default.MimeType == "") {
				domain.Default = entry
			}
			domain.Supported = append(domain.Supported, entry)
		}
		if input {
			desc.ComplexData = domain
		} else {
			desc.ComplexOutput = domain
		}
	case iomodel.KindBoundingBox:
		domain := &xmlBBoxDomain{Supported: io.SupportedCRS}
		if len(io.SupportedCRS) > 0 {
			domain.Default = io.SupportedCRS[0]
		}
		if input {
			desc.BBoxData = domain
		} else {
			desc.BBoxOutput = domain
		}
	default:
		domain := &xmlLiteralDomain{DataType: io.DataType}
		if len(io.AllowedValues) > 0 {
			domain.AllowedValues = io.AllowedValues
		} else {
			domain.AnyValue = &struct{}{}
		}
		if io.Default != nil {
			domain.Default = fmt.Sprintf("%v", io.Default)
		}
		if input {
			desc.LiteralData = domain
		} else {
			desc.LiteralOutput = domain
		}
	}
	return desc
}

func marshalDocument(doc interface{}) ([]byte, error) {
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render wps document: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
