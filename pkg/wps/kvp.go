package wps

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/trellisproc/trellis/pkg/types"
)

// ExecuteRequest is a protocol-neutral WPS Execute request, built either
// from KVP query parameters or for an XML POST body
type ExecuteRequest struct {
	Identifier string
	Inputs     []types.IOEntry
	Outputs    []RequestedOutput
	Async      bool
	Language   string
}

// RequestedOutput selects one output of the response document
type RequestedOutput struct {
	Identifier  string
	AsReference bool
	MimeType    string
}

// OWS exception codes attached to request decoding failures
const (
	CodeMissingParameterValue = "MissingParameterValue"
	CodeInvalidParameterValue = "InvalidParameterValue"
	CodeOperationNotSupported = "OperationNotSupported"
	CodeNoApplicableCode      = "NoApplicableCode"
)

// KVPError is a malformed KVP request, rendered as an OWS exception
// report by the endpoint
type KVPError struct {
	Code    string
	Locator string
	Message string
}

func (e *KVPError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Locator, e.Message)
}

// referenceSchemes mark a KVP input value as passed by reference rather
// than by literal value
var referenceSchemes = []string{"http://", "https://", "file://", "s3://", "opensearchfile://"}

func isReferenceValue(value string) bool {
	for _, scheme := range referenceSchemes {
		if strings.HasPrefix(value, scheme) {
			return true
		}
	}
	return false
}

// ParseQueryKVP decodes a raw query string into values, splitting
// pairs on "&" only. net/url treats ";" in a query as an error, but
// WPS KVP uses it as the entry separator inside DataInputs and
// ResponseDocument, so the raw string is decoded here instead.
func ParseQueryKVP(rawQuery string) url.Values {
	values := url.Values{}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		values.Add(key, value)
	}
	return values
}

// KVPGet reads a query parameter by case-insensitive key, as OGC KVP
// requires
func KVPGet(values url.Values, key string) string {
	for k, v := range values {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// ParseExecuteKVP decodes an Execute request from KVP query parameters:
//
//	service=WPS&request=Execute&version=1.0.0&identifier=<id>
//	&DataInputs=k=v@mimeType=text/plain;k2=v2
//
// Input entries are separated by ";", attributes appended with "@".
// Values with a known URL scheme become references, anything else a
// literal.
func ParseExecuteKVP(values url.Values) (*ExecuteRequest, error) {
	req := &ExecuteRequest{
		Identifier: KVPGet(values, "identifier"),
		Language:   KVPGet(values, "language"),
	}
	if req.Identifier == "" {
		return nil, &KVPError{Code: CodeMissingParameterValue, Locator: "identifier", Message: "missing identifier parameter"}
	}

	status := strings.EqualFold(KVPGet(values, "status"), "true")
	store := strings.EqualFold(KVPGet(values, "storeExecuteResponse"), "true")
	req.Async = status || store

	if raw := KVPGet(values, "DataInputs"); raw != "" {
		inputs, err := parseDataInputs(raw)
		if err != nil {
			return nil, err
		}
		req.Inputs = inputs
	}
	if raw := KVPGet(values, "ResponseDocument"); raw != "" {
		req.Outputs = parseResponseDocument(raw)
	}
	return req, nil
}

func parseDataInputs(raw string) ([]types.IOEntry, error) {
	parts := strings.Split(raw, ";")
	inputs := make([]types.IOEntry, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		fields := strings.Split(part, "@")
		key, value, ok := strings.Cut(fields[0], "=")
		if !ok || key == "" {
			return nil, &KVPError{Code: CodeInvalidParameterValue, Locator: "DataInputs", Message: fmt.Sprintf("malformed entry %q", part)}
		}
		entry := types.IOEntry{ID: key}
		value = kvpUnescape(value)
		if isReferenceValue(value) {
			entry.Href = value
		} else {
			entry.Value = value
		}
		for _, attr := range fields[1:] {
			name, val, ok := strings.Cut(attr, "=")
			if !ok {
				continue
			}
			val = kvpUnescape(val)
			switch strings.ToLower(name) {
			case "mimetype":
				entry.MimeType = val
			case "href", "xlink:href":
				entry.Href = val
				entry.Value = nil
			case "datatype":
				entry.Type = val
			}
		}
		inputs = append(inputs, entry)
	}
	return inputs, nil
}

func parseResponseDocument(raw string) []RequestedOutput {
	parts := strings.Split(raw, ";")
	outputs := make([]RequestedOutput, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		fields := strings.Split(part, "@")
		out := RequestedOutput{Identifier: fields[0], AsReference: true}
		for _, attr := range fields[1:] {
			name, val, ok := strings.Cut(attr, "=")
			if !ok {
				continue
			}
			switch strings.ToLower(name) {
			case "asreference":
				out.AsReference = strings.EqualFold(val, "true")
			case "mimetype":
				out.MimeType = kvpUnescape(val)
			}
		}
		outputs = append(outputs, out)
	}
	return outputs
}

// EncodeExecuteKVP renders an Execute request as query parameters for a
// KVP GET. Reference inputs are encoded by their href value; separators
// inside values are percent-escaped so they survive the split.
func EncodeExecuteKVP(req *ExecuteRequest) url.Values {
	values := url.Values{}
	values.Set("service", ServiceName)
	values.Set("request", "Execute")
	values.Set("version", Version100)
	values.Set("identifier", req.Identifier)
	if req.Language != "" {
		values.Set("language", req.Language)
	}
	if req.Async {
		values.Set("status", "true")
		values.Set("storeExecuteResponse", "true")
	}

	if len(req.Inputs) > 0 {
		entries := make([]string, 0, len(req.Inputs))
		for _, in := range req.Inputs {
			value := in.Href
			if value == "" {
				value = fmt.Sprintf("%v", in.Value)
			}
			entry := in.ID + "=" + kvpEscape(value)
			if in.MimeType != "" {
				entry += "@mimeType=" + kvpEscape(in.MimeType)
			}
			entries = append(entries, entry)
		}
		values.Set("DataInputs", strings.Join(entries, ";"))
	}

	if len(req.Outputs) > 0 {
		entries := make([]string, 0, len(req.Outputs))
		for _, out := range req.Outputs {
			entry := out.Identifier
			if out.AsReference {
				entry += "@asReference=true"
			}
			entries = append(entries, entry)
		}
		sort.Strings(entries)
		values.Set("ResponseDocument", strings.Join(entries, ";"))
	}
	return values
}

// kvpEscape protects the KVP structural characters inside a value
var kvpEscaper = strings.NewReplacer(
	"%", "%25",
	";", "%3B",
	"@", "%40",
	"=", "%3D",
	"&", "%26",
)

func kvpEscape(value string) string {
	return kvpEscaper.Replace(value)
}

// kvpUnescape reverses percent-escapes without treating "+" as a space;
// form decoding already happened when the query string was parsed
func kvpUnescape(value string) string {
	unescaped, err := url.PathUnescape(value)
	if err != nil {
		return value
	}
	return unescaped
}
