package iomodel

import (
	"fmt"
	"strconv"

	"github.com/trellisproc/trellis/pkg/types"
)

// identifierVariations lists the spellings encountered across WPS and
// API-Processes payloads
var identifierVariations = []string{"id", "identifier", "Identifier", "ID", "Id"}

// WPSToAPI renders a canonical descriptor as an API-Processes JSON mapping.
// Field names follow the JSON convention: identifier becomes id,
// supported_formats becomes formats, mime_type becomes mimeType, and the
// occurrence bounds become minOccurs/maxOccurs with the unbounded sentinel
// replaced by the literal string "unbounded".
func WPSToAPI(io *WPSIO) map[string]interface{} {
	out := map[string]interface{}{
		"id":   io.Identifier,
		"type": string(io.Kind),
	}
	if io.Title != "" {
		out["title"] = io.Title
	}
	if io.Abstract != "" {
		out["abstract"] = io.Abstract
	}
	if len(io.Keywords) > 0 {
		out["keywords"] = io.Keywords
	}
	if len(io.Metadata) > 0 {
		meta := make([]interface{}, len(io.Metadata))
		for i, m := range io.Metadata {
			entry := map[string]interface{}{}
			if m.Title != "" {
				entry["title"] = m.Title
			}
			if m.Role != "" {
				entry["role"] = m.Role
			}
			if m.Href != "" {
				entry["href"] = m.Href
			}
			meta[i] = entry
		}
		out["metadata"] = meta
	}

	out["minOccurs"] = strconv.Itoa(io.MinOccurs)
	if io.MaxOccurs == MaxOccursUnbounded {
		out["maxOccurs"] = UnboundedLiteral
	} else {
		out["maxOccurs"] = strconv.Itoa(io.MaxOccurs)
	}

	if io.Binding != nil {
		if io.Direction == DirectionOutput {
			out["outputBinding"] = io.Binding
		} else {
			out["inputBinding"] = io.Binding
		}
	}

	switch io.Kind {
	case KindLiteral:
		dataType := io.PackageType
		if dataType == "" {
			dataType = io.DataType
		}
		out["dataType"] = dataType
		if len(io.AllowedValues) > 0 {
			allowed := make([]interface{}, len(io.AllowedValues))
			for i, v := range io.AllowedValues {
				allowed[i] = v
			}
			out["allowedValues"] = allowed
		} else {
			out["anyValue"] = true
		}
		if io.Default != nil {
			out["defaultValue"] = io.Default
		}
	case KindComplex:
		formats := io.Formats
		if len(formats) == 0 {
			formats = []Format{DefaultFormat}
		}
		rendered := make([]interface{}, len(formats))
		for i, f := range formats {
			entry := map[string]interface{}{"mimeType": f.MimeType}
			if f.Encoding != "" {
				entry["encoding"] = f.Encoding
			}
			if f.Schema != "" {
				entry["schema"] = f.Schema
			}
			if f.Default {
				entry["default"] = true
			}
			rendered[i] = entry
		}
		out["formats"] = rendered
		if io.Direction == DirectionOutput {
			out["asReference"] = io.AsReference
		}
	case KindBoundingBox:
		if len(io.SupportedCRS) > 0 {
			out["supportedCRS"] = io.SupportedCRS
		}
	}
	return out
}

// APIToWPS parses an API-Processes JSON mapping into the canonical
// descriptor, tolerating the field-name variations WPS clients produce
func APIToWPS(raw map[string]interface{}, dir Direction) (*WPSIO, error) {
	io := &WPSIO{Direction: dir, MinOccurs: 1, MaxOccurs: 1, Mode: ModeNone}

	for _, key := range identifierVariations {
		if v, ok := raw[key].(string); ok && v != "" {
			io.Identifier = v
			break
		}
	}
	if io.Identifier == "" {
		return nil, &types.PackageTypeError{Reason: fmt.Sprintf("missing I/O identifier in %v", raw)}
	}

	if v, ok := raw["title"].(string); ok {
		io.Title = v
	}
	if v, ok := raw["abstract"].(string); ok {
		io.Abstract = v
	}
	if v, ok := raw["keywords"].([]interface{}); ok {
		for _, k := range v {
			if s, ok := k.(string); ok {
				io.Keywords = append(io.Keywords, s)
			}
		}
	}
	if v, ok := raw["metadata"].([]interface{}); ok {
		for _, m := range v {
			entry, ok := m.(map[string]interface{})
			if !ok {
				continue
			}
			meta := types.Metadata{}
			meta.Title, _ = entry["title"].(string)
			meta.Role, _ = entry["role"].(string)
			meta.Href, _ = entry["href"].(string)
			io.Metadata = append(io.Metadata, meta)
		}
	}

	if v, ok := raw["minOccurs"]; ok {
		io.MinOccurs = parseOccurs(v, 1)
	}
	if v, ok := raw["maxOccurs"]; ok {
		io.MaxOccurs = parseOccurs(v, 1)
	}
	for _, key := range []string{"inputBinding", "outputBinding"} {
		if b, ok := raw[key].(map[string]interface{}); ok {
			io.Binding = b
			break
		}
	}

	kind, _ := raw["type"].(string)
	switch kind {
	case "", "complex", "reference":
		io.Kind = KindComplex
		if formats, ok := raw["formats"].([]interface{}); ok {
			for _, f := range formats {
				entry, ok := f.(map[string]interface{})
				if !ok {
					continue
				}
				format := Format{}
				if mt, ok := entry["mimeType"].(string); ok {
					format.MimeType = mt
				} else if mt, ok := entry["mime_type"].(string); ok {
					format.MimeType = mt
				}
				format.Encoding, _ = entry["encoding"].(string)
				format.Schema, _ = entry["schema"].(string)
				format.Default, _ = entry["default"].(bool)
				io.Formats = append(io.Formats, format)
			}
		}
		if len(io.Formats) == 0 {
			io.Formats = []Format{DefaultFormat}
		}
		if v, ok := raw["asReference"].(bool); ok {
			io.AsReference = v
		} else if dir == DirectionOutput {
			io.AsReference = true
		}
	case string(KindLiteral):
		io.Kind = KindLiteral
		if dt, ok := raw["dataType"].(string); ok {
			io.PackageType = dt
			io.DataType = normalizeDataType(dt)
		} else if dt, ok := raw["data_type"].(string); ok {
			io.PackageType = dt
			io.DataType = normalizeDataType(dt)
		} else {
			io.PackageType = "string"
			io.DataType = "string"
		}
		if allowed, ok := raw["allowedValues"].([]interface{}); ok && len(allowed) > 0 {
			io.Mode = ModeSimple
			for _, v := range allowed {
				io.AllowedValues = append(io.AllowedValues, fmt.Sprint(v))
			}
		} else {
			io.AnyValue = true
		}
		if v, ok := raw["defaultValue"]; ok {
			io.Default = v
		} else if v, ok := raw["default"]; ok {
			io.Default = v
		}
	case string(KindBoundingBox):
		io.Kind = KindBoundingBox
		for _, key := range []string{"supportedCRS", "crss"} {
			if v, ok := raw[key].([]interface{}); ok {
				for _, crs := range v {
					if s, ok := crs.(string); ok {
						io.SupportedCRS = append(io.SupportedCRS, s)
					}
				}
				break
			}
		}
	default:
		return nil, &types.PackageTypeError{Field: io.Identifier, Reason: fmt.Sprintf("unknown I/O type %q", kind)}
	}

	return io, nil
}

// parseOccurs accepts the number, numeric-string and "unbounded" spellings
func parseOccurs(v interface{}, fallback int) int {
	switch n := v.(type) {
	case string:
		if n == UnboundedLiteral {
			return MaxOccursUnbounded
		}
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	case float64:
		return int(n)
	case int:
		return n
	}
	return fallback
}
