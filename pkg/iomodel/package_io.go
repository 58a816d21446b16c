package iomodel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/trellisproc/trellis/pkg/types"
)

// PackageIO is a parsed package-dialect I/O definition
type PackageIO struct {
	ID       string
	Type     string
	Label    string
	Doc      string
	Default  interface{}
	Format   []string
	Symbols  []interface{}
	Array    bool
	Optional bool
	Binding  map[string]interface{}
}

// ParsePackageIO decodes one entry of a package's inputs or outputs list
func ParsePackageIO(raw map[string]interface{}, dir Direction) (*PackageIO, error) {
	io := &PackageIO{}

	if id, ok := raw["id"].(string); ok && id != "" {
		io.ID = id
	} else if name, ok := raw["name"].(string); ok && name != "" {
		io.ID = name
	} else {
		return nil, &types.PackageTypeError{Reason: fmt.Sprintf("missing I/O identifier in %v", raw)}
	}

	if err := io.parseType(raw["type"]); err != nil {
		return nil, err
	}

	if label, ok := raw["label"].(string); ok {
		io.Label = label
	}
	if doc, ok := raw["doc"].(string); ok {
		io.Doc = doc
	}
	io.Default = raw["default"]

	switch f := raw["format"].(type) {
	case string:
		io.Format = []string{f}
	case []interface{}:
		for _, v := range f {
			s, ok := v.(string)
			if !ok {
				return nil, &types.PackageTypeError{Field: io.ID, Reason: "format entries must be strings"}
			}
			io.Format = append(io.Format, s)
		}
	case nil:
	default:
		return nil, &types.PackageTypeError{Field: io.ID, Reason: "unsupported format definition"}
	}

	bindingKey := "inputBinding"
	if dir == DirectionOutput {
		bindingKey = "outputBinding"
	}
	if b, ok := raw[bindingKey].(map[string]interface{}); ok {
		io.Binding = b
	}

	return io, nil
}

func (io *PackageIO) parseType(rawType interface{}) error {
	switch t := rawType.(type) {
	case string:
		return io.parseTypeString(t)
	case []interface{}:
		return io.parseTypeUnion(t)
	case map[string]interface{}:
		return io.parseTypeMap(t)
	default:
		return &types.PackageTypeError{Field: io.ID, Reason: fmt.Sprintf("unsupported type definition %v", rawType)}
	}
}

func (io *PackageIO) parseTypeString(t string) error {
	if strings.HasSuffix(t, "?") {
		io.Optional = true
		t = strings.TrimSuffix(t, "?")
	}
	if strings.HasSuffix(t, "[]") {
		io.Array = true
		t = strings.TrimSuffix(t, "[]")
		if !packageBaseTypes[t] && !packageComplexTypes[t] {
			return &types.PackageTypeError{Field: io.ID, Reason: fmt.Sprintf("unsupported array item type %q", t)}
		}
	}
	if !packageLiteralTypes[t] && !packageComplexTypes[t] {
		return &types.PackageTypeError{Field: io.ID, Reason: fmt.Sprintf("unsupported type %q", t)}
	}
	io.Type = t
	return nil
}

// parseTypeUnion handles the [null, T] optional form
func (io *PackageIO) parseTypeUnion(entries []interface{}) error {
	var nonNull []interface{}
	for _, e := range entries {
		if s, ok := e.(string); ok && s == "null" {
			io.Optional = true
			continue
		}
		nonNull = append(nonNull, e)
	}
	if len(nonNull) != 1 {
		return &types.PackageTypeError{Field: io.ID, Reason: "union types must be a single type plus null"}
	}
	return io.parseType(nonNull[0])
}

func (io *PackageIO) parseTypeMap(t map[string]interface{}) error {
	kind, _ := t["type"].(string)
	switch kind {
	case "array":
		items, ok := t["items"]
		if !ok {
			return &types.PackageTypeError{Field: io.ID, Reason: "array type requires items"}
		}
		io.Array = true
		switch it := items.(type) {
		case string:
			if !packageBaseTypes[it] && !packageComplexTypes[it] {
				return &types.PackageTypeError{Field: io.ID, Reason: fmt.Sprintf("unsupported array item type %q", it)}
			}
			io.Type = it
			return nil
		case map[string]interface{}:
			return io.parseTypeMap(it)
		default:
			return &types.PackageTypeError{Field: io.ID, Reason: "unsupported array items definition"}
		}
	case "enum":
		symbols, ok := t["symbols"].([]interface{})
		if !ok || len(symbols) == 0 {
			return &types.PackageTypeError{Field: io.ID, Reason: "enum type requires non-empty symbols"}
		}
		base, err := enumBaseType(symbols)
		if err != nil {
			return &types.PackageTypeError{Field: io.ID, Reason: err.Error()}
		}
		io.Type = base
		io.Symbols = symbols
		return nil
	default:
		return &types.PackageTypeError{Field: io.ID, Reason: fmt.Sprintf("unsupported type definition %v", t)}
	}
}

// enumBaseType derives the literal type backing an enum from its symbols,
// which must be homogeneous
func enumBaseType(symbols []interface{}) (string, error) {
	kind := func(v interface{}) string {
		switch v.(type) {
		case string:
			return "string"
		case int, int32, int64:
			return "int"
		case float32, float64:
			return "float"
		default:
			return ""
		}
	}
	base := kind(symbols[0])
	if base == "" {
		return "", fmt.Errorf("unsupported enum symbol type %T", symbols[0])
	}
	for _, s := range symbols[1:] {
		if kind(s) != base {
			return "", fmt.Errorf("ambiguous types in enum symbols %v", symbols)
		}
	}
	return base, nil
}

// ToWPS converts a parsed package I/O into the canonical WPS descriptor
func (io *PackageIO) ToWPS(dir Direction) (*WPSIO, error) {
	out := &WPSIO{
		Identifier:  io.ID,
		Abstract:    io.Doc,
		Direction:   dir,
		Default:     io.Default,
		Binding:     io.Binding,
		MinOccurs:   1,
		MaxOccurs:   1,
		PackageType: io.Type,
	}
	if io.Optional {
		out.MinOccurs = 0
	}
	if io.Array {
		out.MaxOccurs = MaxOccursUnbounded
	}

	if packageComplexTypes[io.Type] {
		out.Kind = KindComplex
		out.Title = io.Label
		if out.Title == "" {
			out.Title = io.ID
		}
		switch {
		case io.Type == "Directory":
			out.Formats = []Format{{MimeType: ContentTypeAppDirectory, Default: true}}
			out.Mode = ModeNone
		case len(io.Format) > 0:
			for _, f := range io.Format {
				out.Formats = append(out.Formats, formatFromReference(f))
			}
			out.Mode = ModeSimple
		default:
			out.Formats = []Format{DefaultFormat}
			out.Mode = ModeNone
		}
		if dir == DirectionOutput {
			out.AsReference = true
		}
		return out, nil
	}

	if !packageLiteralTypes[io.Type] {
		return nil, &types.PackageTypeError{Field: io.ID, Reason: fmt.Sprintf("unsupported type %q", io.Type)}
	}

	out.Kind = KindLiteral
	out.Title = io.Label
	out.DataType = normalizeDataType(io.Type)
	if len(io.Symbols) > 0 {
		out.Mode = ModeSimple
		out.AllowedValues = make([]string, len(io.Symbols))
		for i, s := range io.Symbols {
			out.AllowedValues[i] = fmt.Sprint(s)
		}
	} else {
		out.Mode = ModeNone
		out.AnyValue = true
	}
	return out, nil
}

// formatFromReference builds a Format from either a plain media type or a
// namespaced format IRI
func formatFromReference(ref string) Format {
	mime := CleanMimeType(ref)
	f := Format{MimeType: mime, Default: true}
	if mime != ref {
		f.Schema = ref
	}
	return f
}

// RenderPackage converts a canonical descriptor back into the package
// dialect mapping
func RenderPackage(io *WPSIO) map[string]interface{} {
	raw := map[string]interface{}{"id": io.Identifier}

	var typeValue interface{}
	switch io.Kind {
	case KindComplex:
		base := "File"
		if io.IsDirectory() {
			base = "Directory"
		}
		typeValue = wrapPackageType(base, io)
		if base == "File" && io.hasExplicitFormat() {
			formats := make([]string, 0, len(io.Formats))
			for _, f := range io.Formats {
				if f.Schema != "" {
					formats = append(formats, f.Schema)
				} else {
					formats = append(formats, f.MimeType)
				}
			}
			if len(formats) == 1 {
				raw["format"] = formats[0]
			} else {
				raw["format"] = formats
			}
		}
		if io.Title != "" && io.Title != io.Identifier {
			raw["label"] = io.Title
		}
	default:
		if len(io.AllowedValues) > 0 {
			typeValue = wrapPackageType("", io)
		} else {
			typeValue = wrapPackageType(packageLiteralName(io), io)
		}
		if io.Title != "" {
			raw["label"] = io.Title
		}
	}
	raw["type"] = typeValue

	if io.Abstract != "" {
		raw["doc"] = io.Abstract
	}
	if io.Default != nil {
		raw["default"] = io.Default
	}
	if io.Binding != nil {
		key := "inputBinding"
		if io.Direction == DirectionOutput {
			key = "outputBinding"
		}
		raw[key] = io.Binding
	}
	return raw
}

// wrapPackageType applies enum, array and optional decorations around a
// base type name
func wrapPackageType(base string, io *WPSIO) interface{} {
	unbounded := io.MaxOccurs == MaxOccursUnbounded

	var t interface{}
	if len(io.AllowedValues) > 0 && io.Kind == KindLiteral {
		t = map[string]interface{}{"type": "enum", "symbols": typedSymbols(io)}
		if unbounded {
			t = map[string]interface{}{"type": "array", "items": t}
		}
		if io.MinOccurs == 0 {
			t = []interface{}{"null", t}
		}
		return t
	}

	name := base
	if unbounded {
		name += "[]"
	}
	if io.MinOccurs == 0 {
		name += "?"
	}
	return name
}

// typedSymbols re-types allowed values into the enum's backing literal type
func typedSymbols(io *WPSIO) []interface{} {
	symbols := make([]interface{}, len(io.AllowedValues))
	for i, v := range io.AllowedValues {
		switch io.PackageType {
		case "int", "integer", "long":
			if n, err := strconv.Atoi(v); err == nil {
				symbols[i] = n
				continue
			}
		case "float", "double":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				symbols[i] = f
				continue
			}
		}
		symbols[i] = v
	}
	return symbols
}

// packageLiteralName recovers the package spelling of a literal type
func packageLiteralName(io *WPSIO) string {
	if io.PackageType != "" {
		return io.PackageType
	}
	switch io.DataType {
	case "integer":
		return "int"
	case "anyvalue":
		return "Any"
	case "novalue":
		return "null"
	default:
		return io.DataType
	}
}
