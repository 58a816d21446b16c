package iomodel

import (
	"math"

	"github.com/trellisproc/trellis/pkg/types"
)

// Direction selects input or output conversion rules
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Kind tags the WPS dialect variants
type Kind string

const (
	KindLiteral     Kind = "literal"
	KindComplex     Kind = "complex"
	KindBoundingBox Kind = "bbox"
)

// Validation modes for literal values
const (
	ModeNone   = "none"
	ModeSimple = "simple"
)

// Base literal types a package definition may use
var packageBaseTypes = map[string]bool{
	"string": true, "boolean": true, "float": true,
	"int": true, "integer": true, "long": true, "double": true,
}

var packageLiteralTypes = map[string]bool{
	"string": true, "boolean": true, "float": true,
	"int": true, "integer": true, "long": true, "double": true,
	"null": true, "Any": true,
}

var packageComplexTypes = map[string]bool{
	"File": true, "Directory": true,
}

// MaxOccursUnbounded is the sentinel for array I/O with no upper bound.
// It stays JSON-exact through float64, unlike the full int range.
const MaxOccursUnbounded = math.MaxInt32

// UnboundedLiteral replaces the sentinel in API-Processes JSON
const UnboundedLiteral = "unbounded"

// Format describes one supported representation of complex I/O
type Format struct {
	MimeType string `json:"mimeType"`
	Encoding string `json:"encoding,omitempty"`
	Schema   string `json:"schema,omitempty"`
	Default  bool   `json:"default,omitempty"`
}

// DefaultFormat is attached to complex I/O declaring no format, so that
// downstream validation never sees an empty format list
var DefaultFormat = Format{MimeType: ContentTypeTextPlain, Default: true}

// WPSIO is the canonical in-memory I/O descriptor. It is the hub the
// package and API-Processes dialects convert through.
type WPSIO struct {
	Identifier string
	Title      string
	Abstract   string
	Keywords   []string
	Metadata   []types.Metadata
	Direction  Direction
	Kind       Kind

	// Literal fields. DataType is the WPS validation type (integer,
	// float, string, boolean, anyvalue, novalue); PackageType keeps the
	// verbatim package spelling (int, long, double, Any) so package
	// definitions survive a full conversion cycle.
	DataType      string
	PackageType   string
	AllowedValues []string
	AnyValue      bool
	Mode          string
	Default       interface{}

	// Complex fields
	Formats     []Format
	AsReference bool

	// BoundingBox fields
	SupportedCRS []string

	MinOccurs int
	MaxOccurs int

	// Execution wiring carried along from the package definition
	Binding map[string]interface{}
	Source  string
}

// IsDirectory reports whether a complex I/O denotes a directory tree,
// encoded as the application/directory format
func (io *WPSIO) IsDirectory() bool {
	if io.Kind != KindComplex {
		return false
	}
	for _, f := range io.Formats {
		if f.MimeType == ContentTypeAppDirectory {
			return true
		}
	}
	return false
}

// hasExplicitFormat reports whether the format list is anything other
// than the implicit text/plain default
func (io *WPSIO) hasExplicitFormat() bool {
	if len(io.Formats) != 1 {
		return len(io.Formats) > 0
	}
	return io.Formats[0].MimeType != DefaultFormat.MimeType
}

// normalizeDataType maps a package literal type onto the WPS validation
// type the way DescribeProcess advertises it
func normalizeDataType(packageType string) string {
	switch packageType {
	case "int", "integer", "long":
		return "integer"
	case "float", "double":
		return "float"
	case "Any":
		return "anyvalue"
	case "null":
		return "novalue"
	default:
		return packageType
	}
}
