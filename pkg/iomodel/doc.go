/*
Package iomodel reconciles the three input/output vocabularies the service
speaks: package definitions (typed CWL-style I/O), WPS descriptions
(literal/complex/bounding-box with occurrence bounds and formats), and
OGC API - Processes JSON.

# Architecture

All conversions pass through one canonical descriptor, WPSIO:

	package dialect ──ParsePackageIO──> PackageIO ──ToWPS──┐
	                                                        ▼
	                  RenderPackage <────────────────── WPSIO
	                                                        │
	API-Processes JSON <──WPSToAPI──────────────────────────┤
	API-Processes JSON ───APIToWPS──────────────────────────┘

A full cycle (package -> wps -> api -> wps -> package) reproduces the
original definition: the canonical descriptor keeps the verbatim package
literal spelling in PackageType while DataType carries the normalized WPS
validation type (int/integer/long collapse to integer, float/double to
float).

# Core Components

  - PackageIO / ParsePackageIO: package-dialect parsing, covering base
    literals, File/Directory, "T[]" and {type: array} arrays, enums with
    homogeneous symbols, and "T?" or [null, T] optionality
  - WPSIO: the canonical descriptor; arrays carry the unbounded MaxOccurs
    sentinel, enums carry allowed values with simple validation mode
  - Merge: reconciles user-declared descriptions with package-derived
    descriptors; the package wins on existence and type
  - FormatResolver: media type to format IRI, IANA registry first, then
    the built-in EDAM table for scientific formats
  - ValidateDefaults: rejects defaults outside an enum's allowed values
    at deploy time

# Conversion Rules

Package to WPS:
  - arrays set maxOccurs to the unbounded sentinel
  - enums become literal I/O with allowed values and simple mode
  - File and Directory become complex I/O; a missing format gets the
    text/plain default so validators never see an empty format list;
    Directory carries the application/directory format marker
  - unknown types fail hard with a PackageTypeError naming the field

WPS to API-Processes JSON:
  - identifier -> id, supported formats -> formats, mime_type -> mimeType
  - minOccurs/maxOccurs render as strings, the sentinel as "unbounded"

# Usage

	pio, err := iomodel.ParsePackageIO(raw, iomodel.DirectionInput)
	if err != nil {
		return err
	}
	wps, err := pio.ToWPS(iomodel.DirectionInput)
	if err != nil {
		return err
	}
	apiJSON := iomodel.WPSToAPI(wps)

# Integration Points

  - pkg/pack derives process I/O from package definitions at deploy time
  - pkg/remote formats step inputs and outputs for WPS and API providers
  - pkg/api renders process descriptions from stored descriptors

# See Also

  - pkg/pack for package loading and classification
  - pkg/remote for how dispatched I/O uses these descriptors
*/
package iomodel
