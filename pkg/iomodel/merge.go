package iomodel

import (
	"fmt"

	"github.com/trellisproc/trellis/pkg/types"
)

// Merge reconciles user-declared I/O descriptions with the descriptors
// derived from the package definition. The package definition is
// authoritative for existence and type: derived entries not declared are
// kept as-is, declared entries without a derived counterpart are dropped,
// and for matched identifiers the derived type wins while user-supplied
// documentation fields overlay when present and type-compatible.
func Merge(declared, derived []*WPSIO) []*WPSIO {
	byID := make(map[string]*WPSIO, len(declared))
	for _, d := range declared {
		byID[d.Identifier] = d
	}

	merged := make([]*WPSIO, 0, len(derived))
	for _, d := range derived {
		out := *d
		if user, ok := byID[d.Identifier]; ok && compatible(user, d) {
			overlay(&out, user)
		}
		merged = append(merged, &out)
	}
	return merged
}

// compatible reports whether the declared descriptor may decorate the
// derived one without changing its type
func compatible(declared, derived *WPSIO) bool {
	if declared.Kind != derived.Kind {
		return false
	}
	if derived.Kind == KindLiteral && declared.DataType != "" &&
		declared.DataType != derived.DataType {
		return false
	}
	return true
}

// overlay copies the user-facing description fields that are present on
// the declared descriptor
func overlay(out, user *WPSIO) {
	if user.Title != "" {
		out.Title = user.Title
	}
	if user.Abstract != "" {
		out.Abstract = user.Abstract
	}
	if len(user.Keywords) > 0 {
		out.Keywords = user.Keywords
	}
	if len(user.Metadata) > 0 {
		out.Metadata = user.Metadata
	}
	if out.Kind == KindLiteral && len(user.AllowedValues) > 0 {
		out.AllowedValues = user.AllowedValues
		out.AnyValue = false
		out.Mode = ModeSimple
	}
	if out.Kind == KindComplex && !out.IsDirectory() && len(user.Formats) > 0 && user.hasExplicitFormat() {
		out.Formats = user.Formats
	}
}

// ValidateDefaults checks every descriptor whose default value is
// constrained by allowed values, rejecting defaults outside the set
func ValidateDefaults(ios []*WPSIO) error {
	for _, io := range ios {
		if io.Default == nil || len(io.AllowedValues) == 0 {
			continue
		}
		def := fmt.Sprint(io.Default)
		ok := false
		for _, v := range io.AllowedValues {
			if v == def {
				ok = true
				break
			}
		}
		if !ok {
			return &types.PackageTypeError{
				Field:  io.Identifier,
				Reason: fmt.Sprintf("default value %q is not in allowed values %v", def, io.AllowedValues),
			}
		}
	}
	return nil
}
