package pack

import (
	"fmt"

	"github.com/trellisproc/trellis/pkg/types"
)

// Requirement classes the dispatcher understands
const (
	RequirementDocker = "DockerRequirement"
	RequirementWPS1   = "WPS1Requirement"
	RequirementESGF   = "ESGF-CWTRequirement"
)

// WPS1Requirement pins a step to a specific WPS 1.0 provider process
type WPS1Requirement struct {
	Provider string
	Process  string
}

// Hints collects the requirement classes that steer adapter selection
// and container execution
type Hints struct {
	Docker string
	WPS1   *WPS1Requirement
	ESGF   bool
}

// overlay applies step-level hints over package-level ones
func (h *Hints) overlay(step Hints) {
	if step.Docker != "" {
		h.Docker = step.Docker
	}
	if step.WPS1 != nil {
		h.WPS1 = step.WPS1
	}
	if step.ESGF {
		h.ESGF = true
	}
}

// ParseHints extracts the known requirement classes from a package or
// step definition, accepting both the list and the mapping spellings of
// the requirements and hints sections
func ParseHints(def map[string]interface{}) (Hints, error) {
	var hints Hints
	for _, section := range []string{"requirements", "hints"} {
		raw, ok := def[section]
		if !ok {
			continue
		}
		switch entries := raw.(type) {
		case []interface{}:
			for _, entry := range entries {
				body, ok := entry.(map[string]interface{})
				if !ok {
					return hints, &types.PackageRegistrationError{
						Reason: fmt.Sprintf("invalid %s entry in package definition", section),
					}
				}
				class, _ := body["class"].(string)
				if err := hints.apply(class, body); err != nil {
					return hints, err
				}
			}
		case map[string]interface{}:
			for class, entry := range entries {
				body, _ := entry.(map[string]interface{})
				if err := hints.apply(class, body); err != nil {
					return hints, err
				}
			}
		}
	}
	return hints, nil
}

func (h *Hints) apply(class string, body map[string]interface{}) error {
	switch class {
	case RequirementDocker:
		image, _ := body["dockerPull"].(string)
		if image == "" {
			return &types.PackageRegistrationError{Reason: "DockerRequirement without dockerPull"}
		}
		h.Docker = image
	case RequirementWPS1:
		req := &WPS1Requirement{}
		req.Provider, _ = body["provider"].(string)
		req.Process, _ = body["process"].(string)
		if req.Provider == "" || req.Process == "" {
			return &types.PackageRegistrationError{Reason: "WPS1Requirement needs provider and process"}
		}
		h.WPS1 = req
	case RequirementESGF:
		h.ESGF = true
	}
	return nil
}
