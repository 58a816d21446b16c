package staging

import (
	"fmt"
	"regexp"
	"strings"
)

// HeaderOutputContext names the request header selecting an output
// sub-directory for a job.
const HeaderOutputContext = "X-WPS-Output-Context"

// CodeInvalidHeaderValue is the machine code surfaced for rejected
// header values.
const CodeInvalidHeaderValue = "InvalidHeaderValue"

var outputContextPattern = regexp.MustCompile(`^([A-Za-z0-9_-]+/?)+$`)

// InvalidHeaderError reports a request header whose value cannot be
// honored. The API layer renders it as an unprocessable-entity body.
type InvalidHeaderError struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Cause       string `json:"cause"`
	Value       string `json:"value"`
}

func (e *InvalidHeaderError) Error() string {
	return fmt.Sprintf("invalid %s header value %q: %s", e.Name, e.Value, e.Description)
}

// Code returns the machine-readable error code
func (e *InvalidHeaderError) Code() string {
	return CodeInvalidHeaderValue
}

// ValidateOutputContext checks a raw X-WPS-Output-Context header value
// and returns the normalized sub-directory. An empty value is allowed
// and means the configured default applies.
func ValidateOutputContext(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !outputContextPattern.MatchString(value) {
		return "", &InvalidHeaderError{
			Name:        HeaderOutputContext,
			Description: "output context must be a relative directory path of letters, digits, dashes and underscores",
			Cause:       "pattern mismatch",
			Value:       value,
		}
	}
	return strings.TrimRight(value, "/"), nil
}
