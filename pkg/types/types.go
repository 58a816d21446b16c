package types

import (
	"strings"
	"time"
)

// ProcessKind classifies a deployed package
type ProcessKind string

const (
	ProcessKindApplication ProcessKind = "application"
	ProcessKindWorkflow    ProcessKind = "workflow"
)

// Visibility controls who may see a process or job
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Process represents a deployed, runnable unit (application or workflow)
type Process struct {
	ID         string                   `json:"id"`
	Kind       ProcessKind              `json:"kind"`
	Title      string                   `json:"title,omitempty"`
	Abstract   string                   `json:"abstract,omitempty"`
	Keywords   []string                 `json:"keywords,omitempty"`
	Version    string                   `json:"version,omitempty"`
	Metadata   []Metadata               `json:"metadata,omitempty"`
	Package    map[string]interface{}   `json:"package"`
	Payload    map[string]interface{}   `json:"payload,omitempty"`
	Inputs     []map[string]interface{} `json:"inputs,omitempty"`
	Outputs    []map[string]interface{} `json:"outputs,omitempty"`
	Visibility Visibility               `json:"visibility"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// Metadata is a titled link attached to a process description
type Metadata struct {
	Title string `json:"title,omitempty"`
	Role  string `json:"role,omitempty"`
	Href  string `json:"href,omitempty"`
}

// ServiceType identifies the protocol a provider speaks
type ServiceType string

const (
	ServiceTypeWPS ServiceType = "WPS"
	ServiceTypeAPI ServiceType = "API-Processes"
)

// AuthMode is how requests to a provider are authenticated
type AuthMode string

const (
	AuthNone  AuthMode = "none"
	AuthToken AuthMode = "token"
	AuthCert  AuthMode = "cert"
)

// Service represents a registered remote provider (WPS or API-Processes)
type Service struct {
	Name      string      `json:"name"`
	URL       string      `json:"url"`
	Type      ServiceType `json:"type"`
	Public    bool        `json:"public"`
	Auth      AuthMode    `json:"auth"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewService fills in the defaults a bare name+url registration gets
func NewService(name, url string) *Service {
	return &Service{
		Name:      name,
		URL:       url,
		Type:      ServiceTypeWPS,
		Public:    false,
		Auth:      AuthToken,
		CreatedAt: time.Now().UTC(),
	}
}

// AccessToken grants access to mutating API routes
type AccessToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its expiry
func (t *AccessToken) Expired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IOEntry is a single job input or result. Exactly one of Href or Value is
// set; Data carries the synthesized array-of-references form some WPS
// providers return for multi-file outputs.
type IOEntry struct {
	ID       string        `json:"id"`
	Href     string        `json:"href,omitempty"`
	Value    interface{}   `json:"value,omitempty"`
	Data     []interface{} `json:"data,omitempty"`
	Type     string        `json:"type,omitempty"`
	MimeType string        `json:"mimeType,omitempty"`
	Title    string        `json:"title,omitempty"`
}

// Exception is a structured error recorded against a job
type Exception struct {
	Code    string `json:"Code"`
	Locator string `json:"Locator,omitempty"`
	Text    string `json:"Text"`
}

// Document stores disallow '$' and '.' inside keys, so process identifiers
// pass through a reversible fullwidth substitution before use as store keys.
var keyEscaper = strings.NewReplacer("$", "＄", ".", "．")
var keyUnescaper = strings.NewReplacer("＄", "$", "．", ".")

// EscapeKey encodes an identifier for use as a document-store key
func EscapeKey(id string) string {
	return keyEscaper.Replace(id)
}

// UnescapeKey reverses EscapeKey
func UnescapeKey(key string) string {
	return keyUnescaper.Replace(key)
}
