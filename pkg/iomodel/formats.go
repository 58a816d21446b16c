package iomodel

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Content types the staging and conversion layers care about
const (
	ContentTypeAppNetCDF    = "application/x-netcdf"
	ContentTypeAppHDF5      = "application/x-hdf5"
	ContentTypeAppJSON      = "application/json"
	ContentTypeAppXML       = "application/xml"
	ContentTypeTextXML      = "text/xml"
	ContentTypeTextHTML     = "text/html"
	ContentTypeTextPlain    = "text/plain"
	ContentTypeAppForm      = "application/x-www-form-urlencoded"
	ContentTypeAppDirectory = "application/directory"
)

// Namespaces for file format IRIs. IANA covers standard media types;
// EDAM covers the scientific formats IANA does not reference.
const (
	IANANamespace = "iana"
	IANABaseURL   = "https://www.iana.org/assignments/media-types/"
	EDAMNamespace = "edam"
	EDAMBaseURL   = "http://edamontology.org/"
	EDAMSchema    = "http://edamontology.org/EDAM_1.21.owl"
)

// edamMapping holds the scientific formats missing from the IANA registry
var edamMapping = map[string]string{
	ContentTypeAppHDF5:   "format_3590",
	ContentTypeAppJSON:   "format_3464",
	ContentTypeAppNetCDF: "format_3650",
	ContentTypeTextPlain: "format_1964",
}

// extensionMapping overrides the naive subtype-derived file extension
var extensionMapping = map[string]string{
	ContentTypeAppNetCDF: "nc",
	ContentTypeAppHDF5:   "hdf5",
	ContentTypeTextPlain: "*", // any, for glob matching
}

// Extension returns the file extension for a media type, preferring the
// explicit mapping and falling back to the subtype
func Extension(mimeType string) string {
	if ext, ok := extensionMapping[mimeType]; ok {
		return ext
	}
	if idx := strings.LastIndex(mimeType, "/"); idx >= 0 {
		return mimeType[idx+1:]
	}
	return mimeType
}

// CleanMimeType strips namespace URLs, namespace prefixes and EDAM format
// codes so that a format reference collapses to the generic media type
func CleanMimeType(mimeType string) string {
	for _, base := range []string{IANABaseURL, EDAMBaseURL} {
		mimeType = strings.Replace(mimeType, base, "", 1)
	}
	for _, ns := range []string{IANANamespace, EDAMNamespace} {
		mimeType = strings.TrimPrefix(mimeType, ns+":")
	}
	for mt, code := range edamMapping {
		if strings.HasSuffix(code, mimeType) || code == mimeType {
			return mt
		}
	}
	return mimeType
}

// FormatResolver maps media types to format IRIs, asking the IANA registry
// first and falling back to the built-in EDAM table. Lookups are cached
// for the lifetime of the resolver.
type FormatResolver struct {
	client  *http.Client
	baseURL string

	mu    sync.Mutex
	cache map[string]string
}

// NewFormatResolver creates a resolver with a short control timeout
func NewFormatResolver() *FormatResolver {
	return &FormatResolver{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: IANABaseURL,
		cache:   make(map[string]string),
	}
}

// NewFormatResolverWithBase creates a resolver against an alternate
// registry URL, used by tests
func NewFormatResolverWithBase(client *http.Client, baseURL string) *FormatResolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &FormatResolver{client: client, baseURL: baseURL, cache: make(map[string]string)}
}

// FormatIRI resolves a media type to a format IRI. IANA wins when the
// registry knows the type; the EDAM table covers the scientific leftovers.
func (r *FormatResolver) FormatIRI(mimeType string) (string, error) {
	mimeType = CleanMimeType(mimeType)

	r.mu.Lock()
	if iri, ok := r.cache[mimeType]; ok {
		r.mu.Unlock()
		return iri, nil
	}
	r.mu.Unlock()

	iri, err := r.lookup(mimeType)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[mimeType] = iri
	r.mu.Unlock()
	return iri, nil
}

func (r *FormatResolver) lookup(mimeType string) (string, error) {
	resp, err := r.client.Get(r.baseURL + mimeType)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return r.baseURL + mimeType, nil
		}
	}
	if code, ok := edamMapping[mimeType]; ok {
		return EDAMBaseURL + code, nil
	}
	return "", fmt.Errorf("no format reference for media type %q", mimeType)
}
