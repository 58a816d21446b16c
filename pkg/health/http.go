package health

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"
)

// sniffLimit bounds how much of the response body the probe inspects.
const sniffLimit = 64 << 10

// HTTPChecker probes a provider endpoint, typically its GetCapabilities URL.
// A probe passes when the endpoint answers 2xx/3xx with a body that is not
// an OWS ExceptionReport: an upstream serving a well-formed exception is
// reachable but misconfigured, and registering it would only defer the
// failure to execution time.
type HTTPChecker struct {
	// URL is the full HTTP URL to probe
	URL string

	// Headers are extra request headers, e.g. a bearer token for
	// token-auth providers
	Headers map[string]string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPChecker creates a probe against the given URL
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:     url,
		Headers: make(map[string]string),
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Check performs the probe
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	fail := func(format string, args ...interface{}) Result {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return fail("failed to create request: %v", err)
	}
	req.Header.Set("Accept", "text/xml, application/xml;q=0.9, */*;q=0.5")
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return fail("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, sniffLimit))
	if err != nil {
		return fail("reading response: %v", err)
	}
	if text, ok := sniffExceptionReport(body); ok {
		return fail("endpoint answered an exception report: %s", text)
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// sniffExceptionReport reports whether the body is an OWS ExceptionReport,
// matching the root element by local name so any namespace prefix decodes.
// The returned text is the first ExceptionText found, if any.
func sniffExceptionReport(body []byte) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	root := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", root
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !root {
			if se.Name.Local != "ExceptionReport" {
				return "", false
			}
			root = true
			continue
		}
		if se.Name.Local == "ExceptionText" {
			var text string
			if err := dec.DecodeElement(&text, &se); err != nil {
				return "", true
			}
			return text, true
		}
	}
}

// Type returns the health check type
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithHeader adds a request header
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.Headers[key] = value
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}

// WithTLSConfig sets the TLS configuration, used for cert-auth providers
func (h *HTTPChecker) WithTLSConfig(cfg *tls.Config) *HTTPChecker {
	h.Client.Transport = &http.Transport{TLSClientConfig: cfg}
	return h
}
