// Package owsproxy forwards OWS requests to registered provider services.
// Responses are filtered by a content-type allowlist and capabilities
// documents get their service URLs rewritten so clients keep addressing
// the proxy instead of the upstream host.
package owsproxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trellisproc/trellis/pkg/log"
	"github.com/trellisproc/trellis/pkg/storage"
	"github.com/trellisproc/trellis/pkg/wps"
)

const codeAccessForbidden = "AccessForbidden"

// allowedContentTypes lists the response media types the proxy passes
// through. Anything else is blocked with an OWS exception.
var allowedContentTypes = map[string]bool{
	"application/xml":                      true,
	"text/xml":                             true,
	"application/vnd.ogc.se_xml":           true,
	"application/vnd.ogc.se+xml":           true,
	"application/vnd.ogc.wms_xml":          true,
	"application/vnd.google-earth.kml+xml": true,
	"application/vnd.google-earth.kmz":     true,
	"image/png":                            true,
	"image/gif":                            true,
	"image/jpeg":                           true,
	"application/json":                     true,
}

// Proxy forwards requests under /ows/proxy/{provider} to the provider's
// registered URL.
type Proxy struct {
	store  storage.Store
	client *http.Client
	log    zerolog.Logger
}

// New builds a proxy over the service registry. client may be nil.
func New(store storage.Store, client *http.Client) *Proxy {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Proxy{
		store:  store,
		client: client,
		log:    log.WithComponent("owsproxy"),
	}
}

// Forward relays the request to the named provider and writes the
// filtered response. extraPath is appended to the provider URL.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, provider, extraPath string) {
	svc, err := p.store.GetService(provider)
	if err != nil {
		p.exception(w, http.StatusBadRequest, wps.CodeNoApplicableCode, provider,
			fmt.Sprintf("could not find service %s", provider))
		return
	}

	target := strings.TrimRight(svc.URL, "/")
	if extraPath != "" {
		target += "/" + strings.TrimLeft(extraPath, "/")
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		p.exception(w, http.StatusBadRequest, wps.CodeNoApplicableCode, provider,
			fmt.Sprintf("request failed: %v", err))
		return
	}
	// forward headers without Host so the upstream sees its own vhost
	for name, values := range r.Header {
		if http.CanonicalHeaderKey(name) == "Host" {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Str("provider", provider).Err(err).Msg("upstream request failed")
		p.exception(w, http.StatusBadRequest, wps.CodeNoApplicableCode, provider,
			fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.exception(w, http.StatusBadRequest, wps.CodeNoApplicableCode, provider,
			"could not read response content")
		return
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" && !allowedContentTypes[mediaType(ct)] {
		p.log.Warn().Str("provider", provider).Str("content_type", ct).Msg("blocked response content type")
		p.exception(w, http.StatusForbidden, codeAccessForbidden, provider,
			fmt.Sprintf("content type is not allowed: %s", ct))
		return
	}

	if isXML(ct) {
		body = rewriteServiceURLs(body, svc.URL, proxyURL(r, provider))
	}

	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// exception writes an OWS exception report with the given status.
func (p *Proxy) exception(w http.ResponseWriter, status int, code, locator, text string) {
	report, err := wps.RenderExceptionReport(code, locator, text)
	if err != nil {
		http.Error(w, text, status)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	_, _ = w.Write(report)
}

// proxyURL reconstructs the absolute URL clients use to reach this
// provider through the proxy.
func proxyURL(r *http.Request, provider string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + "/ows/proxy/" + provider
}

// rewriteServiceURLs points capabilities service endpoints back at the
// proxy so follow-up operations stay behind it.
func rewriteServiceURLs(body []byte, serviceURL, proxy string) []byte {
	serviceURL = strings.TrimRight(serviceURL, "/")
	if serviceURL == "" {
		return body
	}
	return bytes.ReplaceAll(body, []byte(serviceURL), []byte(proxy))
}

func mediaType(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func isXML(ct string) bool {
	switch mediaType(ct) {
	case "text/xml", "application/xml":
		return true
	}
	return false
}
