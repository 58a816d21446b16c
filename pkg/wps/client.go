package wps

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/trellisproc/trellis/pkg/types"
)

// defaultTimeout bounds WPS control-plane requests; long monitoring is
// paced by the caller's poll loop, not by a single request.
const defaultTimeout = 30 * time.Second

// kvpURLLimit is the longest Execute GET URL worth attempting before
// switching to an XML POST body
const kvpURLLimit = 2048

// Client talks WPS 1.0 to one remote endpoint. It is immutable after
// construction and safe for concurrent use.
type Client struct {
	endpoint string
	language string
	http     *http.Client
}

// NewClient creates a WPS client for the given endpoint URL
func NewClient(endpoint string, httpClient *http.Client, language string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "?&"),
		language: language,
		http:     httpClient,
	}
}

// Endpoint returns the service URL this client targets
func (c *Client) Endpoint() string { return c.endpoint }

// GetCapabilities fetches and parses the service capabilities
func (c *Client) GetCapabilities(ctx context.Context) (*Capabilities, error) {
	values := url.Values{}
	values.Set("service", ServiceName)
	values.Set("request", "GetCapabilities")
	values.Set("version", Version100)

	body, err := c.get(ctx, values)
	if err != nil {
		return nil, err
	}
	return ParseCapabilities(body)
}

// DescribeProcess fetches the typed description of one process
func (c *Client) DescribeProcess(ctx context.Context, identifier string) (*ProcessDescription, error) {
	values := url.Values{}
	values.Set("service", ServiceName)
	values.Set("request", "DescribeProcess")
	values.Set("version", Version100)
	values.Set("identifier", identifier)

	body, err := c.get(ctx, values)
	if err != nil {
		return nil, err
	}
	descs, err := ParseProcessDescriptions(body)
	if err != nil {
		return nil, err
	}
	for i := range descs.Processes {
		if descs.Processes[i].Identifier == identifier {
			return &descs.Processes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s at %s", types.ErrProcessNotFound, identifier, c.endpoint)
}

// Execute submits an Execute request. Short requests go as a KVP GET,
// anything longer as an XML POST; complex inputs travel by reference in
// both encodings.
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	values := EncodeExecuteKVP(req)
	if kvpURL := c.endpoint + "?" + values.Encode(); len(kvpURL) <= kvpURLLimit {
		body, err := c.get(ctx, values)
		if err != nil {
			return nil, err
		}
		return parseExecuteOrException(body)
	}
	return c.ExecutePost(ctx, req)
}

// ExecutePost submits an Execute request as an XML POST body
func (c *Client) ExecutePost(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	payload, err := RenderExecuteRequest(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/xml")
	c.setHeaders(httpReq)

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	return parseExecuteOrException(body)
}

// Status fetches and parses the execute status document at the given
// location. File paths and file URLs are read directly, which covers
// status locations resolving to this host's own output directory.
func (c *Client) Status(ctx context.Context, location string) (*ExecuteResponse, error) {
	if strings.HasPrefix(location, "file://") || filepath.IsAbs(location) {
		data, err := os.ReadFile(strings.TrimPrefix(location, "file://"))
		if err != nil {
			return nil, fmt.Errorf("read status location: %w", err)
		}
		return parseExecuteOrException(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)
	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	return parseExecuteOrException(body)
}

func (c *Client) get(ctx context.Context, values url.Values) ([]byte, error) {
	if c.language != "" && values.Get("language") == "" {
		values.Set("language", c.language)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)
	return c.do(httpReq)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "text/xml, application/xml")
	if c.language != "" {
		req.Header.Set("Accept-Language", c.language)
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if report, perr := ParseExceptionReport(body); perr == nil && len(report.Exceptions) > 0 {
			return nil, report
		}
		return nil, fmt.Errorf("wps request to %s failed with status %d", req.URL.Host, resp.StatusCode)
	}
	return body, nil
}

// parseExecuteOrException decodes a response that may be either an
// ExecuteResponse or an exception report served with status 200
func parseExecuteOrException(body []byte) (*ExecuteResponse, error) {
	resp, err := ParseExecuteResponse(body)
	if err == nil && resp.Status.State() != "" {
		return resp, nil
	}
	if report, perr := ParseExceptionReport(body); perr == nil && len(report.Exceptions) > 0 {
		return nil, report
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("wps response carries no recognizable status")
}

// ClientCache hands out WPS clients keyed by endpoint and language.
// Cached clients are immutable; Invalidate exists for tests that swap
// the remote behind an unchanged URL.
type ClientCache struct {
	mu      sync.RWMutex
	clients map[string]*Client
	http    *http.Client
}

// NewClientCache creates a cache; httpClient may be nil for defaults
func NewClientCache(httpClient *http.Client) *ClientCache {
	return &ClientCache{
		clients: make(map[string]*Client),
		http:    httpClient,
	}
}

// Get returns the cached client for the endpoint and language pair,
// creating it on first use
func (cc *ClientCache) Get(endpoint, language string) *Client {
	key := endpoint + "\x00" + language

	cc.mu.RLock()
	client, ok := cc.clients[key]
	cc.mu.RUnlock()
	if ok {
		return client
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if client, ok = cc.clients[key]; ok {
		return client
	}
	client = NewClient(endpoint, cc.http, language)
	cc.clients[key] = client
	return client
}

// Invalidate drops all cached clients
func (cc *ClientCache) Invalidate() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.clients = make(map[string]*Client)
}
