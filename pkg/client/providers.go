package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ProviderSummary is one registered remote provider
type ProviderSummary struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Public   bool   `json:"public"`
	Auth     string `json:"auth"`
	Title    string `json:"title,omitempty"`
	Abstract string `json:"abstract,omitempty"`
}

// ProviderRegistration is the provider registration body. An empty ID
// lets the server derive a name from the endpoint.
type ProviderRegistration struct {
	ID        string `json:"id,omitempty"`
	URL       string `json:"url"`
	Type      string `json:"type,omitempty"`
	Public    bool   `json:"public"`
	Auth      string `json:"auth,omitempty"`
	SkipProbe bool   `json:"skipProbe,omitempty"`
}

// ListProviders fetches the registered providers
func (c *Client) ListProviders(ctx context.Context) ([]ProviderSummary, error) {
	var listing struct {
		Providers []ProviderSummary `json:"providers"`
	}
	if err := c.getJSON(ctx, c.base+"/providers", &listing); err != nil {
		return nil, fmt.Errorf("list providers at %s: %w", c.base, err)
	}
	return listing.Providers, nil
}

// RegisterProvider registers a remote WPS or API-Processes endpoint and
// returns the stored record, including the server-assigned name
func (c *Client) RegisterProvider(ctx context.Context, reg *ProviderRegistration) (*ProviderSummary, error) {
	body, _, err := c.send(ctx, http.MethodPost, c.base+"/providers", reg)
	if err != nil {
		return nil, fmt.Errorf("register provider %s: %w", reg.URL, err)
	}
	var summary ProviderSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("decode provider registration response: %w", err)
	}
	return &summary, nil
}

// DescribeProvider fetches one provider, enriched with its
// capabilities metadata
func (c *Client) DescribeProvider(ctx context.Context, name string) (*ProviderSummary, error) {
	var summary ProviderSummary
	if err := c.getJSON(ctx, c.base+"/providers/"+name, &summary); err != nil {
		return nil, providerErr(err, name)
	}
	return &summary, nil
}

// UnregisterProvider removes a registered provider
func (c *Client) UnregisterProvider(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/providers/"+name, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	if _, _, err := c.do(req); err != nil {
		return providerErr(err, name)
	}
	return nil
}

// ProviderProcesses lists the processes a provider offers
func (c *Client) ProviderProcesses(ctx context.Context, name string) ([]ProcessSummary, error) {
	var listing struct {
		Processes []ProcessSummary `json:"processes"`
	}
	if err := c.getJSON(ctx, c.base+"/providers/"+name+"/processes", &listing); err != nil {
		return nil, providerErr(err, name)
	}
	return listing.Processes, nil
}

// ExecuteProvider submits a job against a provider process; the return
// values match Execute
func (c *Client) ExecuteProvider(ctx context.Context, providerName, processID string, req *ExecuteRequest) (*SubmitResult, string, error) {
	url := c.base + "/providers/" + providerName + "/processes/" + processID + "/jobs"
	body, headers, err := c.send(ctx, http.MethodPost, url, req)
	if err != nil {
		return nil, "", providerErr(err, providerName)
	}
	var result SubmitResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, "", fmt.Errorf("decode execute response: %w", err)
	}
	location := headers.Get("Location")
	if location == "" {
		location = result.Location
	}
	return &result, location, nil
}

func providerErr(err error, name string) error {
	var aerr *APIError
	if errors.As(err, &aerr) && aerr.Status == http.StatusNotFound {
		return fmt.Errorf("provider %s not registered: %w", name, err)
	}
	return err
}
