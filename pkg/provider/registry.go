package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trellisproc/trellis/pkg/health"
	"github.com/trellisproc/trellis/pkg/log"
	"github.com/trellisproc/trellis/pkg/metrics"
	"github.com/trellisproc/trellis/pkg/security"
	"github.com/trellisproc/trellis/pkg/storage"
	"github.com/trellisproc/trellis/pkg/types"
	"github.com/trellisproc/trellis/pkg/wps"
)

// Registry manages remote provider services
type Registry struct {
	store        storage.Store
	cache        *wps.ClientCache
	probeTimeout time.Duration
	log          zerolog.Logger

	// ClientCertPath/ClientKeyPath/CABundlePath supply the keypair used
	// to probe cert-auth providers. Empty paths skip client TLS.
	ClientCertPath string
	ClientKeyPath  string
	CABundlePath   string
}

// NewRegistry creates a provider registry over the given store
func NewRegistry(store storage.Store, cache *wps.ClientCache) *Registry {
	return &Registry{
		store:        store,
		cache:        cache,
		probeTimeout: 10 * time.Second,
		log:          log.WithComponent("provider"),
	}
}

// RegisterOptions carries a provider registration request
type RegisterOptions struct {
	Name      string
	URL       string
	Type      types.ServiceType
	Public    bool
	Auth      types.AuthMode
	SkipProbe bool
}

// Register validates, probes and persists a new provider service
func (r *Registry) Register(ctx context.Context, opts RegisterOptions) (*types.Service, error) {
	serviceURL, err := normalizeURL(opts.URL)
	if err != nil {
		return nil, &types.ServiceRegistrationError{Name: opts.Name, Reason: err.Error()}
	}

	if _, err := r.store.GetServiceByURL(serviceURL); err == nil {
		return nil, &types.ServiceRegistrationError{Name: opts.Name, Reason: "service url already registered"}
	} else if !errors.Is(err, types.ErrServiceNotFound) {
		return nil, err
	}

	name := Slugify(opts.Name)
	if name == "" {
		name = RandomName(false)
		if r.nameTaken(name) {
			name = RandomName(true)
		}
	}
	if r.nameTaken(name) {
		return nil, &types.ServiceRegistrationError{Name: name, Reason: "service name already registered"}
	}

	service := types.NewService(name, serviceURL)
	if opts.Type != "" {
		service.Type = opts.Type
	}
	if opts.Auth != "" {
		service.Auth = opts.Auth
	}
	service.Public = opts.Public

	if !opts.SkipProbe {
		if err := r.Probe(ctx, service); err != nil {
			return nil, &types.ServiceRegistrationError{Name: name, Reason: err.Error()}
		}
	}

	if err := r.store.SaveService(service); err != nil {
		return nil, err
	}

	r.log.Info().
		Str("service", service.Name).
		Str("url", service.URL).
		Str("type", string(service.Type)).
		Msg("service registered")

	return service, nil
}

// Unregister removes a provider service
func (r *Registry) Unregister(name string) error {
	if err := r.store.DeleteService(name); err != nil {
		return err
	}
	// Cached WPS clients for the removed endpoint die with the cache
	r.cache.Invalidate()

	r.log.Info().Str("service", name).Msg("service removed")
	return nil
}

// Get returns a registered service by name
func (r *Registry) Get(name string) (*types.Service, error) {
	return r.store.GetService(name)
}

// Description is a service enriched with capabilities metadata
type Description struct {
	Service  *types.Service
	Title    string
	Abstract string
}

// List returns all services, enriched with title and abstract from their
// cached capabilities. Enrichment failures leave the fields empty; a
// listing never fails because a provider is down.
func (r *Registry) List(ctx context.Context, publicOnly bool) ([]Description, error) {
	services, err := r.store.ListServices()
	if err != nil {
		return nil, err
	}

	described := make([]Description, 0, len(services))
	for _, service := range services {
		if publicOnly && !service.Public {
			continue
		}
		d := Description{Service: service}
		if service.Type == types.ServiceTypeWPS {
			d.Title, d.Abstract = r.capabilitiesMeta(ctx, service)
		}
		described = append(described, d)
	}
	return described, nil
}

// Describe returns one service with capabilities metadata
func (r *Registry) Describe(ctx context.Context, name string) (*Description, error) {
	service, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	d := &Description{Service: service}
	if service.Type == types.ServiceTypeWPS {
		d.Title, d.Abstract = r.capabilitiesMeta(ctx, service)
	}
	return d, nil
}

// Probe checks that the service answers a GetCapabilities request
func (r *Registry) Probe(ctx context.Context, service *types.Service) error {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	checker := health.NewHTTPChecker(capabilitiesURL(service)).WithTimeout(r.probeTimeout)

	if service.Auth == types.AuthCert && r.ClientCertPath != "" {
		tlsCfg, err := security.ClientTLSConfig(r.ClientCertPath, r.ClientKeyPath, r.CABundlePath)
		if err != nil {
			return fmt.Errorf("client certificate unusable: %w", err)
		}
		checker = checker.WithTLSConfig(tlsCfg)

		cert, err := security.LoadClientCert(r.ClientCertPath, r.ClientKeyPath)
		if err == nil && security.CertExpiresSoon(cert.Leaf) {
			r.log.Warn().
				Str("service", service.Name).
				Time("not_after", security.CertExpiry(cert.Leaf)).
				Msg("client certificate expires soon")
		}
	}

	result := checker.Check(probeCtx)
	if !result.Healthy {
		return fmt.Errorf("capabilities probe failed: %s", result.Message)
	}
	return nil
}

func (r *Registry) nameTaken(name string) bool {
	_, err := r.store.GetService(name)
	return !errors.Is(err, types.ErrServiceNotFound)
}

func (r *Registry) capabilitiesMeta(ctx context.Context, service *types.Service) (title, abstract string) {
	metaCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	client := r.cache.Get(service.URL, "")
	caps, err := client.GetCapabilities(metaCtx)
	if err != nil {
		r.log.Debug().
			Str("service", service.Name).
			Err(err).
			Msg("capabilities enrichment failed")
		return "", ""
	}
	metrics.RemoteRequestsTotal.WithLabelValues("wps1", "success").Inc()
	return caps.Title, caps.Abstract
}

// normalizeURL reduces a provider URL to scheme, host and path; query and
// fragment never persist because every protocol request rebuilds them.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid service url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("service url has no host")
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// capabilitiesURL builds the GetCapabilities probe URL for a service
func capabilitiesURL(service *types.Service) string {
	if service.Type == types.ServiceTypeAPI {
		return service.URL + "/processes"
	}
	return service.URL + "?service=WPS&request=GetCapabilities&version=1.0.0"
}
