/*
Package provider manages the registry of remote processing services.

A provider is a WPS 1.0 or API-Processes endpoint registered under a short
name. The registry normalizes and deduplicates registrations, probes the
endpoint before accepting it, and enriches listings with title and abstract
from the provider's capabilities document.

# Registration

Requested names pass through Slugify ([a-z0-9_-]+, lowercase, runs of
other characters collapse); names that slugify to nothing get a random
adjective_noun name, with a digit suffix when the first draw collides.
Duplicate URLs and names are rejected with ServiceRegistrationError, which
the API maps to 409. URLs are reduced to scheme+host+path; query strings
never persist.

	registry := provider.NewRegistry(store, clientCache)
	service, err := registry.Register(ctx, provider.RegisterOptions{
		Name: "Coastal WPS",
		URL:  "https://wps.example.org/ows/wps?service=WPS",
	})
	// service.Name == "coastal_wps", service.URL without the query

Unless skipped, registration probes GetCapabilities through the health
checker; an unreachable endpoint is refused. Cert-auth providers are
probed with the configured client keypair, and a keypair within 30 days
of expiry logs a warning.

# Listing

List and Describe attach the provider's advertised title and abstract,
fetched through the shared WPS client cache. A provider that is down
lists with empty metadata; listing never fails on enrichment.

# Integration Points

  - pkg/storage: service persistence
  - pkg/health, pkg/security: registration probe
  - pkg/wps: capabilities fetch and client cache
  - pkg/engine: resolves job services through Get
  - pkg/api: providers routes
*/
package provider
