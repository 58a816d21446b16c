/*
Package health provides endpoint health checking for remote providers.

The health package implements the probe used at provider registration and
by the periodic provider sweep: an HTTP GET against the endpoint's
GetCapabilities URL, with configurable timeout and headers. A Status
accumulates consecutive results so a single flaky response does not flip
a provider to unhealthy.

# Usage

Probing a provider at registration:

	checker := health.NewHTTPChecker(service.URL + "?service=WPS&request=GetCapabilities").
		WithTimeout(5 * time.Second)

	result := checker.Check(ctx)
	if !result.Healthy {
		return fmt.Errorf("provider unreachable: %s", result.Message)
	}

Cert-auth providers supply their client keypair through WithTLSConfig:

	cfg, err := security.ClientTLSConfig(certPath, keyPath, caPath)
	if err != nil {
		return err
	}
	checker := health.NewHTTPChecker(url).WithTLSConfig(cfg)

Tracking an endpoint over time:

	status := health.NewStatus()
	status.Update(checker.Check(ctx), health.DefaultConfig())
	if !status.Healthy {
		// deregister or mark degraded
	}

# Semantics

A Result is healthy when the response status is 2xx or 3xx and the body
is not an OWS ExceptionReport; an upstream serving a well-formed
exception is reachable but misconfigured, and the probe surfaces its
ExceptionText instead of admitting it. Status flips to unhealthy only
after Retries consecutive failures (default 3) and recovers on the
first success.

# Integration Points

  - pkg/provider: registration probe and periodic sweep
  - pkg/security: TLS configs for cert-auth providers
*/
package health
