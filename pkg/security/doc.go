/*
Package security provides secret sealing and provider TLS support for Trellis.

Two concerns live here: sealing sensitive job fields (the notification
e-mail address) with AES-256-GCM before they are persisted, and loading
TLS client keypairs for providers registered with certificate auth.

# Secret Sealing

A SecretsManager derives its 32-byte key from the configured password
via SHA-256 and seals values with AES-256-GCM, prepending a fresh nonce
per call. SealString/OpenString wrap the raw routines with URL-safe
base64 so sealed values embed directly in stored JSON documents:

	sm, err := security.NewSecretsManagerFromPassword(cfg.SecretKey)
	if err != nil {
		return err
	}
	sealed, err := sm.SealString(job.NotificationEmail)

When no secret key is configured, sealing is off and addresses persist
in the clear; the engine decides that, not this package.

# Provider Client Certificates

Providers registered with auth mode "cert" present a client keypair on
every request. ClientTLSConfig loads the keypair (and optional CA
bundle) into a tls.Config suitable for an http.Transport:

	cfg, err := security.ClientTLSConfig(certPath, keyPath, caPath)
	transport := &http.Transport{TLSClientConfig: cfg}

CertExpiresSoon flags keypairs within 30 days of expiry so provider
registration can warn before requests start failing.

# Integration Points

  - pkg/notify: unseals the notification address at send time
  - pkg/engine: seals the address when a job is accepted
  - pkg/provider: builds TLS configs for cert-auth services
*/
package security
