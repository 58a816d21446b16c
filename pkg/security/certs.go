package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"
)

// Certificate expiry warning threshold: warn when less than 30 days remaining
const certExpiryThreshold = 30 * 24 * time.Hour

// LoadClientCert loads a TLS client keypair for a cert-auth provider
func LoadClientCert(certPath, keyPath string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	// Parse certificate to populate Leaf field
	if cert.Leaf == nil {
		x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		cert.Leaf = x509Cert
	}

	return &cert, nil
}

// LoadCAPool loads a PEM bundle of trusted roots for provider endpoints
func LoadCAPool(caPath string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in CA bundle %s", caPath)
	}

	return pool, nil
}

// ClientTLSConfig builds the TLS configuration for talking to a provider
// that authenticates clients by certificate. caPath may be empty, in which
// case the system roots apply.
func ClientTLSConfig(certPath, keyPath, caPath string) (*tls.Config, error) {
	cert, err := LoadClientCert(certPath, keyPath)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}

	if caPath != "" {
		pool, err := LoadCAPool(caPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// CertExpiresSoon returns true when less than 30 days remain until expiry
func CertExpiresSoon(cert *x509.Certificate) bool {
	if cert == nil {
		return true
	}

	return time.Until(cert.NotAfter) < certExpiryThreshold
}

// CertExpiry returns the expiry time of the certificate
func CertExpiry(cert *x509.Certificate) time.Time {
	if cert == nil {
		return time.Time{}
	}
	return cert.NotAfter
}
