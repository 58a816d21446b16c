package health

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPChecker_HealthyEndpoint(t *testing.T) {
	// Test server that answers GetCapabilities
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<wps:Capabilities xmlns:wps="http://www.opengis.net/wps/1.0.0"/>`))
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL + "?service=WPS&request=GetCapabilities")

	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Errorf("Expected healthy, got unhealthy: %s", result.Message)
	}
	if result.Duration <= 0 {
		t.Error("Expected positive duration")
	}
}

func TestHTTPChecker_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("error"))
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL)

	result := checker.Check(context.Background())
	if result.Healthy {
		t.Errorf("Expected unhealthy, got healthy: %s", result.Message)
	}
}

func TestHTTPChecker_ExceptionReport(t *testing.T) {
	// A 200 carrying an exception report still fails the probe
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<ows:ExceptionReport xmlns:ows="http://www.opengis.net/ows/1.1" version="1.0.0">
  <ows:Exception exceptionCode="NoApplicableCode">
    <ows:ExceptionText>Service is not configured</ows:ExceptionText>
  </ows:Exception>
</ows:ExceptionReport>`))
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL)

	result := checker.Check(context.Background())
	if result.Healthy {
		t.Errorf("Expected unhealthy for exception report, got healthy: %s", result.Message)
	}
	if !strings.Contains(result.Message, "Service is not configured") {
		t.Errorf("Expected exception text in message, got: %s", result.Message)
	}
}

func TestHTTPChecker_CustomHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL).WithHeader("Authorization", "Bearer test-token")

	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Errorf("Expected healthy with auth header, got unhealthy: %s", result.Message)
	}
}

func TestHTTPChecker_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL).WithTimeout(50 * time.Millisecond)

	result := checker.Check(context.Background())
	if result.Healthy {
		t.Errorf("Expected unhealthy due to timeout, got healthy: %s", result.Message)
	}
}

func TestHTTPChecker_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := checker.Check(ctx)
	if result.Healthy {
		t.Errorf("Expected unhealthy due to cancelled context, got healthy: %s", result.Message)
	}
}

func TestHTTPChecker_Type(t *testing.T) {
	checker := NewHTTPChecker("http://example.com")
	if checker.Type() != CheckTypeHTTP {
		t.Errorf("Expected type %s, got %s", CheckTypeHTTP, checker.Type())
	}
}

func TestHTTPChecker_TLS(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// Without trusting the server certificate the probe fails
	checker := NewHTTPChecker(server.URL)
	if result := checker.Check(context.Background()); result.Healthy {
		t.Errorf("Expected unhealthy for untrusted certificate, got healthy: %s", result.Message)
	}

	// With a TLS config trusting it the probe succeeds
	checker = NewHTTPChecker(server.URL).WithTLSConfig(&tls.Config{InsecureSkipVerify: true})
	if result := checker.Check(context.Background()); !result.Healthy {
		t.Errorf("Expected healthy with trusting TLS config, got unhealthy: %s", result.Message)
	}
}

func TestStatus_Update(t *testing.T) {
	config := DefaultConfig()
	status := NewStatus()

	if !status.Healthy {
		t.Error("new status should assume healthy")
	}

	fail := Result{Healthy: false, CheckedAt: time.Now()}

	// Stays healthy until the retry threshold
	for i := 0; i < config.Retries-1; i++ {
		status.Update(fail, config)
	}
	if !status.Healthy {
		t.Errorf("should stay healthy below %d consecutive failures", config.Retries)
	}

	status.Update(fail, config)
	if status.Healthy {
		t.Errorf("should be unhealthy after %d consecutive failures", config.Retries)
	}

	// One success recovers
	status.Update(Result{Healthy: true, CheckedAt: time.Now()}, config)
	if !status.Healthy {
		t.Error("should be healthy after a successful check")
	}
	if status.ConsecutiveFailures != 0 {
		t.Errorf("failure counter should reset, got %d", status.ConsecutiveFailures)
	}
}
