package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthResponse is the health check document: liveness plus a map of
// dependency checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthz reports whether the service can take traffic. The store gets
// a real read probe; a failure degrades the answer to 503.
func (s *Server) healthz(c echo.Context) error {
	checks := make(map[string]string)
	healthy := true
	var message string

	if _, err := s.cfg.Store.ListServices(); err != nil {
		checks["storage"] = "error: " + err.Error()
		healthy = false
		message = "storage not accessible"
	} else {
		checks["storage"] = "ok"
	}

	if s.cfg.Engine != nil {
		checks["engine"] = "ok"
	} else {
		checks["engine"] = "not initialized"
		healthy = false
		if message == "" {
			message = "engine not initialized"
		}
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   s.cfg.Version,
		Checks:    checks,
		Message:   message,
	}
	code := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, response)
}
