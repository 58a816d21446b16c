package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trellisproc/trellis/pkg/metrics"
	"github.com/trellisproc/trellis/pkg/types"
)

// userIDKey carries the authenticated token owner through the request
const userIDKey = "trellis.user_id"

// bearerAuth guards mutating routes. With auth disabled it only lifts
// the user id out of a token when one is offered; with auth enabled a
// missing, unknown or expired token is a 401.
func (s *Server) bearerAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if raw == "" {
			if !s.cfg.AuthRequired {
				return next(c)
			}
			return fail(c, fmt.Errorf("%w: no bearer token presented", types.ErrAccessTokenNotFound))
		}

		token, err := s.cfg.Store.GetToken(raw)
		if err != nil {
			if !s.cfg.AuthRequired {
				return next(c)
			}
			return fail(c, err)
		}
		if token.Expired() {
			if !s.cfg.AuthRequired {
				return next(c)
			}
			return fail(c, fmt.Errorf("%w: token expired", types.ErrAccessTokenNotFound))
		}

		c.Set(userIDKey, token.UserID)
		return next(c)
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// userID returns the authenticated user for the request, empty when
// the request carried no usable token
func userID(c echo.Context) string {
	if v, ok := c.Get(userIDKey).(string); ok {
		return v
	}
	return ""
}

// measureRequests records every request in the API counters
func measureRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		timer := metrics.NewTimer()
		err := next(c)
		status := c.Response().Status

		metrics.APIRequestsTotal.WithLabelValues(c.Request().Method, strconv.Itoa(status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, c.Request().Method)
		return err
	}
}

// requestLogger writes one structured line per request
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		req := c.Request()
		event := s.log.Info()
		if status := c.Response().Status; status >= 500 {
			event = s.log.Error()
		}
		event.
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", c.Response().Status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
		return err
	}
}
