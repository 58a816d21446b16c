package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trellisproc/trellis/pkg/engine"
	"github.com/trellisproc/trellis/pkg/staging"
	"github.com/trellisproc/trellis/pkg/types"
	"github.com/trellisproc/trellis/pkg/wps"
)

// errorBody is the JSON error envelope every non-2xx response carries
type errorBody struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// fail maps an error onto its HTTP status and error body. Every handler
// funnels errors through here so the taxonomy is applied in one place.
func fail(c echo.Context, err error) error {
	status, body := classify(err)
	return c.JSON(status, body)
}

func classify(err error) (int, errorBody) {
	switch {
	case errors.Is(err, types.ErrProcessNotFound):
		return http.StatusNotFound, errorBody{Code: "ProcessNotFound", Description: err.Error()}
	case errors.Is(err, types.ErrPackageNotFound):
		return http.StatusNotFound, errorBody{Code: "PackageNotFound", Description: err.Error()}
	case errors.Is(err, types.ErrPayloadNotFound):
		return http.StatusNotFound, errorBody{Code: "PayloadNotFound", Description: err.Error()}
	case errors.Is(err, types.ErrJobNotFound):
		return http.StatusNotFound, errorBody{Code: "JobNotFound", Description: err.Error()}
	case errors.Is(err, types.ErrServiceNotFound):
		return http.StatusNotFound, errorBody{Code: "ServiceNotFound", Description: err.Error()}
	case errors.Is(err, types.ErrAccessTokenNotFound):
		return http.StatusUnauthorized, errorBody{Code: "AccessTokenNotFound", Description: err.Error()}
	case errors.Is(err, types.ErrNotImplemented):
		return http.StatusNotImplemented, errorBody{Code: "NotImplemented", Description: err.Error()}
	case errors.Is(err, engine.ErrJobFinished):
		return http.StatusGone, errorBody{Code: "JobGone", Description: err.Error()}
	}

	var regErr *types.PackageRegistrationError
	if errors.As(err, &regErr) {
		return http.StatusBadRequest, errorBody{Code: "PackageRegistrationError", Description: err.Error()}
	}
	var typeErr *types.PackageTypeError
	if errors.As(err, &typeErr) {
		return http.StatusBadRequest, errorBody{Code: "PackageTypeError", Description: err.Error()}
	}
	var svcErr *types.ServiceRegistrationError
	if errors.As(err, &svcErr) {
		return http.StatusConflict, errorBody{Code: "ServiceRegistrationError", Description: err.Error()}
	}
	var hdrErr *staging.InvalidHeaderError
	if errors.As(err, &hdrErr) {
		return http.StatusUnprocessableEntity, errorBody{Code: hdrErr.Code(), Description: err.Error()}
	}
	var kvpErr *wps.KVPError
	if errors.As(err, &kvpErr) {
		return http.StatusBadRequest, errorBody{Code: kvpErr.Code, Description: kvpErr.Message}
	}
	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		return echoErr.Code, errorBody{Code: http.StatusText(echoErr.Code), Description: errText(echoErr)}
	}

	return http.StatusInternalServerError, errorBody{Code: "NoApplicableCode", Description: err.Error()}
}

func errText(err *echo.HTTPError) string {
	if msg, ok := err.Message.(string); ok {
		return msg
	}
	return err.Error()
}

// badRequest builds a 400 with an explicit code
func badRequest(c echo.Context, code, description string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Code: code, Description: description})
}
