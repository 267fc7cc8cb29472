package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes makes e a pure relay: every path reaches the relay handler,
// and methods the router does not know still get the plain-text 405.
func RegisterRoutes(e *echo.Echo, relay *RelayHandler) {
	e.HTTPErrorHandler = relayErrorHandler(e.DefaultHTTPErrorHandler)

	e.Any("/", relay.Handle)
	e.Any("/*", relay.Handle)
}

// RegisterAdminRoutes wires the health endpoints onto the admin listener.
func RegisterAdminRoutes(e *echo.Echo, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)
}

// relayErrorHandler answers the router's own 405 (methods outside the set
// registered by Any) with the same body the relay handler uses.
func relayErrorHandler(next echo.HTTPErrorHandler) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusMethodNotAllowed && !c.Response().Committed {
			if werr := c.String(http.StatusMethodNotAllowed, methodNotAllowedBody); werr != nil {
				c.Logger().Error(werr)
			}
			return
		}
		next(err, c)
	}
}
