package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"sms-relay/internal/model"
	"sms-relay/internal/service"
)

// methodNotAllowedBody is the exact plain-text body for non-POST requests.
const methodNotAllowedBody = "Method not allowed"

// RelayHandler forwards POST bodies to the upstream SMS API.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Handle relays a POST body upstream and writes back the upstream status and
// body verbatim. Every other method gets a plain-text 405.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	if req.Method != http.MethodPost {
		return c.String(http.StatusMethodNotAllowed, methodNotAllowedBody)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		// BodyLimit reports oversize bodies through an *echo.HTTPError.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		h.logger.Warn("reading request body", "err", err)
		return c.String(http.StatusBadRequest, "could not read request body")
	}

	resp, err := h.service.Relay(req.Context(), &model.RelayRequest{
		Method:   req.Method,
		Body:     body,
		RemoteIP: c.RealIP(),
	})
	if err != nil {
		return h.mapError(c, err)
	}

	setCORS(c)
	return c.Blob(resp.StatusCode, echo.MIMEApplicationJSON, resp.Body)
}

// setCORS allows any origin to read the relayed response.
func setCORS(c echo.Context) {
	c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("relay error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	setCORS(c)

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "upstream request timed out",
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
