// Package service implements the core relay logic.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"sms-relay/internal/client"
	"sms-relay/internal/config"
	"sms-relay/internal/model"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "sms-relay/1.0"
)

// RelayService forwards request bodies to the upstream Submit endpoint.
type RelayService struct {
	client      *client.SMSClient
	logger      *slog.Logger
	upstreamURL string
}

// NewRelayService creates a RelayService targeting cfg.Upstream.URL.
func NewRelayService(c *client.SMSClient, cfg *config.Config, logger *slog.Logger) (*RelayService, error) {
	u, err := url.Parse(cfg.Upstream.URL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream url %q has no host", cfg.Upstream.URL)
	}

	return &RelayService{
		client:      c,
		logger:      logger.With("component", "relay_service"),
		upstreamURL: u.String(),
	}, nil
}

// UpstreamURL returns the endpoint every relayed body is posted to.
func (s *RelayService) UpstreamURL() string {
	return s.upstreamURL
}

// Relay posts rr.Body to the upstream unchanged and returns the upstream
// status and body, read in full. Non-2xx upstream statuses are not errors.
func (s *RelayService) Relay(ctx context.Context, rr *model.RelayRequest) (*model.RelayResponse, error) {
	// The body carries upstream credentials, so only its size is logged.
	s.logger.Debug("relaying request",
		"bytes_in", len(rr.Body),
		"remote_ip", rr.RemoteIP,
	)

	resp, err := s.client.Post(ctx, s.upstreamURL, upstreamHeader(), bytes.NewReader(rr.Body))
	if err != nil {
		return nil, fmt.Errorf("relay to upstream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	s.logger.Debug("upstream replied",
		"status", resp.StatusCode,
		"bytes_out", len(body),
	)

	return &model.RelayResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// upstreamHeader is the complete header set sent upstream. Nothing from the
// inbound request is forwarded.
func upstreamHeader() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", contentTypeJSON)
	h.Set("User-Agent", userAgent)
	return h
}
