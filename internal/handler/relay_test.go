package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"sms-relay/internal/client"
	"sms-relay/internal/config"
	"sms-relay/internal/service"
)

// newTestRelayHandler builds a RelayHandler that relays to upstreamURL.
func newTestRelayHandler(t *testing.T, upstreamURL string, timeoutSeconds int) *RelayHandler {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			URL:             upstreamURL,
			TimeoutSeconds:  timeoutSeconds,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.NewRelayService(client.NewSMSClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		t.Fatalf("NewRelayService: %v", err)
	}
	return NewRelayHandler(svc, logger)
}

func serve(t *testing.T, h *RelayHandler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	return rec
}

func TestRelayHandler_Handle_RelaysBodyAndStatus(t *testing.T) {
	const payload = `{"to":"123","msg":"hi"}`

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("upstream method = %q, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("upstream Content-Type = %q, want application/json", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != payload {
			t.Errorf("upstream body = %q, want %q", body, payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, upstream.URL, 10)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
	rec := serve(t, h, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", rec.Body.String(), `{"status":"ok"}`)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Content-Type"); v != "application/json" {
		t.Errorf("Content-Type = %q, want %q", v, "application/json")
	}
}

func TestRelayHandler_Handle_InboundContentTypeIgnored(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("upstream Content-Type = %q, want application/json", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "not json at all" {
			t.Errorf("upstream body = %q", body)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, upstream.URL, 10)
	req := httptest.NewRequest(http.MethodPost, "/anything/at/all", strings.NewReader("not json at all"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer caller-token")
	rec := serve(t, h, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRelayHandler_Handle_NonPOSTRejected(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, upstream.URL, 10)

	methods := []string{
		http.MethodGet,
		http.MethodPut,
		http.MethodDelete,
		http.MethodPatch,
		http.MethodOptions,
		http.MethodHead,
	}
	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/", strings.NewReader(`{"to":"123"}`))
			rec := serve(t, h, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
			}
			if method != http.MethodHead && rec.Body.String() != "Method not allowed" {
				t.Errorf("body = %q, want %q", rec.Body.String(), "Method not allowed")
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("Content-Type = %q, want text/plain", ct)
			}
		})
	}

	if n := calls.Load(); n != 0 {
		t.Errorf("upstream called %d times, want 0", n)
	}
}

func TestRelayHandler_Handle_EmptyBodyRelaysUpstreamError(t *testing.T) {
	const upstreamErr = `{"ResponseStatus":{"ErrorCode":"ArgumentNullException","Message":"Value cannot be null."}}`

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(body) != 0 {
			t.Errorf("upstream body = %q, want empty", body)
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(upstreamErr))
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, upstream.URL, 10)
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	rec := serve(t, h, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if rec.Body.String() != upstreamErr {
		t.Errorf("body = %q, want %q", rec.Body.String(), upstreamErr)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestRelayHandler_Handle_UpstreamHeadersNotForwarded(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Access-Control-Allow-Origin", "https://only.example.com")
		w.Header().Set("Set-Cookie", "session=abc")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("<html>down</html>"))
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, upstream.URL, 10)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	rec := serve(t, h, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if rec.Body.String() != "<html>down</html>" {
		t.Errorf("body = %q, want upstream body verbatim", rec.Body.String())
	}
	if v := rec.Header().Get("Content-Type"); v != "application/json" {
		t.Errorf("Content-Type = %q, want %q", v, "application/json")
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Set-Cookie"); v != "" {
		t.Errorf("Set-Cookie = %q, want stripped", v)
	}
}

func TestRelayHandler_Handle_BinaryBodyRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0xff, '{', 0x80, '\n', 0xfe}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, upstream.URL, 10)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(payload)))
	rec := serve(t, h, req)

	if got := rec.Body.Bytes(); string(got) != string(payload) {
		t.Errorf("body = %v, want %v", got, payload)
	}
}

func TestRelayHandler_Handle_UpstreamTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, upstream.URL, 1)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	rec := serve(t, h, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusGatewayTimeout)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected non-empty error message in response")
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestRelayHandler_Handle_UpstreamUnreachable(t *testing.T) {
	h := newTestRelayHandler(t, "http://127.0.0.1:1/Submit", 2)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	rec := serve(t, h, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestRelayHandler_Handle_CanceledContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, upstream.URL, 30)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	req = req.WithContext(ctx)
	rec := serve(t, h, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestRelayHandler_Handle_BodyLimit(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, upstream.URL, 10)
	e := echo.New()
	e.Use(echomw.BodyLimit("8B"))
	e.Any("/*", h.Handle)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"to":"123","msg":"too long"}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("upstream called %d times, want 0", n)
	}
}

func TestRelayHandler_mapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "deadline exceeded",
			err:        fmt.Errorf("relay to upstream: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
			wantError:  "upstream request timed out",
		},
		{
			name:       "canceled",
			err:        fmt.Errorf("relay to upstream: %w", context.Canceled),
			wantStatus: http.StatusBadGateway,
			wantError:  "client disconnected",
		},
		{
			name:       "dns failure",
			err:        fmt.Errorf("relay to upstream: %w", &net.DNSError{Err: "no such host", Name: "smsapi.nac.com.tr"}),
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream host unreachable",
		},
		{
			name:       "connection refused",
			err:        fmt.Errorf("relay to upstream: %w", &url.Error{Op: "Post", URL: config.DefaultUpstreamURL, Err: errors.New("connection refused")}),
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream connection failed",
		},
		{
			name:       "other",
			err:        errors.New("read upstream body: unexpected EOF"),
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream request failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			h := &RelayHandler{logger: logger}

			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.mapError(c, tt.err); err != nil {
				t.Fatalf("mapError() returned error: %v", err)
			}

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
			if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
			}
		})
	}
}
