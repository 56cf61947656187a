// Shoal Probe is a Redfish conformance prober.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package redfish is a session-authenticated Redfish client. A Transport
// executes HTTP exchanges against one BMC; SessionManager, Reader, and
// Invoker build the session lifecycle, typed resource reads, and actions on
// top of it.
package redfish

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shoalprobe/internal/ctxkeys"
	"shoalprobe/internal/metrics"
)

const (
	// SessionsPath is the Redfish session collection.
	SessionsPath = "/redfish/v1/SessionService/Sessions"
	// ServiceRootPath is the Redfish service root.
	ServiceRootPath = "/redfish/v1/"

	headerAuthToken = "X-Auth-Token"
	defaultTimeout  = 30 * time.Second
	maxBodyBytes    = 4 << 20
)

// Config holds connection details for a Redfish endpoint.
type Config struct {
	// Endpoint is the BMC base URL, e.g., https://10.0.0.5
	Endpoint string
	// InsecureTLS disables certificate verification. Lab use only; it must be
	// requested explicitly.
	InsecureTLS bool
	// Timeout is the per-request timeout.
	Timeout time.Duration
	// Vendor is an optional hint used for metrics labels.
	Vendor string
	// Logger is optional; slog.Default() is used when nil.
	Logger *slog.Logger
	// HTTPClient overrides the client built from the fields above.
	HTTPClient *http.Client
}

// Transport performs raw Redfish exchanges against one endpoint. It holds no
// credentials or tokens; those live in Session values.
type Transport struct {
	cfg     Config
	hc      *http.Client
	baseURL *url.URL
	logger  *slog.Logger
}

// response is one completed HTTP exchange with its body fully read.
type response struct {
	status int
	header http.Header
	body   []byte
}

// NewTransport validates the endpoint and builds the HTTP client.
func NewTransport(cfg Config) (*Transport, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("redfish: endpoint is empty")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("redfish: invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("redfish: unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("redfish: endpoint %q has no host", cfg.Endpoint)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: cfg.InsecureTLS, // lab-only; do not enable in production
					MinVersion:         tls.VersionTLS12,
				},
			},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{cfg: cfg, hc: hc, baseURL: u, logger: logger}, nil
}

// Endpoint returns the base URL this transport talks to.
func (t *Transport) Endpoint() string { return t.baseURL.String() }

func (t *Transport) buildURL(rel string) string {
	if u, err := url.Parse(rel); err == nil && u.IsAbs() {
		return rel
	}
	// rel may already be absolute path like "/redfish/v1/Systems/..." – join with base
	rel = "/" + strings.TrimPrefix(rel, "/")
	u, err := url.JoinPath(t.baseURL.String(), rel)
	if err != nil {
		return strings.TrimRight(t.baseURL.String(), "/") + rel
	}
	if strings.HasSuffix(rel, "/") && !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// exchange executes one request. Network and body-read failures are returned
// as *TransportError; HTTP status handling is left to the caller.
func (t *Transport) exchange(ctx context.Context, op, method, rel, token string, body any) (*response, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request json: %w", err)
		}
		payload = b
	}

	var rdr io.Reader
	if len(payload) > 0 {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.buildURL(rel), rdr)
	if err != nil {
		return nil, &TransportError{Op: op, Method: method, Path: rel, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-Version", "4.0")
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(headerAuthToken, token)
	}

	start := time.Now()
	resp, err := t.hc.Do(req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveRedfishRequest(op, t.cfg.Vendor, -1, duration)
		ctxkeys.Logger(ctx, t.logger).Debug("redfish request failed", "op", op, "method", method, "path", rel, "error", err)
		return nil, &TransportError{Op: op, Method: method, Path: rel, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.ObserveRedfishRequest(op, t.cfg.Vendor, resp.StatusCode, duration)
	if err != nil {
		return nil, &TransportError{Op: op, Method: method, Path: rel, Err: fmt.Errorf("read body: %w", err)}
	}
	ctxkeys.Logger(ctx, t.logger).Debug("redfish request", "op", op, "method", method, "path", rel, "status", resp.StatusCode, "duration", duration)
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// sessionExchange runs an exchange on behalf of s, enforcing that the
// session is open and was minted by this transport.
func (t *Transport) sessionExchange(ctx context.Context, s *Session, op, method, rel string, body any) (*response, error) {
	if err := t.checkSession(s); err != nil {
		return nil, err
	}
	return t.exchange(ctx, op, method, rel, s.token, body)
}

func (t *Transport) checkSession(s *Session) error {
	if s == nil {
		return errors.New("redfish: nil session")
	}
	if s.transport != t {
		return ErrForeignSession
	}
	if s.closed || s.token == "" {
		return ErrSessionClosed
	}
	return nil
}

// -------------------- helpers --------------------

func isSuccess(code int) bool { return code >= 200 && code < 300 }

// redfishMessage extracts a human-readable message from a Redfish error
// body, falling back to the truncated raw body.
func redfishMessage(body []byte) string {
	var er struct {
		Error struct {
			Code         string `json:"code"`
			Message      string `json:"message"`
			ExtendedInfo []struct {
				Message string `json:"Message"`
			} `json:"@Message.ExtendedInfo"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &er); err == nil {
		for _, m := range er.Error.ExtendedInfo {
			if m.Message != "" {
				return m.Message
			}
		}
		if er.Error.Message != "" {
			return er.Error.Message
		}
		if er.Error.Code != "" {
			return er.Error.Code
		}
	}
	return truncate(strings.TrimSpace(string(body)), 512)
}

// sessionHandle normalizes a Location header to a path under the endpoint.
func sessionHandle(loc string) string {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return ""
	}
	if strings.HasPrefix(loc, "/") {
		return loc
	}
	// Some implementations may return a full URL; extract path portion
	if u, err := url.Parse(loc); err == nil && u.Path != "" {
		return u.Path
	}
	return ""
}

// loginHandle finds the session a login created: the Location header, else
// the @odata.id of the response body.
func loginHandle(h http.Header, body []byte) string {
	if handle := sessionHandle(h.Get("Location")); handle != "" {
		return handle
	}
	var doc struct {
		ODataID string `json:"@odata.id"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	return sessionHandle(doc.ODataID)
}

func joinPath(base, rel string) string {
	base = strings.TrimSuffix(base, "/")
	rel = strings.TrimPrefix(rel, "/")
	return base + "/" + rel
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
