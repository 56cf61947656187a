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

package redfish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"shoalprobe/internal/ctxkeys"
	"shoalprobe/internal/metrics"
	"shoalprobe/pkg/redact"
	"shoalprobe/pkg/redfish"
)

const logoutTimeout = 5 * time.Second

// Credentials is a Redfish account login. The password is never logged.
type Credentials struct {
	Username string
	Password string
}

// LogValue implements slog.LogValuer so credentials can be logged safely.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("password", redact.Password(c.Password)),
	)
}

// Session is an authenticated Redfish session. Token and handle are set
// together by SessionManager.Open and cleared by SessionManager.Close; no
// other code mutates them. A Session has a single owner and is not safe for
// concurrent use.
type Session struct {
	transport *Transport
	creds     Credentials
	token     string
	handle    string
	id        string
	userName  string
	closed    bool
}

// BaseAddress is the endpoint the session was opened against.
func (s *Session) BaseAddress() string { return s.transport.Endpoint() }

// Username is the login name used to open the session.
func (s *Session) Username() string { return s.creds.Username }

// Token returns the X-Auth-Token, or "" once closed.
func (s *Session) Token() string { return s.token }

// Handle returns the session resource path captured from Location.
func (s *Session) Handle() string { return s.handle }

// ID is the session resource Id reported in the login body, if any.
func (s *Session) ID() string { return s.id }

// ReportedUserName is the UserName echoed in the login body, if any.
func (s *Session) ReportedUserName() string { return s.userName }

// IsOpen reports whether the session still carries a token.
func (s *Session) IsOpen() bool { return s != nil && !s.closed && s.token != "" }

// SessionManager owns session acquisition and release for one Transport.
type SessionManager struct {
	t *Transport
}

// NewSessionManager returns a manager bound to t.
func NewSessionManager(t *Transport) *SessionManager {
	return &SessionManager{t: t}
}

// Open performs one login exchange. Rejected credentials, a non-success
// status, or a success response without X-Auth-Token all fail with
// ErrAuthenticationFailed; connectivity problems fail with *TransportError.
func (m *SessionManager) Open(ctx context.Context, creds Credentials) (*Session, error) {
	logger := ctxkeys.Logger(ctx, m.t.logger)
	body := redfish.SessionCreateRequest{UserName: creds.Username, Password: creds.Password}
	resp, err := m.t.exchange(ctx, metrics.OpSessionLogin, http.MethodPost, SessionsPath, "", body)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.status) {
		return nil, fmt.Errorf("%w: status=%d %s", ErrAuthenticationFailed, resp.status, redfishMessage(resp.body))
	}

	token := resp.header.Get(headerAuthToken)
	if token == "" {
		return nil, fmt.Errorf("%w: session token not provided", ErrAuthenticationFailed)
	}

	var doc struct {
		ID       string `json:"Id"`
		UserName string `json:"UserName"`
	}
	_ = json.Unmarshal(resp.body, &doc)

	handle := loginHandle(resp.header, resp.body)
	if handle == "" {
		logger.Warn("login returned a token without a session location; session cannot be released",
			"endpoint", m.t.Endpoint(), "token", redact.Token(token))
		return nil, fmt.Errorf("%w: session location not provided", ErrAuthenticationFailed)
	}

	s := &Session{
		transport: m.t,
		creds:     creds,
		token:     token,
		handle:    handle,
		id:        doc.ID,
		userName:  doc.UserName,
	}
	logger.Info("redfish session opened", "endpoint", m.t.Endpoint(), "user", creds.Username, "session", handle)
	return s, nil
}

// Close releases the session resource. Failures are logged, never returned.
// Calling Close on a nil or already closed session is a no-op.
func (m *SessionManager) Close(ctx context.Context, s *Session) {
	if s == nil || s.closed {
		return
	}
	logger := ctxkeys.Logger(ctx, m.t.logger)
	if s.transport != m.t {
		logger.Warn("refusing to close a session owned by another transport", "session", s.handle)
		return
	}

	if s.handle != "" && s.token != "" {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
		resp, err := m.t.exchange(dctx, metrics.OpSessionLogout, http.MethodDelete, s.handle, s.token, nil)
		cancel()
		switch {
		case err != nil:
			logger.Warn("redfish session logout failed", "session", s.handle, "error", err)
		case !isSuccess(resp.status) && resp.status != http.StatusNotFound:
			logger.Warn("redfish session logout rejected", "session", s.handle, "status", resp.status, "message", redfishMessage(resp.body))
		default:
			logger.Info("redfish session closed", "session", s.handle)
		}
	}
	s.closed = true
	s.token = ""
	s.handle = ""
}
