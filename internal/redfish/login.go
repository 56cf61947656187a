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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"shoalprobe/internal/ctxkeys"
	"shoalprobe/internal/metrics"
	"shoalprobe/pkg/redfish"
)

// LoginResponse is the raw result of one login exchange, kept unparsed so a
// caller can look for lockout indicators in any part of it.
type LoginResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// Text returns the human-readable messages of the response for phrase
// matching. For a Redfish error body that is every @Message.ExtendedInfo
// Message and error.message; MessageIds and codes are left out. A body that
// is not JSON is returned as is.
func (r LoginResponse) Text() string {
	body := bytes.TrimSpace(r.Body)
	if len(body) == 0 {
		return ""
	}
	var er struct {
		Error struct {
			Message      string `json:"message"`
			ExtendedInfo []struct {
				Message string `json:"Message"`
			} `json:"@Message.ExtendedInfo"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &er); err != nil {
		return truncate(string(body), 512)
	}
	var parts []string
	for _, m := range er.Error.ExtendedInfo {
		if m.Message != "" {
			parts = append(parts, m.Message)
		}
	}
	if er.Error.Message != "" {
		parts = append(parts, er.Error.Message)
	}
	return strings.Join(parts, "\n")
}

// TryLogin performs one login exchange and returns the raw response without
// creating a Session. If the credentials are unexpectedly accepted, the
// session the service created is released before returning. Only transport
// failures are returned as errors.
func (m *SessionManager) TryLogin(ctx context.Context, creds Credentials) (LoginResponse, error) {
	body := redfish.SessionCreateRequest{UserName: creds.Username, Password: creds.Password}
	resp, err := m.t.exchange(ctx, metrics.OpLockoutAttempt, http.MethodPost, SessionsPath, "", body)
	if err != nil {
		return LoginResponse{}, err
	}
	out := LoginResponse{Status: resp.status, Header: resp.header, Body: resp.body}

	if isSuccess(resp.status) {
		token := resp.header.Get(headerAuthToken)
		handle := loginHandle(resp.header, resp.body)
		ctxkeys.Logger(ctx, m.t.logger).Warn("login unexpectedly accepted; releasing session",
			"user", creds.Username, "session", handle)
		if token != "" && handle != "" {
			m.Close(ctx, &Session{transport: m.t, creds: creds, token: token, handle: handle})
		}
	}
	return out, nil
}
