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

// In-memory fake Redfish service used by the client tests.

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	fakeSystemPath  = "/redfish/v1/Systems/system"
	fakeChassisPath = "/redfish/v1/Chassis/chassis"
	fakeThermalPath = "/redfish/v1/Chassis/chassis/Thermal"
	fakeToken       = "TEST-TOKEN"
	fakeSessionPath = "/redfish/v1/SessionService/Sessions/sess1"
)

type fakeRedfish struct {
	mu sync.Mutex

	user, pass   string
	omitToken    bool
	omitLocation bool
	sessionAlive bool
	logins       int
	deletes      int

	system        map[string]any
	thermal       map[string]any // nil answers 404
	actionStatus  int
	actionMessage string
	resetTypes    []string
}

func newFakeRedfish() *fakeRedfish {
	return &fakeRedfish{
		user: "root",
		pass: "calvin",
		system: map[string]any{
			"@odata.id":  fakeSystemPath,
			"Id":         "system",
			"Name":       "Fake System",
			"PowerState": "On",
			"Status":     map[string]any{"State": "Enabled", "Health": "OK"},
		},
		thermal: map[string]any{
			"Temperatures": []map[string]any{
				{"Name": "CPU1 Temp", "ReadingCelsius": 45, "Status": map[string]any{"State": "Enabled", "Health": "OK"}},
			},
		},
		actionStatus: http.StatusAccepted,
	}
}

func (f *fakeRedfish) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/redfish/v1/" || r.URL.Path == "/redfish/v1" {
		writeJSON(w, http.StatusOK, map[string]any{
			"RedfishVersion": "1.15.0",
			"Systems":        map[string]any{"@odata.id": "/redfish/v1/Systems"},
			"Chassis":        map[string]any{"@odata.id": "/redfish/v1/Chassis"},
		})
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == SessionsPath {
		f.handleLogin(w, r)
		return
	}
	if !f.sessionAlive || r.Header.Get(headerAuthToken) != fakeToken {
		writeError(w, http.StatusUnauthorized, "Base.1.8.NoValidSession", "no valid session")
		return
	}

	switch {
	case r.Method == http.MethodDelete && r.URL.Path == fakeSessionPath:
		f.deletes++
		f.sessionAlive = false
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && r.URL.Path == "/redfish/v1/Systems":
		writeJSON(w, http.StatusOK, map[string]any{"Members": []map[string]any{{"@odata.id": fakeSystemPath}}})
	case r.Method == http.MethodGet && r.URL.Path == "/redfish/v1/Chassis":
		writeJSON(w, http.StatusOK, map[string]any{"Members": []map[string]any{{"@odata.id": fakeChassisPath}}})
	case r.Method == http.MethodGet && r.URL.Path == fakeSystemPath:
		writeJSON(w, http.StatusOK, f.system)
	case r.Method == http.MethodGet && r.URL.Path == fakeChassisPath:
		writeJSON(w, http.StatusOK, map[string]any{
			"Id":      "chassis",
			"Thermal": map[string]any{"@odata.id": fakeThermalPath},
		})
	case r.Method == http.MethodGet && r.URL.Path == fakeThermalPath && f.thermal != nil:
		writeJSON(w, http.StatusOK, f.thermal)
	case r.Method == http.MethodPost && r.URL.Path == fakeSystemPath+"/Actions/ComputerSystem.Reset":
		var body struct {
			ResetType string `json:"ResetType"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Base.1.8.MalformedJSON", "bad json")
			return
		}
		f.resetTypes = append(f.resetTypes, body.ResetType)
		if f.actionStatus >= 300 {
			writeError(w, f.actionStatus, "Base.1.8.ActionNotSupported", f.actionMessage)
			return
		}
		w.WriteHeader(f.actionStatus)
	default:
		writeError(w, http.StatusNotFound, "Base.1.8.ResourceMissingAtURI", "not found")
	}
}

func (f *fakeRedfish) handleLogin(w http.ResponseWriter, r *http.Request) {
	f.logins++
	var body struct {
		UserName string `json:"UserName"`
		Password string `json:"Password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Base.1.8.MalformedJSON", "bad json")
		return
	}
	if body.UserName != f.user || body.Password != f.pass {
		writeError(w, http.StatusUnauthorized, "Base.1.8.InsufficientPrivilege", "invalid credentials")
		return
	}
	f.sessionAlive = true
	if !f.omitToken {
		w.Header().Set(headerAuthToken, fakeToken)
	}
	if !f.omitLocation {
		w.Header().Set("Location", fakeSessionPath)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"Id": "sess1", "UserName": body.UserName})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, id, msg string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    id,
			"message": "An error occurred",
			"@Message.ExtendedInfo": []map[string]any{
				{"MessageId": id, "Message": msg},
			},
		},
	})
}

/***************
 Test helpers
****************/

func newTestCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransport(t *testing.T, endpoint string) *Transport {
	t.Helper()
	tr, err := NewTransport(Config{Endpoint: endpoint, Timeout: 2 * time.Second, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	return tr
}

// openSession starts the fake and returns a transport with an open session.
func openSession(t *testing.T, f *fakeRedfish) (*Transport, *Session) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	tr := newTestTransport(t, srv.URL)
	s, err := NewSessionManager(tr).Open(newTestCtx(t), Credentials{Username: f.user, Password: f.pass})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tr, s
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
