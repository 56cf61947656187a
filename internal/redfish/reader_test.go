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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shoalprobe/internal/clock"
)

func TestReader_ReadSystem(t *testing.T) {
	fake := newFakeRedfish()
	tr, s := openSession(t, fake)
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	snap, err := NewReader(tr, clock.NewFake(at)).Read(newTestCtx(t), s, fakeSystemPath)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !snap.PowerState.Valid() {
		t.Fatalf("unexpected power state %q", snap.PowerState)
	}
	if snap.ID != "system" || snap.Name != "Fake System" {
		t.Fatalf("unexpected identity: id=%q name=%q", snap.ID, snap.Name)
	}
	if snap.Status.State != StateEnabled || snap.Status.Health != HealthOK {
		t.Fatalf("unexpected status %+v", snap.Status)
	}
	if !snap.ObservedAt.Equal(at) {
		t.Fatalf("ObservedAt = %v, want %v", snap.ObservedAt, at)
	}
}

func TestReader_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		system  map[string]any
		missing string
	}{
		{
			name:    "missing Id",
			system:  map[string]any{"PowerState": "On", "Status": map[string]any{"State": "Enabled", "Health": "OK"}},
			missing: "Id",
		},
		{
			name:    "missing PowerState",
			system:  map[string]any{"Id": "system", "Status": map[string]any{"State": "Enabled", "Health": "OK"}},
			missing: "PowerState",
		},
		{
			name:    "missing Status",
			system:  map[string]any{"Id": "system", "PowerState": "On"},
			missing: "Status",
		},
		{
			name:    "missing Health",
			system:  map[string]any{"Id": "system", "PowerState": "On", "Status": map[string]any{"State": "Enabled"}},
			missing: "Status.Health",
		},
		{
			name:   "unknown power state",
			system: map[string]any{"Id": "system", "PowerState": "Sleeping", "Status": map[string]any{"State": "Enabled", "Health": "OK"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeRedfish()
			fake.system = tt.system
			tr, s := openSession(t, fake)

			_, err := NewReader(tr, nil).Read(newTestCtx(t), s, fakeSystemPath)
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SchemaError, got %v", err)
			}
			if errors.Is(err, ErrNotFound) {
				t.Fatalf("schema error must not match ErrNotFound")
			}
			if tt.missing != "" {
				found := false
				for _, m := range se.Missing {
					if m == tt.missing {
						found = true
					}
				}
				if !found {
					t.Fatalf("expected %q in missing fields, got %v", tt.missing, se.Missing)
				}
			}
		})
	}
}

func TestReader_UnknownHealthDecodesAsUnknown(t *testing.T) {
	fake := newFakeRedfish()
	fake.system["Status"] = map[string]any{"State": "Enabled", "Health": "Degraded"}
	tr, s := openSession(t, fake)

	snap, err := NewReader(tr, nil).Read(newTestCtx(t), s, fakeSystemPath)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if snap.Status.Health != HealthUnknown {
		t.Fatalf("health = %q, want Unknown", snap.Status.Health)
	}
}

func TestReader_StatusMapping(t *testing.T) {
	fake := newFakeRedfish()
	tr, s := openSession(t, fake)
	r := NewReader(tr, nil)

	if _, err := r.Read(newTestCtx(t), s, "/redfish/v1/Systems/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The service forgets the session; reads must not refresh it.
	fake.mu.Lock()
	fake.sessionAlive = false
	fake.mu.Unlock()
	if _, err := r.Read(newTestCtx(t), s, fakeSystemPath); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if fake.logins != 1 {
		t.Fatalf("expected no re-login, got %d logins", fake.logins)
	}
}

func TestReader_ServerErrorIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set(headerAuthToken, "tok")
			w.Header().Set("Location", "/redfish/v1/SessionService/Sessions/1")
			w.WriteHeader(http.StatusCreated)
			return
		}
		writeError(w, http.StatusInternalServerError, "Base.1.8.InternalError", "controller busy")
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL)
	s, err := NewSessionManager(tr).Open(newTestCtx(t), Credentials{Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = NewReader(tr, nil).Read(newTestCtx(t), s, fakeSystemPath)
	var st *StatusError
	if !errors.As(err, &st) || st.Code != http.StatusInternalServerError || st.Message != "controller busy" {
		t.Fatalf("expected StatusError 500 'controller busy', got %v", err)
	}
}

func TestReader_Thermal(t *testing.T) {
	fake := newFakeRedfish()
	tr, s := openSession(t, fake)
	r := NewReader(tr, nil)

	sensors, err := r.ReadThermal(newTestCtx(t), s, fakeThermalPath)
	if err != nil {
		t.Fatalf("ReadThermal: %v", err)
	}
	if len(sensors) != 1 || sensors[0].Name != "CPU1 Temp" || !sensors[0].HasReading() || *sensors[0].ReadingCelsius != 45 {
		t.Fatalf("unexpected sensors %+v", sensors)
	}

	fake.mu.Lock()
	fake.thermal = map[string]any{"Temperatures": []map[string]any{{"Name": "CPU1 Temp", "ReadingCelsius": 40}}}
	fake.mu.Unlock()
	if _, err := r.ReadThermal(newTestCtx(t), s, fakeThermalPath); !IsSchemaError(err) {
		t.Fatalf("expected schema error for sensor without Status, got %v", err)
	}

	fake.mu.Lock()
	fake.thermal = nil
	fake.mu.Unlock()
	if _, err := r.ReadThermal(newTestCtx(t), s, fakeThermalPath); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for absent thermal, got %v", err)
	}
}

func TestReader_Discover(t *testing.T) {
	fake := newFakeRedfish()
	tr, s := openSession(t, fake)

	d, err := NewReader(tr, nil).Discover(newTestCtx(t), s)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if d.SystemPath != fakeSystemPath || d.ChassisPath != fakeChassisPath || d.ThermalPath != fakeThermalPath {
		t.Fatalf("unexpected discovery %+v", d)
	}
}
