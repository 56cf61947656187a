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

package verify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"shoalprobe/internal/clock"
	"shoalprobe/internal/redfish"
)

// scriptedReader returns one power state per call, repeating the last.
type scriptedReader struct {
	mu     sync.Mutex
	clk    clock.Clock
	states []redfish.PowerState
	errAt  int
	err    error
	calls  int
	seen   []time.Time
}

func (r *scriptedReader) Read(ctx context.Context, s *redfish.Session, path string) (redfish.ResourceSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil && r.calls == r.errAt {
		return redfish.ResourceSnapshot{}, r.err
	}
	i := r.calls - 1
	if i >= len(r.states) {
		i = len(r.states) - 1
	}
	now := r.clk.Now()
	r.seen = append(r.seen, now)
	return redfish.ResourceSnapshot{
		Path:       path,
		ID:         "system",
		PowerState: r.states[i],
		Status:     redfish.Status{State: redfish.StateEnabled, Health: redfish.HealthOK},
		ObservedAt: now,
	}, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestVerifyTransition_ReachesAllowedState(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	r := &scriptedReader{clk: fc, states: []redfish.PowerState{redfish.PowerOff, redfish.PowerOff, redfish.PowerPoweringOn}}
	v := NewStateVerifier(r, fc, quietLogger())

	snap, err := v.VerifyTransition(context.Background(), nil, "/redfish/v1/Systems/system", ExpectPowerOn(30*time.Second, 2*time.Second))
	if err != nil {
		t.Fatalf("VerifyTransition: %v", err)
	}
	if snap.PowerState != redfish.PowerPoweringOn {
		t.Fatalf("power state = %q, want PoweringOn", snap.PowerState)
	}
	if r.calls != 3 {
		t.Fatalf("expected 3 polls, got %d", r.calls)
	}
	for i := 1; i < len(r.seen); i++ {
		if !r.seen[i].After(r.seen[i-1]) {
			t.Fatalf("observations not strictly time ordered: %v", r.seen)
		}
	}
}

func TestVerifyTransition_TimeoutCarriesLastSnapshot(t *testing.T) {
	tests := []struct {
		name      string
		timeout   time.Duration
		interval  time.Duration
		wantPolls int
	}{
		{name: "10s every 2s", timeout: 10 * time.Second, interval: 2 * time.Second, wantPolls: 6},
		{name: "10s every 3s", timeout: 10 * time.Second, interval: 3 * time.Second, wantPolls: 5},
		{name: "5s every 1s", timeout: 5 * time.Second, interval: time.Second, wantPolls: 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := clock.NewFake(time.Unix(0, 0))
			r := &scriptedReader{clk: fc, states: []redfish.PowerState{redfish.PowerOff}}
			v := NewStateVerifier(r, fc, quietLogger())

			_, err := v.VerifyTransition(context.Background(), nil, "/redfish/v1/Systems/system", ExpectPowerOn(tt.timeout, tt.interval))
			if !errors.Is(err, ErrTransitionTimeout) {
				t.Fatalf("expected ErrTransitionTimeout, got %v", err)
			}
			var te *TransitionTimeoutError
			if !errors.As(err, &te) {
				t.Fatalf("expected *TransitionTimeoutError, got %T", err)
			}
			if te.Last.PowerState != redfish.PowerOff {
				t.Fatalf("last snapshot power state = %q", te.Last.PowerState)
			}
			if te.Polls != tt.wantPolls || r.calls != tt.wantPolls {
				t.Fatalf("polls = %d (reader saw %d), want %d", te.Polls, r.calls, tt.wantPolls)
			}
			if te.Elapsed < tt.timeout {
				t.Fatalf("elapsed %v shorter than timeout %v", te.Elapsed, tt.timeout)
			}
		})
	}
}

func TestVerifyTransition_SchemaErrorAborts(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	schemaErr := &redfish.SchemaError{Path: "/redfish/v1/Systems/system", Missing: []string{"PowerState"}}
	r := &scriptedReader{clk: fc, states: []redfish.PowerState{redfish.PowerOff}, errAt: 2, err: schemaErr}
	v := NewStateVerifier(r, fc, quietLogger())

	_, err := v.VerifyTransition(context.Background(), nil, "/redfish/v1/Systems/system", ExpectPowerOn(time.Minute, time.Second))
	if !redfish.IsSchemaError(err) {
		t.Fatalf("expected schema error, got %v", err)
	}
	if r.calls != 2 {
		t.Fatalf("verification must stop at the malformed snapshot, reader calls=%d", r.calls)
	}
}

func TestVerifyTransition_RejectsInvalidExpectation(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	r := &scriptedReader{clk: fc, states: []redfish.PowerState{redfish.PowerOn}}
	v := NewStateVerifier(r, fc, quietLogger())

	tests := []struct {
		name string
		exp  TransitionExpectation
	}{
		{name: "empty allowed set", exp: TransitionExpectation{Timeout: time.Second, PollInterval: time.Second}},
		{name: "negative timeout", exp: ExpectPowerOn(-time.Second, time.Second)},
		{name: "zero interval", exp: ExpectPowerOn(time.Minute, 0)},
		{name: "negative interval", exp: ExpectPowerOn(time.Minute, -time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.VerifyTransition(context.Background(), nil, "/x", tt.exp); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
	if r.calls != 0 {
		t.Fatalf("reader should not be called for an invalid expectation, calls=%d", r.calls)
	}
	if len(fc.Sleeps()) != 0 {
		t.Fatalf("no poll may be scheduled for an invalid expectation")
	}
}

// Power on a system that is already on: the action is accepted and the
// verifier settles on the first read.
func TestPowerOnWhenAlreadyOn(t *testing.T) {
	var mu sync.Mutex
	var resets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == redfish.SessionsPath:
			w.Header().Set("X-Auth-Token", "tok")
			w.Header().Set("Location", redfish.SessionsPath+"/1")
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost && r.URL.Path == "/redfish/v1/Systems/system/Actions/ComputerSystem.Reset":
			var body struct{ ResetType string }
			_ = json.NewDecoder(r.Body).Decode(&body)
			resets = append(resets, body.ResetType)
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodGet && r.URL.Path == "/redfish/v1/Systems/system":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"Id": "system", "PowerState": "On",
				"Status": map[string]any{"State": "Enabled", "Health": "OK"},
			})
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tr, err := redfish.NewTransport(redfish.Config{Endpoint: srv.URL, Timeout: 2 * time.Second, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	ctx := context.Background()
	mgr := redfish.NewSessionManager(tr)
	s, err := mgr.Open(ctx, redfish.Credentials{Username: "root", Password: "calvin"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer mgr.Close(ctx, s)

	out, err := redfish.NewInvoker(tr).Invoke(ctx, s, redfish.PowerReset("/redfish/v1/Systems/system", redfish.ResetOn))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !out.Accepted || out.HTTPStatus != http.StatusAccepted {
		t.Fatalf("unexpected outcome %+v", out)
	}

	fc := clock.NewFake(time.Unix(0, 0))
	v := NewStateVerifier(redfish.NewReader(tr, fc), fc, quietLogger())
	snap, err := v.VerifyTransition(ctx, s, "/redfish/v1/Systems/system", ExpectPowerOn(30*time.Second, time.Second))
	if err != nil {
		t.Fatalf("VerifyTransition: %v", err)
	}
	if snap.PowerState != redfish.PowerOn {
		t.Fatalf("power state = %q", snap.PowerState)
	}
	if len(fc.Sleeps()) != 0 {
		t.Fatalf("expected no waiting when already on, slept %v", fc.Sleeps())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(resets) != 1 || resets[0] != "On" {
		t.Fatalf("unexpected resets %v", resets)
	}
}
