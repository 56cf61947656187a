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

package bmcsim

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"shoalprobe/internal/clock"
	"shoalprobe/internal/database"
	"shoalprobe/internal/lockout"
	"shoalprobe/internal/metrics"
	"shoalprobe/internal/redfish"
	"shoalprobe/internal/verify"
	"shoalprobe/pkg/models"
)

type testBMC struct {
	sim   *Server
	srv   *httptest.Server
	clock *clock.Fake
	tr    *redfish.Transport
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestBMC(t *testing.T, mutate func(*Config)) *testBMC {
	t.Helper()
	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	fc := clock.NewFake(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	cfg := DefaultConfig()
	cfg.Clock = fc
	cfg.Logger = quietLogger()
	cfg.BcryptCost = bcrypt.MinCost
	if mutate != nil {
		mutate(&cfg)
	}
	ctx := context.Background()
	sim, err := New(ctx, cfg, db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sim.AddAccount(ctx, "root", "calvin", models.RoleAdministrator); err != nil {
		t.Fatalf("AddAccount root: %v", err)
	}
	if err := sim.AddAccount(ctx, "viewer", "viewer-pass", models.RoleReadOnly); err != nil {
		t.Fatalf("AddAccount viewer: %v", err)
	}

	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)
	tr, err := redfish.NewTransport(redfish.Config{Endpoint: srv.URL, Timeout: 5 * time.Second, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	return &testBMC{sim: sim, srv: srv, clock: fc, tr: tr}
}

func (b *testBMC) open(t *testing.T, user, pass string) *redfish.Session {
	t.Helper()
	s, err := redfish.NewSessionManager(b.tr).Open(context.Background(), redfish.Credentials{Username: user, Password: pass})
	if err != nil {
		t.Fatalf("Open(%s): %v", user, err)
	}
	return s
}

func TestSim_SessionLifecycleAndSystemRead(t *testing.T) {
	b := newTestBMC(t, nil)
	ctx := context.Background()
	s := b.open(t, "root", "calvin")
	if s.Token() == "" || !strings.HasPrefix(s.Handle(), sessionsPath+"/") {
		t.Fatalf("unexpected session token=%q handle=%q", s.Token(), s.Handle())
	}
	if s.ReportedUserName() != "root" {
		t.Fatalf("session UserName = %q", s.ReportedUserName())
	}

	snap, err := redfish.NewReader(b.tr, b.clock).Read(ctx, s, "/redfish/v1/Systems/system")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if snap.PowerState != redfish.PowerOn || snap.Status.State != redfish.StateEnabled || snap.Status.Health != redfish.HealthOK {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	redfish.NewSessionManager(b.tr).Close(ctx, s)
	sessions, err := b.sim.db.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected session to be deleted, %d remain", len(sessions))
	}
}

func TestSim_Discover(t *testing.T) {
	b := newTestBMC(t, nil)
	s := b.open(t, "root", "calvin")
	d, err := redfish.NewReader(b.tr, nil).Discover(context.Background(), s)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if d.SystemPath != "/redfish/v1/Systems/system" || d.ChassisPath != "/redfish/v1/Chassis/chassis" || d.ThermalPath != "/redfish/v1/Chassis/chassis/Thermal" {
		t.Fatalf("unexpected discovery %+v", d)
	}
}

func TestSim_PowerOnTransitionSettlesOnVirtualClock(t *testing.T) {
	b := newTestBMC(t, func(c *Config) {
		c.InitialPowerState = "Off"
		c.TransitionDelay = 6 * time.Second
	})
	ctx := context.Background()
	s := b.open(t, "root", "calvin")

	out, err := redfish.NewInvoker(b.tr).Invoke(ctx, s, redfish.PowerReset("/redfish/v1/Systems/system", redfish.ResetOn))
	if err != nil || !out.Accepted || out.HTTPStatus != http.StatusAccepted {
		t.Fatalf("Invoke = %+v, %v", out, err)
	}

	reader := redfish.NewReader(b.tr, b.clock)
	v := verify.NewStateVerifier(reader, b.clock, quietLogger())

	// Narrow expectation: only On counts, so the verifier waits out PoweringOn.
	exp := verify.TransitionExpectation{
		AllowedStates: []redfish.PowerState{redfish.PowerOn},
		Timeout:       30 * time.Second,
		PollInterval:  2 * time.Second,
	}
	snap, err := v.VerifyTransition(ctx, s, "/redfish/v1/Systems/system", exp)
	if err != nil {
		t.Fatalf("VerifyTransition: %v", err)
	}
	if snap.PowerState != redfish.PowerOn {
		t.Fatalf("power state = %q", snap.PowerState)
	}
	if got := len(b.clock.Sleeps()); got != 3 {
		t.Fatalf("expected 3 poll intervals before On, slept %d times", got)
	}
}

func TestSim_ShortTimeoutReportsTransitionTimeout(t *testing.T) {
	b := newTestBMC(t, func(c *Config) {
		c.InitialPowerState = "Off"
		c.TransitionDelay = time.Minute
	})
	ctx := context.Background()
	s := b.open(t, "root", "calvin")
	if _, err := redfish.NewInvoker(b.tr).Invoke(ctx, s, redfish.PowerReset("/redfish/v1/Systems/system", redfish.ResetOn)); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	v := verify.NewStateVerifier(redfish.NewReader(b.tr, b.clock), b.clock, quietLogger())
	exp := verify.TransitionExpectation{AllowedStates: []redfish.PowerState{redfish.PowerOn}, Timeout: 10 * time.Second, PollInterval: 5 * time.Second}
	_, err := v.VerifyTransition(ctx, s, "/redfish/v1/Systems/system", exp)
	var te *verify.TransitionTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionTimeoutError, got %v", err)
	}
	if te.Last.PowerState != redfish.PowerPoweringOn || te.Polls != 3 {
		t.Fatalf("unexpected timeout detail: last=%q polls=%d", te.Last.PowerState, te.Polls)
	}
}

func TestSim_ResetRequiresOperator(t *testing.T) {
	b := newTestBMC(t, nil)
	s := b.open(t, "viewer", "viewer-pass")
	out, err := redfish.NewInvoker(b.tr).Invoke(context.Background(), s, redfish.PowerReset("/redfish/v1/Systems/system", redfish.ResetForceOff))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Accepted || out.HTTPStatus != http.StatusForbidden || out.ErrorDetail == "" {
		t.Fatalf("expected rejected outcome, got %+v", out)
	}
	if b.sim.PowerState() != "On" || len(b.sim.Resets()) != 0 {
		t.Fatalf("rejected reset must not change state")
	}
}

func TestSim_UnsupportedResetType(t *testing.T) {
	b := newTestBMC(t, nil)
	s := b.open(t, "root", "calvin")
	out, err := redfish.NewInvoker(b.tr).Invoke(context.Background(), s, redfish.PowerReset("/redfish/v1/Systems/system", "Hibernate"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Accepted || out.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("expected 400 outcome, got %+v", out)
	}
}

func TestSim_ThermalConsistency(t *testing.T) {
	b := newTestBMC(t, nil)
	ctx := context.Background()
	s := b.open(t, "root", "calvin")
	reader := redfish.NewReader(b.tr, nil)
	checker := verify.NewConsistencyChecker()

	system, err := reader.Read(ctx, s, "/redfish/v1/Systems/system")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	sensors, err := reader.ReadThermal(ctx, s, "/redfish/v1/Chassis/chassis/Thermal")
	if err != nil {
		t.Fatalf("ReadThermal: %v", err)
	}
	if got := checker.Check(system, sensors); len(got) != 0 {
		t.Fatalf("expected no inconsistencies, got %v", got)
	}

	b.sim.SetSensors([]Sensor{{Name: "CPU1 Temp", Reading: celsius(150), State: "Enabled", Health: "OK"}})
	sensors, err = reader.ReadThermal(ctx, s, "/redfish/v1/Chassis/chassis/Thermal")
	if err != nil {
		t.Fatalf("ReadThermal: %v", err)
	}
	got := checker.Check(system, sensors)
	if len(got) != 1 || got[0].Kind != verify.ReadingOutOfRange {
		t.Fatalf("expected one ReadingOutOfRange, got %v", got)
	}
}

func TestSim_ThermalDisabledIsNotFound(t *testing.T) {
	b := newTestBMC(t, func(c *Config) { c.ThermalEnabled = false })
	s := b.open(t, "root", "calvin")
	_, err := redfish.NewReader(b.tr, nil).ReadThermal(context.Background(), s, "/redfish/v1/Chassis/chassis/Thermal")
	if !errors.Is(err, redfish.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSim_LockoutDetectedOnThirdAttempt(t *testing.T) {
	b := newTestBMC(t, nil)
	d, err := lockout.NewDetector(lockout.Config{
		Username:      "root",
		WrongPassword: "not-calvin",
		AttemptBound:  5,
		Logger:        quietLogger(),
	}, lockout.RedfishProbers(redfish.Config{Endpoint: b.srv.URL, Timeout: 5 * time.Second, Logger: quietLogger()}))
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	v, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.State != lockout.LockedConfirmed || v.LockedAt != 3 {
		t.Fatalf("verdict = %s at %d, want LockedConfirmed at 3", v.State, v.LockedAt)
	}

	// The correct password is refused while the lock holds.
	_, err = redfish.NewSessionManager(b.tr).Open(context.Background(), redfish.Credentials{Username: "root", Password: "calvin"})
	if !errors.Is(err, redfish.ErrAuthenticationFailed) {
		t.Fatalf("expected locked account to refuse login, got %v", err)
	}

	b.clock.Advance(6 * time.Minute)
	b.open(t, "root", "calvin")
}

func TestSim_LockoutDisabledExhausts(t *testing.T) {
	b := newTestBMC(t, func(c *Config) { c.LockoutThreshold = 0 })
	d, err := lockout.NewDetector(lockout.Config{Username: "root", WrongPassword: "x", AttemptBound: 4, Logger: quietLogger()},
		lockout.RedfishProbers(redfish.Config{Endpoint: b.srv.URL, Timeout: 5 * time.Second, Logger: quietLogger()}))
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	v, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.State != lockout.Exhausted || len(v.Attempts) != 4 {
		t.Fatalf("verdict = %s with %d attempts, want Exhausted with 4", v.State, len(v.Attempts))
	}
}

func TestSim_UnauthenticatedAccess(t *testing.T) {
	b := newTestBMC(t, nil)
	resp, err := http.Get(b.srv.URL + "/redfish/v1/Systems/system")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" || resp.Header.Get("OData-Version") != "4.0" {
		t.Fatalf("missing Redfish error headers: %v", resp.Header)
	}
	var body struct {
		Error struct {
			ExtendedInfo []struct {
				MessageID string `json:"MessageId"`
			} `json:"@Message.ExtendedInfo"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Error.ExtendedInfo) != 1 || body.Error.ExtendedInfo[0].MessageID != "Base.1.8.NoValidSession" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestSim_MetricsEndpoint(t *testing.T) {
	metrics.Reset()
	b := newTestBMC(t, nil)
	b.open(t, "root", "calvin")

	resp, err := http.Get(b.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), `shoal_bmcsim_requests_total{code="201",route="_redfish_v1_SessionService_Sessions"} 1`) {
		t.Fatalf("metrics missing login sample:\n%s", data)
	}
}
