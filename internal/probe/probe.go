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

// Package probe runs the Redfish conformance checks against one BMC and
// collects the outcomes in a Report.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"shoalprobe/internal/clock"
	"shoalprobe/internal/config"
	"shoalprobe/internal/ctxkeys"
	"shoalprobe/internal/lockout"
	"shoalprobe/internal/redfish"
	"shoalprobe/internal/verify"
	"shoalprobe/pkg/redact"
)

// Options carries runtime dependencies. All fields are optional.
type Options struct {
	Clock      clock.Clock
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// Runner executes the check sequence. Checks that need a session share one;
// the lockout check runs last, after that session is closed, because a
// positive verdict leaves its account locked.
type Runner struct {
	cfg      config.Config
	rfCfg    redfish.Config
	clk      clock.Clock
	logger   *slog.Logger
	sessions *redfish.SessionManager
	reader   *redfish.Reader
	invoker  *redfish.Invoker
	verifier *verify.StateVerifier
	endpoint string
}

// NewRunner builds the Redfish components for cfg.
func NewRunner(cfg config.Config, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rfCfg := redfish.Config{
		Endpoint:    cfg.Target.Endpoint,
		InsecureTLS: cfg.Target.InsecureTLS,
		Timeout:     cfg.Target.Timeout,
		Vendor:      cfg.Target.Vendor,
		Logger:      logger,
		HTTPClient:  opts.HTTPClient,
	}
	t, err := redfish.NewTransport(rfCfg)
	if err != nil {
		return nil, err
	}
	reader := redfish.NewReader(t, clk)
	return &Runner{
		cfg:      cfg,
		rfCfg:    rfCfg,
		clk:      clk,
		logger:   logger,
		sessions: redfish.NewSessionManager(t),
		reader:   reader,
		invoker:  redfish.NewInvoker(t),
		verifier: verify.NewStateVerifier(reader, clk, logger),
		endpoint: redact.URL(t.Endpoint()),
	}, nil
}

// Run executes every check and returns the report. It never returns early:
// a check whose prerequisite failed is recorded as skipped.
func (r *Runner) Run(ctx context.Context) *Report {
	ctx, cid := ctxkeys.EnsureCorrelationID(ctx)
	logger := ctxkeys.Logger(ctx, r.logger)
	rep := &Report{CorrelationID: cid, Target: r.endpoint, Started: r.clk.Now()}
	logger.Info("probe started", "target", rep.Target)

	r.checkServiceRoot(ctx, rep)

	sess := r.checkLogin(ctx, rep)
	if sess == nil {
		for _, name := range []string{CheckSystemRead, CheckPowerOn, CheckThermal, CheckConsistency} {
			rep.add(name, Skip, 0, "no session")
		}
	} else {
		paths, discoverErr := r.resolvePaths(ctx, sess)
		system, systemOK := r.checkSystem(ctx, rep, sess, paths.SystemPath, discoverErr)
		r.checkPowerOn(ctx, rep, sess, paths.SystemPath, systemOK)
		sensors, thermalOK := r.checkThermal(ctx, rep, sess, paths.ThermalPath)
		r.checkConsistency(rep, system, systemOK, sensors, thermalOK)
		r.sessions.Close(ctx, sess)
	}

	r.checkLockout(ctx, rep)

	logger.Info("probe finished",
		"passed", rep.Count(Pass),
		"failed", rep.Count(Fail),
		"warnings", rep.Count(Warn),
		"skipped", rep.Count(Skip))
	return rep
}

func (r *Runner) checkServiceRoot(ctx context.Context, rep *Report) {
	start := r.clk.Now()
	root, err := r.reader.ReadServiceRoot(ctx)
	if err != nil {
		rep.add(CheckServiceRoot, Fail, r.since(start), "%v", err)
		return
	}
	rep.add(CheckServiceRoot, Pass, r.since(start), "RedfishVersion %s", root.RedfishVersion)
}

func (r *Runner) checkLogin(ctx context.Context, rep *Report) *redfish.Session {
	start := r.clk.Now()
	creds := redfish.Credentials{Username: r.cfg.Target.Username, Password: r.cfg.Target.Password}
	sess, err := r.sessions.Open(ctx, creds)
	if err != nil {
		rep.add(CheckLogin, Fail, r.since(start), "%v", err)
		return nil
	}
	rep.add(CheckLogin, Pass, r.since(start), "session %s", sess.Handle())
	return sess
}

// resolvePaths fills unset paths by discovery. Configured paths always win.
func (r *Runner) resolvePaths(ctx context.Context, sess *redfish.Session) (redfish.Discovery, error) {
	paths := redfish.Discovery{
		SystemPath:  r.cfg.Paths.System,
		ChassisPath: r.cfg.Paths.Chassis,
		ThermalPath: r.cfg.Paths.Thermal,
	}
	if paths.ThermalPath == "" && paths.ChassisPath != "" {
		paths.ThermalPath = strings.TrimSuffix(paths.ChassisPath, "/") + "/Thermal"
	}
	if paths.SystemPath != "" && paths.ThermalPath != "" {
		return paths, nil
	}
	found, err := r.reader.Discover(ctx, sess)
	if err != nil {
		ctxkeys.Logger(ctx, r.logger).Warn("resource discovery failed", "error", err)
	}
	if paths.SystemPath == "" {
		paths.SystemPath = found.SystemPath
	}
	if paths.ChassisPath == "" {
		paths.ChassisPath = found.ChassisPath
	}
	if paths.ThermalPath == "" {
		paths.ThermalPath = found.ThermalPath
	}
	return paths, err
}

func (r *Runner) checkSystem(ctx context.Context, rep *Report, sess *redfish.Session, path string, discoverErr error) (redfish.ResourceSnapshot, bool) {
	if path == "" {
		rep.add(CheckSystemRead, Fail, 0, "no ComputerSystem path: %v", discoverErr)
		return redfish.ResourceSnapshot{}, false
	}
	start := r.clk.Now()
	snap, err := r.reader.Read(ctx, sess, path)
	if err != nil {
		rep.add(CheckSystemRead, Fail, r.since(start), "%v", err)
		return redfish.ResourceSnapshot{}, false
	}
	rep.add(CheckSystemRead, Pass, r.since(start), "%s PowerState=%s Health=%s", path, snap.PowerState, snap.Status.Health)
	return snap, true
}

func (r *Runner) checkPowerOn(ctx context.Context, rep *Report, sess *redfish.Session, path string, systemOK bool) {
	if !r.cfg.Transition.Enabled {
		rep.add(CheckPowerOn, Skip, 0, "power check disabled")
		return
	}
	if !systemOK {
		rep.add(CheckPowerOn, Skip, 0, "system unreadable")
		return
	}
	allowed, err := r.cfg.AllowedPowerStates()
	if err != nil {
		rep.add(CheckPowerOn, Fail, 0, "%v", err)
		return
	}

	start := r.clk.Now()
	out, err := r.invoker.Invoke(ctx, sess, redfish.PowerReset(path, redfish.ResetOn))
	if err != nil {
		rep.add(CheckPowerOn, Fail, r.since(start), "reset: %v", err)
		return
	}
	if !out.Accepted {
		rep.add(CheckPowerOn, Fail, r.since(start), "reset rejected with HTTP %d: %s", out.HTTPStatus, out.ErrorDetail)
		return
	}

	exp := verify.TransitionExpectation{
		AllowedStates: allowed,
		Timeout:       r.cfg.Transition.Timeout,
		PollInterval:  r.cfg.Transition.PollInterval,
	}
	snap, err := r.verifier.VerifyTransition(ctx, sess, path, exp)
	if err != nil {
		rep.add(CheckPowerOn, Fail, r.since(start), "%v", err)
		return
	}
	rep.add(CheckPowerOn, Pass, r.since(start), "reset accepted with HTTP %d, PowerState=%s", out.HTTPStatus, snap.PowerState)
}

func (r *Runner) checkThermal(ctx context.Context, rep *Report, sess *redfish.Session, path string) ([]redfish.SensorReading, bool) {
	if path == "" {
		rep.add(CheckThermal, Skip, 0, "no Thermal resource linked")
		return nil, false
	}
	start := r.clk.Now()
	sensors, err := r.reader.ReadThermal(ctx, sess, path)
	switch {
	case errors.Is(err, redfish.ErrNotFound):
		rep.add(CheckThermal, Skip, r.since(start), "thermal not supported: %s", path)
		return nil, false
	case err != nil:
		rep.add(CheckThermal, Fail, r.since(start), "%v", err)
		return nil, false
	}
	rep.add(CheckThermal, Pass, r.since(start), "%d temperature sensors", len(sensors))
	return sensors, true
}

func (r *Runner) checkConsistency(rep *Report, system redfish.ResourceSnapshot, systemOK bool, sensors []redfish.SensorReading, thermalOK bool) {
	if !systemOK || !thermalOK {
		rep.add(CheckConsistency, Skip, 0, "system or thermal data unavailable")
		return
	}
	checker := verify.ConsistencyChecker{
		MinCelsius: r.cfg.Sensors.MinCelsius,
		MaxCelsius: r.cfg.Sensors.MaxCelsius,
		NameFilter: r.cfg.Sensors.Filter,
	}
	findings := checker.Check(system, sensors)
	if len(findings) == 0 {
		rep.add(CheckConsistency, Pass, 0, "no inconsistencies")
		return
	}
	// A health disagreement alone is a warning; impossible readings fail.
	outcome := Warn
	details := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.Kind != verify.HealthDisagreement {
			outcome = Fail
		}
		details = append(details, f.String())
	}
	rep.add(CheckConsistency, outcome, 0, "%s", strings.Join(details, "; "))
}

func (r *Runner) checkLockout(ctx context.Context, rep *Report) {
	if !r.cfg.Lockout.Enabled {
		rep.add(CheckLockout, Skip, 0, "lockout check disabled")
		return
	}
	start := r.clk.Now()
	d, err := lockout.NewDetector(lockout.Config{
		Username:      r.cfg.Lockout.Username,
		WrongPassword: r.cfg.Lockout.WrongPassword,
		AttemptBound:  r.cfg.Lockout.Attempts,
		Delay:         r.cfg.Lockout.Delay,
		Indicator:     lockout.PhraseIndicator(r.cfg.Lockout.Phrases...),
		Clock:         r.clk,
		Logger:        r.logger,
	}, lockout.RedfishProbers(r.rfCfg))
	if err != nil {
		rep.add(CheckLockout, Fail, 0, "%v", err)
		return
	}
	v, err := d.Run(ctx)
	if err != nil {
		rep.add(CheckLockout, Fail, r.since(start), "%v after %d attempts", err, len(v.Attempts))
		return
	}
	switch v.State {
	case lockout.LockedConfirmed:
		rep.add(CheckLockout, Pass, r.since(start), "account %s locked at attempt %d", r.cfg.Lockout.Username, v.LockedAt)
	case lockout.Exhausted:
		rep.add(CheckLockout, Warn, r.since(start), "no lockout indicator within %d attempts", len(v.Attempts))
	default:
		rep.add(CheckLockout, Fail, r.since(start), "%s: every attempt failed at the transport level", v.State)
	}
}

func (r *Runner) since(start time.Time) time.Duration {
	return r.clk.Now().Sub(start)
}
