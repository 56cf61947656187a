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

// Package lockout detects whether repeated failed logins lock a Redfish
// account. It drives a bounded sequence of wrong-password attempts and stops
// at the first lockout indicator.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"shoalprobe/internal/clock"
	"shoalprobe/internal/ctxkeys"
	"shoalprobe/internal/metrics"
	"shoalprobe/internal/redfish"
)

// State is the detector state. Probing is the only non-terminal state.
type State string

const (
	Probing          State = "Probing"
	LockedConfirmed  State = "LockedConfirmed"
	Exhausted        State = "Exhausted"
	TransportAborted State = "TransportAborted"
)

// Observation classifies one attempt.
type Observation string

const (
	NoIndicator      Observation = "NoIndicator"
	LockedIndicator  Observation = "LockedIndicator"
	TransportFailure Observation = "TransportFailure"
)

// Attempt records one counted attempt. Retried is set when the first
// exchange failed at the transport layer and a fresh prober was used.
type Attempt struct {
	Index       int
	Observation Observation
	HTTPStatus  int
	Retried     bool
	Err         string
}

// Verdict is the terminal result of a run.
type Verdict struct {
	State    State
	Attempts []Attempt
	// LockedAt is the 1-based index of the attempt that showed the
	// indicator, or 0.
	LockedAt int
}

// Conclusive reports whether the run observed lockout. Exhausted is a soft
// signal, not a failure.
func (v Verdict) Conclusive() bool { return v.State == LockedConfirmed }

// Prober performs one login exchange. *redfish.SessionManager satisfies it.
type Prober interface {
	TryLogin(ctx context.Context, creds redfish.Credentials) (redfish.LoginResponse, error)
}

// ProberFactory builds a prober with its own HTTP client.
type ProberFactory func() (Prober, error)

// RedfishProbers returns a factory building a fresh transport per call.
func RedfishProbers(cfg redfish.Config) ProberFactory {
	return func() (Prober, error) {
		t, err := redfish.NewTransport(cfg)
		if err != nil {
			return nil, err
		}
		return redfish.NewSessionManager(t), nil
	}
}

// Indicator decides whether a login response signals a locked account.
type Indicator func(resp redfish.LoginResponse) bool

// DefaultPhrases are matched case-insensitively by PhraseIndicator.
var DefaultPhrases = []string{"locked", "lockout", "too many", "exceeded", "блок"}

// PhraseIndicator reports HTTP 423 as a lockout and otherwise matches any
// phrase against the human-readable login message and the WWW-Authenticate
// header. Status text and MessageIds are not matched, so throttling (429)
// and session-limit (503) refusals do not read as a locked account.
func PhraseIndicator(phrases ...string) Indicator {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			lowered = append(lowered, strings.ToLower(p))
		}
	}
	return func(resp redfish.LoginResponse) bool {
		if resp.Status == http.StatusLocked {
			return true
		}
		text := strings.ToLower(resp.Text())
		if resp.Header != nil {
			text += "\n" + strings.ToLower(resp.Header.Get("WWW-Authenticate"))
		}
		for _, p := range lowered {
			if strings.Contains(text, p) {
				return true
			}
		}
		return false
	}
}

// Config bounds a detector run.
type Config struct {
	Username      string
	WrongPassword string
	// AttemptBound is the number of counted attempts before Exhausted.
	AttemptBound int
	// Delay is the minimum spacing between attempts. Zero disables pacing.
	Delay time.Duration
	// Indicator defaults to PhraseIndicator(DefaultPhrases...).
	Indicator Indicator
	// Clock paces attempts; defaults to the wall clock.
	Clock  clock.Clock
	Logger *slog.Logger
}

// Detector runs the lockout state machine. A Detector is single use per
// Run call but may be run again; each run starts from Probing.
type Detector struct {
	cfg       Config
	newProber ProberFactory
	logger    *slog.Logger
}

// NewDetector validates cfg.
func NewDetector(cfg Config, factory ProberFactory) (*Detector, error) {
	if factory == nil {
		return nil, errors.New("lockout: prober factory is required")
	}
	if cfg.Username == "" {
		return nil, errors.New("lockout: username is required")
	}
	if cfg.AttemptBound < 1 {
		return nil, fmt.Errorf("lockout: attempt bound must be >= 1, got %d", cfg.AttemptBound)
	}
	if cfg.Delay < 0 {
		return nil, errors.New("lockout: delay must not be negative")
	}
	if cfg.Indicator == nil {
		cfg.Indicator = PhraseIndicator(DefaultPhrases...)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg, newProber: factory, logger: logger}, nil
}

// Run performs up to AttemptBound counted attempts. A transport failure is
// retried once with a fresh prober before the attempt is counted. The
// returned error is non-nil only when ctx ends or no prober can be built;
// the verdict then holds the attempts made so far in the Probing state.
func (d *Detector) Run(ctx context.Context) (Verdict, error) {
	logger := ctxkeys.Logger(ctx, d.logger)
	creds := redfish.Credentials{Username: d.cfg.Username, Password: d.cfg.WrongPassword}
	v := Verdict{State: Probing}

	limit := rate.Inf
	if d.cfg.Delay > 0 {
		limit = rate.Every(d.cfg.Delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	prober, err := d.newProber()
	if err != nil {
		return v, fmt.Errorf("lockout: build prober: %w", err)
	}

	for i := 1; i <= d.cfg.AttemptBound; i++ {
		if err := d.pace(ctx, limiter); err != nil {
			return v, err
		}
		a := Attempt{Index: i}
		resp, err := prober.TryLogin(ctx, creds)
		if err != nil {
			if ctx.Err() != nil {
				return v, ctx.Err()
			}
			logger.Warn("lockout attempt transport failure; retrying with a fresh client", "attempt", i, "error", err)
			a.Retried = true
			if prober, err = d.newProber(); err != nil {
				return v, fmt.Errorf("lockout: build prober: %w", err)
			}
			resp, err = prober.TryLogin(ctx, creds)
			if err != nil {
				if ctx.Err() != nil {
					return v, ctx.Err()
				}
				a.Observation = TransportFailure
				a.Err = err.Error()
				v.Attempts = append(v.Attempts, a)
				logger.Warn("lockout attempt failed after retry", "attempt", i, "error", err)
				continue
			}
		}

		a.HTTPStatus = resp.Status
		a.Observation = d.classify(resp)
		v.Attempts = append(v.Attempts, a)
		logger.Debug("lockout attempt", "attempt", i, "status", resp.Status, "observation", a.Observation)
		if a.Observation == LockedIndicator {
			v.State = LockedConfirmed
			v.LockedAt = i
			break
		}
	}

	if v.State == Probing {
		v.State = Exhausted
		if allTransportFailures(v.Attempts) {
			v.State = TransportAborted
		}
	}
	metrics.IncLockoutVerdict(string(v.State))
	logger.Info("lockout detection finished", "user", d.cfg.Username, "verdict", v.State,
		"attempts", len(v.Attempts), "locked_at", v.LockedAt)
	return v, nil
}

// pace reserves the next attempt on the limiter at the injected clock's time
// and sleeps on that clock until the reservation is due.
func (d *Detector) pace(ctx context.Context, limiter *rate.Limiter) error {
	now := d.cfg.Clock.Now()
	res := limiter.ReserveN(now, 1)
	if !res.OK() {
		return errors.New("lockout: pacing reservation refused")
	}
	if wait := res.DelayFrom(now); wait > 0 {
		if err := d.cfg.Clock.Sleep(ctx, wait); err != nil {
			res.CancelAt(d.cfg.Clock.Now())
			return err
		}
	}
	return nil
}

func (d *Detector) classify(resp redfish.LoginResponse) Observation {
	if resp.Status >= 200 && resp.Status < 300 {
		return NoIndicator
	}
	if d.cfg.Indicator(resp) {
		return LockedIndicator
	}
	return NoIndicator
}

func allTransportFailures(attempts []Attempt) bool {
	if len(attempts) == 0 {
		return false
	}
	for _, a := range attempts {
		if a.Observation != TransportFailure {
			return false
		}
	}
	return true
}
