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

// Package verify judges Redfish observations: StateVerifier confirms that an
// asynchronous power action settles into an allowed state, and
// ConsistencyChecker cross-checks system health against thermal sensors.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shoalprobe/internal/clock"
	"shoalprobe/internal/ctxkeys"
	"shoalprobe/internal/metrics"
	"shoalprobe/internal/poll"
	"shoalprobe/internal/redfish"
)

// ErrTransitionTimeout matches any *TransitionTimeoutError.
var ErrTransitionTimeout = errors.New("verify: transition timeout")

// TransitionExpectation declares which power states count as settled after
// an action and how long to wait for one.
type TransitionExpectation struct {
	AllowedStates []redfish.PowerState
	Timeout       time.Duration
	PollInterval  time.Duration
}

// ExpectPowerOn accepts On and the intermediate PoweringOn.
func ExpectPowerOn(timeout, interval time.Duration) TransitionExpectation {
	return TransitionExpectation{
		AllowedStates: []redfish.PowerState{redfish.PowerOn, redfish.PowerPoweringOn},
		Timeout:       timeout,
		PollInterval:  interval,
	}
}

// ExpectPowerOff accepts Off and the intermediate PoweringOff.
func ExpectPowerOff(timeout, interval time.Duration) TransitionExpectation {
	return TransitionExpectation{
		AllowedStates: []redfish.PowerState{redfish.PowerOff, redfish.PowerPoweringOff},
		Timeout:       timeout,
		PollInterval:  interval,
	}
}

// Allows reports whether p is in the allowed set.
func (e TransitionExpectation) Allows(p redfish.PowerState) bool {
	for _, s := range e.AllowedStates {
		if s == p {
			return true
		}
	}
	return false
}

func (e TransitionExpectation) validate() error {
	if len(e.AllowedStates) == 0 {
		return errors.New("verify: expectation has no allowed states")
	}
	for _, s := range e.AllowedStates {
		if !s.Valid() {
			return fmt.Errorf("verify: invalid allowed state %q", s)
		}
	}
	if e.Timeout < 0 {
		return errors.New("verify: negative timeout")
	}
	if e.PollInterval <= 0 {
		return fmt.Errorf("verify: poll interval must be positive, got %v", e.PollInterval)
	}
	return nil
}

// TransitionTimeoutError carries the last snapshot observed before the
// deadline passed.
type TransitionTimeoutError struct {
	Path     string
	Expected []redfish.PowerState
	Last     redfish.ResourceSnapshot
	Polls    int
	Elapsed  time.Duration
}

func (e *TransitionTimeoutError) Error() string {
	want := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		want[i] = string(s)
	}
	return fmt.Sprintf("verify: %s did not reach [%s] within %s after %d polls (last PowerState=%s)",
		e.Path, strings.Join(want, ","), e.Elapsed, e.Polls, e.Last.PowerState)
}

// Is reports ErrTransitionTimeout.
func (e *TransitionTimeoutError) Is(target error) bool { return target == ErrTransitionTimeout }

// SnapshotReader is the subset of redfish.Reader the verifier needs.
type SnapshotReader interface {
	Read(ctx context.Context, s *redfish.Session, path string) (redfish.ResourceSnapshot, error)
}

// StateVerifier polls a resource until its PowerState is allowed.
type StateVerifier struct {
	reader SnapshotReader
	clk    clock.Clock
	logger *slog.Logger
}

// NewStateVerifier builds a verifier. clk and logger may be nil.
func NewStateVerifier(r SnapshotReader, clk clock.Clock, logger *slog.Logger) *StateVerifier {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StateVerifier{reader: r, clk: clk, logger: logger}
}

// VerifyTransition reads path every PollInterval until the observed
// PowerState is allowed or Timeout has elapsed since the first read. Every
// read must pass schema validation; any read error aborts verification and
// is returned unchanged. A state outside the allowed set, including a
// regression, is treated as not yet settled.
func (v *StateVerifier) VerifyTransition(ctx context.Context, s *redfish.Session, path string, exp TransitionExpectation) (redfish.ResourceSnapshot, error) {
	if err := exp.validate(); err != nil {
		return redfish.ResourceSnapshot{}, err
	}
	logger := ctxkeys.Logger(ctx, v.logger)

	var last redfish.ResourceSnapshot
	start := v.clk.Now()
	p := poll.Poller{Interval: exp.PollInterval, Timeout: exp.Timeout, Clock: v.clk}
	polls, err := p.Until(ctx, func(ctx context.Context, attempt int) (bool, error) {
		snap, err := v.reader.Read(ctx, s, path)
		if err != nil {
			return false, err
		}
		last = snap
		logger.Debug("transition poll", "path", path, "attempt", attempt, "power_state", snap.PowerState)
		return exp.Allows(snap.PowerState), nil
	})
	elapsed := poll.Elapsed(v.clk, start)

	switch {
	case err == nil:
		metrics.ObserveVerification("matched", polls, elapsed)
		logger.Info("transition verified", "path", path, "power_state", last.PowerState, "polls", polls, "elapsed", elapsed)
		return last, nil
	case errors.Is(err, poll.ErrDeadline):
		metrics.ObserveVerification("timeout", polls, elapsed)
		return redfish.ResourceSnapshot{}, &TransitionTimeoutError{
			Path:     path,
			Expected: exp.AllowedStates,
			Last:     last,
			Polls:    polls,
			Elapsed:  elapsed,
		}
	default:
		metrics.ObserveVerification("error", polls, elapsed)
		return redfish.ResourceSnapshot{}, err
	}
}
