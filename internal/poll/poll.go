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

// Package poll implements a fixed-interval, deadline-bounded polling loop.
package poll

import (
	"context"
	"errors"
	"time"

	"shoalprobe/internal/clock"
)

// DefaultInterval is used when Poller.Interval is not positive.
const DefaultInterval = time.Second

// ErrDeadline is returned by Until when the timeout elapses before the
// condition is met.
var ErrDeadline = errors.New("poll: deadline exceeded")

// Func is called once per attempt (1-based). It reports done=true to stop
// polling successfully; a non-nil error stops polling immediately.
type Func func(ctx context.Context, attempt int) (done bool, err error)

// Poller runs a condition at a fixed interval until it succeeds, fails, or
// Timeout has elapsed since the first attempt.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    clock.Clock
}

// Until polls fn. The deadline is checked after every attempt, so fn always
// runs at least once and the final observation happens at or after the
// deadline. It returns the number of attempts made.
func (p Poller) Until(ctx context.Context, fn Func) (int, error) {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	start := clk.Now()
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}
		attempts++
		done, err := fn(ctx, attempts)
		if err != nil {
			return attempts, err
		}
		if done {
			return attempts, nil
		}
		if clk.Now().Sub(start) >= p.Timeout {
			return attempts, ErrDeadline
		}
		if err := clk.Sleep(ctx, interval); err != nil {
			return attempts, err
		}
	}
}

// Elapsed is a convenience for callers that report durations against the
// same clock the poller used.
func Elapsed(clk clock.Clock, since time.Time) time.Duration {
	if clk == nil {
		clk = clock.Real{}
	}
	return clk.Now().Sub(since)
}
