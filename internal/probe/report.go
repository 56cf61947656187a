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

package probe

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Outcome is the result of one check.
type Outcome string

const (
	Pass Outcome = "PASS"
	Fail Outcome = "FAIL"
	Skip Outcome = "SKIP"
	Warn Outcome = "WARN"
)

// Check names, in run order.
const (
	CheckServiceRoot = "service_root"
	CheckLogin       = "session_login"
	CheckSystemRead  = "system_read"
	CheckPowerOn     = "power_on"
	CheckThermal     = "thermal_read"
	CheckConsistency = "sensor_consistency"
	CheckLockout     = "account_lockout"
)

// Result is one check outcome.
type Result struct {
	Name     string
	Outcome  Outcome
	Detail   string
	Duration time.Duration
}

// Report collects the results of one probe run.
type Report struct {
	CorrelationID string
	Target        string
	Started       time.Time
	Results       []Result
}

// Failed reports whether any check failed.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Outcome == Fail {
			return true
		}
	}
	return false
}

// Count returns the number of results with outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Result returns the named result and whether it was recorded.
func (r *Report) Result(name string) (Result, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return Result{}, false
}

func (r *Report) add(name string, o Outcome, d time.Duration, format string, args ...any) {
	r.Results = append(r.Results, Result{Name: name, Outcome: o, Detail: fmt.Sprintf(format, args...), Duration: d})
}

// WriteText prints a one-line-per-check summary.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "target: %s\tcorrelation_id: %s\n", r.Target, r.CorrelationID)
	for _, res := range r.Results {
		detail := strings.ReplaceAll(res.Detail, "\n", " ")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.Outcome, res.Name, res.Duration.Round(time.Millisecond), detail)
	}
	fmt.Fprintf(tw, "summary: %d passed, %d failed, %d warnings, %d skipped\n",
		r.Count(Pass), r.Count(Fail), r.Count(Warn), r.Count(Skip))
	return tw.Flush()
}
