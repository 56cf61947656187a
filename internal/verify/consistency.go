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
	"fmt"
	"strings"

	"shoalprobe/internal/redfish"
)

const (
	// DefaultMinCelsius and DefaultMaxCelsius bound a physically plausible
	// temperature reading.
	DefaultMinCelsius = -10.0
	DefaultMaxCelsius = 120.0
)

// InconsistencyKind classifies a finding.
type InconsistencyKind string

const (
	ReadingOutOfRange       InconsistencyKind = "ReadingOutOfRange"
	DisabledSensorReporting InconsistencyKind = "DisabledSensorReporting"
	HealthDisagreement      InconsistencyKind = "HealthDisagreement"
)

// Inconsistency is one finding. The checker never decides severity.
type Inconsistency struct {
	Kind    InconsistencyKind
	Sensor  string
	Reading *float64
	Detail  string
}

func (i Inconsistency) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Kind, i.Sensor, i.Detail)
}

// ConsistencyChecker validates thermal sensors against plausible bounds and
// against the system's own health report.
type ConsistencyChecker struct {
	MinCelsius float64
	MaxCelsius float64
	// NameFilter restricts checks to sensors whose name contains one of the
	// substrings, case-insensitively. Empty checks every sensor.
	NameFilter []string
}

// NewConsistencyChecker returns a checker with the default bounds.
func NewConsistencyChecker(filter ...string) ConsistencyChecker {
	return ConsistencyChecker{
		MinCelsius: DefaultMinCelsius,
		MaxCelsius: DefaultMaxCelsius,
		NameFilter: filter,
	}
}

// Check returns every inconsistency found, in sensor order. A nil sensor list
// (thermal unsupported) yields no findings. The result depends only on the
// arguments.
func (c ConsistencyChecker) Check(system redfish.ResourceSnapshot, sensors []redfish.SensorReading) []Inconsistency {
	var out []Inconsistency
	for _, s := range sensors {
		if !c.selected(s.Name) {
			continue
		}
		if s.HasReading() {
			v := *s.ReadingCelsius
			if v < c.MinCelsius || v > c.MaxCelsius {
				out = append(out, Inconsistency{
					Kind:    ReadingOutOfRange,
					Sensor:  s.Name,
					Reading: s.ReadingCelsius,
					Detail:  fmt.Sprintf("%.1f C outside [%.1f, %.1f]", v, c.MinCelsius, c.MaxCelsius),
				})
			}
			if s.Status.State == redfish.StateDisabled || s.Status.State == redfish.StateAbsent {
				out = append(out, Inconsistency{
					Kind:    DisabledSensorReporting,
					Sensor:  s.Name,
					Reading: s.ReadingCelsius,
					Detail:  fmt.Sprintf("state %s but reading %.1f C present", s.Status.State, v),
				})
			}
		}
		if system.Status.Health == redfish.HealthOK && s.Status.Health == redfish.HealthCritical {
			out = append(out, Inconsistency{
				Kind:    HealthDisagreement,
				Sensor:  s.Name,
				Reading: s.ReadingCelsius,
				Detail:  fmt.Sprintf("sensor health Critical while %s reports OK", systemLabel(system)),
			})
		}
	}
	return out
}

func (c ConsistencyChecker) selected(name string) bool {
	if len(c.NameFilter) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, f := range c.NameFilter {
		if f != "" && strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

func systemLabel(s redfish.ResourceSnapshot) string {
	if s.ID != "" {
		return "system " + s.ID
	}
	return "system"
}
