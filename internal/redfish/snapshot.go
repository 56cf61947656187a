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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"shoalprobe/pkg/redfish"
)

// PowerState is a ComputerSystem.PowerState value.
type PowerState string

const (
	PowerOn          PowerState = "On"
	PowerOff         PowerState = "Off"
	PowerPoweringOn  PowerState = "PoweringOn"
	PowerPoweringOff PowerState = "PoweringOff"
)

// Valid reports whether p is one of the four recognised power states.
func (p PowerState) Valid() bool {
	switch p {
	case PowerOn, PowerOff, PowerPoweringOn, PowerPoweringOff:
		return true
	}
	return false
}

// ParsePowerState matches a wire value case-insensitively.
func ParsePowerState(s string) (PowerState, error) {
	for _, p := range []PowerState{PowerOn, PowerOff, PowerPoweringOn, PowerPoweringOff} {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown power state %q", s)
}

// Health is a Status.Health value. Unrecognised values decode as HealthUnknown.
type Health string

const (
	HealthOK       Health = "OK"
	HealthWarning  Health = "Warning"
	HealthCritical Health = "Critical"
	HealthUnknown  Health = "Unknown"
)

func parseHealth(s string) Health {
	for _, h := range []Health{HealthOK, HealthWarning, HealthCritical} {
		if strings.EqualFold(s, string(h)) {
			return h
		}
	}
	return HealthUnknown
}

// State is a Status.State value such as Enabled or Disabled. The Redfish
// enumeration is open-ended, so any non-empty string is kept as is.
type State string

const (
	StateEnabled        State = "Enabled"
	StateDisabled       State = "Disabled"
	StateAbsent         State = "Absent"
	StateStandbyOffline State = "StandbyOffline"
)

// Status is the decoded Status substructure.
type Status struct {
	State  State
	Health Health
}

// ResourceSnapshot is one observation of a system-like resource. Each read
// produces a new value; snapshots are never mutated.
type ResourceSnapshot struct {
	Path       string
	ID         string
	Name       string
	PowerState PowerState
	Status     Status
	ObservedAt time.Time
}

// SensorReading is one temperature sensor from a Thermal resource.
type SensorReading struct {
	Name           string
	ReadingCelsius *float64
	Status         Status
}

// HasReading reports whether the sensor carries a numeric reading.
func (r SensorReading) HasReading() bool { return r.ReadingCelsius != nil }

// decodeSnapshot validates a system or chassis body. Name is optional.
func decodeSnapshot(path string, body []byte, observed time.Time) (ResourceSnapshot, error) {
	var raw struct {
		ID         *string `json:"Id"`
		Name       string  `json:"Name"`
		PowerState *string `json:"PowerState"`
		Status     *struct {
			State  *string `json:"State"`
			Health *string `json:"Health"`
		} `json:"Status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ResourceSnapshot{}, &SchemaError{Path: path, Detail: "decode body: " + err.Error()}
	}

	var missing []string
	if raw.ID == nil || *raw.ID == "" {
		missing = append(missing, "Id")
	}
	if raw.PowerState == nil || *raw.PowerState == "" {
		missing = append(missing, "PowerState")
	}
	if raw.Status == nil {
		missing = append(missing, "Status")
	} else {
		if raw.Status.State == nil || *raw.Status.State == "" {
			missing = append(missing, "Status.State")
		}
		if raw.Status.Health == nil || *raw.Status.Health == "" {
			missing = append(missing, "Status.Health")
		}
	}
	if len(missing) > 0 {
		return ResourceSnapshot{}, &SchemaError{Path: path, Missing: missing}
	}

	ps, err := ParsePowerState(*raw.PowerState)
	if err != nil {
		return ResourceSnapshot{}, &SchemaError{Path: path, Detail: err.Error()}
	}
	return ResourceSnapshot{
		Path:       path,
		ID:         *raw.ID,
		Name:       raw.Name,
		PowerState: ps,
		Status: Status{
			State:  State(*raw.Status.State),
			Health: parseHealth(*raw.Status.Health),
		},
		ObservedAt: observed,
	}, nil
}

func decodeThermal(path string, body []byte) ([]SensorReading, error) {
	var raw struct {
		Temperatures *[]struct {
			Name           string          `json:"Name"`
			ReadingCelsius *float64        `json:"ReadingCelsius"`
			Status         *redfish.Status `json:"Status"`
		} `json:"Temperatures"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &SchemaError{Path: path, Detail: "decode body: " + err.Error()}
	}
	if raw.Temperatures == nil {
		return nil, &SchemaError{Path: path, Missing: []string{"Temperatures"}}
	}

	out := make([]SensorReading, 0, len(*raw.Temperatures))
	var missing []string
	for i, t := range *raw.Temperatures {
		if t.Name == "" {
			missing = append(missing, fmt.Sprintf("Temperatures[%d].Name", i))
		}
		if t.Status == nil {
			missing = append(missing, fmt.Sprintf("Temperatures[%d].Status", i))
			continue
		}
		out = append(out, SensorReading{
			Name:           t.Name,
			ReadingCelsius: t.ReadingCelsius,
			Status: Status{
				State:  State(t.Status.State),
				Health: parseHealth(t.Status.Health),
			},
		})
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Path: path, Missing: missing}
	}
	return out, nil
}
