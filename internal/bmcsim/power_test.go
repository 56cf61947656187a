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
	"testing"
	"time"
)

func TestPowerModel(t *testing.T) {
	t0 := time.Unix(0, 0)
	tests := []struct {
		name      string
		initial   string
		reset     string
		during    string
		after     string
		wantError bool
	}{
		{name: "on from off", initial: "Off", reset: "On", during: "PoweringOn", after: "On"},
		{name: "on when on", initial: "On", reset: "On", during: "On", after: "On"},
		{name: "force off", initial: "On", reset: "ForceOff", during: "Off", after: "Off"},
		{name: "graceful shutdown", initial: "On", reset: "GracefulShutdown", during: "PoweringOff", after: "Off"},
		{name: "restart", initial: "On", reset: "ForceRestart", during: "PoweringOn", after: "On"},
		{name: "nmi", initial: "On", reset: "Nmi", during: "On", after: "On"},
		{name: "unsupported", initial: "On", reset: "Hibernate", during: "On", after: "On", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := powerModel{state: tt.initial, delay: 5 * time.Second}
			err := p.apply(tt.reset, t0)
			if (err != nil) != tt.wantError {
				t.Fatalf("apply error = %v, wantError %v", err, tt.wantError)
			}
			if got := p.current(t0.Add(time.Second)); got != tt.during {
				t.Fatalf("during transition = %q, want %q", got, tt.during)
			}
			if got := p.current(t0.Add(5 * time.Second)); got != tt.after {
				t.Fatalf("after transition = %q, want %q", got, tt.after)
			}
		})
	}
}

func TestPowerModel_ZeroDelaySettlesImmediately(t *testing.T) {
	p := powerModel{state: "Off"}
	if err := p.apply("On", time.Unix(0, 0)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if p.state != "On" {
		t.Fatalf("state = %q, want On", p.state)
	}
}
