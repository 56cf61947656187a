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
	"fmt"
	"time"
)

// AllowableResetTypes is advertised on the Reset action.
var AllowableResetTypes = []string{"On", "ForceOff", "GracefulShutdown", "GracefulRestart", "ForceRestart", "PowerCycle", "Nmi"}

// powerModel is the system's power state machine. Transitions through
// PoweringOn/PoweringOff settle lazily once the clock passes settleAt.
// Callers hold Server.mu.
type powerModel struct {
	state    string
	target   string
	settleAt time.Time
	delay    time.Duration
}

func (p *powerModel) current(now time.Time) string {
	if p.target != "" && !now.Before(p.settleAt) {
		p.state = p.target
		p.target = ""
	}
	return p.state
}

func (p *powerModel) begin(transient, target string, now time.Time) {
	if p.delay <= 0 {
		p.state = target
		p.target = ""
		return
	}
	p.state = transient
	p.target = target
	p.settleAt = now.Add(p.delay)
}

func (p *powerModel) apply(resetType string, now time.Time) error {
	cur := p.current(now)
	switch resetType {
	case "On":
		if cur == "On" || cur == "PoweringOn" {
			return nil
		}
		p.begin("PoweringOn", "On", now)
	case "ForceOff":
		p.state = "Off"
		p.target = ""
	case "GracefulShutdown":
		if cur == "Off" || cur == "PoweringOff" {
			return nil
		}
		p.begin("PoweringOff", "Off", now)
	case "GracefulRestart", "ForceRestart", "PowerCycle":
		p.begin("PoweringOn", "On", now)
	case "Nmi":
	default:
		return fmt.Errorf("unsupported ResetType %q", resetType)
	}
	return nil
}
