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
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"shoalprobe/internal/clock"
	"shoalprobe/internal/metrics"
	"shoalprobe/pkg/redfish"
)

// Reader performs typed GETs through an open session. It never refreshes
// tokens; a 401 is reported as ErrAuthenticationFailed.
type Reader struct {
	t   *Transport
	clk clock.Clock
}

// NewReader returns a Reader bound to t. clk stamps snapshots and may be nil.
func NewReader(t *Transport, clk clock.Clock) *Reader {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Reader{t: t, clk: clk}
}

// Read fetches a system-like resource and validates its mandatory fields.
func (r *Reader) Read(ctx context.Context, s *Session, path string) (ResourceSnapshot, error) {
	body, err := r.get(ctx, s, metrics.OpReadResource, path)
	if err != nil {
		return ResourceSnapshot{}, err
	}
	return decodeSnapshot(path, body, r.clk.Now())
}

// ReadThermal fetches a Thermal resource. A target without thermal support
// yields ErrNotFound, which callers may treat as a skip.
func (r *Reader) ReadThermal(ctx context.Context, s *Session, path string) ([]SensorReading, error) {
	body, err := r.get(ctx, s, metrics.OpReadThermal, path)
	if err != nil {
		return nil, err
	}
	return decodeThermal(path, body)
}

// ReadServiceRoot fetches the unauthenticated service root.
func (r *Reader) ReadServiceRoot(ctx context.Context) (redfish.ServiceRoot, error) {
	var root redfish.ServiceRoot
	resp, err := r.t.exchange(ctx, metrics.OpServiceRoot, http.MethodGet, ServiceRootPath, "", nil)
	if err != nil {
		return root, err
	}
	if err := readStatus(http.MethodGet, ServiceRootPath, resp); err != nil {
		return root, err
	}
	if err := json.Unmarshal(resp.body, &root); err != nil {
		return root, &SchemaError{Path: ServiceRootPath, Detail: "decode body: " + err.Error()}
	}
	if root.RedfishVersion == "" {
		return root, &SchemaError{Path: ServiceRootPath, Missing: []string{"RedfishVersion"}}
	}
	return root, nil
}

// Discovery holds the resource paths found by walking the service root.
type Discovery struct {
	SystemPath  string
	ChassisPath string
	// ThermalPath is empty when the chassis does not link a Thermal resource.
	ThermalPath string
}

// Discover resolves the first ComputerSystem and Chassis members and the
// chassis Thermal link.
func (r *Reader) Discover(ctx context.Context, s *Session) (Discovery, error) {
	var d Discovery
	root, err := r.ReadServiceRoot(ctx)
	if err != nil {
		return d, err
	}
	systems := root.Systems.ODataID
	if systems == "" {
		systems = joinPath(ServiceRootPath, "Systems")
	}
	if d.SystemPath, err = r.firstMember(ctx, s, systems); err != nil {
		return d, err
	}

	chassis := root.Chassis.ODataID
	if chassis == "" {
		chassis = joinPath(ServiceRootPath, "Chassis")
	}
	if d.ChassisPath, err = r.firstMember(ctx, s, chassis); err != nil {
		return d, err
	}

	body, err := r.get(ctx, s, metrics.OpDiscover, d.ChassisPath)
	if err != nil {
		return d, err
	}
	var ch redfish.Chassis
	if err := json.Unmarshal(body, &ch); err != nil {
		return d, &SchemaError{Path: d.ChassisPath, Detail: "decode body: " + err.Error()}
	}
	if ch.Thermal != nil {
		d.ThermalPath = ch.Thermal.ODataID
	}
	return d, nil
}

func (r *Reader) firstMember(ctx context.Context, s *Session, collection string) (string, error) {
	body, err := r.get(ctx, s, metrics.OpDiscover, collection)
	if err != nil {
		return "", err
	}
	var col redfish.Collection
	if err := json.Unmarshal(body, &col); err != nil {
		return "", &SchemaError{Path: collection, Detail: "decode body: " + err.Error()}
	}
	if len(col.Members) == 0 || col.Members[0].ODataID == "" {
		return "", fmt.Errorf("%w: %s has no members", ErrNotFound, collection)
	}
	return col.Members[0].ODataID, nil
}

func (r *Reader) get(ctx context.Context, s *Session, op, path string) ([]byte, error) {
	resp, err := r.t.sessionExchange(ctx, s, op, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := readStatus(http.MethodGet, path, resp); err != nil {
		return nil, err
	}
	return resp.body, nil
}

func readStatus(method, path string, resp *response) error {
	switch {
	case isSuccess(resp.status):
		return nil
	case resp.status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s %s returned 401", ErrAuthenticationFailed, method, path)
	default:
		return &StatusError{Method: method, Path: path, Code: resp.status, Message: redfishMessage(resp.body)}
	}
}
