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
	"errors"
	"net/http"
	"strings"

	"shoalprobe/internal/ctxkeys"
	"shoalprobe/internal/metrics"
)

// ResetType is a ComputerSystem.Reset parameter value.
type ResetType string

const (
	ResetOn               ResetType = "On"
	ResetForceOff         ResetType = "ForceOff"
	ResetGracefulShutdown ResetType = "GracefulShutdown"
	ResetGracefulRestart  ResetType = "GracefulRestart"
	ResetForceRestart     ResetType = "ForceRestart"
	ResetNmi              ResetType = "Nmi"
	ResetPowerCycle       ResetType = "PowerCycle"
)

// ActionReset is the action kind for power control.
const ActionReset = "ComputerSystem.Reset"

// ActionRequest names one action on one resource.
type ActionRequest struct {
	Target     string
	Kind       string
	Parameters map[string]any
}

// PowerReset builds a ComputerSystem.Reset request for target.
func PowerReset(target string, rt ResetType) ActionRequest {
	return ActionRequest{
		Target:     target,
		Kind:       ActionReset,
		Parameters: map[string]any{"ResetType": string(rt)},
	}
}

// Path returns the action URI: <target>/Actions/<kind>.
func (a ActionRequest) Path() string {
	return joinPath(a.Target, "Actions/"+strings.TrimPrefix(a.Kind, "#"))
}

// ActionOutcome is the immediate HTTP classification of an action.
type ActionOutcome struct {
	Accepted    bool
	HTTPStatus  int
	ErrorDetail string
}

// Invoker posts actions through an open session.
type Invoker struct {
	t *Transport
}

// NewInvoker returns an Invoker bound to t.
func NewInvoker(t *Transport) *Invoker { return &Invoker{t: t} }

// Invoke posts req. Only 200, 202, and 204 count as accepted; any other
// status is returned as an unaccepted outcome with a nil error. Transport
// failures and session misuse are returned as errors.
func (i *Invoker) Invoke(ctx context.Context, s *Session, req ActionRequest) (ActionOutcome, error) {
	if req.Target == "" || req.Kind == "" {
		return ActionOutcome{}, errors.New("redfish: action target and kind are required")
	}
	params := req.Parameters
	if params == nil {
		params = map[string]any{}
	}
	resp, err := i.t.sessionExchange(ctx, s, metrics.OpInvokeAction, http.MethodPost, req.Path(), params)
	if err != nil {
		return ActionOutcome{}, err
	}

	out := ActionOutcome{HTTPStatus: resp.status}
	switch resp.status {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		out.Accepted = true
	default:
		out.ErrorDetail = redfishMessage(resp.body)
		if out.ErrorDetail == "" {
			out.ErrorDetail = http.StatusText(resp.status)
		}
		ctxkeys.Logger(ctx, i.t.logger).Warn("redfish action not accepted",
			"action", req.Kind, "target", req.Target, "status", resp.status, "detail", out.ErrorDetail)
	}
	return out, nil
}
