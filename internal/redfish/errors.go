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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthenticationFailed means credentials were rejected, the token
	// expired, or a login response carried no token.
	ErrAuthenticationFailed = errors.New("redfish: authentication failed")
	// ErrNotFound means the service explicitly reported the resource absent.
	ErrNotFound = errors.New("redfish: resource not found")
	// ErrTransport matches any *TransportError.
	ErrTransport = errors.New("redfish: transport error")
	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("redfish: session closed")
	// ErrForeignSession is returned when a session is used with a transport
	// other than the one that created it.
	ErrForeignSession = errors.New("redfish: session belongs to another transport")
)

// TransportError wraps a connectivity or timeout failure at the HTTP layer.
type TransportError struct {
	Op     string
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("redfish: %s %s (%s): %v", e.Method, e.Path, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports ErrTransport so callers can match the whole class.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// SchemaError reports a response that violates the resource contract:
// undecodable JSON, missing mandatory fields, or out-of-enum values.
type SchemaError struct {
	Path    string
	Missing []string
	Detail  string
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("redfish: schema violation at ")
	b.WriteString(e.Path)
	if len(e.Missing) > 0 {
		b.WriteString(": missing ")
		b.WriteString(strings.Join(e.Missing, ", "))
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// StatusError is an unexpected HTTP status on a read.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("redfish: %s %s: status=%d %s", e.Method, e.Path, e.Code, e.Message)
}

// IsSchemaError reports whether err is or wraps a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
