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
	"encoding/json"
	"log/slog"
	"net/http"
)

var validMessageIDs = map[string]struct{}{
	"Base.1.8.GeneralError":                {},
	"Base.1.8.ResourceNotFound":            {},
	"Base.1.8.MethodNotAllowed":            {},
	"Base.1.8.NoValidSession":              {},
	"Base.1.8.InsufficientPrivilege":       {},
	"Base.1.8.MalformedJSON":               {},
	"Base.1.8.PropertyMissing":             {},
	"Base.1.8.ActionParameterNotSupported": {},
	"Base.1.8.ResourceAtUriUnauthorized":   {},
	"Base.1.8.AccountLocked":               {},
	"Base.1.8.InternalError":               {},
}

// writeErrorResponse writes a Redfish error payload with ExtendedInfo and
// applies WWW-Authenticate on 401.
func writeErrorResponse(w http.ResponseWriter, status int, code, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="Redfish"`)
	}

	messageID := "Base.1.8.GeneralError"
	if _, ok := validMessageIDs[code]; ok {
		messageID = code
	}

	writeJSONResponse(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"@Message.ExtendedInfo": []map[string]any{
				{
					"@odata.type": "#Message.v1_1_0.Message",
					"MessageId":   messageID,
					"Message":     message,
					"Severity":    severityForStatus(status),
					"Resolution":  resolutionForMessageID(messageID),
				},
			},
		},
	})
}

func severityForStatus(status int) string {
	switch {
	case status >= 500:
		return "Critical"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "Critical"
	case status >= 400:
		return "Warning"
	default:
		return "OK"
	}
}

func resolutionForMessageID(msgID string) string {
	switch msgID {
	case "Base.1.8.ResourceNotFound":
		return "Provide a valid resource identifier and resubmit the request."
	case "Base.1.8.NoValidSession", "Base.1.8.ResourceAtUriUnauthorized":
		return "Establish a session with valid credentials and resubmit the request."
	case "Base.1.8.InsufficientPrivilege":
		return "Resubmit the request using an account with the required privileges."
	case "Base.1.8.MalformedJSON":
		return "Correct the JSON payload formatting and resubmit the request."
	case "Base.1.8.PropertyMissing":
		return "Include all required properties in the request and resubmit."
	case "Base.1.8.ActionParameterNotSupported":
		return "Use a value from ResetType@Redfish.AllowableValues and resubmit the request."
	case "Base.1.8.AccountLocked":
		return "Wait for the lockout period to expire or ask an administrator to unlock the account."
	default:
		return "Retry the operation; if the problem persists, contact the service provider."
	}
}

// writeJSONResponse writes a JSON response with standard headers applied.
func writeJSONResponse(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to marshal JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("OData-Version", "4.0")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Warn("Failed to write JSON response body", "error", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}
