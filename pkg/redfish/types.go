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

// ODataIDRef represents a reference to another resource
type ODataIDRef struct {
	ODataID string `json:"@odata.id"`
}

// ServiceRoot represents the Redfish service root
type ServiceRoot struct {
	ODataContext   string           `json:"@odata.context"`
	ODataID        string           `json:"@odata.id"`
	ODataType      string           `json:"@odata.type"`
	ID             string           `json:"Id"`
	Name           string           `json:"Name"`
	RedfishVersion string           `json:"RedfishVersion"`
	UUID           string           `json:"UUID"`
	Systems        ODataIDRef       `json:"Systems"`
	Chassis        ODataIDRef       `json:"Chassis"`
	SessionService ODataIDRef       `json:"SessionService"`
	Links          ServiceRootLinks `json:"Links"`
}

// ServiceRootLinks contains links within the service root
type ServiceRootLinks struct {
	Sessions ODataIDRef `json:"Sessions"`
}

// Collection represents a generic Redfish collection
type Collection struct {
	ODataContext string       `json:"@odata.context"`
	ODataID      string       `json:"@odata.id"`
	ODataType    string       `json:"@odata.type"`
	Name         string       `json:"Name"`
	Members      []ODataIDRef `json:"Members"`
	MembersCount int          `json:"Members@odata.count"`
}

// Session represents a Redfish session
type Session struct {
	ODataContext string `json:"@odata.context"`
	ODataID      string `json:"@odata.id"`
	ODataType    string `json:"@odata.type"`
	ID           string `json:"Id"`
	Name         string `json:"Name"`
	UserName     string `json:"UserName"`
}

// SessionCreateRequest is the body POSTed to the Sessions collection.
type SessionCreateRequest struct {
	UserName string `json:"UserName"`
	Password string `json:"Password"`
}

// SessionService represents the Redfish SessionService
type SessionService struct {
	ODataContext   string     `json:"@odata.context"`
	ODataID        string     `json:"@odata.id"`
	ODataType      string     `json:"@odata.type"`
	ID             string     `json:"Id"`
	Name           string     `json:"Name"`
	Description    string     `json:"Description"`
	ServiceEnabled bool       `json:"ServiceEnabled"`
	SessionTimeout int        `json:"SessionTimeout"`
	Sessions       ODataIDRef `json:"Sessions"`
}

// Status is the common Redfish Status object.
type Status struct {
	State  string `json:"State"`
	Health string `json:"Health"`
}

// ComputerSystem represents a Redfish ComputerSystem resource
type ComputerSystem struct {
	ODataContext string        `json:"@odata.context"`
	ODataID      string        `json:"@odata.id"`
	ODataType    string        `json:"@odata.type"`
	ID           string        `json:"Id"`
	Name         string        `json:"Name"`
	PowerState   string        `json:"PowerState"`
	Status       Status        `json:"Status"`
	Actions      SystemActions `json:"Actions"`
	Links        ComputerLinks `json:"Links"`
}

// SystemActions lists the actions a ComputerSystem advertises.
type SystemActions struct {
	Reset ResetActionInfo `json:"#ComputerSystem.Reset"`
}

// ResetActionInfo describes the Reset action target and allowed values.
type ResetActionInfo struct {
	Target              string   `json:"target"`
	AllowableResetTypes []string `json:"ResetType@Redfish.AllowableValues"`
}

// ComputerLinks links a system to its chassis.
type ComputerLinks struct {
	Chassis []ODataIDRef `json:"Chassis"`
}

// Chassis represents a Redfish Chassis resource
type Chassis struct {
	ODataContext string      `json:"@odata.context"`
	ODataID      string      `json:"@odata.id"`
	ODataType    string      `json:"@odata.type"`
	ID           string      `json:"Id"`
	Name         string      `json:"Name"`
	ChassisType  string      `json:"ChassisType"`
	PowerState   string      `json:"PowerState"`
	Status       Status      `json:"Status"`
	Thermal      *ODataIDRef `json:"Thermal,omitempty"`
}

// Thermal represents a Redfish Thermal resource
type Thermal struct {
	ODataContext string        `json:"@odata.context"`
	ODataID      string        `json:"@odata.id"`
	ODataType    string        `json:"@odata.type"`
	ID           string        `json:"Id"`
	Name         string        `json:"Name"`
	Status       Status        `json:"Status"`
	Temperatures []Temperature `json:"Temperatures"`
}

// Temperature is one entry of Thermal.Temperatures. ReadingCelsius is null
// when the sensor has no current reading.
type Temperature struct {
	MemberID       string   `json:"MemberId"`
	Name           string   `json:"Name"`
	ReadingCelsius *float64 `json:"ReadingCelsius"`
	Status         Status   `json:"Status"`
}

// ResetRequest is the body of a ComputerSystem.Reset action.
type ResetRequest struct {
	ResetType string `json:"ResetType"`
}

// ErrorResponse represents a Redfish error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details
type ErrorDetail struct {
	Code         string    `json:"code"`
	Message      string    `json:"message"`
	ExtendedInfo []Message `json:"@Message.ExtendedInfo,omitempty"`
}

// Message is one entry of @Message.ExtendedInfo.
type Message struct {
	ODataType  string `json:"@odata.type"`
	MessageID  string `json:"MessageId"`
	Message    string `json:"Message"`
	Severity   string `json:"Severity"`
	Resolution string `json:"Resolution"`
}
