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
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"shoalprobe/pkg/auth"
	"shoalprobe/pkg/redfish"
)

func (s *Server) systemPath() string  { return "/redfish/v1/Systems/" + s.cfg.SystemID }
func (s *Server) chassisPath() string { return "/redfish/v1/Chassis/" + s.cfg.ChassisID }

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"v1": "/redfish/v1/"})
}

func (s *Server) handleServiceRoot(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, redfish.ServiceRoot{
		ODataContext:   "/redfish/v1/$metadata#ServiceRoot.ServiceRoot",
		ODataID:        "/redfish/v1/",
		ODataType:      "#ServiceRoot.v1_5_0.ServiceRoot",
		ID:             "RootService",
		Name:           "Simulated BMC",
		RedfishVersion: "1.8.0",
		UUID:           "3d2c6e8a-5f1e-4b7a-9c0d-6a1f2e3b4c5d",
		Systems:        redfish.ODataIDRef{ODataID: "/redfish/v1/Systems"},
		Chassis:        redfish.ODataIDRef{ODataID: "/redfish/v1/Chassis"},
		SessionService: redfish.ODataIDRef{ODataID: "/redfish/v1/SessionService"},
		Links: redfish.ServiceRootLinks{
			Sessions: redfish.ODataIDRef{ODataID: sessionsPath},
		},
	})
}

func (s *Server) handleSystemsCollection(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, redfish.Collection{
		ODataContext: "/redfish/v1/$metadata#ComputerSystemCollection.ComputerSystemCollection",
		ODataID:      "/redfish/v1/Systems",
		ODataType:    "#ComputerSystemCollection.ComputerSystemCollection",
		Name:         "Computer System Collection",
		Members:      []redfish.ODataIDRef{{ODataID: s.systemPath()}},
		MembersCount: 1,
	})
}

func (s *Server) handleGetSystem(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "id") != s.cfg.SystemID {
		writeErrorResponse(w, http.StatusNotFound, "Base.1.8.ResourceNotFound", "System not found")
		return
	}
	s.mu.Lock()
	state := s.power.current(s.clk.Now())
	s.mu.Unlock()

	sys := redfish.ComputerSystem{
		ODataContext: "/redfish/v1/$metadata#ComputerSystem.ComputerSystem",
		ODataID:      s.systemPath(),
		ODataType:    "#ComputerSystem.v1_5_0.ComputerSystem",
		ID:           s.cfg.SystemID,
		Name:         "Simulated System",
		PowerState:   state,
		Status:       redfish.Status{State: "Enabled", Health: s.cfg.SystemHealth},
		Links: redfish.ComputerLinks{
			Chassis: []redfish.ODataIDRef{{ODataID: s.chassisPath()}},
		},
	}
	sys.Actions.Reset = redfish.ResetActionInfo{
		Target:              s.systemPath() + "/Actions/ComputerSystem.Reset",
		AllowableResetTypes: AllowableResetTypes,
	}
	writeJSONResponse(w, http.StatusOK, sys)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "id") != s.cfg.SystemID {
		writeErrorResponse(w, http.StatusNotFound, "Base.1.8.ResourceNotFound", "System not found")
		return
	}
	acct := accountFrom(r.Context())
	if !auth.CanExecutePowerActions(acct) {
		writeErrorResponse(w, http.StatusForbidden, "Base.1.8.InsufficientPrivilege", "Account is not permitted to reset the system")
		return
	}
	var req redfish.ResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Base.1.8.MalformedJSON", "Malformed JSON")
		return
	}
	if req.ResetType == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Base.1.8.PropertyMissing", "ResetType is required")
		return
	}

	s.mu.Lock()
	err := s.power.apply(req.ResetType, s.clk.Now())
	if err == nil {
		s.resets = append(s.resets, req.ResetType)
	}
	state := s.power.state
	s.mu.Unlock()
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Base.1.8.ActionParameterNotSupported", err.Error())
		return
	}

	s.logger.Info("reset accepted", "reset_type", req.ResetType, "power_state", state, "by", acct.Username)
	w.Header().Set("OData-Version", "4.0")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleChassisCollection(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, redfish.Collection{
		ODataContext: "/redfish/v1/$metadata#ChassisCollection.ChassisCollection",
		ODataID:      "/redfish/v1/Chassis",
		ODataType:    "#ChassisCollection.ChassisCollection",
		Name:         "Chassis Collection",
		Members:      []redfish.ODataIDRef{{ODataID: s.chassisPath()}},
		MembersCount: 1,
	})
}

func (s *Server) handleGetChassis(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "id") != s.cfg.ChassisID {
		writeErrorResponse(w, http.StatusNotFound, "Base.1.8.ResourceNotFound", "Chassis not found")
		return
	}
	s.mu.Lock()
	state := s.power.current(s.clk.Now())
	s.mu.Unlock()

	ch := redfish.Chassis{
		ODataContext: "/redfish/v1/$metadata#Chassis.Chassis",
		ODataID:      s.chassisPath(),
		ODataType:    "#Chassis.v1_10_0.Chassis",
		ID:           s.cfg.ChassisID,
		Name:         "Simulated Chassis",
		ChassisType:  "RackMount",
		PowerState:   state,
		Status:       redfish.Status{State: "Enabled", Health: s.cfg.SystemHealth},
	}
	if s.cfg.ThermalEnabled {
		ch.Thermal = &redfish.ODataIDRef{ODataID: s.chassisPath() + "/Thermal"}
	}
	writeJSONResponse(w, http.StatusOK, ch)
}

func (s *Server) handleGetThermal(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.ThermalEnabled || chi.URLParam(r, "id") != s.cfg.ChassisID {
		writeErrorResponse(w, http.StatusNotFound, "Base.1.8.ResourceNotFound", "Thermal resource not found")
		return
	}
	s.mu.Lock()
	sensors := append([]Sensor(nil), s.sensors...)
	s.mu.Unlock()

	temps := make([]redfish.Temperature, 0, len(sensors))
	for i, sn := range sensors {
		temps = append(temps, redfish.Temperature{
			MemberID:       strconv.Itoa(i),
			Name:           sn.Name,
			ReadingCelsius: sn.Reading,
			Status:         redfish.Status{State: sn.State, Health: sn.Health},
		})
	}
	writeJSONResponse(w, http.StatusOK, redfish.Thermal{
		ODataContext: "/redfish/v1/$metadata#Thermal.Thermal",
		ODataID:      s.chassisPath() + "/Thermal",
		ODataType:    "#Thermal.v1_5_0.Thermal",
		ID:           "Thermal",
		Name:         "Thermal",
		Status:       redfish.Status{State: "Enabled", Health: s.cfg.SystemHealth},
		Temperatures: temps,
	})
}
