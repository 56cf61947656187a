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

package auth

import (
	"shoalprobe/pkg/models"
)

// CanLogin checks if the account may open a session at all
func CanLogin(a *models.Account) bool {
	return a != nil && a.Enabled
}

// IsAdministrator checks if the account has the Administrator role
func IsAdministrator(a *models.Account) bool {
	return CanLogin(a) && a.Role == models.RoleAdministrator
}

// CanExecutePowerActions checks if the account can reset systems (Administrator or Operator)
func CanExecutePowerActions(a *models.Account) bool {
	return CanLogin(a) && (a.Role == models.RoleAdministrator || a.Role == models.RoleOperator)
}

// ValidRole reports whether role is one of the standard Redfish roles
func ValidRole(role string) bool {
	switch role {
	case models.RoleAdministrator, models.RoleOperator, models.RoleReadOnly:
		return true
	}
	return false
}
