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
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"shoalprobe/pkg/models"
)

func TestHashPasswordCost(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "Valid password",
			password: "password123",
			wantErr:  false,
		},
		{
			name:     "Long password (within bcrypt limit)",
			password: strings.Repeat("a", 72),
			wantErr:  false,
		},
		{
			name:     "Password exceeding bcrypt limit",
			password: strings.Repeat("a", 100),
			wantErr:  true,
		},
		{
			name:     "Empty password",
			password: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPasswordCost(tt.password, bcrypt.MinCost)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPasswordCost() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				if hash == tt.password {
					t.Error("HashPasswordCost() returned plaintext password")
				}
				if !IsHashed(hash) {
					t.Error("HashPasswordCost() returned invalid hash format")
				}
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPasswordCost("calvin", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := VerifyPassword("calvin", hash); err != nil {
		t.Fatalf("VerifyPassword(correct) = %v", err)
	}
	if err := VerifyPassword("wrong", hash); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("VerifyPassword(wrong) = %v, want ErrInvalidPassword", err)
	}
	if err := VerifyPassword("", hash); err == nil {
		t.Fatal("VerifyPassword(empty) should fail")
	}
}

func TestIsHashed(t *testing.T) {
	if IsHashed("calvin") {
		t.Error("plaintext reported as hashed")
	}
	if !IsHashed("$2a$04$" + strings.Repeat("x", 53)) {
		t.Error("bcrypt-shaped string not recognised")
	}
}

func TestRoles(t *testing.T) {
	admin := &models.Account{Role: models.RoleAdministrator, Enabled: true}
	op := &models.Account{Role: models.RoleOperator, Enabled: true}
	ro := &models.Account{Role: models.RoleReadOnly, Enabled: true}
	disabled := &models.Account{Role: models.RoleAdministrator, Enabled: false}

	if !CanExecutePowerActions(admin) || !CanExecutePowerActions(op) {
		t.Error("Administrator and Operator must be able to reset")
	}
	if CanExecutePowerActions(ro) || CanExecutePowerActions(disabled) || CanExecutePowerActions(nil) {
		t.Error("ReadOnly, disabled and nil accounts must not reset")
	}
	if !IsAdministrator(admin) || IsAdministrator(op) {
		t.Error("IsAdministrator mismatch")
	}
	if ValidRole("admin") || !ValidRole(models.RoleReadOnly) {
		t.Error("ValidRole mismatch")
	}
}
