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

package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"shoalprobe/internal/bmcsim"
	"shoalprobe/internal/database"
)

func TestCreateDefaultAdmin_OnlyOnEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	simCfg := bmcsim.DefaultConfig()
	simCfg.BcryptCost = bcrypt.MinCost
	simCfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	sim, err := bmcsim.New(ctx, simCfg, db)
	if err != nil {
		t.Fatalf("bmcsim.New: %v", err)
	}

	cfg := defaultConfig()
	cfg.AdminUser = "root"
	cfg.AdminPassword = "calvin"
	for i := 0; i < 2; i++ {
		if err := createDefaultAdmin(ctx, db, sim, cfg); err != nil {
			t.Fatalf("createDefaultAdmin run %d: %v", i+1, err)
		}
	}
	count, err := db.CountAccounts(ctx)
	if err != nil {
		t.Fatalf("CountAccounts: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one account, got %d", count)
	}
	acct, err := db.GetAccountByUsername(ctx, "root")
	if err != nil || acct == nil {
		t.Fatalf("GetAccountByUsername: %v, %v", acct, err)
	}
	if acct.Role != "Administrator" {
		t.Fatalf("unexpected role %q", acct.Role)
	}
}

func TestGetenvHelpers(t *testing.T) {
	t.Setenv("BMCSIM_TEST_BOOL", "nope")
	t.Setenv("BMCSIM_TEST_INT", "7")
	if got := getenvBool("BMCSIM_TEST_BOOL", true); !got {
		t.Fatal("unparsable bool must fall back to default")
	}
	if got := getenvInt("BMCSIM_TEST_INT", 3); got != 7 {
		t.Fatalf("getenvInt = %d", got)
	}
}
