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
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"shoalprobe/internal/bmcsim"
	"shoalprobe/internal/database"
	"shoalprobe/internal/logging"
	"shoalprobe/pkg/models"
)

// Config holds runtime configuration for the simulator.
// Flags take precedence over environment variables.
type Config struct {
	Addr             string        // BMCSIM_ADDR
	DBPath           string        // BMCSIM_DB
	TLSCert          string        // BMCSIM_TLS_CERT
	TLSKey           string        // BMCSIM_TLS_KEY
	AdminUser        string        // BMCSIM_ADMIN_USER
	AdminPassword    string        // BMCSIM_ADMIN_PASSWORD (do not log value)
	PowerState       string        // BMCSIM_POWER_STATE
	TransitionDelay  time.Duration // BMCSIM_TRANSITION_DELAY
	Thermal          bool          // BMCSIM_THERMAL
	LockoutThreshold int           // BMCSIM_LOCKOUT_THRESHOLD
	LockoutDuration  time.Duration // BMCSIM_LOCKOUT_DURATION
	LogLevel         string        // BMCSIM_LOG_LEVEL
}

func defaultConfig() Config {
	sim := bmcsim.DefaultConfig()
	return Config{
		Addr:             ":8443",
		DBPath:           ":memory:",
		AdminUser:        "admin",
		AdminPassword:    "admin",
		PowerState:       sim.InitialPowerState,
		TransitionDelay:  sim.TransitionDelay,
		Thermal:          sim.ThermalEnabled,
		LockoutThreshold: sim.LockoutThreshold,
		LockoutDuration:  sim.LockoutDuration,
		LogLevel:         "info",
	}
}

// parseConfig builds the Config from env + flags.
func parseConfig() Config {
	def := defaultConfig()

	cfg := Config{
		Addr:             getenv("BMCSIM_ADDR", def.Addr),
		DBPath:           getenv("BMCSIM_DB", def.DBPath),
		TLSCert:          getenv("BMCSIM_TLS_CERT", def.TLSCert),
		TLSKey:           getenv("BMCSIM_TLS_KEY", def.TLSKey),
		AdminUser:        getenv("BMCSIM_ADMIN_USER", def.AdminUser),
		AdminPassword:    getenv("BMCSIM_ADMIN_PASSWORD", def.AdminPassword),
		PowerState:       getenv("BMCSIM_POWER_STATE", def.PowerState),
		TransitionDelay:  getenvDuration("BMCSIM_TRANSITION_DELAY", def.TransitionDelay),
		Thermal:          getenvBool("BMCSIM_THERMAL", def.Thermal),
		LockoutThreshold: getenvInt("BMCSIM_LOCKOUT_THRESHOLD", def.LockoutThreshold),
		LockoutDuration:  getenvDuration("BMCSIM_LOCKOUT_DURATION", def.LockoutDuration),
		LogLevel:         getenv("BMCSIM_LOG_LEVEL", def.LogLevel),
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address (env BMCSIM_ADDR)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite account database path (env BMCSIM_DB)")
	flag.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS certificate file; serves plain HTTP when empty (env BMCSIM_TLS_CERT)")
	flag.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS key file (env BMCSIM_TLS_KEY)")
	flag.StringVar(&cfg.AdminUser, "admin-user", cfg.AdminUser, "Administrator account created on an empty database (env BMCSIM_ADMIN_USER)")
	flag.StringVar(&cfg.AdminPassword, "admin-password", cfg.AdminPassword, "Administrator password (env BMCSIM_ADMIN_PASSWORD)")
	flag.StringVar(&cfg.PowerState, "power-state", cfg.PowerState, "Initial power state: On|Off (env BMCSIM_POWER_STATE)")
	flag.DurationVar(&cfg.TransitionDelay, "transition-delay", cfg.TransitionDelay, "Duration of PoweringOn/PoweringOff (env BMCSIM_TRANSITION_DELAY)")
	flag.BoolVar(&cfg.Thermal, "thermal", cfg.Thermal, "Expose the Thermal resource (env BMCSIM_THERMAL)")
	flag.IntVar(&cfg.LockoutThreshold, "lockout-threshold", cfg.LockoutThreshold, "Failed logins before lockout; 0 disables (env BMCSIM_LOCKOUT_THRESHOLD)")
	flag.DurationVar(&cfg.LockoutDuration, "lockout-duration", cfg.LockoutDuration, "Lockout duration (env BMCSIM_LOCKOUT_DURATION)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error (env BMCSIM_LOG_LEVEL)")

	flag.Parse()
	return cfg
}

func main() {
	cfg := parseConfig()

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx := context.Background()

	db, err := database.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	simCfg := bmcsim.DefaultConfig()
	simCfg.InitialPowerState = cfg.PowerState
	simCfg.TransitionDelay = cfg.TransitionDelay
	simCfg.ThermalEnabled = cfg.Thermal
	simCfg.LockoutThreshold = cfg.LockoutThreshold
	simCfg.LockoutDuration = cfg.LockoutDuration
	simCfg.Logger = logger

	sim, err := bmcsim.New(ctx, simCfg, db)
	if err != nil {
		slog.Error("Failed to initialize simulator", "error", err)
		os.Exit(1)
	}

	if err := createDefaultAdmin(ctx, db, sim, cfg); err != nil {
		slog.Error("Failed to create default admin account", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      sim.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Starting simulated BMC", "addr", cfg.Addr, "tls", cfg.TLSCert != "", "power_state", cfg.PowerState)
		var err error
		if cfg.TLSCert != "" {
			err = server.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down simulator...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Simulator exited")
}

// createDefaultAdmin seeds an administrator when the database has no
// accounts.
func createDefaultAdmin(ctx context.Context, db *database.DB, sim *bmcsim.Server, cfg Config) error {
	count, err := db.CountAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count accounts: %w", err)
	}
	if count > 0 {
		return nil
	}
	if err := sim.AddAccount(ctx, cfg.AdminUser, cfg.AdminPassword, models.RoleAdministrator); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}
	slog.Info("Created default admin account", "username", cfg.AdminUser)
	if cfg.AdminPassword == "admin" {
		slog.Warn("Using default admin password")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
