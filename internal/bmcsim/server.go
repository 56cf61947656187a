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

// Package bmcsim is a simulated Redfish BMC. It serves the SessionService,
// one ComputerSystem with a Reset action, one Chassis, and an optional
// Thermal resource, and enforces an account lockout policy.
package bmcsim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"shoalprobe/internal/clock"
	"shoalprobe/internal/database"
	"shoalprobe/internal/metrics"
	"shoalprobe/pkg/auth"
	"shoalprobe/pkg/models"
)

// Sensor is one simulated temperature sensor. A nil Reading is served as
// null.
type Sensor struct {
	Name    string
	Reading *float64
	State   string
	Health  string
}

// Config describes the simulated hardware and policy.
type Config struct {
	SystemID  string
	ChassisID string
	// InitialPowerState defaults to "On".
	InitialPowerState string
	// SystemHealth defaults to "OK".
	SystemHealth string
	// TransitionDelay is how long PoweringOn/PoweringOff last. Zero settles
	// immediately.
	TransitionDelay time.Duration
	// ThermalEnabled exposes Chassis/{id}/Thermal; otherwise it answers 404.
	ThermalEnabled bool
	Sensors        []Sensor
	// LockoutThreshold is the number of consecutive failures that lock an
	// account. Zero disables lockout.
	LockoutThreshold int
	LockoutDuration  time.Duration
	// BcryptCost is used when seeding accounts.
	BcryptCost int
	Clock      clock.Clock
	Logger     *slog.Logger
}

// DefaultConfig returns a healthy, powered-on system with three sensors and a
// lockout after three failures.
func DefaultConfig() Config {
	return Config{
		SystemID:          "system",
		ChassisID:         "chassis",
		InitialPowerState: "On",
		SystemHealth:      "OK",
		TransitionDelay:   5 * time.Second,
		ThermalEnabled:    true,
		Sensors: []Sensor{
			{Name: "CPU1 Temp", Reading: celsius(45), State: "Enabled", Health: "OK"},
			{Name: "CPU2 Temp", Reading: celsius(47), State: "Enabled", Health: "OK"},
			{Name: "Inlet Temp", Reading: celsius(24), State: "Enabled", Health: "OK"},
		},
		LockoutThreshold: 3,
		LockoutDuration:  5 * time.Minute,
		BcryptCost:       auth.DefaultCost,
	}
}

func celsius(v float64) *float64 { return &v }

// Server is the simulated BMC.
type Server struct {
	cfg    Config
	db     *database.DB
	clk    clock.Clock
	logger *slog.Logger
	router chi.Router

	mu      sync.Mutex
	power   powerModel
	sensors []Sensor
	resets  []string
}

// New migrates db and builds the router.
func New(ctx context.Context, cfg Config, db *database.DB) (*Server, error) {
	if db == nil {
		return nil, errors.New("bmcsim: database is required")
	}
	def := DefaultConfig()
	if cfg.SystemID == "" {
		cfg.SystemID = def.SystemID
	}
	if cfg.ChassisID == "" {
		cfg.ChassisID = def.ChassisID
	}
	if cfg.InitialPowerState == "" {
		cfg.InitialPowerState = def.InitialPowerState
	}
	if cfg.SystemHealth == "" {
		cfg.SystemHealth = def.SystemHealth
	}
	if cfg.LockoutThreshold < 0 {
		return nil, fmt.Errorf("bmcsim: negative lockout threshold %d", cfg.LockoutThreshold)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("bmcsim: migrate: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		db:      db,
		clk:     cfg.Clock,
		logger:  cfg.Logger,
		power:   powerModel{state: cfg.InitialPowerState, delay: cfg.TransitionDelay},
		sensors: append([]Sensor(nil), cfg.Sensors...),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// AddAccount creates an account with a bcrypt-hashed password.
func (s *Server) AddAccount(ctx context.Context, username, password, role string) error {
	if !auth.ValidRole(role) {
		return fmt.Errorf("bmcsim: invalid role %q", role)
	}
	hash, err := auth.HashPasswordCost(password, s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	return s.db.CreateAccount(ctx, &models.Account{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Enabled:      true,
	})
}

// PowerState returns the settled-as-of-now power state.
func (s *Server) PowerState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.power.current(s.clk.Now())
}

// SetPowerState forces the power state, cancelling any transition.
func (s *Server) SetPowerState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.power.state = state
	s.power.target = ""
}

// SetSensors replaces the simulated thermal sensors.
func (s *Server) SetSensors(sensors []Sensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors = append([]Sensor(nil), sensors...)
}

// Resets returns the ResetType of every accepted Reset action.
func (s *Server) Resets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.resets...)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.observe)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusNotFound, "Base.1.8.ResourceNotFound", "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Base.1.8.MethodNotAllowed", "Method not allowed")
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/redfish", s.handleVersions)
	r.Get("/redfish/v1", s.handleServiceRoot)
	r.Get("/redfish/v1/", s.handleServiceRoot)
	r.Post("/redfish/v1/SessionService/Sessions", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Get("/redfish/v1/SessionService", s.handleSessionService)
		r.Get("/redfish/v1/SessionService/Sessions", s.handleSessionsCollection)
		r.Get("/redfish/v1/SessionService/Sessions/{id}", s.handleGetSession)
		r.Delete("/redfish/v1/SessionService/Sessions/{id}", s.handleDeleteSession)

		r.Get("/redfish/v1/Systems", s.handleSystemsCollection)
		r.Get("/redfish/v1/Systems/{id}", s.handleGetSystem)
		r.Post("/redfish/v1/Systems/{id}/Actions/ComputerSystem.Reset", s.handleReset)

		r.Get("/redfish/v1/Chassis", s.handleChassisCollection)
		r.Get("/redfish/v1/Chassis/{id}", s.handleGetChassis)
		r.Get("/redfish/v1/Chassis/{id}/Thermal", s.handleGetThermal)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("bmcsim request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", statusOf(ww),
			"duration", time.Since(start))
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.ObserveSimRequest(route, statusOf(ww))
	})
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}
