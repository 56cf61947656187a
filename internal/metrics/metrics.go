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

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	redfishRequests        *prometheus.CounterVec
	redfishRequestDuration *prometheus.HistogramVec
	verifyPolls            *prometheus.HistogramVec
	verifyDuration         *prometheus.HistogramVec
	lockoutVerdicts        *prometheus.CounterVec
	simRequests            *prometheus.CounterVec
)

const (
	OpSessionLogin   = "session.login"
	OpSessionLogout  = "session.logout"
	OpServiceRoot    = "service_root"
	OpDiscover       = "discover"
	OpReadResource   = "resource.read"
	OpReadThermal    = "resource.thermal"
	OpInvokeAction   = "action.invoke"
	OpLockoutAttempt = "lockout.attempt"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all metrics collectors.
// Primarily used by tests to ensure clean state.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current registry in the text exposition format,
// suitable for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return prometheus.WriteToTextfile(path, registry)
}

// Gatherer exposes the registry for tests.
func Gatherer() prometheus.Gatherer {
	mu.RLock()
	defer mu.RUnlock()
	return reg
}

// ObserveRedfishRequest records a completed Redfish HTTP exchange.
// code should be the HTTP status code; use negative values to indicate errors.
func ObserveRedfishRequest(op, vendor string, code int, duration time.Duration) {
	labelsOp := sanitizeLabel(op, "unknown")
	labelsVendor := sanitizeVendor(vendor)
	status := "error"
	if code >= 0 {
		status = strconv.Itoa(code)
	}

	mu.RLock()
	defer mu.RUnlock()
	if redfishRequests != nil {
		redfishRequests.WithLabelValues(labelsOp, status, labelsVendor).Inc()
	}
	if redfishRequestDuration != nil {
		redfishRequestDuration.WithLabelValues(labelsOp, labelsVendor).Observe(durationSeconds(duration))
	}
}

// ObserveVerification records one state-transition verification run.
// outcome is "matched", "timeout", or "error".
func ObserveVerification(outcome string, polls int, duration time.Duration) {
	label := sanitizeLabel(outcome, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if verifyPolls != nil {
		verifyPolls.WithLabelValues(label).Observe(float64(polls))
	}
	if verifyDuration != nil {
		verifyDuration.WithLabelValues(label).Observe(durationSeconds(duration))
	}
}

// IncLockoutVerdict counts a terminal lockout-detector verdict.
func IncLockoutVerdict(verdict string) {
	label := sanitizeLabel(verdict, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if lockoutVerdicts != nil {
		lockoutVerdicts.WithLabelValues(label).Inc()
	}
}

// ObserveSimRequest counts a request served by the simulated BMC.
func ObserveSimRequest(route string, code int) {
	labelRoute := sanitizeLabel(route, "unknown")

	mu.RLock()
	defer mu.RUnlock()
	if simRequests != nil {
		simRequests.WithLabelValues(labelRoute, strconv.Itoa(code)).Inc()
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shoal",
		Subsystem: "probe",
		Name:      "redfish_requests_total",
		Help:      "Total Redfish HTTP requests grouped by operation, status code, and vendor.",
	}, []string{"op", "code", "vendor"})

	reqDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shoal",
		Subsystem: "probe",
		Name:      "redfish_request_duration_seconds",
		Help:      "Duration of Redfish HTTP requests by operation and vendor.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"op", "vendor"})

	polls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shoal",
		Subsystem: "probe",
		Name:      "transition_polls",
		Help:      "Number of polls per state-transition verification by outcome.",
		Buckets:   []float64{1, 2, 3, 5, 10, 20, 50, 100},
	}, []string{"outcome"})

	verifyHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shoal",
		Subsystem: "probe",
		Name:      "transition_duration_seconds",
		Help:      "Time spent verifying a state transition by outcome.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"outcome"})

	verdicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shoal",
		Subsystem: "probe",
		Name:      "lockout_verdicts_total",
		Help:      "Lockout detector verdicts by terminal state.",
	}, []string{"verdict"})

	sim := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shoal",
		Subsystem: "bmcsim",
		Name:      "requests_total",
		Help:      "Requests served by the simulated BMC by route and status code.",
	}, []string{"route", "code"})

	registry.MustRegister(reqTotal, reqDuration, polls, verifyHist, verdicts, sim)

	reg = registry
	redfishRequests = reqTotal
	redfishRequestDuration = reqDuration
	verifyPolls = polls
	verifyDuration = verifyHist
	lockoutVerdicts = verdicts
	simRequests = sim
}

func sanitizeVendor(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sanitizeLabel(v string, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
