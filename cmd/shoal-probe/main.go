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
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"shoalprobe/internal/config"
	"shoalprobe/internal/logging"
	"shoalprobe/internal/metrics"
	"shoalprobe/internal/probe"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse("shoal-probe", os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "shoal-probe: %v\n", err)
		return 2
	}

	logger := logging.NewWithWriter(os.Stderr, cfg.Output.LogLevel, cfg.Output.LogFormat)
	slog.SetDefault(logger)

	if cfg.Target.InsecureTLS {
		slog.Warn("TLS certificate verification is disabled", "endpoint", cfg.Target.Endpoint)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := probe.NewRunner(cfg, probe.Options{Logger: logger})
	if err != nil {
		slog.Error("Failed to initialize probe", "error", err)
		return 2
	}
	report := runner.Run(ctx)

	if err := report.WriteText(os.Stdout); err != nil {
		slog.Error("Failed to write report", "error", err)
	}
	if cfg.Output.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.Output.MetricsTextfile); err != nil {
			slog.Error("Failed to write metrics textfile", "path", cfg.Output.MetricsTextfile, "error", err)
		}
	}

	if ctx.Err() != nil {
		slog.Warn("Probe interrupted")
		return 130
	}
	if report.Failed() {
		return 1
	}
	return 0
}
