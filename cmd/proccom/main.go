/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
proccom broker - Main Entry Point.

USAGE:
======

	proccom [options]

OPTIONS:
========

	-config string    Path to configuration file (JSON or YAML)
	-bind string      Listen address, overrides config and environment
	-version          Show version information
	-help             Show help message

Settings are layered: flags over PROCCOM_* environment variables over the
config file over built-in defaults.

STARTUP SEQUENCE:
=================
1. Parse command line flags and config file
2. Initialize logging
3. Start broker
4. Start WebSocket gateway and mDNS announcement if enabled
5. Start metrics, health and admin endpoints
6. Wait for shutdown signal
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"proccom/internal/admin"
	"proccom/internal/banner"
	"proccom/internal/broker"
	"proccom/internal/config"
	"proccom/internal/discovery"
	"proccom/internal/health"
	"proccom/internal/logging"
	"proccom/internal/metrics"
	"proccom/internal/ws"
)

// maxHealthyConnections marks the broker degraded above this many clients.
const maxHealthyConnections = 10000

func printHelp() {
	banner.Print()
	fmt.Println("\033[1;36mUsage:\033[0m")
	fmt.Println("  proccom [options]")
	fmt.Println()
	fmt.Println("\033[1;36mOptions:\033[0m")
	fmt.Println("  -config string    Path to configuration file (JSON or YAML)")
	fmt.Println("  -bind string      Listen address (default 127.0.0.1:5000)")
	fmt.Println("  -human-readable   Use human-readable log format instead of JSON")
	fmt.Println("  -quiet            Skip banner and config display, output logs only")
	fmt.Println("  -version          Show version information")
	fmt.Println("  -help, -h         Show this help message")
	fmt.Println()
	fmt.Println("\033[1;36mEnvironment Variables:\033[0m")
	fmt.Println("  PROCCOM_BIND_ADDR          Listen address")
	fmt.Println("  PROCCOM_NODE_ID            Node identifier (default: hostname)")
	fmt.Println("  PROCCOM_LOG_LEVEL          Log level: debug, info, warn, error")
	fmt.Println("  PROCCOM_LOG_JSON           Enable JSON log output")
	fmt.Println("  PROCCOM_POLL_INTERVAL_MS   Bound on blocking reads in milliseconds")
	fmt.Println("  PROCCOM_TLS_ENABLED        Enable TLS (true/false)")
	fmt.Println("  PROCCOM_TLS_CERT_FILE      Path to TLS certificate file")
	fmt.Println("  PROCCOM_TLS_KEY_FILE       Path to TLS private key file")
	fmt.Println("  PROCCOM_TLS_CA_FILE        Path to CA certificate for client auth")
	fmt.Println("  PROCCOM_WS_ENABLED         Enable the WebSocket gateway")
	fmt.Println("  PROCCOM_DISCOVERY_ENABLED  Announce the broker over mDNS")
	fmt.Println("  PROCCOM_METRICS_ENABLED    Serve Prometheus metrics")
	fmt.Println("  PROCCOM_HEALTH_ENABLED     Serve health endpoints")
	fmt.Println("  PROCCOM_ADMIN_ENABLED      Serve the read-only admin API")
	fmt.Println()
	fmt.Println("\033[1;36mExamples:\033[0m")
	fmt.Println("  # Start with default settings")
	fmt.Println("  proccom")
	fmt.Println()
	fmt.Println("  # Listen on all interfaces with human-readable logs")
	fmt.Println("  proccom -bind 0.0.0.0:5000 -human-readable")
	fmt.Println()
	fmt.Println("  # Start with a config file")
	fmt.Println("  proccom -config /etc/proccom/proccom.yaml")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-h" || arg == "--help" || arg == "-help" || arg == "help" {
			printHelp()
			return
		}
	}

	configPath := flag.String("config", "", "Path to configuration file")
	bindAddr := flag.String("bind", "", "Listen address")
	humanReadable := flag.Bool("human-readable", false, "Use human-readable log format instead of JSON")
	quietMode := flag.Bool("quiet", false, "Skip banner and config display, output logs only")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printHelp
	flag.Parse()

	if *showVersion {
		banner.Print()
		return
	}

	cfgMgr := config.Global()
	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if path != "" {
		if err := cfgMgr.LoadFromFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
			os.Exit(1)
		}
	}
	cfgMgr.LoadFromEnv()
	cfg := cfgMgr.Get()

	if *bindAddr != "" {
		cfg.BindAddr = *bindAddr
	}
	if *humanReadable {
		cfg.LogJSON = false
	}
	cfg.Finalize()

	if !*quietMode {
		banner.PrintServerWithConfig(cfg)
	}

	logging.Configure(cfg.LogLevel, cfg.LogJSON)
	logger := logging.NewLogger("main")
	logger.Info("Starting proccom", "version", banner.Version, "node_id", cfg.NodeID)

	b, err := broker.NewBroker(cfg)
	if err != nil {
		logger.Error("Failed to initialize broker", "error", err)
		os.Exit(1)
	}
	if err := b.Start(); err != nil {
		logger.Error("Failed to start broker", "error", err)
		os.Exit(1)
	}

	var gateway *ws.Gateway
	if cfg.WS.Enabled {
		gateway, err = startGateway(cfg, b)
		if err != nil {
			logger.Error("Failed to start WebSocket gateway", "error", err)
		}
	}

	advertiser, err := discovery.Advertise(cfg.Discovery, cfg.NodeID, cfg.Port(), banner.Version)
	if err != nil {
		logger.Error("Failed to start mDNS announcement", "error", err)
	}

	// ========================================================================
	// Observability Services
	// ========================================================================

	var metricsServer *metrics.Server
	if cfg.Observability.Metrics.Enabled {
		metricsServer = metrics.NewServer(&cfg.Observability.Metrics)
		if err := metricsServer.Start(); err != nil {
			logger.Error("Failed to start metrics server", "error", err)
			metricsServer = nil
		}
	}

	var healthServer *health.Server
	if cfg.Observability.Health.Enabled {
		checker := health.NewChecker(banner.Version)
		checker.RegisterCheck("listener", health.ListenerCheck(b.Running))
		checker.RegisterCheck("connections", health.ConnectionCheck(maxHealthyConnections, metrics.Get().ActiveConnections.Load))
		healthServer = health.NewServer(&cfg.Observability.Health, checker)
		if err := healthServer.Start(); err != nil {
			logger.Error("Failed to start health server", "error", err)
			healthServer = nil
		}
	}

	var adminServer *admin.Server
	if cfg.Observability.Admin.Enabled {
		adminServer = admin.NewServer(&cfg.Observability.Admin, broker.NewAdminHandler(b, banner.Version))
		if err := adminServer.Start(); err != nil {
			logger.Error("Failed to start admin API server", "error", err)
			adminServer = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down...")

	if err := advertiser.Shutdown(); err != nil {
		logger.Error("Error stopping mDNS announcement", "error", err)
	}
	if adminServer != nil {
		if err := adminServer.Stop(); err != nil {
			logger.Error("Error stopping admin API server", "error", err)
		}
	}
	if healthServer != nil {
		if err := healthServer.Stop(); err != nil {
			logger.Error("Error stopping health server", "error", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error("Error stopping metrics server", "error", err)
		}
	}
	if gateway != nil {
		if err := gateway.Stop(); err != nil {
			logger.Error("Error stopping WebSocket gateway", "error", err)
		}
	}
	if err := b.Stop(); err != nil {
		logger.Error("Error stopping broker", "error", err)
	}
}

// startGateway serves WebSocket clients, over TLS when the broker uses TLS.
func startGateway(cfg *config.Config, b *broker.Broker) (*ws.Gateway, error) {
	g := ws.NewGateway(&cfg.WS, b, b.TLSConfig())
	if err := g.Start(); err != nil {
		return nil, err
	}
	return g, nil
}
