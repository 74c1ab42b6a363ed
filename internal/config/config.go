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
Package config provides configuration management for the proccom broker.

CONFIGURATION SOURCES (in order of precedence):
===============================================
1. Command-line flags (highest priority)
2. Environment variables (PROCCOM_* prefix)
3. Configuration file (JSON, or YAML when the file ends in .yaml/.yml)
4. Default values (lowest priority)

EXAMPLE CONFIGURATION FILE:
===========================

	bind_addr: 127.0.0.1:5000
	poll_interval_ms: 1000
	ws:
	  enabled: true
	  addr: :5080
	observability:
	  metrics:
	    enabled: true
*/
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names
const (
	EnvBindAddr         = "PROCCOM_BIND_ADDR"
	EnvNodeID           = "PROCCOM_NODE_ID"
	EnvLogLevel         = "PROCCOM_LOG_LEVEL"
	EnvLogJSON          = "PROCCOM_LOG_JSON"
	EnvPollInterval     = "PROCCOM_POLL_INTERVAL_MS"
	EnvHandshakeTimeout = "PROCCOM_HANDSHAKE_TIMEOUT_MS"
	EnvWriteTimeout     = "PROCCOM_WRITE_TIMEOUT_MS"
	EnvMaxDocumentSize  = "PROCCOM_MAX_DOCUMENT_SIZE"
	EnvReusePort        = "PROCCOM_REUSE_PORT"

	EnvTLSEnabled  = "PROCCOM_TLS_ENABLED"
	EnvTLSCertFile = "PROCCOM_TLS_CERT_FILE"
	EnvTLSKeyFile  = "PROCCOM_TLS_KEY_FILE"
	EnvTLSCAFile   = "PROCCOM_TLS_CA_FILE"

	EnvWSEnabled = "PROCCOM_WS_ENABLED"
	EnvWSAddr    = "PROCCOM_WS_ADDR"
	EnvWSPath    = "PROCCOM_WS_PATH"

	EnvDiscoveryEnabled  = "PROCCOM_DISCOVERY_ENABLED"
	EnvDiscoveryInstance = "PROCCOM_DISCOVERY_INSTANCE"

	EnvMetricsEnabled = "PROCCOM_METRICS_ENABLED"
	EnvMetricsAddr    = "PROCCOM_METRICS_ADDR"
	EnvHealthEnabled  = "PROCCOM_HEALTH_ENABLED"
	EnvHealthAddr     = "PROCCOM_HEALTH_ADDR"
	EnvHealthGRPCAddr = "PROCCOM_HEALTH_GRPC_ADDR"
	EnvAdminEnabled   = "PROCCOM_ADMIN_ENABLED"
	EnvAdminAddr      = "PROCCOM_ADMIN_ADDR"
)

// Default paths searched by cmd/proccom when -config is not given.
var DefaultConfigPaths = []string{
	"/etc/proccom/proccom.yaml",
	"$HOME/.config/proccom/proccom.yaml",
	"./proccom.yaml",
}

// SecurityConfig holds TLS settings for the client listener.
type SecurityConfig struct {
	TLSEnabled  bool   `json:"tls_enabled" yaml:"tls_enabled"`
	TLSCertFile string `json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file" yaml:"tls_key_file"`
	TLSCAFile   string `json:"tls_ca_file" yaml:"tls_ca_file"` // enables client certificate verification
}

// WSConfig holds WebSocket gateway configuration.
type WSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Addr           string   `json:"addr" yaml:"addr"`
	Path           string   `json:"path" yaml:"path"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// DiscoveryConfig holds mDNS advertisement configuration.
type DiscoveryConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Instance string `json:"instance" yaml:"instance"` // defaults to node_id
	Service  string `json:"service" yaml:"service"`
	Domain   string `json:"domain" yaml:"domain"`
}

// MetricsConfig holds Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// HealthConfig holds health endpoint configuration.
type HealthConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"` // empty disables the gRPC health service
}

// AdminConfig holds the read-only admin API configuration.
type AdminConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// ObservabilityConfig groups the observability endpoints.
type ObservabilityConfig struct {
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Health  HealthConfig  `json:"health" yaml:"health"`
	Admin   AdminConfig   `json:"admin" yaml:"admin"`
}

// Config is the complete broker configuration.
type Config struct {
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`
	NodeID   string `json:"node_id" yaml:"node_id"`

	LogLevel string `json:"log_level" yaml:"log_level"`
	LogJSON  bool   `json:"log_json" yaml:"log_json"`

	// Connection behavior
	PollIntervalMs     int64  `json:"poll_interval_ms" yaml:"poll_interval_ms"`         // bound on every blocking read
	HandshakeTimeoutMs int64  `json:"handshake_timeout_ms" yaml:"handshake_timeout_ms"` // time allowed for the first frame
	WriteTimeoutMs     int64  `json:"write_timeout_ms" yaml:"write_timeout_ms"`         // bound on every frame write
	MaxDocumentSize    uint32 `json:"max_document_size" yaml:"max_document_size"`
	ReusePort          bool   `json:"reuse_port" yaml:"reuse_port"`

	Security      SecurityConfig      `json:"security" yaml:"security"`
	WS            WSConfig            `json:"ws" yaml:"ws"`
	Discovery     DiscoveryConfig     `json:"discovery" yaml:"discovery"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`

	// Metadata
	ConfigFile string `json:"-" yaml:"-"`
}

// DefaultConfig returns defaults.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		BindAddr:           "127.0.0.1:5000",
		NodeID:             hostname,
		LogLevel:           "info",
		LogJSON:            false,
		PollIntervalMs:     1000,
		HandshakeTimeoutMs: 5000,
		WriteTimeoutMs:     10000,
		MaxDocumentSize:    4 * 1024 * 1024,
		WS: WSConfig{
			Enabled: false,
			Addr:    ":5080",
			Path:    "/ws",
		},
		Discovery: DiscoveryConfig{
			Enabled: false,
			Service: "_proccom._tcp",
			Domain:  "local.",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: false,
				Addr:    ":5094",
			},
			Health: HealthConfig{
				Enabled:  true,
				Addr:     ":5095",
				GRPCAddr: "",
			},
			Admin: AdminConfig{
				Enabled: false,
				Addr:    ":5096",
			},
		},
	}
}

// PollInterval returns the read poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// HandshakeTimeout returns the time allowed for a client's first frame.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

// WriteTimeout returns the bound on a single frame write.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// Manager handles configuration loading.
type Manager struct {
	config *Config
	mu     sync.RWMutex
}

var globalManager = NewManager()

// NewManager returns a manager holding the defaults.
func NewManager() *Manager {
	return &Manager{config: DefaultConfig()}
}

// Global returns the global manager.
func Global() *Manager {
	return globalManager
}

// Get returns a copy of current config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Set updates the config.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the defaults.
func (m *Manager) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.ConfigFile = path
	m.Set(cfg)
	return nil
}

// FindConfigFile returns the first existing entry of DefaultConfigPaths.
func FindConfigFile() string {
	for _, p := range DefaultConfigPaths {
		p = os.ExpandEnv(p)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadFromEnv loads configuration from environment variables.
func (m *Manager) LoadFromEnv() {
	cfg := m.Get()

	if v := os.Getenv(EnvBindAddr); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv(EnvNodeID); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		cfg.LogJSON = parseBool(v)
	}
	if v := os.Getenv(EnvPollInterval); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.PollIntervalMs = i
		}
	}
	if v := os.Getenv(EnvHandshakeTimeout); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.HandshakeTimeoutMs = i
		}
	}
	if v := os.Getenv(EnvWriteTimeout); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.WriteTimeoutMs = i
		}
	}
	if v := os.Getenv(EnvMaxDocumentSize); v != "" {
		if i, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.MaxDocumentSize = uint32(i)
		}
	}
	if v := os.Getenv(EnvReusePort); v != "" {
		cfg.ReusePort = parseBool(v)
	}

	// Security
	if v := os.Getenv(EnvTLSEnabled); v != "" {
		cfg.Security.TLSEnabled = parseBool(v)
	}
	if v := os.Getenv(EnvTLSCertFile); v != "" {
		cfg.Security.TLSCertFile = v
	}
	if v := os.Getenv(EnvTLSKeyFile); v != "" {
		cfg.Security.TLSKeyFile = v
	}
	if v := os.Getenv(EnvTLSCAFile); v != "" {
		cfg.Security.TLSCAFile = v
	}

	// WebSocket gateway
	if v := os.Getenv(EnvWSEnabled); v != "" {
		cfg.WS.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvWSAddr); v != "" {
		cfg.WS.Addr = v
	}
	if v := os.Getenv(EnvWSPath); v != "" {
		cfg.WS.Path = v
	}

	// Discovery
	if v := os.Getenv(EnvDiscoveryEnabled); v != "" {
		cfg.Discovery.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvDiscoveryInstance); v != "" {
		cfg.Discovery.Instance = v
	}

	// Observability
	if v := os.Getenv(EnvMetricsEnabled); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.Observability.Metrics.Addr = v
	}
	if v := os.Getenv(EnvHealthEnabled); v != "" {
		cfg.Observability.Health.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvHealthAddr); v != "" {
		cfg.Observability.Health.Addr = v
	}
	if v, ok := os.LookupEnv(EnvHealthGRPCAddr); ok {
		// Allow explicitly setting to empty to disable the gRPC service
		cfg.Observability.Health.GRPCAddr = v
	}
	if v := os.Getenv(EnvAdminEnabled); v != "" {
		cfg.Observability.Admin.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvAdminAddr); v != "" {
		cfg.Observability.Admin.Addr = v
	}

	m.Set(cfg)
}

func parseBool(v string) bool {
	return strings.ToLower(v) == "true" || v == "1"
}

// Finalize fills derived settings after loading.
func (c *Config) Finalize() {
	if c.Discovery.Instance == "" {
		c.Discovery.Instance = c.NodeID
	}
	if c.WS.Path == "" {
		c.WS.Path = "/ws"
	}
	if c.WS.Path[0] != '/' {
		c.WS.Path = "/" + c.WS.Path
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("bind_addr is required")
	}
	if _, _, err := net.SplitHostPort(c.BindAddr); err != nil {
		return fmt.Errorf("bind_addr %q: %w", c.BindAddr, err)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive")
	}
	if c.HandshakeTimeoutMs <= 0 {
		return fmt.Errorf("handshake_timeout_ms must be positive")
	}
	if c.WriteTimeoutMs < 0 {
		return fmt.Errorf("write_timeout_ms must be non-negative")
	}
	if c.MaxDocumentSize == 0 {
		return fmt.Errorf("max_document_size must be positive")
	}

	if c.Security.TLSEnabled {
		if c.Security.TLSCertFile == "" {
			return fmt.Errorf("tls_cert_file is required when TLS is enabled")
		}
		if c.Security.TLSKeyFile == "" {
			return fmt.Errorf("tls_key_file is required when TLS is enabled")
		}
	}

	if c.WS.Enabled && c.WS.Addr == "" {
		return fmt.Errorf("ws.addr is required when the WebSocket gateway is enabled")
	}
	if c.Discovery.Enabled && c.Discovery.Service == "" {
		return fmt.Errorf("discovery.service is required when discovery is enabled")
	}
	if c.Observability.Metrics.Enabled && c.Observability.Metrics.Addr == "" {
		return fmt.Errorf("observability.metrics.addr is required when metrics are enabled")
	}
	if c.Observability.Health.Enabled && c.Observability.Health.Addr == "" {
		return fmt.Errorf("observability.health.addr is required when health checks are enabled")
	}
	if c.Observability.Admin.Enabled && c.Observability.Admin.Addr == "" {
		return fmt.Errorf("observability.admin.addr is required when the admin API is enabled")
	}
	return nil
}

// IsTLSEnabled returns true if TLS is properly configured and enabled.
func (c *Config) IsTLSEnabled() bool {
	return c.Security.TLSEnabled &&
		c.Security.TLSCertFile != "" &&
		c.Security.TLSKeyFile != ""
}

// Port returns the numeric port of the bind address, or 0 if it has none.
func (c *Config) Port() int {
	_, port, err := net.SplitHostPort(c.BindAddr)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}
