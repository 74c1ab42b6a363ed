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
Package health provides liveness and readiness checks for the proccom broker.

ENDPOINTS:
==========
- /health        full check report (JSON)
- /health/live   process liveness, always 200 while serving
- /health/ready  200 when no check is unhealthy, 503 otherwise

The same aggregate status is published through the standard gRPC health
service (grpc.health.v1.Health) when a gRPC address is configured, so
orchestrators that probe over gRPC see the broker as SERVING or NOT_SERVING.
*/
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"proccom/internal/config"
	"proccom/internal/logging"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Status is the outcome of a check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ServiceName is the gRPC health service name the broker reports under.
const ServiceName = "proccom.Broker"

// CheckResult is the result of one check.
type CheckResult struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// CheckFunc performs a single check.
type CheckFunc func() CheckResult

// Response is the aggregate report.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Checker runs registered checks.
type Checker struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	version   string
	startTime time.Time
}

// NewChecker creates a checker reporting version.
func NewChecker(version string) *Checker {
	return &Checker{
		checks:    make(map[string]CheckFunc),
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterCheck adds or replaces a named check.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

// RunChecks runs every check. The aggregate status is the worst individual status.
func (c *Checker) RunChecks() Response {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()
	sort.Strings(names)

	resp := Response{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(names)),
	}

	for _, name := range names {
		start := time.Now()
		result := checks[name]()
		result.Duration = time.Since(start).String()
		resp.Checks[name] = result

		switch result.Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}
	return resp
}

// IsHealthy reports whether no check is unhealthy or degraded.
func (c *Checker) IsHealthy() bool {
	return c.RunChecks().Status == StatusHealthy
}

// ListenerCheck reports unhealthy while the broker is not accepting connections.
func ListenerCheck(running func() bool) CheckFunc {
	return func() CheckResult {
		if !running() {
			return CheckResult{Status: StatusUnhealthy, Message: "listener not running"}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// ConnectionCheck reports degraded when active connections exceed max.
func ConnectionCheck(max int64, active func() int64) CheckFunc {
	return func() CheckResult {
		n := active()
		if n > max {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d active connections (limit %d)", n, max),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d active connections", n)}
	}
}

// Server exposes a Checker over HTTP and optionally over gRPC.
type Server struct {
	config  *config.HealthConfig
	checker *Checker
	logger  *logging.Logger

	httpServer *http.Server
	grpcServer *grpc.Server
	grpcHealth *grpchealth.Server
	grpcAddr   net.Addr

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewServer creates a health server.
func NewServer(cfg *config.HealthConfig, checker *Checker) *Server {
	return &Server{
		config:  cfg,
		checker: checker,
		logger:  logging.NewLogger("health"),
		stopCh:  make(chan struct{}),
	}
}

// Handler returns the HTTP handler serving the health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLive)
	mux.HandleFunc("/health/ready", s.handleReady)
	return mux
}

// Start starts the HTTP endpoint and, when configured, the gRPC health service.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Health server disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("health listen: %w", err)
	}
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		s.logger.Info("Starting health server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health server error", "error", err)
		}
	}()

	if s.config.GRPCAddr != "" {
		glis, err := net.Listen("tcp", s.config.GRPCAddr)
		if err != nil {
			s.httpServer.Close()
			return fmt.Errorf("grpc health listen: %w", err)
		}
		s.grpcAddr = glis.Addr()
		s.grpcHealth = grpchealth.NewServer()
		s.grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.grpcHealth)
		reflection.Register(s.grpcServer)
		s.syncGRPCStatus()

		s.logger.Info("gRPC health service listening", "addr", glis.Addr().String())
		go func() {
			if err := s.grpcServer.Serve(glis); err != nil {
				s.logger.Error("gRPC health server failed", "error", err)
			}
		}()

		s.wg.Add(1)
		go s.pollLoop()
	}
	return nil
}

// GRPCAddr returns the bound gRPC health address, or "" when not serving.
func (s *Server) GRPCAddr() string {
	if s.grpcAddr == nil {
		return ""
	}
	return s.grpcAddr.String()
}

// pollLoop keeps the gRPC serving status in step with the checks.
func (s *Server) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.syncGRPCStatus()
		}
	}
}

func (s *Server) syncGRPCStatus() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.checker.RunChecks().Status == StatusUnhealthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.grpcHealth.SetServingStatus("", status)
	s.grpcHealth.SetServingStatus(ServiceName, status)
}

// Stop stops both endpoints.
func (s *Server) Stop() error {
	select {
	case <-s.stopCh:
		return nil
	default:
		close(s.stopCh)
	}
	s.wg.Wait()

	if s.grpcServer != nil {
		s.grpcHealth.Shutdown()
		s.grpcServer.GracefulStop()
	}
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("Stopping health server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.checker.RunChecks()
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := s.checker.RunChecks()
	if resp.Status == StatusUnhealthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
