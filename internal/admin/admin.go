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
Package admin provides a read-only REST API for inspecting a running broker.

ENDPOINTS:
==========

	GET /api/v1/health         - Liveness probe
	GET /api/v1/info           - Node id, version, listen address, uptime
	GET /api/v1/topics         - Routing table: owner and subscribers per topic
	GET /api/v1/topics/{name}  - One topic with its counters
	GET /api/v1/stats          - Broker wide counters as JSON
	GET /api/v1/metrics        - Same counters in Prometheus text format

Topic names may contain slashes; everything after /api/v1/topics/ is the name.
*/
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"proccom/internal/config"
	"proccom/internal/logging"
)

// ErrTopicNotFound is returned by Handler.Topic for unknown topics.
var ErrTopicNotFound = errors.New("topic not found")

// Handler supplies the data served by the API.
type Handler interface {
	Info() BrokerInfo
	Topics() []TopicInfo
	Topic(name string) (TopicInfo, error)
	Stats() StatsInfo
	WriteMetrics(w io.Writer)
}

// BrokerInfo describes the broker process.
type BrokerInfo struct {
	NodeID    string    `json:"node_id"`
	Version   string    `json:"version"`
	Addr      string    `json:"addr"`
	TLS       bool      `json:"tls"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}

// TopicInfo is one routing table entry plus its counters.
type TopicInfo struct {
	Name               string   `json:"name"`
	Publisher          string   `json:"publisher,omitempty"`
	Subscribers        []string `json:"subscribers"`
	EnvelopesPublished uint64   `json:"envelopes_published"`
	EnvelopesDelivered uint64   `json:"envelopes_delivered"`
	BytesPublished     uint64   `json:"bytes_published"`
}

// StatsInfo holds broker wide counters.
type StatsInfo struct {
	Topics             int     `json:"topics"`
	Handlers           int     `json:"handlers"`
	ActiveConnections  int64   `json:"active_connections"`
	TotalConnections   uint64  `json:"total_connections"`
	ActivePublishers   int64   `json:"active_publishers"`
	ActiveSubscribers  int64   `json:"active_subscribers"`
	EnvelopesPublished uint64  `json:"envelopes_published"`
	EnvelopesDelivered uint64  `json:"envelopes_delivered"`
	EnvelopesDropped   uint64  `json:"envelopes_dropped"`
	HandshakesRejected uint64  `json:"handshakes_rejected"`
	TopicConflicts     uint64  `json:"topic_conflicts"`
	ParseErrors        uint64  `json:"parse_errors"`
	AvgFanoutLatencyUs float64 `json:"avg_fanout_latency_us"`
}

// Server provides the Admin REST API.
type Server struct {
	config  *config.AdminConfig
	handler Handler
	logger  *logging.Logger

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
}

// NewServer creates an admin server for handler.
func NewServer(cfg *config.AdminConfig, handler Handler) *Server {
	return &Server{
		config:  cfg,
		handler: handler,
		logger:  logging.NewLogger("admin"),
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealthCheck)
	mux.HandleFunc("/api/v1/info", s.handleInfo)
	mux.HandleFunc("/api/v1/topics", s.handleTopics)
	mux.HandleFunc("/api/v1/topics/", s.handleTopic)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/metrics", s.handleMetrics)
	return mux
}

// Start starts the admin API server.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Admin API server disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	server := s.server
	go func() {
		s.logger.Info("Starting admin API server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Admin API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil when not started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop stops the admin API server.
func (s *Server) Stop() error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Stopping admin API server")
	return server.Shutdown(ctx)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// handleHealthCheck handles GET /api/v1/health
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, map[string]string{"status": "healthy"})
}

// handleInfo handles GET /api/v1/info
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, s.handler.Info())
}

// handleTopics handles GET /api/v1/topics
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, s.handler.Topics())
}

// handleTopic handles GET /api/v1/topics/{name}
func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/topics/")
	if name == "" {
		s.writeError(w, errors.New("topic name required"), http.StatusBadRequest)
		return
	}

	info, err := s.handler.Topic(name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrTopicNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, err, status)
		return
	}
	s.writeJSON(w, info)
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, s.handler.Stats())
}

// handleMetrics handles GET /api/v1/metrics (Prometheus format)
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	s.handler.WriteMetrics(w)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
