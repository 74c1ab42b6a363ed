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
Package metrics provides Prometheus-compatible metrics for the proccom broker.

METRIC CATEGORIES:
==================
- Envelopes: published, delivered, dropped
- Fan-out: average time to enqueue one envelope to every subscriber
- Connections: active, total, publishers, subscribers
- Handshakes: rejected, topic conflicts
- Framing: parse errors

PROMETHEUS ENDPOINT:
====================
Metrics are exposed at /metrics in Prometheus text format.

EXAMPLE METRICS:
================

	proccom_envelopes_published_total 12345
	proccom_envelopes_delivered_total 24690
	proccom_fanout_latency_avg_microseconds 3.50
	proccom_publishers_active 2
*/
package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"proccom/internal/config"
	"proccom/internal/logging"
)

// Metrics holds all broker metrics.
type Metrics struct {
	// Envelope metrics
	EnvelopesPublished atomic.Uint64
	EnvelopesDelivered atomic.Uint64
	EnvelopesDropped   atomic.Uint64
	BytesPublished     atomic.Uint64

	// Fan-out latency (in microseconds)
	FanoutLatencySum   atomic.Uint64
	FanoutLatencyCount atomic.Uint64

	// Connection metrics
	ActiveConnections atomic.Int64
	TotalConnections  atomic.Uint64
	ActivePublishers  atomic.Int64
	ActiveSubscribers atomic.Int64

	// Handshake metrics
	HandshakesRejected atomic.Uint64
	TopicConflicts     atomic.Uint64

	// Framing metrics
	ParseErrors atomic.Uint64

	// Per-topic metrics
	topicMetrics sync.Map // topic -> *TopicMetrics
}

// TopicMetrics holds metrics for a specific topic.
type TopicMetrics struct {
	EnvelopesPublished atomic.Uint64
	EnvelopesDelivered atomic.Uint64
	BytesPublished     atomic.Uint64
}

// Global metrics instance
var globalMetrics = &Metrics{}

// Get returns the global metrics instance.
func Get() *Metrics {
	return globalMetrics
}

// GetTopicMetrics returns metrics for a specific topic.
func (m *Metrics) GetTopicMetrics(topic string) *TopicMetrics {
	if tm, ok := m.topicMetrics.Load(topic); ok {
		return tm.(*TopicMetrics)
	}
	tm := &TopicMetrics{}
	actual, _ := m.topicMetrics.LoadOrStore(topic, tm)
	return actual.(*TopicMetrics)
}

// RecordPublish records one envelope accepted from a publisher and fanned
// out to delivered subscribers.
func (m *Metrics) RecordPublish(topic string, bytes, delivered int, latency time.Duration) {
	m.EnvelopesPublished.Add(1)
	m.EnvelopesDelivered.Add(uint64(delivered))
	m.BytesPublished.Add(uint64(bytes))
	m.FanoutLatencySum.Add(uint64(latency.Microseconds()))
	m.FanoutLatencyCount.Add(1)

	tm := m.GetTopicMetrics(topic)
	tm.EnvelopesPublished.Add(1)
	tm.EnvelopesDelivered.Add(uint64(delivered))
	tm.BytesPublished.Add(uint64(bytes))
}

// RecordDropped records an envelope that was read but not routed.
func (m *Metrics) RecordDropped() {
	m.EnvelopesDropped.Add(1)
}

// RecordParseError records a framing or document parse failure.
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Add(1)
}

// RecordRejected records a refused handshake. Topic conflicts are also
// counted separately.
func (m *Metrics) RecordRejected(topicConflict bool) {
	m.HandshakesRejected.Add(1)
	if topicConflict {
		m.TopicConflicts.Add(1)
	}
}

// ConnectionOpened records a new connection.
func (m *Metrics) ConnectionOpened() {
	m.ActiveConnections.Add(1)
	m.TotalConnections.Add(1)
}

// ConnectionClosed records a closed connection.
func (m *Metrics) ConnectionClosed() {
	m.ActiveConnections.Add(-1)
}

// PublisherAdded and the functions below track registered handlers.
func (m *Metrics) PublisherAdded()    { m.ActivePublishers.Add(1) }
func (m *Metrics) PublisherRemoved()  { m.ActivePublishers.Add(-1) }
func (m *Metrics) SubscriberAdded()   { m.ActiveSubscribers.Add(1) }
func (m *Metrics) SubscriberRemoved() { m.ActiveSubscribers.Add(-1) }

// AverageFanoutLatency returns the average fan-out latency in microseconds.
func (m *Metrics) AverageFanoutLatency() float64 {
	count := m.FanoutLatencyCount.Load()
	if count == 0 {
		return 0
	}
	return float64(m.FanoutLatencySum.Load()) / float64(count)
}

// WritePrometheus writes all metrics to w in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s %d\n", name, v)
	}
	gauge := func(name, help string, v int64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		fmt.Fprintf(w, "%s %d\n", name, v)
	}

	counter("proccom_envelopes_published_total", "Total envelopes received from publishers", m.EnvelopesPublished.Load())
	counter("proccom_envelopes_delivered_total", "Total envelopes enqueued to subscribers", m.EnvelopesDelivered.Load())
	counter("proccom_envelopes_dropped_total", "Total envelopes read but not routed", m.EnvelopesDropped.Load())
	counter("proccom_bytes_published_total", "Total envelope bytes received from publishers", m.BytesPublished.Load())

	fmt.Fprintf(w, "# HELP proccom_fanout_latency_avg_microseconds Average fan-out latency\n")
	fmt.Fprintf(w, "# TYPE proccom_fanout_latency_avg_microseconds gauge\n")
	fmt.Fprintf(w, "proccom_fanout_latency_avg_microseconds %.2f\n", m.AverageFanoutLatency())

	gauge("proccom_connections_active", "Current active connections", m.ActiveConnections.Load())
	counter("proccom_connections_total", "Total connections", m.TotalConnections.Load())
	gauge("proccom_publishers_active", "Registered publishers", m.ActivePublishers.Load())
	gauge("proccom_subscribers_active", "Registered subscribers", m.ActiveSubscribers.Load())

	counter("proccom_handshakes_rejected_total", "Refused handshakes", m.HandshakesRejected.Load())
	counter("proccom_topic_conflicts_total", "Publisher registrations refused for an owned topic", m.TopicConflicts.Load())
	counter("proccom_parse_errors_total", "Framing and document parse errors", m.ParseErrors.Load())

	// Per-topic metrics, sorted so scrapes are stable
	var topics []string
	m.topicMetrics.Range(func(key, _ interface{}) bool {
		topics = append(topics, key.(string))
		return true
	})
	sort.Strings(topics)

	fmt.Fprintf(w, "# HELP proccom_topic_envelopes_published_total Envelopes published per topic\n")
	fmt.Fprintf(w, "# TYPE proccom_topic_envelopes_published_total counter\n")
	for _, topic := range topics {
		tm := m.GetTopicMetrics(topic)
		fmt.Fprintf(w, "proccom_topic_envelopes_published_total{topic=%q} %d\n", topic, tm.EnvelopesPublished.Load())
	}

	fmt.Fprintf(w, "# HELP proccom_topic_envelopes_delivered_total Envelopes delivered per topic\n")
	fmt.Fprintf(w, "# TYPE proccom_topic_envelopes_delivered_total counter\n")
	for _, topic := range topics {
		tm := m.GetTopicMetrics(topic)
		fmt.Fprintf(w, "proccom_topic_envelopes_delivered_total{topic=%q} %d\n", topic, tm.EnvelopesDelivered.Load())
	}
}

// Server provides an HTTP server for Prometheus metrics.
type Server struct {
	config  *config.MetricsConfig
	metrics *Metrics
	server  *http.Server
	logger  *logging.Logger
}

// NewServer creates a new metrics server exposing the global metrics.
func NewServer(cfg *config.MetricsConfig) *Server {
	return &Server{
		config:  cfg,
		metrics: Get(),
		logger:  logging.NewLogger("metrics"),
	}
}

// Handler returns the /metrics handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleMetrics)
}

// Start starts the metrics HTTP server.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Starting metrics server", "addr", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the metrics HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Stopping metrics server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.metrics.WritePrometheus(w)
}
