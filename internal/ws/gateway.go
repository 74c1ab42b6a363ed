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

// Package ws implements the WebSocket gateway.
//
// Browsers and other clients that can only speak WebSocket reach the broker
// through the gateway. Each binary WebSocket message carries raw proccom
// frames, so the stream the broker sees is byte for byte what a TCP client
// would send:
//
//	ws://host:5080/ws
//	  binary message: [C7 01 op flags len(4)] {"type":"subscriber",...}
//	  binary message: [C7 01 02 00 len(4)] {"topic":...}
//
// A message may hold several frames or part of one; framing is recovered by
// the broker exactly as for TCP.
package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"proccom/internal/config"
	"proccom/internal/logging"
)

// Buffer sizes for the upgrader and dialer.
const (
	DefaultReadBufferSize  = 4096
	DefaultWriteBufferSize = 4096
)

// Server is the part of the broker the gateway hands connections to.
type Server interface {
	Serve(conn net.Conn, transport string) error
}

// Gateway accepts WebSocket connections and passes them to the broker.
type Gateway struct {
	broker   Server
	config   *config.WSConfig
	tls      *tls.Config
	logger   *logging.Logger
	upgrader websocket.Upgrader

	PingInterval time.Duration
	PongTimeout  time.Duration

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
}

// NewGateway creates a gateway for cfg. A non-nil tlsCfg serves WSS.
func NewGateway(cfg *config.WSConfig, b Server, tlsCfg *tls.Config) *Gateway {
	return &Gateway{
		broker: b,
		config: cfg,
		tls:    tlsCfg,
		logger: logging.NewLogger("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  DefaultReadBufferSize,
			WriteBufferSize: DefaultWriteBufferSize,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		PingInterval: DefaultPingInterval,
		PongTimeout:  DefaultPongTimeout,
	}
}

// Handler returns the HTTP handler serving the gateway path.
func (g *Gateway) Handler() http.Handler {
	path := g.config.Path
	if path == "" {
		path = "/ws"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, g.handleWebSocket)
	return mux
}

// Start listens on the configured address and serves in the background.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		return fmt.Errorf("websocket listen %s: %w", g.config.Addr, err)
	}
	scheme := "ws"
	if g.tls != nil {
		ln = tls.NewListener(ln, g.tls)
		scheme = "wss"
	}

	server := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.server = server
	g.ln = ln

	g.logger.Info("WebSocket gateway listening", "addr", ln.Addr().String(), "scheme", scheme, "path", g.config.Path)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("WebSocket server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln == nil {
		return nil
	}
	return g.ln.Addr()
}

// Stop stops accepting upgrades. Connections already handed to the broker
// are closed by the broker's own shutdown.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	server := g.server
	g.mu.Unlock()
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("Failed to upgrade to WebSocket", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConn(ws, g.PingInterval, g.PongTimeout)
	if err := g.broker.Serve(conn, "ws"); err != nil {
		g.logger.Warn("Broker refused WebSocket connection", "remote", r.RemoteAddr, "error", err)
		conn.Close()
	}
}
