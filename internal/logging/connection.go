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

package logging

import (
	"net"
	"time"
)

// ConnectionLogger logs the lifecycle of client connections: accept,
// registration, rejection and close.
type ConnectionLogger struct {
	logger *Logger
}

// NewConnectionLogger creates a new connection logger.
func NewConnectionLogger(logger *Logger) *ConnectionLogger {
	return &ConnectionLogger{logger: logger}
}

// LogNewConnection logs an accepted connection before its handshake.
func (cl *ConnectionLogger) LogNewConnection(conn net.Conn, transport string) {
	cl.logger.Debug("Connection accepted",
		"remote_addr", addrString(conn.RemoteAddr()),
		"local_addr", addrString(conn.LocalAddr()),
		"transport", transport,
	)
}

// LogRegistered logs a completed handshake.
func (cl *ConnectionLogger) LogRegistered(role, clientID, handlerID string, topics []string, remote string) {
	cl.logger.Info("Client registered",
		"role", role,
		"client_id", clientID,
		"handler_id", handlerID,
		"topics", topics,
		"remote_addr", remote,
	)
}

// LogRejected logs a connection the broker refused.
func (cl *ConnectionLogger) LogRejected(remote, code string, err error) {
	cl.logger.Warn("Connection rejected",
		"remote_addr", remote,
		"code", code,
		"error", err,
	)
}

// LogConnectionClosed logs when a handler's connection ends.
func (cl *ConnectionLogger) LogConnectionClosed(role, clientID, handlerID, reason string, duration time.Duration) {
	cl.logger.Info("Client connection closed",
		"role", role,
		"client_id", clientID,
		"handler_id", handlerID,
		"reason", reason,
		"duration_seconds", duration.Seconds(),
	)
}

// LogReaped logs the removal of a dead handler from the routing table.
func (cl *ConnectionLogger) LogReaped(role, clientID, handlerID string) {
	cl.logger.Debug("Dead handler removed",
		"role", role,
		"client_id", clientID,
		"handler_id", handlerID,
	)
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
