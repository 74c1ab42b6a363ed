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
Package client provides the proccom publisher and subscriber clients.

QUICK START:
============

	// Publish on one topic
	pub, err := client.NewPublisher("127.0.0.1:5000", "sensors/temp", "probe-1", msgs.List, client.Options{})
	if err := pub.Connect(); err != nil { ... }
	defer pub.Stop()
	env, err := pub.Publish(21.5, "C")

	// Subscribe to several topics
	sub, err := client.NewSubscriber("127.0.0.1:5000", "dashboard", map[string]client.Handler{
	    "sensors/temp": func(env *client.Envelope) { ... },
	}, client.Options{})
	if err := sub.Connect(); err != nil { ... }
	defer sub.Stop()

LIFECYCLE:
==========
A client goes idle -> connected -> stopped and never back. Losing the broker
connection stops the client; reconnecting means creating a new client. No call
retries on its own.

DELIVERY:
=========
Envelopes of one topic leave a publisher in sequence order and reach every
connected subscriber in that order. The subscriber then runs each handler call
on its own goroutine, so handler executions are not ordered relative to each
other.

TLS CONNECTION:
===============

	pub, err := client.NewPublisher(addr, topic, id, format, client.Options{
	    TLSEnabled: true,
	    TLSCAFile:  "/path/to/ca.crt",
	})
*/
package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"proccom/internal/crypto"
	"proccom/internal/logging"
	"proccom/internal/protocol"
	"proccom/internal/ws"
)

// DefaultRejectWait is how long publisher Connect listens for a refusal.
const DefaultRejectWait = 200 * time.Millisecond

// Envelope is one published message as seen by clients.
type Envelope = protocol.Envelope

// EnvelopeHeader carries the sender id, sequence and timestamp of an Envelope.
type EnvelopeHeader = protocol.EnvelopeHeader

// Rejection is the broker's reason for refusing a client.
type Rejection = protocol.Rejection

var (
	// ErrNotConnected is returned by Publish when the publisher is not connected.
	ErrNotConnected = errors.New("client: not connected")

	// ErrClientClosed is returned by Connect on a stopped client.
	ErrClientClosed = errors.New("client: closed")

	// ErrNoHandler reports an envelope for a topic the subscriber has no handler for.
	ErrNoHandler = errors.New("client: no handler for topic")

	// ErrRejected wraps the broker's Rejection when it refuses the handshake.
	ErrRejected = errors.New("client: rejected by broker")
)

// Options configures the connection to the broker.
type Options struct {
	// TLS configuration
	TLSEnabled            bool   // Enable TLS connection (implied by wss:// addresses)
	TLSCertFile           string // Client certificate file (for mTLS)
	TLSKeyFile            string // Client key file (for mTLS)
	TLSCAFile             string // CA certificate file for server verification
	TLSServerName         string // Overrides the name verified in the broker certificate
	TLSInsecureSkipVerify bool   // Skip server certificate verification (testing only)

	// Connection behavior
	DialTimeout     time.Duration // default 10s
	PollInterval    time.Duration // bound on each blocking read, default 1s
	WriteTimeout    time.Duration // bound on each frame write, default 10s
	MaxDocumentSize uint32        // default protocol.DefaultMaxDocumentSize
	RejectWait      time.Duration // publisher Connect waits this long for a refusal, default 200ms, negative disables

	// Dialer replaces the TCP/TLS dial, for custom transports and tests.
	Dialer func(addr string) (net.Conn, error)
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = protocol.DefaultPollInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = protocol.DefaultWriteTimeout
	}
	if o.RejectWait == 0 {
		o.RejectWait = DefaultRejectWait
	}
	return o
}

// dial opens a connection to addr honoring the TLS settings. Addresses
// starting with ws:// or wss:// go through the broker's WebSocket gateway.
func (o Options) dial(addr string) (net.Conn, error) {
	if o.Dialer != nil {
		return o.Dialer(addr)
	}

	overWS := strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://")
	var tlsCfg *tls.Config
	if o.TLSEnabled || strings.HasPrefix(addr, "wss://") {
		cfg, err := crypto.NewClientTLSConfig(crypto.TLSConfig{
			CertFile:           o.TLSCertFile,
			KeyFile:            o.TLSKeyFile,
			CAFile:             o.TLSCAFile,
			ServerName:         o.TLSServerName,
			InsecureSkipVerify: o.TLSInsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		tlsCfg = cfg
	}

	if overWS {
		conn, err := ws.Dial(addr, o.DialTimeout, tlsCfg)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	dialer := &net.Dialer{Timeout: o.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if tlsCfg != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, nil
}

// open dials addr and sends the handshake.
func (o Options) open(addr string, hs protocol.Handshake, logger *logging.Logger) (*protocol.Channel, error) {
	conn, err := o.dial(addr)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	ch := protocol.NewChannel(conn, protocol.ChannelOptions{
		PollInterval:    o.PollInterval,
		WriteTimeout:    o.WriteTimeout,
		MaxDocumentSize: o.MaxDocumentSize,
		Logger:          logger,
	})
	payload, err := hs.Encode()
	if err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Send(protocol.OpHandshake, payload); err != nil {
		ch.Close()
		return nil, fmt.Errorf("send handshake: %w", err)
	}
	return ch, nil
}

// rejection converts a reject frame into an error wrapping ErrRejected.
func rejection(payload []byte) error {
	rej, err := protocol.DecodeRejection(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return fmt.Errorf("%w: %w", ErrRejected, rej)
}

type state int

const (
	stateIdle state = iota
	stateConnected
	stateStopped
)
