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
Package broker implements the proccom topic publish/subscribe broker.

ARCHITECTURE OVERVIEW:
======================
The broker accepts stream connections, classifies each one from its first
document (the handshake) and hands it to a connection handler:

	Broker
	 ├── acceptLoop            one goroutine, spawns handleConn per connection
	 ├── monitorLoop           reaps dead handlers
	 └── routingTable          guarded by Broker.mu
	      ├── owners           topic -> *PublisherHandler
	      ├── subscribers      topic -> []*SubscriberHandler
	      └── handlers         every registered handler

MESSAGE FLOW:
=============

	publisher client -> PublisherHandler.run -> fan-out set
	    -> SubscriberHandler.Enqueue -> inbox -> flush loop -> subscriber client

A publisher handler keeps its own fan-out set so that delivering one envelope
needs no routing table lookup. The broker keeps that set in step with the
topic's subscriber list: it is seeded when the publisher registers, extended
when a subscriber registers and pruned when a subscriber is reaped.

TOPIC OWNERSHIP:
================
At most one live publisher owns a topic. A second publisher for an owned topic
is refused with a topic_conflict rejection; the first registration wins and is
never pre-empted. Once the owner's connection dies the monitor clears the
ownership and the topic can be claimed again.

LIVENESS AND REAPING:
=====================
Handlers never remove themselves. When a handler's connection ends it marks
itself dead and raises the shared disconnect signal; the monitor goroutine then
removes every dead handler from the routing table in one critical section.
Removal is therefore single-threaded.

SHUTDOWN:
=========
Stop closes the listener, waits for the accept and monitor loops and asks every
handler to stop. Handlers finish their current bounded read and close on their
own; Stop does not wait for them.

LOCK ORDER:
===========

	Broker.mu -> PublisherHandler.mu -> SubscriberHandler.mu

No code path acquires these in the opposite direction.
*/
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"proccom/internal/config"
	"proccom/internal/crypto"
	"proccom/internal/logging"
	"proccom/internal/metrics"
	"proccom/internal/netutil"
	"proccom/internal/protocol"
)

var (
	// ErrTopicConflict is returned when a publisher registers for a topic that
	// already has a live publisher.
	ErrTopicConflict = errors.New("topic already has a live publisher")

	// ErrBadHandshake wraps every reason a handshake is refused.
	ErrBadHandshake = errors.New("bad handshake")

	// ErrNotRunning is returned by Serve when the broker is not accepting connections.
	ErrNotRunning = errors.New("broker not running")

	// ErrBrokerStopped is returned by Start on a broker that has been stopped.
	ErrBrokerStopped = errors.New("broker stopped")
)

// Broker accepts client connections and routes envelopes between them.
type Broker struct {
	config     *config.Config
	logger     *logging.Logger
	connLogger *logging.ConnectionLogger
	metrics    *metrics.Metrics
	tlsConfig  *tls.Config

	// mu guards the routing table.
	mu     sync.Mutex
	routes *routingTable

	stateMu   sync.Mutex
	running   bool
	stopped   bool
	startedAt time.Time
	ln        net.Listener

	stopCh     chan struct{}
	disconnect chan struct{}
	wg         sync.WaitGroup
}

// NewBroker creates a broker from cfg. The listener is not opened until Start.
func NewBroker(cfg *config.Config) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := logging.NewLogger("broker")
	return &Broker{
		config:     cfg,
		logger:     logger,
		connLogger: logging.NewConnectionLogger(logger),
		metrics:    metrics.Get(),
		routes:     newRoutingTable(),
		stopCh:     make(chan struct{}),
		disconnect: make(chan struct{}, 1),
	}, nil
}

// Start binds the listen address and starts the accept and monitor loops.
// It returns once the listener is bound.
func (b *Broker) Start() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.stopped {
		return ErrBrokerStopped
	}
	if b.running {
		return nil
	}

	ln, err := netutil.Listen(context.Background(), b.config.BindAddr, netutil.ListenOptions{
		ReuseAddr: true,
		ReusePort: b.config.ReusePort,
	})
	if err != nil {
		return fmt.Errorf("listen %s: %w", b.config.BindAddr, err)
	}

	if b.config.IsTLSEnabled() {
		tlsCfg, err := crypto.NewServerTLSConfig(crypto.FromSecurity(b.config.Security))
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		b.tlsConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
		b.logger.Info("Broker started with TLS", "addr", ln.Addr().String())
	} else {
		b.logger.Info("Broker started", "addr", ln.Addr().String())
	}

	b.ln = ln
	b.running = true
	b.startedAt = time.Now()

	b.wg.Add(2)
	go b.acceptLoop()
	go b.monitorLoop()
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (b *Broker) Addr() net.Addr {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.ln == nil {
		return nil
	}
	return b.ln.Addr()
}

// Running reports whether the broker is accepting connections.
func (b *Broker) Running() bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.running
}

// IsTLS reports whether the TCP listener is wrapped with TLS.
func (b *Broker) IsTLS() bool {
	return b.tlsConfig != nil
}

// TLSConfig returns the server TLS configuration built by Start, or nil when
// the broker serves plain TCP.
func (b *Broker) TLSConfig() *tls.Config {
	return b.tlsConfig
}

// StartedAt returns when Start bound the listener, or the zero time.
func (b *Broker) StartedAt() time.Time {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.startedAt
}

// Stop shuts the broker down. Calling Stop more than once is harmless.
func (b *Broker) Stop() error {
	b.stateMu.Lock()
	if !b.running {
		b.stopped = true
		b.stateMu.Unlock()
		return nil
	}
	b.running = false
	b.stopped = true
	close(b.stopCh)
	b.ln.Close()
	b.stateMu.Unlock()

	b.wg.Wait()

	// Ask every handler to stop; they close their connections on their own.
	b.mu.Lock()
	for _, h := range b.routes.handlers {
		h.Stop()
	}
	b.mu.Unlock()

	b.logger.Info("Broker stopped")
	return nil
}

// Serve hands an already accepted connection to the broker, as if it had
// arrived on the broker's own listener. transport labels it in logs.
func (b *Broker) Serve(conn net.Conn, transport string) error {
	if !b.Running() {
		conn.Close()
		return ErrNotRunning
	}
	go b.handleConn(conn, transport)
	return nil
}

// acceptLoop accepts connections until Stop closes the listener.
func (b *Broker) acceptLoop() {
	defer b.wg.Done()

	transport := "tcp"
	if b.tlsConfig != nil {
		transport = "tls"
	}
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			select {
			case <-b.stopCh:
				return
			default:
				b.logger.Error("Accept error", "error", err)
				// Avoid spinning on persistent errors such as EMFILE.
				time.Sleep(10 * time.Millisecond)
				continue
			}
		}
		// The handshake runs on its own goroutine so a slow client cannot
		// hold up the accept loop.
		go b.handleConn(conn, transport)
	}
}

// monitorLoop reaps dead handlers each time the disconnect signal fires.
func (b *Broker) monitorLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case <-b.disconnect:
			b.reap()
		}
	}
}

// signalDisconnect raises the shared "a connection died" signal.
func (b *Broker) signalDisconnect() {
	select {
	case b.disconnect <- struct{}{}:
	default:
		// A reap is already pending and will see this handler too.
	}
}

// handleConn performs the handshake and registers the matching handler.
func (b *Broker) handleConn(conn net.Conn, transport string) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	b.metrics.ConnectionOpened()
	b.connLogger.LogNewConnection(conn, transport)

	ch := protocol.NewChannel(conn, protocol.ChannelOptions{
		PollInterval:    b.config.PollInterval(),
		WriteTimeout:    b.config.WriteTimeout(),
		MaxDocumentSize: b.config.MaxDocumentSize,
		OnParseError:    func(error) { b.metrics.RecordParseError() },
		Logger:          b.logger,
	})

	hs, err := b.readHandshake(ch)
	if err != nil {
		b.reject(ch, protocol.RejectBadHandshake, err)
		return
	}

	switch hs.Type {
	case protocol.ClientPublisher:
		err = b.registerPublisher(ch, hs)
	case protocol.ClientSubscriber:
		err = b.registerSubscriber(ch, hs)
	}
	switch {
	case errors.Is(err, ErrTopicConflict):
		b.reject(ch, protocol.RejectTopicConflict, err)
	case err != nil:
		ch.Close()
		b.metrics.ConnectionClosed()
	}
}

// stopping reports whether Stop has been called.
func (b *Broker) stopping() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// readHandshake waits for the first frame and decodes it as a handshake.
func (b *Broker) readHandshake(ch *protocol.Channel) (protocol.Handshake, error) {
	msg, err := ch.ReceiveWithin(b.config.HandshakeTimeout())
	if err != nil {
		return protocol.Handshake{}, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	if msg.Header.Op != protocol.OpHandshake {
		return protocol.Handshake{}, fmt.Errorf("%w: expected handshake, got %s", ErrBadHandshake, msg.Header.Op)
	}
	hs, err := protocol.DecodeHandshake(msg.Payload)
	if err != nil {
		return protocol.Handshake{}, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	return hs, nil
}

// reject sends a rejection document and closes the connection.
func (b *Broker) reject(ch *protocol.Channel, code string, err error) {
	b.metrics.RecordRejected(code == protocol.RejectTopicConflict)
	b.connLogger.LogRejected(ch.RemoteAddr(), code, err)

	if sendErr := ch.SendDocument(protocol.OpReject, &protocol.Rejection{Code: code, Reason: err.Error()}); sendErr != nil {
		b.logger.Debug("Failed to send rejection", "remote_addr", ch.RemoteAddr(), "error", sendErr)
	}
	ch.Close()
	b.metrics.ConnectionClosed()
}

func (b *Broker) handlerOptions() handlerOptions {
	return handlerOptions{
		onDead:  b.signalDisconnect,
		metrics: b.metrics,
		logger:  b.logger,
	}
}

// registerPublisher claims hs.Topic[0] for a new publisher handler.
func (b *Broker) registerPublisher(ch *protocol.Channel, hs protocol.Handshake) error {
	p := newPublisherHandler(ch, hs.ID, hs.Topic[0], b.handlerOptions())

	b.mu.Lock()
	var err error
	if b.stopping() {
		err = ErrNotRunning
	} else {
		err = b.routes.addPublisher(p)
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.metrics.PublisherAdded()
	b.connLogger.LogRegistered("publisher", p.ClientID(), p.InstanceID(), []string{p.Topic()}, ch.RemoteAddr())
	b.logSnapshot()
	b.runHandler(p)
	return nil
}

// registerSubscriber adds a subscriber handler to every topic it names.
func (b *Broker) registerSubscriber(ch *protocol.Channel, hs protocol.Handshake) error {
	s := newSubscriberHandler(ch, hs.ID, hs.Topic, b.handlerOptions())

	b.mu.Lock()
	if b.stopping() {
		b.mu.Unlock()
		return ErrNotRunning
	}
	b.routes.addSubscriber(s)
	b.mu.Unlock()

	b.metrics.SubscriberAdded()
	b.connLogger.LogRegistered("subscriber", s.ClientID(), s.InstanceID(), s.Topics(), ch.RemoteAddr())
	b.logSnapshot()
	b.runHandler(s)
	return nil
}

// runHandler starts h and logs its end.
func (b *Broker) runHandler(h handler) {
	start := time.Now()
	go func() {
		reason := h.run()
		b.metrics.ConnectionClosed()
		b.connLogger.LogConnectionClosed(h.Role(), h.ClientID(), h.InstanceID(), reason, time.Since(start))
	}()
}

// reap removes every dead handler from the routing table.
func (b *Broker) reap() {
	b.mu.Lock()
	dead := b.routes.reap()
	b.mu.Unlock()

	for _, h := range dead {
		switch h.(type) {
		case *PublisherHandler:
			b.metrics.PublisherRemoved()
		case *SubscriberHandler:
			b.metrics.SubscriberRemoved()
		}
		b.connLogger.LogReaped(h.Role(), h.ClientID(), h.InstanceID())
	}
	if len(dead) > 0 {
		b.logSnapshot()
	}
}

// Snapshot returns the current routing table, sorted by topic.
func (b *Broker) Snapshot() []TopicSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.routes.snapshot()
}

// HandlerCount returns the number of registered handlers, dead or alive.
func (b *Broker) HandlerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.routes.handlers)
}

func (b *Broker) logSnapshot() {
	if !b.logger.Enabled(logging.DEBUG) {
		return
	}
	for _, t := range b.Snapshot() {
		b.logger.Debug("Route", "topic", t.Topic, "publisher", t.Publisher, "subscribers", t.Subscribers)
	}
}
