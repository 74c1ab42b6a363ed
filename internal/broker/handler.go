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

package broker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"proccom/internal/logging"
	"proccom/internal/metrics"
	"proccom/internal/protocol"
)

// handlerOptions carries what every connection handler shares with its broker.
type handlerOptions struct {
	onDead  func() // raises the broker's disconnect signal
	metrics *metrics.Metrics
	logger  *logging.Logger
}

func (o handlerOptions) withDefaults() handlerOptions {
	if o.onDead == nil {
		o.onDead = func() {}
	}
	if o.metrics == nil {
		o.metrics = &metrics.Metrics{}
	}
	if o.logger == nil {
		o.logger = logging.NewLogger("broker")
	}
	return o
}

// handlerBase holds the state common to both handler kinds.
type handlerBase struct {
	clientID   string
	instanceID string
	ch         *protocol.Channel
	opts       handlerOptions
	logger     *logging.Logger

	alive    atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	deadOnce sync.Once
}

func newHandlerBase(ch *protocol.Channel, clientID, role string, opts handlerOptions) *handlerBase {
	opts = opts.withDefaults()
	instanceID := uuid.NewString()
	c := &handlerBase{
		clientID:   clientID,
		instanceID: instanceID,
		ch:         ch,
		opts:       opts,
		logger:     opts.logger.With("role", role, "client_id", clientID, "handler_id", instanceID),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// ClientID returns the id the client sent in its handshake.
func (c *handlerBase) ClientID() string { return c.clientID }

// InstanceID returns the broker-assigned id of this handler.
func (c *handlerBase) InstanceID() string { return c.instanceID }

// Alive reports whether the handler's connection is still usable.
func (c *handlerBase) Alive() bool { return c.alive.Load() }

// Done is closed when the handler's run loop has exited.
func (c *handlerBase) Done() <-chan struct{} { return c.done }

// Stop asks the handler to exit. The run loop notices within one poll
// interval and closes the connection. Safe to call more than once.
func (c *handlerBase) Stop() {
	c.stopOnce.Do(func() {
		c.alive.Store(false)
		close(c.stopCh)
	})
}

func (c *handlerBase) stopRequested() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// markDead closes the connection and raises the disconnect signal once.
func (c *handlerBase) markDead() {
	c.deadOnce.Do(func() {
		c.alive.Store(false)
		c.ch.Close()
		c.opts.onDead()
	})
}

// exitReason names why a read loop ended, for the connection-closed log line.
func exitReason(stopped bool, err error) string {
	switch {
	case stopped:
		return "stopped"
	case err == nil:
		return "closed"
	case protocol.IsClosed(err):
		return "peer_closed"
	default:
		return err.Error()
	}
}

// PublisherHandler serves one publisher connection. It reads envelopes and
// enqueues each one to every subscriber in its fan-out set.
type PublisherHandler struct {
	*handlerBase
	topic string

	mu          sync.Mutex
	subscribers []*SubscriberHandler
}

func newPublisherHandler(ch *protocol.Channel, clientID, topic string, opts handlerOptions) *PublisherHandler {
	return &PublisherHandler{
		handlerBase: newHandlerBase(ch, clientID, "publisher", opts),
		topic:       topic,
	}
}

// Role returns "publisher".
func (p *PublisherHandler) Role() string { return "publisher" }

// Topic returns the topic this publisher owns.
func (p *PublisherHandler) Topic() string { return p.topic }

// AddSubscriber adds s to the fan-out set. Duplicates are ignored.
func (p *PublisherHandler) AddSubscriber(s *SubscriberHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cur := range p.subscribers {
		if cur == s {
			return
		}
	}
	p.subscribers = append(p.subscribers, s)
}

// RemoveSubscriber drops s from the fan-out set.
func (p *PublisherHandler) RemoveSubscriber(s *SubscriberHandler) {
	p.mu.Lock()
	p.subscribers = removeSubscriber(p.subscribers, s)
	p.mu.Unlock()
}

// Subscribers returns a copy of the fan-out set.
func (p *PublisherHandler) Subscribers() []*SubscriberHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*SubscriberHandler, len(p.subscribers))
	copy(out, p.subscribers)
	return out
}

// run reads envelopes until the connection ends or Stop is called.
func (p *PublisherHandler) run() string {
	defer close(p.done)
	defer p.markDead()

	for {
		if p.stopRequested() {
			return exitReason(true, nil)
		}
		msgs, err := p.ch.Receive()
		for _, msg := range msgs {
			p.forward(msg)
		}
		if err != nil {
			if !protocol.IsClosed(err) {
				p.logger.Warn("Publisher connection failed", "error", err)
			}
			return exitReason(p.stopRequested(), err)
		}
	}
}

// forward fans one frame out to the current subscribers.
func (p *PublisherHandler) forward(msg *protocol.Message) {
	if msg.Header.Op != protocol.OpEnvelope {
		p.opts.metrics.RecordDropped()
		p.logger.Debug("Ignoring frame from publisher", "op", msg.Header.Op.String())
		return
	}
	env, err := protocol.DecodeEnvelope(msg.Payload)
	if err != nil {
		p.opts.metrics.RecordParseError()
		p.logger.Warn("Discarding malformed envelope", "error", err)
		return
	}
	if env.Topic != p.topic {
		p.opts.metrics.RecordDropped()
		p.logger.Warn("Discarding envelope for foreign topic", "envelope_topic", env.Topic)
		return
	}

	start := time.Now()
	delivered := 0
	p.mu.Lock()
	for _, s := range p.subscribers {
		if s.Enqueue(env) {
			delivered++
		}
	}
	p.mu.Unlock()
	p.opts.metrics.RecordPublish(p.topic, len(msg.Payload), delivered, time.Since(start))
}

// SubscriberHandler serves one subscriber connection. Envelopes are queued
// per topic and written out by the flush loop.
type SubscriberHandler struct {
	*handlerBase
	topics []string

	mu      sync.Mutex
	inbox   map[string][][]byte
	pending int
	drained bool // set by the final flush; Enqueue refuses afterwards
	wake    chan struct{}
}

func newSubscriberHandler(ch *protocol.Channel, clientID string, topics []string, opts handlerOptions) *SubscriberHandler {
	s := &SubscriberHandler{
		handlerBase: newHandlerBase(ch, clientID, "subscriber", opts),
		inbox:       make(map[string][][]byte, len(topics)),
		wake:        make(chan struct{}, 1),
	}
	for _, t := range topics {
		if _, dup := s.inbox[t]; dup {
			continue
		}
		s.inbox[t] = nil
		s.topics = append(s.topics, t)
	}
	return s
}

// Role returns "subscriber".
func (s *SubscriberHandler) Role() string { return "subscriber" }

// Topics returns the subscribed topics in handshake order, without duplicates.
func (s *SubscriberHandler) Topics() []string { return s.topics }

// Enqueue queues env for delivery and wakes the flush loop. It returns false
// when the handler is dead or not subscribed to env.Topic.
func (s *SubscriberHandler) Enqueue(env *protocol.Envelope) bool {
	if !s.Alive() {
		return false
	}
	raw, err := env.Encode()
	if err != nil {
		return false
	}

	s.mu.Lock()
	queue, ok := s.inbox[env.Topic]
	if !ok || s.drained {
		s.mu.Unlock()
		return false
	}
	s.inbox[env.Topic] = append(queue, raw)
	s.pending++
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued envelopes.
func (s *SubscriberHandler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// run flushes queued envelopes until the connection ends or Stop is called.
// On Stop, everything already accepted by Enqueue is written before the
// connection closes.
func (s *SubscriberHandler) run() string {
	defer close(s.done)
	defer s.markDead()

	peerGone := make(chan error, 1)
	go s.watch(peerGone)

	for {
		select {
		case <-s.stopCh:
			if err := s.write(s.take(true)); err != nil && !protocol.IsClosed(err) {
				s.logger.Warn("Subscriber drain failed", "error", err)
			}
			return exitReason(true, nil)
		case err := <-peerGone:
			return exitReason(s.stopRequested(), err)
		case <-s.wake:
		}
		if err := s.flush(); err != nil {
			if !protocol.IsClosed(err) {
				s.logger.Warn("Subscriber write failed", "error", err)
			}
			return exitReason(s.stopRequested(), err)
		}
	}
}

// flush writes every queued envelope, topic by topic in subscription order.
// The inbox is swapped out under the lock and written without it, so
// Enqueue never waits on the network.
func (s *SubscriberHandler) flush() error {
	return s.write(s.take(false))
}

// take empties the inbox in write order. With final set, the inbox is
// closed to further Enqueue calls in the same critical section.
func (s *SubscriberHandler) take(final bool) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if final {
		s.drained = true
	}
	if s.pending == 0 {
		return nil
	}
	batch := make([][]byte, 0, s.pending)
	for _, t := range s.topics {
		batch = append(batch, s.inbox[t]...)
		s.inbox[t] = nil
	}
	s.pending = 0
	return batch
}

func (s *SubscriberHandler) write(batch [][]byte) error {
	for _, raw := range batch {
		if err := s.ch.Send(protocol.OpEnvelope, raw); err != nil {
			return err
		}
	}
	return nil
}

// watch reads from the subscriber so a closed peer is noticed even when no
// envelopes are flowing. Subscribers are not expected to send anything.
func (s *SubscriberHandler) watch(peerGone chan<- error) {
	for {
		msgs, err := s.ch.Receive()
		if len(msgs) > 0 {
			s.logger.Debug("Ignoring frames from subscriber", "count", len(msgs))
		}
		if err != nil {
			peerGone <- err
			return
		}
		if s.stopRequested() {
			return
		}
	}
}
