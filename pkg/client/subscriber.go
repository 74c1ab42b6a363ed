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

package client

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"proccom/internal/logging"
	"proccom/internal/protocol"
)

// Handler processes one envelope. Handlers run on their own goroutine per
// envelope and may run concurrently with each other.
type Handler func(env *Envelope)

// RoutingMissFunc is called for an envelope whose topic has no handler.
type RoutingMissFunc func(env *Envelope, err error)

// Subscriber receives envelopes for a fixed set of topics and dispatches
// them to per-topic handlers.
type Subscriber struct {
	addr     string
	id       string
	handlers map[string]Handler
	topics   []string
	opts     Options
	logger   *logging.Logger

	onMiss atomic.Pointer[RoutingMissFunc]

	mu       sync.Mutex
	state    state
	ch       *protocol.Channel
	err      error
	done     chan struct{}
	loopDone chan struct{}

	dispatch sync.WaitGroup
	received atomic.Uint64
	misses   atomic.Uint64
}

// NewSubscriber creates a subscriber for every topic in handlers. An empty id
// gets a random one.
func NewSubscriber(addr, id string, handlers map[string]Handler, opts Options) (*Subscriber, error) {
	if len(handlers) == 0 {
		return nil, errors.New("client: subscriber needs at least one topic handler")
	}
	if id == "" {
		id = uuid.NewString()
	}

	hs := make(map[string]Handler, len(handlers))
	topics := make([]string, 0, len(handlers))
	for topic, h := range handlers {
		if topic == "" {
			return nil, errors.New("client: empty topic in handler map")
		}
		if h == nil {
			return nil, fmt.Errorf("client: nil handler for topic %q", topic)
		}
		hs[topic] = h
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	return &Subscriber{
		addr:     addr,
		id:       id,
		handlers: hs,
		topics:   topics,
		opts:     opts.withDefaults(),
		logger:   logging.NewLogger("subscriber").With("client_id", id),
		done:     make(chan struct{}),
	}, nil
}

// ID returns the client id sent in the handshake.
func (s *Subscriber) ID() string { return s.id }

// Topics returns the subscribed topics in handshake order.
func (s *Subscriber) Topics() []string {
	return append([]string(nil), s.topics...)
}

// OnRoutingMiss installs fn to be called for envelopes without a handler.
// Such envelopes are always logged, counted and dropped.
func (s *Subscriber) OnRoutingMiss(fn RoutingMissFunc) {
	if fn == nil {
		s.onMiss.Store(nil)
		return
	}
	s.onMiss.Store(&fn)
}

// Connect dials the broker, sends the subscriber handshake and starts the
// receive loop. Calling it on a connected subscriber is a no-op.
func (s *Subscriber) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateConnected:
		return nil
	case stateStopped:
		return ErrClientClosed
	}

	hs := protocol.Handshake{
		Type:  protocol.ClientSubscriber,
		Topic: s.Topics(),
		ID:    s.id,
	}
	ch, err := s.opts.open(s.addr, hs, s.logger)
	if err != nil {
		return err
	}

	s.ch = ch
	s.state = stateConnected
	s.loopDone = make(chan struct{})
	go s.receiveLoop(ch, s.loopDone)

	s.logger.Info("Connected to broker", "addr", s.addr, "topics", s.topics)
	return nil
}

func (s *Subscriber) receiveLoop(ch *protocol.Channel, loopDone chan struct{}) {
	defer close(loopDone)

	for {
		msgs, err := ch.Receive()
		for _, msg := range msgs {
			switch msg.Header.Op {
			case protocol.OpEnvelope:
				s.handleEnvelope(msg.Payload)
			case protocol.OpReject:
				s.fail(rejection(msg.Payload))
				return
			default:
				s.logger.Debug("Ignoring unexpected frame", "op", msg.Header.Op.String())
			}
		}
		if err != nil {
			s.fail(fmt.Errorf("broker connection lost: %w", err))
			return
		}
		if s.stopped() {
			return
		}
	}
}

func (s *Subscriber) handleEnvelope(payload []byte) {
	env, err := protocol.DecodeEnvelope(payload)
	if err != nil {
		s.logger.Warn("Discarding malformed envelope", "error", err)
		return
	}
	s.received.Add(1)

	h, ok := s.handlers[env.Topic]
	if !ok {
		s.routingMiss(env)
		return
	}

	s.dispatch.Add(1)
	go func() {
		defer s.dispatch.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Handler panicked", "topic", env.Topic, "sequence", env.Header.Sequence, "panic", fmt.Sprint(r))
			}
		}()
		h(env)
	}()
}

func (s *Subscriber) routingMiss(env *Envelope) {
	s.misses.Add(1)
	err := fmt.Errorf("%w: %q", ErrNoHandler, env.Topic)
	s.logger.Warn("Dropping envelope without handler", "topic", env.Topic, "sender", env.Header.Name)
	if fn := s.onMiss.Load(); fn != nil {
		(*fn)(env, err)
	}
}

// Received returns how many envelopes were decoded, routed or not.
func (s *Subscriber) Received() uint64 { return s.received.Load() }

// RoutingMisses returns how many envelopes had no handler.
func (s *Subscriber) RoutingMisses() uint64 { return s.misses.Load() }

// Connected reports whether the subscriber is currently connected.
func (s *Subscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateConnected
}

// Done is closed once the subscriber stops.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err returns why the subscriber stopped, or nil if it is running or was
// stopped by Stop.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop closes the connection and ends the receive loop. Handlers already
// dispatched keep running; use Wait to join them. Safe to call more than once.
func (s *Subscriber) Stop() error {
	s.shutdown(nil)
	return nil
}

// Wait blocks until the receive loop has exited and every dispatched handler
// has returned. It returns immediately on a subscriber that never connected.
func (s *Subscriber) Wait() {
	s.mu.Lock()
	loopDone := s.loopDone
	s.mu.Unlock()
	if loopDone != nil {
		<-loopDone
	}
	s.dispatch.Wait()
}

func (s *Subscriber) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateStopped
}

func (s *Subscriber) fail(err error) {
	if s.shutdown(err) {
		s.logger.Warn("Subscriber stopped", "error", err)
	}
}

func (s *Subscriber) shutdown(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateStopped {
		return false
	}
	s.state = stateStopped
	s.err = err
	if s.ch != nil {
		s.ch.Close()
	}
	close(s.done)
	return true
}
