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
	"sync"
	"time"

	"github.com/google/uuid"

	"proccom/internal/logging"
	"proccom/internal/protocol"
)

// FormatFunc turns the arguments of Publish into the envelope data.
// The result must be JSON encodable.
type FormatFunc func(args ...any) (any, error)

// passthrough publishes a single argument as is and several as a list.
func passthrough(args ...any) (any, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		return args[0], nil
	default:
		return args, nil
	}
}

// Publisher sends envelopes on one topic.
type Publisher struct {
	addr   string
	topic  string
	id     string
	format FormatFunc
	opts   Options
	logger *logging.Logger

	// pubMu serializes Publish so sequence numbers hit the wire in order.
	pubMu sync.Mutex

	mu       sync.Mutex
	state    state
	ch       *protocol.Channel
	sequence uint64
	err      error
	done     chan struct{}
}

// NewPublisher creates a publisher for topic. An empty id gets a random one
// and a nil format publishes the arguments unchanged.
func NewPublisher(addr, topic, id string, format FormatFunc, opts Options) (*Publisher, error) {
	if topic == "" {
		return nil, errors.New("client: publisher topic is required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	if format == nil {
		format = passthrough
	}
	return &Publisher{
		addr:   addr,
		topic:  topic,
		id:     id,
		format: format,
		opts:   opts.withDefaults(),
		logger: logging.NewLogger("publisher").With("topic", topic, "client_id", id),
		done:   make(chan struct{}),
	}, nil
}

// Topic returns the topic this publisher sends on.
func (p *Publisher) Topic() string { return p.topic }

// ID returns the client id sent in the handshake.
func (p *Publisher) ID() string { return p.id }

// Connect dials the broker and sends the publisher handshake. Calling it on a
// connected publisher is a no-op.
//
// The broker answers only on refusal, so Connect listens for Options.RejectWait
// before returning. A topic conflict seen in that window is returned as an
// error wrapping ErrRejected and stops the publisher. One that arrives later
// is reported through Err and Done.
func (p *Publisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateConnected:
		return nil
	case stateStopped:
		return ErrClientClosed
	}

	hs := protocol.Handshake{
		Type:  protocol.ClientPublisher,
		Topic: []string{p.topic},
		ID:    p.id,
	}
	ch, err := p.opts.open(p.addr, hs, p.logger)
	if err != nil {
		return err
	}
	if err := p.awaitAccept(ch); err != nil {
		ch.Close()
		if errors.Is(err, ErrRejected) {
			p.state = stateStopped
			p.err = err
			close(p.done)
			p.logger.Warn("Publisher rejected", "error", err)
		}
		return err
	}

	p.ch = ch
	p.state = stateConnected
	go p.watch(ch)

	p.logger.Info("Connected to broker", "addr", p.addr)
	return nil
}

// awaitAccept gives the broker RejectWait to refuse the handshake. Silence
// means the publisher is registered.
func (p *Publisher) awaitAccept(ch *protocol.Channel) error {
	if p.opts.RejectWait < 0 {
		return nil
	}
	msg, err := ch.ReceiveWithin(p.opts.RejectWait)
	switch {
	case errors.Is(err, protocol.ErrReceiveTimeout):
		return nil
	case err != nil:
		return fmt.Errorf("broker closed the connection: %w", err)
	case msg.Header.Op == protocol.OpReject:
		return rejection(msg.Payload)
	default:
		return nil
	}
}

// watch reads the connection until it ends. The broker only ever writes a
// rejection to a publisher, so any read outcome other than a timeout stops
// the publisher.
func (p *Publisher) watch(ch *protocol.Channel) {
	for {
		msgs, err := ch.Receive()
		for _, msg := range msgs {
			if msg.Header.Op == protocol.OpReject {
				p.fail(rejection(msg.Payload))
				return
			}
		}
		if err != nil {
			p.fail(fmt.Errorf("broker connection lost: %w", err))
			return
		}
	}
}

// Publish formats args into an envelope and sends it. The sequence number
// advances on every call made while connected, including calls that fail.
// On a publisher that is not connected it returns an empty envelope and
// ErrNotConnected. A send failure stops the publisher, except for an
// envelope over MaxDocumentSize, which is refused before anything is written.
func (p *Publisher) Publish(args ...any) (Envelope, error) {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	p.mu.Lock()
	if p.state != stateConnected {
		p.mu.Unlock()
		return Envelope{}, ErrNotConnected
	}
	p.sequence++
	seq := p.sequence
	ch := p.ch
	p.mu.Unlock()

	data, err := p.format(args...)
	if err != nil {
		return Envelope{}, fmt.Errorf("format message: %w", err)
	}
	env, err := protocol.NewEnvelope(p.topic, p.id, seq, time.Now(), data)
	if err != nil {
		return Envelope{}, err
	}
	payload, err := env.Encode()
	if err != nil {
		return Envelope{}, err
	}
	if err := ch.Send(protocol.OpEnvelope, payload); err != nil {
		err = fmt.Errorf("send envelope: %w", err)
		if !errors.Is(err, protocol.ErrDocumentTooLarge) {
			p.fail(err)
		}
		return Envelope{}, err
	}
	return *env, nil
}

// Sequence returns the last sequence number handed out.
func (p *Publisher) Sequence() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sequence
}

// Connected reports whether the publisher is currently connected.
func (p *Publisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateConnected
}

// Done is closed once the publisher stops.
func (p *Publisher) Done() <-chan struct{} { return p.done }

// Err returns why the publisher stopped, or nil if it is running or was
// stopped by Stop.
func (p *Publisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop closes the connection. It is safe to call more than once.
func (p *Publisher) Stop() error {
	p.shutdown(nil)
	return nil
}

func (p *Publisher) fail(err error) {
	if p.shutdown(err) {
		p.logger.Warn("Publisher stopped", "error", err)
	}
}

// shutdown moves the publisher to stopped and reports whether this call did it.
func (p *Publisher) shutdown(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateStopped {
		return false
	}
	p.state = stateStopped
	p.err = err
	if p.ch != nil {
		p.ch.Close()
	}
	close(p.done)
	return true
}
