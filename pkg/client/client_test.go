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
	"net"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"proccom/internal/broker"
	"proccom/internal/config"
	"proccom/internal/protocol"
	"proccom/internal/ws"
)

var testOptions = Options{PollInterval: 20 * time.Millisecond, DialTimeout: 2 * time.Second}

func startBroker(t *testing.T) *broker.Broker {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BindAddr = "127.0.0.1:0"
	cfg.PollIntervalMs = 20
	cfg.HandshakeTimeoutMs = 500

	b, err := broker.NewBroker(cfg)
	if err != nil {
		t.Fatalf("NewBroker failed: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { b.Stop() })
	return b
}

// mockServer accepts connections and hands each one to handler as a channel.
func mockServer(t *testing.T, handler func(ch *protocol.Channel)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				ch := protocol.NewChannel(conn, protocol.ChannelOptions{PollInterval: 20 * time.Millisecond})
				defer ch.Close()
				handler(ch)
			}()
		}
	}()
	return ln.Addr().String()
}

// drainUntilClosed reads until the peer goes away.
func drainUntilClosed(ch *protocol.Channel) {
	for {
		if _, err := ch.Receive(); err != nil {
			return
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func routeOf(b *broker.Broker, topic string) broker.TopicSnapshot {
	for _, r := range b.Snapshot() {
		if r.Topic == topic {
			return r
		}
	}
	return broker.TopicSnapshot{Topic: topic}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client to stop")
	}
}

func TestNewPublisherValidation(t *testing.T) {
	if _, err := NewPublisher("127.0.0.1:1", "", "id", nil, testOptions); err == nil {
		t.Error("Expected error for empty topic")
	}

	p, err := NewPublisher("127.0.0.1:1", "t", "", nil, testOptions)
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	if p.ID() == "" {
		t.Error("Expected generated id")
	}
	if p.Topic() != "t" {
		t.Errorf("Expected topic t, got %q", p.Topic())
	}
}

func TestNewSubscriberValidation(t *testing.T) {
	noop := func(*Envelope) {}
	tests := []struct {
		name     string
		handlers map[string]Handler
	}{
		{"no handlers", nil},
		{"empty topic", map[string]Handler{"": noop}},
		{"nil handler", map[string]Handler{"t": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSubscriber("127.0.0.1:1", "s", tt.handlers, testOptions); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestPublishNotConnected(t *testing.T) {
	p, _ := NewPublisher("127.0.0.1:1", "t", "p", nil, testOptions)

	env, err := p.Publish(1, 2)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}
	if !env.IsZero() {
		t.Errorf("Expected empty envelope, got %+v", env)
	}
	if p.Sequence() != 0 {
		t.Errorf("Expected sequence 0, got %d", p.Sequence())
	}
}

func TestConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p, _ := NewPublisher(addr, "t", "p", nil, testOptions)
	if err := p.Connect(); err == nil {
		t.Fatal("Expected connect error")
	}
	if p.Connected() {
		t.Error("Publisher should not be connected")
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := startBroker(t)
	addr := b.Addr().String()

	var mu sync.Mutex
	var got []*Envelope
	sub, err := NewSubscriber(addr, "sub-1", map[string]Handler{
		"temps": func(env *Envelope) {
			mu.Lock()
			got = append(got, env)
			mu.Unlock()
		},
	}, testOptions)
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	if err := sub.Connect(); err != nil {
		t.Fatalf("Subscriber connect failed: %v", err)
	}
	defer sub.Stop()
	waitUntil(t, "subscriber registration", func() bool { return len(routeOf(b, "temps").Subscribers) == 1 })

	pub, _ := NewPublisher(addr, "temps", "probe", nil, testOptions)
	if err := pub.Connect(); err != nil {
		t.Fatalf("Publisher connect failed: %v", err)
	}
	defer pub.Stop()
	waitUntil(t, "publisher registration", func() bool { return routeOf(b, "temps").Publisher == "probe" })

	for i := 1; i <= 3; i++ {
		env, err := pub.Publish(i, "C")
		if err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
		if env.Header.Sequence != uint64(i) || env.Header.Name != "probe" || env.Topic != "temps" {
			t.Errorf("Unexpected envelope %+v", env)
		}
	}

	waitUntil(t, "three deliveries", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	sort.Slice(got, func(i, j int) bool { return got[i].Header.Sequence < got[j].Header.Sequence })
	for i, env := range got {
		var data []any
		if err := env.Decode(&data); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if len(data) != 2 || data[0] != float64(i+1) || data[1] != "C" {
			t.Errorf("Unexpected data %v", data)
		}
	}
	if sub.Received() != 3 {
		t.Errorf("Expected 3 received, got %d", sub.Received())
	}
}

func TestPublishSequenceAdvancesOnFormatError(t *testing.T) {
	b := startBroker(t)

	format := func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, errors.New("nothing to publish")
		}
		return args[0], nil
	}
	pub, _ := NewPublisher(b.Addr().String(), "t", "p", format, testOptions)
	if err := pub.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer pub.Stop()

	if _, err := pub.Publish(); err == nil {
		t.Fatal("Expected format error")
	}
	env, err := pub.Publish("ok")
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if env.Header.Sequence != 2 {
		t.Errorf("Expected sequence 2 after a failed publish, got %d", env.Header.Sequence)
	}
}

func TestConcurrentPublishSequences(t *testing.T) {
	b := startBroker(t)
	pub, _ := NewPublisher(b.Addr().String(), "t", "p", nil, testOptions)
	if err := pub.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer pub.Stop()

	const workers, each = 4, 50
	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				env, err := pub.Publish(i)
				if err != nil {
					t.Errorf("Publish failed: %v", err)
					return
				}
				mu.Lock()
				seen[env.Header.Sequence] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for seq := uint64(1); seq <= workers*each; seq++ {
		if !seen[seq] {
			t.Fatalf("Sequence %d missing", seq)
		}
	}
}

func TestPublisherRejectedOnTopicConflict(t *testing.T) {
	b := startBroker(t)
	addr := b.Addr().String()

	first, _ := NewPublisher(addr, "t", "first", nil, testOptions)
	if err := first.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer first.Stop()
	waitUntil(t, "first publisher", func() bool { return routeOf(b, "t").Publisher == "first" })

	opts := testOptions
	opts.RejectWait = 2 * time.Second
	second, _ := NewPublisher(addr, "t", "second", nil, opts)
	err := second.Connect()
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Expected Connect to return ErrRejected, got %v", err)
	}
	var rej *Rejection
	if !errors.As(err, &rej) || rej.Code != protocol.RejectTopicConflict {
		t.Errorf("Expected topic conflict rejection, got %v", err)
	}
	waitDone(t, second.Done())
	if !errors.Is(second.Err(), ErrRejected) {
		t.Errorf("Expected Err to report the rejection, got %v", second.Err())
	}
	if _, err := second.Publish(1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after rejection, got %v", err)
	}
	if err := second.Connect(); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed on reconnect, got %v", err)
	}
	if !first.Connected() {
		t.Error("First publisher should remain connected")
	}
}

func TestPublisherLateRejection(t *testing.T) {
	release := make(chan struct{})
	addr := mockServer(t, func(ch *protocol.Channel) {
		ch.ReceiveWithin(2 * time.Second)
		<-release
		ch.SendDocument(protocol.OpReject, protocol.Rejection{Code: protocol.RejectTopicConflict, Reason: "taken"})
		drainUntilClosed(ch)
	})

	opts := testOptions
	opts.RejectWait = -1
	pub, _ := NewPublisher(addr, "t", "late", nil, opts)
	if err := pub.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer pub.Stop()
	close(release)

	waitDone(t, pub.Done())
	var rej *Rejection
	if !errors.As(pub.Err(), &rej) || rej.Code != protocol.RejectTopicConflict {
		t.Errorf("Expected topic conflict rejection, got %v", pub.Err())
	}
}

func TestPublishOversizeKeepsConnection(t *testing.T) {
	b := startBroker(t)
	opts := testOptions
	opts.MaxDocumentSize = 256
	pub, _ := NewPublisher(b.Addr().String(), "big", "pub", nil, opts)
	if err := pub.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer pub.Stop()

	if _, err := pub.Publish(strings.Repeat("x", 1024)); !errors.Is(err, protocol.ErrDocumentTooLarge) {
		t.Fatalf("Expected ErrDocumentTooLarge, got %v", err)
	}
	if !pub.Connected() {
		t.Fatal("Oversize envelope should not stop the publisher")
	}
	env, err := pub.Publish("small")
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if env.Header.Sequence != 2 {
		t.Errorf("Expected sequence 2, got %d", env.Header.Sequence)
	}
}

func TestPublisherStopsWhenBrokerStops(t *testing.T) {
	b := startBroker(t)
	pub, _ := NewPublisher(b.Addr().String(), "t", "p", nil, testOptions)
	if err := pub.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitUntil(t, "publisher registration", func() bool { return routeOf(b, "t").Publisher == "p" })

	b.Stop()
	waitDone(t, pub.Done())
	if pub.Err() == nil {
		t.Error("Expected an error after the broker went away")
	}
}

func TestPublisherStopIdempotent(t *testing.T) {
	b := startBroker(t)
	pub, _ := NewPublisher(b.Addr().String(), "t", "p", nil, testOptions)
	if err := pub.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := pub.Connect(); err != nil {
		t.Errorf("Second Connect should be a no-op, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := pub.Stop(); err != nil {
			t.Errorf("Stop %d failed: %v", i, err)
		}
	}
	waitDone(t, pub.Done())
	if pub.Err() != nil {
		t.Errorf("Expected nil error after Stop, got %v", pub.Err())
	}
	if err := pub.Connect(); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed, got %v", err)
	}
}

func TestSubscriberHandshakeSortsTopics(t *testing.T) {
	handshakes := make(chan protocol.Handshake, 1)
	addr := mockServer(t, func(ch *protocol.Channel) {
		msg, err := ch.ReceiveWithin(2 * time.Second)
		if err != nil {
			return
		}
		hs, err := protocol.DecodeHandshake(msg.Payload)
		if err != nil {
			return
		}
		handshakes <- hs
		drainUntilClosed(ch)
	})

	noop := func(*Envelope) {}
	sub, _ := NewSubscriber(addr, "s", map[string]Handler{"c": noop, "a": noop, "b": noop}, testOptions)
	if err := sub.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sub.Stop()

	select {
	case hs := <-handshakes:
		if hs.Type != protocol.ClientSubscriber || hs.ID != "s" {
			t.Errorf("Unexpected handshake %+v", hs)
		}
		if fmt.Sprint(hs.Topic) != "[a b c]" {
			t.Errorf("Expected sorted topics, got %v", hs.Topic)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("No handshake received")
	}
}

func TestSubscriberRoutingMiss(t *testing.T) {
	addr := mockServer(t, func(ch *protocol.Channel) {
		if _, err := ch.ReceiveWithin(2 * time.Second); err != nil {
			return
		}
		for _, topic := range []string{"unknown", "known"} {
			env, _ := protocol.NewEnvelope(topic, "pub", 1, time.Now(), "x")
			raw, _ := env.Encode()
			ch.Send(protocol.OpEnvelope, raw)
		}
		drainUntilClosed(ch)
	})

	handled := make(chan string, 1)
	missed := make(chan error, 1)
	sub, _ := NewSubscriber(addr, "s", map[string]Handler{
		"known": func(env *Envelope) { handled <- env.Topic },
	}, testOptions)
	sub.OnRoutingMiss(func(env *Envelope, err error) { missed <- err })
	if err := sub.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sub.Stop()

	select {
	case err := <-missed:
		if !errors.Is(err, ErrNoHandler) {
			t.Errorf("Expected ErrNoHandler, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Routing miss not reported")
	}
	select {
	case topic := <-handled:
		if topic != "known" {
			t.Errorf("Expected known, got %q", topic)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Known topic not dispatched")
	}

	if sub.RoutingMisses() != 1 {
		t.Errorf("Expected 1 routing miss, got %d", sub.RoutingMisses())
	}
	if !sub.Connected() {
		t.Error("A routing miss must not stop the subscriber")
	}
}

func TestSubscriberHandlerPanicIsContained(t *testing.T) {
	addr := mockServer(t, func(ch *protocol.Channel) {
		if _, err := ch.ReceiveWithin(2 * time.Second); err != nil {
			return
		}
		for seq := uint64(1); seq <= 2; seq++ {
			env, _ := protocol.NewEnvelope("t", "pub", seq, time.Now(), seq)
			raw, _ := env.Encode()
			ch.Send(protocol.OpEnvelope, raw)
		}
		drainUntilClosed(ch)
	})

	calls := make(chan uint64, 2)
	sub, _ := NewSubscriber(addr, "s", map[string]Handler{
		"t": func(env *Envelope) {
			calls <- env.Header.Sequence
			if env.Header.Sequence == 1 {
				panic("boom")
			}
		},
	}, testOptions)
	if err := sub.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer sub.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(3 * time.Second):
			t.Fatal("Handler not called for every envelope")
		}
	}
}

func TestSubscriberRejected(t *testing.T) {
	addr := mockServer(t, func(ch *protocol.Channel) {
		if _, err := ch.ReceiveWithin(2 * time.Second); err != nil {
			return
		}
		ch.SendDocument(protocol.OpReject, protocol.Rejection{Code: protocol.RejectBadHandshake, Reason: "nope"})
	})

	sub, _ := NewSubscriber(addr, "s", map[string]Handler{"t": func(*Envelope) {}}, testOptions)
	if err := sub.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitDone(t, sub.Done())

	var rej *Rejection
	if !errors.As(sub.Err(), &rej) || rej.Code != protocol.RejectBadHandshake {
		t.Errorf("Expected bad handshake rejection, got %v", sub.Err())
	}
	sub.Wait()
}

func TestSubscriberStopAndWait(t *testing.T) {
	b := startBroker(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	sub, _ := NewSubscriber(b.Addr().String(), "s", map[string]Handler{
		"t": func(*Envelope) {
			started <- struct{}{}
			<-release
		},
	}, testOptions)
	if err := sub.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitUntil(t, "subscriber registration", func() bool { return len(routeOf(b, "t").Subscribers) == 1 })

	pub, _ := NewPublisher(b.Addr().String(), "t", "p", nil, testOptions)
	if err := pub.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer pub.Stop()
	waitUntil(t, "publisher registration", func() bool { return routeOf(b, "t").Publisher == "p" })
	if _, err := pub.Publish("x"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("Handler never started")
	}

	sub.Stop()
	sub.Stop()

	waited := make(chan struct{})
	go func() {
		sub.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while a handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(3 * time.Second):
		t.Fatal("Wait did not return after handlers finished")
	}
}

func TestSubscriberWaitWithoutConnect(t *testing.T) {
	sub, _ := NewSubscriber("127.0.0.1:1", "s", map[string]Handler{"t": func(*Envelope) {}}, testOptions)
	sub.Wait()
	if err := sub.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := sub.Connect(); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed, got %v", err)
	}
}

func TestSubscriberOverWebSocket(t *testing.T) {
	b := startBroker(t)
	g := ws.NewGateway(&config.WSConfig{Enabled: true, Addr: "127.0.0.1:0", Path: "/ws"}, b, nil)
	if err := g.Start(); err != nil {
		t.Fatalf("Gateway start failed: %v", err)
	}
	defer g.Stop()

	got := make(chan *Envelope, 1)
	sub, _ := NewSubscriber("ws://"+g.Addr().String()+"/ws", "browser", map[string]Handler{
		"t": func(env *Envelope) { got <- env },
	}, testOptions)
	if err := sub.Connect(); err != nil {
		t.Fatalf("Subscriber connect failed: %v", err)
	}
	defer sub.Stop()
	waitUntil(t, "subscriber registration", func() bool { return len(routeOf(b, "t").Subscribers) == 1 })

	pub, _ := NewPublisher(b.Addr().String(), "t", "p", nil, testOptions)
	if err := pub.Connect(); err != nil {
		t.Fatalf("Publisher connect failed: %v", err)
	}
	defer pub.Stop()
	waitUntil(t, "publisher registration", func() bool { return routeOf(b, "t").Publisher == "p" })

	if _, err := pub.Publish("over ws"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case env := <-got:
		var s string
		if err := env.Decode(&s); err != nil || s != "over ws" {
			t.Errorf("Unexpected data %q, %v", s, err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("No envelope over WebSocket")
	}
}
