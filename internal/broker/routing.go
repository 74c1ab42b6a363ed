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
	"fmt"
	"sort"
)

// handler is the part of a connection handler the routing table and the
// monitor need.
type handler interface {
	ClientID() string
	InstanceID() string
	Role() string
	Alive() bool
	Stop()
	run() string
}

// TopicSnapshot is one row of the routing table.
type TopicSnapshot struct {
	Topic       string   `json:"topic"`
	Publisher   string   `json:"publisher,omitempty"` // owner's client id
	Subscribers []string `json:"subscribers"`         // client ids in registration order
}

// routingTable maps topics to their publisher and subscribers.
// All methods must be called with Broker.mu held.
type routingTable struct {
	owners      map[string]*PublisherHandler
	subscribers map[string][]*SubscriberHandler
	handlers    []handler
}

func newRoutingTable() *routingTable {
	return &routingTable{
		owners:      make(map[string]*PublisherHandler),
		subscribers: make(map[string][]*SubscriberHandler),
	}
}

// addPublisher makes p the owner of its topic unless a live publisher
// already owns it. A dead owner that has not been reaped yet does not block
// the new publisher.
func (rt *routingTable) addPublisher(p *PublisherHandler) error {
	topic := p.Topic()
	if owner := rt.owners[topic]; owner != nil && owner.Alive() {
		return fmt.Errorf("%w: %q is owned by %q", ErrTopicConflict, topic, owner.ClientID())
	}

	rt.owners[topic] = p
	subs, ok := rt.subscribers[topic]
	if !ok {
		rt.subscribers[topic] = nil
	}
	for _, s := range subs {
		if s.Alive() {
			p.AddSubscriber(s)
		}
	}
	rt.handlers = append(rt.handlers, p)
	return nil
}

// addSubscriber appends s to the list of every topic it names and joins the
// fan-out set of each topic's live publisher.
func (rt *routingTable) addSubscriber(s *SubscriberHandler) {
	for _, topic := range s.Topics() {
		rt.subscribers[topic] = append(rt.subscribers[topic], s)
		if owner := rt.owners[topic]; owner != nil && owner.Alive() {
			owner.AddSubscriber(s)
		}
	}
	rt.handlers = append(rt.handlers, s)
}

// reap removes every dead handler and returns them.
func (rt *routingTable) reap() []handler {
	var dead []handler
	live := rt.handlers[:0]
	for _, h := range rt.handlers {
		if h.Alive() {
			live = append(live, h)
		} else {
			dead = append(dead, h)
		}
	}
	// Clear the tail so removed handlers can be collected.
	for i := len(live); i < len(rt.handlers); i++ {
		rt.handlers[i] = nil
	}
	rt.handlers = live

	for _, h := range dead {
		switch h := h.(type) {
		case *PublisherHandler:
			if rt.owners[h.Topic()] == h {
				delete(rt.owners, h.Topic())
			}
		case *SubscriberHandler:
			for _, topic := range h.Topics() {
				rt.subscribers[topic] = removeSubscriber(rt.subscribers[topic], h)
			}
			for _, owner := range rt.owners {
				owner.RemoveSubscriber(h)
			}
		}
	}
	return dead
}

// snapshot renders the table for introspection.
func (rt *routingTable) snapshot() []TopicSnapshot {
	topics := make(map[string]struct{}, len(rt.subscribers))
	for t := range rt.subscribers {
		topics[t] = struct{}{}
	}
	for t := range rt.owners {
		topics[t] = struct{}{}
	}

	out := make([]TopicSnapshot, 0, len(topics))
	for t := range topics {
		row := TopicSnapshot{Topic: t, Subscribers: []string{}}
		if owner := rt.owners[t]; owner != nil {
			row.Publisher = owner.ClientID()
		}
		for _, s := range rt.subscribers[t] {
			row.Subscribers = append(row.Subscribers, s.ClientID())
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// removeSubscriber deletes s from list, keeping order.
func removeSubscriber(list []*SubscriberHandler, s *SubscriberHandler) []*SubscriberHandler {
	for i, cur := range list {
		if cur == s {
			copy(list[i:], list[i+1:])
			list[len(list)-1] = nil
			return list[:len(list)-1]
		}
	}
	return list
}
