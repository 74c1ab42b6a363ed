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
	"io"
	"time"

	"proccom/internal/admin"
)

// AdminHandler exposes a broker to the admin API.
type AdminHandler struct {
	broker  *Broker
	version string
}

// NewAdminHandler returns an admin.Handler backed by b.
func NewAdminHandler(b *Broker, version string) *AdminHandler {
	return &AdminHandler{broker: b, version: version}
}

func (h *AdminHandler) Info() admin.BrokerInfo {
	b := h.broker
	info := admin.BrokerInfo{
		NodeID:    b.config.NodeID,
		Version:   h.version,
		TLS:       b.IsTLS(),
		Running:   b.Running(),
		StartedAt: b.StartedAt(),
	}
	if addr := b.Addr(); addr != nil {
		info.Addr = addr.String()
	}
	if !info.StartedAt.IsZero() {
		info.Uptime = time.Since(info.StartedAt).Truncate(time.Second).String()
	}
	return info
}

func (h *AdminHandler) Topics() []admin.TopicInfo {
	snap := h.broker.Snapshot()
	out := make([]admin.TopicInfo, 0, len(snap))
	for _, t := range snap {
		out = append(out, h.topicInfo(t))
	}
	return out
}

func (h *AdminHandler) Topic(name string) (admin.TopicInfo, error) {
	for _, t := range h.broker.Snapshot() {
		if t.Topic == name {
			return h.topicInfo(t), nil
		}
	}
	return admin.TopicInfo{}, admin.ErrTopicNotFound
}

func (h *AdminHandler) topicInfo(t TopicSnapshot) admin.TopicInfo {
	tm := h.broker.metrics.GetTopicMetrics(t.Topic)
	subs := t.Subscribers
	if subs == nil {
		subs = []string{}
	}
	return admin.TopicInfo{
		Name:               t.Topic,
		Publisher:          t.Publisher,
		Subscribers:        subs,
		EnvelopesPublished: tm.EnvelopesPublished.Load(),
		EnvelopesDelivered: tm.EnvelopesDelivered.Load(),
		BytesPublished:     tm.BytesPublished.Load(),
	}
}

func (h *AdminHandler) Stats() admin.StatsInfo {
	m := h.broker.metrics
	return admin.StatsInfo{
		Topics:             len(h.broker.Snapshot()),
		Handlers:           h.broker.HandlerCount(),
		ActiveConnections:  m.ActiveConnections.Load(),
		TotalConnections:   m.TotalConnections.Load(),
		ActivePublishers:   m.ActivePublishers.Load(),
		ActiveSubscribers:  m.ActiveSubscribers.Load(),
		EnvelopesPublished: m.EnvelopesPublished.Load(),
		EnvelopesDelivered: m.EnvelopesDelivered.Load(),
		EnvelopesDropped:   m.EnvelopesDropped.Load(),
		HandshakesRejected: m.HandshakesRejected.Load(),
		TopicConflicts:     m.TopicConflicts.Load(),
		ParseErrors:        m.ParseErrors.Load(),
		AvgFanoutLatencyUs: m.AverageFanoutLatency(),
	}
}

func (h *AdminHandler) WriteMetrics(w io.Writer) {
	h.broker.metrics.WritePrometheus(w)
}
