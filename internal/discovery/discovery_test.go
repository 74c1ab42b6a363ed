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

package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"

	"proccom/internal/config"
)

func TestAdvertiseDisabled(t *testing.T) {
	adv, err := Advertise(config.DiscoveryConfig{Enabled: false}, "node-1", 5000, "1.0.0")
	if err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}
	if adv != nil {
		t.Fatal("Expected nil advertiser when discovery is disabled")
	}
	if err := adv.Shutdown(); err != nil {
		t.Errorf("Shutdown on nil advertiser failed: %v", err)
	}
}

func TestNewServiceDefaults(t *testing.T) {
	svc, err := newService(config.DiscoveryConfig{}, "node-1", 5000, "1.2.3")
	if err != nil {
		t.Fatalf("newService failed: %v", err)
	}
	if svc.Instance != "node-1" {
		t.Errorf("Expected instance to default to node id, got %q", svc.Instance)
	}
	if svc.Service != DefaultService {
		t.Errorf("Expected service %q, got %q", DefaultService, svc.Service)
	}
	if svc.Port != 5000 {
		t.Errorf("Expected port 5000, got %d", svc.Port)
	}

	want := map[string]bool{"version=1.2.3": false, "node=node-1": false}
	for _, txt := range svc.TXT {
		if _, ok := want[txt]; ok {
			want[txt] = true
		}
	}
	for txt, seen := range want {
		if !seen {
			t.Errorf("Expected TXT record %q", txt)
		}
	}
}

func TestNewServiceCustomInstance(t *testing.T) {
	cfg := config.DiscoveryConfig{Instance: "lab", Service: "_custom._tcp", Domain: "local."}
	svc, err := newService(cfg, "node-1", 6000, "1.0.0")
	if err != nil {
		t.Fatalf("newService failed: %v", err)
	}
	if svc.Instance != "lab" || svc.Service != "_custom._tcp" {
		t.Errorf("Unexpected service %q/%q", svc.Instance, svc.Service)
	}
}

func TestEntryFromService(t *testing.T) {
	se := &mdns.ServiceEntry{
		Name:       "lab._proccom._tcp.local.",
		Host:       "box.local.",
		AddrV4:     net.ParseIP("192.168.1.20"),
		Port:       5000,
		InfoFields: []string{"version=1.0.0", "node=box", "junk"},
	}

	e, ok := entryFromService(se, DefaultService, DefaultDomain)
	if !ok {
		t.Fatal("Expected entry to be accepted")
	}
	if e.Instance != "lab" {
		t.Errorf("Expected instance lab, got %q", e.Instance)
	}
	if e.Addr != "192.168.1.20:5000" {
		t.Errorf("Expected addr 192.168.1.20:5000, got %q", e.Addr)
	}
	if e.Version != "1.0.0" || e.NodeID != "box" {
		t.Errorf("Unexpected TXT fields: version=%q node=%q", e.Version, e.NodeID)
	}
}

func TestEntryFromServiceRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name string
		se   *mdns.ServiceEntry
	}{
		{"nil", nil},
		{"no port", &mdns.ServiceEntry{Name: "x", AddrV4: net.ParseIP("10.0.0.1")}},
		{"no address", &mdns.ServiceEntry{Name: "x", Port: 5000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := entryFromService(tt.se, DefaultService, DefaultDomain); ok {
				t.Error("Expected entry to be rejected")
			}
		})
	}
}

func TestEntryFromServiceIPv6(t *testing.T) {
	se := &mdns.ServiceEntry{
		Name:   "v6._proccom._tcp.local.",
		AddrV6: net.ParseIP("fe80::1"),
		Port:   5000,
	}
	e, ok := entryFromService(se, DefaultService, DefaultDomain)
	if !ok {
		t.Fatal("Expected entry to be accepted")
	}
	if e.Addr != "[fe80::1]:5000" {
		t.Errorf("Expected bracketed IPv6 addr, got %q", e.Addr)
	}
}
