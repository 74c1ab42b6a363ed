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

// Package discovery announces a broker on the local network with multicast
// DNS and lets clients find it without a configured address.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"proccom/internal/config"
	"proccom/internal/logging"
)

// Defaults used when the configuration leaves a field empty.
const (
	DefaultService = "_proccom._tcp"
	DefaultDomain  = "local."
)

// ErrNoBroker is returned when a lookup finds nothing.
var ErrNoBroker = errors.New("no broker found")

// Entry is one broker found on the network.
type Entry struct {
	Instance string `json:"instance"`
	Host     string `json:"host,omitempty"`
	Addr     string `json:"addr"` // host:port ready to dial
	Port     int    `json:"port"`
	Version  string `json:"version,omitempty"`
	NodeID   string `json:"node_id,omitempty"`
}

// Advertiser keeps a broker announced until Shutdown.
type Advertiser struct {
	server *mdns.Server
	logger *logging.Logger
}

// Advertise announces the broker listening on port. It returns nil without
// error when discovery is disabled.
func Advertise(cfg config.DiscoveryConfig, nodeID string, port int, version string) (*Advertiser, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	svc, err := newService(cfg, nodeID, port, version)
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("start mdns responder: %w", err)
	}

	logger := logging.NewLogger("discovery")
	logger.Info("Advertising broker", "instance", svc.Instance, "service", svc.Service, "port", port)
	return &Advertiser{server: server, logger: logger}, nil
}

func newService(cfg config.DiscoveryConfig, nodeID string, port int, version string) (*mdns.MDNSService, error) {
	service := cfg.Service
	if service == "" {
		service = DefaultService
	}
	domain := cfg.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	instance := cfg.Instance
	if instance == "" {
		instance = nodeID
	}

	host, _ := os.Hostname()
	if host != "" && !strings.HasSuffix(host, ".") {
		host += "."
	}

	txt := []string{"version=" + version, "node=" + nodeID}
	svc, err := mdns.NewMDNSService(instance, service, domain, host, port, localIPs(), txt)
	if err != nil {
		return nil, fmt.Errorf("build mdns service: %w", err)
	}
	return svc, nil
}

// localIPs returns the non-loopback IPv4 addresses of this host, or the
// loopback address when there are none.
func localIPs() []net.IP {
	var ips []net.IP
	addrs, _ := net.InterfaceAddrs()
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			ips = append(ips, ip4)
		}
	}
	if len(ips) == 0 {
		ips = []net.IP{net.IPv4(127, 0, 0, 1)}
	}
	return ips
}

// Shutdown withdraws the announcement. A nil Advertiser is a no-op.
func (a *Advertiser) Shutdown() error {
	if a == nil {
		return nil
	}
	a.logger.Info("Withdrawing broker announcement")
	return a.server.Shutdown()
}

// Lookup queries the network for brokers for up to timeout. Entries are
// sorted by instance name.
func Lookup(service, domain string, timeout time.Duration) ([]Entry, error) {
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}

	results := make(chan *mdns.ServiceEntry, 16)
	found := make(map[string]Entry)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for se := range results {
			if e, ok := entryFromService(se, service, domain); ok {
				found[e.Instance] = e
			}
		}
	}()

	params := mdns.DefaultParams(service)
	params.Domain = domain
	params.Timeout = timeout
	params.Entries = results
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(results)
	<-collected
	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}

	entries := make([]Entry, 0, len(found))
	for _, e := range found {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Instance < entries[j].Instance })
	return entries, nil
}

// First returns the address of the first broker found.
func First(timeout time.Duration) (string, error) {
	entries, err := Lookup(DefaultService, DefaultDomain, timeout)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", ErrNoBroker
	}
	return entries[0].Addr, nil
}

func entryFromService(se *mdns.ServiceEntry, service, domain string) (Entry, bool) {
	if se == nil || se.Port == 0 {
		return Entry{}, false
	}

	var ip net.IP
	switch {
	case se.AddrV4 != nil:
		ip = se.AddrV4
	case se.AddrV6 != nil:
		ip = se.AddrV6
	default:
		return Entry{}, false
	}

	suffix := "." + strings.Trim(service, ".") + "." + strings.Trim(domain, ".") + "."
	e := Entry{
		Instance: strings.TrimSuffix(se.Name, suffix),
		Host:     se.Host,
		Addr:     net.JoinHostPort(ip.String(), strconv.Itoa(se.Port)),
		Port:     se.Port,
	}
	for _, field := range se.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			e.Version = value
		case "node":
			e.NodeID = value
		}
	}
	return e, true
}
