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
proccom-discover - find proccom brokers on the local network.

Brokers started with discovery enabled announce themselves over mDNS
(Bonjour/Avahi). This tool lists them.

Usage:

	proccom-discover                 # Discover brokers (5 second timeout)
	proccom-discover --timeout 10    # Custom timeout in seconds
	proccom-discover --json          # Output as JSON
	proccom-discover --quiet         # Only output addresses (for scripting)
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"proccom/internal/banner"
	"proccom/internal/discovery"
	"proccom/pkg/cli"
)

func main() {
	timeout := flag.Int("timeout", 5, "Discovery timeout in seconds")
	service := flag.String("service", discovery.DefaultService, "mDNS service type")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	quiet := flag.Bool("quiet", false, "Only output broker addresses (for scripting)")
	version := flag.Bool("version", false, "Show version information")
	flag.BoolVar(quiet, "q", false, "Only output broker addresses (for scripting)")
	flag.Parse()

	if *version {
		banner.PrintCompact()
		return
	}

	// The mDNS library logs non-fatal IPv6 errors through the standard logger.
	log.SetOutput(io.Discard)

	human := !*quiet && !*jsonOutput
	if human {
		cli.Info("Scanning for proccom brokers on the network (timeout: %ds)...", *timeout)
	}

	entries, err := discovery.Lookup(*service, discovery.DefaultDomain, time.Duration(*timeout)*time.Second)
	if err != nil {
		if !*quiet {
			cli.Error("Discovery failed: %v", err)
		}
		os.Exit(1)
	}

	switch {
	case *jsonOutput:
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(data))
	case *quiet:
		addrs := make([]string, len(entries))
		for i, e := range entries {
			addrs[i] = e.Addr
		}
		fmt.Println(strings.Join(addrs, ","))
	case len(entries) == 0:
		cli.Warning("No proccom brokers found on the network.")
		fmt.Println()
		cli.Header("TROUBLESHOOTING")
		fmt.Println("  - Brokers must run with PROCCOM_DISCOVERY_ENABLED=true")
		fmt.Println("  - mDNS uses UDP port 5353 (multicast); firewalls must allow it")
		fmt.Println("  - Brokers must be on the same network segment")
		fmt.Println()
		cli.Example("Increase timeout", "proccom-discover --timeout 10")
	default:
		printHuman(entries)
	}
}

func printHuman(entries []discovery.Entry) {
	cli.Success("Found %d broker(s)", len(entries))
	fmt.Println()
	for i, e := range entries {
		fmt.Printf("  [%d] %s\n", i+1, e.Instance)
		cli.KeyValue("    Address", e.Addr)
		if e.Host != "" {
			cli.KeyValue("    Host", e.Host)
		}
		if e.Version != "" {
			cli.KeyValue("    Version", e.Version)
		}
		fmt.Println()
	}
}
