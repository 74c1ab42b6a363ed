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
proccom-sub - print envelopes received on proccom topics.

Usage:

	proccom-sub [options] <topic> [topic ...]

Every envelope is printed on one line, as a readable summary or with -json
as the envelope document itself. The tool runs until interrupted or until the
broker goes away.
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"proccom/internal/banner"
	"proccom/internal/logging"
	"proccom/pkg/cli"
	"proccom/pkg/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "Broker address (host:port, ws:// or wss:// URL)")
	discover := flag.Bool("discover", false, "Find the broker over mDNS instead of -addr")
	id := flag.String("id", "", "Client id (default: random)")
	jsonOutput := flag.Bool("json", false, "Print envelope documents as JSON lines")
	count := flag.Int("n", 0, "Exit after this many envelopes (0: run until interrupted)")
	tlsEnabled := flag.Bool("tls", false, "Connect with TLS")
	caFile := flag.String("ca", "", "CA certificate file")
	insecure := flag.Bool("insecure", false, "Skip server certificate verification")
	version := flag.Bool("version", false, "Show version information")
	flag.Usage = usage
	flag.Parse()

	if *version {
		banner.PrintCompact()
		return
	}
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	logging.SetGlobalLevel(logging.WARN)

	brokerAddr := *addr
	if *discover {
		found, err := client.DiscoverBroker(5 * time.Second)
		if err != nil {
			cli.ErrorWithHint("No broker found", "start the broker with PROCCOM_DISCOVERY_ENABLED=true or pass -addr")
			os.Exit(1)
		}
		brokerAddr = found
	}

	// Handlers run concurrently; printing is serialized so lines never interleave.
	var mu sync.Mutex
	printed := 0
	enough := make(chan struct{})
	show := func(env *client.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		if *count > 0 && printed >= *count {
			return
		}
		fmt.Fprintln(cli.Stdout, cli.FormatEnvelope(env, *jsonOutput))
		printed++
		if *count > 0 && printed == *count {
			close(enough)
		}
	}

	handlers := make(map[string]client.Handler, flag.NArg())
	for _, topic := range flag.Args() {
		handlers[topic] = show
	}

	sub, err := client.NewSubscriber(brokerAddr, *id, handlers, client.Options{
		TLSEnabled:            *tlsEnabled,
		TLSCAFile:             *caFile,
		TLSInsecureSkipVerify: *insecure,
	})
	if err != nil {
		cli.Error("%v", err)
		os.Exit(2)
	}
	if err := sub.Connect(); err != nil {
		cli.ErrorWithHint(err.Error(), "is the broker running at "+brokerAddr+"?")
		os.Exit(1)
	}
	if !*jsonOutput {
		cli.Info("Subscribed to %v at %s", sub.Topics(), brokerAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigCh:
	case <-enough:
	case <-sub.Done():
		if err := sub.Err(); err != nil {
			cli.Error("%v", err)
			exitCode = 1
		}
	}
	sub.Stop()
	sub.Wait()
	os.Exit(exitCode)
}

func usage() {
	banner.PrintCompactTo(os.Stderr)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Usage: proccom-sub [options] <topic> [topic ...]")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}
