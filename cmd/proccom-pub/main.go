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
proccom-pub - publish messages on a proccom topic.

Usage:

	proccom-pub [options] <topic> [value ...]

With values on the command line one envelope is published and the tool
exits. Without values, every line of standard input is published as one
envelope until EOF or interrupt.

	proccom-pub temps 21.5 '"C"'            # data: [21.5, "C"]
	proccom-pub -format single temps 21.5   # data: 21.5
	tail -f readings.log | proccom-pub -format string readings
*/
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proccom/internal/banner"
	"proccom/internal/logging"
	"proccom/pkg/cli"
	"proccom/pkg/client"
	"proccom/pkg/msgs"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "Broker address (host:port, ws:// or wss:// URL)")
	discover := flag.Bool("discover", false, "Find the broker over mDNS instead of -addr")
	id := flag.String("id", "", "Client id (default: random)")
	format := flag.String("format", "list", "Data format: "+fmt.Sprint(msgs.Names()))
	avroSchema := flag.String("avro-schema", "", "Validate data against this Avro schema file")
	tlsEnabled := flag.Bool("tls", false, "Connect with TLS")
	caFile := flag.String("ca", "", "CA certificate file")
	insecure := flag.Bool("insecure", false, "Skip server certificate verification")
	quiet := flag.Bool("quiet", false, "Do not print published envelopes")
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

	topic := flag.Arg(0)
	values := flag.Args()[1:]

	f, ok := msgs.Lookup(*format)
	if !ok {
		cli.ErrorWithHint(fmt.Sprintf("unknown format %q", *format), fmt.Sprintf("choose one of %v", msgs.Names()))
		os.Exit(2)
	}
	if *avroSchema != "" {
		schema, err := os.ReadFile(*avroSchema)
		if err != nil {
			cli.Error("Cannot read schema: %v", err)
			os.Exit(1)
		}
		if f, err = msgs.Avro(string(schema), f); err != nil {
			cli.Error("Invalid schema: %v", err)
			os.Exit(1)
		}
	}

	brokerAddr := *addr
	if *discover {
		found, err := client.DiscoverBroker(5 * time.Second)
		if err != nil {
			cli.ErrorWithHint("No broker found", "start the broker with PROCCOM_DISCOVERY_ENABLED=true or pass -addr")
			os.Exit(1)
		}
		brokerAddr = found
	}

	pub, err := client.NewPublisher(brokerAddr, topic, *id, f, client.Options{
		TLSEnabled:            *tlsEnabled,
		TLSCAFile:             *caFile,
		TLSInsecureSkipVerify: *insecure,
	})
	if err != nil {
		cli.Error("%v", err)
		os.Exit(2)
	}
	if err := pub.Connect(); err != nil {
		if errors.Is(err, client.ErrRejected) {
			cli.Error("%v", err)
		} else {
			cli.ErrorWithHint(err.Error(), "is the broker running at "+brokerAddr+"?")
		}
		os.Exit(1)
	}
	defer pub.Stop()

	publish := func(args []any) bool {
		env, err := pub.Publish(args...)
		if err != nil {
			cli.Error("Publish failed: %v", err)
			return pub.Connected()
		}
		if !*quiet {
			fmt.Fprintln(cli.Stdout, cli.FormatEnvelope(&env, false))
		}
		return true
	}

	if len(values) > 0 {
		if !publish(cli.ParseValues(values)) {
			os.Exit(1)
		}
		return
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			if !publish([]any{cli.ParseValue(line)}) {
				os.Exit(1)
			}
		case <-pub.Done():
			cli.Error("%v", pub.Err())
			os.Exit(1)
		case <-sigCh:
			return
		}
	}
}

func usage() {
	banner.PrintCompactTo(os.Stderr)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Usage: proccom-pub [options] <topic> [value ...]")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}
