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
Package banner provides the startup banner for the proccom broker and tools.

USAGE:
======

	banner.PrintTo(w)                      // banner with version
	banner.PrintServerWithConfigTo(w, cfg) // broker banner with configuration
	banner.PrintCompact()                  // one line, for the client tools

The banner text is embedded at compile time from banner.txt.
*/
package banner

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"proccom/internal/config"
)

//go:embed banner.txt
var bannerText string

// ANSI escape codes for terminal text formatting.
const (
	AnsiRed    = "\033[31m"
	AnsiGreen  = "\033[32m"
	AnsiYellow = "\033[33m"
	AnsiCyan   = "\033[36m"
	AnsiReset  = "\033[0m"
	AnsiBold   = "\033[1m"
	AnsiDim    = "\033[2m"
)

// Version information
const (
	Version   = "1.0.0"
	Copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."
	License   = "Licensed under Apache License 2.0"
)

const lineWidth = 78

// GetBanner returns the raw ASCII banner text.
func GetBanner() string {
	return bannerText
}

// GetBannerLines returns the banner as individual lines.
func GetBannerLines() []string {
	return strings.Split(strings.TrimRight(bannerText, "\n"), "\n")
}

func printArt(w io.Writer, title, tagline string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiCyan+AnsiBold)
	for _, line := range GetBannerLines() {
		fmt.Fprintln(w, "  "+line)
	}
	fmt.Fprintln(w, AnsiReset)
	fmt.Fprintln(w, AnsiGreen+AnsiBold+"  "+title+AnsiReset+" "+AnsiDim+"v"+Version+AnsiReset)
	fmt.Fprintln(w, AnsiDim+"  "+tagline+AnsiReset)
	fmt.Fprintln(w)
}

// PrintTo writes the banner to the specified writer.
func PrintTo(w io.Writer) {
	printArt(w, "proccom", "Topic Publish/Subscribe Broker")
	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)
}

// Print displays the banner on stdout.
func Print() {
	PrintTo(os.Stdout)
}

// PrintCompact prints a one line banner.
func PrintCompact() {
	PrintCompactTo(os.Stdout)
}

// PrintCompactTo writes a one line banner to w.
func PrintCompactTo(w io.Writer) {
	fmt.Fprintln(w, AnsiCyan+AnsiBold+"proccom"+AnsiReset+" v"+Version)
}

// PrintServerWithConfig prints the broker banner followed by a summary of cfg.
func PrintServerWithConfig(cfg *config.Config) {
	PrintServerWithConfigTo(os.Stdout, cfg)
}

// PrintServerWithConfigTo writes the broker banner with configuration to w.
func PrintServerWithConfigTo(w io.Writer, cfg *config.Config) {
	printArt(w, "proccom Broker", "Topic Publish/Subscribe Broker")

	fmt.Fprint(w, "  "+AnsiDim+"Config: "+AnsiReset)
	if cfg.ConfigFile != "" {
		fmt.Fprintln(w, AnsiYellow+cfg.ConfigFile+AnsiReset)
	} else {
		fmt.Fprintln(w, AnsiDim+"defaults + environment"+AnsiReset)
	}
	fmt.Fprintln(w)

	printSectionHeader(w, "Server")
	printRow3(w,
		fmtKV("Listen", AnsiGreen+cfg.BindAddr+AnsiReset),
		fmtKV("Node", cfg.NodeID),
		fmtKV("Log", cfg.LogLevel))
	printRow3(w,
		fmtKV("Poll", cfg.PollInterval().String()),
		fmtKV("Handshake", cfg.HandshakeTimeout().String()),
		fmtKV("Max doc", formatBytes(int64(cfg.MaxDocumentSize))))
	fmt.Fprintln(w)

	printSectionHeader(w, "Security")
	printSecurityInfo(w, cfg)
	fmt.Fprintln(w)

	printSectionHeader(w, "Endpoints")
	printEndpointsInfo(w, cfg)
	fmt.Fprintln(w)

	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)
	printLogSeparator(w)
}

func printSecurityInfo(w io.Writer, cfg *config.Config) {
	if !cfg.IsTLSEnabled() {
		printRow2(w, fmtKV("TLS", AnsiYellow+"off"+AnsiReset), fmtDisabled("mTLS"))
		return
	}
	mtls := fmtDisabled("mTLS")
	if cfg.Security.TLSCAFile != "" {
		mtls = fmtEnabled("mTLS", true)
	}
	printRow2(w, fmtEnabled("TLS", true), mtls)
}

func printEndpointsInfo(w io.Writer, cfg *config.Config) {
	endpoint := func(name string, enabled bool, addr string) string {
		if !enabled {
			return fmtKV(name, AnsiDim+"off"+AnsiReset)
		}
		return fmtKV(name, AnsiGreen+addr+AnsiReset)
	}

	printRow3(w,
		endpoint("WebSocket", cfg.WS.Enabled, cfg.WS.Addr+cfg.WS.Path),
		endpoint("mDNS", cfg.Discovery.Enabled, cfg.Discovery.Service),
		endpoint("Metrics", cfg.Observability.Metrics.Enabled, cfg.Observability.Metrics.Addr))
	health := cfg.Observability.Health
	printRow3(w,
		endpoint("Health", health.Enabled, health.Addr),
		endpoint("gRPC health", health.Enabled && health.GRPCAddr != "", health.GRPCAddr),
		endpoint("Admin API", cfg.Observability.Admin.Enabled, cfg.Observability.Admin.Addr))
}

// PrintLogSeparator prints a visual separator before logs start.
func PrintLogSeparator() {
	printLogSeparator(os.Stdout)
}

func printLogSeparator(w io.Writer) {
	text := " LOGS START HERE "
	padding := (lineWidth - len(text) - 4) / 2
	if padding < 0 {
		padding = 0
	}
	line := strings.Repeat("-", padding)
	fmt.Fprintf(w, "  %svv%s %s%s%s %svv%s\n",
		AnsiYellow, line,
		AnsiBold, text, AnsiReset+AnsiYellow,
		line, AnsiReset)
	fmt.Fprintln(w)
}

func printSectionHeader(w io.Writer, title string) {
	titleLen := len(title) + 4 // "[ title ]"
	leftPad := 2
	rightPad := lineWidth - leftPad - titleLen
	if rightPad < 0 {
		rightPad = 0
	}
	fmt.Fprintf(w, "  %s[ %s%s%s ]%s%s\n",
		AnsiDim+strings.Repeat("-", leftPad),
		AnsiReset+AnsiCyan+AnsiBold, title, AnsiReset+AnsiDim,
		strings.Repeat("-", rightPad),
		AnsiReset)
}

func fmtKV(key, value string) string {
	return fmt.Sprintf("%s%s:%s %s", AnsiDim, key, AnsiReset, value)
}

func fmtEnabled(name string, enabled bool) string {
	if enabled {
		return AnsiGreen + name + AnsiReset
	}
	return AnsiDim + name + AnsiReset
}

func fmtDisabled(name string) string {
	return AnsiDim + name + AnsiReset
}

func printRow3(w io.Writer, col1, col2, col3 string) {
	fmt.Fprintf(w, "  %-32s %-26s %s\n", col1, col2, col3)
}

func printRow2(w io.Writer, col1, col2 string) {
	fmt.Fprintf(w, "  %-40s %s\n", col1, col2)
}

func formatBytes(bytes int64) string {
	if bytes == 0 {
		return "unlimited"
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.0f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
