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
Package cli provides shared helpers for the proccom command line tools.

COLORS:
=======
ANSI escape codes for terminal text formatting:
- Reset, Bold, Dim
- Foreground: Red, Green, Yellow, Cyan

Colors are automatically disabled when output is not a TTY or NO_COLOR is set.

ICONS:
======
Unicode icons for status lines:
- IconSuccess (✓), IconError (✗), IconWarning (⚠)
- IconInfo (ℹ), IconArrow (→)

VALUES:
=======
Publish arguments given on the command line are read as JSON literals when
they parse and as plain strings otherwise:

	proccom-pub temps 21.5 '"C"' '{"probe":1}' hello
	// -> [21.5, "C", {"probe":1}, "hello"]
*/
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"proccom/pkg/client"
)

// ANSI color codes for terminal output.
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

// Icons for CLI output
const (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "⚠"
	IconInfo    = "ℹ"
	IconArrow   = "→"
)

// Output destinations, replaceable in tests.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

var colorsEnabled = true

func init() {
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
	}
	if fileInfo, err := os.Stdout.Stat(); err != nil || (fileInfo.Mode()&os.ModeCharDevice) == 0 {
		colorsEnabled = false
	}
}

// SetColorsEnabled enables or disables color output.
func SetColorsEnabled(enabled bool) {
	colorsEnabled = enabled
}

func colorize(color, text string) string {
	if !colorsEnabled {
		return text
	}
	return color + text + Reset
}

// Success prints a success message.
func Success(format string, args ...any) {
	fmt.Fprintln(Stdout, colorize(Green, IconSuccess+" "+fmt.Sprintf(format, args...)))
}

// Error prints an error message to Stderr.
func Error(format string, args ...any) {
	fmt.Fprintln(Stderr, colorize(Red, IconError+" "+fmt.Sprintf(format, args...)))
}

// ErrorWithHint prints an error message with a helpful hint.
func ErrorWithHint(message string, hint string) {
	fmt.Fprintln(Stderr, colorize(Red, IconError+" "+message))
	if hint != "" {
		fmt.Fprintln(Stderr, colorize(Dim, "  "+IconArrow+" Hint: "+hint))
	}
}

// Warning prints a warning message.
func Warning(format string, args ...any) {
	fmt.Fprintln(Stdout, colorize(Yellow, IconWarning+" "+fmt.Sprintf(format, args...)))
}

// Info prints an info message.
func Info(format string, args ...any) {
	fmt.Fprintln(Stdout, colorize(Cyan, IconInfo+" "+fmt.Sprintf(format, args...)))
}

// Header prints a header/title.
func Header(text string) {
	fmt.Fprintln(Stdout, colorize(Bold+Cyan, text))
}

// KeyValue prints a key-value pair.
func KeyValue(key string, value any) {
	fmt.Fprintf(Stdout, "  %s: %v\n", colorize(Dim, key), value)
}

// Example prints an example command.
func Example(description, command string) {
	fmt.Fprintf(Stdout, "  %s\n", colorize(Dim, "# "+description))
	fmt.Fprintf(Stdout, "  %s\n", colorize(Cyan, command))
}

// ParseValue reads s as a JSON literal, falling back to the string itself.
func ParseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// ParseValues applies ParseValue to every argument.
func ParseValues(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = ParseValue(a)
	}
	return out
}

// FormatEnvelope renders env on one line. JSON mode prints the envelope
// document itself; text mode prints a timestamped summary.
func FormatEnvelope(env *client.Envelope, jsonMode bool) string {
	if jsonMode {
		data, err := env.Encode()
		if err != nil {
			return fmt.Sprintf(`{"error":%q}`, err.Error())
		}
		return string(data)
	}

	ts := env.Timestamp().Format("15:04:05.000")
	head := fmt.Sprintf("[%s] %s #%d", ts, env.Topic, env.Header.Sequence)
	from := ""
	if env.Header.Name != "" {
		from = " from " + env.Header.Name
	}
	return colorize(Dim, head) + colorize(Cyan, from) + " " + strings.TrimSpace(string(env.Data))
}

// Elapsed formats a duration for status lines.
func Elapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}
