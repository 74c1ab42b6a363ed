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

// Package msgs provides ready-made publisher format functions.
//
// A format function turns the arguments of Publish into the data of an
// envelope. Every function here has the shape Format and can be passed
// directly to client.NewPublisher:
//
//	pub, err := client.NewPublisher(addr, "temps", "sensor-1", msgs.Fields("value", "unit"), opts)
//	pub.Publish(21.5, "C") // data: {"unit":"C","value":21.5}
//
// Named formats can be looked up at runtime with Lookup, which is how the
// command line publisher picks one.
package msgs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Format turns publish arguments into envelope data.
type Format = func(args ...any) (any, error)

// List publishes the arguments as a JSON array.
func List(args ...any) (any, error) {
	if args == nil {
		return []any{}, nil
	}
	return args, nil
}

// Single publishes exactly one argument as is.
func Single(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("single format expects 1 argument, got %d", len(args))
	}
	return args[0], nil
}

// String publishes the arguments joined with single spaces into one string.
func String(args ...any) (any, error) {
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n"), nil
}

// JSON publishes a single argument holding JSON text, as that JSON value.
func JSON(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("json format expects 1 argument, got %d", len(args))
	}

	var raw []byte
	switch v := args[0].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		return nil, fmt.Errorf("json format expects text, got %T", v)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("json format: invalid JSON %q", raw)
	}
	return json.RawMessage(raw), nil
}

// Fields publishes the arguments as an object keyed by names, in order.
// The argument count must match.
func Fields(names ...string) Format {
	keys := append([]string(nil), names...)
	return func(args ...any) (any, error) {
		if len(args) != len(keys) {
			return nil, fmt.Errorf("fields format expects %d arguments %v, got %d", len(keys), keys, len(args))
		}
		out := make(map[string]any, len(keys))
		for i, k := range keys {
			out[k] = args[i]
		}
		return out, nil
	}
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Format{}
)

func init() {
	Register("list", List)
	Register("single", Single)
	Register("string", String)
	Register("json", JSON)
}

// Register makes a format available to Lookup under name, replacing any
// previous one.
func Register(name string, f Format) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Lookup returns the format registered under name.
func Lookup(name string) (Format, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names lists the registered formats.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
