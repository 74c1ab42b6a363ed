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

// Package netutil opens the broker's TCP listener with the socket options
// the configuration asks for.
package netutil

import (
	"context"
	"net"
	"syscall"
)

// ListenOptions controls socket options applied before bind.
type ListenOptions struct {
	// ReuseAddr lets a restarted broker bind while old connections sit in TIME_WAIT.
	ReuseAddr bool
	// ReusePort lets several broker processes share one port where the OS supports it.
	ReusePort bool
}

// Listen opens a TCP listener on addr.
func Listen(ctx context.Context, addr string, opts ListenOptions) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = setSockopts(fd, opts)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(ctx, "tcp", addr)
}
