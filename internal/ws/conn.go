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

package ws

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Keepalive defaults.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultPongTimeout  = 10 * time.Second
	controlWriteTimeout = 5 * time.Second
)

// Conn adapts a WebSocket to net.Conn. Each Write becomes one binary
// message; Read returns the concatenated payloads of received messages.
//
// Read deadlines are enforced here rather than on the WebSocket, because a
// timed out WebSocket read leaves the connection unusable.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	incoming chan []byte
	readErr  error
	readDone chan struct{}
	pending  []byte

	deadlineMu    sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time

	lastPong  atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps ws and starts its reader. A positive pingInterval also starts
// a keepalive that closes the connection when pongs stop arriving.
func NewConn(ws *websocket.Conn, pingInterval, pongTimeout time.Duration) *Conn {
	c := &Conn{
		ws:       ws,
		incoming: make(chan []byte),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.lastPong.Store(time.Now().UnixNano())
	ws.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().UnixNano())
		return nil
	})

	go c.readPump()
	if pingInterval > 0 {
		go c.pingLoop(pingInterval, pongTimeout)
	}
	return c
}

// Dial opens a WebSocket to url and wraps it.
func Dial(url string, timeout time.Duration, tlsCfg *tls.Config) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		TLSClientConfig:  tlsCfg,
		ReadBufferSize:   DefaultReadBufferSize,
		WriteBufferSize:  DefaultWriteBufferSize,
	}
	ws, resp, err := dialer.Dial(url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return NewConn(ws, 0, 0), nil
}

func (c *Conn) readPump() {
	defer close(c.readDone)
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			c.readErr = err
			return
		}
		if typ != websocket.BinaryMessage && typ != websocket.TextMessage {
			continue
		}
		select {
		case c.incoming <- data:
		case <-c.done:
			c.readErr = net.ErrClosed
			return
		}
	}
}

func (c *Conn) pingLoop(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastPong.Load())
			if time.Since(last) > interval+timeout {
				c.Close()
				return
			}
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// Read implements net.Conn. Reads are not safe for concurrent use.
func (c *Conn) Read(b []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(b, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}

	c.deadlineMu.Lock()
	deadline := c.readDeadline
	c.deadlineMu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data := <-c.incoming:
		n := copy(b, data)
		c.pending = data[n:]
		return n, nil
	case <-c.readDone:
		return 0, c.readErr
	case <-c.done:
		return 0, net.ErrClosed
	case <-expired:
		return 0, os.ErrDeadlineExceeded
	}
}

// Write sends b as one binary message.
func (c *Conn) Write(b []byte) (int, error) {
	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.deadlineMu.Lock()
	deadline := c.writeDeadline
	c.deadlineMu.Unlock()
	c.ws.SetWriteDeadline(deadline)

	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteTimeout))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Conn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error {
	c.SetReadDeadline(t)
	return c.SetWriteDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	c.readDeadline = t
	c.deadlineMu.Unlock()
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	c.writeDeadline = t
	c.deadlineMu.Unlock()
	return nil
}

// originChecker allows requests whose Origin matches one of allowed. An
// empty list or "*" allows everything, and requests without an Origin
// header are not from browsers and always pass.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}
