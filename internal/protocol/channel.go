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

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"proccom/internal/logging"
)

// Channel defaults.
const (
	DefaultPollInterval = time.Second
	DefaultWriteTimeout = 10 * time.Second
	readChunkSize       = 4096
)

// ErrReceiveTimeout is returned by ReceiveWithin when no document arrived in time.
var ErrReceiveTimeout = errors.New("timed out waiting for document")

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	// PollInterval bounds every blocking read so callers can observe shutdown.
	PollInterval time.Duration
	// WriteTimeout bounds every frame write. Zero disables the deadline.
	WriteTimeout time.Duration
	// MaxDocumentSize rejects frames announcing a larger payload.
	MaxDocumentSize uint32
	// OnParseError is called for every discarded frame or resync.
	OnParseError func(error)
	// Logger receives rate-limited parse error lines.
	Logger *logging.Logger
}

// Channel turns a byte stream into a sequence of framed documents.
//
// Receive may be called from one goroutine at a time; Send is safe for
// concurrent use. Partial frames are buffered across reads, so a frame split
// over several TCP segments and several frames coalesced into one segment are
// both handled.
type Channel struct {
	conn net.Conn
	opts ChannelOptions

	rmu       sync.Mutex
	readBuf   []byte
	pending   []byte
	backlog   []*Message
	resyncing bool

	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error

	logLimiter *rate.Limiter
}

// NewChannel wraps conn. Zero option fields take their defaults.
func NewChannel(conn net.Conn, opts ChannelOptions) *Channel {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxDocumentSize == 0 {
		opts.MaxDocumentSize = DefaultMaxDocumentSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("channel")
	}
	return &Channel{
		conn:       conn,
		opts:       opts,
		readBuf:    make([]byte, readChunkSize),
		logLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Conn returns the underlying connection.
func (c *Channel) Conn() net.Conn {
	return c.conn
}

// RemoteAddr returns the peer address.
func (c *Channel) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Receive performs at most one read, bounded by the poll interval, and
// returns every frame completed by it (possibly none).
//
// A poll timeout is not an error: it yields no frames and a nil error.
// io.EOF means the peer closed the stream; any other error is terminal.
func (c *Channel) Receive() ([]*Message, error) {
	return c.receive(c.opts.PollInterval)
}

func (c *Channel) receive(wait time.Duration) ([]*Message, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if len(c.backlog) > 0 {
		msgs := c.backlog
		c.backlog = nil
		return msgs, nil
	}

	c.conn.SetReadDeadline(time.Now().Add(wait))
	n, err := c.conn.Read(c.readBuf)
	if n > 0 {
		c.pending = append(c.pending, c.readBuf[:n]...)
	}
	msgs := c.drain()

	if err != nil {
		if IsTimeout(err) {
			return msgs, nil
		}
		if errors.Is(err, io.EOF) {
			return msgs, io.EOF
		}
		return msgs, err
	}
	return msgs, nil
}

// ReceiveWithin returns the next frame, waiting up to d. Frames that arrived
// together with it stay queued for the next Receive.
func (c *Channel) ReceiveWithin(d time.Duration) (*Message, error) {
	deadline := time.Now().Add(d)
	for {
		wait := min(time.Until(deadline), c.opts.PollInterval)
		if wait <= 0 {
			return nil, ErrReceiveTimeout
		}
		msgs, err := c.receive(wait)
		if len(msgs) > 0 {
			if len(msgs) > 1 {
				c.rmu.Lock()
				c.backlog = append(msgs[1:], c.backlog...)
				c.rmu.Unlock()
			}
			return msgs[0], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// drain extracts all complete frames from the pending buffer.
func (c *Channel) drain() []*Message {
	var msgs []*Message
	off := 0
	for off < len(c.pending) {
		buf := c.pending[off:]
		if buf[0] != MagicByte {
			skip := bytes.IndexByte(buf, MagicByte)
			c.enterResync(ErrInvalidMagic)
			if skip < 0 {
				off = len(c.pending)
				break
			}
			off += skip
			continue
		}
		if len(buf) < HeaderSize {
			break
		}
		h, err := ParseHeader(buf, c.opts.MaxDocumentSize)
		if err != nil {
			// Drop the bogus magic byte and look for the next frame start.
			c.enterResync(err)
			off++
			continue
		}
		total := HeaderSize + int(h.Length)
		if len(buf) < total {
			break
		}
		payload := make([]byte, h.Length)
		copy(payload, buf[HeaderSize:total])
		off += total
		c.resyncing = false

		if !json.Valid(payload) {
			c.parseError(fmt.Errorf("%w: %s frame of %d bytes", ErrInvalidDocument, h.Op, h.Length))
			continue
		}
		msgs = append(msgs, &Message{Header: h, Payload: payload})
	}
	if off > 0 {
		rest := copy(c.pending, c.pending[off:])
		c.pending = c.pending[:rest]
	}
	return msgs
}

// enterResync reports a framing error once per resync episode.
func (c *Channel) enterResync(err error) {
	if c.resyncing {
		return
	}
	c.resyncing = true
	c.parseError(err)
}

func (c *Channel) parseError(err error) {
	if c.opts.OnParseError != nil {
		c.opts.OnParseError(err)
	}
	if c.logLimiter.Allow() {
		c.opts.Logger.Warn("Discarding malformed bytes", "remote_addr", c.RemoteAddr(), "error", err)
	}
}

// Send writes one frame. Header and payload go out in a single Write.
// A payload over MaxDocumentSize is refused with ErrDocumentTooLarge and
// nothing is written.
func (c *Channel) Send(op OpCode, payload []byte) error {
	if uint64(len(payload)) > uint64(c.opts.MaxDocumentSize) {
		return fmt.Errorf("send %s: %d bytes: %w", op, len(payload), ErrDocumentTooLarge)
	}
	frame := EncodeFrame(op, payload)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.opts.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	_, err := c.conn.Write(frame)
	return err
}

// SendDocument JSON-encodes v and sends it as one frame.
func (c *Channel) SendDocument(op OpCode, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}
	return c.Send(op, payload)
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// IsTimeout reports whether err is a deadline expiry rather than a real failure.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsClosed reports whether err means the peer or the local side closed the stream.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
