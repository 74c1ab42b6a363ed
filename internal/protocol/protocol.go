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
Package protocol defines the proccom wire protocol.

PROTOCOL OVERVIEW:
==================
A proccom connection is a plain byte stream (TCP, TLS or a WebSocket adapted to a
stream). The stream does not preserve write boundaries, so every document travels
inside a frame with an explicit length:

	+-------+-------+-------+-------+-------+-------+-------+-------+
	| Magic | Ver   | Op    | Flags | Length (4 bytes, big-endian) |
	+-------+-------+-------+-------+-------+-------+-------+-------+
	|                 JSON document (Length bytes)                  |
	+---------------------------------------------------------------+

HEADER FIELDS:
==============
- Magic (1 byte): 0xC7 - Identifies a proccom frame
- Version (1 byte): Protocol version (currently 0x01)
- Op (1 byte): Document kind (see OpCode constants)
- Flags (1 byte): Reserved, always 0x00
- Length (4 bytes): Payload length in bytes (big-endian)

DOCUMENTS:
==========
- OpHandshake: first frame a client sends, see Handshake
- OpEnvelope:  one published message, see Envelope
- OpReject:    broker refusal sent right before the broker closes, see Rejection

Because the length is explicit, a document may contain any bytes at all and
several frames may arrive in one read or one frame may span several reads.
See Channel for the buffering reader built on top of these primitives.
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// Protocol constants define the wire format parameters.
const (
	// MagicByte identifies proccom frames.
	MagicByte byte = 0xC7

	// ProtocolVersion is the current protocol version.
	ProtocolVersion byte = 0x01

	// DefaultMaxDocumentSize limits a single payload unless configured otherwise.
	DefaultMaxDocumentSize = 4 * 1024 * 1024 // 4MB

	// HeaderSize is the fixed size of the frame header in bytes.
	HeaderSize = 8
)

// OpCode identifies the kind of document carried by a frame.
type OpCode byte

const (
	OpHandshake OpCode = 0x01 // Client registration, first frame on a connection
	OpEnvelope  OpCode = 0x02 // Published message
	OpReject    OpCode = 0x03 // Broker refusal, followed by connection close
)

// String returns a readable name for the opcode.
func (op OpCode) String() string {
	switch op {
	case OpHandshake:
		return "handshake"
	case OpEnvelope:
		return "envelope"
	case OpReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Header is the fixed-size header that precedes every document.
type Header struct {
	Magic   byte   // Must be MagicByte
	Version byte   // Must be ProtocolVersion
	Op      OpCode // Document kind
	Flags   byte   // Reserved
	Length  uint32 // Payload length in bytes
}

// Message is one complete frame (header + payload).
type Message struct {
	Header  Header
	Payload []byte
}

// Protocol errors returned during frame parsing.
var (
	// ErrInvalidMagic indicates the magic byte doesn't match.
	// This usually means the peer is not speaking proccom or the stream lost sync.
	ErrInvalidMagic = errors.New("invalid magic byte")

	// ErrInvalidVersion indicates an unsupported protocol version.
	ErrInvalidVersion = errors.New("invalid protocol version")

	// ErrDocumentTooLarge indicates the payload exceeds the configured maximum.
	ErrDocumentTooLarge = errors.New("document too large")

	// ErrInvalidDocument indicates a payload that is not a JSON document.
	ErrInvalidDocument = errors.New("payload is not a valid JSON document")
)

// ParseHeader decodes and validates a header from the first HeaderSize bytes of buf.
func ParseHeader(buf []byte, maxSize uint32) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, io.ErrUnexpectedEOF
	}
	h := Header{
		Magic:   buf[0],
		Version: buf[1],
		Op:      OpCode(buf[2]),
		Flags:   buf[3],
		Length:  binary.BigEndian.Uint32(buf[4:]),
	}
	if h.Magic != MagicByte {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != ProtocolVersion {
		return Header{}, ErrInvalidVersion
	}
	if h.Length > maxSize {
		return Header{}, ErrDocumentTooLarge
	}
	return h, nil
}

// ReadHeader reads and validates a frame header from the reader.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}
	return ParseHeader(buf, DefaultMaxDocumentSize)
}

// AppendHeader appends the encoded header to dst.
func AppendHeader(dst []byte, h Header) []byte {
	var buf [HeaderSize]byte
	buf[0] = h.Magic
	buf[1] = h.Version
	buf[2] = byte(h.Op)
	buf[3] = h.Flags
	binary.BigEndian.PutUint32(buf[4:], h.Length)
	return append(dst, buf[:]...)
}

// WriteHeader writes a frame header to the writer.
func WriteHeader(w io.Writer, h Header) error {
	_, err := w.Write(AppendHeader(nil, h))
	return err
}

// EncodeFrame returns header and payload as one contiguous buffer so that a
// single Write puts the whole frame on the wire.
func EncodeFrame(op OpCode, payload []byte) []byte {
	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = AppendHeader(buf, Header{
		Magic:   MagicByte,
		Version: ProtocolVersion,
		Op:      op,
		Length:  uint32(len(payload)),
	})
	return append(buf, payload...)
}

// ReadMessage reads one complete frame from the reader, blocking until it is whole.
// Channel is the non-blocking, resynchronizing alternative used on live connections.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	msg := &Message{Header: h}
	if h.Length > 0 {
		msg.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// WriteMessage writes a complete frame to the writer.
func WriteMessage(w io.Writer, op OpCode, payload []byte) error {
	_, err := w.Write(EncodeFrame(op, payload))
	return err
}
