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
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ClientType is the role a client declares in its handshake.
type ClientType string

const (
	ClientPublisher  ClientType = "publisher"
	ClientSubscriber ClientType = "subscriber"
)

// ErrInvalidHandshake is returned for handshakes that are malformed or incomplete.
var ErrInvalidHandshake = errors.New("invalid handshake")

// Handshake is the first document a client sends on a new connection.
//
//	{"type": "publisher"|"subscriber", "topic": ["t1", ...], "id": "client-id"}
//
// A publisher names exactly one topic (extra entries are ignored by the broker);
// a subscriber may name several.
type Handshake struct {
	Type  ClientType `json:"type"`
	Topic []string   `json:"topic"`
	ID    string     `json:"id"`
}

// handshakeWire distinguishes a missing id from an empty one.
type handshakeWire struct {
	Type  ClientType `json:"type"`
	Topic []string   `json:"topic"`
	ID    *string    `json:"id"`
}

// DecodeHandshake parses and validates a handshake payload.
func DecodeHandshake(payload []byte) (Handshake, error) {
	var w handshakeWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	switch w.Type {
	case ClientPublisher, ClientSubscriber:
	case "":
		return Handshake{}, fmt.Errorf("%w: missing type", ErrInvalidHandshake)
	default:
		return Handshake{}, fmt.Errorf("%w: unknown type %q", ErrInvalidHandshake, w.Type)
	}
	if len(w.Topic) == 0 {
		return Handshake{}, fmt.Errorf("%w: missing topic", ErrInvalidHandshake)
	}
	for _, t := range w.Topic {
		if t == "" {
			return Handshake{}, fmt.Errorf("%w: empty topic name", ErrInvalidHandshake)
		}
	}
	if w.ID == nil {
		return Handshake{}, fmt.Errorf("%w: missing id", ErrInvalidHandshake)
	}
	return Handshake{Type: w.Type, Topic: w.Topic, ID: *w.ID}, nil
}

// Encode serializes the handshake.
func (h Handshake) Encode() ([]byte, error) {
	return json.Marshal(h)
}

// EnvelopeHeader carries sender metadata for one published message.
type EnvelopeHeader struct {
	Name     string  `json:"name"`     // sender id
	Sequence uint64  `json:"sequence"` // per-publisher, starts at 1
	Time     float64 `json:"time"`     // seconds since the Unix epoch
}

// Envelope is one published unit of data.
//
// Data holds the application value as raw JSON so the broker can route an
// envelope without re-encoding its payload. An Envelope decoded from the wire
// remembers its original bytes and Encode returns them unchanged.
type Envelope struct {
	Topic  string          `json:"topic"`
	Header EnvelopeHeader  `json:"header"`
	Data   json.RawMessage `json:"data"`

	raw []byte
}

// NewEnvelope builds an envelope, encoding data as JSON.
func NewEnvelope(topic, sender string, seq uint64, at time.Time, data any) (*Envelope, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	return &Envelope{
		Topic: topic,
		Header: EnvelopeHeader{
			Name:     sender,
			Sequence: seq,
			Time:     float64(at.Unix()) + float64(at.Nanosecond())/1e9,
		},
		Data: encoded,
	}, nil
}

// DecodeEnvelope parses an envelope payload. The topic is mandatory.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if env.Topic == "" {
		return nil, fmt.Errorf("%w: envelope without topic", ErrInvalidDocument)
	}
	env.raw = payload
	return &env, nil
}

// Encode returns the wire form of the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	return json.Marshal(e)
}

// Decode unmarshals the envelope data into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(e.Data, v)
}

// Timestamp converts the header time into a time.Time.
func (e *Envelope) Timestamp() time.Time {
	sec := int64(e.Header.Time)
	nsec := int64((e.Header.Time - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// IsZero reports whether the envelope is the empty value.
func (e *Envelope) IsZero() bool {
	return e == nil || (e.Topic == "" && e.Header == EnvelopeHeader{} && len(e.Data) == 0)
}

// Rejection codes.
const (
	RejectTopicConflict = "topic_conflict"
	RejectBadHandshake  = "bad_handshake"
)

// Rejection is sent by the broker before it closes a connection it refuses.
type Rejection struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Error implements error so a client can surface the rejection directly.
func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected by broker (%s): %s", r.Code, r.Reason)
}

// DecodeRejection parses a rejection payload.
func DecodeRejection(payload []byte) (*Rejection, error) {
	var r Rejection
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return &r, nil
}
