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
	"math"
	"reflect"
	"testing"
	"time"
)

func TestDecodeHandshake(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Handshake
		wantErr bool
	}{
		{
			name:    "publisher",
			payload: `{"type":"publisher","topic":["t"],"id":"pub-1"}`,
			want:    Handshake{Type: ClientPublisher, Topic: []string{"t"}, ID: "pub-1"},
		},
		{
			name:    "subscriber with several topics",
			payload: `{"type":"subscriber","topic":["a","b"],"id":"sub"}`,
			want:    Handshake{Type: ClientSubscriber, Topic: []string{"a", "b"}, ID: "sub"},
		},
		{
			name:    "empty id is allowed",
			payload: `{"type":"subscriber","topic":["a"],"id":""}`,
			want:    Handshake{Type: ClientSubscriber, Topic: []string{"a"}, ID: ""},
		},
		{name: "missing id", payload: `{"type":"publisher","topic":["t"]}`, wantErr: true},
		{name: "missing type", payload: `{"topic":["t"],"id":"x"}`, wantErr: true},
		{name: "unknown type", payload: `{"type":"both","topic":["t"],"id":"x"}`, wantErr: true},
		{name: "no topics", payload: `{"type":"subscriber","topic":[],"id":"x"}`, wantErr: true},
		{name: "empty topic name", payload: `{"type":"subscriber","topic":["a",""],"id":"x"}`, wantErr: true},
		{name: "topic not a list", payload: `{"type":"publisher","topic":"t","id":"x"}`, wantErr: true},
		{name: "not json", payload: `type=publisher`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHandshake([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidHandshake) {
					t.Errorf("Expected ErrInvalidHandshake, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeHandshake failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeHandshake() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHandshakeEncode(t *testing.T) {
	payload, err := Handshake{Type: ClientSubscriber, Topic: []string{"a"}, ID: "s"}.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := `{"type":"subscriber","topic":["a"],"id":"s"}`
	if string(payload) != want {
		t.Errorf("Encode() = %s, want %s", payload, want)
	}
}

func TestEnvelopeWireForm(t *testing.T) {
	at := time.Unix(1700000000, 250000000)
	env, err := NewEnvelope("t", "pub", 7, at, []any{1, "x"})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	payload, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := `{"topic":"t","header":{"name":"pub","sequence":7,"time":1700000000.25},"data":[1,"x"]}`
	if string(payload) != want {
		t.Errorf("Encode() = %s\nwant %s", payload, want)
	}

	decoded, err := DecodeEnvelope(payload)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if decoded.Header != env.Header || decoded.Topic != "t" {
		t.Errorf("Decoded envelope mismatch: %+v", decoded)
	}
	if d := decoded.Timestamp().Sub(at); math.Abs(float64(d)) > float64(time.Microsecond) {
		t.Errorf("Timestamp off by %v", d)
	}
}

func TestDecodedEnvelopeKeepsBytes(t *testing.T) {
	// Key order and spacing differ from what Marshal would produce.
	payload := []byte(`{"data": {"b":1,"a":2}, "topic": "t", "header": {"sequence": 1, "name": "p", "time": 0}}`)
	env, err := DecodeEnvelope(payload)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	got, _ := env.Encode()
	if string(got) != string(payload) {
		t.Errorf("Expected original bytes, got %s", got)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	for _, payload := range []string{`{"header":{},"data":1}`, `[]`, `{`} {
		if _, err := DecodeEnvelope([]byte(payload)); !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("DecodeEnvelope(%s): expected ErrInvalidDocument, got %v", payload, err)
		}
	}
}

func TestEnvelopeDecodeRoundTrip(t *testing.T) {
	values := []any{
		nil,
		false,
		"string with \"quotes\" and }{",
		-12.5,
		[]any{1.0, []any{2.0, []any{3.0}}},
		map[string]any{"k": map[string]any{"nested": []any{true, nil, "x"}}},
	}
	for _, v := range values {
		env, err := NewEnvelope("t", "p", 1, time.Now(), v)
		if err != nil {
			t.Fatalf("NewEnvelope(%v) failed: %v", v, err)
		}
		payload, _ := env.Encode()
		decoded, err := DecodeEnvelope(payload)
		if err != nil {
			t.Fatalf("DecodeEnvelope failed: %v", err)
		}
		var got any
		if err := decoded.Decode(&got); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("Round trip of %#v gave %#v", v, got)
		}
	}
}

func TestNewEnvelopeUnencodable(t *testing.T) {
	if _, err := NewEnvelope("t", "p", 1, time.Now(), make(chan int)); err == nil {
		t.Error("Expected error for a value JSON cannot encode")
	}
}

func TestEnvelopeIsZero(t *testing.T) {
	var nilEnv *Envelope
	if !nilEnv.IsZero() {
		t.Error("Expected nil envelope to be zero")
	}
	if !(&Envelope{}).IsZero() {
		t.Error("Expected empty envelope to be zero")
	}
	env, _ := NewEnvelope("t", "p", 1, time.Now(), 1)
	if env.IsZero() {
		t.Error("Expected built envelope not to be zero")
	}
}

func TestRejection(t *testing.T) {
	payload, _ := json.Marshal(&Rejection{Code: RejectTopicConflict, Reason: "owned"})
	rej, err := DecodeRejection(payload)
	if err != nil {
		t.Fatalf("DecodeRejection failed: %v", err)
	}
	if rej.Code != RejectTopicConflict || rej.Reason != "owned" {
		t.Errorf("Unexpected rejection: %+v", rej)
	}
	var asErr error = rej
	if asErr.Error() == "" {
		t.Error("Expected non-empty error text")
	}
}
