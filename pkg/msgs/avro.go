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

package msgs

import (
	"fmt"

	"github.com/hamba/avro/v2"
)

// Decoder is implemented by envelopes.
type Decoder interface {
	Decode(v any) error
}

// Avro wraps inner so that every value it produces is checked against an
// Avro schema before it is published. The value is still sent as JSON.
func Avro(schema string, inner Format) (Format, error) {
	sch, err := avro.Parse(schema)
	if err != nil {
		return nil, fmt.Errorf("parse avro schema: %w", err)
	}
	if inner == nil {
		inner = Single
	}
	return func(args ...any) (any, error) {
		v, err := inner(args...)
		if err != nil {
			return nil, err
		}
		if _, err := avro.Marshal(sch, v); err != nil {
			return nil, fmt.Errorf("value does not match avro schema: %w", err)
		}
		return v, nil
	}, nil
}

// AvroBinary encodes the value produced by inner with an Avro schema. The
// envelope carries the binary encoding as a base64 JSON string; read it
// back with DecodeAvroBinary.
func AvroBinary(schema string, inner Format) (Format, error) {
	sch, err := avro.Parse(schema)
	if err != nil {
		return nil, fmt.Errorf("parse avro schema: %w", err)
	}
	if inner == nil {
		inner = Single
	}
	return func(args ...any) (any, error) {
		v, err := inner(args...)
		if err != nil {
			return nil, err
		}
		data, err := avro.Marshal(sch, v)
		if err != nil {
			return nil, fmt.Errorf("avro encode: %w", err)
		}
		return data, nil
	}, nil
}

// DecodeAvro decodes JSON envelope data into v and checks the result
// against schema. v should be a pointer to a struct with avro tags.
func DecodeAvro(schema string, env Decoder, v any) error {
	sch, err := avro.Parse(schema)
	if err != nil {
		return fmt.Errorf("parse avro schema: %w", err)
	}
	if err := env.Decode(v); err != nil {
		return err
	}
	if _, err := avro.Marshal(sch, v); err != nil {
		return fmt.Errorf("value does not match avro schema: %w", err)
	}
	return nil
}

// DecodeAvroBinary reverses AvroBinary.
func DecodeAvroBinary(schema string, env Decoder, v any) error {
	sch, err := avro.Parse(schema)
	if err != nil {
		return fmt.Errorf("parse avro schema: %w", err)
	}
	var data []byte
	if err := env.Decode(&data); err != nil {
		return err
	}
	return avro.Unmarshal(sch, data, v)
}
