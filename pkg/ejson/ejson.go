/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

// Package ejson implements the EJSON-style wire adjustment spec.md §6
// calls out as an external collaborator: fields/params/results that
// contain Dates, binary blobs, or decimal numbers round-trip through
// the wire using Meteor's tagged-object convention ({"$date": millis},
// {"$binary": base64}, {"$type": "...", "$value": ...}) instead of
// losing type information to plain JSON.
package ejson

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Decimal preserves an arbitrary-precision decimal literal across the
// wire without attempting arithmetic on it — callers that need math
// parse the string themselves. No third-party decimal type appears
// anywhere in the example pack and the exact literal (not a rounded
// float) is what must round-trip, so this is a thin string wrapper
// rather than a library type.
type Decimal string

// Binary is an opaque byte blob, EJSON-encoded as base64.
type Binary []byte

const (
	dateKey    = "$date"
	binaryKey  = "$binary"
	typeKey    = "$type"
	valueKey   = "$value"
	decimalTag = "Decimal"
)

// Codec implements ddpsession.FieldCodec: Encode walks a value tree
// turning time.Time/Binary/Decimal into their tagged-object wire form;
// Decode walks the inverse, turning tagged objects back into those
// Go types. Any value outside this type set passes through unchanged.
type Codec struct{}

func (Codec) Encode(v any) any { return encodeValue(v) }
func (Codec) Decode(v any) any { return decodeValue(v) }

func encodeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return map[string]any{dateKey: t.UnixMilli()}
	case Binary:
		return map[string]any{binaryKey: base64.StdEncoding.EncodeToString(t)}
	case []byte:
		return map[string]any{binaryKey: base64.StdEncoding.EncodeToString(t)}
	case Decimal:
		return map[string]any{typeKey: decimalTag, valueKey: string(t)}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = encodeValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = encodeValue(vv)
		}
		return out
	default:
		return v
	}
}

func decodeValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		if arr, ok := v.([]any); ok {
			out := make([]any, len(arr))
			for i, vv := range arr {
				out[i] = decodeValue(vv)
			}
			return out
		}
		return v
	}

	if len(m) == 1 {
		if ms, ok := m[dateKey]; ok {
			if millis, ok := asInt64(ms); ok {
				return time.UnixMilli(millis).UTC()
			}
		}
		if bs, ok := m[binaryKey].(string); ok {
			if decoded, err := base64.StdEncoding.DecodeString(bs); err == nil {
				return Binary(decoded)
			}
		}
	}
	if len(m) == 2 {
		if tag, ok := m[typeKey].(string); ok && tag == decimalTag {
			if val, ok := m[valueKey]; ok {
				return Decimal(fmt.Sprint(val))
			}
		}
	}

	out := make(map[string]any, len(m))
	for k, vv := range m {
		out[k] = decodeValue(vv)
	}
	return out
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}
