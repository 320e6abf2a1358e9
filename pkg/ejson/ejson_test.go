/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package ejson

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDateRoundTrips(t *testing.T) {
	c := Codec{}
	now := time.Now().UTC().Truncate(time.Millisecond)

	wire := c.Encode(now)
	m, ok := wire.(map[string]any)
	require.True(t, ok)
	require.Contains(t, m, "$date")

	back := c.Decode(wire)
	got, ok := back.(time.Time)
	require.True(t, ok)
	require.True(t, now.Equal(got))
}

func TestBinaryRoundTrips(t *testing.T) {
	c := Codec{}
	data := Binary([]byte{0x01, 0x02, 0xff})

	wire := c.Encode(data)
	m, ok := wire.(map[string]any)
	require.True(t, ok)
	require.Contains(t, m, "$binary")

	back := c.Decode(wire)
	got, ok := back.(Binary)
	require.True(t, ok)
	require.Equal(t, data, got)
}

func TestDecimalRoundTrips(t *testing.T) {
	c := Codec{}
	d := Decimal("123.4500000000000000001")

	wire := c.Encode(d)
	m, ok := wire.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Decimal", m["$type"])

	back := c.Decode(wire)
	got, ok := back.(Decimal)
	require.True(t, ok)
	require.Equal(t, d, got)
}

func TestEncodeWalksNestedStructures(t *testing.T) {
	c := Codec{}
	now := time.Unix(1700000000, 0).UTC()

	in := map[string]any{
		"createdAt": now,
		"tags":      []any{Decimal("1.1"), "plain"},
	}
	wire := c.Encode(in).(map[string]any)
	require.Contains(t, wire["createdAt"].(map[string]any), "$date")

	tags := wire["tags"].([]any)
	require.Contains(t, tags[0].(map[string]any), "$type")
	require.Equal(t, "plain", tags[1])
}

func TestDecodeLeavesPlainValuesUnchanged(t *testing.T) {
	c := Codec{}
	require.Equal(t, "hello", c.Decode("hello"))
	require.Equal(t, float64(5), c.Decode(float64(5)))
	require.Equal(t, map[string]any{"a": 1}, c.Decode(map[string]any{"a": 1}))
}
