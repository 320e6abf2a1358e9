/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package crossbar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchBySubset(t *testing.T) {
	b := New()
	var got []Notification
	b.Listen(Trigger{"collection": "fruit"}, func(n Notification) {
		got = append(got, n)
	})
	b.Fire(Notification{"collection": "fruit", "id": "a"})
	b.Fire(Notification{"collection": "veg", "id": "b"})
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0]["id"])
}

func TestAnyCollectionListenerSeesEverything(t *testing.T) {
	b := New()
	count := 0
	b.Listen(Trigger{}, func(Notification) { count++ })
	b.Fire(Notification{"collection": "fruit", "id": "a"})
	b.Fire(Notification{"collection": "veg", "id": "b"})
	require.Equal(t, 2, count)
}

func TestStopIsIdempotent(t *testing.T) {
	b := New()
	count := 0
	stop := b.Listen(Trigger{"collection": "fruit"}, func(Notification) { count++ })
	b.Fire(Notification{"collection": "fruit"})
	stop()
	stop()
	b.Fire(Notification{"collection": "fruit"})
	require.Equal(t, 1, count)
}

func TestMutateDuringIterationIsSafe(t *testing.T) {
	b := New()
	var stopSelf StopHandle
	calls := 0
	stopSelf = b.Listen(Trigger{"collection": "fruit"}, func(Notification) {
		calls++
		stopSelf()
	})
	b.Listen(Trigger{"collection": "fruit"}, func(Notification) { calls++ })
	b.Fire(Notification{"collection": "fruit"})
	require.Equal(t, 2, calls)
	b.Fire(Notification{"collection": "fruit"})
	require.Equal(t, 3, calls)
}

func TestIDFastPathRejectsMismatch(t *testing.T) {
	b := New()
	count := 0
	b.Listen(Trigger{"collection": "fruit", "id": "a"}, func(Notification) { count++ })
	b.Fire(Notification{"collection": "fruit", "id": "b"})
	require.Equal(t, 0, count)
	b.Fire(Notification{"collection": "fruit", "id": "a"})
	require.Equal(t, 1, count)
}
