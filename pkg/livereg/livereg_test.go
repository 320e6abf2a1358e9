/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package livereg

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voedger/reactord/pkg/crossbar"
	"github.com/voedger/reactord/pkg/ddpdoc"
	"github.com/voedger/reactord/pkg/goutils/testingu"
	"github.com/voedger/reactord/pkg/multiplex"
)

type countingStore struct {
	queries int32
	docs    []ddpdoc.Document
}

func (s *countingStore) Query(ctx context.Context, desc CursorDescription) ([]ddpdoc.Document, error) {
	atomic.AddInt32(&s.queries, 1)
	return s.docs, nil
}

func newTestRegistry(store Store) (*Registry, testingu.IMockTime) {
	clock := testingu.NewMockTime()
	bar := crossbar.New()
	return New(store, bar, clock, 50*time.Millisecond, 10*time.Second), clock
}

func TestObserveChangesDedupesIdenticalDescription(t *testing.T) {
	store := &countingStore{docs: []ddpdoc.Document{{"_id": "a"}}}
	reg, _ := newTestRegistry(store)
	desc := CursorDescription{Collection: "widgets", Selector: map[string]any{"active": true}}

	h1, err := reg.ObserveChanges(desc, false, multiplex.Callbacks{}, false)
	require.NoError(t, err)
	h2, err := reg.ObserveChanges(desc, false, multiplex.Callbacks{}, false)
	require.NoError(t, err)

	require.Equal(t, 1, reg.NumLiveMultiplexers())
	h1.Stop()
	require.Equal(t, 1, reg.NumLiveMultiplexers())
	h2.Stop()
	require.Equal(t, 0, reg.NumLiveMultiplexers())
}

func TestObserveChangesDistinctDescriptionsGetDistinctMultiplexers(t *testing.T) {
	store := &countingStore{docs: []ddpdoc.Document{{"_id": "a"}}}
	reg, _ := newTestRegistry(store)

	h1, err := reg.ObserveChanges(CursorDescription{Collection: "widgets"}, false, multiplex.Callbacks{}, false)
	require.NoError(t, err)
	h2, err := reg.ObserveChanges(CursorDescription{Collection: "gadgets"}, false, multiplex.Callbacks{}, false)
	require.NoError(t, err)

	require.Equal(t, 2, reg.NumLiveMultiplexers())
	h1.Stop()
	h2.Stop()
	require.Equal(t, 0, reg.NumLiveMultiplexers())
}

func TestObserveChangesDeliversInitialAdds(t *testing.T) {
	store := &countingStore{docs: []ddpdoc.Document{{"_id": "a", "q": 1}, {"_id": "b", "q": 2}}}
	reg, _ := newTestRegistry(store)

	var got []ddpdoc.Document
	h, err := reg.ObserveChanges(CursorDescription{Collection: "widgets"}, false, multiplex.Callbacks{
		InitialAdds: func(docs []ddpdoc.Document) { got = docs },
	}, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	h.Stop()
}

func TestOrderingDiffersFromUnorderedForSameDescription(t *testing.T) {
	store := &countingStore{docs: []ddpdoc.Document{{"_id": "a"}}}
	reg, _ := newTestRegistry(store)
	desc := CursorDescription{Collection: "widgets"}

	h1, err := reg.ObserveChanges(desc, false, multiplex.Callbacks{}, false)
	require.NoError(t, err)
	h2, err := reg.ObserveChanges(desc, true, multiplex.Callbacks{}, false)
	require.NoError(t, err)

	require.Equal(t, 2, reg.NumLiveMultiplexers())
	h1.Stop()
	h2.Stop()
}
