/*
 * Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package multiplex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voedger/reactord/pkg/ddpdoc"
)

func TestInitialAddsAfterReady(t *testing.T) {
	m := New(false, nil)
	require.NoError(t, m.Added("a", ddpdoc.Fields{"q": 1}))
	require.NoError(t, m.Ready())

	var got []ddpdoc.Document
	h, err := m.AddHandleAndSendInitialAdds(Callbacks{
		InitialAdds: func(docs []ddpdoc.Document) { got = docs },
	}, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	h.Stop()
}

func TestAddHandleBeforeReadyWaits(t *testing.T) {
	m := New(false, nil)
	done := make(chan struct{})
	var got []ddpdoc.Document
	go func() {
		h, err := m.AddHandleAndSendInitialAdds(Callbacks{
			InitialAdds: func(docs []ddpdoc.Document) { got = docs },
		}, false)
		require.NoError(t, err)
		require.NotNil(t, h)
		close(done)
	}()
	require.NoError(t, m.Added("a", ddpdoc.Fields{}))
	require.NoError(t, m.Ready())
	<-done
	require.Len(t, got, 1)
}

func TestReadyTwiceErrors(t *testing.T) {
	m := New(false, nil)
	require.NoError(t, m.Ready())
	require.ErrorIs(t, m.Ready(), ErrAlreadyReady)
}

func TestChangedBeforeReadyIsDriverBug(t *testing.T) {
	m := New(false, nil)
	err := m.Changed("a", ddpdoc.Fields{})
	require.Error(t, err)
}

func TestQueryErrorRejectsPendingAddHandle(t *testing.T) {
	m := New(false, nil)
	done := make(chan error, 1)
	go func() {
		_, err := m.AddHandleAndSendInitialAdds(Callbacks{}, false)
		done <- err
	}()
	wantErr := require.Error
	_ = wantErr
	require.NoError(t, m.QueryError(errFake{}))
	err := <-done
	require.Error(t, err)
}

func TestQueryErrorCallsOnStop(t *testing.T) {
	stops := 0
	m := New(false, func() { stops++ })
	done := make(chan error, 1)
	go func() {
		_, err := m.AddHandleAndSendInitialAdds(Callbacks{}, false)
		done <- err
	}()
	require.NoError(t, m.QueryError(errFake{}))
	<-done
	require.Equal(t, 1, stops)
}

type errFake struct{}

func (errFake) Error() string { return "boom" }

func TestDedupSharedFanOut(t *testing.T) {
	m := New(false, nil)
	require.NoError(t, m.Ready())

	var mu sync.Mutex
	count1, count2 := 0, 0
	h1, err := m.AddHandleAndSendInitialAdds(Callbacks{
		Added: func(ddpdoc.ID, ddpdoc.Fields) { mu.Lock(); count1++; mu.Unlock() },
	}, false)
	require.NoError(t, err)
	h2, err := m.AddHandleAndSendInitialAdds(Callbacks{
		Added: func(ddpdoc.ID, ddpdoc.Fields) { mu.Lock(); count2++; mu.Unlock() },
	}, false)
	require.NoError(t, err)

	require.NoError(t, m.Added("x", ddpdoc.Fields{"v": 1}))
	require.Equal(t, 1, count1)
	require.Equal(t, 1, count2)

	h1.Stop()
	require.Equal(t, 1, m.NumHandles())
	h2.Stop()
	require.Equal(t, 0, m.NumHandles())
}

func TestOnStopCalledOnceWhenEmpty(t *testing.T) {
	stops := 0
	m := New(false, func() { stops++ })
	require.NoError(t, m.Ready())
	h, err := m.AddHandleAndSendInitialAdds(Callbacks{}, false)
	require.NoError(t, err)
	h.Stop()
	require.Equal(t, 1, stops)
}

func TestOnFlushRunsAfterEnqueuedEvents(t *testing.T) {
	m := New(false, nil)
	require.NoError(t, m.Ready())
	var order []string
	var mu sync.Mutex
	done := make(chan struct{})
	_, _ = m.AddHandleAndSendInitialAdds(Callbacks{
		Added: func(ddpdoc.ID, ddpdoc.Fields) { mu.Lock(); order = append(order, "added"); mu.Unlock() },
	}, false)
	m.QueueExclusive(func(ops DriverOps) { ops.Added("a", ddpdoc.Fields{}) })
	m.OnFlush(func() {
		mu.Lock()
		order = append(order, "flush")
		mu.Unlock()
		close(done)
	})
	<-done
	require.Equal(t, []string{"added", "flush"}, order)
}

func TestOrderedMultiplexerInitialAdds(t *testing.T) {
	m := New(true, nil)
	require.NoError(t, m.AddedBefore("a", ddpdoc.Fields{}, ""))
	require.NoError(t, m.Ready())
	var got []ddpdoc.Document
	_, err := m.AddHandleAndSendInitialAdds(Callbacks{
		InitialAdds: func(docs []ddpdoc.Document) { got = docs },
	}, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
